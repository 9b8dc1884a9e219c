package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 回测指标
	simulationTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quantlab_simulation_total",
			Help: "Total number of backtest simulations executed",
		},
	)

	candlesProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quantlab_candles_processed_total",
			Help: "Total number of candles replayed by the simulation engine",
		},
	)

	optimizationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quantlab_optimization_duration_seconds",
			Help:    "Parameter grid optimization duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
	)

	candidatesEvaluated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantlab_candidates_evaluated_total",
			Help: "Total number of candidate parameter sets evaluated",
		},
		[]string{"outcome"},
	)

	// 任务指标
	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantlab_tasks_total",
			Help: "Total number of analysis tasks by terminal state",
		},
		[]string{"state"},
	)

	tasksRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quantlab_tasks_running",
			Help: "Number of currently running analysis tasks",
		},
	)

	taskDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quantlab_task_duration_seconds",
			Help:    "End-to-end analysis task duration in seconds",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		},
	)

	// 数据指标
	fetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantlab_fetch_total",
			Help: "Total number of candle fetch operations",
		},
		[]string{"source", "status"},
	)
)

// RecordSimulation 记录一次回测运行
func RecordSimulation(candles int) {
	simulationTotal.Inc()
	candlesProcessed.Add(float64(candles))
}

// RecordOptimization 记录一次网格优化耗时
func RecordOptimization(d time.Duration) {
	optimizationDuration.Observe(d.Seconds())
}

// RecordCandidate 记录一个候选参数的评估结果
func RecordCandidate(rejected bool) {
	outcome := "accepted"
	if rejected {
		outcome = "rejected"
	}
	candidatesEvaluated.WithLabelValues(outcome).Inc()
}

// TaskStarted 任务进入运行状态
func TaskStarted() {
	tasksRunning.Inc()
}

// TaskFinished 任务到达终态
func TaskFinished(state string, d time.Duration) {
	tasksRunning.Dec()
	tasksTotal.WithLabelValues(state).Inc()
	taskDuration.Observe(d.Seconds())
}

// RecordFetch 记录一次K线拉取
func RecordFetch(source, status string) {
	fetchTotal.WithLabelValues(source, status).Inc()
}
