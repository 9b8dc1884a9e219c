package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"quantlab/backtest"
	"quantlab/database"
	"quantlab/exchange"
	"quantlab/logger"
	"quantlab/metrics"
	"quantlab/strategy"
	"quantlab/walkforward"
)

// RunProgress runner 上报给协调器的原始进度
type RunProgress struct {
	Phase               Phase
	WindowsTotal        int
	WindowsDone         int
	WindowPhaseProgress float64 // 当前阶段内的完成度 0~1
}

// RunProgressFunc 进度上报回调
type RunProgressFunc func(RunProgress)

// Runner 执行一次完整的走查分析
// 无内部状态，可被多个任务并发使用
type Runner struct {
	Source     exchange.CandleSource
	Backtest   backtest.Config
	Windows    walkforward.WindowConfig
	Guardrails walkforward.Guardrails
	Metric     walkforward.Metric
	Repo       *database.Repository // 可为 nil（不持久化）
}

// Run 按阶段执行：拉取数据 → 逐窗口（优化→训练→测试）→ 汇总
// 取消请求在候选之间和窗口之间被响应
func (r *Runner) Run(ctx context.Context, taskID string, req Request, progress RunProgressFunc) (*walkforward.Summary, error) {
	startedAt := time.Now()

	// ── 阶段 1: 拉取K线 ──
	progress(RunProgress{Phase: PhaseFetching, WindowsTotal: -1})

	candles, err := r.Source.Fetch(ctx, req.Symbol, req.Interval, req.Start, req.End)
	if err != nil {
		metrics.RecordFetch(req.Symbol, "error")
		return nil, fmt.Errorf("拉取K线失败: %w", err)
	}
	metrics.RecordFetch(req.Symbol, "ok")
	logger.Info("⬇️ 任务数据就绪: %s %d 根K线", req.Symbol, len(candles))

	windows, err := walkforward.GenerateWindows(req.Start, req.End, r.Windows)
	if err != nil {
		return nil, err
	}

	progress(RunProgress{Phase: PhaseFetching, WindowsTotal: len(windows), WindowPhaseProgress: 1})

	// ── 阶段 2: 逐窗口走查 ──
	results := make([]walkforward.WindowResult, 0, len(windows))
	for i, w := range windows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		wr, err := r.runWindow(ctx, req, candles, w, len(windows), i, progress)
		if err != nil {
			return nil, fmt.Errorf("窗口 #%d 执行失败: %w", w.Index, err)
		}
		results = append(results, *wr)

		logger.Info("🔄 窗口 #%d/%d 完成: 样本外收益 %.2f%%", i+1, len(windows), wr.TestReturnPct)
	}

	// ── 阶段 3: 汇总 ──
	progress(RunProgress{Phase: PhaseAggregating, WindowsTotal: len(windows), WindowsDone: len(windows)})

	summary := walkforward.Aggregate(req.Symbol, string(req.Strategy), r.Backtest.InitialBalance, results)
	report := walkforward.FormatReport(summary)
	logger.Info("📊 分析完成:\n%s", report)

	if r.Repo != nil {
		if err := r.persist(ctx, taskID, req, &summary, report, startedAt); err != nil {
			// 持久化失败不推翻已经算出的结果
			logger.Warn("⚠️ 结果持久化失败: %v", err)
		}
	}

	progress(RunProgress{Phase: PhaseAggregating, WindowsTotal: len(windows), WindowsDone: len(windows), WindowPhaseProgress: 1})

	return &summary, nil
}

// runWindow 执行单个窗口：训练期网格优化 → 训练期复核 → 测试期样本外回测
func (r *Runner) runWindow(ctx context.Context, req Request, candles []*exchange.Candle,
	w walkforward.Window, total, done int, progress RunProgressFunc) (*walkforward.WindowResult, error) {

	trainCandles := exchange.SliceByTime(candles, w.TrainStart.UnixMilli(), w.TrainEnd.UnixMilli())
	testCandles := exchange.SliceByTime(candles, w.TestStart.UnixMilli(), w.TestEnd.UnixMilli())

	// 优化阶段
	progress(RunProgress{Phase: PhaseOptimizing, WindowsTotal: total, WindowsDone: done})

	optStart := time.Now()
	opt := &walkforward.Optimizer{
		Kind:       req.Strategy,
		Base:       req.BaseParams,
		Dimensions: req.Dimensions,
		Guardrails: r.Guardrails,
		Metric:     r.Metric,
		Backtest:   r.Backtest,
		OnCandidate: func(evaluated, candidates int) {
			progress(RunProgress{
				Phase:               PhaseOptimizing,
				WindowsTotal:        total,
				WindowsDone:         done,
				WindowPhaseProgress: float64(evaluated) / float64(candidates),
			})
		},
	}

	optResult, err := opt.Optimize(ctx, trainCandles)
	if err != nil {
		return nil, err
	}
	metrics.RecordOptimization(time.Since(optStart))
	for _, trace := range optResult.Trace {
		metrics.RecordCandidate(trace.Rejected)
	}

	// 训练阶段：用选出的参数在训练区间复核一次
	progress(RunProgress{Phase: PhaseTraining, WindowsTotal: total, WindowsDone: done})

	trainStats, err := r.simulate(trainCandles, req.Strategy, optResult.Best)
	if err != nil {
		return nil, fmt.Errorf("训练期复核失败: %w", err)
	}

	progress(RunProgress{Phase: PhaseTraining, WindowsTotal: total, WindowsDone: done, WindowPhaseProgress: 1})

	// 测试阶段：样本外回测
	progress(RunProgress{Phase: PhaseTesting, WindowsTotal: total, WindowsDone: done})

	testResult, err := r.simulateFull(testCandles, req.Strategy, optResult.Best)
	if err != nil {
		return nil, fmt.Errorf("测试期回测失败: %w", err)
	}

	progress(RunProgress{Phase: PhaseTesting, WindowsTotal: total, WindowsDone: done, WindowPhaseProgress: 1})

	return &walkforward.WindowResult{
		Window:        w,
		Params:        optResult.Best,
		Fallback:      optResult.Fallback,
		TrainStats:    trainStats,
		TestStats:     testResult.Stats,
		TestReturnPct: testResult.Stats.TotalReturnPct,
		TestTrades:    testResult.CompletedTrades(),
		TestEquity:    testResult.Equity,
	}, nil
}

func (r *Runner) simulate(candles []*exchange.Candle, kind strategy.Kind, params strategy.Params) (backtest.Stats, error) {
	result, err := r.simulateFull(candles, kind, params)
	if err != nil {
		return backtest.Stats{}, err
	}
	return result.Stats, nil
}

func (r *Runner) simulateFull(candles []*exchange.Candle, kind strategy.Kind, params strategy.Params) (*backtest.Result, error) {
	adapter, err := strategy.New(kind, params)
	if err != nil {
		return nil, err
	}
	return backtest.Simulate(candles, adapter, r.Backtest)
}

// persist 把汇总结果写入数据库
func (r *Runner) persist(ctx context.Context, taskID string, req Request, s *walkforward.Summary, report string, startedAt time.Time) error {
	record := &database.AnalysisRecord{
		TaskID:              taskID,
		Owner:               req.Owner,
		Symbol:              req.Symbol,
		Interval:            req.Interval,
		Strategy:            string(req.Strategy),
		Mode:                string(r.Windows.Mode),
		State:               string(StateCompleted),
		InitialBalance:      s.InitialBalance,
		FinalBalance:        s.FinalBalance,
		CompoundedReturnPct: s.CompoundedReturnPct,
		Consistency:         s.Consistency,
		ReturnStdDev:        s.ReturnStdDev,
		MaxWindowDrawdown:   s.MaxWindowDrawdown,
		TotalTestTrades:     s.TotalTestTrades,
		WindowCount:         len(s.Windows),
		FallbackWindows:     s.FallbackWindows,
		Report:              report,
		StartedAt:           startedAt,
		FinishedAt:          time.Now(),
	}

	for _, w := range s.Windows {
		paramsJSON, err := json.Marshal(w.Params)
		if err != nil {
			return err
		}
		record.Windows = append(record.Windows, database.WindowRecord{
			WindowIdx:       w.Window.Index,
			TrainStart:      w.Window.TrainStart,
			TrainEnd:        w.Window.TrainEnd,
			TestStart:       w.Window.TestStart,
			TestEnd:         w.Window.TestEnd,
			Params:          string(paramsJSON),
			Fallback:        w.Fallback,
			TestReturnPct:   w.TestReturnPct,
			TestTrades:      w.TestTrades,
			TestDrawdownPct: w.TestStats.MaxDrawdownPct,
		})
	}

	if err := r.Repo.SaveAnalysis(ctx, record); err != nil {
		return err
	}
	logger.Info("💾 分析结果已持久化: %s (%d 个窗口)", record.TaskID, len(record.Windows))
	return nil
}
