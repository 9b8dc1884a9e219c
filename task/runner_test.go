package task

import (
	"context"
	"fmt"
	"testing"
	"time"

	"quantlab/backtest"
	"quantlab/exchange"
	"quantlab/strategy"
	"quantlab/walkforward"
)

// fakeSource 生成确定性锯齿行情的假数据源
type fakeSource struct {
	failWith error
}

func (f *fakeSource) Fetch(ctx context.Context, symbol, interval string, start, end time.Time) ([]*exchange.Candle, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}

	hour := int64(3600_000)
	startMs := start.UnixMilli()
	endMs := end.UnixMilli()

	candles := make([]*exchange.Candle, 0)
	price := 100.0
	for ts := startMs; ts < endMs; ts += hour {
		wiggle := 1.002
		if (ts/hour)%9 < 4 {
			wiggle = 0.998
		}
		open := price
		price *= wiggle
		high, low := open, price
		if price > high {
			high, low = price, open
		}
		candles = append(candles, &exchange.Candle{
			Symbol:    symbol,
			OpenTime:  ts,
			Open:      open,
			High:      high * 1.0005,
			Low:       low * 0.9995,
			Close:     price,
			Volume:    50,
			CloseTime: ts + hour - 1,
		})
	}
	return candles, nil
}

func testRunner(source exchange.CandleSource) *Runner {
	return &Runner{
		Source: source,
		Backtest: backtest.Config{
			InitialBalance: 10000,
			FeeRate:        0.0004,
			Spread:         0.0003,
			Leverage:       1,
			RiskFraction:   0.95,
		},
		Windows: walkforward.WindowConfig{
			Mode:         walkforward.ModeRolling,
			TrainingDays: 2,
			TestDays:     1,
			StepDays:     1,
		},
		Guardrails: walkforward.Guardrails{},
		Metric:     walkforward.RobustScore,
	}
}

func runnerRequest() Request {
	params := strategy.DefaultParams()
	params.ShortPeriod = 3
	params.LongPeriod = 6
	return Request{
		Owner:      "alice",
		Symbol:     "BTCUSDT",
		Interval:   "1h",
		Strategy:   strategy.KindMomentum,
		BaseParams: params,
		Dimensions: []walkforward.GridDimension{
			{Key: "short_period", Values: []float64{3, 4}},
		},
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC),
	}
}

func TestRunnerFullAnalysis(t *testing.T) {
	r := testRunner(&fakeSource{})

	var phases []Phase
	progress := func(p RunProgress) {
		if len(phases) == 0 || phases[len(phases)-1] != p.Phase {
			phases = append(phases, p.Phase)
		}
	}

	summary, err := r.Run(context.Background(), "task-test", runnerRequest(), progress)
	if err != nil {
		t.Fatalf("执行失败: %v", err)
	}

	// 训练 2 天 + 测试 1 天，步进 1 天，区间 5 天 → 3 个窗口
	if len(summary.Windows) != 3 {
		t.Errorf("期望 3 个窗口，得到 %d", len(summary.Windows))
	}
	if summary.InitialBalance != 10000 {
		t.Errorf("初始余额: %.2f", summary.InitialBalance)
	}
	if len(summary.Equity) == 0 {
		t.Error("汇总应携带复利权益曲线")
	}
	for i := 1; i < len(summary.Equity); i++ {
		if summary.Equity[i].Timestamp < summary.Equity[i-1].Timestamp {
			t.Error("权益曲线时间戳应保持有序")
		}
	}

	// 阶段顺序：拉取 → (优化→训练→测试)×N → 汇总
	if phases[0] != PhaseFetching {
		t.Errorf("首阶段应为 fetching: %s", phases[0])
	}
	if phases[len(phases)-1] != PhaseAggregating {
		t.Errorf("末阶段应为 aggregating: %s", phases[len(phases)-1])
	}
	sawOptimizing := false
	for _, p := range phases {
		if p == PhaseOptimizing {
			sawOptimizing = true
		}
	}
	if !sawOptimizing {
		t.Error("应经过 optimizing 阶段")
	}
	t.Logf("✅ 完整分析: %d 窗口, 复利收益 %.2f%%, 阶段序列 %v",
		len(summary.Windows), summary.CompoundedReturnPct, phases)
}

func TestRunnerFetchFailure(t *testing.T) {
	r := testRunner(&fakeSource{failWith: fmt.Errorf("网络超时")})

	_, err := r.Run(context.Background(), "task-test", runnerRequest(), func(RunProgress) {})
	if err == nil {
		t.Fatal("拉取失败应返回错误")
	}
	t.Logf("✅ 拉取失败传播为任务错误: %v", err)
}

func TestRunnerCancelDuringOptimization(t *testing.T) {
	r := testRunner(&fakeSource{})

	ctx, cancel := context.WithCancel(context.Background())
	// 第一个窗口的优化一开始就取消
	progress := func(p RunProgress) {
		if p.Phase == PhaseOptimizing {
			cancel()
		}
	}

	_, err := r.Run(ctx, "task-test", runnerRequest(), progress)
	if err == nil {
		t.Fatal("取消后应返回错误")
	}
	t.Logf("✅ 取消在检查点被响应: %v", err)
}
