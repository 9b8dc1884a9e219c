package backtest

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"quantlab/exchange"
	"quantlab/strategy"
)

// scriptedAdapter 按脚本在指定下标发出信号的测试适配器
type scriptedAdapter struct {
	params   Params
	signals  map[int]strategy.Signal
	errAt    map[int]bool
	seen     int
	position strategy.PositionState
}

type Params = strategy.Params

func newScripted(p Params) *scriptedAdapter {
	return &scriptedAdapter{
		params:  p,
		signals: make(map[int]strategy.Signal),
		errAt:   make(map[int]bool),
	}
}

func (s *scriptedAdapter) Name() string       { return "scripted" }
func (s *scriptedAdapter) MinCandles() int    { return 2 }
func (s *scriptedAdapter) Params() Params     { return s.params }
func (s *scriptedAdapter) SyncPosition(state strategy.PositionState) {
	s.position = state
}

func (s *scriptedAdapter) Evaluate(closed []*exchange.Candle, forming *exchange.Candle) (strategy.Signal, error) {
	idx := len(closed)
	s.seen = idx
	if s.errAt[idx] {
		return strategy.Signal{}, fmt.Errorf("脚本错误")
	}
	if sig, ok := s.signals[idx]; ok {
		return sig, nil
	}
	return strategy.Hold(), nil
}

// lookaheadAdapter 记录每次调用收到的K线切片，用于验证无未来信息
type lookaheadAdapter struct {
	scriptedAdapter
	t       *testing.T
	total   int
	formers []int64
}

func (l *lookaheadAdapter) Evaluate(closed []*exchange.Candle, forming *exchange.Candle) (strategy.Signal, error) {
	if len(closed) >= l.total {
		l.t.Errorf("策略看到了全部K线: %d >= %d", len(closed), l.total)
	}
	for _, c := range closed {
		if c.OpenTime >= forming.OpenTime {
			l.t.Errorf("已收盘序列包含了未来K线: %d >= %d", c.OpenTime, forming.OpenTime)
		}
	}
	l.formers = append(l.formers, forming.OpenTime)
	return strategy.Hold(), nil
}

func makeCandles(n int, startPrice float64) []*exchange.Candle {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	interval := int64(60_000)
	candles := make([]*exchange.Candle, n)
	price := startPrice
	for i := 0; i < n; i++ {
		candles[i] = &exchange.Candle{
			Symbol:    "BTCUSDT",
			OpenTime:  base + int64(i)*interval,
			Open:      price,
			High:      price * 1.001,
			Low:       price * 0.999,
			Close:     price,
			Volume:    100,
			CloseTime: base + int64(i+1)*interval - 1,
		}
		price *= 1.0001
	}
	return candles
}

func defaultConfig() Config {
	return Config{
		InitialBalance: 10000,
		FeeRate:        0.0004,
		Spread:         0.0003,
		Leverage:       1,
		RiskFraction:   0.95,
	}
}

func TestSimulateInsufficientData(t *testing.T) {
	adapter := newScripted(strategy.DefaultParams())
	candles := makeCandles(2, 100)

	_, err := Simulate(candles, adapter, defaultConfig())
	if !errors.Is(err, exchange.ErrInsufficientData) {
		t.Fatalf("期望 ErrInsufficientData，得到: %v", err)
	}
	t.Log("✅ K线不足时返回哨兵错误")
}

func TestSimulateEntryAtOpenWithSpread(t *testing.T) {
	params := strategy.DefaultParams()
	params.StopLossPct = 0
	params.TakeProfitPct = 0
	adapter := newScripted(params)
	adapter.signals[5] = strategy.Signal{Action: strategy.ActionBuy}

	candles := makeCandles(20, 100)
	candles[5].Open = 200 // 入场K线开盘价与收盘价明显不同
	candles[5].High = 210
	candles[5].Low = 195
	candles[5].Close = 205

	cfg := defaultConfig()
	result, err := Simulate(candles, adapter, cfg)
	if err != nil {
		t.Fatalf("回测失败: %v", err)
	}
	if len(result.Trades) != 1 {
		t.Fatalf("期望 1 笔交易，得到 %d", len(result.Trades))
	}

	want := 200 * (1 + cfg.Spread)
	got := result.Trades[0].EntryPrice
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("多头入场价应为开盘价加点差: 期望 %.6f 得到 %.6f", want, got)
	}
	t.Logf("✅ 入场价 = 开盘价 × (1+点差) = %.6f", got)
}

func TestSimulateStopLossBeatsTakeProfit(t *testing.T) {
	// 同一根K线同时触及止损和止盈价，止损优先
	params := strategy.DefaultParams()
	params.StopLossPct = 0.02
	params.TakeProfitPct = 0.02
	adapter := newScripted(params)
	adapter.signals[5] = strategy.Signal{Action: strategy.ActionBuy}

	candles := makeCandles(20, 100)
	for i := 5; i < 20; i++ {
		candles[i].Open = 100
		candles[i].Close = 100
	}
	// 第 7 根大幅波动，上下都穿越触发价
	candles[7].High = 110
	candles[7].Low = 90

	result, err := Simulate(candles, adapter, defaultConfig())
	if err != nil {
		t.Fatalf("回测失败: %v", err)
	}
	if len(result.Trades) == 0 {
		t.Fatal("没有产生交易")
	}
	first := result.Trades[0]
	if first.ExitReason != ExitReasonStopLoss {
		t.Errorf("期望止损优先，实际离场原因: %s", first.ExitReason)
	}
	t.Logf("✅ 同K线止损止盈并发时止损优先: %s", first.ExitReason)
}

func TestSimulateNoTakeProfitOnEntryCandle(t *testing.T) {
	// 入场当根K线即使最高价穿越止盈位也不得止盈
	params := strategy.DefaultParams()
	params.StopLossPct = 0
	params.TakeProfitPct = 0.01
	adapter := newScripted(params)
	adapter.signals[5] = strategy.Signal{Action: strategy.ActionBuy}

	candles := makeCandles(20, 100)
	candles[5].Open = 100
	candles[5].High = 120 // 远超止盈位
	candles[5].Low = 100
	candles[5].Close = 100
	for i := 6; i < 20; i++ {
		candles[i].Open = 100
		candles[i].High = 100.5
		candles[i].Low = 99.5
		candles[i].Close = 100
	}

	result, err := Simulate(candles, adapter, defaultConfig())
	if err != nil {
		t.Fatalf("回测失败: %v", err)
	}
	first := result.Trades[0]
	if first.ExitReason == ExitReasonTakeProfit && first.ExitTime == candles[5].CloseTime {
		t.Error("入场K线不应触发止盈")
	}
	t.Log("✅ 入场K线止盈被抑制")
}

func TestSimulateStopLossAllowedOnEntryCandle(t *testing.T) {
	params := strategy.DefaultParams()
	params.StopLossPct = 0.01
	params.TakeProfitPct = 0
	adapter := newScripted(params)
	adapter.signals[5] = strategy.Signal{Action: strategy.ActionBuy}

	candles := makeCandles(20, 100)
	candles[5].Open = 100
	candles[5].High = 100
	candles[5].Low = 80 // 入场当根就击穿止损
	candles[5].Close = 85

	result, err := Simulate(candles, adapter, defaultConfig())
	if err != nil {
		t.Fatalf("回测失败: %v", err)
	}
	first := result.Trades[0]
	if first.ExitReason != ExitReasonStopLoss {
		t.Errorf("入场K线应允许止损，实际: %s", first.ExitReason)
	}
	if first.ExitTime != candles[5].CloseTime {
		t.Error("止损应发生在入场当根")
	}
	t.Log("✅ 入场K线止损正常触发")
}

func TestSimulateEntryCandleBreachesBothLevels(t *testing.T) {
	// 入场当根同时击穿止损位和止盈位：止盈被入场保护抑制，止损照常触发
	params := strategy.DefaultParams()
	params.StopLossPct = 0.01
	params.TakeProfitPct = 0.01
	adapter := newScripted(params)
	adapter.signals[5] = strategy.Signal{Action: strategy.ActionBuy}

	candles := makeCandles(20, 100)
	candles[5].Open = 100
	candles[5].High = 120
	candles[5].Low = 80
	candles[5].Close = 100

	result, err := Simulate(candles, adapter, defaultConfig())
	if err != nil {
		t.Fatalf("回测失败: %v", err)
	}
	first := result.Trades[0]
	if first.ExitReason != ExitReasonStopLoss {
		t.Errorf("入场当根双向击穿应止损离场，实际: %s", first.ExitReason)
	}
	if first.ExitTime != candles[5].CloseTime {
		t.Error("止损应发生在入场当根")
	}
	t.Log("✅ 入场当根双向击穿时止损触发、止盈被抑制")
}

func TestSimulateNoReentrySameCandle(t *testing.T) {
	// 平仓当根K线不允许再次入场
	params := strategy.DefaultParams()
	params.StopLossPct = 0.01
	params.TakeProfitPct = 0
	adapter := newScripted(params)
	adapter.signals[5] = strategy.Signal{Action: strategy.ActionBuy}
	adapter.signals[7] = strategy.Signal{Action: strategy.ActionBuy} // 止损那根再次给入场信号

	candles := makeCandles(20, 100)
	for i := 5; i < 20; i++ {
		candles[i].Open = 100
		candles[i].High = 100.2
		candles[i].Low = 99.8
		candles[i].Close = 100
	}
	candles[7].Low = 90 // 第 7 根触发止损

	result, err := Simulate(candles, adapter, defaultConfig())
	if err != nil {
		t.Fatalf("回测失败: %v", err)
	}
	for _, tr := range result.Trades {
		if tr.ExitReason == ExitReasonStopLoss && len(result.Trades) > 1 {
			if result.Trades[1].EntryTime == candles[7].OpenTime {
				t.Error("平仓当根不应再次入场")
			}
		}
	}
	if got := result.CompletedTrades(); got != 1 {
		t.Errorf("期望仅 1 笔交易（同根再入场被阻止），得到 %d", got)
	}
	t.Log("✅ 同K线平仓后再入场被阻止")
}

func TestSimulateForcedCloseAtEnd(t *testing.T) {
	params := strategy.DefaultParams()
	params.StopLossPct = 0
	params.TakeProfitPct = 0
	adapter := newScripted(params)
	adapter.signals[5] = strategy.Signal{Action: strategy.ActionBuy}

	candles := makeCandles(20, 100)
	result, err := Simulate(candles, adapter, defaultConfig())
	if err != nil {
		t.Fatalf("回测失败: %v", err)
	}
	if len(result.Trades) != 1 {
		t.Fatalf("期望 1 笔交易，得到 %d", len(result.Trades))
	}
	last := result.Trades[0]
	if last.IsOpen {
		t.Error("回测结束后不应残留未平仓交易")
	}
	if last.ExitReason != ExitReasonEndOfPeriod {
		t.Errorf("期望 END_OF_PERIOD 强制平仓，实际: %s", last.ExitReason)
	}
	t.Log("✅ 区间结束强制平仓")
}

func TestSimulateEvalErrorDegradesToHold(t *testing.T) {
	adapter := newScripted(strategy.DefaultParams())
	adapter.errAt[5] = true
	adapter.errAt[6] = true

	candles := makeCandles(20, 100)
	result, err := Simulate(candles, adapter, defaultConfig())
	if err != nil {
		t.Fatalf("单根评估错误不应中断回测: %v", err)
	}
	if result.EvalErrors != 2 {
		t.Errorf("期望统计 2 次评估错误，得到 %d", result.EvalErrors)
	}
	if result.FinalBalance != result.InitialBalance {
		t.Errorf("纯 HOLD 回测余额不应变化: %.4f", result.FinalBalance)
	}
	t.Logf("✅ 评估错误降级为 HOLD，计数 %d", result.EvalErrors)
}

func TestSimulateNoLookahead(t *testing.T) {
	candles := makeCandles(30, 100)
	adapter := &lookaheadAdapter{t: t, total: len(candles)}
	adapter.params = strategy.DefaultParams()

	_, err := Simulate(candles, adapter, defaultConfig())
	if err != nil {
		t.Fatalf("回测失败: %v", err)
	}
	if len(adapter.formers) == 0 {
		t.Fatal("策略从未被调用")
	}
	t.Logf("✅ 无未来信息泄露，共评估 %d 根K线", len(adapter.formers))
}

func TestSimulateShortEconomics(t *testing.T) {
	// 空头：价格下跌盈利，点差方向对交易者不利
	params := strategy.DefaultParams()
	params.StopLossPct = 0
	params.TakeProfitPct = 0
	adapter := newScripted(params)
	adapter.signals[5] = strategy.Signal{Action: strategy.ActionSell}
	adapter.signals[10] = strategy.Signal{Action: strategy.ActionClose}

	candles := makeCandles(20, 100)
	for i := 5; i < 20; i++ {
		p := 100 - float64(i-5) // 持续下跌
		candles[i].Open = p
		candles[i].High = p + 0.1
		candles[i].Low = p - 0.1
		candles[i].Close = p
	}

	cfg := defaultConfig()
	result, err := Simulate(candles, adapter, cfg)
	if err != nil {
		t.Fatalf("回测失败: %v", err)
	}
	first := result.Trades[0]
	if first.Side != strategy.SideShort {
		t.Fatalf("期望空头交易，得到 %s", first.Side)
	}
	// 空头入场收买价（开盘价减点差）
	wantEntry := candles[5].Open * (1 - cfg.Spread)
	if math.Abs(first.EntryPrice-wantEntry) > 1e-9 {
		t.Errorf("空头入场价: 期望 %.6f 得到 %.6f", wantEntry, first.EntryPrice)
	}
	if first.NetPnL <= 0 {
		t.Errorf("下跌行情空头应盈利，净盈亏: %.4f", first.NetPnL)
	}
	t.Logf("✅ 空头经济学正确，净盈亏 %.4f", first.NetPnL)
}

func TestSimulateLeverageScalesGrossOnly(t *testing.T) {
	run := func(leverage float64) *SimulatedTrade {
		params := strategy.DefaultParams()
		params.StopLossPct = 0
		params.TakeProfitPct = 0
		adapter := newScripted(params)
		adapter.signals[5] = strategy.Signal{Action: strategy.ActionBuy}
		adapter.signals[10] = strategy.Signal{Action: strategy.ActionClose}

		candles := makeCandles(20, 100)
		for i := 5; i < 20; i++ {
			p := 100 + float64(i-5)
			candles[i].Open = p
			candles[i].High = p + 0.1
			candles[i].Low = p - 0.1
			candles[i].Close = p
		}
		cfg := defaultConfig()
		cfg.Leverage = leverage
		result, err := Simulate(candles, adapter, cfg)
		if err != nil {
			t.Fatalf("回测失败: %v", err)
		}
		return result.Trades[0]
	}

	t1 := run(1)
	t3 := run(3)

	if math.Abs(t3.GrossPnL-3*t1.GrossPnL) > 1e-6 {
		t.Errorf("杠杆应线性放大毛盈亏: 1x=%.4f 3x=%.4f", t1.GrossPnL, t3.GrossPnL)
	}
	if math.Abs(t3.EntryFee-t1.EntryFee) > 1e-6 {
		t.Errorf("杠杆不应放大手续费基数: 1x=%.4f 3x=%.4f", t1.EntryFee, t3.EntryFee)
	}
	t.Log("✅ 杠杆只放大毛盈亏，不放大费用")
}

func TestCalculateStatsDrawdown(t *testing.T) {
	equity := []EquityPoint{
		{Timestamp: 1, Balance: 10000},
		{Timestamp: 2, Balance: 12000}, // 峰值
		{Timestamp: 3, Balance: 9000},  // 谷值：回撤 25%
		{Timestamp: 4, Balance: 11000},
	}
	dd := calculateMaxDrawdown(equity, 10000)
	if math.Abs(dd-25) > 1e-9 {
		t.Errorf("期望最大回撤 25%%，得到 %.4f%%", dd)
	}
	t.Logf("✅ 峰谷回撤计算正确: %.2f%%", dd)
}

func TestCalculateStatsEmpty(t *testing.T) {
	s := CalculateStats(nil, nil, 10000)
	if s.TotalTrades != 0 || s.WinRate != 0 || s.MaxDrawdownPct != 0 {
		t.Errorf("空输入应得到零值统计: %+v", s)
	}
	t.Log("✅ 空交易集统计为零值")
}
