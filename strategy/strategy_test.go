package strategy

import (
	"math"
	"testing"
	"time"

	"quantlab/exchange"
)

func candlesFromCloses(closes []float64) []*exchange.Candle {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	interval := int64(60_000)
	out := make([]*exchange.Candle, len(closes))
	for i, c := range closes {
		out[i] = &exchange.Candle{
			Symbol:    "BTCUSDT",
			OpenTime:  base + int64(i)*interval,
			Open:      c,
			High:      c * 1.001,
			Low:       c * 0.999,
			Close:     c,
			Volume:    10,
			CloseTime: base + int64(i+1)*interval - 1,
		}
	}
	return out
}

func TestNewValidatesParams(t *testing.T) {
	p := DefaultParams()
	p.ShortPeriod = 30 // 大于长周期
	if _, err := New(KindMomentum, p); err == nil {
		t.Error("短周期大于长周期应被拒绝")
	}

	if _, err := New("no_such_kind", DefaultParams()); err == nil {
		t.Error("未知策略种类应被拒绝")
	}

	if _, err := New(KindMomentum, DefaultParams()); err != nil {
		t.Errorf("默认参数应合法: %v", err)
	}
	t.Log("✅ 构造时参数校验生效")
}

func TestMomentumGoldenCross(t *testing.T) {
	p := DefaultParams()
	p.ShortPeriod = 3
	p.LongPeriod = 5

	adapter, err := New(KindMomentum, p)
	if err != nil {
		t.Fatalf("创建策略失败: %v", err)
	}

	// 前段下跌压低均线，末尾急涨制造金叉
	closes := []float64{110, 108, 106, 104, 102, 100, 98, 96, 94, 92, 90, 105, 118}
	candles := candlesFromCloses(closes)

	forming := candles[len(candles)-1]
	closed := candles[:len(candles)-1]

	sig, err := adapter.Evaluate(closed, forming)
	if err != nil {
		t.Fatalf("评估失败: %v", err)
	}
	if sig.Action != ActionBuy {
		t.Errorf("金叉应产生 BUY 信号: %s", sig.Action)
	}
	t.Logf("✅ 金叉触发买入，置信度 %.2f", sig.Confidence)
}

func TestMomentumClosesOnReverseCross(t *testing.T) {
	p := DefaultParams()
	p.ShortPeriod = 3
	p.LongPeriod = 5

	adapter, _ := New(KindMomentum, p)
	adapter.SyncPosition(PositionState{Side: SideLong, EntryPrice: 100})

	// 前段上涨抬高均线，末尾急跌制造死叉
	closes := []float64{90, 92, 94, 96, 98, 100, 102, 104, 106, 108, 110, 95, 82}
	candles := candlesFromCloses(closes)

	sig, err := adapter.Evaluate(candles[:len(candles)-1], candles[len(candles)-1])
	if err != nil {
		t.Fatalf("评估失败: %v", err)
	}
	if sig.Action != ActionClose {
		t.Errorf("持多仓遇死叉应平仓: %s", sig.Action)
	}
	if sig.ExitReason != "SIGNAL" {
		t.Errorf("平仓原因应为 SIGNAL: %s", sig.ExitReason)
	}
	t.Log("✅ 死叉平掉多仓")
}

func TestMomentumInsufficientCandles(t *testing.T) {
	adapter, _ := New(KindMomentum, DefaultParams())
	candles := candlesFromCloses([]float64{100, 101})

	_, err := adapter.Evaluate(candles[:1], candles[1])
	if err == nil {
		t.Error("K线不足应返回错误")
	}
	t.Logf("✅ K线不足被拒绝: %v", err)
}

func TestMeanReversionOversoldBuys(t *testing.T) {
	p := DefaultParams()
	p.RSIPeriod = 5

	adapter, err := New(KindMeanReversion, p)
	if err != nil {
		t.Fatalf("创建策略失败: %v", err)
	}

	// 持续下跌把 RSI 压到超卖区
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100 - float64(i)*2
	}
	candles := candlesFromCloses(closes)

	sig, err := adapter.Evaluate(candles[:len(candles)-1], candles[len(candles)-1])
	if err != nil {
		t.Fatalf("评估失败: %v", err)
	}
	if sig.Action != ActionBuy {
		t.Errorf("超卖应产生 BUY 信号: %s", sig.Action)
	}
	t.Logf("✅ 超卖触发买入，置信度 %.2f", sig.Confidence)
}

func TestMeanReversionMidlineCloses(t *testing.T) {
	p := DefaultParams()
	p.RSIPeriod = 5

	adapter, _ := New(KindMeanReversion, p)
	adapter.SyncPosition(PositionState{Side: SideLong, EntryPrice: 80})

	// 上涨段把 RSI 推过中轴
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 80 + float64(i)*2
	}
	candles := candlesFromCloses(closes)

	sig, err := adapter.Evaluate(candles[:len(candles)-1], candles[len(candles)-1])
	if err != nil {
		t.Fatalf("评估失败: %v", err)
	}
	if sig.Action != ActionClose {
		t.Errorf("RSI 回归中轴应平多仓: %s", sig.Action)
	}
	t.Log("✅ RSI 回归中轴平仓")
}

func TestMeanReversionZScore(t *testing.T) {
	p := DefaultParams()
	p.RSIPeriod = 5
	m := newMeanReversion(p)

	// 回看窗口 [100,100,100,100,90]：均值 98，总体标准差 4，偏离 8 → z=2
	z, ok := m.zScore([]float64{100, 100, 100, 100, 100, 100, 100, 100, 90})
	if !ok {
		t.Fatal("z 分数计算失败")
	}
	if math.Abs(z-2) > 1e-9 {
		t.Errorf("z 分数: 期望 2 得到 %.4f", z)
	}

	// 零波动窗口没有有意义的偏离度
	if _, ok := m.zScore([]float64{100, 100, 100, 100, 100}); ok {
		t.Error("零波动窗口不应给出 z 分数")
	}
	t.Logf("✅ 均值偏离 z 分数计算正确: %.2f", z)
}

func TestCooldownSuppressesSignals(t *testing.T) {
	p := DefaultParams()
	p.ShortPeriod = 3
	p.LongPeriod = 5
	p.CooldownCandles = 3

	adapter, _ := New(KindMomentum, p)

	// 模拟持仓后平仓，触发冷却
	adapter.SyncPosition(PositionState{Side: SideLong, EntryPrice: 100})
	adapter.SyncPosition(PositionState{})

	// 金叉行情，但冷却期内应保持 HOLD
	closes := []float64{110, 108, 106, 104, 102, 100, 98, 96, 94, 92, 90, 105, 118}
	candles := candlesFromCloses(closes)

	for i := 0; i < 3; i++ {
		sig, err := adapter.Evaluate(candles[:len(candles)-1], candles[len(candles)-1])
		if err != nil {
			t.Fatalf("评估失败: %v", err)
		}
		if sig.Action != ActionHold {
			t.Errorf("冷却期第 %d 根应 HOLD: %s", i+1, sig.Action)
		}
	}

	// 冷却结束后恢复
	sig, err := adapter.Evaluate(candles[:len(candles)-1], candles[len(candles)-1])
	if err != nil {
		t.Fatalf("评估失败: %v", err)
	}
	if sig.Action != ActionBuy {
		t.Errorf("冷却结束后应恢复信号: %s", sig.Action)
	}
	t.Log("✅ 冷却期抑制信号")
}

func TestParamsWith(t *testing.T) {
	p := DefaultParams()

	p2, err := p.With("short_period", 8)
	if err != nil {
		t.Fatalf("合并失败: %v", err)
	}
	if p2.ShortPeriod != 8 {
		t.Errorf("short_period 未生效: %d", p2.ShortPeriod)
	}
	if p.ShortPeriod != 5 {
		t.Error("With 应返回副本，原参数被改写")
	}

	if _, err := p.With("bogus", 1); err == nil {
		t.Error("未知键应返回错误")
	}
	t.Log("✅ 参数合并按键生效且不改写原值")
}
