package strategy

import (
	"fmt"
	"math"

	"quantlab/exchange"
	"quantlab/indicators"
)

// Momentum 双均线动量策略
// 金叉做多、死叉做空，反向交叉离场
type Momentum struct {
	params   Params
	position PositionState
	cooldown int
}

func newMomentum(p Params) *Momentum {
	return &Momentum{params: p}
}

// Name 策略名称
func (m *Momentum) Name() string {
	return "momentum"
}

// MinCandles 最少所需的已收盘K线数（需要前后两组均线值判断交叉）
func (m *Momentum) MinCandles() int {
	return m.params.LongPeriod + 2
}

// Params 当前参数
func (m *Momentum) Params() Params {
	return m.params
}

// SyncPosition 同步引擎持仓状态
func (m *Momentum) SyncPosition(state PositionState) {
	wasOpen := !m.position.Flat()
	m.position = state
	if wasOpen && state.Flat() {
		m.cooldown = m.params.CooldownCandles
	}
}

// Evaluate 评估一根K线
func (m *Momentum) Evaluate(closed []*exchange.Candle, forming *exchange.Candle) (Signal, error) {
	if len(closed) < m.MinCandles() {
		return Signal{}, fmt.Errorf("K线不足: %d < %d", len(closed), m.MinCandles())
	}

	if m.cooldown > 0 {
		m.cooldown--
		return Hold(), nil
	}

	prices := closes(closed)

	// 交叉判定需要每条均线最近的两个值
	shortMA := indicators.SMA(prices, m.params.ShortPeriod)
	longMA := indicators.SMA(prices, m.params.LongPeriod)
	if len(shortMA) < 2 || len(longMA) < 2 {
		return Signal{}, fmt.Errorf("均线计算失败")
	}
	shortNow, shortPrev := shortMA[len(shortMA)-1], shortMA[len(shortMA)-2]
	longNow, longPrev := longMA[len(longMA)-1], longMA[len(longMA)-2]

	goldenCross := shortPrev <= longPrev && shortNow > longNow
	deadCross := shortPrev >= longPrev && shortNow < longNow

	confidence := 0.0
	if longNow != 0 {
		confidence = math.Min(math.Abs(shortNow-longNow)/longNow*100, 1)
	}

	switch {
	case m.position.Side == SideLong && deadCross:
		return Signal{Action: ActionClose, ExitReason: "SIGNAL", Confidence: confidence}, nil
	case m.position.Side == SideShort && goldenCross:
		return Signal{Action: ActionClose, ExitReason: "SIGNAL", Confidence: confidence}, nil
	case m.position.Flat() && goldenCross:
		return Signal{Action: ActionBuy, Confidence: confidence}, nil
	case m.position.Flat() && deadCross:
		return Signal{Action: ActionSell, Confidence: confidence}, nil
	}

	return Hold(), nil
}
