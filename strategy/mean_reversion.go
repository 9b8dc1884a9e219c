package strategy

import (
	"fmt"
	"math"

	"quantlab/exchange"
	"quantlab/indicators"
)

// MeanReversion RSI 均值回归策略
// 超卖做多、超买做空，RSI 回归中轴离场
type MeanReversion struct {
	params   Params
	position PositionState
	cooldown int
}

func newMeanReversion(p Params) *MeanReversion {
	return &MeanReversion{params: p}
}

// Name 策略名称
func (m *MeanReversion) Name() string {
	return "mean_reversion"
}

// MinCandles 最少所需的已收盘K线数
func (m *MeanReversion) MinCandles() int {
	return m.params.RSIPeriod + 2
}

// Params 当前参数
func (m *MeanReversion) Params() Params {
	return m.params
}

// SyncPosition 同步引擎持仓状态
func (m *MeanReversion) SyncPosition(state PositionState) {
	wasOpen := !m.position.Flat()
	m.position = state
	if wasOpen && state.Flat() {
		m.cooldown = m.params.CooldownCandles
	}
}

// zScore 最新收盘价相对回看窗口均值的标准化偏离（绝对值）
func (m *MeanReversion) zScore(prices []float64) (float64, bool) {
	period := m.params.RSIPeriod
	if len(prices) < period {
		return 0, false
	}

	mid, ok := indicators.LastSMA(prices, period)
	if !ok {
		return 0, false
	}
	sd := indicators.StdDev(prices[len(prices)-period:])
	if sd == 0 {
		return 0, false
	}
	return math.Abs(prices[len(prices)-1]-mid) / sd, true
}

// Evaluate 评估一根K线
func (m *MeanReversion) Evaluate(closed []*exchange.Candle, forming *exchange.Candle) (Signal, error) {
	if len(closed) < m.MinCandles() {
		return Signal{}, fmt.Errorf("K线不足: %d < %d", len(closed), m.MinCandles())
	}

	if m.cooldown > 0 {
		m.cooldown--
		return Hold(), nil
	}

	prices := closes(closed)
	rsi, ok := indicators.RSI(prices, m.params.RSIPeriod)
	if !ok {
		return Signal{}, fmt.Errorf("RSI 计算失败")
	}

	// 偏离中轴越远置信度越高，价格偏离均值的 z 分数取较大者
	confidence := math.Min(math.Abs(rsi-50)/50, 1)
	if z, ok := m.zScore(prices); ok {
		confidence = math.Max(confidence, math.Min(z/2, 1))
	}

	switch {
	case m.position.Side == SideLong && rsi >= 50:
		return Signal{Action: ActionClose, ExitReason: "SIGNAL", Confidence: confidence}, nil
	case m.position.Side == SideShort && rsi <= 50:
		return Signal{Action: ActionClose, ExitReason: "SIGNAL", Confidence: confidence}, nil
	case m.position.Flat() && rsi <= m.params.RSIOversold:
		return Signal{Action: ActionBuy, Confidence: confidence}, nil
	case m.position.Flat() && rsi >= m.params.RSIOverbought:
		return Signal{Action: ActionSell, Confidence: confidence}, nil
	}

	return Hold(), nil
}
