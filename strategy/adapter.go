package strategy

import (
	"fmt"

	"quantlab/exchange"
)

// Kind 策略种类（封闭枚举，替代鸭子类型探测）
type Kind string

const (
	KindMomentum      Kind = "momentum"
	KindMeanReversion Kind = "mean_reversion"
)

// Adapter 策略适配器接口
// Evaluate 只能使用 closed 中的已收盘K线计算指标；forming 为正在形成的K线，
// 其收盘价不得参与指标计算（防止未来信息泄露）
type Adapter interface {
	Name() string
	MinCandles() int
	Evaluate(closed []*exchange.Candle, forming *exchange.Candle) (Signal, error)
	SyncPosition(state PositionState)
	Params() Params
}

// New 按种类创建策略适配器
func New(kind Kind, p Params) (Adapter, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("策略参数非法: %w", err)
	}

	switch kind {
	case KindMomentum:
		return newMomentum(p), nil
	case KindMeanReversion:
		return newMeanReversion(p), nil
	default:
		return nil, fmt.Errorf("未知策略种类: %s", kind)
	}
}

// closes 提取收盘价序列
func closes(candles []*exchange.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
