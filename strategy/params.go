package strategy

import (
	"fmt"
	"math"
)

// Params 策略参数（类型化结构，替代散落的参数字典）
type Params struct {
	ShortPeriod     int     `json:"short_period"`
	LongPeriod      int     `json:"long_period"`
	RSIPeriod       int     `json:"rsi_period"`
	RSIOversold     float64 `json:"rsi_oversold"`
	RSIOverbought   float64 `json:"rsi_overbought"`
	StopLossPct     float64 `json:"stop_loss_pct"`    // 止损比例（相对入场价）
	TakeProfitPct   float64 `json:"take_profit_pct"`  // 止盈比例（相对入场价）
	CooldownCandles int     `json:"cooldown_candles"` // 平仓后的冷却K线数
}

// DefaultParams 参数默认值表（唯一来源）
func DefaultParams() Params {
	return Params{
		ShortPeriod:     5,
		LongPeriod:      20,
		RSIPeriod:       14,
		RSIOversold:     30,
		RSIOverbought:   70,
		StopLossPct:     0.02,
		TakeProfitPct:   0.04,
		CooldownCandles: 0,
	}
}

// With 返回按键名覆盖单个参数后的副本（网格寻优时逐键合并）
func (p Params) With(key string, value float64) (Params, error) {
	switch key {
	case "short_period":
		p.ShortPeriod = int(math.Round(value))
	case "long_period":
		p.LongPeriod = int(math.Round(value))
	case "rsi_period":
		p.RSIPeriod = int(math.Round(value))
	case "rsi_oversold":
		p.RSIOversold = value
	case "rsi_overbought":
		p.RSIOverbought = value
	case "stop_loss_pct":
		p.StopLossPct = value
	case "take_profit_pct":
		p.TakeProfitPct = value
	case "cooldown_candles":
		p.CooldownCandles = int(math.Round(value))
	default:
		return p, fmt.Errorf("未知参数: %s", key)
	}
	return p, nil
}

// Validate 校验参数合法性（构造适配器时执行一次）
func (p Params) Validate() error {
	if p.ShortPeriod <= 0 || p.LongPeriod <= 0 || p.RSIPeriod <= 0 {
		return fmt.Errorf("指标周期必须为正: short=%d long=%d rsi=%d", p.ShortPeriod, p.LongPeriod, p.RSIPeriod)
	}
	if p.ShortPeriod >= p.LongPeriod {
		return fmt.Errorf("短周期必须小于长周期: %d >= %d", p.ShortPeriod, p.LongPeriod)
	}
	if p.RSIOversold >= p.RSIOverbought {
		return fmt.Errorf("RSI 超卖阈值必须小于超买阈值: %.1f >= %.1f", p.RSIOversold, p.RSIOverbought)
	}
	if p.StopLossPct < 0 || p.TakeProfitPct < 0 {
		return fmt.Errorf("止损/止盈比例不能为负")
	}
	if p.CooldownCandles < 0 {
		return fmt.Errorf("冷却K线数不能为负")
	}
	return nil
}
