package backtest

import (
	"quantlab/strategy"
)

// 平仓原因
const (
	ExitReasonStopLoss    = "STOP_LOSS"
	ExitReasonTakeProfit  = "TAKE_PROFIT"
	ExitReasonSignal      = "SIGNAL"
	ExitReasonClose       = "CLOSE"
	ExitReasonEndOfPeriod = "END_OF_PERIOD"
)

// Config 模拟引擎配置
type Config struct {
	InitialBalance float64 `json:"initial_balance"`
	FeeRate        float64 `json:"fee_rate"` // 固定费率，按名义价值双向收取
	Spread         float64 `json:"spread"`   // 点差比例，方向性施加，永不利于交易者
	Leverage       float64 `json:"leverage"` // 只放大毛盈亏，不放大费用基数
	RiskFraction   float64 `json:"risk_fraction"`
}

// SimulatedTrade 模拟交易记录
// 开仓时创建，平仓时填充一次退出字段，之后不再变更
type SimulatedTrade struct {
	EntryTime  int64         `json:"entry_time"`
	EntryPrice float64       `json:"entry_price"`
	ExitTime   int64         `json:"exit_time,omitempty"`
	ExitPrice  float64       `json:"exit_price,omitempty"`
	Side       strategy.Side `json:"side"`
	Quantity   float64       `json:"quantity"`
	Notional   float64       `json:"notional"`
	EntryFee   float64       `json:"entry_fee"`
	ExitFee    float64       `json:"exit_fee"`
	GrossPnL   float64       `json:"gross_pnl"`
	NetPnL     float64       `json:"net_pnl"`
	ExitReason string        `json:"exit_reason,omitempty"`
	IsOpen     bool          `json:"is_open"`
}

// EquityPoint 权益点（余额序列）
type EquityPoint struct {
	Timestamp int64   `json:"timestamp"`
	Balance   float64 `json:"balance"`
}

// Result 回测结果（不可变快照）
type Result struct {
	Symbol         string            `json:"symbol"`
	Strategy       string            `json:"strategy"`
	StartTime      int64             `json:"start_time"`
	EndTime        int64             `json:"end_time"`
	InitialBalance float64           `json:"initial_balance"`
	FinalBalance   float64           `json:"final_balance"`
	Trades         []*SimulatedTrade `json:"trades"`
	Equity         []EquityPoint     `json:"equity"`
	Stats          Stats             `json:"stats"`
	EvalErrors     int               `json:"eval_errors"` // 被降级为 HOLD 的策略评估错误次数
}

// CompletedTrades 已平仓交易数
func (r *Result) CompletedTrades() int {
	n := 0
	for _, t := range r.Trades {
		if !t.IsOpen {
			n++
		}
	}
	return n
}
