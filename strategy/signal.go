package strategy

// Action 交易信号动作
type Action string

const (
	ActionBuy   Action = "BUY"
	ActionSell  Action = "SELL"
	ActionClose Action = "CLOSE"
	ActionHold  Action = "HOLD"
)

// Signal 交易信号（每根K线评估产生一次，不可变）
type Signal struct {
	Action     Action  `json:"action"`
	ExitReason string  `json:"exit_reason,omitempty"` // 非空时引擎按此原因平仓
	Price      float64 `json:"price,omitempty"`       // 可选的建议价格
	Confidence float64 `json:"confidence"`
}

// Hold 返回持有信号
func Hold() Signal {
	return Signal{Action: ActionHold}
}

// Side 持仓方向
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// PositionState 引擎回写给策略的持仓状态
// 开平仓后引擎立即同步，保证策略自身的离场逻辑与引擎一致
type PositionState struct {
	Side       Side  // 空字符串表示无持仓
	EntryPrice float64
	EntryTime  int64 // 毫秒
	Cooldown   int   // 平仓后的冷却K线数
}

// Flat 是否无持仓
func (p PositionState) Flat() bool {
	return p.Side == ""
}
