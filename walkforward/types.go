package walkforward

import (
	"time"

	"quantlab/backtest"
	"quantlab/strategy"
)

// Mode 窗口推进模式
type Mode string

const (
	ModeRolling   Mode = "rolling"   // 训练窗口定长滚动
	ModeExpanding Mode = "expanding" // 训练窗口从数据起点不断扩张
)

// Window 一个训练/测试窗口对
// 时间区间均为半开区间 [Start, End)
type Window struct {
	Index      int       `json:"index"`
	TrainStart time.Time `json:"train_start"`
	TrainEnd   time.Time `json:"train_end"`
	TestStart  time.Time `json:"test_start"`
	TestEnd    time.Time `json:"test_end"`
}

// WindowConfig 窗口生成配置
type WindowConfig struct {
	Mode         Mode `json:"mode"`
	TrainingDays int  `json:"training_days"`
	TestDays     int  `json:"test_days"`
	StepDays     int  `json:"step_days"`
}

// GridDimension 参数网格的一个维度
type GridDimension struct {
	Key    string    `json:"key"`
	Values []float64 `json:"values"`
}

// Guardrails 候选参数淘汰规则
// 任一规则命中即判为不可用候选（得分 -Inf）
type Guardrails struct {
	MinTrades            int     `json:"min_trades"`             // 训练期最少已平仓交易数
	MaxDrawdownPct       float64 `json:"max_drawdown_pct"`       // 最大回撤上限（百分比）
	LotteryTradeFraction float64 `json:"lottery_trade_fraction"` // 单笔盈利占总盈利的上限
}

// CandidateTrace 单个候选参数的评估轨迹
type CandidateTrace struct {
	Params   strategy.Params `json:"params"`
	Score    float64         `json:"score"`
	Rejected bool            `json:"rejected"`
	Reason   string          `json:"reason,omitempty"`
	Stats    backtest.Stats  `json:"stats"`
}

// OptimizeResult 参数优化结果
type OptimizeResult struct {
	Best      strategy.Params  `json:"best"`
	BestScore float64          `json:"best_score"`
	Trace     []CandidateTrace `json:"trace"`
	Fallback  bool             `json:"fallback"` // 全部候选被淘汰时回退到基准参数
}

// WindowResult 单窗口走查结果
type WindowResult struct {
	Window     Window          `json:"window"`
	Params     strategy.Params `json:"params"`
	Fallback   bool            `json:"fallback"`
	TrainStats backtest.Stats  `json:"train_stats"`
	TestStats  backtest.Stats  `json:"test_stats"`
	// 测试期样本外收益率（百分比），用于跨窗口复利
	TestReturnPct float64 `json:"test_return_pct"`
	TestTrades    int     `json:"test_trades"`
	// 测试期逐K线权益序列（以窗口自身的初始余额为基准）
	TestEquity []backtest.EquityPoint `json:"test_equity,omitempty"`
}

// Summary 跨窗口汇总
type Summary struct {
	Symbol   string         `json:"symbol"`
	Strategy string         `json:"strategy"`
	Windows  []WindowResult `json:"windows"`
	// 复利权益曲线：各窗口测试期权益按该窗口的复利起始余额缩放后拼接
	Equity              []backtest.EquityPoint `json:"equity"`
	InitialBalance      float64                `json:"initial_balance"`
	FinalBalance        float64                `json:"final_balance"`
	CompoundedReturnPct float64                `json:"compounded_return_pct"`
	Consistency         float64                `json:"consistency"` // 盈利窗口占比（百分比）
	ReturnStdDev        float64                `json:"return_std_dev"`
	AvgReturnPct        float64                `json:"avg_return_pct"`
	MaxWindowDrawdown   float64                `json:"max_window_drawdown"`
	BestWindow          int                    `json:"best_window"`  // 收益最高的窗口下标，-1 表示无
	WorstWindow         int                    `json:"worst_window"` // 收益最低的窗口下标，-1 表示无
	TotalTestTrades     int                    `json:"total_test_trades"`
	FallbackWindows     int                    `json:"fallback_windows"`
}
