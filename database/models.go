package database

import (
	"time"
)

// AnalysisRecord 一次走查分析的持久化记录
type AnalysisRecord struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	TaskID    string `gorm:"uniqueIndex;size:64" json:"task_id"`
	Owner     string `gorm:"index;size:64" json:"owner"`
	Symbol    string `gorm:"size:32" json:"symbol"`
	Interval  string `gorm:"size:8" json:"interval"`
	Strategy  string `gorm:"size:32" json:"strategy"`
	Mode      string `gorm:"size:16" json:"mode"`
	State     string `gorm:"size:16" json:"state"` // completed / cancelled / error

	InitialBalance      float64 `json:"initial_balance"`
	FinalBalance        float64 `json:"final_balance"`
	CompoundedReturnPct float64 `json:"compounded_return_pct"`
	Consistency         float64 `json:"consistency"`
	ReturnStdDev        float64 `json:"return_std_dev"`
	MaxWindowDrawdown   float64 `json:"max_window_drawdown"`
	TotalTestTrades     int     `json:"total_test_trades"`
	WindowCount         int     `json:"window_count"`
	FallbackWindows     int     `json:"fallback_windows"`

	// 完整报告（文本格式）
	Report string `gorm:"type:text" json:"report"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	CreatedAt  time.Time `json:"created_at"`

	Windows []WindowRecord `gorm:"foreignKey:AnalysisID" json:"windows,omitempty"`
}

// WindowRecord 单窗口的持久化记录
type WindowRecord struct {
	ID         uint `gorm:"primaryKey" json:"id"`
	AnalysisID uint `gorm:"index" json:"analysis_id"`
	WindowIdx  int  `json:"window_idx"`

	TrainStart time.Time `json:"train_start"`
	TrainEnd   time.Time `json:"train_end"`
	TestStart  time.Time `json:"test_start"`
	TestEnd    time.Time `json:"test_end"`

	// 选出的参数（JSON序列化）
	Params   string `gorm:"type:text" json:"params"`
	Fallback bool   `json:"fallback"`

	TestReturnPct   float64 `json:"test_return_pct"`
	TestTrades      int     `json:"test_trades"`
	TestDrawdownPct float64 `json:"test_drawdown_pct"`
	TrainScore      float64 `json:"train_score"`

	CreatedAt time.Time `json:"created_at"`
}
