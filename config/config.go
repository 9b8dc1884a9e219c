package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 回测与滚动优化系统配置
type Config struct {
	System      SystemConfig      `yaml:"system"`
	Exchange    ExchangeConfig    `yaml:"exchange"`
	Backtest    BacktestConfig    `yaml:"backtest"`
	WalkForward WalkForwardConfig `yaml:"walkforward"`
	Task        TaskConfig        `yaml:"task"`
	Database    DatabaseConfig    `yaml:"database"`
	Web         WebConfig         `yaml:"web"`
	Lock        LockConfig        `yaml:"lock"`
}

type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
	Timezone string `yaml:"timezone"` // 时区，如 "UTC" 或 "Asia/Shanghai"
}

// ExchangeConfig 交易所配置（历史K线来源）
type ExchangeConfig struct {
	Name       string  `yaml:"name"` // 目前仅支持 binance
	APIKey     string  `yaml:"api_key"`
	SecretKey  string  `yaml:"secret_key"`
	MinCandles int     `yaml:"min_candles"` // 低于此数量视为数据不足
	RateLimit  float64 `yaml:"rate_limit"`  // 每秒请求数
	CacheDir   string  `yaml:"cache_dir"`   // K线CSV缓存目录
}

// BacktestConfig 模拟引擎配置
type BacktestConfig struct {
	InitialBalance float64 `yaml:"initial_balance"`
	FeeRate        float64 `yaml:"fee_rate"` // 固定费率（按名义价值双向收取）
	Spread         float64 `yaml:"spread"`   // 点差比例（方向性，永不利于交易者）
	Leverage       float64 `yaml:"leverage"` // 杠杆倍数（只放大毛盈亏）
	RiskFraction   float64 `yaml:"risk_fraction"`
}

// WalkForwardConfig 滚动优化配置
type WalkForwardConfig struct {
	TrainingDays int    `yaml:"training_days"`
	TestDays     int    `yaml:"test_days"`
	StepDays     int    `yaml:"step_days"`
	Mode         string `yaml:"mode"`   // rolling / expanding
	Metric       string `yaml:"metric"` // robust_score / sharpe

	Guardrails GuardrailsConfig `yaml:"guardrails"`
}

// GuardrailsConfig 候选参数淘汰规则
type GuardrailsConfig struct {
	MinTrades            int     `yaml:"min_trades"`
	MaxDrawdownPct       float64 `yaml:"max_drawdown_pct"`
	LotteryTradeFraction float64 `yaml:"lottery_trade_fraction"` // 0 表示关闭
}

// TaskConfig 任务协调器配置
type TaskConfig struct {
	MaxRunning     int `yaml:"max_running"`     // 全局同时运行的分析任务上限
	MaxPerOwner    int `yaml:"max_per_owner"`   // 单用户同时运行上限
	TimeoutMinutes int `yaml:"timeout_minutes"` // 整个分析的超时时间
	HeartbeatSec   int `yaml:"heartbeat_sec"`   // 心跳间隔（WebSocket 推送与分布式锁续期）
}

// DatabaseConfig 数据库配置（结果持久化）
type DatabaseConfig struct {
	Type         string `yaml:"type"` // sqlite / mysql / postgres
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
	LogLevel     string `yaml:"log_level"`
}

// WebConfig Web 服务配置
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LockConfig 分布式锁配置（多实例部署时防止重复提交）
type LockConfig struct {
	Enabled bool        `yaml:"enabled"`
	Type    string      `yaml:"type"` // redis
	Prefix  string      `yaml:"prefix"`
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// LoadConfig 加载配置文件
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults 填充默认值（唯一的默认值表，构造时执行一次）
func (c *Config) applyDefaults() {
	if c.System.LogLevel == "" {
		c.System.LogLevel = "info"
	}
	if c.System.Timezone == "" {
		c.System.Timezone = "UTC"
	}

	if c.Exchange.Name == "" {
		c.Exchange.Name = "binance"
	}
	if c.Exchange.MinCandles <= 0 {
		c.Exchange.MinCandles = 100
	}
	if c.Exchange.RateLimit <= 0 {
		c.Exchange.RateLimit = 10
	}
	if c.Exchange.CacheDir == "" {
		c.Exchange.CacheDir = "data/candles"
	}

	if c.Backtest.InitialBalance <= 0 {
		c.Backtest.InitialBalance = 10000
	}
	if c.Backtest.FeeRate <= 0 {
		c.Backtest.FeeRate = 0.0004 // Binance 合约 Taker 费率
	}
	if c.Backtest.Spread <= 0 {
		c.Backtest.Spread = 0.0003
	}
	if c.Backtest.Leverage <= 0 {
		c.Backtest.Leverage = 1
	}
	if c.Backtest.RiskFraction <= 0 {
		c.Backtest.RiskFraction = 0.95
	}

	if c.WalkForward.TrainingDays <= 0 {
		c.WalkForward.TrainingDays = 30
	}
	if c.WalkForward.TestDays <= 0 {
		c.WalkForward.TestDays = 7
	}
	if c.WalkForward.StepDays <= 0 {
		c.WalkForward.StepDays = 7
	}
	if c.WalkForward.Mode == "" {
		c.WalkForward.Mode = "rolling"
	}
	if c.WalkForward.Metric == "" {
		c.WalkForward.Metric = "robust_score"
	}
	if c.WalkForward.Guardrails.MinTrades <= 0 {
		c.WalkForward.Guardrails.MinTrades = 5
	}
	if c.WalkForward.Guardrails.MaxDrawdownPct <= 0 {
		c.WalkForward.Guardrails.MaxDrawdownPct = 30
	}

	if c.Task.MaxRunning <= 0 {
		c.Task.MaxRunning = 3
	}
	if c.Task.MaxPerOwner <= 0 {
		c.Task.MaxPerOwner = 1
	}
	if c.Task.TimeoutMinutes <= 0 {
		c.Task.TimeoutMinutes = 60
	}
	if c.Task.HeartbeatSec <= 0 {
		c.Task.HeartbeatSec = 30
	}

	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.DSN == "" {
		c.Database.DSN = "data/quantlab.db"
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.LogLevel == "" {
		c.Database.LogLevel = "silent"
	}

	if c.Web.Listen == "" {
		c.Web.Listen = ":8080"
	}

	if c.Lock.Prefix == "" {
		c.Lock.Prefix = "quantlab"
	}
	if c.Lock.Type == "" {
		c.Lock.Type = "redis"
	}
	if c.Lock.Redis.PoolSize <= 0 {
		c.Lock.Redis.PoolSize = 10
	}
}

// Validate 校验配置合法性
func (c *Config) Validate() error {
	if c.Exchange.Name != "binance" {
		return fmt.Errorf("不支持的交易所: %s", c.Exchange.Name)
	}

	mode := strings.ToLower(c.WalkForward.Mode)
	if mode != "rolling" && mode != "expanding" {
		return fmt.Errorf("无效的窗口模式: %s（必须为 rolling 或 expanding）", c.WalkForward.Mode)
	}

	if c.WalkForward.Metric != "robust_score" && c.WalkForward.Metric != "sharpe" {
		return fmt.Errorf("无效的优化指标: %s", c.WalkForward.Metric)
	}

	if c.Backtest.RiskFraction > 1 {
		return fmt.Errorf("risk_fraction 不能大于 1（当前: %.2f）", c.Backtest.RiskFraction)
	}
	if c.Backtest.Spread >= 0.1 {
		return fmt.Errorf("spread 异常（当前: %.4f）", c.Backtest.Spread)
	}

	if c.Task.MaxPerOwner > c.Task.MaxRunning {
		return fmt.Errorf("max_per_owner (%d) 不能大于 max_running (%d)", c.Task.MaxPerOwner, c.Task.MaxRunning)
	}

	switch c.Database.Type {
	case "sqlite", "mysql", "postgres", "postgresql":
	default:
		return fmt.Errorf("不支持的数据库类型: %s", c.Database.Type)
	}

	if c.Lock.Enabled && c.Lock.Type != "redis" {
		return fmt.Errorf("不支持的锁类型: %s", c.Lock.Type)
	}

	return nil
}
