package exchange

import (
	"context"
	"errors"
	"time"
)

// ErrInsufficientData 请求范围内可用K线数量不足
var ErrInsufficientData = errors.New("insufficient candle data")

// CandleSource 历史K线来源
// 实现方负责分页获取、限流，并返回按时间排序且去重的序列
type CandleSource interface {
	Fetch(ctx context.Context, symbol, interval string, start, end time.Time) ([]*Candle, error)
}

// IntervalDuration 解析K线周期字符串
func IntervalDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "3m":
		return 3 * time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "2h":
		return 2 * time.Hour
	case "4h":
		return 4 * time.Hour
	case "6h":
		return 6 * time.Hour
	case "8h":
		return 8 * time.Hour
	case "12h":
		return 12 * time.Hour
	case "1d":
		return 24 * time.Hour
	case "3d":
		return 3 * 24 * time.Hour
	case "1w":
		return 7 * 24 * time.Hour
	default:
		return time.Hour
	}
}
