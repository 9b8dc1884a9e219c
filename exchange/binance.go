package exchange

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"golang.org/x/time/rate"

	"quantlab/logger"
)

const (
	klinesPerPage  = 1000 // Binance 单次最多 1000 根
	fetchRetries   = 3
	retryBaseSleep = 100 * time.Millisecond
)

// BinanceSource Binance 历史K线来源（分页 + 限流）
type BinanceSource struct {
	client     *binance.Client
	limiter    *rate.Limiter
	minCandles int
}

// NewBinanceSource 创建 Binance K线来源
func NewBinanceSource(apiKey, secretKey string, ratePerSec float64, minCandles int) *BinanceSource {
	if ratePerSec <= 0 {
		ratePerSec = 10
	}
	return &BinanceSource{
		client:     binance.NewClient(apiKey, secretKey),
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), 1),
		minCandles: minCandles,
	}
}

// Fetch 分页获取历史K线并返回排序去重后的序列
// 可用数量低于 minCandles 时返回 ErrInsufficientData
func (s *BinanceSource) Fetch(ctx context.Context, symbol, interval string, start, end time.Time) ([]*Candle, error) {
	startMs := start.UnixMilli()
	endMs := end.UnixMilli()

	logger.Info("⬇️ 从 Binance 下载: %s %s (%s 至 %s)",
		symbol, interval,
		start.Format("2006-01-02"),
		end.Format("2006-01-02"))

	all := make([]*Candle, 0)
	currentStart := startMs
	page := 0

	for currentStart < endMs {
		page++

		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		klines, err := s.fetchPage(ctx, symbol, interval, currentStart, endMs)
		if err != nil {
			return nil, fmt.Errorf("获取第 %d 页K线失败: %w", page, err)
		}
		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			c, err := parseKline(symbol, k)
			if err != nil {
				return nil, fmt.Errorf("解析第 %d 页K线失败: %w", page, err)
			}
			if c.OpenTime >= endMs {
				break
			}
			all = append(all, c)
		}

		last := klines[len(klines)-1].OpenTime
		if last <= currentStart {
			break
		}
		currentStart = last + 1

		if page%10 == 0 {
			logger.Info("📊 下载进度: 已获取 %d 根K线", len(all))
		}
	}

	all = SortAndDedup(all)

	if len(all) < s.minCandles {
		return nil, fmt.Errorf("%w: %s %s 仅 %d 根（最少 %d 根）",
			ErrInsufficientData, symbol, interval, len(all), s.minCandles)
	}

	if err := ValidateSeries(all); err != nil {
		return nil, fmt.Errorf("K线序列校验失败: %w", err)
	}

	logger.Info("✅ 下载完成: %s %s 共 %d 根K线", symbol, interval, len(all))
	return all, nil
}

// fetchPage 获取单页K线（带重试，线性退避）
func (s *BinanceSource) fetchPage(ctx context.Context, symbol, interval string, startMs, endMs int64) ([]*binance.Kline, error) {
	var lastErr error
	for attempt := 1; attempt <= fetchRetries; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		klines, err := s.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(startMs).
			EndTime(endMs).
			Limit(klinesPerPage).
			Do(reqCtx)
		cancel()

		if err == nil {
			return klines, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		logger.Warn("⚠️ K线请求失败（第 %d/%d 次）: %v", attempt, fetchRetries, err)
		time.Sleep(time.Duration(attempt) * retryBaseSleep)
	}
	return nil, lastErr
}

// parseKline 转换 Binance K线为内部模型
func parseKline(symbol string, k *binance.Kline) (*Candle, error) {
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("解析 open 失败: %w", err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return nil, fmt.Errorf("解析 high 失败: %w", err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("解析 low 失败: %w", err)
	}
	closePrice, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("解析 close 失败: %w", err)
	}
	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("解析 volume 失败: %w", err)
	}

	return &Candle{
		Symbol:    symbol,
		OpenTime:  k.OpenTime,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		CloseTime: k.CloseTime,
	}, nil
}
