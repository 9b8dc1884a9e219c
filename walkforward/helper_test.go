package walkforward

import (
	"time"

	"quantlab/exchange"
)

// trendingCandles 生成带漂移的模拟K线（1分钟间隔）
func trendingCandles(n int, startPrice, drift float64) []*exchange.Candle {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	interval := int64(60_000)
	candles := make([]*exchange.Candle, n)
	price := startPrice
	for i := 0; i < n; i++ {
		// 漂移叠加简单锯齿波动，保证均线有交叉
		wiggle := 1.0
		if i%7 < 3 {
			wiggle = 1.004
		} else {
			wiggle = 0.997
		}
		open := price
		price = price * (1 + drift) * wiggle
		high := open
		low := open
		if price > high {
			high = price
		}
		if price < low {
			low = price
		}
		candles[i] = &exchange.Candle{
			Symbol:    "BTCUSDT",
			OpenTime:  base + int64(i)*interval,
			Open:      open,
			High:      high * 1.0005,
			Low:       low * 0.9995,
			Close:     price,
			Volume:    100,
			CloseTime: base + int64(i+1)*interval - 1,
		}
	}
	return candles
}
