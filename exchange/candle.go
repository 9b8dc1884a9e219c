package exchange

import (
	"fmt"
	"sort"
)

// Candle K线数据（时间戳为毫秒）
type Candle struct {
	Symbol    string  `json:"symbol"`
	OpenTime  int64   `json:"open_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	CloseTime int64   `json:"close_time"`
}

// SortAndDedup 按开盘时间排序并去重（保留首次出现的K线）
func SortAndDedup(candles []*Candle) []*Candle {
	if len(candles) == 0 {
		return candles
	}

	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].OpenTime < candles[j].OpenTime
	})

	out := candles[:1]
	for _, c := range candles[1:] {
		if c.OpenTime != out[len(out)-1].OpenTime {
			out = append(out, c)
		}
	}
	return out
}

// ValidateSeries 校验K线序列：严格递增、时间戳合法、无超限缺口
// 缺口容忍度为中位间隔的3倍
func ValidateSeries(candles []*Candle) error {
	if len(candles) == 0 {
		return fmt.Errorf("K线序列为空")
	}

	for i, c := range candles {
		if c.OpenTime > c.CloseTime {
			return fmt.Errorf("第 %d 根K线时间戳非法: open_time=%d > close_time=%d", i, c.OpenTime, c.CloseTime)
		}
		if i > 0 && c.OpenTime <= candles[i-1].OpenTime {
			return fmt.Errorf("第 %d 根K线时间戳未严格递增: %d <= %d", i, c.OpenTime, candles[i-1].OpenTime)
		}
	}

	if len(candles) < 3 {
		return nil
	}

	// 计算中位间隔
	deltas := make([]int64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		deltas = append(deltas, candles[i].OpenTime-candles[i-1].OpenTime)
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i] < deltas[j] })
	median := deltas[len(deltas)/2]

	for i := 1; i < len(candles); i++ {
		gap := candles[i].OpenTime - candles[i-1].OpenTime
		if gap > 3*median {
			return fmt.Errorf("第 %d 根K线存在超限缺口: %dms（中位间隔 %dms）", i, gap, median)
		}
	}

	return nil
}

// SliceByTime 按时间范围截取K线（半开区间 [startMs, endMs)，二分查找）
func SliceByTime(candles []*Candle, startMs, endMs int64) []*Candle {
	lo := sort.Search(len(candles), func(i int) bool {
		return candles[i].OpenTime >= startMs
	})
	hi := sort.Search(len(candles), func(i int) bool {
		return candles[i].OpenTime >= endMs
	})
	return candles[lo:hi]
}
