package exchange

import (
	"context"
	"testing"
	"time"
)

func seriesWithInterval(n int, intervalMs int64) []*Candle {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	candles := make([]*Candle, n)
	for i := 0; i < n; i++ {
		candles[i] = &Candle{
			Symbol:    "BTCUSDT",
			OpenTime:  base + int64(i)*intervalMs,
			Open:      100,
			High:      101,
			Low:       99,
			Close:     100.5,
			Volume:    10,
			CloseTime: base + int64(i+1)*intervalMs - 1,
		}
	}
	return candles
}

func TestSortAndDedup(t *testing.T) {
	candles := seriesWithInterval(5, 60_000)
	// 打乱并插入重复
	shuffled := []*Candle{candles[3], candles[1], candles[3], candles[0], candles[4], candles[2], candles[1]}

	out := SortAndDedup(shuffled)
	if len(out) != 5 {
		t.Fatalf("期望去重后 5 根，得到 %d", len(out))
	}
	for i := 1; i < len(out); i++ {
		if out[i].OpenTime <= out[i-1].OpenTime {
			t.Errorf("第 %d 根未严格递增", i)
		}
	}
	t.Log("✅ 排序去重正确")
}

func TestValidateSeriesGap(t *testing.T) {
	candles := seriesWithInterval(10, 60_000)
	if err := ValidateSeries(candles); err != nil {
		t.Fatalf("连续序列不应报错: %v", err)
	}

	// 人为制造超过3倍中位间隔的缺口
	for i := 5; i < 10; i++ {
		candles[i].OpenTime += 10 * 60_000
		candles[i].CloseTime += 10 * 60_000
	}
	if err := ValidateSeries(candles); err == nil {
		t.Error("超限缺口应校验失败")
	} else {
		t.Logf("✅ 缺口被检出: %v", err)
	}
}

func TestValidateSeriesNonMonotonic(t *testing.T) {
	candles := seriesWithInterval(5, 60_000)
	candles[2].OpenTime = candles[1].OpenTime
	if err := ValidateSeries(candles); err == nil {
		t.Error("非严格递增序列应校验失败")
	} else {
		t.Logf("✅ 重复时间戳被检出: %v", err)
	}
}

func TestSliceByTime(t *testing.T) {
	candles := seriesWithInterval(10, 60_000)
	start := candles[3].OpenTime
	end := candles[7].OpenTime // 半开区间，不含第 7 根

	out := SliceByTime(candles, start, end)
	if len(out) != 4 {
		t.Fatalf("期望 4 根，得到 %d", len(out))
	}
	if out[0].OpenTime != start {
		t.Errorf("区间起点错误: %d != %d", out[0].OpenTime, start)
	}
	if out[len(out)-1].OpenTime >= end {
		t.Error("半开区间不应包含终点")
	}
	t.Log("✅ 时间区间截取正确")
}

// recordingSource 记录调用次数的假数据源
type recordingSource struct {
	calls   int
	candles []*Candle
}

func (r *recordingSource) Fetch(ctx context.Context, symbol, interval string, start, end time.Time) ([]*Candle, error) {
	r.calls++
	return r.candles, nil
}

func TestCachingSourceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	inner := &recordingSource{candles: seriesWithInterval(20, 60_000)}

	source, err := NewCachingSource(inner, dir)
	if err != nil {
		t.Fatalf("创建缓存数据源失败: %v", err)
	}

	start := time.UnixMilli(inner.candles[0].OpenTime)
	end := time.UnixMilli(inner.candles[len(inner.candles)-1].CloseTime)

	first, err := source.Fetch(context.Background(), "BTCUSDT", "1m", start, end)
	if err != nil {
		t.Fatalf("首次拉取失败: %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("首次应回源: calls=%d", inner.calls)
	}

	second, err := source.Fetch(context.Background(), "BTCUSDT", "1m", start, end)
	if err != nil {
		t.Fatalf("二次拉取失败: %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("二次应命中缓存: calls=%d", inner.calls)
	}
	if len(second) != len(first) {
		t.Fatalf("缓存K线数不一致: %d != %d", len(second), len(first))
	}
	for i := range first {
		if second[i].OpenTime != first[i].OpenTime || second[i].Close != first[i].Close {
			t.Fatalf("第 %d 根K线缓存前后不一致", i)
		}
	}
	t.Logf("✅ CSV缓存往返一致，%d 根K线", len(second))
}

func TestCachingSourceSubRange(t *testing.T) {
	dir := t.TempDir()
	inner := &recordingSource{candles: seriesWithInterval(20, 60_000)}
	source, err := NewCachingSource(inner, dir)
	if err != nil {
		t.Fatalf("创建缓存数据源失败: %v", err)
	}

	full := time.UnixMilli(inner.candles[0].OpenTime)
	fullEnd := time.UnixMilli(inner.candles[len(inner.candles)-1].CloseTime)
	if _, err := source.Fetch(context.Background(), "BTCUSDT", "1m", full, fullEnd); err != nil {
		t.Fatalf("预热缓存失败: %v", err)
	}

	// 子区间命中缓存并被正确截取
	subStart := time.UnixMilli(inner.candles[5].OpenTime)
	subEnd := time.UnixMilli(inner.candles[10].OpenTime)
	sub, err := source.Fetch(context.Background(), "BTCUSDT", "1m", subStart, subEnd)
	if err != nil {
		t.Fatalf("子区间拉取失败: %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("子区间应命中缓存: calls=%d", inner.calls)
	}
	if len(sub) != 5 {
		t.Errorf("期望子区间 5 根，得到 %d", len(sub))
	}
	t.Log("✅ 子区间缓存命中并截取")
}
