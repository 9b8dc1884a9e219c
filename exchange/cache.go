package exchange

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"quantlab/logger"
)

// cacheIndexEntry 缓存索引条目：一个CSV文件覆盖的时间区间
type cacheIndexEntry struct {
	File    string `json:"file"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
	Count   int    `json:"count"`
}

// cacheIndex symbol_interval → 缓存条目
type cacheIndex map[string]cacheIndexEntry

// CachingSource 带本地CSV缓存的K线数据源
// 命中缓存直接读文件，未命中则透传给底层数据源并落盘
type CachingSource struct {
	inner CandleSource
	dir   string
	mu    sync.Mutex
}

// NewCachingSource 创建缓存数据源，dir 为缓存目录
func NewCachingSource(inner CandleSource, dir string) (*CachingSource, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建缓存目录失败: %w", err)
	}
	return &CachingSource{inner: inner, dir: dir}, nil
}

// Fetch 优先读取本地缓存，区间不被覆盖时回源并更新缓存
func (c *CachingSource) Fetch(ctx context.Context, symbol, interval string, start, end time.Time) ([]*Candle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := symbol + "_" + interval
	index := c.loadIndex()

	if entry, ok := index[key]; ok {
		if entry.StartMs <= start.UnixMilli() && entry.EndMs >= end.UnixMilli() {
			candles, err := c.readCSV(entry.File)
			if err == nil {
				logger.Info("💾 缓存命中 %s: %d 根K线", key, len(candles))
				return SliceByTime(candles, start.UnixMilli(), end.UnixMilli()), nil
			}
			// 缓存文件损坏则回源重建
			logger.Warn("⚠️ 缓存文件读取失败，回源重建: %v", err)
		}
	}

	logger.Info("⬇️ 缓存未命中 %s，从交易所拉取 %s ~ %s",
		key, start.Format("2006-01-02"), end.Format("2006-01-02"))

	candles, err := c.inner.Fetch(ctx, symbol, interval, start, end)
	if err != nil {
		return nil, err
	}

	if err := c.writeCache(key, symbol, interval, candles, index); err != nil {
		// 缓存写入失败不影响本次数据返回
		logger.Warn("⚠️ 缓存写入失败: %v", err)
	}

	return candles, nil
}

func (c *CachingSource) indexPath() string {
	return filepath.Join(c.dir, "index.json")
}

func (c *CachingSource) loadIndex() cacheIndex {
	data, err := os.ReadFile(c.indexPath())
	if err != nil {
		return make(cacheIndex)
	}
	var index cacheIndex
	if err := json.Unmarshal(data, &index); err != nil {
		logger.Warn("⚠️ 缓存索引损坏，重置: %v", err)
		return make(cacheIndex)
	}
	return index
}

func (c *CachingSource) writeCache(key, symbol, interval string, candles []*Candle, index cacheIndex) error {
	if len(candles) == 0 {
		return nil
	}

	file := fmt.Sprintf("%s_%s.csv", symbol, interval)
	if err := c.writeCSV(file, candles); err != nil {
		return err
	}

	index[key] = cacheIndexEntry{
		File:    file,
		StartMs: candles[0].OpenTime,
		EndMs:   candles[len(candles)-1].CloseTime,
		Count:   len(candles),
	}

	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.indexPath(), data, 0o644); err != nil {
		return err
	}

	logger.Info("💾 已缓存 %s: %d 根K线 → %s", key, len(candles), file)
	return nil
}

func (c *CachingSource) writeCSV(file string, candles []*Candle) error {
	f, err := os.Create(filepath.Join(c.dir, file))
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{"symbol", "open_time", "open", "high", "low", "close", "volume", "close_time"}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, cd := range candles {
		record := []string{
			cd.Symbol,
			strconv.FormatInt(cd.OpenTime, 10),
			strconv.FormatFloat(cd.Open, 'f', -1, 64),
			strconv.FormatFloat(cd.High, 'f', -1, 64),
			strconv.FormatFloat(cd.Low, 'f', -1, 64),
			strconv.FormatFloat(cd.Close, 'f', -1, 64),
			strconv.FormatFloat(cd.Volume, 'f', -1, 64),
			strconv.FormatInt(cd.CloseTime, 10),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return nil
}

func (c *CachingSource) readCSV(file string) ([]*Candle, error) {
	f, err := os.Open(filepath.Join(c.dir, file))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("缓存文件为空: %s", file)
	}

	candles := make([]*Candle, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) != 8 {
			return nil, fmt.Errorf("缓存记录字段数异常: %d", len(rec))
		}
		candle, err := parseCSVRecord(rec)
		if err != nil {
			return nil, err
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func parseCSVRecord(rec []string) (*Candle, error) {
	openTime, err := strconv.ParseInt(rec[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("open_time 解析失败: %w", err)
	}
	closeTime, err := strconv.ParseInt(rec[7], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("close_time 解析失败: %w", err)
	}

	vals := make([]float64, 5)
	for i, idx := range []int{2, 3, 4, 5, 6} {
		v, err := strconv.ParseFloat(rec[idx], 64)
		if err != nil {
			return nil, fmt.Errorf("价格字段解析失败: %w", err)
		}
		vals[i] = v
	}

	return &Candle{
		Symbol:    rec[0],
		OpenTime:  openTime,
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
		CloseTime: closeTime,
	}, nil
}
