package monitor

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"quantlab/logger"
)

// SystemSnapshot 系统资源快照（心跳消息里附带）
type SystemSnapshot struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemPercent    float64 `json:"mem_percent"`
	MemUsedMB     uint64  `json:"mem_used_mb"`
	Goroutines    int     `json:"goroutines"`
	HeapAllocMB   uint64  `json:"heap_alloc_mb"`
	CollectedAtMs int64   `json:"collected_at_ms"`
}

// Collect 采集一次系统资源快照
// 采集失败的字段置零，不阻塞调用方
func Collect() SystemSnapshot {
	snap := SystemSnapshot{
		Goroutines:    runtime.NumGoroutine(),
		CollectedAtMs: time.Now().UnixMilli(),
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	snap.HeapAllocMB = ms.HeapAlloc / 1024 / 1024

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		snap.CPUPercent = percents[0]
	} else if err != nil {
		logger.Debug("CPU 采集失败: %v", err)
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemPercent = vm.UsedPercent
		snap.MemUsedMB = vm.Used / 1024 / 1024
	} else {
		logger.Debug("内存采集失败: %v", err)
	}

	return snap
}
