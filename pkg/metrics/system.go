package metrics

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemSnapshot 主机与运行时状态
type SystemSnapshot struct {
	Hostname      string  `json:"hostname,omitempty"`
	UptimeSeconds uint64  `json:"uptimeSeconds,omitempty"`
	CPUPercent    float64 `json:"cpuPercent"`
	MemoryTotal   uint64  `json:"memoryTotal"`
	MemoryUsed    uint64  `json:"memoryUsed"`
	MemoryPercent float64 `json:"memoryPercent"`
	Goroutines    int     `json:"goroutines"`
	HeapAlloc     uint64  `json:"heapAlloc"`
}

// CollectSystem 采集系统快照；单项失败时保留其余数据并返回第一个错误
func CollectSystem(ctx context.Context) (SystemSnapshot, error) {
	var (
		s        SystemSnapshot
		firstErr error
	)
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		s.Hostname = info.Hostname
		s.UptimeSeconds = info.Uptime
	} else {
		keep(err)
	}
	// interval 为 0 时取与上次调用之间的平均值，不阻塞
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	} else {
		keep(err)
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.MemoryTotal = vm.Total
		s.MemoryUsed = vm.Used
		s.MemoryPercent = vm.UsedPercent
	} else {
		keep(err)
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s.Goroutines = runtime.NumGoroutine()
	s.HeapAlloc = ms.HeapAlloc
	return s, firstErr
}
