// Package nerdstats snapshots Go runtime internals for the admin stats
// payload.
package nerdstats

import (
	"runtime"
	"time"
)

type NerdStats struct {
	HeapAllocBytes  uint64  `json:"heap_alloc_bytes"`
	HeapSysBytes    uint64  `json:"heap_sys_bytes"`
	HeapInuseBytes  uint64  `json:"heap_inuse_bytes"`
	StackInuseBytes uint64  `json:"stack_inuse_bytes"`
	TotalAllocBytes uint64  `json:"total_alloc_bytes"`
	NumGC           uint32  `json:"num_gc"`
	GCPauseTotalMs  int64   `json:"gc_pause_total_ms"`
	GCCPUFraction   float64 `json:"gc_cpu_fraction"`
	NumGoroutines   int     `json:"num_goroutines"`
	NumCPU          int     `json:"num_cpu"`
	GoVersion       string  `json:"go_version"`
	UptimeSeconds   int64   `json:"uptime_seconds"`
}

// Snapshot reads the runtime counters. Cheap enough for an admin route,
// not meant for hot paths.
func Snapshot(start time.Time) *NerdStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return &NerdStats{
		HeapAllocBytes:  m.HeapAlloc,
		HeapSysBytes:    m.HeapSys,
		HeapInuseBytes:  m.HeapInuse,
		StackInuseBytes: m.StackInuse,
		TotalAllocBytes: m.TotalAlloc,
		NumGC:           m.NumGC,
		GCPauseTotalMs:  int64(time.Duration(m.PauseTotalNs) / time.Millisecond),
		GCCPUFraction:   m.GCCPUFraction,
		NumGoroutines:   runtime.NumGoroutine(),
		NumCPU:          runtime.NumCPU(),
		GoVersion:       runtime.Version(),
		UptimeSeconds:   int64(time.Since(start).Seconds()),
	}
}
