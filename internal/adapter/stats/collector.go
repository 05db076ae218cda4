// Package stats keeps lock-free in-process counters per endpoint. They
// complement the persisted rollups: the store survives restarts, this
// collector answers "what has this process done" without a database
// round trip.
package stats

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/poolgate/poolgate/internal/core/ports"
)

type endpointStats struct {
	total          atomic.Int64
	success        atomic.Int64
	failure        atomic.Int64
	latencySum     atomic.Int64
	minLatency     atomic.Int64
	maxLatency     atomic.Int64
	lastStatusCode atomic.Int64
	bytesStreamed  atomic.Int64
}

// Collector aggregates request outcomes. All methods are safe for
// concurrent use and never block.
type Collector struct {
	endpoints *xsync.Map[int64, *endpointStats]

	globalTotal   atomic.Int64
	globalSuccess atomic.Int64
	globalFailure atomic.Int64
	globalBytes   atomic.Int64
}

func NewCollector() *Collector {
	return &Collector{
		endpoints: xsync.NewMap[int64, *endpointStats](),
	}
}

func (c *Collector) get(endpointID int64) *endpointStats {
	es, _ := c.endpoints.LoadOrCompute(endpointID, func() (*endpointStats, bool) {
		return &endpointStats{}, false
	})
	return es
}

func (c *Collector) RecordRequest(endpointID int64, success bool, latencyMs int64, statusCode int) {
	es := c.get(endpointID)
	es.total.Add(1)
	c.globalTotal.Add(1)

	if success {
		es.success.Add(1)
		c.globalSuccess.Add(1)
		es.latencySum.Add(latencyMs)
		updateMin(&es.minLatency, latencyMs)
		updateMax(&es.maxLatency, latencyMs)
	} else {
		es.failure.Add(1)
		c.globalFailure.Add(1)
	}
	if statusCode > 0 {
		es.lastStatusCode.Store(int64(statusCode))
	}
}

func (c *Collector) RecordStreamBytes(endpointID int64, n int64) {
	if n <= 0 {
		return
	}
	c.get(endpointID).bytesStreamed.Add(n)
	c.globalBytes.Add(n)
}

func (c *Collector) Snapshot() map[int64]ports.EndpointStatsSnapshot {
	out := make(map[int64]ports.EndpointStatsSnapshot)
	c.endpoints.Range(func(id int64, es *endpointStats) bool {
		success := es.success.Load()
		snap := ports.EndpointStatsSnapshot{
			TotalRequests:   es.total.Load(),
			SuccessRequests: success,
			ErrorRequests:   es.failure.Load(),
			MinLatencyMs:    es.minLatency.Load(),
			MaxLatencyMs:    es.maxLatency.Load(),
			LastStatusCode:  int(es.lastStatusCode.Load()),
			BytesStreamed:   es.bytesStreamed.Load(),
		}
		if success > 0 {
			snap.AvgLatencyMs = es.latencySum.Load() / success
		}
		out[id] = snap
		return true
	})
	return out
}

func (c *Collector) GlobalSnapshot() ports.GlobalStatsSnapshot {
	return ports.GlobalStatsSnapshot{
		TotalRequests:   c.globalTotal.Load(),
		SuccessRequests: c.globalSuccess.Load(),
		ErrorRequests:   c.globalFailure.Load(),
		BytesStreamed:   c.globalBytes.Load(),
	}
}

// updateMin CAS-loops the floor; a zero current value means "unset".
func updateMin(v *atomic.Int64, candidate int64) {
	for {
		cur := v.Load()
		if cur != 0 && cur <= candidate {
			return
		}
		if v.CompareAndSwap(cur, candidate) {
			return
		}
	}
}

func updateMax(v *atomic.Int64, candidate int64) {
	for {
		cur := v.Load()
		if cur >= candidate {
			return
		}
		if v.CompareAndSwap(cur, candidate) {
			return
		}
	}
}
