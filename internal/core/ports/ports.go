// Package ports declares the interfaces the data plane depends on.
// Adapters under internal/adapter satisfy them; the forwarder and HTTP
// surface only ever see these contracts.
package ports

import (
	"context"
	"time"

	"github.com/poolgate/poolgate/internal/core/domain"
)

// EndpointSelector picks one endpoint from a pre-filtered candidate set.
// Availability filtering (cooldown, min-interval) happens before Select
// is called; implementations only balance across what they are given.
type EndpointSelector interface {
	Select(ctx context.Context, pool domain.PoolType, candidates []*domain.SelectedEndpoint) (*domain.SelectedEndpoint, error)
	Name() string
}

// CooldownTracker is the in-memory parking authority. Persisted cooldown
// hints are never consulted for scheduling; a process restart clears all
// parking state.
type CooldownTracker interface {
	Park(endpointID int64, d time.Duration, reason string)
	IsParked(endpointID int64) bool
	Remaining(endpointID int64) time.Duration
	Clear(endpointID int64)
	ClearAll()
	Snapshot() map[int64]time.Duration
}

// TelemetrySink receives one record per terminal per-endpoint outcome.
// Implementations must not block the forwarder's request path.
type TelemetrySink interface {
	Record(rec domain.RequestLog)
}

// StatsCollector keeps in-process per-endpoint counters for the admin
// stats endpoint. It complements, not replaces, the persisted rollups.
type StatsCollector interface {
	RecordRequest(endpointID int64, success bool, latencyMs int64, statusCode int)
	RecordStreamBytes(endpointID int64, n int64)
	Snapshot() map[int64]EndpointStatsSnapshot
	GlobalSnapshot() GlobalStatsSnapshot
}

// EndpointStatsSnapshot is a point-in-time copy of one endpoint's
// in-process counters.
type EndpointStatsSnapshot struct {
	TotalRequests   int64 `json:"total_requests"`
	SuccessRequests int64 `json:"success_requests"`
	ErrorRequests   int64 `json:"error_requests"`
	MinLatencyMs    int64 `json:"min_latency_ms"`
	MaxLatencyMs    int64 `json:"max_latency_ms"`
	AvgLatencyMs    int64 `json:"avg_latency_ms"`
	LastStatusCode  int   `json:"last_status_code"`
	BytesStreamed   int64 `json:"bytes_streamed"`
}

// GlobalStatsSnapshot aggregates across all endpoints since process start.
type GlobalStatsSnapshot struct {
	TotalRequests   int64 `json:"total_requests"`
	SuccessRequests int64 `json:"success_requests"`
	ErrorRequests   int64 `json:"error_requests"`
	BytesStreamed   int64 `json:"bytes_streamed"`
}

// ModelLister discovers the concrete model identifiers an upstream
// provider advertises, for the admin fetch-models operation.
type ModelLister interface {
	ListModels(ctx context.Context, baseURL, apiKey string, format domain.APIFormat) ([]string, error)
}
