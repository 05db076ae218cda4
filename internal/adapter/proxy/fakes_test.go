package proxy

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/poolgate/poolgate/internal/core/domain"
	"github.com/poolgate/poolgate/internal/core/ports"
)

// fakeScheduler hands out endpoints in order, honouring the exclude set,
// and records every outcome call.
type fakeScheduler struct {
	mu        sync.Mutex
	endpoints []*domain.SelectedEndpoint
	successes []int64
	failures  map[int64]string
	parked    map[int64]string
}

func newFakeScheduler(endpoints ...*domain.SelectedEndpoint) *fakeScheduler {
	return &fakeScheduler{
		endpoints: endpoints,
		failures:  make(map[int64]string),
		parked:    make(map[int64]string),
	}
}

func (f *fakeScheduler) SelectEndpoint(ctx context.Context, pool domain.PoolType, exclude map[int64]struct{}) (*domain.SelectedEndpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.endpoints {
		if _, skip := exclude[e.EndpointID]; skip {
			continue
		}
		if _, parked := f.parked[e.EndpointID]; parked {
			continue
		}
		return e, nil
	}
	return nil, &domain.NoEndpointError{Pool: pool}
}

func (f *fakeScheduler) MarkSuccess(ctx context.Context, endpointID int64, latencyMs int64) {
	f.mu.Lock()
	f.successes = append(f.successes, endpointID)
	f.mu.Unlock()
}

func (f *fakeScheduler) MarkFailure(ctx context.Context, endpointID int64, reason string) {
	f.mu.Lock()
	f.failures[endpointID] = reason
	f.mu.Unlock()
}

func (f *fakeScheduler) Park(ctx context.Context, pool domain.PoolType, endpointID int64, reason string) {
	f.mu.Lock()
	f.parked[endpointID] = reason
	f.mu.Unlock()
}

// fakeSink collects request-log records.
type fakeSink struct {
	mu      sync.Mutex
	records []domain.RequestLog
}

func (f *fakeSink) Record(rec domain.RequestLog) {
	f.mu.Lock()
	f.records = append(f.records, rec)
	f.mu.Unlock()
}

func (f *fakeSink) all() []domain.RequestLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.RequestLog, len(f.records))
	copy(out, f.records)
	return out
}

// fakeStats satisfies ports.StatsCollector and counts calls.
type fakeStats struct {
	mu       sync.Mutex
	requests int
	bytes    int64
}

func (f *fakeStats) RecordRequest(endpointID int64, success bool, latencyMs int64, statusCode int) {
	f.mu.Lock()
	f.requests++
	f.mu.Unlock()
}

func (f *fakeStats) RecordStreamBytes(endpointID int64, n int64) {
	f.mu.Lock()
	f.bytes += n
	f.mu.Unlock()
}

func (f *fakeStats) Snapshot() map[int64]ports.EndpointStatsSnapshot { return nil }
func (f *fakeStats) GlobalSnapshot() ports.GlobalStatsSnapshot      { return ports.GlobalStatsSnapshot{} }

func testEndpoint(id int64, baseURL string, format domain.APIFormat) *domain.SelectedEndpoint {
	return &domain.SelectedEndpoint{
		EndpointID:     id,
		ProviderID:     id,
		ProviderName:   "provider",
		BaseURL:        baseURL,
		APIKey:         "test-key",
		ModelID:        "concrete-model",
		Format:         format,
		Weight:         1,
		TimeoutSeconds: 5,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestService wires a Service with fakes and an instant sleep that
// records the requested backoff delays.
func newTestService(scheduler Scheduler, cfg Config) (*Service, *fakeSink, *fakeStats, *[]time.Duration) {
	sink := &fakeSink{}
	stats := &fakeStats{}
	svc := NewService(scheduler, sink, stats, cfg, testLogger())

	var delays []time.Duration
	svc.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return svc, sink, stats, &delays
}
