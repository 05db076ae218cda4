package app

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/poolgate/poolgate/internal/adapter/proxy"
	"github.com/poolgate/poolgate/internal/core/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testVirtualModels() func() domain.VirtualModels {
	return func() domain.VirtualModels {
		return domain.VirtualModels{Tool: "haiku", Normal: "sonnet", Advanced: "opus"}
	}
}

// fakeForwarder returns a canned error, for exercising the error mapping
// without an upstream.
type fakeForwarder struct {
	mu   sync.Mutex
	last proxy.ForwardRequest
	err  error
}

func (f *fakeForwarder) Forward(ctx context.Context, req proxy.ForwardRequest) (*proxy.Result, error) {
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()
	return nil, f.err
}

func (f *fakeForwarder) lastRequest() proxy.ForwardRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// fakeScheduler hands out a fixed endpoint, for driving a real forwarder
// at an httptest upstream.
type fakeScheduler struct {
	endpoint *domain.SelectedEndpoint

	mu        sync.Mutex
	successes []int64
	failures  []int64
}

func (f *fakeScheduler) SelectEndpoint(ctx context.Context, pool domain.PoolType, exclude map[int64]struct{}) (*domain.SelectedEndpoint, error) {
	if _, tried := exclude[f.endpoint.EndpointID]; tried {
		return nil, &domain.NoEndpointError{Pool: pool}
	}
	return f.endpoint, nil
}

func (f *fakeScheduler) MarkSuccess(ctx context.Context, endpointID int64, latencyMs int64) {
	f.mu.Lock()
	f.successes = append(f.successes, endpointID)
	f.mu.Unlock()
}

func (f *fakeScheduler) MarkFailure(ctx context.Context, endpointID int64, reason string) {
	f.mu.Lock()
	f.failures = append(f.failures, endpointID)
	f.mu.Unlock()
}

func (f *fakeScheduler) Park(ctx context.Context, pool domain.PoolType, endpointID int64, reason string) {}

// nopSink drops telemetry records.
type nopSink struct{}

func (nopSink) Record(domain.RequestLog) {}

// fakeLister returns a fixed model catalogue.
type fakeLister struct {
	models []string
	err    error

	mu         sync.Mutex
	lastFormat domain.APIFormat
}

func (f *fakeLister) ListModels(ctx context.Context, baseURL, apiKey string, format domain.APIFormat) ([]string, error) {
	f.mu.Lock()
	f.lastFormat = format
	f.mu.Unlock()
	return f.models, f.err
}
