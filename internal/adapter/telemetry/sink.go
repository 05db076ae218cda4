// Package telemetry moves request outcomes off the request path: the
// forwarder publishes one record per terminal per-endpoint outcome and a
// background consumer persists it. A bounded retention pruner keeps the
// log table from growing without limit.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/poolgate/poolgate/internal/core/domain"
	"github.com/poolgate/poolgate/internal/core/ports"
	"github.com/poolgate/poolgate/pkg/eventbus"
)

const writeTimeout = 10 * time.Second

// Sink implements ports.TelemetrySink over an event bus so Record never
// blocks the forwarder. Writes happen on the consumer goroutine with a
// detached context; the request-scoped context may be long gone by the
// time a streamed outcome lands.
type Sink struct {
	store  ports.Store
	logger *slog.Logger
	bus    *eventbus.Bus[domain.RequestLog]
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSink(store ports.Store, logger *slog.Logger) *Sink {
	return &Sink{
		store:  store,
		logger: logger.With("component", "telemetry"),
		bus:    eventbus.New[domain.RequestLog](),
	}
}

// Start launches the consumer. Must be called before Record.
func (s *Sink) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	events, _ := s.bus.Subscribe(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for rec := range events {
			s.persist(rec)
		}
	}()
}

// Record enqueues one outcome. Safe from any goroutine; drops (and
// counts) when the consumer is saturated rather than stalling a request.
func (s *Sink) Record(rec domain.RequestLog) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.bus.Publish(rec)
}

func (s *Sink) persist(rec domain.RequestLog) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := s.store.AppendRequestLog(ctx, &rec); err != nil {
		s.logger.Error("failed to append request log",
			"pool", rec.Pool,
			"provider", rec.ProviderName,
			"error", err)
	}
}

// Dropped reports how many records were lost to backpressure.
func (s *Sink) Dropped() uint64 {
	return s.bus.Dropped()
}

// Stop shuts the bus down and waits for the consumer to drain.
func (s *Sink) Stop() {
	s.bus.Shutdown()
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
