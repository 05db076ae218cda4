// Package app wires the gateway together and owns its lifecycle: store,
// cooldown tracker, pool manager, forwarder, telemetry and the HTTP
// surface come up in order and shut down in reverse.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/poolgate/poolgate/internal/adapter/balancer"
	"github.com/poolgate/poolgate/internal/adapter/cooldown"
	"github.com/poolgate/poolgate/internal/adapter/discovery"
	"github.com/poolgate/poolgate/internal/adapter/proxy"
	"github.com/poolgate/poolgate/internal/adapter/stats"
	"github.com/poolgate/poolgate/internal/adapter/storage/sqlite"
	"github.com/poolgate/poolgate/internal/adapter/telemetry"
	"github.com/poolgate/poolgate/internal/config"
	"github.com/poolgate/poolgate/internal/core/domain"
	"github.com/poolgate/poolgate/pkg/format"
)

type Application struct {
	cfg       *config.Provider
	logger    *slog.Logger
	store     *sqlite.Store
	tracker   *cooldown.Tracker
	collector *stats.Collector
	sink      *telemetry.Sink
	pruner    *telemetry.Pruner
	server    *http.Server
	startTime time.Time
}

// New wires the application from a loaded configuration. Nothing is
// started yet; Start brings the pieces up.
func New(cfgProvider *config.Provider, logger *slog.Logger) (*Application, error) {
	cfg := cfgProvider.Get()

	store, err := sqlite.New(cfg.Database.URL, sqlite.Defaults{
		VirtualModels:   cfg.Models.VirtualModels(),
		CooldownSeconds: cfg.Pools.CooldownSeconds,
		MaxRetries:      cfg.Pools.MaxRetries,
		TimeoutSeconds:  cfg.Pools.TimeoutSeconds,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	tracker := cooldown.NewTracker()
	collector := stats.NewCollector()
	sink := telemetry.NewSink(store, logger)
	pruner := telemetry.NewPruner(store, cfg.Logs.MaxCount, cfg.Logs.PruneSchedule, logger)

	selector, err := balancer.NewFactory().Create(balancer.DefaultBalancerSmoothWeighted)
	if err != nil {
		store.Close()
		return nil, err
	}
	manager := balancer.NewManager(store, tracker, selector, logger)

	forwarder := proxy.NewService(manager, sink, collector, proxy.Config{
		HeartbeatInterval: cfg.Stream.HeartbeatInterval,
		FirstChunkTimeout: cfg.Stream.FirstChunkTimeout,
	}, logger)

	handlers := NewHandlers(
		forwarder,
		store,
		tracker,
		collector,
		discovery.NewHTTPModelLister(logger),
		func() domain.VirtualModels { return cfgProvider.Get().Models.VirtualModels() },
		logger,
	)

	app := &Application{
		cfg:       cfgProvider,
		logger:    logger.With("component", "app"),
		store:     store,
		tracker:   tracker,
		collector: collector,
		sink:      sink,
		pruner:    pruner,
		startTime: time.Now(),
		server: &http.Server{
			Addr:        cfg.Server.Addr(),
			Handler:     newRouter(handlers, logger),
			ReadTimeout: cfg.Server.ReadTimeout,
			// WriteTimeout stays zero unless configured: SSE responses
			// are open-ended.
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}
	return app, nil
}

// Start brings up telemetry, the pruner and the HTTP listener. Serve
// errors after startup surface on the returned channel.
func (a *Application) Start() (<-chan error, error) {
	a.sink.Start()
	if err := a.pruner.Start(); err != nil {
		return nil, fmt.Errorf("failed to start pruner: %w", err)
	}
	a.cfg.Watch()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh, nil
}

// Stop shuts down in reverse order: drain HTTP, stop the pruner, drain
// telemetry, close the store.
func (a *Application) Stop(ctx context.Context) error {
	var firstErr error

	if err := a.server.Shutdown(ctx); err != nil {
		firstErr = err
	}
	a.pruner.Stop()
	a.sink.Stop()
	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	global := a.collector.GlobalSnapshot()
	a.logger.Info("stopped",
		"uptime", format.Duration(time.Since(a.startTime)),
		"requests", global.TotalRequests,
		"success_rate", format.Percentage(successRate(global.SuccessRequests, global.TotalRequests)),
		"bytes_streamed", format.Bytes(uint64(global.BytesStreamed)),
		"telemetry_dropped", a.sink.Dropped())
	return firstErr
}

func successRate(success, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(success) / float64(total) * 100
}
