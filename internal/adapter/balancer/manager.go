package balancer

import (
	"context"
	"log/slog"
	"time"

	"github.com/poolgate/poolgate/internal/core/domain"
	"github.com/poolgate/poolgate/internal/core/ports"
)

// Manager is the pool scheduler: it turns "give me an endpoint for this
// pool" into a filtered candidate set handed to the selector, and routes
// attempt outcomes back into the store and the cooldown tracker.
//
// Parking is not automatic on failure. The forwarder decides whether and
// for how long to park based on the error class; the manager only
// exposes the lever.
type Manager struct {
	store    ports.Store
	tracker  ports.CooldownTracker
	selector ports.EndpointSelector
	logger   *slog.Logger
	now      func() time.Time
}

func NewManager(store ports.Store, tracker ports.CooldownTracker, selector ports.EndpointSelector, logger *slog.Logger) *Manager {
	return &Manager{
		store:    store,
		tracker:  tracker,
		selector: selector,
		logger:   logger.With("component", "pool_manager"),
		now:      time.Now,
	}
}

// SelectEndpoint returns one dispatchable endpoint for the pool, with the
// pool's per-attempt timeout resolved onto it. Endpoints in exclude (ids
// already failed within the current logical request), parked endpoints,
// and endpoints still inside their min-interval window are skipped. A
// fully filtered-out pool yields NoEndpointError.
func (m *Manager) SelectEndpoint(ctx context.Context, pool domain.PoolType, exclude map[int64]struct{}) (*domain.SelectedEndpoint, error) {
	candidates, err := m.store.ListPoolEndpoints(ctx, pool)
	if err != nil {
		return nil, err
	}

	poolCfg, err := m.store.GetPool(ctx, pool)
	if err != nil {
		return nil, err
	}

	now := m.now()
	available := make([]*domain.SelectedEndpoint, 0, len(candidates))
	for _, c := range candidates {
		if _, skip := exclude[c.EndpointID]; skip {
			continue
		}
		if m.tracker.IsParked(c.EndpointID) {
			continue
		}
		if c.MinIntervalSeconds > 0 && c.LastRequestAt != nil {
			gate := c.LastRequestAt.Add(time.Duration(c.MinIntervalSeconds) * time.Second)
			if now.Before(gate) {
				continue
			}
		}
		available = append(available, c)
	}

	if len(available) == 0 {
		m.logger.Warn("no dispatchable endpoint", "pool", pool, "candidates", len(candidates))
		return nil, &domain.NoEndpointError{Pool: pool}
	}

	selected, err := m.selector.Select(ctx, pool, available)
	if err != nil {
		return nil, err
	}
	selected.TimeoutSeconds = poolCfg.TimeoutSeconds

	m.logger.Debug("endpoint selected",
		"pool", pool,
		"endpoint_id", selected.EndpointID,
		"provider", selected.ProviderName,
		"model", selected.ModelID,
		"weight", selected.Weight)

	return selected, nil
}

// MarkSuccess records a successful attempt: counters, incremental latency
// mean, last_request_at, and any lingering cooldown entry is cleared.
func (m *Manager) MarkSuccess(ctx context.Context, endpointID int64, latencyMs int64) {
	if err := m.store.IncrementEndpointStats(ctx, endpointID, true, latencyMs, ""); err != nil {
		m.logger.Error("failed to record success", "endpoint_id", endpointID, "error", err)
	}
	m.tracker.Clear(endpointID)
}

// MarkFailure records a failed attempt and the error text for the admin
// view. Parking, if warranted, happens separately via Park.
func (m *Manager) MarkFailure(ctx context.Context, endpointID int64, reason string) {
	if err := m.store.IncrementEndpointStats(ctx, endpointID, false, 0, reason); err != nil {
		m.logger.Error("failed to record failure", "endpoint_id", endpointID, "error", err)
	}
}

// Park excludes the endpoint for the pool's cooldown. A zero cooldown
// skips parking so failover stays fluid for transient errors.
func (m *Manager) Park(ctx context.Context, pool domain.PoolType, endpointID int64, reason string) {
	poolCfg, err := m.store.GetPool(ctx, pool)
	if err != nil {
		m.logger.Error("failed to resolve pool for parking", "pool", pool, "error", err)
		return
	}
	if poolCfg.CooldownSeconds <= 0 {
		return
	}
	d := time.Duration(poolCfg.CooldownSeconds) * time.Second
	m.tracker.Park(endpointID, d, reason)
	m.logger.Warn("endpoint parked", "pool", pool, "endpoint_id", endpointID, "cooldown", d, "reason", reason)
}
