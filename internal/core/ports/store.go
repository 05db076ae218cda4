package ports

import (
	"context"

	"github.com/poolgate/poolgate/internal/core/domain"
)

// LogFilter narrows a request-log listing. Nil fields mean "any".
type LogFilter struct {
	Pool    *domain.PoolType
	Success *bool
	Limit   int
	Offset  int
}

// EndpointUpdate carries the mutable endpoint attributes for the admin
// surface. Nil fields are left untouched.
type EndpointUpdate struct {
	Pool               *domain.PoolType
	Enabled            *bool
	Weight             *int
	MinIntervalSeconds *int
	ModelID            *string
}

// ProviderUpdate mirrors EndpointUpdate for providers.
type ProviderUpdate struct {
	Name      *string
	BaseURL   *string
	APIKey    *string
	APIFormat *domain.APIFormat
	Enabled   *bool
}

// PoolUpdate adjusts a pool's scheduling configuration.
type PoolUpdate struct {
	CooldownSeconds *int
	MaxRetries      *int
	TimeoutSeconds  *int
}

// GatewayStats is the persisted rollup served by the admin stats route.
type GatewayStats struct {
	TotalProviders   int            `json:"total_providers"`
	EnabledProviders int            `json:"enabled_providers"`
	TotalEndpoints   int            `json:"total_endpoints"`
	TotalRequests    int64          `json:"total_requests"`
	SuccessRequests  int64          `json:"success_requests"`
	ErrorRequests    int64          `json:"error_requests"`
	PoolEndpoints    map[string]int `json:"pool_endpoints"`
}

// Store is the persistence contract. Every operation is concurrency-safe
// and transactional at the single-call level.
type Store interface {
	// Data plane.

	// ListPoolEndpoints returns the enabled endpoints of a pool joined
	// with their enabled providers, ordered by weight descending then
	// endpoint id ascending. Endpoints whose provider is missing or
	// disabled are excluded.
	ListPoolEndpoints(ctx context.Context, pool domain.PoolType) ([]*domain.SelectedEndpoint, error)

	// GetPool returns the pool row, creating it with the configured
	// defaults on first observation.
	GetPool(ctx context.Context, pool domain.PoolType) (*domain.Pool, error)

	// IncrementEndpointStats bumps the endpoint and provider counters.
	// On success it also folds latencyMs into the incremental mean over
	// successful attempts and advances last_request_at; on failure it
	// records lastError instead.
	IncrementEndpointStats(ctx context.Context, endpointID int64, success bool, latencyMs int64, lastError string) error

	AppendRequestLog(ctx context.Context, rec *domain.RequestLog) error

	// Admin surface.

	CreateProvider(ctx context.Context, p *domain.Provider) error
	GetProvider(ctx context.Context, id int64) (*domain.Provider, error)
	ListProviders(ctx context.Context) ([]*domain.Provider, error)
	UpdateProvider(ctx context.Context, id int64, upd ProviderUpdate) (*domain.Provider, error)
	// DeleteProvider removes the provider and cascades to its endpoints.
	DeleteProvider(ctx context.Context, id int64) error

	CreateEndpoint(ctx context.Context, e *domain.Endpoint) error
	GetEndpoint(ctx context.Context, id int64) (*domain.Endpoint, error)
	// ListEndpoints returns all endpoints, optionally filtered by pool.
	ListEndpoints(ctx context.Context, pool *domain.PoolType) ([]*domain.Endpoint, error)
	// BatchCreateEndpoints inserts the given endpoints, silently skipping
	// (provider, model) pairs that already exist. Returns the number
	// actually created.
	BatchCreateEndpoints(ctx context.Context, endpoints []*domain.Endpoint) (int, error)
	UpdateEndpoint(ctx context.Context, id int64, upd EndpointUpdate) (*domain.Endpoint, error)
	DeleteEndpoint(ctx context.Context, id int64) error

	ListPools(ctx context.Context) ([]*domain.Pool, error)
	UpdatePool(ctx context.Context, pool domain.PoolType, upd PoolUpdate) (*domain.Pool, error)

	ListRequestLogs(ctx context.Context, filter LogFilter) ([]*domain.RequestLog, int64, error)
	DeleteRequestLogs(ctx context.Context) (int64, error)
	// PruneRequestLogs deletes the oldest rows beyond max, returning how
	// many were removed.
	PruneRequestLogs(ctx context.Context, max int64) (int64, error)

	Stats(ctx context.Context) (*GatewayStats, error)

	Close() error
}
