package sqlite

import (
	"context"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/poolgate/poolgate/internal/core/domain"
	"github.com/poolgate/poolgate/internal/core/ports"
)

func testDefaults() Defaults {
	return Defaults{
		VirtualModels: domain.VirtualModels{
			Tool:     "haiku",
			Normal:   "sonnet",
			Advanced: "opus",
		},
		CooldownSeconds: 60,
		MaxRetries:      3,
		TimeoutSeconds:  60,
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.db")
	s, err := New(path, testDefaults(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustCreateProvider(t *testing.T, s *Store, name string, format domain.APIFormat, enabled bool) *domain.Provider {
	t.Helper()
	p := &domain.Provider{
		Name:      name,
		BaseURL:   "https://" + name + ".example.com/v1",
		APIKey:    "sk-" + name,
		APIFormat: format,
		Enabled:   enabled,
	}
	if err := s.CreateProvider(context.Background(), p); err != nil {
		t.Fatalf("CreateProvider(%s): %v", name, err)
	}
	return p
}

func mustCreateEndpoint(t *testing.T, s *Store, providerID int64, model string, pool domain.PoolType, weight int) *domain.Endpoint {
	t.Helper()
	e := &domain.Endpoint{
		ProviderID: providerID,
		ModelID:    model,
		Pool:       pool,
		Enabled:    true,
		Weight:     weight,
	}
	if err := s.CreateEndpoint(context.Background(), e); err != nil {
		t.Fatalf("CreateEndpoint(%s): %v", model, err)
	}
	return e
}

func TestNormaliseDSN(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{"sqlite:///data/gateway.db", "/data/gateway.db"},
		{"sqlite://data/gateway.db", "data/gateway.db"},
		{"sqlite:gateway.db", "gateway.db"},
		{"/var/lib/gateway.db", "/var/lib/gateway.db"},
		{"gateway.db", "gateway.db"},
	}
	for _, tt := range tests {
		if got := normaliseDSN(tt.dsn); got != tt.want {
			t.Errorf("normaliseDSN(%q) = %q, want %q", tt.dsn, got, tt.want)
		}
	}
}

func TestGetPoolAutoCreatesWithDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.GetPool(ctx, domain.PoolAdvanced)
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if p.VirtualModelName != "opus" {
		t.Errorf("VirtualModelName = %q, want opus", p.VirtualModelName)
	}
	if p.CooldownSeconds != 60 || p.MaxRetries != 3 || p.TimeoutSeconds != 60 {
		t.Errorf("defaults not applied: %+v", p)
	}

	// Second read returns the same row.
	again, err := s.GetPool(ctx, domain.PoolAdvanced)
	if err != nil {
		t.Fatalf("GetPool again: %v", err)
	}
	if again.ID != p.ID {
		t.Errorf("pool recreated: id %d then %d", p.ID, again.ID)
	}
}

func TestListPoolsSeedsAllThree(t *testing.T) {
	s := newTestStore(t)

	pools, err := s.ListPools(context.Background())
	if err != nil {
		t.Fatalf("ListPools: %v", err)
	}
	if len(pools) != 3 {
		t.Fatalf("got %d pools, want 3", len(pools))
	}
}

func TestListPoolEndpointsFiltersAndOrders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	active := mustCreateProvider(t, s, "active", domain.FormatOpenAI, true)
	disabled := mustCreateProvider(t, s, "disabled", domain.FormatAnthropic, false)

	light := mustCreateEndpoint(t, s, active.ID, "model-light", domain.PoolNormal, 1)
	heavy := mustCreateEndpoint(t, s, active.ID, "model-heavy", domain.PoolNormal, 5)
	mustCreateEndpoint(t, s, disabled.ID, "model-hidden", domain.PoolNormal, 9)
	mustCreateEndpoint(t, s, active.ID, "model-other-pool", domain.PoolTool, 1)

	off := mustCreateEndpoint(t, s, active.ID, "model-off", domain.PoolNormal, 2)
	enabled := false
	if _, err := s.UpdateEndpoint(ctx, off.ID, ports.EndpointUpdate{Enabled: &enabled}); err != nil {
		t.Fatalf("UpdateEndpoint: %v", err)
	}

	got, err := s.ListPoolEndpoints(ctx, domain.PoolNormal)
	if err != nil {
		t.Fatalf("ListPoolEndpoints: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d endpoints, want 2", len(got))
	}
	if got[0].EndpointID != heavy.ID || got[1].EndpointID != light.ID {
		t.Errorf("order = [%d %d], want weight-descending [%d %d]",
			got[0].EndpointID, got[1].EndpointID, heavy.ID, light.ID)
	}
	if got[0].ProviderName != "active" || got[0].APIKey != "sk-active" {
		t.Errorf("provider join wrong: %+v", got[0])
	}
	if got[0].Format != domain.FormatOpenAI {
		t.Errorf("Format = %q", got[0].Format)
	}
}

func TestIncrementEndpointStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	prov := mustCreateProvider(t, s, "p", domain.FormatOpenAI, true)
	ep := mustCreateEndpoint(t, s, prov.ID, "m", domain.PoolNormal, 1)

	if err := s.IncrementEndpointStats(ctx, ep.ID, true, 100, ""); err != nil {
		t.Fatalf("IncrementEndpointStats: %v", err)
	}
	if err := s.IncrementEndpointStats(ctx, ep.ID, true, 300, ""); err != nil {
		t.Fatalf("IncrementEndpointStats: %v", err)
	}
	if err := s.IncrementEndpointStats(ctx, ep.ID, false, 0, "HTTP 503: overloaded"); err != nil {
		t.Fatalf("IncrementEndpointStats: %v", err)
	}

	e, err := s.GetEndpoint(ctx, ep.ID)
	if err != nil {
		t.Fatalf("GetEndpoint: %v", err)
	}
	if e.TotalRequests != 3 || e.SuccessRequests != 2 || e.ErrorRequests != 1 {
		t.Errorf("counters = %d/%d/%d, want 3/2/1",
			e.TotalRequests, e.SuccessRequests, e.ErrorRequests)
	}
	// Mean over the two successes only: (100+300)/2.
	if math.Abs(e.AvgLatencyMs-200) > 0.01 {
		t.Errorf("AvgLatencyMs = %f, want 200", e.AvgLatencyMs)
	}
	if e.LastRequestAt == nil {
		t.Error("LastRequestAt not set after success")
	}
	if e.LastError != "HTTP 503: overloaded" {
		t.Errorf("LastError = %q", e.LastError)
	}

	p, err := s.GetProvider(ctx, prov.ID)
	if err != nil {
		t.Fatalf("GetProvider: %v", err)
	}
	if p.TotalRequests != 3 || p.SuccessRequests != 2 || p.ErrorRequests != 1 {
		t.Errorf("provider rollup = %d/%d/%d, want 3/2/1",
			p.TotalRequests, p.SuccessRequests, p.ErrorRequests)
	}
}

func TestIncrementStatsFailureLeavesLastRequestAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	prov := mustCreateProvider(t, s, "p", domain.FormatOpenAI, true)
	ep := mustCreateEndpoint(t, s, prov.ID, "m", domain.PoolNormal, 1)

	if err := s.IncrementEndpointStats(ctx, ep.ID, false, 0, "timeout"); err != nil {
		t.Fatalf("IncrementEndpointStats: %v", err)
	}
	e, _ := s.GetEndpoint(ctx, ep.ID)
	if e.LastRequestAt != nil {
		t.Error("failure must not advance LastRequestAt")
	}
	if e.AvgLatencyMs != 0 {
		t.Errorf("failure skewed latency mean: %f", e.AvgLatencyMs)
	}
}

func TestProviderCascadeDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	prov := mustCreateProvider(t, s, "p", domain.FormatOpenAI, true)
	mustCreateEndpoint(t, s, prov.ID, "m1", domain.PoolNormal, 1)
	mustCreateEndpoint(t, s, prov.ID, "m2", domain.PoolTool, 1)

	if err := s.DeleteProvider(ctx, prov.ID); err != nil {
		t.Fatalf("DeleteProvider: %v", err)
	}
	eps, err := s.ListEndpoints(ctx, nil)
	if err != nil {
		t.Fatalf("ListEndpoints: %v", err)
	}
	if len(eps) != 0 {
		t.Errorf("cascade left %d endpoints", len(eps))
	}
	if _, err := s.GetProvider(ctx, prov.ID); err == nil {
		t.Error("deleted provider still readable")
	}
}

func TestBatchCreateEndpointsSkipsDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	prov := mustCreateProvider(t, s, "p", domain.FormatOpenAI, true)
	mustCreateEndpoint(t, s, prov.ID, "existing", domain.PoolNormal, 1)

	created, err := s.BatchCreateEndpoints(ctx, []*domain.Endpoint{
		{ProviderID: prov.ID, ModelID: "existing", Pool: domain.PoolNormal, Enabled: true, Weight: 1},
		{ProviderID: prov.ID, ModelID: "fresh-a", Pool: domain.PoolTool, Enabled: true, Weight: 2},
		{ProviderID: prov.ID, ModelID: "fresh-b", Pool: domain.PoolAdvanced, Enabled: true, Weight: 1},
	})
	if err != nil {
		t.Fatalf("BatchCreateEndpoints: %v", err)
	}
	if created != 2 {
		t.Errorf("created = %d, want 2", created)
	}
	eps, _ := s.ListEndpoints(ctx, nil)
	if len(eps) != 3 {
		t.Errorf("total endpoints = %d, want 3", len(eps))
	}
}

func TestUpdateEndpointPartial(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	prov := mustCreateProvider(t, s, "p", domain.FormatOpenAI, true)
	ep := mustCreateEndpoint(t, s, prov.ID, "m", domain.PoolNormal, 1)

	weight := 7
	pool := domain.PoolAdvanced
	got, err := s.UpdateEndpoint(ctx, ep.ID, ports.EndpointUpdate{Weight: &weight, Pool: &pool})
	if err != nil {
		t.Fatalf("UpdateEndpoint: %v", err)
	}
	if got.Weight != 7 || got.Pool != domain.PoolAdvanced {
		t.Errorf("update not applied: %+v", got)
	}
	if got.ModelID != "m" || !got.Enabled {
		t.Errorf("untouched fields changed: %+v", got)
	}

	if _, err := s.UpdateEndpoint(ctx, 9999, ports.EndpointUpdate{Weight: &weight}); err == nil {
		t.Error("updating a missing endpoint should fail")
	}
}

func TestUpdatePool(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cooldown := 0
	timeout := 120
	p, err := s.UpdatePool(ctx, domain.PoolTool, ports.PoolUpdate{
		CooldownSeconds: &cooldown,
		TimeoutSeconds:  &timeout,
	})
	if err != nil {
		t.Fatalf("UpdatePool: %v", err)
	}
	if p.CooldownSeconds != 0 || p.TimeoutSeconds != 120 {
		t.Errorf("update not applied: %+v", p)
	}
	if p.MaxRetries != 3 {
		t.Errorf("untouched MaxRetries changed: %d", p.MaxRetries)
	}
}

func TestRequestLogLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := int64(10)
	out := int64(25)
	for i := 0; i < 5; i++ {
		rec := &domain.RequestLog{
			Pool:           domain.PoolNormal,
			RequestedModel: "sonnet",
			ActualModel:    "concrete",
			ProviderName:   "p",
			Success:        i%2 == 0,
			StatusCode:     200,
			LatencyMs:      int64(100 + i),
			InputTokens:    &in,
			OutputTokens:   &out,
			CreatedAt:      time.Now(),
		}
		if err := s.AppendRequestLog(ctx, rec); err != nil {
			t.Fatalf("AppendRequestLog: %v", err)
		}
		if rec.ID == 0 {
			t.Fatal("ID not assigned")
		}
	}
	s.AppendRequestLog(ctx, &domain.RequestLog{
		Pool: domain.PoolTool, RequestedModel: "haiku", ActualModel: "haiku",
		ProviderName: "p", Success: false, ErrorMessage: "HTTP 503: busy",
	})

	logs, total, err := s.ListRequestLogs(ctx, ports.LogFilter{})
	if err != nil {
		t.Fatalf("ListRequestLogs: %v", err)
	}
	if total != 6 || len(logs) != 6 {
		t.Fatalf("total = %d len = %d, want 6/6", total, len(logs))
	}
	// Newest first.
	if logs[0].Pool != domain.PoolTool {
		t.Errorf("logs[0].Pool = %q, want tool", logs[0].Pool)
	}
	if logs[0].ErrorMessage != "HTTP 503: busy" {
		t.Errorf("ErrorMessage = %q", logs[0].ErrorMessage)
	}
	if logs[1].InputTokens == nil || *logs[1].InputTokens != 10 {
		t.Errorf("InputTokens = %v", logs[1].InputTokens)
	}

	pool := domain.PoolNormal
	success := true
	logs, total, err = s.ListRequestLogs(ctx, ports.LogFilter{Pool: &pool, Success: &success, Limit: 2})
	if err != nil {
		t.Fatalf("filtered ListRequestLogs: %v", err)
	}
	if total != 3 || len(logs) != 2 {
		t.Errorf("filtered total = %d len = %d, want 3/2", total, len(logs))
	}

	pruned, err := s.PruneRequestLogs(ctx, 2)
	if err != nil {
		t.Fatalf("PruneRequestLogs: %v", err)
	}
	if pruned != 4 {
		t.Errorf("pruned = %d, want 4", pruned)
	}
	_, total, _ = s.ListRequestLogs(ctx, ports.LogFilter{})
	if total != 2 {
		t.Errorf("rows after prune = %d, want 2", total)
	}

	deleted, err := s.DeleteRequestLogs(ctx)
	if err != nil {
		t.Fatalf("DeleteRequestLogs: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustCreateProvider(t, s, "a", domain.FormatOpenAI, true)
	mustCreateProvider(t, s, "b", domain.FormatAnthropic, false)
	mustCreateEndpoint(t, s, a.ID, "m1", domain.PoolNormal, 1)
	mustCreateEndpoint(t, s, a.ID, "m2", domain.PoolNormal, 1)
	ep := mustCreateEndpoint(t, s, a.ID, "m3", domain.PoolTool, 1)

	s.IncrementEndpointStats(ctx, ep.ID, true, 50, "")
	s.IncrementEndpointStats(ctx, ep.ID, false, 0, "boom")

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalProviders != 2 || stats.EnabledProviders != 1 {
		t.Errorf("providers = %d/%d, want 2/1", stats.TotalProviders, stats.EnabledProviders)
	}
	if stats.TotalEndpoints != 3 {
		t.Errorf("TotalEndpoints = %d", stats.TotalEndpoints)
	}
	if stats.TotalRequests != 2 || stats.SuccessRequests != 1 || stats.ErrorRequests != 1 {
		t.Errorf("rollup = %d/%d/%d", stats.TotalRequests, stats.SuccessRequests, stats.ErrorRequests)
	}
	if stats.PoolEndpoints["normal"] != 2 || stats.PoolEndpoints["tool"] != 1 {
		t.Errorf("PoolEndpoints = %v", stats.PoolEndpoints)
	}
}
