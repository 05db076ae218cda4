package app

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/poolgate/poolgate/internal/core/domain"
	"github.com/poolgate/poolgate/internal/core/ports"
	"github.com/poolgate/poolgate/pkg/nerdstats"
)

// maskKey hides all but a short prefix of a credential in admin output.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:8] + "***"
}

func maskedProvider(p *domain.Provider) *domain.Provider {
	cp := *p
	cp.APIKey = maskKey(cp.APIKey)
	return &cp
}

func idParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// ---- providers ----

type providerRequest struct {
	Name      *string `json:"name"`
	BaseURL   *string `json:"base_url"`
	APIKey    *string `json:"api_key"`
	APIFormat *string `json:"api_format"`
	Enabled   *bool   `json:"enabled"`
}

func (h *Handlers) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.store.ListProviders(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	out := make([]*domain.Provider, 0, len(providers))
	for _, p := range providers {
		out = append(out, maskedProvider(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": out})
}

func (h *Handlers) handleCreateProvider(w http.ResponseWriter, r *http.Request) {
	var req providerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON")
		return
	}
	if req.Name == nil || *req.Name == "" || req.BaseURL == nil || *req.BaseURL == "" ||
		req.APIKey == nil || *req.APIKey == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "name, base_url and api_key are required")
		return
	}

	format := domain.FormatOpenAI
	if req.APIFormat != nil {
		parsed, err := domain.ParseAPIFormat(*req.APIFormat)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		format = parsed
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	p := &domain.Provider{
		Name:      *req.Name,
		BaseURL:   *req.BaseURL,
		APIKey:    *req.APIKey,
		APIFormat: format,
		Enabled:   enabled,
	}
	if err := h.store.CreateProvider(r.Context(), p); err != nil {
		writeError(w, http.StatusConflict, "invalid_request", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, maskedProvider(p))
}

func (h *Handlers) handleUpdateProvider(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid provider id")
		return
	}
	var req providerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON")
		return
	}

	upd := ports.ProviderUpdate{
		Name:    req.Name,
		BaseURL: req.BaseURL,
		APIKey:  req.APIKey,
		Enabled: req.Enabled,
	}
	if req.APIFormat != nil {
		format, err := domain.ParseAPIFormat(*req.APIFormat)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		upd.APIFormat = &format
	}

	p, err := h.store.UpdateProvider(r.Context(), id, upd)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, maskedProvider(p))
}

func (h *Handlers) handleDeleteProvider(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid provider id")
		return
	}
	if err := h.store.DeleteProvider(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handleFetchModels(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid provider id")
		return
	}
	p, err := h.store.GetProvider(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	models, err := h.lister.ListModels(r.Context(), p.BaseURL, p.APIKey, p.APIFormat)
	if err != nil {
		writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

// ---- endpoints ----

type endpointRequest struct {
	ProviderID         *int64  `json:"provider_id"`
	ModelID            *string `json:"model_id"`
	Pool               *string `json:"pool"`
	Enabled            *bool   `json:"enabled"`
	Weight             *int    `json:"weight"`
	MinIntervalSeconds *int    `json:"min_interval_seconds"`
}

func (req *endpointRequest) toEndpoint() (*domain.Endpoint, error) {
	e := &domain.Endpoint{Enabled: true, Weight: 1}
	if req.ProviderID != nil {
		e.ProviderID = *req.ProviderID
	}
	if req.ModelID != nil {
		e.ModelID = *req.ModelID
	}
	if req.Pool != nil {
		pool, err := domain.ParsePoolType(*req.Pool)
		if err != nil {
			return nil, err
		}
		e.Pool = pool
	}
	if req.Enabled != nil {
		e.Enabled = *req.Enabled
	}
	if req.Weight != nil {
		e.Weight = *req.Weight
	}
	if req.MinIntervalSeconds != nil {
		e.MinIntervalSeconds = *req.MinIntervalSeconds
	}
	return e, nil
}

func (h *Handlers) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	var pool *domain.PoolType
	if raw := r.URL.Query().Get("pool"); raw != "" {
		parsed, err := domain.ParsePoolType(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		pool = &parsed
	}
	endpoints, err := h.store.ListEndpoints(r.Context(), pool)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"endpoints": endpoints})
}

func (h *Handlers) handleCreateEndpoint(w http.ResponseWriter, r *http.Request) {
	var req endpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON")
		return
	}
	if req.ProviderID == nil || req.ModelID == nil || *req.ModelID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "provider_id and model_id are required")
		return
	}
	e, err := req.toEndpoint()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := h.store.CreateEndpoint(r.Context(), e); err != nil {
		writeError(w, http.StatusConflict, "invalid_request", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *Handlers) handleBatchCreateEndpoints(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Endpoints []endpointRequest `json:"endpoints"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON")
		return
	}
	if len(req.Endpoints) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "endpoints must not be empty")
		return
	}

	batch := make([]*domain.Endpoint, 0, len(req.Endpoints))
	for _, er := range req.Endpoints {
		if er.ProviderID == nil || er.ModelID == nil || *er.ModelID == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "provider_id and model_id are required for every endpoint")
			return
		}
		e, err := er.toEndpoint()
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		batch = append(batch, e)
	}

	created, err := h.store.BatchCreateEndpoints(r.Context(), batch)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"created": created,
		"skipped": len(batch) - created,
	})
}

func (h *Handlers) handleUpdateEndpoint(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid endpoint id")
		return
	}
	var req endpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON")
		return
	}

	upd := ports.EndpointUpdate{
		Enabled:            req.Enabled,
		Weight:             req.Weight,
		MinIntervalSeconds: req.MinIntervalSeconds,
		ModelID:            req.ModelID,
	}
	if req.Pool != nil {
		pool, err := domain.ParsePoolType(*req.Pool)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		upd.Pool = &pool
	}

	e, err := h.store.UpdateEndpoint(r.Context(), id, upd)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handlers) handleDeleteEndpoint(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid endpoint id")
		return
	}
	if err := h.store.DeleteEndpoint(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- pools ----

func (h *Handlers) handleListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := h.store.ListPools(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pools": pools})
}

func (h *Handlers) handleUpdatePool(w http.ResponseWriter, r *http.Request) {
	pool, err := domain.ParsePoolType(chi.URLParam(r, "pool_type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	var req struct {
		CooldownSeconds *int `json:"cooldown_seconds"`
		MaxRetries      *int `json:"max_retries"`
		TimeoutSeconds  *int `json:"timeout_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON")
		return
	}
	if req.CooldownSeconds != nil && *req.CooldownSeconds < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "cooldown_seconds must not be negative")
		return
	}

	p, err := h.store.UpdatePool(r.Context(), pool, ports.PoolUpdate{
		CooldownSeconds: req.CooldownSeconds,
		MaxRetries:      req.MaxRetries,
		TimeoutSeconds:  req.TimeoutSeconds,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ---- logs ----

func (h *Handlers) handleListLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ports.LogFilter{Limit: 100}
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			filter.Offset = n
		}
	}
	if raw := q.Get("pool"); raw != "" {
		pool, err := domain.ParsePoolType(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		filter.Pool = &pool
	}
	if raw := q.Get("success"); raw != "" {
		success, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "success must be true or false")
			return
		}
		filter.Success = &success
	}

	logs, total, err := h.store.ListRequestLogs(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"logs":   logs,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func (h *Handlers) handleDeleteLogs(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.store.DeleteRequestLogs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

// ---- stats ----

func (h *Handlers) handleStats(w http.ResponseWriter, r *http.Request) {
	dbStats, err := h.store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"database": dbStats,
		"process": map[string]any{
			"global":    h.collector.GlobalSnapshot(),
			"endpoints": h.collector.Snapshot(),
		},
		"runtime": nerdstats.Snapshot(h.startTime),
	})
}

// ---- cooldowns ----

func (h *Handlers) handleListCooldowns(w http.ResponseWriter, r *http.Request) {
	snapshot := h.tracker.Snapshot()
	type parked struct {
		EndpointID       int64 `json:"endpoint_id"`
		RemainingSeconds int64 `json:"remaining_seconds"`
	}
	cooldowns := make([]parked, 0, len(snapshot))
	for id, remaining := range snapshot {
		cooldowns = append(cooldowns, parked{
			EndpointID: id,
			// Whole seconds, rounded up: a 0.9s remainder is still parked.
			RemainingSeconds: int64(math.Ceil(remaining.Seconds())),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"cooldowns": cooldowns})
}

func (h *Handlers) handleClearCooldown(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "endpoint_id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid endpoint id")
		return
	}
	h.tracker.Clear(id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handleClearAllCooldowns(w http.ResponseWriter, r *http.Request) {
	h.tracker.ClearAll()
	w.WriteHeader(http.StatusNoContent)
}
