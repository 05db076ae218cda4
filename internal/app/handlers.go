package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/poolgate/poolgate/internal/adapter/proxy"
	"github.com/poolgate/poolgate/internal/core/constants"
	"github.com/poolgate/poolgate/internal/core/domain"
	"github.com/poolgate/poolgate/internal/core/ports"
)

// Forwarder is the slice of the proxy service the HTTP surface drives.
type Forwarder interface {
	Forward(ctx context.Context, req proxy.ForwardRequest) (*proxy.Result, error)
}

// Handlers carries the dependencies of the HTTP surface. virtualModels
// is a func so config reloads take effect without rebuilding routes.
type Handlers struct {
	forwarder     Forwarder
	store         ports.Store
	tracker       ports.CooldownTracker
	collector     ports.StatsCollector
	lister        ports.ModelLister
	virtualModels func() domain.VirtualModels
	logger        *slog.Logger
	startTime     time.Time
}

func NewHandlers(
	forwarder Forwarder,
	store ports.Store,
	tracker ports.CooldownTracker,
	collector ports.StatsCollector,
	lister ports.ModelLister,
	virtualModels func() domain.VirtualModels,
	logger *slog.Logger,
) *Handlers {
	return &Handlers{
		forwarder:     forwarder,
		store:         store,
		tracker:       tracker,
		collector:     collector,
		lister:        lister,
		virtualModels: virtualModels,
		logger:        logger.With("component", "http"),
		startTime:     time.Now(),
	}
}

// handleChat serves both POST /v1/chat/completions and POST /v1/messages.
// The upstream exchange always streams; the response is SSE regardless of
// the client's own stream flag, matching the system this gateway fronts.
func (h *Handlers) handleChat(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON")
		return
	}
	model, _ := body["model"].(string)
	if model == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "model field is required")
		return
	}

	vm := h.virtualModels()
	pool := domain.ResolvePool(model, vm)

	h.logger.Info("chat request",
		"request_id", RequestIDFromContext(r.Context()),
		"model", model,
		"pool", pool)

	result, err := h.forwarder.Forward(r.Context(), proxy.ForwardRequest{
		Pool:           pool,
		RequestedModel: model,
		Body:           body,
		Stream:         true,
	})
	if err != nil {
		status, kind := forwardErrorStatus(err)
		writeError(w, status, kind, err.Error())
		return
	}

	w.Header().Set(constants.HeaderContentType, constants.ContentTypeSSE)
	w.Header().Set(constants.HeaderCacheControl, constants.CacheControlNoCache)
	w.Header().Set(constants.HeaderConnection, constants.ConnectionKeepAlive)
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	if err := result.Stream.Pipe(r.Context(), w); err != nil {
		// Headers are long gone; the pipe already delivered the in-band
		// error event where possible.
		h.logger.Debug("stream ended with error",
			"request_id", RequestIDFromContext(r.Context()),
			"error", err)
	}
}

// forwardErrorStatus maps a forward failure onto the downstream status
// and error kind, before any bytes have been streamed. Every forward
// failure is a 502: no endpoint available, exhausted retries, and
// terminal upstream statuses alike. The upstream status survives in the
// message text (`HTTP <status>: <body>`), never as the downstream code.
func forwardErrorStatus(err error) (int, string) {
	return http.StatusBadGateway, domain.ErrorKind(err)
}

// handleModelsOpenAI lists the virtual models in the OpenAI shape.
func (h *Handlers) handleModelsOpenAI(w http.ResponseWriter, r *http.Request) {
	vm := h.virtualModels()
	type model struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Created int64  `json:"created"`
		OwnedBy string `json:"owned_by"`
	}
	data := make([]model, 0, 3)
	for _, pt := range domain.AllPoolTypes() {
		data = append(data, model{
			ID:      vm.ForPool(pt),
			Object:  "model",
			OwnedBy: constants.ServiceName,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data":   data,
	})
}

// handleModelsAnthropic lists the virtual models in the Anthropic shape.
func (h *Handlers) handleModelsAnthropic(w http.ResponseWriter, r *http.Request) {
	vm := h.virtualModels()
	type model struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
		Type        string `json:"type"`
	}
	models := make([]model, 0, 3)
	for _, pt := range domain.AllPoolTypes() {
		name := vm.ForPool(pt)
		models = append(models, model{ID: name, DisplayName: name, Type: "model"})
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": constants.ServiceName,
	})
}
