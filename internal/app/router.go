package app

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// newRouter assembles the full route tree: the inference surface under
// /v1, health, and the management API under /admin.
func newRouter(h *Handlers, logger *slog.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(recoverer(logger))
	r.Use(accessLog(logger))
	r.Use(cors.Handler(cors.Options{
		// The management UI is served from a different origin.
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	r.Get("/health", h.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat/completions", h.handleChat)
		r.Get("/models", h.handleModelsOpenAI)

		r.Route("/messages", func(r chi.Router) {
			r.Post("/", h.handleChat)
			r.Get("/models", h.handleModelsAnthropic)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Route("/providers", func(r chi.Router) {
			r.Get("/", h.handleListProviders)
			r.Post("/", h.handleCreateProvider)
			r.Put("/{id}", h.handleUpdateProvider)
			r.Delete("/{id}", h.handleDeleteProvider)
			r.Post("/{id}/fetch-models", h.handleFetchModels)
		})

		r.Route("/endpoints", func(r chi.Router) {
			r.Get("/", h.handleListEndpoints)
			r.Post("/", h.handleCreateEndpoint)
			r.Post("/batch", h.handleBatchCreateEndpoints)
			r.Put("/{id}", h.handleUpdateEndpoint)
			r.Delete("/{id}", h.handleDeleteEndpoint)
		})

		r.Route("/pools", func(r chi.Router) {
			r.Get("/", h.handleListPools)
			r.Put("/{pool_type}", h.handleUpdatePool)
		})

		r.Route("/logs", func(r chi.Router) {
			r.Get("/", h.handleListLogs)
			r.Delete("/", h.handleDeleteLogs)
		})

		r.Get("/stats", h.handleStats)

		r.Route("/cooldowns", func(r chi.Router) {
			r.Get("/", h.handleListCooldowns)
			r.Delete("/", h.handleClearAllCooldowns)
			r.Delete("/{endpoint_id}", h.handleClearCooldown)
		})
	})

	return r
}
