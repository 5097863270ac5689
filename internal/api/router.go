package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether token auth is enforced; GET /health is
// always public. sseHandler, if non-nil, is mounted at GET /events inside
// the auth group.
func NewRouter(h *Handler, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/health", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(authEnabled, token))

		// Crawl control.
		r.Post("/crawl/start", h.StartCrawl)
		r.Post("/crawl/cancel", h.CancelCrawl)
		r.Get("/crawl/status/{id}", h.GetTask)

		// Catalog queries.
		r.Get("/agents", h.ListAgents)
		r.Get("/agents/history", h.AgentHistory)
		r.Get("/agents/statistics", h.Statistics)
		r.Get("/agents/changes", h.RankChanges)
		r.Get("/agents/search", h.SearchAgents)

		// Tasks and scheduler.
		r.Get("/tasks", h.ListTasks)
		r.Get("/tasks/scheduler/status", h.SchedulerStatus)
		r.Post("/tasks/scheduler/start", h.StartScheduler)
		r.Post("/tasks/scheduler/stop", h.StopScheduler)
		r.Put("/tasks/scheduler/config", h.UpdateSchedulerConfig)
		r.Get("/tasks/{id}", h.GetTask)

		// SSE endpoint (protected by same auth middleware).
		if sseHandler != nil {
			r.Get("/events", sseHandler.ServeHTTP)
		}
	})

	return r
}
