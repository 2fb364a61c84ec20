package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/nto-labs/agentforce-portal/internal/store"
)

// HealthHandler reports service liveness including database reachability.
type HealthHandler struct {
	repo store.Repository
}

// NewHealthHandler creates the health handler.
func NewHealthHandler(repo store.Repository) *HealthHandler {
	return &HealthHandler{repo: repo}
}

// RegisterRoutes registers the health route (unauthenticated).
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/health", h.HandleHealth)
}

// HandleHealth returns 200 when the database responds, 503 otherwise.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		JSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  "database unreachable",
		})
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
