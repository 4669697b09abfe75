package handlers

import (
	"net/http"

	"deployplane/internal/logger"
	"deployplane/internal/service"
)

type healthResponse struct {
	Status         string `json:"status"`
	HealthyRunners *int   `json:"healthyRunners,omitempty"`
}

// Healthz answers as long as the process serves HTTP.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, healthResponse{Status: "healthy"})
}

// Readyz fails while the job store is unreachable. It also reports how many
// runners polled recently, which is informational only: a control plane with
// no runners still accepts jobs.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		logger.FromContext(r.Context(), h.Logger).Warn("readiness check failed", "error", err)
		h.httpError(w, "job store unavailable", "unavailable", http.StatusServiceUnavailable)
		return
	}

	res := healthResponse{Status: "ready"}
	if h.Runners != nil {
		n := 0
		for _, s := range h.Runners.List() {
			if s.Health == service.RunnerHealthy {
				n++
			}
		}
		res.HealthyRunners = &n
	}
	h.respondJSON(w, http.StatusOK, res)
}
