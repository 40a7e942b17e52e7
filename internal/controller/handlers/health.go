package handlers

import (
	"net/http"

	"runtimed/pkg/api"
)

// Welcome handles GET /.
func (h *Handlers) Welcome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		h.httpError(w, "Not found", "not_found", http.StatusNotFound)
		return
	}
	h.respondJson(w, http.StatusOK, map[string]string{"message": "runtimed is running"})
}

// Healthz is a liveness probe.
// It returns 200 OK if the server is running.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	h.respondJson(w, http.StatusOK, api.HealthResponse{Status: "healthy"})
}

// Readyz is a readiness probe.
// It checks that the backing store is reachable.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Ping(r.Context()); err != nil {
		h.respondJson(w, http.StatusServiceUnavailable, api.HealthResponse{Status: "unavailable", Error: "store unavailable"})
		return
	}
	h.respondJson(w, http.StatusOK, api.HealthResponse{Status: "ready"})
}
