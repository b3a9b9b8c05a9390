package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"busmap/internal/store"
)

// ReadinessChecker reports whether the first dataset has loaded.
type ReadinessChecker interface {
	IsReady() bool
}

type HealthHandler struct {
	ready ReadinessChecker
	store *store.DatasetStore
}

func NewHealthHandler(ready ReadinessChecker, s *store.DatasetStore) *HealthHandler {
	return &HealthHandler{
		ready: ready,
		store: s,
	}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type ReadyResponse struct {
	Ready      bool      `json:"ready"`
	RouteCount int       `json:"routeCount"`
	Version    uint64    `json:"version"`
	ServerTime time.Time `json:"serverTime"`
}

func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ready := h.ready.IsReady()
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ReadyResponse{
		Ready:      ready,
		RouteCount: h.store.Count(),
		Version:    h.store.Version(),
		ServerTime: time.Now(),
	})
}
