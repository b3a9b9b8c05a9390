package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"busmap/internal/cache"
	"busmap/internal/store"
	"busmap/internal/view"
)

var errInvalidRouteID = errors.New("invalid route id")

// CacheRecorder counts frame cache lookups by result.
type CacheRecorder interface {
	CacheLookup(result string)
}

// MapHandler serves stateless map frames. A view that only needs a snapshot
// (no selection, no fit tracking) can poll it instead of holding a socket.
type MapHandler struct {
	store    *store.DatasetStore
	renderer *view.Renderer
	cache    cache.FrameCache
	ttl      time.Duration
	recorder CacheRecorder
	logger   *slog.Logger
}

// NewMapHandler accepts a nil frameCache and recorder.
func NewMapHandler(s *store.DatasetStore, renderer *view.Renderer, frameCache cache.FrameCache, ttl time.Duration, recorder CacheRecorder, logger *slog.Logger) *MapHandler {
	return &MapHandler{
		store:    s,
		renderer: renderer,
		cache:    frameCache,
		ttl:      ttl,
		recorder: recorder,
		logger:   logger.With("handler", "map"),
	}
}

func (h *MapHandler) GetMap(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	routeID, err := parseRouteFilter(r.URL.Query().Get("route"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ds := h.store.Current()
	if ds == nil {
		w.Header().Set("Retry-After", "5")
		respondError(w, http.StatusServiceUnavailable, "dataset is loading, please retry")
		return
	}

	ctx := r.Context()
	key := cache.KeyFrame(ds.Version, routeID)

	if h.cache != nil {
		var frame view.Frame
		found, err := h.cache.GetJSONCompressed(ctx, key, &frame)
		switch {
		case err != nil:
			h.record("error")
			h.logger.Warn("frame cache lookup failed", "key", key, "error", err)
		case found:
			h.record("hit")
			ServerStats.IncCacheHits()
			h.logger.Debug("GetMap cache hit", "key", key, "duration_ms", time.Since(start).Milliseconds())
			respondJSON(w, http.StatusOK, frame)
			return
		default:
			h.record("miss")
			ServerStats.IncCacheMisses()
		}
	}

	frame := h.renderer.Render(ds, routeID)

	if h.cache != nil {
		if err := h.cache.SetJSONCompressed(ctx, key, frame, h.ttl); err != nil {
			h.logger.Debug("failed to cache frame", "key", key, "error", err)
		}
	}

	h.logger.Debug("GetMap response",
		"version", ds.Version,
		"stops", frame.StopCount,
		"vehicles", frame.VehicleCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	respondJSON(w, http.StatusOK, frame)
}

func (h *MapHandler) record(result string) {
	if h.recorder != nil {
		h.recorder.CacheLookup(result)
	}
}

// parseRouteFilter reads an optional route id. Empty and "all" mean no
// filter.
func parseRouteFilter(s string) (*int, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "all") {
		return nil, nil
	}
	id, err := parseRouteID(s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func parseRouteID(s string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, errInvalidRouteID
	}
	return id, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}
