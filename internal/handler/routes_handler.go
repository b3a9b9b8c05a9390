package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"busmap/internal/domain"
	"busmap/internal/schedule"
	"busmap/internal/store"
	"busmap/internal/view"
)

type RoutesHandler struct {
	store    *store.DatasetStore
	renderer *view.Renderer
	board    *schedule.Board
	logger   *slog.Logger
}

func NewRoutesHandler(s *store.DatasetStore, renderer *view.Renderer, board *schedule.Board, logger *slog.Logger) *RoutesHandler {
	return &RoutesHandler{
		store:    s,
		renderer: renderer,
		board:    board,
		logger:   logger.With("handler", "routes"),
	}
}

// RouteButton is one entry of the route selector.
type RouteButton struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	StopCount int    `json:"stop_count"`
}

type RoutesResponse struct {
	Routes     []RouteButton              `json:"routes"`
	Count      int                        `json:"count"`
	Version    uint64                     `json:"version"`
	Summary    *domain.OperationalSummary `json:"operational_summary,omitempty"`
	ServerTime time.Time                  `json:"server_time"`
}

func (h *RoutesHandler) ListRoutes(w http.ResponseWriter, r *http.Request) {
	ds, ok := h.dataset(w, r)
	if !ok {
		return
	}

	routes := make([]RouteButton, len(ds.Routes))
	for i, route := range ds.Routes {
		routes[i] = RouteButton{
			ID:        route.ID,
			Name:      route.Name,
			Status:    route.Status,
			StopCount: len(route.Stops),
		}
	}

	h.logger.Debug("ListRoutes response", "count", len(routes), "version", ds.Version)

	respondJSON(w, http.StatusOK, RoutesResponse{
		Routes:     routes,
		Count:      len(routes),
		Version:    ds.Version,
		Summary:    ds.Summary,
		ServerTime: time.Now(),
	})
}

func (h *RoutesHandler) GetRoute(w http.ResponseWriter, r *http.Request) {
	route, ok := h.route(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, route)
}

func (h *RoutesHandler) GetVehicle(w http.ResponseWriter, r *http.Request) {
	route, ok := h.route(w, r)
	if !ok {
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	respondJSON(w, http.StatusOK, h.renderer.VehiclePopup(route))
}

type ScheduleResponse struct {
	RouteID  int            `json:"route_id"`
	Name     string         `json:"name"`
	NextStop string         `json:"next_stop"`
	Rows     []schedule.Row `json:"rows"`
}

func (h *RoutesHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	route, ok := h.route(w, r)
	if !ok {
		return
	}

	respondJSON(w, http.StatusOK, ScheduleResponse{
		RouteID:  route.ID,
		Name:     route.Name,
		NextStop: schedule.NextStopName(route),
		Rows:     h.board.Table(route),
	})
}

// dataset writes 503 while nothing is loaded and 304 when the client already
// has the current version.
func (h *RoutesHandler) dataset(w http.ResponseWriter, r *http.Request) (*domain.Dataset, bool) {
	ds := h.store.Current()
	if ds == nil {
		w.Header().Set("Retry-After", "5")
		respondError(w, http.StatusServiceUnavailable, "dataset is loading, please retry")
		return nil, false
	}

	etag := fmt.Sprintf(`"v%d"`, ds.Version)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return nil, false
	}
	w.Header().Set("ETag", etag)
	return ds, true
}

func (h *RoutesHandler) route(w http.ResponseWriter, r *http.Request) (domain.Route, bool) {
	id, err := parseRouteID(r.PathValue("id"))
	if err != nil {
		h.logger.Debug("bad route id", "id", r.PathValue("id"))
		respondError(w, http.StatusBadRequest, err.Error())
		return domain.Route{}, false
	}

	ds := h.store.Current()
	if ds == nil {
		w.Header().Set("Retry-After", "5")
		respondError(w, http.StatusServiceUnavailable, "dataset is loading, please retry")
		return domain.Route{}, false
	}

	route, ok := ds.Route(id)
	if !ok {
		respondError(w, http.StatusNotFound, "route not found")
		return domain.Route{}, false
	}
	return route, true
}
