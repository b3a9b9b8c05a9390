// Package feed turns published transit documents into domain routes.
//
// Malformed entries never fail a load: a stop with a missing or out-of-range
// coordinate is dropped from its route, and a line without an id or a valid
// vehicle position is dropped entirely. Each drop is reported through the
// logger and the DropCounter so the remaining routes still render.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/go-playground/validator/v10"

	"busmap/internal/domain"
	"busmap/pkg/amanaapi"
)

var ErrNoRoutes = errors.New("feed contains no usable routes")

// Source produces the routes of one load.
type Source interface {
	Load(ctx context.Context) (*Result, error)
	// Polls reports whether every refresh should re-load. Sources that
	// don't poll are refreshed by moving the vehicles of the last load.
	Polls() bool
}

// Result is one decoded load.
type Result struct {
	Routes  []domain.Route
	Summary *domain.OperationalSummary
	Dropped int
}

// DropCounter receives the number of malformed entries per kind
// ("stop", "route").
type DropCounter interface {
	MalformedAdd(kind string, n int)
}

type Decoder struct {
	validate *validator.Validate
	drops    DropCounter
	logger   *slog.Logger
}

func NewDecoder(drops DropCounter, logger *slog.Logger) *Decoder {
	return &Decoder{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		drops:    drops,
		logger:   logger.With("component", "feed_decoder"),
	}
}

// Decode converts a document, skipping malformed entries.
func (d *Decoder) Decode(doc *amanaapi.Document) (*Result, error) {
	if doc == nil {
		return nil, ErrNoRoutes
	}

	res := &Result{Routes: make([]domain.Route, 0, len(doc.BusLines))}
	droppedStops, droppedRoutes := 0, 0

	for i, line := range doc.BusLines {
		if err := d.validate.Struct(lineHeader{ID: line.ID, CurrentLocation: line.CurrentLocation}); err != nil {
			d.logger.Warn("dropping malformed bus line", "index", i, "name", line.Name, "error", err)
			droppedRoutes++
			continue
		}
		if !finite(*line.CurrentLocation.Latitude, *line.CurrentLocation.Longitude) {
			d.logger.Warn("dropping bus line with non-finite location", "index", i, "id", *line.ID)
			droppedRoutes++
			continue
		}

		route := domain.Route{
			ID:       *line.ID,
			Name:     line.Name,
			Status:   line.Status,
			Capacity: domain.DefaultCapacity,
			Stops:    make([]domain.Stop, 0, len(line.BusStops)),
			CurrentLocation: domain.GeoPoint{
				Latitude:  *line.CurrentLocation.Latitude,
				Longitude: *line.CurrentLocation.Longitude,
			},
		}
		if route.Status == "" {
			route.Status = domain.StatusInService
		}
		if route.Name == "" {
			route.Name = fmt.Sprintf("Route %d", route.ID)
		}
		if line.Passengers != nil && line.Passengers.Capacity > 0 {
			route.Capacity = line.Passengers.Capacity
		}

		for j, stop := range line.BusStops {
			if err := d.validate.Struct(stop); err != nil || !finite(*stop.Latitude, *stop.Longitude) {
				d.logger.Warn("dropping malformed bus stop", "route_id", route.ID, "index", j, "error", err)
				droppedStops++
				continue
			}
			// unnamed stops are numbered by their place in the document,
			// so dropping a malformed stop does not renumber the rest
			s := domain.Stop{
				GeoPoint: domain.GeoPoint{Latitude: *stop.Latitude, Longitude: *stop.Longitude},
				Name:     stop.Name,
			}
			s.Name = s.Label(j)
			route.Stops = append(route.Stops, s)
		}

		res.Routes = append(res.Routes, route)
	}

	if s := doc.OperationalSummary; s != nil {
		res.Summary = &domain.OperationalSummary{
			TotalBuses:         s.TotalBuses,
			ActiveBuses:        s.ActiveBuses,
			TotalCapacity:      s.TotalCapacity,
			CurrentPassengers:  s.CurrentPassengers,
			AverageUtilization: s.AverageUtilization,
		}
	}

	res.Dropped = droppedStops + droppedRoutes
	if d.drops != nil {
		if droppedStops > 0 {
			d.drops.MalformedAdd("stop", droppedStops)
		}
		if droppedRoutes > 0 {
			d.drops.MalformedAdd("route", droppedRoutes)
		}
	}

	return res, nil
}

// lineHeader validates a bus line without descending into its stops, which
// are checked one by one so a single bad stop does not sink the route.
type lineHeader struct {
	ID              *int               `validate:"required"`
	CurrentLocation *amanaapi.Location `validate:"required"`
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
