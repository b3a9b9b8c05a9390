// Package view turns a dataset into what one map view shows: the visible
// stops and vehicles for the active route filter, the box the camera fits to,
// the stop selection, and the rendered map layers.
package view

import "busmap/internal/domain"

// VisibleStop is a stop in the flattened visible sequence. Position is the
// stop's index inside its own route.
type VisibleStop struct {
	RouteID  int `json:"route_id"`
	Position int `json:"position"`
	domain.Stop
}

// State is the derived content of a view.
type State struct {
	Stops    []VisibleStop
	Vehicles []domain.Route
	// ActiveRoute is set when the filter matched a route.
	ActiveRoute *domain.Route
	Filtered    bool
}

// Derive computes the visible stops and vehicles. With no filter every
// route is visible in dataset order; a filter naming an unknown route yields
// an empty state. Stops and vehicles with invalid coordinates are skipped.
func Derive(routes []domain.Route, activeRouteID *int) State {
	st := State{Filtered: activeRouteID != nil}

	for i := range routes {
		r := routes[i]
		if activeRouteID != nil && r.ID != *activeRouteID {
			continue
		}

		for pos, s := range r.Stops {
			if !s.Valid() {
				continue
			}
			st.Stops = append(st.Stops, VisibleStop{RouteID: r.ID, Position: pos, Stop: s})
		}
		if r.CurrentLocation.Valid() {
			st.Vehicles = append(st.Vehicles, r)
		}

		if activeRouteID != nil {
			st.ActiveRoute = &r
			break
		}
	}
	return st
}

// Points returns the coordinates of the visible stops in order.
func (s State) Points() []domain.GeoPoint {
	pts := make([]domain.GeoPoint, len(s.Stops))
	for i, vs := range s.Stops {
		pts[i] = vs.GeoPoint
	}
	return pts
}

func sameStops(a, b []VisibleStop) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
