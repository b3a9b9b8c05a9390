package domain

import (
	"math/rand/v2"
	"strconv"
	"time"
)

const (
	StatusInService = "In Service"

	DefaultCapacity = 40
)

// Stop is a waypoint on a route. It has no identity of its own: it is
// addressed by its position in the owning route's stop sequence.
type Stop struct {
	GeoPoint
	Name string `json:"name,omitempty"`
}

// Label returns the display name, falling back to "Stop N" where N is the
// 1-indexed position within the route.
func (s Stop) Label(pos int) string {
	if s.Name != "" {
		return s.Name
	}
	return "Stop " + strconv.Itoa(pos+1)
}

// Route is a named ordered sequence of stops plus one live vehicle position.
type Route struct {
	ID              int      `json:"id"`
	Name            string   `json:"name"`
	Status          string   `json:"status"`
	Capacity        int      `json:"capacity"`
	Stops           []Stop   `json:"bus_stops"`
	CurrentLocation GeoPoint `json:"current_location"`
}

// SameShape reports whether two routes agree on everything except the
// vehicle position.
func (r Route) SameShape(o Route) bool {
	if r.ID != o.ID || r.Name != o.Name || len(r.Stops) != len(o.Stops) {
		return false
	}
	for i := range r.Stops {
		if r.Stops[i] != o.Stops[i] {
			return false
		}
	}
	return true
}

func (r Route) clone() Route {
	c := r
	c.Stops = append([]Stop(nil), r.Stops...)
	return c
}

// OperationalSummary is informational data passed through from the feed.
type OperationalSummary struct {
	TotalBuses         int     `json:"total_buses"`
	ActiveBuses        int     `json:"active_buses"`
	TotalCapacity      int     `json:"total_capacity"`
	CurrentPassengers  int     `json:"current_passengers"`
	AverageUtilization float64 `json:"average_utilization"`
}

// Dataset is an immutable snapshot of all routes. Refreshes build a new
// Dataset rather than editing one in place.
type Dataset struct {
	Version  uint64              `json:"version"`
	Routes   []Route             `json:"routes"`
	Summary  *OperationalSummary `json:"operational_summary,omitempty"`
	LoadedAt time.Time           `json:"loaded_at"`

	byID map[int]int
}

// NewDataset builds a dataset keeping input order. When ids repeat, the
// first route wins. The dropped ids are returned.
func NewDataset(version uint64, routes []Route, summary *OperationalSummary) (*Dataset, []int) {
	ds := &Dataset{
		Version:  version,
		Routes:   make([]Route, 0, len(routes)),
		Summary:  summary,
		LoadedAt: time.Now(),
		byID:     make(map[int]int, len(routes)),
	}

	var dupes []int
	for _, r := range routes {
		if _, exists := ds.byID[r.ID]; exists {
			dupes = append(dupes, r.ID)
			continue
		}
		ds.byID[r.ID] = len(ds.Routes)
		ds.Routes = append(ds.Routes, r.clone())
	}
	return ds, dupes
}

// Route looks a route up by id.
func (d *Dataset) Route(id int) (Route, bool) {
	if d == nil {
		return Route{}, false
	}
	i, ok := d.byID[id]
	if !ok {
		return Route{}, false
	}
	return d.Routes[i], true
}

func (d *Dataset) RouteIDs() []int {
	if d == nil {
		return nil
	}
	ids := make([]int, len(d.Routes))
	for i, r := range d.Routes {
		ids[i] = r.ID
	}
	return ids
}

// Len is safe on a nil dataset.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Routes)
}

// WithVersion returns a copy of the dataset stamped with version.
func (d *Dataset) WithVersion(version uint64) *Dataset {
	c := *d
	c.Version = version
	return &c
}

// Perturb returns the next dataset in which every vehicle has moved by up to
// maxDelta degrees on each axis. Ids, names and stop sequences are kept.
func (d *Dataset) Perturb(rng *rand.Rand, maxDelta float64) *Dataset {
	routes := make([]Route, len(d.Routes))
	for i, r := range d.Routes {
		moved := r.clone()
		moved.CurrentLocation = GeoPoint{
			Latitude:  clamp(r.CurrentLocation.Latitude+jitter(rng, maxDelta), -90, 90),
			Longitude: clamp(r.CurrentLocation.Longitude+jitter(rng, maxDelta), -180, 180),
		}
		routes[i] = moved
	}

	next, _ := NewDataset(d.Version+1, routes, d.Summary)
	return next
}

func jitter(rng *rand.Rand, maxDelta float64) float64 {
	if maxDelta <= 0 {
		return 0
	}
	return (rng.Float64()*2 - 1) * maxDelta
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
