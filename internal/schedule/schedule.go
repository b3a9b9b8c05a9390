// Package schedule derives rider-facing data that the feed does not carry:
// the next stop of a vehicle, its passenger load and per-stop arrival times.
// Passenger counts and arrival times come from pluggable sources; the
// defaults are random placeholders until a real feed is wired in.
package schedule

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"busmap/internal/domain"
)

// NextStop returns the position of the stop closest to the vehicle, or -1
// when the route has no stops.
func NextStop(r domain.Route) int {
	best, bestDist := -1, math.Inf(1)
	vehicle := orb.Point{r.CurrentLocation.Longitude, r.CurrentLocation.Latitude}

	for i, s := range r.Stops {
		d := geo.DistanceHaversine(vehicle, orb.Point{s.Longitude, s.Latitude})
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// NextStopName is NextStop resolved to a display label.
func NextStopName(r domain.Route) string {
	i := NextStop(r)
	if i < 0 {
		return ""
	}
	return r.Stops[i].Label(i)
}

// Utilization returns round(current/capacity*100), 0 without capacity.
func Utilization(current, capacity int) int {
	if capacity <= 0 {
		return 0
	}
	return int(math.Round(float64(current) / float64(capacity) * 100))
}

// PassengerSource reports the current load of a route's vehicle.
type PassengerSource interface {
	Passengers(r domain.Route) int
}

// RandomPassengers draws a fresh count in [0, capacity] on every call.
type RandomPassengers struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandomPassengers(rng *rand.Rand) *RandomPassengers {
	return &RandomPassengers{rng: rng}
}

func (p *RandomPassengers) Passengers(r domain.Route) int {
	if r.Capacity <= 0 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.IntN(r.Capacity + 1)
}

// FixedPassengers always reports the same count, capped at capacity.
type FixedPassengers int

func (f FixedPassengers) Passengers(r domain.Route) int {
	return min(int(f), r.Capacity)
}

// ArrivalSource produces one "HH:MM" arrival string per stop of a route.
type ArrivalSource interface {
	Arrivals(r domain.Route, now time.Time) []string
}

// RandomArrivals spaces stops 2-6 minutes apart starting 1-5 minutes from now.
type RandomArrivals struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandomArrivals(rng *rand.Rand) *RandomArrivals {
	return &RandomArrivals{rng: rng}
}

func (a *RandomArrivals) Arrivals(r domain.Route, now time.Time) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	times := make([]string, len(r.Stops))
	at := now.Add(time.Duration(1+a.rng.IntN(5)) * time.Minute)
	for i := range r.Stops {
		times[i] = at.Format("15:04")
		at = at.Add(time.Duration(2+a.rng.IntN(5)) * time.Minute)
	}
	return times
}
