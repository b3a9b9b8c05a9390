package schedule

import (
	"sync"
	"time"

	"busmap/internal/domain"
)

// Row is one line of a route's schedule table.
type Row struct {
	Position   int    `json:"position"`
	Name       string `json:"name"`
	Time       string `json:"time"`
	IsNextStop bool   `json:"is_next_stop"`
}

type boardEntry struct {
	route    domain.Route
	arrivals []string
}

// Board keeps arrival times per route. Times are generated once and reused
// until the route's id, name or stops change, so they stay put while the
// vehicle moves between refreshes.
type Board struct {
	mu      sync.Mutex
	source  ArrivalSource
	now     func() time.Time
	entries map[int]boardEntry
}

func NewBoard(source ArrivalSource) *Board {
	return &Board{
		source:  source,
		now:     time.Now,
		entries: make(map[int]boardEntry),
	}
}

// Arrivals returns the cached times for r, regenerating them when the
// route's shape changed.
func (b *Board) Arrivals(r domain.Route) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.entries[r.ID]; ok && e.route.SameShape(r) {
		return e.arrivals
	}

	arrivals := b.source.Arrivals(r, b.now())
	b.entries[r.ID] = boardEntry{route: r, arrivals: arrivals}
	return arrivals
}

// Table builds the schedule rows, marking the vehicle's next stop.
func (b *Board) Table(r domain.Route) []Row {
	arrivals := b.Arrivals(r)
	next := NextStop(r)

	rows := make([]Row, len(r.Stops))
	for i, s := range r.Stops {
		rows[i] = Row{
			Position:   i,
			Name:       s.Label(i),
			IsNextStop: i == next,
		}
		if i < len(arrivals) {
			rows[i].Time = arrivals[i]
		}
	}
	return rows
}

// Retain drops entries for routes that are no longer in the dataset.
func (b *Board) Retain(ds *domain.Dataset) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id := range b.entries {
		if _, ok := ds.Route(id); !ok {
			delete(b.entries, id)
		}
	}
}
