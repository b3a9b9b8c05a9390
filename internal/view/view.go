package view

import (
	"errors"
	"sync"

	"busmap/internal/domain"
)

var ErrStopOutOfRange = errors.New("stop index out of range")

// View is the state of one mounted map view: the route filter it shows, the
// selected stop and the point set the camera was last fitted to.
//
// The selection always refers to a member of the current visible stop
// sequence. It is cleared whenever the filter changes or a new dataset
// changes the visible stops.
type View struct {
	ID string

	mu            sync.Mutex
	renderer      *Renderer
	activeRouteID *int
	selection     Selection
	visible       []VisibleStop
	fitted        []domain.GeoPoint
	hasFitted     bool
}

func New(id string, renderer *Renderer) *View {
	return &View{ID: id, renderer: renderer}
}

// SetFilter switches the route filter (nil shows all routes) and renders.
func (v *View) SetFilter(ds *domain.Dataset, routeID *int) Frame {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !sameFilter(v.activeRouteID, routeID) {
		v.selection = Selection{}
	}
	if routeID != nil {
		id := *routeID
		routeID = &id
	}
	v.activeRouteID = routeID
	return v.render(ds)
}

// Render recomputes the view for ds. The returned frame carries a Fit only
// when the visible point set differs from the one last fitted, so user pans
// between changes are left alone.
func (v *View) Render(ds *domain.Dataset) Frame {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.render(ds)
}

func (v *View) render(ds *domain.Dataset) Frame {
	st := Derive(routesOf(ds), v.activeRouteID)

	if !sameStops(v.visible, st.Stops) {
		v.selection = Selection{}
	}
	v.visible = st.Stops

	points := st.Points()
	fit := !v.hasFitted || !samePoints(points, v.fitted)
	if fit {
		v.fitted = points
		v.hasFitted = true
	}

	return v.renderer.frame(ds, v.activeRouteID, st, v.selection, fit)
}

// ToggleStop handles a click on the stop marker at index i of the visible
// sequence and returns the markers whose icon changed.
func (v *View) ToggleStop(i int) ([]MarkerPatch, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if i < 0 || i >= len(v.visible) {
		return nil, ErrStopOutOfRange
	}

	prev := v.selection
	v.selection = prev.Toggle(i)

	var patches []MarkerPatch
	if j, ok := prev.Index(); ok && j != i {
		patches = append(patches, stopPatch(j, false))
	}
	patches = append(patches, stopPatch(i, v.selection.Is(i)))
	return patches, nil
}

// Selection returns the current stop selection.
func (v *View) Selection() Selection {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.selection
}

func (v *View) ActiveRouteID() *int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.activeRouteID == nil {
		return nil
	}
	id := *v.activeRouteID
	return &id
}

func sameFilter(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
