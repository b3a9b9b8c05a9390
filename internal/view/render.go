package view

import (
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"busmap/internal/camera"
	"busmap/internal/domain"
	"busmap/internal/schedule"
)

const (
	TitleAllRoutes = "All Bus Routes"
	TitleNoMatch   = "No matching route"

	IconStop         = "stop"
	IconStopSelected = "stop-selected"
	IconBus          = "bus"

	KindRouteLine = "route_line"
	KindStop      = "stop"
	KindVehicle   = "vehicle"

	routeLineColor   = "#3b82f6"
	routeLineWeight  = 4
	routeLineOpacity = 0.8
)

var iconSizes = map[string][2]int{
	IconStop:         {12, 12},
	IconStopSelected: {16, 16},
	IconBus:          {30, 30},
}

// Frame is one render pass of a view.
type Frame struct {
	Version       uint64                     `json:"version"`
	Title         string                     `json:"title"`
	ActiveRouteID *int                       `json:"active_route_id"`
	SelectedStop  *int                       `json:"selected_stop"`
	TileLayer     camera.TileLayer           `json:"tile_layer"`
	Fit           *Fit                       `json:"fit,omitempty"`
	Layers        *geojson.FeatureCollection `json:"layers"`
	StopCount     int                        `json:"stop_count"`
	VehicleCount  int                        `json:"vehicle_count"`
	RenderedAt    time.Time                  `json:"rendered_at"`
}

// Fit tells the client to move the camera. It is only present when the
// visible point set changed since the view last fitted.
type Fit struct {
	Bounds  domain.BoundingBox `json:"bounds"`
	Padding camera.Padding     `json:"padding"`
	Camera  camera.Camera      `json:"camera"`
	Tiles   []Tile             `json:"tiles"`
}

// Tile is one base map tile the fitted camera shows.
type Tile struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// MarkerPatch swaps the icon of a single marker.
type MarkerPatch struct {
	ID       string `json:"id"`
	Icon     string `json:"icon"`
	IconSize [2]int `json:"icon_size"`
}

// VehiclePopup is what a click on a vehicle marker shows.
type VehiclePopup struct {
	RouteID     int    `json:"route_id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Passengers  int    `json:"passengers"`
	Capacity    int    `json:"capacity"`
	Utilization int    `json:"utilization_pct"`
	NextStop    string `json:"next_stop"`
	Position    string `json:"position"`
}

// RenderObserver is notified after every frame.
type RenderObserver interface {
	FrameRendered(d time.Duration)
}

// Renderer composes frames. It holds no per-view state.
type Renderer struct {
	Tiles      camera.TileLayer
	Fitter     camera.Fitter
	Passengers schedule.PassengerSource
	Observer   RenderObserver
}

// Render is a stateless full frame: derive, fit, and draw with nothing
// selected.
func (r *Renderer) Render(ds *domain.Dataset, activeRouteID *int) Frame {
	st := Derive(routesOf(ds), activeRouteID)
	return r.frame(ds, activeRouteID, st, Selection{}, true)
}

func (r *Renderer) frame(ds *domain.Dataset, activeRouteID *int, st State, sel Selection, fit bool) Frame {
	start := time.Now()

	f := Frame{
		Title:         title(st),
		ActiveRouteID: activeRouteID,
		SelectedStop:  sel.ptr(),
		TileLayer:     r.Tiles,
		Layers:        geojson.NewFeatureCollection(),
		StopCount:     len(st.Stops),
		VehicleCount:  len(st.Vehicles),
		RenderedAt:    start,
	}
	if ds != nil {
		f.Version = ds.Version
	}

	points := st.Points()
	if fit {
		f.Fit = r.fit(points)
	}

	if len(points) >= 2 {
		f.Layers.Append(routeLine(points))
	}
	for i, vs := range st.Stops {
		f.Layers.Append(stopMarker(i, vs, sel.Is(i)))
	}
	for _, route := range st.Vehicles {
		f.Layers.Append(r.vehicleMarker(route))
	}
	if bb, ok := Bounds(points); ok {
		f.Layers.BBox = geojson.NewBBox(toBound(bb))
	}

	if r.Observer != nil {
		r.Observer.FrameRendered(time.Since(start))
	}
	return f
}

func (r *Renderer) fit(points []domain.GeoPoint) *Fit {
	bb, ok := Bounds(points)
	if !ok {
		return nil
	}

	cam := r.Fitter.Fit(bb)
	tiles := camera.TilesInBounds(r.Fitter.ViewBounds(cam), cam.Zoom)
	visible := make([]Tile, len(tiles))
	for i, t := range tiles {
		visible[i] = Tile{ID: camera.TileID(t), URL: r.Tiles.URL(t)}
	}

	return &Fit{
		Bounds:  bb,
		Padding: r.Fitter.Padding,
		Camera:  cam,
		Tiles:   visible,
	}
}

// VehiclePopup derives the popup fields. The passenger count is drawn anew
// on each call.
func (r *Renderer) VehiclePopup(route domain.Route) VehiclePopup {
	passengers := 0
	if r.Passengers != nil {
		passengers = r.Passengers.Passengers(route)
	}
	return VehiclePopup{
		RouteID:     route.ID,
		Name:        route.Name,
		Status:      route.Status,
		Passengers:  passengers,
		Capacity:    route.Capacity,
		Utilization: schedule.Utilization(passengers, route.Capacity),
		NextStop:    schedule.NextStopName(route),
		Position:    route.CurrentLocation.String(),
	}
}

func (r *Renderer) vehicleMarker(route domain.Route) *geojson.Feature {
	f := geojson.NewFeature(toPoint(route.CurrentLocation))
	f.ID = VehicleMarkerID(route.ID)
	f.Properties["kind"] = KindVehicle
	f.Properties["route_id"] = route.ID
	f.Properties["icon"] = IconBus
	f.Properties["icon_size"] = iconSizes[IconBus]
	f.Properties["popup"] = r.VehiclePopup(route)
	return f
}

func routeLine(points []domain.GeoPoint) *geojson.Feature {
	line := make(orb.LineString, len(points))
	for i, p := range points {
		line[i] = toPoint(p)
	}

	f := geojson.NewFeature(line)
	f.ID = "route-line"
	f.Properties["kind"] = KindRouteLine
	f.Properties["color"] = routeLineColor
	f.Properties["weight"] = routeLineWeight
	f.Properties["opacity"] = routeLineOpacity
	return f
}

func stopMarker(i int, vs VisibleStop, selected bool) *geojson.Feature {
	f := geojson.NewFeature(toPoint(vs.GeoPoint))
	f.ID = StopMarkerID(i)
	patch := stopPatch(i, selected)
	f.Properties["kind"] = KindStop
	f.Properties["index"] = i
	f.Properties["route_id"] = vs.RouteID
	f.Properties["position"] = vs.Position
	f.Properties["name"] = vs.Label(vs.Position)
	f.Properties["icon"] = patch.Icon
	f.Properties["icon_size"] = patch.IconSize
	return f
}

func stopPatch(i int, selected bool) MarkerPatch {
	icon := IconStop
	if selected {
		icon = IconStopSelected
	}
	return MarkerPatch{ID: StopMarkerID(i), Icon: icon, IconSize: iconSizes[icon]}
}

func StopMarkerID(i int) string { return fmt.Sprintf("stop-%d", i) }

func VehicleMarkerID(routeID int) string { return fmt.Sprintf("bus-%d", routeID) }

func title(st State) string {
	switch {
	case st.ActiveRoute != nil:
		return st.ActiveRoute.Name
	case st.Filtered:
		return TitleNoMatch
	default:
		return TitleAllRoutes
	}
}

func routesOf(ds *domain.Dataset) []domain.Route {
	if ds == nil {
		return nil
	}
	return ds.Routes
}

func toPoint(p domain.GeoPoint) orb.Point {
	return orb.Point{p.Longitude, p.Latitude}
}

func toBound(bb domain.BoundingBox) orb.Bound {
	return orb.Bound{
		Min: orb.Point{bb.MinLng, bb.MinLat},
		Max: orb.Point{bb.MaxLng, bb.MaxLat},
	}
}
