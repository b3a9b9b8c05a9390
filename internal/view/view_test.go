package view

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"busmap/internal/camera"
	"busmap/internal/domain"
	"busmap/internal/schedule"
)

func pt(lat, lng float64) domain.GeoPoint {
	return domain.GeoPoint{Latitude: lat, Longitude: lng}
}

func twoRoutes() []domain.Route {
	return []domain.Route{
		{
			ID:       1,
			Name:     "Route A",
			Status:   domain.StatusInService,
			Capacity: 40,
			Stops: []domain.Stop{
				{GeoPoint: pt(3.1387, 101.6169)},
				{GeoPoint: pt(3.1392, 101.6173)},
			},
			CurrentLocation: pt(3.1392, 101.6173),
		},
		{
			ID:              2,
			Name:            "Route B",
			Status:          domain.StatusInService,
			Capacity:        40,
			Stops:           []domain.Stop{{GeoPoint: pt(3.1402, 101.6183)}},
			CurrentLocation: pt(3.1407, 101.6187),
		},
	}
}

func dataset(t *testing.T, version uint64, routes []domain.Route) *domain.Dataset {
	t.Helper()
	ds, dupes := domain.NewDataset(version, routes, nil)
	require.Empty(t, dupes)
	return ds
}

func testRenderer() *Renderer {
	return &Renderer{
		Tiles: camera.TileLayer{
			URLTemplate: "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
			Subdomains:  []string{"a", "b", "c"},
		},
		Fitter: camera.Fitter{
			Viewport: camera.Viewport{Width: 1024, Height: 600},
			Padding:  camera.Padding{50, 50},
			MaxZoom:  18,
		},
		Passengers: schedule.FixedPassengers(10),
	}
}

func intPtr(i int) *int { return &i }

func stopsOf(vs []VisibleStop) []domain.Stop {
	out := make([]domain.Stop, len(vs))
	for i, s := range vs {
		out[i] = s.Stop
	}
	return out
}

func kinds(f Frame) map[string]int {
	out := map[string]int{}
	for _, feat := range f.Layers.Features {
		out[feat.Properties.MustString("kind")]++
	}
	return out
}

func TestDeriveUnfilteredConcatenatesInRouteOrder(t *testing.T) {
	routes := twoRoutes()
	st := Derive(routes, nil)

	var want []domain.Stop
	for _, r := range routes {
		want = append(want, r.Stops...)
	}
	assert.Equal(t, want, stopsOf(st.Stops))
	assert.Equal(t, routes, st.Vehicles)
	assert.Nil(t, st.ActiveRoute)
	assert.False(t, st.Filtered)

	assert.Equal(t, VisibleStop{RouteID: 2, Position: 0, Stop: routes[1].Stops[0]}, st.Stops[2])
}

func TestDeriveFilteredToOneRoute(t *testing.T) {
	routes := twoRoutes()
	for _, r := range routes {
		st := Derive(routes, intPtr(r.ID))
		assert.Equal(t, r.Stops, stopsOf(st.Stops))
		require.Len(t, st.Vehicles, 1)
		assert.Equal(t, r, st.Vehicles[0])
		require.NotNil(t, st.ActiveRoute)
		assert.Equal(t, r.ID, st.ActiveRoute.ID)
	}
}

func TestDeriveUnknownRouteIsEmpty(t *testing.T) {
	st := Derive(twoRoutes(), intPtr(42))
	assert.Empty(t, st.Stops)
	assert.Empty(t, st.Vehicles)
	assert.Nil(t, st.ActiveRoute)
	assert.True(t, st.Filtered)
}

func TestDeriveRouteIDZeroIsAFilter(t *testing.T) {
	routes := twoRoutes()
	routes[0].ID = 0
	st := Derive(routes, intPtr(0))
	assert.Len(t, st.Stops, 2)
	assert.Len(t, st.Vehicles, 1)
}

func TestDeriveSkipsInvalidCoordinates(t *testing.T) {
	routes := twoRoutes()
	routes[0].Stops = append(routes[0].Stops, domain.Stop{GeoPoint: pt(math.NaN(), 101.6)})
	routes[1].CurrentLocation = pt(200, 0)

	st := Derive(routes, nil)
	assert.Len(t, st.Stops, 3)
	require.Len(t, st.Vehicles, 1)
	assert.Equal(t, 1, st.Vehicles[0].ID)
}

func TestDeriveIsIdempotent(t *testing.T) {
	routes := twoRoutes()
	for _, filter := range []*int{nil, intPtr(1), intPtr(2), intPtr(9)} {
		assert.Equal(t, Derive(routes, filter), Derive(routes, filter))
	}
}

func TestBounds(t *testing.T) {
	_, ok := Bounds(nil)
	assert.False(t, ok)

	_, ok = Bounds([]domain.GeoPoint{pt(math.NaN(), 0)})
	assert.False(t, ok)

	single := pt(3.1402, 101.6183)
	bb, ok := Bounds([]domain.GeoPoint{single})
	require.True(t, ok)
	assert.Equal(t, bb.MinLat, bb.MaxLat)
	assert.Equal(t, bb.MinLng, bb.MaxLng)

	points := []domain.GeoPoint{pt(1, 5), pt(-3, 7), pt(2, -4), pt(0, 0)}
	bb, ok = Bounds(points)
	require.True(t, ok)
	assert.Equal(t, domain.BoundingBox{MinLat: -3, MinLng: -4, MaxLat: 2, MaxLng: 7}, bb)
	for _, p := range points {
		assert.True(t, bb.Contains(p))
	}
}

func TestSelectionToggle(t *testing.T) {
	var sel Selection
	_, ok := sel.Index()
	assert.False(t, ok)

	// i twice returns to unselected
	sel = sel.Toggle(3).Toggle(3)
	_, ok = sel.Index()
	assert.False(t, ok)

	// i then j lands on j
	sel = Selection{}.Toggle(3).Toggle(5)
	i, ok := sel.Index()
	assert.True(t, ok)
	assert.Equal(t, 5, i)
	assert.True(t, sel.Is(5))
	assert.False(t, sel.Is(3))
}

func TestRenderEndToEnd(t *testing.T) {
	ds := dataset(t, 1, twoRoutes())
	v := New("v1", testRenderer())

	all := v.Render(ds)

	assert.Equal(t, TitleAllRoutes, all.Title)
	assert.Equal(t, 3, all.StopCount)
	assert.Equal(t, 2, all.VehicleCount)
	require.NotNil(t, all.Fit)
	assert.Equal(t, domain.BoundingBox{MinLat: 3.1387, MinLng: 101.6169, MaxLat: 3.1402, MaxLng: 101.6183}, all.Fit.Bounds)
	assert.Equal(t, camera.Padding{50, 50}, all.Fit.Padding)
	require.NotEmpty(t, all.Fit.Tiles)
	for _, tile := range all.Fit.Tiles {
		assert.Regexp(t, `^\d+/\d+/\d+$`, tile.ID)
		assert.Contains(t, tile.URL, "/"+tile.ID+".png")
	}
	assert.Equal(t, map[string]int{KindRouteLine: 1, KindStop: 3, KindVehicle: 2}, kinds(all))

	only2 := v.SetFilter(ds, intPtr(2))

	assert.Equal(t, "Route B", only2.Title)
	require.Equal(t, 1, only2.StopCount)
	assert.Equal(t, map[string]int{KindStop: 1, KindVehicle: 1}, kinds(only2))
	require.NotNil(t, only2.Fit)
	assert.Equal(t, domain.PointBox(pt(3.1402, 101.6183)), only2.Fit.Bounds)
}

func TestRenderEmptyDataset(t *testing.T) {
	ds := dataset(t, 1, nil)
	f := New("v", testRenderer()).Render(ds)

	assert.Nil(t, f.Fit)
	assert.Empty(t, f.Layers.Features)
	assert.Equal(t, TitleAllRoutes, f.Title)
	assert.Equal(t, "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png", f.TileLayer.URLTemplate)

	nilFrame := New("v", testRenderer()).Render(nil)
	assert.Nil(t, nilFrame.Fit)
	assert.Zero(t, nilFrame.Version)
}

func TestRenderUnknownFilter(t *testing.T) {
	ds := dataset(t, 1, twoRoutes())
	f := New("v", testRenderer()).SetFilter(ds, intPtr(77))

	assert.Equal(t, TitleNoMatch, f.Title)
	assert.Nil(t, f.Fit)
	assert.Empty(t, f.Layers.Features)
}

func TestFitOnlyWhenPointSetChanges(t *testing.T) {
	ds := dataset(t, 1, twoRoutes())
	v := New("v", testRenderer())

	require.NotNil(t, v.Render(ds).Fit)
	assert.Nil(t, v.Render(ds).Fit, "same data must not refit")

	moved := ds.Perturb(nil, 0)
	assert.Nil(t, v.Render(moved).Fit, "vehicle movement alone must not refit")

	assert.NotNil(t, v.SetFilter(ds, intPtr(1)).Fit)
	assert.Nil(t, v.Render(ds).Fit)
	assert.NotNil(t, v.SetFilter(ds, nil).Fit)
}

func TestToggleStopPatchesOnlyAffectedMarkers(t *testing.T) {
	ds := dataset(t, 1, twoRoutes())
	v := New("v", testRenderer())
	v.Render(ds)

	patches, err := v.ToggleStop(1)
	require.NoError(t, err)
	assert.Equal(t, []MarkerPatch{{ID: "stop-1", Icon: IconStopSelected, IconSize: [2]int{16, 16}}}, patches)

	patches, err = v.ToggleStop(2)
	require.NoError(t, err)
	assert.Equal(t, []MarkerPatch{
		{ID: "stop-1", Icon: IconStop, IconSize: [2]int{12, 12}},
		{ID: "stop-2", Icon: IconStopSelected, IconSize: [2]int{16, 16}},
	}, patches)

	patches, err = v.ToggleStop(2)
	require.NoError(t, err)
	assert.Equal(t, []MarkerPatch{{ID: "stop-2", Icon: IconStop, IconSize: [2]int{12, 12}}}, patches)
	_, ok := v.Selection().Index()
	assert.False(t, ok)

	_, err = v.ToggleStop(3)
	assert.ErrorIs(t, err, ErrStopOutOfRange)
	_, err = v.ToggleStop(-1)
	assert.ErrorIs(t, err, ErrStopOutOfRange)
}

func TestToggleBeforeRender(t *testing.T) {
	_, err := New("v", testRenderer()).ToggleStop(0)
	assert.ErrorIs(t, err, ErrStopOutOfRange)
}

func TestSelectionDoesNotChangeVisibility(t *testing.T) {
	ds := dataset(t, 1, twoRoutes())
	v := New("v", testRenderer())
	v.Render(ds)

	_, err := v.ToggleStop(0)
	require.NoError(t, err)
	f := v.Render(ds)

	assert.Equal(t, 3, f.StopCount)
	require.NotNil(t, f.SelectedStop)
	assert.Equal(t, 0, *f.SelectedStop)

	icons := map[string]string{}
	for _, feat := range f.Layers.Features {
		if feat.Properties.MustString("kind") == KindStop {
			icons[feat.ID.(string)] = feat.Properties.MustString("icon")
		}
	}
	assert.Equal(t, map[string]string{"stop-0": IconStopSelected, "stop-1": IconStop, "stop-2": IconStop}, icons)
}

func TestSelectionResetOnFilterChange(t *testing.T) {
	ds := dataset(t, 1, twoRoutes())
	v := New("v", testRenderer())
	v.Render(ds)

	_, err := v.ToggleStop(2)
	require.NoError(t, err)

	f := v.SetFilter(ds, intPtr(2))
	assert.Nil(t, f.SelectedStop)
	_, ok := v.Selection().Index()
	assert.False(t, ok)

	// index 2 no longer exists in the one-stop set
	_, err = v.ToggleStop(2)
	assert.ErrorIs(t, err, ErrStopOutOfRange)
}

func TestSelectionSurvivesVehicleRefresh(t *testing.T) {
	ds := dataset(t, 1, twoRoutes())
	v := New("v", testRenderer())
	v.Render(ds)
	_, err := v.ToggleStop(1)
	require.NoError(t, err)

	f := v.Render(ds.Perturb(nil, 0))
	require.NotNil(t, f.SelectedStop)
	assert.Equal(t, 1, *f.SelectedStop)
	assert.Equal(t, uint64(2), f.Version)
}

func TestSelectionResetWhenStopsChange(t *testing.T) {
	ds := dataset(t, 1, twoRoutes())
	v := New("v", testRenderer())
	v.Render(ds)
	_, err := v.ToggleStop(1)
	require.NoError(t, err)

	routes := twoRoutes()
	routes[0].Stops = routes[0].Stops[:1]
	f := v.Render(dataset(t, 2, routes))

	assert.Nil(t, f.SelectedStop)
	assert.NotNil(t, f.Fit)
}

func TestVehiclePopup(t *testing.T) {
	r := testRenderer()
	route := twoRoutes()[0]

	popup := r.VehiclePopup(route)

	assert.Equal(t, VehiclePopup{
		RouteID:     1,
		Name:        "Route A",
		Status:      domain.StatusInService,
		Passengers:  10,
		Capacity:    40,
		Utilization: 25,
		NextStop:    "Stop 2",
		Position:    "3.1392, 101.6173",
	}, popup)
}

func TestStatelessRenderAlwaysFits(t *testing.T) {
	ds := dataset(t, 3, twoRoutes())
	r := testRenderer()

	a := r.Render(ds, nil)
	b := r.Render(ds, nil)
	require.NotNil(t, a.Fit)
	require.NotNil(t, b.Fit)
	assert.Equal(t, a.Fit, b.Fit)
	assert.Equal(t, uint64(3), a.Version)
}

func TestFrameJSON(t *testing.T) {
	ds := dataset(t, 1, twoRoutes())
	data, err := json.Marshal(testRenderer().Render(ds, intPtr(1)))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "Route A", decoded["title"])
	assert.EqualValues(t, 1, decoded["active_route_id"])

	layers := decoded["layers"].(map[string]any)
	assert.Equal(t, "FeatureCollection", layers["type"])
	assert.Len(t, layers["features"], 4)
	assert.Len(t, layers["bbox"], 4)
}
