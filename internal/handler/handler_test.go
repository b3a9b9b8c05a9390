package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"busmap/internal/camera"
	"busmap/internal/domain"
	"busmap/internal/hub"
	"busmap/internal/schedule"
	"busmap/internal/store"
	"busmap/internal/view"
)

type fakeFrameCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	getErr  error
}

func newFakeFrameCache() *fakeFrameCache {
	return &fakeFrameCache{entries: make(map[string][]byte)}
}

func (f *fakeFrameCache) SetJSONCompressed(ctx context.Context, key string, value any, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.entries[key] = data
	return nil
}

func (f *fakeFrameCache) GetJSONCompressed(ctx context.Context, key string, dest any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return false, f.getErr
	}
	data, ok := f.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dest)
}

func (f *fakeFrameCache) DeletePattern(ctx context.Context, pattern string) error { return nil }

type countingRecorder struct {
	mu      sync.Mutex
	results map[string]int
}

func (c *countingRecorder) CacheLookup(result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.results == nil {
		c.results = map[string]int{}
	}
	c.results[result]++
}

type staticReady bool

func (s staticReady) IsReady() bool { return bool(s) }

type testEnv struct {
	store    *store.DatasetStore
	renderer *view.Renderer
	hub      *hub.Hub
	mux      *http.ServeMux
	cache    *fakeFrameCache
	recorder *countingRecorder
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRoutes() []domain.Route {
	return []domain.Route{
		{
			ID:       1,
			Name:     "Route A",
			Status:   domain.StatusInService,
			Capacity: 40,
			Stops: []domain.Stop{
				{GeoPoint: domain.GeoPoint{Latitude: 3.1387, Longitude: 101.6169}, Name: "KL Sentral"},
				{GeoPoint: domain.GeoPoint{Latitude: 3.1392, Longitude: 101.6173}},
			},
			CurrentLocation: domain.GeoPoint{Latitude: 3.1392, Longitude: 101.6173},
		},
		{
			ID:              2,
			Name:            "Route B",
			Status:          domain.StatusInService,
			Capacity:        40,
			Stops:           []domain.Stop{{GeoPoint: domain.GeoPoint{Latitude: 3.1402, Longitude: 101.6183}}},
			CurrentLocation: domain.GeoPoint{Latitude: 3.1407, Longitude: 101.6187},
		},
	}
}

func newTestEnv(t *testing.T, loaded bool) *testEnv {
	t.Helper()

	st := store.New()
	if loaded {
		ds, _ := domain.NewDataset(0, testRoutes(), &domain.OperationalSummary{TotalBuses: 2})
		st.Replace(ds)
	}

	renderer := &view.Renderer{
		Tiles: camera.TileLayer{URLTemplate: "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png", Subdomains: []string{"a"}},
		Fitter: camera.Fitter{
			Viewport: camera.Viewport{Width: 1024, Height: 600},
			Padding:  camera.Padding{50, 50},
			MaxZoom:  18,
		},
		Passengers: schedule.FixedPassengers(10),
	}

	logger := testLogger()
	h := hub.NewHub(nil, logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)

	env := &testEnv{
		store:    st,
		renderer: renderer,
		hub:      h,
		mux:      http.NewServeMux(),
		cache:    newFakeFrameCache(),
		recorder: &countingRecorder{},
	}

	board := schedule.NewBoard(schedule.NewRandomArrivals(rand.New(rand.NewPCG(1, 2))))
	routes := NewRoutesHandler(st, renderer, board, logger)
	maps := NewMapHandler(st, renderer, env.cache, time.Minute, env.recorder, logger)
	ws := NewWSHandler(h, st, renderer, []string{"*"}, logger)
	health := NewHealthHandler(staticReady(loaded), st)
	stats := NewStatsHandler(st, h)

	env.mux.HandleFunc("GET /v1/routes", routes.ListRoutes)
	env.mux.HandleFunc("GET /v1/routes/{id}", routes.GetRoute)
	env.mux.HandleFunc("GET /v1/routes/{id}/vehicle", routes.GetVehicle)
	env.mux.HandleFunc("GET /v1/routes/{id}/schedule", routes.GetSchedule)
	env.mux.HandleFunc("GET /v1/map", maps.GetMap)
	env.mux.HandleFunc("/v1/ws", ws.ServeWS)
	env.mux.HandleFunc("GET /v1/stats", stats.GetStats)
	env.mux.HandleFunc("GET /healthz", health.Healthz)
	env.mux.HandleFunc("GET /readyz", health.Readyz)

	return env
}

func (e *testEnv) get(t *testing.T, path string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestListRoutes(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.get(t, "/v1/routes")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `"v1"`, rec.Header().Get("ETag"))

	resp := decode[RoutesResponse](t, rec)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, uint64(1), resp.Version)
	assert.Equal(t, RouteButton{ID: 1, Name: "Route A", Status: domain.StatusInService, StopCount: 2}, resp.Routes[0])
	require.NotNil(t, resp.Summary)
	assert.Equal(t, 2, resp.Summary.TotalBuses)

	rec = env.get(t, "/v1/routes", "If-None-Match", `"v1"`)
	assert.Equal(t, http.StatusNotModified, rec.Code)
}

func TestRouteEndpoints(t *testing.T) {
	env := newTestEnv(t, true)

	tests := []struct {
		name string
		path string
		code int
	}{
		{"route", "/v1/routes/1", http.StatusOK},
		{"bad id", "/v1/routes/abc", http.StatusBadRequest},
		{"unknown id", "/v1/routes/9", http.StatusNotFound},
		{"vehicle", "/v1/routes/1/vehicle", http.StatusOK},
		{"vehicle unknown", "/v1/routes/9/vehicle", http.StatusNotFound},
		{"schedule", "/v1/routes/2/schedule", http.StatusOK},
		{"schedule bad id", "/v1/routes/x/schedule", http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.get(t, tc.path)
			assert.Equal(t, tc.code, rec.Code)
			if tc.code != http.StatusOK {
				assert.NotEmpty(t, decode[errorResponse](t, rec).Error)
			}
		})
	}
}

func TestGetVehiclePopup(t *testing.T) {
	env := newTestEnv(t, true)

	popup := decode[view.VehiclePopup](t, env.get(t, "/v1/routes/1/vehicle"))
	assert.Equal(t, 10, popup.Passengers)
	assert.Equal(t, 25, popup.Utilization)
	assert.Equal(t, "Stop 2", popup.NextStop)
	assert.Equal(t, "3.1392, 101.6173", popup.Position)
}

func TestGetSchedule(t *testing.T) {
	env := newTestEnv(t, true)

	first := decode[ScheduleResponse](t, env.get(t, "/v1/routes/1/schedule"))
	require.Len(t, first.Rows, 2)
	assert.Equal(t, "KL Sentral", first.Rows[0].Name)
	assert.True(t, first.Rows[1].IsNextStop)
	assert.Equal(t, "Stop 2", first.NextStop)

	again := decode[ScheduleResponse](t, env.get(t, "/v1/routes/1/schedule"))
	assert.Equal(t, first.Rows, again.Rows, "times are stable between requests")
}

func TestGetMap(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.get(t, "/v1/map")
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[view.Frame](t, rec)
	assert.Equal(t, view.TitleAllRoutes, all.Title)
	assert.Equal(t, 3, all.StopCount)
	require.NotNil(t, all.Fit)
	assert.Equal(t, domain.BoundingBox{MinLat: 3.1387, MinLng: 101.6169, MaxLat: 3.1402, MaxLng: 101.6183}, all.Fit.Bounds)

	b := decode[view.Frame](t, env.get(t, "/v1/map?route=2"))
	assert.Equal(t, "Route B", b.Title)
	assert.Equal(t, 1, b.StopCount)

	none := decode[view.Frame](t, env.get(t, "/v1/map?route=99"))
	assert.Equal(t, view.TitleNoMatch, none.Title)
	assert.Nil(t, none.Fit)

	assert.Equal(t, http.StatusBadRequest, env.get(t, "/v1/map?route=x").Code)
}

func TestGetMapUsesCache(t *testing.T) {
	env := newTestEnv(t, true)

	env.get(t, "/v1/map?route=1")
	env.get(t, "/v1/map?route=1")

	assert.Contains(t, env.cache.entries, "frame:1:1")
	assert.Equal(t, map[string]int{"miss": 1, "hit": 1}, env.recorder.results)
}

func TestGetMapCacheErrorFallsBack(t *testing.T) {
	env := newTestEnv(t, true)
	env.cache.getErr = errors.New("redis down")

	rec := env.get(t, "/v1/map")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, env.recorder.results["error"])
}

func TestNotLoaded(t *testing.T) {
	env := newTestEnv(t, false)

	for _, path := range []string{"/v1/map", "/v1/routes", "/v1/routes/1"} {
		rec := env.get(t, path)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
		assert.Equal(t, "5", rec.Header().Get("Retry-After"), path)
	}

	rec := env.get(t, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, decode[ReadyResponse](t, rec).Ready)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = env.get(t, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decode[ReadyResponse](t, rec)
	assert.True(t, ready.Ready)
	assert.Equal(t, 2, ready.RouteCount)
	assert.Equal(t, uint64(1), ready.Version)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.get(t, "/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	stats := decode[StatsResponse](t, rec)
	assert.True(t, stats.Dataset.IsLoaded)
	assert.Equal(t, 2, stats.Dataset.Routes)
	assert.Equal(t, 3, stats.Dataset.Stops)
	assert.NotEmpty(t, stats.Go.GoVersion)
}

func TestParseRouteFilter(t *testing.T) {
	id, err := parseRouteFilter("")
	assert.NoError(t, err)
	assert.Nil(t, id)

	id, err = parseRouteFilter("ALL")
	assert.NoError(t, err)
	assert.Nil(t, id)

	id, err = parseRouteFilter(" 0 ")
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, 0, *id)

	_, err = parseRouteFilter("1.5")
	assert.ErrorIs(t, err, errInvalidRouteID)
}

type wsMsg struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func dialWS(t *testing.T, env *testEnv) (*websocket.Conn, context.Context) {
	t.Helper()
	srv := httptest.NewServer(env.mux)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn, ctx
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, msg string) {
	t.Helper()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(msg)))
}

func read(t *testing.T, ctx context.Context, conn *websocket.Conn) wsMsg {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg wsMsg
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) view.Frame {
	t.Helper()
	msg := read(t, ctx, conn)
	require.Equal(t, hub.MessageFrame, msg.Type)
	var f view.Frame
	require.NoError(t, json.Unmarshal(msg.Payload, &f))
	return f
}

func TestWSViewSession(t *testing.T) {
	env := newTestEnv(t, true)
	conn, ctx := dialWS(t, env)

	initial := readFrame(t, ctx, conn)
	assert.Equal(t, view.TitleAllRoutes, initial.Title)
	assert.Equal(t, 3, initial.StopCount)
	require.NotNil(t, initial.Fit)

	send(t, ctx, conn, `{"type":"toggle_stop","payload":{"index":1}}`)
	msg := read(t, ctx, conn)
	require.Equal(t, hub.MessageMarkers, msg.Type)
	var markers MarkersPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &markers))
	assert.Equal(t, []view.MarkerPatch{{ID: "stop-1", Icon: view.IconStopSelected, IconSize: [2]int{16, 16}}}, markers.Patches)
	require.NotNil(t, markers.SelectedStop)
	assert.Equal(t, 1, *markers.SelectedStop)

	send(t, ctx, conn, `{"type":"toggle_stop","payload":{"index":7}}`)
	assert.Equal(t, hub.MessageError, read(t, ctx, conn).Type)

	send(t, ctx, conn, `{"type":"filter","payload":{"routeId":2}}`)
	filtered := readFrame(t, ctx, conn)
	assert.Equal(t, "Route B", filtered.Title)
	assert.Nil(t, filtered.SelectedStop, "filter change clears the selection")
	require.NotNil(t, filtered.Fit)

	send(t, ctx, conn, `{"type":"open_vehicle","payload":{"routeId":1}}`)
	msg = read(t, ctx, conn)
	require.Equal(t, hub.MessagePopup, msg.Type)
	var popup view.VehiclePopup
	require.NoError(t, json.Unmarshal(msg.Payload, &popup))
	assert.Equal(t, "Route A", popup.Name)
	assert.Equal(t, 25, popup.Utilization)

	send(t, ctx, conn, `{"type":"open_vehicle","payload":{"routeId":42}}`)
	assert.Equal(t, hub.MessageError, read(t, ctx, conn).Type)

	send(t, ctx, conn, `{"type":"ping"}`)
	assert.Equal(t, hub.MessagePong, read(t, ctx, conn).Type)

	send(t, ctx, conn, `{"type":"teleport"}`)
	assert.Equal(t, hub.MessageError, read(t, ctx, conn).Type)

	send(t, ctx, conn, `not json`)
	assert.Equal(t, hub.MessageError, read(t, ctx, conn).Type)

	send(t, ctx, conn, `{"type":"filter"}`)
	cleared := readFrame(t, ctx, conn)
	assert.Equal(t, view.TitleAllRoutes, cleared.Title)
}

func TestWSReceivesRefreshedFrames(t *testing.T) {
	env := newTestEnv(t, true)
	conn, ctx := dialWS(t, env)

	readFrame(t, ctx, conn)
	require.Eventually(t, func() bool { return env.hub.ClientCount() == 1 }, time.Second, time.Millisecond)

	next := env.store.Replace(env.store.Current().Perturb(nil, 0))
	env.hub.Publish(next)

	f := readFrame(t, ctx, conn)
	assert.Equal(t, uint64(2), f.Version)
	assert.Nil(t, f.Fit, "vehicle movement does not refit")
}

func TestWSUnregistersOnClose(t *testing.T) {
	env := newTestEnv(t, true)
	conn, ctx := dialWS(t, env)

	readFrame(t, ctx, conn)
	require.Eventually(t, func() bool { return env.hub.ClientCount() == 1 }, time.Second, time.Millisecond)

	conn.Close(websocket.StatusNormalClosure, "")
	assert.Eventually(t, func() bool { return env.hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}
