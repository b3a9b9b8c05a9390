package main

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"busmap/internal/cache"
	"busmap/internal/camera"
	"busmap/internal/config"
	"busmap/internal/feed"
	"busmap/internal/handler"
	"busmap/internal/hub"
	"busmap/internal/ingestor"
	"busmap/internal/metrics"
	"busmap/internal/middleware"
	"busmap/internal/schedule"
	"busmap/internal/store"
	"busmap/internal/view"
	"busmap/pkg/amanaapi"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("starting busmap server",
		"log_level", cfg.LogLevel.String(),
		"http_addr", cfg.HTTPAddr,
		"feed_mode", cfg.FeedMode,
		"refresh_interval", cfg.RefreshInterval,
		"redis_enabled", cfg.RedisEnabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Interfaces stay nil when metrics are off.
	var (
		collector      *metrics.Collector
		drops          feed.DropCounter
		renderObserver view.RenderObserver
		hubObserver    hub.Observer
		refreshRec     ingestor.Recorder
		cacheRec       handler.CacheRecorder
	)
	if cfg.MetricsEnabled {
		collector = metrics.NewCollector(cfg.RefreshInterval)
		drops, renderObserver, hubObserver, refreshRec, cacheRec = collector, collector, collector, collector, collector
	}

	seed := uint64(time.Now().UnixNano())
	renderer := &view.Renderer{
		Tiles: camera.TileLayer{
			URLTemplate: cfg.TileURL,
			Attribution: cfg.TileAttribution,
			Subdomains:  cfg.TileSubdomains,
		},
		Fitter: camera.Fitter{
			Viewport: camera.Viewport{Width: cfg.ViewportWidth, Height: cfg.ViewportHeight},
			Padding:  camera.Padding{cfg.FitPadding, cfg.FitPadding},
			MinZoom:  cfg.MinZoom,
			MaxZoom:  cfg.MaxZoom,
		},
		Passengers: schedule.NewRandomPassengers(rand.New(rand.NewPCG(seed, 1))),
		Observer:   renderObserver,
	}
	board := schedule.NewBoard(schedule.NewRandomArrivals(rand.New(rand.NewPCG(seed, 2))))

	decoder := feed.NewDecoder(drops, logger)
	var source feed.Source
	switch cfg.FeedMode {
	case config.FeedModeHTTP:
		source = feed.NewHTTPSource(amanaapi.New(cfg.FeedURL), decoder)
	default:
		source = feed.NewMockSource(cfg.FeedFixture, decoder)
	}

	datasetStore := store.New()
	wsHub := hub.NewHub(hubObserver, logger)

	var frameCache cache.FrameCache
	listeners := []ingestor.Listener{wsHub, ingestor.ListenerFunc(board.Retain)}
	if cfg.RedisEnabled {
		redisCache, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
		if err != nil {
			logger.Warn("redis unavailable, frame cache disabled", "error", err)
		} else {
			defer redisCache.Close()
			frameCache = redisCache
			listeners = append(listeners, cache.NewFrameWarmer(redisCache, renderer, cfg.CacheTTL, logger))
		}
	}

	refresher := ingestor.New(source, datasetStore, cfg, refreshRec, logger, listeners...)

	routesHandler := handler.NewRoutesHandler(datasetStore, renderer, board, logger)
	mapHandler := handler.NewMapHandler(datasetStore, renderer, frameCache, cfg.CacheTTL, cacheRec, logger)
	wsHandler := handler.NewWSHandler(wsHub, datasetStore, renderer, cfg.CORSOrigins, logger)
	healthHandler := handler.NewHealthHandler(refresher, datasetStore)
	statsHandler := handler.NewStatsHandler(datasetStore, wsHub)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/routes", routesHandler.ListRoutes)
	mux.HandleFunc("GET /v1/routes/{id}", routesHandler.GetRoute)
	mux.HandleFunc("GET /v1/routes/{id}/vehicle", routesHandler.GetVehicle)
	mux.HandleFunc("GET /v1/routes/{id}/schedule", routesHandler.GetSchedule)
	mux.HandleFunc("GET /v1/map", mapHandler.GetMap)
	mux.HandleFunc("GET /v1/stats", statsHandler.GetStats)

	mux.HandleFunc("GET /healthz", healthHandler.Healthz)
	mux.HandleFunc("GET /readyz", healthHandler.Readyz)

	if collector != nil {
		mux.Handle("GET /metrics", collector.Handler())
	}

	// The websocket upgrade needs the raw connection, so it bypasses gzip.
	root := http.NewServeMux()
	root.HandleFunc("/v1/ws", wsHandler.ServeWS)
	root.Handle("/", handler.GzipMiddleware(mux))

	var api http.Handler = root
	api = handler.CORSMiddleware(cfg.CORSOrigins)(api)
	if cfg.RateLimit > 0 {
		limiter := middleware.NewRateLimiter(cfg.RateLimit, cfg.RateLimitWindow, cfg.RateLimitWhitelist, handler.ServerStats.IncRateLimitBlocked, logger)
		go limiter.Run(ctx)
		api = limiter.Middleware(api)
	}
	api = handler.CountRequests(api)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go wsHub.Run(ctx)

	stopRefresh := refresher.Start(ctx)

	go func() {
		logger.Info("starting HTTP server", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}

	stopRefresh()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}
