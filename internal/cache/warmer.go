package cache

import (
	"context"
	"log/slog"
	"time"

	"busmap/internal/domain"
	"busmap/internal/view"
)

// FrameWarmer renders and caches the stateless frames of every new dataset:
// the unfiltered frame and one per route.
type FrameWarmer struct {
	cache    FrameCache
	renderer *view.Renderer
	ttl      time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	lastVersion uint64
}

func NewFrameWarmer(cache FrameCache, renderer *view.Renderer, ttl time.Duration, logger *slog.Logger) *FrameWarmer {
	return &FrameWarmer{
		cache:    cache,
		renderer: renderer,
		ttl:      ttl,
		timeout:  5 * time.Second,
		logger:   logger.With("component", "frame_warmer"),
	}
}

// Publish warms the frames of ds and evicts those of the previous version.
func (w *FrameWarmer) Publish(ds *domain.Dataset) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	if err := w.Warm(ctx, ds); err != nil {
		w.logger.Error("frame warming failed", "version", ds.Version, "error", err)
	}
}

func (w *FrameWarmer) Warm(ctx context.Context, ds *domain.Dataset) error {
	start := time.Now()

	if err := w.cache.SetJSONCompressed(ctx, KeyFrame(ds.Version, nil), w.renderer.Render(ds, nil), w.ttl); err != nil {
		return err
	}

	warmed := 1
	for _, id := range ds.RouteIDs() {
		if err := w.cache.SetJSONCompressed(ctx, KeyFrame(ds.Version, &id), w.renderer.Render(ds, &id), w.ttl); err != nil {
			w.logger.Debug("failed to cache route frame", "route_id", id, "error", err)
			continue
		}
		warmed++
	}

	if w.lastVersion != 0 && w.lastVersion != ds.Version {
		if err := w.cache.DeletePattern(ctx, KeyFramePattern(w.lastVersion)); err != nil {
			w.logger.Debug("failed to evict old frames", "version", w.lastVersion, "error", err)
		}
	}
	w.lastVersion = ds.Version

	w.logger.Debug("warmed frames",
		"version", ds.Version,
		"frames", warmed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
