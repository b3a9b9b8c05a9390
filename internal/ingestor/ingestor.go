// Package ingestor keeps the dataset fresh. It is the only writer of the
// store: every tick it either re-loads a polling source or moves the vehicles
// of the last load, then hands the new snapshot to its listeners.
package ingestor

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"busmap/internal/config"
	"busmap/internal/domain"
	"busmap/internal/feed"
	"busmap/internal/store"
)

// Listener receives every dataset the refresher stores.
type Listener interface {
	Publish(ds *domain.Dataset)
}

type ListenerFunc func(ds *domain.Dataset)

func (f ListenerFunc) Publish(ds *domain.Dataset) { f(ds) }

type Recorder interface {
	RefreshCompleted(version uint64, routes int, d time.Duration)
	RefreshFailed()
}

type Refresher struct {
	source    feed.Source
	store     *store.DatasetStore
	listeners []Listener
	recorder  Recorder
	logger    *slog.Logger

	interval time.Duration
	maxDelta float64

	rngMu sync.Mutex
	rng   *rand.Rand

	// tickMu serializes refreshes.
	tickMu sync.Mutex

	ready   bool
	readyMu sync.RWMutex
}

func New(source feed.Source, store *store.DatasetStore, cfg *config.Config, recorder Recorder, logger *slog.Logger, listeners ...Listener) *Refresher {
	seed := uint64(time.Now().UnixNano())
	return &Refresher{
		source:    source,
		store:     store,
		listeners: listeners,
		recorder:  recorder,
		logger:    logger.With("component", "refresher"),
		interval:  cfg.RefreshInterval,
		maxDelta:  cfg.PerturbDelta,
		rng:       rand.New(rand.NewPCG(seed, seed>>1)),
	}
}

// Start runs the refresh loop in the background. The returned stop cancels
// it and waits for the loop to exit: once stop returns no refresh will touch
// the store or reach a listener. stop is safe to call more than once.
func (r *Refresher) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		r.Run(ctx)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

// Run loads immediately and then on every interval until ctx is done.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Refresher) tick(ctx context.Context) {
	if err := r.Refresh(ctx); err != nil {
		r.logger.Error("refresh failed, keeping previous dataset", "error", err)
	}
}

// Refresh produces and publishes the next dataset. On error the current
// dataset is left in place.
func (r *Refresher) Refresh(ctx context.Context) error {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()

	start := time.Now()

	next, err := r.next(ctx)
	if err != nil {
		if r.recorder != nil {
			r.recorder.RefreshFailed()
		}
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	stored := r.store.Replace(next)
	for _, l := range r.listeners {
		l.Publish(stored)
	}

	if r.recorder != nil {
		r.recorder.RefreshCompleted(stored.Version, stored.Len(), time.Since(start))
	}

	if !r.IsReady() {
		r.setReady(true)
		r.logger.Info("refresher ready", "routes", stored.Len(), "version", stored.Version)
	}

	r.logger.Debug("refresh completed",
		"version", stored.Version,
		"routes", stored.Len(),
		"duration", time.Since(start),
	)
	return nil
}

func (r *Refresher) next(ctx context.Context) (*domain.Dataset, error) {
	current := r.store.Current()
	if current != nil && !r.source.Polls() {
		r.rngMu.Lock()
		defer r.rngMu.Unlock()
		return current.Perturb(r.rng, r.maxDelta), nil
	}

	res, err := r.source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load routes: %w", err)
	}

	ds, dupes := domain.NewDataset(0, res.Routes, res.Summary)
	if len(dupes) > 0 {
		r.logger.Warn("dropping duplicate route ids", "ids", dupes)
	}
	if res.Dropped > 0 {
		r.logger.Warn("feed had malformed entries", "dropped", res.Dropped)
	}
	return ds, nil
}

func (r *Refresher) IsReady() bool {
	r.readyMu.RLock()
	defer r.readyMu.RUnlock()
	return r.ready
}

func (r *Refresher) setReady(ready bool) {
	r.readyMu.Lock()
	defer r.readyMu.Unlock()
	r.ready = ready
}
