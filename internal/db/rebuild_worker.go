package db

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/cruce-data/aforo.report/internal/aforo"
	"github.com/cruce-data/aforo.report/internal/config"
	"github.com/cruce-data/aforo.report/internal/timeutil"
)

// RebuildWorker periodically scans for datasets whose events changed
// after their last aggregate rebuild and regenerates their movement
// counts. Mutating handlers rebuild inline; the worker repairs rebuilds
// that failed or were interrupted, and can be kicked for an immediate
// scan after a mutation.
type RebuildWorker struct {
	DB       *DB
	Clock    timeutil.Clock
	Interval time.Duration // how often to scan (e.g., 1m)
	StopChan chan struct{}

	kick     chan struct{}
	pipeline *aforo.Pipeline
	datasets *aforo.DatasetStore
}

// NewRebuildWorker creates a worker over the given database.
func NewRebuildWorker(db *DB) *RebuildWorker {
	return &RebuildWorker{
		DB:       db,
		Clock:    timeutil.RealClock{},
		Interval: time.Minute,
		StopChan: make(chan struct{}),
		kick:     make(chan struct{}, 1),
		pipeline: aforo.NewPipeline(db.DB),
		datasets: aforo.NewDatasetStore(db.DB),
	}
}

// SetTuning passes process-level tuning down to the worker's pipeline.
func (w *RebuildWorker) SetTuning(t *config.TuningConfig) {
	w.pipeline.Tuning = t
}

// Start runs the periodic worker loop in a goroutine.
func (w *RebuildWorker) Start() {
	go func() {
		ticker := w.Clock.NewTicker(w.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				if err := w.RunOnce(context.Background()); err != nil {
					log.Printf("Rebuild worker run error: %v", err)
				}
			case <-w.kick:
				if err := w.RunOnce(context.Background()); err != nil {
					log.Printf("Rebuild worker run error: %v", err)
				}
			case <-w.StopChan:
				return
			}
		}
	}()
}

// Kick schedules an immediate scan without waiting for the next tick.
// Kicks arriving while one is already pending coalesce.
func (w *RebuildWorker) Kick() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Stop requests the worker to stop.
func (w *RebuildWorker) Stop() {
	close(w.StopChan)
}

// RunOnce rebuilds aggregates for every stale dataset. A failing
// dataset does not block the others; the first error is returned after
// the scan completes.
func (w *RebuildWorker) RunOnce(ctx context.Context) error {
	ids, err := w.datasets.StaleDatasets()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	log.Printf("Rebuild worker: %d stale dataset(s)", len(ids))

	var firstErr error
	for _, id := range ids {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := w.pipeline.RebuildCounts(id); err != nil {
			log.Printf("Rebuild worker: dataset %s: %v", id, err)
			if firstErr == nil && !errors.Is(err, context.Canceled) {
				firstErr = err
			}
		}
	}
	return firstErr
}
