package db

import (
	"context"
	"testing"
	"time"

	"github.com/cruce-data/aforo.report/internal/aforo"
	"github.com/cruce-data/aforo.report/internal/timeutil"
)

func newStaleDataset(t *testing.T, database *DB) string {
	t.Helper()
	datasets := aforo.NewDatasetStore(database.DB)
	d := &aforo.Dataset{Name: "worker test"}
	if err := datasets.Insert(d); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := datasets.TouchEventsChanged(d.ID); err != nil {
		t.Fatalf("TouchEventsChanged failed: %v", err)
	}
	return d.ID
}

func waitUntilFresh(t *testing.T, database *DB) {
	t.Helper()
	datasets := aforo.NewDatasetStore(database.DB)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		ids, err := datasets.StaleDatasets()
		if err != nil {
			t.Fatalf("StaleDatasets failed: %v", err)
		}
		if len(ids) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("dataset still stale after waiting")
}

func TestRunOnceRebuildsStaleDataset(t *testing.T) {
	database := newTestDB(t)
	id := newStaleDataset(t, database)

	datasets := aforo.NewDatasetStore(database.DB)
	ids, err := datasets.StaleDatasets()
	if err != nil {
		t.Fatalf("StaleDatasets failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != id {
		t.Fatalf("expected dataset %s stale, got %v", id, ids)
	}

	worker := NewRebuildWorker(database)
	if err := worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	ids, err = datasets.StaleDatasets()
	if err != nil {
		t.Fatalf("StaleDatasets failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected no stale datasets after RunOnce, got %v", ids)
	}
}

func TestRunOnceNothingStale(t *testing.T) {
	database := newTestDB(t)
	worker := NewRebuildWorker(database)
	if err := worker.RunOnce(context.Background()); err != nil {
		t.Errorf("RunOnce on empty database failed: %v", err)
	}
}

func TestWorkerRebuildsOnTick(t *testing.T) {
	database := newTestDB(t)
	newStaleDataset(t, database)

	clock := timeutil.NewMockClock(time.Now())
	worker := NewRebuildWorker(database)
	worker.Clock = clock
	worker.Interval = time.Minute

	worker.Start()
	defer worker.Stop()

	// Give the loop a moment to register its ticker, then fire it.
	time.Sleep(20 * time.Millisecond)
	clock.Advance(time.Minute)

	waitUntilFresh(t, database)
}

func TestWorkerRebuildsOnKick(t *testing.T) {
	database := newTestDB(t)
	newStaleDataset(t, database)

	clock := timeutil.NewMockClock(time.Now())
	worker := NewRebuildWorker(database)
	worker.Clock = clock
	worker.Interval = time.Hour // ticker never fires during the test

	worker.Start()
	defer worker.Stop()

	worker.Kick()
	waitUntilFresh(t, database)
}

func TestKickDoesNotBlock(t *testing.T) {
	database := newTestDB(t)
	worker := NewRebuildWorker(database)

	// No loop running; repeated kicks must coalesce, not block.
	done := make(chan struct{})
	go func() {
		worker.Kick()
		worker.Kick()
		worker.Kick()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Kick blocked")
	}
}

func TestWorkerStops(t *testing.T) {
	database := newTestDB(t)
	worker := NewRebuildWorker(database)
	worker.Interval = time.Hour

	worker.Start()
	worker.Stop()

	// A kick after stop is lost but must not panic or block.
	worker.Kick()
}
