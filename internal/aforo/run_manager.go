package aforo

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunManager coordinates the analysis run lifecycle for one dataset.
// It is safe for concurrent use and admits one active run at a time;
// the pipeline reports its tallies through the Record hooks.
type RunManager struct {
	mu         sync.RWMutex
	store      *RunStore
	datasetID  string
	currentRun *AnalysisRun
	startTime  time.Time

	// Stats collected during the run
	totalFrames     int
	totalDetections int
	tracksSeen      map[string]bool
	dropReasons     map[string]int
	countedEvents   int
}

// runManagers stores per-dataset run managers.
var (
	rmMu       sync.Mutex
	rmRegistry = make(map[string]*RunManager)
)

// NewRunManager creates a new manager for one dataset's analysis runs.
func NewRunManager(db *sql.DB, datasetID string) *RunManager {
	return &RunManager{
		store:      NewRunStore(db),
		datasetID:  datasetID,
		tracksSeen: make(map[string]bool),
	}
}

// RunManagerFor returns the dataset's registered manager, creating and
// registering one on first use.
func RunManagerFor(db *sql.DB, datasetID string) *RunManager {
	rmMu.Lock()
	defer rmMu.Unlock()
	if m, ok := rmRegistry[datasetID]; ok {
		return m
	}
	m := NewRunManager(db, datasetID)
	rmRegistry[datasetID] = m
	return m
}

// DropRunManager forgets a dataset's manager, for dataset deletion.
func DropRunManager(datasetID string) {
	rmMu.Lock()
	defer rmMu.Unlock()
	delete(rmRegistry, datasetID)
}

// StartRun begins a new analysis run and returns its id. A second
// caller while a run is active gets ErrDatasetBusy.
func (m *RunManager) StartRun(paramsJSON string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentRun != nil {
		return "", fmt.Errorf("dataset %s has an active run %s: %w",
			m.datasetID, m.currentRun.RunID, ErrDatasetBusy)
	}

	runID := uuid.New().String()
	m.currentRun = &AnalysisRun{
		RunID:      runID,
		DatasetID:  m.datasetID,
		Status:     RunStatusRunning,
		ParamsJSON: paramsJSON,
	}

	if err := m.store.InsertRun(m.currentRun); err != nil {
		m.currentRun = nil
		return "", err
	}

	m.startTime = time.Now()
	m.totalFrames = 0
	m.totalDetections = 0
	m.tracksSeen = make(map[string]bool)
	m.dropReasons = make(map[string]int)
	m.countedEvents = 0

	log.Printf("[RunManager] Started run %s for dataset %s", runID, m.datasetID)
	return runID, nil
}

// RecordFrame increments the frame count for the current run.
func (m *RunManager) RecordFrame() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalFrames++
}

// RecordDetections adds to the detection count for the current run.
func (m *RunManager) RecordDetections(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalDetections += count
}

// RecordTrack records a finalized track id. Returns true the first time
// an id is seen during the run.
func (m *RunManager) RecordTrack(trackID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentRun == nil {
		return false
	}
	if m.tracksSeen[trackID] {
		return false
	}
	m.tracksSeen[trackID] = true
	return true
}

// RecordDrop tallies a track dropped before counting, by reason.
func (m *RunManager) RecordDrop(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.currentRun == nil {
		return
	}
	m.dropReasons[reason]++
}

// RecordEvent increments the counted-event tally.
func (m *RunManager) RecordEvent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.countedEvents++
}

// CompleteRun finalizes the current run with its statistics.
func (m *RunManager) CompleteRun() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentRun == nil {
		return nil
	}

	elapsed := time.Since(m.startTime)
	run := m.currentRun
	run.TotalFrames = m.totalFrames
	run.TotalDetections = m.totalDetections
	run.RawTracks = len(m.tracksSeen)
	run.CountedEvents = m.countedEvents
	run.DropReasons = m.dropReasons
	run.DurationMs = elapsed.Milliseconds()

	if err := m.store.CompleteRun(run); err != nil {
		return err
	}

	log.Printf("[RunManager] Completed run %s: %d frames, %d detections, %d tracks, %d events in %.2fs",
		run.RunID, run.TotalFrames, run.TotalDetections, run.RawTracks, run.CountedEvents, elapsed.Seconds())

	m.currentRun = nil
	return nil
}

// FailRun marks the current run as failed with an error message.
func (m *RunManager) FailRun(errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentRun == nil {
		return nil
	}

	elapsed := time.Since(m.startTime)
	if err := m.store.FailRun(m.currentRun.RunID, errMsg, elapsed.Milliseconds()); err != nil {
		return err
	}

	log.Printf("[RunManager] Failed run %s: %s", m.currentRun.RunID, errMsg)
	m.currentRun = nil
	return nil
}

// IsRunActive returns true if there's an active analysis run.
func (m *RunManager) IsRunActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentRun != nil
}

// CurrentRunID returns the current run ID, or empty string if no run is active.
func (m *RunManager) CurrentRunID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.currentRun == nil {
		return ""
	}
	return m.currentRun.RunID
}
