package aforo

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Analysis run lifecycle states.
const (
	RunStatusRunning  = "running"
	RunStatusComplete = "complete"
	RunStatusFailed   = "failed"
)

// AnalysisRun records one pipeline execution over a dataset, with the
// quality-control tallies gathered along the way.
type AnalysisRun struct {
	RunID           string         `json:"run_id"`
	DatasetID       string         `json:"dataset_id"`
	Status          string         `json:"status"`
	Error           string         `json:"error,omitempty"`
	ParamsJSON      string         `json:"params_json,omitempty"`
	TotalFrames     int            `json:"total_frames"`
	TotalDetections int            `json:"total_detections"`
	RawTracks       int            `json:"raw_tracks"`
	CountedEvents   int            `json:"counted_events"`
	DropReasons     map[string]int `json:"drop_reasons,omitempty"`
	DurationMs      int64          `json:"duration_ms"`
	CreatedAt       float64        `json:"created_at"`
	CompletedAt     *float64       `json:"completed_at,omitempty"`
}

// RunStore handles database operations for analysis runs.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// InsertRun records a newly started run.
func (s *RunStore) InsertRun(run *AnalysisRun) error {
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	params := run.ParamsJSON
	if params == "" {
		params = "{}"
	}
	_, err := s.db.Exec(`
		INSERT INTO analysis_runs (run_id, dataset_id, status, params_json)
		VALUES (?, ?, ?, ?)
	`, run.RunID, run.DatasetID, run.Status, params)
	if err != nil {
		return fmt.Errorf("failed to insert analysis run: %w", err)
	}
	return nil
}

// CompleteRun marks a run finished and stores its tallies.
func (s *RunStore) CompleteRun(run *AnalysisRun) error {
	dropJSON, err := json.Marshal(run.DropReasons)
	if err != nil {
		return fmt.Errorf("failed to marshal drop reasons: %w", err)
	}
	result, err := s.db.Exec(`
		UPDATE analysis_runs
		SET status = ?, total_frames = ?, total_detections = ?, raw_tracks = ?,
		    counted_events = ?, drop_reasons_json = ?, duration_ms = ?,
		    completed_at = UNIXEPOCH('subsec')
		WHERE run_id = ?
	`, RunStatusComplete, run.TotalFrames, run.TotalDetections, run.RawTracks,
		run.CountedEvents, string(dropJSON), run.DurationMs, run.RunID)
	if err != nil {
		return fmt.Errorf("failed to complete analysis run: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete run rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// FailRun marks a run failed with its error message.
func (s *RunStore) FailRun(runID, message string, durationMs int64) error {
	result, err := s.db.Exec(`
		UPDATE analysis_runs
		SET status = ?, error = ?, duration_ms = ?, completed_at = UNIXEPOCH('subsec')
		WHERE run_id = ?
	`, RunStatusFailed, message, durationMs, runID)
	if err != nil {
		return fmt.Errorf("failed to fail analysis run: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("fail run rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetRun returns one run by id, or sql.ErrNoRows.
func (s *RunStore) GetRun(runID string) (*AnalysisRun, error) {
	row := s.db.QueryRow(`
		SELECT run_id, dataset_id, status, error, params_json,
		       total_frames, total_detections, raw_tracks, counted_events,
		       drop_reasons_json, duration_ms, created_at, completed_at
		FROM analysis_runs
		WHERE run_id = ?
	`, runID)
	return scanRun(row)
}

// LatestRun returns a dataset's most recent run, or sql.ErrNoRows when
// it has never been analysed.
func (s *RunStore) LatestRun(datasetID string) (*AnalysisRun, error) {
	row := s.db.QueryRow(`
		SELECT run_id, dataset_id, status, error, params_json,
		       total_frames, total_detections, raw_tracks, counted_events,
		       drop_reasons_json, duration_ms, created_at, completed_at
		FROM analysis_runs
		WHERE dataset_id = ?
		ORDER BY created_at DESC, run_id DESC
		LIMIT 1
	`, datasetID)
	return scanRun(row)
}

// ListRuns returns a dataset's runs, newest first.
func (s *RunStore) ListRuns(datasetID string, limit int) ([]*AnalysisRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT run_id, dataset_id, status, error, params_json,
		       total_frames, total_detections, raw_tracks, counted_events,
		       drop_reasons_json, duration_ms, created_at, completed_at
		FROM analysis_runs
		WHERE dataset_id = ?
		ORDER BY created_at DESC, run_id DESC
		LIMIT ?
	`, datasetID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list analysis runs: %w", err)
	}
	defer rows.Close()

	var runs []*AnalysisRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(r rowScanner) (*AnalysisRun, error) {
	run := &AnalysisRun{}
	var dropJSON string
	var completedAt sql.NullFloat64
	err := r.Scan(
		&run.RunID, &run.DatasetID, &run.Status, &run.Error, &run.ParamsJSON,
		&run.TotalFrames, &run.TotalDetections, &run.RawTracks, &run.CountedEvents,
		&dropJSON, &run.DurationMs, &run.CreatedAt, &completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan analysis run: %w", err)
	}
	if dropJSON != "" && dropJSON != "{}" {
		if err := json.Unmarshal([]byte(dropJSON), &run.DropReasons); err != nil {
			return nil, fmt.Errorf("failed to unmarshal drop reasons: %w", err)
		}
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Float64
	}
	return run, nil
}
