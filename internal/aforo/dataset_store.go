package aforo

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Dataset is one capture session: a detection dump plus its
// configuration, events and aggregates. Times in the bookkeeping fields
// are unix seconds; BaseMs anchors the capture clock in unix
// milliseconds.
type Dataset struct {
	ID                   string   `json:"dataset_id"`
	Name                 string   `json:"name"`
	BaseMs               int64    `json:"base_time_ms"`
	Width                int      `json:"width"`
	Height               int      `json:"height"`
	FPS                  float64  `json:"fps"`
	Timezone             string   `json:"timezone"`
	DetectionsImportedAt *float64 `json:"detections_imported_at,omitempty"`
	EventsChangedAt      float64  `json:"events_changed_at,omitempty"`
	CountsRebuiltAt      float64  `json:"counts_rebuilt_at,omitempty"`
	CreatedAt            float64  `json:"created_at,omitempty"`
}

// HistoryEntry is one row of a dataset's append-only audit log.
type HistoryEntry struct {
	ID        int64   `json:"history_id"`
	DatasetID string  `json:"dataset_id"`
	Action    string  `json:"action"`
	Details   string  `json:"details,omitempty"`
	CreatedAt float64 `json:"created_at"`
}

// DatasetStore handles database operations for datasets and their audit
// history.
type DatasetStore struct {
	db *sql.DB
}

// NewDatasetStore creates a new DatasetStore.
func NewDatasetStore(db *sql.DB) *DatasetStore {
	return &DatasetStore{db: db}
}

// Insert creates a new dataset. If d.ID is empty, a new UUID is
// generated.
func (s *DatasetStore) Insert(d *Dataset) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Width <= 0 {
		d.Width = 1280
	}
	if d.Height <= 0 {
		d.Height = 720
	}
	if d.FPS <= 0 {
		d.FPS = 30.0
	}
	if d.Timezone == "" {
		d.Timezone = "UTC"
	}

	_, err := s.db.Exec(`
		INSERT INTO datasets (dataset_id, name, base_time_ms, width, height, fps, timezone)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.Name, d.BaseMs, d.Width, d.Height, d.FPS, d.Timezone)
	if err != nil {
		return fmt.Errorf("failed to insert dataset: %w", err)
	}
	return nil
}

// Get returns one dataset by id, or sql.ErrNoRows.
func (s *DatasetStore) Get(datasetID string) (*Dataset, error) {
	d := &Dataset{}
	var imported sql.NullFloat64
	err := s.db.QueryRow(`
		SELECT dataset_id, name, base_time_ms, width, height, fps, timezone,
		       detections_imported_at, events_changed_at, counts_rebuilt_at, created_at
		FROM datasets
		WHERE dataset_id = ?
	`, datasetID).Scan(
		&d.ID, &d.Name, &d.BaseMs, &d.Width, &d.Height, &d.FPS, &d.Timezone,
		&imported, &d.EventsChangedAt, &d.CountsRebuiltAt, &d.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get dataset: %w", err)
	}
	if imported.Valid {
		d.DetectionsImportedAt = &imported.Float64
	}
	return d, nil
}

// List returns all datasets, newest first.
func (s *DatasetStore) List() ([]*Dataset, error) {
	rows, err := s.db.Query(`
		SELECT dataset_id, name, base_time_ms, width, height, fps, timezone,
		       detections_imported_at, events_changed_at, counts_rebuilt_at, created_at
		FROM datasets
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	defer rows.Close()

	var datasets []*Dataset
	for rows.Next() {
		d := &Dataset{}
		var imported sql.NullFloat64
		if err := rows.Scan(
			&d.ID, &d.Name, &d.BaseMs, &d.Width, &d.Height, &d.FPS, &d.Timezone,
			&imported, &d.EventsChangedAt, &d.CountsRebuiltAt, &d.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan dataset row: %w", err)
		}
		if imported.Valid {
			d.DetectionsImportedAt = &imported.Float64
		}
		datasets = append(datasets, d)
	}
	return datasets, rows.Err()
}

// Delete removes a dataset; detections, events, corrections, counts and
// history cascade.
func (s *DatasetStore) Delete(datasetID string) error {
	result, err := s.db.Exec("DELETE FROM datasets WHERE dataset_id = ?", datasetID)
	if err != nil {
		return fmt.Errorf("failed to delete dataset: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete dataset rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateCapture records the capture parameters discovered at import.
func (s *DatasetStore) UpdateCapture(datasetID string, baseMs int64, meta DatasetMeta) error {
	_, err := s.db.Exec(`
		UPDATE datasets
		SET base_time_ms = ?, width = ?, height = ?, fps = ?
		WHERE dataset_id = ?
	`, baseMs, meta.Width, meta.Height, meta.FPS, datasetID)
	if err != nil {
		return fmt.Errorf("failed to update dataset capture: %w", err)
	}
	return nil
}

// UpdateInfo updates the user-editable dataset fields. The caller is
// responsible for validating the timezone.
func (s *DatasetStore) UpdateInfo(datasetID, name, timezone string) error {
	result, err := s.db.Exec(`
		UPDATE datasets SET name = ?, timezone = ?
		WHERE dataset_id = ?
	`, name, timezone, datasetID)
	if err != nil {
		return fmt.Errorf("failed to update dataset info: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update dataset info rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkDetectionsImported timestamps a completed detection import.
func (s *DatasetStore) MarkDetectionsImported(datasetID string) error {
	_, err := s.db.Exec(`
		UPDATE datasets SET detections_imported_at = UNIXEPOCH('subsec')
		WHERE dataset_id = ?
	`, datasetID)
	if err != nil {
		return fmt.Errorf("failed to mark detections imported: %w", err)
	}
	return nil
}

// TouchEventsChanged marks the dataset's events as newer than its
// aggregates; the rebuild worker picks it up.
func (s *DatasetStore) TouchEventsChanged(datasetID string) error {
	_, err := s.db.Exec(`
		UPDATE datasets SET events_changed_at = UNIXEPOCH('subsec')
		WHERE dataset_id = ?
	`, datasetID)
	if err != nil {
		return fmt.Errorf("failed to touch events changed: %w", err)
	}
	return nil
}

// SetCountsRebuilt records a completed aggregate rebuild. asOf must be
// the events_changed_at value read before the rebuild started, so a
// change landing mid-rebuild keeps the dataset stale.
func (s *DatasetStore) SetCountsRebuilt(datasetID string, asOf float64) error {
	_, err := s.db.Exec(`
		UPDATE datasets SET counts_rebuilt_at = ?
		WHERE dataset_id = ?
	`, asOf, datasetID)
	if err != nil {
		return fmt.Errorf("failed to mark counts rebuilt: %w", err)
	}
	return nil
}

// StaleDatasets returns ids whose events changed after the last count
// rebuild.
func (s *DatasetStore) StaleDatasets() ([]string, error) {
	rows, err := s.db.Query(`
		SELECT dataset_id FROM datasets
		WHERE events_changed_at > counts_rebuilt_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale datasets: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan stale dataset id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecordHistory appends one action to the dataset audit log.
func (s *DatasetStore) RecordHistory(datasetID, action, details string) error {
	_, err := s.db.Exec(`
		INSERT INTO dataset_history (dataset_id, action, details)
		VALUES (?, ?, ?)
	`, datasetID, action, details)
	if err != nil {
		return fmt.Errorf("failed to record history: %w", err)
	}
	return nil
}

// ListHistory returns the newest limit audit entries for a dataset.
func (s *DatasetStore) ListHistory(datasetID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT history_id, dataset_id, action, details, created_at
		FROM dataset_history
		WHERE dataset_id = ?
		ORDER BY history_id DESC
		LIMIT ?
	`, datasetID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.DatasetID, &e.Action, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
