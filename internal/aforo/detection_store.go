package aforo

import (
	"database/sql"
	"errors"
	"fmt"
)

// DetectionStore handles database operations for raw detections.
type DetectionStore struct {
	db *sql.DB
}

// NewDetectionStore creates a new DetectionStore.
func NewDetectionStore(db *sql.DB) *DetectionStore {
	return &DetectionStore{db: db}
}

// ReplaceDetections atomically swaps a dataset's detections for dets.
// Rows carrying the same upstream track hint on the same frame collapse
// to one; unhinted rows (hint < 0) are kept as-is.
func (s *DetectionStore) ReplaceDetections(datasetID string, dets []Detection) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			Diagf("detection store: rollback failed: %v", err)
		}
	}()

	if _, err := tx.Exec("DELETE FROM detections WHERE dataset_id = ?", datasetID); err != nil {
		return fmt.Errorf("failed to clear detections: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO detections (dataset_id, frame, track_hint, x, y, w, h, class, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare detection insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range dets {
		if _, err := stmt.Exec(
			datasetID, d.Frame, d.TrackHint, d.X, d.Y, d.W, d.H, d.Class, d.Confidence,
		); err != nil {
			return fmt.Errorf("failed to insert detection: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit detections: %w", err)
	}
	return nil
}

// CountDetections returns the number of stored detections for a dataset.
func (s *DetectionStore) CountDetections(datasetID string) (int, error) {
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM detections WHERE dataset_id = ?", datasetID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count detections: %w", err)
	}
	return n, nil
}

// MaxFrame returns the highest frame index present, or -1 when the
// dataset has no detections.
func (s *DetectionStore) MaxFrame(datasetID string) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRow(
		"SELECT MAX(frame) FROM detections WHERE dataset_id = ?", datasetID,
	).Scan(&max)
	if err != nil {
		return -1, fmt.Errorf("failed to query max frame: %w", err)
	}
	if !max.Valid {
		return -1, nil
	}
	return int(max.Int64), nil
}

// ForEachFrame streams detections grouped by frame in ascending frame
// order. fn sees each frame that has at least one detection; frames
// with none are skipped (the caller advances its own frame clock).
// Returning an error from fn stops the scan.
func (s *DetectionStore) ForEachFrame(datasetID string, fn func(frame int, dets []Detection) error) error {
	rows, err := s.db.Query(`
		SELECT frame, track_hint, x, y, w, h, class, confidence
		FROM detections
		WHERE dataset_id = ?
		ORDER BY frame ASC, detection_id ASC
	`, datasetID)
	if err != nil {
		return fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var (
		batch   []Detection
		current = -1
	)
	flush := func() error {
		if current < 0 || len(batch) == 0 {
			return nil
		}
		if err := fn(current, batch); err != nil {
			return err
		}
		batch = nil
		return nil
	}

	for rows.Next() {
		var d Detection
		if err := rows.Scan(&d.Frame, &d.TrackHint, &d.X, &d.Y, &d.W, &d.H, &d.Class, &d.Confidence); err != nil {
			return fmt.Errorf("failed to scan detection row: %w", err)
		}
		if d.Frame != current {
			if err := flush(); err != nil {
				return err
			}
			current = d.Frame
		}
		batch = append(batch, d)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("detection scan: %w", err)
	}
	return flush()
}
