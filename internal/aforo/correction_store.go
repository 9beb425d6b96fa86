package aforo

import (
	"database/sql"
	"errors"
	"fmt"
)

// CorrectionStore persists manual corrections. Corrections survive
// re-analysis; the pipeline reapplies them to freshly built events.
type CorrectionStore struct {
	db *sql.DB
}

// NewCorrectionStore creates a new CorrectionStore.
func NewCorrectionStore(db *sql.DB) *CorrectionStore {
	return &CorrectionStore{db: db}
}

// Upsert writes a track's correction, replacing any previous one.
func (s *CorrectionStore) Upsert(datasetID string, c TrajectoryCorrection) error {
	var newOrigin, newDest, newClass interface{}
	if c.NewOrigin != nil {
		newOrigin = string(*c.NewOrigin)
	}
	if c.NewDest != nil {
		newDest = string(*c.NewDest)
	}
	if c.NewClass != nil {
		newClass = *c.NewClass
	}

	_, err := s.db.Exec(`
		INSERT INTO trajectory_corrections (dataset_id, track_id, new_origin, new_dest, new_class, discard, hide_in_report, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, UNIXEPOCH('subsec'))
		ON CONFLICT (dataset_id, track_id) DO UPDATE SET
			new_origin = excluded.new_origin,
			new_dest = excluded.new_dest,
			new_class = excluded.new_class,
			discard = excluded.discard,
			hide_in_report = excluded.hide_in_report,
			updated_at = excluded.updated_at
	`, datasetID, c.TrackID, newOrigin, newDest, newClass, c.Discard, c.HideInReport)
	if err != nil {
		return fmt.Errorf("failed to upsert correction: %w", err)
	}
	return nil
}

// Get returns a track's correction, or nil when it has none.
func (s *CorrectionStore) Get(datasetID, trackID string) (*TrajectoryCorrection, error) {
	c := TrajectoryCorrection{TrackID: trackID}
	var newOrigin, newDest, newClass sql.NullString
	err := s.db.QueryRow(`
		SELECT new_origin, new_dest, new_class, discard, hide_in_report
		FROM trajectory_corrections
		WHERE dataset_id = ? AND track_id = ?
	`, datasetID, trackID).Scan(&newOrigin, &newDest, &newClass, &c.Discard, &c.HideInReport)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get correction: %w", err)
	}
	if newOrigin.Valid {
		o := Cardinal(newOrigin.String)
		c.NewOrigin = &o
	}
	if newDest.Valid {
		d := Cardinal(newDest.String)
		c.NewDest = &d
	}
	if newClass.Valid {
		cl := newClass.String
		c.NewClass = &cl
	}
	return &c, nil
}

// LoadAll returns a dataset's corrections keyed by track id.
func (s *CorrectionStore) LoadAll(datasetID string) (map[string]TrajectoryCorrection, error) {
	corrections, err := s.List(datasetID)
	if err != nil {
		return nil, err
	}
	byTrack := make(map[string]TrajectoryCorrection, len(corrections))
	for _, c := range corrections {
		byTrack[c.TrackID] = c
	}
	return byTrack, nil
}

// List returns a dataset's corrections ordered by track id.
func (s *CorrectionStore) List(datasetID string) ([]TrajectoryCorrection, error) {
	rows, err := s.db.Query(`
		SELECT track_id, new_origin, new_dest, new_class, discard, hide_in_report
		FROM trajectory_corrections
		WHERE dataset_id = ?
		ORDER BY track_id ASC
	`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list corrections: %w", err)
	}
	defer rows.Close()

	var corrections []TrajectoryCorrection
	for rows.Next() {
		var c TrajectoryCorrection
		var newOrigin, newDest, newClass sql.NullString
		if err := rows.Scan(&c.TrackID, &newOrigin, &newDest, &newClass, &c.Discard, &c.HideInReport); err != nil {
			return nil, fmt.Errorf("failed to scan correction row: %w", err)
		}
		if newOrigin.Valid {
			o := Cardinal(newOrigin.String)
			c.NewOrigin = &o
		}
		if newDest.Valid {
			d := Cardinal(newDest.String)
			c.NewDest = &d
		}
		if newClass.Valid {
			cl := newClass.String
			c.NewClass = &cl
		}
		corrections = append(corrections, c)
	}
	return corrections, rows.Err()
}
