package aforo

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventStore handles database operations for trajectory events and
// their revision log.
type EventStore struct {
	db *sql.DB
}

// NewEventStore creates a new EventStore.
func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// EventFilter narrows GetEvents. Zero-valued fields are inactive.
type EventFilter struct {
	Class            string   `json:"class,omitempty"`
	Origin           Cardinal `json:"origin,omitempty"`
	RilsaCode        string   `json:"rilsa_code,omitempty"`
	TrackIDPrefix    string   `json:"track_id_prefix,omitempty"`
	IncludeDiscarded bool     `json:"include_discarded,omitempty"`
	Skip             int      `json:"skip,omitempty"`
	Limit            int      `json:"limit,omitempty"`
}

// EventStats summarizes a dataset's counted events. Discarded events
// contribute only to Total and Discarded.
type EventStats struct {
	Total          int            `json:"total"`
	Counted        int            `json:"counted"`
	Discarded      int            `json:"discarded"`
	Hidden         int            `json:"hidden"`
	ByClass        map[string]int `json:"by_class"`
	ByOrigin       map[string]int `json:"by_origin"`
	ByCode         map[string]int `json:"by_code"`
	MeanConfidence float64        `json:"mean_confidence"`
}

// ReplaceEvents atomically swaps a dataset's events for the given set.
// Revision history is kept; it outlives re-analysis.
func (s *EventStore) ReplaceEvents(datasetID string, events []TrajectoryEvent) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			Diagf("event store: rollback failed: %v", err)
		}
	}()

	if _, err := tx.Exec("DELETE FROM trajectory_events WHERE dataset_id = ?", datasetID); err != nil {
		return fmt.Errorf("failed to clear events: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO trajectory_events (
			dataset_id, track_id, class, origin, destination, rilsa_code,
			frame_entry, frame_exit, ts_entry_ms, ts_exit_ms,
			positions_json, confidence, hide_in_report, discarded
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare event insert: %w", err)
	}
	defer stmt.Close()

	for i := range events {
		ev := &events[i]
		positionsJSON, err := json.Marshal(ev.Positions)
		if err != nil {
			return fmt.Errorf("failed to marshal positions for track %s: %w", ev.TrackID, err)
		}
		if _, err := stmt.Exec(
			datasetID, ev.TrackID, ev.Class, string(ev.Origin), string(ev.Destination), ev.RilsaCode,
			ev.FrameEntry, ev.FrameExit, ev.TsEntryMs, ev.TsExitMs,
			string(positionsJSON), ev.Confidence, ev.HideInReport, ev.Discarded,
		); err != nil {
			return fmt.Errorf("failed to insert event for track %s: %w", ev.TrackID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit events: %w", err)
	}
	return nil
}

// UpsertEvent writes one event, replacing any previous row for the same
// track.
func (s *EventStore) UpsertEvent(datasetID string, ev *TrajectoryEvent) error {
	positionsJSON, err := json.Marshal(ev.Positions)
	if err != nil {
		return fmt.Errorf("failed to marshal positions: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO trajectory_events (
			dataset_id, track_id, class, origin, destination, rilsa_code,
			frame_entry, frame_exit, ts_entry_ms, ts_exit_ms,
			positions_json, confidence, hide_in_report, discarded
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (dataset_id, track_id) DO UPDATE SET
			class = excluded.class,
			origin = excluded.origin,
			destination = excluded.destination,
			rilsa_code = excluded.rilsa_code,
			frame_entry = excluded.frame_entry,
			frame_exit = excluded.frame_exit,
			ts_entry_ms = excluded.ts_entry_ms,
			ts_exit_ms = excluded.ts_exit_ms,
			positions_json = excluded.positions_json,
			confidence = excluded.confidence,
			hide_in_report = excluded.hide_in_report,
			discarded = excluded.discarded,
			updated_at = UNIXEPOCH('subsec')
	`, datasetID, ev.TrackID, ev.Class, string(ev.Origin), string(ev.Destination), ev.RilsaCode,
		ev.FrameEntry, ev.FrameExit, ev.TsEntryMs, ev.TsExitMs,
		string(positionsJSON), ev.Confidence, ev.HideInReport, ev.Discarded)
	if err != nil {
		return fmt.Errorf("failed to upsert event: %w", err)
	}
	return nil
}

// GetEvents returns events matching the filter in entry order, plus the
// total match count before paging.
func (s *EventStore) GetEvents(datasetID string, filter EventFilter) ([]TrajectoryEvent, int, error) {
	where := "WHERE dataset_id = ?"
	args := []interface{}{datasetID}

	if !filter.IncludeDiscarded {
		where += " AND discarded = 0"
	}
	if filter.Class != "" {
		where += " AND class = ?"
		args = append(args, filter.Class)
	}
	if filter.Origin != "" {
		where += " AND origin = ?"
		args = append(args, string(filter.Origin))
	}
	if filter.RilsaCode != "" {
		where += " AND rilsa_code = ?"
		args = append(args, filter.RilsaCode)
	}
	if filter.TrackIDPrefix != "" {
		where += " AND track_id LIKE ? ESCAPE '\\'"
		args = append(args, escapeLike(filter.TrackIDPrefix)+"%")
	}

	var total int
	if err := s.db.QueryRow(
		"SELECT COUNT(*) FROM trajectory_events "+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT track_id, class, origin, destination, rilsa_code,
		       frame_entry, frame_exit, ts_entry_ms, ts_exit_ms,
		       positions_json, confidence, hide_in_report, discarded
		FROM trajectory_events ` + where + `
		ORDER BY frame_entry ASC, track_id ASC
		LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Skip)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []TrajectoryEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, *ev)
	}
	return events, total, rows.Err()
}

// GetEventByTrack returns one event by track id, or ErrUnknownTrack.
func (s *EventStore) GetEventByTrack(datasetID, trackID string) (*TrajectoryEvent, error) {
	row := s.db.QueryRow(`
		SELECT track_id, class, origin, destination, rilsa_code,
		       frame_entry, frame_exit, ts_entry_ms, ts_exit_ms,
		       positions_json, confidence, hide_in_report, discarded
		FROM trajectory_events
		WHERE dataset_id = ? AND track_id = ?
	`, datasetID, trackID)
	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("track %s: %w", trackID, ErrUnknownTrack)
		}
		return nil, err
	}
	return ev, nil
}

// LoadEventsForRebuild returns every event with the fields aggregation
// needs. Positions are not loaded.
func (s *EventStore) LoadEventsForRebuild(datasetID string) ([]TrajectoryEvent, error) {
	rows, err := s.db.Query(`
		SELECT track_id, class, rilsa_code, ts_exit_ms, hide_in_report, discarded
		FROM trajectory_events
		WHERE dataset_id = ?
	`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load events for rebuild: %w", err)
	}
	defer rows.Close()

	var events []TrajectoryEvent
	for rows.Next() {
		var ev TrajectoryEvent
		if err := rows.Scan(&ev.TrackID, &ev.Class, &ev.RilsaCode, &ev.TsExitMs, &ev.HideInReport, &ev.Discarded); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// GetStats summarizes a dataset's events. Breakdown maps cover counted
// (non-discarded) events only.
func (s *EventStore) GetStats(datasetID string) (*EventStats, error) {
	stats := &EventStats{
		ByClass:  make(map[string]int),
		ByOrigin: make(map[string]int),
		ByCode:   make(map[string]int),
	}

	var mean sql.NullFloat64
	err := s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(discarded), 0),
		       COALESCE(SUM(CASE WHEN discarded = 0 THEN hide_in_report ELSE 0 END), 0),
		       AVG(CASE WHEN discarded = 0 THEN confidence END)
		FROM trajectory_events
		WHERE dataset_id = ?
	`, datasetID).Scan(&stats.Total, &stats.Discarded, &stats.Hidden, &mean)
	if err != nil {
		return nil, fmt.Errorf("failed to query event totals: %w", err)
	}
	stats.Counted = stats.Total - stats.Discarded
	if mean.Valid {
		stats.MeanConfidence = mean.Float64
	}

	if err := s.groupCounts(datasetID, "class", stats.ByClass); err != nil {
		return nil, err
	}
	if err := s.groupCounts(datasetID, "origin", stats.ByOrigin); err != nil {
		return nil, err
	}
	if err := s.groupCounts(datasetID, "rilsa_code", stats.ByCode); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *EventStore) groupCounts(datasetID, column string, dest map[string]int) error {
	rows, err := s.db.Query(`
		SELECT `+column+`, COUNT(*)
		FROM trajectory_events
		WHERE dataset_id = ? AND discarded = 0
		GROUP BY `+column, datasetID)
	if err != nil {
		return fmt.Errorf("failed to group events by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("failed to scan %s group: %w", column, err)
		}
		dest[key] = n
	}
	return rows.Err()
}

// QCSummary compares the tracker's raw output with what survived into
// the report.
type QCSummary struct {
	TotalTracksRaw   int            `json:"total_tracks_raw"`
	CountedTracks    int            `json:"counted_tracks"`
	CountsByClass    map[string]int `json:"counts_by_class"`
	CountsByMovement map[string]int `json:"counts_by_movement"`
}

// GetQCSummary reports raw-versus-counted track totals for a dataset.
// TotalTracksRaw comes from the latest completed analysis run and is 0
// when the dataset has never been analysed.
func (s *EventStore) GetQCSummary(datasetID string) (*QCSummary, error) {
	sum := &QCSummary{
		CountsByClass:    make(map[string]int),
		CountsByMovement: make(map[string]int),
	}

	err := s.db.QueryRow(`
		SELECT raw_tracks
		FROM analysis_runs
		WHERE dataset_id = ? AND status = ?
		ORDER BY created_at DESC, run_id DESC
		LIMIT 1
	`, datasetID, RunStatusComplete).Scan(&sum.TotalTracksRaw)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to query latest run raw tracks: %w", err)
	}

	err = s.db.QueryRow(`
		SELECT COUNT(*)
		FROM trajectory_events
		WHERE dataset_id = ? AND discarded = 0
	`, datasetID).Scan(&sum.CountedTracks)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}

	if err := s.groupCounts(datasetID, "class", sum.CountsByClass); err != nil {
		return nil, err
	}
	if err := s.groupCounts(datasetID, "rilsa_code", sum.CountsByMovement); err != nil {
		return nil, err
	}
	return sum, nil
}

// ViolationSummary is the per-code rollup of counted events whose
// movement is on the dataset's forbidden list.
type ViolationSummary struct {
	RilsaCode   string `json:"rilsa_code"`
	Description string `json:"description"`
	Count       int    `json:"count"`
}

// GetViolations rolls up counted events by forbidden RILSA code,
// preserving the forbidden-list order. Codes with no events are
// omitted.
func (s *EventStore) GetViolations(datasetID string, forbidden []ForbiddenMovement) ([]ViolationSummary, error) {
	if len(forbidden) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(forbidden))
	args := []interface{}{datasetID}
	for i, f := range forbidden {
		placeholders[i] = "?"
		args = append(args, f.RilsaCode)
	}

	rows, err := s.db.Query(`
		SELECT rilsa_code, COUNT(*)
		FROM trajectory_events
		WHERE dataset_id = ? AND discarded = 0 AND rilsa_code IN (`+strings.Join(placeholders, ", ")+`)
		GROUP BY rilsa_code
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query violations: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var code string
		var n int
		if err := rows.Scan(&code, &n); err != nil {
			return nil, fmt.Errorf("failed to scan violation row: %w", err)
		}
		counts[code] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var summaries []ViolationSummary
	seen := make(map[string]bool)
	for _, f := range forbidden {
		if seen[f.RilsaCode] {
			continue
		}
		seen[f.RilsaCode] = true
		if n := counts[f.RilsaCode]; n > 0 {
			summaries = append(summaries, ViolationSummary{
				RilsaCode:   f.RilsaCode,
				Description: f.Description,
				Count:       n,
			})
		}
	}
	return summaries, nil
}

// AppendRevision records one revision log entry for a track's event.
func (s *EventStore) AppendRevision(datasetID, trackID string, rev Revision) error {
	at := rev.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO event_revisions (dataset_id, track_id, version, changes, changed_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, datasetID, trackID, rev.Version, rev.Changes, rev.ChangedBy, float64(at.UnixMilli())/1000.0)
	if err != nil {
		return fmt.Errorf("failed to append revision: %w", err)
	}
	return nil
}

// ListRevisions returns a track's revision log, oldest first.
func (s *EventStore) ListRevisions(datasetID, trackID string) ([]Revision, error) {
	rows, err := s.db.Query(`
		SELECT version, changes, changed_by, created_at
		FROM event_revisions
		WHERE dataset_id = ? AND track_id = ?
		ORDER BY version ASC
	`, datasetID, trackID)
	if err != nil {
		return nil, fmt.Errorf("failed to list revisions: %w", err)
	}
	defer rows.Close()

	var revisions []Revision
	for rows.Next() {
		var rev Revision
		var createdAt float64
		if err := rows.Scan(&rev.Version, &rev.Changes, &rev.ChangedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan revision row: %w", err)
		}
		rev.Timestamp = time.UnixMilli(int64(createdAt * 1000.0))
		revisions = append(revisions, rev)
	}
	return revisions, rows.Err()
}

// MaxRevisionVersion returns the highest revision version for a track,
// or 0 when it has none.
func (s *EventStore) MaxRevisionVersion(datasetID, trackID string) (int, error) {
	var version int
	err := s.db.QueryRow(`
		SELECT COALESCE(MAX(version), 0)
		FROM event_revisions
		WHERE dataset_id = ? AND track_id = ?
	`, datasetID, trackID).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to query max revision version: %w", err)
	}
	return version, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(r rowScanner) (*TrajectoryEvent, error) {
	var ev TrajectoryEvent
	var positionsJSON string
	err := r.Scan(
		&ev.TrackID, &ev.Class, &ev.Origin, &ev.Destination, &ev.RilsaCode,
		&ev.FrameEntry, &ev.FrameExit, &ev.TsEntryMs, &ev.TsExitMs,
		&positionsJSON, &ev.Confidence, &ev.HideInReport, &ev.Discarded,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan event row: %w", err)
	}
	if positionsJSON != "" {
		if err := json.Unmarshal([]byte(positionsJSON), &ev.Positions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal positions for track %s: %w", ev.TrackID, err)
		}
	}
	return &ev, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
