package aforo

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
)

// CountStore persists the 15-minute aggregates. Rows are per
// (code, interval, class); reads group them back into MovementCount.
type CountStore struct {
	db *sql.DB
}

// NewCountStore creates a new CountStore.
func NewCountStore(db *sql.DB) *CountStore {
	return &CountStore{db: db}
}

// IntervalTotal is one aggregation interval with its total across all
// codes and classes.
type IntervalTotal struct {
	IntervalStartMs int64 `json:"interval_start_ms"`
	IntervalEndMs   int64 `json:"interval_end_ms"`
	Total           int   `json:"total"`
}

// ReplaceMovementCounts atomically swaps a dataset's aggregates.
func (s *CountStore) ReplaceMovementCounts(datasetID string, counts []MovementCount) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			Diagf("count store: rollback failed: %v", err)
		}
	}()

	if _, err := tx.Exec("DELETE FROM movement_counts WHERE dataset_id = ?", datasetID); err != nil {
		return fmt.Errorf("failed to clear movement counts: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO movement_counts (dataset_id, rilsa_code, interval_start_ms, interval_end_ms, class, count)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare count insert: %w", err)
	}
	defer stmt.Close()

	for _, mc := range counts {
		for class, n := range mc.CountsByClass {
			if n == 0 {
				continue
			}
			if _, err := stmt.Exec(
				datasetID, mc.RilsaCode, mc.IntervalStartMs, mc.IntervalEndMs, class, n,
			); err != nil {
				return fmt.Errorf("failed to insert movement count: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit movement counts: %w", err)
	}
	return nil
}

// GetIntervals returns every aggregation interval with data, ascending.
func (s *CountStore) GetIntervals(datasetID string) ([]IntervalTotal, error) {
	rows, err := s.db.Query(`
		SELECT interval_start_ms, MAX(interval_end_ms), SUM(count)
		FROM movement_counts
		WHERE dataset_id = ?
		GROUP BY interval_start_ms
		ORDER BY interval_start_ms ASC
	`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query intervals: %w", err)
	}
	defer rows.Close()

	var intervals []IntervalTotal
	for rows.Next() {
		var it IntervalTotal
		if err := rows.Scan(&it.IntervalStartMs, &it.IntervalEndMs, &it.Total); err != nil {
			return nil, fmt.Errorf("failed to scan interval row: %w", err)
		}
		intervals = append(intervals, it)
	}
	return intervals, rows.Err()
}

// GetIntervalData returns one interval's counts in canonical RILSA
// order.
func (s *CountStore) GetIntervalData(datasetID string, intervalStartMs int64) ([]MovementCount, error) {
	return s.queryCounts(`
		SELECT rilsa_code, interval_start_ms, interval_end_ms, class, count
		FROM movement_counts
		WHERE dataset_id = ? AND interval_start_ms = ?
	`, datasetID, intervalStartMs)
}

// ListCounts returns all of a dataset's aggregates in canonical RILSA
// order, then by interval.
func (s *CountStore) ListCounts(datasetID string) ([]MovementCount, error) {
	return s.queryCounts(`
		SELECT rilsa_code, interval_start_ms, interval_end_ms, class, count
		FROM movement_counts
		WHERE dataset_id = ?
	`, datasetID)
}

func (s *CountStore) queryCounts(query string, args ...interface{}) ([]MovementCount, error) {
	datasetID, _ := args[0].(string)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query movement counts: %w", err)
	}
	defer rows.Close()

	type key struct {
		code     string
		interval int64
	}
	grouped := make(map[key]*MovementCount)
	for rows.Next() {
		var (
			code       string
			start, end int64
			class      string
			n          int
		)
		if err := rows.Scan(&code, &start, &end, &class, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count row: %w", err)
		}
		k := key{code: code, interval: start}
		mc, ok := grouped[k]
		if !ok {
			mc = &MovementCount{
				DatasetID:       datasetID,
				RilsaCode:       code,
				IntervalStartMs: start,
				IntervalEndMs:   end,
				CountsByClass:   make(map[string]int),
			}
			grouped[k] = mc
		}
		mc.CountsByClass[class] += n
		mc.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	counts := make([]MovementCount, 0, len(grouped))
	for _, mc := range grouped {
		counts = append(counts, *mc)
	}
	sort.Slice(counts, func(i, j int) bool {
		oi, oj := CodeOrdinal(counts[i].RilsaCode), CodeOrdinal(counts[j].RilsaCode)
		if oi != oj {
			return oi < oj
		}
		// Codes outside the canonical list share an ordinal; order them
		// by string so the listing stays stable.
		if counts[i].RilsaCode != counts[j].RilsaCode {
			return counts[i].RilsaCode < counts[j].RilsaCode
		}
		return counts[i].IntervalStartMs < counts[j].IntervalStartMs
	})
	return counts, nil
}
