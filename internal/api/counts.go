package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/cruce-data/aforo.report/internal/aforo"
	"github.com/cruce-data/aforo.report/internal/units"
)

// countRate wraps one aggregate row with its value in the requested
// rate unit.
type countRate struct {
	aforo.MovementCount
	Rate float64 `json:"rate"`
}

// resolveUnits picks the rate unit for a response: the units query
// parameter when present, the server default otherwise. Reports "" and
// writes the error response when the parameter is invalid.
func (s *Server) resolveUnits(w http.ResponseWriter, r *http.Request) string {
	u := r.URL.Query().Get("units")
	if u == "" {
		return s.units
	}
	if !units.IsValid(u) {
		s.writeJSONError(w, http.StatusBadRequest,
			fmt.Sprintf("invalid units %q (valid: %s)", u, units.GetValidUnitsString()))
		return ""
	}
	return u
}

func rateRows(counts []aforo.MovementCount, unit string) []countRate {
	rows := make([]countRate, 0, len(counts))
	for _, c := range counts {
		minutes := int((c.IntervalEndMs - c.IntervalStartMs) / 60000)
		rows = append(rows, countRate{
			MovementCount: c,
			Rate:          units.ConvertRate(c.Total, minutes, unit),
		})
	}
	return rows
}

// handleStats returns the dataset's event statistics: totals, drop and
// hide counts, and per-class, per-origin and per-code breakdowns.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, datasetID string) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if _, err := s.datasets.Get(datasetID); err != nil {
		s.writeStoreError(w, err, "dataset")
		return
	}
	stats, err := s.events.GetStats(datasetID)
	if err != nil {
		s.writeStoreError(w, err, "dataset")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// handleIntervals lists every aggregation interval with data, ascending,
// with the total movement count per interval.
func (s *Server) handleIntervals(w http.ResponseWriter, r *http.Request, datasetID string) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if _, err := s.datasets.Get(datasetID); err != nil {
		s.writeStoreError(w, err, "dataset")
		return
	}
	intervals, err := s.counts.GetIntervals(datasetID)
	if err != nil {
		s.writeStoreError(w, err, "dataset")
		return
	}
	if intervals == nil {
		intervals = []aforo.IntervalTotal{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"intervals": intervals,
		"count":     len(intervals),
	})
}

// handleIntervalDetail returns one interval's counts in canonical RILSA
// order, converted to the requested rate unit.
func (s *Server) handleIntervalDetail(w http.ResponseWriter, r *http.Request, datasetID, startStr string) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	startMs, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid interval start: %q", startStr))
		return
	}
	if _, err := s.datasets.Get(datasetID); err != nil {
		s.writeStoreError(w, err, "dataset")
		return
	}
	unit := s.resolveUnits(w, r)
	if unit == "" {
		return
	}

	counts, err := s.counts.GetIntervalData(datasetID, startMs)
	if err != nil {
		s.writeStoreError(w, err, "dataset")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"dataset_id":        datasetID,
		"interval_start_ms": startMs,
		"units":             unit,
		"counts":            rateRows(counts, unit),
		"count":             len(counts),
	})
}

// handleCounts lists all of a dataset's aggregates in canonical RILSA
// order, then by interval, converted to the requested rate unit.
func (s *Server) handleCounts(w http.ResponseWriter, r *http.Request, datasetID string) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if _, err := s.datasets.Get(datasetID); err != nil {
		s.writeStoreError(w, err, "dataset")
		return
	}
	unit := s.resolveUnits(w, r)
	if unit == "" {
		return
	}

	counts, err := s.counts.ListCounts(datasetID)
	if err != nil {
		s.writeStoreError(w, err, "dataset")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"dataset_id": datasetID,
		"units":      unit,
		"counts":     rateRows(counts, unit),
		"count":      len(counts),
	})
}

// handleViolations summarizes events whose code the site configuration
// forbids. A dataset without forbidden movements reports an empty list.
func (s *Server) handleViolations(w http.ResponseWriter, r *http.Request, datasetID string) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if _, err := s.datasets.Get(datasetID); err != nil {
		s.writeStoreError(w, err, "dataset")
		return
	}

	var forbidden []aforo.ForbiddenMovement
	cfg, err := s.configs.Load(datasetID)
	if err != nil && !errors.Is(err, aforo.ErrConfigIncomplete) {
		s.writeStoreError(w, err, "configuration")
		return
	}
	if cfg != nil {
		forbidden = cfg.Forbidden
	}

	violations, err := s.events.GetViolations(datasetID, forbidden)
	if err != nil {
		s.writeStoreError(w, err, "dataset")
		return
	}
	if violations == nil {
		violations = []aforo.ViolationSummary{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"violations": violations,
		"forbidden":  len(forbidden),
		"count":      len(violations),
	})
}
