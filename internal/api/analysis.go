package api

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/cruce-data/aforo.report/internal/aforo"
)

// handleAnalyze starts a background analysis of the dataset and returns
// the run id for polling. A dataset runs one analysis at a time;
// starting while one is active reports a conflict.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request, datasetID string) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	runID, err := s.pipeline.AnalyzeAsync(datasetID)
	if err != nil {
		s.writeStoreError(w, err, "dataset")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"run_id":     runID,
		"dataset_id": datasetID,
		"status":     "running",
	})
}

// handleRuns lists a dataset's analysis runs, newest first.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request, datasetID string) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if _, err := s.datasets.Get(datasetID); err != nil {
		s.writeStoreError(w, err, "dataset")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit: %q", v))
			return
		}
		limit = n
	}

	runs, err := s.runs.ListRuns(datasetID, limit)
	if err != nil {
		s.writeStoreError(w, err, "dataset")
		return
	}
	if runs == nil {
		runs = []*aforo.AnalysisRun{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// handleRunByID returns one analysis run.
func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	run, err := s.runs.GetRun(runID)
	if err != nil {
		s.writeStoreError(w, err, "run")
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

// handleQC summarizes a dataset's pipeline health in one response: raw
// versus counted track totals, the latest run, and whether aggregates
// lag the events.
func (s *Server) handleQC(w http.ResponseWriter, r *http.Request, datasetID string) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	dataset, err := s.datasets.Get(datasetID)
	if err != nil {
		s.writeStoreError(w, err, "dataset")
		return
	}

	summary, err := s.events.GetQCSummary(datasetID)
	if err != nil {
		s.writeStoreError(w, err, "dataset")
		return
	}

	latest, err := s.runs.LatestRun(datasetID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		s.writeStoreError(w, err, "dataset")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"dataset_id":       datasetID,
		"summary":          summary,
		"latest_run":       latest,
		"run_active":       aforo.RunManagerFor(s.db.DB, datasetID).IsRunActive(),
		"aggregates_stale": dataset.EventsChangedAt > dataset.CountsRebuiltAt,
	})
}
