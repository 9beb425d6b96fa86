package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/cruce-data/aforo.report/internal/aforo"
	"github.com/cruce-data/aforo.report/internal/units"
)

// handleDatasets handles list and create operations on the dataset
// collection.
func (s *Server) handleDatasets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListDatasets(w, r)
	case http.MethodPost:
		s.handleCreateDataset(w, r)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	datasets, err := s.datasets.List()
	if err != nil {
		s.writeStoreError(w, err, "datasets")
		return
	}
	if datasets == nil {
		datasets = []*aforo.Dataset{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"datasets": datasets,
		"count":    len(datasets),
	})
}

func (s *Server) handleCreateDataset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Timezone string `json:"timezone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.writeJSONError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Timezone != "" && !units.IsTimezoneValid(req.Timezone) {
		s.writeJSONError(w, http.StatusBadRequest,
			fmt.Sprintf("invalid timezone %q (examples: %s)", req.Timezone, units.GetValidTimezonesString()))
		return
	}

	dataset := &aforo.Dataset{
		Name:     strings.TrimSpace(req.Name),
		Timezone: req.Timezone,
	}
	if err := s.datasets.Insert(dataset); err != nil {
		s.writeStoreError(w, err, "dataset")
		return
	}
	if err := s.datasets.RecordHistory(dataset.ID, "created", dataset.Name); err != nil {
		s.writeStoreError(w, err, "dataset")
		return
	}

	created, err := s.datasets.Get(dataset.ID)
	if err != nil {
		s.writeStoreError(w, err, "dataset")
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

// handleDatasetSubtree routes everything under /api/datasets/{id}/...
// to the per-dataset handlers.
func (s *Server) handleDatasetSubtree(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/datasets/")
	parts := strings.SplitN(path, "/", 2)

	datasetID := strings.TrimSpace(parts[0])
	if datasetID == "" {
		s.writeJSONError(w, http.StatusBadRequest, "dataset_id is required")
		return
	}
	rest := ""
	if len(parts) == 2 {
		rest = parts[1]
	}

	switch {
	case rest == "":
		s.handleDatasetByID(w, r, datasetID)
	case rest == "config":
		s.handleDatasetConfig(w, r, datasetID)
	case rest == "detections":
		s.handleDetectionsUpload(w, r, datasetID)
	case rest == "import":
		s.handleImport(w, r, datasetID)
	case rest == "analyze":
		s.handleAnalyze(w, r, datasetID)
	case rest == "events":
		s.handleEvents(w, r, datasetID)
	case strings.HasPrefix(rest, "events/"):
		s.handleEventByTrack(w, r, datasetID, strings.TrimPrefix(rest, "events/"))
	case rest == "stats":
		s.handleStats(w, r, datasetID)
	case rest == "intervals":
		s.handleIntervals(w, r, datasetID)
	case strings.HasPrefix(rest, "intervals/"):
		s.handleIntervalDetail(w, r, datasetID, strings.TrimPrefix(rest, "intervals/"))
	case rest == "counts":
		s.handleCounts(w, r, datasetID)
	case rest == "violations":
		s.handleViolations(w, r, datasetID)
	case rest == "qc":
		s.handleQC(w, r, datasetID)
	case rest == "runs":
		s.handleRuns(w, r, datasetID)
	case strings.HasPrefix(rest, "runs/"):
		s.handleRunByID(w, r, strings.TrimPrefix(rest, "runs/"))
	case rest == "history":
		s.handleHistory(w, r, datasetID)
	case rest == "export/counts":
		s.handleExportCounts(w, r, datasetID)
	case rest == "export/events":
		s.handleExportEvents(w, r, datasetID)
	default:
		s.writeJSONError(w, http.StatusNotFound, "unknown resource")
	}
}

// handleDatasetByID handles get, update and delete for one dataset.
func (s *Server) handleDatasetByID(w http.ResponseWriter, r *http.Request, datasetID string) {
	switch r.Method {
	case http.MethodGet:
		s.handleGetDataset(w, r, datasetID)
	case http.MethodPut:
		s.handleUpdateDataset(w, r, datasetID)
	case http.MethodDelete:
		s.handleDeleteDataset(w, r, datasetID)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleGetDataset(w http.ResponseWriter, r *http.Request, datasetID string) {
	dataset, err := s.datasets.Get(datasetID)
	if err != nil {
		s.writeStoreError(w, err, "dataset")
		return
	}
	s.writeJSON(w, http.StatusOK, dataset)
}

func (s *Server) handleUpdateDataset(w http.ResponseWriter, r *http.Request, datasetID string) {
	var req struct {
		Name     *string `json:"name"`
		Timezone *string `json:"timezone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	dataset, err := s.datasets.Get(datasetID)
	if err != nil {
		s.writeStoreError(w, err, "dataset")
		return
	}

	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			s.writeJSONError(w, http.StatusBadRequest, "name must not be empty")
			return
		}
		dataset.Name = strings.TrimSpace(*req.Name)
	}
	if req.Timezone != nil {
		if !units.IsTimezoneValid(*req.Timezone) {
			s.writeJSONError(w, http.StatusBadRequest,
				fmt.Sprintf("invalid timezone %q (examples: %s)", *req.Timezone, units.GetValidTimezonesString()))
			return
		}
		dataset.Timezone = *req.Timezone
	}

	if err := s.datasets.UpdateInfo(datasetID, dataset.Name, dataset.Timezone); err != nil {
		s.writeStoreError(w, err, "dataset")
		return
	}
	if err := s.datasets.RecordHistory(datasetID, "updated",
		fmt.Sprintf("name=%q timezone=%s", dataset.Name, dataset.Timezone)); err != nil {
		s.writeStoreError(w, err, "dataset")
		return
	}
	s.writeJSON(w, http.StatusOK, dataset)
}

func (s *Server) handleDeleteDataset(w http.ResponseWriter, r *http.Request, datasetID string) {
	if err := s.datasets.Delete(datasetID); err != nil {
		s.writeStoreError(w, err, "dataset")
		return
	}
	aforo.DropRunManager(datasetID)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "deleted",
		"dataset_id": datasetID,
	})
}

// handleHistory lists the audit log for one dataset, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, datasetID string) {
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

	entries, err := s.datasets.ListHistory(datasetID, limit)
	if err != nil {
		s.writeStoreError(w, err, "dataset")
		return
	}
	if entries == nil {
		entries = []aforo.HistoryEntry{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"history": entries,
		"count":   len(entries),
	})
}
