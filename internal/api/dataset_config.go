package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/cruce-data/aforo.report/internal/aforo"
)

// handleDatasetConfig handles get and replace of a dataset's site
// configuration: accesses, movement rules, thresholds and forbidden
// movements.
func (s *Server) handleDatasetConfig(w http.ResponseWriter, r *http.Request, datasetID string) {
	switch r.Method {
	case http.MethodGet:
		s.handleGetConfig(w, r, datasetID)
	case http.MethodPut:
		s.handleSaveConfig(w, r, datasetID)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request, datasetID string) {
	dataset, err := s.datasets.Get(datasetID)
	if err != nil {
		s.writeStoreError(w, err, "dataset")
		return
	}

	cfg, err := s.configs.Load(datasetID)
	if err != nil {
		if errors.Is(err, aforo.ErrConfigIncomplete) {
			s.writeJSONError(w, http.StatusNotFound, "dataset has no configuration")
			return
		}
		s.writeStoreError(w, err, "configuration")
		return
	}
	cfg.BaseMs = dataset.BaseMs
	cfg.Meta = aforo.DatasetMeta{Width: dataset.Width, Height: dataset.Height, FPS: dataset.FPS}
	s.writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleSaveConfig(w http.ResponseWriter, r *http.Request, datasetID string) {
	if _, err := s.datasets.Get(datasetID); err != nil {
		s.writeStoreError(w, err, "dataset")
		return
	}

	var cfg aforo.DatasetConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	// An omitted movement map means the standard four-way assignment.
	if len(cfg.Rules) == 0 {
		cfg.Rules = aforo.DefaultRuleMap()
	}
	if err := cfg.Validate(); err != nil {
		s.writeStoreError(w, err, "configuration")
		return
	}

	if err := s.configs.Save(datasetID, &cfg); err != nil {
		s.writeStoreError(w, err, "configuration")
		return
	}
	if err := s.datasets.RecordHistory(datasetID, "config",
		fmt.Sprintf("%d accesses, %d forbidden movements", len(cfg.Accesses), len(cfg.Forbidden))); err != nil {
		s.writeStoreError(w, err, "configuration")
		return
	}
	// Existing events were derived under the old configuration; flag
	// the dataset so downstream aggregates resync until the next
	// analysis replaces the events.
	if err := s.datasets.TouchEventsChanged(datasetID); err != nil {
		s.writeStoreError(w, err, "configuration")
		return
	}
	s.mutated()

	s.handleGetConfig(w, r, datasetID)
}
