package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/cruce-data/aforo.report/internal/aforo"
)

// handleEvents lists a dataset's movement events with optional filters:
// class, origin, rilsa_code, track_prefix, include_discarded, skip and
// limit.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, datasetID string) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if _, err := s.datasets.Get(datasetID); err != nil {
		s.writeStoreError(w, err, "dataset")
		return
	}

	q := r.URL.Query()
	filter := aforo.EventFilter{
		Class:         q.Get("class"),
		RilsaCode:     q.Get("rilsa_code"),
		TrackIDPrefix: q.Get("track_prefix"),
	}
	if v := q.Get("origin"); v != "" {
		origin := aforo.Cardinal(strings.ToUpper(v))
		if aforo.CardinalIndex(origin) == 0 {
			s.writeJSONError(w, http.StatusBadRequest,
				fmt.Sprintf("invalid origin %q (valid: N, S, O, E)", v))
			return
		}
		filter.Origin = origin
	}
	if v := q.Get("include_discarded"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid include_discarded: %q", v))
			return
		}
		filter.IncludeDiscarded = b
	}
	if v := q.Get("skip"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid skip: %q", v))
			return
		}
		filter.Skip = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit: %q", v))
			return
		}
		filter.Limit = n
	}

	events, total, err := s.events.GetEvents(datasetID, filter)
	if err != nil {
		s.writeStoreError(w, err, "dataset")
		return
	}
	if events == nil {
		events = []aforo.TrajectoryEvent{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
		"total":  total,
	})
}

// handleEventByTrack handles one event addressed by track id: get,
// manual correction, and the revision log under .../revisions.
func (s *Server) handleEventByTrack(w http.ResponseWriter, r *http.Request, datasetID, rest string) {
	if strings.HasSuffix(rest, "/revisions") {
		s.handleRevisions(w, r, datasetID, strings.TrimSuffix(rest, "/revisions"))
		return
	}
	trackID := strings.TrimSpace(rest)
	if trackID == "" || strings.Contains(trackID, "/") {
		s.writeJSONError(w, http.StatusNotFound, "unknown resource")
		return
	}

	switch r.Method {
	case http.MethodGet:
		event, err := s.events.GetEventByTrack(datasetID, trackID)
		if err != nil {
			s.writeStoreError(w, err, "event")
			return
		}
		s.writeJSON(w, http.StatusOK, event)
	case http.MethodPatch:
		s.handleCorrectEvent(w, r, datasetID, trackID)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleCorrectEvent applies a manual correction to one event and
// returns the corrected event. Corrections survive re-analysis.
func (s *Server) handleCorrectEvent(w http.ResponseWriter, r *http.Request, datasetID, trackID string) {
	var req struct {
		aforo.TrajectoryCorrection
		ChangedBy string `json:"changed_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	req.TrackID = trackID
	if req.NewOrigin != nil && aforo.CardinalIndex(*req.NewOrigin) == 0 {
		s.writeJSONError(w, http.StatusBadRequest,
			fmt.Sprintf("invalid new_origin %q (valid: N, S, O, E)", *req.NewOrigin))
		return
	}
	if req.NewDest != nil && aforo.CardinalIndex(*req.NewDest) == 0 {
		s.writeJSONError(w, http.StatusBadRequest,
			fmt.Sprintf("invalid new_dest %q (valid: N, S, O, E)", *req.NewDest))
		return
	}

	event, err := s.pipeline.ApplyManualCorrection(datasetID, req.TrajectoryCorrection, req.ChangedBy)
	if err != nil {
		s.writeStoreError(w, err, "event")
		return
	}
	s.mutated()
	s.writeJSON(w, http.StatusOK, event)
}

// handleRevisions lists an event's audit log, oldest first.
func (s *Server) handleRevisions(w http.ResponseWriter, r *http.Request, datasetID, trackID string) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if _, err := s.events.GetEventByTrack(datasetID, trackID); err != nil {
		s.writeStoreError(w, err, "event")
		return
	}

	revisions, err := s.events.ListRevisions(datasetID, trackID)
	if err != nil {
		s.writeStoreError(w, err, "event")
		return
	}
	if revisions == nil {
		revisions = []aforo.Revision{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"track_id":  trackID,
		"revisions": revisions,
		"count":     len(revisions),
	})
}
