package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/cruce-data/aforo.report/internal/aforo"
	"github.com/cruce-data/aforo.report/internal/aforo/parse"
	"github.com/cruce-data/aforo.report/internal/security"
)

// handleDetectionsUpload ingests a detection dump posted as the request
// body. The dump may be headered CSV, a JSON detection array or a
// structured JSON export; the shape is sniffed, not declared.
func (s *Server) handleDetectionsUpload(w http.ResponseWriter, r *http.Request, datasetID string) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxUploadBytes)
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeJSONError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("dump exceeds %d bytes; use the import endpoint for large files", int64(maxUploadBytes)))
			return
		}
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("failed to read body: %v", err))
		return
	}

	s.importDump(w, datasetID, data)
}

// handleImport ingests a detection dump from a file under the server's
// data directory. Used for dumps too large to post.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request, datasetID string) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.DataDir == "" {
		s.writeJSONError(w, http.StatusForbidden, "server-side import is disabled")
		return
	}

	var req struct {
		SourcePath string `json:"source_path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.SourcePath == "" {
		s.writeJSONError(w, http.StatusBadRequest, "source_path is required")
		return
	}

	path := req.SourcePath
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.DataDir, path)
	}
	if err := security.ValidatePathWithinDirectory(path, s.DataDir); err != nil {
		s.writeJSONError(w, http.StatusForbidden, fmt.Sprintf("invalid source path: %v", err))
		return
	}

	data, err := s.fs.ReadFile(path)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("failed to read %s: %v", req.SourcePath, err))
		return
	}

	s.importDump(w, datasetID, data)
}

// importDump normalizes a raw dump, replaces the dataset's detections
// and adopts any site configuration embedded in the dump.
func (s *Server) importDump(w http.ResponseWriter, datasetID string, data []byte) {
	dump, err := parse.Normalize(data)
	if err != nil {
		s.writeStoreError(w, err, "dump")
		return
	}

	if err := s.pipeline.ImportDetections(datasetID, dump.BaseMs, dump.Meta, dump.Detections); err != nil {
		s.writeStoreError(w, err, "dataset")
		return
	}

	if dump.Config != nil {
		if len(dump.Config.Rules) == 0 {
			dump.Config.Rules = aforo.DefaultRuleMap()
		}
		if err := s.configs.Save(datasetID, dump.Config); err != nil {
			s.writeStoreError(w, err, "configuration")
			return
		}
		if err := s.datasets.RecordHistory(datasetID, "config", "embedded in dump"); err != nil {
			s.writeStoreError(w, err, "configuration")
			return
		}
		if err := s.datasets.TouchEventsChanged(datasetID); err != nil {
			s.writeStoreError(w, err, "configuration")
			return
		}
	}
	s.mutated()

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"dataset_id":      datasetID,
		"detections":      len(dump.Detections),
		"base_time_ms":    dump.BaseMs,
		"metadata":        dump.Meta,
		"config_embedded": dump.Config != nil,
	})
}
