package api

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cruce-data/aforo.report/internal/aforo"
	"github.com/cruce-data/aforo.report/internal/aforo/monitor"
	"github.com/cruce-data/aforo.report/internal/aforo/parse"
	"github.com/cruce-data/aforo.report/internal/config"
	"github.com/cruce-data/aforo.report/internal/db"
	"github.com/cruce-data/aforo.report/internal/fsutil"
	"github.com/cruce-data/aforo.report/internal/httputil"
	"github.com/cruce-data/aforo.report/internal/monitoring"
	"github.com/cruce-data/aforo.report/internal/units"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// maxUploadBytes caps detection dump uploads. Dumps beyond this should
// go through the server-side import path instead.
const maxUploadBytes = 256 << 20 // 256MB

type Server struct {
	db       *db.DB
	pipeline *aforo.Pipeline
	tuning   *config.TuningConfig
	units    string

	datasets    *aforo.DatasetStore
	configs     *aforo.ConfigStore
	detections  *aforo.DetectionStore
	events      *aforo.EventStore
	corrections *aforo.CorrectionStore
	counts      *aforo.CountStore
	runs        *aforo.RunStore

	// DataDir is the directory server-side imports may read from. Empty
	// disables the import-by-path endpoint.
	DataDir string

	// OnMutate, when set, is invoked after any mutation that leaves
	// aggregates stale, so the rebuild worker can be kicked.
	OnMutate func()

	fs fsutil.FileSystem
}

func NewServer(database *db.DB, tuning *config.TuningConfig, countUnits string) *Server {
	if !units.IsValid(countUnits) {
		countUnits = units.PerInterval
	}
	pipeline := aforo.NewPipeline(database.DB)
	pipeline.Tuning = tuning
	return &Server{
		db:          database,
		pipeline:    pipeline,
		tuning:      tuning,
		units:       countUnits,
		datasets:    aforo.NewDatasetStore(database.DB),
		configs:     aforo.NewConfigStore(database.DB),
		detections:  aforo.NewDetectionStore(database.DB),
		events:      aforo.NewEventStore(database.DB),
		corrections: aforo.NewCorrectionStore(database.DB),
		counts:      aforo.NewCountStore(database.DB),
		runs:        aforo.NewRunStore(database.DB),
		fs:          fsutil.OSFileSystem{},
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400 && statusCode < 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
// through the monitoring logger, so embedders can redirect or mute it.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/datasets", s.handleDatasets)
	mux.HandleFunc("/api/datasets/", s.handleDatasetSubtree)
	mux.HandleFunc("/api/timezones", s.listTimezones)
	mux.HandleFunc("/api/config", s.showConfig)
	return mux
}

// AttachDebugCharts mounts the QC chart pages on mux under /debug/charts.
func (s *Server) AttachDebugCharts(mux *http.ServeMux) {
	monitor.NewCharts(s.db.DB).Attach(mux)
}

// mutated notifies the rebuild worker, when one is wired.
func (s *Server) mutated() {
	if s.OnMutate != nil {
		s.OnMutate()
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	httputil.WriteJSONError(w, status, msg)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	httputil.WriteJSON(w, status, v)
}

// writeStoreError maps pipeline and store errors onto HTTP statuses.
// noun names the resource for the not-found case; store errors already
// carry their own context.
func (s *Server) writeStoreError(w http.ResponseWriter, err error, noun string) {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.writeJSONError(w, http.StatusNotFound, noun+" not found")
	case errors.Is(err, aforo.ErrUnknownTrack):
		s.writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, aforo.ErrDatasetBusy):
		s.writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, aforo.ErrNoDetections):
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, aforo.ErrConfigIncomplete):
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, parse.ErrColumnsNotMappable):
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
	default:
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("%v", err))
	}
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	cfg := map[string]interface{}{
		"units":               s.units,
		"max_age_frames":      s.tuning.GetMaxAgeFrames(),
		"iou_threshold":       s.tuning.GetIoUThreshold(),
		"min_hits_pedestrian": s.tuning.GetMinHitsPedestrian(),
		"min_hits_vehicle":    s.tuning.GetMinHitsVehicle(),
		"min_length_m":        s.tuning.GetMinLengthM(),
		"pixel_to_meter":      s.tuning.GetPixelToMeter(),
		"interval_minutes":    s.tuning.GetIntervalMinutes(),
		"rebuild_interval":    s.tuning.GetRebuildInterval().String(),
	}
	s.writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) listTimezones(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	type timezoneAPI struct {
		ID    string `json:"id"`
		Label string `json:"label"`
	}
	zones := make([]timezoneAPI, 0, len(units.CommonTimezones))
	for _, tz := range units.CommonTimezones {
		zones = append(zones, timezoneAPI{ID: tz, Label: units.GetTimezoneLabel(tz)})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"timezones": zones,
		"count":     len(zones),
	})
}
