package api

import (
	"encoding/csv"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/cruce-data/aforo.report/internal/aforo"
	"github.com/cruce-data/aforo.report/internal/security"
	"github.com/cruce-data/aforo.report/internal/units"
)

const exportTimeLayout = "2006-01-02 15:04:05"

// localTime renders a unix-millisecond instant in the dataset's
// timezone. Falls back to UTC when the zone cannot be loaded.
func localTime(ms int64, tz string) string {
	t := time.UnixMilli(ms).UTC()
	local, err := units.ConvertTime(t, tz)
	if err != nil {
		local = t
	}
	return local.Format(exportTimeLayout)
}

// exportFilename builds a download filename from the dataset name, or
// the id when the name sanitizes away.
func exportFilename(dataset *aforo.Dataset, suffix string) string {
	base := security.SanitizeFilename(dataset.Name)
	if base == "" || base == "_" {
		base = security.SanitizeFilename(dataset.ID)
	}
	return fmt.Sprintf("aforo_%s_%s.csv", base, suffix)
}

// handleExportCounts downloads the dataset's aggregates as CSV, one row
// per (code, interval, class), in canonical RILSA order. Interval
// starts carry a local-time column in the dataset's timezone.
func (s *Server) handleExportCounts(w http.ResponseWriter, r *http.Request, datasetID string) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	dataset, err := s.datasets.Get(datasetID)
	if err != nil {
		s.writeStoreError(w, err, "dataset")
		return
	}
	counts, err := s.counts.ListCounts(datasetID)
	if err != nil {
		s.writeStoreError(w, err, "dataset")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%s", exportFilename(dataset, "counts")))

	cw := csv.NewWriter(w)
	cw.Write([]string{"rilsa_code", "interval_start_ms", "interval_end_ms", "interval_start_local", "class", "count"})
	for _, mc := range counts {
		classes := make([]string, 0, len(mc.CountsByClass))
		for class := range mc.CountsByClass {
			classes = append(classes, class)
		}
		sort.Strings(classes)
		for _, class := range classes {
			cw.Write([]string{
				mc.RilsaCode,
				strconv.FormatInt(mc.IntervalStartMs, 10),
				strconv.FormatInt(mc.IntervalEndMs, 10),
				localTime(mc.IntervalStartMs, dataset.Timezone),
				class,
				strconv.Itoa(mc.CountsByClass[class]),
			})
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		log.Printf("API: counts export for dataset %s: %v", datasetID, err)
	}
}

// handleExportEvents downloads the dataset's counted events as CSV in
// entry order. Discarded events are skipped; report-hidden events still
// count, so they export with the hidden flag set. Replaying the file
// through an event replace and a rebuild reproduces the counts exactly.
func (s *Server) handleExportEvents(w http.ResponseWriter, r *http.Request, datasetID string) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	dataset, err := s.datasets.Get(datasetID)
	if err != nil {
		s.writeStoreError(w, err, "dataset")
		return
	}
	events, _, err := s.events.GetEvents(datasetID, aforo.EventFilter{})
	if err != nil {
		s.writeStoreError(w, err, "dataset")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%s", exportFilename(dataset, "events")))

	cw := csv.NewWriter(w)
	cw.Write([]string{
		"track_id", "class", "origin", "destination", "rilsa_code",
		"frame_entry", "frame_exit", "ts_entry_ms", "ts_exit_ms",
		"entry_local", "exit_local", "duration_s", "confidence", "hidden",
	})
	for i := range events {
		ev := &events[i]
		hidden := "0"
		if ev.HideInReport {
			hidden = "1"
		}
		cw.Write([]string{
			ev.TrackID,
			ev.Class,
			string(ev.Origin),
			string(ev.Destination),
			ev.RilsaCode,
			strconv.Itoa(ev.FrameEntry),
			strconv.Itoa(ev.FrameExit),
			strconv.FormatInt(ev.TsEntryMs, 10),
			strconv.FormatInt(ev.TsExitMs, 10),
			localTime(ev.TsEntryMs, dataset.Timezone),
			localTime(ev.TsExitMs, dataset.Timezone),
			strconv.FormatFloat(ev.DurationSeconds(), 'f', 2, 64),
			strconv.FormatFloat(ev.Confidence, 'f', 3, 64),
			hidden,
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		log.Printf("API: events export for dataset %s: %v", datasetID, err)
	}
}
