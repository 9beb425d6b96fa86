package api

import (
	"net/http"
	"testing"

	"github.com/cruce-data/aforo.report/internal/aforo"
)

func seedCounts(t *testing.T, s *Server, datasetID string, counts ...aforo.MovementCount) {
	t.Helper()
	if err := s.counts.ReplaceMovementCounts(datasetID, counts); err != nil {
		t.Fatalf("failed to seed counts: %v", err)
	}
}

func testCount(datasetID, code string, startMs int64, byClass map[string]int) aforo.MovementCount {
	total := 0
	for _, n := range byClass {
		total += n
	}
	return aforo.MovementCount{
		DatasetID:       datasetID,
		RilsaCode:       code,
		IntervalStartMs: startMs,
		IntervalEndMs:   startMs + 15*60*1000,
		CountsByClass:   byClass,
		Total:           total,
	}
}

func TestEventStats(t *testing.T) {
	s := setupTestServer(t)
	id := createTestDataset(t, s, "stats")

	discarded := testEvent("t3", "car", aforo.CardinalO, aforo.CardinalE, "3")
	discarded.Discarded = true
	seedEvents(t, s, id,
		testEvent("t1", "car", aforo.CardinalN, aforo.CardinalS, "1"),
		testEvent("t2", "pedestrian", aforo.CardinalS, aforo.CardinalS, "P2"),
		discarded,
	)

	w := serveRequest(t, s, http.MethodGet, "/api/datasets/"+id+"/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var stats aforo.EventStats
	decodeBody(t, w, &stats)
	if stats.Total != 3 || stats.Counted != 2 || stats.Discarded != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.ByClass["car"] != 1 || stats.ByClass["pedestrian"] != 1 {
		t.Errorf("unexpected class breakdown: %v", stats.ByClass)
	}

	w = serveRequest(t, s, http.MethodGet, "/api/datasets/nope/stats", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestIntervals(t *testing.T) {
	s := setupTestServer(t)
	id := createTestDataset(t, s, "intervals")

	seedCounts(t, s, id,
		testCount(id, "1", 0, map[string]int{"car": 3, "truck": 2}),
		testCount(id, "2", 900000, map[string]int{"car": 1}),
	)

	w := serveRequest(t, s, http.MethodGet, "/api/datasets/"+id+"/intervals", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp struct {
		Intervals []aforo.IntervalTotal `json:"intervals"`
		Count     int                   `json:"count"`
	}
	decodeBody(t, w, &resp)
	if resp.Count != 2 {
		t.Fatalf("expected 2 intervals, got %d", resp.Count)
	}
	if resp.Intervals[0].IntervalStartMs != 0 || resp.Intervals[0].Total != 5 {
		t.Errorf("unexpected first interval: %+v", resp.Intervals[0])
	}
	if resp.Intervals[1].IntervalStartMs != 900000 || resp.Intervals[1].Total != 1 {
		t.Errorf("unexpected second interval: %+v", resp.Intervals[1])
	}
}

func TestIntervalDetail(t *testing.T) {
	s := setupTestServer(t)
	id := createTestDataset(t, s, "interval detail")

	seedCounts(t, s, id,
		testCount(id, "5", 0, map[string]int{"car": 2}),
		testCount(id, "1", 0, map[string]int{"car": 3, "bus": 1}),
	)

	type countsResponse struct {
		Units  string `json:"units"`
		Counts []struct {
			RilsaCode string         `json:"rilsa_code"`
			ByClass   map[string]int `json:"counts_by_class"`
			Total     int            `json:"total"`
			Rate      float64        `json:"rate"`
		} `json:"counts"`
		Count int `json:"count"`
	}

	t.Run("per_interval_default", func(t *testing.T) {
		w := serveRequest(t, s, http.MethodGet, "/api/datasets/"+id+"/intervals/0", "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
		}
		var resp countsResponse
		decodeBody(t, w, &resp)
		if resp.Count != 2 {
			t.Fatalf("expected 2 rows, got %d", resp.Count)
		}
		// Canonical RILSA order: straights before lefts.
		if resp.Counts[0].RilsaCode != "1" || resp.Counts[1].RilsaCode != "5" {
			t.Errorf("unexpected order: %s, %s", resp.Counts[0].RilsaCode, resp.Counts[1].RilsaCode)
		}
		if resp.Counts[0].Rate != 4.0 {
			t.Errorf("per_interval rate should equal the count, got %v", resp.Counts[0].Rate)
		}
	})

	t.Run("per_hour", func(t *testing.T) {
		w := serveRequest(t, s, http.MethodGet, "/api/datasets/"+id+"/intervals/0?units=per_hour", "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
		var resp countsResponse
		decodeBody(t, w, &resp)
		if resp.Units != "per_hour" {
			t.Errorf("expected per_hour units, got %q", resp.Units)
		}
		// A 15-minute count of 4 is 16 movements per hour.
		if resp.Counts[0].Rate != 16.0 {
			t.Errorf("expected rate 16, got %v", resp.Counts[0].Rate)
		}
	})

	t.Run("invalid_units", func(t *testing.T) {
		w := serveRequest(t, s, http.MethodGet, "/api/datasets/"+id+"/intervals/0?units=per_day", "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", w.Code)
		}
	})

	t.Run("invalid_start", func(t *testing.T) {
		w := serveRequest(t, s, http.MethodGet, "/api/datasets/"+id+"/intervals/zero", "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", w.Code)
		}
	})

	t.Run("empty_interval", func(t *testing.T) {
		w := serveRequest(t, s, http.MethodGet, "/api/datasets/"+id+"/intervals/999999999", "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
		var resp countsResponse
		decodeBody(t, w, &resp)
		if resp.Count != 0 {
			t.Errorf("expected no rows, got %d", resp.Count)
		}
	})
}

func TestListCounts(t *testing.T) {
	s := setupTestServer(t)
	id := createTestDataset(t, s, "all counts")

	seedCounts(t, s, id,
		testCount(id, "1", 900000, map[string]int{"car": 1}),
		testCount(id, "1", 0, map[string]int{"car": 2}),
		testCount(id, "9_1", 0, map[string]int{"car": 7}),
	)

	w := serveRequest(t, s, http.MethodGet, "/api/datasets/"+id+"/counts", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp struct {
		Counts []struct {
			RilsaCode       string `json:"rilsa_code"`
			IntervalStartMs int64  `json:"interval_start_ms"`
		} `json:"counts"`
		Count int `json:"count"`
	}
	decodeBody(t, w, &resp)
	if resp.Count != 3 {
		t.Fatalf("expected 3 rows, got %d", resp.Count)
	}
	// Code order first, interval order within a code.
	got := []string{resp.Counts[0].RilsaCode, resp.Counts[1].RilsaCode, resp.Counts[2].RilsaCode}
	if got[0] != "1" || got[1] != "1" || got[2] != "9_1" {
		t.Errorf("unexpected code order: %v", got)
	}
	if resp.Counts[0].IntervalStartMs != 0 || resp.Counts[1].IntervalStartMs != 900000 {
		t.Errorf("intervals not ascending within code: %d, %d",
			resp.Counts[0].IntervalStartMs, resp.Counts[1].IntervalStartMs)
	}
}

func TestViolations(t *testing.T) {
	s := setupTestServer(t)
	id := createTestDataset(t, s, "violations")

	t.Run("no_config", func(t *testing.T) {
		w := serveRequest(t, s, http.MethodGet, "/api/datasets/"+id+"/violations", "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
		var resp struct {
			Violations []aforo.ViolationSummary `json:"violations"`
			Forbidden  int                      `json:"forbidden"`
			Count      int                      `json:"count"`
		}
		decodeBody(t, w, &resp)
		if resp.Count != 0 || resp.Forbidden != 0 {
			t.Errorf("expected empty violations, got %+v", resp)
		}
	})

	w := serveRequest(t, s, http.MethodPut, "/api/datasets/"+id+"/config", `{
		"accesses": [
			{"id": "north", "cardinal": "N", "x": 320, "y": 40},
			{"id": "south", "cardinal": "S", "x": 320, "y": 440}
		],
		"forbidden_movements": [{"rilsa_code": "9_1", "description": "prohibited right turn"}]
	}`)
	if w.Code != http.StatusOK {
		t.Fatalf("config save failed: %d: %s", w.Code, w.Body.String())
	}

	violating := testEvent("v1", "car", aforo.CardinalN, aforo.CardinalO, "9_1")
	violating2 := testEvent("v2", "car", aforo.CardinalN, aforo.CardinalO, "9_1")
	discarded := testEvent("v3", "car", aforo.CardinalN, aforo.CardinalO, "9_1")
	discarded.Discarded = true
	seedEvents(t, s, id,
		violating, violating2, discarded,
		testEvent("ok", "car", aforo.CardinalN, aforo.CardinalS, "1"),
	)

	t.Run("counts_forbidden_events", func(t *testing.T) {
		w := serveRequest(t, s, http.MethodGet, "/api/datasets/"+id+"/violations", "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
		var resp struct {
			Violations []aforo.ViolationSummary `json:"violations"`
			Forbidden  int                      `json:"forbidden"`
			Count      int                      `json:"count"`
		}
		decodeBody(t, w, &resp)
		if resp.Forbidden != 1 || resp.Count != 1 {
			t.Fatalf("unexpected rollup: %+v", resp)
		}
		v := resp.Violations[0]
		if v.RilsaCode != "9_1" || v.Count != 2 || v.Description != "prohibited right turn" {
			t.Errorf("unexpected violation %+v", v)
		}
	})
}
