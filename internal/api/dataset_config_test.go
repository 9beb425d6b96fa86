package api

import (
	"net/http"
	"testing"

	"github.com/cruce-data/aforo.report/internal/aforo"
	"github.com/cruce-data/aforo.report/internal/testutil"
)

const testConfigJSON = `{
	"accesses": [
		{"id": "north", "cardinal": "N", "x": 320, "y": 40, "polygon": [{"x": 280, "y": 0}, {"x": 360, "y": 0}, {"x": 360, "y": 80}, {"x": 280, "y": 80}]},
		{"id": "south", "cardinal": "S", "x": 320, "y": 440}
	],
	"analysis_settings": {"interval_minutes": 5},
	"forbidden_movements": [{"rilsa_code": "9_1", "description": "restricted turn"}]
}`

func TestGetConfigBeforeSave(t *testing.T) {
	s := setupTestServer(t)
	id := createTestDataset(t, s, "unconfigured")

	w := serveRequest(t, s, http.MethodGet, "/api/datasets/"+id+"/config", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
	var resp map[string]string
	decodeBody(t, w, &resp)
	if resp["error"] != "dataset has no configuration" {
		t.Errorf("unexpected error %q", resp["error"])
	}
}

func TestSaveConfig(t *testing.T) {
	s := setupTestServer(t)
	id := createTestDataset(t, s, "configured")

	w := serveRequest(t, s, http.MethodPut, "/api/datasets/"+id+"/config", testConfigJSON)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var cfg aforo.DatasetConfig
	decodeBody(t, w, &cfg)

	if len(cfg.Accesses) != 2 {
		t.Fatalf("expected 2 accesses, got %d", len(cfg.Accesses))
	}
	// An omitted rule map comes back as the standard assignment.
	if cfg.Rules.Lookup(aforo.CardinalN, aforo.CardinalS) != "1" {
		t.Errorf("expected default rules, got %v", cfg.Rules)
	}
	if cfg.Settings.IntervalMinutes != 5 {
		t.Errorf("expected interval override 5, got %d", cfg.Settings.IntervalMinutes)
	}
	if len(cfg.Forbidden) != 1 || cfg.Forbidden[0].RilsaCode != "9_1" {
		t.Errorf("unexpected forbidden list %v", cfg.Forbidden)
	}
	// Capture parameters come from the dataset row, not the payload.
	if cfg.Meta.Width != 1280 || cfg.Meta.Height != 720 {
		t.Errorf("unexpected metadata %+v", cfg.Meta)
	}

	t.Run("roundtrip", func(t *testing.T) {
		w := serveRequest(t, s, http.MethodGet, "/api/datasets/"+id+"/config", "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
		var got aforo.DatasetConfig
		decodeBody(t, w, &got)
		if len(got.Accesses) != 2 || got.Accesses[0].ID != "north" {
			t.Errorf("unexpected accesses %v", got.Accesses)
		}
		if len(got.Accesses[0].Polygon) != 4 {
			t.Errorf("polygon did not survive the roundtrip: %v", got.Accesses[0].Polygon)
		}
	})

	t.Run("marks_aggregates_stale", func(t *testing.T) {
		w := serveRequest(t, s, http.MethodGet, "/api/datasets/"+id+"/qc", "")
		var qc struct {
			AggregatesStale bool `json:"aggregates_stale"`
		}
		decodeBody(t, w, &qc)
		if !qc.AggregatesStale {
			t.Error("saving a config should flag aggregates for resync")
		}
	})

	t.Run("history", func(t *testing.T) {
		w := serveRequest(t, s, http.MethodGet, "/api/datasets/"+id+"/history", "")
		var resp struct {
			History []aforo.HistoryEntry `json:"history"`
		}
		decodeBody(t, w, &resp)
		if len(resp.History) == 0 || resp.History[0].Action != "config" {
			t.Errorf("expected config history entry, got %+v", resp.History)
		}
		if resp.History[0].Details != "2 accesses, 1 forbidden movements" {
			t.Errorf("unexpected details %q", resp.History[0].Details)
		}
	})
}

func TestSaveConfigCustomRules(t *testing.T) {
	s := setupTestServer(t)
	id := createTestDataset(t, s, "custom rules")

	w := serveRequest(t, s, http.MethodPut, "/api/datasets/"+id+"/config", `{
		"accesses": [
			{"id": "a", "cardinal": "N", "x": 100, "y": 0},
			{"id": "b", "cardinal": "S", "x": 100, "y": 200}
		],
		"rilsa_map": {"N": {"S": "3"}}
	}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var cfg aforo.DatasetConfig
	decodeBody(t, w, &cfg)
	if cfg.Rules.Lookup(aforo.CardinalN, aforo.CardinalS) != "3" {
		t.Errorf("explicit rules must not be replaced, got %v", cfg.Rules)
	}
	if cfg.Rules.Lookup(aforo.CardinalS, aforo.CardinalN) != "" {
		t.Errorf("unexpected rule fill: %v", cfg.Rules)
	}
}

func TestSaveConfigRejectsInvalid(t *testing.T) {
	s := setupTestServer(t)
	id := createTestDataset(t, s, "invalid config")

	cases := []struct {
		name string
		body string
	}{
		{"no_accesses", `{"accesses": []}`},
		{"bad_cardinal", `{"accesses": [{"id": "a", "cardinal": "Q", "x": 0, "y": 0}]}`},
		{"duplicate_cardinal", `{"accesses": [
			{"id": "a", "cardinal": "N", "x": 0, "y": 0},
			{"id": "b", "cardinal": "N", "x": 10, "y": 10}
		]}`},
		{"bad_json", `{"accesses": [`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := serveRequest(t, s, http.MethodPut, "/api/datasets/"+id+"/config", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}

	t.Run("unknown_dataset", func(t *testing.T) {
		w := serveRequest(t, s, http.MethodPut, "/api/datasets/nope/config", testConfigJSON)
		if w.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", w.Code)
		}
	})

	t.Run("method_not_allowed", func(t *testing.T) {
		w := serveRequest(t, s, http.MethodPost, "/api/datasets/"+id+"/config", testConfigJSON)
		testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)
	})
}
