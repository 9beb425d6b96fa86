package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/cruce-data/aforo.report/internal/aforo"
	"github.com/cruce-data/aforo.report/internal/testutil"
)

func TestCreateDataset(t *testing.T) {
	s := setupTestServer(t)

	t.Run("valid", func(t *testing.T) {
		w := serveRequest(t, s, http.MethodPost, "/api/datasets",
			`{"name":"Av. Reforma x Insurgentes","timezone":"America/Mexico_City"}`)
		if w.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
		}
		var ds aforo.Dataset
		decodeBody(t, w, &ds)
		if ds.Name != "Av. Reforma x Insurgentes" {
			t.Errorf("unexpected name %q", ds.Name)
		}
		if ds.Timezone != "America/Mexico_City" {
			t.Errorf("unexpected timezone %q", ds.Timezone)
		}
		if ds.Width != 1280 || ds.Height != 720 || ds.FPS != 30.0 {
			t.Errorf("expected default capture metadata, got %dx%d @%v", ds.Width, ds.Height, ds.FPS)
		}
		if ds.DetectionsImportedAt != nil {
			t.Error("new dataset should have no import timestamp")
		}
	})

	t.Run("default_timezone", func(t *testing.T) {
		w := serveRequest(t, s, http.MethodPost, "/api/datasets", `{"name":"corner cam"}`)
		if w.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d", w.Code)
		}
		var ds aforo.Dataset
		decodeBody(t, w, &ds)
		if ds.Timezone != "UTC" {
			t.Errorf("expected UTC default, got %q", ds.Timezone)
		}
	})

	t.Run("missing_name", func(t *testing.T) {
		w := serveRequest(t, s, http.MethodPost, "/api/datasets", `{"timezone":"UTC"}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", w.Code)
		}
	})

	t.Run("invalid_timezone", func(t *testing.T) {
		w := serveRequest(t, s, http.MethodPost, "/api/datasets",
			`{"name":"x","timezone":"Mars/Olympus_Mons"}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", w.Code)
		}
	})

	t.Run("invalid_json", func(t *testing.T) {
		w := serveRequest(t, s, http.MethodPost, "/api/datasets", `{"name":`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", w.Code)
		}
	})

	t.Run("method_not_allowed", func(t *testing.T) {
		w := serveRequest(t, s, http.MethodDelete, "/api/datasets", "")
		testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)
	})
}

func TestListDatasets(t *testing.T) {
	s := setupTestServer(t)

	w := serveRequest(t, s, http.MethodGet, "/api/datasets", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp struct {
		Datasets []aforo.Dataset `json:"datasets"`
		Count    int             `json:"count"`
	}
	decodeBody(t, w, &resp)
	if resp.Count != 0 || resp.Datasets == nil {
		t.Errorf("expected empty list, got count=%d datasets=%v", resp.Count, resp.Datasets)
	}

	for _, name := range []string{"a", "b", "c"} {
		createTestDataset(t, s, name)
	}

	w = serveRequest(t, s, http.MethodGet, "/api/datasets", "")
	decodeBody(t, w, &resp)
	if resp.Count != 3 || len(resp.Datasets) != 3 {
		t.Errorf("expected 3 datasets, got count=%d len=%d", resp.Count, len(resp.Datasets))
	}
}

func TestGetDataset(t *testing.T) {
	s := setupTestServer(t)
	id := createTestDataset(t, s, "cam 4")

	w := serveRequest(t, s, http.MethodGet, "/api/datasets/"+id, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var ds aforo.Dataset
	decodeBody(t, w, &ds)
	if ds.ID != id || ds.Name != "cam 4" {
		t.Errorf("unexpected dataset %+v", ds)
	}

	w = serveRequest(t, s, http.MethodGet, "/api/datasets/nope", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestUpdateDataset(t *testing.T) {
	s := setupTestServer(t)
	id := createTestDataset(t, s, "before")

	t.Run("rename_keeps_timezone", func(t *testing.T) {
		w := serveRequest(t, s, http.MethodPut, "/api/datasets/"+id, `{"name":"after"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
		}
		var ds aforo.Dataset
		decodeBody(t, w, &ds)
		if ds.Name != "after" || ds.Timezone != "UTC" {
			t.Errorf("unexpected dataset after rename: %+v", ds)
		}
	})

	t.Run("change_timezone", func(t *testing.T) {
		w := serveRequest(t, s, http.MethodPut, "/api/datasets/"+id, `{"timezone":"Europe/Berlin"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
		var ds aforo.Dataset
		decodeBody(t, w, &ds)
		if ds.Name != "after" || ds.Timezone != "Europe/Berlin" {
			t.Errorf("unexpected dataset after timezone change: %+v", ds)
		}
	})

	t.Run("invalid_timezone", func(t *testing.T) {
		w := serveRequest(t, s, http.MethodPut, "/api/datasets/"+id, `{"timezone":"Nowhere/Else"}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", w.Code)
		}
	})

	t.Run("empty_name", func(t *testing.T) {
		w := serveRequest(t, s, http.MethodPut, "/api/datasets/"+id, `{"name":"  "}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", w.Code)
		}
	})

	t.Run("unknown_dataset", func(t *testing.T) {
		w := serveRequest(t, s, http.MethodPut, "/api/datasets/nope", `{"name":"x"}`)
		if w.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", w.Code)
		}
	})
}

func TestDeleteDataset(t *testing.T) {
	s := setupTestServer(t)
	id := createTestDataset(t, s, "short lived")

	w := serveRequest(t, s, http.MethodDelete, "/api/datasets/"+id, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp map[string]interface{}
	decodeBody(t, w, &resp)
	if resp["status"] != "deleted" || resp["dataset_id"] != id {
		t.Errorf("unexpected delete response: %v", resp)
	}

	w = serveRequest(t, s, http.MethodGet, "/api/datasets/"+id, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404 after delete, got %d", w.Code)
	}

	w = serveRequest(t, s, http.MethodDelete, "/api/datasets/"+id, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404 on double delete, got %d", w.Code)
	}
}

func TestDatasetHistory(t *testing.T) {
	s := setupTestServer(t)
	id := createTestDataset(t, s, "audited")

	w := serveRequest(t, s, http.MethodPut, "/api/datasets/"+id, `{"name":"renamed"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update failed: %d", w.Code)
	}

	w = serveRequest(t, s, http.MethodGet, "/api/datasets/"+id+"/history", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp struct {
		History []aforo.HistoryEntry `json:"history"`
		Count   int                  `json:"count"`
	}
	decodeBody(t, w, &resp)
	if resp.Count < 2 {
		t.Fatalf("expected at least 2 history entries, got %d", resp.Count)
	}
	// Newest first.
	if resp.History[0].Action != "updated" {
		t.Errorf("expected newest action updated, got %q", resp.History[0].Action)
	}
	last := resp.History[len(resp.History)-1]
	if last.Action != "created" || !strings.Contains(last.Details, "audited") {
		t.Errorf("expected created entry first, got %+v", last)
	}

	w = serveRequest(t, s, http.MethodGet, "/api/datasets/"+id+"/history?limit=1", "")
	decodeBody(t, w, &resp)
	if resp.Count != 1 {
		t.Errorf("expected 1 entry with limit=1, got %d", resp.Count)
	}

	w = serveRequest(t, s, http.MethodGet, "/api/datasets/"+id+"/history?limit=zero", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for bad limit, got %d", w.Code)
	}

	w = serveRequest(t, s, http.MethodGet, "/api/datasets/nope/history", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}
