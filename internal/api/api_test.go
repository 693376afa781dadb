package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/starford/odal/internal/collab"
	"github.com/starford/odal/internal/graphservice"
	"github.com/starford/odal/internal/linkindex"
	"github.com/starford/odal/internal/model"
	"github.com/starford/odal/internal/query"
	"github.com/starford/odal/internal/store"
)

// testEnv sets up an in-memory graph, engines, and router for testing.
// authToken="" means disabled mode; non-empty means token mode.
func testEnv(t *testing.T, authToken string) (*graphservice.Service, http.Handler) {
	t.Helper()

	st := store.New()
	idx := linkindex.New(st)
	svc := graphservice.NewService(st, idx, nil, nil)
	engine := query.NewEngine(st, idx)

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	ce := collab.NewEngine(svc, 100*time.Millisecond, logger)
	t.Cleanup(ce.Close)

	router := NewRouter(svc, engine, ce, authToken != "", authToken, nil)
	return svc, router
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestInsertAndGetBlock(t *testing.T) {
	_, router := testEnv(t, "")

	w := doJSON(t, router, http.MethodPost, "/blocks", InsertBlockRequest{
		Page:    "Home",
		Content: "see [[Roadmap]]",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("insert status = %d, body = %s", w.Code, w.Body.String())
	}
	var b model.Block
	if err := json.Unmarshal(w.Body.Bytes(), &b); err != nil {
		t.Fatal(err)
	}
	if b.Page != "home" || b.Content != "see [[Roadmap]]" {
		t.Errorf("block = %+v", b)
	}

	w = doJSON(t, router, http.MethodGet, "/blocks/"+b.ID.String(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
}

func TestInsertRejectsInvalidPosition(t *testing.T) {
	_, router := testEnv(t, "")

	w := doJSON(t, router, http.MethodPost, "/blocks", InsertBlockRequest{
		Page:    "Home",
		Left:    uuid.NewString(), // unknown block
		Content: "dangling",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for unknown left", w.Code)
	}

	w = doJSON(t, router, http.MethodPost, "/blocks", InsertBlockRequest{Content: "no page"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing page", w.Code)
	}
}

func TestMoveCycleRejected(t *testing.T) {
	svc, router := testEnv(t, "")
	parent, _ := svc.InsertBlock("Home", uuid.Nil, uuid.Nil, "parent", nil)
	child, _ := svc.InsertBlock("", parent, uuid.Nil, "child", nil)

	w := doJSON(t, router, http.MethodPost, "/blocks/"+parent.String()+"/move", MoveBlockRequest{
		Parent: child.String(),
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422 for cycle", w.Code)
	}
}

func TestDeleteBlockCascadeParam(t *testing.T) {
	svc, router := testEnv(t, "")
	parent, _ := svc.InsertBlock("Home", uuid.Nil, uuid.Nil, "parent", nil)
	child, _ := svc.InsertBlock("", parent, uuid.Nil, "child", nil)

	w := doJSON(t, router, http.MethodDelete, "/blocks/"+parent.String()+"?cascade=true", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	if svc.Contains(child) {
		t.Error("child survived cascade delete")
	}
}

func TestPageLifecycleAndBacklinks(t *testing.T) {
	svc, router := testEnv(t, "")

	w := doJSON(t, router, http.MethodPost, "/pages", CreatePageRequest{Name: "Roadmap"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create page status = %d", w.Code)
	}
	w = doJSON(t, router, http.MethodPost, "/pages", CreatePageRequest{Name: "roadmap"})
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate page status = %d, want 409", w.Code)
	}

	if _, err := svc.InsertBlock("Home", uuid.Nil, uuid.Nil, "plan in [[Roadmap]]", nil); err != nil {
		t.Fatal(err)
	}

	w = doJSON(t, router, http.MethodGet, "/pages/roadmap/backlinks", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("backlinks status = %d", w.Code)
	}
	var resp BlockListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 {
		t.Errorf("backlinks total = %d, want 1", resp.Total)
	}
}

func TestOutlineImportExport(t *testing.T) {
	_, router := testEnv(t, "")

	lines := []model.OutlineLine{
		{Content: "alpha", Indent: 0},
		{Content: "beta", Indent: 1},
	}
	w := doJSON(t, router, http.MethodPut, "/pages/Plan/outline", ImportPageRequest{Lines: lines})
	if w.Code != http.StatusOK {
		t.Fatalf("import status = %d, body = %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/pages/Plan/outline", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("export status = %d", w.Code)
	}
	var out OutlineResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Lines) != 2 || out.Lines[1].Indent != 1 {
		t.Errorf("lines = %v", out.Lines)
	}
}

func TestSearchEndpoint(t *testing.T) {
	svc, router := testEnv(t, "")
	if _, err := svc.InsertBlock("Home", uuid.Nil, uuid.Nil, "the Needle block", nil); err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, router, http.MethodGet, "/search?q=needle", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search status = %d", w.Code)
	}
	var resp BlockListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 {
		t.Errorf("total = %d, want 1", resp.Total)
	}

	w = doJSON(t, router, http.MethodGet, "/search", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing q status = %d, want 400", w.Code)
	}
}

func TestPageRankValidation(t *testing.T) {
	_, router := testEnv(t, "")

	w := doJSON(t, router, http.MethodGet, "/analytics/pagerank?damping=1.5", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for damping out of range", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/analytics/pagerank", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestRelatedThresholdValidation(t *testing.T) {
	svc, router := testEnv(t, "")
	if _, err := svc.CreatePage("home"); err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, router, http.MethodGet, "/pages/home/related?threshold=lots", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for malformed threshold", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/pages/home/related?threshold=0.5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestCollabSubmitAndState(t *testing.T) {
	svc, router := testEnv(t, "")

	w := doJSON(t, router, http.MethodGet, "/collab/daily", nil)
	var state SessionStateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &state); err != nil {
		t.Fatal(err)
	}
	if state.State != collab.StateIdle {
		t.Errorf("state = %q, want idle", state.State)
	}

	blockID := uuid.New()
	w = doJSON(t, router, http.MethodPost, "/collab/daily/ops", collab.Op{
		Type:    collab.TypeInsert,
		BlockID: blockID,
		Page:    "shared",
		Content: "remote edit",
		Origin:  "alice",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d, body = %s", w.Code, w.Body.String())
	}
	if !svc.Contains(blockID) {
		t.Error("submitted op was not applied")
	}

	w = doJSON(t, router, http.MethodPost, "/collab/daily/ops", collab.Op{
		Type:    collab.TypeInsert,
		BlockID: uuid.New(),
		Page:    "shared",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing origin status = %d, want 400", w.Code)
	}
}

func TestAuthModes(t *testing.T) {
	_, open := testEnv(t, "")
	w := doJSON(t, open, http.MethodGet, "/pages", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("disabled auth status = %d", w.Code)
	}

	_, locked := testEnv(t, "secret")
	w = doJSON(t, locked, http.MethodGet, "/pages", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d, want 401", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/pages", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	locked.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token status = %d", rec.Code)
	}
}
