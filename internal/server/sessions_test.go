package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/chatvault/chatvault/internal/ingest"
	"github.com/chatvault/chatvault/internal/store"
)

type stubIngestor struct {
	result ingest.Result
	err    error
	got    *ingest.Request
}

func (s *stubIngestor) Ingest(_ context.Context, req ingest.Request) (ingest.Result, error) {
	s.got = &req
	return s.result, s.err
}

type stubSessionStore struct {
	sessions map[string]store.SessionRecord
	listErr  error
	patched  map[string]interface{}
}

func (s *stubSessionStore) ListSessions(context.Context, int, int) ([]store.SessionRecord, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []store.SessionRecord
	for _, rec := range s.sessions {
		out = append(out, rec)
	}
	return out, nil
}

func (s *stubSessionStore) GetSession(_ context.Context, id string) (store.SessionRecord, bool, error) {
	rec, ok := s.sessions[id]
	return rec, ok, nil
}

func (s *stubSessionStore) DeleteSession(_ context.Context, id string) (bool, error) {
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok, nil
}

func (s *stubSessionStore) UpdateSessionMetadata(_ context.Context, id string, patch map[string]interface{}) (bool, error) {
	if _, ok := s.sessions[id]; !ok {
		return false, nil
	}
	s.patched = patch
	return true, nil
}

func newSessionsHandler(st *stubSessionStore, ing *stubIngestor) *SessionsHandler {
	return &SessionsHandler{
		Store:  st,
		Ingest: ing,
		Logger: log.New(io.Discard, "", 0),
	}
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func httpStatus(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	return he.Code
}

func TestCreateSessionArchived(t *testing.T) {
	e := echo.New()
	ing := &stubIngestor{result: ingest.Result{SessionID: "session-1", ChunksStored: 4}}
	h := newSessionsHandler(&stubSessionStore{}, ing)

	req := jsonRequest(http.MethodPost, "/api/sessions",
		`{"url":"https://host/share/abc","title":"About X","messages":[{"role":"user","content":"hi"}]}`)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	if err := h.create(ctx); err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	var res ingest.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.SessionID != "session-1" || res.ChunksStored != 4 {
		t.Fatalf("response = %+v", res)
	}
	if ing.got.URL != "https://host/share/abc" {
		t.Fatalf("pipeline got url %q", ing.got.URL)
	}
}

func TestCreateSessionDuplicateReturns200(t *testing.T) {
	e := echo.New()
	ing := &stubIngestor{result: ingest.Result{SessionID: "existing", Duplicate: true}}
	h := newSessionsHandler(&stubSessionStore{}, ing)

	req := jsonRequest(http.MethodPost, "/api/sessions", `{"url":"https://host/share/abc"}`)
	rec := httptest.NewRecorder()

	if err := h.create(e.NewContext(req, rec)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for duplicate", rec.Code)
	}
}

func TestCreateSessionMissingURL(t *testing.T) {
	e := echo.New()
	h := newSessionsHandler(&stubSessionStore{}, &stubIngestor{})

	req := jsonRequest(http.MethodPost, "/api/sessions", `{"title":"no url"}`)
	err := h.create(e.NewContext(req, httptest.NewRecorder()))
	if httpStatus(t, err) != http.StatusBadRequest {
		t.Fatalf("err = %v, want 400", err)
	}
}

func TestCreateSessionPipelineFailure(t *testing.T) {
	e := echo.New()
	ing := &stubIngestor{err: errors.New("db down")}
	h := newSessionsHandler(&stubSessionStore{}, ing)

	req := jsonRequest(http.MethodPost, "/api/sessions", `{"url":"https://host/share/abc"}`)
	err := h.create(e.NewContext(req, httptest.NewRecorder()))
	if httpStatus(t, err) != http.StatusBadGateway {
		t.Fatalf("err = %v, want 502", err)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	e := echo.New()
	h := newSessionsHandler(&stubSessionStore{sessions: map[string]store.SessionRecord{}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/missing", nil)
	ctx := e.NewContext(req, httptest.NewRecorder())
	ctx.SetParamNames("id")
	ctx.SetParamValues("missing")

	err := h.get(ctx)
	if httpStatus(t, err) != http.StatusNotFound {
		t.Fatalf("err = %v, want 404", err)
	}
}

func TestDeleteSession(t *testing.T) {
	e := echo.New()
	st := &stubSessionStore{sessions: map[string]store.SessionRecord{"session-1": {ID: "session-1"}}}
	h := newSessionsHandler(st, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/sessions/session-1", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("session-1")

	if err := h.delete(ctx); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if _, ok := st.sessions["session-1"]; ok {
		t.Fatal("session not deleted")
	}
}

func TestPatchMetadataFiltersKeys(t *testing.T) {
	e := echo.New()
	st := &stubSessionStore{sessions: map[string]store.SessionRecord{"session-1": {ID: "session-1"}}}
	h := newSessionsHandler(st, nil)

	req := jsonRequest(http.MethodPatch, "/api/sessions/session-1/metadata",
		`{"favorite":true,"url":"https://evil","keywords":["go","vector"]}`)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("session-1")

	if err := h.patchMetadata(ctx); err != nil {
		t.Fatalf("patchMetadata: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if _, ok := st.patched["url"]; ok {
		t.Fatal("immutable key leaked into patch")
	}
	if st.patched["favorite"] != true {
		t.Fatalf("patch = %v", st.patched)
	}
	if _, ok := st.patched["keywords"]; !ok {
		t.Fatalf("patch = %v", st.patched)
	}
}

func TestPatchMetadataNoMutableKeys(t *testing.T) {
	e := echo.New()
	h := newSessionsHandler(&stubSessionStore{sessions: map[string]store.SessionRecord{"session-1": {}}}, nil)

	req := jsonRequest(http.MethodPatch, "/api/sessions/session-1/metadata", `{"url":"https://evil","title":"x"}`)
	ctx := e.NewContext(req, httptest.NewRecorder())
	ctx.SetParamNames("id")
	ctx.SetParamValues("session-1")

	err := h.patchMetadata(ctx)
	if httpStatus(t, err) != http.StatusBadRequest {
		t.Fatalf("err = %v, want 400", err)
	}
}

func TestListSessions(t *testing.T) {
	e := echo.New()
	st := &stubSessionStore{sessions: map[string]store.SessionRecord{
		"session-1": {ID: "session-1", Title: "A", URL: "https://host/a"},
	}}
	h := newSessionsHandler(st, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions?limit=10", nil)
	rec := httptest.NewRecorder()
	if err := h.list(e.NewContext(req, rec)); err != nil {
		t.Fatalf("list: %v", err)
	}
	var out []sessionSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(out) != 1 || out[0].ID != "session-1" {
		t.Fatalf("response = %+v", out)
	}
}
