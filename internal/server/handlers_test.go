package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"github.com/lib/pq"

	"kokoni/internal/research"
	"kokoni/internal/store"
)

func setupHandlerStore(t *testing.T) (*store.Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	cleanup := func() { db.Close() }
	return &store.Store{DB: db}, mock, cleanup
}

type staticLLM struct {
	response string
	err      error
	calls    int
}

func (s *staticLLM) Generate(context.Context, string) (string, error) {
	s.calls++
	return s.response, s.err
}

func newJSONContext(t *testing.T, method, target string, body interface{}) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("user_id", "u1")
	return c, rec
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	return he.Code
}

func TestSignupDuplicateEmail(t *testing.T) {
	st, mock, cleanup := setupHandlerStore(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users (email, password_hash)`)).
		WillReturnError(&pq.Error{Code: "23505"})

	h := &AuthHandler{Store: st, Secret: []byte("secret")}
	c, _ := newJSONContext(t, http.MethodPost, "/api/auth/signup",
		AuthSignupRequest{Email: "a@b.c", Password: "longenough"})
	err := h.signup(c)
	if got := httpCode(t, err); got != http.StatusConflict {
		t.Fatalf("status = %d, want 409", got)
	}
}

func TestSignupRejectsShortPassword(t *testing.T) {
	st, _, cleanup := setupHandlerStore(t)
	defer cleanup()

	h := &AuthHandler{Store: st, Secret: []byte("secret")}
	c, _ := newJSONContext(t, http.MethodPost, "/api/auth/signup",
		AuthSignupRequest{Email: "a@b.c", Password: "short"})
	err := h.signup(c)
	if got := httpCode(t, err); got != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", got)
	}
}

func TestCreateSearchQuotaEnforced(t *testing.T) {
	st, mock, cleanup := setupHandlerStore(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM searches WHERE user_id=$1`)).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	llm := &staticLLM{response: "{}"}
	h := &SearchesHandler{Store: st, Seeder: &research.Seeder{LLM: llm}, MaxSearches: 5}
	c, _ := newJSONContext(t, http.MethodPost, "/api/searches", CreateSearchRequest{Query: "photosynthesis"})
	err := h.create(c)
	if got := httpCode(t, err); got != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", got)
	}
	if llm.calls != 0 {
		t.Fatalf("quota rejection still paid for %d LLM calls", llm.calls)
	}
}

func TestCreateSearchSeedFailureIsBadGateway(t *testing.T) {
	st, mock, cleanup := setupHandlerStore(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM searches WHERE user_id=$1`)).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	llm := &staticLLM{err: errors.New("model down")}
	h := &SearchesHandler{Store: st, Seeder: &research.Seeder{LLM: llm}, MaxSearches: 5}
	c, _ := newJSONContext(t, http.MethodPost, "/api/searches", CreateSearchRequest{Query: "photosynthesis"})
	err := h.create(c)
	if got := httpCode(t, err); got != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", got)
	}
}

func TestGraphEndpointReturnsPositionedNodes(t *testing.T) {
	st, mock, cleanup := setupHandlerStore(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM searches s JOIN nodes n ON n.search_id = s.id AND n.parent_id IS NULL`)).
		WithArgs("s1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "query", "root_id", "created_at", "updated_at"}).
			AddRow("s1", "u1", "photosynthesis", int64(1), now, now))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM nodes WHERE search_id=$1 ORDER BY id ASC`)).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "search_id", "parent_id", "question", "summary", "selected", "created_at", "updated_at"}).
			AddRow(int64(1), "s1", nil, "root?", nil, true, now, now).
			AddRow(int64(2), "s1", int64(1), "a?", nil, false, now, now).
			AddRow(int64(3), "s1", int64(1), "b?", nil, false, now, now))

	h := &NodesHandler{Store: st}
	c, rec := newJSONContext(t, http.MethodGet, "/api/searches/s1/graph?direction=LR", nil)
	c.SetParamNames("id")
	c.SetParamValues("s1")
	if err := h.graph(c); err != nil {
		t.Fatalf("graph: %v", err)
	}
	var resp GraphResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Nodes) != 3 || len(resp.Edges) != 2 {
		t.Fatalf("nodes=%d edges=%d", len(resp.Nodes), len(resp.Edges))
	}
	if resp.Nodes[0].ID != "node-1" {
		t.Fatalf("first node = %q, want node-1", resp.Nodes[0].ID)
	}
	// Children sit one rank to the right of the root.
	if resp.Nodes[1].Position.X <= resp.Nodes[0].Position.X {
		t.Fatalf("child X %.0f not past root X %.0f", resp.Nodes[1].Position.X, resp.Nodes[0].Position.X)
	}
}

func TestReportBlocksFollowTreeOrder(t *testing.T) {
	st, mock, cleanup := setupHandlerStore(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM searches s JOIN nodes n ON n.search_id = s.id AND n.parent_id IS NULL`)).
		WithArgs("s1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "query", "root_id", "created_at", "updated_at"}).
			AddRow("s1", "u1", "photosynthesis", int64(1), now, now))
	// Node 3 was expanded before node 2, so id order (1,2,3,6) diverges
	// from tree order (1,2,6,3).
	mock.ExpectQuery(regexp.QuoteMeta(`FROM nodes WHERE search_id=$1 ORDER BY id ASC`)).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "search_id", "parent_id", "question", "summary", "selected", "created_at", "updated_at"}).
			AddRow(int64(1), "s1", nil, "root?", nil, true, now, now).
			AddRow(int64(2), "s1", int64(1), "a?", nil, true, now, now).
			AddRow(int64(3), "s1", int64(1), "b?", nil, true, now, now).
			AddRow(int64(4), "s1", int64(3), "b1?", nil, false, now, now).
			AddRow(int64(5), "s1", int64(3), "b2?", nil, false, now, now).
			AddRow(int64(6), "s1", int64(2), "a1?", nil, true, now, now).
			AddRow(int64(7), "s1", int64(2), "a2?", nil, false, now, now))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM report_blocks b JOIN nodes n ON n.id = b.node_id`)).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "node_id", "heading", "content", "created_at", "updated_at"}).
			AddRow(int64(10), int64(1), nil, "root block", now, now).
			AddRow(int64(11), int64(2), nil, "a block", now, now).
			AddRow(int64(12), int64(3), nil, "b block", now, now).
			AddRow(int64(13), int64(6), nil, "a1 block", now, now))

	h := &ReportsHandler{Store: st}
	c, rec := newJSONContext(t, http.MethodGet, "/api/searches/s1/report", nil)
	c.SetParamNames("id")
	c.SetParamValues("s1")
	if err := h.get(c); err != nil {
		t.Fatalf("get: %v", err)
	}
	var resp ReportResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := make([]int64, 0, len(resp.Blocks))
	for _, b := range resp.Blocks {
		got = append(got, b.NodeID)
	}
	want := []int64{1, 2, 6, 3}
	if len(got) != len(want) {
		t.Fatalf("blocks = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("blocks = %v, want %v", got, want)
		}
	}
}

func TestPublicReportNeedsNoAuth(t *testing.T) {
	st, mock, cleanup := setupHandlerStore(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE s.id=$1`)).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "query", "root_id", "created_at", "updated_at"}).
			AddRow("s1", "u1", "photosynthesis", int64(1), now, now))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM nodes WHERE search_id=$1 ORDER BY id ASC`)).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "search_id", "parent_id", "question", "summary", "selected", "created_at", "updated_at"}).
			AddRow(int64(1), "s1", nil, "root?", nil, true, now, now))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM report_blocks b JOIN nodes n ON n.id = b.node_id`)).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "node_id", "heading", "content", "created_at", "updated_at"}).
			AddRow(int64(10), int64(1), nil, "root block", now, now))

	// No user_id in the context: the share route runs outside the JWT
	// middleware.
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/share/s1/report", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("s1")

	h := &ReportsHandler{Store: st}
	if err := h.getPublic(c); err != nil {
		t.Fatalf("getPublic: %v", err)
	}
	var resp ReportResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SearchID != "s1" || resp.Query != "photosynthesis" || len(resp.Blocks) != 1 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestRenameSearch(t *testing.T) {
	st, mock, cleanup := setupHandlerStore(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE searches SET query=$3, updated_at=now() WHERE id=$1 AND user_id=$2`)).
		WithArgs("s1", "u1", "light reactions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM searches s JOIN nodes n ON n.search_id = s.id AND n.parent_id IS NULL`)).
		WithArgs("s1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "query", "root_id", "created_at", "updated_at"}).
			AddRow("s1", "u1", "light reactions", int64(1), now, now))

	h := &SearchesHandler{Store: st}
	c, rec := newJSONContext(t, http.MethodPatch, "/api/searches/s1", RenameSearchRequest{Query: "light reactions"})
	c.SetParamNames("id")
	c.SetParamValues("s1")
	if err := h.rename(c); err != nil {
		t.Fatalf("rename: %v", err)
	}
	var sr store.Search
	if err := json.Unmarshal(rec.Body.Bytes(), &sr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sr.Query != "light reactions" {
		t.Fatalf("query = %q", sr.Query)
	}
}

func TestRenameSearchNotFound(t *testing.T) {
	st, mock, cleanup := setupHandlerStore(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE searches SET query=$3, updated_at=now() WHERE id=$1 AND user_id=$2`)).
		WithArgs("nope", "u1", "anything").
		WillReturnResult(sqlmock.NewResult(0, 0))

	h := &SearchesHandler{Store: st}
	c, _ := newJSONContext(t, http.MethodPatch, "/api/searches/nope", RenameSearchRequest{Query: "anything"})
	c.SetParamNames("id")
	c.SetParamValues("nope")
	err := h.rename(c)
	if got := httpCode(t, err); got != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", got)
	}
}

func TestDeleteRootNodeIsBadRequest(t *testing.T) {
	st, mock, cleanup := setupHandlerStore(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, search_id, parent_id, question, summary, selected, created_at, updated_at FROM nodes WHERE id=$1`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "search_id", "parent_id", "question", "summary", "selected", "created_at", "updated_at"}).
			AddRow(int64(1), "s1", nil, "root?", nil, true, now, now))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM searches s JOIN nodes n ON n.search_id = s.id AND n.parent_id IS NULL`)).
		WithArgs("s1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "query", "root_id", "created_at", "updated_at"}).
			AddRow("s1", "u1", "photosynthesis", int64(1), now, now))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT parent_id, search_id FROM nodes WHERE id=$1 FOR UPDATE`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"parent_id", "search_id"}).AddRow(nil, "s1"))
	mock.ExpectRollback()

	h := &NodesHandler{Store: st}
	c, _ := newJSONContext(t, http.MethodDelete, "/api/nodes/1", nil)
	c.SetParamNames("id")
	c.SetParamValues("1")
	err := h.delete(c)
	if got := httpCode(t, err); got != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", got)
	}
}
