package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dfc-rewriter/internal/engine"
	"dfc-rewriter/internal/sqlrewrite"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE t (g INTEGER, v INTEGER, x INTEGER)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO t VALUES (1, 10, 0), (2, 30, 5)`)
	require.NoError(t, err)

	h := New(engine.New(db, nil), nil, false, sqlrewrite.ChunkOptions{})
	srv := httptest.NewServer(h.Routes([]string{"*"}))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func registerTestPolicy(t *testing.T, srv *httptest.Server) map[string]any {
	t.Helper()
	resp := postJSON(t, srv.URL+"/policies", map[string]any{
		"sources":    []string{"t"},
		"constraint": "max(t.x) >= 1",
		"on_fail":    "REMOVE",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode(t, resp)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRegisterAndListPolicies(t *testing.T) {
	srv := newTestServer(t)
	created := registerTestPolicy(t, srv)
	assert.NotEmpty(t, created["id"])

	resp, err := http.Get(srv.URL + "/policies")
	require.NoError(t, err)
	defer resp.Body.Close()
	body := decode(t, resp)
	policies := body["policies"].([]any)
	require.Len(t, policies, 1)
}

func TestRegisterTextualPolicy(t *testing.T) {
	srv := newTestServer(t)
	resp := postJSON(t, srv.URL+"/policies", map[string]any{
		"text": "SOURCES t CONSTRAINT min(t.v) > 0 ON FAIL INVALIDATE",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode(t, resp)
	assert.Equal(t, "INVALIDATE", created["on_fail"])
}

func TestRegisterRejectsUnknownColumn(t *testing.T) {
	srv := newTestServer(t)
	resp := postJSON(t, srv.URL+"/policies", map[string]any{
		"sources":    []string{"t"},
		"constraint": "max(t.nope) >= 1",
		"on_fail":    "REMOVE",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTransformEndpoint(t *testing.T) {
	srv := newTestServer(t)
	registerTestPolicy(t, srv)

	resp := postJSON(t, srv.URL+"/transform", map[string]any{
		"sql": "SELECT g, SUM(v) FROM t GROUP BY g",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Contains(t, body["sql"], "HAVING max(t.x) >= 1")
}

func TestTransformTwoPhaseOverride(t *testing.T) {
	srv := newTestServer(t)
	registerTestPolicy(t, srv)

	resp := postJSON(t, srv.URL+"/transform", map[string]any{
		"sql":       "SELECT g, SUM(v) FROM t GROUP BY g",
		"two_phase": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Contains(t, body["sql"], "base_query")
}

func TestTransformRejectsInvalidSQL(t *testing.T) {
	srv := newTestServer(t)
	resp := postJSON(t, srv.URL+"/transform", map[string]any{"sql": "SELEKT nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQueryEndpointEnforcesPolicy(t *testing.T) {
	srv := newTestServer(t)
	registerTestPolicy(t, srv)

	resp := postJSON(t, srv.URL+"/query", map[string]any{
		"sql": "SELECT g, SUM(v) FROM t GROUP BY g",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.EqualValues(t, 1, body["row_count"])
}

func TestSelfJoinEndpoint(t *testing.T) {
	srv := newTestServer(t)
	resp := postJSON(t, srv.URL+"/selfjoin", map[string]any{
		"relation":   "lineitem",
		"key_column": "rowid",
		"column":     "l_shipdate",
		"count":      3,
		"prefix":     "l",
		"shape":      "star",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Contains(t, body["sql"], "max(l1.l_shipdate) = max(l2.l_shipdate)")
	assert.Contains(t, body["sql"], "l1.rowid = l3.rowid")
	assert.Equal(t, false, body["chunked"])
}

func TestSelfJoinEndpointRejectsBadShape(t *testing.T) {
	srv := newTestServer(t)
	resp := postJSON(t, srv.URL+"/selfjoin", map[string]any{
		"relation":   "lineitem",
		"key_column": "rowid",
		"column":     "l_shipdate",
		"count":      3,
		"shape":      "ring",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeletePolicyByTriple(t *testing.T) {
	srv := newTestServer(t)
	registerTestPolicy(t, srv)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/policies",
		bytes.NewReader([]byte(`{"sources":["t"],"constraint":"max(t.x) >= 1","on_fail":"REMOVE"}`)))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestDeleteMissingPolicyIs404(t *testing.T) {
	srv := newTestServer(t)
	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/policies",
		bytes.NewReader([]byte(`{"sources":["t"],"constraint":"max(t.x) >= 1","on_fail":"REMOVE"}`)))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeletePolicyByID(t *testing.T) {
	srv := newTestServer(t)
	created := registerTestPolicy(t, srv)
	id := created["id"].(string)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/policies/"+id, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
