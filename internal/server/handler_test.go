package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfertman/quarry/internal/engine"
	"github.com/wfertman/quarry/internal/store"
	"github.com/wfertman/quarry/pkg/config"
	"github.com/wfertman/quarry/pkg/errors"
)

func testDoc(id, content string) *store.Document {
	return &store.Document{ID: id, Title: "Doc " + id, Content: content}
}

func newTestServer(t *testing.T) (*httptest.Server, *engine.Engine) {
	t.Helper()
	eng := engine.New(config.SearchConfig{DefaultPerPage: 10, MaxPerPage: 100})
	h := New(eng, nil, nil, nil, config.SearchConfig{DefaultPerPage: 10, MaxPerPage: 100})
	mux := http.NewServeMux()
	h.Routes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, eng
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestAddAndSearchOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/documents", map[string]any{
		"id":      "doc-1",
		"title":   "Indexing Basics",
		"content": "inverted indexes map terms to documents",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created map[string]string
	decodeBody(t, resp, &created)
	assert.Equal(t, "doc-1", created["id"])

	resp = postJSON(t, srv.URL+"/api/v1/search", map[string]any{"query": "inverted"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var results engine.PagedResults
	decodeBody(t, resp, &results)
	require.Equal(t, 1, results.TotalHits)
	assert.Equal(t, "doc-1", results.Results[0].ID)
	assert.NotEmpty(t, results.Results[0].Highlights)
}

func TestSearchDefaultsOmittedPagination(t *testing.T) {
	srv, eng := newTestServer(t)
	require.NoError(t, eng.AddDocument(testDoc("doc-1", "paging defaults apply here")))

	resp := postJSON(t, srv.URL+"/api/v1/search", map[string]any{"query": "defaults"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var results engine.PagedResults
	decodeBody(t, resp, &results)
	assert.Equal(t, 1, results.Page)
	assert.Equal(t, 10, results.PerPage)
}

func TestSearchRejectsInvalidPagination(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/search", map[string]any{"query": "x", "page": -1})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSearchRejectsMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/search", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAddDuplicateReturnsConflict(t *testing.T) {
	srv, eng := newTestServer(t)
	require.NoError(t, eng.AddDocument(testDoc("doc-1", "original body")))

	resp := postJSON(t, srv.URL+"/api/v1/documents", map[string]any{"id": "doc-1", "content": "copy"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestGetDocument(t *testing.T) {
	srv, eng := newTestServer(t)
	require.NoError(t, eng.AddDocument(testDoc("doc-1", "retrievable body")))

	resp, err := http.Get(srv.URL + "/api/v1/documents/doc-1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var doc map[string]any
	decodeBody(t, resp, &doc)
	assert.Equal(t, "doc-1", doc["id"])

	resp, err = http.Get(srv.URL + "/api/v1/documents/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRemoveDocument(t *testing.T) {
	srv, eng := newTestServer(t)
	require.NoError(t, eng.AddDocument(testDoc("doc-1", "to be removed")))

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/documents/doc-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, eng.Stats().DocumentCount)

	resp2, err := http.DefaultClient.Do(req.Clone(req.Context()))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestUpdateDocumentOverHTTP(t *testing.T) {
	srv, eng := newTestServer(t)
	require.NoError(t, eng.AddDocument(testDoc("doc-1", "stale wording")))

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/v1/documents/doc-1",
		strings.NewReader(`{"title":"Fresh","content":"updated wording"}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	doc := eng.Document("doc-1")
	require.NotNil(t, doc)
	assert.Equal(t, "Fresh", doc.Title)
}

func TestBulkImportOverHTTP(t *testing.T) {
	srv, eng := newTestServer(t)
	require.NoError(t, eng.AddDocument(testDoc("dup", "pre-existing")))

	resp := postJSON(t, srv.URL+"/api/v1/documents/bulk", []map[string]any{
		{"id": "a", "content": "batch entry one"},
		{"id": "dup", "content": "conflicting entry"},
		{"id": "b", "content": "batch entry two"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report map[string]any
	decodeBody(t, resp, &report)
	assert.Equal(t, float64(2), report["added"])
	assert.Equal(t, float64(1), report["failed"])
}

func TestSuggestOverHTTP(t *testing.T) {
	srv, eng := newTestServer(t)
	require.NoError(t, eng.AddDocument(testDoc("doc-1", "prefix prefab present")))

	resp, err := http.Get(srv.URL + "/api/v1/suggest?prefix=pre&limit=2")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Prefix      string   `json:"prefix"`
		Suggestions []string `json:"suggestions"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, "pre", body.Prefix)
	assert.Len(t, body.Suggestions, 2)
}

func TestSuggestRejectsBadLimit(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/suggest?prefix=a&limit=nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatsAndReset(t *testing.T) {
	srv, eng := newTestServer(t)
	require.NoError(t, eng.AddDocument(testDoc("doc-1", "counted content")))

	resp, err := http.Get(srv.URL + "/api/v1/stats")
	require.NoError(t, err)
	var stats engine.IndexStats
	decodeBody(t, resp, &stats)
	assert.Equal(t, 1, stats.DocumentCount)

	resp = postJSON(t, srv.URL+"/api/v1/reset", map[string]any{})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, eng.Stats().DocumentCount)
}

func TestCacheEndpointsWithCachingDisabled(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/cache/stats")
	require.NoError(t, err)
	var status map[string]string
	decodeBody(t, resp, &status)
	assert.Equal(t, "disabled", status["status"])

	resp = postJSON(t, srv.URL+"/api/v1/cache/invalidate", map[string]any{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAcceptedDocsSkipsFailures(t *testing.T) {
	docs := []*store.Document{
		testDoc("a", "kept entry"),
		nil,
		testDoc("dup", "rejected entry"),
		testDoc("b", "also kept"),
	}
	failures := []engine.DocumentFailure{{ID: "dup", Err: errors.ErrDuplicateDocument}}

	accepted := acceptedDocs(docs, failures)

	require.Len(t, accepted, 2)
	assert.Equal(t, "a", accepted[0].ID)
	assert.Equal(t, "b", accepted[1].ID)
}

func TestBulkImportKeepsIndexedContentOnDuplicate(t *testing.T) {
	srv, eng := newTestServer(t)
	require.NoError(t, eng.AddDocument(testDoc("dup", "original wording")))

	resp := postJSON(t, srv.URL+"/api/v1/documents/bulk", []map[string]any{
		{"id": "dup", "content": "replacement wording"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var report map[string]any
	decodeBody(t, resp, &report)
	assert.Equal(t, float64(0), report["added"])
	assert.Equal(t, float64(1), report["failed"])

	doc := eng.Document("dup")
	require.NotNil(t, doc)
	assert.Equal(t, "original wording", doc.Content)
}
