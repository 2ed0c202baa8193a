package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semidx/internal/embeddings"
	"github.com/fyrsmithlabs/semidx/internal/memory"
	"github.com/fyrsmithlabs/semidx/internal/reindex"
	"github.com/fyrsmithlabs/semidx/internal/reliability"
	"github.com/fyrsmithlabs/semidx/internal/search"
	"github.com/fyrsmithlabs/semidx/internal/vectorstore"
)

var testVersion = memory.EmbeddingVersion{Schema: "v1", Content: "v1", Model: "deterministic"}

func newTestServer(t *testing.T) (*Server, vectorstore.Store) {
	t.Helper()

	store, err := vectorstore.NewLocalStore(vectorstore.LocalConfig{VectorSize: 8}, nil)
	require.NoError(t, err)
	provider := embeddings.NewDeterministicProvider(8)

	engine, err := search.NewEngine(provider, store, search.Config{}, nil)
	require.NoError(t, err)
	staleness, err := reliability.NewStalenessDetector(store, reliability.DefaultStalenessConfig(testVersion), nil)
	require.NoError(t, err)
	manager, err := reindex.NewManager(provider, store, staleness, testVersion, reindex.Config{}, nil)
	require.NoError(t, err)
	drift, err := reliability.NewDriftDetector(store, reliability.DriftConfig{}, nil)
	require.NoError(t, err)

	server, err := NewServer(engine, store, provider, staleness, drift, manager, zap.NewNop(), nil)
	require.NoError(t, err)

	// Seed one record, embedded with the same provider the engine queries
	// with so an identical query text scores 1.0.
	vec, err := provider.EmbedQuery(context.Background(), "login with valid credentials")
	require.NoError(t, err)
	rec, err := memory.NewRecord("t1", memory.TypeTest, "login with valid credentials")
	require.NoError(t, err)
	rec.Embedding = vec
	rec.SetMeta(memory.MetaEmbeddingVersion, testVersion.String())
	_, err = store.Upsert(context.Background(), []*memory.MemoryRecord{rec})
	require.NoError(t, err)

	return server, store
}

func doRequest(t *testing.T, server *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Records)
}

func TestServer_Search(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodPost, "/api/v1/search",
		`{"query":"login with valid credentials","top_k":5}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, "t1", resp.Hits[0].ID)
	assert.Equal(t, 1, resp.Hits[0].Rank)
	assert.InDelta(t, 1.0, float64(resp.Hits[0].Score), 1e-4)
}

func TestServer_Search_TypeFilterExcludes(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodPost, "/api/v1/search",
		`{"query":"login with valid credentials","types":["failure"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Hits)
}

func TestServer_Search_BadBody(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doRequest(t, server, http.MethodPost, "/api/v1/search", `{"query":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Similar(t *testing.T) {
	server, _ := newTestServer(t)

	// The only record excludes itself, so its neighbor list is empty.
	rec := doRequest(t, server, http.MethodGet, "/api/v1/records/t1/similar", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Hits)
}

func TestServer_StaleLifecycle(t *testing.T) {
	server, store := newTestServer(t)

	rec := doRequest(t, server, http.MethodPost, "/api/v1/records/t1/stale", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	got, err := store.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "true", got.Meta(memory.MetaManuallyStale))

	rec = doRequest(t, server, http.MethodDelete, "/api/v1/records/t1/stale", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	got, err = store.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Empty(t, got.Meta(memory.MetaManuallyStale))
}

func TestServer_MarkStaleMissing(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doRequest(t, server, http.MethodPost, "/api/v1/records/ghost/stale", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Drift_NoDrift(t *testing.T) {
	server, _ := newTestServer(t)

	// Identical text reproduces the stored embedding exactly.
	rec := doRequest(t, server, http.MethodPost, "/api/v1/records/t1/drift",
		`{"text":"login with valid credentials"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp DriftResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Drifted)
	assert.False(t, resp.Queued)
	assert.InDelta(t, 1.0, resp.Similarity, 1e-4)
	assert.InDelta(t, reliability.DefaultDriftThreshold, resp.Threshold, 1e-9)
	assert.Zero(t, server.manager.Queue().Len())
}

func TestServer_Drift_QueuesReindex(t *testing.T) {
	server, store := newTestServer(t)

	// Store the negated embedding so the fresh one lands at similarity -1.
	provider := embeddings.NewDeterministicProvider(8)
	vec, err := provider.EmbedQuery(context.Background(), "checkout flow times out")
	require.NoError(t, err)
	for i := range vec {
		vec[i] = -vec[i]
	}
	moved, err := memory.NewRecord("t2", memory.TypeTest, "checkout flow times out")
	require.NoError(t, err)
	moved.Embedding = vec
	_, err = store.Upsert(context.Background(), []*memory.MemoryRecord{moved})
	require.NoError(t, err)

	rec := doRequest(t, server, http.MethodPost, "/api/v1/records/t2/drift",
		`{"text":"checkout flow times out"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp DriftResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Drifted)
	assert.True(t, resp.Queued)
	assert.InDelta(t, -1.0, resp.Similarity, 1e-4)
	assert.Equal(t, 1, server.manager.Queue().Len())

	got, err := store.Get(context.Background(), "t2")
	require.NoError(t, err)
	assert.Equal(t, "true", got.Meta(memory.MetaDriftDetected))
}

func TestServer_Drift_MissingText(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doRequest(t, server, http.MethodPost, "/api/v1/records/t1/drift", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ReindexQueue(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/api/v1/reindex/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status ReindexStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Zero(t, status.Pending)

	rec = doRequest(t, server, http.MethodPost, "/api/v1/records/t1/reindex", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// Queuing the same record again conflicts.
	rec = doRequest(t, server, http.MethodPost, "/api/v1/records/t1/reindex", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, server, http.MethodGet, "/api/v1/reindex/status", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 1, status.Pending)
}
