package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL})
}

func TestClient_Search_RoundTrip(t *testing.T) {
	collectionID := uuid.New()
	topK := 5

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/search", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req SearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "connection pooling", req.Query)
		assert.Equal(t, collectionID, req.CollectionID)
		require.NotNil(t, req.TopK)
		assert.Equal(t, topK, *req.TopK)

		json.NewEncoder(w).Encode(SearchResponse{
			Query:        req.Query,
			Results:      []SearchResult{{ChunkID: 12, DocTitle: "pgbouncer notes", Similarity: 0.87}},
			TotalResults: 1,
			Metadata:     SearchMetadata{SearchMode: "hybrid", EmbeddingProvider: "local"},
		})
	})

	resp, err := client.Search(context.Background(), SearchRequest{
		Query:        "connection pooling",
		CollectionID: collectionID,
		TopK:         &topK,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, int64(12), resp.Results[0].ChunkID)
	assert.Equal(t, "hybrid", resp.Metadata.SearchMode)
}

func TestClient_DecodesErrorEnvelope(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{
			"error":     "collection not found",
			"code":      "COLLECTION_NOT_FOUND",
			"timestamp": time.Now().UTC(),
		})
	})

	_, err := client.GetCollection(context.Background(), uuid.New())
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "COLLECTION_NOT_FOUND", apiErr.Code)
	assert.Equal(t, "collection not found", apiErr.Message)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "COLLECTION_NOT_FOUND")
}

func TestClient_PlainBodyErrorsKeepStatus(t *testing.T) {
	// Unmounted routes answer with the router's plain text 404.
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := client.Compare(context.Background(), CompareRequest{
		Query:        "query",
		CollectionID: uuid.New(),
	})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Empty(t, apiErr.Code)
	assert.Equal(t, "404 page not found", apiErr.Message)
	assert.True(t, IsNotFound(err))
}

func TestClient_Ingest_BuildsMultipart(t *testing.T) {
	collectionID := uuid.New()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, collectionID.String(), r.FormValue("collection_id"))

		headers := r.MultipartForm.File["files"]
		require.Len(t, headers, 2)
		assert.Equal(t, "notes.md", headers[0].Filename)
		assert.Equal(t, "paper.pdf", headers[1].Filename)

		file, err := headers[0].Open()
		require.NoError(t, err)
		defer file.Close()
		content := make([]byte, headers[0].Size)
		file.Read(content)
		assert.Equal(t, "# Notes", string(content))

		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(IngestResponse{
			Documents: []IngestedDocument{
				{ID: uuid.New(), Title: "notes", Status: "pending"},
				{ID: uuid.New(), Title: "paper", Status: "pending"},
			},
		})
	})

	resp, err := client.Ingest(context.Background(), collectionID, []File{
		{Name: "/tmp/uploads/notes.md", Content: strings.NewReader("# Notes")},
		{Name: "paper.pdf", Content: strings.NewReader("%PDF-1.4")},
	})
	require.NoError(t, err)
	require.Len(t, resp.Documents, 2)
	assert.Equal(t, "notes", resp.Documents[0].Title)
}

func TestClient_Ingest_RequiresFiles(t *testing.T) {
	client := NewClient(Config{})
	_, err := client.Ingest(context.Background(), uuid.New(), nil)
	require.Error(t, err)
}

func TestClient_ListDocuments_QueryParams(t *testing.T) {
	collectionID := uuid.New()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/documents", r.URL.Path)
		query := r.URL.Query()
		assert.Equal(t, collectionID.String(), query.Get("collection_id"))
		assert.Equal(t, "complete", query.Get("status"))
		assert.Equal(t, "10", query.Get("limit"))
		assert.Equal(t, "20", query.Get("offset"))

		json.NewEncoder(w).Encode(DocumentPage{Documents: []*Document{}, Limit: 10, Offset: 20})
	})

	page, err := client.ListDocuments(context.Background(), ListDocumentsOptions{
		CollectionID: collectionID,
		Status:       "complete",
		Limit:        10,
		Offset:       20,
	})
	require.NoError(t, err)
	assert.Equal(t, 10, page.Limit)
}

func TestClient_CostHistory_FormatsBounds(t *testing.T) {
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		assert.Equal(t, start.Format(time.RFC3339), query.Get("start"))
		assert.Equal(t, end.Format(time.RFC3339), query.Get("end"))

		json.NewEncoder(w).Encode(map[string]any{
			"history": []*DailySpend{{Date: start, RequestCount: 4, TotalCost: 0.12}},
		})
	})

	history, err := client.CostHistory(context.Background(), start, end)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 4, history[0].RequestCount)
}

func TestClient_CostHistory_OmitsZeroBounds(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.RawQuery)
		json.NewEncoder(w).Encode(map[string]any{"history": []*DailySpend{}})
	})

	history, err := client.CostHistory(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestClient_DeleteCollection_NoContent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, client.DeleteCollection(context.Background(), uuid.New()))
}

func TestClient_TrimsTrailingSlash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.Write([]byte(`{"status":"healthy"}`))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(Config{BaseURL: srv.URL + "/"})
	require.NoError(t, client.Health(context.Background()))
}
