package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/corpus-engine/internal/embedding"
	"github.com/relayforge/corpus-engine/internal/observability"
	"github.com/relayforge/corpus-engine/internal/search"
	"github.com/relayforge/corpus-engine/internal/storage"
)

type fakeSearcher struct {
	resp   *search.Response
	err    error
	gotReq search.Request
	calls  int
}

func (f *fakeSearcher) Search(_ context.Context, req search.Request) (*search.Response, error) {
	f.calls++
	f.gotReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type fakeCollectionGetter struct {
	err error
}

func (f *fakeCollectionGetter) GetByID(_ context.Context, id uuid.UUID) (*storage.Collection, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &storage.Collection{ID: id, Name: "docs"}, nil
}

func rpcLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:       "error",
		Format:      "console",
		Output:      io.Discard,
		ServiceName: "test",
	})
}

func newTestService(searcher *fakeSearcher, collections *fakeCollectionGetter) *SearchService {
	return &SearchService{
		logger:      rpcLogger().WithComponent("rpc"),
		service:     searcher,
		collections: collections,
	}
}

func searchResponse(query string) *search.Response {
	return &search.Response{
		Query: query,
		Results: []search.Result{{
			ChunkID:    7,
			DocumentID: uuid.New(),
			Text:       "use a connection pooler",
			Similarity: 0.91,
			DocTitle:   "Postgres Guide",
		}},
		TotalResults: 1,
		SearchTimeMs: 12,
		Metadata:     search.ResponseMetadata{SearchMode: search.ModeHybrid},
	}
}

func TestSearchService_Search_MapsRequestFields(t *testing.T) {
	searcher := &fakeSearcher{resp: searchResponse("pooling")}
	svc := newTestService(searcher, &fakeCollectionGetter{})

	collectionID := uuid.New()
	topK := 10
	minSim := 0.35
	req := connect.NewRequest(&SearchRequest{
		Query:         "pooling",
		CollectionID:  collectionID.String(),
		TopK:          &topK,
		MinSimilarity: &minSim,
		Mode:          search.ModeHybrid,
		Weights:       &SearchWeights{Vector: 0.6, BM25: 0.4},
		RRFK:          40,
		Provider:      embedding.ProviderLocal,
	})

	resp, err := svc.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "pooling", resp.Msg.Query)
	assert.Equal(t, 1, resp.Msg.TotalResults)

	got := searcher.gotReq
	assert.Equal(t, collectionID, got.CollectionID)
	assert.Equal(t, 10, got.TopK)
	require.NotNil(t, got.MinSimilarity)
	assert.InDelta(t, 0.35, *got.MinSimilarity, 1e-9)
	require.NotNil(t, got.Weights)
	assert.InDelta(t, 0.6, got.Weights.Vector, 1e-9)
	assert.InDelta(t, 0.4, got.Weights.BM25, 1e-9)
	assert.Equal(t, 40, got.RRFK)
	assert.Equal(t, embedding.ProviderLocal, got.Provider)
}

func TestSearchService_Search_OmittedOptionalsStayZero(t *testing.T) {
	searcher := &fakeSearcher{resp: searchResponse("pooling")}
	svc := newTestService(searcher, &fakeCollectionGetter{})

	req := connect.NewRequest(&SearchRequest{
		Query:        "pooling",
		CollectionID: uuid.New().String(),
	})

	_, err := svc.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, searcher.gotReq.TopK)
	assert.Nil(t, searcher.gotReq.MinSimilarity)
	assert.Nil(t, searcher.gotReq.Weights)
}

func TestSearchService_Search_Validation(t *testing.T) {
	zero := 0
	cases := []struct {
		name string
		req  *SearchRequest
	}{
		{"empty query", &SearchRequest{Query: "  ", CollectionID: uuid.New().String()}},
		{"missing collection", &SearchRequest{Query: "pooling"}},
		{"bad collection id", &SearchRequest{Query: "pooling", CollectionID: "not-a-uuid"}},
		{"explicit zero top_k", &SearchRequest{Query: "pooling", CollectionID: uuid.New().String(), TopK: &zero}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			searcher := &fakeSearcher{resp: searchResponse("pooling")}
			svc := newTestService(searcher, &fakeCollectionGetter{})

			_, err := svc.Search(context.Background(), connect.NewRequest(tc.req))
			require.Error(t, err)
			assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
			assert.Equal(t, 0, searcher.calls)
		})
	}
}

func TestSearchService_Search_CollectionNotFound(t *testing.T) {
	searcher := &fakeSearcher{resp: searchResponse("pooling")}
	svc := newTestService(searcher, &fakeCollectionGetter{err: storage.ErrNotFound})

	_, err := svc.Search(context.Background(), connect.NewRequest(&SearchRequest{
		Query:        "pooling",
		CollectionID: uuid.New().String(),
	}))
	require.Error(t, err)
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))
	assert.Equal(t, 0, searcher.calls)
}

func TestSearchService_Search_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code connect.Code
	}{
		{"validation sentinel", fmt.Errorf("%w: -3", search.ErrInvalidTopK), connect.CodeInvalidArgument},
		{"termless query", search.ErrTermlessQuery, connect.CodeInvalidArgument},
		{"embedding failure", fmt.Errorf("embed query: %w", embedding.ErrEmbedding), connect.CodeUnavailable},
		{"storage failure", fmt.Errorf("vector search: connection reset"), connect.CodeInternal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestService(&fakeSearcher{err: tc.err}, &fakeCollectionGetter{})

			_, err := svc.Search(context.Background(), connect.NewRequest(&SearchRequest{
				Query:        "pooling",
				CollectionID: uuid.New().String(),
			}))
			require.Error(t, err)
			assert.Equal(t, tc.code, connect.CodeOf(err))
		})
	}
}

func TestSearchService_Handler_HTTPRoundTrip(t *testing.T) {
	searcher := &fakeSearcher{resp: searchResponse("pooling")}
	svc := newTestService(searcher, &fakeCollectionGetter{})

	procedure, handler := svc.Handler()
	require.Equal(t, SearchProcedure, procedure)

	mux := http.NewServeMux()
	mux.Handle(procedure, handler)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	body, err := json.Marshal(map[string]any{
		"query":         "pooling",
		"collection_id": uuid.New().String(),
		"top_k":         5,
	})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+procedure, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var decoded search.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Equal(t, "pooling", decoded.Query)
	assert.Len(t, decoded.Results, 1)
	assert.Equal(t, 5, searcher.gotReq.TopK)
}

func TestSearchService_Handler_HTTPNotFound(t *testing.T) {
	svc := newTestService(&fakeSearcher{}, &fakeCollectionGetter{err: storage.ErrNotFound})

	procedure, handler := svc.Handler()
	mux := http.NewServeMux()
	mux.Handle(procedure, handler)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	body := []byte(`{"query":"pooling","collection_id":"` + uuid.New().String() + `"}`)
	resp, err := http.Post(srv.URL+procedure, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "not_found")
}
