package search

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/corpus-engine/internal/cache"
	"github.com/relayforge/corpus-engine/internal/storage"
)

type fakeReranker struct {
	calls int
	err   error
}

func (f *fakeReranker) Rerank(ctx context.Context, query string, results []Result) ([]Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]Result, len(results))
	copy(out, results)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	for i := range out {
		out[i].RerankProvider = "local_rerank"
		out[i].RerankScore = float64(len(out) - i)
		out[i].OriginalSimilarity = out[i].Similarity
	}
	return out, nil
}

type serviceEnv struct {
	*searchEnv
	reranker    *fakeReranker
	cacheClient *cache.MemoryClient
	service     *Service
}

func newServiceEnv(t *testing.T, cfg Config) *serviceEnv {
	t.Helper()
	base := newSearchEnv()
	env := &serviceEnv{
		searchEnv:   base,
		reranker:    &fakeReranker{},
		cacheClient: cache.NewMemoryClient(100),
	}
	t.Cleanup(func() { _ = env.cacheClient.Close() })
	logger := searchLogger()
	env.service = NewService(logger, base.vector, base.hybrid, NewRescorer(logger), env.reranker, env.cacheClient, cfg)
	return env
}

func TestService_Search_VectorMode(t *testing.T) {
	env := newServiceEnv(t, Config{})
	env.vecStore.hits = []*storage.VectorHit{
		vectorHit(1, 0.9, "A"),
		vectorHit(2, 0.8, "B"),
	}

	response, err := env.service.Search(context.Background(), Request{
		Query:        "  setup auth  ",
		CollectionID: uuid.New(),
	})
	require.NoError(t, err)

	assert.Equal(t, "setup auth", response.Query)
	assert.Equal(t, 2, response.TotalResults)
	assert.Equal(t, ModeVector, response.Metadata.SearchMode)
	assert.Equal(t, "ollama", response.Metadata.EmbeddingProvider)
	assert.False(t, response.Metadata.TrustScoringApplied)

	// The fake reranker reverses and annotates.
	assert.Equal(t, 1, env.reranker.calls)
	assert.Equal(t, int64(2), response.Results[0].ChunkID)
	assert.Equal(t, "local_rerank", response.Results[0].RerankProvider)
}

func TestService_Search_HybridMode(t *testing.T) {
	env := newServiceEnv(t, Config{Mode: ModeHybrid})
	env.vecStore.hits = []*storage.VectorHit{vectorHit(1, 0.9, "A")}
	env.txtStore.hits = []*storage.TextHit{textHit(1, 2.0, "A")}

	response, err := env.service.Search(context.Background(), Request{
		Query:        "setup",
		CollectionID: uuid.New(),
	})
	require.NoError(t, err)

	assert.Equal(t, ModeHybrid, response.Metadata.SearchMode)
	assert.Equal(t, 1, response.Metadata.VectorCount)
	assert.Equal(t, 1, response.Metadata.BM25Count)
	assert.Equal(t, 1, response.Metadata.FusedCount)
	require.Len(t, response.Results, 1)
	assert.Equal(t, SourceBoth, response.Results[0].Source)
}

func TestService_Search_RequestModeOverridesConfig(t *testing.T) {
	env := newServiceEnv(t, Config{Mode: ModeHybrid})
	env.vecStore.hits = []*storage.VectorHit{vectorHit(1, 0.9, "A")}

	response, err := env.service.Search(context.Background(), Request{
		Query:        "setup",
		CollectionID: uuid.New(),
		Mode:         ModeVector,
	})
	require.NoError(t, err)

	assert.Equal(t, ModeVector, response.Metadata.SearchMode)
	assert.Zero(t, env.txtStore.calls)
}

func TestService_Search_Validation(t *testing.T) {
	env := newServiceEnv(t, Config{})

	_, err := env.service.Search(context.Background(), Request{Query: "  ", CollectionID: uuid.New()})
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = env.service.Search(context.Background(), Request{Query: "ok", CollectionID: uuid.New(), TopK: -1})
	assert.ErrorIs(t, err, ErrInvalidTopK)

	_, err = env.service.Search(context.Background(), Request{Query: "ok", CollectionID: uuid.New(), Mode: "keyword"})
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestService_Search_TrustScoring(t *testing.T) {
	env := newServiceEnv(t, Config{TrustScoring: true})
	hit := vectorHit(1, 0.9, "A")
	hit.DocMeta = storage.Metadata{"source_quality": "official"}
	env.vecStore.hits = []*storage.VectorHit{hit}

	response, err := env.service.Search(context.Background(), Request{
		Query:        "setup",
		CollectionID: uuid.New(),
	})
	require.NoError(t, err)

	assert.True(t, response.Metadata.TrustScoringApplied)
	require.Len(t, response.Results, 1)
	assert.Equal(t, 1.0, response.Results[0].TrustWeight)
	assert.Equal(t, 0.9, response.Results[0].BaseSimilarity)
}

func TestService_Search_RerankerFailureKeepsOrder(t *testing.T) {
	env := newServiceEnv(t, Config{})
	env.reranker.err = errors.New("rerank broke")
	env.vecStore.hits = []*storage.VectorHit{
		vectorHit(1, 0.9, "A"),
		vectorHit(2, 0.8, "B"),
	}

	response, err := env.service.Search(context.Background(), Request{
		Query:        "setup",
		CollectionID: uuid.New(),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), response.Results[0].ChunkID, "retrieval order survives a reranker failure")
	assert.Empty(t, response.Results[0].RerankProvider)
}

func TestService_Search_CachesResponses(t *testing.T) {
	env := newServiceEnv(t, Config{})
	env.vecStore.hits = []*storage.VectorHit{vectorHit(1, 0.9, "A")}
	collectionID := uuid.New()

	first, err := env.service.Search(context.Background(), Request{Query: "setup", CollectionID: collectionID})
	require.NoError(t, err)

	second, err := env.service.Search(context.Background(), Request{Query: "setup", CollectionID: collectionID})
	require.NoError(t, err)

	assert.Equal(t, 1, env.vecStore.calls, "identical request is served from cache")
	assert.Equal(t, first.TotalResults, second.TotalResults)
	assert.Equal(t, first.Results[0].ChunkID, second.Results[0].ChunkID)

	_, err = env.service.Search(context.Background(), Request{Query: "different", CollectionID: collectionID})
	require.NoError(t, err)
	assert.Equal(t, 2, env.vecStore.calls, "different query misses the cache")

	topK := Request{Query: "setup", CollectionID: collectionID, TopK: 7}
	_, err = env.service.Search(context.Background(), topK)
	require.NoError(t, err)
	assert.Equal(t, 3, env.vecStore.calls, "different parameters miss the cache")
}

func TestService_Search_InvalidateCollection(t *testing.T) {
	env := newServiceEnv(t, Config{})
	env.vecStore.hits = []*storage.VectorHit{vectorHit(1, 0.9, "A")}
	collectionID := uuid.New()
	req := Request{Query: "setup", CollectionID: collectionID}

	_, err := env.service.Search(context.Background(), req)
	require.NoError(t, err)

	env.service.InvalidateCollection(context.Background(), collectionID)

	_, err = env.service.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, env.vecStore.calls, "invalidation forces a fresh search")
}

func TestService_Search_WithoutCacheOrReranker(t *testing.T) {
	base := newSearchEnv()
	base.vecStore.hits = []*storage.VectorHit{vectorHit(1, 0.9, "A")}
	logger := searchLogger()
	service := NewService(logger, base.vector, base.hybrid, NewRescorer(logger), nil, nil, Config{})

	for range 2 {
		response, err := service.Search(context.Background(), Request{Query: "setup", CollectionID: uuid.New()})
		require.NoError(t, err)
		assert.Empty(t, response.Results[0].RerankProvider)
	}
	assert.Equal(t, 2, base.vecStore.calls)
}
