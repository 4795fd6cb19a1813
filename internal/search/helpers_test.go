package search

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/relayforge/corpus-engine/internal/embedding"
	"github.com/relayforge/corpus-engine/internal/observability"
	"github.com/relayforge/corpus-engine/internal/storage"
)

type fakeVectorStore struct {
	mu        sync.Mutex
	hits      []*storage.VectorHit
	err       error
	gotMinSim float64
	gotLimit  int
	calls     int
}

func (f *fakeVectorStore) VectorSearch(ctx context.Context, collectionID uuid.UUID, embedding []float32, minSimilarity float64, limit int) ([]*storage.VectorHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.gotMinSim = minSimilarity
	f.gotLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.hits) {
		return f.hits[:limit], nil
	}
	return f.hits, nil
}

type fakeTextStore struct {
	mu          sync.Mutex
	hits        []*storage.TextHit
	err         error
	gotQuery    string
	gotLanguage string
	gotLimit    int
	calls       int
}

func (f *fakeTextStore) TextSearch(ctx context.Context, collectionID uuid.UUID, language, tsquery string, limit int) ([]*storage.TextHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.gotQuery = tsquery
	f.gotLanguage = language
	f.gotLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.hits) {
		return f.hits[:limit], nil
	}
	return f.hits, nil
}

type fakeLatestDocs struct {
	doc *storage.Document
	err error
}

func (f *fakeLatestDocs) LatestComplete(ctx context.Context, collectionID uuid.UUID) (*storage.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.doc == nil {
		return nil, storage.ErrNotFound
	}
	return f.doc, nil
}

type fakeQueryEmbedder struct {
	mu          sync.Mutex
	providerID  string
	err         error
	gotText     string
	gotOverride string
}

func (f *fakeQueryEmbedder) Route(ctx context.Context, text string, cctx embedding.ContentContext, override string) (*embedding.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotText = text
	f.gotOverride = override
	if f.err != nil {
		return nil, f.err
	}
	provider := f.providerID
	if override != "" {
		provider = override
	}
	if provider == "" {
		provider = "ollama"
	}
	return &embedding.Result{Vector: []float32{0.1, 0.2, 0.3}, ProviderID: provider, Model: "test-model", Dimension: 3}, nil
}

func searchLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:       "error",
		Format:      "console",
		Output:      io.Discard,
		ServiceName: "test",
	})
}

type searchEnv struct {
	vecStore *fakeVectorStore
	txtStore *fakeTextStore
	docs     *fakeLatestDocs
	embedder *fakeQueryEmbedder
	vector   *VectorSearcher
	bm25     *BM25Searcher
	hybrid   *HybridSearcher
}

func newSearchEnv() *searchEnv {
	env := &searchEnv{
		vecStore: &fakeVectorStore{},
		txtStore: &fakeTextStore{},
		docs:     &fakeLatestDocs{},
		embedder: &fakeQueryEmbedder{},
	}
	logger := searchLogger()
	env.vector = NewVectorSearcher(logger, env.vecStore, env.docs, env.embedder, VectorConfig{})
	env.bm25 = NewBM25Searcher(logger, env.txtStore, BM25Config{})
	env.hybrid = NewHybridSearcher(logger, env.vector, env.bm25, HybridConfig{})
	return env
}

func vectorHit(chunkID int64, similarity float64, title string) *storage.VectorHit {
	return &storage.VectorHit{
		ChunkID:    chunkID,
		DocumentID: uuid.New(),
		ChunkIndex: int(chunkID),
		Text:       "text for chunk",
		Similarity: similarity,
		DocTitle:   title,
	}
}

func textHit(chunkID int64, rawRank float64, title string) *storage.TextHit {
	return &storage.TextHit{
		ChunkID:    chunkID,
		DocumentID: uuid.New(),
		ChunkIndex: int(chunkID),
		Text:       "text for chunk",
		RawRank:    rawRank,
		DocTitle:   title,
	}
}
