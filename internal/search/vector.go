package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/relayforge/corpus-engine/internal/embedding"
	"github.com/relayforge/corpus-engine/internal/observability"
	"github.com/relayforge/corpus-engine/internal/storage"
)

// VectorConfig tunes semantic search defaults.
type VectorConfig struct {
	TopK          int
	MinSimilarity float64
}

func (c VectorConfig) withDefaults() VectorConfig {
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.MinSimilarity <= 0 {
		c.MinSimilarity = 0.5
	}
	return c
}

type vectorStore interface {
	VectorSearch(ctx context.Context, collectionID uuid.UUID, embedding []float32, minSimilarity float64, limit int) ([]*storage.VectorHit, error)
}

type latestDocSource interface {
	LatestComplete(ctx context.Context, collectionID uuid.UUID) (*storage.Document, error)
}

type queryEmbedder interface {
	Route(ctx context.Context, text string, cctx embedding.ContentContext, override string) (*embedding.Result, error)
}

// VectorSearcher embeds a query and runs approximate nearest-neighbor
// search over a collection's chunks.
type VectorSearcher struct {
	logger    *observability.Logger
	chunks    vectorStore
	documents latestDocSource
	router    queryEmbedder
	config    VectorConfig
}

func NewVectorSearcher(logger *observability.Logger, chunks vectorStore, documents latestDocSource, router queryEmbedder, cfg VectorConfig) *VectorSearcher {
	return &VectorSearcher{
		logger:    logger.WithComponent("search"),
		chunks:    chunks,
		documents: documents,
		router:    router,
		config:    cfg.withDefaults(),
	}
}

// Search returns up to TopK chunks whose cosine similarity to the query
// meets the floor, ordered most similar first, along with the embedding
// provider that produced the query vector.
func (s *VectorSearcher) Search(ctx context.Context, req Request) ([]Result, string, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, "", ErrEmptyQuery
	}
	if req.TopK < 0 {
		return nil, "", fmt.Errorf("%w: %d", ErrInvalidTopK, req.TopK)
	}

	topK := req.TopK
	if topK == 0 {
		topK = s.config.TopK
	}
	minSimilarity := s.config.MinSimilarity
	if req.MinSimilarity != nil {
		minSimilarity = *req.MinSimilarity
	}

	override := req.Provider
	if override == "" {
		override = s.collectionProvider(ctx, req.CollectionID)
	}

	embedded, err := s.router.Route(ctx, query, embedding.ContentContext{
		CollectionID: req.CollectionID.String(),
	}, override)
	if err != nil {
		return nil, "", fmt.Errorf("embed query: %w", err)
	}

	hits, err := s.chunks.VectorSearch(ctx, req.CollectionID, embedded.Vector, minSimilarity, topK)
	if err != nil {
		return nil, "", fmt.Errorf("vector search: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		results = append(results, resultFromVectorHit(hit))
	}

	s.logger.Debug().
		Str("collection_id", req.CollectionID.String()).
		Str("provider", embedded.ProviderID).
		Int("top_k", topK).
		Float64("min_similarity", minSimilarity).
		Int("hits", len(results)).
		Msg("vector search complete")
	return results, embedded.ProviderID, nil
}

// collectionProvider reads the embedding provider declared by the most
// recently processed document, so query vectors match the dimension of
// the stored chunks. An empty return lets the router pick its default.
func (s *VectorSearcher) collectionProvider(ctx context.Context, collectionID uuid.UUID) string {
	doc, err := s.documents.LatestComplete(ctx, collectionID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn().Err(err).
				Str("collection_id", collectionID.String()).
				Msg("could not resolve collection embedding provider")
		}
		return ""
	}
	return doc.Metadata.GetString("embedding_provider")
}
