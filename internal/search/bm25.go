package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/relayforge/corpus-engine/internal/observability"
	"github.com/relayforge/corpus-engine/internal/storage"
)

// tsqueryReserved are the to_tsquery operator characters stripped from
// user queries before the terms are joined into a prefix conjunction.
const tsqueryReserved = "&|!():*'<>\"\\"

// BM25Config tunes full-text search defaults.
type BM25Config struct {
	TopK     int
	Language string
}

func (c BM25Config) withDefaults() BM25Config {
	if c.TopK <= 0 {
		c.TopK = 30
	}
	if c.Language == "" {
		c.Language = "english"
	}
	return c
}

type textStore interface {
	TextSearch(ctx context.Context, collectionID uuid.UUID, language, tsquery string, limit int) ([]*storage.TextHit, error)
}

// BM25Searcher runs ranked full-text search over a collection's chunks.
type BM25Searcher struct {
	logger *observability.Logger
	chunks textStore
	config BM25Config
}

func NewBM25Searcher(logger *observability.Logger, chunks textStore, cfg BM25Config) *BM25Searcher {
	return &BM25Searcher{
		logger: logger.WithComponent("search"),
		chunks: chunks,
		config: cfg.withDefaults(),
	}
}

// Search returns up to TopK chunks ranked by ts_rank_cd. Scores are
// normalized by the best raw rank in the set (floored at 1) so they
// stay within [0,1] per response; Rank is the 1-based position.
func (s *BM25Searcher) Search(ctx context.Context, req Request) ([]Result, error) {
	if req.TopK < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTopK, req.TopK)
	}
	topK := req.TopK
	if topK == 0 {
		topK = s.config.TopK
	}

	tsquery, err := buildTSQuery(req.Query)
	if err != nil {
		return nil, err
	}

	hits, err := s.chunks.TextSearch(ctx, req.CollectionID, s.config.Language, tsquery, topK)
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}

	maxRank := 1.0
	for _, hit := range hits {
		if hit.RawRank > maxRank {
			maxRank = hit.RawRank
		}
	}

	results := make([]Result, 0, len(hits))
	for i, hit := range hits {
		result := resultFromTextHit(hit)
		result.Rank = i + 1
		result.BM25Score = hit.RawRank / maxRank
		results = append(results, result)
	}

	s.logger.Debug().
		Str("collection_id", req.CollectionID.String()).
		Str("tsquery", tsquery).
		Int("hits", len(results)).
		Msg("bm25 search complete")
	return results, nil
}

// buildTSQuery turns free text into a prefix-match conjunction:
// "setup auth" becomes "setup:* & auth:*". Reserved operator
// characters are stripped first so user input cannot inject syntax.
func buildTSQuery(query string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		if strings.ContainsRune(tsqueryReserved, r) {
			return ' '
		}
		return r
	}, query)

	terms := strings.Fields(cleaned)
	if len(terms) == 0 {
		return "", ErrTermlessQuery
	}
	for i := range terms {
		terms[i] += ":*"
	}
	return strings.Join(terms, " & "), nil
}
