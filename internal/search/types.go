// Package search implements retrieval over ingested chunks: semantic
// vector search, BM25 full-text search, weighted reciprocal-rank fusion
// of the two, and trust/recency rescoring.
package search

import (
	"errors"

	"github.com/google/uuid"

	"github.com/relayforge/corpus-engine/internal/storage"
)

var (
	// ErrEmptyQuery is returned when the trimmed query is empty.
	ErrEmptyQuery = errors.New("query is empty")
	// ErrInvalidTopK is returned for an explicitly non-positive top_k.
	ErrInvalidTopK = errors.New("top_k must be positive")
	// ErrTermlessQuery is returned when no searchable terms survive
	// full-text query sanitization.
	ErrTermlessQuery = errors.New("query has no searchable terms")
	// ErrInvalidMode is returned for an unrecognized search mode.
	ErrInvalidMode = errors.New("invalid search mode")
)

// Search modes.
const (
	ModeVector = "vector"
	ModeHybrid = "hybrid"
)

// Result sources in hybrid fusion.
const (
	SourceVector = "vector"
	SourceBM25   = "bm25"
	SourceBoth   = "both"
)

// Weights are the per-source fusion weights. They are normalized by
// their sum before use.
type Weights struct {
	Vector float64 `json:"vector"`
	BM25   float64 `json:"bm25"`
}

// Request describes one search call. Zero TopK and nil MinSimilarity
// fall back to configured defaults; explicitly negative TopK is an
// error.
type Request struct {
	Query        string
	CollectionID uuid.UUID
	Mode         string
	TopK         int
	// MinSimilarity filters vector hits; nil means the configured
	// default, an explicit 0 disables the floor.
	MinSimilarity *float64
	Weights       *Weights
	RRFK          int
	// Provider overrides the embedding provider used for the query
	// vector; empty selects the collection's declared provider.
	Provider string
}

// Citation points a result back to its place in the source document.
type Citation struct {
	Title   string `json:"title"`
	Page    *int   `json:"page,omitempty"`
	Section string `json:"section,omitempty"`
}

// Result is one retrieved chunk with every score attached along the
// way: retrieval similarity, fusion scores, trust/recency weights, and
// reranker output.
type Result struct {
	ChunkID    int64            `json:"chunk_id"`
	DocumentID uuid.UUID        `json:"doc_id"`
	Text       string           `json:"text"`
	Similarity float64          `json:"similarity"`
	DocTitle   string           `json:"doc_title"`
	SourceURL  string           `json:"source_url,omitempty"`
	Metadata   storage.Metadata `json:"metadata,omitempty"`
	Citation   Citation         `json:"citation"`

	// Full-text rank, 1-based, set on standalone BM25 results.
	Rank int `json:"rank,omitempty"`

	// Fusion fields, set on hybrid results.
	VectorScore float64 `json:"vector_score,omitempty"`
	BM25Score   float64 `json:"bm25_score,omitempty"`
	FusedScore  float64 `json:"fused_score,omitempty"`
	Source      string  `json:"source,omitempty"`

	// Trust/recency rescoring fields.
	TrustWeight    float64 `json:"trust_weight,omitempty"`
	RecencyWeight  float64 `json:"recency_weight,omitempty"`
	BaseSimilarity float64 `json:"base_similarity,omitempty"`

	// Reranker fields.
	RerankScore        float64 `json:"rerank_score,omitempty"`
	RerankProvider     string  `json:"rerank_provider,omitempty"`
	OriginalSimilarity float64 `json:"original_similarity,omitempty"`
}

// Response is the full search answer returned to callers.
type Response struct {
	Query        string           `json:"query"`
	Results      []Result         `json:"results"`
	TotalResults int              `json:"total_results"`
	SearchTimeMs int64            `json:"search_time_ms"`
	Metadata     ResponseMetadata `json:"metadata"`
}

// ResponseMetadata describes how the response was produced.
type ResponseMetadata struct {
	SearchMode          string `json:"search_mode"`
	VectorCount         int    `json:"vector_count,omitempty"`
	BM25Count           int    `json:"bm25_count,omitempty"`
	FusedCount          int    `json:"fused_count,omitempty"`
	EmbeddingProvider   string `json:"embedding_provider,omitempty"`
	TrustScoringApplied bool   `json:"trust_scoring_applied"`
}

func resultFromVectorHit(hit *storage.VectorHit) Result {
	meta := hit.DocMeta.Merge(hit.ChunkMeta)
	return Result{
		ChunkID:    hit.ChunkID,
		DocumentID: hit.DocumentID,
		Text:       hit.Text,
		Similarity: hit.Similarity,
		DocTitle:   hit.DocTitle,
		SourceURL:  derefString(hit.SourceURL),
		Metadata:   meta,
		Citation:   citationFor(hit.DocTitle, meta),
	}
}

func resultFromTextHit(hit *storage.TextHit) Result {
	meta := hit.DocMeta.Merge(hit.ChunkMeta)
	return Result{
		ChunkID:    hit.ChunkID,
		DocumentID: hit.DocumentID,
		Text:       hit.Text,
		DocTitle:   hit.DocTitle,
		SourceURL:  derefString(hit.SourceURL),
		Metadata:   meta,
		Citation:   citationFor(hit.DocTitle, meta),
	}
}

func citationFor(title string, meta storage.Metadata) Citation {
	c := Citation{Title: title}
	if page, ok := metaInt(meta, "page"); ok {
		c.Page = &page
	}
	if section := meta.GetString("heading"); section != "" {
		c.Section = section
	}
	return c
}

// metaInt reads an integer metadata value. JSON round-trips turn
// numbers into float64, so both forms are accepted.
func metaInt(meta storage.Metadata, key string) (int, bool) {
	if meta == nil {
		return 0, false
	}
	switch v := meta[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
