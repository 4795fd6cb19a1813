package engine

import (
	"time"

	"github.com/google/uuid"
)

// Collection groups documents that are searched together.
type Collection struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CollectionWithCount is a collection plus its document count.
type CollectionWithCount struct {
	Collection
	DocumentCount int `json:"document_count"`
}

// CollectionStats carries aggregate counts for a collection.
type CollectionStats struct {
	DocumentCount int            `json:"document_count"`
	ChunkCount    int            `json:"chunk_count"`
	TotalTokens   int            `json:"total_tokens"`
	StatusCounts  map[string]int `json:"status_counts"`
}

// CollectionDetail is a collection with its stats.
type CollectionDetail struct {
	Collection
	Stats *CollectionStats `json:"stats"`
}

// CreateCollectionRequest is the body for CreateCollection.
type CreateCollectionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Document is an ingested source inside a collection.
type Document struct {
	ID           uuid.UUID      `json:"id"`
	CollectionID uuid.UUID      `json:"collection_id"`
	Title        string         `json:"title"`
	FilePath     string         `json:"file_path,omitempty"`
	ContentType  string         `json:"content_type"`
	FileSize     int64          `json:"file_size"`
	SourceURL    string         `json:"source_url,omitempty"`
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
	ProcessedAt  *time.Time     `json:"processed_at,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// DocumentPage is one page of a document listing.
type DocumentPage struct {
	Documents []*Document `json:"documents"`
	Total     int         `json:"total"`
	Limit     int         `json:"limit"`
	Offset    int         `json:"offset"`
}

// IngestedDocument acknowledges one accepted upload.
type IngestedDocument struct {
	ID     uuid.UUID `json:"id"`
	Title  string    `json:"title"`
	Status string    `json:"status"`
}

// IngestResponse acknowledges an accepted upload batch.
type IngestResponse struct {
	Documents []IngestedDocument `json:"documents"`
}

// IngestURLRequest asks the server to crawl a URL into a collection.
type IngestURLRequest struct {
	CollectionID uuid.UUID `json:"collection_id"`
	URL          string    `json:"url"`
	// Mode is "single" (one page) or "crawl" (follow same-host links).
	Mode        string `json:"mode,omitempty"`
	MaxPages    int    `json:"max_pages,omitempty"`
	TitlePrefix string `json:"title_prefix,omitempty"`
}

// IngestURLResponse acknowledges an accepted crawl.
type IngestURLResponse struct {
	CollectionID uuid.UUID `json:"collection_id"`
	URL          string    `json:"url"`
	Mode         string    `json:"mode"`
	Status       string    `json:"status"`
}

// IngestStatus reports pipeline progress for one document.
type IngestStatus struct {
	DocumentID   uuid.UUID `json:"document_id"`
	Status       string    `json:"status"`
	Progress     float64   `json:"progress"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// Weights tunes the vector and BM25 contributions of hybrid search.
type Weights struct {
	Vector float64 `json:"vector"`
	BM25   float64 `json:"bm25"`
}

// SearchRequest is the body for Search. Zero-valued optionals fall back
// to server defaults.
type SearchRequest struct {
	Query         string    `json:"query"`
	CollectionID  uuid.UUID `json:"collection_id"`
	TopK          *int      `json:"top_k,omitempty"`
	MinSimilarity *float64  `json:"min_similarity,omitempty"`
	Mode          string    `json:"mode,omitempty"`
	Weights       *Weights  `json:"weights,omitempty"`
	RRFK          int       `json:"rrf_k,omitempty"`
	Provider      string    `json:"provider,omitempty"`
}

// Citation locates a result inside its source document.
type Citation struct {
	Title   string `json:"title"`
	Page    *int   `json:"page,omitempty"`
	Section string `json:"section,omitempty"`
}

// SearchResult is one ranked chunk.
type SearchResult struct {
	ChunkID    int64          `json:"chunk_id"`
	DocumentID uuid.UUID      `json:"doc_id"`
	Text       string         `json:"text"`
	Similarity float64        `json:"similarity"`
	DocTitle   string         `json:"doc_title"`
	SourceURL  string         `json:"source_url,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Citation   Citation       `json:"citation"`
	Rank       int            `json:"rank,omitempty"`

	VectorScore float64 `json:"vector_score,omitempty"`
	BM25Score   float64 `json:"bm25_score,omitempty"`
	FusedScore  float64 `json:"fused_score,omitempty"`
	Source      string  `json:"source,omitempty"`

	TrustWeight    float64 `json:"trust_weight,omitempty"`
	RecencyWeight  float64 `json:"recency_weight,omitempty"`
	BaseSimilarity float64 `json:"base_similarity,omitempty"`

	RerankScore        float64 `json:"rerank_score,omitempty"`
	RerankProvider     string  `json:"rerank_provider,omitempty"`
	OriginalSimilarity float64 `json:"original_similarity,omitempty"`
}

// SearchMetadata describes how a search response was produced.
type SearchMetadata struct {
	SearchMode          string `json:"search_mode"`
	VectorCount         int    `json:"vector_count,omitempty"`
	BM25Count           int    `json:"bm25_count,omitempty"`
	FusedCount          int    `json:"fused_count,omitempty"`
	EmbeddingProvider   string `json:"embedding_provider,omitempty"`
	TrustScoringApplied bool   `json:"trust_scoring_applied"`
}

// SearchResponse is a ranked result set.
type SearchResponse struct {
	Query        string         `json:"query"`
	Results      []SearchResult `json:"results"`
	TotalResults int            `json:"total_results"`
	SearchTimeMs int64          `json:"search_time_ms"`
	Metadata     SearchMetadata `json:"metadata"`
}

// CompareRequest is the body for Compare.
type CompareRequest struct {
	Query        string    `json:"query"`
	CollectionID uuid.UUID `json:"collection_id"`
	TopK         *int      `json:"top_k,omitempty"`
}

// ApproachSource cites one document backing an approach.
type ApproachSource struct {
	DocumentID uuid.UUID `json:"doc_id"`
	Title      string    `json:"title"`
	URL        string    `json:"url,omitempty"`
	Snippet    string    `json:"snippet"`
	Similarity float64   `json:"similarity"`
}

// Approach is one distinct method found across the corpus.
type Approach struct {
	Topic     string           `json:"topic"`
	Method    string           `json:"method"`
	Summary   string           `json:"summary"`
	Consensus float64          `json:"consensus"`
	Sources   []ApproachSource `json:"sources"`
}

// ConflictSource names one side of a contradiction.
type ConflictSource struct {
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
}

// Conflict is a detected contradiction between two sources.
type Conflict struct {
	SourceA     ConflictSource `json:"source_a"`
	SourceB     ConflictSource `json:"source_b"`
	Severity    string         `json:"severity"`
	Description string         `json:"description"`
	Confidence  float64        `json:"confidence"`
}

// ComparisonMetadata describes how a comparison was produced.
type ComparisonMetadata struct {
	TotalSources      int   `json:"total_sources"`
	ApproachesFound   int   `json:"approaches_found"`
	ConflictsFound    int   `json:"conflicts_found"`
	SynthesisTimeMs   int64 `json:"synthesis_time_ms"`
	EmbeddingFallback bool  `json:"embedding_fallback,omitempty"`
}

// Comparison is a synthesized view of the approaches a corpus takes on a
// query, with any contradictions between them.
type Comparison struct {
	Query       string             `json:"query"`
	Approaches  []Approach         `json:"approaches"`
	Conflicts   []Conflict         `json:"conflicts"`
	Recommended *Approach          `json:"recommended,omitempty"`
	Metadata    ComparisonMetadata `json:"metadata"`
}

// CostBreakdownRow aggregates spend per provider and operation.
type CostBreakdownRow struct {
	Provider          string  `json:"provider"`
	Operation         string  `json:"operation"`
	RequestCount      int     `json:"request_count"`
	TotalTokens       int     `json:"total_tokens"`
	TotalCost         float64 `json:"total_cost"`
	AvgCostPerRequest float64 `json:"avg_cost_per_request"`
}

// CostSummary reports month-to-date spend against the budget.
type CostSummary struct {
	MonthlyBudgetUSD float64             `json:"monthly_budget_usd"`
	CurrentSpendUSD  float64             `json:"current_spend_usd"`
	RemainingUSD     float64             `json:"remaining_usd"`
	PercentUsed      float64             `json:"percent_used"`
	FallbackActive   bool                `json:"fallback_active"`
	Breakdown        []*CostBreakdownRow `json:"breakdown"`
}

// DailySpend aggregates spend for one calendar day.
type DailySpend struct {
	Date         time.Time `json:"date"`
	RequestCount int       `json:"request_count"`
	TotalCost    float64   `json:"total_cost"`
}

// BudgetAlert records a crossed spend threshold.
type BudgetAlert struct {
	ID              int64     `json:"id"`
	AlertType       string    `json:"alert_type"`
	Period          string    `json:"period"`
	ThresholdUSD    float64   `json:"threshold_usd"`
	CurrentSpendUSD float64   `json:"current_spend_usd"`
	TriggeredAt     time.Time `json:"triggered_at"`
}
