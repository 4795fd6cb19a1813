// Package storage provides database models and repositories for the corpus engine.
package storage

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DocumentStatus represents the ingestion state of a document.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusExtracting DocumentStatus = "extracting"
	StatusChunking   DocumentStatus = "chunking"
	StatusEmbedding  DocumentStatus = "embedding"
	StatusComplete   DocumentStatus = "complete"
	StatusError      DocumentStatus = "error"
)

// SourceQuality levels recognized in document metadata.
const (
	SourceQualityOfficial  = "official"
	SourceQualityVerified  = "verified"
	SourceQualityCommunity = "community"
)

// AlertType represents budget alert categories.
type AlertType string

const (
	AlertTypeWarning      AlertType = "warning"
	AlertTypeLimitReached AlertType = "limit_reached"
)

// CostOperation represents the operation a cost record covers.
type CostOperation string

const (
	CostOpEmbed    CostOperation = "embed"
	CostOpRerank   CostOperation = "rerank"
	CostOpGenerate CostOperation = "generate"
)

// Metadata is a free-form key/value document stored as JSONB. Recognized
// keys keep their semantics; unknown keys are preserved verbatim.
type Metadata map[string]any

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		if len(v) == 0 {
			*m = Metadata{}
			return nil
		}
		return json.Unmarshal(v, m)
	case string:
		if v == "" {
			*m = Metadata{}
			return nil
		}
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported metadata source type %T", src)
	}
}

// GetString returns the string value for key, or "" when absent or not a string.
func (m Metadata) GetString(key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// SourceQuality returns the source_quality metadata value.
func (m Metadata) SourceQuality() string {
	return m.GetString("source_quality")
}

// LastVerified parses the last_verified metadata date, accepting ISO dates
// and RFC3339 timestamps.
func (m Metadata) LastVerified() (time.Time, bool) {
	return m.parseDate("last_verified")
}

// PublishedDate parses the published_date metadata date.
func (m Metadata) PublishedDate() (time.Time, bool) {
	return m.parseDate("published_date")
}

func (m Metadata) parseDate(key string) (time.Time, bool) {
	raw := m.GetString(key)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Merge returns a copy of m with overrides applied on top.
func (m Metadata) Merge(overrides Metadata) Metadata {
	out := make(Metadata, len(m)+len(overrides))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Collection groups documents that are searched together.
type Collection struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// CollectionStats carries aggregate counts for a collection.
type CollectionStats struct {
	DocumentCount int            `json:"document_count"`
	ChunkCount    int            `json:"chunk_count"`
	TotalTokens   int            `json:"total_tokens"`
	StatusCounts  map[string]int `json:"status_counts"`
}

// CollectionWithCount is a collection plus its document count, for list views.
type CollectionWithCount struct {
	Collection
	DocumentCount int `json:"document_count"`
}

// Document is an ingested source inside a collection.
type Document struct {
	ID           uuid.UUID      `json:"id" db:"id"`
	CollectionID uuid.UUID      `json:"collection_id" db:"collection_id"`
	Title        string         `json:"title" db:"title"`
	FilePath     *string        `json:"file_path,omitempty" db:"file_path"`
	ContentType  string         `json:"content_type" db:"content_type"`
	FileSize     int64          `json:"file_size" db:"file_size"`
	SourceURL    *string        `json:"source_url,omitempty" db:"source_url"`
	Status       DocumentStatus `json:"status" db:"status"`
	ErrorMessage *string        `json:"error_message,omitempty" db:"error_message"`
	Metadata     Metadata       `json:"metadata" db:"metadata"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	ProcessedAt  *time.Time     `json:"processed_at,omitempty" db:"processed_at"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
}

// Chunk is a fixed-size textual unit carrying a single embedding.
type Chunk struct {
	ID             int64     `json:"id" db:"id"`
	DocumentID     uuid.UUID `json:"document_id" db:"document_id"`
	ChunkIndex     int       `json:"chunk_index" db:"chunk_index"`
	Text           string    `json:"text" db:"text"`
	TokenCount     int       `json:"token_count" db:"token_count"`
	Embedding      []float32 `json:"-" db:"embedding"`
	EmbeddingDim   int       `json:"embedding_dim" db:"embedding_dim"`
	EmbeddingModel string    `json:"embedding_model" db:"embedding_model"`
	Metadata       Metadata  `json:"metadata" db:"metadata"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// CostRecord is an append-only row in the usage ledger.
type CostRecord struct {
	ID           int64         `json:"id" db:"id"`
	Provider     string        `json:"provider" db:"provider"`
	Operation    CostOperation `json:"operation" db:"operation"`
	TokensUsed   int           `json:"tokens_used" db:"tokens_used"`
	CostUSD      float64       `json:"cost_usd" db:"cost_usd"`
	Model        string        `json:"model" db:"model"`
	CollectionID *uuid.UUID    `json:"collection_id,omitempty" db:"collection_id"`
	Metadata     Metadata      `json:"metadata" db:"metadata"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
}

// BudgetAlert records a crossed spend threshold.
type BudgetAlert struct {
	ID              int64     `json:"id" db:"id"`
	AlertType       AlertType `json:"alert_type" db:"alert_type"`
	Period          string    `json:"period" db:"period"`
	ThresholdUSD    float64   `json:"threshold_usd" db:"threshold_usd"`
	CurrentSpendUSD float64   `json:"current_spend_usd" db:"current_spend_usd"`
	TriggeredAt     time.Time `json:"triggered_at" db:"triggered_at"`
}

// DailySpendRow aggregates the ledger per calendar day.
type DailySpendRow struct {
	Date         time.Time `json:"date"`
	RequestCount int       `json:"request_count"`
	TotalCost    float64   `json:"total_cost"`
}

// CostBreakdownRow aggregates the ledger per provider and operation.
type CostBreakdownRow struct {
	Provider          string  `json:"provider"`
	Operation         string  `json:"operation"`
	RequestCount      int     `json:"request_count"`
	TotalTokens       int     `json:"total_tokens"`
	TotalCost         float64 `json:"total_cost"`
	AvgCostPerRequest float64 `json:"avg_cost_per_request"`
}

// VectorHit is one row from the vector ANN query.
type VectorHit struct {
	ChunkID    int64
	DocumentID uuid.UUID
	ChunkIndex int
	Text       string
	Similarity float64
	DocTitle   string
	SourceURL  *string
	ChunkMeta  Metadata
	DocMeta    Metadata
}

// TextHit is one row from the full-text query. RawRank is the unnormalized
// ts_rank_cd value; callers normalize within a result set.
type TextHit struct {
	ChunkID    int64
	DocumentID uuid.UUID
	ChunkIndex int
	Text       string
	RawRank    float64
	DocTitle   string
	SourceURL  *string
	ChunkMeta  Metadata
	DocMeta    Metadata
}

// DocumentFilter narrows document listings.
type DocumentFilter struct {
	CollectionID uuid.UUID
	Status       DocumentStatus
	Limit        int
	Offset       int
}
