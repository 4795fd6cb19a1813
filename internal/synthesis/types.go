// Package synthesis clusters search results into comparable approaches,
// scores the consensus behind each one, and asks a language model whether
// the strongest approach pairs contradict each other.
package synthesis

import (
	"github.com/google/uuid"
)

// Source is one search result backing an approach.
type Source struct {
	DocumentID uuid.UUID `json:"doc_id"`
	Title      string    `json:"title"`
	URL        string    `json:"url,omitempty"`
	Snippet    string    `json:"snippet"`
	Similarity float64   `json:"similarity"`
}

// Approach is one cluster of results presented as a coherent way of
// solving the queried problem.
type Approach struct {
	Topic     string   `json:"topic"`
	Method    string   `json:"method"`
	Summary   string   `json:"summary"`
	Consensus float64  `json:"consensus"`
	Sources   []Source `json:"sources"`
}

// ConflictSource identifies one side of a detected contradiction.
type ConflictSource struct {
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
}

// Conflict is a model-confirmed contradiction between two approaches.
type Conflict struct {
	SourceA     ConflictSource `json:"source_a"`
	SourceB     ConflictSource `json:"source_b"`
	Severity    string         `json:"severity"`
	Description string         `json:"description"`
	Confidence  float64        `json:"confidence"`
}

// Metadata summarizes one synthesis run.
type Metadata struct {
	TotalSources      int   `json:"total_sources"`
	ApproachesFound   int   `json:"approaches_found"`
	ConflictsFound    int   `json:"conflicts_found"`
	SynthesisTimeMs   int64 `json:"synthesis_time_ms"`
	EmbeddingFallback bool  `json:"embedding_fallback,omitempty"`
}

// Comparison is the full synthesis response for one query.
type Comparison struct {
	Query       string     `json:"query"`
	Approaches  []Approach `json:"approaches"`
	Conflicts   []Conflict `json:"conflicts"`
	Recommended *Approach  `json:"recommended,omitempty"`
	Metadata    Metadata   `json:"metadata"`
}

// Severity levels a conflict can carry.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)
