// Package embedding routes text to embedding providers. Three providers are
// registered under stable ids; selection considers explicit overrides, the
// caller's content context, and a code heuristic, and every cloud failure
// falls back to the local provider.
package embedding

import (
	"context"
	"errors"
	"regexp"
)

// Provider registry ids.
const (
	ProviderLocal        = "local"
	ProviderGeneralCloud = "general_cloud"
	ProviderCodeCloud    = "code_cloud"
)

// ErrEmbedding is returned when no provider, including local, could embed.
var ErrEmbedding = errors.New("embedding failed")

// Client generates embeddings for batches of text.
type Client interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
	Model() string
	Dimension() int
}

// ContentContext describes what kind of text is being embedded.
type ContentContext struct {
	Type         string // code, docs or personal
	Language     string
	CollectionID string
}

// Result is a single embedded text plus the provider that produced it.
type Result struct {
	Vector     []float32
	ProviderID string
	Model      string
	Dimension  int
}

// BatchResult is an embedded batch. All vectors come from one provider.
type BatchResult struct {
	Vectors    [][]float32
	ProviderID string
	Model      string
	Dimension  int
}

var codePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^\s*(import|from)\s+\S+`),
	regexp.MustCompile(`(?m)^\s*(func|def|function|class|enum|interface|struct|impl)\s+\w+`),
	regexp.MustCompile(`(?m)^\s*(const|let|var)\s+\w+\s*=`),
	regexp.MustCompile(`\w+<[\w\s,.]+>\s*\(`),
	regexp.MustCompile(`(?m)^\s*//`),
	regexp.MustCompile(`(?m)^\s*#include\s*[<"]`),
}

// looksLikeCode reports whether text matches any source-code pattern.
func looksLikeCode(text string) bool {
	for _, p := range codePatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
