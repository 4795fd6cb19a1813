package embedding

import (
	"context"
	"math"
)

// MockClient generates deterministic embeddings for testing.
type MockClient struct {
	name      string
	dimension int
}

// NewMockClient creates a mock embedding client.
func NewMockClient(name string, dimension int) *MockClient {
	if name == "" {
		name = "mock"
	}
	if dimension <= 0 {
		dimension = 768
	}
	return &MockClient{name: name, dimension: dimension}
}

// Embed generates a deterministic embedding derived from the text content.
func (c *MockClient) Embed(_ context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, c.dimension)
		for j, char := range text {
			vec[j%c.dimension] += float32(char) / 1000.0
		}

		var norm float32
		for _, v := range vec {
			norm += v * v
		}
		if norm > 0 {
			norm = float32(math.Sqrt(float64(norm)))
			for j := range vec {
				vec[j] /= norm
			}
		}
		embeddings[i] = vec
	}
	return embeddings, nil
}

// Name returns the configured provider name.
func (c *MockClient) Name() string {
	return c.name
}

// Model returns the mock model identifier.
func (c *MockClient) Model() string {
	return "mock-embedding-model"
}

// Dimension returns the embedding dimension.
func (c *MockClient) Dimension() int {
	return c.dimension
}
