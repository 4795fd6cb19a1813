package engine

import (
	"context"

	"github.com/google/uuid"
)

// CreateCollection creates a new collection.
func (c *Client) CreateCollection(ctx context.Context, req CreateCollectionRequest) (*Collection, error) {
	var out Collection
	if err := c.post(ctx, "/api/collections", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListCollections lists all collections with their document counts.
func (c *Client) ListCollections(ctx context.Context) ([]*CollectionWithCount, error) {
	var out struct {
		Collections []*CollectionWithCount `json:"collections"`
	}
	if err := c.get(ctx, "/api/collections", &out); err != nil {
		return nil, err
	}
	return out.Collections, nil
}

// GetCollection fetches one collection with its stats.
func (c *Client) GetCollection(ctx context.Context, id uuid.UUID) (*CollectionDetail, error) {
	var out CollectionDetail
	if err := c.get(ctx, "/api/collections/"+id.String(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteCollection deletes a collection, its documents, and stored files.
func (c *Client) DeleteCollection(ctx context.Context, id uuid.UUID) error {
	return c.del(ctx, "/api/collections/"+id.String())
}
