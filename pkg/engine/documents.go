package engine

import (
	"context"
	"net/url"
	"strconv"

	"github.com/google/uuid"
)

// ListDocumentsOptions filters and paginates a document listing.
// CollectionID is required; the rest are optional.
type ListDocumentsOptions struct {
	CollectionID uuid.UUID
	Status       string
	Limit        int
	Offset       int
}

// ListDocuments lists documents in a collection.
func (c *Client) ListDocuments(ctx context.Context, opts ListDocumentsOptions) (*DocumentPage, error) {
	query := url.Values{}
	query.Set("collection_id", opts.CollectionID.String())
	if opts.Status != "" {
		query.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}

	var out DocumentPage
	if err := c.get(ctx, "/api/documents?"+query.Encode(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetDocument fetches one document.
func (c *Client) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	var out Document
	if err := c.get(ctx, "/api/documents/"+id.String(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteDocument deletes a document, its chunks, and its stored file.
func (c *Client) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	return c.del(ctx, "/api/documents/"+id.String())
}

// ReingestDocument re-runs the ingestion pipeline for a document from its
// stored file.
func (c *Client) ReingestDocument(ctx context.Context, id uuid.UUID) (*IngestedDocument, error) {
	var out IngestedDocument
	if err := c.post(ctx, "/api/documents/"+id.String()+"/reingest", struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IngestStatus reports pipeline progress for one document.
func (c *Client) IngestStatus(ctx context.Context, documentID uuid.UUID) (*IngestStatus, error) {
	var out IngestStatus
	if err := c.get(ctx, "/api/ingest/status/"+documentID.String(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}
