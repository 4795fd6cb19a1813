package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"github.com/google/uuid"
)

// File is one upload in an ingest batch. Name supplies the document title
// and the extension that selects the extractor.
type File struct {
	Name    string
	Content io.Reader
}

// Ingest uploads a batch of files into a collection. The server accepts
// the whole batch or rejects it without storing anything; processing
// continues asynchronously, tracked via IngestStatus.
func (c *Client) Ingest(ctx context.Context, collectionID uuid.UUID, files []File) (*IngestResponse, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("at least one file is required")
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("collection_id", collectionID.String()); err != nil {
		return nil, fmt.Errorf("write collection_id field: %w", err)
	}
	for _, file := range files {
		part, err := form.CreateFormFile("files", filepath.Base(file.Name))
		if err != nil {
			return nil, fmt.Errorf("create form file %s: %w", file.Name, err)
		}
		if _, err := io.Copy(part, file.Content); err != nil {
			return nil, fmt.Errorf("read %s: %w", file.Name, err)
		}
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("close multipart form: %w", err)
	}

	var out IngestResponse
	if err := c.do(ctx, http.MethodPost, "/api/ingest", form.FormDataContentType(), &buf, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IngestURL asks the server to crawl a URL into a collection. The crawl
// runs asynchronously; poll ListDocuments to watch pages arrive.
func (c *Client) IngestURL(ctx context.Context, req IngestURLRequest) (*IngestURLResponse, error) {
	var out IngestURLResponse
	if err := c.post(ctx, "/api/ingest/url", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
