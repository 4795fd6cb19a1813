package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/relayforge/corpus-engine/internal/api/httperr"
	"github.com/relayforge/corpus-engine/internal/crawl"
	"github.com/relayforge/corpus-engine/internal/extract"
	"github.com/relayforge/corpus-engine/internal/ingest"
	"github.com/relayforge/corpus-engine/internal/observability"
	"github.com/relayforge/corpus-engine/internal/storage"
)

// multipartMemory caps how much of an upload is buffered in memory before
// the rest spills to temp files.
const multipartMemory = 32 << 20

type collectionFinder interface {
	GetByID(ctx context.Context, id uuid.UUID) (*storage.Collection, error)
}

type documentCreator interface {
	Create(ctx context.Context, doc *storage.Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*storage.Document, error)
}

type fileStorer interface {
	Save(dir, id, ext string, content io.Reader) (string, int64, error)
	Remove(path string) error
}

type crawlRunner interface {
	Run(ctx context.Context, req crawl.Request) ([]crawl.PageResult, error)
}

// IngestHandler accepts file uploads and URLs and feeds them to the
// ingestion pipeline.
type IngestHandler struct {
	logger      *observability.Logger
	collections collectionFinder
	documents   documentCreator
	files       fileStorer
	queue       enqueuer
	crawler     crawlRunner
	maxFileSize int64
}

// NewIngestHandler creates a new ingest handler. The crawler may be nil when
// URL ingestion is not configured; the upload path does not use it.
func NewIngestHandler(
	logger *observability.Logger,
	collections collectionFinder,
	documents documentCreator,
	files fileStorer,
	queue enqueuer,
	crawler crawlRunner,
	maxFileSize int64,
) *IngestHandler {
	return &IngestHandler{
		logger:      logger,
		collections: collections,
		documents:   documents,
		files:       files,
		queue:       queue,
		crawler:     crawler,
		maxFileSize: maxFileSize,
	}
}

// IngestedDocument is one accepted file in the upload response.
type IngestedDocument struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

// IngestResponse is the POST /api/ingest payload.
type IngestResponse struct {
	Documents []IngestedDocument `json:"documents"`
}

// Upload handles POST /api/ingest. Every file in the form is validated
// before any of them is stored, so a rejected batch leaves no partial
// state behind.
func (h *IngestHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		httperr.Write(w, httperr.CodeInvalidInput, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	collectionID, err := uuid.Parse(r.FormValue("collection_id"))
	if err != nil {
		httperr.Write(w, httperr.CodeInvalidInput, "collection_id is required")
		return
	}
	if _, err := h.collections.GetByID(r.Context(), collectionID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httperr.Write(w, httperr.CodeCollectionNotFound, "collection not found")
			return
		}
		h.logger.Error().Err(err).Msg("get collection failed")
		httperr.Write(w, httperr.CodeDatabaseError, "could not load collection")
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		httperr.Write(w, httperr.CodeInvalidInput, "at least one file is required")
		return
	}
	for _, header := range headers {
		if header.Size > h.maxFileSize {
			httperr.WriteDetails(w, httperr.CodeFileTooLarge,
				fmt.Sprintf("%s exceeds the maximum file size", header.Filename),
				map[string]any{"file": header.Filename, "max_bytes": h.maxFileSize})
			return
		}
		if extract.TypeForFilename(header.Filename) == "" {
			httperr.WriteDetails(w, httperr.CodeUnsupportedType,
				fmt.Sprintf("%s has an unsupported file type", header.Filename),
				map[string]any{"file": header.Filename})
			return
		}
	}

	accepted := make([]IngestedDocument, 0, len(headers))
	for _, header := range headers {
		doc, err := h.storeUpload(r.Context(), collectionID, header)
		if err != nil {
			h.logger.Error().Err(err).Str("file", header.Filename).Msg("store upload failed")
			httperr.Write(w, httperr.CodeProcessingError, fmt.Sprintf("could not store %s", header.Filename))
			return
		}
		if err := h.queue.Enqueue(r.Context(), doc.ID); err != nil {
			if errors.Is(err, ingest.ErrQueueStopped) {
				httperr.Write(w, httperr.CodeProcessingError, "ingestion queue is shut down")
				return
			}
			h.logger.Error().Err(err).Str("document_id", doc.ID.String()).Msg("enqueue failed")
			httperr.Write(w, httperr.CodeProcessingError, "could not queue document")
			return
		}
		accepted = append(accepted, IngestedDocument{
			ID:     doc.ID.String(),
			Title:  doc.Title,
			Status: string(doc.Status),
		})
	}

	h.logger.Info().
		Str("collection_id", collectionID.String()).
		Int("documents", len(accepted)).
		Msg("ingest batch accepted")

	writeJSON(w, http.StatusAccepted, IngestResponse{Documents: accepted})
}

func (h *IngestHandler) storeUpload(ctx context.Context, collectionID uuid.UUID, header *multipart.FileHeader) (*storage.Document, error) {
	file, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer file.Close()

	id := uuid.New()
	ext := strings.ToLower(filepath.Ext(header.Filename))
	path, size, err := h.files.Save(collectionID.String(), id.String(), ext, file)
	if err != nil {
		return nil, fmt.Errorf("save file: %w", err)
	}

	doc := &storage.Document{
		ID:           id,
		CollectionID: collectionID,
		Title:        uploadTitle(header.Filename),
		FilePath:     &path,
		ContentType:  extract.TypeForFilename(header.Filename),
		FileSize:     size,
		Status:       storage.StatusPending,
	}
	if err := h.documents.Create(ctx, doc); err != nil {
		if removeErr := h.files.Remove(path); removeErr != nil {
			h.logger.Warn().Err(removeErr).Str("path", path).Msg("could not remove stored file")
		}
		return nil, fmt.Errorf("create document: %w", err)
	}
	return doc, nil
}

func uploadTitle(filename string) string {
	base := filepath.Base(filename)
	title := strings.TrimSuffix(base, filepath.Ext(base))
	if title == "" {
		return base
	}
	return title
}

// IngestURLRequest is the POST /api/ingest/url payload.
type IngestURLRequest struct {
	CollectionID string `json:"collection_id"`
	URL          string `json:"url"`
	Mode         string `json:"mode,omitempty"`
	MaxPages     int    `json:"max_pages,omitempty"`
	TitlePrefix  string `json:"title_prefix,omitempty"`
}

// IngestURLResponse acknowledges an accepted crawl.
type IngestURLResponse struct {
	CollectionID string `json:"collection_id"`
	URL          string `json:"url"`
	Mode         string `json:"mode"`
	Status       string `json:"status"`
}

// FromURL handles POST /api/ingest/url. The URL is validated up front; the
// crawl itself runs in the background and documents appear in the collection
// as pages are fetched.
func (h *IngestHandler) FromURL(w http.ResponseWriter, r *http.Request) {
	var req IngestURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperr.Write(w, httperr.CodeInvalidInput, "invalid request body")
		return
	}

	collectionID, err := uuid.Parse(req.CollectionID)
	if err != nil {
		httperr.Write(w, httperr.CodeInvalidInput, "collection_id is required")
		return
	}

	normalized, err := crawl.NormalizeURL(req.URL)
	if err != nil {
		httperr.Write(w, httperr.CodeInvalidInput, "url is not crawlable")
		return
	}
	if err := crawl.ValidateURL(normalized); err != nil {
		httperr.Write(w, httperr.CodeInvalidInput, "url is not crawlable")
		return
	}

	mode := req.Mode
	if mode == "" {
		mode = crawl.ModeSingle
	}
	if mode != crawl.ModeSingle && mode != crawl.ModeCrawl {
		httperr.Write(w, httperr.CodeInvalidInput, "mode must be single or crawl")
		return
	}

	if _, err := h.collections.GetByID(r.Context(), collectionID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httperr.Write(w, httperr.CodeCollectionNotFound, "collection not found")
			return
		}
		h.logger.Error().Err(err).Msg("get collection failed")
		httperr.Write(w, httperr.CodeDatabaseError, "could not load collection")
		return
	}

	crawlReq := crawl.Request{
		URL:          normalized,
		CollectionID: collectionID,
		Mode:         mode,
		MaxPages:     req.MaxPages,
		TitlePrefix:  req.TitlePrefix,
	}
	go func() {
		pages, err := h.crawler.Run(context.Background(), crawlReq)
		if err != nil {
			h.logger.Error().Err(err).Str("url", normalized).Msg("crawl failed")
			return
		}
		h.logger.Info().
			Str("url", normalized).
			Str("collection_id", collectionID.String()).
			Int("pages", len(pages)).
			Msg("crawl finished")
	}()

	h.logger.Info().
		Str("url", normalized).
		Str("collection_id", collectionID.String()).
		Str("mode", mode).
		Msg("crawl accepted")

	writeJSON(w, http.StatusAccepted, IngestURLResponse{
		CollectionID: collectionID.String(),
		URL:          normalized,
		Mode:         mode,
		Status:       "accepted",
	})
}

// IngestStatusResponse is the GET /api/ingest/status/{doc_id} payload.
// Progress is a coarse estimate derived from the pipeline stage.
type IngestStatusResponse struct {
	DocumentID   string  `json:"document_id"`
	Status       string  `json:"status"`
	Progress     float64 `json:"progress"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

// Status handles GET /api/ingest/status/{doc_id}.
func (h *IngestHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "doc_id"))
	if err != nil {
		httperr.Write(w, httperr.CodeInvalidInput, "invalid document id")
		return
	}

	doc, err := h.documents.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httperr.Write(w, httperr.CodeDocumentNotFound, "document not found")
			return
		}
		h.logger.Error().Err(err).Msg("get document failed")
		httperr.Write(w, httperr.CodeDatabaseError, "could not load document")
		return
	}

	resp := IngestStatusResponse{
		DocumentID: doc.ID.String(),
		Status:     string(doc.Status),
		Progress:   statusProgress(doc.Status),
	}
	if doc.ErrorMessage != nil {
		resp.ErrorMessage = *doc.ErrorMessage
	}
	writeJSON(w, http.StatusOK, resp)
}

// statusProgress maps a pipeline stage to the fraction of work behind it.
func statusProgress(status storage.DocumentStatus) float64 {
	switch status {
	case storage.StatusExtracting:
		return 0.25
	case storage.StatusChunking:
		return 0.5
	case storage.StatusEmbedding:
		return 0.75
	case storage.StatusComplete:
		return 1.0
	}
	return 0.0
}
