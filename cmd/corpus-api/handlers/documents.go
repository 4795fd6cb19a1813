package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/relayforge/corpus-engine/internal/api/httperr"
	"github.com/relayforge/corpus-engine/internal/ingest"
	"github.com/relayforge/corpus-engine/internal/observability"
	"github.com/relayforge/corpus-engine/internal/storage"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type documentStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*storage.Document, error)
	List(ctx context.Context, filter storage.DocumentFilter) ([]*storage.Document, error)
	Count(ctx context.Context, filter storage.DocumentFilter) (int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status storage.DocumentStatus) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type enqueuer interface {
	Enqueue(ctx context.Context, id uuid.UUID) error
}

// DocumentHandler handles document listing, inspection, and removal.
type DocumentHandler struct {
	logger    *observability.Logger
	documents documentStore
	files     fileRemover
	search    cacheInvalidator
	queue     enqueuer
}

// NewDocumentHandler creates a new document handler.
func NewDocumentHandler(
	logger *observability.Logger,
	documents documentStore,
	files fileRemover,
	search cacheInvalidator,
	queue enqueuer,
) *DocumentHandler {
	return &DocumentHandler{
		logger:    logger,
		documents: documents,
		files:     files,
		search:    search,
		queue:     queue,
	}
}

// ListDocumentsResponse is the GET /api/documents payload.
type ListDocumentsResponse struct {
	Documents []*storage.Document `json:"documents"`
	Total     int                 `json:"total"`
	Limit     int                 `json:"limit"`
	Offset    int                 `json:"offset"`
}

// List handles GET /api/documents?collection_id=&status=&limit=&offset=.
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	collectionID, err := uuid.Parse(r.URL.Query().Get("collection_id"))
	if err != nil {
		httperr.Write(w, httperr.CodeInvalidInput, "collection_id is required")
		return
	}

	filter := storage.DocumentFilter{CollectionID: collectionID, Limit: defaultPageSize}

	if status := r.URL.Query().Get("status"); status != "" {
		if !validStatus(status) {
			httperr.Write(w, httperr.CodeInvalidInput, "invalid status filter")
			return
		}
		filter.Status = storage.DocumentStatus(status)
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			httperr.Write(w, httperr.CodeInvalidInput, "limit must be a positive integer")
			return
		}
		if limit > maxPageSize {
			limit = maxPageSize
		}
		filter.Limit = limit
	}

	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			httperr.Write(w, httperr.CodeInvalidInput, "offset must be a non-negative integer")
			return
		}
		filter.Offset = offset
	}

	docs, err := h.documents.List(r.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("list documents failed")
		httperr.Write(w, httperr.CodeDatabaseError, "could not list documents")
		return
	}
	total, err := h.documents.Count(r.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("count documents failed")
		httperr.Write(w, httperr.CodeDatabaseError, "could not list documents")
		return
	}
	if docs == nil {
		docs = []*storage.Document{}
	}

	writeJSON(w, http.StatusOK, ListDocumentsResponse{
		Documents: docs,
		Total:     total,
		Limit:     filter.Limit,
		Offset:    filter.Offset,
	})
}

// Get handles GET /api/documents/{id}.
func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
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

	writeJSON(w, http.StatusOK, doc)
}

// Delete handles DELETE /api/documents/{id}. The stored file is removed after
// the row; a file that is already gone is not an error.
func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
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
		httperr.Write(w, httperr.CodeDatabaseError, "could not delete document")
		return
	}

	if err := h.documents.Delete(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httperr.Write(w, httperr.CodeDocumentNotFound, "document not found")
			return
		}
		h.logger.Error().Err(err).Msg("delete document failed")
		httperr.Write(w, httperr.CodeDatabaseError, "could not delete document")
		return
	}

	if doc.FilePath != nil {
		if err := h.files.Remove(*doc.FilePath); err != nil {
			h.logger.Warn().Err(err).Str("path", *doc.FilePath).Msg("could not remove stored file")
		}
	}
	h.search.InvalidateCollection(r.Context(), doc.CollectionID)

	h.logger.Info().
		Str("document_id", id.String()).
		Str("collection_id", doc.CollectionID.String()).
		Msg("document deleted")

	w.WriteHeader(http.StatusNoContent)
}

// Reingest handles POST /api/documents/{id}/reingest. The document is reset
// to pending and queued for a fresh pipeline run over its stored file.
func (h *DocumentHandler) Reingest(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
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
		httperr.Write(w, httperr.CodeDatabaseError, "could not reingest document")
		return
	}
	if doc.FilePath == nil {
		httperr.Write(w, httperr.CodeInvalidInput, "document has no stored file to reingest")
		return
	}

	if err := h.documents.UpdateStatus(r.Context(), id, storage.StatusPending); err != nil {
		h.logger.Error().Err(err).Msg("reset document status failed")
		httperr.Write(w, httperr.CodeDatabaseError, "could not reingest document")
		return
	}

	if err := h.queue.Enqueue(r.Context(), id); err != nil {
		if errors.Is(err, ingest.ErrQueueStopped) {
			httperr.Write(w, httperr.CodeProcessingError, "ingestion queue is shut down")
			return
		}
		h.logger.Error().Err(err).Msg("enqueue document failed")
		httperr.Write(w, httperr.CodeProcessingError, "could not queue document")
		return
	}

	h.logger.Info().Str("document_id", id.String()).Msg("document queued for reingestion")

	writeJSON(w, http.StatusAccepted, IngestedDocument{
		ID:     doc.ID.String(),
		Title:  doc.Title,
		Status: string(storage.StatusPending),
	})
}

func validStatus(status string) bool {
	switch storage.DocumentStatus(status) {
	case storage.StatusPending, storage.StatusExtracting, storage.StatusChunking,
		storage.StatusEmbedding, storage.StatusComplete, storage.StatusError:
		return true
	}
	return false
}
