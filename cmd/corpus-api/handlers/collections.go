// Package handlers provides the HTTP handlers for the corpus API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/relayforge/corpus-engine/internal/api/httperr"
	"github.com/relayforge/corpus-engine/internal/observability"
	"github.com/relayforge/corpus-engine/internal/storage"
)

type collectionStore interface {
	Create(ctx context.Context, collection *storage.Collection) error
	GetByID(ctx context.Context, id uuid.UUID) (*storage.Collection, error)
	ListWithCounts(ctx context.Context) ([]*storage.CollectionWithCount, error)
	Stats(ctx context.Context, id uuid.UUID) (*storage.CollectionStats, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type documentPathLister interface {
	ListFilePaths(ctx context.Context, collectionID uuid.UUID) ([]string, error)
}

type fileRemover interface {
	Remove(path string) error
}

type cacheInvalidator interface {
	InvalidateCollection(ctx context.Context, collectionID uuid.UUID)
}

// CollectionHandler handles collection CRUD requests.
type CollectionHandler struct {
	logger      *observability.Logger
	collections collectionStore
	documents   documentPathLister
	files       fileRemover
	search      cacheInvalidator
}

// NewCollectionHandler creates a new collection handler.
func NewCollectionHandler(
	logger *observability.Logger,
	collections collectionStore,
	documents documentPathLister,
	files fileRemover,
	search cacheInvalidator,
) *CollectionHandler {
	return &CollectionHandler{
		logger:      logger,
		collections: collections,
		documents:   documents,
		files:       files,
		search:      search,
	}
}

// CreateCollectionRequest is the POST /api/collections body.
type CreateCollectionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ListCollectionsResponse is the GET /api/collections payload.
type ListCollectionsResponse struct {
	Collections []*storage.CollectionWithCount `json:"collections"`
	Total       int                            `json:"total"`
}

// CollectionDetail is the GET /api/collections/{id} payload.
type CollectionDetail struct {
	*storage.Collection
	Stats *storage.CollectionStats `json:"stats"`
}

// Create handles POST /api/collections.
func (h *CollectionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperr.Write(w, httperr.CodeInvalidInput, "invalid request body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		httperr.Write(w, httperr.CodeInvalidInput, "name is required")
		return
	}

	collection := &storage.Collection{Name: req.Name, Description: req.Description}
	if err := h.collections.Create(r.Context(), collection); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			httperr.Write(w, httperr.CodeInvalidInput, "collection name already exists")
			return
		}
		h.logger.Error().Err(err).Msg("create collection failed")
		httperr.Write(w, httperr.CodeDatabaseError, "could not create collection")
		return
	}

	h.logger.Info().
		Str("collection_id", collection.ID.String()).
		Str("name", collection.Name).
		Msg("collection created")

	writeJSON(w, http.StatusCreated, collection)
}

// List handles GET /api/collections.
func (h *CollectionHandler) List(w http.ResponseWriter, r *http.Request) {
	collections, err := h.collections.ListWithCounts(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("list collections failed")
		httperr.Write(w, httperr.CodeDatabaseError, "could not list collections")
		return
	}
	if collections == nil {
		collections = []*storage.CollectionWithCount{}
	}

	writeJSON(w, http.StatusOK, ListCollectionsResponse{
		Collections: collections,
		Total:       len(collections),
	})
}

// Get handles GET /api/collections/{id}.
func (h *CollectionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httperr.Write(w, httperr.CodeInvalidInput, "invalid collection id")
		return
	}

	collection, err := h.collections.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httperr.Write(w, httperr.CodeCollectionNotFound, "collection not found")
			return
		}
		h.logger.Error().Err(err).Msg("get collection failed")
		httperr.Write(w, httperr.CodeDatabaseError, "could not load collection")
		return
	}

	stats, err := h.collections.Stats(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Msg("collection stats failed")
		httperr.Write(w, httperr.CodeDatabaseError, "could not load collection stats")
		return
	}

	writeJSON(w, http.StatusOK, CollectionDetail{Collection: collection, Stats: stats})
}

// Delete handles DELETE /api/collections/{id}. Stored files are removed after
// the rows cascade away; a file that is already gone is not an error.
func (h *CollectionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httperr.Write(w, httperr.CodeInvalidInput, "invalid collection id")
		return
	}

	// File paths must be collected before the delete cascades the rows away.
	paths, err := h.documents.ListFilePaths(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Msg("list file paths failed")
		httperr.Write(w, httperr.CodeDatabaseError, "could not delete collection")
		return
	}

	if err := h.collections.Delete(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httperr.Write(w, httperr.CodeCollectionNotFound, "collection not found")
			return
		}
		h.logger.Error().Err(err).Msg("delete collection failed")
		httperr.Write(w, httperr.CodeDatabaseError, "could not delete collection")
		return
	}

	for _, path := range paths {
		if err := h.files.Remove(path); err != nil {
			h.logger.Warn().Err(err).Str("path", path).Msg("could not remove stored file")
		}
	}
	h.search.InvalidateCollection(r.Context(), id)

	h.logger.Info().
		Str("collection_id", id.String()).
		Int("files_removed", len(paths)).
		Msg("collection deleted")

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
