package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/relayforge/corpus-engine/internal/api/httperr"
	"github.com/relayforge/corpus-engine/internal/embedding"
	"github.com/relayforge/corpus-engine/internal/observability"
	"github.com/relayforge/corpus-engine/internal/search"
	"github.com/relayforge/corpus-engine/internal/storage"
)

type searchService interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
}

// SearchHandler handles search requests.
type SearchHandler struct {
	logger      *observability.Logger
	collections collectionFinder
	search      searchService
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(logger *observability.Logger, collections collectionFinder, search searchService) *SearchHandler {
	return &SearchHandler{logger: logger, collections: collections, search: search}
}

// SearchRequest is the POST /api/search payload. Omitted optional fields
// fall back to the configured defaults; explicit zero values are errors
// where a zero makes no sense.
type SearchRequest struct {
	Query         string          `json:"query"`
	CollectionID  string          `json:"collection_id"`
	TopK          *int            `json:"top_k,omitempty"`
	MinSimilarity *float64        `json:"min_similarity,omitempty"`
	Mode          string          `json:"mode,omitempty"`
	Weights       *search.Weights `json:"weights,omitempty"`
	RRFK          int             `json:"rrf_k,omitempty"`
	Provider      string          `json:"provider,omitempty"`
}

// Search handles POST /api/search.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperr.Write(w, httperr.CodeInvalidInput, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Query) == "" {
		httperr.Write(w, httperr.CodeInvalidInput, "query is required")
		return
	}
	collectionID, err := uuid.Parse(req.CollectionID)
	if err != nil {
		httperr.Write(w, httperr.CodeInvalidInput, "collection_id is required")
		return
	}
	var topK int
	if req.TopK != nil {
		if *req.TopK <= 0 {
			httperr.Write(w, httperr.CodeInvalidInput, "top_k must be positive")
			return
		}
		topK = *req.TopK
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

	resp, err := h.search.Search(r.Context(), search.Request{
		Query:         req.Query,
		CollectionID:  collectionID,
		Mode:          req.Mode,
		TopK:          topK,
		MinSimilarity: req.MinSimilarity,
		Weights:       req.Weights,
		RRFK:          req.RRFK,
		Provider:      req.Provider,
	})
	if err != nil {
		switch {
		case errors.Is(err, search.ErrEmptyQuery),
			errors.Is(err, search.ErrInvalidTopK),
			errors.Is(err, search.ErrTermlessQuery),
			errors.Is(err, search.ErrInvalidMode):
			httperr.Write(w, httperr.CodeInvalidInput, err.Error())
		case errors.Is(err, embedding.ErrEmbedding):
			h.logger.Error().Err(err).Msg("query embedding failed")
			httperr.Write(w, httperr.CodeEmbeddingError, "embedding provider unavailable")
		default:
			h.logger.Error().Err(err).Msg("search failed")
			httperr.Write(w, httperr.CodeDatabaseError, "search failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
