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
	"github.com/relayforge/corpus-engine/internal/synthesis"
)

// synthesisTopK is how many results feed a comparison when the caller does
// not say otherwise. Clustering needs a wider net than plain search.
const synthesisTopK = 50

type comparer interface {
	Compare(ctx context.Context, query string, collectionID uuid.UUID, results []search.Result) (*synthesis.Comparison, error)
}

// SynthesisHandler handles comparison synthesis requests. The route is only
// mounted when synthesis is enabled, so a disabled deployment serves a plain
// 404 here.
type SynthesisHandler struct {
	logger      *observability.Logger
	collections collectionFinder
	search      searchService
	engine      comparer
}

// NewSynthesisHandler creates a new synthesis handler.
func NewSynthesisHandler(
	logger *observability.Logger,
	collections collectionFinder,
	search searchService,
	engine comparer,
) *SynthesisHandler {
	return &SynthesisHandler{
		logger:      logger,
		collections: collections,
		search:      search,
		engine:      engine,
	}
}

// CompareRequest is the POST /api/synthesis/compare payload.
type CompareRequest struct {
	Query        string `json:"query"`
	CollectionID string `json:"collection_id"`
	TopK         *int   `json:"top_k,omitempty"`
}

// Compare handles POST /api/synthesis/compare. It retrieves a wide result
// set for the query and hands it to the synthesis engine.
func (h *SynthesisHandler) Compare(w http.ResponseWriter, r *http.Request) {
	var req CompareRequest
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
	topK := synthesisTopK
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

	results, err := h.search.Search(r.Context(), search.Request{
		Query:        req.Query,
		CollectionID: collectionID,
		TopK:         topK,
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
			h.logger.Error().Err(err).Msg("synthesis retrieval failed")
			httperr.Write(w, httperr.CodeDatabaseError, "search failed")
		}
		return
	}

	comparison, err := h.engine.Compare(r.Context(), req.Query, collectionID, results.Results)
	if err != nil {
		h.logger.Error().Err(err).Msg("synthesis failed")
		httperr.Write(w, httperr.CodeProcessingError, "could not synthesize comparison")
		return
	}

	writeJSON(w, http.StatusOK, comparison)
}
