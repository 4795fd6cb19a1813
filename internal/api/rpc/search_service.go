// Package rpc exposes search over Connect RPC. The wire contract mirrors
// POST /api/search so RPC and REST callers see identical result payloads.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/google/uuid"

	"github.com/relayforge/corpus-engine/internal/embedding"
	"github.com/relayforge/corpus-engine/internal/observability"
	"github.com/relayforge/corpus-engine/internal/search"
	"github.com/relayforge/corpus-engine/internal/storage"
)

// SearchProcedure is the Connect route for the search RPC.
const SearchProcedure = "/corpus.v1.SearchService/Search"

// collectionGetter resolves collections so missing ones fail with NotFound
// before any retrieval work happens.
type collectionGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*storage.Collection, error)
}

// searcher runs the retrieval flow.
type searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
}

// SearchService implements the Connect search service.
type SearchService struct {
	logger      *observability.Logger
	service     searcher
	collections collectionGetter
}

// NewSearchService creates the Connect search service.
func NewSearchService(logger *observability.Logger, service searcher, collections collectionGetter) *SearchService {
	return &SearchService{
		logger:      logger.WithComponent("rpc"),
		service:     service,
		collections: collections,
	}
}

// SearchRequest is the RPC request message. Field semantics match the
// POST /api/search body.
type SearchRequest struct {
	Query         string         `json:"query"`
	CollectionID  string         `json:"collection_id"`
	TopK          *int           `json:"top_k,omitempty"`
	MinSimilarity *float64       `json:"min_similarity,omitempty"`
	Mode          string         `json:"mode,omitempty"`
	Weights       *SearchWeights `json:"weights,omitempty"`
	RRFK          int            `json:"rrf_k,omitempty"`
	Provider      string         `json:"provider,omitempty"`
}

// SearchWeights are the hybrid fusion weights.
type SearchWeights struct {
	Vector float64 `json:"vector"`
	BM25   float64 `json:"bm25"`
}

// Search handles the search RPC. The response type is the same struct the
// REST endpoint encodes, so the two surfaces cannot drift apart.
func (s *SearchService) Search(ctx context.Context, req *connect.Request[SearchRequest]) (*connect.Response[search.Response], error) {
	msg := req.Msg

	if strings.TrimSpace(msg.Query) == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("query is required"))
	}
	if msg.CollectionID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("collection_id is required"))
	}
	collectionID, err := uuid.Parse(msg.CollectionID)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid collection_id format"))
	}

	if _, err := s.collections.GetByID(ctx, collectionID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, connect.NewError(connect.CodeNotFound, errors.New("collection not found"))
		}
		s.logger.Error().Err(err).Msg("collection lookup failed")
		return nil, connect.NewError(connect.CodeInternal, errors.New("collection lookup failed"))
	}

	internalReq := search.Request{
		Query:         msg.Query,
		CollectionID:  collectionID,
		Mode:          msg.Mode,
		MinSimilarity: msg.MinSimilarity,
		RRFK:          msg.RRFK,
		Provider:      msg.Provider,
	}
	if msg.TopK != nil {
		if *msg.TopK <= 0 {
			return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("top_k must be positive"))
		}
		internalReq.TopK = *msg.TopK
	}
	if msg.Weights != nil {
		internalReq.Weights = &search.Weights{Vector: msg.Weights.Vector, BM25: msg.Weights.BM25}
	}

	resp, err := s.service.Search(ctx, internalReq)
	if err != nil {
		switch {
		case errors.Is(err, search.ErrEmptyQuery),
			errors.Is(err, search.ErrInvalidTopK),
			errors.Is(err, search.ErrTermlessQuery),
			errors.Is(err, search.ErrInvalidMode):
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		case errors.Is(err, embedding.ErrEmbedding):
			return nil, connect.NewError(connect.CodeUnavailable, errors.New("embedding provider unavailable"))
		}
		s.logger.Error().Err(err).Msg("search failed")
		return nil, connect.NewError(connect.CodeInternal, errors.New("search failed"))
	}

	return connect.NewResponse(resp), nil
}

// Handler returns the procedure path and HTTP handler for mounting.
func (s *SearchService) Handler() (string, http.Handler) {
	return SearchProcedure, connect.NewUnaryHandler(SearchProcedure, s.Search, connect.WithCodec(jsonCodec{}))
}

// jsonCodec replaces connect's protobuf-backed JSON codec with encoding/json
// so plain request and response structs work without generated code.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(message any) ([]byte, error) {
	return json.Marshal(message)
}

func (jsonCodec) Unmarshal(data []byte, message any) error {
	return json.Unmarshal(data, message)
}
