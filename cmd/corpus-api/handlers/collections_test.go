package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/corpus-engine/internal/api/httperr"
	"github.com/relayforge/corpus-engine/internal/observability"
	"github.com/relayforge/corpus-engine/internal/storage"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:       "error",
		Format:      "console",
		Output:      io.Discard,
		ServiceName: "test",
	})
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) httperr.Response {
	t.Helper()
	var resp httperr.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

type fakeCollections struct {
	collection *storage.Collection
	listed     []*storage.CollectionWithCount
	stats      *storage.CollectionStats

	createErr error
	getErr    error
	listErr   error
	statsErr  error
	deleteErr error

	created   *storage.Collection
	deletedID uuid.UUID
}

func (f *fakeCollections) Create(_ context.Context, c *storage.Collection) error {
	if f.createErr != nil {
		return f.createErr
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	f.created = c
	return nil
}

func (f *fakeCollections) GetByID(_ context.Context, id uuid.UUID) (*storage.Collection, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.collection != nil {
		return f.collection, nil
	}
	return &storage.Collection{ID: id, Name: "fixture"}, nil
}

func (f *fakeCollections) ListWithCounts(context.Context) ([]*storage.CollectionWithCount, error) {
	return f.listed, f.listErr
}

func (f *fakeCollections) Stats(context.Context, uuid.UUID) (*storage.CollectionStats, error) {
	return f.stats, f.statsErr
}

func (f *fakeCollections) Delete(_ context.Context, id uuid.UUID) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletedID = id
	return nil
}

type fakePathLister struct {
	paths []string
	err   error
}

func (f *fakePathLister) ListFilePaths(context.Context, uuid.UUID) ([]string, error) {
	return f.paths, f.err
}

type fakeRemover struct {
	removed []string
	err     error
}

func (f *fakeRemover) Remove(path string) error {
	if f.err != nil {
		return f.err
	}
	f.removed = append(f.removed, path)
	return nil
}

type fakeInvalidator struct {
	invalidated []uuid.UUID
}

func (f *fakeInvalidator) InvalidateCollection(_ context.Context, id uuid.UUID) {
	f.invalidated = append(f.invalidated, id)
}

func collectionRouter(h *CollectionHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/collections", h.Create)
	r.Get("/api/collections", h.List)
	r.Get("/api/collections/{id}", h.Get)
	r.Delete("/api/collections/{id}", h.Delete)
	return r
}

func TestCollectionHandler_Create_ReturnsCollection(t *testing.T) {
	store := &fakeCollections{}
	h := NewCollectionHandler(testLogger(), store, &fakePathLister{}, &fakeRemover{}, &fakeInvalidator{})

	rec := httptest.NewRecorder()
	body := `{"name": "go-docs", "description": "language notes"}`
	collectionRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/collections", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, rec.Code)
	var created storage.Collection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "go-docs", created.Name)
	assert.Equal(t, "language notes", created.Description)
	assert.NotEqual(t, uuid.Nil, created.ID)
	require.NotNil(t, store.created)
}

func TestCollectionHandler_Create_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"name":`},
		{"missing name", `{"description": "x"}`},
		{"blank name", `{"name": "   "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewCollectionHandler(testLogger(), &fakeCollections{}, &fakePathLister{}, &fakeRemover{}, &fakeInvalidator{})

			rec := httptest.NewRecorder()
			collectionRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/collections", strings.NewReader(tt.body)))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, httperr.CodeInvalidInput, decodeError(t, rec).Code)
		})
	}
}

func TestCollectionHandler_Create_DuplicateName(t *testing.T) {
	store := &fakeCollections{createErr: storage.ErrConflict}
	h := NewCollectionHandler(testLogger(), store, &fakePathLister{}, &fakeRemover{}, &fakeInvalidator{})

	rec := httptest.NewRecorder()
	collectionRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/collections", strings.NewReader(`{"name": "dup"}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, httperr.CodeInvalidInput, resp.Code)
	assert.Contains(t, resp.Error, "already exists")
}

func TestCollectionHandler_List_ReturnsCounts(t *testing.T) {
	store := &fakeCollections{listed: []*storage.CollectionWithCount{
		{Collection: storage.Collection{ID: uuid.New(), Name: "a"}, DocumentCount: 3},
		{Collection: storage.Collection{ID: uuid.New(), Name: "b"}, DocumentCount: 0},
	}}
	h := NewCollectionHandler(testLogger(), store, &fakePathLister{}, &fakeRemover{}, &fakeInvalidator{})

	rec := httptest.NewRecorder()
	collectionRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/collections", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ListCollectionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	require.Len(t, resp.Collections, 2)
	assert.Equal(t, 3, resp.Collections[0].DocumentCount)
}

func TestCollectionHandler_List_EmptyIsNotNull(t *testing.T) {
	h := NewCollectionHandler(testLogger(), &fakeCollections{}, &fakePathLister{}, &fakeRemover{}, &fakeInvalidator{})

	rec := httptest.NewRecorder()
	collectionRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/collections", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"collections":[]`)
}

func TestCollectionHandler_Get_ReturnsStats(t *testing.T) {
	id := uuid.New()
	store := &fakeCollections{
		collection: &storage.Collection{ID: id, Name: "go-docs"},
		stats: &storage.CollectionStats{
			DocumentCount: 4,
			ChunkCount:    120,
			TotalTokens:   54000,
			StatusCounts:  map[string]int{"complete": 3, "pending": 1},
		},
	}
	h := NewCollectionHandler(testLogger(), store, &fakePathLister{}, &fakeRemover{}, &fakeInvalidator{})

	rec := httptest.NewRecorder()
	collectionRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/collections/"+id.String(), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Name  string                   `json:"name"`
		Stats *storage.CollectionStats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "go-docs", resp.Name)
	require.NotNil(t, resp.Stats)
	assert.Equal(t, 120, resp.Stats.ChunkCount)
	assert.Equal(t, 3, resp.Stats.StatusCounts["complete"])
}

func TestCollectionHandler_Get_NotFound(t *testing.T) {
	store := &fakeCollections{getErr: storage.ErrNotFound}
	h := NewCollectionHandler(testLogger(), store, &fakePathLister{}, &fakeRemover{}, &fakeInvalidator{})

	rec := httptest.NewRecorder()
	collectionRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/collections/"+uuid.NewString(), nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, httperr.CodeCollectionNotFound, decodeError(t, rec).Code)
}

func TestCollectionHandler_Get_InvalidID(t *testing.T) {
	h := NewCollectionHandler(testLogger(), &fakeCollections{}, &fakePathLister{}, &fakeRemover{}, &fakeInvalidator{})

	rec := httptest.NewRecorder()
	collectionRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/collections/not-a-uuid", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, httperr.CodeInvalidInput, decodeError(t, rec).Code)
}

func TestCollectionHandler_Delete_RemovesFilesAndInvalidates(t *testing.T) {
	id := uuid.New()
	store := &fakeCollections{}
	lister := &fakePathLister{paths: []string{"/files/a.md", "/files/b.pdf"}}
	remover := &fakeRemover{}
	invalidator := &fakeInvalidator{}
	h := NewCollectionHandler(testLogger(), store, lister, remover, invalidator)

	rec := httptest.NewRecorder()
	collectionRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/collections/"+id.String(), nil))

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, id, store.deletedID)
	assert.Equal(t, []string{"/files/a.md", "/files/b.pdf"}, remover.removed)
	assert.Equal(t, []uuid.UUID{id}, invalidator.invalidated)
}

func TestCollectionHandler_Delete_NotFound(t *testing.T) {
	store := &fakeCollections{deleteErr: storage.ErrNotFound}
	h := NewCollectionHandler(testLogger(), store, &fakePathLister{}, &fakeRemover{}, &fakeInvalidator{})

	rec := httptest.NewRecorder()
	collectionRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/collections/"+uuid.NewString(), nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, httperr.CodeCollectionNotFound, decodeError(t, rec).Code)
}

func TestCollectionHandler_Delete_FileRemovalFailureIsNotFatal(t *testing.T) {
	store := &fakeCollections{}
	lister := &fakePathLister{paths: []string{"/files/gone.md"}}
	remover := &fakeRemover{err: errors.New("permission denied")}
	h := NewCollectionHandler(testLogger(), store, lister, remover, &fakeInvalidator{})

	rec := httptest.NewRecorder()
	collectionRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/collections/"+uuid.NewString(), nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
}
