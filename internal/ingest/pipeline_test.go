package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/corpus-engine/internal/embedding"
	"github.com/relayforge/corpus-engine/internal/extract"
	"github.com/relayforge/corpus-engine/internal/observability"
	"github.com/relayforge/corpus-engine/internal/storage"
)

type fakeDocs struct {
	mu             sync.Mutex
	docs           map[uuid.UUID]*storage.Document
	statuses       map[uuid.UUID][]storage.DocumentStatus
	errorMessages  map[uuid.UUID]string
	completed      map[uuid.UUID]bool
	updated        map[uuid.UUID]*storage.Document
	resetIDs       []uuid.UUID
	blockGet       chan struct{}
	getConcurrency int
	maxConcurrency int
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{
		docs:          make(map[uuid.UUID]*storage.Document),
		statuses:      make(map[uuid.UUID][]storage.DocumentStatus),
		errorMessages: make(map[uuid.UUID]string),
		completed:     make(map[uuid.UUID]bool),
		updated:       make(map[uuid.UUID]*storage.Document),
	}
}

func (f *fakeDocs) add(doc *storage.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[doc.ID] = doc
}

func (f *fakeDocs) GetByID(_ context.Context, id uuid.UUID) (*storage.Document, error) {
	f.mu.Lock()
	f.getConcurrency++
	if f.getConcurrency > f.maxConcurrency {
		f.maxConcurrency = f.getConcurrency
	}
	block := f.blockGet
	doc, ok := f.docs[id]
	f.mu.Unlock()

	if block != nil {
		<-block
	}

	f.mu.Lock()
	f.getConcurrency--
	f.mu.Unlock()

	if !ok {
		return nil, storage.ErrNotFound
	}
	clone := *doc
	return &clone, nil
}

func (f *fakeDocs) UpdateStatus(_ context.Context, id uuid.UUID, status storage.DocumentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = append(f.statuses[id], status)
	return nil
}

func (f *fakeDocs) SetError(_ context.Context, id uuid.UUID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errorMessages[id] = message
	return nil
}

func (f *fakeDocs) MarkComplete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[id] = true
	return nil
}

func (f *fakeDocs) Update(_ context.Context, doc *storage.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *doc
	f.updated[doc.ID] = &clone
	return nil
}

func (f *fakeDocs) ResetUnfinished(_ context.Context) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := f.resetIDs
	f.resetIDs = nil
	return ids, nil
}

func (f *fakeDocs) statusesFor(id uuid.UUID) []storage.DocumentStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]storage.DocumentStatus, len(f.statuses[id]))
	copy(out, f.statuses[id])
	return out
}

func (f *fakeDocs) errorFor(id uuid.UUID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errorMessages[id]
}

func (f *fakeDocs) isComplete(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed[id]
}

func (f *fakeDocs) updatedDoc(id uuid.UUID) *storage.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updated[id]
}

func (f *fakeDocs) peakConcurrency() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxConcurrency
}

type fakeChunks struct {
	mu          sync.Mutex
	replaced    map[uuid.UUID][]*storage.Chunk
	latestModel string
	latestDim   int
	latestErr   error
}

func newFakeChunks() *fakeChunks {
	return &fakeChunks{replaced: make(map[uuid.UUID][]*storage.Chunk)}
}

func (f *fakeChunks) ReplaceForDocument(_ context.Context, documentID uuid.UUID, chunks []*storage.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaced[documentID] = chunks
	return nil
}

func (f *fakeChunks) LatestEmbedding(_ context.Context, _ uuid.UUID) (string, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latestErr != nil {
		return "", 0, f.latestErr
	}
	if f.latestDim == 0 {
		return "", 0, storage.ErrNotFound
	}
	return f.latestModel, f.latestDim, nil
}

func (f *fakeChunks) chunksFor(id uuid.UUID) []*storage.Chunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.replaced[id]
}

type fakeFiles struct {
	mu       sync.Mutex
	contents map[string][]byte
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{contents: make(map[string][]byte)}
}

func (f *fakeFiles) put(path string, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contents[path] = content
}

func (f *fakeFiles) Read(path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.contents[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return content, nil
}

type fakeEmbedder struct {
	mu        sync.Mutex
	provider  string
	model     string
	dim       int
	err       error
	batches   [][]string
	overrides []string
}

func (f *fakeEmbedder) RouteBatch(ctx context.Context, texts []string, _ embedding.ContentContext, override string) (*embedding.BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	batch := make([]string, len(texts))
	copy(batch, texts)
	f.batches = append(f.batches, batch)
	f.overrides = append(f.overrides, override)

	vectors := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, f.dim)
		vec[0] = 1
		vectors[i] = vec
	}
	return &embedding.BatchResult{
		Vectors:    vectors,
		ProviderID: f.provider,
		Model:      f.model,
		Dimension:  f.dim,
	}, nil
}

func (f *fakeEmbedder) recordedBatches() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches
}

func (f *fakeEmbedder) recordedOverrides() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.overrides
}

type failingExtractor struct {
	err error
}

func (f *failingExtractor) Extract(_ context.Context, _ []byte, _ string) (*extract.Result, error) {
	return nil, f.err
}

func ingestLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:       "error",
		Format:      "console",
		Output:      io.Discard,
		ServiceName: "test",
	})
}

type testEnv struct {
	docs     *fakeDocs
	chunks   *fakeChunks
	files    *fakeFiles
	embedder *fakeEmbedder
	pipeline *Pipeline
}

func newTestEnv(cfg PipelineConfig) *testEnv {
	logger := ingestLogger()
	env := &testEnv{
		docs:     newFakeDocs(),
		chunks:   newFakeChunks(),
		files:    newFakeFiles(),
		embedder: &fakeEmbedder{provider: "local", model: "nomic-embed-text", dim: 8},
	}
	env.pipeline = NewPipeline(logger, cfg, env.docs, env.chunks, env.files,
		extract.NewService(logger), env.embedder)
	return env
}

func (e *testEnv) addDocument(content, contentType string, meta storage.Metadata) *storage.Document {
	path := fmt.Sprintf("/files/%s", uuid.New())
	e.files.put(path, []byte(content))
	doc := &storage.Document{
		ID:           uuid.New(),
		CollectionID: uuid.New(),
		ContentType:  contentType,
		FilePath:     &path,
		Metadata:     meta,
	}
	e.docs.add(doc)
	return doc
}

func TestPipeline_Process_Complete(t *testing.T) {
	env := newTestEnv(PipelineConfig{})
	doc := env.addDocument(
		"# Install Guide\n\nFirst paragraph of the guide.\n\nSecond paragraph with more detail.",
		"text/markdown",
		storage.Metadata{"source_quality": "official"},
	)

	result, err := env.pipeline.Process(context.Background(), doc.ID)
	require.NoError(t, err)

	assert.Equal(t, storage.StatusComplete, result.Status)
	assert.Equal(t, "local", result.Provider)
	assert.Equal(t, "nomic-embed-text", result.Model)
	assert.Equal(t, 8, result.Dimension)
	assert.Equal(t, 1, result.Chunks)
	assert.Greater(t, result.Tokens, 0)

	assert.Equal(t, []storage.DocumentStatus{
		storage.StatusExtracting,
		storage.StatusChunking,
		storage.StatusEmbedding,
	}, env.docs.statusesFor(doc.ID))
	assert.True(t, env.docs.isComplete(doc.ID))

	chunks := env.chunks.chunksFor(doc.ID)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Equal(t, "nomic-embed-text", chunks[0].EmbeddingModel)
	assert.Equal(t, 8, chunks[0].EmbeddingDim)
	assert.Equal(t, "official", chunks[0].Metadata["source_quality"])
	assert.Equal(t, "local", chunks[0].Metadata["embedding_provider"])

	updated := env.docs.updatedDoc(doc.ID)
	require.NotNil(t, updated)
	assert.Equal(t, "Install Guide", updated.Title)
	assert.Equal(t, "local", updated.Metadata.GetString("embedding_provider"))
	assert.Equal(t, "nomic-embed-text", updated.Metadata.GetString("embedding_model"))
}

func TestPipeline_Process_BatchesSequentiallyAndPinsProvider(t *testing.T) {
	env := newTestEnv(PipelineConfig{BatchSize: 1, ChunkSize: 40, ChunkOverlap: 0})
	content := strings.Repeat("a", 30) + "\n\n" + strings.Repeat("b", 30) + "\n\n" + strings.Repeat("c", 30)
	doc := env.addDocument(content, "text/plain", nil)

	result, err := env.pipeline.Process(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Chunks)

	batches := env.embedder.recordedBatches()
	require.Len(t, batches, 3)
	for _, batch := range batches {
		assert.Len(t, batch, 1)
	}

	overrides := env.embedder.recordedOverrides()
	require.Len(t, overrides, 3)
	assert.Equal(t, "", overrides[0])
	assert.Equal(t, "local", overrides[1])
	assert.Equal(t, "local", overrides[2])

	chunks := env.chunks.chunksFor(doc.ID)
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
	}
}

func TestPipeline_Process_ExtractionFailure(t *testing.T) {
	env := newTestEnv(PipelineConfig{})
	env.pipeline.extractor = &failingExtractor{err: errors.New("pdf is encrypted")}
	doc := env.addDocument("irrelevant", "application/pdf", nil)

	result, err := env.pipeline.Process(context.Background(), doc.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdf is encrypted")

	assert.Equal(t, storage.StatusError, result.Status)
	assert.Contains(t, env.docs.errorFor(doc.ID), "pdf is encrypted")
	assert.Equal(t, []storage.DocumentStatus{storage.StatusExtracting}, env.docs.statusesFor(doc.ID))
	assert.False(t, env.docs.isComplete(doc.ID))
}

func TestPipeline_Process_EmptyDocument(t *testing.T) {
	env := newTestEnv(PipelineConfig{})
	doc := env.addDocument("   \n\n   ", "text/plain", nil)

	_, err := env.pipeline.Process(context.Background(), doc.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no extractable text")
	assert.Contains(t, env.docs.errorFor(doc.ID), "no extractable text")
}

func TestPipeline_Process_MissingFile(t *testing.T) {
	env := newTestEnv(PipelineConfig{})
	doc := &storage.Document{
		ID:           uuid.New(),
		CollectionID: uuid.New(),
		ContentType:  "text/plain",
		Metadata:     storage.Metadata{},
	}
	env.docs.add(doc)

	_, err := env.pipeline.Process(context.Background(), doc.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no stored file")
	assert.Contains(t, env.docs.errorFor(doc.ID), "no stored file")
}

func TestPipeline_Process_DimensionMismatchRejected(t *testing.T) {
	env := newTestEnv(PipelineConfig{})
	env.chunks.latestModel = "text-embedding-3-small"
	env.chunks.latestDim = 1536
	doc := env.addDocument("Some plain paragraph of text.", "text/plain", nil)

	_, err := env.pipeline.Process(context.Background(), doc.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension")
	assert.Empty(t, env.chunks.chunksFor(doc.ID))
	assert.Contains(t, env.docs.errorFor(doc.ID), "dimension")
}

func TestPipeline_Process_CancellationRecordsError(t *testing.T) {
	env := newTestEnv(PipelineConfig{})
	doc := env.addDocument("A paragraph that would be embedded.", "text/plain", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := env.pipeline.Process(ctx, doc.ID)
	require.Error(t, err)
	assert.Equal(t, storage.StatusError, result.Status)
	// The status write must survive the canceled request context.
	assert.NotEmpty(t, env.docs.errorFor(doc.ID))
	assert.False(t, env.docs.isComplete(doc.ID))
}

func TestPipeline_Process_UnknownDocument(t *testing.T) {
	env := newTestEnv(PipelineConfig{})

	_, err := env.pipeline.Process(context.Background(), uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTruncateError(t *testing.T) {
	long := errors.New(strings.Repeat("x", maxErrorLen+100))
	assert.Len(t, truncateError(long), maxErrorLen)

	short := errors.New("short")
	assert.Equal(t, "short", truncateError(short))
}

func TestContentTypeHint(t *testing.T) {
	assert.Equal(t, "code", contentTypeHint(storage.Metadata{"context_type": "code"}))
	assert.Equal(t, "docs", contentTypeHint(storage.Metadata{"doc_type": "docs"}))
	assert.Equal(t, "", contentTypeHint(storage.Metadata{"doc_type": "api_reference"}))
	assert.Equal(t, "", contentTypeHint(nil))
}
