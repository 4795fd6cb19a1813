package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/corpus-engine/internal/storage"
)

func mkCollection(t *testing.T, ctx context.Context, repos *storage.Repositories, name string) *storage.Collection {
	t.Helper()
	col := &storage.Collection{Name: name, Description: "integration fixture"}
	require.NoError(t, repos.Collections.Create(ctx, col))
	return col
}

func mkDocument(t *testing.T, ctx context.Context, repos *storage.Repositories, collectionID uuid.UUID, title string, status storage.DocumentStatus) *storage.Document {
	t.Helper()
	doc := &storage.Document{
		CollectionID: collectionID,
		Title:        title,
		ContentType:  "text/markdown",
		FileSize:     128,
		Status:       status,
	}
	require.NoError(t, repos.Documents.Create(ctx, doc))
	return doc
}

func TestCollectionRoundTrip(t *testing.T) {
	skipUnlessDocker(t)
	ctx := context.Background()
	_, repos := openStorage(t, ctx, startPostgres(t))

	col := mkCollection(t, ctx, repos, "research-notes")

	got, err := repos.Collections.GetByID(ctx, col.ID)
	require.NoError(t, err)
	assert.Equal(t, "research-notes", got.Name)
	assert.Equal(t, "integration fixture", got.Description)
	assert.False(t, got.CreatedAt.IsZero())

	byName, err := repos.Collections.GetByName(ctx, "research-notes")
	require.NoError(t, err)
	assert.Equal(t, col.ID, byName.ID)

	// Names are unique.
	dup := &storage.Collection{Name: "research-notes"}
	err = repos.Collections.Create(ctx, dup)
	require.ErrorIs(t, err, storage.ErrConflict)

	got.Description = "updated"
	require.NoError(t, repos.Collections.Update(ctx, got))
	updated, err := repos.Collections.GetByID(ctx, col.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated", updated.Description)

	mkDocument(t, ctx, repos, col.ID, "doc-a", storage.StatusComplete)
	mkDocument(t, ctx, repos, col.ID, "doc-b", storage.StatusError)

	withCounts, err := repos.Collections.ListWithCounts(ctx)
	require.NoError(t, err)
	require.Len(t, withCounts, 1)
	assert.Equal(t, 2, withCounts[0].DocumentCount)

	stats, err := repos.Collections.Stats(ctx, col.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.DocumentCount)
	assert.Equal(t, 1, stats.StatusCounts["complete"])
	assert.Equal(t, 1, stats.StatusCounts["error"])

	require.NoError(t, repos.Collections.Delete(ctx, col.ID))
	_, err = repos.Collections.GetByID(ctx, col.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)

	// Documents cascade with the collection.
	count, err := repos.Documents.Count(ctx, storage.DocumentFilter{CollectionID: col.ID})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDocumentLifecycle(t *testing.T) {
	skipUnlessDocker(t)
	ctx := context.Background()
	_, repos := openStorage(t, ctx, startPostgres(t))

	col := mkCollection(t, ctx, repos, "papers")

	path := "papers/attention.pdf"
	source := "https://example.org/attention.pdf"
	doc := &storage.Document{
		CollectionID: col.ID,
		Title:        "Attention Is All You Need",
		FilePath:     &path,
		ContentType:  "application/pdf",
		FileSize:     2048,
		SourceURL:    &source,
		Metadata:     storage.Metadata{"year": 2017},
	}
	require.NoError(t, repos.Documents.Create(ctx, doc))
	assert.Equal(t, storage.StatusPending, doc.Status)

	got, err := repos.Documents.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, got.FilePath)
	assert.Equal(t, path, *got.FilePath)
	assert.Nil(t, got.ProcessedAt)

	bySource, err := repos.Documents.GetBySourceURL(ctx, col.ID, source)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, bySource.ID)

	_, err = repos.Documents.GetBySourceURL(ctx, col.ID, "https://example.org/other")
	require.ErrorIs(t, err, storage.ErrNotFound)

	// Walk the pipeline statuses, fail, then complete.
	require.NoError(t, repos.Documents.UpdateStatus(ctx, doc.ID, storage.StatusExtracting))
	require.NoError(t, repos.Documents.SetError(ctx, doc.ID, "no extractable text"))

	failed, err := repos.Documents.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusError, failed.Status)
	require.NotNil(t, failed.ErrorMessage)
	assert.Equal(t, "no extractable text", *failed.ErrorMessage)

	require.NoError(t, repos.Documents.MarkComplete(ctx, doc.ID))
	done, err := repos.Documents.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusComplete, done.Status)
	assert.Nil(t, done.ErrorMessage)
	require.NotNil(t, done.ProcessedAt)
	assert.WithinDuration(t, time.Now(), *done.ProcessedAt, time.Minute)

	latest, err := repos.Documents.LatestComplete(ctx, col.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, latest.ID)

	// Filtered listing.
	mkDocument(t, ctx, repos, col.ID, "second", storage.StatusPending)
	mkDocument(t, ctx, repos, col.ID, "third", storage.StatusPending)

	pending, err := repos.Documents.List(ctx, storage.DocumentFilter{
		CollectionID: col.ID,
		Status:       storage.StatusPending,
	})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	page, err := repos.Documents.List(ctx, storage.DocumentFilter{
		CollectionID: col.ID,
		Limit:        1,
		Offset:       1,
	})
	require.NoError(t, err)
	assert.Len(t, page, 1)

	total, err := repos.Documents.Count(ctx, storage.DocumentFilter{CollectionID: col.ID})
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	paths, err := repos.Documents.ListFilePaths(ctx, col.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{path}, paths)

	require.NoError(t, repos.Documents.Delete(ctx, doc.ID))
	_, err = repos.Documents.GetByID(ctx, doc.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.ErrorIs(t, repos.Documents.Delete(ctx, doc.ID), storage.ErrNotFound)
}

func TestResetUnfinishedRequeuesInterruptedWork(t *testing.T) {
	skipUnlessDocker(t)
	ctx := context.Background()
	_, repos := openStorage(t, ctx, startPostgres(t))

	col := mkCollection(t, ctx, repos, "restart")

	stuck := mkDocument(t, ctx, repos, col.ID, "stuck", storage.StatusEmbedding)
	queued := mkDocument(t, ctx, repos, col.ID, "queued", storage.StatusPending)
	done := mkDocument(t, ctx, repos, col.ID, "done", storage.StatusComplete)
	failed := mkDocument(t, ctx, repos, col.ID, "failed", storage.StatusError)

	ids, err := repos.Documents.ResetUnfinished(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{stuck.ID, queued.ID}, ids)

	reset, err := repos.Documents.GetByID(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusPending, reset.Status)

	for _, id := range []uuid.UUID{done.ID, failed.ID} {
		doc, err := repos.Documents.GetByID(ctx, id)
		require.NoError(t, err)
		assert.NotEqual(t, storage.StatusPending, doc.Status)
	}
}

// storeChunks writes dimension-4 chunks for a document, one per vector.
func storeChunks(t *testing.T, ctx context.Context, repos *storage.Repositories, docID uuid.UUID, texts []string, vectors [][]float32) {
	t.Helper()
	chunks := make([]*storage.Chunk, len(texts))
	for i := range texts {
		chunks[i] = &storage.Chunk{
			ChunkIndex:     i,
			Text:           texts[i],
			TokenCount:     len(texts[i]) / 4,
			Embedding:      vectors[i],
			EmbeddingDim:   len(vectors[i]),
			EmbeddingModel: "test-embed",
		}
	}
	require.NoError(t, repos.Chunks.ReplaceForDocument(ctx, docID, chunks))
}

func TestChunkVectorSearch(t *testing.T) {
	skipUnlessDocker(t)
	ctx := context.Background()
	_, repos := openStorage(t, ctx, startPostgres(t))

	col := mkCollection(t, ctx, repos, "vectors")
	doc := mkDocument(t, ctx, repos, col.ID, "indexed", storage.StatusPending)

	storeChunks(t, ctx, repos, doc.ID,
		[]string{"exact match", "close match", "unrelated"},
		[][]float32{
			{0, 1, 0, 0},
			{0.6, 0.8, 0, 0},
			{1, 0, 0, 0},
		})
	require.NoError(t, repos.Documents.MarkComplete(ctx, doc.ID))

	// A chunk set under a document that never completed stays invisible.
	hidden := mkDocument(t, ctx, repos, col.ID, "hidden", storage.StatusPending)
	storeChunks(t, ctx, repos, hidden.ID,
		[]string{"should not surface"},
		[][]float32{{0, 1, 0, 0}})

	hits, err := repos.Chunks.VectorSearch(ctx, col.ID, []float32{0, 1, 0, 0}, 0.5, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "exact match", hits[0].Text)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
	assert.Equal(t, "close match", hits[1].Text)
	assert.InDelta(t, 0.8, hits[1].Similarity, 1e-6)
	assert.Equal(t, "indexed", hits[0].DocTitle)

	// The floor drops the orthogonal chunk entirely.
	all, err := repos.Chunks.VectorSearch(ctx, col.ID, []float32{0, 1, 0, 0}, 0, 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	// Chunks of a different dimension never participate.
	other := mkDocument(t, ctx, repos, col.ID, "other-dim", storage.StatusPending)
	storeChunks(t, ctx, repos, other.ID,
		[]string{"eight dims"},
		[][]float32{{0, 1, 0, 0, 0, 0, 0, 0}})
	require.NoError(t, repos.Documents.MarkComplete(ctx, other.ID))

	hits, err = repos.Chunks.VectorSearch(ctx, col.ID, []float32{0, 1, 0, 0}, 0.5, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	_, err = repos.Chunks.VectorSearch(ctx, col.ID, nil, 0, 10)
	require.Error(t, err)
}

func TestChunkTextSearch(t *testing.T) {
	skipUnlessDocker(t)
	ctx := context.Background()
	_, repos := openStorage(t, ctx, startPostgres(t))

	col := mkCollection(t, ctx, repos, "fulltext")
	doc := mkDocument(t, ctx, repos, col.ID, "manual", storage.StatusPending)

	storeChunks(t, ctx, repos, doc.ID,
		[]string{
			"PostgreSQL stores embeddings in a vector column",
			"Redis caches search responses briefly",
			"vector indexes accelerate PostgreSQL similarity queries",
		},
		[][]float32{
			{1, 0, 0, 0},
			{0, 1, 0, 0},
			{0, 0, 1, 0},
		})
	require.NoError(t, repos.Documents.MarkComplete(ctx, doc.ID))

	hits, err := repos.Chunks.TextSearch(ctx, col.ID, "english", "postgresql & vector", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, hit := range hits {
		assert.Greater(t, hit.RawRank, 0.0)
		assert.Equal(t, "manual", hit.DocTitle)
	}

	none, err := repos.Chunks.TextSearch(ctx, col.ID, "english", "kubernetes", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestChunkReplaceAndMetadata(t *testing.T) {
	skipUnlessDocker(t)
	ctx := context.Background()
	_, repos := openStorage(t, ctx, startPostgres(t))

	col := mkCollection(t, ctx, repos, "replace")
	doc := mkDocument(t, ctx, repos, col.ID, "doc", storage.StatusPending)

	storeChunks(t, ctx, repos, doc.ID,
		[]string{"one", "two", "three"},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}})
	require.NoError(t, repos.Documents.MarkComplete(ctx, doc.ID))

	count, err := repos.Chunks.CountForDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	model, dim, err := repos.Chunks.LatestEmbedding(ctx, col.ID)
	require.NoError(t, err)
	assert.Equal(t, "test-embed", model)
	assert.Equal(t, 4, dim)

	// Reingesting swaps the whole set, never appends.
	storeChunks(t, ctx, repos, doc.ID,
		[]string{"replacement"},
		[][]float32{{1, 0, 0, 0}})

	chunks, err := repos.Chunks.ListForDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "replacement", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.NotNil(t, chunks[0].Metadata)

	// Deleting the document cascades to its chunks.
	require.NoError(t, repos.Documents.Delete(ctx, doc.ID))
	count, err = repos.Chunks.CountForDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, _, err = repos.Chunks.LatestEmbedding(ctx, col.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)
}
