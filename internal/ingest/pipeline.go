// Package ingest runs documents through the extraction, chunking, and
// embedding stages and persists the results.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relayforge/corpus-engine/internal/chunk"
	"github.com/relayforge/corpus-engine/internal/embedding"
	"github.com/relayforge/corpus-engine/internal/extract"
	"github.com/relayforge/corpus-engine/internal/observability"
	"github.com/relayforge/corpus-engine/internal/storage"
)

const (
	defaultBatchSize   = 8
	maxErrorLen        = 500
	statusWriteTimeout = 10 * time.Second
)

type documentStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*storage.Document, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status storage.DocumentStatus) error
	SetError(ctx context.Context, id uuid.UUID, message string) error
	MarkComplete(ctx context.Context, id uuid.UUID) error
	Update(ctx context.Context, doc *storage.Document) error
}

type chunkStore interface {
	ReplaceForDocument(ctx context.Context, documentID uuid.UUID, chunks []*storage.Chunk) error
	LatestEmbedding(ctx context.Context, collectionID uuid.UUID) (string, int, error)
}

type fileReader interface {
	Read(path string) ([]byte, error)
}

type extractor interface {
	Extract(ctx context.Context, content []byte, contentType string) (*extract.Result, error)
}

type embedder interface {
	RouteBatch(ctx context.Context, texts []string, cctx embedding.ContentContext, override string) (*embedding.BatchResult, error)
}

// PipelineConfig holds pipeline configuration.
type PipelineConfig struct {
	BatchSize    int
	ChunkSize    int
	ChunkOverlap int
}

// Pipeline orchestrates document processing from stored file to
// embedded chunks.
type Pipeline struct {
	logger    *observability.Logger
	config    PipelineConfig
	documents documentStore
	chunks    chunkStore
	files     fileReader
	extractor extractor
	chunker   *chunk.Chunker
	router    embedder
}

// Result summarizes a completed ingestion run.
type Result struct {
	DocumentID uuid.UUID
	Status     storage.DocumentStatus
	Chunks     int
	Tokens     int
	Pages      int
	Provider   string
	Model      string
	Dimension  int
	StartedAt  time.Time
	Duration   time.Duration
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(
	logger *observability.Logger,
	cfg PipelineConfig,
	documents documentStore,
	chunks chunkStore,
	files fileReader,
	extractor extractor,
	router embedder,
) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &Pipeline{
		logger:    logger.WithComponent("ingest"),
		config:    cfg,
		documents: documents,
		chunks:    chunks,
		files:     files,
		extractor: extractor,
		chunker: chunk.New(chunk.Config{
			MaxSize: cfg.ChunkSize,
			Overlap: cfg.ChunkOverlap,
		}),
		router: router,
	}
}

// Process runs a document through extraction, chunking, and embedding.
// Any failure moves the document to error status with a truncated
// message; the document can be reingested afterwards.
func (p *Pipeline) Process(ctx context.Context, documentID uuid.UUID) (*Result, error) {
	started := time.Now()
	result := &Result{
		DocumentID: documentID,
		StartedAt:  started,
	}

	doc, err := p.documents.GetByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}

	log := p.logger.WithDocument(documentID.String())
	log.Info().
		Str("collection_id", doc.CollectionID.String()).
		Str("title", doc.Title).
		Str("content_type", doc.ContentType).
		Msg("starting ingestion")

	if err := p.run(ctx, doc, result); err != nil {
		result.Status = storage.StatusError
		result.Duration = time.Since(started)
		p.failDocument(ctx, documentID, err)
		log.Warn().
			Err(err).
			Dur("duration", result.Duration).
			Msg("ingestion failed")
		return result, err
	}

	result.Status = storage.StatusComplete
	result.Duration = time.Since(started)
	log.Info().
		Int("chunks", result.Chunks).
		Int("tokens", result.Tokens).
		Str("provider", result.Provider).
		Str("model", result.Model).
		Dur("duration", result.Duration).
		Msg("ingestion complete")
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, doc *storage.Document, result *Result) error {
	log := p.logger.WithDocument(doc.ID.String())

	if err := p.documents.UpdateStatus(ctx, doc.ID, storage.StatusExtracting); err != nil {
		return fmt.Errorf("mark extracting: %w", err)
	}
	content, err := p.loadContent(doc)
	if err != nil {
		return err
	}
	extracted, err := p.extractor.Extract(ctx, content, doc.ContentType)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	if strings.TrimSpace(extracted.Text) == "" {
		return errors.New("document has no extractable text")
	}
	result.Pages = extracted.Pages
	log.Debug().
		Int("chars", len(extracted.Text)).
		Int("pages", extracted.Pages).
		Msg("extraction done")

	if err := p.documents.UpdateStatus(ctx, doc.ID, storage.StatusChunking); err != nil {
		return fmt.Errorf("mark chunking: %w", err)
	}
	pieces := p.chunker.Split(extracted.Text, doc.Metadata)
	if len(pieces) == 0 {
		return errors.New("document produced no chunks")
	}
	log.Debug().Int("chunks", len(pieces)).Msg("chunking done")

	if err := p.documents.UpdateStatus(ctx, doc.ID, storage.StatusEmbedding); err != nil {
		return fmt.Errorf("mark embedding: %w", err)
	}
	rows, batch, err := p.embedChunks(ctx, doc, pieces)
	if err != nil {
		return err
	}

	// Chunks of a different dimension would be invisible to this
	// collection's searches, so reject the mix before writing anything.
	model, dim, err := p.chunks.LatestEmbedding(ctx, doc.CollectionID)
	switch {
	case err == nil:
		if dim != batch.Dimension {
			return fmt.Errorf("embedding dimension %d does not match collection dimension %d (model %s)",
				batch.Dimension, dim, model)
		}
	case !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("check collection embedding: %w", err)
	}

	if err := p.chunks.ReplaceForDocument(ctx, doc.ID, rows); err != nil {
		return fmt.Errorf("store chunks: %w", err)
	}

	if extracted.Title != "" && doc.Title == "" {
		doc.Title = extracted.Title
	}
	doc.Metadata = doc.Metadata.Merge(storage.Metadata{
		"embedding_provider":   batch.ProviderID,
		"embedding_model":      batch.Model,
		"embedding_dimensions": batch.Dimension,
	})
	if err := p.documents.Update(ctx, doc); err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if err := p.documents.MarkComplete(ctx, doc.ID); err != nil {
		return fmt.Errorf("mark complete: %w", err)
	}

	result.Chunks = len(rows)
	for _, row := range rows {
		result.Tokens += row.TokenCount
	}
	result.Provider = batch.ProviderID
	result.Model = batch.Model
	result.Dimension = batch.Dimension
	return nil
}

// embedChunks embeds pieces in sequential batches. The first batch
// decides the provider and the rest of the document is pinned to it, so
// one document never mixes embedding models.
func (p *Pipeline) embedChunks(ctx context.Context, doc *storage.Document, pieces []chunk.Chunk) ([]*storage.Chunk, *embedding.BatchResult, error) {
	cctx := embedding.ContentContext{
		Type:         contentTypeHint(doc.Metadata),
		Language:     doc.Metadata.GetString("language"),
		CollectionID: doc.CollectionID.String(),
	}
	override := doc.Metadata.GetString("embedding_provider")

	rows := make([]*storage.Chunk, 0, len(pieces))
	var first *embedding.BatchResult
	for start := 0; start < len(pieces); start += p.config.BatchSize {
		end := start + p.config.BatchSize
		if end > len(pieces) {
			end = len(pieces)
		}
		texts := make([]string, 0, end-start)
		for _, piece := range pieces[start:end] {
			texts = append(texts, piece.Text)
		}

		batch, err := p.router.RouteBatch(ctx, texts, cctx, override)
		if err != nil {
			return nil, nil, fmt.Errorf("embed batch %d: %w", start/p.config.BatchSize, err)
		}
		if first == nil {
			first = batch
			override = batch.ProviderID
		} else if batch.Dimension != first.Dimension || batch.Model != first.Model {
			return nil, nil, fmt.Errorf("embedding model changed mid-document (%s to %s)", first.Model, batch.Model)
		}

		for i, piece := range pieces[start:end] {
			meta := storage.Metadata{}
			for k, v := range piece.Metadata {
				meta[k] = v
			}
			meta["embedding_provider"] = batch.ProviderID
			meta["embedding_dimensions"] = batch.Dimension
			rows = append(rows, &storage.Chunk{
				DocumentID:     doc.ID,
				ChunkIndex:     piece.Index,
				Text:           piece.Text,
				TokenCount:     piece.TokenCount,
				Embedding:      batch.Vectors[i],
				EmbeddingDim:   batch.Dimension,
				EmbeddingModel: batch.Model,
				Metadata:       meta,
			})
		}
	}
	return rows, first, nil
}

func (p *Pipeline) loadContent(doc *storage.Document) ([]byte, error) {
	if doc.FilePath == nil || *doc.FilePath == "" {
		return nil, errors.New("document has no stored file")
	}
	content, err := p.files.Read(*doc.FilePath)
	if err != nil {
		return nil, fmt.Errorf("read stored file: %w", err)
	}
	return content, nil
}

// failDocument records the failure even when the request context is
// already gone, so a canceled ingest stays visible and reingestable.
func (p *Pipeline) failDocument(ctx context.Context, id uuid.UUID, cause error) {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()
	if err := p.documents.SetError(storeCtx, id, truncateError(cause)); err != nil {
		p.logger.Error().
			Err(err).
			Str("document_id", id.String()).
			Msg("failed to record ingestion error")
	}
}

// contentTypeHint reads the embedding routing hint from document
// metadata, accepting doc_type only when it names a routing type.
func contentTypeHint(meta storage.Metadata) string {
	if t := meta.GetString("context_type"); t != "" {
		return t
	}
	switch t := meta.GetString("doc_type"); t {
	case "code", "docs", "personal":
		return t
	}
	return ""
}

func truncateError(err error) string {
	msg := err.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	return msg
}
