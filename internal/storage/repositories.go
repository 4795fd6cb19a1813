package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	pgvector "github.com/pgvector/pgvector-go"
)

// Common repository errors.
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// DB is the interface for database operations, satisfied by *sql.DB and *sql.Tx.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// TxDB extends DB with transaction support, satisfied by *sql.DB.
type TxDB interface {
	DB
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// CollectionRepository handles collection CRUD operations.
type CollectionRepository struct {
	db DB
}

// NewCollectionRepository creates a new collection repository.
func NewCollectionRepository(db DB) *CollectionRepository {
	return &CollectionRepository{db: db}
}

// Create creates a new collection. Names are unique; a duplicate returns ErrConflict.
func (r *CollectionRepository) Create(ctx context.Context, collection *Collection) error {
	if collection.ID == uuid.Nil {
		collection.ID = uuid.New()
	}
	collection.CreatedAt = time.Now()
	collection.UpdatedAt = time.Now()

	query := `
		INSERT INTO collections (id, name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query,
		collection.ID, collection.Name, collection.Description,
		collection.CreatedAt, collection.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// GetByID retrieves a collection by ID.
func (r *CollectionRepository) GetByID(ctx context.Context, id uuid.UUID) (*Collection, error) {
	query := `
		SELECT id, name, description, created_at, updated_at
		FROM collections
		WHERE id = $1
	`
	collection := &Collection{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&collection.ID, &collection.Name, &collection.Description,
		&collection.CreatedAt, &collection.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return collection, err
}

// GetByName retrieves a collection by its unique name.
func (r *CollectionRepository) GetByName(ctx context.Context, name string) (*Collection, error) {
	query := `
		SELECT id, name, description, created_at, updated_at
		FROM collections
		WHERE name = $1
	`
	collection := &Collection{}
	err := r.db.QueryRowContext(ctx, query, name).Scan(
		&collection.ID, &collection.Name, &collection.Description,
		&collection.CreatedAt, &collection.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return collection, err
}

// List retrieves all collections ordered by creation time.
func (r *CollectionRepository) List(ctx context.Context) ([]*Collection, error) {
	query := `
		SELECT id, name, description, created_at, updated_at
		FROM collections
		ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var collections []*Collection
	for rows.Next() {
		collection := &Collection{}
		if err := rows.Scan(
			&collection.ID, &collection.Name, &collection.Description,
			&collection.CreatedAt, &collection.UpdatedAt,
		); err != nil {
			return nil, err
		}
		collections = append(collections, collection)
	}
	return collections, rows.Err()
}

// ListWithCounts retrieves all collections with their document counts,
// ordered by creation time.
func (r *CollectionRepository) ListWithCounts(ctx context.Context) ([]*CollectionWithCount, error) {
	query := `
		SELECT c.id, c.name, c.description, c.created_at, c.updated_at, COUNT(d.id)
		FROM collections c
		LEFT JOIN documents d ON d.collection_id = c.id
		GROUP BY c.id, c.name, c.description, c.created_at, c.updated_at
		ORDER BY c.created_at
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var collections []*CollectionWithCount
	for rows.Next() {
		collection := &CollectionWithCount{}
		if err := rows.Scan(
			&collection.ID, &collection.Name, &collection.Description,
			&collection.CreatedAt, &collection.UpdatedAt, &collection.DocumentCount,
		); err != nil {
			return nil, err
		}
		collections = append(collections, collection)
	}
	return collections, rows.Err()
}

// Update updates a collection's name and description.
func (r *CollectionRepository) Update(ctx context.Context, collection *Collection) error {
	collection.UpdatedAt = time.Now()

	query := `
		UPDATE collections SET name = $1, description = $2, updated_at = $3
		WHERE id = $4
	`
	result, err := r.db.ExecContext(ctx, query,
		collection.Name, collection.Description, collection.UpdatedAt, collection.ID,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a collection. Documents and chunks cascade.
func (r *CollectionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM collections WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats aggregates document and chunk counts for a collection.
func (r *CollectionRepository) Stats(ctx context.Context, id uuid.UUID) (*CollectionStats, error) {
	query := `
		SELECT COUNT(DISTINCT d.id), COUNT(c.id), COALESCE(SUM(c.token_count), 0)
		FROM documents d
		LEFT JOIN chunks c ON c.document_id = d.id
		WHERE d.collection_id = $1
	`
	stats := &CollectionStats{StatusCounts: map[string]int{}}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&stats.DocumentCount, &stats.ChunkCount, &stats.TotalTokens,
	)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM documents WHERE collection_id = $1 GROUP BY status`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.StatusCounts[status] = count
	}
	return stats, rows.Err()
}

// DocumentRepository handles document CRUD operations.
type DocumentRepository struct {
	db DB
}

// NewDocumentRepository creates a new document repository.
func NewDocumentRepository(db DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create creates a new document in pending state.
func (r *DocumentRepository) Create(ctx context.Context, doc *Document) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.Status == "" {
		doc.Status = StatusPending
	}
	if doc.Metadata == nil {
		doc.Metadata = Metadata{}
	}
	doc.CreatedAt = time.Now()
	doc.UpdatedAt = time.Now()

	query := `
		INSERT INTO documents (id, collection_id, title, file_path, content_type, file_size,
			source_url, status, error_message, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.ExecContext(ctx, query,
		doc.ID, doc.CollectionID, doc.Title, doc.FilePath, doc.ContentType, doc.FileSize,
		doc.SourceURL, doc.Status, doc.ErrorMessage, doc.Metadata,
		doc.CreatedAt, doc.UpdatedAt,
	)
	return err
}

const documentColumns = `id, collection_id, title, file_path, content_type, file_size,
	source_url, status, error_message, metadata, created_at, processed_at, updated_at`

func scanDocument(row interface{ Scan(...interface{}) error }) (*Document, error) {
	doc := &Document{}
	err := row.Scan(
		&doc.ID, &doc.CollectionID, &doc.Title, &doc.FilePath, &doc.ContentType, &doc.FileSize,
		&doc.SourceURL, &doc.Status, &doc.ErrorMessage, &doc.Metadata,
		&doc.CreatedAt, &doc.ProcessedAt, &doc.UpdatedAt,
	)
	return doc, err
}

// GetByID retrieves a document by ID.
func (r *DocumentRepository) GetByID(ctx context.Context, id uuid.UUID) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	doc, err := scanDocument(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// GetBySourceURL finds the document a crawled URL was previously stored under,
// so re-crawls update in place instead of duplicating.
func (r *DocumentRepository) GetBySourceURL(ctx context.Context, collectionID uuid.UUID, sourceURL string) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE collection_id = $1 AND source_url = $2`
	doc, err := scanDocument(r.db.QueryRowContext(ctx, query, collectionID, sourceURL))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// List retrieves documents matching the filter, newest first.
func (r *DocumentRepository) List(ctx context.Context, filter DocumentFilter) ([]*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE collection_id = $1`
	args := []interface{}{filter.CollectionID}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Count returns the number of documents matching the filter.
func (r *DocumentRepository) Count(ctx context.Context, filter DocumentFilter) (int, error) {
	query := `SELECT COUNT(*) FROM documents WHERE collection_id = $1`
	args := []interface{}{filter.CollectionID}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	var count int
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}

// UpdateStatus transitions a document to the given pipeline status.
func (r *DocumentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status DocumentStatus) error {
	query := `UPDATE documents SET status = $1, updated_at = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, status, time.Now(), id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SetError marks a document failed with a human-readable message.
func (r *DocumentRepository) SetError(ctx context.Context, id uuid.UUID, message string) error {
	query := `UPDATE documents SET status = $1, error_message = $2, updated_at = $3 WHERE id = $4`
	_, err := r.db.ExecContext(ctx, query, StatusError, message, time.Now(), id)
	return err
}

// MarkComplete marks a document fully processed and clears any prior error.
func (r *DocumentRepository) MarkComplete(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE documents SET status = $1, error_message = NULL, processed_at = $2, updated_at = $2
		WHERE id = $3
	`
	_, err := r.db.ExecContext(ctx, query, StatusComplete, time.Now(), id)
	return err
}

// Update persists mutable document fields.
func (r *DocumentRepository) Update(ctx context.Context, doc *Document) error {
	doc.UpdatedAt = time.Now()

	query := `
		UPDATE documents SET title = $1, file_path = $2, content_type = $3, file_size = $4,
			source_url = $5, status = $6, error_message = $7, metadata = $8, updated_at = $9
		WHERE id = $10
	`
	result, err := r.db.ExecContext(ctx, query,
		doc.Title, doc.FilePath, doc.ContentType, doc.FileSize,
		doc.SourceURL, doc.Status, doc.ErrorMessage, doc.Metadata, doc.UpdatedAt,
		doc.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a document. Chunks cascade.
func (r *DocumentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListFilePaths returns the stored file paths for a collection's documents,
// for cleanup before the rows cascade away.
func (r *DocumentRepository) ListFilePaths(ctx context.Context, collectionID uuid.UUID) ([]string, error) {
	query := `SELECT file_path FROM documents WHERE collection_id = $1 AND file_path IS NOT NULL`
	rows, err := r.db.QueryContext(ctx, query, collectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, rows.Err()
}

// ResetUnfinished returns every in-flight document to pending so a restart
// can re-enqueue work that was interrupted. Terminal statuses are untouched.
func (r *DocumentRepository) ResetUnfinished(ctx context.Context) ([]uuid.UUID, error) {
	query := `
		UPDATE documents
		SET status = 'pending', updated_at = $1
		WHERE status IN ('pending', 'extracting', 'chunking', 'embedding')
		RETURNING id
	`
	rows, err := r.db.QueryContext(ctx, query, time.Now())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LatestComplete returns the most recently processed document in a collection.
// Its metadata declares the collection's embedding provider and dimension.
func (r *DocumentRepository) LatestComplete(ctx context.Context, collectionID uuid.UUID) (*Document, error) {
	query := `SELECT ` + documentColumns + `
		FROM documents
		WHERE collection_id = $1 AND status = 'complete'
		ORDER BY processed_at DESC NULLS LAST, updated_at DESC
		LIMIT 1`
	doc, err := scanDocument(r.db.QueryRowContext(ctx, query, collectionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ChunkRepository handles chunk persistence and the search queries over chunks.
type ChunkRepository struct {
	db TxDB
}

// NewChunkRepository creates a new chunk repository.
func NewChunkRepository(db TxDB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// ReplaceForDocument atomically swaps a document's chunks: existing rows are
// deleted and the new set inserted in one transaction, so readers never see a
// partial chunk set.
func (r *ChunkRepository) ReplaceForDocument(ctx context.Context, documentID uuid.UUID, chunks []*Chunk) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return err
	}

	query := `
		INSERT INTO chunks (document_id, chunk_index, text, token_count,
			embedding, embedding_dim, embedding_model, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5::vector, $6, $7, $8, $9)
		RETURNING id
	`
	now := time.Now()
	for _, chunk := range chunks {
		if chunk.Metadata == nil {
			chunk.Metadata = Metadata{}
		}
		chunk.DocumentID = documentID
		chunk.CreatedAt = now
		err := tx.QueryRowContext(ctx, query,
			chunk.DocumentID, chunk.ChunkIndex, chunk.Text, chunk.TokenCount,
			pgvector.NewVector(chunk.Embedding), chunk.EmbeddingDim, chunk.EmbeddingModel,
			chunk.Metadata, chunk.CreatedAt,
		).Scan(&chunk.ID)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteForDocument removes all chunks for a document.
func (r *ChunkRepository) DeleteForDocument(ctx context.Context, documentID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID)
	return err
}

// CountForDocument returns the number of chunks stored for a document.
func (r *ChunkRepository) CountForDocument(ctx context.Context, documentID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE document_id = $1`, documentID).Scan(&count)
	return count, err
}

// LatestEmbedding returns the embedding model and dimension of the most
// recently processed document's chunks, which define what new documents in
// the collection must match. ErrNotFound means the collection has no
// complete documents yet.
func (r *ChunkRepository) LatestEmbedding(ctx context.Context, collectionID uuid.UUID) (string, int, error) {
	query := `
		SELECT c.embedding_model, c.embedding_dim
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.collection_id = $1 AND d.status = 'complete'
		ORDER BY d.processed_at DESC NULLS LAST, c.id DESC
		LIMIT 1
	`
	var model string
	var dim int
	err := r.db.QueryRowContext(ctx, query, collectionID).Scan(&model, &dim)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, ErrNotFound
	}
	if err != nil {
		return "", 0, err
	}
	return model, dim, nil
}

// ListForDocument retrieves a document's chunks in order, without embeddings.
func (r *ChunkRepository) ListForDocument(ctx context.Context, documentID uuid.UUID) ([]*Chunk, error) {
	query := `
		SELECT id, document_id, chunk_index, text, token_count,
			embedding_dim, embedding_model, metadata, created_at
		FROM chunks
		WHERE document_id = $1
		ORDER BY chunk_index
	`
	rows, err := r.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		chunk := &Chunk{}
		if err := rows.Scan(
			&chunk.ID, &chunk.DocumentID, &chunk.ChunkIndex, &chunk.Text, &chunk.TokenCount,
			&chunk.EmbeddingDim, &chunk.EmbeddingModel, &chunk.Metadata, &chunk.CreatedAt,
		); err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// VectorSearch runs cosine similarity search over a collection's chunks.
// Only chunks whose stored dimension matches the query vector participate,
// so collections holding mixed embedding models never produce cross-model
// distances. Rows below minSimilarity are dropped.
func (r *ChunkRepository) VectorSearch(ctx context.Context, collectionID uuid.UUID, embedding []float32, minSimilarity float64, limit int) ([]*VectorHit, error) {
	if len(embedding) == 0 {
		return nil, errors.New("empty query embedding")
	}

	// The dimension is baked into the casts so the partial HNSW index for
	// that dimension can serve the ORDER BY.
	query := fmt.Sprintf(`
		SELECT c.id, c.document_id, c.chunk_index, c.text,
			1 - (c.embedding::vector(%[1]d) <=> $2::vector(%[1]d)) AS similarity,
			d.title, d.source_url, c.metadata, d.metadata
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.collection_id = $1
			AND d.status = 'complete'
			AND c.embedding_dim = %[1]d
		ORDER BY c.embedding::vector(%[1]d) <=> $2::vector(%[1]d)
		LIMIT $3
	`, len(embedding))

	rows, err := r.db.QueryContext(ctx, query, collectionID, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []*VectorHit
	for rows.Next() {
		hit := &VectorHit{}
		if err := rows.Scan(
			&hit.ChunkID, &hit.DocumentID, &hit.ChunkIndex, &hit.Text, &hit.Similarity,
			&hit.DocTitle, &hit.SourceURL, &hit.ChunkMeta, &hit.DocMeta,
		); err != nil {
			return nil, err
		}
		if hit.Similarity < minSimilarity {
			continue
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// TextSearch runs full-text search over a collection's chunks using the given
// tsquery string. Ranks are raw ts_rank_cd values.
func (r *ChunkRepository) TextSearch(ctx context.Context, collectionID uuid.UUID, language, tsquery string, limit int) ([]*TextHit, error) {
	// The language is inlined as a quoted literal rather than bound, so the
	// expression matches the GIN index built over to_tsvector('english', text).
	lang := pq.QuoteLiteral(language)
	query := fmt.Sprintf(`
		SELECT c.id, c.document_id, c.chunk_index, c.text,
			ts_rank_cd(to_tsvector(%[1]s, c.text), query) AS rank,
			d.title, d.source_url, c.metadata, d.metadata
		FROM chunks c
		JOIN documents d ON d.id = c.document_id,
			to_tsquery(%[1]s, $2) query
		WHERE d.collection_id = $1
			AND d.status = 'complete'
			AND to_tsvector(%[1]s, c.text) @@ query
		ORDER BY rank DESC
		LIMIT $3
	`, lang)

	rows, err := r.db.QueryContext(ctx, query, collectionID, tsquery, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []*TextHit
	for rows.Next() {
		hit := &TextHit{}
		if err := rows.Scan(
			&hit.ChunkID, &hit.DocumentID, &hit.ChunkIndex, &hit.Text, &hit.RawRank,
			&hit.DocTitle, &hit.SourceURL, &hit.ChunkMeta, &hit.DocMeta,
		); err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// CostRepository handles the append-only API usage ledger.
type CostRepository struct {
	db DB
}

// NewCostRepository creates a new cost repository.
func NewCostRepository(db DB) *CostRepository {
	return &CostRepository{db: db}
}

// Insert appends a usage record.
func (r *CostRepository) Insert(ctx context.Context, record *CostRecord) error {
	if record.Metadata == nil {
		record.Metadata = Metadata{}
	}
	record.CreatedAt = time.Now()

	query := `
		INSERT INTO api_usage (provider, operation, tokens_used, cost_usd, model,
			collection_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	return r.db.QueryRowContext(ctx, query,
		record.Provider, record.Operation, record.TokensUsed, record.CostUSD, record.Model,
		record.CollectionID, record.Metadata, record.CreatedAt,
	).Scan(&record.ID)
}

// SpendSince sums costs recorded at or after the given time.
func (r *CostRepository) SpendSince(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM api_usage WHERE created_at >= $1`, since).Scan(&total)
	return total, err
}

// Breakdown aggregates spend since the given time per provider and operation,
// most expensive first.
func (r *CostRepository) Breakdown(ctx context.Context, since time.Time) ([]*CostBreakdownRow, error) {
	query := `
		SELECT provider, operation, COUNT(*), COALESCE(SUM(tokens_used), 0), COALESCE(SUM(cost_usd), 0)
		FROM api_usage
		WHERE created_at >= $1
		GROUP BY provider, operation
		ORDER BY SUM(cost_usd) DESC
	`
	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var breakdown []*CostBreakdownRow
	for rows.Next() {
		row := &CostBreakdownRow{}
		if err := rows.Scan(
			&row.Provider, &row.Operation, &row.RequestCount, &row.TotalTokens, &row.TotalCost,
		); err != nil {
			return nil, err
		}
		if row.RequestCount > 0 {
			row.AvgCostPerRequest = row.TotalCost / float64(row.RequestCount)
		}
		breakdown = append(breakdown, row)
	}
	return breakdown, rows.Err()
}

// DailyTotals aggregates spend per calendar day since the given time.
func (r *CostRepository) DailyTotals(ctx context.Context, since time.Time) ([]*DailySpendRow, error) {
	query := `
		SELECT DATE(created_at), COUNT(*), COALESCE(SUM(cost_usd), 0)
		FROM api_usage
		WHERE created_at >= $1
		GROUP BY DATE(created_at)
		ORDER BY DATE(created_at)
	`
	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var days []*DailySpendRow
	for rows.Next() {
		day := &DailySpendRow{}
		if err := rows.Scan(&day.Date, &day.RequestCount, &day.TotalCost); err != nil {
			return nil, err
		}
		days = append(days, day)
	}
	return days, rows.Err()
}

// AlertRepository handles budget alert persistence.
type AlertRepository struct {
	db DB
}

// NewAlertRepository creates a new alert repository.
func NewAlertRepository(db DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Insert records a triggered alert.
func (r *AlertRepository) Insert(ctx context.Context, alert *BudgetAlert) error {
	if alert.Period == "" {
		alert.Period = "monthly"
	}
	if alert.TriggeredAt.IsZero() {
		alert.TriggeredAt = time.Now()
	}

	query := `
		INSERT INTO budget_alerts (alert_type, period, threshold_usd, current_spend_usd, triggered_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	return r.db.QueryRowContext(ctx, query,
		alert.AlertType, alert.Period, alert.ThresholdUSD, alert.CurrentSpendUSD, alert.TriggeredAt,
	).Scan(&alert.ID)
}

// Latest returns the most recent alert of the given type and period.
func (r *AlertRepository) Latest(ctx context.Context, alertType AlertType, period string) (*BudgetAlert, error) {
	query := `
		SELECT id, alert_type, period, threshold_usd, current_spend_usd, triggered_at
		FROM budget_alerts
		WHERE alert_type = $1 AND period = $2
		ORDER BY triggered_at DESC
		LIMIT 1
	`
	alert := &BudgetAlert{}
	err := r.db.QueryRowContext(ctx, query, alertType, period).Scan(
		&alert.ID, &alert.AlertType, &alert.Period,
		&alert.ThresholdUSD, &alert.CurrentSpendUSD, &alert.TriggeredAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return alert, err
}

// List returns recent alerts, newest first.
func (r *AlertRepository) List(ctx context.Context, limit int) ([]*BudgetAlert, error) {
	query := `
		SELECT id, alert_type, period, threshold_usd, current_spend_usd, triggered_at
		FROM budget_alerts
		ORDER BY triggered_at DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*BudgetAlert
	for rows.Next() {
		alert := &BudgetAlert{}
		if err := rows.Scan(
			&alert.ID, &alert.AlertType, &alert.Period,
			&alert.ThresholdUSD, &alert.CurrentSpendUSD, &alert.TriggeredAt,
		); err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// Repositories bundles all repositories over one database handle.
type Repositories struct {
	Collections *CollectionRepository
	Documents   *DocumentRepository
	Chunks      *ChunkRepository
	Costs       *CostRepository
	Alerts      *AlertRepository
}

// NewRepositories creates the repository bundle.
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Collections: NewCollectionRepository(db),
		Documents:   NewDocumentRepository(db),
		Chunks:      NewChunkRepository(db),
		Costs:       NewCostRepository(db),
		Alerts:      NewAlertRepository(db),
	}
}
