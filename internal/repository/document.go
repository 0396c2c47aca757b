package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// DocumentRepo implements service.DocumentRepository with pgx. It is the
// registry of source files; the chunks derived from each document live in
// VectorStore, keyed by SourceName.
type DocumentRepo struct {
	pool *pgxpool.Pool
}

// NewDocumentRepo creates a DocumentRepo.
func NewDocumentRepo(pool *pgxpool.Pool) *DocumentRepo {
	return &DocumentRepo{pool: pool}
}

// Compile-time check that DocumentRepo implements service.DocumentRepository.
var _ service.DocumentRepository = (*DocumentRepo)(nil)

func (r *DocumentRepo) Create(ctx context.Context, doc *model.Document) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO documents (
			id, source_name, source_namespace, original_name, mime_type,
			size_bytes, storage_uri, index_status, chunk_count, checksum,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		doc.ID, doc.SourceName, doc.Namespace, doc.OriginalName, doc.MimeType,
		doc.SizeBytes, doc.StorageURI, string(doc.IndexStatus), doc.ChunkCount, doc.Checksum,
		doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository.Create: %w", err)
	}
	return nil
}

func (r *DocumentRepo) GetByID(ctx context.Context, id string) (*model.Document, error) {
	doc := &model.Document{}
	var indexStatus string

	err := r.pool.QueryRow(ctx, `
		SELECT id, source_name, source_namespace, original_name, mime_type,
			size_bytes, storage_uri, index_status, chunk_count, checksum,
			created_at, updated_at
		FROM documents WHERE id = $1`, id,
	).Scan(
		&doc.ID, &doc.SourceName, &doc.Namespace, &doc.OriginalName, &doc.MimeType,
		&doc.SizeBytes, &doc.StorageURI, &indexStatus, &doc.ChunkCount, &doc.Checksum,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("repository.GetByID: %w", err)
	}

	doc.IndexStatus = model.IndexStatus(indexStatus)
	return doc, nil
}

// GetBySourceName looks up a document by its chunk-store key, used when the
// ingestion worker needs to update status/chunk-count after indexing.
func (r *DocumentRepo) GetBySourceName(ctx context.Context, sourceName string) (*model.Document, error) {
	doc := &model.Document{}
	var indexStatus string

	err := r.pool.QueryRow(ctx, `
		SELECT id, source_name, source_namespace, original_name, mime_type,
			size_bytes, storage_uri, index_status, chunk_count, checksum,
			created_at, updated_at
		FROM documents WHERE source_name = $1`, sourceName,
	).Scan(
		&doc.ID, &doc.SourceName, &doc.Namespace, &doc.OriginalName, &doc.MimeType,
		&doc.SizeBytes, &doc.StorageURI, &indexStatus, &doc.ChunkCount, &doc.Checksum,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("repository.GetBySourceName: %w", err)
	}
	doc.IndexStatus = model.IndexStatus(indexStatus)
	return doc, nil
}

func (r *DocumentRepo) List(ctx context.Context, opts service.ListOpts) ([]model.Document, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM documents`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("repository.List: count: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, source_name, source_namespace, original_name, mime_type,
			size_bytes, storage_uri, index_status, chunk_count, checksum,
			created_at, updated_at
		FROM documents ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, opts.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("repository.List: query: %w", err)
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		var d model.Document
		var indexStatus string
		if err := rows.Scan(
			&d.ID, &d.SourceName, &d.Namespace, &d.OriginalName, &d.MimeType,
			&d.SizeBytes, &d.StorageURI, &indexStatus, &d.ChunkCount, &d.Checksum,
			&d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("repository.List: scan: %w", err)
		}
		d.IndexStatus = model.IndexStatus(indexStatus)
		docs = append(docs, d)
	}

	return docs, total, nil
}

func (r *DocumentRepo) UpdateStatus(ctx context.Context, id string, status model.IndexStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE documents SET index_status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("repository.UpdateStatus: %w", err)
	}
	return nil
}

func (r *DocumentRepo) UpdateChunkCount(ctx context.Context, id string, count int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE documents SET chunk_count = $1, updated_at = $2 WHERE id = $3`,
		count, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("repository.UpdateChunkCount: %w", err)
	}
	return nil
}

// Delete removes the document registry row. The corresponding chunks must
// be deleted separately via VectorStore.DeleteByFilter — the two stores are
// not transactional with each other, matching the "replace-on-reingest"
// ordering named for ingestion (delete chunks, then insert, then flip the
// registry row) rather than true cross-store atomicity.
func (r *DocumentRepo) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("repository.Delete: %w", err)
	}
	return nil
}
