package service

import (
	"context"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// ChunkRef identifies one chunk by its source document and position within
// it, used by the batched exact-fetch used during ordered expansion.
type ChunkRef struct {
	SourceName string
	ChunkIndex int
}

// HybridSearchStore is the contract over the vector database. It is
// implemented once per physical backend (Postgres+pgvector here) and
// consumed by the retrieval pipeline and the context expander.
type HybridSearchStore interface {
	// SearchHybridBoth issues one hybrid (vector + BM25) query against each
	// of the two collections and merges results ranked by the DB-returned
	// fused score, ties broken by insertion order.
	SearchHybridBoth(ctx context.Context, bm25Query string, embedding []float32, qnaEmbedding []float32, limit int, alpha float64, fusion model.FusionStrategy) ([]model.RetrievalHit, error)

	// SearchByVector runs a pure-vector query against one collection. The
	// retrieval pipeline does not call it: it issues only SearchHybridBoth
	// and returns that call's error to its caller, with no vector-only retry.
	SearchByVector(ctx context.Context, embedding []float32, limit int, collection model.Collection) ([]model.RetrievalHit, error)

	// GetChunksByIDs fetches specific chunkIndex values for one source,
	// used by the similarity-walk expander to pull named neighbors.
	GetChunksByIDs(ctx context.Context, sourceName string, chunkIndexes []int) ([]model.Chunk, error)

	// GetChunksBySourceAndIndex is the batched equivalent of GetChunksByIDs
	// across multiple sources at once, used by ordered expansion.
	GetChunksBySourceAndIndex(ctx context.Context, refs []ChunkRef) ([]model.Chunk, error)

	// InsertBatch and InsertBatchQnA index chunks into their respective
	// collection.
	InsertBatch(ctx context.Context, chunks []model.Chunk) error
	InsertBatchQnA(ctx context.Context, chunks []model.Chunk) error

	// DeleteByFilter and DeleteByFilterQnA remove every chunk in the named
	// collection matching field=value, used to replace a source's chunks on
	// re-ingestion.
	DeleteByFilter(ctx context.Context, field, value string) error
	DeleteByFilterQnA(ctx context.Context, field, value string) error

	// EnsureBothCollectionsExist idempotently bootstraps the schema for
	// both collections. Safe to call on every startup.
	EnsureBothCollectionsExist(ctx context.Context) error
}
