package repository

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"golang.org/x/sync/errgroup"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// collectionTable maps a logical collection to its physical table name.
var collectionTable = map[model.Collection]string{
	model.CollectionRegular: "chunks_regular",
	model.CollectionQnA:     "chunks_qna",
}

// VectorStore implements service.HybridSearchStore against two PostgreSQL
// tables (chunks_regular, chunks_qna), each carrying its own pgvector column
// dimension and a tsvector column for BM25.
type VectorStore struct {
	pool *pgxpool.Pool
}

// NewVectorStore creates a VectorStore.
func NewVectorStore(pool *pgxpool.Pool) *VectorStore {
	return &VectorStore{pool: pool}
}

var _ service.HybridSearchStore = (*VectorStore)(nil)

// EnsureBothCollectionsExist idempotently bootstraps chunks_regular and
// chunks_qna. Dimensions are fixed at creation time; changing the
// configured embedding dimension requires a migration, not a restart.
func (v *VectorStore) EnsureBothCollectionsExist(ctx context.Context) error {
	const ddl = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chunks_regular (
	id                      uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	source_name             text NOT NULL,
	source_namespace        text NOT NULL DEFAULT '',
	chunk_index             integer NOT NULL,
	total_chunks            integer NOT NULL,
	page_number             integer,
	upload_date             timestamptz NOT NULL,
	language                text NOT NULL DEFAULT '',
	content                 text NOT NULL,
	content_without_overlap text NOT NULL,
	is_qa_pair              boolean NOT NULL DEFAULT false,
	question_text           text,
	start_position          integer NOT NULL DEFAULT 0,
	end_position             integer NOT NULL DEFAULT 0,
	embedding               vector(512) NOT NULL,
	content_tsv             tsvector GENERATED ALWAYS AS (to_tsvector('spanish', content)) STORED,
	UNIQUE (source_name, chunk_index)
);
CREATE INDEX IF NOT EXISTS chunks_regular_embedding_idx ON chunks_regular USING hnsw (embedding vector_cosine_ops);
CREATE INDEX IF NOT EXISTS chunks_regular_tsv_idx ON chunks_regular USING gin (content_tsv);
CREATE INDEX IF NOT EXISTS chunks_regular_source_idx ON chunks_regular (source_name);

CREATE TABLE IF NOT EXISTS chunks_qna (
	id                      uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	source_name             text NOT NULL,
	source_namespace        text NOT NULL DEFAULT '',
	chunk_index             integer NOT NULL,
	total_chunks            integer NOT NULL,
	page_number             integer,
	upload_date             timestamptz NOT NULL,
	language                text NOT NULL DEFAULT '',
	content                 text NOT NULL,
	content_without_overlap text NOT NULL,
	is_qa_pair              boolean NOT NULL DEFAULT true,
	question_text           text,
	start_position          integer NOT NULL DEFAULT 0,
	end_position             integer NOT NULL DEFAULT 0,
	embedding               vector(1024) NOT NULL,
	content_tsv             tsvector GENERATED ALWAYS AS (to_tsvector('spanish', content)) STORED,
	UNIQUE (source_name, chunk_index)
);
CREATE INDEX IF NOT EXISTS chunks_qna_embedding_idx ON chunks_qna USING hnsw (embedding vector_cosine_ops);
CREATE INDEX IF NOT EXISTS chunks_qna_tsv_idx ON chunks_qna USING gin (content_tsv);
CREATE INDEX IF NOT EXISTS chunks_qna_source_idx ON chunks_qna (source_name);
`
	if _, err := v.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("repository.EnsureBothCollectionsExist: %w", err)
	}
	return nil
}

// InsertBatch indexes chunks into chunks_regular.
func (v *VectorStore) InsertBatch(ctx context.Context, chunks []model.Chunk) error {
	return v.insertBatch(ctx, "chunks_regular", chunks)
}

// InsertBatchQnA indexes chunks into chunks_qna.
func (v *VectorStore) InsertBatchQnA(ctx context.Context, chunks []model.Chunk) error {
	return v.insertBatch(ctx, "chunks_qna", chunks)
}

func (v *VectorStore) insertBatch(ctx context.Context, table string, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := fmt.Sprintf(`
		INSERT INTO %s (
			source_name, source_namespace, chunk_index, total_chunks, page_number,
			upload_date, language, content, content_without_overlap, is_qa_pair,
			question_text, start_position, end_position, embedding
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (source_name, chunk_index) DO UPDATE SET
			content = EXCLUDED.content,
			content_without_overlap = EXCLUDED.content_without_overlap,
			embedding = EXCLUDED.embedding`, table)

	for _, c := range chunks {
		batch.Queue(query,
			c.SourceName, c.SourceNamespace, c.ChunkIndex, c.TotalChunks, c.PageNumber,
			c.UploadDate, c.Language, c.Text, c.ContentWithoutOverlap, c.IsQAPair,
			c.QuestionText, c.StartPosition, c.EndPosition, pgvector.NewVector(c.Embedding),
		)
	}

	br := v.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < len(chunks); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("repository.insertBatch(%s): chunk %d: %w", table, i, err)
		}
	}
	return nil
}

// DeleteByFilter removes every chunks_regular row matching field=value.
func (v *VectorStore) DeleteByFilter(ctx context.Context, field, value string) error {
	return v.deleteByFilter(ctx, "chunks_regular", field, value)
}

// DeleteByFilterQnA removes every chunks_qna row matching field=value.
func (v *VectorStore) DeleteByFilterQnA(ctx context.Context, field, value string) error {
	return v.deleteByFilter(ctx, "chunks_qna", field, value)
}

// allowedFilterFields whitelists the columns deleteByFilter may target,
// since the field name is interpolated into the query text.
var allowedFilterFields = map[string]bool{
	"source_name":      true,
	"source_namespace": true,
}

func (v *VectorStore) deleteByFilter(ctx context.Context, table, field, value string) error {
	if !allowedFilterFields[field] {
		return fmt.Errorf("repository.deleteByFilter: unsupported field %q", field)
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, table, field)
	if _, err := v.pool.Exec(ctx, query, value); err != nil {
		return fmt.Errorf("repository.deleteByFilter(%s): %w", table, err)
	}
	return nil
}

// SearchHybridBoth runs one vector + one BM25 query per collection
// concurrently, normalizes and fuses each collection's pair by the
// requested strategy, then merges the two collections by fused score.
func (v *VectorStore) SearchHybridBoth(ctx context.Context, bm25Query string, embedding, qnaEmbedding []float32, limit int, alpha float64, fusion model.FusionStrategy) ([]model.RetrievalHit, error) {
	g, gCtx := errgroup.WithContext(ctx)

	var regularVec, regularBM25, qnaVec, qnaBM25 []scoredRow

	g.Go(func() error {
		var err error
		regularVec, err = v.vectorQuery(gCtx, "chunks_regular", embedding, limit)
		return err
	})
	g.Go(func() error {
		var err error
		regularBM25, err = v.bm25Query(gCtx, "chunks_regular", bm25Query, limit)
		return err
	})
	g.Go(func() error {
		var err error
		qnaVec, err = v.vectorQuery(gCtx, "chunks_qna", qnaEmbedding, limit)
		return err
	})
	g.Go(func() error {
		var err error
		qnaBM25, err = v.bm25Query(gCtx, "chunks_qna", bm25Query, limit)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("repository.SearchHybridBoth: %w", err)
	}

	regularHits := fuse(regularVec, regularBM25, alpha, fusion, model.CollectionRegular)
	qnaHits := fuse(qnaVec, qnaBM25, alpha, fusion, model.CollectionQnA)

	merged := append(regularHits, qnaHits...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})

	slog.Info("vectorstore hybrid search complete",
		"regular_vec", len(regularVec), "regular_bm25", len(regularBM25),
		"qna_vec", len(qnaVec), "qna_bm25", len(qnaBM25),
		"alpha", alpha, "fusion", fusion, "merged", len(merged))

	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// SearchByVector is the pure-vector fallback for a single collection.
func (v *VectorStore) SearchByVector(ctx context.Context, embedding []float32, limit int, collection model.Collection) ([]model.RetrievalHit, error) {
	table := collectionTable[collection]
	rows, err := v.vectorQuery(ctx, table, embedding, limit)
	if err != nil {
		return nil, fmt.Errorf("repository.SearchByVector: %w", err)
	}
	hits := make([]model.RetrievalHit, len(rows))
	for i, r := range rows {
		hits[i] = model.RetrievalHit{Properties: r.chunk, Collection: collection, Score: r.score, FinalScore: r.score}
	}
	return hits, nil
}

// GetChunksByIDs fetches specific chunkIndex values for one source from
// chunks_regular, used by the similarity-walk expander.
func (v *VectorStore) GetChunksByIDs(ctx context.Context, sourceName string, chunkIndexes []int) ([]model.Chunk, error) {
	rows, err := v.pool.Query(ctx, chunkSelectColumns+`
		FROM chunks_regular WHERE source_name = $1 AND chunk_index = ANY($2)`,
		sourceName, chunkIndexes)
	if err != nil {
		return nil, fmt.Errorf("repository.GetChunksByIDs: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// GetChunksBySourceAndIndex batches exact (source, index) lookups across
// multiple sources, used by ordered expansion.
func (v *VectorStore) GetChunksBySourceAndIndex(ctx context.Context, refs []service.ChunkRef) ([]model.Chunk, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	sources := make([]string, len(refs))
	indexes := make([]int, len(refs))
	for i, r := range refs {
		sources[i] = r.SourceName
		indexes[i] = r.ChunkIndex
	}

	rows, err := v.pool.Query(ctx, chunkSelectColumns+`
		FROM chunks_regular WHERE (source_name, chunk_index) = ANY(
			SELECT unnest($1::text[]), unnest($2::int[])
		)`, sources, indexes)
	if err != nil {
		return nil, fmt.Errorf("repository.GetChunksBySourceAndIndex: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

const chunkSelectColumns = `SELECT source_name, source_namespace, chunk_index, total_chunks, page_number,
	upload_date, language, content, content_without_overlap, is_qa_pair, question_text,
	start_position, end_position`

func scanChunks(rows pgx.Rows) ([]model.Chunk, error) {
	var out []model.Chunk
	for rows.Next() {
		var c model.Chunk
		if err := rows.Scan(
			&c.SourceName, &c.SourceNamespace, &c.ChunkIndex, &c.TotalChunks, &c.PageNumber,
			&c.UploadDate, &c.Language, &c.Text, &c.ContentWithoutOverlap, &c.IsQAPair,
			&c.QuestionText, &c.StartPosition, &c.EndPosition,
		); err != nil {
			return nil, fmt.Errorf("repository.scanChunks: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

// scoredRow is one row returned by either the vector or BM25 leg of a
// hybrid search, before fusion.
type scoredRow struct {
	chunk model.Chunk
	score float64
}

func (v *VectorStore) vectorQuery(ctx context.Context, table string, embedding []float32, limit int) ([]scoredRow, error) {
	query := fmt.Sprintf(chunkSelectColumns+`, 1 - (embedding <=> $1::vector) AS score
		FROM %s ORDER BY embedding <=> $1::vector LIMIT $2`, table)
	rows, err := v.pool.Query(ctx, query, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("repository.vectorQuery(%s): %w", table, err)
	}
	defer rows.Close()
	return scanScoredRows(rows)
}

func (v *VectorStore) bm25Query(ctx context.Context, table, query string, limit int) ([]scoredRow, error) {
	if query == "" {
		return nil, nil
	}
	q := fmt.Sprintf(chunkSelectColumns+`, ts_rank_cd(content_tsv, plainto_tsquery('spanish', $1)) AS score
		FROM %s WHERE content_tsv @@ plainto_tsquery('spanish', $1)
		ORDER BY score DESC LIMIT $2`, table)
	rows, err := v.pool.Query(ctx, q, query, limit)
	if err != nil {
		return nil, fmt.Errorf("repository.bm25Query(%s): %w", table, err)
	}
	defer rows.Close()
	return scanScoredRows(rows)
}

func scanScoredRows(rows pgx.Rows) ([]scoredRow, error) {
	var out []scoredRow
	for rows.Next() {
		var r scoredRow
		if err := rows.Scan(
			&r.chunk.SourceName, &r.chunk.SourceNamespace, &r.chunk.ChunkIndex, &r.chunk.TotalChunks,
			&r.chunk.PageNumber, &r.chunk.UploadDate, &r.chunk.Language, &r.chunk.Text,
			&r.chunk.ContentWithoutOverlap, &r.chunk.IsQAPair, &r.chunk.QuestionText,
			&r.chunk.StartPosition, &r.chunk.EndPosition, &r.score,
		); err != nil {
			return nil, fmt.Errorf("repository.scanScoredRows: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

// fuse combines a collection's vector and BM25 legs into ranked hits using
// the requested strategy.
func fuse(vec, bm25 []scoredRow, alpha float64, strategy model.FusionStrategy, collection model.Collection) []model.RetrievalHit {
	switch strategy {
	case model.RankedFusion:
		return fuseRanked(vec, bm25, collection)
	default:
		return fuseRelativeScore(vec, bm25, alpha, collection)
	}
}

// fuseRanked is reciprocal-rank fusion: score = sum(1/(k+rank+1)).
func fuseRanked(vec, bm25 []scoredRow, collection model.Collection) []model.RetrievalHit {
	const k = 60
	scores := make(map[string]float64)
	chunks := make(map[string]model.Chunk)
	order := make([]string, 0, len(vec)+len(bm25))

	add := func(rows []scoredRow) {
		for rank, r := range rows {
			key := r.chunk.SourceName + "#" + fmt.Sprint(r.chunk.ChunkIndex)
			if _, ok := chunks[key]; !ok {
				order = append(order, key)
			}
			chunks[key] = r.chunk
			scores[key] += 1.0 / float64(k+rank+1)
		}
	}
	add(vec)
	add(bm25)

	hits := make([]model.RetrievalHit, len(order))
	for i, key := range order {
		hits[i] = model.RetrievalHit{Properties: chunks[key], Collection: collection, Score: scores[key], FinalScore: scores[key]}
	}
	return hits
}

// fuseRelativeScore min-max normalizes each leg to [0,1] then combines with
// alpha*vector + (1-alpha)*bm25.
func fuseRelativeScore(vec, bm25 []scoredRow, alpha float64, collection model.Collection) []model.RetrievalHit {
	vecNorm := minMaxNormalize(vec)
	bm25Norm := minMaxNormalize(bm25)

	combined := make(map[string]float64)
	chunks := make(map[string]model.Chunk)
	order := make([]string, 0, len(vec)+len(bm25))

	for key, r := range vecNorm {
		combined[key] += alpha * r.score
		chunks[key] = r.chunk
		order = append(order, key)
	}
	for key, r := range bm25Norm {
		if _, ok := chunks[key]; !ok {
			order = append(order, key)
			chunks[key] = r.chunk
		}
		combined[key] += (1 - alpha) * r.score
	}

	hits := make([]model.RetrievalHit, len(order))
	for i, key := range order {
		hits[i] = model.RetrievalHit{Properties: chunks[key], Collection: collection, Score: combined[key], FinalScore: combined[key]}
	}
	return hits
}

func minMaxNormalize(rows []scoredRow) map[string]scoredRow {
	out := make(map[string]scoredRow, len(rows))
	if len(rows) == 0 {
		return out
	}
	min, max := rows[0].score, rows[0].score
	for _, r := range rows {
		if r.score < min {
			min = r.score
		}
		if r.score > max {
			max = r.score
		}
	}
	spread := max - min
	for _, r := range rows {
		key := r.chunk.SourceName + "#" + fmt.Sprint(r.chunk.ChunkIndex)
		norm := 1.0
		if spread > 0 {
			norm = (r.score - min) / spread
		}
		out[key] = scoredRow{chunk: r.chunk, score: norm}
	}
	return out
}
