package service

import (
	"context"
	"testing"
	"time"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// ── Pipeline benchmark mocks (full interface implementations) ────

type benchDocRepo struct{ doc *model.Document }

func (r *benchDocRepo) Create(_ context.Context, _ *model.Document) error { return nil }
func (r *benchDocRepo) GetByID(_ context.Context, _ string) (*model.Document, error) {
	return r.doc, nil
}
func (r *benchDocRepo) GetBySourceName(_ context.Context, _ string) (*model.Document, error) {
	return r.doc, nil
}
func (r *benchDocRepo) List(_ context.Context, _ ListOpts) ([]model.Document, int, error) {
	return nil, 0, nil
}
func (r *benchDocRepo) UpdateStatus(_ context.Context, _ string, _ model.IndexStatus) error {
	return nil
}
func (r *benchDocRepo) UpdateChunkCount(_ context.Context, _ string, _ int) error { return nil }
func (r *benchDocRepo) Delete(_ context.Context, _ string) error                 { return nil }

type benchParser struct{ text string }

func (p *benchParser) Extract(_ context.Context, _ string, _ bool, _ OCRProgressFunc) (*ParseResult, error) {
	return &ParseResult{Text: p.text, Pages: 1}, nil
}

type benchFAQChunker struct{}

func (c *benchFAQChunker) DetectFAQStructure(_, _ string) (bool, []qaPair) { return false, nil }
func (c *benchFAQChunker) Chunk(_ []qaPair, _, _, _ string, _ time.Time) []model.Chunk {
	return nil
}

type benchTextChunker struct{ chunks []model.Chunk }

func (c *benchTextChunker) Chunk(_, _, _, _ string, _ time.Time) ([]model.Chunk, error) {
	return c.chunks, nil
}

type benchEmbedder struct{}

func (e *benchEmbedder) EmbedChunks(_ context.Context, chunks []model.Chunk, collection model.Collection) ([]model.Chunk, error) {
	out := make([]model.Chunk, len(chunks))
	for i, c := range chunks {
		c.Embedding = []float32{0.1, 0.2}
		c.Collection = collection
		out[i] = c
	}
	return out, nil
}

type benchStore struct{}

func (s *benchStore) SearchHybridBoth(_ context.Context, _ string, _, _ []float32, _ int, _ float64, _ model.FusionStrategy) ([]model.RetrievalHit, error) {
	return nil, nil
}
func (s *benchStore) SearchByVector(_ context.Context, _ []float32, _ int, _ model.Collection) ([]model.RetrievalHit, error) {
	return nil, nil
}
func (s *benchStore) GetChunksByIDs(_ context.Context, _ string, _ []int) ([]model.Chunk, error) {
	return nil, nil
}
func (s *benchStore) GetChunksBySourceAndIndex(_ context.Context, _ []ChunkRef) ([]model.Chunk, error) {
	return nil, nil
}
func (s *benchStore) InsertBatch(_ context.Context, _ []model.Chunk) error    { return nil }
func (s *benchStore) InsertBatchQnA(_ context.Context, _ []model.Chunk) error { return nil }
func (s *benchStore) DeleteByFilter(_ context.Context, _, _ string) error     { return nil }
func (s *benchStore) DeleteByFilterQnA(_ context.Context, _, _ string) error  { return nil }
func (s *benchStore) EnsureBothCollectionsExist(_ context.Context) error      { return nil }

type benchAudit struct{}

func (a *benchAudit) Log(_ context.Context, _, _, _, _ string) error {
	return nil
}

func BenchmarkPipeline_FullQuery(b *testing.B) {
	doc := &model.Document{
		ID:          "bench-doc",
		SourceName:  "bench-doc.pdf",
		Namespace:   "default",
		IndexStatus: model.IndexPending,
	}

	text := "The parties agree to maintain strict confidentiality of all proprietary information."
	chunks := []model.Chunk{
		{Text: text, SourceName: "bench-doc.pdf", ChunkIndex: 0},
	}

	svc := NewPipelineService(
		&benchDocRepo{doc: doc},
		&benchParser{text: text},
		&benchFAQChunker{},
		&benchTextChunker{chunks: chunks},
		&benchEmbedder{},
		&benchStore{},
		&benchAudit{},
		"ragbox-docs",
	)

	payload := model.IngestPayload{SourceName: "bench-doc.pdf", Namespace: "default"}

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = svc.ProcessPayload(ctx, payload, nil)
	}
}
