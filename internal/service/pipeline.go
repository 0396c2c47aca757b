package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

var (
	processingMu sync.Mutex
	processing   = make(map[string]bool)
)

// Parser abstracts document text extraction (reader dispatch).
type Parser interface {
	Extract(ctx context.Context, gcsURI string, useOCR bool, onProgress OCRProgressFunc) (*ParseResult, error)
}

// FAQChunker abstracts Q&A structure detection and atomic Q&A chunking.
type FAQChunker interface {
	DetectFAQStructure(text, filename string) (bool, []qaPair)
	Chunk(pairs []qaPair, sourceName, namespace, language string, uploadDate time.Time) []model.Chunk
}

// TextChunker abstracts the recursive fallback chunker.
type TextChunker interface {
	Chunk(text, sourceName, namespace, language string, uploadDate time.Time) ([]model.Chunk, error)
}

// ChunkEmbedder abstracts dual-dimension embedding per collection.
type ChunkEmbedder interface {
	EmbedChunks(ctx context.Context, chunks []model.Chunk, collection model.Collection) ([]model.Chunk, error)
}

// AuditLogger abstracts audit logging.
type AuditLogger interface {
	Log(ctx context.Context, action, userID, resourceID, resourceType string) error
}

// ProgressFunc reports staged ingestion progress back to the job queue.
type ProgressFunc func(stage model.JobStage, progress int, ocrPage, ocrTotalPages *int)

// PipelineService orchestrates the document ingestion pipeline:
// extract → chunk (Q&A-aware) → embed (dual dimension) → index (dual
// collection). It is invoked once per job by the job queue's single worker.
type PipelineService struct {
	docRepo    DocumentRepository
	parser     Parser
	faqChunker FAQChunker
	chunker    TextChunker
	embedder   ChunkEmbedder
	store      HybridSearchStore
	audit      AuditLogger
	bucketName string
}

// NewPipelineService creates a PipelineService with all required dependencies.
func NewPipelineService(
	docRepo DocumentRepository,
	parser Parser,
	faqChunker FAQChunker,
	chunker TextChunker,
	embedder ChunkEmbedder,
	store HybridSearchStore,
	audit AuditLogger,
	bucketName string,
) *PipelineService {
	return &PipelineService{
		docRepo:    docRepo,
		parser:     parser,
		faqChunker: faqChunker,
		chunker:    chunker,
		embedder:   embedder,
		store:      store,
		audit:      audit,
		bucketName: bucketName,
	}
}

// ProcessPayload runs the full ingestion pipeline for one queued job. The
// upload handler writes the file to gs://bucket/uploads/<namespace>/<sourceName>
// before enqueueing and leaves payload.Data empty; every reader extracts from
// that GCS object, so a single Extract entrypoint serves all readers rather
// than special-casing readers that could work from in-memory bytes.
func (s *PipelineService) ProcessPayload(ctx context.Context, payload model.IngestPayload, onProgress ProgressFunc) (int, error) {
	key := payload.Namespace + "/" + payload.SourceName

	processingMu.Lock()
	if processing[key] {
		processingMu.Unlock()
		return 0, fmt.Errorf("pipeline: %s is already being processed", key)
	}
	processing[key] = true
	processingMu.Unlock()
	defer func() {
		processingMu.Lock()
		delete(processing, key)
		processingMu.Unlock()
	}()

	report := func(stage model.JobStage, progress int) {
		if onProgress != nil {
			onProgress(stage, progress, nil, nil)
		}
	}

	slog.Info("pipeline starting", "source_name", payload.SourceName, "namespace", payload.Namespace)

	doc, err := s.docRepo.GetBySourceName(ctx, payload.SourceName)
	if err != nil {
		return 0, fmt.Errorf("pipeline.ProcessPayload: get document: %w", err)
	}
	if err := s.docRepo.UpdateStatus(ctx, doc.ID, model.IndexProcessing); err != nil {
		return 0, fmt.Errorf("pipeline.ProcessPayload: set processing: %w", err)
	}

	// Stage 1: Extracting (10..30)
	report(model.StageExtracting, 10)
	gcsURI := fmt.Sprintf("gs://%s/uploads/%s/%s", s.bucketName, payload.Namespace, payload.SourceName)
	parsed, err := s.parser.Extract(ctx, gcsURI, payload.UseOCR, func(page, total int) {
		if onProgress == nil || total <= 0 {
			return
		}
		p := page
		t := total
		frac := 10 + (20 * page / total)
		onProgress(model.StageExtracting, frac, &p, &t)
	})
	if err != nil {
		s.failDocument(ctx, doc.ID, err)
		return 0, fmt.Errorf("pipeline.ProcessPayload: extract: %w", err)
	}
	report(model.StageExtracting, 30)
	slog.Info("pipeline extracted text", "source_name", payload.SourceName, "chars", len(parsed.Text), "pages", parsed.Pages)

	// Stage 2: Chunking (35..50) — Q&A-aware, recursive fallback.
	report(model.StageChunking, 35)
	chunks, err := s.chunk(parsed.Text, payload.SourceName, payload.Namespace)
	if err != nil {
		s.failDocument(ctx, doc.ID, err)
		return 0, fmt.Errorf("pipeline.ProcessPayload: chunk: %w", err)
	}
	report(model.StageChunking, 50)
	slog.Info("pipeline chunked", "source_name", payload.SourceName, "chunk_count", len(chunks))

	// Stage 3: Embedding (55..80) — split regular vs Q&A, embed each at its
	// own dimensionality, one collection after the other. No rate limiter or
	// pacing delay is applied between embedding calls.
	report(model.StageEmbedding, 55)
	regular, qna := splitByQAPair(chunks)

	regular, err = s.embedder.EmbedChunks(ctx, regular, model.CollectionRegular)
	if err != nil {
		s.failDocument(ctx, doc.ID, err)
		return 0, fmt.Errorf("pipeline.ProcessPayload: embed regular: %w", err)
	}
	report(model.StageEmbedding, 68)

	qna, err = s.embedder.EmbedChunks(ctx, qna, model.CollectionQnA)
	if err != nil {
		s.failDocument(ctx, doc.ID, err)
		return 0, fmt.Errorf("pipeline.ProcessPayload: embed qna: %w", err)
	}
	report(model.StageEmbedding, 80)

	// Stage 4: Saving (82..90) — bootstrap schema, replace this source's
	// prior chunks in both collections, then insert the new ones.
	report(model.StageSaving, 82)
	if err := s.store.EnsureBothCollectionsExist(ctx); err != nil {
		s.failDocument(ctx, doc.ID, err)
		return 0, fmt.Errorf("pipeline.ProcessPayload: ensure collections: %w", err)
	}
	if err := s.store.DeleteByFilter(ctx, "sourceName", payload.SourceName); err != nil {
		slog.Warn("pipeline failed to clear prior regular chunks", "source_name", payload.SourceName, "error", err)
	}
	if err := s.store.DeleteByFilterQnA(ctx, "sourceName", payload.SourceName); err != nil {
		slog.Warn("pipeline failed to clear prior qna chunks", "source_name", payload.SourceName, "error", err)
	}
	report(model.StageSaving, 86)

	if len(regular) > 0 {
		if err := s.store.InsertBatch(ctx, regular); err != nil {
			s.failDocument(ctx, doc.ID, err)
			return 0, fmt.Errorf("pipeline.ProcessPayload: insert regular: %w", err)
		}
	}
	if len(qna) > 0 {
		if err := s.store.InsertBatchQnA(ctx, qna); err != nil {
			s.failDocument(ctx, doc.ID, err)
			return 0, fmt.Errorf("pipeline.ProcessPayload: insert qna: %w", err)
		}
	}
	report(model.StageSaving, 90)

	if err := s.docRepo.UpdateStatus(ctx, doc.ID, model.IndexIndexed); err != nil {
		return 0, fmt.Errorf("pipeline.ProcessPayload: set indexed: %w", err)
	}
	if err := s.docRepo.UpdateChunkCount(ctx, doc.ID, len(chunks)); err != nil {
		slog.Warn("pipeline failed to update chunk count", "source_name", payload.SourceName, "error", err)
	}

	if s.audit != nil {
		if err := s.audit.Log(ctx, model.AuditDocumentUpload, "", doc.ID, "document"); err != nil {
			slog.Warn("pipeline audit log failed", "source_name", payload.SourceName, "error", err)
		}
	}

	report(model.StageDone, 100)
	slog.Info("pipeline completed", "source_name", payload.SourceName, "chunk_count", len(chunks))
	return len(chunks), nil
}

// chunk runs QnAChunker first (FAQ structure, ≥3 pairs, ≥60% coverage, or a
// filename containing QNA); any document it declines falls through to the
// recursive chunker.
func (s *PipelineService) chunk(text, sourceName, namespace string) ([]model.Chunk, error) {
	language := "en"
	now := time.Now().UTC()

	if isFAQ, pairs := s.faqChunker.DetectFAQStructure(text, sourceName); isFAQ {
		return s.faqChunker.Chunk(pairs, sourceName, namespace, language, now), nil
	}

	chunks, err := s.chunker.Chunk(text, sourceName, namespace, language, now)
	if err != nil {
		return nil, fmt.Errorf("pipeline.chunk: %w", err)
	}
	return chunks, nil
}

// splitByQAPair separates a chunk set into the regular and Q&A collections.
func splitByQAPair(chunks []model.Chunk) (regular, qna []model.Chunk) {
	for _, c := range chunks {
		if c.IsQAPair {
			qna = append(qna, c)
		} else {
			regular = append(regular, c)
		}
	}
	return regular, qna
}

// failDocument marks a document Failed and records the error via audit log.
func (s *PipelineService) failDocument(ctx context.Context, docID string, origErr error) {
	slog.Error("pipeline failed", "document_id", docID, "error", origErr)
	_ = s.docRepo.UpdateStatus(ctx, docID, model.IndexFailed)
	if s.audit != nil {
		_ = s.audit.Log(ctx, model.AuditIngestFailed, "", docID, "document")
	}
}
