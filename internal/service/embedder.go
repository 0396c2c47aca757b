package service

import (
	"context"
	"fmt"
	"math"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// maxBatchSize is the max texts per Vertex AI embedding API call.
const maxBatchSize = 250

// EmbeddingClient abstracts the Vertex AI embedding API for testability.
// Regular and QnA collections use the same underlying model but request
// different output dimensionality (Vertex's text-embedding models accept an
// explicit output_dimensionality and truncate/re-normalize accordingly).
type EmbeddingClient interface {
	EmbedTexts(ctx context.Context, texts []string, dimensions int) ([][]float32, error)
}

// EmbedderService generates vector embeddings for chunks bound for either
// collection. Regular chunks are embedded at config.EmbeddingDimensions (a
// truncated vector tuned for passage retrieval); QnA chunks are embedded at
// config.EmbeddingQnADimensions (the full vector, since question-to-question
// similarity benefits from the extra resolution).
type EmbedderService struct {
	client      EmbeddingClient
	regularDims int
	qnaDims     int
}

// NewEmbedderService creates an EmbedderService with the collection's target dimensions.
func NewEmbedderService(client EmbeddingClient, regularDims, qnaDims int) *EmbedderService {
	if regularDims <= 0 {
		regularDims = 512
	}
	if qnaDims <= 0 {
		qnaDims = 1024
	}
	return &EmbedderService{client: client, regularDims: regularDims, qnaDims: qnaDims}
}

// EmbedChunks embeds chunks in place (setting Embedding on each) at the
// dimensionality appropriate for their Collection, batching as needed.
func (s *EmbedderService) EmbedChunks(ctx context.Context, chunks []model.Chunk, collection model.Collection) ([]model.Chunk, error) {
	if len(chunks) == 0 {
		return chunks, nil
	}

	dims := s.regularDims
	if collection == model.CollectionQnA {
		dims = s.qnaDims
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := s.embed(ctx, texts, dims)
	if err != nil {
		return nil, fmt.Errorf("service.EmbedChunks(%s): %w", collection, err)
	}

	out := make([]model.Chunk, len(chunks))
	for i, c := range chunks {
		c.Embedding = vectors[i]
		c.Collection = collection
		out[i] = c
	}
	return out, nil
}

// EmbedQuery embeds a single query string at the dimensionality of the given
// collection, for a hybrid-search leg against that collection.
func (s *EmbedderService) EmbedQuery(ctx context.Context, query string, collection model.Collection) ([]float32, error) {
	dims := s.regularDims
	if collection == model.CollectionQnA {
		dims = s.qnaDims
	}
	vectors, err := s.embed(ctx, []string{query}, dims)
	if err != nil {
		return nil, fmt.Errorf("service.EmbedQuery(%s): %w", collection, err)
	}
	return vectors[0], nil
}

// embed batches texts through the client and L2-normalizes each result,
// validating the returned dimensionality matches what was requested.
func (s *EmbedderService) embed(ctx context.Context, texts []string, dims int) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("service.embed: no texts provided")
	}

	allVectors := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += maxBatchSize {
		end := i + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[i:end]

		vectors, err := s.client.EmbedTexts(ctx, batch, dims)
		if err != nil {
			return nil, fmt.Errorf("service.embed: batch %d-%d: %w", i, end, err)
		}

		for j, vec := range vectors {
			if len(vec) != dims {
				return nil, fmt.Errorf("service.embed: vector %d has %d dimensions, want %d", i+j, len(vec), dims)
			}
			vectors[j] = l2Normalize(vec)
		}

		allVectors = append(allVectors, vectors...)
	}

	if len(allVectors) != len(texts) {
		return nil, fmt.Errorf("service.embed: got %d vectors for %d texts", len(allVectors), len(texts))
	}

	return allVectors, nil
}

// l2Normalize normalizes a vector to unit length (L2 norm = 1).
func l2Normalize(vec []float32) []float32 {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return vec
	}

	result := make([]float32, len(vec))
	for i, v := range vec {
		result[i] = float32(float64(v) / norm)
	}
	return result
}
