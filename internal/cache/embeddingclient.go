package cache

import (
	"context"
	"fmt"

	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// CachingEmbeddingClient wraps a service.EmbeddingClient with an
// EmbeddingCache, short-circuiting single-text calls on a cache hit. Batch
// calls (chunk embedding during ingestion) always pass through uncached,
// since ingestion text is rarely repeated and batching defeats a per-text
// cache anyway.
type CachingEmbeddingClient struct {
	client service.EmbeddingClient
	cache  *EmbeddingCache
}

// NewCachingEmbeddingClient wraps client with cache.
func NewCachingEmbeddingClient(client service.EmbeddingClient, cache *EmbeddingCache) *CachingEmbeddingClient {
	return &CachingEmbeddingClient{client: client, cache: cache}
}

// EmbedTexts implements service.EmbeddingClient.
func (c *CachingEmbeddingClient) EmbedTexts(ctx context.Context, texts []string, dimensions int) ([][]float32, error) {
	if len(texts) != 1 {
		return c.client.EmbedTexts(ctx, texts, dimensions)
	}

	key := fmt.Sprintf("%s:%d", EmbeddingQueryHash(texts[0]), dimensions)
	if vec, ok := c.cache.Get(key); ok {
		return [][]float32{vec}, nil
	}

	vectors, err := c.client.EmbedTexts(ctx, texts, dimensions)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 1 {
		c.cache.Set(key, vectors[0])
	}
	return vectors, nil
}
