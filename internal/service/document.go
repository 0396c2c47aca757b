package service

import (
	"context"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// DocumentRepository defines the persistence operations for the document
// registry. Chunk storage itself lives in HybridSearchStore.
type DocumentRepository interface {
	Create(ctx context.Context, doc *model.Document) error
	GetByID(ctx context.Context, id string) (*model.Document, error)
	GetBySourceName(ctx context.Context, sourceName string) (*model.Document, error)
	List(ctx context.Context, opts ListOpts) ([]model.Document, int, error)
	UpdateStatus(ctx context.Context, id string, status model.IndexStatus) error
	UpdateChunkCount(ctx context.Context, id string, count int) error
	Delete(ctx context.Context, id string) error
}

// ListOpts holds pagination options for document listing.
type ListOpts struct {
	Limit  int
	Offset int
}
