package model

import "time"

// IndexStatus tracks a document's progress through the ingestion pipeline.
type IndexStatus string

const (
	IndexPending    IndexStatus = "Pending"
	IndexProcessing IndexStatus = "Processing"
	IndexIndexed    IndexStatus = "Indexed"
	IndexFailed     IndexStatus = "Failed"
)

// Document is the registry record for an uploaded source file. Chunks
// derived from it live in the vector store, keyed by SourceName.
type Document struct {
	ID           string      `json:"id"`
	SourceName   string      `json:"sourceName"`
	Namespace    string      `json:"sourceNamespace"`
	OriginalName string      `json:"originalName"`
	MimeType     string      `json:"mimeType"`
	SizeBytes    int         `json:"sizeBytes"`
	StorageURI   *string     `json:"storageUri,omitempty"`
	IndexStatus  IndexStatus `json:"indexStatus"`
	ChunkCount   int         `json:"chunkCount"`
	Checksum     *string     `json:"checksum,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// AllowedMimeTypes lists the mime types accepted for upload.
var AllowedMimeTypes = map[string]bool{
	"application/pdf": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"text/plain":       true,
	"text/markdown":    true,
	"application/json": true,
	"image/png":        true,
	"image/jpeg":       true,
}

// MaxFileSizeBytes is the maximum allowed upload size (50 MB).
const MaxFileSizeBytes = 50 * 1024 * 1024
