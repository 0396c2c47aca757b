package handler

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// maxUploadMemory bounds how much of a multipart request ParseMultipartForm
// buffers in memory before spilling remaining file parts to temp files.
const maxUploadMemory = 32 << 20 // 32MB

// ObjectUploader abstracts writing raw bytes to object storage.
type ObjectUploader interface {
	Upload(ctx context.Context, bucket, object string, data []byte, contentType string) error
}

// JobEnqueuer is the subset of JobQueue the upload handler needs.
type JobEnqueuer interface {
	Add(payload model.IngestPayload) string
}

// UploadDeps bundles the dependencies the Upload handler needs.
type UploadDeps struct {
	DocRepo    service.DocumentRepository
	Uploader   ObjectUploader
	Queue      JobEnqueuer
	BucketName string
}

// processedFile describes the outcome of queuing one uploaded file.
type processedFile struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Type     string `json:"type"`
	JobID    string `json:"jobId,omitempty"`
	Queued   bool   `json:"queued"`
	Message  string `json:"message,omitempty"`
}

// Upload handles POST /upload (multipart): files[], optional namespace and
// useOcr. Each file is written to object storage and enqueued onto the job
// queue independently — one file's failure doesn't block the others.
func Upload(deps UploadDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid multipart form"})
			return
		}

		namespace := r.FormValue("namespace")
		if namespace == "" {
			namespace = "default"
		}
		useOCR, _ := strconv.ParseBool(r.FormValue("useOcr"))

		files := r.MultipartForm.File["files"]
		if len(files) == 0 {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "no files provided"})
			return
		}

		results := make([]processedFile, 0, len(files))
		for _, fh := range files {
			results = append(results, deps.processOne(r.Context(), namespace, useOCR, fh))
		}

		respondJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]interface{}{"processedFiles": results}})
	}
}

func (deps UploadDeps) processOne(ctx context.Context, namespace string, useOCR bool, fh *multipart.FileHeader) processedFile {
	contentType := fh.Header.Get("Content-Type")
	result := processedFile{Filename: fh.Filename, Size: fh.Size, Type: contentType}

	if !model.AllowedMimeTypes[contentType] {
		result.Message = fmt.Sprintf("unsupported content type %q", contentType)
		return result
	}
	if fh.Size > model.MaxFileSizeBytes {
		result.Message = "file exceeds maximum allowed size"
		return result
	}

	f, err := fh.Open()
	if err != nil {
		result.Message = "could not read uploaded file"
		return result
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		result.Message = "could not read uploaded file"
		return result
	}

	docID := uuid.New().String()
	sourceName := docID + filepath.Ext(fh.Filename)
	objectName := fmt.Sprintf("uploads/%s/%s", namespace, sourceName)

	if err := deps.Uploader.Upload(ctx, deps.BucketName, objectName, data, contentType); err != nil {
		result.Message = "failed to store file"
		return result
	}

	storageURI := fmt.Sprintf("gs://%s/%s", deps.BucketName, objectName)
	now := time.Now().UTC()
	doc := &model.Document{
		ID:           docID,
		SourceName:   sourceName,
		Namespace:    namespace,
		OriginalName: fh.Filename,
		MimeType:     contentType,
		SizeBytes:    int(fh.Size),
		StorageURI:   &storageURI,
		IndexStatus:  model.IndexPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := deps.DocRepo.Create(ctx, doc); err != nil {
		result.Message = "failed to register document"
		return result
	}

	jobID := deps.Queue.Add(model.IngestPayload{
		SourceName: sourceName,
		Namespace:  namespace,
		MimeType:   contentType,
		UseOCR:     useOCR,
	})

	result.JobID = jobID
	result.Queued = true
	result.Message = "queued for processing"
	return result
}
