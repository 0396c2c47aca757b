package model

import "time"

// JobStatus is the terminal or in-flight status of an ingestion job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// JobStage marks which step of the ingestion pipeline a job is in.
type JobStage string

const (
	StageExtracting JobStage = "extracting"
	StageChunking   JobStage = "chunking"
	StageEmbedding  JobStage = "embedding"
	StageSaving     JobStage = "saving"
	StageDone       JobStage = "done"
)

// IngestPayload is the work item enqueued for a single document.
type IngestPayload struct {
	SourceName string
	Namespace  string
	MimeType   string
	Data       []byte
	UseOCR     bool
}

// Job tracks the progress of one ingestion payload through the pipeline.
// Jobs live in memory for the process's lifetime; they are never evicted or
// persisted.
type Job struct {
	ID            string     `json:"id"`
	Status        JobStatus  `json:"status"`
	Stage         JobStage   `json:"stage"`
	Progress      int        `json:"progress"` // 0..100
	OCRPage       *int       `json:"ocrPage,omitempty"`
	OCRTotalPages *int       `json:"ocrTotalPages,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	Error         *string    `json:"error,omitempty"`
}
