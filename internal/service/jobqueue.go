package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// queuedJob pairs a job ID with the payload the worker will run it against.
type queuedJob struct {
	id      string
	payload model.IngestPayload
}

// JobQueue is an in-memory, single-worker FIFO ingestion queue: Add enqueues
// a payload and returns its job ID immediately; a single background worker
// drains the queue strictly serially (ingestion is one document at a time),
// while GetStatus lets API handlers poll the in-flight job's stage and
// progress. Jobs are never persisted or evicted — they stay in memory for
// the process's lifetime.
type JobQueue struct {
	pipeline *PipelineService

	mu   sync.Mutex
	jobs map[string]*model.Job

	work chan queuedJob
	done chan struct{}
	wg   sync.WaitGroup
}

// NewJobQueue creates a JobQueue bound to the given pipeline. bufferSize caps
// how many payloads can be enqueued ahead of the worker before Add blocks.
func NewJobQueue(pipeline *PipelineService, bufferSize int) *JobQueue {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &JobQueue{
		pipeline: pipeline,
		jobs:     make(map[string]*model.Job),
		work:     make(chan queuedJob, bufferSize),
		done:     make(chan struct{}),
	}
}

// Start launches the single worker goroutine. It runs until ctx is
// cancelled, at which point it stops accepting new work and drains whatever
// is already queued before returning — mirroring the HTTP server's own
// graceful shutdown in cmd/server/main.go.
func (q *JobQueue) Start(ctx context.Context) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer close(q.done)
		for {
			select {
			case job, ok := <-q.work:
				if !ok {
					return
				}
				q.run(ctx, job)
			case <-ctx.Done():
				q.drain(ctx)
				return
			}
		}
	}()
}

// drain processes whatever is already buffered in the channel before the
// worker exits, so a shutdown signal never silently discards queued work.
func (q *JobQueue) drain(ctx context.Context) {
	for {
		select {
		case job, ok := <-q.work:
			if !ok {
				return
			}
			q.run(context.Background(), job)
		default:
			return
		}
	}
}

// Shutdown stops accepting new work and blocks until the worker has drained
// the queue and exited.
func (q *JobQueue) Shutdown() {
	close(q.work)
	q.wg.Wait()
}

// Add enqueues an ingestion payload and returns its job ID. The job is
// recorded as pending immediately so GetStatus can observe it even before
// the worker picks it up.
func (q *JobQueue) Add(payload model.IngestPayload) string {
	id := uuid.New().String()

	q.mu.Lock()
	q.jobs[id] = &model.Job{
		ID:        id,
		Status:    model.JobPending,
		Stage:     model.StageExtracting,
		Progress:  0,
		CreatedAt: time.Now().UTC(),
	}
	q.mu.Unlock()

	q.work <- queuedJob{id: id, payload: payload}
	return id
}

// GetStatus returns the current snapshot of a job, or nil if no job with
// that ID has ever been enqueued.
func (q *JobQueue) GetStatus(id string) *model.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil
	}
	snapshot := *job
	return &snapshot
}

// Size reports how many payloads are currently buffered ahead of the worker
// (not counting the one, if any, actively being processed).
func (q *JobQueue) Size() int {
	return len(q.work)
}

// run executes one job through the pipeline, updating its status record as
// the pipeline reports progress.
func (q *JobQueue) run(ctx context.Context, j queuedJob) {
	q.setStatus(j.id, model.JobProcessing, model.StageExtracting, 0, nil, nil)

	slog.Info("job started", "job_id", j.id, "source_name", j.payload.SourceName)

	_, err := q.pipeline.ProcessPayload(ctx, j.payload, func(stage model.JobStage, progress int, ocrPage, ocrTotal *int) {
		q.setStatus(j.id, model.JobProcessing, stage, progress, ocrPage, ocrTotal)
	})

	q.mu.Lock()
	job := q.jobs[j.id]
	now := time.Now().UTC()
	job.CompletedAt = &now
	if err != nil {
		job.Status = model.JobFailed
		msg := err.Error()
		job.Error = &msg
		slog.Error("job failed", "job_id", j.id, "source_name", j.payload.SourceName, "error", err)
	} else {
		job.Status = model.JobCompleted
		job.Stage = model.StageDone
		job.Progress = 100
		slog.Info("job completed", "job_id", j.id, "source_name", j.payload.SourceName)
	}
	q.mu.Unlock()
}

func (q *JobQueue) setStatus(id string, status model.JobStatus, stage model.JobStage, progress int, ocrPage, ocrTotal *int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return
	}
	job.Status = status
	job.Stage = stage
	job.Progress = progress
	job.OCRPage = ocrPage
	job.OCRTotalPages = ocrTotal
}

// ErrJobNotFound names the "no such job" condition. Nothing in this module
// returns it: JobQueue.GetStatus reports an unknown ID by returning nil.
var ErrJobNotFound = fmt.Errorf("job not found")
