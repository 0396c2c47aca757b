package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

func newTestJobQueue(t *testing.T) (*JobQueue, *pipelineMockRepo) {
	t.Helper()
	svc, repo, _, _ := newTestPipeline()
	q := NewJobQueue(svc, 8)
	return q, repo
}

func TestJobQueue_AddAndComplete(t *testing.T) {
	q, _ := newTestJobQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Shutdown()

	id := q.Add(testPayload())
	if id == "" {
		t.Fatal("expected non-empty job id")
	}

	deadline := time.Now().Add(2 * time.Second)
	var job *model.Job
	for time.Now().Before(deadline) {
		job = q.GetStatus(id)
		if job != nil && job.Status != model.JobPending && job.Status != model.JobProcessing {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if job == nil {
		t.Fatal("expected job status to be observable")
	}
	if job.Status != model.JobCompleted {
		t.Errorf("status = %q, want %q", job.Status, model.JobCompleted)
	}
	if job.Stage != model.StageDone {
		t.Errorf("stage = %q, want %q", job.Stage, model.StageDone)
	}
	if job.Progress != 100 {
		t.Errorf("progress = %d, want 100", job.Progress)
	}
	if job.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
}

func TestJobQueue_GetStatus_UnknownID(t *testing.T) {
	q, _ := newTestJobQueue(t)
	if job := q.GetStatus("does-not-exist"); job != nil {
		t.Errorf("expected nil for unknown job id, got %+v", job)
	}
}

func TestJobQueue_FailedJobRecordsError(t *testing.T) {
	svc, _, _, _ := newTestPipeline()
	svc.parser = &pipelineMockParser{err: fmt.Errorf("document AI timeout")}
	q := NewJobQueue(svc, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Shutdown()

	id := q.Add(testPayload())

	deadline := time.Now().Add(2 * time.Second)
	var job *model.Job
	for time.Now().Before(deadline) {
		job = q.GetStatus(id)
		if job != nil && job.Status == model.JobFailed {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if job == nil || job.Status != model.JobFailed {
		t.Fatalf("expected job to fail, got %+v", job)
	}
	if job.Error == nil || *job.Error == "" {
		t.Error("expected job.Error to be populated")
	}
}

func TestJobQueue_Size(t *testing.T) {
	svc, _, _, _ := newTestPipeline()
	q := NewJobQueue(svc, 8)

	// Don't start the worker — jobs stay buffered so Size is observable.
	q.Add(testPayload())
	q.Add(testPayload())

	if got := q.Size(); got != 2 {
		t.Errorf("Size() = %d, want 2", got)
	}

	q.Shutdown()
}

func TestJobQueue_ShutdownDrainsQueue(t *testing.T) {
	svc, _, _, _ := newTestPipeline()
	q := NewJobQueue(svc, 8)

	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)

	id := q.Add(testPayload())
	cancel()
	q.Shutdown()

	job := q.GetStatus(id)
	if job == nil {
		t.Fatal("expected job to have a recorded status after drain")
	}
	if job.Status != model.JobCompleted && job.Status != model.JobFailed {
		t.Errorf("expected job to reach a terminal status after shutdown drain, got %q", job.Status)
	}
}
