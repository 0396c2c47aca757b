package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/connexus-ai/ragbox-backend/internal/handler"
	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// mockDB implements handler.DBPinger for testing.
type mockDB struct {
	err error
}

func (m *mockDB) Ping(ctx context.Context) error {
	return m.err
}

// stubQueryRunner implements handler.QueryRunner for testing.
type stubQueryRunner struct {
	resp *service.QueryResponse
	err  error
}

func (s *stubQueryRunner) Run(ctx context.Context, rawQuery string, history []string, previousQuestion string) (*service.QueryResponse, error) {
	return s.resp, s.err
}

// stubJobQueue implements handler.JobEnqueuer and handler.JobStatusGetter.
type stubJobQueue struct {
	jobID string
	jobs  map[string]*model.Job
}

func (s *stubJobQueue) Add(payload model.IngestPayload) string { return s.jobID }
func (s *stubJobQueue) GetStatus(id string) *model.Job         { return s.jobs[id] }

// stubUploader implements handler.ObjectUploader for testing.
type stubUploader struct{ err error }

func (s *stubUploader) Upload(ctx context.Context, bucket, object string, data []byte, contentType string) error {
	return s.err
}

// stubDocRepo implements service.DocumentRepository for testing.
type stubDocRepo struct{}

func (s *stubDocRepo) Create(ctx context.Context, doc *model.Document) error { return nil }
func (s *stubDocRepo) GetByID(ctx context.Context, id string) (*model.Document, error) {
	return nil, nil
}
func (s *stubDocRepo) GetBySourceName(ctx context.Context, sourceName string) (*model.Document, error) {
	return nil, nil
}
func (s *stubDocRepo) List(ctx context.Context, opts service.ListOpts) ([]model.Document, int, error) {
	return nil, 0, nil
}
func (s *stubDocRepo) UpdateStatus(ctx context.Context, id string, status model.IndexStatus) error {
	return nil
}
func (s *stubDocRepo) UpdateChunkCount(ctx context.Context, id string, count int) error { return nil }
func (s *stubDocRepo) Delete(ctx context.Context, id string) error                     { return nil }

func newTestRouter() (*Dependencies, http.Handler) {
	deps := &Dependencies{
		DB:          &mockDB{},
		FrontendURL: "http://localhost:3000",
		Version:     "0.2.0",
		Query: handler.QueryDeps{
			Pipeline: &stubQueryRunner{resp: &service.QueryResponse{Answer: "hola", Sources: []string{"doc.pdf"}}},
		},
		Upload: handler.UploadDeps{
			DocRepo:    &stubDocRepo{},
			Uploader:   &stubUploader{},
			Queue:      &stubJobQueue{jobID: "job-1"},
			BucketName: "test-bucket",
		},
		Jobs: &stubJobQueue{jobs: map[string]*model.Job{
			"job-1": {ID: "job-1", Status: model.JobProcessing},
		}},
	}
	return deps, New(deps)
}

func TestHealth_IsPublic(t *testing.T) {
	_, r := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "ok" {
		t.Errorf("status = %q, want %q", body["status"], "ok")
	}
	if body["version"] != "0.2.0" {
		t.Errorf("version = %q, want %q", body["version"], "0.2.0")
	}
}

func TestHealth_DBDown(t *testing.T) {
	deps, _ := newTestRouter()
	deps.DB = &mockDB{err: context.DeadlineExceeded}
	r := New(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestQuery_ReturnsAnswer(t *testing.T) {
	_, r := newTestRouter()

	body := strings.NewReader(`{"query":"cuales son los requisitos"}`)
	req := httptest.NewRequest(http.MethodPost, "/query", body)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["success"] != true {
		t.Errorf("success = %v, want true", resp["success"])
	}
	if resp["answer"] != "hola" {
		t.Errorf("answer = %v, want hola", resp["answer"])
	}
}

func TestQuery_EmptyBodyReturns400(t *testing.T) {
	_, r := newTestRouter()

	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"query":""}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestJobStatus_Found(t *testing.T) {
	_, r := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/job/job-1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var job model.Job
	json.Unmarshal(rec.Body.Bytes(), &job)
	if job.ID != "job-1" {
		t.Errorf("job.ID = %q, want job-1", job.ID)
	}
}

func TestJobStatus_NotFound(t *testing.T) {
	_, r := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/job/missing", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestUnknownRoute_Returns404(t *testing.T) {
	_, r := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/nonexistent", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["success"] != false {
		t.Error("expected success=false for 404")
	}
}
