package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/connexus-ai/ragbox-backend/internal/service"
)

type stubQueryRunner struct {
	resp *service.QueryResponse
	err  error
}

func (s *stubQueryRunner) Run(ctx context.Context, rawQuery string, history []string, previousQuestion string) (*service.QueryResponse, error) {
	return s.resp, s.err
}

type stubQueryCache struct {
	cached *service.QueryResponse
	hit    bool
	setArg *service.QueryResponse
}

func (s *stubQueryCache) Get(userID, query string, privilegeMode bool) (*service.QueryResponse, bool) {
	return s.cached, s.hit
}

func (s *stubQueryCache) Set(userID, query string, privilegeMode bool, result *service.QueryResponse) {
	s.setArg = result
}

func TestQuery_SuccessReturnsAnswer(t *testing.T) {
	runner := &stubQueryRunner{resp: &service.QueryResponse{
		Answer:     "El contrato expira en marzo de 2025.",
		Sources:    []string{"contrato.pdf"},
		ChunksUsed: 1,
		ChunksTotal: 2,
		ModelUsed:  "gemini-2.5-flash",
		Provider:   "openrouter",
	}}
	h := Query(QueryDeps{Pipeline: runner})

	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"query":"cuando expira el contrato"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	var body queryResponseBody
	json.Unmarshal(rec.Body.Bytes(), &body)
	if !body.Success || body.WasRefused {
		t.Errorf("success/wasRefused = %v/%v, want true/false", body.Success, body.WasRefused)
	}
	if body.Answer != "El contrato expira en marzo de 2025." {
		t.Errorf("answer = %q", body.Answer)
	}
	if len(body.Sources) != 1 || body.Sources[0] != "contrato.pdf" {
		t.Errorf("sources = %v", body.Sources)
	}
}

func TestQuery_RefusalOmitsQueryAndModel(t *testing.T) {
	runner := &stubQueryRunner{resp: &service.QueryResponse{
		WasRefused:    true,
		RefusalReason: "no_chunks",
		Answer:        "No tengo informacion suficiente para responder eso.",
	}}
	h := Query(QueryDeps{Pipeline: runner})

	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"query":"algo irrelevante"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body queryResponseBody
	json.Unmarshal(rec.Body.Bytes(), &body)
	if !body.WasRefused {
		t.Fatal("expected wasRefused=true")
	}
	if body.RefusalReason != "no_chunks" {
		t.Errorf("refusalReason = %q, want no_chunks", body.RefusalReason)
	}
	if body.Query != "" || body.ModelID != "" {
		t.Errorf("expected query/modelId omitted on refusal, got %q/%q", body.Query, body.ModelID)
	}
}

func TestQuery_EmptyQueryReturns400(t *testing.T) {
	h := Query(QueryDeps{Pipeline: &stubQueryRunner{}})

	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"query":"   "}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestQuery_InvalidJSONReturns400(t *testing.T) {
	h := Query(QueryDeps{Pipeline: &stubQueryRunner{}})

	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`not json`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestQuery_PipelineErrorReturns500(t *testing.T) {
	h := Query(QueryDeps{Pipeline: &stubQueryRunner{err: fmt.Errorf("retrieval store down")}})

	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"query":"cuales son los requisitos"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}

	var body queryErrorBody
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Success {
		t.Error("expected success=false on pipeline error")
	}
}

func TestQuery_CacheHitSkipsPipeline(t *testing.T) {
	runner := &stubQueryRunner{err: fmt.Errorf("pipeline should not run on cache hit")}
	cache := &stubQueryCache{hit: true, cached: &service.QueryResponse{Answer: "cached answer", Sources: []string{"a.pdf"}}}
	h := Query(QueryDeps{Pipeline: runner, Cache: cache})

	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"query":"cuales son los requisitos"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	var body queryResponseBody
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Answer != "cached answer" {
		t.Errorf("answer = %q, want cached answer", body.Answer)
	}
}

func TestQuery_LastContactBecomesPreviousQuestion(t *testing.T) {
	var capturedPrev string
	runner := &capturingRunner{capture: &capturedPrev}
	h := Query(QueryDeps{Pipeline: runner})

	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(
		`{"query":"y el siguiente plazo","contacts":["primera pregunta","segunda pregunta"]}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if capturedPrev != "segunda pregunta" {
		t.Errorf("previousQuestion = %q, want %q", capturedPrev, "segunda pregunta")
	}
}

type capturingRunner struct {
	capture *string
}

func (c *capturingRunner) Run(ctx context.Context, rawQuery string, history []string, previousQuestion string) (*service.QueryResponse, error) {
	*c.capture = previousQuestion
	return &service.QueryResponse{Answer: "ok", Sources: []string{}}, nil
}
