package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// QueryRunner is the subset of QueryPipelineService the handler needs.
type QueryRunner interface {
	Run(ctx context.Context, rawQuery string, history []string, previousQuestion string) (*service.QueryResponse, error)
}

// QueryResultCache is the subset of cache.QueryCache the handler needs.
type QueryResultCache interface {
	Get(userID, query string, privilegeMode bool) (*service.QueryResponse, bool)
	Set(userID, query string, privilegeMode bool, result *service.QueryResponse)
}

// QueryRequest is the POST /query request body.
type QueryRequest struct {
	MessageID    string   `json:"message_id"`
	Query        string   `json:"query"`
	SystemPrompt string   `json:"systemPrompt,omitempty"`
	ModelID      string   `json:"modelId,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	Contacts     []string `json:"contacts,omitempty"`
}

// queryResponseBody mirrors the external wire contract exactly: a flat
// success/refusal/error envelope, not the generic {success,data,error} shape
// used elsewhere, because the contract fixes these field names verbatim.
type queryResponseBody struct {
	Success          bool     `json:"success"`
	Query            string   `json:"query,omitempty"`
	Answer           string   `json:"answer"`
	ModelID          string   `json:"modelId,omitempty"`
	Provider         string   `json:"provider,omitempty"`
	ChunksUsed       int      `json:"chunksUsed,omitempty"`
	ChunksTotal      int      `json:"chunksTotal,omitempty"`
	Sources          []string `json:"sources"`
	WasRefused       bool     `json:"wasRefused"`
	RefusalReason    string   `json:"refusalReason,omitempty"`
	ProcessingTimeMs int64    `json:"processingTimeMs"`
}

type queryErrorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// QueryDeps bundles the dependencies the Query handler needs.
type QueryDeps struct {
	Pipeline QueryRunner
	Cache    QueryResultCache // nil disables caching
	Timeout  time.Duration    // 0 uses a 60s default
}

// Query handles POST /query: classify, retrieve, rerank, expand, assemble,
// generate, and repair-cite an answer to the user's question, or return a
// refusal when the refusal gates fire.
func Query(deps QueryDeps) http.HandlerFunc {
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, queryErrorBody{Success: false, Error: "invalid request body"})
			return
		}
		if !utf8.Valid(body) {
			respondJSON(w, http.StatusBadRequest, queryErrorBody{Success: false, Error: "request body is not valid UTF-8"})
			return
		}

		var req QueryRequest
		if err := json.NewDecoder(bytes.NewReader(body)).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, queryErrorBody{Success: false, Error: "invalid request body"})
			return
		}

		query := strings.TrimSpace(req.Query)
		if query == "" {
			respondJSON(w, http.StatusBadRequest, queryErrorBody{Success: false, Error: "query is required"})
			return
		}

		var previousQuestion string
		if n := len(req.Contacts); n > 0 {
			previousQuestion = req.Contacts[n-1]
		}

		if deps.Cache != nil {
			if cached, ok := deps.Cache.Get("", query, false); ok {
				respondJSON(w, http.StatusOK, toQueryResponseBody(query, cached))
				return
			}
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		resp, err := deps.Pipeline.Run(ctx, query, req.Contacts, previousQuestion)
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, queryErrorBody{Success: false, Error: "query failed", Details: err.Error()})
			return
		}

		if deps.Cache != nil && !resp.WasRefused {
			deps.Cache.Set("", query, false, resp)
		}

		respondJSON(w, http.StatusOK, toQueryResponseBody(query, resp))
	}
}

func toQueryResponseBody(query string, resp *service.QueryResponse) queryResponseBody {
	if resp.WasRefused {
		return queryResponseBody{
			Success:          true,
			WasRefused:       true,
			RefusalReason:    resp.RefusalReason,
			Answer:           resp.Answer,
			Sources:          []string{},
			ProcessingTimeMs: resp.ProcessingTimeMs,
		}
	}
	return queryResponseBody{
		Success:          true,
		Query:            query,
		Answer:           resp.Answer,
		ModelID:          resp.ModelUsed,
		Provider:         resp.Provider,
		ChunksUsed:       resp.ChunksUsed,
		ChunksTotal:      resp.ChunksTotal,
		Sources:          resp.Sources,
		WasRefused:       false,
		ProcessingTimeMs: resp.ProcessingTimeMs,
	}
}
