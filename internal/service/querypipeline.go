package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// QueryResponse is the terminal result of one query pipeline run, shaped
// directly for the HTTP handler's JSON response.
type QueryResponse struct {
	Query            string
	Answer           string
	Citations        []model.ParsedCitation
	QuestionType     model.QuestionType
	Sources          []string
	ChunksUsed       int
	ChunksTotal      int
	ModelUsed        string
	Provider         string
	WasRefused       bool
	RefusalReason    string
	ProcessingTimeMs int64
}

// refusalReasonFor maps an internal refusal gate to the three-value public
// enum the API contract exposes.
func refusalReasonFor(gate RefusalGate) string {
	switch gate {
	case RefusalRerankerEmpty:
		return "llm_filter_zero_relevant"
	case RefusalLowConfidence:
		return "no_entailments_after_rerank"
	default: // RefusalNoCandidates, RefusalEmptyContext
		return "no_chunks"
	}
}

// QueryPipelineService runs the full query pipeline: classify → hybrid
// search → candidate-cut/MMR/source-boost → LLM rerank → expand → assemble
// → refusal gates → generate → repair-citations.
type QueryPipelineService struct {
	embedder     *EmbedderService
	retriever    *RetrieverService
	reranker     *RerankerService
	expander     *ExpanderService
	assemblerCfg AssemblerConfig
	generator    *GeneratorService
	audit        AuditLogger
	provider     string
}

// NewQueryPipelineService creates a QueryPipelineService. provider names the
// LLM backend for the response's "provider" field (e.g. "openrouter").
func NewQueryPipelineService(
	embedder *EmbedderService,
	retriever *RetrieverService,
	reranker *RerankerService,
	expander *ExpanderService,
	assemblerCfg AssemblerConfig,
	generator *GeneratorService,
	audit AuditLogger,
	provider string,
) *QueryPipelineService {
	return &QueryPipelineService{
		embedder:     embedder,
		retriever:    retriever,
		reranker:     reranker,
		expander:     expander,
		assemblerCfg: assemblerCfg,
		generator:    generator,
		audit:        audit,
		provider:     provider,
	}
}

// Run executes the pipeline for one user query. history is prior turns in
// the conversation (oldest first); previousQuestion, if set, is echoed into
// the prompt for pronoun/ellipsis resolution across turns.
func (s *QueryPipelineService) Run(ctx context.Context, rawQuery string, history []string, previousQuestion string) (*QueryResponse, error) {
	start := time.Now()

	cr := ClassifyQuery(rawQuery)
	q := cr.Query

	embedding, err := s.embedder.EmbedQuery(ctx, q.EmbedQuery, model.CollectionRegular)
	if err != nil {
		return nil, fmt.Errorf("querypipeline.Run: embed query: %w", err)
	}
	qnaEmbedding, err := s.embedder.EmbedQuery(ctx, q.EmbedQuery, model.CollectionQnA)
	if err != nil {
		return nil, fmt.Errorf("querypipeline.Run: embed qna query: %w", err)
	}

	selected, candidates, err := s.retriever.RetrieveWithCandidates(ctx, q, embedding, qnaEmbedding, cr.TargetChunks)
	if err != nil {
		return nil, fmt.Errorf("querypipeline.Run: retrieve: %w", err)
	}

	if gate, fired := CheckRefusalGates(RefusalCheck{CandidateCount: len(selected)}); fired {
		return s.refusal(rawQuery, gate, start), nil
	}

	topScore := topRetrievalScore(selected)

	rerankResult, err := s.reranker.Rerank(ctx, rawQuery, selected, cr.TargetChunks)
	if err != nil {
		return nil, fmt.Errorf("querypipeline.Run: rerank: %w", err)
	}

	if gate, fired := CheckRefusalGates(RefusalCheck{
		CandidateCount:        len(selected),
		RerankerEvaluated:     true,
		RerankerRelevantCount: len(rerankResult.Selected),
	}); fired {
		return s.refusal(rawQuery, gate, start), nil
	}

	zeroEntailment := rerankResult.EntailmentCount == 0
	// The reranker's selection algorithm always folds in the top-N safety
	// net and list-continuation/high-trust neutrals alongside ENTAILMENTs,
	// so any kept chunk beyond the entailment count counts as safety-net
	// evidence, as does a bypass to retrieval order on reranker failure.
	hasSafetyNet := rerankResult.UsedFallback || len(rerankResult.Selected) > rerankResult.EntailmentCount

	if gate, fired := CheckRefusalGates(RefusalCheck{
		CandidateCount:        len(selected),
		RerankerEvaluated:     true,
		RerankerRelevantCount: len(rerankResult.Selected),
		ConfidenceEvaluated:   true,
		HasEntailment:         !zeroEntailment,
		HasSafetyNetEvidence:  hasSafetyNet,
		TopRetrievalScore:     topScore,
	}); fired {
		return s.refusal(rawQuery, gate, start), nil
	}

	listMode := anyIsList(rerankResult.Selected)
	strategy := ChooseStrategy(rerankResult.Selected, listMode, zeroEntailment)
	expanded, err := s.expander.Expand(ctx, strategy, rerankResult.Selected)
	if err != nil {
		slog.Warn("querypipeline expansion failed, continuing without it", "error", err)
		expanded = rerankResult.Selected
	}
	merged := LocalNeighborMerge(expanded, candidates)

	bundle := AssembleContext(merged, s.assemblerCfg)

	if gate, fired := CheckRefusalGates(RefusalCheck{
		CandidateCount:        len(selected),
		RerankerEvaluated:     true,
		RerankerRelevantCount: len(rerankResult.Selected),
		ConfidenceEvaluated:   true,
		HasEntailment:         !zeroEntailment,
		HasSafetyNetEvidence:  hasSafetyNet,
		TopRetrievalScore:     topScore,
		ContextEvaluated:      true,
		UsedChunksInContext:   bundle.UsedChunks,
	}); fired {
		return s.refusal(rawQuery, gate, start), nil
	}

	genResult, err := s.generator.Generate(ctx, rawQuery, bundle, history, previousQuestion)
	if err != nil {
		return nil, fmt.Errorf("querypipeline.Run: generate: %w", err)
	}

	validated := ValidateWithRepair(ctx, s.generator, genResult.RawText, rawQuery, bundle, history, previousQuestion)

	if s.audit != nil {
		if err := s.audit.Log(ctx, model.AuditQueryExecuted, "", "", "query"); err != nil {
			slog.Warn("querypipeline audit log failed", "error", err)
		}
	}

	return &QueryResponse{
		Query:            rawQuery,
		Answer:           validated.Answer,
		Citations:        validated.Citations,
		QuestionType:     q.Type,
		Sources:          bundle.Sources,
		ChunksUsed:       bundle.UsedChunks,
		ChunksTotal:      len(merged),
		ModelUsed:        genResult.ModelUsed,
		Provider:         s.provider,
		WasRefused:       false,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

func (s *QueryPipelineService) refusal(rawQuery string, gate RefusalGate, start time.Time) *QueryResponse {
	if s.audit != nil {
		_ = s.audit.Log(context.Background(), model.AuditSilenceTriggered, "", "", "query")
	}
	return &QueryResponse{
		Query:            rawQuery,
		Answer:           BuildRefusalAnswer(gate),
		Sources:          []string{},
		WasRefused:       true,
		RefusalReason:    refusalReasonFor(gate),
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}
}

func topRetrievalScore(hits []model.RetrievalHit) float64 {
	top := 0.0
	for _, h := range hits {
		if h.Score > top {
			top = h.Score
		}
	}
	return top
}

func anyIsList(hits []model.RetrievalHit) bool {
	for _, h := range hits {
		if DetectList(h.Properties.Text).IsList {
			return true
		}
	}
	return false
}
