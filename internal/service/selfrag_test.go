package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

type fakeRerankClient struct {
	response string
	err      error
}

func (f *fakeRerankClient) GenerateContentAt(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func makeHit(text, source string, idx int, score float64) model.RetrievalHit {
	return model.RetrievalHit{
		Properties: model.Chunk{Text: text, SourceName: source, ChunkIndex: idx},
		Score:      score,
		FinalScore: score,
	}
}

func TestRerank_EmptyHits(t *testing.T) {
	r := NewRerankerService(&fakeRerankClient{}, "gemini", RerankConfig{})
	res, err := r.Rerank(context.Background(), "query", nil, 5)
	if err != nil {
		t.Fatalf("Rerank() error: %v", err)
	}
	if len(res.Selected) != 0 {
		t.Errorf("expected 0 selected, got %d", len(res.Selected))
	}
}

func TestRerank_EntailmentSelected(t *testing.T) {
	hits := []model.RetrievalHit{
		makeHit("El horario de atención es de 9am a 6pm de lunes a viernes.", "doc1", 0, 0.9),
		makeHit("Contenido irrelevante sobre otro tema completamente distinto.", "doc1", 1, 0.5),
	}
	resp := `[{"id":"c0","label":"ENTAILMENT","relevance":9,"evidence":"El horario de atención es de 9am a 6pm de lunes a viernes"},{"id":"c1","label":"CONTRADICTION","relevance":1,"evidence":"no aplica"}]`
	r := NewRerankerService(&fakeRerankClient{response: resp}, "gemini", RerankConfig{MinEntailmentRelevance: 6, MinCoverageForRerank: 0.5, TopNSafetyNet: 1})

	res, err := r.Rerank(context.Background(), "¿Cuál es el horario de atención?", hits, 5)
	if err != nil {
		t.Fatalf("Rerank() error: %v", err)
	}
	if res.UsedFallback {
		t.Error("should not have used fallback")
	}
	if len(res.Selected) == 0 {
		t.Fatal("expected at least one selected chunk")
	}
	if res.Selected[0].Properties.ChunkIndex != 0 {
		t.Errorf("expected chunk 0 (entailment) to be selected first, got %d", res.Selected[0].Properties.ChunkIndex)
	}
}

func TestRerank_LowCoverageFallsBack(t *testing.T) {
	hits := make([]model.RetrievalHit, 12)
	for i := range hits {
		hits[i] = makeHit(fmt.Sprintf("chunk text %d", i), "doc1", i, float64(12-i)/12)
	}
	resp := `[{"id":"c0","label":"NEUTRAL","relevance":3,"evidence":"x"}]`
	r := NewRerankerService(&fakeRerankClient{response: resp}, "gemini", RerankConfig{MinCoverageForRerank: 0.5, TopNSafetyNet: 2})

	res, err := r.Rerank(context.Background(), "query", hits, 5)
	if err != nil {
		t.Fatalf("Rerank() error: %v", err)
	}
	if !res.UsedFallback {
		t.Error("expected fallback due to low coverage")
	}
	if len(res.Selected) != 5 {
		t.Errorf("expected 5 selected (target), got %d", len(res.Selected))
	}
	if res.Selected[0].Properties.ChunkIndex != 0 {
		t.Errorf("expected highest-score chunk first, got index %d", res.Selected[0].Properties.ChunkIndex)
	}
}

func TestRerank_ClientErrorFallsBack(t *testing.T) {
	hits := []model.RetrievalHit{makeHit("text", "doc1", 0, 0.9)}
	r := NewRerankerService(&fakeRerankClient{err: fmt.Errorf("timeout")}, "gemini", RerankConfig{TopNSafetyNet: 1})

	res, err := r.Rerank(context.Background(), "query", hits, 5)
	if err != nil {
		t.Fatalf("Rerank() should not propagate client error: %v", err)
	}
	if !res.UsedFallback {
		t.Error("expected fallback on client error")
	}
}

func TestValidate_DowngradesNonSubstringEvidence(t *testing.T) {
	r := NewRerankerService(&fakeRerankClient{}, "gemini", RerankConfig{MinEntailmentRelevance: 6})
	d := RerankDecision{Label: LabelEntailment, Relevance: 9, Evidence: "una cita inventada que no existe"}
	got := r.validate(d, "Este es el contenido real del fragmento sin esa cita.", "query")
	if got.Label != LabelNeutral {
		t.Errorf("expected downgrade to NEUTRAL, got %s", got.Label)
	}
}

func TestValidate_KeepsValidEntailment(t *testing.T) {
	r := NewRerankerService(&fakeRerankClient{}, "gemini", RerankConfig{MinEntailmentRelevance: 6})
	chunk := "El horario de atención es de 9am a 6pm de lunes a viernes."
	d := RerankDecision{Label: LabelEntailment, Relevance: 9, Evidence: "el horario de atencion es de 9am a 6pm de lunes a viernes"}
	got := r.validate(d, chunk, "¿cuál es el horario?")
	if got.Label != LabelEntailment {
		t.Errorf("expected ENTAILMENT to survive validation, got %s", got.Label)
	}
}

func TestValidate_DowngradesLowRelevance(t *testing.T) {
	r := NewRerankerService(&fakeRerankClient{}, "gemini", RerankConfig{MinEntailmentRelevance: 6})
	chunk := "El horario de atención es de 9am a 6pm."
	d := RerankDecision{Label: LabelEntailment, Relevance: 2, Evidence: "el horario de atencion es de 9am a 6pm"}
	got := r.validate(d, chunk, "query")
	if got.Label != LabelNeutral {
		t.Errorf("expected downgrade on low relevance, got %s", got.Label)
	}
}

func TestDedupeDecisions_KeepsBest(t *testing.T) {
	byID := map[string]model.RetrievalHit{"c0": makeHit("text", "doc1", 0, 0.9)}
	decisions := []RerankDecision{
		{ID: "c0", Label: LabelNeutral, Relevance: 5},
		{ID: "c0", Label: LabelEntailment, Relevance: 8},
		{ID: "unknown", Label: LabelEntailment, Relevance: 10},
	}
	out := dedupeDecisions(decisions, byID)
	if len(out) != 1 {
		t.Fatalf("expected 1 decision (unknown id discarded), got %d", len(out))
	}
	if out["c0"].Label != LabelEntailment {
		t.Errorf("expected ENTAILMENT to win over NEUTRAL, got %s", out["c0"].Label)
	}
}

func TestParseRerankDecisions_TolersSurroundingProse(t *testing.T) {
	raw := "Here is the result:\n[{\"id\":\"c0\",\"label\":\"ENTAILMENT\",\"relevance\":8,\"evidence\":\"x\"}]\nThanks."
	decisions := parseRerankDecisions(raw)
	if len(decisions) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(decisions))
	}
}

func TestExcerptAroundQuery_ShortTextUnchanged(t *testing.T) {
	text := "short text"
	got := excerptAroundQuery(text, "query", 1000)
	if got != text {
		t.Errorf("expected text unchanged when under budget")
	}
}

func TestExcerptAroundQuery_TruncatesLongText(t *testing.T) {
	text := ""
	for i := 0; i < 500; i++ {
		text += "palabra de relleno "
	}
	text += "horario de atencion especial"
	got := excerptAroundQuery(text, "horario", 200)
	if len(got) > 200 {
		t.Errorf("excerpt exceeds budget: %d chars", len(got))
	}
}
