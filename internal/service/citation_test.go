package service

import (
	"context"
	"strings"
	"testing"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

func TestClassifyResponse_Absent(t *testing.T) {
	got := ClassifyResponse("Esta información no se encuentra en los documentos")
	if got != ResponseAbsent {
		t.Errorf("got %q, want ABSENT", got)
	}
}

func TestClassifyResponse_Full(t *testing.T) {
	got := ClassifyResponse("El plazo es de 30 días.\n\nFuente:\n- Página 1 — \"el plazo es de treinta dias\"")
	if got != ResponseFull {
		t.Errorf("got %q, want FULL", got)
	}
}

func TestClassifyResponse_Partial(t *testing.T) {
	got := ClassifyResponse("El plazo es de 30 días.")
	if got != ResponsePartial {
		t.Errorf("got %q, want PARTIAL", got)
	}
}

func TestEnforceOneBulletPerPage_DropsDuplicatePage(t *testing.T) {
	answer := "Respuesta.\n\nFuente:\n" +
		"- Página 1 — \"primera cita de la pagina uno\"\n" +
		"- Página 1 — \"segunda cita duplicada de pagina\"\n" +
		"- Página 2 — \"cita distinta de la pagina dos\""
	got := enforceOneBulletPerPage(answer)

	if strings.Count(got, "Página 1") != 1 {
		t.Errorf("expected exactly one Página 1 bullet, got:\n%s", got)
	}
	if !strings.Contains(got, "Página 2") {
		t.Error("expected Página 2 bullet preserved")
	}
}

func TestParseCitations_ExtractsPageAndQuote(t *testing.T) {
	answer := "Respuesta.\n\nFuente:\n- Página 3 — \"el contrato expira en marzo\""
	cites := ParseCitations(answer)
	if len(cites) != 1 {
		t.Fatalf("got %d citations, want 1", len(cites))
	}
	if cites[0].Key != "Página 3" {
		t.Errorf("Key = %q", cites[0].Key)
	}
	if cites[0].Quote != "el contrato expira en marzo" {
		t.Errorf("Quote = %q", cites[0].Quote)
	}
}

func TestParseCitations_NoFuenteSection(t *testing.T) {
	if got := ParseCitations("sin fuente aquí"); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestValidateCitation_StrictSubstringMatch(t *testing.T) {
	bundle := model.ContextBundle{ContextByKey: map[string]string{
		"Página 1": "El contrato expira en marzo de dos mil veinticinco según la cláusula ocho.",
	}}
	c := model.ParsedCitation{Key: "Página 1", Quote: "El contrato expira en marzo de dos mil veinticinco"}
	got := validateCitation(c, bundle)
	if got.MatchConfidence != 1.0 {
		t.Errorf("confidence = %f, want 1.0 (strict match)", got.MatchConfidence)
	}
	if got.AutoFixed {
		t.Error("strict match should not be marked auto-fixed")
	}
}

func TestValidateCitation_UnknownKeyIsInvalid(t *testing.T) {
	bundle := model.ContextBundle{ContextByKey: map[string]string{}}
	c := model.ParsedCitation{Key: "Página 9", Quote: "cualquier cosa"}
	got := validateCitation(c, bundle)
	if got.MatchConfidence != 0 {
		t.Errorf("confidence = %f, want 0 for unknown key", got.MatchConfidence)
	}
}

func TestValidateCitation_ShortChunkIsInvalid(t *testing.T) {
	bundle := model.ContextBundle{ContextByKey: map[string]string{"Página 1": "muy corto texto"}}
	c := model.ParsedCitation{Key: "Página 1", Quote: "algo"}
	got := validateCitation(c, bundle)
	if got.MatchConfidence != 0 {
		t.Errorf("confidence = %f, want 0 for chunk under 6 words", got.MatchConfidence)
	}
}

func TestValidateCitation_FalseQuoteFallsBackToBestSpan(t *testing.T) {
	bundle := model.ContextBundle{ContextByKey: map[string]string{
		"Página 1": "El plazo de entrega es de treinta días hábiles contados desde la firma del contrato.",
	}}
	c := model.ParsedCitation{Key: "Página 1", Quote: "el plazo nunca especificado en ningún lado del documento legal"}
	got := validateCitation(c, bundle)
	if got.MatchConfidence == 0 {
		t.Error("should always produce a span when chunk has >= 6 words and key exists")
	}
	if !got.AutoFixed {
		t.Error("fallback span should be marked auto-fixed")
	}
	if strings.Contains(got.MatchedSpan, "...") {
		t.Error("matched span must never contain an ellipsis")
	}
}

func TestMatchEllipsisTolerant_PartsInOrder(t *testing.T) {
	haystack := "El plazo de entrega es de treinta días hábiles contados desde la firma."
	if !matchEllipsisTolerant(haystack, "El plazo...treinta días hábiles", Strict) {
		t.Error("expected ellipsis-tolerant match to succeed")
	}
}

func TestMatchEllipsisTolerant_OutOfOrderFails(t *testing.T) {
	haystack := "El plazo de entrega es de treinta días hábiles."
	if matchEllipsisTolerant(haystack, "treinta días...El plazo", Strict) {
		t.Error("out-of-order parts should not match")
	}
}

func TestAutoFixQuoteLength_ExpandsShortQuote(t *testing.T) {
	chunk := "El plazo de entrega es de treinta días hábiles contados desde la firma del contrato definitivo."
	fixed, did := autoFixQuoteLength(chunk, "plazo")
	if !did {
		t.Fatal("expected auto-fix to trigger for a 1-word quote")
	}
	n := len(strings.Fields(fixed))
	if n < 4 || n > 15 {
		t.Errorf("fixed quote word count = %d, want in [4,15]", n)
	}
}

func TestAutoFixQuoteLength_NoOpWhenAlreadyValid(t *testing.T) {
	_, did := autoFixQuoteLength("texto de relleno para la prueba unitaria", "cuatro palabras exactas aqui")
	if did {
		t.Error("should not auto-fix a quote already within [4,15] words")
	}
}

func TestExtractBestSpan_PicksHighestOverlapWindow(t *testing.T) {
	chunk := "El clima en la región es templado todo el año. El plazo de entrega es de treinta días hábiles exactos."
	span := extractBestSpan(chunk, "plazo entrega treinta dias")
	if !strings.Contains(span, "plazo") {
		t.Errorf("expected best span to contain 'plazo', got %q", span)
	}
}

func TestValidateAnswer_AbsentShortCircuits(t *testing.T) {
	result := ValidateAnswer("Esta información no se encuentra en los documentos", model.ContextBundle{})
	if result.Classification != ResponseAbsent {
		t.Errorf("Classification = %q, want ABSENT", result.Classification)
	}
	if result.NeedsRepair {
		t.Error("ABSENT answers never need repair")
	}
}

func TestValidateAnswer_NoCitationsNeedsRepair(t *testing.T) {
	result := ValidateAnswer("Una respuesta sin ninguna cita.", model.ContextBundle{ContextByKey: map[string]string{}})
	if !result.NeedsRepair {
		t.Error("expected NeedsRepair=true when zero citations present")
	}
}

func TestValidateAnswer_ValidCitationDoesNotNeedRepair(t *testing.T) {
	bundle := model.ContextBundle{ContextByKey: map[string]string{
		"Página 1": "El plazo de entrega es de treinta días hábiles contados desde la firma.",
	}}
	answer := "El plazo es de treinta días.\n\nFuente:\n- Página 1 — \"El plazo de entrega es de treinta días\""
	result := ValidateAnswer(answer, bundle)
	if result.NeedsRepair {
		t.Error("a valid citation should not need repair")
	}
	if result.ValidCount != 1 {
		t.Errorf("ValidCount = %d, want 1", result.ValidCount)
	}
}

// fakeRepairer implements CitationRepairer for ValidateWithRepair tests.
type fakeRepairer struct {
	response string
	err      error
}

func (f *fakeRepairer) Repair(ctx context.Context, question string, bundle model.ContextBundle, history []string, previousQuestion string, reasons []string) (*GenerationResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &GenerationResult{RawText: f.response}, nil
}

func TestValidateWithRepair_SkipsWhenNoRepairNeeded(t *testing.T) {
	bundle := model.ContextBundle{ContextByKey: map[string]string{
		"Página 1": "El plazo de entrega es de treinta días hábiles contados desde la firma.",
	}}
	answer := "El plazo es de treinta días.\n\nFuente:\n- Página 1 — \"El plazo de entrega es de treinta días\""
	repairer := &fakeRepairer{response: "no debería usarse"}

	result := ValidateWithRepair(context.Background(), repairer, answer, "pregunta", bundle, nil, "")
	if !strings.Contains(result.Answer, "El plazo es de treinta días") {
		t.Errorf("expected original answer preserved, got %q", result.Answer)
	}
}

func TestValidateWithRepair_SucceedsOnRepairedAnswer(t *testing.T) {
	bundle := model.ContextBundle{ContextByKey: map[string]string{
		"Página 1": "El plazo de entrega es de treinta días hábiles contados desde la firma.",
	}}
	repairer := &fakeRepairer{response: "El plazo es de treinta días.\n\nFuente:\n- Página 1 — \"El plazo de entrega es de treinta días\""}

	result := ValidateWithRepair(context.Background(), repairer, "respuesta sin citas", "pregunta", bundle, nil, "")
	if result.NeedsRepair {
		t.Error("repaired answer with a valid citation should not need further repair")
	}
	if result.Classification == ResponseAbsent {
		t.Error("successful repair should not fall back to absent")
	}
}

func TestValidateWithRepair_FallsBackToAbsentWhenRepairFails(t *testing.T) {
	bundle := model.ContextBundle{ContextByKey: map[string]string{
		"Página 1": "El plazo de entrega es de treinta días hábiles contados desde la firma.",
	}}
	repairer := &fakeRepairer{response: "sigue sin citar nada"}

	result := ValidateWithRepair(context.Background(), repairer, "respuesta sin citas", "pregunta", bundle, nil, "")
	if result.Classification != ResponseAbsent {
		t.Errorf("Classification = %q, want ABSENT after failed repair", result.Classification)
	}
	if result.Answer != absentExplicit {
		t.Errorf("Answer = %q, want the explicit absent phrase", result.Answer)
	}
}

func TestValidateWithRepair_FallsBackToAbsentOnRepairError(t *testing.T) {
	bundle := model.ContextBundle{ContextByKey: map[string]string{
		"Página 1": "El plazo de entrega es de treinta días hábiles contados desde la firma.",
	}}
	repairer := &fakeRepairer{err: context.DeadlineExceeded}

	result := ValidateWithRepair(context.Background(), repairer, "respuesta sin citas", "pregunta", bundle, nil, "")
	if result.Answer != absentExplicit {
		t.Errorf("Answer = %q, want the explicit absent phrase", result.Answer)
	}
}
