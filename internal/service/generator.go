package service

import (
	"context"
	"fmt"
	"time"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// GenAIClient abstracts the Vertex AI Gemini generative model for testability.
type GenAIClient interface {
	GenerateContent(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
}

// TemperatureGenAIClient generates content at an explicit sampling
// temperature. Generate uses it at the configured temperature, and the
// citation-repair round trip uses it at temperature=0.
type TemperatureGenAIClient interface {
	GenerateContentAt(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error)
}

// SystemPromptBuilder abstracts the prompt assembly layer for testability.
type SystemPromptBuilder interface {
	BuildSystemPrompt() string
}

// GenerationResult is the output of one generation call: the raw model
// text plus bookkeeping. Citation parsing/validation happens downstream in
// the citation validator, against model.ContextBundle.ContextByKey.
type GenerationResult struct {
	RawText   string
	ModelUsed string
	LatencyMs int64
}

// GeneratorService produces grounded, cited answers from an LLM using
// assembled context, and supports a temperature=0 repair call when citation
// validation fails.
type GeneratorService struct {
	client        GenAIClient
	tempClient    TemperatureGenAIClient // nil if client doesn't support it; repair falls back to client
	model         string
	promptBuilder SystemPromptBuilder
	temperature   float64
}

// NewGeneratorService creates a GeneratorService. tempClient may be nil if
// the underlying client doesn't expose temperature control, in which case
// Repair falls back to the plain GenerateContent call.
func NewGeneratorService(client GenAIClient, tempClient TemperatureGenAIClient, modelName string, promptBuilder SystemPromptBuilder, temperature float64) *GeneratorService {
	if temperature <= 0 {
		temperature = 0.1
	}
	return &GeneratorService{
		client:        client,
		tempClient:    tempClient,
		model:         modelName,
		promptBuilder: promptBuilder,
		temperature:   temperature,
	}
}

// Generate produces a cited answer for a query from the assembled context
// bundle. The raw text still carries its unvalidated Fuente: section — the
// caller runs it through the citation validator next.
func (s *GeneratorService) Generate(ctx context.Context, question string, bundle model.ContextBundle, history []string, previousQuestion string) (*GenerationResult, error) {
	if question == "" {
		return nil, fmt.Errorf("service.Generate: question is empty")
	}

	start := time.Now()

	systemPrompt := s.promptBuilder.BuildSystemPrompt()
	userPrompt := BuildUserPrompt(bundle, question, history, previousQuestion)

	var raw string
	var err error
	if s.tempClient != nil {
		raw, err = s.tempClient.GenerateContentAt(ctx, systemPrompt, userPrompt, s.temperature)
	} else {
		raw, err = s.client.GenerateContent(ctx, systemPrompt, userPrompt)
	}
	if err != nil {
		return nil, fmt.Errorf("service.Generate: %w", err)
	}

	return &GenerationResult{
		RawText:   raw,
		ModelUsed: s.model,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// Repair re-asks the model at temperature=0 with a corrective prompt that
// enumerates the available page keys and the specific mismatch reasons
// found by the citation validator. Per spec §4.10, at most one repair
// attempt is ever made by the caller.
func (s *GeneratorService) Repair(ctx context.Context, question string, bundle model.ContextBundle, history []string, previousQuestion string, mismatchReasons []string) (*GenerationResult, error) {
	start := time.Now()

	systemPrompt := s.promptBuilder.BuildSystemPrompt()
	userPrompt := buildRepairPrompt(bundle, question, history, previousQuestion, mismatchReasons)

	var raw string
	var err error
	if s.tempClient != nil {
		raw, err = s.tempClient.GenerateContentAt(ctx, systemPrompt, userPrompt, 0)
	} else {
		raw, err = s.client.GenerateContent(ctx, systemPrompt, userPrompt)
	}
	if err != nil {
		return nil, fmt.Errorf("service.Repair: %w", err)
	}

	return &GenerationResult{
		RawText:   raw,
		ModelUsed: s.model,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// buildRepairPrompt wraps BuildUserPrompt with an explicit correction
// notice: the previous answer's citations didn't validate against the
// context, and the model must re-answer citing only the literal page keys
// actually available.
func buildRepairPrompt(bundle model.ContextBundle, question string, history []string, previousQuestion string, mismatchReasons []string) string {
	base := BuildUserPrompt(bundle, question, history, previousQuestion)

	correction := "\n\n=== CORRECCIÓN REQUERIDA ===\n" +
		"Tu respuesta anterior tenía citas inválidas. Páginas disponibles: " + availablePageKeys(bundle) + ".\n" +
		"Motivos del rechazo:\n"
	for _, r := range mismatchReasons {
		correction += "- " + r + "\n"
	}
	correction += "Responde de nuevo citando EXCLUSIVAMENTE fragmentos literales de esas páginas, siguiendo el formato Fuente: exacto."

	return base + correction
}

func availablePageKeys(bundle model.ContextBundle) string {
	keys := make([]string, 0, len(bundle.ContextByKey))
	for k := range bundle.ContextByKey {
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return "(ninguna)"
	}
	out := keys[0]
	for _, k := range keys[1:] {
		out += ", " + k
	}
	return out
}
