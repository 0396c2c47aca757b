package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"golang.org/x/sync/errgroup"
)

// NLILabel is the three-way relevance label the reranker assigns each chunk.
type NLILabel string

const (
	LabelEntailment   NLILabel = "ENTAILMENT"
	LabelNeutral      NLILabel = "NEUTRAL"
	LabelContradiction NLILabel = "CONTRADICTION"
)

// RerankDecision is one chunk's raw reranker output before validation.
type RerankDecision struct {
	ID        string   `json:"id"`
	Label     NLILabel `json:"label"`
	Relevance float64  `json:"relevance"`
	Evidence  string   `json:"evidence"`
}

// RerankLLMClient abstracts the NLI call for testability.
type RerankLLMClient interface {
	GenerateContentAt(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error)
}

// RerankConfig is the subset of config.Config the reranker needs.
type RerankConfig struct {
	BatchSize               int
	MaxConcurrentBatches    int
	MinEntailmentRelevance  float64
	RetrievalTrustThreshold float64
	TopNSafetyNet           int
	MinCoverageForRerank    float64
	PerChunkCharBudget      int
	Temperature             float64
}

// directAnswerPatterns are answer-shape phrases that, when a chunk's text
// contains one, nudge it ahead of other ENTAILMENT chunks in selection order.
var directAnswerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)los?\s+\w+\s+son:`),
	regexp.MustCompile(`(?i)para\s+ello\s+se\s+necesita`),
	regexp.MustCompile(`(?i)documentos?\s+necesarios?`),
	regexp.MustCompile(`(?i)se\s+requiere[n]?:`),
}

// RerankerService implements the spec's LLM Reranker/Filter: per-chunk NLI
// labeling with a literal-evidence gate, followed by the selection algorithm
// that picks which chunks advance to context assembly.
type RerankerService struct {
	client RerankLLMClient
	model  string
	cfg    RerankConfig
}

// NewRerankerService creates a RerankerService.
func NewRerankerService(client RerankLLMClient, modelName string, cfg RerankConfig) *RerankerService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 8
	}
	if cfg.MaxConcurrentBatches <= 0 {
		cfg.MaxConcurrentBatches = 3
	}
	if cfg.PerChunkCharBudget <= 0 {
		cfg.PerChunkCharBudget = 1500
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.1
	}
	return &RerankerService{client: client, model: modelName, cfg: cfg}
}

// RerankResult is the outcome of one rerank pass.
type RerankResult struct {
	Selected        []model.RetrievalHit
	UsedFallback    bool
	EntailmentCount int // validated ENTAILMENT labels; 0 drives the expander's zero-entailment fallback
}

// Rerank labels every hit, validates ENTAILMENTs against the literal-evidence
// gate, then runs the selection algorithm to pick up to targetChunks hits.
func (r *RerankerService) Rerank(ctx context.Context, query string, hits []model.RetrievalHit, targetChunks int) (*RerankResult, error) {
	if len(hits) == 0 {
		return &RerankResult{}, nil
	}

	ids := make([]string, len(hits))
	byID := make(map[string]model.RetrievalHit, len(hits))
	for i, h := range hits {
		id := fmt.Sprintf("c%d", i)
		ids[i] = id
		byID[id] = h
	}

	decisions, err := r.runBatches(ctx, query, ids, hits)
	if err != nil {
		slog.Warn("reranker call failed, falling back to retrieval order", "error", err)
		return r.fallback(hits, targetChunks), nil
	}

	validDecisions := dedupeDecisions(decisions, byID)

	coverage := float64(len(validDecisions)) / float64(len(hits))
	if coverage < r.cfg.MinCoverageForRerank {
		slog.Info("reranker coverage below threshold, using fallback", "coverage", coverage, "threshold", r.cfg.MinCoverageForRerank)
		return r.fallback(hits, targetChunks), nil
	}

	validated := make(map[string]RerankDecision, len(validDecisions))
	for id, d := range validDecisions {
		validated[id] = r.validate(d, byID[id].Properties.Text, query)
	}

	selectedIDs := r.selectChunks(validated, byID, targetChunks)

	selected := make([]model.RetrievalHit, 0, len(selectedIDs))
	for _, id := range selectedIDs {
		selected = append(selected, byID[id])
	}

	entailmentCount := 0
	for _, d := range validated {
		if d.Label == LabelEntailment {
			entailmentCount++
		}
	}

	return &RerankResult{Selected: selected, EntailmentCount: entailmentCount}, nil
}

// fallback returns the top targetChunks hits by retrieval score, marking the
// result as having bypassed reranking entirely.
func (r *RerankerService) fallback(hits []model.RetrievalHit, targetChunks int) *RerankResult {
	sorted := make([]model.RetrievalHit, len(hits))
	copy(sorted, hits)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].FinalScore > sorted[j].FinalScore })
	if targetChunks > 0 && targetChunks < len(sorted) {
		sorted = sorted[:targetChunks]
	}
	return &RerankResult{Selected: sorted, UsedFallback: true}
}

// runBatches splits ids into RerankBatchSize groups and runs up to
// MaxConcurrentBatches of them concurrently via errgroup.
func (r *RerankerService) runBatches(ctx context.Context, query string, ids []string, hits []model.RetrievalHit) ([]RerankDecision, error) {
	type batch struct {
		ids   []string
		hits  []model.RetrievalHit
	}
	var batches []batch
	for i := 0; i < len(ids); i += r.cfg.BatchSize {
		end := i + r.cfg.BatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, batch{ids: ids[i:end], hits: hits[i:end]})
	}

	results := make([][]RerankDecision, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.MaxConcurrentBatches)

	for bi, b := range batches {
		bi, b := bi, b
		g.Go(func() error {
			decisions, err := r.rerankBatch(gctx, query, b.ids, b.hits)
			if err != nil {
				return err
			}
			results[bi] = decisions
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []RerankDecision
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}

func (r *RerankerService) rerankBatch(ctx context.Context, query string, ids []string, hits []model.RetrievalHit) ([]RerankDecision, error) {
	systemPrompt := "Eres un clasificador de relevancia. Para cada fragmento, determina si responde literalmente " +
		"la pregunta del usuario. Etiqueta cada fragmento como ENTAILMENT (responde directamente, con evidencia " +
		"textual), NEUTRAL (relacionado pero no responde) o CONTRADICTION (contradice o es irrelevante). " +
		"La evidencia debe ser una cita textual contigua de 6 a 25 palabras, sin puntos suspensivos, tomada " +
		"literalmente del fragmento. Responde únicamente con un arreglo JSON de objetos " +
		"{id, label, relevance (0-10), evidence}."

	var b strings.Builder
	fmt.Fprintf(&b, "Pregunta: %s\n\n", query)
	for i, id := range ids {
		excerpt := excerptAroundQuery(hits[i].Properties.Text, query, r.cfg.PerChunkCharBudget)
		fmt.Fprintf(&b, "Fragmento %s:\n%s\n\n", id, excerpt)
	}

	raw, err := r.client.GenerateContentAt(ctx, systemPrompt, b.String(), r.cfg.Temperature)
	if err != nil {
		return nil, fmt.Errorf("service.rerankBatch: %w", err)
	}

	return parseRerankDecisions(raw), nil
}

// parseRerankDecisions extracts the JSON array of decisions from the LLM's
// raw response, tolerating surrounding prose or a fenced code block.
func parseRerankDecisions(raw string) []RerankDecision {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end < start {
		return nil
	}
	var decisions []RerankDecision
	if err := json.Unmarshal([]byte(raw[start:end+1]), &decisions); err != nil {
		return nil
	}
	return decisions
}

// excerptAroundQuery truncates text to budget chars, centered on the first
// occurrence of any query token, using a 20%/80% split before/after the
// match so naive head-truncation doesn't produce false NEUTRALs.
func excerptAroundQuery(text, query string, budget int) string {
	if len(text) <= budget {
		return text
	}

	normText := Normalize(text, Strict)
	matchPos := -1
	for _, tok := range strings.Fields(Normalize(query, Strict)) {
		if len(tok) < 3 {
			continue
		}
		if idx := strings.Index(normText, tok); idx >= 0 {
			matchPos = idx
			break
		}
	}
	if matchPos < 0 {
		return text[:budget]
	}

	// Map the normalized-offset match position proportionally onto the raw
	// text (normalization only strips chars, never inserts, so this is a
	// reasonable approximation of the corresponding raw offset).
	rawPos := matchPos
	if len(normText) > 0 {
		rawPos = int(float64(matchPos) / float64(len(normText)) * float64(len(text)))
	}

	before := int(float64(budget) * 0.2)
	after := budget - before

	start := rawPos - before
	if start < 0 {
		start = 0
	}
	end := start + budget
	if end > len(text) {
		end = len(text)
		start = end - budget
		if start < 0 {
			start = 0
		}
	}
	_ = after
	return text[start:end]
}

// dedupeDecisions discards decisions with unknown ids and, for duplicate
// ids, keeps the best (ENTAILMENT > NEUTRAL > CONTRADICTION, ties by
// relevance).
func dedupeDecisions(decisions []RerankDecision, byID map[string]model.RetrievalHit) map[string]RerankDecision {
	labelRank := map[NLILabel]int{LabelEntailment: 2, LabelNeutral: 1, LabelContradiction: 0}

	out := make(map[string]RerankDecision)
	for _, d := range decisions {
		if _, ok := byID[d.ID]; !ok {
			continue
		}
		existing, ok := out[d.ID]
		if !ok {
			out[d.ID] = d
			continue
		}
		if labelRank[d.Label] > labelRank[existing.Label] ||
			(labelRank[d.Label] == labelRank[existing.Label] && d.Relevance > existing.Relevance) {
			out[d.ID] = d
		}
	}
	return out
}

// validate downgrades a raw ENTAILMENT to NEUTRAL unless all three gates
// pass: evidence is a literal substring of the chunk, evidence is not itself
// the question, and relevance clears MinEntailmentRelevance.
func (r *RerankerService) validate(d RerankDecision, chunkText, query string) RerankDecision {
	if d.Label != LabelEntailment {
		return d
	}

	normChunk := Normalize(chunkText, Strict)
	normEvidence := Normalize(d.Evidence, Strict)
	normQuery := Normalize(query, Strict)

	isSubstring := normEvidence != "" && strings.Contains(normChunk, normEvidence)
	isQuestion := strings.Contains(d.Evidence, "?") || strings.Contains(d.Evidence, "¿") ||
		(normQuery != "" && strings.Contains(normEvidence, normQuery))
	relevanceOK := d.Relevance >= r.cfg.MinEntailmentRelevance

	if isSubstring && !isQuestion && relevanceOK {
		return d
	}

	d.Label = LabelNeutral
	return d
}

// selectChunks implements the selection algorithm: ENTAILMENTs first
// (ordered by direct-answer shape, relevance, retrieval score), then
// list-continuation NEUTRALs, then high-trust NEUTRALs, falling back to
// NEUTRAL-by-retrieval-score if zero ENTAILMENT, always including the
// top-N safety net.
func (r *RerankerService) selectChunks(decisions map[string]RerankDecision, byID map[string]model.RetrievalHit, targetChunks int) []string {
	var entailments, neutrals []string
	for id, d := range decisions {
		switch d.Label {
		case LabelEntailment:
			entailments = append(entailments, id)
		case LabelNeutral:
			neutrals = append(neutrals, id)
		}
	}

	selected := make(map[string]bool)
	var order []string

	add := func(id string) {
		if !selected[id] && len(order) < targetChunks {
			selected[id] = true
			order = append(order, id)
		}
	}

	sort.SliceStable(entailments, func(i, j int) bool {
		di, dj := decisions[entailments[i]], decisions[entailments[j]]
		bi, bj := hasDirectAnswerShape(byID[entailments[i]].Properties.Text), hasDirectAnswerShape(byID[entailments[j]].Properties.Text)
		if bi != bj {
			return bi
		}
		if di.Relevance != dj.Relevance {
			return di.Relevance > dj.Relevance
		}
		return byID[entailments[i]].FinalScore > byID[entailments[j]].FinalScore
	})
	for _, id := range entailments {
		add(id)
	}

	if len(entailments) > 0 {
		for _, id := range neutrals {
			hit := byID[id]
			for _, eid := range entailments {
				ehit := byID[eid]
				if ehit.Properties.SourceName == hit.Properties.SourceName &&
					absInt(hit.Properties.ChunkIndex-ehit.Properties.ChunkIndex) <= 2 {
					if DetectList(hit.Properties.Text).IsList {
						add(id)
					}
					break
				}
			}
		}
	}

	for _, id := range neutrals {
		if byID[id].Score >= r.cfg.RetrievalTrustThreshold {
			add(id)
		}
	}

	if len(entailments) == 0 {
		sort.SliceStable(neutrals, func(i, j int) bool { return byID[neutrals[i]].FinalScore > byID[neutrals[j]].FinalScore })
		for _, id := range neutrals {
			add(id)
		}
	}

	// Safety net: always include the top-N by retrieval score, regardless
	// of label, even if every decision was CONTRADICTION.
	allIDs := make([]string, 0, len(byID))
	for id := range byID {
		allIDs = append(allIDs, id)
	}
	sort.SliceStable(allIDs, func(i, j int) bool { return byID[allIDs[i]].FinalScore > byID[allIDs[j]].FinalScore })
	for i, id := range allIDs {
		if i >= r.cfg.TopNSafetyNet {
			break
		}
		if len(order) < targetChunks {
			add(id)
		}
	}

	return order
}

func hasDirectAnswerShape(text string) bool {
	for _, re := range directAnswerPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
