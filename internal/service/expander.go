package service

import (
	"context"
	"strconv"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// ExpanderConfig is the subset of config.Config the context expander needs.
type ExpanderConfig struct {
	BudgetChars    int
	MaxSteps       int
	ScoreThreshold float64
}

// ExpanderService implements the Context Expander: ordered-neighbor
// expansion for list completion, similarity-walk expansion as a zero-
// evidence recovery fallback, and a zero-latency local-neighbor merge from
// the pre-filter candidate pool.
type ExpanderService struct {
	store HybridSearchStore
	cfg   ExpanderConfig
}

// NewExpanderService creates an ExpanderService.
func NewExpanderService(store HybridSearchStore, cfg ExpanderConfig) *ExpanderService {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 4
	}
	if cfg.BudgetChars <= 0 {
		cfg.BudgetChars = 6000
	}
	return &ExpanderService{store: store, cfg: cfg}
}

// ChooseStrategy decides which expansion strategy applies, per the spec's
// REDESIGN FLAGS strategy-enum reification: list-mode or zero-ENTAILMENT
// prefers ordered-neighbor expansion (when chunkIndex metadata is usable);
// otherwise similarity-walk is the fallback recovery path; None means no
// expansion is warranted.
func ChooseStrategy(selected []model.RetrievalHit, listMode, zeroEntailment bool) model.ExpansionStrategy {
	if len(selected) == 0 {
		return model.ExpansionNone
	}
	hasIndexMetadata := false
	for _, h := range selected {
		if h.Properties.TotalChunks > 0 {
			hasIndexMetadata = true
			break
		}
	}
	if hasIndexMetadata && (listMode || zeroEntailment) {
		return model.ExpansionOrderedNeighbors
	}
	if zeroEntailment {
		return model.ExpansionSimilarityWalk
	}
	return model.ExpansionNone
}

// Expand runs the chosen strategy, appending expansion hits to selected
// (deduped) and respecting cfg.BudgetChars.
func (e *ExpanderService) Expand(ctx context.Context, strategy model.ExpansionStrategy, selected []model.RetrievalHit) ([]model.RetrievalHit, error) {
	switch strategy {
	case model.ExpansionOrderedNeighbors:
		return e.expandOrdered(ctx, selected)
	case model.ExpansionSimilarityWalk:
		expanded, err := e.expandSimilarityWalk(ctx, selected)
		if err != nil {
			return selected, err
		}
		if len(expanded) == len(selected) {
			// The similarity walk added nothing in the zero-ENTAILMENT case;
			// it is the last fallback, so there is nothing further to attempt.
			return expanded, nil
		}
		return expanded, nil
	default:
		return selected, nil
	}
}

// expandOrdered fetches up to 4 subsequent chunkIndex values per present
// sourceName, bounded by totalChunks, and appends them with
// IsWindowExpansion=true.
func (e *ExpanderService) expandOrdered(ctx context.Context, selected []model.RetrievalHit) ([]model.RetrievalHit, error) {
	maxIdx := make(map[string]int)
	totalChunks := make(map[string]int)
	present := make(map[string]map[int]bool)

	for _, h := range selected {
		src := h.Properties.SourceName
		if present[src] == nil {
			present[src] = make(map[int]bool)
		}
		present[src][h.Properties.ChunkIndex] = true
		if h.Properties.ChunkIndex > maxIdx[src] {
			maxIdx[src] = h.Properties.ChunkIndex
		}
		totalChunks[src] = h.Properties.TotalChunks
	}

	var refs []ChunkRef
	for src, idx := range maxIdx {
		limit := totalChunks[src]
		for step := 1; step <= 4; step++ {
			next := idx + step
			if limit > 0 && next >= limit {
				break
			}
			if present[src][next] {
				continue
			}
			refs = append(refs, ChunkRef{SourceName: src, ChunkIndex: next})
		}
	}
	if len(refs) == 0 {
		return selected, nil
	}

	chunks, err := e.store.GetChunksBySourceAndIndex(ctx, refs)
	if err != nil {
		return selected, err
	}

	out := append([]model.RetrievalHit{}, selected...)
	budget := currentBudget(selected)
	for _, c := range chunks {
		if budget >= e.cfg.BudgetChars {
			break
		}
		out = append(out, model.RetrievalHit{
			Properties:        c,
			Score:             0.01,
			FinalScore:        0.01,
			IsWindowExpansion: true,
		})
		budget += len(c.Text)
	}
	return out, nil
}

// expandSimilarityWalk normalizes selected scores to [0,1], treats hits
// above ScoreThreshold as seeds, then walks prev/next links for up to
// MaxSteps iterations, only stepping to a neighbor whose index differs by
// exactly 1 (guards against corrupt index data).
func (e *ExpanderService) expandSimilarityWalk(ctx context.Context, selected []model.RetrievalHit) ([]model.RetrievalHit, error) {
	if len(selected) == 0 {
		return selected, nil
	}

	maxScore, minScore := selected[0].FinalScore, selected[0].FinalScore
	for _, h := range selected {
		if h.FinalScore > maxScore {
			maxScore = h.FinalScore
		}
		if h.FinalScore < minScore {
			minScore = h.FinalScore
		}
	}
	spread := maxScore - minScore
	if spread == 0 {
		spread = 1
	}

	var seeds []model.RetrievalHit
	for _, h := range selected {
		normalized := (h.FinalScore - minScore) / spread
		if normalized >= e.cfg.ScoreThreshold {
			seeds = append(seeds, h)
		}
	}
	if len(seeds) == 0 {
		return selected, nil
	}

	out := append([]model.RetrievalHit{}, selected...)
	present := hitIndex(out)
	budget := currentBudget(selected)

	frontier := seeds
	for step := 0; step < e.cfg.MaxSteps && budget < e.cfg.BudgetChars; step++ {
		var next []model.RetrievalHit
		for _, h := range frontier {
			var want []ChunkRef
			if h.Properties.PrevChunkIndex != nil && *h.Properties.PrevChunkIndex == h.Properties.ChunkIndex-1 {
				want = append(want, ChunkRef{SourceName: h.Properties.SourceName, ChunkIndex: *h.Properties.PrevChunkIndex})
			}
			if h.Properties.NextChunkIndex != nil && *h.Properties.NextChunkIndex == h.Properties.ChunkIndex+1 {
				want = append(want, ChunkRef{SourceName: h.Properties.SourceName, ChunkIndex: *h.Properties.NextChunkIndex})
			}
			for _, w := range want {
				if present[hitKey(w.SourceName, w.ChunkIndex)] {
					continue
				}
				chunks, err := e.store.GetChunksByIDs(ctx, w.SourceName, []int{w.ChunkIndex})
				if err != nil || len(chunks) == 0 {
					continue
				}
				nh := model.RetrievalHit{Properties: chunks[0], Score: 0.01, FinalScore: 0.01, IsWindowExpansion: true}
				out = append(out, nh)
				present[hitKey(w.SourceName, w.ChunkIndex)] = true
				budget += len(chunks[0].Text)
				next = append(next, nh)
				if budget >= e.cfg.BudgetChars {
					break
				}
			}
			if budget >= e.cfg.BudgetChars {
				break
			}
		}
		if len(next) == 0 {
			break
		}
		frontier = next
	}

	return out, nil
}

// LocalNeighborMerge merges ±3-index neighbors already present in
// candidates (no extra DB calls) into selected, when list structure was
// detected in the pre-filter pool. Catches lists broken at chunk boundaries
// at zero latency cost.
func LocalNeighborMerge(selected, candidates []model.RetrievalHit) []model.RetrievalHit {
	if !anyIsList(candidates) {
		return selected
	}

	present := hitIndex(selected)
	out := append([]model.RetrievalHit{}, selected...)

	for _, s := range selected {
		for _, c := range candidates {
			if c.Properties.SourceName != s.Properties.SourceName {
				continue
			}
			diff := c.Properties.ChunkIndex - s.Properties.ChunkIndex
			if diff < -3 || diff > 3 || diff == 0 {
				continue
			}
			key := hitKey(c.Properties.SourceName, c.Properties.ChunkIndex)
			if present[key] {
				continue
			}
			present[key] = true
			c.IsWindowExpansion = true
			out = append(out, c)
		}
	}
	return out
}

func hitIndex(hits []model.RetrievalHit) map[string]bool {
	m := make(map[string]bool, len(hits))
	for _, h := range hits {
		m[hitKey(h.Properties.SourceName, h.Properties.ChunkIndex)] = true
	}
	return m
}

func hitKey(source string, idx int) string {
	return source + "#" + strconv.Itoa(idx)
}

func currentBudget(hits []model.RetrievalHit) int {
	total := 0
	for _, h := range hits {
		total += len(h.Properties.Text)
	}
	return total
}
