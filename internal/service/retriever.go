package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// RetrieverConfig is the subset of config.Config the retrieval pipeline
// needs, passed explicitly rather than importing the config package (keeps
// this package's dependency graph shallow and testable).
type RetrieverConfig struct {
	OverFetchMultiplier int
	DeltaToTop1         float64
	MMRLambda           float64
	MMRTarget           int
	MaxSourceBoost      float64
	BoostPerMatch       float64
}

// RetrieverService implements the spec's Retrieval Pipeline: over-fetch via
// hybrid search, candidate cut, MMR diversity selection, and
// source-aggregation boosting. It does not perform expansion or reranking —
// those are driven by the caller based on rerank outcome.
type RetrieverService struct {
	store HybridSearchStore
	cfg   RetrieverConfig
}

// NewRetrieverService creates a RetrieverService.
func NewRetrieverService(store HybridSearchStore, cfg RetrieverConfig) *RetrieverService {
	return &RetrieverService{store: store, cfg: cfg}
}

// Retrieve runs the full retrieval pipeline for one classified query and
// returns the diversity-selected, source-boosted candidate set.
func (r *RetrieverService) Retrieve(ctx context.Context, q model.ClassifiedQuery, embedding, qnaEmbedding []float32, targetChunks int) ([]model.RetrievalHit, error) {
	selected, _, err := r.RetrieveWithCandidates(ctx, q, embedding, qnaEmbedding, targetChunks)
	return selected, err
}

// RetrieveWithCandidates runs the same pipeline as Retrieve but also returns
// the pre-MMR candidate pool (post candidate-cut), used by the context
// expander's zero-latency local-neighbor merge — it only pulls neighbors
// already present in this pool, never issuing another DB round trip.
func (r *RetrieverService) RetrieveWithCandidates(ctx context.Context, q model.ClassifiedQuery, embedding, qnaEmbedding []float32, targetChunks int) (selected, candidates []model.RetrievalHit, err error) {
	overFetch := targetChunks * r.cfg.OverFetchMultiplier
	if overFetch < targetChunks {
		overFetch = targetChunks
	}

	hits, err := r.store.SearchHybridBoth(ctx, q.BM25Query, embedding, qnaEmbedding, overFetch, q.Alpha, q.Fusion)
	if err != nil {
		return nil, nil, fmt.Errorf("service.Retrieve: search: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil, nil
	}

	cut := candidateCut(hits, r.cfg.DeltaToTop1)
	diverse := mmrSelect(cut, r.cfg.MMRLambda, r.cfg.MMRTarget)
	boosted := sourceAggregationBoost(diverse, r.cfg.MaxSourceBoost, r.cfg.BoostPerMatch)

	return boosted, cut, nil
}

// candidateCut keeps the hits whose score is within deltaToTop1 of the first
// hit's score and drops the rest; the store has already applied the
// over-fetch limit. Hits are assumed sorted descending by Score (the store's
// contract).
func candidateCut(hits []model.RetrievalHit, deltaToTop1 float64) []model.RetrievalHit {
	if len(hits) == 0 {
		return hits
	}
	top1 := hits[0].Score
	out := make([]model.RetrievalHit, 0, len(hits))
	for _, h := range hits {
		if top1-h.Score <= deltaToTop1 || h.Score >= top1 {
			out = append(out, h)
		}
	}
	if len(out) == 0 {
		return hits
	}
	return out
}

// mmrSelect runs Maximal Marginal Relevance: iteratively pick the candidate
// maximizing lambda*relevance - (1-lambda)*maxSim(selected), where
// similarity is Jaccard over word-sets (word length >= 3). Output order is
// selection order, not score order.
func mmrSelect(candidates []model.RetrievalHit, lambda float64, target int) []model.RetrievalHit {
	if len(candidates) == 0 {
		return nil
	}
	if target <= 0 || target > len(candidates) {
		target = len(candidates)
	}

	wordSets := make([]map[string]struct{}, len(candidates))
	for i, c := range candidates {
		wordSets[i] = wordSet(c.Properties.Text)
	}

	maxScore := candidates[0].Score
	for _, c := range candidates {
		if c.Score > maxScore {
			maxScore = c.Score
		}
	}
	if maxScore == 0 {
		maxScore = 1
	}

	chosen := make([]int, 0, target)
	chosenSet := make(map[int]bool, target)

	for len(chosen) < target && len(chosen) < len(candidates) {
		bestIdx := -1
		bestScore := -1e18
		for i := range candidates {
			if chosenSet[i] {
				continue
			}
			relevance := candidates[i].Score / maxScore
			maxSim := 0.0
			for _, j := range chosen {
				sim := jaccard(wordSets[i], wordSets[j])
				if sim > maxSim {
					maxSim = sim
				}
			}
			mmr := lambda*relevance - (1-lambda)*maxSim
			if mmr > bestScore {
				bestScore = mmr
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			break
		}
		chosen = append(chosen, bestIdx)
		chosenSet[bestIdx] = true
	}

	out := make([]model.RetrievalHit, len(chosen))
	for i, idx := range chosen {
		out[i] = candidates[idx]
	}
	return out
}

// wordSet lowercases and splits text into a set of words with length >= 3,
// the unit Jaccard similarity is computed over.
func wordSet(text string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(fields))
	for _, w := range fields {
		w = strings.Trim(w, ".,;:!?¿¡\"'()[]{}")
		if len(w) >= 3 {
			set[w] = struct{}{}
		}
	}
	return set
}

// jaccard computes |a ∩ b| / |a ∪ b| for two word sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// sourceAggregationBoost counts hits per sourceName and multiplies every
// hit's score by
// 1 + min(maxSourceBoost, matchCount*boostPerMatch), then re-sorts
// descending by the boosted score.
func sourceAggregationBoost(hits []model.RetrievalHit, maxSourceBoost, boostPerMatch float64) []model.RetrievalHit {
	if len(hits) == 0 {
		return hits
	}

	counts := make(map[string]int, len(hits))
	for _, h := range hits {
		counts[h.Properties.SourceName]++
	}

	out := make([]model.RetrievalHit, len(hits))
	copy(out, hits)
	for i := range out {
		count := counts[out[i].Properties.SourceName]
		boost := float64(count) * boostPerMatch
		if boost > maxSourceBoost {
			boost = maxSourceBoost
		}
		out[i].SourceBoost = boost
		out[i].FinalScore = out[i].Score * (1 + boost)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FinalScore > out[j].FinalScore
	})

	return out
}
