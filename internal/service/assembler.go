package service

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// AssemblerConfig is the subset of config.Config the context assembler needs.
type AssemblerConfig struct {
	MaxContextChars    int
	MaxChunksTotal     int
	MaxChunksPerSource int
	MaxCharsPerChunk   int
}

// AssembleContext builds the final context string from hits in selection
// order, under the four caps from spec §4.8. Consecutive same-source
// adjacent chunks prefer ContentWithoutOverlap to avoid repeating overlap
// text; truncation never adds an ellipsis marker.
func AssembleContext(hits []model.RetrievalHit, cfg AssemblerConfig) model.ContextBundle {
	diversityMode := countUniqueSources(hits) > 1

	var parts []string
	sourcesSeen := make(map[string]bool)
	perSourceCount := make(map[string]int)
	contextByKey := make(map[string]string)

	var prevSource string
	prevIndex := -1
	used := 0

	for i, h := range hits {
		if used >= cfg.MaxChunksTotal {
			break
		}

		source := h.Properties.SourceName
		remaining := len(hits) - i
		needed := cfg.MaxChunksTotal - used

		if diversityMode && perSourceCount[source] >= cfg.MaxChunksPerSource && remaining > needed*2 {
			continue
		}

		text := h.Properties.Text
		if source == prevSource && h.Properties.ChunkIndex == prevIndex+1 {
			text = h.Properties.ContentWithoutOverlap
		}
		text = truncateNoEllipsis(text, cfg.MaxCharsPerChunk)

		page := 0
		if h.Properties.PageNumber != nil {
			page = *h.Properties.PageNumber
		}
		key := "Página " + strconv.Itoa(page)
		llmText := fmt.Sprintf("%s Página %d\n%s", source, page, text)

		if existing, ok := contextByKey[key]; ok {
			contextByKey[key] = existing + "\n" + text
		} else {
			contextByKey[key] = text
		}

		parts = append(parts, llmText)
		sourcesSeen[source] = true
		perSourceCount[source]++
		used++
		prevSource = source
		prevIndex = h.Properties.ChunkIndex

		if totalLen(parts) >= cfg.MaxContextChars {
			break
		}
	}

	context := strings.Join(parts, "\n\n---\n\n")
	if len(context) > cfg.MaxContextChars {
		context = context[:cfg.MaxContextChars]
	}

	sources := make([]string, 0, len(sourcesSeen))
	for s := range sourcesSeen {
		sources = append(sources, s)
	}

	return model.ContextBundle{
		Context:      context,
		UsedChunks:   used,
		Sources:      sources,
		ContextByKey: contextByKey,
	}
}

// truncateNoEllipsis cuts text to max chars with no ellipsis marker — the
// LLM must never see a truncation artifact it could mistake for a literal
// quote fragment.
func truncateNoEllipsis(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	return text[:max]
}

func countUniqueSources(hits []model.RetrievalHit) int {
	seen := make(map[string]bool)
	for _, h := range hits {
		seen[h.Properties.SourceName] = true
	}
	return len(seen)
}

func totalLen(parts []string) int {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	return total
}
