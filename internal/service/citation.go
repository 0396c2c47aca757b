package service

import (
	"context"
	"regexp"
	"strings"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// ResponseClassification is the coarse shape of a generated answer, derived
// purely from regex matches on the normalized text before any citation is
// parsed.
type ResponseClassification string

const (
	ResponseFull    ResponseClassification = "FULL"
	ResponsePartial ResponseClassification = "PARTIAL"
	ResponseAbsent  ResponseClassification = "ABSENT"
)

var (
	fuenteHeaderRe  = regexp.MustCompile(`(?mi)^\s*Fuente:\s*$`)
	citationLineRe  = regexp.MustCompile(`(?m)^-+\s*P[aá]gina\s+(\d+)\s*[—–-]\s*"([^"]+)"\s*$`)
)

// ValidationResult is the outcome of running an answer through the
// validator state machine: the one-bullet-per-page-enforced answer text,
// its classification, and each citation's match result.
type ValidationResult struct {
	Answer         string
	Classification ResponseClassification
	Citations      []model.ParsedCitation
	ValidCount     int
	NeedsRepair    bool
}

// ValidateAnswer runs steps 1-4 of the citation validator: one-bullet-per-
// page enforcement, response classification, citation parsing, and
// per-citation validation against bundle.ContextByKey.
func ValidateAnswer(rawAnswer string, bundle model.ContextBundle) ValidationResult {
	answer := enforceOneBulletPerPage(rawAnswer)
	classification := ClassifyResponse(answer)

	if classification == ResponseAbsent {
		return ValidationResult{Answer: answer, Classification: classification}
	}

	citations := ParseCitations(answer)
	valid := 0
	for i := range citations {
		citations[i] = validateCitation(citations[i], bundle)
		if citations[i].MatchConfidence > 0 {
			valid++
		}
	}

	return ValidationResult{
		Answer:         answer,
		Classification: classification,
		Citations:      citations,
		ValidCount:     valid,
		NeedsRepair:    valid == 0,
	}
}

// ClassifyResponse reports ABSENT when the normalized answer contains
// either exact absent-phrase, FULL when it carries a Fuente: section, and
// PARTIAL otherwise (an answer given with no attempt at citation).
func ClassifyResponse(answer string) ResponseClassification {
	normalized := Normalize(answer, Detect)
	if strings.Contains(normalized, Normalize(absentExplicit, Detect)) ||
		strings.Contains(normalized, Normalize(absentStructural, Detect)) {
		return ResponseAbsent
	}
	if fuenteHeaderRe.FindStringIndex(answer) != nil {
		return ResponseFull
	}
	return ResponsePartial
}

// enforceOneBulletPerPage parses the last Fuente: section and keeps only the
// first bullet per page key, dropping the rest. Deterministic string
// surgery, no LLM call.
func enforceOneBulletPerPage(answer string) string {
	idx := lastFuenteHeaderIndex(answer)
	if idx < 0 {
		return answer
	}

	before := answer[:idx]
	section := answer[idx:]
	lines := strings.Split(section, "\n")

	seen := make(map[string]bool)
	kept := []string{lines[0]} // the "Fuente:" header line itself
	for _, line := range lines[1:] {
		m := citationLineRe.FindStringSubmatch(line)
		if m == nil {
			if strings.TrimSpace(line) != "" {
				kept = append(kept, line)
			}
			continue
		}
		page := m[1]
		if seen[page] {
			continue
		}
		seen[page] = true
		kept = append(kept, line)
	}

	return before + strings.Join(kept, "\n")
}

func lastFuenteHeaderIndex(answer string) int {
	locs := fuenteHeaderRe.FindAllStringIndex(answer, -1)
	if len(locs) == 0 {
		return -1
	}
	return locs[len(locs)-1][0]
}

// ParseCitations extracts every "- Página N — "quote"" line from the last
// Fuente: section.
func ParseCitations(answer string) []model.ParsedCitation {
	idx := lastFuenteHeaderIndex(answer)
	if idx < 0 {
		return nil
	}
	section := answer[idx:]

	var out []model.ParsedCitation
	for _, m := range citationLineRe.FindAllStringSubmatch(section, -1) {
		out = append(out, model.ParsedCitation{Key: "Página " + m[1], Quote: m[2]})
	}
	return out
}

// validateCitation runs the five-pass match algorithm against the chunk
// text at citation.Key in bundle.ContextByKey. A citation is invalid (zero
// confidence) only if its key is absent or the chunk has fewer than 6
// words — every other case is guaranteed a span by pass 5.
func validateCitation(citation model.ParsedCitation, bundle model.ContextBundle) model.ParsedCitation {
	chunkText, ok := bundle.ContextByKey[citation.Key]
	if !ok {
		return citation
	}
	if len(strings.Fields(chunkText)) < 6 {
		return citation
	}

	span, confidence, autoFixed := matchQuoteAgainstChunk(citation.Quote, chunkText)
	citation.MatchedSpan = span
	citation.MatchConfidence = confidence
	citation.AutoFixed = autoFixed
	return citation
}

// matchQuoteAgainstChunk runs passes 1-5 in order, returning the first that
// succeeds.
func matchQuoteAgainstChunk(quote, chunkText string) (span string, confidence float64, autoFixed bool) {
	if matchEllipsisTolerant(chunkText, quote, Strict) {
		return quote, 1.0, false
	}
	if matchEllipsisTolerant(chunkText, quote, LooseDecimalSafe) {
		return quote, 0.9, false
	}
	if fixed, did := autoFixQuoteLength(chunkText, quote); did {
		return fixed, 0.75, true
	}
	if span := extractBestSpan(chunkText, quote); span != "" {
		return span, 0.5, true
	}
	return firstNWords(chunkText, 15), 0.2, true
}

// matchEllipsisTolerant splits quote on ellipsis markers and requires each
// part to appear in haystack in order, both normalized at level.
func matchEllipsisTolerant(haystack, quote string, level NormalizeLevel) bool {
	parts := splitEllipsis(quote)
	h := Normalize(haystack, level)

	pos := 0
	for _, part := range parts {
		p := strings.TrimSpace(Normalize(part, level))
		if p == "" {
			continue
		}
		idx := strings.Index(h[pos:], p)
		if idx < 0 {
			return false
		}
		pos += idx + len(p)
	}
	return true
}

func splitEllipsis(quote string) []string {
	quote = strings.ReplaceAll(quote, "…", "...")
	return strings.Split(quote, "...")
}

// autoFixQuoteLength handles a quote whose word count falls outside [4,15]:
// it anchors on the quote's first word inside chunkText and slides a window
// of valid length around that anchor.
func autoFixQuoteLength(chunkText, quote string) (string, bool) {
	words := strings.Fields(quote)
	if len(words) >= 4 && len(words) <= 15 {
		return "", false
	}

	chunkWords := strings.Fields(chunkText)
	anchor := anchorWordIndex(chunkWords, words)
	if anchor < 0 {
		return "", false
	}

	target := len(words)
	if target < 4 {
		target = 8
	}
	if target > 15 {
		target = 12
	}
	if target > len(chunkWords) {
		target = len(chunkWords)
	}

	start := anchor
	end := start + target
	if end > len(chunkWords) {
		end = len(chunkWords)
		start = end - target
		if start < 0 {
			start = 0
		}
	}

	return strings.Join(chunkWords[start:end], " "), true
}

// anchorWordIndex finds the chunk-word position of quoteWords' first word,
// matched case/diacritic-insensitively.
func anchorWordIndex(chunkWords, quoteWords []string) int {
	if len(quoteWords) == 0 {
		return -1
	}
	target := Normalize(quoteWords[0], Strict)
	for i, w := range chunkWords {
		if Normalize(w, Strict) == target {
			return i
		}
	}
	return -1
}

// extractBestSpan scans every contiguous 6-to-12-word window in chunkText
// and returns the one with maximum word-set overlap against the quote.
func extractBestSpan(chunkText, quote string) string {
	chunkWords := strings.Fields(chunkText)
	hint := wordSet(quote)
	if len(hint) == 0 || len(chunkWords) < 6 {
		return ""
	}

	bestScore := -1.0
	bestStart, bestEnd := 0, minInt(6, len(chunkWords))

	maxSize := 12
	if maxSize > len(chunkWords) {
		maxSize = len(chunkWords)
	}
	for size := 6; size <= maxSize; size++ {
		for start := 0; start+size <= len(chunkWords); start++ {
			window := strings.Join(chunkWords[start:start+size], " ")
			score := jaccard(hint, wordSet(window))
			if score > bestScore {
				bestScore = score
				bestStart, bestEnd = start, start+size
			}
		}
	}

	return strings.Join(chunkWords[bestStart:bestEnd], " ")
}

func firstNWords(text string, n int) string {
	words := strings.Fields(text)
	if n > len(words) {
		n = len(words)
	}
	return strings.Join(words[:n], " ")
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// CitationRepairer is the subset of GeneratorService the repair round-trip
// needs.
type CitationRepairer interface {
	Repair(ctx context.Context, question string, bundle model.ContextBundle, history []string, previousQuestion string, mismatchReasons []string) (*GenerationResult, error)
}

// ValidateWithRepair runs ValidateAnswer, and if it calls for repair, makes
// at most one temperature=0 repair round-trip and re-validates. If repair
// still fails, the answer is replaced with the absent fallback string, per
// spec §4.10.
func ValidateWithRepair(ctx context.Context, repairer CitationRepairer, rawAnswer, question string, bundle model.ContextBundle, history []string, previousQuestion string) ValidationResult {
	result := ValidateAnswer(rawAnswer, bundle)
	if !result.NeedsRepair {
		return result
	}

	reasons := mismatchReasons(result)
	repaired, err := repairer.Repair(ctx, question, bundle, history, previousQuestion, reasons)
	if err != nil {
		return ValidationResult{Answer: absentExplicit, Classification: ResponseAbsent}
	}

	retried := ValidateAnswer(repaired.RawText, bundle)
	if retried.NeedsRepair {
		return ValidationResult{Answer: absentExplicit, Classification: ResponseAbsent}
	}
	return retried
}

func mismatchReasons(result ValidationResult) []string {
	if len(result.Citations) == 0 {
		return []string{"no se incluyó ninguna cita en la sección Fuente"}
	}
	reasons := make([]string, 0, len(result.Citations))
	for _, c := range result.Citations {
		if c.MatchConfidence == 0 {
			reasons = append(reasons, "la cita de "+c.Key+" no corresponde a ningún fragmento disponible")
		}
	}
	return reasons
}
