package service

import (
	"regexp"
	"strings"
	"time"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// qaQuestionRe finds a Spanish-style inverted question mark opening a
// question, capturing up to the closing "?". Questions are capped at 300
// chars to avoid runaway matches against malformed input.
var qaQuestionRe = regexp.MustCompile(`(?s)¿([^?]{3,300})\?`)

// qaPair is one detected question/answer block before it is turned into a
// model.Chunk.
type qaPair struct {
	question string
	answer   string
}

// QnAChunker detects FAQ-structured documents — runs of "¿Pregunta?\nRespuesta"
// blocks — and turns each pair into one atomic chunk, indexed separately in
// the QnA collection at full embedding dimension. Documents that are not
// FAQ-structured fall through to RecursiveChunker.
type QnAChunker struct {
	MinPairs       int
	CoverageMin    float64
	MaxAnswerChars int
}

// NewQnAChunker creates a QnAChunker with the spec's defaults (≥3 pairs,
// ≥60% text coverage, answers capped at 3000 chars).
func NewQnAChunker(minPairs int, coverageMin float64, maxAnswerChars int) *QnAChunker {
	if minPairs <= 0 {
		minPairs = 3
	}
	if coverageMin <= 0 {
		coverageMin = 0.6
	}
	if maxAnswerChars <= 0 {
		maxAnswerChars = 3000
	}
	return &QnAChunker{MinPairs: minPairs, CoverageMin: coverageMin, MaxAnswerChars: maxAnswerChars}
}

// DetectFAQStructure scans text for "¿...?"-answer pairs and reports whether
// the document qualifies as FAQ-structured: at least MinPairs pairs found,
// and those pairs cover at least CoverageMin of the document's length. A
// filename containing "QNA" (case-insensitive) always qualifies, regardless
// of pair count, matching documents the uploader has already labeled.
func (c *QnAChunker) DetectFAQStructure(text, filename string) (bool, []qaPair) {
	pairs := extractQAPairs(text)

	forcedByName := strings.Contains(strings.ToUpper(filename), "QNA")
	if len(pairs) < c.MinPairs && !forcedByName {
		return false, nil
	}

	if !forcedByName {
		covered := 0
		for _, p := range pairs {
			covered += len(p.question) + len(p.answer)
		}
		if len(text) == 0 || float64(covered)/float64(len(text)) < c.CoverageMin {
			return false, nil
		}
	}

	return true, pairs
}

// extractQAPairs walks every "¿...?" match and takes the answer as the text
// running up to the next question (or end of document).
func extractQAPairs(text string) []qaPair {
	locs := qaQuestionRe.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}

	var pairs []qaPair
	for i, loc := range locs {
		qStart, qEnd := loc[2], loc[3]
		answerStart := loc[1] // end of the full "¿...?" match
		answerEnd := len(text)
		if i+1 < len(locs) {
			answerEnd = locs[i+1][0]
		}

		question := strings.TrimSpace(text[qStart:qEnd])
		answer := strings.TrimSpace(text[answerStart:answerEnd])
		if question == "" || answer == "" {
			continue
		}
		pairs = append(pairs, qaPair{question: question, answer: answer})
	}
	return pairs
}

// Chunk turns FAQ pairs into atomic Q&A chunks. Answers longer than
// MaxAnswerChars are skipped (they are not representative single-fact
// answers and chunking them would defeat the point of a Q&A pair).
func (c *QnAChunker) Chunk(pairs []qaPair, sourceName, namespace, language string, uploadDate time.Time) []model.Chunk {
	chunks := make([]model.Chunk, 0, len(pairs))
	idx := 0
	for _, p := range pairs {
		if len(p.answer) > c.MaxAnswerChars {
			continue
		}
		question := p.question
		text := "¿" + p.question + "?\n" + p.answer

		chunks = append(chunks, model.Chunk{
			Text:                  text,
			SourceName:            sourceName,
			SourceNamespace:       namespace,
			ChunkIndex:            idx,
			UploadDate:            uploadDate,
			Language:              language,
			ContentWithoutOverlap: text,
			IsQAPair:              true,
			QuestionText:          &question,
			StartPosition:         0,
			EndPosition:           len(text),
		})
		idx++
	}

	total := len(chunks)
	for i := range chunks {
		chunks[i].TotalChunks = total
	}
	return chunks
}
