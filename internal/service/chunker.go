package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// chunkSeparators is the split cascade a paragraph falls through when it
// exceeds the target chunk size: try paragraph breaks first, then lines,
// then sentence, then clause, then word boundaries.
var chunkSeparators = []string{"\n\n", "\n", ". ", ", ", " "}

// RecursiveChunker splits document text into overlapping chunks of roughly
// ChunkChars characters, falling through chunkSeparators whenever a single
// atom is still too large, then repeating the trailing OverlapChars of each
// chunk as the prefix of the next so neighboring chunks share context.
type RecursiveChunker struct {
	ChunkChars   int
	OverlapChars int
}

// NewRecursiveChunker creates a RecursiveChunker, defaulting to the spec's
// 1200/150 char-count and overlap.
func NewRecursiveChunker(chunkChars, overlapChars int) *RecursiveChunker {
	if chunkChars <= 0 {
		chunkChars = 1200
	}
	if overlapChars < 0 || overlapChars >= chunkChars {
		overlapChars = 150
	}
	return &RecursiveChunker{ChunkChars: chunkChars, OverlapChars: overlapChars}
}

// Chunk splits text into model.Chunk values for sourceName. Documents that
// QnAChunker does not accept go through this chunker; for a document it does
// accept, only the Q&A pairs are indexed and text outside them (such as a
// preamble before the first question) is not chunked at all. Returned chunks
// have contiguous ChunkIndex values and correct
// Prev/NextChunkIndex links; TotalChunks is set on every chunk once the
// final count is known.
func (c *RecursiveChunker) Chunk(text, sourceName, namespace, language string, uploadDate time.Time) ([]model.Chunk, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("service.RecursiveChunker.Chunk: text is empty")
	}

	atoms := splitRecursive(trimmed, chunkSeparators, c.ChunkChars)
	packed := packAtoms(atoms, c.ChunkChars)
	if len(packed) == 0 {
		return nil, fmt.Errorf("service.RecursiveChunker.Chunk: no content after splitting")
	}

	chunks := make([]model.Chunk, 0, len(packed))
	pos := 0
	var prevBody string
	for i, body := range packed {
		overlap := ""
		if i > 0 && c.OverlapChars > 0 {
			overlap = lastNChars(prevBody, c.OverlapChars)
		}
		fullText := body
		if overlap != "" {
			fullText = overlap + body
		}

		start := pos
		end := start + len(body)
		pos = end

		chunks = append(chunks, model.Chunk{
			Text:                  fullText,
			SourceName:            sourceName,
			SourceNamespace:       namespace,
			ChunkIndex:            i,
			UploadDate:            uploadDate,
			Language:              language,
			ContentWithoutOverlap: body,
			IsQAPair:              false,
			StartPosition:         start,
			EndPosition:           end,
		})
		prevBody = body
	}

	total := len(chunks)
	for i := range chunks {
		chunks[i].TotalChunks = total
		if i > 0 {
			prev := i - 1
			chunks[i].PrevChunkIndex = &prev
		}
		if i < total-1 {
			next := i + 1
			chunks[i].NextChunkIndex = &next
		}
	}

	return chunks, nil
}

// splitRecursive falls through seps until every atom fits within maxChars,
// or separators run out (in which case hardSplit cuts the oversized atom at
// fixed width).
func splitRecursive(text string, seps []string, maxChars int) []string {
	if len(text) <= maxChars {
		return []string{text}
	}
	if len(seps) == 0 {
		return hardSplit(text, maxChars)
	}

	sep := seps[0]
	parts := strings.Split(text, sep)
	if len(parts) == 1 {
		// separator not present in this atom; fall through to the next one.
		return splitRecursive(text, seps[1:], maxChars)
	}

	var atoms []string
	for i, p := range parts {
		piece := p
		if i < len(parts)-1 {
			piece += sep
		}
		if piece == "" {
			continue
		}
		if len(piece) > maxChars {
			atoms = append(atoms, splitRecursive(piece, seps[1:], maxChars)...)
		} else {
			atoms = append(atoms, piece)
		}
	}
	return atoms
}

// hardSplit is the last-resort fallback when no separator shrinks an atom
// below maxChars (e.g. one unbroken run of characters): cut at fixed width.
func hardSplit(text string, maxChars int) []string {
	var out []string
	for len(text) > maxChars {
		out = append(out, text[:maxChars])
		text = text[maxChars:]
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}

// packAtoms greedily concatenates consecutive atoms until adding the next
// one would exceed maxChars, producing the final chunk bodies.
func packAtoms(atoms []string, maxChars int) []string {
	var packed []string
	var current strings.Builder

	for _, atom := range atoms {
		if current.Len() > 0 && current.Len()+len(atom) > maxChars {
			packed = append(packed, current.String())
			current.Reset()
		}
		current.WriteString(atom)
	}
	if current.Len() > 0 {
		packed = append(packed, current.String())
	}
	return packed
}

// lastNChars returns the trailing n characters of s (rune-safe).
func lastNChars(s string, n int) string {
	r := []rune(s)
	if n >= len(r) {
		return s
	}
	return string(r[len(r)-n:])
}
