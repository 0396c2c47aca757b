package service

import (
	"strings"
	"testing"
	"time"
)

// generateLongText creates realistic legal-style text of approximately pageCount pages.
// Each page is five ~1000-char paragraphs (~5000 chars).
func generateLongText(pageCount int) string {
	paragraph := "WHEREAS, the parties hereto desire to enter into an agreement governing the terms and conditions " +
		"of the disclosure of confidential information, trade secrets, and proprietary data between them. " +
		"NOW, THEREFORE, in consideration of the mutual covenants and agreements set forth herein, and for " +
		"other good and valuable consideration, the receipt and sufficiency of which are hereby acknowledged, " +
		"the parties agree as follows: The Receiving Party shall hold and maintain the Confidential Information " +
		"in strict confidence for the sole and exclusive benefit of the Disclosing Party. The Receiving Party " +
		"shall not, without the prior written approval of the Disclosing Party, use for the Receiving Party's " +
		"own benefit, publish, copy, or otherwise disclose to others, or permit the use by others for their " +
		"benefit or to the detriment of the Disclosing Party, any Confidential Information. The obligations " +
		"of confidentiality shall survive the termination of this Agreement for a period of five (5) years.\n\n"
	repeats := pageCount * 5
	var sb strings.Builder
	sb.Grow(len(paragraph) * repeats)
	for i := 0; i < repeats; i++ {
		sb.WriteString(paragraph)
	}
	return sb.String()
}

func BenchmarkRecursiveChunker_SmallDoc(b *testing.B) {
	text := generateLongText(1)
	c := NewRecursiveChunker(1200, 150)
	now := time.Now()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.Chunk(text, "bench-doc-small", "default", "es", now)
	}
}

func BenchmarkRecursiveChunker_LargeDoc(b *testing.B) {
	text := generateLongText(100)
	c := NewRecursiveChunker(1200, 150)
	now := time.Now()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.Chunk(text, "bench-doc-large", "default", "es", now)
	}
}
