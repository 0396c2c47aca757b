package service

import (
	"strings"
	"testing"
	"time"
)

const faqSample = `¿Cuál es el horario de atención?
Atendemos de lunes a viernes de 9am a 6pm.
¿Dónde están ubicados?
Nuestra oficina principal está en la Avenida Central 123.
¿Cómo puedo solicitar una cita?
Puede llamar al número de atención o usar el formulario en línea.
¿Aceptan pagos con tarjeta?
Sí, aceptamos todas las tarjetas de crédito y débito principales.
`

func TestQnAChunker_DetectFAQStructure(t *testing.T) {
	c := NewQnAChunker(3, 0.6, 3000)

	isFAQ, pairs := c.DetectFAQStructure(faqSample, "manual.txt")
	if !isFAQ {
		t.Fatal("expected FAQ structure to be detected")
	}
	if len(pairs) != 4 {
		t.Fatalf("expected 4 pairs, got %d", len(pairs))
	}
}

func TestQnAChunker_DetectFAQStructure_TooFewPairs(t *testing.T) {
	c := NewQnAChunker(3, 0.6, 3000)
	text := "¿Una sola pregunta?\nUna sola respuesta.\n" + strings.Repeat("Texto de relleno no relacionado. ", 50)

	isFAQ, _ := c.DetectFAQStructure(text, "document.txt")
	if isFAQ {
		t.Error("expected FAQ structure NOT to be detected with only 1 pair and low coverage")
	}
}

func TestQnAChunker_DetectFAQStructure_FilenameOverride(t *testing.T) {
	c := NewQnAChunker(3, 0.6, 3000)
	text := "¿Una sola pregunta?\nUna sola respuesta breve."

	isFAQ, pairs := c.DetectFAQStructure(text, "faq_QNA_export.txt")
	if !isFAQ {
		t.Error("expected filename containing QNA to force FAQ detection")
	}
	if len(pairs) != 1 {
		t.Fatalf("expected 1 pair, got %d", len(pairs))
	}
}

func TestQnAChunker_Chunk(t *testing.T) {
	c := NewQnAChunker(3, 0.6, 3000)
	_, pairs := c.DetectFAQStructure(faqSample, "faq.txt")

	chunks := c.Chunk(pairs, "faq-doc", "default", "es", time.Now())
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}

	for i, ch := range chunks {
		if !ch.IsQAPair {
			t.Errorf("chunk[%d] should be a QA pair", i)
		}
		if ch.QuestionText == nil || *ch.QuestionText == "" {
			t.Errorf("chunk[%d] missing question text", i)
		}
		if ch.TotalChunks != 4 {
			t.Errorf("chunk[%d] TotalChunks = %d, want 4", i, ch.TotalChunks)
		}
	}
}

func TestQnAChunker_SkipsOversizedAnswers(t *testing.T) {
	c := NewQnAChunker(1, 0.0, 50)
	text := "¿Pregunta corta?\n" + strings.Repeat("x", 100)

	_, pairs := c.DetectFAQStructure(text, "faq.txt")
	chunks := c.Chunk(pairs, "faq-doc", "default", "es", time.Now())
	if len(chunks) != 0 {
		t.Fatalf("expected oversized answer to be skipped, got %d chunks", len(chunks))
	}
}
