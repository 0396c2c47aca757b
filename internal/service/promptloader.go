package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// absentExplicit and absentStructural are the two exact absent-phrase
// strings the citation validator matches against. They are compiled into
// the binary rather than left file-editable, since the refusal gates and
// citation repair depend on matching them byte-for-byte.
const (
	absentExplicit   = "Esta información no se encuentra en los documentos"
	absentStructural = "No especificado en los documentos proporcionados."
)

// citationContract is the fixed Spanish instruction block mandating the
// three response types and the Fuente: citation format. It never changes
// per-request; house rules layered on top (via PromptBuilder.HotReload) are
// supplementary, not a substitute for it.
const citationContract = `Eres un asistente que responde preguntas usando EXCLUSIVAMENTE los fragmentos de documentos proporcionados como contexto. No uses conocimiento externo ni supongas información que no esté escrita en el contexto.

Tu respuesta debe encajar en uno de estos tres tipos:
1. VALOR EXPLÍCITO: el contexto contiene el dato o la afirmación exacta que responde la pregunta. Cítalo literalmente.
2. REGLA/ESTRUCTURA: el contexto no da el valor exacto pero sí una regla, fórmula o estructura de la que se deriva la respuesta. Explica la derivación citando la regla.
3. AUSENTE: el contexto no contiene ni el valor ni una regla aplicable. En ese caso responde EXACTAMENTE con una de estas dos frases, sin añadir nada más:
   - "` + absentExplicit + `"
   - "` + absentStructural + `"

Reglas de citación, sin excepción:
- Al final de tu respuesta incluye una sección "Fuente:" con EXACTAMENTE una viñeta por cada página que usaste.
- Formato de cada viñeta: - Página <N> — "<cita literal de 4 a 15 palabras>"
- La cita debe ser una subcadena literal y exacta del fragmento de esa página. Nunca la parafrasees.
- Nunca uses puntos suspensivos, "...", ni ningún otro marcador de truncamiento dentro de una cita.
- No cites una página que no hayas usado para fundamentar tu respuesta.
- Si la respuesta es AUSENTE, no incluyas sección Fuente.`

// PromptBuilder assembles the system and user messages for generation. The
// citation contract is fixed; an optional house-rules file layered on top
// can be hot-reloaded without a restart.
type PromptBuilder struct {
	promptsDir string

	mu         sync.RWMutex
	houseRules string
}

// Compile-time check that PromptBuilder implements SystemPromptBuilder.
var _ SystemPromptBuilder = (*PromptBuilder)(nil)

// NewPromptBuilder creates a PromptBuilder. An optional house_rules.txt in
// promptsDir is loaded if present; its absence is not an error, unlike the
// teacher's rules_engine.txt/mercury_identity.txt, since the citation
// contract itself is not file-dependent.
func NewPromptBuilder(promptsDir string) (*PromptBuilder, error) {
	p := &PromptBuilder{promptsDir: promptsDir}
	if err := p.load(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *PromptBuilder) load() error {
	path := filepath.Join(p.promptsDir, "house_rules.txt")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			p.mu.Lock()
			p.houseRules = ""
			p.mu.Unlock()
			return nil
		}
		return fmt.Errorf("service.PromptBuilder.load: %w", err)
	}
	p.mu.Lock()
	p.houseRules = string(data)
	p.mu.Unlock()
	return nil
}

// HotReload re-reads house_rules.txt from disk without restarting the server.
func (p *PromptBuilder) HotReload() error {
	return p.load()
}

// BuildSystemPrompt returns the fixed citation contract, followed by any
// house rules loaded from disk.
func (p *PromptBuilder) BuildSystemPrompt() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.houseRules == "" {
		return citationContract
	}
	var sb strings.Builder
	sb.WriteString(citationContract)
	sb.WriteString("\n\n=== REGLAS ADICIONALES ===\n")
	sb.WriteString(p.houseRules)
	return sb.String()
}

// BuildUserPrompt assembles the user message: the document excerpts under a
// counted header, optional conversation history, optional previous
// question, and finally the current question.
func BuildUserPrompt(bundle model.ContextBundle, question string, history []string, previousQuestion string) string {
	var sb strings.Builder

	sb.WriteString("=== DOCUMENT EXCERPTS (")
	sb.WriteString(strconv.Itoa(bundle.UsedChunks))
	sb.WriteString(" sections) ===\n")
	sb.WriteString(bundle.Context)
	sb.WriteString("\n\n")

	if len(history) > 0 {
		sb.WriteString("=== HISTORIAL DE CONVERSACIÓN ===\n")
		for _, h := range history {
			sb.WriteString("- ")
			sb.WriteString(h)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if previousQuestion != "" {
		sb.WriteString("=== PREGUNTA ANTERIOR ===\n")
		sb.WriteString(previousQuestion)
		sb.WriteString("\n\n")
	}

	sb.WriteString("=== PREGUNTA ===\n")
	sb.WriteString(question)

	return sb.String()
}
