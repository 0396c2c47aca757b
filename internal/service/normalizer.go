package service

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizeLevel selects how aggressively Normalize rewrites text.
type NormalizeLevel int

const (
	// Strict collapses whitespace and keeps letters, digits, and basic
	// punctuation. Used for exact-ish substring matching.
	Strict NormalizeLevel = iota
	// LooseDecimalSafe additionally strips punctuation except the decimal
	// point inside a number, so "3.14" still differs from "314". Used as the
	// second-chance citation match when Strict matching fails.
	LooseDecimalSafe
	// Detect is Strict plus stripped trailing punctuation. Used on generated
	// answers before they are compared against source text.
	Detect
)

var (
	decimalPointRe = regexp.MustCompile(`(\d)\.(\d)`)
	// decimalSentinel must survive stripPunctuationKeepAlnumSpace, which
	// keeps only letters, digits, and whitespace — so it's letters-only,
	// with no control bytes that would be dropped before the sentinel can
	// be swapped back for the decimal point.
	decimalSentinel = "qdecimalpointq"
	whitespaceRe    = regexp.MustCompile(`\s+`)
	trailingPunctRe = regexp.MustCompile(`[.,;:!?"'」）)\]]+$`)
)

// Normalize lowercases, strips diacritics via Unicode NFD decomposition, and
// applies the punctuation rules for the given level.
func Normalize(s string, level NormalizeLevel) string {
	s = strings.ToLower(s)
	s = stripDiacritics(s)

	switch level {
	case LooseDecimalSafe:
		s = decimalPointRe.ReplaceAllString(s, "$1"+decimalSentinel+"$2")
		s = stripPunctuationKeepAlnumSpace(s)
		s = strings.ReplaceAll(s, decimalSentinel, ".")
	case Detect:
		s = stripPunctuationBasic(s)
		s = trailingPunctRe.ReplaceAllString(strings.TrimSpace(s), "")
	default: // Strict
		s = stripPunctuationBasic(s)
	}

	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// stripDiacritics decomposes runes to NFD and drops combining marks, turning
// e.g. "café" into "cafe".
func stripDiacritics(s string) string {
	decomposed := norm.NFD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return norm.NFC.String(b.String())
}

// stripPunctuationBasic keeps letters, digits, whitespace, and a small set of
// basic punctuation (periods, commas, hyphens) that carry meaning in prose.
func stripPunctuationBasic(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsSpace(r):
			b.WriteRune(r)
		case r == '.' || r == ',' || r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// stripPunctuationKeepAlnumSpace drops every rune that is not a letter,
// digit, whitespace, or the decimal-point sentinel planted by Normalize.
func stripPunctuationKeepAlnumSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// mojibakeTable maps the sequences produced when UTF-8 Spanish text is
// mis-decoded as DOS code page 850 back to the correct rune. No request path
// calls RepairMojibake; the query handler rejects a body that is not valid
// UTF-8 instead.
var mojibakeTable = map[string]string{
	"├®": "é", "├í": "á", "├│": "ó", "├║": "ú", "├▒": "ñ",
	"├ü": "Á", "├ë": "É", "├ô": "Ó", "├Ü": "Ú", "├æ": "Ñ",
	"┬┐": "¿", "┬í": "¡",
}

// RepairMojibake rewrites known mojibake byte sequences to their intended
// rune. It is a compatibility shim for a narrow set of upstream encoding
// bugs, not a general charset detector.
func RepairMojibake(s string) string {
	for bad, good := range mojibakeTable {
		if strings.Contains(s, bad) {
			s = strings.ReplaceAll(s, bad, good)
		}
	}
	return s
}
