package service

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	bulletLineRe   = regexp.MustCompile(`(?m)^\s*[-•*◦▪►]\s+`)
	numberedLineRe = regexp.MustCompile(`(?mi)^\s*(\d+|[a-z]|[ivxlcdm]+)[.):-]\s+`)
	domainCodeRe   = regexp.MustCompile(`\bEC\d{3,4}(\.\d{1,3})?\b`)

	// declaredTotalRe finds standalone integers in the plausible "declared
	// total" range, excluding ones immediately adjacent to a % or $ sign or
	// to a decimal point (those are measurements or prices, not counts).
	declaredTotalRe = regexp.MustCompile(`(?:^|[^.\d$%])\b(\d{1,3})\b(?:[^.\d%]|$)`)

	minSignalMatches = 2
	countWindowChars = 220
)

// ListDetectResult reports whether chunk text contains list structure and,
// if a declared total precedes the list, whether it mismatches the visible
// item count.
type ListDetectResult struct {
	IsList          bool
	ItemCount       int
	Patterns        []string
	ListStart       int
	DeclaredTotal   int  // 0 if none found
	CountMismatch   bool
}

// DetectList scans raw chunk text for list structure using three orthogonal
// signals (bullets, numbered/lettered/roman markers, domain codes), each
// requiring at least two matches to count. listStart is the character
// offset of the earliest strong list line.
func DetectList(text string) ListDetectResult {
	var patterns []string
	starts := []int{}

	if locs := bulletLineRe.FindAllStringIndex(text, -1); len(locs) >= minSignalMatches {
		patterns = append(patterns, "bullets")
		starts = append(starts, locs[0][0])
	}
	if locs := numberedLineRe.FindAllStringIndex(text, -1); len(locs) >= minSignalMatches {
		patterns = append(patterns, "numbered")
		starts = append(starts, locs[0][0])
	}
	if matches := uniqueDomainCodes(text); len(matches) >= minSignalMatches {
		patterns = append(patterns, "domain_codes")
		if loc := domainCodeRe.FindStringIndex(text); loc != nil {
			starts = append(starts, loc[0])
		}
	}

	if len(patterns) == 0 {
		return ListDetectResult{}
	}

	sort.Ints(starts)
	listStart := starts[0]
	itemCount := countListItems(text)

	result := ListDetectResult{
		IsList:    true,
		ItemCount: itemCount,
		Patterns:  patterns,
		ListStart: listStart,
	}

	declaredTotal := findDeclaredTotal(text, listStart)
	result.DeclaredTotal = declaredTotal
	if declaredTotal > 0 {
		result.CountMismatch = declaredTotal >= itemCount+3 && declaredTotal <= maxInt(itemCount*3, 25)
	}

	return result
}

func uniqueDomainCodes(text string) map[string]struct{} {
	seen := make(map[string]struct{})
	for _, m := range domainCodeRe.FindAllString(text, -1) {
		seen[m] = struct{}{}
	}
	return seen
}

func countListItems(text string) int {
	count := 0
	count += len(bulletLineRe.FindAllString(text, -1))
	count += len(numberedLineRe.FindAllString(text, -1))
	return count
}

// findDeclaredTotal scans the countWindowChars immediately before listStart
// for a standalone integer in [3,100], returning the last (closest to the
// list) such integer, or 0 if none qualify.
func findDeclaredTotal(text string, listStart int) int {
	from := listStart - countWindowChars
	if from < 0 {
		from = 0
	}
	window := text[from:listStart]

	matches := declaredTotalRe.FindAllStringSubmatchIndex(window, -1)
	declared := 0
	for _, m := range matches {
		numStr := window[m[2]:m[3]]
		n, err := strconv.Atoi(numStr)
		if err != nil {
			continue
		}
		if n < 3 || n > 100 {
			continue
		}
		declared = n
	}
	return declared
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// isLikelyListStart reports whether line, once trimmed, starts with a bullet
// or a numbered/lettered/roman list marker.
func isLikelyListStart(line string) bool {
	line = strings.TrimSpace(line)
	return bulletLineRe.MatchString(line) || numberedLineRe.MatchString(line)
}
