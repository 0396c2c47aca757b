package service

import (
	"regexp"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// classifierRule is one scored rule for the question classifier: a type, a
// tie-break priority, and a set of weighted patterns. A pattern contributes
// its weight to the rule's type once for each match in the normalized query.
type classifierRule struct {
	qtype    model.QuestionType
	priority int
	patterns []weightedPattern
}

type weightedPattern struct {
	re     *regexp.Regexp
	weight int
}

func wp(pattern string, weight int) weightedPattern {
	return weightedPattern{re: regexp.MustCompile(pattern), weight: weight}
}

// classifierRules is evaluated in order; ties in summed weight are broken by
// higher priority (later entries in this slice win ties against earlier ones
// only if their priority is strictly greater).
var classifierRules = []classifierRule{
	{
		qtype:    model.QuestionNumeric,
		priority: 3,
		patterns: []weightedPattern{
			wp(`\bcu[aá]nt[oa]s?\b`, 3),
			wp(`\btotal\b`, 2),
			wp(`\bsubtotal\b`, 2),
			wp(`\bsuma\b`, 2),
			wp(`\bn[uú]mero de\b`, 2),
			wp(`\d+`, 1),
		},
	},
	{
		qtype:    model.QuestionList,
		priority: 2,
		patterns: []weightedPattern{
			wp(`\blist[ae] (todos|todas|los|las)\b`, 3),
			wp(`\bcu[aá]les son\b`, 3),
			wp(`\ben[uú]mer[ae]\b`, 2),
			wp(`\btodos los\b`, 2),
			wp(`\btodas las\b`, 2),
			wp(`\brequisitos\b`, 1),
		},
	},
	{
		qtype:    model.QuestionOrderedSeq,
		priority: 2,
		patterns: []weightedPattern{
			wp(`\bpasos?\b`, 3),
			wp(`\bprocedimiento\b`, 2),
			wp(`\bproceso\b`, 2),
			wp(`\bprimero\b`, 1),
			wp(`\bdespu[eé]s\b`, 1),
			wp(`\border de\b`, 2),
			wp(`\bsecuencia\b`, 2),
		},
	},
}

// alphaByType is the hybrid-search vector weight assigned to each winning
// question type, before any override rule adjusts it downward.
var alphaByType = map[model.QuestionType]float64{
	model.QuestionNumeric:      0.35,
	model.QuestionList:         0.50,
	model.QuestionOrderedSeq:   0.40,
	model.QuestionReglaGeneral: 0.75,
}

// fusionByType is the fusion strategy paired with each question type in the
// same tuning table as alphaByType.
var fusionByType = map[model.QuestionType]model.FusionStrategy{
	model.QuestionNumeric:      model.RankedFusion,
	model.QuestionList:         model.RelativeScoreFusion,
	model.QuestionOrderedSeq:   model.RelativeScoreFusion,
	model.QuestionReglaGeneral: model.RelativeScoreFusion,
}

// defaultTargetChunks is the chunk count requested from the retrieval
// pipeline for every question type; the "total/cuántos" override raises it
// to totalsTargetChunks.
const (
	defaultTargetChunks = 12
	totalsTargetChunks  = 20
)

var (
	shortQueryTokenCap = 3
	digitOrCodeRe      = regexp.MustCompile(`[0-9"]|[A-Z]{2,}-?\d+`)
	totalsOverrideRe   = regexp.MustCompile(`(?i)\b(total|subtotal|suma|cu[aá]ntos)\b`)
	tokenSplitRe       = regexp.MustCompile(`\s+`)
)

// ClassifyResult carries the classifier's decision plus the derived target
// chunk count for the retrieval pipeline.
type ClassifyResult struct {
	Query        model.ClassifiedQuery
	TargetChunks int
}

// ClassifyQuery scores raw against the classifier rules and returns the
// winning question type, its hybrid-search alpha (subject to override
// caps), and the target chunk count for retrieval.
func ClassifyQuery(raw string) ClassifyResult {
	normalized := Normalize(raw, Strict)

	bestType := model.QuestionReglaGeneral
	bestScore := 0
	bestPriority := 0

	for _, rule := range classifierRules {
		score := 0
		for _, p := range rule.patterns {
			score += len(p.re.FindAllString(normalized, -1)) * p.weight
		}
		if score == 0 {
			continue
		}
		if score > bestScore || (score == bestScore && rule.priority > bestPriority) {
			bestScore = score
			bestType = rule.qtype
			bestPriority = rule.priority
		}
	}

	alpha := alphaByType[bestType]

	tokens := tokenSplitRe.Split(normalized, -1)
	if len(tokens) <= shortQueryTokenCap && alpha > 0.35 {
		alpha = 0.35
	}
	if digitOrCodeRe.MatchString(raw) && alpha > 0.35 {
		alpha = 0.35
	}

	targetChunks := defaultTargetChunks
	if totalsOverrideRe.MatchString(normalized) {
		targetChunks = totalsTargetChunks
	}

	return ClassifyResult{
		Query: model.ClassifiedQuery{
			RawQuery:   raw,
			EmbedQuery: raw,
			BM25Query:  normalized,
			Type:       bestType,
			Alpha:      alpha,
			Fusion:     fusionByType[bestType],
		},
		TargetChunks: targetChunks,
	}
}
