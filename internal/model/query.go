package model

import "time"

// QuestionType is the winning category from the rule-based question classifier.
type QuestionType string

const (
	QuestionNumeric        QuestionType = "NUMERIC"
	QuestionList           QuestionType = "LIST"
	QuestionOrderedSeq     QuestionType = "ORDERED_SEQUENCE"
	QuestionReglaGeneral   QuestionType = "REGLA_GENERAL"
)

// FusionStrategy names how vector and BM25 result lists are combined into a
// single ranked list.
type FusionStrategy string

const (
	// RankedFusion is reciprocal-rank fusion: score = sum(1/(k+rank)).
	// Insensitive to the raw score magnitude, so it suits NUMERIC queries
	// where BM25 term-frequency scores can swamp cosine similarity.
	RankedFusion FusionStrategy = "rankedFusion"
	// RelativeScoreFusion min-max normalizes each list to [0,1] and combines
	// with the query's alpha weight: alpha*vector + (1-alpha)*bm25.
	RelativeScoreFusion FusionStrategy = "relativeScoreFusion"
)

// ClassifiedQuery is the output of the question classifier: the raw query
// plus the derived search queries and hybrid-search tuning for this request.
type ClassifiedQuery struct {
	RawQuery   string
	EmbedQuery string
	BM25Query  string
	Type       QuestionType
	Alpha      float64        // hybrid-search vector weight, in [0,1]
	Fusion     FusionStrategy
}

// ExpansionStrategy names which context-expansion pass produced a hit.
type ExpansionStrategy string

const (
	ExpansionOrderedNeighbors  ExpansionStrategy = "OrderedNeighbors"
	ExpansionSimilarityWalk    ExpansionStrategy = "SimilarityWalk"
	ExpansionLocalNeighborsOnly ExpansionStrategy = "LocalNeighborsOnly"
	ExpansionNone              ExpansionStrategy = "None"
)

// ContextBundle is the assembled context handed to the prompt builder.
// contextByKey preserves exactly the text the model saw, keyed the same way
// citations reference it ("Página N"), so citation validation can look up the
// source text without re-deriving it.
type ContextBundle struct {
	Context      string
	UsedChunks   int
	Sources      []string
	ContextByKey map[string]string
}

// ParsedCitation is one citation extracted from a generated answer, matched
// back against the context it was drawn from.
type ParsedCitation struct {
	Key            string // "Página N" lookup key into ContextBundle.ContextByKey
	Quote          string
	MatchedSpan    string
	MatchConfidence float64
	AutoFixed      bool
}

// QueryOutcome is the terminal disposition of a query.
type QueryOutcome string

const (
	QueryAnswered QueryOutcome = "Answered"
	QueryRefused  QueryOutcome = "Refused"
)

// Query is a persisted record of one RAG query, for audit and analytics.
type Query struct {
	ID              string       `json:"id"`
	UserID          string       `json:"userId"`
	QueryText       string       `json:"queryText"`
	QuestionType    QuestionType `json:"questionType"`
	ConfidenceScore *float64     `json:"confidenceScore,omitempty"`
	Outcome         QueryOutcome `json:"outcome"`
	ChunksUsed      int          `json:"chunksUsed"`
	LatencyMs       *int         `json:"latencyMs,omitempty"`
	Model           *string      `json:"model,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
}

// Answer is the generated answer for a Query, with its validated citations.
type Answer struct {
	ID         string           `json:"id"`
	QueryID    string           `json:"queryId"`
	AnswerText string           `json:"answerText"`
	Citations  []ParsedCitation `json:"citations"`
	CreatedAt  time.Time        `json:"createdAt"`
}
