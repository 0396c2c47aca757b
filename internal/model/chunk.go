package model

import "time"

// Chunk is the unit of retrieval. It is immutable once written to the
// vector store; ingestion produces it, query never mutates it.
type Chunk struct {
	Text                string    `json:"text"`
	SourceName           string    `json:"sourceName"`
	SourceNamespace      string    `json:"sourceNamespace"`
	ChunkIndex           int       `json:"chunkIndex"`
	TotalChunks          int       `json:"totalChunks"`
	PrevChunkIndex       *int      `json:"prevChunkIndex,omitempty"`
	NextChunkIndex       *int      `json:"nextChunkIndex,omitempty"`
	PageNumber           *int      `json:"pageNumber,omitempty"`
	UploadDate           time.Time `json:"uploadDate"`
	Language             string    `json:"language"`
	ContentWithoutOverlap string   `json:"contentWithoutOverlap"`
	IsQAPair             bool      `json:"isQAPair"`
	QuestionText         *string   `json:"questionText,omitempty"`
	StartPosition        int       `json:"startPosition"`
	EndPosition          int       `json:"endPosition"`
	Embedding            []float32 `json:"-"`
}

// Collection identifies which of the two physical tables a chunk belongs to.
// Regular chunks carry the narrow embedding dimension; QnA chunks carry the
// wider one tuned for question-to-question similarity.
type Collection string

const (
	CollectionRegular Collection = "regular"
	CollectionQnA     Collection = "qna"
)

// RetrievalHit is the runtime wrapper around a Chunk produced during a single
// query. It never outlives the request that created it.
type RetrievalHit struct {
	Properties        Chunk
	Collection        Collection
	Score             float64 // raw hybrid fusion score
	FinalScore        float64 // score after source-aggregation boost
	Boost             float64
	SourceBoost       float64
	IsWindowExpansion bool
}
