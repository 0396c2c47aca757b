// Package config loads application settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all application configuration loaded from environment variables.
// It is immutable after Load() returns.
type Config struct {
	Port             int
	Environment      string
	DatabaseURL      string
	DatabaseMaxConns int
	RedisURL         string

	// Vector DB (contract-only collaborator; realized here as Postgres+pgvector)
	VectorDBHost      string
	VectorDBAPIKey    string
	CollectionName    string
	QnACollectionName string

	// Embedding service
	EmbeddingAPIURL        string
	EmbeddingAPIKey        string
	EmbeddingModel         string
	EmbeddingDimensions    int
	EmbeddingQnADimensions int

	// LLM service
	LLMAPIURL             string
	LLMAPIKey             string
	LLMModel              string
	GenerationTemperature float64
	RerankTemperature     float64

	// Debug flags
	DebugRAG     bool
	DebugRAGFull bool

	// Internal/Firebase auth guarding /upload
	InternalAuthSecret string

	// GCP (optional; used by readers for OCR and object storage)
	GCPProject       string
	GCPRegion        string
	GCSBucketName    string
	DocAIProcessorID string
	DocAILocation    string

	// Retrieval pipeline tuning
	OverFetchMultiplier int
	DeltaToTop1         float64
	MMRLambda           float64
	MMRTarget           int
	MaxSourceBoost      float64
	BoostPerMatch       float64

	// Reranker tuning
	RerankBatchSize            int
	RerankMaxConcurrentBatches int
	MinEntailmentRelevance     float64
	RetrievalTrustThreshold    float64
	TopNSafetyNet              int
	MinCoverageForRerank       float64
	TargetChunks               int
	TargetChunksForTotals      int

	// Expansion tuning
	ExpansionBudgetChars    int
	ExpansionMaxSteps       int
	ExpansionScoreThreshold float64

	// Context assembly tuning
	MaxContextChars    int
	MaxChunksTotal     int
	MaxChunksPerSource int
	MaxCharsPerChunk   int

	// Ingestion tuning
	ChunkSizeChars    int
	ChunkOverlapChars int
	QnAMinPairs       int
	QnACoverageMin    float64
	QnAMaxAnswerChars int

	// Embedding/query cache TTLs
	EmbeddingCacheTTLSeconds int
	QueryCacheTTLSeconds     int
}

// Load reads configuration from environment variables.
// Required variables cause an error if missing. Optional variables use
// sensible defaults matched to the thresholds named in the specification.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("config.Load: DATABASE_URL is required")
	}

	cfg := &Config{
		Port:             envInt("PORT", 8080),
		Environment:      envStr("ENVIRONMENT", "development"),
		DatabaseURL:      dbURL,
		DatabaseMaxConns: envInt("DATABASE_MAX_CONNS", 25),
		RedisURL:         envStr("REDIS_URL", ""),

		VectorDBHost:      envStr("VECTOR_DB_HOST", ""),
		VectorDBAPIKey:    envStr("VECTOR_DB_API_KEY", ""),
		CollectionName:    envStr("COLLECTION_NAME", "chunks_regular"),
		QnACollectionName: envStr("QNA_COLLECTION_NAME", "chunks_qna"),

		EmbeddingAPIURL:        envStr("EMBEDDING_API_URL", ""),
		EmbeddingAPIKey:        envStr("EMBEDDING_API_KEY", ""),
		EmbeddingModel:         envStr("EMBEDDING_MODEL", "text-embedding-004"),
		EmbeddingDimensions:    envInt("EMBEDDING_DIMENSIONS", 512),
		EmbeddingQnADimensions: envInt("EMBEDDING_QNA_DIMENSIONS", 1024),

		LLMAPIURL:             envStr("LLM_API_URL", ""),
		LLMAPIKey:             envStr("LLM_API_KEY", ""),
		LLMModel:              envStr("LLM_MODEL", "gemini-2.5-flash"),
		GenerationTemperature: envFloat("GENERATION_TEMPERATURE", 0.1),
		RerankTemperature:     envFloat("RERANK_TEMPERATURE", 0.1),

		DebugRAG:     envBool("DEBUG_RAG", false),
		DebugRAGFull: envBool("DEBUG_RAG_FULL", false),

		InternalAuthSecret: envStr("INTERNAL_AUTH_SECRET", ""),

		GCPProject:       envStr("GOOGLE_CLOUD_PROJECT", ""),
		GCPRegion:        envStr("GOOGLE_CLOUD_REGION", "us-central1"),
		GCSBucketName:    envStr("GCS_BUCKET_NAME", ""),
		DocAIProcessorID: envStr("DOCUMENT_AI_PROCESSOR_ID", ""),
		DocAILocation:    envStr("DOCUMENT_AI_LOCATION", "us"),

		OverFetchMultiplier: envInt("RETRIEVAL_OVERFETCH_MULTIPLIER", 3),
		DeltaToTop1:         envFloat("RETRIEVAL_DELTA_TO_TOP1", 0.08),
		MMRLambda:           envFloat("RETRIEVAL_MMR_LAMBDA", 0.6),
		MMRTarget:           envInt("RETRIEVAL_MMR_TARGET", 15),
		MaxSourceBoost:      envFloat("RETRIEVAL_MAX_SOURCE_BOOST", 0.3),
		BoostPerMatch:       envFloat("RETRIEVAL_BOOST_PER_MATCH", 0.08),

		RerankBatchSize:            envInt("RERANK_BATCH_SIZE", 8),
		RerankMaxConcurrentBatches: envInt("RERANK_MAX_CONCURRENT_BATCHES", 3),
		MinEntailmentRelevance:     envFloat("RERANK_MIN_ENTAILMENT_RELEVANCE", 6.0),
		RetrievalTrustThreshold:    envFloat("RERANK_RETRIEVAL_TRUST_THRESHOLD", 0.75),
		TopNSafetyNet:              envInt("RERANK_TOP_N_SAFETY_NET", 2),
		MinCoverageForRerank:       envFloat("RERANK_MIN_COVERAGE", 0.5),
		TargetChunks:               envInt("RETRIEVAL_TARGET_CHUNKS", 12),
		TargetChunksForTotals:      envInt("RETRIEVAL_TARGET_CHUNKS_TOTALS", 20),

		ExpansionBudgetChars:    envInt("EXPANSION_BUDGET_CHARS", 6000),
		ExpansionMaxSteps:       envInt("EXPANSION_MAX_STEPS", 4),
		ExpansionScoreThreshold: envFloat("EXPANSION_SCORE_THRESHOLD", 0.7),

		MaxContextChars:    envInt("CONTEXT_MAX_CHARS", 12000),
		MaxChunksTotal:     envInt("CONTEXT_MAX_CHUNKS_TOTAL", 12),
		MaxChunksPerSource: envInt("CONTEXT_MAX_CHUNKS_PER_SOURCE", 4),
		MaxCharsPerChunk:   envInt("CONTEXT_MAX_CHARS_PER_CHUNK", 1800),

		ChunkSizeChars:    envInt("CHUNK_SIZE_CHARS", 1200),
		ChunkOverlapChars: envInt("CHUNK_OVERLAP_CHARS", 150),
		QnAMinPairs:       envInt("QNA_MIN_PAIRS", 3),
		QnACoverageMin:    envFloat("QNA_COVERAGE_MIN", 0.6),
		QnAMaxAnswerChars: envInt("QNA_MAX_ANSWER_CHARS", 3000),

		EmbeddingCacheTTLSeconds: envInt("EMBEDDING_CACHE_TTL", 900),
		QueryCacheTTLSeconds:     envInt("QUERY_CACHE_TTL", 300),
	}

	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "1" || v == "true"
}
