package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/connexus-ai/ragbox-backend/internal/cache"
	"github.com/connexus-ai/ragbox-backend/internal/config"
	"github.com/connexus-ai/ragbox-backend/internal/gcpclient"
	"github.com/connexus-ai/ragbox-backend/internal/handler"
	"github.com/connexus-ai/ragbox-backend/internal/middleware"
	"github.com/connexus-ai/ragbox-backend/internal/repository"
	"github.com/connexus-ai/ragbox-backend/internal/router"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

const Version = "0.2.0"

// app bundles everything that needs an orderly shutdown.
type app struct {
	server  *http.Server
	pool    interface{ Close() }
	queue   *service.JobQueue
	queryCh *cache.QueryCache
	embedCh *cache.EmbeddingCache
	storage *gcpclient.StorageAdapter
	genAI   *gcpclient.GenAIAdapter
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return nil, fmt.Errorf("main: connect database: %w", err)
	}

	docRepo := repository.NewDocumentRepo(pool)
	vectorStore := repository.NewVectorStore(pool)
	auditRepo := repository.NewAuditRepo(pool)

	if err := vectorStore.EnsureBothCollectionsExist(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("main: ensure collections: %w", err)
	}

	auditSvc, err := service.NewAuditService(auditRepo, nil)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("main: audit service: %w", err)
	}

	storageAdapter, err := gcpclient.NewStorageAdapter(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("main: storage adapter: %w", err)
	}

	embeddingClient, err := gcpclient.NewEmbeddingAdapter(ctx, cfg.GCPProject, cfg.GCPRegion, cfg.EmbeddingModel)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("main: embedding adapter: %w", err)
	}

	genAI, err := gcpclient.NewGenAIAdapter(ctx, cfg.GCPProject, cfg.GCPRegion, cfg.LLMModel)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("main: gemini adapter: %w", err)
	}

	byoLLM := gcpclient.NewBYOLLMClient(cfg.LLMAPIKey, cfg.LLMAPIURL, cfg.LLMModel)

	promptBuilder, err := service.NewPromptBuilder("./internal/service/prompts")
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("main: prompt builder: %w", err)
	}

	// Query pipeline. Reranking always uses the fixed Gemini NLI judge;
	// final answer generation goes through the BYO-LLM provider the caller
	// configured (e.g. OpenRouter), so the two stages can use different models.
	embeddingCache := cache.NewEmbeddingCache(time.Duration(cfg.EmbeddingCacheTTLSeconds) * time.Second)
	cachedEmbedder := cache.NewCachingEmbeddingClient(embeddingClient, embeddingCache)
	embedder := service.NewEmbedderService(cachedEmbedder, cfg.EmbeddingDimensions, cfg.EmbeddingQnADimensions)
	retriever := service.NewRetrieverService(vectorStore, service.RetrieverConfig{
		OverFetchMultiplier: cfg.OverFetchMultiplier,
		MMRTarget:           cfg.MMRTarget,
		MMRLambda:           cfg.MMRLambda,
		DeltaToTop1:         cfg.DeltaToTop1,
		MaxSourceBoost:      cfg.MaxSourceBoost,
		BoostPerMatch:       cfg.BoostPerMatch,
	})
	reranker := service.NewRerankerService(genAI, cfg.LLMModel, service.RerankConfig{
		BatchSize:               cfg.RerankBatchSize,
		MaxConcurrentBatches:    cfg.RerankMaxConcurrentBatches,
		MinEntailmentRelevance:  cfg.MinEntailmentRelevance,
		RetrievalTrustThreshold: cfg.RetrievalTrustThreshold,
		TopNSafetyNet:           cfg.TopNSafetyNet,
		MinCoverageForRerank:    cfg.MinCoverageForRerank,
		Temperature:             cfg.RerankTemperature,
	})
	expander := service.NewExpanderService(vectorStore, service.ExpanderConfig{
		BudgetChars:    cfg.ExpansionBudgetChars,
		MaxSteps:       cfg.ExpansionMaxSteps,
		ScoreThreshold: cfg.ExpansionScoreThreshold,
	})
	generator := service.NewGeneratorService(byoLLM, nil, cfg.LLMModel, promptBuilder, cfg.GenerationTemperature)
	assemblerCfg := service.AssemblerConfig{
		MaxContextChars:    cfg.MaxContextChars,
		MaxChunksTotal:     cfg.MaxChunksTotal,
		MaxChunksPerSource: cfg.MaxChunksPerSource,
		MaxCharsPerChunk:   cfg.MaxCharsPerChunk,
	}
	queryPipeline := service.NewQueryPipelineService(embedder, retriever, reranker, expander, assemblerCfg, generator, auditSvc, "openrouter")

	// Ingestion pipeline
	docAI, err := gcpclient.NewDocumentAIAdapter(ctx, cfg.GCPProject, cfg.DocAILocation)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("main: document AI adapter: %w", err)
	}
	parser := service.NewParserService(docAI, cfg.DocAIProcessorID, storageAdapter, byoLLM, cfg.GCSBucketName)
	faqChunker := service.NewQnAChunker(cfg.QnAMinPairs, cfg.QnACoverageMin, cfg.QnAMaxAnswerChars)
	textChunker := service.NewRecursiveChunker(cfg.ChunkSizeChars, cfg.ChunkOverlapChars)
	ingestPipeline := service.NewPipelineService(docRepo, parser, faqChunker, textChunker, embedder, vectorStore, auditSvc, cfg.GCSBucketName)
	jobQueue := service.NewJobQueue(ingestPipeline, 64)
	jobQueue.Start(ctx)

	queryCache := cache.New(time.Duration(cfg.QueryCacheTTLSeconds) * time.Second)

	reg := prometheus.NewRegistry()
	metrics := middleware.NewMetrics(reg)

	queryRateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{MaxRequests: 30, Window: time.Minute})
	uploadRateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{MaxRequests: 10, Window: time.Minute})

	// /upload mutates the corpus, so it's the one route worth gating. Firebase
	// credentials are optional in local/dev environments; when they're absent
	// the route stays open rather than refusing to start.
	var uploadAuth func(http.Handler) http.Handler
	fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.GCPProject})
	if err != nil {
		slog.Warn("firebase app init failed, /upload will run without auth", "error", err)
	} else if fbAuth, err := fbApp.Auth(ctx); err != nil {
		slog.Warn("firebase auth client init failed, /upload will run without auth", "error", err)
	} else {
		authSvc := service.NewAuthService(fbAuth)
		uploadAuth = middleware.InternalOrFirebaseAuth(authSvc, cfg.InternalAuthSecret)
	}

	deps := &router.Dependencies{
		DB:          pool,
		FrontendURL: "*",
		Version:     Version,
		Metrics:     metrics,
		MetricsReg:  reg,
		Query: handler.QueryDeps{
			Pipeline: queryPipeline,
			Cache:    queryCache,
			Timeout:  60 * time.Second,
		},
		Upload: handler.UploadDeps{
			DocRepo:    docRepo,
			Uploader:   storageAdapter,
			Queue:      jobQueue,
			BucketName: cfg.GCSBucketName,
		},
		Jobs:              jobQueue,
		QueryTimeout:      60 * time.Second,
		QueryRateLimiter:  queryRateLimiter,
		UploadRateLimiter: uploadRateLimiter,
		UploadAuth:        uploadAuth,
	}

	r := router.New(deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &app{
		server:  srv,
		pool:    pool,
		queue:   jobQueue,
		queryCh: queryCache,
		embedCh: embeddingCache,
		storage: storageAdapter,
		genAI:   genAI,
	}, nil
}

// shutdown tears dependencies down in order: stop accepting new ingestion
// work and drain the queue before closing the vector-DB pool it writes to,
// then release the remaining long-lived clients.
func (a *app) shutdown() {
	a.queue.Shutdown()
	a.queryCh.Stop()
	a.embedCh.Stop()
	a.storage.Close()
	a.genAI.Close()
	a.pool.Close()
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("main: load config: %w", err)
	}

	ctx := context.Background()
	application, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("ragbox-backend starting", "version", Version, "port", cfg.Port)
		if err := application.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received signal, shutting down gracefully", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := application.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	application.shutdown()

	slog.Info("server stopped")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
