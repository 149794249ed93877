// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator wires the chainflow service together.
//
// This package contains the main Service type that coordinates all
// components: HTTP routing, LLM clients, the vector index, durable record
// storage, the job queue and batch tracker, and observability
// infrastructure.
//
// # Usage
//
//	cfg := orchestrator.Config{Port: 12210, LLMProvider: "ollama"}
//	svc, err := orchestrator.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/chainflow/services/fetcher"
	"github.com/AleutianAI/chainflow/services/llm"
	"github.com/AleutianAI/chainflow/services/orchestrator/jobs"
	"github.com/AleutianAI/chainflow/services/orchestrator/observability"
	"github.com/AleutianAI/chainflow/services/orchestrator/pipelines"
	"github.com/AleutianAI/chainflow/services/orchestrator/routes"
	"github.com/AleutianAI/chainflow/services/orchestrator/store"
	"github.com/AleutianAI/chainflow/services/websearch"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the orchestrator service.
//
// # Description
//
// Service abstracts the orchestrator lifecycle, enabling testing and
// alternative implementations. Run() blocks and should only be called once
// per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing. Callers must
	// not modify the routes after construction.
	Router() *gin.Engine

	// Close stops the worker pool and releases held resources.
	Close() error
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds orchestrator configuration options. Zero values use the
// defaults applied by New().
type Config struct {
	// Port is the HTTP server port. Default: 12210
	Port int

	// LLMProvider selects the generation and embedding backend.
	// Valid values: "ollama", "openai", "gemini". Default: "ollama"
	LLMProvider string

	// WeaviateURL is the vector index URL. Required for ingestion and
	// retrieval; example "http://localhost:8080".
	WeaviateURL string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "localhost:4317"
	OTelEndpoint string

	// EnableTracing controls the OTLP exporter. When false, spans go to
	// the global no-op provider. Default: false
	EnableTracing bool

	// DataDir is the BadgerDB directory for durable records. Empty means
	// in-memory, which loses state on restart.
	DataDir string

	// GCSBucket enables the raw-file archive when set. Empty falls back
	// to an in-memory object store.
	GCSBucket string

	// GCSKeyPath is the optional service account key for GCSBucket.
	GCSKeyPath string

	// PipelineConfigPath points at the YAML pipeline thresholds file.
	// Empty uses built-in defaults.
	PipelineConfigPath string

	// WorkersPerQueue sizes each queue's worker pool. Default: 4
	WorkersPerQueue int

	// GinMode sets the Gin framework mode ("debug", "release", "test").
	GinMode string
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12210
	}
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "ollama"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "localhost:4317"
	}
	if cfg.WorkersPerQueue == 0 {
		cfg.WorkersPerQueue = 4
	}
	return cfg
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use. All fields are read-only
// after New() returns.
type service struct {
	config      Config
	router      *gin.Engine
	recordStore *store.RecordStore
	index       store.ChunkIndex
	objects     store.ObjectStore
	llmClient   llm.LLMClient
	embedder    llm.Embedder
	github      *fetcher.GitHubClient
	searcher    websearch.Provider
	manager     *jobs.Manager
	tracker     *jobs.BatchTracker
	pipelineCfg pipelines.Config
	limiter     *rate.Limiter

	tracerCleanup func(context.Context)
	workerCancel  context.CancelFunc
}

// New creates a ready-to-run orchestrator Service.
//
// # Description
//
// New initializes every component in dependency order: tracing, metrics,
// the record store, the vector index, the object store, the LLM client,
// the job queue with its task handlers, and finally the HTTP router. A
// failure in any step tears down what was already built.
//
// # Outputs
//
//   - Service: ready to Run()
//   - error: non-nil if initialization fails
func New(cfg Config) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}

	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	if s.config.EnableTracing {
		cleanup, err := s.initTracer()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	observability.InitMetrics()

	if err := s.initStores(); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.initLLMClient(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	if err := s.initSearch(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize web search: %w", err)
	}

	pipelineCfg, err := pipelines.LoadConfig(s.config.PipelineConfigPath)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to load pipeline config: %w", err)
	}
	s.pipelineCfg = pipelineCfg
	s.limiter = pipelineCfg.Limiter()
	s.github = fetcher.NewGitHubClient()

	s.initJobs()
	s.initRouter()

	return s, nil
}

// Run starts the HTTP server and blocks until it stops.
func (s *service) Run() error {
	defer s.Close()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting chainflow orchestrator", "port", s.config.Port,
		"llm_provider", s.config.LLMProvider)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Close stops the workers, flushes the tracer, and closes the store. Safe
// to call more than once.
func (s *service) Close() error {
	if s.workerCancel != nil {
		s.workerCancel()
		s.workerCancel = nil
		if s.manager != nil {
			if err := s.manager.Wait(); err != nil {
				slog.Warn("Worker pool exited with error", "error", err)
			}
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
		s.tracerCleanup = nil
	}
	if s.recordStore != nil {
		if err := s.recordStore.Close(); err != nil {
			slog.Warn("Record store close error", "error", err)
		}
		s.recordStore = nil
	}
	return nil
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// initTracer sets up the OTLP trace exporter over an insecure gRPC
// connection, appropriate for internal networks.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("chainflow-orchestrator")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initStores opens the record store, connects the vector index, and picks
// the object store backend.
func (s *service) initStores() error {
	storeCfg := store.InMemoryConfig()
	if s.config.DataDir != "" {
		storeCfg = store.DefaultConfig(s.config.DataDir)
	} else {
		slog.Warn("DATA_DIR not set, records are in-memory and lost on restart")
	}
	recordStore, err := store.Open(storeCfg)
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	s.recordStore = recordStore

	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")
	if weaviateURL == "" {
		return fmt.Errorf("WEAVIATE_URL is required")
	}
	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}
	weaviateClient, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return fmt.Errorf("failed to create Weaviate client: %w", err)
	}
	index := store.NewWeaviateChunkIndex(weaviateClient)
	if err := index.EnsureSchema(context.Background()); err != nil {
		return fmt.Errorf("failed to ensure chunk schema: %w", err)
	}
	s.index = index
	slog.Info("Weaviate chunk index initialized", "url", weaviateURL)

	if s.config.GCSBucket != "" {
		objects, err := store.NewGCSObjectStore(context.Background(), s.config.GCSBucket, s.config.GCSKeyPath)
		if err != nil {
			return fmt.Errorf("failed to create GCS object store: %w", err)
		}
		s.objects = objects
		slog.Info("GCS object archive enabled", "bucket", s.config.GCSBucket)
	} else {
		s.objects = store.NewMemoryObjectStore()
		slog.Warn("GCS_BUCKET not set, raw-file archive is in-memory")
	}
	return nil
}

// initLLMClient creates the generation and embedding backend. Every
// supported provider implements both interfaces.
func (s *service) initLLMClient() error {
	switch s.config.LLMProvider {
	case "ollama":
		client, err := llm.NewOllamaClient()
		if err != nil {
			return err
		}
		s.llmClient, s.embedder = client, client
		slog.Info("Using Ollama LLM backend")
	case "openai":
		client, err := llm.NewOpenAIClient()
		if err != nil {
			return err
		}
		s.llmClient, s.embedder = client, client
		slog.Info("Using OpenAI LLM backend")
	case "gemini":
		client, err := llm.NewGeminiClient()
		if err != nil {
			return err
		}
		s.llmClient, s.embedder = client, client
		slog.Info("Using Gemini LLM backend")
	default:
		return fmt.Errorf("unknown LLM provider %q", s.config.LLMProvider)
	}
	return nil
}

// initSearch builds the rotating web-search provider set for the grounded
// agent. Brave joins the rotation only when an API key is present.
func (s *service) initSearch() error {
	providers := []websearch.Provider{websearch.NewDuckDuckGo("")}
	if brave, err := websearch.NewBrave("", ""); err == nil {
		providers = append(providers, brave)
	} else {
		slog.Warn("Brave search disabled", "reason", err)
	}
	rotator, err := websearch.NewRotator(providers...)
	if err != nil {
		return err
	}
	s.searcher = rotator
	return nil
}

// initJobs builds the queue manager and batch tracker, registers the task
// handlers, and starts one worker pool per queue.
func (s *service) initJobs() {
	s.manager = jobs.NewManager(s.recordStore, observability.DefaultMetrics)
	s.tracker = jobs.NewBatchTracker(s.recordStore, observability.DefaultMetrics)
	s.registerTasks()

	ctx, cancel := context.WithCancel(context.Background())
	s.workerCancel = cancel
	for _, queue := range []string{
		jobs.QueueIngestion,
		jobs.QueueRAG,
		jobs.QueueQAGeneration,
		jobs.QueueEvaluation,
	} {
		s.manager.StartWorkers(ctx, queue, s.config.WorkersPerQueue)
	}
}

func (s *service) initRouter() {
	s.router = gin.Default()
	routes.SetupRoutes(s.router, routes.Deps{
		Store:    s.recordStore,
		Index:    s.index,
		Fetcher:  s.github,
		Jobs:     s.manager,
		Batches:  s.tracker,
		Grounded: s.groundedDeps(),
	})
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
