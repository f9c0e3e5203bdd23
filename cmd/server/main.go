// Package main is the entry point for the docstack API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/docstackhq/docstack/internal/api"
	"github.com/docstackhq/docstack/internal/api/handlers"
	"github.com/docstackhq/docstack/internal/api/middleware"
	"github.com/docstackhq/docstack/internal/chunker"
	"github.com/docstackhq/docstack/internal/config"
	"github.com/docstackhq/docstack/internal/embedder"
	"github.com/docstackhq/docstack/internal/ingest"
	"github.com/docstackhq/docstack/internal/llm"
	"github.com/docstackhq/docstack/internal/processor"
	"github.com/docstackhq/docstack/internal/rag"
	"github.com/docstackhq/docstack/internal/realtime"
	"github.com/docstackhq/docstack/internal/storage"
	"github.com/docstackhq/docstack/pkg/logger"
	"github.com/docstackhq/docstack/pkg/shutdown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.AddSource,
	})
	log.SetDefault()

	log.Info("starting docstack API server",
		"version", "0.1.0",
		"environment", cfg.Server.Environment,
		"port", cfg.Server.Port,
	)

	// Initialize shutdown handler
	shutdownHandler := shutdown.New(log.Logger, time.Duration(cfg.Server.ShutdownTimeout)*time.Second)

	// ============================
	// Initialize Database
	// ============================
	var db *storage.PostgresDB
	if cfg.Database.Host != "" {
		pgConfig := storage.PostgresConfig{
			Host:         cfg.Database.Host,
			Port:         cfg.Database.Port,
			User:         cfg.Database.User,
			Password:     cfg.Database.Password,
			Database:     cfg.Database.Database,
			SSLMode:      cfg.Database.SSLMode,
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
		}

		var dbErr error
		db, dbErr = storage.NewPostgres(pgConfig)
		if dbErr != nil {
			log.Warn("failed to connect to database, running in limited mode", "error", dbErr)
		} else {
			log.Info("connected to database",
				"host", cfg.Database.Host,
				"database", cfg.Database.Database,
			)
			shutdownHandler.RegisterNamed("database", func(ctx context.Context) error {
				return db.Close()
			})
		}
	}

	// ============================
	// Initialize Object Storage
	// ============================
	var objectStorage *storage.MinIOStorage
	if cfg.Storage.Endpoint != "" {
		minioConfig := storage.MinIOConfig{
			Endpoint:        cfg.Storage.Endpoint,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			BucketName:      cfg.Storage.BucketName,
			UseSSL:          cfg.Storage.UseSSL,
			Region:          cfg.Storage.Region,
		}

		var storageErr error
		objectStorage, storageErr = storage.NewMinIOStorage(minioConfig)
		if storageErr != nil {
			log.Warn("failed to connect to object storage, running in limited mode", "error", storageErr)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := objectStorage.InitBucket(ctx); err != nil {
				log.Warn("failed to initialize storage bucket", "error", err)
			}
			cancel()

			log.Info("connected to object storage",
				"endpoint", cfg.Storage.Endpoint,
				"bucket", cfg.Storage.BucketName,
			)
		}
	}

	// ============================
	// Initialize Redis
	// ============================
	var redisClient *storage.RedisClientWrapper
	if cfg.Redis.Host != "" {
		var redisErr error
		redisClient, redisErr = storage.NewRedisClient(storage.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if redisErr != nil {
			log.Warn("failed to connect to Redis, caching disabled", "error", redisErr)
		} else {
			log.Info("connected to Redis", "host", cfg.Redis.Host)
			shutdownHandler.RegisterNamed("redis", func(ctx context.Context) error {
				return redisClient.Close()
			})
		}
	}

	// ============================
	// Initialize NATS Client
	// ============================
	var natsClient *realtime.NATSClient
	var wsHub *realtime.WSHub
	if cfg.NATS.URL != "" {
		natsConfig := realtime.NATSConfig{
			URL:       cfg.NATS.URL,
			ClusterID: cfg.NATS.ClusterID,
		}

		var natsErr error
		natsClient, natsErr = realtime.NewNATSClient(natsConfig, log.Logger)
		if natsErr != nil {
			log.Warn("failed to connect to NATS, real-time features disabled", "error", natsErr)
		} else {
			log.Info("connected to NATS", "url", cfg.NATS.URL)

			// Setup JetStream streams
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := natsClient.SetupStreams(ctx); err != nil {
				log.Warn("failed to setup NATS streams", "error", err)
			} else {
				log.Info("NATS JetStream streams initialized")
			}
			cancel()

			shutdownHandler.RegisterNamed("nats", func(ctx context.Context) error {
				return natsClient.Close()
			})

			// Initialize WebSocket Hub
			wsConfig := realtime.DefaultWSConfig()
			wsHub = realtime.NewWSHub(natsClient, wsConfig, log.Logger)

			if err := wsHub.Start(context.Background()); err != nil {
				log.Warn("failed to start WebSocket hub", "error", err)
				wsHub = nil
			} else {
				log.Info("WebSocket hub started")
				shutdownHandler.RegisterNamed("websocket-hub", func(ctx context.Context) error {
					return wsHub.Stop(ctx)
				})
			}

			// Cache invalidation on document updates
			if redisClient != nil {
				invalidator := realtime.NewCacheInvalidator(
					redisClient.Client(),
					natsClient,
					realtime.DefaultCacheInvalidatorConfig(),
					log.Logger,
				)
				if err := invalidator.Start(context.Background()); err != nil {
					log.Warn("failed to start cache invalidator", "error", err)
				} else {
					shutdownHandler.RegisterNamed("cache-invalidator", func(ctx context.Context) error {
						return invalidator.Stop(ctx)
					})
				}
			}
		}
	} else {
		log.Warn("NATS not configured, real-time features disabled")
	}

	// ============================
	// Initialize Rate Limit Store
	// ============================
	var rateLimitStore middleware.RateLimitStore
	if redisClient != nil {
		rateLimitStore = middleware.NewRedisRateLimitStore(redisClient, "docstack", log.Logger)
	} else {
		rateLimitStore = middleware.NewMemoryRateLimitStore()
	}

	// ============================
	// Initialize Processing Components
	// ============================
	ragProfile := chunker.RAGProfile()
	ragProfile.MaxTokens = cfg.Processing.RAGChunkSize
	ragProfile.OverlapTokens = cfg.Processing.RAGChunkOverlap
	ragChunker, err := chunker.New(ragProfile)
	if err != nil {
		return fmt.Errorf("failed to create chunker: %w", err)
	}

	pdfProcessor := processor.NewPDFProcessor(log)

	var emb embedder.Embedder
	if cfg.LLM.OpenAIKey != "" {
		embConfig := embedder.DefaultConfig(cfg.LLM.OpenAIKey)
		embConfig.Model = cfg.LLM.EmbeddingModel
		openAIEmbedder, embErr := embedder.NewOpenAIEmbedder(embConfig, log)
		if embErr != nil {
			log.Warn("failed to initialize embedder", "error", embErr)
		} else {
			emb = openAIEmbedder
			log.Info("embedder initialized", "model", embConfig.Model)
		}
	} else {
		log.Warn("OPENAI_API_KEY not set, ingestion and retrieval disabled")
	}

	// ============================
	// Initialize Ingest Pipeline
	// ============================
	var documents *storage.DocumentRepository
	var vectorStore *storage.PgVectorStore
	if db != nil {
		documents = storage.NewDocumentRepository(db, log.Logger)
		vectorStore = storage.NewPgVectorStore(db, log.Logger)
	}

	var pipeline *ingest.Pipeline
	if documents != nil && objectStorage != nil && emb != nil {
		var events ingest.EventPublisher
		if natsClient != nil {
			events = natsClient
		}

		pipeline, err = ingest.New(
			documents,
			objectStorage,
			vectorStore,
			pdfProcessor,
			ragChunker,
			emb,
			events,
			ingest.DefaultConfig(),
			log.Logger,
		)
		if err != nil {
			log.Warn("failed to create ingest pipeline, uploads disabled", "error", err)
		} else {
			log.Info("ingest pipeline initialized",
				"chunk_size", cfg.Processing.RAGChunkSize,
				"chunk_overlap", cfg.Processing.RAGChunkOverlap,
			)
		}
	} else {
		log.Warn("ingest pipeline not initialized: requires database, object storage and embedder")
	}

	// ============================
	// Initialize Answer Service
	// ============================
	var answers handlers.AnswerService
	if vectorStore != nil && emb != nil && canInitializeLLM(cfg) {
		answers = initAnswerService(cfg, vectorStore, emb, redisClient, ragChunker, log)
		if answers != nil {
			log.Info("answer service initialized",
				"model", cfg.LLM.Model,
				"provider", cfg.LLM.Provider,
			)
		}
	} else {
		log.Warn("answer service not initialized: requires database, embedder and an LLM provider")
	}

	// ============================
	// Setup API Router
	// ============================
	deps := api.Dependencies{
		Logger:         log.Logger,
		RateLimitStore: rateLimitStore,
		Answers:        answers,
		WSHub:          wsHub,
	}
	if documents != nil {
		deps.Documents = documents
	}
	if db != nil {
		deps.DBHealth = db
	}
	if objectStorage != nil {
		deps.ObjectStorage = objectStorage
	}
	if pipeline != nil {
		deps.Ingestor = pipeline
	}
	if natsClient != nil {
		deps.JobPublisher = natsClient
		deps.BrokerHealth = natsClient
	}

	routerConfig := api.DefaultRouterConfig()
	routerConfig.MaxUploadBytes = int64(cfg.Processing.MaxUploadSizeMB) << 20

	router := api.NewRouter(deps, routerConfig)

	// ============================
	// Initialize HTTP Server
	// ============================
	serverConfig := api.ServerConfig{
		Host:            "",
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: time.Duration(cfg.Server.ShutdownTimeout) * time.Second,
	}

	server := api.NewServer(router, serverConfig, log.Logger)

	shutdownHandler.RegisterNamed("http-server", func(ctx context.Context) error {
		return server.Shutdown(ctx)
	})

	// Start server in goroutine
	go func() {
		log.Info("HTTP server listening", "addr", server.Addr())
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	shutdownHandler.Wait()

	log.Info("server stopped")
	return nil
}

// ============================
// Answer Service Initialization
// ============================

// canInitializeLLM checks if we have enough configuration to initialize an LLM provider.
func canInitializeLLM(cfg *config.Config) bool {
	switch strings.ToLower(cfg.LLM.Provider) {
	case "anthropic":
		return cfg.LLM.AnthropicKey != ""
	case "ollama":
		return true // Local providers don't require API keys
	default:
		return cfg.LLM.OpenAIKey != ""
	}
}

// createLLMProvider creates an LLM provider based on the configuration.
func createLLMProvider(cfg *config.Config, log *logger.Logger) (llm.Provider, error) {
	provider := strings.ToLower(cfg.LLM.Provider)

	var apiKey, baseURL string
	switch provider {
	case "anthropic":
		apiKey = cfg.LLM.AnthropicKey
	case "ollama":
		baseURL = cfg.LLM.OllamaBaseURL
	default:
		apiKey = cfg.LLM.OpenAIKey
	}

	providerCfg := llm.ProviderConfig{
		Provider:    provider,
		APIKey:      apiKey,
		Model:       cfg.LLM.Model,
		BaseURL:     baseURL,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	}

	return llm.NewProvider(providerCfg, log.Logger)
}

// initAnswerService wires retrieval, context assembly and generation into
// the question answering service served by POST /api/v1/query.
func initAnswerService(
	cfg *config.Config,
	vectorStore *storage.PgVectorStore,
	emb embedder.Embedder,
	redisClient *storage.RedisClientWrapper,
	ragChunker *chunker.Chunker,
	log *logger.Logger,
) handlers.AnswerService {
	provider, err := createLLMProvider(cfg, log)
	if err != nil {
		log.Error("failed to create LLM provider", "error", err)
		return nil
	}
	log.Info("LLM provider created",
		"provider", provider.Name(),
		"model", provider.Model(),
	)

	var cache rag.CacheManager = storage.NewNullCacheManager()
	if redisClient != nil {
		cache = storage.NewCacheManager(redisClient, log.Logger, storage.DefaultCacheConfig())
	}

	retriever := rag.NewRetriever(vectorStore, emb, cache, log.Logger, rag.DefaultRetrieverConfig())

	builder := rag.NewContextBuilder(log.Logger, rag.DefaultContextBuilderConfig(), ragChunker.CountTokens)

	answererCfg := rag.DefaultAnswererConfig()
	answererCfg.MaxTokens = cfg.LLM.MaxTokens
	answererCfg.Temperature = cfg.LLM.Temperature

	answerer, err := rag.NewAnswerer(retriever, builder, provider, answererCfg, log.Logger)
	if err != nil {
		log.Error("failed to create answerer", "error", err)
		return nil
	}

	return answerer
}
