// Package main is the entry point for the summarization worker.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/docstackhq/docstack/internal/chunker"
	"github.com/docstackhq/docstack/internal/config"
	"github.com/docstackhq/docstack/internal/ingest"
	"github.com/docstackhq/docstack/internal/llm"
	"github.com/docstackhq/docstack/internal/processor"
	"github.com/docstackhq/docstack/internal/realtime"
	"github.com/docstackhq/docstack/internal/storage"
	"github.com/docstackhq/docstack/internal/summarizer"
	"github.com/docstackhq/docstack/pkg/logger"
	"github.com/docstackhq/docstack/pkg/shutdown"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	log.SetDefault()

	log.Info("starting summarization worker",
		"version", version,
		"environment", cfg.Server.Environment,
	)

	// Initialize shutdown handler
	shutdownHandler := shutdown.New(log.Logger, time.Duration(cfg.Server.ShutdownTimeout)*time.Second)

	// The worker cannot run degraded: every job needs the database,
	// object storage, the broker and an LLM provider.
	db, err := storage.NewPostgres(storage.PostgresConfig{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("connected to database", "host", cfg.Database.Host, "database", cfg.Database.Database)
	shutdownHandler.RegisterNamed("database", func(ctx context.Context) error {
		return db.Close()
	})

	objectStorage, err := storage.NewMinIOStorage(storage.MinIOConfig{
		Endpoint:        cfg.Storage.Endpoint,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		BucketName:      cfg.Storage.BucketName,
		UseSSL:          cfg.Storage.UseSSL,
		Region:          cfg.Storage.Region,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to object storage: %w", err)
	}
	log.Info("connected to object storage", "endpoint", cfg.Storage.Endpoint, "bucket", cfg.Storage.BucketName)

	natsClient, err := realtime.NewNATSClient(realtime.NATSConfig{
		URL:            cfg.NATS.URL,
		ClusterID:      cfg.NATS.ClusterID,
		MaxReconnects:  -1,
		ReconnectWait:  2 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}, log.Logger)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.Info("connected to NATS", "url", cfg.NATS.URL)
	shutdownHandler.RegisterNamed("nats", func(ctx context.Context) error {
		return natsClient.Drain()
	})

	if err := natsClient.SetupStreams(ctx); err != nil {
		log.Warn("failed to setup JetStream streams (may already exist)", "error", err)
	}

	// LLM provider, with cross-vendor fallback when both keys are set
	provider, err := createLLMProvider(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create LLM provider: %w", err)
	}
	if secondary := alternateProvider(cfg, log); secondary != nil {
		provider = llm.NewFallbackProvider(provider, secondary, log.Logger)
		log.Info("LLM fallback enabled", "secondary", secondary.Name())
	}
	log.Info("LLM provider created", "provider", provider.Name(), "model", provider.Model())

	// Summarization chunks are much larger than retrieval chunks so
	// each map call sees a coherent stretch of the document.
	summaryProfile := chunker.SummaryProfile()
	summaryProfile.MaxTokens = cfg.Processing.SummaryChunkSize
	summaryProfile.OverlapTokens = cfg.Processing.SummaryChunkOverlap
	summaryChunker, err := chunker.New(summaryProfile)
	if err != nil {
		return fmt.Errorf("failed to create chunker: %w", err)
	}

	summarizerCfg := summarizer.DefaultConfig()
	summarizerCfg.MapWorkers = cfg.Processing.SummaryWorkers
	summarizerCfg.Temperature = cfg.LLM.Temperature
	docSummarizer, err := summarizer.New(provider, summaryChunker, summarizerCfg, log.Logger)
	if err != nil {
		return fmt.Errorf("failed to create summarizer: %w", err)
	}

	documents := storage.NewDocumentRepository(db, log.Logger)
	reader, err := ingest.NewReader(documents, objectStorage, processor.NewPDFProcessor(log))
	if err != nil {
		return fmt.Errorf("failed to create document reader: %w", err)
	}

	// Job consumer pulls summarization requests off the work queue
	consumer := realtime.NewJobConsumer(
		natsClient,
		realtime.DefaultJobConsumerConfig(),
		log.Logger,
		documents,
		reader,
		docSummarizer,
	)
	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job consumer: %w", err)
	}
	log.Info("job consumer started", "map_workers", summarizerCfg.MapWorkers)
	shutdownHandler.RegisterNamed("job_consumer", func(ctx context.Context) error {
		return consumer.Stop(ctx)
	})

	// Minimal HTTP surface for liveness probes
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if !natsClient.IsConnected() {
			http.Error(w, "NATS not connected", http.StatusServiceUnavailable)
			return
		}
		if err := db.Health(r.Context()); err != nil {
			http.Error(w, "database not healthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", "error", err)
		}
	}()

	shutdownHandler.RegisterNamed("http_server", func(ctx context.Context) error {
		return server.Shutdown(ctx)
	})

	log.Info("worker started successfully",
		"version", version,
		"http_port", cfg.Server.Port,
		"nats_url", cfg.NATS.URL,
	)

	// Wait for shutdown signal
	shutdownHandler.Wait()

	log.Info("worker stopped")
	return nil
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

	return llm.NewProvider(llm.ProviderConfig{
		Provider:    provider,
		APIKey:      apiKey,
		Model:       cfg.LLM.Model,
		BaseURL:     baseURL,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	}, log.Logger)
}

// alternateProvider builds a secondary provider from the other vendor's
// key, if one is configured. Returns nil when there is no alternative.
func alternateProvider(cfg *config.Config, log *logger.Logger) llm.Provider {
	var name, apiKey string
	switch strings.ToLower(cfg.LLM.Provider) {
	case "anthropic":
		name, apiKey = "openai", cfg.LLM.OpenAIKey
	case "openai":
		name, apiKey = "anthropic", cfg.LLM.AnthropicKey
	default:
		return nil
	}
	if apiKey == "" {
		return nil
	}

	secondary, err := llm.NewProvider(llm.ProviderConfig{
		Provider:    name,
		APIKey:      apiKey,
		Model:       llm.GetDefaultModel(name),
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	}, log.Logger)
	if err != nil {
		log.Warn("failed to create fallback provider", "provider", name, "error", err)
		return nil
	}
	return secondary
}
