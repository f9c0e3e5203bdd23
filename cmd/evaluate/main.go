// Package main is the entry point for the retrieval evaluation CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/docstackhq/docstack/internal/config"
	"github.com/docstackhq/docstack/internal/embedder"
	"github.com/docstackhq/docstack/internal/evaluation"
	"github.com/docstackhq/docstack/internal/rag"
	"github.com/docstackhq/docstack/internal/storage"
	"github.com/docstackhq/docstack/pkg/logger"
)

// Version information (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// RunOptions holds options for the run command.
type RunOptions struct {
	Dataset     string
	Output      string
	KValues     string
	TopK        int
	MinScore    float64
	SearchType  string
	PerQuery    bool
	FromStorage bool
	Upload      bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := &cobra.Command{
		Use:     "evaluate",
		Short:   "docstack retrieval evaluation CLI",
		Long:    "CLI tool for measuring retrieval quality against a labeled query dataset.",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
	}

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newValidateCmd())

	return rootCmd.Execute()
}

// newRunCmd creates the run subcommand.
func newRunCmd() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an evaluation against the live retriever",
		Long:  "Retrieve for every dataset query, compute ranking metrics, and write a report bundle.",
		Example: `  # Evaluate with default cutoffs (K = 1, 3, 5, 10)
  evaluate run --dataset=eval/golden.json

  # Custom cutoffs and output directory
  evaluate run --dataset=eval/golden.json --k-values=1,5,20 --output=./results

  # Evaluate keyword search only
  evaluate run --dataset=eval/golden.json --search-type=keyword

  # Run a shared dataset from the bucket and publish the report
  evaluate run --dataset=golden.json --from-storage --upload`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluation(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Dataset, "dataset", "d", "", "Path to the evaluation dataset JSON (required)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "./eval-results", "Output directory for the report bundle")
	cmd.Flags().StringVarP(&opts.KValues, "k-values", "k", "1,3,5,10", "Comma-separated cutoff depths")
	cmd.Flags().IntVar(&opts.TopK, "top-k", 0, "Retrieval depth per query (default: max of k-values)")
	cmd.Flags().Float64Var(&opts.MinScore, "min-score", 0, "Minimum similarity score for retrieved chunks")
	cmd.Flags().StringVar(&opts.SearchType, "search-type", "semantic", "Search type: semantic, keyword, or hybrid")
	cmd.Flags().BoolVar(&opts.PerQuery, "per-query", true, "Include per-query detail in the report")
	cmd.Flags().BoolVar(&opts.FromStorage, "from-storage", false, "Load the dataset from the bucket's datasets/ prefix")
	cmd.Flags().BoolVar(&opts.Upload, "upload", false, "Upload the report bundle to the bucket's reports/ prefix")
	cmd.MarkFlagRequired("dataset")

	return cmd
}

// newValidateCmd creates the validate subcommand.
func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [dataset]",
		Short: "Validate an evaluation dataset",
		Long:  "Load a dataset file, check its structure, and print summary statistics.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(args[0])
		},
	}
	return cmd
}

// runEvaluation executes the run command.
func runEvaluation(ctx context.Context, opts *RunOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt signal, cancelling...")
		cancel()
	}()

	kValues, err := parseKValues(opts.KValues)
	if err != nil {
		return err
	}

	searchType, err := parseSearchType(opts.SearchType)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	log.SetDefault()

	var objects *storage.MinIOStorage
	if opts.FromStorage || opts.Upload {
		objects, err = storage.NewMinIOStorage(storage.MinIOConfig{
			Endpoint:        cfg.Storage.Endpoint,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			BucketName:      cfg.Storage.BucketName,
			UseSSL:          cfg.Storage.UseSSL,
			Region:          cfg.Storage.Region,
		})
		if err != nil {
			return fmt.Errorf("failed to create object storage client: %w", err)
		}
	}

	datasetPath := opts.Dataset
	if opts.FromStorage {
		datasetPath, err = fetchDataset(ctx, objects, opts.Dataset)
		if err != nil {
			return err
		}
		defer os.Remove(datasetPath)
	}

	dataset, err := evaluation.LoadDataset(datasetPath)
	if err != nil {
		return err
	}
	if dataset.Name == "" {
		dataset.Name = strings.TrimSuffix(filepath.Base(opts.Dataset), ".json")
	}

	log.Info("dataset loaded",
		"name", dataset.Name,
		"queries", len(dataset.Examples),
		"k_values", kValues,
	)

	retriever, err := buildRetriever(cfg, log, searchType, opts.MinScore)
	if err != nil {
		return err
	}

	runnerCfg := evaluation.DefaultRunnerConfig()
	runnerCfg.KValues = kValues
	runnerCfg.TopK = opts.TopK
	runnerCfg.IncludePerQuery = opts.PerQuery

	runner := evaluation.NewRunner(retriever, runnerCfg, log.Logger)

	bar := progressbar.NewOptions(len(dataset.Examples),
		progressbar.OptionSetDescription("Evaluating queries"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	runner.Progress = func(done, total int) {
		bar.Set(done)
	}

	result, err := runner.Run(ctx, dataset)
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}
	fmt.Println()

	if err := result.Report.Save(opts.Output); err != nil {
		return err
	}

	printSummary(result)
	fmt.Printf("\nReport written to %s\n", opts.Output)

	if opts.Upload {
		prefix, err := uploadReport(ctx, objects, dataset.Name, opts.Output)
		if err != nil {
			return err
		}
		fmt.Printf("Report uploaded to %s\n", prefix)
	}

	return nil
}

// fetchDataset downloads a shared dataset from the bucket into a temp file
// so it can go through the same load and validation path as a local one.
func fetchDataset(ctx context.Context, objects *storage.MinIOStorage, name string) (string, error) {
	data, err := objects.Download(ctx, storage.BuildDatasetPath(name))
	if err != nil {
		return "", fmt.Errorf("failed to download dataset %q: %w", name, err)
	}

	tmp, err := os.CreateTemp("", "eval-dataset-*.json")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write temp dataset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close temp dataset: %w", err)
	}

	return tmp.Name(), nil
}

// uploadReport pushes the saved report bundle under a run-scoped prefix.
func uploadReport(ctx context.Context, objects *storage.MinIOStorage, datasetName, outputDir string) (string, error) {
	runID := fmt.Sprintf("%s-%s", sanitizeRunID(datasetName), time.Now().UTC().Format("20060102-150405"))

	files := map[string]string{
		"results.json": "application/json",
		"report.md":    "text/markdown",
		"charts.json":  "application/json",
	}
	for name, contentType := range files {
		data, err := os.ReadFile(filepath.Join(outputDir, name))
		if os.IsNotExist(err) {
			// charts.json is absent for degenerate runs
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", name, err)
		}
		if _, err := objects.UploadBytes(ctx, data, storage.BuildReportPath(runID, name), contentType); err != nil {
			return "", fmt.Errorf("failed to upload %s: %w", name, err)
		}
	}

	return storage.BuildReportPath(runID, ""), nil
}

// sanitizeRunID keeps run prefixes to characters safe in object keys.
func sanitizeRunID(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, name)
}

// runValidate executes the validate command.
func runValidate(path string) error {
	dataset, err := evaluation.LoadDataset(path)
	if err != nil {
		return err
	}

	universe := dataset.RelevantIDUniverse()
	withoutRelevant := 0
	for i := range dataset.Examples {
		if len(dataset.Examples[i].RelevantDocIDs) == 0 {
			withoutRelevant++
		}
	}

	fmt.Println("=== Dataset Summary ===")
	fmt.Printf("Name:                 %s\n", dataset.Name)
	fmt.Printf("Queries:              %d\n", len(dataset.Examples))
	fmt.Printf("Distinct relevant IDs:%d\n", len(universe))
	fmt.Printf("Queries w/o relevant: %d\n", withoutRelevant)
	if withoutRelevant > 0 {
		fmt.Println("\nNote: queries without relevant IDs are excluded from recall aggregation.")
	}
	fmt.Println("Dataset is valid.")

	return nil
}

// buildRetriever wires the live retrieval stack behind the ranked-ID contract.
func buildRetriever(cfg *config.Config, log *logger.Logger, searchType rag.SearchType, minScore float64) (*rag.ScoredRetriever, error) {
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
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.LLM.OpenAIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required for query embedding")
	}
	embCfg := embedder.DefaultConfig(cfg.LLM.OpenAIKey)
	embCfg.Model = cfg.LLM.EmbeddingModel
	emb, err := embedder.NewOpenAIEmbedder(embCfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	vectorStore := storage.NewPgVectorStore(db, log.Logger)
	retriever := rag.NewRetriever(vectorStore, emb, storage.NewNullCacheManager(), log.Logger, rag.DefaultRetrieverConfig())

	return rag.NewScoredRetriever(retriever, searchType, minScore), nil
}

// parseKValues parses the comma-separated cutoff list.
func parseKValues(raw string) ([]int, error) {
	parts := strings.Split(raw, ",")
	seen := make(map[int]bool, len(parts))
	kValues := make([]int, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid K value %q", part)
		}
		if k <= 0 {
			return nil, fmt.Errorf("K values must be positive, got %d", k)
		}
		if !seen[k] {
			seen[k] = true
			kValues = append(kValues, k)
		}
	}

	if len(kValues) == 0 {
		return nil, fmt.Errorf("no K values specified")
	}
	sort.Ints(kValues)
	return kValues, nil
}

// parseSearchType maps the flag value onto a retrieval search type.
func parseSearchType(raw string) (rag.SearchType, error) {
	switch strings.ToLower(raw) {
	case "semantic":
		return rag.SearchTypeSemantic, nil
	case "keyword":
		return rag.SearchTypeKeyword, nil
	case "hybrid":
		return rag.SearchTypeHybrid, nil
	default:
		return "", fmt.Errorf("unknown search type %q (valid: semantic, keyword, hybrid)", raw)
	}
}

// printSummary prints the aggregate results table.
func printSummary(result *evaluation.RunResult) {
	agg := result.Aggregate

	fmt.Println("=== Evaluation Results ===")
	fmt.Printf("Dataset:   %s\n", result.DatasetName)
	fmt.Printf("Queries:   %d (errors: %d)\n", agg.NumQueries, len(result.Errors))
	fmt.Printf("Duration:  %dms\n", result.DurationMs)

	if agg.Degenerate {
		fmt.Println("\nWARNING: degenerate run")
		fmt.Println(result.Report.Note)
		return
	}

	fmt.Printf("MRR:       %.4f\n\n", agg.MRR.Mean)

	kValues := append([]int(nil), agg.KValues...)
	sort.Ints(kValues)

	fmt.Println("K     Precision  Recall     NDCG       Hit Rate")
	for _, k := range kValues {
		ks, ok := agg.ByK[k]
		if !ok {
			continue
		}
		fmt.Printf("%-5d %-10.4f %-10.4f %-10.4f %-10.4f\n",
			k, ks.Precision.Mean, ks.Recall.Mean, ks.NDCG.Mean, ks.HitRate.Mean)
	}
}
