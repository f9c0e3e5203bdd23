package evaluation

import (
	"context"
	"log/slog"
	"time"
)

// Retriever is the retrieval collaborator under evaluation. It returns
// chunk IDs ordered best-first for a query, up to topK of them. Identifiers
// are opaque strings; the engine makes no structural assumptions about them.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]string, error)
}

// IDLister is optionally implemented by retrievers that can enumerate the
// chunk IDs they know about. When available, the runner checks that the
// dataset's relevant IDs overlap the store's identifier space before the
// run, and warns when they do not.
type IDLister interface {
	KnownChunkIDs(ctx context.Context) (map[string]bool, error)
}

// RunnerConfig holds evaluation run configuration.
type RunnerConfig struct {
	// KValues are the cutoff depths to evaluate at.
	KValues []int

	// TopK is the retrieval depth per query. Zero means max(KValues).
	TopK int

	// QueryTimeout bounds each retrieval call.
	QueryTimeout time.Duration

	// IncludePerQuery keeps per-query detail in the report bundle.
	IncludePerQuery bool
}

// DefaultRunnerConfig returns the default run configuration.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		KValues:         []int{1, 3, 5, 10},
		QueryTimeout:    30 * time.Second,
		IncludePerQuery: true,
	}
}

// QueryError records a retrieval failure for one query. Failures never abort
// the batch; the failed query simply contributes no metrics.
type QueryError struct {
	Query string `json:"query"`
	Error string `json:"error"`
}

// RunResult is the complete outcome of one evaluation run.
type RunResult struct {
	DatasetName string          `json:"dataset_name"`
	StartedAt   time.Time       `json:"started_at"`
	DurationMs  int64           `json:"duration_ms"`
	Aggregate   AggregateResult `json:"aggregate"`
	PerQuery    []QueryMetrics  `json:"per_query,omitempty"`
	Errors      []QueryError    `json:"errors,omitempty"`
	Report      ReportBundle    `json:"-"`
}

// Runner drives a full evaluation: retrieval per example, per-query metric
// computation, aggregation and report rendering.
type Runner struct {
	retriever Retriever
	config    RunnerConfig
	logger    *slog.Logger

	// Progress, when set, is called after each query with (done, total).
	Progress func(done, total int)
}

// NewRunner creates an evaluation runner.
func NewRunner(retriever Retriever, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.KValues) == 0 {
		cfg.KValues = DefaultRunnerConfig().KValues
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultRunnerConfig().QueryTimeout
	}

	return &Runner{
		retriever: retriever,
		config:    cfg,
		logger:    logger.With("component", "evaluation"),
	}
}

// Run evaluates the dataset against the configured retriever. A completed
// run always yields a report, possibly flagged degenerate; only an invalid
// dataset or a cancelled context aborts before producing one.
func (r *Runner) Run(ctx context.Context, dataset *Dataset) (*RunResult, error) {
	if err := dataset.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	result := &RunResult{
		DatasetName: dataset.Name,
		StartedAt:   start.UTC(),
	}

	r.checkIDAlignment(ctx, dataset)

	topK := r.config.TopK
	if topK <= 0 {
		for _, k := range r.config.KValues {
			if k > topK {
				topK = k
			}
		}
	}

	r.logger.Info("starting evaluation run",
		"dataset", dataset.Name,
		"queries", len(dataset.Examples),
		"k_values", r.config.KValues,
		"top_k", topK,
	)

	perQuery := make([]QueryMetrics, 0, len(dataset.Examples))

	for i := range dataset.Examples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ex := dataset.Examples[i]

		queryCtx, cancel := context.WithTimeout(ctx, r.config.QueryTimeout)
		rankedIDs, err := r.retriever.Retrieve(queryCtx, ex.Query, topK)
		cancel()

		if err != nil {
			r.logger.Warn("retrieval failed", "query", ex.Query, "error", err)
			result.Errors = append(result.Errors, QueryError{Query: ex.Query, Error: err.Error()})
		} else {
			perQuery = append(perQuery, EvaluateQuery(rankedIDs, ex, r.config.KValues))
		}

		if r.Progress != nil {
			r.Progress(i+1, len(dataset.Examples))
		}
	}

	result.Aggregate = Aggregate(perQuery, r.config.KValues)
	if r.config.IncludePerQuery {
		result.PerQuery = perQuery
	}
	result.Report = Render(result.Aggregate, perQuery)
	result.DurationMs = time.Since(start).Milliseconds()

	if result.Aggregate.Degenerate {
		r.logger.Warn("evaluation run is degenerate: every metric mean is zero",
			"dataset", dataset.Name,
			"queries", result.Aggregate.NumQueries,
		)
	} else {
		r.logger.Info("evaluation run completed",
			"dataset", dataset.Name,
			"queries", result.Aggregate.NumQueries,
			"errors", len(result.Errors),
			"mrr", result.Aggregate.MRR.Mean,
			"duration_ms", result.DurationMs,
		)
	}

	return result, nil
}

// checkIDAlignment warns when the dataset's relevant IDs share nothing with
// the retriever's identifier space. The identifier contract is the
// load-bearing invariant of the whole engine; a silent mismatch surfaces
// later as an all-zero report that looks like bad retrieval.
func (r *Runner) checkIDAlignment(ctx context.Context, dataset *Dataset) {
	lister, ok := r.retriever.(IDLister)
	if !ok {
		return
	}

	known, err := lister.KnownChunkIDs(ctx)
	if err != nil {
		r.logger.Warn("could not list known chunk IDs for alignment check", "error", err)
		return
	}

	universe := dataset.RelevantIDUniverse()
	overlap := 0
	for id := range universe {
		if known[id] {
			overlap++
		}
	}

	if len(universe) > 0 && overlap == 0 {
		r.logger.Warn("dataset relevant IDs share no overlap with stored chunk IDs; expect an all-zero (degenerate) run",
			"dataset_ids", len(universe),
			"store_ids", len(known),
		)
		return
	}

	r.logger.Debug("identifier alignment check passed",
		"dataset_ids", len(universe),
		"overlapping", overlap,
	)
}
