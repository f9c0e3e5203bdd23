package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/docstackhq/docstack/internal/summarizer"
)

// JobConsumerConfig holds configuration for the summary job consumer.
type JobConsumerConfig struct {
	Concurrency int
	AckWait     time.Duration
	MaxDeliver  int
}

// DefaultJobConsumerConfig returns sensible defaults. AckWait is long
// because a single summarization can run for minutes on large documents.
func DefaultJobConsumerConfig() JobConsumerConfig {
	return JobConsumerConfig{
		Concurrency: 2,
		AckWait:     15 * time.Minute,
		MaxDeliver:  3,
	}
}

// JobStore tracks summarization job state.
type JobStore interface {
	MarkJobRunning(ctx context.Context, id string, chunksTotal int) error
	UpdateJobProgress(ctx context.Context, id string, chunksDone int) error
	CompleteJob(ctx context.Context, id, summary string) error
	FailJob(ctx context.Context, id, errMsg string) error
}

// DocumentSource loads the full extracted text of a document.
type DocumentSource interface {
	DocumentText(ctx context.Context, documentID string) (string, error)
}

// DocumentSummarizer produces a summary of document text.
type DocumentSummarizer interface {
	Summarize(ctx context.Context, text string, progress summarizer.ProgressFunc) (*summarizer.Result, error)
}

// JobConsumer consumes summarization jobs from the work queue, runs the
// map-reduce pipeline and publishes progress along the way.
type JobConsumer struct {
	nats       *NATSClient
	config     JobConsumerConfig
	logger     *slog.Logger
	jobs       JobStore
	documents  DocumentSource
	summarizer DocumentSummarizer
	subs       []*nats.Subscription
	sem        chan struct{}
	wg         sync.WaitGroup
	cancel     context.CancelFunc
	metrics    *JobMetrics
}

// JobMetrics holds metrics for the job consumer.
type JobMetrics struct {
	JobsProcessed   atomic.Int64
	JobsFailed      atomic.Int64
	JobsRetried     atomic.Int64
	CurrentActive   atomic.Int64
	TotalLatencyMs  atomic.Int64
	LastProcessedAt atomic.Value // time.Time
}

// NewJobMetrics creates a new JobMetrics instance.
func NewJobMetrics() *JobMetrics {
	m := &JobMetrics{}
	m.LastProcessedAt.Store(time.Time{})
	return m
}

// NewJobConsumer creates a new summary job consumer.
func NewJobConsumer(
	natsClient *NATSClient,
	cfg JobConsumerConfig,
	logger *slog.Logger,
	jobs JobStore,
	documents DocumentSource,
	docSummarizer DocumentSummarizer,
) *JobConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultJobConsumerConfig().Concurrency
	}

	return &JobConsumer{
		nats:       natsClient,
		config:     cfg,
		logger:     logger.With("component", "job_consumer"),
		jobs:       jobs,
		documents:  documents,
		summarizer: docSummarizer,
		subs:       make([]*nats.Subscription, 0),
		sem:        make(chan struct{}, cfg.Concurrency),
		metrics:    NewJobMetrics(),
	}
}

// Start subscribes to the summary job queue.
func (c *JobConsumer) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	c.logger.Info("starting job consumer",
		"concurrency", c.config.Concurrency,
		"ack_wait", c.config.AckWait,
	)

	sub, err := c.nats.JetStream().QueueSubscribe(
		SubjectSummaryRequested,
		QueueSummaryWorkers,
		func(msg *nats.Msg) {
			c.dispatch(ctx, msg)
		},
		nats.Durable("summary-worker"),
		nats.ManualAck(),
		nats.AckWait(c.config.AckWait),
		nats.MaxDeliver(c.config.MaxDeliver),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to summary jobs: %w", err)
	}
	c.subs = append(c.subs, sub)

	c.logger.Info("job consumer started")
	return nil
}

// Stop gracefully stops the consumer, waiting for in-flight jobs.
func (c *JobConsumer) Stop(ctx context.Context) error {
	c.logger.Info("stopping job consumer")

	if c.cancel != nil {
		c.cancel()
	}

	for _, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.logger.Warn("failed to drain subscription",
				"subject", sub.Subject,
				"error", err,
			)
		}
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("job consumer stopped gracefully")
	case <-ctx.Done():
		c.logger.Warn("job consumer stop timed out")
		return ctx.Err()
	}

	return nil
}

// dispatch gates job execution on the concurrency semaphore.
func (c *JobConsumer) dispatch(ctx context.Context, msg *nats.Msg) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		msg.Nak()
		return
	}

	c.wg.Add(1)
	go func() {
		defer func() {
			<-c.sem
			c.wg.Done()
		}()
		c.handleJob(ctx, msg)
	}()
}

// handleJob runs a single summarization job end to end.
func (c *JobConsumer) handleJob(ctx context.Context, msg *nats.Msg) {
	start := time.Now()
	c.metrics.CurrentActive.Add(1)
	defer func() {
		c.metrics.CurrentActive.Add(-1)
		c.metrics.TotalLatencyMs.Add(time.Since(start).Milliseconds())
	}()

	var event SummaryRequestedEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		c.logger.Error("failed to unmarshal job event", "error", err)
		// Malformed payloads will never parse; do not redeliver.
		msg.Term()
		c.metrics.JobsFailed.Add(1)
		return
	}

	log := c.logger.With("job_id", event.JobID, "document_id", event.DocumentID)
	log.Info("processing summary job", "event_id", event.EventID)

	text, err := c.documents.DocumentText(ctx, event.DocumentID)
	if err != nil {
		log.Error("failed to load document text", "error", err)
		c.retryOrFail(ctx, msg, event, fmt.Sprintf("load document: %v", err))
		return
	}

	if err := c.jobs.MarkJobRunning(ctx, event.JobID, 0); err != nil {
		log.Error("failed to mark job running", "error", err)
		msg.Nak()
		c.metrics.JobsRetried.Add(1)
		return
	}

	progress := c.progressFunc(ctx, event, log)
	result, err := c.summarizer.Summarize(ctx, text, progress)
	if err != nil {
		log.Error("summarization failed", "error", err)
		c.retryOrFail(ctx, msg, event, fmt.Sprintf("summarize: %v", err))
		return
	}

	if err := c.jobs.CompleteJob(ctx, event.JobID, result.Summary); err != nil {
		log.Error("failed to persist summary", "error", err)
		c.retryOrFail(ctx, msg, event, fmt.Sprintf("persist summary: %v", err))
		return
	}

	if err := c.nats.PublishJobCompleted(ctx, NewJobCompletedEvent(event.JobID, event.DocumentID, result.Summary)); err != nil {
		log.Warn("failed to publish completion event", "error", err)
	}

	msg.Ack()
	c.metrics.JobsProcessed.Add(1)
	c.metrics.LastProcessedAt.Store(time.Now())

	log.Info("summary job completed",
		"chunks", result.ChunksTotal,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// progressFunc builds the callback that mirrors pipeline progress into
// the job store and the updates stream. A slow store or broker must not
// stall the pipeline, so failures are logged and dropped.
func (c *JobConsumer) progressFunc(ctx context.Context, event SummaryRequestedEvent, log *slog.Logger) summarizer.ProgressFunc {
	var totalRecorded bool
	return func(stage string, done, total int) {
		if stage == summarizer.StageMap && !totalRecorded {
			totalRecorded = true
			if err := c.jobs.MarkJobRunning(ctx, event.JobID, total); err != nil {
				log.Warn("failed to record chunk total", "error", err)
			}
		}
		if done > 0 {
			if err := c.jobs.UpdateJobProgress(ctx, event.JobID, done); err != nil {
				log.Warn("failed to record progress", "error", err)
			}
		}
		progressEvent := NewJobProgressEvent(event.JobID, event.DocumentID, stage, done, total)
		if err := c.nats.PublishJobProgress(ctx, progressEvent); err != nil {
			log.Warn("failed to publish progress", "error", err)
		}
	}
}

// retryOrFail NAKs the message for redelivery, or marks the job failed
// once the delivery budget is exhausted.
func (c *JobConsumer) retryOrFail(ctx context.Context, msg *nats.Msg, event SummaryRequestedEvent, errMsg string) {
	metadata, _ := msg.Metadata()
	if metadata != nil && int(metadata.NumDelivered) >= c.config.MaxDeliver {
		c.logger.Warn("max deliveries exceeded, failing job",
			"job_id", event.JobID,
			"deliveries", metadata.NumDelivered,
		)
		if err := c.jobs.FailJob(ctx, event.JobID, errMsg); err != nil {
			c.logger.Error("failed to mark job failed", "job_id", event.JobID, "error", err)
		}
		if err := c.nats.PublishJobFailed(ctx, NewJobFailedEvent(event.JobID, event.DocumentID, errMsg)); err != nil {
			c.logger.Warn("failed to publish failure event", "error", err)
		}
		msg.Term()
		c.metrics.JobsFailed.Add(1)
		return
	}

	msg.Nak()
	c.metrics.JobsRetried.Add(1)
}

// GetMetrics returns current consumer metrics.
func (c *JobConsumer) GetMetrics() map[string]interface{} {
	lastProcessed := c.metrics.LastProcessedAt.Load().(time.Time)

	return map[string]interface{}{
		"jobs_processed":    c.metrics.JobsProcessed.Load(),
		"jobs_failed":       c.metrics.JobsFailed.Load(),
		"jobs_retried":      c.metrics.JobsRetried.Load(),
		"current_active":    c.metrics.CurrentActive.Load(),
		"total_latency_ms":  c.metrics.TotalLatencyMs.Load(),
		"last_processed_at": lastProcessed,
	}
}
