// Package realtime provides messaging and live progress components.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Stream names for JetStream.
const (
	StreamJobs    = "JOBS"
	StreamUpdates = "UPDATES"
)

// Subject patterns for event routing.
const (
	SubjectSummaryRequested  = "jobs.summary.requested"
	SubjectJobProgress       = "updates.job.progress"
	SubjectJobCompleted      = "updates.job.completed"
	SubjectJobFailed         = "updates.job.failed"
	SubjectDocumentProcessed = "updates.document.processed"
)

// QueueSummaryWorkers is the queue group name for summary workers.
const QueueSummaryWorkers = "summary-workers"

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	URL            string
	ClusterID      string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// DefaultNATSConfig returns a sensible default configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            "nats://localhost:4222",
		ClusterID:      "docstack",
		MaxReconnects:  -1, // Infinite reconnects
		ReconnectWait:  2 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}
}

// NATSClient wraps NATS connection and JetStream context.
type NATSClient struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	config NATSConfig
	logger *slog.Logger
	mu     sync.RWMutex
	subs   []*nats.Subscription
}

// NewNATSClient creates a new NATS client with JetStream support.
func NewNATSClient(cfg NATSConfig, logger *slog.Logger) (*NATSClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := &NATSClient{
		config: cfg,
		logger: logger.With("component", "nats"),
		subs:   make([]*nats.Subscription, 0),
	}

	if err := client.connect(); err != nil {
		return nil, err
	}

	return client, nil
}

// connect establishes the NATS connection with retry logic.
func (c *NATSClient) connect() error {
	opts := []nats.Option{
		nats.Name(c.config.ClusterID),
		nats.MaxReconnects(c.config.MaxReconnects),
		nats.ReconnectWait(c.config.ReconnectWait),
		nats.Timeout(c.config.ConnectTimeout),
		nats.DisconnectErrHandler(func(conn *nats.Conn, err error) {
			if err != nil {
				c.logger.Warn("disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			c.logger.Info("reconnected to NATS", "url", conn.ConnectedUrl())
		}),
		nats.ClosedHandler(func(conn *nats.Conn) {
			c.logger.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(conn *nats.Conn, sub *nats.Subscription, err error) {
			c.logger.Error("NATS error", "error", err, "subject", sub.Subject)
		}),
	}

	conn, err := nats.Connect(c.config.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream(nats.PublishAsyncMaxPending(256))
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.js = js
	c.mu.Unlock()

	c.logger.Info("connected to NATS", "url", c.config.URL)
	return nil
}

// SetupStreams creates the required JetStream streams.
func (c *NATSClient) SetupStreams(ctx context.Context) error {
	streams := []nats.StreamConfig{
		{
			Name:        StreamJobs,
			Description: "Summarization job requests",
			Subjects:    []string{"jobs.>"},
			Storage:     nats.FileStorage,
			Retention:   nats.WorkQueuePolicy,
			MaxAge:      7 * 24 * time.Hour,
			MaxMsgs:     -1,
			MaxBytes:    -1,
			Replicas:    1,
			Discard:     nats.DiscardOld,
		},
		{
			Name:        StreamUpdates,
			Description: "Real-time progress and completion notifications",
			Subjects:    []string{"updates.>"},
			Storage:     nats.FileStorage,
			Retention:   nats.LimitsPolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     -1,
			MaxBytes:    -1,
			Replicas:    1,
			Discard:     nats.DiscardOld,
		},
	}

	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()

	for _, cfg := range streams {
		_, err := js.StreamInfo(cfg.Name)
		if err != nil {
			if errors.Is(err, nats.ErrStreamNotFound) {
				_, err = js.AddStream(&cfg)
				if err != nil {
					return fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
				}
				c.logger.Info("created stream", "stream", cfg.Name)
			} else {
				return fmt.Errorf("failed to get stream info for %s: %w", cfg.Name, err)
			}
		} else {
			_, err = js.UpdateStream(&cfg)
			if err != nil {
				c.logger.Warn("failed to update stream", "stream", cfg.Name, "error", err)
			} else {
				c.logger.Info("updated stream", "stream", cfg.Name)
			}
		}
	}

	return nil
}

// Publish publishes an event to a subject.
func (c *NATSClient) Publish(ctx context.Context, subject string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()

	_, err = js.Publish(subject, data, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	c.logger.Debug("published event", "subject", subject, "size", len(data))
	return nil
}

// PublishAsync publishes an event asynchronously.
func (c *NATSClient) PublishAsync(subject string, event any) (nats.PubAckFuture, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()

	future, err := js.PublishAsync(subject, data)
	if err != nil {
		return nil, fmt.Errorf("failed to publish async to %s: %w", subject, err)
	}

	return future, nil
}

// Subscribe creates a durable subscription to a subject.
func (c *NATSClient) Subscribe(
	subject string,
	handler func(*nats.Msg),
	opts ...nats.SubOpt,
) (*nats.Subscription, error) {
	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()

	sub, err := js.Subscribe(subject, handler, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	c.logger.Info("subscribed to subject", "subject", subject)
	return sub, nil
}

// QueueSubscribe creates a queue subscription for load balancing.
func (c *NATSClient) QueueSubscribe(
	subject string,
	queue string,
	handler func(*nats.Msg),
	opts ...nats.SubOpt,
) (*nats.Subscription, error) {
	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()

	sub, err := js.QueueSubscribe(subject, queue, handler, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to queue subscribe to %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	c.logger.Info("queue subscribed to subject", "subject", subject, "queue", queue)
	return sub, nil
}

// JetStream returns the underlying JetStream context.
func (c *NATSClient) JetStream() nats.JetStreamContext {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.js
}

// Conn returns the underlying NATS connection.
func (c *NATSClient) Conn() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// IsConnected returns true if connected to NATS.
func (c *NATSClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

// Health reports broker connectivity.
func (c *NATSClient) Health(ctx context.Context) error {
	if !c.IsConnected() {
		return fmt.Errorf("not connected to NATS")
	}
	return nil
}

// Drain gracefully drains all subscriptions.
func (c *NATSClient) Drain() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.logger.Warn("failed to drain subscription", "subject", sub.Subject, "error", err)
		}
	}

	if c.conn != nil {
		if err := c.conn.Drain(); err != nil {
			return fmt.Errorf("failed to drain connection: %w", err)
		}
	}

	c.logger.Info("drained all subscriptions")
	return nil
}

// Close closes the NATS connection.
func (c *NATSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.js = nil
	}

	c.logger.Info("closed NATS connection")
	return nil
}

// Event types for the real-time system.

// SummaryRequestedEvent is published when a summarization job is enqueued.
type SummaryRequestedEvent struct {
	EventID     string    `json:"event_id"`
	JobID       string    `json:"job_id"`
	DocumentID  string    `json:"document_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewSummaryRequestedEvent creates a new SummaryRequestedEvent.
func NewSummaryRequestedEvent(jobID, documentID string) SummaryRequestedEvent {
	return SummaryRequestedEvent{
		EventID:     uuid.New().String(),
		JobID:       jobID,
		DocumentID:  documentID,
		RequestedAt: time.Now().UTC(),
	}
}

// Validate checks if the event has required fields.
func (e *SummaryRequestedEvent) Validate() error {
	if e.EventID == "" {
		return errors.New("event_id is required")
	}
	if e.JobID == "" {
		return errors.New("job_id is required")
	}
	if e.DocumentID == "" {
		return errors.New("document_id is required")
	}
	return nil
}

// JobProgressEvent is published as map chunks complete.
type JobProgressEvent struct {
	EventID     string    `json:"event_id"`
	JobID       string    `json:"job_id"`
	DocumentID  string    `json:"document_id"`
	Stage       string    `json:"stage"` // "map" or "reduce"
	ChunksDone  int       `json:"chunks_done"`
	ChunksTotal int       `json:"chunks_total"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewJobProgressEvent creates a new JobProgressEvent.
func NewJobProgressEvent(jobID, documentID, stage string, done, total int) JobProgressEvent {
	return JobProgressEvent{
		EventID:     uuid.New().String(),
		JobID:       jobID,
		DocumentID:  documentID,
		Stage:       stage,
		ChunksDone:  done,
		ChunksTotal: total,
		Timestamp:   time.Now().UTC(),
	}
}

// JobCompletedEvent is published when a summarization job finishes.
type JobCompletedEvent struct {
	EventID     string    `json:"event_id"`
	JobID       string    `json:"job_id"`
	DocumentID  string    `json:"document_id"`
	Summary     string    `json:"summary"`
	CompletedAt time.Time `json:"completed_at"`
}

// NewJobCompletedEvent creates a new JobCompletedEvent.
func NewJobCompletedEvent(jobID, documentID, summary string) JobCompletedEvent {
	return JobCompletedEvent{
		EventID:     uuid.New().String(),
		JobID:       jobID,
		DocumentID:  documentID,
		Summary:     summary,
		CompletedAt: time.Now().UTC(),
	}
}

// JobFailedEvent is published when a summarization job fails.
type JobFailedEvent struct {
	EventID    string    `json:"event_id"`
	JobID      string    `json:"job_id"`
	DocumentID string    `json:"document_id"`
	Error      string    `json:"error"`
	FailedAt   time.Time `json:"failed_at"`
}

// NewJobFailedEvent creates a new JobFailedEvent.
func NewJobFailedEvent(jobID, documentID, errMsg string) JobFailedEvent {
	return JobFailedEvent{
		EventID:    uuid.New().String(),
		JobID:      jobID,
		DocumentID: documentID,
		Error:      errMsg,
		FailedAt:   time.Now().UTC(),
	}
}

// DocumentProcessedEvent is published when a document has been chunked,
// embedded and indexed.
type DocumentProcessedEvent struct {
	EventID     string    `json:"event_id"`
	DocumentID  string    `json:"document_id"`
	Title       string    `json:"title"`
	ChunkCount  int       `json:"chunk_count"`
	ProcessedAt time.Time `json:"processed_at"`
}

// NewDocumentProcessedEvent creates a new DocumentProcessedEvent.
func NewDocumentProcessedEvent(documentID, title string, chunkCount int) DocumentProcessedEvent {
	return DocumentProcessedEvent{
		EventID:     uuid.New().String(),
		DocumentID:  documentID,
		Title:       title,
		ChunkCount:  chunkCount,
		ProcessedAt: time.Now().UTC(),
	}
}

// PublishSummaryRequested publishes a summary job request.
func (c *NATSClient) PublishSummaryRequested(ctx context.Context, event SummaryRequestedEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	return c.Publish(ctx, SubjectSummaryRequested, event)
}

// PublishJobProgress publishes a job progress update.
func (c *NATSClient) PublishJobProgress(ctx context.Context, event JobProgressEvent) error {
	return c.Publish(ctx, SubjectJobProgress, event)
}

// PublishJobCompleted publishes a job completion event.
func (c *NATSClient) PublishJobCompleted(ctx context.Context, event JobCompletedEvent) error {
	return c.Publish(ctx, SubjectJobCompleted, event)
}

// PublishJobFailed publishes a job failure event.
func (c *NATSClient) PublishJobFailed(ctx context.Context, event JobFailedEvent) error {
	return c.Publish(ctx, SubjectJobFailed, event)
}

// PublishDocumentProcessed publishes a document processed event.
func (c *NATSClient) PublishDocumentProcessed(ctx context.Context, event DocumentProcessedEvent) error {
	return c.Publish(ctx, SubjectDocumentProcessed, event)
}
