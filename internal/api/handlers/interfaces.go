// Package handlers provides HTTP request handlers for the API.
package handlers

import (
	"context"
	"time"

	"github.com/docstackhq/docstack/internal/ingest"
	"github.com/docstackhq/docstack/internal/rag"
	"github.com/docstackhq/docstack/internal/realtime"
	"github.com/docstackhq/docstack/internal/storage"
)

// DocumentStore defines the repository operations handlers need.
type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (*storage.Document, error)
	ListDocuments(ctx context.Context, limit, offset int) ([]storage.Document, error)
	CountDocuments(ctx context.Context) (int, error)

	// Summary job operations
	CreateSummaryJob(ctx context.Context, job *storage.SummaryJob) error
	GetSummaryJob(ctx context.Context, id string) (*storage.SummaryJob, error)
}

// Ingestor runs the document intake pipeline.
type Ingestor interface {
	Ingest(ctx context.Context, filename string, data []byte) (*ingest.Result, error)
	Remove(ctx context.Context, documentID string) error
}

// ObjectStorage defines the object storage operations handlers need.
type ObjectStorage interface {
	// Health checks storage connectivity.
	Health(ctx context.Context) error

	// GenerateSignedURL generates a presigned URL for downloading.
	GenerateSignedURL(ctx context.Context, path string, expiry time.Duration) (string, error)

	// Exists checks if an object exists.
	Exists(ctx context.Context, path string) (bool, error)
}

// AnswerService answers questions grounded in the document corpus.
type AnswerService interface {
	Ask(ctx context.Context, question string) (*rag.Answer, error)
}

// JobPublisher enqueues summarization jobs on the broker.
type JobPublisher interface {
	PublishSummaryRequested(ctx context.Context, event realtime.SummaryRequestedEvent) error
}

// HealthChecker defines an interface for components that can report health.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// ListOptions holds pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DocumentView is the JSON shape documents are served as.
type DocumentView struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	FileName    string    `json:"file_name,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
	TotalPages  int       `json:"total_pages,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewDocumentView converts a storage document into its API shape.
func NewDocumentView(doc *storage.Document) DocumentView {
	view := DocumentView{
		ID:        doc.ID.String(),
		Title:     doc.Title,
		Status:    doc.Status,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	if doc.FileName.Valid {
		view.FileName = doc.FileName.String
	}
	if doc.ContentHash.Valid {
		view.ContentHash = doc.ContentHash.String
	}
	if doc.TotalPages.Valid {
		view.TotalPages = int(doc.TotalPages.Int32)
	}
	return view
}

// JobView is the JSON shape summary jobs are served as.
type JobView struct {
	ID          string     `json:"id"`
	DocumentID  string     `json:"document_id"`
	Status      string     `json:"status"`
	Summary     string     `json:"summary,omitempty"`
	ChunksTotal int        `json:"chunks_total"`
	ChunksDone  int        `json:"chunks_done"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// NewJobView converts a storage summary job into its API shape.
func NewJobView(job *storage.SummaryJob) JobView {
	view := JobView{
		ID:          job.ID.String(),
		DocumentID:  job.DocumentID.String(),
		Status:      job.Status,
		ChunksTotal: job.ChunksTotal,
		ChunksDone:  job.ChunksDone,
		CreatedAt:   job.CreatedAt,
	}
	if job.Summary.Valid {
		view.Summary = job.Summary.String
	}
	if job.Error.Valid {
		view.Error = job.Error.String
	}
	if job.StartedAt.Valid {
		t := job.StartedAt.Time
		view.StartedAt = &t
	}
	if job.CompletedAt.Valid {
		t := job.CompletedAt.Time
		view.CompletedAt = &t
	}
	return view
}
