// Package storage provides database models and repository interfaces.
package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Document represents an uploaded source document.
type Document struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	Title       string          `json:"title" db:"title"`
	FileName    sql.NullString  `json:"file_name" db:"file_name"`
	ObjectKey   sql.NullString  `json:"object_key" db:"object_key"`
	ContentHash sql.NullString  `json:"content_hash" db:"content_hash"`
	TotalPages  sql.NullInt32   `json:"total_pages" db:"total_pages"`
	Status      string          `json:"status" db:"status"`
	Metadata    json.RawMessage `json:"metadata" db:"metadata"`
	IsActive    bool            `json:"is_active" db:"is_active"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// Document processing statuses.
const (
	DocumentStatusUploaded   = "uploaded"
	DocumentStatusProcessing = "processing"
	DocumentStatusReady      = "ready"
	DocumentStatusFailed     = "failed"
)

// Chunk represents a text chunk with embedding.
type Chunk struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	DocumentID  uuid.UUID       `json:"document_id" db:"document_id"`
	Content     string          `json:"content" db:"content"`
	Embedding   []float32       `json:"embedding,omitempty" db:"embedding"`
	Granularity string          `json:"granularity" db:"granularity"`
	PageNumber  sql.NullInt32   `json:"page_number" db:"page_number"`
	ChunkIndex  int             `json:"chunk_index" db:"chunk_index"`
	StartChar   sql.NullInt32   `json:"start_char" db:"start_char"`
	EndChar     sql.NullInt32   `json:"end_char" db:"end_char"`
	TokenCount  sql.NullInt32   `json:"token_count" db:"token_count"`
	Metadata    json.RawMessage `json:"metadata" db:"metadata"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// SummaryJob represents a map-reduce summarization job.
type SummaryJob struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	DocumentID  uuid.UUID       `json:"document_id" db:"document_id"`
	Status      string          `json:"status" db:"status"`
	Summary     sql.NullString  `json:"summary" db:"summary"`
	ChunksTotal int             `json:"chunks_total" db:"chunks_total"`
	ChunksDone  int             `json:"chunks_done" db:"chunks_done"`
	Error       sql.NullString  `json:"error" db:"error"`
	Metadata    json.RawMessage `json:"metadata" db:"metadata"`
	StartedAt   sql.NullTime    `json:"started_at" db:"started_at"`
	CompletedAt sql.NullTime    `json:"completed_at" db:"completed_at"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Summary job statuses.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// SearchResult represents a search result from vector similarity search.
type SearchResult struct {
	ChunkID       uuid.UUID `json:"chunk_id"`
	DocumentID    uuid.UUID `json:"document_id"`
	Content       string    `json:"content"`
	Similarity    float64   `json:"similarity"`
	PageNumber    int       `json:"page_number"`
	DocumentTitle string    `json:"document_title"`
}
