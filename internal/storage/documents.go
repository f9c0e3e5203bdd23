// Package storage provides repositories for documents and summary jobs.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DocumentRepository provides CRUD access to documents and summary jobs.
type DocumentRepository struct {
	db     *PostgresDB
	logger *slog.Logger
}

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(db *PostgresDB, logger *slog.Logger) *DocumentRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentRepository{
		db:     db,
		logger: logger.With("component", "document_repository"),
	}
}

// CreateDocument inserts a new document record.
func (r *DocumentRepository) CreateDocument(ctx context.Context, doc *Document) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.Status == "" {
		doc.Status = DocumentStatusUploaded
	}
	metadata := doc.Metadata
	if metadata == nil {
		metadata = json.RawMessage("{}")
	}

	query := `
		INSERT INTO documents (id, title, file_name, object_key, content_hash, total_pages, status, metadata, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true)
	`
	_, err := r.db.ExecContext(ctx, query,
		doc.ID, doc.Title, doc.FileName, doc.ObjectKey,
		doc.ContentHash, doc.TotalPages, doc.Status, metadata,
	)
	if err != nil {
		r.logger.Error("failed to create document", "document_id", doc.ID, "error", err)
		return fmt.Errorf("failed to create document: %w", err)
	}

	return nil
}

// GetDocument retrieves a document by ID. Not-found surfaces as a
// wrapped sql.ErrNoRows.
func (r *DocumentRepository) GetDocument(ctx context.Context, id string) (*Document, error) {
	query := `
		SELECT id, title, file_name, object_key, content_hash, total_pages,
		       status, metadata, is_active, created_at, updated_at
		FROM documents
		WHERE id = $1
	`

	var doc Document
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&doc.ID, &doc.Title, &doc.FileName, &doc.ObjectKey,
		&doc.ContentHash, &doc.TotalPages, &doc.Status,
		&doc.Metadata, &doc.IsActive, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return &doc, nil
}

// FindByContentHash returns a document with matching content hash, if any.
func (r *DocumentRepository) FindByContentHash(ctx context.Context, hash string) (*Document, error) {
	query := `
		SELECT id, title, file_name, object_key, content_hash, total_pages,
		       status, metadata, is_active, created_at, updated_at
		FROM documents
		WHERE content_hash = $1 AND is_active = true
		LIMIT 1
	`

	var doc Document
	err := r.db.QueryRowContext(ctx, query, hash).Scan(
		&doc.ID, &doc.Title, &doc.FileName, &doc.ObjectKey,
		&doc.ContentHash, &doc.TotalPages, &doc.Status,
		&doc.Metadata, &doc.IsActive, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find document by hash: %w", err)
	}

	return &doc, nil
}

// UpdateDocumentStatus updates the processing status of a document.
func (r *DocumentRepository) UpdateDocumentStatus(ctx context.Context, id, status string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE documents SET status = $1, updated_at = now() WHERE id = $2",
		status, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("document not found: %s", id)
	}

	return nil
}

// ListDocuments returns active documents, newest first.
func (r *DocumentRepository) ListDocuments(ctx context.Context, limit, offset int) ([]Document, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, title, file_name, object_key, content_hash, total_pages,
		       status, metadata, is_active, created_at, updated_at
		FROM documents
		WHERE is_active = true
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(
			&doc.ID, &doc.Title, &doc.FileName, &doc.ObjectKey,
			&doc.ContentHash, &doc.TotalPages, &doc.Status,
			&doc.Metadata, &doc.IsActive, &doc.CreatedAt, &doc.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return docs, nil
}

// CountDocuments returns the number of active documents.
func (r *DocumentRepository) CountDocuments(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM documents WHERE is_active = true").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}

// DeleteDocument soft-deletes a document.
func (r *DocumentRepository) DeleteDocument(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE documents SET is_active = false, updated_at = now() WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("document not found: %s", id)
	}

	return nil
}

// CreateSummaryJob inserts a new summarization job.
func (r *DocumentRepository) CreateSummaryJob(ctx context.Context, job *SummaryJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = JobStatusPending
	}
	metadata := job.Metadata
	if metadata == nil {
		metadata = json.RawMessage("{}")
	}

	query := `
		INSERT INTO summary_jobs (id, document_id, status, chunks_total, chunks_done, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		job.ID, job.DocumentID, job.Status, job.ChunksTotal, job.ChunksDone, metadata,
	)
	if err != nil {
		r.logger.Error("failed to create summary job", "job_id", job.ID, "error", err)
		return fmt.Errorf("failed to create summary job: %w", err)
	}

	return nil
}

// GetSummaryJob retrieves a summary job by ID. Not-found surfaces as a
// wrapped sql.ErrNoRows.
func (r *DocumentRepository) GetSummaryJob(ctx context.Context, id string) (*SummaryJob, error) {
	query := `
		SELECT id, document_id, status, summary, chunks_total, chunks_done,
		       error, metadata, started_at, completed_at, created_at
		FROM summary_jobs
		WHERE id = $1
	`

	var job SummaryJob
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&job.ID, &job.DocumentID, &job.Status, &job.Summary,
		&job.ChunksTotal, &job.ChunksDone, &job.Error,
		&job.Metadata, &job.StartedAt, &job.CompletedAt, &job.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get summary job: %w", err)
	}

	return &job, nil
}

// MarkJobRunning marks a job as running and records chunk totals.
func (r *DocumentRepository) MarkJobRunning(ctx context.Context, id string, chunksTotal int) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE summary_jobs SET status = $1, chunks_total = $2, started_at = $3 WHERE id = $4",
		JobStatusRunning, chunksTotal, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}
	return nil
}

// UpdateJobProgress records the number of completed map chunks.
func (r *DocumentRepository) UpdateJobProgress(ctx context.Context, id string, chunksDone int) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE summary_jobs SET chunks_done = $1 WHERE id = $2", chunksDone, id)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return nil
}

// CompleteJob stores the final summary and marks the job completed.
func (r *DocumentRepository) CompleteJob(ctx context.Context, id, summary string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE summary_jobs SET status = $1, summary = $2, completed_at = $3 WHERE id = $4",
		JobStatusCompleted, summary, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// FailJob marks the job failed with an error message.
func (r *DocumentRepository) FailJob(ctx context.Context, id, errMsg string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE summary_jobs SET status = $1, error = $2, completed_at = $3 WHERE id = $4",
		JobStatusFailed, errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}
