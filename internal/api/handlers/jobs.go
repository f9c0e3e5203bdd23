// Package handlers provides HTTP request handlers for the API.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/docstackhq/docstack/internal/realtime"
	"github.com/docstackhq/docstack/internal/storage"
)

// HandleSummarizeDocument returns a handler that creates a summary job
// for a document and enqueues it on the broker. The job runs
// asynchronously; progress is observable via GET /jobs/{id} and the
// WebSocket feed.
// POST /api/v1/documents/{id}/summarize
func HandleSummarizeDocument(db DocumentStore, publisher JobPublisher, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		id, ok := parseDocumentID(w, r, logger)
		if !ok {
			return
		}

		if db == nil {
			RespondServiceUnavailable(w, "Database service not available")
			return
		}
		if publisher == nil {
			RespondServiceUnavailable(w, "Job queue not available")
			return
		}

		doc, err := db.GetDocument(ctx, id)
		if err != nil {
			logger.Warn("document not found", "id", id, "error", err)
			RespondNotFound(w, "Document not found")
			return
		}

		if doc.Status != storage.DocumentStatusReady {
			RespondError(w, http.StatusConflict, ErrCodeConflict,
				"Document is not ready for summarization")
			return
		}

		job := &storage.SummaryJob{
			ID:         uuid.New(),
			DocumentID: doc.ID,
			Status:     storage.JobStatusPending,
		}
		if err := db.CreateSummaryJob(ctx, job); err != nil {
			logger.Error("failed to create summary job", "document_id", id, "error", err)
			RespondInternalError(w, "Failed to create summary job")
			return
		}

		event := realtime.NewSummaryRequestedEvent(job.ID.String(), doc.ID.String())
		if err := publisher.PublishSummaryRequested(ctx, event); err != nil {
			logger.Error("failed to enqueue summary job",
				"job_id", job.ID,
				"document_id", id,
				"error", err,
			)
			RespondInternalError(w, "Failed to enqueue summary job")
			return
		}

		logger.Info("summary job enqueued", "job_id", job.ID, "document_id", id)
		RespondJSON(w, http.StatusAccepted, NewJobView(job))
	}
}

// GetSummaryJob returns a handler for polling summary job status.
// GET /api/v1/jobs/{id}
func GetSummaryJob(db DocumentStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		idStr := chi.URLParam(r, "id")
		if _, err := uuid.Parse(idStr); err != nil {
			logger.Warn("invalid job ID", "id", idStr, "error", err)
			RespondBadRequest(w, "Invalid job ID")
			return
		}

		if db == nil {
			RespondServiceUnavailable(w, "Database service not available")
			return
		}

		job, err := db.GetSummaryJob(ctx, idStr)
		if err != nil {
			logger.Warn("job not found", "id", idStr, "error", err)
			RespondNotFound(w, "Job not found")
			return
		}

		RespondJSON(w, http.StatusOK, NewJobView(job))
	}
}
