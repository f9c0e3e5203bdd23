// Package handlers provides HTTP request handlers for the API.
package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/docstackhq/docstack/internal/ingest"
)

// SignedURLExpiry is the default expiration time for signed URLs.
const SignedURLExpiry = 1 * time.Hour

// UploadResponse is returned after a successful document upload.
type UploadResponse struct {
	Document   DocumentView `json:"document"`
	ChunkCount int          `json:"chunk_count"`
}

// HandleUploadDocument returns a handler that accepts a PDF upload and
// runs it through the ingestion pipeline.
// POST /api/v1/documents (multipart form, field "file")
func HandleUploadDocument(ingestor Ingestor, maxUploadBytes int64, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if ingestor == nil {
			logger.Warn("ingestion pipeline not available")
			RespondServiceUnavailable(w, "Document upload not available")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			logger.Warn("failed to parse upload form", "error", err)
			RespondBadRequest(w, "Invalid or oversized upload")
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			RespondBadRequest(w, "Missing file field")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			logger.Error("failed to read upload", "error", err)
			RespondInternalError(w, "Failed to read uploaded file")
			return
		}

		result, err := ingestor.Ingest(ctx, header.Filename, data)
		switch {
		case errors.Is(err, ingest.ErrInvalidPDF):
			RespondBadRequest(w, "File is not a valid PDF")
			return
		case errors.Is(err, ingest.ErrDuplicateDocument):
			logger.Info("duplicate upload", "document_id", result.Document.ID)
			RespondError(w, http.StatusConflict, ErrCodeConflict, "Document already exists")
			return
		case err != nil:
			logger.Error("ingestion failed", "filename", header.Filename, "error", err)
			RespondInternalError(w, "Failed to process document")
			return
		}

		RespondCreated(w, UploadResponse{
			Document:   NewDocumentView(result.Document),
			ChunkCount: result.ChunkCount,
		})
	}
}

// ListDocuments returns a handler that lists documents with pagination.
// GET /api/v1/documents?limit=&offset=
func ListDocuments(db DocumentStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if db == nil {
			RespondServiceUnavailable(w, "Database service not available")
			return
		}

		opts := parseListOptions(r)

		docs, err := db.ListDocuments(ctx, opts.Limit, opts.Offset)
		if err != nil {
			logger.Error("failed to list documents", "error", err)
			RespondInternalError(w, "Failed to list documents")
			return
		}

		total, err := db.CountDocuments(ctx)
		if err != nil {
			logger.Error("failed to count documents", "error", err)
			RespondInternalError(w, "Failed to list documents")
			return
		}

		views := make([]DocumentView, len(docs))
		for i := range docs {
			views[i] = NewDocumentView(&docs[i])
		}

		RespondPage(w, views, NewPagination(total, opts.Limit, opts.Offset, len(views)))
	}
}

// GetDocument returns a handler for getting document information.
// GET /api/v1/documents/{id}
func GetDocument(db DocumentStore, logger *slog.Logger) http.HandlerFunc {
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

		doc, err := db.GetDocument(ctx, id)
		if err != nil {
			logger.Warn("document not found", "id", id, "error", err)
			RespondNotFound(w, "Document not found")
			return
		}

		RespondJSON(w, http.StatusOK, NewDocumentView(doc))
	}
}

// DeleteDocument returns a handler that removes a document, its chunks
// and its stored file.
// DELETE /api/v1/documents/{id}
func DeleteDocument(ingestor Ingestor, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		id, ok := parseDocumentID(w, r, logger)
		if !ok {
			return
		}

		if ingestor == nil {
			RespondServiceUnavailable(w, "Document removal not available")
			return
		}

		if err := ingestor.Remove(ctx, id); err != nil {
			logger.Warn("failed to remove document", "id", id, "error", err)
			RespondNotFound(w, "Document not found")
			return
		}

		logger.Info("document deleted", "document_id", id)
		RespondNoContent(w)
	}
}

// HandleDownload returns a handler that redirects to a signed URL for
// the original uploaded file.
// GET /api/v1/documents/{id}/download
func HandleDownload(db DocumentStore, store ObjectStorage, logger *slog.Logger) http.HandlerFunc {
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
		if store == nil {
			RespondServiceUnavailable(w, "Storage service not available")
			return
		}

		doc, err := db.GetDocument(ctx, id)
		if err != nil {
			logger.Warn("document not found", "id", id, "error", err)
			RespondNotFound(w, "Document not found")
			return
		}

		if !doc.ObjectKey.Valid || doc.ObjectKey.String == "" {
			RespondNotFound(w, "Original file not available")
			return
		}
		objectKey := doc.ObjectKey.String

		exists, err := store.Exists(ctx, objectKey)
		if err != nil {
			logger.Error("failed to check file existence", "path", objectKey, "error", err)
			RespondInternalError(w, "Failed to verify file")
			return
		}
		if !exists {
			logger.Warn("file not found in storage", "path", objectKey)
			RespondNotFound(w, "File not found")
			return
		}

		signedURL, err := store.GenerateSignedURL(ctx, objectKey, SignedURLExpiry)
		if err != nil {
			logger.Error("failed to generate signed URL", "path", objectKey, "error", err)
			RespondInternalError(w, "Failed to generate download URL")
			return
		}

		logger.Info("download initiated", "document_id", id, "path", objectKey)
		http.Redirect(w, r, signedURL, http.StatusTemporaryRedirect)
	}
}

// parseDocumentID extracts and validates the document ID path parameter.
// On failure it writes the error response and returns false.
func parseDocumentID(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (string, bool) {
	idStr := chi.URLParam(r, "id")
	if _, err := uuid.Parse(idStr); err != nil {
		logger.Warn("invalid document ID", "id", idStr, "error", err)
		RespondBadRequest(w, "Invalid document ID")
		return "", false
	}
	return idStr, true
}

// parseListOptions reads limit/offset query parameters with defaults.
func parseListOptions(r *http.Request) ListOptions {
	opts := ListOptions{Limit: 50, Offset: 0}

	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			opts.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			opts.Offset = n
		}
	}
	return opts
}
