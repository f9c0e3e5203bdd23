// Package ingest wires PDF processing, chunking, embedding and storage
// into a single document intake pipeline.
package ingest

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docstackhq/docstack/internal/chunker"
	"github.com/docstackhq/docstack/internal/embedder"
	"github.com/docstackhq/docstack/internal/processor"
	"github.com/docstackhq/docstack/internal/realtime"
	"github.com/docstackhq/docstack/internal/storage"
)

// ErrDuplicateDocument is returned when an uploaded file matches the
// content hash of an existing document.
var ErrDuplicateDocument = errors.New("document already exists")

// ErrInvalidPDF is returned when uploaded bytes are not a readable PDF.
var ErrInvalidPDF = errors.New("not a valid PDF file")

// DocumentStore is the subset of the document repository the pipeline needs.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *storage.Document) error
	GetDocument(ctx context.Context, id string) (*storage.Document, error)
	FindByContentHash(ctx context.Context, hash string) (*storage.Document, error)
	UpdateDocumentStatus(ctx context.Context, id, status string) error
	DeleteDocument(ctx context.Context, id string) error
}

// EventPublisher publishes lifecycle events after ingestion.
type EventPublisher interface {
	PublishDocumentProcessed(ctx context.Context, event realtime.DocumentProcessedEvent) error
}

// Config holds ingestion pipeline settings.
type Config struct {
	EmbedBatchSize int
}

// DefaultConfig returns a default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		EmbedBatchSize: 64,
	}
}

// / Pipeline ingests uploaded PDFs: extract text, chunk for retrieval,
// embed and store. The original file lives in object storage so the
// summary worker can recover the full text later.
type Pipeline struct {
	documents DocumentStore
	objects   storage.ObjectStorage
	vectors   storage.VectorStore
	processor *processor.PDFProcessor
	chunker   *chunker.Chunker
	embedder  embedder.Embedder
	events    EventPublisher
	config    Config
	logger    *slog.Logger
}

// New creates a Pipeline. events may be nil when no broker is configured.
func New(
	documents DocumentStore,
	objects storage.ObjectStorage,
	vectors storage.VectorStore,
	proc *processor.PDFProcessor,
	ck *chunker.Chunker,
	emb embedder.Embedder,
	events EventPublisher,
	cfg Config,
	logger *slog.Logger,
) (*Pipeline, error) {
	if documents == nil {
		return nil, fmt.Errorf("document store is required")
	}
	if objects == nil {
		return nil, fmt.Errorf("object storage is required")
	}
	if vectors == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if proc == nil {
		return nil, fmt.Errorf("processor is required")
	}
	if ck == nil {
		return nil, fmt.Errorf("chunker is required")
	}
	if emb == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = DefaultConfig().EmbedBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		documents: documents,
		objects:   objects,
		vectors:   vectors,
		processor: proc,
		chunker:   ck,
		embedder:  emb,
		events:    events,
		config:    cfg,
		logger:    logger.With("component", "ingest"),
	}, nil
}

// Result describes a completed ingestion.
type Result struct {
	Document   *storage.Document
	ChunkCount int
	Duration   time.Duration
}

// Ingest processes an uploaded PDF end to end. Duplicate uploads are
// detected by content hash and return the existing document together
// with ErrDuplicateDocument.
func (p *Pipeline) Ingest(ctx context.Context, filename string, data []byte) (*Result, error) {
	start := time.Now()

	if !processor.IsValidPDFBytes(data) {
		return nil, ErrInvalidPDF
	}

	contentHash := hashBytes(data)

	if existing, err := p.documents.FindByContentHash(ctx, contentHash); err == nil && existing != nil {
		p.logger.Info("duplicate upload detected",
			"document_id", existing.ID,
			"content_hash", contentHash[:12],
		)
		return &Result{Document: existing}, ErrDuplicateDocument
	}

	docID := uuid.New()

	processed, err := p.processor.ProcessPDFBytes(ctx, data, processor.DocumentMetadata{
		ID:       docID.String(),
		FileName: filename,
	})
	if err != nil {
		return nil, fmt.Errorf("pdf processing failed: %w", err)
	}

	title := strings.TrimSpace(processed.Metadata.Title)
	if title == "" {
		title = titleFromFilename(filename)
	}

	objectKey := storage.BuildOriginalPath(docID.String(), filename)

	doc := &storage.Document{
		ID:          docID,
		Title:       title,
		FileName:    nullString(filename),
		ObjectKey:   nullString(objectKey),
		ContentHash: nullString(contentHash),
		TotalPages:  nullInt32(processed.TotalPages),
		Status:      storage.DocumentStatusProcessing,
		IsActive:    true,
	}
	if err := p.documents.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	if _, err := p.objects.UploadBytes(ctx, data, objectKey, "application/pdf"); err != nil {
		p.failDocument(ctx, docID.String())
		return nil, fmt.Errorf("failed to store original file: %w", err)
	}

	chunkCount, err := p.indexDocument(ctx, doc, processed)
	if err != nil {
		p.failDocument(ctx, docID.String())
		return nil, err
	}

	if err := p.documents.UpdateDocumentStatus(ctx, docID.String(), storage.DocumentStatusReady); err != nil {
		return nil, fmt.Errorf("failed to mark document ready: %w", err)
	}
	doc.Status = storage.DocumentStatusReady

	if p.events != nil {
		event := realtime.NewDocumentProcessedEvent(docID.String(), title, chunkCount)
		if err := p.events.PublishDocumentProcessed(ctx, event); err != nil {
			p.logger.Warn("failed to publish document processed event",
				"document_id", docID,
				"error", err,
			)
		}
	}

	p.logger.Info("document ingested",
		"document_id", docID,
		"title", title,
		"pages", processed.TotalPages,
		"chunks", chunkCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Result{
		Document:   doc,
		ChunkCount: chunkCount,
		Duration:   time.Since(start),
	}, nil
}

// indexDocument chunks the extracted pages, embeds them and writes the
// retrieval chunks to the vector store.
func (p *Pipeline) indexDocument(ctx context.Context, doc *storage.Document, processed *processor.ProcessedDocument) (int, error) {
	pages := make([]chunker.PageContent, 0, len(processed.Pages))
	for _, page := range processed.Pages {
		pages = append(pages, chunker.PageContent{
			PageNumber: page.PageNumber,
			Text:       page.Text,
		})
	}

	chunks := p.chunker.ChunkPages(pages, chunker.ChunkMetadata{
		DocumentID:    doc.ID.String(),
		DocumentTitle: doc.Title,
	})
	if len(chunks) == 0 {
		return 0, fmt.Errorf("no text extracted from document %s", doc.ID)
	}

	for offset := 0; offset < len(chunks); offset += p.config.EmbedBatchSize {
		end := offset + p.config.EmbedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[offset:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}

		embeddings, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("embedding failed at chunk %d: %w", offset, err)
		}
		if len(embeddings) != len(batch) {
			return 0, fmt.Errorf("embedder returned %d vectors for %d chunks", len(embeddings), len(batch))
		}

		rows := make([]storage.DocumentChunk, len(batch))
		for i, c := range batch {
			rows[i] = storage.DocumentChunk{
				ID:          uuid.New(),
				DocumentID:  doc.ID,
				Content:     c.Content,
				Embedding:   embeddings[i],
				Granularity: string(c.Granularity),
				PageNumber:  c.PageNumber,
				ChunkIndex:  c.ChunkIndex,
				StartChar:   c.StartChar,
				EndChar:     c.EndChar,
				TokenCount:  c.TokenCount,
			}
		}

		if err := p.vectors.UpsertBatch(ctx, rows); err != nil {
			return 0, fmt.Errorf("vector store write failed at chunk %d: %w", offset, err)
		}
	}

	return len(chunks), nil
}

// DocumentText returns the full extracted text of a stored document.
func (p *Pipeline) DocumentText(ctx context.Context, documentID string) (string, error) {
	r := Reader{documents: p.documents, objects: p.objects, processor: p.processor}
	return r.DocumentText(ctx, documentID)
}

// Reader loads document text from the stored original file. It is the
// read-only slice of the pipeline: the summarization worker uses it
// without carrying the embedding and indexing dependencies.
type Reader struct {
	documents DocumentStore
	objects   storage.ObjectStorage
	processor *processor.PDFProcessor
}

// NewReader creates a Reader.
func NewReader(documents DocumentStore, objects storage.ObjectStorage, proc *processor.PDFProcessor) (*Reader, error) {
	if documents == nil {
		return nil, fmt.Errorf("document store is required")
	}
	if objects == nil {
		return nil, fmt.Errorf("object storage is required")
	}
	if proc == nil {
		return nil, fmt.Errorf("processor is required")
	}
	return &Reader{documents: documents, objects: objects, processor: proc}, nil
}

// DocumentText downloads the original PDF and re-extracts its text,
// which keeps the database free of duplicated page text.
func (r Reader) DocumentText(ctx context.Context, documentID string) (string, error) {
	doc, err := r.documents.GetDocument(ctx, documentID)
	if err != nil {
		return "", fmt.Errorf("failed to load document: %w", err)
	}
	if !doc.ObjectKey.Valid || doc.ObjectKey.String == "" {
		return "", fmt.Errorf("document %s has no stored file", documentID)
	}

	data, err := r.objects.Download(ctx, doc.ObjectKey.String)
	if err != nil {
		return "", fmt.Errorf("failed to download original file: %w", err)
	}

	processed, err := r.processor.ProcessPDFBytes(ctx, data, processor.DocumentMetadata{
		ID:    doc.ID.String(),
		Title: doc.Title,
	})
	if err != nil {
		return "", fmt.Errorf("text extraction failed: %w", err)
	}

	text := processed.GetFullText()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("document %s contains no extractable text", documentID)
	}
	return text, nil
}

// Remove deletes a document, its chunks and its stored file.
func (p *Pipeline) Remove(ctx context.Context, documentID string) error {
	doc, err := p.documents.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}

	if err := p.vectors.DeleteByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}

	if doc.ObjectKey.Valid && doc.ObjectKey.String != "" {
		if err := p.objects.Delete(ctx, doc.ObjectKey.String); err != nil {
			p.logger.Warn("failed to delete stored file",
				"document_id", documentID,
				"object_key", doc.ObjectKey.String,
				"error", err,
			)
		}
	}

	if err := p.documents.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	p.logger.Info("document removed", "document_id", documentID)
	return nil
}

func (p *Pipeline) failDocument(ctx context.Context, id string) {
	if err := p.documents.UpdateDocumentStatus(ctx, id, storage.DocumentStatusFailed); err != nil {
		p.logger.Error("failed to mark document failed", "document_id", id, "error", err)
	}
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt32(n int) sql.NullInt32 {
	return sql.NullInt32{Int32: int32(n), Valid: n > 0}
}

func titleFromFilename(filename string) string {
	name := filename
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	if idx := strings.LastIndex(name, "."); idx > 0 {
		name = name[:idx]
	}
	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)
	name = strings.TrimSpace(name)
	if name == "" {
		return "Untitled document"
	}
	return name
}
