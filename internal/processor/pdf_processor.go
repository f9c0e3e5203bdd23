// Package processor provides document processing functionality including PDF text extraction.
package processor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/gen2brain/go-fitz"
	"github.com/google/uuid"

	"github.com/docstackhq/docstack/pkg/logger"
)

// DocumentMetadata holds metadata about a document being processed.
type DocumentMetadata struct {
	ID           string                 `json:"id"`
	Title        string                 `json:"title"`
	FileName     string                 `json:"file_name"`
	Author       string                 `json:"author"`
	Subject      string                 `json:"subject"`
	Keywords     []string               `json:"keywords"`
	CreationDate time.Time              `json:"creation_date"`
	ModDate      time.Time              `json:"mod_date"`
	Extra        map[string]interface{} `json:"extra,omitempty"`
}

// ProcessedPage represents a processed PDF page.
type ProcessedPage struct {
	PageNumber int    `json:"page_number"`
	Text       string `json:"text"`
	CharCount  int    `json:"char_count"`
	WordCount  int    `json:"word_count"`
}

// ProcessedDocument represents a fully processed PDF document.
type ProcessedDocument struct {
	ID          string           `json:"id"`
	Metadata    DocumentMetadata `json:"metadata"`
	Pages       []ProcessedPage  `json:"pages"`
	TotalPages  int              `json:"total_pages"`
	ContentHash string           `json:"content_hash"`
	ProcessedAt time.Time        `json:"processed_at"`
}

// PDFProcessor processes PDF documents for text extraction.
type PDFProcessor struct {
	log *logger.Logger
}

// NewPDFProcessor creates a new PDF processor instance.
func NewPDFProcessor(log *logger.Logger) *PDFProcessor {
	if log == nil {
		log = logger.Default()
	}

	return &PDFProcessor{
		log: log.WithComponent("pdf-processor"),
	}
}

// ProcessPDF processes a PDF file from the given path.
func (p *PDFProcessor) ProcessPDF(ctx context.Context, pdfPath string, metadata DocumentMetadata) (*ProcessedDocument, error) {
	p.log.Info("processing PDF", "path", pdfPath, "doc_id", metadata.ID)

	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	// Generate document ID if not provided
	if metadata.ID == "" {
		metadata.ID = uuid.New().String()
	}

	if err := p.extractPDFMetadata(doc, &metadata); err != nil {
		p.log.WithError(err).Warn("failed to extract PDF metadata")
	}

	contentHash, err := p.calculateFileHash(pdfPath)
	if err != nil {
		p.log.WithError(err).Warn("failed to calculate content hash")
	}

	totalPages := doc.NumPage()
	p.log.Info("PDF opened successfully", "total_pages", totalPages, "doc_id", metadata.ID)

	pages, err := p.processPages(ctx, doc, metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to process pages: %w", err)
	}

	result := &ProcessedDocument{
		ID:          metadata.ID,
		Metadata:    metadata,
		Pages:       pages,
		TotalPages:  totalPages,
		ContentHash: contentHash,
		ProcessedAt: time.Now().UTC(),
	}

	p.log.Info("PDF processed successfully", "doc_id", metadata.ID, "pages", totalPages)
	return result, nil
}

// ProcessPDFBytes processes a PDF from byte data.
func (p *PDFProcessor) ProcessPDFBytes(ctx context.Context, data []byte, metadata DocumentMetadata) (*ProcessedDocument, error) {
	// Write to temporary file
	tmpFile, err := os.CreateTemp("", "pdf-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmpFile.Name())
	defer tmpFile.Close()

	if _, err := tmpFile.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	tmpFile.Close()

	return p.ProcessPDF(ctx, tmpFile.Name(), metadata)
}

// processPages processes all pages of the PDF sequentially.
// Note: Sequential processing is used because the fitz library may not be thread-safe
// for concurrent page access on the same document.
func (p *PDFProcessor) processPages(ctx context.Context, doc *fitz.Document, metadata DocumentMetadata) ([]ProcessedPage, error) {
	totalPages := doc.NumPage()
	if totalPages == 0 {
		return nil, nil
	}

	pages := make([]ProcessedPage, totalPages)
	var errs []error

	for i := 0; i < totalPages; i++ {
		// Check context before processing each page
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		page, err := p.processPage(doc, i, metadata)
		if err != nil {
			errs = append(errs, fmt.Errorf("page %d: %w", i+1, err))
			continue
		}
		pages[i] = page
	}

	if len(errs) > 0 {
		p.log.Warn("some pages failed to process", "error_count", len(errs))
	}

	return pages, nil
}

// processPage extracts and cleans text from a single PDF page.
func (p *PDFProcessor) processPage(doc *fitz.Document, pageIdx int, metadata DocumentMetadata) (ProcessedPage, error) {
	pageNum := pageIdx + 1
	p.log.Debug("processing page", "page", pageNum, "doc_id", metadata.ID)

	result := ProcessedPage{
		PageNumber: pageNum,
	}

	text, err := doc.Text(pageIdx)
	if err != nil {
		return result, fmt.Errorf("failed to extract text: %w", err)
	}

	cleaned := CleanText(text)
	result.Text = cleaned
	result.CharCount = len(cleaned)
	result.WordCount = len(strings.Fields(cleaned))

	return result, nil
}

// extractPDFMetadata extracts metadata from PDF document.
func (p *PDFProcessor) extractPDFMetadata(doc *fitz.Document, metadata *DocumentMetadata) error {
	pdfMetadata := doc.Metadata()

	if metadata.Title == "" {
		if title, ok := pdfMetadata["title"]; ok {
			metadata.Title = title
		}
	}

	if metadata.Author == "" {
		if author, ok := pdfMetadata["author"]; ok {
			metadata.Author = author
		}
	}

	if metadata.Subject == "" {
		if subject, ok := pdfMetadata["subject"]; ok {
			metadata.Subject = subject
		}
	}

	if keywords, ok := pdfMetadata["keywords"]; ok && len(metadata.Keywords) == 0 {
		metadata.Keywords = parseKeywords(keywords)
	}

	if creationDate, ok := pdfMetadata["creationDate"]; ok {
		if t := parsePDFDate(creationDate); !t.IsZero() {
			metadata.CreationDate = t
		}
	}

	if modDate, ok := pdfMetadata["modDate"]; ok {
		if t := parsePDFDate(modDate); !t.IsZero() {
			metadata.ModDate = t
		}
	}

	// Fall back to the file name when the PDF carries no title
	if metadata.Title == "" {
		metadata.Title = metadata.FileName
	}

	return nil
}

// calculateFileHash calculates SHA256 hash of a file.
func (p *PDFProcessor) calculateFileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

// GetFullText returns concatenated text from all pages.
func (pd *ProcessedDocument) GetFullText() string {
	var texts []string
	for _, page := range pd.Pages {
		if page.Text != "" {
			texts = append(texts, page.Text)
		}
	}
	return strings.Join(texts, "\n\n")
}

// GetPageText returns text for a specific page (1-indexed).
func (pd *ProcessedDocument) GetPageText(pageNum int) string {
	if pageNum < 1 || pageNum > len(pd.Pages) {
		return ""
	}
	return pd.Pages[pageNum-1].Text
}

var (
	rePageMarker = regexp.MustCompile(`(?i)Page\s+\d+\s+of\s+\d+`)
	reNewlines   = regexp.MustCompile(`\n{3,}`)
	reSpaces     = regexp.MustCompile(`[ \t]+`)
)

// CleanText cleans and normalizes extracted text: removes page markers,
// form feeds, null characters, and collapses excess whitespace.
func CleanText(text string) string {
	// Remove null characters and form feeds
	text = strings.ReplaceAll(text, "\x00", "")
	text = strings.ReplaceAll(text, "\f", "")

	// Normalize line endings
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	// Remove page number markers left over from headers and footers
	text = rePageMarker.ReplaceAllString(text, "")

	// Normalize spaces
	text = reSpaces.ReplaceAllString(text, " ")

	// Trim whitespace from each line
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")

	// Remove excessive newlines
	text = reNewlines.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}

// parseKeywords parses a keywords string into a slice.
func parseKeywords(keywords string) []string {
	delimiters := regexp.MustCompile(`[,;]`)
	parts := delimiters.Split(keywords, -1)

	var result []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}

	return result
}

// parsePDFDate parses a PDF date string.
func parsePDFDate(dateStr string) time.Time {
	// PDF date format: D:YYYYMMDDHHmmSSOHH'mm'
	// Example: D:20230615120000+05'30'

	dateStr = strings.TrimPrefix(dateStr, "D:")

	formats := []string{
		"20060102150405",
		"20060102150405Z07'00'",
		"20060102150405-07'00'",
		"20060102150405+07'00'",
		"20060102",
		"2006-01-02T15:04:05Z",
		"2006-01-02",
	}

	// Clean up timezone format
	dateStr = strings.ReplaceAll(dateStr, "'", "")

	for _, format := range formats {
		if t, err := time.Parse(format, dateStr); err == nil {
			return t
		}
	}

	return time.Time{}
}

// IsValidPDF checks if a file is a valid PDF.
func IsValidPDF(path string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	// Read first 5 bytes to check PDF magic number
	header := make([]byte, 5)
	if _, err := file.Read(header); err != nil {
		return false
	}

	return string(header) == "%PDF-"
}

// IsValidPDFBytes checks if byte data is a valid PDF.
func IsValidPDFBytes(data []byte) bool {
	if len(data) < 5 {
		return false
	}
	return string(data[:5]) == "%PDF-"
}

// GetPDFInfo returns basic info about a PDF without full processing.
func GetPDFInfo(path string) (*PDFInfo, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	metadata := doc.Metadata()

	info := &PDFInfo{
		NumPages: doc.NumPage(),
		Title:    metadata["title"],
		Author:   metadata["author"],
		Subject:  metadata["subject"],
		Keywords: metadata["keywords"],
	}

	if stat, err := os.Stat(path); err == nil {
		info.FileSize = stat.Size()
	}

	return info, nil
}

// PDFInfo holds basic information about a PDF.
type PDFInfo struct {
	NumPages int    `json:"num_pages"`
	FileSize int64  `json:"file_size"`
	Title    string `json:"title"`
	Author   string `json:"author"`
	Subject  string `json:"subject"`
	Keywords string `json:"keywords"`
}
