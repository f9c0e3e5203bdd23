// Package handlers provides HTTP request handlers for the API.
package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docstackhq/docstack/internal/ingest"
	"github.com/docstackhq/docstack/internal/rag"
	"github.com/docstackhq/docstack/internal/realtime"
	"github.com/docstackhq/docstack/internal/storage"
)

// ===========================
// Mock Implementations
// ===========================

// MockDocumentStore implements DocumentStore for testing.
type MockDocumentStore struct {
	documents map[string]*storage.Document
	jobs      map[string]*storage.SummaryJob
	healthErr error
	createErr error
}

func NewMockDocumentStore() *MockDocumentStore {
	return &MockDocumentStore{
		documents: make(map[string]*storage.Document),
		jobs:      make(map[string]*storage.SummaryJob),
	}
}

func (m *MockDocumentStore) Health(ctx context.Context) error {
	return m.healthErr
}

func (m *MockDocumentStore) GetDocument(ctx context.Context, id string) (*storage.Document, error) {
	doc, ok := m.documents[id]
	if !ok {
		return nil, errors.New("document not found")
	}
	return doc, nil
}

func (m *MockDocumentStore) ListDocuments(ctx context.Context, limit, offset int) ([]storage.Document, error) {
	var result []storage.Document
	for _, doc := range m.documents {
		result = append(result, *doc)
	}
	if offset > len(result) {
		return nil, nil
	}
	end := offset + limit
	if end > len(result) {
		end = len(result)
	}
	return result[offset:end], nil
}

func (m *MockDocumentStore) CountDocuments(ctx context.Context) (int, error) {
	return len(m.documents), nil
}

func (m *MockDocumentStore) CreateSummaryJob(ctx context.Context, job *storage.SummaryJob) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.jobs[job.ID.String()] = job
	return nil
}

func (m *MockDocumentStore) GetSummaryJob(ctx context.Context, id string) (*storage.SummaryJob, error) {
	job, ok := m.jobs[id]
	if !ok {
		return nil, errors.New("job not found")
	}
	return job, nil
}

// AddDocument adds a test document to the mock store.
func (m *MockDocumentStore) AddDocument(doc *storage.Document) {
	m.documents[doc.ID.String()] = doc
}

// MockObjectStorage implements ObjectStorage for testing.
type MockObjectStorage struct {
	healthErr    error
	signedURLErr error
	existsErr    error
	exists       bool
}

func NewMockObjectStorage() *MockObjectStorage {
	return &MockObjectStorage{
		exists: true,
	}
}

func (m *MockObjectStorage) Health(ctx context.Context) error {
	return m.healthErr
}

func (m *MockObjectStorage) GenerateSignedURL(ctx context.Context, path string, expiry time.Duration) (string, error) {
	if m.signedURLErr != nil {
		return "", m.signedURLErr
	}
	return "https://storage.example.com/signed/" + path, nil
}

func (m *MockObjectStorage) Exists(ctx context.Context, path string) (bool, error) {
	if m.existsErr != nil {
		return false, m.existsErr
	}
	return m.exists, nil
}

// MockIngestor implements Ingestor for testing.
type MockIngestor struct {
	result    *ingest.Result
	ingestErr error
	removeErr error
	removed   []string
}

func NewMockIngestor() *MockIngestor {
	return &MockIngestor{
		result: &ingest.Result{
			Document: &storage.Document{
				ID:     uuid.New(),
				Title:  "Uploaded document",
				Status: storage.DocumentStatusReady,
			},
			ChunkCount: 12,
		},
	}
}

func (m *MockIngestor) Ingest(ctx context.Context, filename string, data []byte) (*ingest.Result, error) {
	if m.ingestErr != nil {
		return m.result, m.ingestErr
	}
	return m.result, nil
}

func (m *MockIngestor) Remove(ctx context.Context, documentID string) error {
	if m.removeErr != nil {
		return m.removeErr
	}
	m.removed = append(m.removed, documentID)
	return nil
}

// MockAnswerService implements AnswerService for testing.
type MockAnswerService struct {
	answer *rag.Answer
	askErr error
}

func NewMockAnswerService() *MockAnswerService {
	return &MockAnswerService{
		answer: &rag.Answer{
			Text:       "Revenue grew 12% year over year [1].",
			Citations:  []rag.Citation{{Index: 1, DocumentTitle: "Annual Report", Page: 3}},
			Model:      "test-model",
			TokensUsed: 100,
		},
	}
}

func (m *MockAnswerService) Ask(ctx context.Context, question string) (*rag.Answer, error) {
	if m.askErr != nil {
		return nil, m.askErr
	}
	return m.answer, nil
}

// MockJobPublisher implements JobPublisher for testing.
type MockJobPublisher struct {
	published  []realtime.SummaryRequestedEvent
	publishErr error
}

func (m *MockJobPublisher) PublishSummaryRequested(ctx context.Context, event realtime.SummaryRequestedEvent) error {
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, event)
	return nil
}

// ===========================
// Test Helper Functions
// ===========================

func testLogger() *slog.Logger {
	return slog.Default()
}

type testDeps struct {
	db        *MockDocumentStore
	storage   *MockObjectStorage
	ingestor  *MockIngestor
	answers   *MockAnswerService
	publisher *MockJobPublisher
}

func newTestDeps() *testDeps {
	return &testDeps{
		db:        NewMockDocumentStore(),
		storage:   NewMockObjectStorage(),
		ingestor:  NewMockIngestor(),
		answers:   NewMockAnswerService(),
		publisher: &MockJobPublisher{},
	}
}

func createTestRouter(deps *testDeps) *chi.Mux {
	r := chi.NewRouter()
	logger := testLogger()

	r.Get("/health", HealthCheck())
	r.Get("/ready", ReadyCheck(deps.db, deps.storage, nil))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/query", HandleQuery(deps.answers, logger))

		r.Route("/documents", func(r chi.Router) {
			r.Post("/", HandleUploadDocument(deps.ingestor, 10<<20, logger))
			r.Get("/", ListDocuments(deps.db, logger))
			r.Get("/{id}", GetDocument(deps.db, logger))
			r.Delete("/{id}", DeleteDocument(deps.ingestor, logger))
			r.Get("/{id}/download", HandleDownload(deps.db, deps.storage, logger))
			r.Post("/{id}/summarize", HandleSummarizeDocument(deps.db, deps.publisher, logger))
		})

		r.Get("/jobs/{id}", GetSummaryJob(deps.db, logger))
	})

	return r
}

func testDocument(status string) *storage.Document {
	now := time.Now()
	return &storage.Document{
		ID:        uuid.New(),
		Title:     "Annual Report",
		FileName:  sqlString("annual-report.pdf"),
		ObjectKey: sqlString("originals/x/annual-report.pdf"),
		Status:    status,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func multipartPDF(t *testing.T, filename string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.7 test content"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	return &buf, writer.FormDataContentType()
}

// ===========================
// Health Check Tests
// ===========================

func TestHealthCheck(t *testing.T) {
	handler := HealthCheck()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var response HealthStatus
	err := json.NewDecoder(rec.Body).Decode(&response)
	require.NoError(t, err)

	assert.Equal(t, "healthy", response.Status)
	assert.Equal(t, "docstack", response.Service)
	assert.NotEmpty(t, response.Version)
	assert.NotEmpty(t, response.Timestamp)
}

func TestReadyCheck_AllHealthy(t *testing.T) {
	deps := newTestDeps()
	handler := ReadyCheck(deps.db, deps.storage, nil)
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var response ReadyStatus
	err := json.NewDecoder(rec.Body).Decode(&response)
	require.NoError(t, err)

	assert.Equal(t, "ready", response.Status)
	assert.Equal(t, "healthy", response.Components["database"])
	assert.Equal(t, "healthy", response.Components["object_storage"])
	assert.Equal(t, "not configured", response.Components["broker"])
}

func TestReadyCheck_DatabaseUnhealthy(t *testing.T) {
	deps := newTestDeps()
	deps.db.healthErr = errors.New("connection refused")

	handler := ReadyCheck(deps.db, deps.storage, nil)
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var response ReadyStatus
	err := json.NewDecoder(rec.Body).Decode(&response)
	require.NoError(t, err)

	assert.Equal(t, "not ready", response.Status)
	assert.Contains(t, response.Components["database"], "unhealthy")
}

func TestReadyCheck_NilDependencies(t *testing.T) {
	handler := ReadyCheck(nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var response ReadyStatus
	err := json.NewDecoder(rec.Body).Decode(&response)
	require.NoError(t, err)

	assert.Equal(t, "ready", response.Status)
	assert.Equal(t, "not configured", response.Components["database"])
	assert.Equal(t, "not configured", response.Components["object_storage"])
}

// ===========================
// Query Handler Tests
// ===========================

func TestHandleQuery_Success(t *testing.T) {
	deps := newTestDeps()
	router := createTestRouter(deps)

	body := `{"question": "How did revenue change?"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/query", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var response QueryResponse
	err := json.NewDecoder(rec.Body).Decode(&response)
	require.NoError(t, err)

	assert.Contains(t, response.Answer, "Revenue grew")
	assert.Len(t, response.Citations, 1)
	assert.Equal(t, 1, response.Metadata.SourcesUsed)
	assert.Equal(t, "test-model", response.Metadata.ModelUsed)
}

func TestHandleQuery_InvalidJSON(t *testing.T) {
	deps := newTestDeps()
	router := createTestRouter(deps)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/query", bytes.NewBufferString("{invalid json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleQuery_EmptyQuestion(t *testing.T) {
	deps := newTestDeps()
	router := createTestRouter(deps)

	body := `{"question": "   "}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/query", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandleQuery_ServiceError(t *testing.T) {
	deps := newTestDeps()
	deps.answers.askErr = errors.New("provider unavailable")
	router := createTestRouter(deps)

	body := `{"question": "How did revenue change?"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/query", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleQuery_NilService(t *testing.T) {
	router := chi.NewRouter()
	router.Post("/api/v1/query", HandleQuery(nil, testLogger()))

	body := `{"question": "anything"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/query", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// ===========================
// Document Handler Tests
// ===========================

func TestHandleUploadDocument_Success(t *testing.T) {
	deps := newTestDeps()
	router := createTestRouter(deps)

	body, contentType := multipartPDF(t, "report.pdf")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)

	var response UploadResponse
	err := json.NewDecoder(rec.Body).Decode(&response)
	require.NoError(t, err)

	assert.Equal(t, "Uploaded document", response.Document.Title)
	assert.Equal(t, 12, response.ChunkCount)
}

func TestHandleUploadDocument_MissingFile(t *testing.T) {
	deps := newTestDeps()
	router := createTestRouter(deps)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	require.NoError(t, writer.WriteField("name", "no file here"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleUploadDocument_InvalidPDF(t *testing.T) {
	deps := newTestDeps()
	deps.ingestor.ingestErr = ingest.ErrInvalidPDF
	router := createTestRouter(deps)

	body, contentType := multipartPDF(t, "report.pdf")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleUploadDocument_Duplicate(t *testing.T) {
	deps := newTestDeps()
	deps.ingestor.ingestErr = ingest.ErrDuplicateDocument
	router := createTestRouter(deps)

	body, contentType := multipartPDF(t, "report.pdf")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListDocuments(t *testing.T) {
	deps := newTestDeps()
	deps.db.AddDocument(testDocument(storage.DocumentStatusReady))
	deps.db.AddDocument(testDocument(storage.DocumentStatusProcessing))
	router := createTestRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Data       []DocumentView `json:"data"`
		Pagination Pagination     `json:"pagination"`
	}
	err := json.NewDecoder(rec.Body).Decode(&response)
	require.NoError(t, err)

	assert.Len(t, response.Data, 2)
	assert.Equal(t, 2, response.Pagination.Total)
	assert.False(t, response.Pagination.HasMore)
}

func TestGetDocument_Success(t *testing.T) {
	deps := newTestDeps()
	doc := testDocument(storage.DocumentStatusReady)
	deps.db.AddDocument(doc)
	router := createTestRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+doc.ID.String(), nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var view DocumentView
	err := json.NewDecoder(rec.Body).Decode(&view)
	require.NoError(t, err)

	assert.Equal(t, doc.ID.String(), view.ID)
	assert.Equal(t, "Annual Report", view.Title)
	assert.Equal(t, "annual-report.pdf", view.FileName)
}

func TestGetDocument_NotFound(t *testing.T) {
	deps := newTestDeps()
	router := createTestRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+uuid.New().String(), nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetDocument_InvalidID(t *testing.T) {
	deps := newTestDeps()
	router := createTestRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/not-a-uuid", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteDocument(t *testing.T) {
	deps := newTestDeps()
	doc := testDocument(storage.DocumentStatusReady)
	deps.db.AddDocument(doc)
	router := createTestRouter(deps)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/documents/"+doc.ID.String(), nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{doc.ID.String()}, deps.ingestor.removed)
}

func TestHandleDownload_RedirectsToSignedURL(t *testing.T) {
	deps := newTestDeps()
	doc := testDocument(storage.DocumentStatusReady)
	deps.db.AddDocument(doc)
	router := createTestRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+doc.ID.String()+"/download", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "storage.example.com/signed/")
}

func TestHandleDownload_FileMissing(t *testing.T) {
	deps := newTestDeps()
	deps.storage.exists = false
	doc := testDocument(storage.DocumentStatusReady)
	deps.db.AddDocument(doc)
	router := createTestRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+doc.ID.String()+"/download", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ===========================
// Summary Job Tests
// ===========================

func TestHandleSummarizeDocument_Success(t *testing.T) {
	deps := newTestDeps()
	doc := testDocument(storage.DocumentStatusReady)
	deps.db.AddDocument(doc)
	router := createTestRouter(deps)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/"+doc.ID.String()+"/summarize", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)

	var view JobView
	err := json.NewDecoder(rec.Body).Decode(&view)
	require.NoError(t, err)

	assert.Equal(t, doc.ID.String(), view.DocumentID)
	assert.Equal(t, storage.JobStatusPending, view.Status)

	require.Len(t, deps.publisher.published, 1)
	assert.Equal(t, view.ID, deps.publisher.published[0].JobID)
	assert.Equal(t, doc.ID.String(), deps.publisher.published[0].DocumentID)
}

func TestHandleSummarizeDocument_NotReady(t *testing.T) {
	deps := newTestDeps()
	doc := testDocument(storage.DocumentStatusProcessing)
	deps.db.AddDocument(doc)
	router := createTestRouter(deps)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/"+doc.ID.String()+"/summarize", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, deps.publisher.published)
}

func TestHandleSummarizeDocument_PublishFailure(t *testing.T) {
	deps := newTestDeps()
	deps.publisher.publishErr = errors.New("broker down")
	doc := testDocument(storage.DocumentStatusReady)
	deps.db.AddDocument(doc)
	router := createTestRouter(deps)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/"+doc.ID.String()+"/summarize", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetSummaryJob_Success(t *testing.T) {
	deps := newTestDeps()
	job := &storage.SummaryJob{
		ID:          uuid.New(),
		DocumentID:  uuid.New(),
		Status:      storage.JobStatusRunning,
		ChunksTotal: 8,
		ChunksDone:  3,
		CreatedAt:   time.Now(),
	}
	deps.db.jobs[job.ID.String()] = job
	router := createTestRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID.String(), nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var view JobView
	err := json.NewDecoder(rec.Body).Decode(&view)
	require.NoError(t, err)

	assert.Equal(t, storage.JobStatusRunning, view.Status)
	assert.Equal(t, 8, view.ChunksTotal)
	assert.Equal(t, 3, view.ChunksDone)
}

func TestGetSummaryJob_NotFound(t *testing.T) {
	deps := newTestDeps()
	router := createTestRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+uuid.New().String(), nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ===========================
// Query Request Validation Tests
// ===========================

func TestValidateQueryRequest_Valid(t *testing.T) {
	req := &QueryRequestBody{
		Question: "How did revenue change?",
	}

	errs := ValidateQueryRequest(req)
	assert.Empty(t, errs)
}

func TestValidateQueryRequest_EmptyQuestion(t *testing.T) {
	req := &QueryRequestBody{
		Question: "   ",
	}

	errs := ValidateQueryRequest(req)
	assert.Len(t, errs, 1)
	assert.Equal(t, "question", errs[0].Field)
}

func TestValidateQueryRequest_QuestionTooLong(t *testing.T) {
	long := make([]byte, 2001)
	for i := range long {
		long[i] = 'a'
	}

	req := &QueryRequestBody{
		Question: string(long),
	}

	errs := ValidateQueryRequest(req)
	assert.Len(t, errs, 1)
	assert.Equal(t, "question", errs[0].Field)
	assert.Contains(t, errs[0].Message, "2000")
}

// ===========================
// Response Helper Tests
// ===========================

func TestRespondJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	data := map[string]string{"key": "value"}

	RespondJSON(rec, http.StatusOK, data)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var response map[string]string
	err := json.NewDecoder(rec.Body).Decode(&response)
	require.NoError(t, err)
	assert.Equal(t, "value", response["key"])
}

func TestRespondError(t *testing.T) {
	rec := httptest.NewRecorder()

	RespondError(rec, http.StatusBadRequest, ErrCodeBadRequest, "Test error")

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var response ErrorResponse
	err := json.NewDecoder(rec.Body).Decode(&response)
	require.NoError(t, err)
	assert.Equal(t, ErrCodeBadRequest, response.Error.Code)
	assert.Equal(t, "Test error", response.Error.Message)
}

func TestRespondNoContent(t *testing.T) {
	rec := httptest.NewRecorder()

	RespondNoContent(rec)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

// ===========================
// Integration Test with Full Router
// ===========================

func TestFullAPIWorkflow(t *testing.T) {
	deps := newTestDeps()
	router := createTestRouter(deps)

	// 1. Check health
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// 2. Check readiness
	req = httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// 3. Upload a document
	body, contentType := multipartPDF(t, "report.pdf")
	req = httptest.NewRequest(http.MethodPost, "/api/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)

	var uploaded UploadResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&uploaded))

	// Make the uploaded document visible to the store-backed handlers.
	deps.db.AddDocument(deps.ingestor.result.Document)
	docID := uploaded.Document.ID

	// 4. Request a summary
	req = httptest.NewRequest(http.MethodPost, "/api/v1/documents/"+docID+"/summarize", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var job JobView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&job))

	// 5. Poll the job
	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// 6. Ask a question
	req = httptest.NewRequest(http.MethodPost, "/api/v1/query", bytes.NewBufferString(`{"question": "How did revenue change?"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// 7. Delete the document
	req = httptest.NewRequest(http.MethodDelete, "/api/v1/documents/"+docID, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

// ===========================
// Benchmark Tests
// ===========================

func BenchmarkHealthCheck(b *testing.B) {
	handler := HealthCheck()

	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
	}
}

func BenchmarkQueryValidation(b *testing.B) {
	req := &QueryRequestBody{
		Question: "How did revenue change year over year?",
	}

	for i := 0; i < b.N; i++ {
		ValidateQueryRequest(req)
	}
}

func sqlString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}
