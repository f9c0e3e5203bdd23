// Package handlers provides HTTP request handlers for the API.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/docstackhq/docstack/internal/rag"
)

// QueryRequestBody represents the incoming query request body.
type QueryRequestBody struct {
	Question string `json:"question"`
}

// QueryResponse represents the query API response.
type QueryResponse struct {
	Answer    string           `json:"answer"`
	Citations []rag.Citation   `json:"citations"`
	Metadata  ResponseMetadata `json:"metadata"`
}

// ResponseMetadata contains metadata about the response.
type ResponseMetadata struct {
	SourcesUsed    int    `json:"sources_used"`
	ProcessingTime int64  `json:"processing_time_ms"`
	TokensUsed     int    `json:"tokens_used,omitempty"`
	ModelUsed      string `json:"model_used,omitempty"`
}

// QueryValidationError represents a validation error for query requests.
type QueryValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidateQueryRequest validates the query request body.
func ValidateQueryRequest(req *QueryRequestBody) []QueryValidationError {
	var errors []QueryValidationError

	question := strings.TrimSpace(req.Question)
	if question == "" {
		errors = append(errors, QueryValidationError{
			Field:   "question",
			Message: "Question is required",
		})
	} else if utf8.RuneCountInString(question) > 2000 {
		errors = append(errors, QueryValidationError{
			Field:   "question",
			Message: "Question must not exceed 2000 characters",
		})
	}

	return errors
}

// HandleQuery returns a handler for answering questions over the
// document corpus.
// POST /api/v1/query
//
// Request body:
//
//	{
//	  "question": "What does the report say about revenue?"
//	}
//
// Response:
//
//	{
//	  "answer": "Revenue grew...",
//	  "citations": [...],
//	  "metadata": {...}
//	}
func HandleQuery(answers AnswerService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		startTime := time.Now()

		var req QueryRequestBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Warn("failed to decode query request", "error", err)
			RespondBadRequest(w, "Invalid request body")
			return
		}

		if validationErrors := ValidateQueryRequest(&req); len(validationErrors) > 0 {
			logger.Warn("query request validation failed", "errors", validationErrors)
			RespondValidationError(w, validationErrors)
			return
		}

		req.Question = strings.TrimSpace(req.Question)

		logger.Info("processing query", "question_length", len(req.Question))

		if answers == nil {
			logger.Warn("answer service not available")
			RespondServiceUnavailable(w, "Query service is not currently available")
			return
		}

		answer, err := answers.Ask(ctx, req.Question)
		if err != nil {
			logger.Error("failed to answer query", "error", err)
			RespondInternalError(w, "Failed to process your question. Please try again.")
			return
		}

		response := QueryResponse{
			Answer:    answer.Text,
			Citations: answer.Citations,
			Metadata: ResponseMetadata{
				SourcesUsed:    len(answer.Citations),
				ProcessingTime: time.Since(startTime).Milliseconds(),
				TokensUsed:     answer.TokensUsed,
				ModelUsed:      answer.Model,
			},
		}
		if response.Citations == nil {
			response.Citations = []rag.Citation{}
		}

		logger.Info("query completed",
			"sources_used", len(answer.Citations),
			"processing_time_ms", response.Metadata.ProcessingTime,
		)

		RespondJSON(w, http.StatusOK, response)
	}
}
