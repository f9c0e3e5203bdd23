// Package handlers provides HTTP request handlers for the API.
package handlers

import (
	"encoding/json"
	"net/http"
)

// APIError is the error payload inside every error response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// Error codes returned by the document, job and query endpoints.
const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// ErrorResponse is the envelope for error responses.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// PaginatedResponse wraps a listing with its pagination metadata.
type PaginatedResponse struct {
	Data       any        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// Pagination describes the window a listing covers.
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// NewPagination builds pagination metadata for a window that returned
// `returned` items out of `total`.
func NewPagination(total, limit, offset, returned int) Pagination {
	return Pagination{
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+returned < total,
	}
}

// RespondJSON writes data as a JSON response with the given status.
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already written; nothing left to salvage.
			http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		}
	}
}

// RespondPage writes a paginated listing.
func RespondPage(w http.ResponseWriter, data any, pagination Pagination) {
	RespondJSON(w, http.StatusOK, PaginatedResponse{
		Data:       data,
		Pagination: pagination,
	})
}

// RespondError writes a JSON error response.
func RespondError(w http.ResponseWriter, status int, code, message string) {
	RespondJSON(w, status, ErrorResponse{
		Error: &APIError{Code: code, Message: message},
	})
}

// RespondErrorWithDetails writes a JSON error response carrying details.
func RespondErrorWithDetails(w http.ResponseWriter, status int, code, message string, details any) {
	RespondJSON(w, status, ErrorResponse{
		Error: &APIError{Code: code, Message: message, Details: details},
	})
}

// RespondCreated writes a 201 Created response.
func RespondCreated(w http.ResponseWriter, data any) {
	RespondJSON(w, http.StatusCreated, data)
}

// RespondNoContent writes a 204 No Content response.
func RespondNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// RespondBadRequest writes a 400 Bad Request response.
func RespondBadRequest(w http.ResponseWriter, message string) {
	RespondError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// RespondNotFound writes a 404 Not Found response.
func RespondNotFound(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Resource not found"
	}
	RespondError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// RespondValidationError writes a 422 Unprocessable Entity response.
func RespondValidationError(w http.ResponseWriter, details any) {
	RespondErrorWithDetails(w, http.StatusUnprocessableEntity, ErrCodeValidation, "Validation failed", details)
}

// RespondInternalError writes a 500 Internal Server Error response.
func RespondInternalError(w http.ResponseWriter, message string) {
	if message == "" {
		message = "An internal error occurred"
	}
	RespondError(w, http.StatusInternalServerError, ErrCodeInternalError, message)
}

// RespondServiceUnavailable writes a 503 Service Unavailable response.
func RespondServiceUnavailable(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Service temporarily unavailable"
	}
	RespondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, message)
}
