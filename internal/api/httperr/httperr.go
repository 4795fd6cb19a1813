// Package httperr renders the JSON error envelope shared by every HTTP
// endpoint. Clients branch on the Code field, not on message text, so codes
// are stable strings and messages stay human-readable.
package httperr

import (
	"encoding/json"
	"net/http"
	"time"
)

// Machine-readable error codes.
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeCollectionNotFound = "COLLECTION_NOT_FOUND"
	CodeDocumentNotFound   = "DOCUMENT_NOT_FOUND"
	CodeFileTooLarge       = "FILE_TOO_LARGE"
	CodeUnsupportedType    = "UNSUPPORTED_TYPE"
	CodeProcessingError    = "PROCESSING_ERROR"
	CodeEmbeddingError     = "EMBEDDING_ERROR"
	CodeDatabaseError      = "DATABASE_ERROR"
)

// Response is the error envelope returned by every endpoint on failure.
type Response struct {
	Error     string    `json:"error"`
	Code      string    `json:"code"`
	Details   any       `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusFor returns the HTTP status implied by an error code. Unknown codes
// map to 500 so a missed case never turns into a silent 200.
func StatusFor(code string) int {
	switch code {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeCollectionNotFound, CodeDocumentNotFound:
		return http.StatusNotFound
	case CodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeUnsupportedType:
		return http.StatusUnsupportedMediaType
	case CodeEmbeddingError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Write renders the envelope with the status implied by code.
func Write(w http.ResponseWriter, code, message string) {
	WriteDetails(w, code, message, nil)
}

// WriteDetails renders the envelope with optional structured details.
func WriteDetails(w http.ResponseWriter, code, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusFor(code))
	_ = json.NewEncoder(w).Encode(Response{
		Error:     message,
		Code:      code,
		Details:   details,
		Timestamp: time.Now().UTC(),
	})
}
