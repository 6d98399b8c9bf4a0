// Package server implements the HTTP surface: routing, middleware, and the
// stable response envelope.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ledgerhound/ledgerhound/internal/common"
	"github.com/ledgerhound/ledgerhound/internal/ingest"
	"github.com/ledgerhound/ledgerhound/internal/storage"
)

// Stable wire error codes. Clients match on these, never on messages.
const (
	codeUnauthorized           = "UNAUTHORIZED"
	codeInvalidRequest         = "INVALID_REQUEST"
	codeInvalidParameter       = "INVALID_PARAMETER"
	codeValidationError        = "VALIDATION_ERROR"
	codeNotFound               = "NOT_FOUND"
	codeAccountNotFound        = "ACCOUNT_NOT_FOUND"
	codeConflict               = "CONFLICT"
	codeFileTooLarge           = "FILE_TOO_LARGE"
	codeUnsupportedFileType    = "UNSUPPORTED_FILE_TYPE"
	codeUnsupportedContentType = "UNSUPPORTED_CONTENT_TYPE"
	codeImportFailed           = "IMPORT_FAILED"
	codeStoreUnavailable       = "STORE_UNAVAILABLE"
	codeInternalError          = "INTERNAL_ERROR"
)

// envelope is the uniform response body.
type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *wireError `json:"error,omitempty"`
	Meta    *meta      `json:"meta,omitempty"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type meta struct {
	Pagination *pagination `json:"pagination,omitempty"`
}

type pagination struct {
	NextCursor string `json:"nextCursor,omitempty"`
	HasMore    bool   `json:"hasMore"`
}

func respond(w http.ResponseWriter, status int, data any) {
	respondMeta(w, status, data, nil)
}

func respondMeta(w http.ResponseWriter, status int, data any, m *meta) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data, Meta: m}); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, err error) {
	status, code := classify(err)

	message := err.Error()
	if status >= 500 {
		// Internal details stay in the logs.
		slog.Error("Request failed", "status", status, "error", err)
		message = "internal error"
		if code == codeStoreUnavailable {
			message = "store unavailable"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := envelope{Success: false, Error: &wireError{Code: code, Message: message}}
	if encodeErr := json.NewEncoder(w).Encode(body); encodeErr != nil {
		slog.Error("Failed to encode error response", "error", encodeErr)
	}
}

// classify maps typed core errors onto HTTP status and wire code. Ordering
// matters: the specific upload and cursor failures wrap ErrValidation and
// must be matched first.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, common.ErrUnauthorized):
		return http.StatusUnauthorized, codeUnauthorized
	case errors.Is(err, ingest.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, codeFileTooLarge
	case errors.Is(err, ingest.ErrUnsupportedFileType):
		return http.StatusUnsupportedMediaType, codeUnsupportedFileType
	case errors.Is(err, storage.ErrInvalidCursor):
		return http.StatusBadRequest, codeInvalidParameter
	case errors.Is(err, common.ErrValidation):
		return http.StatusBadRequest, codeValidationError
	case errors.Is(err, ingest.ErrAccountNotFound):
		return http.StatusNotFound, codeAccountNotFound
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, common.ErrConflict):
		return http.StatusConflict, codeConflict
	case errors.Is(err, common.ErrParseFailure):
		return http.StatusUnprocessableEntity, codeImportFailed
	case errors.Is(err, common.ErrStoreUnavailable), errors.Is(err, common.ErrIndexMissing):
		return http.StatusServiceUnavailable, codeStoreUnavailable
	default:
		return http.StatusInternalServerError, codeInternalError
	}
}

// respondCode writes an error envelope with an explicit status and wire code.
func respondCode(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := envelope{Success: false, Error: &wireError{Code: code, Message: message}}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}

// badRequest wraps a malformed request body or parameter into the
// validation error family with the INVALID_REQUEST code.
func respondBadRequest(w http.ResponseWriter, message string) {
	respondCode(w, http.StatusBadRequest, codeInvalidRequest, message)
}
