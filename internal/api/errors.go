package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nexus-stack/nexus-core/internal/guard"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeInternal     = "internal_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeGuardError maps a guard denial onto the wire: authentication
// failures as 401, authorization as 403, everything else as a generic 500
// with the cause kept out of the response.
func writeGuardError(w http.ResponseWriter, err error) {
	var gerr *guard.Error
	if !errors.As(err, &gerr) {
		writeInternalError(w, "internal server error")
		return
	}

	switch gerr.Kind {
	case guard.KindAuthentication:
		writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, gerr.Message)
	case guard.KindAuthorization:
		writeError(w, http.StatusForbidden, ErrCodeForbidden, gerr.Message)
	default:
		writeInternalError(w, "internal server error")
	}
}
