package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/tracking-engine/pkg/apperrors"
)

// ApiResponse is the envelope of successful JSON responses.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// writeServiceError maps a service error onto a status code.
// Unexpected errors are logged and reported as fallbackCode with a generic message.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error, fallbackCode string) {
	var (
		status  int
		code    string
		message = err.Error()
	)

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrInvalidInput):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, apperrors.ErrScanInProgress):
		status, code = http.StatusConflict, "scan_in_progress"
	case errors.Is(err, apperrors.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, apperrors.ErrGitHubNotConnected):
		status, code = http.StatusPreconditionFailed, "github_not_connected"
	case errors.Is(err, apperrors.ErrCredentialsKeyMismatch):
		status, code = http.StatusPreconditionFailed, "github_token_unreadable"
	case errors.Is(err, apperrors.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperrors.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	default:
		logger.Error("Request failed", zap.String("code", fallbackCode), zap.Error(err))
		status, code, message = http.StatusInternalServerError, fallbackCode, "Internal server error"
	}

	if status < http.StatusInternalServerError {
		message = trimSentinel(message)
	}
	if err := ErrorResponse(w, status, code, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}

// trimSentinel drops the sentinel text wrapped around a client error so only the detail is shown.
func trimSentinel(message string) string {
	for _, sentinel := range []error{apperrors.ErrNotFound, apperrors.ErrInvalidInput, apperrors.ErrConflict} {
		if trimmed, ok := strings.CutPrefix(message, sentinel.Error()+": "); ok {
			return trimmed
		}
		if trimmed, ok := strings.CutSuffix(message, ": "+sentinel.Error()); ok {
			return trimmed
		}
	}
	return message
}

func writeOK(w http.ResponseWriter, logger *zap.Logger, status int, data any) {
	if err := WriteJSON(w, status, ApiResponse{Success: true, Data: data}); err != nil {
		logger.Error("Failed to write response", zap.Error(err))
	}
}

func writeBadRequest(w http.ResponseWriter, logger *zap.Logger, message string) {
	if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}
