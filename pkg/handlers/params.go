package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ParseRepoID extracts and validates the repo ID from the request path.
// Returns the parsed UUID and true on success, or uuid.Nil and false on error
// (after writing an error response).
// Expects path parameter: id
func ParseRepoID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "id", "invalid_repo_id", "Invalid repo ID format", logger)
}

// ParsePlanID extracts and validates the plan ID from the request path.
// Expects path parameter: id
func ParsePlanID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "id", "invalid_plan_id", "Invalid plan ID format", logger)
}

// ParseEventID extracts and validates the event ID from the request path.
// Expects path parameter: id
func ParseEventID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "id", "invalid_event_id", "Invalid event ID format", logger)
}

// ParseAnnotationID extracts and validates the annotation ID from the request path.
// Expects path parameter: annotationId
func ParseAnnotationID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "annotationId", "invalid_annotation_id", "Invalid annotation ID format", logger)
}

// ParseScanID extracts and validates the scan job ID from the request path.
// Expects path parameter: id
func ParseScanID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "id", "invalid_scan_id", "Invalid scan ID format", logger)
}

// parseUUID is the internal helper that does the actual parsing work.
func parseUUID(w http.ResponseWriter, r *http.Request, pathParam, errorCode, errorMessage string, logger *zap.Logger) (uuid.UUID, bool) {
	idStr := r.PathValue(pathParam)
	id, err := uuid.Parse(idStr)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, errorCode, errorMessage); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}
