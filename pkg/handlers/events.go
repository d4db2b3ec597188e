package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/tracking-engine/pkg/auth"
	"github.com/ekaya-inc/tracking-engine/pkg/models"
	"github.com/ekaya-inc/tracking-engine/pkg/services"
)

// ============================================================================
// Request/Response Types
// ============================================================================

// CreateEventRequest for POST /api/events
type CreateEventRequest struct {
	RepoID     uuid.UUID  `json:"repo_id"`
	PlanID     *uuid.UUID `json:"plan_id,omitempty"`
	EventName  string     `json:"event_name"`
	Context    string     `json:"context,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
	FilePath   string     `json:"file_path,omitempty"`
	LineNumber *int       `json:"line_number,omitempty"`
}

// CreateAnnotationRequest for POST /api/events/{id}/annotations
type CreateAnnotationRequest struct {
	Annotation string `json:"annotation"`
}

// ============================================================================
// Handler
// ============================================================================

// EventsHandler handles tracking events and their annotations.
type EventsHandler struct {
	eventService      services.EventService
	annotationService services.AnnotationService
	logger            *zap.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(
	eventService services.EventService,
	annotationService services.AnnotationService,
	logger *zap.Logger,
) *EventsHandler {
	return &EventsHandler{
		eventService:      eventService,
		annotationService: annotationService,
		logger:            logger,
	}
}

// RegisterRoutes registers the events handler's routes on the given mux.
func (h *EventsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, userMiddleware UserMiddleware) {
	base := "/api/events"

	mux.HandleFunc("POST "+base, authMiddleware.RequireAuth(userMiddleware(h.Create)))
	mux.HandleFunc("GET "+base+"/{id}", authMiddleware.RequireAuth(userMiddleware(h.Get)))
	mux.HandleFunc("PUT "+base+"/{id}", authMiddleware.RequireAuth(userMiddleware(h.Update)))
	mux.HandleFunc("DELETE "+base+"/{id}", authMiddleware.RequireAuth(userMiddleware(h.Delete)))
	mux.HandleFunc("GET "+base+"/{id}/annotations", authMiddleware.RequireAuth(userMiddleware(h.ListAnnotations)))
	mux.HandleFunc("POST "+base+"/{id}/annotations", authMiddleware.RequireAuth(userMiddleware(h.CreateAnnotation)))
	mux.HandleFunc("DELETE "+base+"/{id}/annotations/{annotationId}", authMiddleware.RequireAuth(userMiddleware(h.DeleteAnnotation)))
}

// Create handles POST /api/events
func (h *EventsHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}

	var req CreateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, h.logger, "Invalid request body")
		return
	}

	event, err := h.eventService.Create(r.Context(), userID, &models.UserEvent{
		RepoID:     req.RepoID,
		PlanID:     req.PlanID,
		EventName:  req.EventName,
		Context:    req.Context,
		Tags:       req.Tags,
		FilePath:   req.FilePath,
		LineNumber: req.LineNumber,
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "create_event_failed")
		return
	}
	writeOK(w, h.logger, http.StatusCreated, event)
}

// Get handles GET /api/events/{id}
func (h *EventsHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}
	eventID, ok := ParseEventID(w, r, h.logger)
	if !ok {
		return
	}

	event, err := h.eventService.Get(r.Context(), userID, eventID)
	if err != nil {
		writeServiceError(w, h.logger, err, "get_event_failed")
		return
	}
	writeOK(w, h.logger, http.StatusOK, event)
}

// Update handles PUT /api/events/{id}
func (h *EventsHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}
	eventID, ok := ParseEventID(w, r, h.logger)
	if !ok {
		return
	}

	var req services.EventUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, h.logger, "Invalid request body")
		return
	}

	event, err := h.eventService.Update(r.Context(), userID, eventID, req)
	if err != nil {
		writeServiceError(w, h.logger, err, "update_event_failed")
		return
	}
	writeOK(w, h.logger, http.StatusOK, event)
}

// Delete handles DELETE /api/events/{id}
func (h *EventsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}
	eventID, ok := ParseEventID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.eventService.Delete(r.Context(), userID, eventID); err != nil {
		writeServiceError(w, h.logger, err, "delete_event_failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// Annotations
// ============================================================================

// ListAnnotations handles GET /api/events/{id}/annotations
func (h *EventsHandler) ListAnnotations(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}
	eventID, ok := ParseEventID(w, r, h.logger)
	if !ok {
		return
	}

	annotations, err := h.annotationService.List(r.Context(), userID, eventID)
	if err != nil {
		writeServiceError(w, h.logger, err, "list_annotations_failed")
		return
	}
	writeOK(w, h.logger, http.StatusOK, annotations)
}

// CreateAnnotation handles POST /api/events/{id}/annotations
func (h *EventsHandler) CreateAnnotation(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}
	eventID, ok := ParseEventID(w, r, h.logger)
	if !ok {
		return
	}

	var req CreateAnnotationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, h.logger, "Invalid request body")
		return
	}

	annotation, err := h.annotationService.Create(r.Context(), userID, eventID, req.Annotation)
	if err != nil {
		writeServiceError(w, h.logger, err, "create_annotation_failed")
		return
	}
	writeOK(w, h.logger, http.StatusCreated, annotation)
}

// DeleteAnnotation handles DELETE /api/events/{id}/annotations/{annotationId}
func (h *EventsHandler) DeleteAnnotation(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}
	eventID, ok := ParseEventID(w, r, h.logger)
	if !ok {
		return
	}
	annotationID, ok := ParseAnnotationID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.annotationService.Delete(r.Context(), userID, eventID, annotationID); err != nil {
		writeServiceError(w, h.logger, err, "delete_annotation_failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
