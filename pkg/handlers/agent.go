package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/tracking-engine/pkg/auth"
	"github.com/ekaya-inc/tracking-engine/pkg/models"
	"github.com/ekaya-inc/tracking-engine/pkg/services"
	"github.com/ekaya-inc/tracking-engine/pkg/services/workqueue"
)

// AgentHandler exposes the tracking-plan agent.
// Run and create-task reply with the agent's own envelope rather than ApiResponse.
type AgentHandler struct {
	agentService services.AgentService
	logger       *zap.Logger
}

// NewAgentHandler creates a new agent handler.
func NewAgentHandler(agentService services.AgentService, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{
		agentService: agentService,
		logger:       logger,
	}
}

// RegisterRoutes registers the agent handler's routes on the given mux.
func (h *AgentHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, userMiddleware UserMiddleware) {
	mux.HandleFunc("POST /api/agent/run", authMiddleware.RequireAuth(userMiddleware(h.Run)))
	mux.HandleFunc("POST /api/agent/create-task", authMiddleware.RequireAuth(userMiddleware(h.CreateTask)))
	mux.HandleFunc("GET /api/agent/tasks", authMiddleware.RequireAuth(userMiddleware(h.ListTasks)))
	mux.HandleFunc("GET /api/agent/sessions", authMiddleware.RequireAuth(userMiddleware(h.ListSessions)))
	mux.HandleFunc("GET /api/agent/sessions/{id}", authMiddleware.RequireAuth(userMiddleware(h.GetSession)))
}

func (h *AgentHandler) decodeRequest(w http.ResponseWriter, r *http.Request) (models.AgentRequest, bool) {
	var req models.AgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, h.logger, "Invalid request body")
		return req, false
	}
	return req, true
}

// Run handles POST /api/agent/run
// Blocks until the scan finishes. Scan failures come back as status "error" with HTTP 200.
func (h *AgentHandler) Run(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	resp, err := h.agentService.Run(r.Context(), userID, req)
	if err != nil {
		writeServiceError(w, h.logger, err, "agent_run_failed")
		return
	}
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// CreateTask handles POST /api/agent/create-task
func (h *AgentHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	resp, err := h.agentService.CreateTask(r.Context(), userID, req)
	if err != nil {
		if errors.Is(err, workqueue.ErrQueueClosed) {
			if err := ErrorResponse(w, http.StatusServiceUnavailable, "shutting_down", "Server is shutting down"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		writeServiceError(w, h.logger, err, "create_task_failed")
		return
	}
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListTasks handles GET /api/agent/tasks
func (h *AgentHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}
	writeOK(w, h.logger, http.StatusOK, h.agentService.ListTasks(userID))
}

// ListSessions handles GET /api/agent/sessions
func (h *AgentHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}

	sessions, err := h.agentService.ListSessions(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err, "list_sessions_failed")
		return
	}
	writeOK(w, h.logger, http.StatusOK, sessions)
}

// GetSession handles GET /api/agent/sessions/{id}
// Session IDs are client-chosen strings, not UUIDs.
func (h *AgentHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}

	session, err := h.agentService.GetSession(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, err, "get_session_failed")
		return
	}
	writeOK(w, h.logger, http.StatusOK, session)
}
