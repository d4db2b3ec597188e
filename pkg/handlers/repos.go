package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/tracking-engine/pkg/auth"
	"github.com/ekaya-inc/tracking-engine/pkg/models"
	"github.com/ekaya-inc/tracking-engine/pkg/services"
)

// ============================================================================
// Request/Response Types
// ============================================================================

// CreateRepoRequest for POST /api/repos
type CreateRepoRequest struct {
	Name        string `json:"name"`
	Label       string `json:"label,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
}

// ============================================================================
// Handler
// ============================================================================

// ReposHandler handles repo CRUD and per-repo event listing, export and import.
type ReposHandler struct {
	repoService services.RepoService
	transfer    eventTransfer
	logger      *zap.Logger
}

// NewReposHandler creates a new repos handler.
func NewReposHandler(
	repoService services.RepoService,
	eventService services.EventService,
	logger *zap.Logger,
) *ReposHandler {
	return &ReposHandler{
		repoService: repoService,
		transfer:    eventTransfer{eventService: eventService, logger: logger},
		logger:      logger,
	}
}

// RegisterRoutes registers the repos handler's routes on the given mux.
func (h *ReposHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, userMiddleware UserMiddleware) {
	base := "/api/repos"

	mux.HandleFunc("POST "+base, authMiddleware.RequireAuth(userMiddleware(h.Create)))
	mux.HandleFunc("GET "+base, authMiddleware.RequireAuth(userMiddleware(h.List)))
	mux.HandleFunc("GET "+base+"/{id}", authMiddleware.RequireAuth(userMiddleware(h.Get)))
	mux.HandleFunc("PUT "+base+"/{id}", authMiddleware.RequireAuth(userMiddleware(h.Update)))
	mux.HandleFunc("DELETE "+base+"/{id}", authMiddleware.RequireAuth(userMiddleware(h.Delete)))
	mux.HandleFunc("GET "+base+"/{id}/events", authMiddleware.RequireAuth(userMiddleware(h.ListEvents)))
	mux.HandleFunc("GET "+base+"/{id}/plans", authMiddleware.RequireAuth(userMiddleware(h.ListPlans)))
	mux.HandleFunc("GET "+base+"/{id}/events/export", authMiddleware.RequireAuth(userMiddleware(h.Export)))
	mux.HandleFunc("GET "+base+"/{id}/events/calls", authMiddleware.RequireAuth(userMiddleware(h.ExportCalls)))
	mux.HandleFunc("POST "+base+"/{id}/events/import", authMiddleware.RequireAuth(userMiddleware(h.Import)))
}

// Create handles POST /api/repos
func (h *ReposHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}

	var req CreateRepoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, h.logger, "Invalid request body")
		return
	}

	repo, err := h.repoService.Create(r.Context(), userID, &models.Repo{
		Name:        req.Name,
		Label:       req.Label,
		Description: req.Description,
		URL:         req.URL,
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "create_repo_failed")
		return
	}

	writeOK(w, h.logger, http.StatusCreated, repo)
}

// List handles GET /api/repos
func (h *ReposHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}

	repos, err := h.repoService.List(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err, "list_repos_failed")
		return
	}
	writeOK(w, h.logger, http.StatusOK, repos)
}

// Get handles GET /api/repos/{id}
func (h *ReposHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}
	repoID, ok := ParseRepoID(w, r, h.logger)
	if !ok {
		return
	}

	repo, err := h.repoService.Get(r.Context(), userID, repoID)
	if err != nil {
		writeServiceError(w, h.logger, err, "get_repo_failed")
		return
	}
	writeOK(w, h.logger, http.StatusOK, repo)
}

// Update handles PUT /api/repos/{id}
func (h *ReposHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}
	repoID, ok := ParseRepoID(w, r, h.logger)
	if !ok {
		return
	}

	var req services.RepoUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, h.logger, "Invalid request body")
		return
	}

	repo, err := h.repoService.Update(r.Context(), userID, repoID, req)
	if err != nil {
		writeServiceError(w, h.logger, err, "update_repo_failed")
		return
	}
	writeOK(w, h.logger, http.StatusOK, repo)
}

// Delete handles DELETE /api/repos/{id}
func (h *ReposHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}
	repoID, ok := ParseRepoID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.repoService.Delete(r.Context(), userID, repoID); err != nil {
		writeServiceError(w, h.logger, err, "delete_repo_failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListEvents handles GET /api/repos/{id}/events
func (h *ReposHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}
	repoID, ok := ParseRepoID(w, r, h.logger)
	if !ok {
		return
	}

	events, err := h.repoService.ListEvents(r.Context(), userID, repoID)
	if err != nil {
		writeServiceError(w, h.logger, err, "list_events_failed")
		return
	}
	writeOK(w, h.logger, http.StatusOK, events)
}

// ListPlans handles GET /api/repos/{id}/plans
func (h *ReposHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}
	repoID, ok := ParseRepoID(w, r, h.logger)
	if !ok {
		return
	}

	plans, err := h.repoService.ListPlans(r.Context(), userID, repoID)
	if err != nil {
		writeServiceError(w, h.logger, err, "list_plans_failed")
		return
	}
	writeOK(w, h.logger, http.StatusOK, plans)
}

// Export handles GET /api/repos/{id}/events/export
func (h *ReposHandler) Export(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}
	repoID, ok := ParseRepoID(w, r, h.logger)
	if !ok {
		return
	}
	h.transfer.export(w, r, userID, services.RepoTarget(repoID), "repo-"+repoID.String())
}

// ExportCalls handles GET /api/repos/{id}/events/calls
// The CSV has one row per event property found at the repo's stored call sites.
func (h *ReposHandler) ExportCalls(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}
	repoID, ok := ParseRepoID(w, r, h.logger)
	if !ok {
		return
	}
	repo, err := h.repoService.Get(r.Context(), userID, repoID)
	if err != nil {
		writeServiceError(w, h.logger, err, "export_calls_failed")
		return
	}
	h.transfer.exportCalls(w, r, userID, repoID, repo.Name)
}

// Import handles POST /api/repos/{id}/events/import
// A YAML upload replaces the repo's scanned events; a CSV upload adds rows.
func (h *ReposHandler) Import(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}
	repoID, ok := ParseRepoID(w, r, h.logger)
	if !ok {
		return
	}
	h.transfer.importFile(w, r, userID, services.RepoTarget(repoID))
}
