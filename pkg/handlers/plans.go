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

// CreatePlanRequest for POST /api/plans
type CreatePlanRequest struct {
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	Status       models.PlanStatus `json:"status,omitempty"`
	ImportSource string            `json:"import_source,omitempty"`
	RepoIDs      []uuid.UUID       `json:"repo_ids,omitempty"`
}

// AddPlanReposRequest for POST /api/plans/{id}/repos
type AddPlanReposRequest struct {
	RepoIDs []uuid.UUID `json:"repo_ids"`
}

// PlansHandler handles tracking plan HTTP requests.
type PlansHandler struct {
	planService services.PlanService
	transfer    eventTransfer
	logger      *zap.Logger
}

// NewPlansHandler creates a new plans handler.
func NewPlansHandler(planService services.PlanService, eventService services.EventService, logger *zap.Logger) *PlansHandler {
	return &PlansHandler{
		planService: planService,
		transfer:    eventTransfer{eventService: eventService, logger: logger},
		logger:      logger,
	}
}

// RegisterRoutes registers the plans handler's routes on the given mux.
func (h *PlansHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, userMiddleware UserMiddleware) {
	base := "/api/plans"

	mux.HandleFunc("POST "+base, authMiddleware.RequireAuth(userMiddleware(h.Create)))
	mux.HandleFunc("GET "+base, authMiddleware.RequireAuth(userMiddleware(h.List)))
	mux.HandleFunc("GET "+base+"/{id}", authMiddleware.RequireAuth(userMiddleware(h.Get)))
	mux.HandleFunc("PUT "+base+"/{id}", authMiddleware.RequireAuth(userMiddleware(h.Update)))
	mux.HandleFunc("DELETE "+base+"/{id}", authMiddleware.RequireAuth(userMiddleware(h.Delete)))
	mux.HandleFunc("POST "+base+"/{id}/repos", authMiddleware.RequireAuth(userMiddleware(h.AddRepos)))
	mux.HandleFunc("GET "+base+"/{id}/repos", authMiddleware.RequireAuth(userMiddleware(h.ListRepos)))
	mux.HandleFunc("GET "+base+"/{id}/events", authMiddleware.RequireAuth(userMiddleware(h.ListEvents)))
	mux.HandleFunc("GET "+base+"/{id}/events/export", authMiddleware.RequireAuth(userMiddleware(h.Export)))
	mux.HandleFunc("POST "+base+"/{id}/events/import", authMiddleware.RequireAuth(userMiddleware(h.Import)))
}

// Create handles POST /api/plans
// Repos listed in repo_ids are linked after the plan is created.
func (h *PlansHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}

	var req CreatePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, h.logger, "Invalid request body")
		return
	}

	plan, err := h.planService.Create(r.Context(), userID, &models.Plan{
		Name:         req.Name,
		Description:  req.Description,
		Status:       req.Status,
		ImportSource: req.ImportSource,
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "create_plan_failed")
		return
	}

	if len(req.RepoIDs) > 0 {
		repos, err := h.planService.AddRepos(r.Context(), userID, plan.ID, req.RepoIDs)
		if err != nil {
			writeServiceError(w, h.logger, err, "add_plan_repos_failed")
			return
		}
		plan.Repos = repos
	}

	writeOK(w, h.logger, http.StatusCreated, plan)
}

// List handles GET /api/plans
func (h *PlansHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}

	plans, err := h.planService.List(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err, "list_plans_failed")
		return
	}
	writeOK(w, h.logger, http.StatusOK, plans)
}

// Get handles GET /api/plans/{id}
func (h *PlansHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}
	planID, ok := ParsePlanID(w, r, h.logger)
	if !ok {
		return
	}

	plan, err := h.planService.Get(r.Context(), userID, planID)
	if err != nil {
		writeServiceError(w, h.logger, err, "get_plan_failed")
		return
	}
	writeOK(w, h.logger, http.StatusOK, plan)
}

// Update handles PUT /api/plans/{id}
func (h *PlansHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}
	planID, ok := ParsePlanID(w, r, h.logger)
	if !ok {
		return
	}

	var req services.PlanUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, h.logger, "Invalid request body")
		return
	}

	plan, err := h.planService.Update(r.Context(), userID, planID, req)
	if err != nil {
		writeServiceError(w, h.logger, err, "update_plan_failed")
		return
	}
	writeOK(w, h.logger, http.StatusOK, plan)
}

// Delete handles DELETE /api/plans/{id}
func (h *PlansHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}
	planID, ok := ParsePlanID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.planService.Delete(r.Context(), userID, planID); err != nil {
		writeServiceError(w, h.logger, err, "delete_plan_failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddRepos handles POST /api/plans/{id}/repos
// Responds with every repo now linked to the plan.
func (h *PlansHandler) AddRepos(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}
	planID, ok := ParsePlanID(w, r, h.logger)
	if !ok {
		return
	}

	var req AddPlanReposRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, h.logger, "Invalid request body")
		return
	}

	repos, err := h.planService.AddRepos(r.Context(), userID, planID, req.RepoIDs)
	if err != nil {
		writeServiceError(w, h.logger, err, "add_plan_repos_failed")
		return
	}
	writeOK(w, h.logger, http.StatusOK, repos)
}

// ListRepos handles GET /api/plans/{id}/repos
func (h *PlansHandler) ListRepos(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}
	planID, ok := ParsePlanID(w, r, h.logger)
	if !ok {
		return
	}

	repos, err := h.planService.ListRepos(r.Context(), userID, planID)
	if err != nil {
		writeServiceError(w, h.logger, err, "list_plan_repos_failed")
		return
	}
	writeOK(w, h.logger, http.StatusOK, repos)
}

// ListEvents handles GET /api/plans/{id}/events
func (h *PlansHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}
	planID, ok := ParsePlanID(w, r, h.logger)
	if !ok {
		return
	}

	events, err := h.planService.ListEvents(r.Context(), userID, planID)
	if err != nil {
		writeServiceError(w, h.logger, err, "list_plan_events_failed")
		return
	}
	writeOK(w, h.logger, http.StatusOK, events)
}

// Export handles GET /api/plans/{id}/events/export
func (h *PlansHandler) Export(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}
	planID, ok := ParsePlanID(w, r, h.logger)
	if !ok {
		return
	}
	h.transfer.export(w, r, userID, services.PlanTarget(planID), "plan-"+planID.String())
}

// Import handles POST /api/plans/{id}/events/import
func (h *PlansHandler) Import(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}
	planID, ok := ParsePlanID(w, r, h.logger)
	if !ok {
		return
	}
	h.transfer.importFile(w, r, userID, services.PlanTarget(planID))
}
