package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/tracking-engine/pkg/auth"
	"github.com/ekaya-inc/tracking-engine/pkg/models"
	"github.com/ekaya-inc/tracking-engine/pkg/services"
)

// StartScanRequest is the optional body of POST /api/repos/{id}/scans.
type StartScanRequest struct {
	Branch string `json:"branch,omitempty"`
}

// ScansHandler starts, lists and cancels scan jobs.
type ScansHandler struct {
	scanService services.ScanService
	repoService services.RepoService
	logger      *zap.Logger
}

// NewScansHandler creates a new scans handler.
func NewScansHandler(scanService services.ScanService, repoService services.RepoService, logger *zap.Logger) *ScansHandler {
	return &ScansHandler{
		scanService: scanService,
		repoService: repoService,
		logger:      logger,
	}
}

// RegisterRoutes registers the scans handler's routes on the given mux.
func (h *ScansHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, userMiddleware UserMiddleware) {
	mux.HandleFunc("POST /api/repos/{id}/scans", authMiddleware.RequireAuth(userMiddleware(h.Start)))
	mux.HandleFunc("GET /api/repos/{id}/scans", authMiddleware.RequireAuth(userMiddleware(h.List)))
	mux.HandleFunc("GET /api/repos/{id}/scan", authMiddleware.RequireAuth(userMiddleware(h.Latest)))
	mux.HandleFunc("GET /api/scans/{id}", authMiddleware.RequireAuth(userMiddleware(h.Get)))
	mux.HandleFunc("POST /api/scans/{id}/cancel", authMiddleware.RequireAuth(userMiddleware(h.Cancel)))
}

// Start handles POST /api/repos/{id}/scans
// The scan runs in the background; poll GET /api/scans/{id} for progress.
// An empty body scans the default branch.
func (h *ScansHandler) Start(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}
	repoID, ok := ParseRepoID(w, r, h.logger)
	if !ok {
		return
	}

	var req StartScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, h.logger, "Invalid request body")
		return
	}

	job, err := h.scanService.StartScan(r.Context(), userID, repoID, req.Branch)
	if err != nil {
		writeServiceError(w, h.logger, err, "start_scan_failed")
		return
	}
	writeOK(w, h.logger, http.StatusAccepted, job)
}

// List handles GET /api/repos/{id}/scans
func (h *ScansHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}
	repoID, ok := ParseRepoID(w, r, h.logger)
	if !ok {
		return
	}

	if _, err := h.repoService.Get(r.Context(), userID, repoID); err != nil {
		writeServiceError(w, h.logger, err, "list_scans_failed")
		return
	}
	jobs, err := h.scanService.ListJobs(r.Context(), repoID)
	if err != nil {
		writeServiceError(w, h.logger, err, "list_scans_failed")
		return
	}
	if jobs == nil {
		jobs = []*models.ScanJob{}
	}
	writeOK(w, h.logger, http.StatusOK, jobs)
}

// Latest handles GET /api/repos/{id}/scan
// Returns the repo's most recent scan job, or 404 if it was never scanned.
func (h *ScansHandler) Latest(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}
	repoID, ok := ParseRepoID(w, r, h.logger)
	if !ok {
		return
	}

	if _, err := h.repoService.Get(r.Context(), userID, repoID); err != nil {
		writeServiceError(w, h.logger, err, "get_scan_failed")
		return
	}
	job, err := h.scanService.GetLatestJob(r.Context(), repoID)
	if err != nil {
		writeServiceError(w, h.logger, err, "get_scan_failed")
		return
	}
	writeOK(w, h.logger, http.StatusOK, job)
}

// Get handles GET /api/scans/{id}
func (h *ScansHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}
	jobID, ok := ParseScanID(w, r, h.logger)
	if !ok {
		return
	}

	job, err := h.ownedJob(r.Context(), userID, jobID)
	if err != nil {
		writeServiceError(w, h.logger, err, "get_scan_failed")
		return
	}
	writeOK(w, h.logger, http.StatusOK, job)
}

// Cancel handles POST /api/scans/{id}/cancel
func (h *ScansHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}
	jobID, ok := ParseScanID(w, r, h.logger)
	if !ok {
		return
	}

	if _, err := h.ownedJob(r.Context(), userID, jobID); err != nil {
		writeServiceError(w, h.logger, err, "cancel_scan_failed")
		return
	}
	job, err := h.scanService.Cancel(r.Context(), jobID)
	if err != nil {
		writeServiceError(w, h.logger, err, "cancel_scan_failed")
		return
	}
	writeOK(w, h.logger, http.StatusOK, job)
}

// ownedJob loads a job and checks the caller owns its repo.
func (h *ScansHandler) ownedJob(ctx context.Context, userID, jobID uuid.UUID) (*models.ScanJob, error) {
	job, err := h.scanService.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if _, err := h.repoService.Get(ctx, userID, job.RepoID); err != nil {
		return nil, err
	}
	return job, nil
}
