package handlers

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/tracking-engine/pkg/auth"
	"github.com/ekaya-inc/tracking-engine/pkg/services"
)

// UserMiddleware wraps a handler that needs the caller's database scope.
type UserMiddleware func(http.HandlerFunc) http.HandlerFunc

// Chain composes middlewares so the first one runs outermost.
func Chain(mws ...UserMiddleware) UserMiddleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// requireUserID reads the profile ID from the JWT claims, writing a 401 when absent.
func requireUserID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	userID, err := auth.RequireUserID(r.Context())
	if err != nil {
		if err := ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return userID, true
}

// ProfilesHandler provisions profiles from JWT claims and serves the current profile.
type ProfilesHandler struct {
	profileService services.ProfileService
	logger         *zap.Logger

	// provisioned remembers profiles already upserted by this process.
	provisioned sync.Map
}

// NewProfilesHandler creates a new profiles handler.
func NewProfilesHandler(profileService services.ProfileService, logger *zap.Logger) *ProfilesHandler {
	return &ProfilesHandler{
		profileService: profileService,
		logger:         logger,
	}
}

// RegisterRoutes registers the profiles handler's routes on the given mux.
func (h *ProfilesHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, userMiddleware UserMiddleware) {
	mux.HandleFunc("GET /api/me", authMiddleware.RequireAuth(userMiddleware(h.Me)))
}

// RequireProfile makes sure the caller has a profile row before the handler runs.
// Repos, plans and sessions reference the profile, so every write path needs it.
func (h *ProfilesHandler) RequireProfile(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r, h.logger)
		if !ok {
			return
		}

		if _, seen := h.provisioned.Load(userID); !seen {
			claims, _ := auth.GetClaims(r.Context())
			if _, err := h.profileService.GetOrCreate(r.Context(), userID, claims.Name, claims.AvatarURL); err != nil {
				h.logger.Error("Failed to provision profile",
					zap.String("user_id", userID.String()),
					zap.Error(err))
				if err := ErrorResponse(w, http.StatusInternalServerError, "profile_provision_failed", "Failed to provision profile"); err != nil {
					h.logger.Error("Failed to write error response", zap.Error(err))
				}
				return
			}
			h.provisioned.Store(userID, struct{}{})
		}

		next(w, r)
	}
}

// Me handles GET /api/me
// Refreshes name and avatar from the token and returns the profile.
func (h *ProfilesHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}
	claims, _ := auth.GetClaims(r.Context())

	profile, err := h.profileService.GetOrCreate(r.Context(), userID, claims.Name, claims.AvatarURL)
	if err != nil {
		writeServiceError(w, h.logger, err, "get_profile_failed")
		return
	}
	h.provisioned.Store(userID, struct{}{})

	writeOK(w, h.logger, http.StatusOK, profile)
}
