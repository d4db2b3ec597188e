package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/tracking-engine/pkg/auth"
	"github.com/ekaya-inc/tracking-engine/pkg/config"
)

// LogoutResponse is returned by POST /api/auth/logout.
type LogoutResponse struct {
	Success     bool   `json:"success"`
	RedirectURL string `json:"redirect_url"`
}

// AuthHandler handles session endpoints that sit outside the auth middleware.
type AuthHandler struct {
	config *config.Config
	logger *zap.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(cfg *config.Config, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		config: cfg,
		logger: logger,
	}
}

// RegisterRoutes registers the auth handler's routes on the given mux.
func (h *AuthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/logout", h.Logout)
}

// Logout clears the JWT cookie and tells the browser where to go next.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	// Same settings used when the cookie was set, or the browser keeps it.
	cookieSettings := auth.DeriveCookieSettings(h.config.BaseURL, h.config.CookieDomain)

	http.SetCookie(w, &http.Cookie{
		Name:     auth.JWTCookieName,
		Value:    "",
		HttpOnly: true,
		Secure:   cookieSettings.Secure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
		Path:     "/",
		Domain:   cookieSettings.Domain,
	})

	h.logger.Info("User logged out", zap.String("user_id", auth.GetUserIDFromContext(r.Context())))

	if err := WriteJSON(w, http.StatusOK, LogoutResponse{
		Success:     true,
		RedirectURL: h.config.FrontendURL,
	}); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
