package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/tracking-engine/pkg/config"
)

// ConfigResponse contains public configuration for the frontend.
type ConfigResponse struct {
	BaseURL            string `json:"base_url"`
	Version            string `json:"version"`
	GitHubOAuthEnabled bool   `json:"github_oauth_enabled"`
	GitHubAppEnabled   bool   `json:"github_app_enabled"`
	LLMAvailable       bool   `json:"llm_available"`
}

// ConfigHandler handles configuration requests.
type ConfigHandler struct {
	config *config.Config
	logger *zap.Logger
}

// NewConfigHandler creates a new config handler.
func NewConfigHandler(cfg *config.Config, logger *zap.Logger) *ConfigHandler {
	return &ConfigHandler{
		config: cfg,
		logger: logger,
	}
}

// RegisterRoutes registers the config handler's routes on the given mux.
func (h *ConfigHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/config", h.Get)
}

// Get returns which optional integrations are configured so the UI can hide
// the ones that are not.
// GET /api/config
// This endpoint is public and exposes no secrets.
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	response := ConfigResponse{
		BaseURL:            h.config.BaseURL,
		Version:            h.config.Version,
		GitHubOAuthEnabled: h.config.GitHub.HasOAuth(),
		GitHubAppEnabled:   h.config.GitHub.HasApp(),
		LLMAvailable:       h.config.LLM.IsAvailable(),
	}

	w.Header().Set("Cache-Control", "public, max-age=300")
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode config response", zap.Error(err))
	}
}
