package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for tracking-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys, tokens) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// WriteTimeout bounds a whole response. POST /api/agent/run holds the request
	// open for a full scan, so keep it above the longest expected scan.
	WriteTimeout time.Duration `yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT" env-default:"15m"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"HTTP_IDLE_TIMEOUT" env-default:"2m"`

	// FrontendURL is where the OAuth callback sends the browser once GitHub login completes.
	FrontendURL string `yaml:"frontend_url" env:"FRONTEND_URL" env-default:"http://localhost:5173"`

	// CookieDomain overrides the domain derived from BaseURL for auth and session cookies.
	CookieDomain string `yaml:"cookie_domain" env:"COOKIE_DOMAIN" env-default:""`

	// CORSAllowedOriginsStr is a comma-separated list of origins allowed to call the API.
	CORSAllowedOriginsStr string   `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS" env-default:"http://localhost:5173"`
	CORSAllowedOrigins    []string `yaml:"-"`

	// MigrationsPath is the directory holding golang-migrate SQL files.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`

	// Authentication configuration
	Auth AuthConfig `yaml:"auth"`

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration (optional cache)
	Redis RedisConfig `yaml:"redis"`

	// GitHub integration (OAuth login, App installation tokens, cloning)
	GitHub GitHubConfig `yaml:"github"`

	// LLM provider used by the scan pipeline and the agent endpoint
	LLM LLMConfig `yaml:"llm"`

	// Scan tuning
	Scan ScanConfig `yaml:"scan"`

	// Credential encryption key for GitHub tokens at rest.
	// Must be a 32-byte key, base64 encoded. Generate with: openssl rand -base64 32
	// Server will fail to start if this is not set.
	CredentialsKey string `yaml:"-" env:"CREDENTIALS_KEY"` // Secret - not in YAML

	// SessionSecret signs the short-lived OAuth state cookie.
	SessionSecret string `yaml:"-" env:"SESSION_SECRET"` // Secret - not in YAML
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether JWT tokens are validated.
	// Set to false for local development without auth server.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	// Format: "issuer1=url1,issuer2=url2"
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:""`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"tracking"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"tracking_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MaxIdleConns   int32  `yaml:"max_idle_conns" env:"PGMAX_IDLE_CONNS" env-default:"5"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds the optional Redis cache configuration.
// An empty Host disables caching.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// GitHubConfig holds GitHub OAuth, App and clone settings.
type GitHubConfig struct {
	ClientID     string `yaml:"client_id" env:"GITHUB_CLIENT_ID" env-default:""`
	ClientSecret string `yaml:"-" env:"GITHUB_CLIENT_SECRET"` // Secret - not in YAML

	// AppID and AppPrivateKey enable installation tokens for repos the user has not
	// granted through OAuth.
	AppID         int64  `yaml:"app_id" env:"GITHUB_APP_ID" env-default:"0"`
	AppPrivateKey string `yaml:"-" env:"GITHUB_APP_PRIVATE_KEY"` // PEM, secret - not in YAML

	APIBaseURL     string `yaml:"api_base_url" env:"GITHUB_API_BASE_URL" env-default:"https://api.github.com/"`
	CloneBaseURL   string `yaml:"clone_base_url" env:"GITHUB_CLONE_BASE_URL" env-default:"https://github.com"`
	DefaultBranch  string `yaml:"default_branch" env:"GITHUB_DEFAULT_BRANCH" env-default:"main"`
	FallbackBranch string `yaml:"fallback_branch" env:"GITHUB_FALLBACK_BRANCH" env-default:"master"`

	// CloneDir is where repositories are checked out. Empty uses os.TempDir().
	CloneDir string `yaml:"clone_dir" env:"GITHUB_CLONE_DIR" env-default:""`
	// CloneDepth limits history fetched on clone. 0 fetches full history.
	CloneDepth int `yaml:"clone_depth" env:"GITHUB_CLONE_DEPTH" env-default:"1"`

	RepoCacheTTL      time.Duration `yaml:"repo_cache_ttl" env:"GITHUB_REPO_CACHE_TTL" env-default:"5m"`
	RequestsPerSecond float64       `yaml:"requests_per_second" env:"GITHUB_REQUESTS_PER_SECOND" env-default:"10"`
}

// HasApp returns true if GitHub App credentials are configured.
func (c *GitHubConfig) HasApp() bool {
	return c.AppID != 0 && c.AppPrivateKey != ""
}

// HasOAuth returns true if the OAuth client is configured.
func (c *GitHubConfig) HasOAuth() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// LLMConfig selects and configures the LLM provider.
type LLMConfig struct {
	// Provider is "openai" (any OpenAI-compatible endpoint) or "anthropic".
	Provider          string `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	Endpoint          string `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:"https://api.openai.com/v1"`
	Model             string `yaml:"model" env:"LLM_MODEL" env-default:""`
	APIKey            string `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	MaxToolIterations int    `yaml:"max_tool_iterations" env:"LLM_MAX_TOOL_ITERATIONS" env-default:"10"`
	AgentConcurrency  int    `yaml:"agent_concurrency" env:"LLM_AGENT_CONCURRENCY" env-default:"2"`
}

// IsAvailable returns true if an LLM model is configured.
func (c *LLMConfig) IsAvailable() bool {
	return c.Model != "" && (c.Provider != "anthropic" || c.APIKey != "")
}

// ScanConfig tunes the in-process call-site search.
type ScanConfig struct {
	MaxFileSizeBytes int64  `yaml:"max_file_size_bytes" env:"SCAN_MAX_FILE_SIZE_BYTES" env-default:"1048576"`
	Workers          int    `yaml:"workers" env:"SCAN_WORKERS" env-default:"8"`
	SkipDirsStr      string `yaml:"skip_dirs" env:"SCAN_SKIP_DIRS" env-default:".git,node_modules,vendor,dist,build,Pods,.venv,__pycache__"`

	SkipDirs []string `yaml:"-"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// Environment variables override YAML values. Secrets (PGPASSWORD, CREDENTIALS_KEY,
// GITHUB_CLIENT_SECRET, LLM_API_KEY) must come from environment variables (yaml:"-" fields).
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	// Load config from YAML file with environment variable overrides
	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.parseComplexFields(); err != nil {
		return nil, fmt.Errorf("failed to parse config fields: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Auto-derive BaseURL from Port if not explicitly set
	if cfg.BaseURL == "" {
		cfg.BaseURL = (&url.URL{
			Scheme: "http",
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

// parseComplexFields handles fields that need post-processing after loading.
func (c *Config) parseComplexFields() error {
	c.Auth.JWKSEndpoints = parseJWKSEndpoints(c.Auth.JWKSEndpointsStr)
	c.CORSAllowedOrigins = splitList(c.CORSAllowedOriginsStr)
	c.Scan.SkipDirs = splitList(c.Scan.SkipDirsStr)

	// PEM keys are commonly passed through env with literal \n sequences
	if c.GitHub.AppPrivateKey != "" && !strings.Contains(c.GitHub.AppPrivateKey, "\n") {
		c.GitHub.AppPrivateKey = strings.ReplaceAll(c.GitHub.AppPrivateKey, `\n`, "\n")
	}
	return nil
}

func (c *Config) validate() error {
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unsupported llm provider %q", c.LLM.Provider)
	}

	if c.Scan.Workers <= 0 {
		return fmt.Errorf("scan workers must be positive, got %d", c.Scan.Workers)
	}

	if c.GitHub.CloneDir != "" {
		if info, err := os.Stat(c.GitHub.CloneDir); err != nil || !info.IsDir() {
			return fmt.Errorf("github clone_dir %q is not a directory", c.GitHub.CloneDir)
		}
	}

	return nil
}

// parseJWKSEndpoints parses the JWKS endpoints string into a map.
// Format: "issuer1=url1,issuer2=url2"
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	if value == "" {
		return endpoints
	}

	pairs := strings.Split(value, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) == 2 {
			endpoints[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return endpoints
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the connection settings as a postgres:// URL, the form golang-migrate expects.
func (c *DatabaseConfig) URL() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}
