package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/tracking-engine/pkg/audit"
	"github.com/ekaya-inc/tracking-engine/pkg/auth"
	"github.com/ekaya-inc/tracking-engine/pkg/config"
	"github.com/ekaya-inc/tracking-engine/pkg/crypto"
	"github.com/ekaya-inc/tracking-engine/pkg/database"
	"github.com/ekaya-inc/tracking-engine/pkg/handlers"
	"github.com/ekaya-inc/tracking-engine/pkg/llm"
	"github.com/ekaya-inc/tracking-engine/pkg/logging"
	"github.com/ekaya-inc/tracking-engine/pkg/mcp"
	mcpauth "github.com/ekaya-inc/tracking-engine/pkg/mcp/auth"
	"github.com/ekaya-inc/tracking-engine/pkg/mcp/tools"
	"github.com/ekaya-inc/tracking-engine/pkg/middleware"
	"github.com/ekaya-inc/tracking-engine/pkg/repositories"
	"github.com/ekaya-inc/tracking-engine/pkg/secrets"
	"github.com/ekaya-inc/tracking-engine/pkg/services"
	"github.com/ekaya-inc/tracking-engine/pkg/services/githubapp"
	"github.com/ekaya-inc/tracking-engine/pkg/services/search"
	"github.com/ekaya-inc/tracking-engine/pkg/services/workqueue"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.ResolveDockerHosts()

	logger := newLogger(cfg.Env)
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.Bool("redis", cfg.Redis.Host != ""),
		zap.Bool("github_oauth", cfg.GitHub.HasOAuth()),
		zap.Bool("github_app", cfg.GitHub.HasApp()),
		zap.Bool("llm", cfg.LLM.IsAvailable()))

	ctx := context.Background()

	// Database
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.URL(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	sqlDB := stdlib.OpenDBFromPool(db.Pool)
	if err := database.RunMigrations(sqlDB, cfg.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	if err := sqlDB.Close(); err != nil {
		logger.Warn("Failed to close migration connection", zap.Error(err))
	}

	// Redis is optional; without it the GitHub repo list is not cached.
	var redisClient *redis.Client
	if cfg.Redis.Host != "" {
		redisClient, err = database.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Warn("Redis unavailable, continuing without cache", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	encryptor, err := crypto.NewCredentialEncryptor(cfg.CredentialsKey)
	if err != nil {
		logger.Fatal("Failed to initialize credential encryptor", zap.Error(err))
	}

	scopes := database.NewUserScopeProvider(db)

	// Repositories
	repoRepo := repositories.NewRepoRepository()
	planRepo := repositories.NewPlanRepository()
	eventRepo := repositories.NewEventRepository()
	annotationRepo := repositories.NewAnnotationRepository()
	scanJobRepo := repositories.NewScanJobRepository()
	profileRepo := repositories.NewProfileRepository()
	sessionRepo := repositories.NewAgentSessionRepository()

	// GitHub
	var appTokens services.AppTokenProvider
	if cfg.GitHub.HasApp() {
		source, err := githubapp.NewAppTokenSource(cfg.GitHub.AppID, cfg.GitHub.AppPrivateKey, cfg.GitHub.APIBaseURL, logger)
		if err != nil {
			logger.Fatal("Failed to initialize GitHub App", zap.Error(err))
		}
		appTokens = source
	}

	var repoCache services.RepoCache
	if redisClient != nil {
		repoCache = services.NewRepoCache(redisClient, cfg.GitHub.RepoCacheTTL, logger)
	}

	githubService := services.NewGitHubService(services.GitHubServiceConfig{
		ClientID:          cfg.GitHub.ClientID,
		ClientSecret:      cfg.GitHub.ClientSecret,
		RedirectURL:       strings.TrimRight(cfg.BaseURL, "/") + "/auth/github/callback",
		WebBaseURL:        cfg.GitHub.CloneBaseURL,
		APIBaseURL:        cfg.GitHub.APIBaseURL,
		RequestsPerSecond: cfg.GitHub.RequestsPerSecond,
	}, profileRepo, encryptor, appTokens, repoCache, logger)

	// Scan pipeline
	llmClient, err := llm.NewFromConfig(&cfg.LLM, logger)
	if err != nil {
		if !errors.Is(err, llm.ErrNotConfigured) {
			logger.Fatal("Failed to initialize LLM client", zap.Error(err))
		}
		logger.Warn("LLM not configured, scans use built-in SDK patterns only")
		llmClient = nil
	}

	searcher := search.NewSearcher(search.Config{
		Workers:          cfg.Scan.Workers,
		MaxFileSizeBytes: cfg.Scan.MaxFileSizeBytes,
		SkipDirs:         cfg.Scan.SkipDirs,
	}, logger)

	auditor := audit.NewSecurityAuditor(logger)

	redactor, err := secrets.NewRedactor()
	if err != nil {
		logger.Fatal("Failed to initialize secret redactor", zap.Error(err))
	}

	cloneService := services.NewCloneService(services.CloneConfig{
		BaseURL:        cfg.GitHub.CloneBaseURL,
		Dir:            cfg.GitHub.CloneDir,
		Depth:          cfg.GitHub.CloneDepth,
		DefaultBranch:  cfg.GitHub.DefaultBranch,
		FallbackBranch: cfg.GitHub.FallbackBranch,
	}, logger)

	scanService := services.NewScanService(services.ScanServiceDeps{
		RepoRepo:  repoRepo,
		JobRepo:   scanJobRepo,
		EventRepo: eventRepo,
		Scopes:    scopes,
		Tokens:    githubService,
		Cloner:    cloneService,
		Detector:  services.NewReconService(llmClient, searcher, cfg.LLM.MaxToolIterations, logger),
		Patterns:  services.NewPatternService(llmClient, logger),
		Searcher:  searcher,
		Redactor:  redactor,
		Auditor:   auditor,
	}, logger)

	// Jobs still marked active belong to a process that is gone.
	failCtx, release, err := scopes.WithoutUserScope(ctx)
	if err != nil {
		logger.Fatal("Failed to acquire database connection", zap.Error(err))
	}
	if _, err := scanService.FailStale(failCtx); err != nil {
		logger.Error("Failed to mark stale scans", zap.Error(err))
	}
	release()

	queue := workqueue.New(logger,
		workqueue.WithStrategy(workqueue.NewThrottledStrategy(cfg.LLM.AgentConcurrency, cfg.LLM.AgentConcurrency*2)))

	// Services
	repoService := services.NewRepoService(repoRepo, planRepo, eventRepo, auditor, logger)
	planService := services.NewPlanService(planRepo, repoRepo, eventRepo, auditor, logger)
	eventService := services.NewEventService(eventRepo, repoRepo, planRepo, auditor, logger)
	annotationService := services.NewAnnotationService(annotationRepo, eventRepo, repoRepo, auditor, logger)
	profileService := services.NewProfileService(profileRepo, logger)
	agentService := services.NewAgentService(sessionRepo, repoRepo, scanService, queue, scopes, logger)

	// Auth
	jwksClient, err := auth.NewJWKSClient(&auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
	})
	if err != nil {
		logger.Fatal("Failed to initialize JWKS client", zap.Error(err))
	}
	defer jwksClient.Close()

	authService := auth.NewAuthService(jwksClient, logger)
	authMiddleware := auth.NewMiddleware(authService, logger)
	sessionStore := auth.NewSessionStore(cfg.SessionSecret, auth.DeriveCookieSettings(cfg.BaseURL, cfg.CookieDomain))

	mux := http.NewServeMux()

	profilesHandler := handlers.NewProfilesHandler(profileService, logger)
	userMiddleware := handlers.Chain(database.WithUserContext(db, logger), profilesHandler.RequireProfile)

	// Register handlers
	checks := map[string]handlers.HealthCheck{
		"database": func(ctx context.Context) error { return db.Ping(ctx) },
	}
	mcpChecks := map[string]tools.ComponentCheck{
		"database": func(ctx context.Context) error { return db.Ping(ctx) },
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		mcpChecks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	handlers.NewHealthHandler(cfg, checks, logger).RegisterRoutes(mux)
	handlers.NewConfigHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewAuthHandler(cfg, logger).RegisterRoutes(mux)

	profilesHandler.RegisterRoutes(mux, authMiddleware, userMiddleware)
	handlers.NewReposHandler(repoService, eventService, logger).RegisterRoutes(mux, authMiddleware, userMiddleware)
	handlers.NewPlansHandler(planService, eventService, logger).RegisterRoutes(mux, authMiddleware, userMiddleware)
	handlers.NewEventsHandler(eventService, annotationService, logger).RegisterRoutes(mux, authMiddleware, userMiddleware)
	handlers.NewScansHandler(scanService, repoService, logger).RegisterRoutes(mux, authMiddleware, userMiddleware)
	handlers.NewGitHubHandler(githubService, repoService, scanService, scopes, sessionStore, cfg.FrontendURL, logger).
		RegisterRoutes(mux, authMiddleware, userMiddleware)
	handlers.NewAgentHandler(agentService, logger).RegisterRoutes(mux, authMiddleware, userMiddleware)

	// MCP
	mcpServer := mcp.NewServer("tracking-engine", cfg.Version, logger, mcp.NewAuditLogger(logger))
	tools.RegisterHealthTool(mcpServer.MCP(), cfg.Version, mcpChecks)
	tools.RegisterTrackingTools(mcpServer.MCP(), &tools.TrackingToolDeps{
		BaseMCPToolDeps: tools.BaseMCPToolDeps{Scopes: scopes, Logger: logger},
		RepoService:     repoService,
		PlanService:     planService,
		ScanService:     scanService,
	})
	handlers.NewMCPHandler(mcpServer, logger).RegisterRoutes(mux, mcpauth.NewMiddleware(authService, logger))

	var handler http.Handler = mux
	handler = middleware.CORS(cfg.CORSAllowedOrigins)(handler)
	handler = middleware.RequestLogger(logger)(handler)

	server := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	go func() {
		logger.Info("Starting tracking-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Scans first so their final status writes still have a database.
	if err := scanService.Shutdown(shutdownCtx); err != nil {
		logger.Error("Scans did not stop cleanly", zap.Error(err))
	}
	if err := queue.Shutdown(shutdownCtx); err != nil {
		logger.Error("Agent tasks did not stop cleanly", zap.Error(err))
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
}

func newLogger(env string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if env == "local" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
