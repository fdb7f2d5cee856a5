package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/auth"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/background"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/config"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/database"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/filesecurity"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/handlers"
	middlewareCustom "github.com/basanta2029/slidegenie-backend-sub001/internal/middleware"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/repositories"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/routes"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/services"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/store"
	pkghttp "github.com/basanta2029/slidegenie-backend-sub001/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Key-value store
	kv, err := store.NewClient(ctx, &cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to connect to key-value store", slog.Any("error", err))
		os.Exit(1)
	}
	defer kv.Close()

	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}

	// Security services
	auditService := services.NewAuditService(kv, services.AuditConfig{
		RetentionDays: cfg.Audit.RetentionDays,
		StreamMaxLen:  cfg.Audit.StreamMaxLen,
		Async:         cfg.Audit.Async,
		BatchSize:     cfg.Audit.BatchSize,
		FlushInterval: cfg.Audit.FlushInterval,
	}, logger)
	auditCtx, auditCancel := context.WithCancel(context.Background())
	defer auditCancel()
	if cfg.Audit.Async {
		go auditService.Run(auditCtx)
	}

	rateLimitService, err := services.NewRateLimitService(kv, services.RateLimitConfig{
		Strategy:      models.RateLimitStrategy(cfg.RateLimit.Strategy),
		DefaultLimit:  cfg.RateLimit.DefaultLimit,
		DefaultWindow: cfg.RateLimit.DefaultWindow,
		Endpoints:     services.DefaultEndpointLimits(),
	}, logger)
	if err != nil {
		logger.Error("failed to initialize rate limiter", slog.Any("error", err))
		os.Exit(1)
	}

	notifier := newNotifier(ctx, cfg.Notification, logger)

	lockoutService := services.NewLockoutService(kv, services.LockoutConfig{
		MaxAttempts:         cfg.Lockout.MaxAttempts,
		AttemptWindow:       cfg.Lockout.AttemptWindow,
		BaseLockoutDuration: cfg.Lockout.BaseLockoutDuration,
		BruteForceThreshold: cfg.Lockout.BruteForceThreshold,
		Progressive:         cfg.Lockout.Progressive,
	}, auditService, notifier, logger)

	// File threat pipeline
	checks := map[string]handlers.HealthChecker{"store": kv}
	httpClient := &http.Client{Timeout: cfg.Scanner.EngineTimeout}

	var engines []filesecurity.Engine
	if cfg.Scanner.ClamAVAddr != "" {
		clamav := filesecurity.NewClamAVEngine(cfg.Scanner.ClamAVAddr, logger)
		engines = append(engines, clamav)
		checks["clamav"] = handlers.HealthCheckFunc(clamav.Ping)
	}
	if cfg.Scanner.ReputationURL != "" {
		engines = append(engines, filesecurity.NewReputationEngine(cfg.Scanner.ReputationURL, cfg.Scanner.ReputationAPIKey, httpClient, logger))
	}
	if len(engines) == 0 {
		logger.Warn("no virus scan engines configured, uploads will be held for review")
	}

	validatorConfig := filesecurity.DefaultValidatorConfig()
	validatorConfig.MaxFileSize = cfg.Security.AllowedUploadSize
	fileValidator := filesecurity.NewValidator(validatorConfig, logger)

	scanner := filesecurity.NewVirusScanner(kv, engines, filesecurity.ScannerConfig{
		EngineTimeout: cfg.Scanner.EngineTimeout,
		CacheTTL:      cfg.Scanner.CacheTTL,
	}, logger)

	threatConfig := filesecurity.DefaultThreatConfig()
	threatConfig.CacheTTL = cfg.Threat.CacheTTL
	threatConfig.AutoQuarantineCritical = cfg.Threat.AutoQuarantineCritical
	threatConfig.AutoQuarantineHigh = cfg.Threat.AutoQuarantineHigh
	threatConfig.EnableBehavioral = cfg.Threat.EnableBehavioral
	threatConfig.EnableML = cfg.Threat.EnableML
	detector := filesecurity.NewThreatDetector(kv, threatConfig, nil, notifier, logger)

	var mirror filesecurity.Mirror
	if cfg.Quarantine.S3Bucket != "" {
		s3Mirror, err := filesecurity.NewS3Mirror(ctx, filesecurity.S3MirrorConfig{
			Bucket:   cfg.Quarantine.S3Bucket,
			Region:   cfg.Quarantine.S3Region,
			Endpoint: cfg.Quarantine.S3Endpoint,
		}, logger)
		if err != nil {
			logger.Error("failed to initialize quarantine mirror", slog.Any("error", err))
			os.Exit(1)
		}
		mirror = s3Mirror
	}

	quarantine, err := filesecurity.NewQuarantineManager(kv, filesecurity.QuarantineConfig{
		Root:          cfg.Quarantine.Root,
		RetentionDays: cfg.Quarantine.RetentionDays,
		Compress:      cfg.Quarantine.Compress,
		Encrypt:       cfg.Quarantine.Encrypt,
		MaxFileSize:   cfg.Quarantine.MaxFileSize,
		MaxTotalSize:  cfg.Quarantine.MaxTotalSize,
	}, mirror, auditService, logger)
	if err != nil {
		logger.Error("failed to initialize quarantine", slog.Any("error", err))
		os.Exit(1)
	}

	sanitizerConfig := filesecurity.DefaultSanitizerConfig()
	sanitizerConfig.MaxFileSize = cfg.Security.AllowedUploadSize
	sanitizer := filesecurity.NewSanitizer(sanitizerConfig, logger)

	pipeline := filesecurity.NewPipeline(fileValidator, scanner, detector, quarantine, sanitizer, auditService, logger)

	// Background jobs
	scheduler := background.NewScheduler(10*time.Minute, logger)
	if len(cfg.Threat.IntelFeedURLs) > 0 {
		refresher := filesecurity.NewIntelRefresher(detector, cfg.Threat.IntelFeedURLs, httpClient, logger)
		refresh := func(ctx context.Context) error {
			_, err := refresher.Refresh(ctx)
			return err
		}
		if err := scheduler.Add("threat_intel_refresh", cfg.Threat.IntelSchedule, refresh); err != nil {
			logger.Error("failed to schedule threat intel refresh", slog.Any("error", err))
			os.Exit(1)
		}
		scheduler.RunNow("threat_intel_refresh", refresh)
	}

	// Optional Postgres audit archive
	if cfg.Database.ArchiveEnabled() {
		if err := database.Migrate(ctx, cfg.Database.DSN(), logger); err != nil {
			logger.Error("failed to migrate audit archive", slog.Any("error", err))
			os.Exit(1)
		}
		db, err := database.NewConnection(ctx, &cfg.Database, logger)
		if err != nil {
			logger.Error("failed to connect to audit archive", slog.Any("error", err))
			os.Exit(1)
		}
		defer db.Close()
		checks["database"] = db

		archiver := background.NewAuditArchiver(kv, auditService, repositories.NewAuditArchiveRepository(db), 0, logger)
		archive := func(ctx context.Context) error {
			_, err := archiver.Archive(ctx)
			return err
		}
		if err := scheduler.Add("audit_archive", cfg.Audit.ArchiveSchedule, archive); err != nil {
			logger.Error("failed to schedule audit archive", slog.Any("error", err))
			os.Exit(1)
		}
	}

	sweeper := background.NewQuarantineSweeper(quarantine, logger, cfg.Quarantine.CleanupInterval)
	go sweeper.Start(ctx)
	scheduler.Start()

	// Setup router
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, 15*time.Minute)
	cookies := auth.CookieConfig{Secure: cfg.Server.Env == "production", SameSite: "strict"}

	rateLimitConfig := middlewareCustom.DefaultRateLimitConfig()
	rateLimitConfig.IPConfig = ipConfig

	validationConfig := middlewareCustom.DefaultRequestValidationConfig()
	validationConfig.MaxRequestSize = cfg.Security.MaxRequestSize
	validationConfig.MaxUploadSize = cfg.Security.AllowedUploadSize
	validationConfig.IPConfig = ipConfig

	router := chi.NewRouter()
	router.Use(middlewareCustom.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{
		Env:           cfg.Server.Env,
		EnableHSTS:    cfg.Security.EnableHSTS,
		ContentPolicy: cfg.Security.ContentPolicy,
	}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middlewareCustom.Metrics)
	router.Use(auth.OptionalAuth(tokenManager))
	router.Use(middlewareCustom.AuditStatus(auditService, ipConfig))
	if cfg.Security.ValidateRequests {
		router.Use(middlewareCustom.RequestValidation(validationConfig, auditService, logger))
	}
	router.Use(middlewareCustom.CSRFProtection(middlewareCustom.CSRFConfig{
		TrustedOrigins: cfg.Server.AllowedOrigins,
		ExemptPaths:    cfg.Security.CSRFExemptPaths,
		IPConfig:       ipConfig,
	}, auditService, logger))
	router.Use(middlewareCustom.RateLimit(rateLimitService, rateLimitConfig, logger))

	routes.RegisterRoutes(router, routes.Handlers{
		Health:     handlers.NewHealthHandler(checks, logger),
		CSRF:       handlers.NewCSRFHandler(cookies, logger),
		Upload:     handlers.NewUploadHandler(pipeline, cfg.Security.AllowedUploadSize, ipConfig, logger),
		Audit:      handlers.NewAuditHandler(auditService, ipConfig, logger),
		Lockout:    handlers.NewLockoutHandler(lockoutService, logger),
		RateLimit:  handlers.NewRateLimitHandler(rateLimitService, logger),
		Quarantine: handlers.NewQuarantineHandler(quarantine, logger),
	}, tokenManager, cfg.RateLimit.AdminPerMin)

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			stop()
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	sweeper.Stop()
	scheduler.Stop()
	// Close waits for the async writer before the store is closed.
	auditService.Close(shutdownCtx)

	logger.Info("server stopped gracefully")
}

// newNotifier delivers admin alerts through SES when recipients are
// configured, and to the log otherwise.
func newNotifier(ctx context.Context, cfg config.NotificationConfig, logger *slog.Logger) services.AdminNotifier {
	if len(cfg.AdminEmails) == 0 || cfg.FromAddress == "" || cfg.SESRegion == "" {
		return services.NewLogNotifier(logger)
	}
	notifier, err := services.NewSESNotifier(ctx, cfg.SESRegion, cfg.FromAddress, cfg.AdminEmails, logger)
	if err != nil {
		logger.Warn("failed to initialize SES notifier, falling back to log", slog.Any("error", err))
		return services.NewLogNotifier(logger)
	}
	return notifier
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
