package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yourorg/valetgate/internal/domain"
	"github.com/yourorg/valetgate/internal/featureflags"
	"github.com/yourorg/valetgate/internal/handler"
	"github.com/yourorg/valetgate/internal/infrastructure/logger"
	"github.com/yourorg/valetgate/internal/infrastructure/redis"
	"github.com/yourorg/valetgate/internal/observability/metrics"
	"github.com/yourorg/valetgate/internal/observability/tracing"
	"github.com/yourorg/valetgate/internal/reliability/retry"
	"github.com/yourorg/valetgate/internal/repository"
	"github.com/yourorg/valetgate/internal/security"
	"github.com/yourorg/valetgate/internal/security/audit"
	"github.com/yourorg/valetgate/internal/security/auth"
	"github.com/yourorg/valetgate/internal/security/middleware"
	"github.com/yourorg/valetgate/internal/security/ratelimit"
	"github.com/yourorg/valetgate/internal/service"
	"github.com/yourorg/valetgate/internal/worker"
	"github.com/yourorg/valetgate/pkg/config"
	"github.com/yourorg/valetgate/pkg/database"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize structured logger
	log := logger.NewLogger(cfg.LogLevel)
	log.Info("starting ValetGate server", slog.String("environment", cfg.Environment))

	// 3. Initialize tracing (no-op unless an OTLP endpoint is configured)
	shutdownTracing, err := tracing.Init(context.Background(), log, "valetgate", cfg.Environment)
	if err != nil {
		log.Error("failed to initialize tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Connect to Postgres. The database may come up after us; retry with
	// backoff before giving up.
	db, err := retry.Do(context.Background(), &retry.Config{
		MaxAttempts:       5,
		InitialBackoff:    time.Second,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}, log, "database connect", func(ctx context.Context) (*database.ConnectionPool, error) {
		return database.NewConnectionPool(ctx, &database.Config{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			Database: cfg.DBName,
			SSLMode:  cfg.DBSSLMode,
		}, log)
	})
	if err != nil {
		log.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	// 5. Connect to Redis; the report cache degrades to in-memory without it.
	// The in-memory fallback gets a janitor goroutine to reclaim expired
	// entries.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	var reportCache service.ReportCache
	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Warn("redis unavailable, using in-memory report cache", slog.String("error", err.Error()))
		memCache := service.NewMemoryReportCache()
		go worker.NewJanitor(memCache, log, 5*time.Minute).Start(workerCtx)
		reportCache = memCache
	} else {
		defer redisClient.Close()
		reportCache = service.NewRedisReportCache(redisClient, log)
	}

	// 6. Initialize repositories
	keyRepo := repository.NewPostgresAccessKeyRepository(db.GetDB(), log)
	tenantRepo := repository.NewPostgresTenantRepository(db.GetDB(), log)
	userRepo := repository.NewPostgresUserRepository(db.GetDB(), log)
	logRepo := repository.NewPostgresValidationLogRepository(db.GetDB(), log)
	entryRepo := repository.NewPostgresEntryRepository(db.GetDB(), log)

	// 7. Initialize security components
	tokenManager := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer)
	rateLimiter := ratelimit.NewLimiter(cfg.RateLimitPerMinute, time.Minute)
	auditLogger := audit.NewLogger(log)
	authz := security.NewAuthorizationService(log)

	// 8. Initialize services
	keyService := service.NewAccessKeyService(
		keyRepo, tenantRepo, userRepo, logRepo, auditLogger, log,
		cfg.AccessKeyPrefix, cfg.CodeGenMaxAttempts, cfg.DefaultRenewMonths,
	)
	tenantService := service.NewTenantService(tenantRepo, keyRepo, log)
	authService := service.NewAuthService(userRepo, keyRepo, tokenManager, cfg.LoginTokenTTL, cfg.RefreshTokenTTL, log)
	reportService := service.NewReportService(entryRepo, reportCache, cfg.ReportTimezone, cfg.ReportCacheTTL, log)

	// 9. Initialize handlers
	rp := handler.NewResponder(log, cfg.IsProduction())
	validateHandler := handler.NewValidateHandler(keyService, rp, log)
	keyHandler := handler.NewAccessKeyHandler(keyService, rp, log)
	tenantHandler := handler.NewTenantHandler(tenantService, rp, log)
	authHandler := handler.NewAuthHandler(authService, rp, log)
	reportHandler := handler.NewReportHandler(reportService, rp, log)
	healthHandler := handler.NewHealthHandler(db, redisClient, log)

	var liveFeed *handler.LiveFeedHandler
	if cfg.LiveFeedEnabled {
		liveFeed = handler.NewLiveFeedHandler(tokenManager, authz, log, cfg.CORSAllowedOrigins)
		keyService.SetNotifier(liveFeed)
	}

	// Middleware chains for protected routes
	authenticate := middleware.Authenticate(tokenManager, log)
	rateLimit := middleware.RateLimit(rateLimiter, log)
	jsonOnly := middleware.ValidateJSONContentType(log)
	adminOnly := middleware.RequireRole(log, auditLogger, domain.RoleAdmin)
	anyRole := middleware.RequireRole(log, auditLogger, domain.RoleAdmin, domain.RoleOperator)

	admin := func(h http.HandlerFunc) http.Handler {
		return authenticate(rateLimit(adminOnly(h)))
	}
	adminJSON := func(h http.HandlerFunc) http.Handler {
		return authenticate(rateLimit(adminOnly(jsonOnly(h))))
	}

	// 10. Setup HTTP routes
	mux := http.NewServeMux()

	// Public surface
	mux.Handle("POST /api/access-keys/validate", jsonOnly(validateHandler))
	mux.Handle("POST /api/auth/login", jsonOnly(strictLoginLimit(rateLimiter, log, authHandler.Login)))
	mux.Handle("POST /api/auth/refresh", http.HandlerFunc(authHandler.Refresh))
	mux.HandleFunc("GET /healthz", healthHandler.Health)
	mux.HandleFunc("GET /readyz", healthHandler.Ready)
	mux.Handle("GET /metrics", promhttp.Handler())
	if liveFeed != nil {
		mux.Handle("GET /ws/validations", liveFeed)
	}

	// Session
	mux.Handle("GET /api/auth/me", authenticate(rateLimit(anyRole(http.HandlerFunc(authHandler.Me)))))
	mux.Handle("POST /api/auth/register", adminJSON(authHandler.Register))

	// Access key administration
	mux.Handle("POST /api/access-keys/generate", adminJSON(keyHandler.Generate))
	mux.Handle("GET /api/access-keys", admin(keyHandler.List))
	mux.Handle("GET /api/access-keys/{id}", admin(keyHandler.Get))
	mux.Handle("PATCH /api/access-keys/{id}", adminJSON(keyHandler.Update))
	mux.Handle("DELETE /api/access-keys/{id}", admin(keyHandler.Delete))
	mux.Handle("PUT /api/access-keys/{id}/revoke", adminJSON(keyHandler.Revoke))
	mux.Handle("PUT /api/access-keys/{id}/renew", adminJSON(keyHandler.Renew))
	mux.Handle("PUT /api/access-keys/{id}/status", adminJSON(keyHandler.SetStatus))
	mux.Handle("POST /api/access-keys/{id}/bind-user/{userId}", admin(keyHandler.BindUser))
	mux.Handle("DELETE /api/access-keys/{id}/unbind-user/{userId}", admin(keyHandler.UnbindUser))
	mux.Handle("GET /api/access-keys/{id}/users", admin(keyHandler.Users))
	mux.Handle("GET /api/access-keys/{id}/available-users", admin(keyHandler.AvailableUsers))
	mux.Handle("GET /api/access-keys/{id}/logs", admin(keyHandler.Logs))

	// Tenant administration
	mux.Handle("POST /api/tenants", adminJSON(tenantHandler.Create))
	mux.Handle("GET /api/tenants", admin(tenantHandler.List))
	mux.Handle("GET /api/tenants/{id}", admin(tenantHandler.Get))
	mux.Handle("PATCH /api/tenants/{id}", adminJSON(tenantHandler.Update))
	mux.Handle("DELETE /api/tenants/{id}", admin(tenantHandler.Delete))

	// Reports
	mux.Handle("GET /api/reports/daily-movement", admin(reportHandler.DailyMovement))
	mux.Handle("GET /api/reports/peak-hours", admin(reportHandler.PeakHours))
	mux.Handle("GET /api/reports/vehicles", admin(reportHandler.Vehicles))
	mux.Handle("GET /api/reports/parked-vehicles", admin(reportHandler.Parked))

	// CORS middleware honoring configured origins
	handlerWithCORS := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if originAllowed(cfg.CORSAllowedOrigins, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else if len(cfg.CORSAllowedOrigins) > 0 {
			w.Header().Set("Access-Control-Allow-Origin", cfg.CORSAllowedOrigins[0])
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		mux.ServeHTTP(w, r)
	})

	// Chain middleware: request ID -> metrics -> tracing -> CORS
	rootHandler := withRequestID(
		metrics.HTTPMetricsMiddleware(
			otelhttp.NewHandler(handlerWithCORS, "valetgate"),
		),
		log,
	)

	// 11. Start HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      rootHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info("server starting",
		slog.Int("port", cfg.ServerPort),
		slog.String("auth", "jwt"),
		slog.Int("rate_limit", cfg.RateLimitPerMinute),
		slog.String("rate_limit_window", "1m"),
		slog.String("report_timezone", cfg.ReportTimezone.String()),
	)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.String("error", err.Error()))
		}
	}()

	<-sigChan
	log.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", slog.String("error", err.Error()))
	}

	rateLimiter.Stop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("tracing shutdown error", slog.String("error", err.Error()))
	}
	log.Info("server stopped")
}

// strictLoginLimit applies a tighter per-address limit to the login endpoint
// when the strict_login_ratelimit flag is set.
func strictLoginLimit(limiter *ratelimit.Limiter, log *slog.Logger, next http.HandlerFunc) http.Handler {
	if !featureflags.Enabled("strict_login_ratelimit") {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.AllowStrict(r.RemoteAddr, 10, time.Minute) {
			log.Warn("login rate limit exceeded", slog.String("remote", r.RemoteAddr))
			http.Error(w, `{"success":false,"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withRequestID attaches a request ID to the context and response headers for traceability
func withRequestID(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := generateRequestID()
		w.Header().Set("X-Request-ID", reqID)

		ctx := audit.WithRequestID(r.Context(), reqID)
		start := time.Now()

		next.ServeHTTP(w, r.WithContext(ctx))

		log.Info("request completed",
			slog.String("request_id", reqID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("duration_ms", time.Since(start)),
		)
	})
}

func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return false
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

func generateRequestID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}
	return fmt.Sprintf("req-%d", time.Now().UnixNano())
}
