package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"lumilearn/internal/accounts"
	"lumilearn/internal/auth"
	"lumilearn/internal/db"
	"lumilearn/internal/kvstore"
	"lumilearn/internal/maintenance"
	"lumilearn/internal/observability"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Close   func() error
}

// Build composes the five authentication components once and wires them into
// the HTTP surface. Everything is constructor-injected; nothing hangs off a
// global.
func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger()
	environment := envOrDefault("APP_ENV", "development")

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	accessSecret, err := mustEnv("ACCESS_TOKEN_SECRET")
	if err != nil {
		return nil, err
	}
	refreshSecret, err := mustEnv("REFRESH_TOKEN_SECRET")
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(os.Getenv("SENTRY_DSN"), environment); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(envIntOrDefault("DB_MAX_OPEN_CONNS", 10))
	database.SetMaxIdleConns(envIntOrDefault("DB_MAX_IDLE_CONNS", 5))
	database.SetConnMaxLifetime(envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30))

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(context.Background(), database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	// Counter store: Redis when configured (multi-instance deployments),
	// otherwise process memory.
	var counterStore kvstore.Store
	var memoryStore *kvstore.Memory
	var redisClient *redis.Client
	if redisURL := strings.TrimSpace(os.Getenv("REDIS_URL")); redisURL != "" {
		redisOptions, err := redis.ParseURL(redisURL)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		redisClient = redis.NewClient(redisOptions)
		counterStore = kvstore.NewRedis(redisClient, "auth")
	} else {
		memoryStore = kvstore.NewMemory()
		counterStore = memoryStore
	}

	tokens, err := auth.NewTokenIssuer(
		accessSecret,
		refreshSecret,
		envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 15),
		envHoursOrDefault("REFRESH_TOKEN_TTL_HOURS", 168),
	)
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("token issuer: %w", err)
	}

	repo := auth.NewRepository(database)
	limiter := auth.NewRateLimiter(
		counterStore,
		envIntOrDefault("AUTH_RATE_LIMIT_MAX", 5),
		envMinutesOrDefault("AUTH_RATE_LIMIT_WINDOW_MINUTES", 15),
		envMinutesOrDefault("AUTH_RATE_LIMIT_BLOCK_MINUTES", 60),
	)
	lockout := auth.NewLockoutTracker(
		repo,
		envIntOrDefault("LOGIN_MAX_ATTEMPTS", 5),
		envMinutesOrDefault("LOGIN_LOCK_MINUTES", 15),
	)
	cookies := auth.NewCookieManager(environment != "development")

	service := auth.NewService(repo, tokens, limiter, lockout)
	authHandler := auth.NewHandler(service, cookies)
	middleware := auth.NewMiddleware(tokens, cookies, repo)
	accountsHandler := accounts.NewHandler(repo)
	var pruner maintenance.Pruner
	if memoryStore != nil {
		pruner = memoryStore
	}
	cleanupHandler := maintenance.NewCleanupHandler(
		repo,
		pruner,
		logger,
		os.Getenv("CRON_SECRET"),
		envHoursOrDefault("AUTH_STATE_RETENTION_HOURS", 24),
		envIntOrDefault("AUTH_CLEANUP_BATCH_SIZE", 500),
	)

	if err := service.BootstrapAdmin(context.Background(), os.Getenv("ADMIN_EMAIL"), os.Getenv("ADMIN_PASSWORD")); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/auth/register", limiter.Middleware("register", http.HandlerFunc(authHandler.Register)))
	mux.Handle("POST /api/auth/login", limiter.Middleware("login", http.HandlerFunc(authHandler.Login)))
	mux.Handle("POST /api/auth/refresh", limiter.Middleware("refresh", http.HandlerFunc(authHandler.Refresh)))
	mux.HandleFunc("POST /api/auth/logout", authHandler.Logout)
	mux.Handle("GET /api/auth/session", middleware.Optional(http.HandlerFunc(authHandler.Session)))
	mux.Handle("GET /api/accounts/me", middleware.Require(http.HandlerFunc(accountsHandler.Me)))
	mux.Handle("GET /api/admin/accounts", middleware.RequireAdmin(http.HandlerFunc(accountsHandler.List)))
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(database))

	handler := observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux))

	return &Runtime{
		Handler: handler,
		Close: func() error {
			observability.FlushSentry()
			if redisClient != nil {
				_ = redisClient.Close()
			}
			return database.Close()
		},
	}, nil
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
