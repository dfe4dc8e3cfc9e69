package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/integrity-line/platform/internal/access"
	accessapi "github.com/integrity-line/platform/internal/access/api"
	accessdomain "github.com/integrity-line/platform/internal/access/domain"
	accessinfra "github.com/integrity-line/platform/internal/access/infrastructure"
	caseapi "github.com/integrity-line/platform/internal/case/api"
	casedomain "github.com/integrity-line/platform/internal/case/domain"
	caseinfra "github.com/integrity-line/platform/internal/case/infrastructure"
	caseservice "github.com/integrity-line/platform/internal/case/service"
	"github.com/integrity-line/platform/internal/notification"
	"github.com/integrity-line/platform/internal/shared/auth"
	"github.com/integrity-line/platform/internal/shared/config"
	"github.com/integrity-line/platform/internal/shared/database"
	"github.com/integrity-line/platform/internal/shared/logging"
	"github.com/integrity-line/platform/internal/shared/metrics"
	secmiddleware "github.com/integrity-line/platform/internal/shared/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const maxRequestBody = 1 << 20

// App holds all application dependencies
type App struct {
	Config *config.Config
	Logger *zap.Logger
	DB     *database.DB
	Redis  *redis.Client
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Server.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("platform stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := &App{Config: cfg, Logger: logger}

	accessStore, caseStore, err := openStores(ctx, app)
	if err != nil {
		return err
	}
	if app.DB != nil {
		defer app.DB.Close()
	}

	// The authorization model must be in place before the first request.
	seed, err := access.Seed(ctx, accessStore, access.SeedConfig{
		AdminEmail: cfg.Seed.AdminEmail,
		AdminName:  cfg.Seed.AdminName,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to seed authorization model: %w", err)
	}
	if !seed.AdminID.IsZero() && cfg.Server.Env == "development" {
		token, err := auth.IssueToken(cfg.Auth, seed.AdminID, time.Now())
		if err != nil {
			return fmt.Errorf("failed to issue development token: %w", err)
		}
		logger.Info("development token for bootstrap administrator",
			zap.String("principal_id", seed.AdminID.String()),
			zap.String("token", token))
	}

	notifier := notification.NewService(notificationProvider(ctx, app), notification.DefaultServiceConfig(), logger)
	if app.Redis != nil {
		defer app.Redis.Close()
	}
	if err := notifier.Start(ctx); err != nil {
		return fmt.Errorf("failed to start notifier: %w", err)
	}
	defer func() {
		if err := notifier.Stop(); err != nil {
			logger.Warn("notifier stop failed", zap.Error(err))
		}
	}()

	model := access.NewModel(accessStore, logger)
	cases := caseservice.New(caseStore, model, notifier, logger)

	limiter := secmiddleware.NewIPRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst, logger)
	go limiter.Cleanup(ctx, time.Minute)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(secmiddleware.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(metrics.Middleware)
	r.Use(secmiddleware.CORS(secmiddleware.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	r.Use(secmiddleware.MaxBodyBytes(maxRequestBody))

	// Health checks (unauthenticated)
	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())

	caseHandler := caseapi.NewHandler(cases)

	r.Route("/api/v1", func(r chi.Router) {
		// Reporter routes carry no token; the case credential is checked in
		// the service and the limiter bounds guessing.
		r.Group(func(r chi.Router) {
			r.Use(limiter.Middleware)
			r.Mount("/public/cases", caseHandler.PublicRoutes())
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(cfg.Auth))
			r.Mount("/cases", caseHandler.Routes())
			r.Mount("/access", accessapi.NewHandler(model).Routes())
		})
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
		close(done)
	}()

	logger.Info("integrity line platform listening",
		zap.String("env", cfg.Server.Env),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("database", app.DB != nil),
		zap.Bool("redis", app.Redis != nil))

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	logger.Info("server stopped")
	return nil
}

// openStores connects to Postgres and migrates it when the database is
// enabled. Otherwise both modules run on in-memory stores.
func openStores(ctx context.Context, app *App) (accessdomain.Store, casedomain.Store, error) {
	cfg, logger := app.Config, app.Logger

	if !cfg.Database.Enabled {
		logger.Warn("database disabled, running on in-memory stores")
		return accessinfra.NewMemoryStore(), caseinfra.NewMemoryStore(), nil
	}

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(ctx, db.Pool, logger); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	app.DB = db
	go db.ReportStats(ctx, 15*time.Second)

	return accessinfra.NewPostgresStore(db.Pool), caseinfra.NewPostgresStore(db.Pool), nil
}

// notificationProvider pushes intents onto the Redis queue when Redis is
// enabled and reachable, and logs them otherwise.
func notificationProvider(ctx context.Context, app *App) notification.Provider {
	cfg, logger := app.Config, app.Logger

	if !cfg.Redis.Enabled {
		return notification.NewLogProvider(logger)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	queue := notification.NewRedisQueue(client, cfg.Notify.QueueKey, cfg.Notify.Timeout)
	if err := queue.Ping(ctx); err != nil {
		logger.Warn("redis not available, notifications will only be logged", zap.Error(err))
		client.Close()
		return notification.NewLogProvider(logger)
	}

	app.Redis = client
	return queue
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"server": "ready",
		}

		if app.DB != nil {
			if err := app.DB.Health(r.Context()); err != nil {
				checks["database"] = "not ready: " + err.Error()
			} else {
				checks["database"] = "ready"
			}
		} else {
			checks["database"] = "not configured"
		}

		if app.Redis != nil {
			if err := app.Redis.Ping(r.Context()).Err(); err != nil {
				checks["redis"] = "not ready: " + err.Error()
			} else {
				checks["redis"] = "ready"
			}
		} else {
			checks["redis"] = "not configured"
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" && status != "not configured" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}
