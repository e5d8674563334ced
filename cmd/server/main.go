// Command server starts the SkillPath AI HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/skillpath-ai/internal/adapter/ai/groq"
	aistub "github.com/fairyhunter13/skillpath-ai/internal/adapter/ai/stub"
	authadapter "github.com/fairyhunter13/skillpath-ai/internal/adapter/auth"
	httpserver "github.com/fairyhunter13/skillpath-ai/internal/adapter/httpserver"
	"github.com/fairyhunter13/skillpath-ai/internal/adapter/observability"
	"github.com/fairyhunter13/skillpath-ai/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/skillpath-ai/internal/app"
	"github.com/fairyhunter13/skillpath-ai/internal/config"
	"github.com/fairyhunter13/skillpath-ai/internal/domain"
	"github.com/fairyhunter13/skillpath-ai/internal/service/quota"
	"github.com/fairyhunter13/skillpath-ai/internal/service/ratelimiter"
	"github.com/fairyhunter13/skillpath-ai/internal/usecase"
)

// redisAdapter narrows *redis.Client to the readiness interface.
type redisAdapter struct{ *redis.Client }

func (a redisAdapter) Ping(ctx context.Context) app.RedisPingResult {
	return a.Client.Ping(ctx)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so that /metrics
	// exposes HTTP, AI, and quota instrumentation.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	// Infra: DB pool
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// Repositories
	convRepo := postgres.NewConversationRepo(pool)
	roadmapRepo := postgres.NewRoadmapRepo(pool)

	// Quota store: Redis when configured, process memory otherwise.
	var store quota.Store
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		store = quota.NewRedisStore(rdb)
		slog.Info("quota store using redis", slog.String("addr", cfg.RedisAddr))
	} else {
		store = quota.NewMemoryStore()
		slog.Info("quota store using process memory")
	}
	tracker := quota.NewTracker(store, cfg.QuotaLocation())

	// AI client behind the process-wide upstream rate limiter. A missing
	// API key outside prod falls back to the deterministic stub.
	limiter := ratelimiter.NewPerSecond(cfg.AIRequestsPerSecond)
	var aicl domain.AIClient
	if cfg.GroqAPIKey != "" {
		aicl = groq.New(cfg, limiter)
	} else if !cfg.IsProd() {
		slog.Warn("GROQ_API_KEY unset, using stub AI client")
		aicl = aistub.New()
	} else {
		slog.Error("GROQ_API_KEY required in prod")
		os.Exit(1)
	}

	// Auth
	authProvider, err := authadapter.NewStaticProvider(cfg.AuthTokens)
	if err != nil {
		slog.Error("auth token table invalid", slog.Any("error", err))
		os.Exit(1)
	}

	// Usecases
	tutorSvc := usecase.NewTutorService(convRepo, aicl, tracker, cfg.FreeTierDailyLimit, cfg.ChatMaxTokens)
	roadmapSvc := usecase.NewRoadmapService(roadmapRepo, aicl, tracker, cfg.FreeTierDailyLimit)
	usageSvc := usecase.NewUsageService(tracker, cfg.FreeTierDailyLimit)

	// Readiness checks
	var rc app.RedisClient
	if rdb != nil {
		rc = redisAdapter{rdb}
	}
	dbCheck, redisCheck := app.BuildReadinessChecks(pool, rc)

	// HTTP server
	srv := httpserver.NewServer(cfg, tutorSvc, roadmapSvc, usageSvc, authProvider, dbCheck, redisCheck)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
