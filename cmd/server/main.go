package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/router"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/sysstat"
	"github.com/stemsi/exstem-proctor/internal/validator"
	"github.com/stemsi/exstem-proctor/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	policy := cfg.Proctor()
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Int("strike_threshold", policy.StrikeThreshold).
		Msg("Starting ExStem Proctor")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Migrate Schema ────────────────────────────────────────────────
	if cfg.AutoMigrate {
		if err := database.MigrateUp(cfg.MigrationsPath, cfg.DatabaseURL, log); err != nil {
			log.Fatal().Err(err).Msg("Failed to migrate schema")
		}
	}

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	candidateRepo := repository.NewCandidateRepository(pool)
	testRepo := repository.NewTestRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)
	monitorRepo := repository.NewMonitorRepository(pool, rdb)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, rdb)
	candidateService := service.NewCandidateService(candidateRepo, authService)
	testService := service.NewTestService(testRepo, rdb, log)
	attemptService := service.NewAttemptService(attemptRepo, testService, rdb, log)
	proctoringService := service.NewProctoringService(attemptService, rdb, cfg, log)
	monitorService := service.NewMonitorService(monitorRepo, testRepo)

	// ─── Initialize Handlers ──────────────────────────────────────────
	sessionHandler := handler.NewSessionHandler(testService, attemptService, proctoringService, policy, log, cfg.AllowedOrigins)
	handlers := &router.Handlers{
		Auth:       handler.NewAuthHandler(authService, candidateService),
		Test:       handler.NewTestHandler(testService, attemptService),
		Proctoring: handler.NewProctoringHandler(proctoringService),
		Session:    sessionHandler,
		Monitor:    handler.NewMonitorHandler(rdb, monitorService, log),
		System:     handler.NewSystemHandler(rdb, sysstat.NewSampler(nil), sessionHandler.ActiveSessions, log),
	}

	limiters := router.Limiters{
		Auth:       middleware.NewRateLimiter(10, time.Minute),
		Proctoring: middleware.NewRateLimiter(120, time.Minute),
	}
	defer limiters.Auth.Stop()
	defer limiters.Proctoring.Stop()

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	opts := worker.Options{BatchSize: cfg.WorkerBatchSize, BatchTimeout: cfg.WorkerFlushInterval}

	var workers sync.WaitGroup
	for _, w := range []interface{ Start(context.Context) }{
		worker.NewProctorLogWorker(pool, rdb, opts, log),
		worker.NewProgressWorker(pool, rdb, opts, log),
		worker.NewSubmissionWorker(pool, rdb, opts, log),
	} {
		workers.Add(1)
		go func() {
			defer workers.Done()
			w.Start(workerCtx)
		}()
	}

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load all published papers and answer keys into Redis BEFORE accepting
	// traffic so the first wave of candidates never hits PostgreSQL.
	if err := testService.PrewarmAllCaches(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, limiters, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().
		Str("signal", sig.String()).
		Int64("active_sessions", sessionHandler.ActiveSessions()).
		Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests, then close the session sockets.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	sessionHandler.CloseSessions()
	cancel()

	// 2. Stop background workers and wait for their buffers to flush.
	workerCancel()
	drained := make(chan struct{})
	go func() {
		workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Workers did not drain in time")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
