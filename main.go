package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"jenn_worker/config"
	"jenn_worker/internal/bootstrap"
	"jenn_worker/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
)

const (
	shutdownTimeout = 30 * time.Second // Maximum time to wait for graceful shutdown
	initTimeout     = 30 * time.Second
)

func main() {
	// Initialize logger early
	logger.Init(logger.Config{
		Level:   logger.LevelInfo,
		Service: "jenn-worker",
	})

	// Load .env file if exists (for local development)
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	mode := flag.String("mode", "all", "Run mode: api, worker, all")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}
	bootstrap.InitLogger(cfg, "jenn-"+*mode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	switch *mode {
	case "api":
		app, cleanup, err := bootstrap.NewAPI(initCtx, cfg)
		if err != nil {
			logger.Fatal("Failed to initialize API: %v", err)
		}
		defer cleanup()
		serve(ctx, cfg, app)
	case "worker":
		worker, cleanup, err := bootstrap.NewWorker(initCtx, cfg)
		if err != nil {
			logger.Fatal("Failed to initialize worker: %v", err)
		}
		defer cleanup()
		worker.Start(ctx)
		<-ctx.Done()
		stopWorker(worker)
	case "all":
		app, worker, cleanup, err := bootstrap.NewAll(initCtx, cfg)
		if err != nil {
			logger.Fatal("Failed to initialize: %v", err)
		}
		defer cleanup()
		worker.Start(ctx)
		serve(ctx, cfg, app)
		stopWorker(worker)
	default:
		logger.Fatal("Unknown mode: %s", *mode)
	}
}

// serve blocks until the server stops or ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, app *fiber.App) {
	go func() {
		<-ctx.Done()
		logger.Info("Shutting down API server (timeout: %v)...", shutdownTimeout)
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Error("Error shutting down: %v", err)
			return
		}
		logger.Info("API server shut down gracefully")
	}()

	addr := ":" + cfg.Port
	logger.Info("Starting API server on %s", addr)
	if err := app.Listen(addr); err != nil {
		logger.Fatal("Failed to start server: %v", err)
	}
}

func stopWorker(worker *bootstrap.Worker) {
	done := make(chan struct{})
	go func() {
		worker.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Worker shut down gracefully")
	case <-time.After(shutdownTimeout):
		logger.Warn("Worker shutdown timed out")
	}
}
