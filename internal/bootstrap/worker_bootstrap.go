package bootstrap

import (
	"context"

	"jenn_worker/adapter/in/worker"
	"jenn_worker/config"
	"jenn_worker/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// Worker runs the background side of the process: scheduled mailbox sync.
type Worker struct {
	scheduler *worker.SyncScheduler
	enabled   bool
	zlog      zerolog.Logger
}

func NewWorker(ctx context.Context, cfg *config.Config) (*Worker, func(), error) {
	deps, cleanup, err := NewDependencies(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return newWorker(cfg, deps), cleanup, nil
}

func newWorker(cfg *config.Config, deps *Dependencies) *Worker {
	zlog := deps.Log.With().Str("component", "worker").Logger()

	schedCfg := worker.DefaultSchedulerConfig()
	if cfg.SyncInterval > 0 {
		schedCfg.Interval = cfg.SyncInterval
	}
	if cfg.SyncWorkers > 0 {
		schedCfg.Workers = cfg.SyncWorkers
	}

	return &Worker{
		scheduler: worker.NewSyncScheduler(deps.Mailboxes, deps.SyncService, schedCfg, zlog),
		enabled:   cfg.SchedulerEnabled,
		zlog:      zlog,
	}
}

func (w *Worker) Start(ctx context.Context) {
	if !w.enabled {
		logger.Warn("Sync scheduler disabled (SCHEDULER_ENABLED=false)")
		return
	}
	w.scheduler.Start(ctx)
	w.zlog.Info().Msg("worker started")
}

func (w *Worker) Stop() {
	if w.enabled {
		w.scheduler.Stop()
	}
	w.zlog.Info().Msg("worker stopped")
}

// NewAll builds the API and the worker over one set of dependencies.
func NewAll(ctx context.Context, cfg *config.Config) (*fiber.App, *Worker, func(), error) {
	deps, cleanup, err := NewDependencies(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return newApp(cfg, deps), newWorker(cfg, deps), cleanup, nil
}
