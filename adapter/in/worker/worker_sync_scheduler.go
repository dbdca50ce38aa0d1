package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"

	"jenn_worker/core/domain"
	"jenn_worker/core/port/out"
	mail "jenn_worker/core/service/email"
)

// =============================================================================
// SyncScheduler - 주기적 메일함 동기화 (cron trigger)
// =============================================================================

// Syncer runs one sync pass.
type Syncer interface {
	Sync(ctx context.Context, mailboxID int64, opts mail.SyncOptions) (*domain.SyncResult, error)
}

// SchedulerConfig holds cron sync configuration.
type SchedulerConfig struct {
	Interval    time.Duration // tick 간격
	Workers     int           // 동시 동기화 메일함 수
	StartDelay  time.Duration // 기동 직후 대기
	PassTimeout time.Duration // 메일함 1개 pass 제한 시간
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:    time.Minute,
		Workers:     8,
		StartDelay:  10 * time.Second,
		PassTimeout: 5 * time.Minute,
	}
}

// TickSummary counts the outcome of one tick.
type TickSummary struct {
	Mailboxes int
	Synced    int
	Skipped   int // another pass held the mailbox
	Failed    int
	Messages  int
}

// SyncScheduler lists active mailboxes on every tick and fans passes out over a worker pool.
// A tick that is still running when the next one fires is not overlapped.
type SyncScheduler struct {
	mailboxes out.MailboxRepository
	syncer    Syncer
	cfg       SchedulerConfig
	log       zerolog.Logger

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewSyncScheduler(mailboxes out.MailboxRepository, syncer Syncer, cfg SchedulerConfig, log zerolog.Logger) *SyncScheduler {
	def := DefaultSchedulerConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.PassTimeout <= 0 {
		cfg.PassTimeout = def.PassTimeout
	}
	return &SyncScheduler{
		mailboxes: mailboxes,
		syncer:    syncer,
		cfg:       cfg,
		log:       log.With().Str("component", "sync_scheduler").Logger(),
	}
}

// Start launches the tick loop. It returns immediately.
func (s *SyncScheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.log.Info().
		Dur("interval", s.cfg.Interval).
		Int("workers", s.cfg.Workers).
		Msg("sync scheduler started")
}

// Stop cancels the loop and waits for the running tick to finish.
func (s *SyncScheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.log.Info().Msg("sync scheduler stopped")
}

func (s *SyncScheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	if s.cfg.StartDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.StartDelay):
		}
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Error().Err(err).Msg("sync tick failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs one tick: every active mailbox gets one cron pass.
func (s *SyncScheduler) RunOnce(ctx context.Context) (TickSummary, error) {
	var summary TickSummary
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn().Msg("previous tick still running, skipping")
		return summary, nil
	}
	defer s.running.Store(false)

	mailboxes, err := s.mailboxes.ListActive(ctx)
	if err != nil {
		return summary, err
	}
	summary.Mailboxes = len(mailboxes)
	if len(mailboxes) == 0 {
		return summary, nil
	}

	w := &mailboxWorker{s: s}
	p := pool.New[*domain.Mailbox](min(s.cfg.Workers, len(mailboxes)), w).WithContinueOnError()
	if err := p.Go(ctx); err != nil {
		return summary, err
	}
	for _, mb := range mailboxes {
		p.Submit(mb)
	}
	if err := p.Close(ctx); err != nil {
		return summary, err
	}

	summary.Synced = int(w.synced.Load())
	summary.Skipped = int(w.skipped.Load())
	summary.Failed = int(w.failed.Load())
	summary.Messages = int(w.messages.Load())

	s.log.Info().
		Int("mailboxes", summary.Mailboxes).
		Int("synced", summary.Synced).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Int("messages", summary.Messages).
		Msg("sync tick completed")
	return summary, nil
}

// mailboxWorker implements pool.Worker for one tick and counts outcomes.
type mailboxWorker struct {
	s *SyncScheduler

	synced, skipped, failed, messages atomic.Int64
}

// Do implements pool.Worker interface.
func (w *mailboxWorker) Do(ctx context.Context, mb *domain.Mailbox) error {
	passCtx, cancel := context.WithTimeout(ctx, w.s.cfg.PassTimeout)
	defer cancel()

	res, err := w.s.syncer.Sync(passCtx, mb.ID, mail.SyncOptions{Trigger: domain.SyncTriggerCron})
	switch {
	case errors.Is(err, mail.ErrSyncInProgress):
		w.skipped.Add(1)
	case err != nil:
		w.failed.Add(1)
		w.s.log.Warn().Err(err).Int64("mailbox_id", mb.ID).Msg("cron sync failed")
	default:
		w.synced.Add(1)
		w.messages.Add(int64(res.Fetched))
	}
	// 개별 실패는 tick 전체를 중단시키지 않음
	return nil
}
