package mail

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"jenn_worker/core/domain"
	"jenn_worker/core/port/out"
	"jenn_worker/core/service/rules"
	"jenn_worker/pkg/logger"
	"jenn_worker/pkg/metrics"
)

// =============================================================================
// SyncService - UID watermark 기반 증분 동기화
// =============================================================================

const (
	ManualBatchLimit = 100              // "sync now" 최대 처리 수
	DefaultLockTTL   = 10 * time.Minute // 한 pass 의 최대 예상 시간
)

// ErrSyncInProgress is returned when another pass owns the mailbox.
var ErrSyncInProgress = errors.New("sync already in progress")

// Processor is the rule pipeline the sync pass hands messages to.
type Processor interface {
	ProcessHistoryItem(ctx context.Context, item rules.HistoryItem, opts rules.ProcessOptions) error
}

// SyncConfig tunes batch caps and the watermark policy.
type SyncConfig struct {
	// CronBatchLimit caps scheduled passes. 0 leaves the cap to the provider.
	CronBatchLimit int
	// ManualBatchLimit caps user-triggered passes.
	ManualBatchLimit int
	Policy           domain.AdvancePolicy
	LockTTL          time.Duration
}

func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		ManualBatchLimit: ManualBatchLimit,
		Policy:           domain.AdvanceMaxSeen,
		LockTTL:          DefaultLockTTL,
	}
}

// SyncOptions selects the trigger of one pass.
type SyncOptions struct {
	Trigger domain.SyncTrigger
	// Limit lowers the trigger's batch cap when positive.
	Limit int
}

type SyncService struct {
	mailboxes out.MailboxRepository
	cursors   out.SyncCursorRepository
	rules     out.RuleRepository
	providers out.MailProviderFactory
	pipeline  Processor
	locker    out.Locker

	cfg     SyncConfig
	group   singleflight.Group
	running sync.Map // mailbox ID -> trigger of the pass in flight
	now     func() time.Time
}

// NewSyncService wires the sync pass. locker may be nil for single-process deployments.
func NewSyncService(
	mailboxes out.MailboxRepository,
	cursors out.SyncCursorRepository,
	ruleRepo out.RuleRepository,
	providers out.MailProviderFactory,
	pipeline Processor,
	locker out.Locker,
	cfg SyncConfig,
) *SyncService {
	if cfg.ManualBatchLimit <= 0 {
		cfg.ManualBatchLimit = ManualBatchLimit
	}
	if cfg.Policy == "" {
		cfg.Policy = domain.AdvanceMaxSeen
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	return &SyncService{
		mailboxes: mailboxes,
		cursors:   cursors,
		rules:     ruleRepo,
		providers: providers,
		pipeline:  pipeline,
		locker:    locker,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Sync runs one pass over a mailbox. Concurrent in-process calls with the same trigger share
// one pass. A pass already running under another trigger, or held by another process, yields
// ErrSyncInProgress.
func (s *SyncService) Sync(ctx context.Context, mailboxID int64, opts SyncOptions) (*domain.SyncResult, error) {
	if opts.Trigger == "" {
		opts.Trigger = domain.SyncTriggerManual
	}
	key := strconv.FormatInt(mailboxID, 10) + ":" + string(opts.Trigger)
	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.syncLocked(ctx, mailboxID, opts)
	})
	res, _ := v.(*domain.SyncResult)
	return res, err
}

func (s *SyncService) syncLocked(ctx context.Context, mailboxID int64, opts SyncOptions) (*domain.SyncResult, error) {
	if other, busy := s.running.LoadOrStore(mailboxID, opts.Trigger); busy {
		metrics.SyncPasses.WithLabelValues(string(opts.Trigger), "busy").Inc()
		return nil, fmt.Errorf("%w: mailbox %d has a %s pass running", ErrSyncInProgress, mailboxID, other)
	}
	defer s.running.Delete(mailboxID)

	if s.locker == nil {
		return s.pass(ctx, mailboxID, opts)
	}

	release, err := s.locker.Acquire(ctx, "sync:mailbox:"+strconv.FormatInt(mailboxID, 10), s.cfg.LockTTL)
	if errors.Is(err, out.ErrLockNotAcquired) {
		metrics.SyncPasses.WithLabelValues(string(opts.Trigger), "busy").Inc()
		return nil, fmt.Errorf("%w: mailbox %d", ErrSyncInProgress, mailboxID)
	}
	if err != nil {
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			logger.WithError(err).Warn("[SyncService.Sync] failed to release lock for mailbox %d", mailboxID)
		}
	}()

	return s.pass(ctx, mailboxID, opts)
}

// pass reads the watermark w, hands every message with UID > w to the pipeline in ascending
// order and raises the watermark once after the batch.
func (s *SyncService) pass(ctx context.Context, mailboxID int64, opts SyncOptions) (res *domain.SyncResult, err error) {
	start := s.now()
	log := logger.WithContext(ctx).WithFields(map[string]any{
		"mailbox_id": mailboxID,
		"trigger":    opts.Trigger,
	})
	defer func() {
		outcome := "ok"
		switch {
		case err != nil:
			outcome = "error"
		case res.NoNewMessages:
			outcome = "empty"
		case res.Failed > 0:
			outcome = "partial"
		}
		metrics.SyncPasses.WithLabelValues(string(opts.Trigger), outcome).Inc()
		metrics.SyncDuration.WithLabelValues(string(opts.Trigger)).Observe(s.now().Sub(start).Seconds())
	}()

	mailbox, err := s.mailboxes.GetByID(ctx, mailboxID)
	if err != nil {
		return nil, fmt.Errorf("load mailbox: %w", err)
	}
	if mailbox == nil || !mailbox.IsActive {
		return nil, fmt.Errorf("mailbox %d is not active", mailboxID)
	}
	ctx = logger.ContextWithAccount(ctx, mailbox.Address)
	log = log.WithContext(ctx)

	cursor, err := s.cursors.Get(ctx, mailboxID)
	if err != nil {
		return nil, fmt.Errorf("load sync cursor: %w", err)
	}
	w := cursor.LastSeenUID

	result := &domain.SyncResult{
		MailboxID:         mailboxID,
		Trigger:           opts.Trigger,
		PreviousWatermark: w,
		NewWatermark:      w,
	}

	provider, err := s.providers.Open(ctx, mailbox)
	if err != nil {
		return nil, fmt.Errorf("open mailbox: %w", err)
	}
	defer func() {
		if cerr := provider.Close(); cerr != nil {
			log.WithError(cerr).Warn("[SyncService.pass] close provider")
		}
	}()

	limit := s.batchLimit(opts)
	fetched, err := provider.GetMessagesAfterUID(ctx, w, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch messages after uid %d: %w", w, err)
	}
	batch := unseen(fetched, w, limit)
	result.Fetched = len(batch)

	if len(batch) == 0 {
		result.NoNewMessages = true
		result.DurationMs = s.now().Sub(start).Milliseconds()
		log.Debug("[SyncService.pass] no new messages above uid %d", w)
		return result, nil
	}

	mailRules, err := s.rules.ListActiveByAccount(ctx, mailbox.EmailAccountID)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	procOpts := rules.ProcessOptions{
		Provider:    provider,
		Mailbox:     mailbox,
		Rules:       mailRules,
		HasAIAccess: mailbox.HasAIAccess,
		Logger:      log,
	}

	var (
		maxSeen    = w
		contiguous = w
		broken     bool
	)
	for _, msg := range batch {
		if ctx.Err() != nil {
			log.Warn("[SyncService.pass] cancelled after %d of %d messages", result.Processed+result.Failed, len(batch))
			break
		}

		perr := s.processOne(ctx, msg, procOpts)
		maxSeen = msg.UID

		preview := domain.MessagePreview{UID: msg.UID, From: msg.From, Subject: msg.Subject, Date: msg.Date, Status: "processed"}
		if perr != nil {
			result.Failed++
			broken = true
			preview.Status, preview.Error = "failed", perr.Error()
			metrics.SyncMessages.WithLabelValues("failed").Inc()
			log.WithError(perr).WithField("uid", msg.UID).Error("[SyncService.pass] message processing failed")
		} else {
			result.Processed++
			if !broken {
				contiguous = msg.UID
			}
			metrics.SyncMessages.WithLabelValues("processed").Inc()
		}
		if opts.Trigger == domain.SyncTriggerManual {
			result.Messages = append(result.Messages, preview)
		}
	}

	target := maxSeen
	if s.cfg.Policy == domain.AdvanceContiguous {
		target = contiguous
	}
	if target > w {
		if _, err := s.cursors.AdvanceIfGreater(context.WithoutCancel(ctx), mailboxID, target); err != nil {
			return result, fmt.Errorf("advance watermark to %d: %w", target, err)
		}
		result.NewWatermark = target
	}

	result.DurationMs = s.now().Sub(start).Milliseconds()
	log.WithDuration(s.now().Sub(start)).Info("[SyncService.pass] processed=%d failed=%d uid %d -> %d", result.Processed, result.Failed, w, result.NewWatermark)
	return result, nil
}

// processOne isolates one message: errors and panics are returned, never propagated.
func (s *SyncService) processOne(ctx context.Context, msg *domain.FetchedMessage, opts rules.ProcessOptions) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing uid %d: %v", msg.UID, r)
			opts.Logger.WithField("stack", string(debug.Stack())).Error("[SyncService.processOne] recovered panic")
		}
	}()
	return s.pipeline.ProcessHistoryItem(ctx, rules.HistoryItem{MessageID: msg.UID, PreFetched: msg}, opts)
}

func (s *SyncService) batchLimit(opts SyncOptions) int {
	limit := s.cfg.CronBatchLimit
	if opts.Trigger == domain.SyncTriggerManual {
		limit = s.cfg.ManualBatchLimit
	}
	if opts.Limit > 0 && (limit == 0 || opts.Limit < limit) {
		limit = opts.Limit
	}
	return limit
}

// unseen keeps messages strictly above w, ascending and unique. IMAP "w+1:*" returns the newest
// message even when it is below w, so the filter is not optional. With a cap, the lowest UIDs
// are kept so the watermark never jumps over unprocessed messages.
func unseen(msgs []*domain.FetchedMessage, w int64, limit int) []*domain.FetchedMessage {
	kept := make([]*domain.FetchedMessage, 0, len(msgs))
	seen := make(map[int64]bool, len(msgs))
	for _, m := range msgs {
		if m == nil || m.UID <= w || seen[m.UID] {
			continue
		}
		seen[m.UID] = true
		kept = append(kept, m)
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].UID < kept[j].UID })
	if limit > 0 && len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}
