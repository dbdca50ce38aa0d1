package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jenn_worker/core/domain"
	mail "jenn_worker/core/service/email"
)

type staticMailboxes []*domain.Mailbox

func (m staticMailboxes) GetByID(context.Context, int64) (*domain.Mailbox, error) { return nil, nil }
func (m staticMailboxes) ListActive(context.Context) ([]*domain.Mailbox, error)   { return m, nil }

type recordingSyncer struct {
	mu       sync.Mutex
	triggers map[int64]domain.SyncTrigger
	results  map[int64]error
	block    chan struct{}
}

func (r *recordingSyncer) Sync(ctx context.Context, id int64, opts mail.SyncOptions) (*domain.SyncResult, error) {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.triggers == nil {
		r.triggers = map[int64]domain.SyncTrigger{}
	}
	r.triggers[id] = opts.Trigger
	if err := r.results[id]; err != nil {
		return nil, err
	}
	return &domain.SyncResult{MailboxID: id, Fetched: 2}, nil
}

func TestRunOnce_FansOutCronPasses(t *testing.T) {
	syncer := &recordingSyncer{results: map[int64]error{
		2: mail.ErrSyncInProgress,
		3: errors.New("imap: connection reset"),
	}}
	s := NewSyncScheduler(staticMailboxes{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}}, syncer,
		SchedulerConfig{Workers: 2}, zerolog.Nop())

	summary, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, TickSummary{Mailboxes: 4, Synced: 2, Skipped: 1, Failed: 1, Messages: 4}, summary)
	assert.Len(t, syncer.triggers, 4)
	for id, trigger := range syncer.triggers {
		assert.Equal(t, domain.SyncTriggerCron, trigger, "mailbox %d", id)
	}
}

func TestRunOnce_DoesNotOverlap(t *testing.T) {
	syncer := &recordingSyncer{block: make(chan struct{})}
	s := NewSyncScheduler(staticMailboxes{{ID: 1}}, syncer, SchedulerConfig{}, zerolog.Nop())

	done := make(chan TickSummary)
	go func() {
		summary, _ := s.RunOnce(context.Background())
		done <- summary
	}()

	require.Eventually(t, s.running.Load, time.Second, time.Millisecond)
	second, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Mailboxes)

	close(syncer.block)
	first := <-done
	assert.Equal(t, 1, first.Synced)
}

func TestStartStop(t *testing.T) {
	syncer := &recordingSyncer{}
	s := NewSyncScheduler(staticMailboxes{{ID: 7}}, syncer, SchedulerConfig{Interval: time.Hour}, zerolog.Nop())

	s.Start(context.Background())
	require.Eventually(t, func() bool {
		syncer.mu.Lock()
		defer syncer.mu.Unlock()
		return syncer.triggers[7] == domain.SyncTriggerCron
	}, time.Second, 5*time.Millisecond)
	s.Stop()
}
