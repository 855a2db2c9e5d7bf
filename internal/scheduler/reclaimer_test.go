package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"burnbox/backend/internal/config"
	"burnbox/backend/internal/domain"
	"burnbox/backend/internal/storage"
	"burnbox/backend/internal/storage/memory"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testRetention() config.RetentionConfig {
	return config.RetentionConfig{
		Interval:     5 * time.Minute,
		MaxMessages:  5,
		MessageAge:   7 * 24 * time.Hour,
		BatchSize:    2,
		InitialDelay: time.Second,
		StepTimeout:  5 * time.Second,
	}
}

func newReclaimer(t *testing.T, store Store, now *time.Time) *Reclaimer {
	t.Helper()
	r := NewReclaimer(store, testRetention(), zap.NewNop())
	r.SetClock(func() time.Time { return *now })
	return r
}

func seedAddress(t *testing.T, store storage.Store, address string, createdAt time.Time, ttl time.Duration) {
	t.Helper()
	local, dom, ok := strings.Cut(address, "@")
	require.True(t, ok)
	require.NoError(t, store.CreateAddress(context.Background(), &domain.Address{
		ID:             "id-" + address,
		Address:        address,
		LocalPart:      local,
		Domain:         dom,
		CreatedAt:      createdAt,
		ExpiresAt:      createdAt.Add(ttl),
		IsActive:       true,
		LastAccessedAt: createdAt,
	}))
}

func seedMessage(t *testing.T, store storage.Store, id, address string, receivedAt time.Time) {
	t.Helper()
	require.NoError(t, store.SaveMessage(context.Background(), &domain.Message{
		ID:           id,
		MessageID:    id + "@temp.mail",
		EmailAddress: address,
		From:         "sender@example.com",
		To:           address,
		Subject:      "subject " + id,
		Body:         "body " + id,
		ReceivedAt:   receivedAt,
		Priority:     domain.PriorityNormal,
	}))
}

func liveMessages(t *testing.T, store storage.Store, address string) []domain.Message {
	t.Helper()
	msgs, _, err := store.ListMessages(context.Background(), address, domain.MessageQuery{Page: 1, Limit: 100})
	require.NoError(t, err)
	return msgs
}

func TestReclaimer_ExpiredAddressAndSoftDeletedMessage(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	now := t0

	seedAddress(t, store, "live@temp.mail", t0, time.Hour)
	seedAddress(t, store, "old@temp.mail", t0.Add(-2*time.Hour), time.Hour)

	seedMessage(t, store, "keep", "live@temp.mail", t0.Add(-time.Minute))
	seedMessage(t, store, "trash", "live@temp.mail", t0.Add(-2*time.Minute))
	seedMessage(t, store, "stale", "old@temp.mail", t0.Add(-90*time.Minute))
	require.NoError(t, store.SoftDeleteMessage(ctx, "live@temp.mail", "trash"))

	r := newReclaimer(t, store, &now)

	report, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, ResultOK, report.Result)
	assert.Equal(t, []string{"old@temp.mail"}, report.Reclaimed)

	t.Run("过期地址被删除", func(t *testing.T) {
		_, err := store.GetAddress(ctx, "old@temp.mail")
		assert.ErrorIs(t, err, storage.ErrAddressNotFound)
	})

	t.Run("存活地址及其邮件保留", func(t *testing.T) {
		addr, err := store.GetAddress(ctx, "live@temp.mail")
		require.NoError(t, err)
		assert.True(t, addr.IsActive)

		msgs := liveMessages(t, store, "live@temp.mail")
		require.Len(t, msgs, 1)
		assert.Equal(t, "keep", msgs[0].ID)
	})

	t.Run("软删除的邮件被物理删除", func(t *testing.T) {
		step, ok := report.Step(StepPurgeDeleted)
		require.True(t, ok)
		assert.Equal(t, int64(1), step.Rows)
	})

	t.Run("过期地址的邮件先软删除，下个周期再清除", func(t *testing.T) {
		step, ok := report.Step(StepSoftDeleteOrphan)
		require.True(t, ok)
		assert.Equal(t, int64(1), step.Rows)

		stats, err := store.SystemStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.TotalMessages)

		next, err := r.RunOnce(ctx)
		require.NoError(t, err)
		purged, _ := next.Step(StepPurgeDeleted)
		assert.Equal(t, int64(1), purged.Rows)
	})
}

func TestReclaimer_StepOrder(t *testing.T) {
	store := memory.NewStore()
	now := t0
	r := newReclaimer(t, store, &now)

	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	names := make([]string, 0, len(report.Steps))
	for _, s := range report.Steps {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{
		StepExpireAddresses,
		StepPurgeDeleted,
		StepPurgeAged,
		StepSoftDeleteOrphan,
		StepRemoveInactive,
		StepEnforceCap,
	}, names)
}

func TestReclaimer_EnforceCap(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	now := t0
	seedAddress(t, store, "busy@temp.mail", t0.Add(-10*time.Minute), time.Hour)

	const extra = 3
	maxMessages := testRetention().MaxMessages
	for i := 0; i < maxMessages+extra; i++ {
		seedMessage(t, store, fmt.Sprintf("m%02d", i), "busy@temp.mail", t0.Add(-time.Duration(i)*time.Second))
	}

	r := newReclaimer(t, store, &now)
	report, err := r.RunOnce(ctx)
	require.NoError(t, err)

	step, ok := report.Step(StepEnforceCap)
	require.True(t, ok)
	assert.Equal(t, int64(extra), step.Rows)
	assert.Empty(t, step.Error)

	t.Run("只保留最新的上限数量", func(t *testing.T) {
		msgs := liveMessages(t, store, "busy@temp.mail")
		require.Len(t, msgs, maxMessages)
		for i, msg := range msgs {
			assert.Equal(t, fmt.Sprintf("m%02d", i), msg.ID)
		}
	})

	t.Run("计数被重新统计", func(t *testing.T) {
		addr, err := store.GetAddress(ctx, "busy@temp.mail")
		require.NoError(t, err)
		assert.Equal(t, maxMessages, addr.MessageCount)
	})
}

func TestReclaimer_AgedMessages(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	now := t0
	seedAddress(t, store, "live@temp.mail", t0, time.Hour)
	seedMessage(t, store, "fresh", "live@temp.mail", t0.Add(-time.Hour))
	seedMessage(t, store, "ancient", "live@temp.mail", t0.Add(-8*24*time.Hour))
	require.NoError(t, store.MarkRead(ctx, "live@temp.mail", "ancient"))

	r := newReclaimer(t, store, &now)
	_, err := r.RunOnce(ctx)
	require.NoError(t, err)

	msgs := liveMessages(t, store, "live@temp.mail")
	require.Len(t, msgs, 1)
	assert.Equal(t, "fresh", msgs[0].ID)
}

// blockingStore 在清除软删除邮件时阻塞，用于模拟长时间运行的周期
type blockingStore struct {
	*memory.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingStore) PurgeDeletedMessages(ctx context.Context, limit int) (int64, error) {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return s.Store.PurgeDeletedMessages(ctx, limit)
}

type countingRecorder struct {
	nopRecorder
	mu      sync.Mutex
	skipped int
	cycles  map[string]int
}

func (c *countingRecorder) RecordReclaimSkipped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.skipped++
}

func (c *countingRecorder) RecordReclaimCycle(result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cycles == nil {
		c.cycles = make(map[string]int)
	}
	c.cycles[result]++
}

func TestReclaimer_SkipWhileRunning(t *testing.T) {
	store := &blockingStore{
		Store:   memory.NewStore(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	now := t0
	r := newReclaimer(t, store, &now)
	rec := &countingRecorder{}
	r.SetRecorder(rec)

	done := make(chan error, 1)
	go func() {
		_, err := r.RunOnce(context.Background())
		done <- err
	}()
	<-store.entered
	assert.True(t, r.Running())

	report, err := r.ForceCycle(context.Background())
	assert.ErrorIs(t, err, ErrCycleRunning)
	assert.Equal(t, ResultSkipped, report.Result)

	close(store.release)
	require.NoError(t, <-done)
	assert.False(t, r.Running())

	rec.mu.Lock()
	assert.Equal(t, 1, rec.skipped)
	assert.Equal(t, 1, rec.cycles[ResultOK])
	rec.mu.Unlock()

	t.Run("结束后可以再次执行", func(t *testing.T) {
		_, err := r.RunOnce(context.Background())
		assert.NoError(t, err)
	})
}

func TestReclaimer_StoreUnavailable(t *testing.T) {
	store := memory.NewStore()
	now := t0
	r := newReclaimer(t, store, &now)

	var completed int
	r.OnComplete(func(CycleReport) { completed++ })

	require.NoError(t, store.Close())
	report, err := r.RunOnce(context.Background())

	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Equal(t, ResultUnavailable, report.Result)
	assert.Empty(t, report.Steps)
	assert.Zero(t, completed)
	assert.True(t, r.LastSuccess().IsZero())
}

func TestReclaimer_ReportAndListeners(t *testing.T) {
	store := memory.NewStore()
	now := t0
	seedAddress(t, store, "live@temp.mail", t0, time.Hour)
	seedMessage(t, store, "m1", "live@temp.mail", t0.Add(-time.Minute))

	r := newReclaimer(t, store, &now)
	var got []CycleReport
	r.OnComplete(func(report CycleReport) { got = append(got, report) })

	_, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, got, 1)
	require.NotNil(t, got[0].Stats)
	assert.Equal(t, int64(1), got[0].Stats.ActiveAddresses)
	assert.Equal(t, int64(60), got[0].Stats.NewestMessageAge)
	assert.Equal(t, t0, r.LastSuccess())
	require.NotNil(t, r.LastReport())
	assert.Equal(t, ResultOK, r.LastReport().Result)
}

func TestReclaimer_StartStop(t *testing.T) {
	store := memory.NewStore()
	r := NewReclaimer(store, testRetention(), zap.NewNop())

	require.NoError(t, r.Start(context.Background()))
	assert.Error(t, r.Start(context.Background()))
	r.Stop()
}
