package service

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"burnbox/backend/internal/config"
	"burnbox/backend/internal/storage/memory"
)

// fakeClock 可手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() *config.Config {
	return &config.Config{
		Mailbox: config.MailboxConfig{
			Domain:         "temp.mail",
			AllowedDomains: []string{"temp.mail", "test.com"},
			TTL:            time.Hour,
		},
	}
}

type fixture struct {
	store    *memory.Store
	clock    *fakeClock
	registry *RegistryService
	mailbox  *MailboxService
	ingest   *IngestService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	clock := newFakeClock()
	log := zap.NewNop()

	registry := NewRegistryService(store, testConfig(), log)
	registry.SetClock(clock.Now)
	mailbox := NewMailboxService(store, store, "temp.mail", log)
	mailbox.SetClock(clock.Now)
	ingest := NewIngestService(registry, mailbox, log)
	ingest.SetClock(clock.Now)

	return &fixture{
		store:    store,
		clock:    clock,
		registry: registry,
		mailbox:  mailbox,
		ingest:   ingest,
	}
}
