package hybrid

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"burnbox/backend/internal/domain"
	"burnbox/backend/internal/storage"
	"burnbox/backend/internal/storage/memory"
)

// fakeCache 内存版地址缓存
type fakeCache struct {
	mu    sync.Mutex
	items map[string]domain.Address
	hits  int
	fail  bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{items: make(map[string]domain.Address)}
}

func (c *fakeCache) CacheAddress(_ context.Context, addr *domain.Address, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("redis down")
	}
	c.items[strings.ToLower(addr.Address)] = *addr
	return nil
}

func (c *fakeCache) GetCachedAddress(_ context.Context, address string) (*domain.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	addr, ok := c.items[strings.ToLower(address)]
	if !ok {
		return nil, errors.New("miss")
	}
	c.hits++
	return &addr, nil
}

func (c *fakeCache) DeleteCachedAddress(_ context.Context, addresses ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range addresses {
		delete(c.items, strings.ToLower(a))
	}
	return nil
}

func newAddress(address string, expiresAt time.Time) *domain.Address {
	return &domain.Address{
		ID:        "id-" + address,
		Address:   address,
		CreatedAt: expiresAt.Add(-time.Hour),
		ExpiresAt: expiresAt,
		IsActive:  true,
	}
}

func TestHybridStore_AddressCache(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	cache := newFakeCache()
	store := NewStore(memory.NewStore(), cache, time.Minute, nil)

	require.NoError(t, store.CreateAddress(ctx, newAddress("abc@temp.mail", now.Add(time.Hour))))

	t.Run("命中缓存", func(t *testing.T) {
		addr, err := store.GetAddress(ctx, "abc@temp.mail")
		require.NoError(t, err)
		assert.Equal(t, "abc@temp.mail", addr.Address)
		assert.Equal(t, 1, cache.hits)
	})

	t.Run("停用后清除缓存", func(t *testing.T) {
		require.NoError(t, store.DeactivateAddress(ctx, "abc@temp.mail"))
		_, err := store.GetAddress(ctx, "abc@temp.mail")
		assert.ErrorIs(t, err, storage.ErrAddressNotFound)
	})

	t.Run("回收后清除缓存", func(t *testing.T) {
		require.NoError(t, store.CreateAddress(ctx, newAddress("old@temp.mail", now.Add(-time.Minute))))
		deleted, err := store.DeleteExpiredAddresses(ctx, now, 10)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"abc@temp.mail", "old@temp.mail"}, deleted)

		_, err = store.GetAddress(ctx, "old@temp.mail")
		assert.ErrorIs(t, err, storage.ErrAddressNotFound)
	})

	t.Run("缓存故障不影响主流程", func(t *testing.T) {
		cache.fail = true
		require.NoError(t, store.CreateAddress(ctx, newAddress("new@temp.mail", now.Add(time.Hour))))
		addr, err := store.GetAddress(ctx, "new@temp.mail")
		require.NoError(t, err)
		assert.Equal(t, "new@temp.mail", addr.Address)
	})
}
