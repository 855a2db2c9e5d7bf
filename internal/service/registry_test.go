package service

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"burnbox/backend/internal/domain"
	"burnbox/backend/internal/storage"
)

// generatedAddress 匹配 12 位十六进制本地部分加指定域名
func generatedAddress(domainName string) *regexp.Regexp {
	return regexp.MustCompile(`^[0-9a-f]{12}@` + regexp.QuoteMeta(domainName) + `$`)
}

func TestRegistryService_Generate(t *testing.T) {
	ctx := context.Background()

	t.Run("生成随机地址成功", func(t *testing.T) {
		f := newFixture(t)

		addr, err := f.registry.Generate(ctx, "")

		require.NoError(t, err)
		assert.Regexp(t, generatedAddress("temp.mail"), addr.Address)
		assert.Len(t, addr.LocalPart, 12)
		assert.Equal(t, "temp.mail", addr.Domain)
		assert.Equal(t, time.Hour, addr.ExpiresAt.Sub(addr.CreatedAt))
		assert.True(t, addr.IsActive)
		assert.Equal(t, 0, addr.MessageCount)
	})

	t.Run("指定允许的域名", func(t *testing.T) {
		f := newFixture(t)

		addr, err := f.registry.Generate(ctx, "Test.COM")

		require.NoError(t, err)
		assert.Equal(t, "test.com", addr.Domain)
		assert.Regexp(t, generatedAddress("test.com"), addr.Address)
	})

	t.Run("使用不允许的域名失败", func(t *testing.T) {
		f := newFixture(t)

		addr, err := f.registry.Generate(ctx, "invalid.com")

		assert.ErrorIs(t, err, domain.ErrDomainNotAllowed)
		assert.Nil(t, addr)
	})

	t.Run("冲突后重试成功", func(t *testing.T) {
		f := newFixture(t)
		parts := []string{"taken", "taken", "fresh"}
		calls := 0
		f.registry.localPart = func() string {
			p := parts[calls]
			calls++
			return p
		}

		first, err := f.registry.Generate(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, "taken@temp.mail", first.Address)

		second, err := f.registry.Generate(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, "fresh@temp.mail", second.Address)
		assert.Equal(t, 3, calls)
	})

	t.Run("连续冲突十次后失败", func(t *testing.T) {
		f := newFixture(t)
		calls := 0
		f.registry.localPart = func() string {
			calls++
			return "fixed"
		}

		_, err := f.registry.Generate(ctx, "")
		require.NoError(t, err)
		calls = 0

		addr, err := f.registry.Generate(ctx, "")

		assert.ErrorIs(t, err, domain.ErrAddressGenerationExhausted)
		assert.Nil(t, addr)
		assert.Equal(t, MaxGenerateAttempts, calls)
	})

	t.Run("并发生成的地址互不相同", func(t *testing.T) {
		f := newFixture(t)
		const n = 50

		var wg sync.WaitGroup
		results := make(chan string, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				addr, err := f.registry.Generate(ctx, "")
				if assert.NoError(t, err) {
					results <- addr.Address
				}
			}()
		}
		wg.Wait()
		close(results)

		seen := make(map[string]bool)
		for address := range results {
			assert.False(t, seen[address], "duplicate address %s", address)
			seen[address] = true
		}
		assert.Len(t, seen, n)
	})

	t.Run("创建后触发回调", func(t *testing.T) {
		f := newFixture(t)
		var created []string
		f.registry.OnCreate(func(addr domain.Address) {
			created = append(created, addr.Address)
		})

		addr, err := f.registry.Generate(ctx, "")

		require.NoError(t, err)
		assert.Equal(t, []string{addr.Address}, created)
	})

	t.Run("存储不可用时失败", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.store.Close())

		_, err := f.registry.Generate(ctx, "")

		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	})
}

func TestRegistryService_Lookup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	addr, err := f.registry.Generate(ctx, "")
	require.NoError(t, err)

	t.Run("大小写不敏感查找", func(t *testing.T) {
		found, err := f.registry.Lookup(ctx, "  <"+strings.ToUpper(addr.Address)+">")

		require.NoError(t, err)
		assert.Equal(t, addr.ID, found.ID)
	})

	t.Run("查找不存在的地址", func(t *testing.T) {
		_, err := f.registry.Lookup(ctx, "nobody@temp.mail")

		assert.ErrorIs(t, err, storage.ErrAddressNotFound)
	})

	t.Run("停用后查找不到", func(t *testing.T) {
		other, err := f.registry.Generate(ctx, "")
		require.NoError(t, err)

		require.NoError(t, f.registry.Deactivate(ctx, other.Address))
		require.NoError(t, f.registry.Deactivate(ctx, other.Address))

		_, err = f.registry.Lookup(ctx, other.Address)
		assert.ErrorIs(t, err, storage.ErrAddressNotFound)
	})
}

func TestRegistryService_Expiry(t *testing.T) {
	ctx := context.Background()

	t.Run("过期判断以 expiresAt 为界", func(t *testing.T) {
		f := newFixture(t)
		addr, err := f.registry.Generate(ctx, "")
		require.NoError(t, err)

		f.clock.Advance(time.Hour)
		assert.False(t, f.registry.IsExpired(addr))

		f.clock.Advance(time.Second)
		assert.True(t, f.registry.IsExpired(addr))
	})

	t.Run("入站解析区分不存在与已过期", func(t *testing.T) {
		f := newFixture(t)
		addr, err := f.registry.Generate(ctx, "")
		require.NoError(t, err)

		_, err = f.registry.Resolve(ctx, "ghost@temp.mail")
		assert.ErrorIs(t, err, domain.ErrUnknownRecipient)

		f.clock.Advance(61 * time.Minute)
		_, err = f.registry.Resolve(ctx, addr.Address)
		assert.ErrorIs(t, err, domain.ErrRecipientExpired)
	})

	t.Run("读取已过期地址时停用", func(t *testing.T) {
		f := newFixture(t)
		addr, err := f.registry.Generate(ctx, "")
		require.NoError(t, err)

		f.clock.Advance(61 * time.Minute)
		_, err = f.registry.Open(ctx, addr.Address)
		assert.ErrorIs(t, err, domain.ErrRecipientExpired)

		_, err = f.registry.Lookup(ctx, addr.Address)
		assert.ErrorIs(t, err, storage.ErrAddressNotFound)
	})

	t.Run("读取未过期地址时刷新访问时间", func(t *testing.T) {
		f := newFixture(t)
		addr, err := f.registry.Generate(ctx, "")
		require.NoError(t, err)

		f.clock.Advance(10 * time.Minute)
		opened, err := f.registry.Open(ctx, addr.Address)
		require.NoError(t, err)
		assert.Equal(t, f.clock.Now(), opened.LastAccessedAt)

		stored, err := f.registry.Lookup(ctx, addr.Address)
		require.NoError(t, err)
		assert.Equal(t, f.clock.Now(), stored.LastAccessedAt)
		assert.Equal(t, addr.ExpiresAt, stored.ExpiresAt)
	})
}
