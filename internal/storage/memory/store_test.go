package memory

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"burnbox/backend/internal/domain"
	"burnbox/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newAddress(address string, expiresIn time.Duration) *domain.Address {
	local, dom, _ := strings.Cut(address, "@")
	return &domain.Address{
		ID:             "id-" + address,
		Address:        address,
		LocalPart:      local,
		Domain:         dom,
		CreatedAt:      testNow,
		ExpiresAt:      testNow.Add(expiresIn),
		IsActive:       true,
		LastAccessedAt: testNow,
	}
}

func newMessage(id, address string, receivedAt time.Time) *domain.Message {
	return &domain.Message{
		ID:           id,
		MessageID:    id + "@temp.mail",
		EmailAddress: address,
		From:         "sender@example.com",
		To:           address,
		Subject:      "subject " + id,
		Body:         "body " + id,
		ReceivedAt:   receivedAt,
	}
}

func TestMemoryStore_AddressOperations(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	require.NoError(t, store.CreateAddress(ctx, newAddress("abc@temp.mail", time.Hour)))

	t.Run("地址唯一约束", func(t *testing.T) {
		err := store.CreateAddress(ctx, newAddress("ABC@temp.mail", time.Hour))
		assert.ErrorIs(t, err, storage.ErrDuplicateAddress)
	})

	t.Run("大小写不敏感查找", func(t *testing.T) {
		addr, err := store.GetAddress(ctx, "Abc@Temp.Mail")
		require.NoError(t, err)
		assert.Equal(t, "abc@temp.mail", addr.Address)
	})

	t.Run("计数与访问时间", func(t *testing.T) {
		later := testNow.Add(time.Minute)
		require.NoError(t, store.IncrementMessageCount(ctx, "abc@temp.mail", later))
		require.NoError(t, store.TouchAddress(ctx, "abc@temp.mail", later.Add(time.Minute)))
		addr, err := store.GetAddress(ctx, "abc@temp.mail")
		require.NoError(t, err)
		assert.Equal(t, 1, addr.MessageCount)
		assert.Equal(t, later.Add(time.Minute), addr.LastAccessedAt)
	})

	t.Run("停用后不可查找且幂等", func(t *testing.T) {
		require.NoError(t, store.DeactivateAddress(ctx, "abc@temp.mail"))
		require.NoError(t, store.DeactivateAddress(ctx, "abc@temp.mail"))
		_, err := store.GetAddress(ctx, "abc@temp.mail")
		assert.ErrorIs(t, err, storage.ErrAddressNotFound)
	})

	t.Run("不存在的地址", func(t *testing.T) {
		assert.ErrorIs(t, store.DeactivateAddress(ctx, "none@temp.mail"), storage.ErrAddressNotFound)
		assert.ErrorIs(t, store.IncrementMessageCount(ctx, "none@temp.mail", testNow), storage.ErrAddressNotFound)
	})
}

func TestMemoryStore_MessageOperations(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	require.NoError(t, store.CreateAddress(ctx, newAddress("abc@temp.mail", time.Hour)))

	for i := 0; i < 5; i++ {
		msg := newMessage(fmt.Sprintf("m%d", i), "abc@temp.mail", testNow.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.SaveMessage(ctx, msg))
	}
	require.NoError(t, store.SaveMessage(ctx, newMessage("other", "other@temp.mail", testNow)))

	t.Run("messageId唯一约束", func(t *testing.T) {
		err := store.SaveMessage(ctx, newMessage("m0", "abc@temp.mail", testNow))
		assert.ErrorIs(t, err, storage.ErrDuplicateMessageID)
	})

	t.Run("倒序分页", func(t *testing.T) {
		msgs, total, err := store.ListMessages(ctx, "abc@temp.mail", domain.MessageQuery{Page: 1, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, int64(5), total)
		require.Len(t, msgs, 2)
		assert.Equal(t, "m4", msgs[0].ID)
		assert.Equal(t, "m3", msgs[1].ID)

		msgs, _, err = store.ListMessages(ctx, "abc@temp.mail", domain.MessageQuery{Page: 3, Limit: 2})
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "m0", msgs[0].ID)

		msgs, _, err = store.ListMessages(ctx, "abc@temp.mail", domain.MessageQuery{Page: 9, Limit: 2})
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("按主键或messageId获取且不跨地址", func(t *testing.T) {
		msg, err := store.GetMessage(ctx, "abc@temp.mail", "m1")
		require.NoError(t, err)
		assert.Equal(t, "subject m1", msg.Subject)

		msg, err = store.GetMessage(ctx, "abc@temp.mail", "m1@temp.mail")
		require.NoError(t, err)
		assert.Equal(t, "m1", msg.ID)

		_, err = store.GetMessage(ctx, "abc@temp.mail", "other")
		assert.ErrorIs(t, err, storage.ErrMessageNotFound)
	})

	t.Run("已读与未读计数", func(t *testing.T) {
		require.NoError(t, store.MarkRead(ctx, "abc@temp.mail", "m0"))
		require.NoError(t, store.MarkRead(ctx, "abc@temp.mail", "m0"))
		unread, err := store.CountUnread(ctx, "abc@temp.mail")
		require.NoError(t, err)
		assert.Equal(t, int64(4), unread)

		msgs, total, err := store.ListMessages(ctx, "abc@temp.mail", domain.MessageQuery{Page: 1, Limit: 10, UnreadOnly: true})
		require.NoError(t, err)
		assert.Equal(t, int64(4), total)
		assert.Len(t, msgs, 4)

		n, err := store.MarkAllRead(ctx, "abc@temp.mail")
		require.NoError(t, err)
		assert.Equal(t, int64(4), n)
		n, err = store.MarkAllRead(ctx, "abc@temp.mail")
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("软删除幂等", func(t *testing.T) {
		require.NoError(t, store.SoftDeleteMessage(ctx, "abc@temp.mail", "m4"))
		require.NoError(t, store.SoftDeleteMessage(ctx, "abc@temp.mail", "m4"))
		_, err := store.GetMessage(ctx, "abc@temp.mail", "m4")
		assert.ErrorIs(t, err, storage.ErrMessageNotFound)
		assert.ErrorIs(t, store.MarkRead(ctx, "abc@temp.mail", "m4"), storage.ErrMessageNotFound)
		assert.ErrorIs(t, store.SoftDeleteMessage(ctx, "abc@temp.mail", "missing"), storage.ErrMessageNotFound)

		n, err := store.SoftDeleteAll(ctx, "abc@temp.mail")
		require.NoError(t, err)
		assert.Equal(t, int64(4), n)
		_, total, err := store.ListMessages(ctx, "abc@temp.mail", domain.MessageQuery{Page: 1, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(0), total)
	})

	t.Run("返回副本", func(t *testing.T) {
		msg, err := store.GetMessage(ctx, "other@temp.mail", "other")
		require.NoError(t, err)
		msg.Subject = "changed"
		again, err := store.GetMessage(ctx, "other@temp.mail", "other")
		require.NoError(t, err)
		assert.Equal(t, "subject other", again.Subject)
	})
}

func TestMemoryStore_Reclaim(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	require.NoError(t, store.CreateAddress(ctx, newAddress("live@temp.mail", time.Hour)))
	require.NoError(t, store.CreateAddress(ctx, newAddress("old@temp.mail", -time.Minute)))
	require.NoError(t, store.CreateAddress(ctx, newAddress("gone@temp.mail", time.Hour)))
	require.NoError(t, store.DeactivateAddress(ctx, "gone@temp.mail"))

	require.NoError(t, store.SaveMessage(ctx, newMessage("a1", "live@temp.mail", testNow)))
	require.NoError(t, store.SaveMessage(ctx, newMessage("a2", "live@temp.mail", testNow.Add(-10*24*time.Hour))))
	require.NoError(t, store.SaveMessage(ctx, newMessage("b1", "old@temp.mail", testNow)))

	t.Run("删除过期与非激活地址", func(t *testing.T) {
		deleted, err := store.DeleteExpiredAddresses(ctx, testNow, 1)
		require.NoError(t, err)
		assert.Len(t, deleted, 1)
		more, err := store.DeleteExpiredAddresses(ctx, testNow, 10)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"gone@temp.mail", "old@temp.mail"}, append(deleted, more...))
	})

	t.Run("孤儿邮件软删除", func(t *testing.T) {
		n, err := store.SoftDeleteOrphanedMessages(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		_, err = store.GetMessage(ctx, "old@temp.mail", "b1")
		assert.ErrorIs(t, err, storage.ErrMessageNotFound)
	})

	t.Run("清除软删除和过旧邮件", func(t *testing.T) {
		n, err := store.PurgeDeletedMessages(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = store.PurgeMessagesBefore(ctx, testNow.Add(-7*24*time.Hour), 100)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		msgs, total, err := store.ListMessages(ctx, "live@temp.mail", domain.MessageQuery{Page: 1, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		assert.Equal(t, "a1", msgs[0].ID)
	})
}

func TestMemoryStore_CapEnforcement(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	require.NoError(t, store.CreateAddress(ctx, newAddress("full@temp.mail", time.Hour)))
	for i := 0; i < 8; i++ {
		msg := newMessage(fmt.Sprintf("c%d", i), "full@temp.mail", testNow.Add(time.Duration(i)*time.Second))
		require.NoError(t, store.SaveMessage(ctx, msg))
	}

	over, err := store.AddressesOverCap(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"full@temp.mail"}, over)

	n, err := store.SoftDeleteBeyondNewest(ctx, "full@temp.mail", 5, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	n, err = store.SoftDeleteBeyondNewest(ctx, "full@temp.mail", 5, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, store.RecountMessages(ctx, "full@temp.mail"))
	addr, err := store.GetAddress(ctx, "full@temp.mail")
	require.NoError(t, err)
	assert.Equal(t, 5, addr.MessageCount)

	msgs, _, err := store.ListMessages(ctx, "full@temp.mail", domain.MessageQuery{Page: 1, Limit: 10})
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	assert.Equal(t, "c7", msgs[0].ID)
	assert.Equal(t, "c3", msgs[4].ID)
}

func TestMemoryStore_SystemStatsAndClose(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	require.NoError(t, store.CreateAddress(ctx, newAddress("abc@temp.mail", time.Hour)))
	require.NoError(t, store.SaveMessage(ctx, newMessage("s1", "abc@temp.mail", testNow)))
	require.NoError(t, store.SaveMessage(ctx, newMessage("s2", "abc@temp.mail", testNow.Add(time.Hour))))
	require.NoError(t, store.MarkRead(ctx, "abc@temp.mail", "s1"))

	stats, err := store.SystemStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ActiveAddresses)
	assert.Equal(t, int64(2), stats.TotalMessages)
	assert.Equal(t, int64(1), stats.ReadMessages)
	assert.Equal(t, int64(1), stats.UnreadMessages)
	assert.Equal(t, testNow, *stats.OldestMessageAt)
	assert.Equal(t, testNow.Add(time.Hour), *stats.NewestMessageAt)

	require.NoError(t, store.Health(ctx))
	require.NoError(t, store.Close())
	assert.ErrorIs(t, store.Health(ctx), storage.ErrUnavailable)
	_, err = store.GetAddress(ctx, "abc@temp.mail")
	assert.ErrorIs(t, err, storage.ErrUnavailable)
}
