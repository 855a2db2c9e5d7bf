package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"burnbox/backend/internal/domain"
	"burnbox/backend/internal/storage"
)

func TestMailboxService_Append(t *testing.T) {
	ctx := context.Background()

	t.Run("保存邮件并补全字段", func(t *testing.T) {
		f := newFixture(t)
		addr, err := f.registry.Generate(ctx, "")
		require.NoError(t, err)

		msg, err := f.mailbox.Append(ctx, addr, &domain.Message{
			From:     "sender@example.com",
			To:       addr.Address,
			Subject:  "Hi",
			BodyHTML: "<p>Hello <b>World</b></p>",
			Attachments: []domain.Attachment{
				{Filename: "a.txt", ContentType: "text/plain", Content: []byte("abc")},
			},
		})

		require.NoError(t, err)
		assert.NotEmpty(t, msg.ID)
		assert.True(t, strings.HasSuffix(msg.MessageID, "@temp.mail"))
		assert.Equal(t, addr.Address, msg.EmailAddress)
		assert.Equal(t, addr.ID, msg.AddressID)
		assert.Equal(t, "Hello World", msg.BodyText)
		assert.Equal(t, "<p>Hello <b>World</b></p>", msg.Body)
		assert.Equal(t, f.clock.Now(), msg.ReceivedAt)
		assert.Equal(t, domain.PriorityNormal, msg.Priority)
		assert.Equal(t, int64(3), msg.Attachments[0].Size)
		assert.Equal(t, msg.ID, msg.Attachments[0].MessagePK)
		assert.Equal(t, int64(2*len(msg.BodyHTML)+3), msg.Size)

		stored, err := f.registry.Lookup(ctx, addr.Address)
		require.NoError(t, err)
		assert.Equal(t, 1, stored.MessageCount)
	})

	t.Run("保留来源提供的 messageId", func(t *testing.T) {
		f := newFixture(t)
		addr, err := f.registry.Generate(ctx, "")
		require.NoError(t, err)

		msg, err := f.mailbox.Append(ctx, addr, &domain.Message{MessageID: "given@upstream", From: "a@b.c"})

		require.NoError(t, err)
		assert.Equal(t, "given@upstream", msg.MessageID)
		assert.Equal(t, EmptyBodyPlaceholder, msg.Body)
	})

	t.Run("重复 messageId 失败", func(t *testing.T) {
		f := newFixture(t)
		addr, err := f.registry.Generate(ctx, "")
		require.NoError(t, err)

		_, err = f.mailbox.Append(ctx, addr, &domain.Message{MessageID: "dup@x"})
		require.NoError(t, err)
		_, err = f.mailbox.Append(ctx, addr, &domain.Message{MessageID: "dup@x"})

		assert.ErrorIs(t, err, domain.ErrDuplicateMessageID)
	})

	t.Run("地址已删除时仍保存邮件", func(t *testing.T) {
		f := newFixture(t)
		ghost := &domain.Address{ID: "ghost-id", Address: "ghost@temp.mail"}

		msg, err := f.mailbox.Append(ctx, ghost, &domain.Message{From: "a@b.c", Body: "x"})

		assert.ErrorIs(t, err, domain.ErrOrphanedMessage)
		require.NotNil(t, msg)
		messages, total, err := f.store.ListMessages(ctx, "ghost@temp.mail", domain.MessageQuery{Page: 1, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		assert.Equal(t, msg.MessageID, messages[0].MessageID)
	})

	t.Run("保存后通知监听者", func(t *testing.T) {
		f := newFixture(t)
		addr, err := f.registry.Generate(ctx, "")
		require.NoError(t, err)
		var received []string
		f.mailbox.OnAppend(func(msg domain.Message) {
			received = append(received, msg.MessageID)
		})

		msg, err := f.mailbox.Append(ctx, addr, &domain.Message{From: "a@b.c"})

		require.NoError(t, err)
		assert.Equal(t, []string{msg.MessageID}, received)
	})

	t.Run("队列已满时丢弃通知", func(t *testing.T) {
		f := newFixture(t)
		addr, err := f.registry.Generate(ctx, "")
		require.NoError(t, err)
		f.mailbox.SetSubmitter(rejectingSubmitter{})
		called := false
		f.mailbox.OnAppend(func(domain.Message) { called = true })

		_, err = f.mailbox.Append(ctx, addr, &domain.Message{From: "a@b.c"})

		require.NoError(t, err)
		assert.False(t, called)
	})
}

type rejectingSubmitter struct{}

func (rejectingSubmitter) TrySubmit(func()) bool { return false }

func TestMailboxService_List(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	addr, err := f.registry.Generate(ctx, "")
	require.NoError(t, err)

	base := f.clock.Now()
	for i := 0; i < 7; i++ {
		_, err := f.mailbox.Append(ctx, addr, &domain.Message{
			MessageID:  fmt.Sprintf("m%d@x", i),
			From:       "a@b.c",
			ReceivedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	t.Run("按接收时间倒序分页", func(t *testing.T) {
		messages, page, err := f.mailbox.List(ctx, addr.Address, domain.MessageQuery{Page: 1, Limit: 3})

		require.NoError(t, err)
		assert.Equal(t, domain.Pagination{Page: 1, Limit: 3, Total: 7, Pages: 3}, page)
		require.Len(t, messages, 3)
		assert.Equal(t, "m6@x", messages[0].MessageID)
		assert.Equal(t, "m4@x", messages[2].MessageID)
	})

	t.Run("最后一页", func(t *testing.T) {
		messages, page, err := f.mailbox.List(ctx, addr.Address, domain.MessageQuery{Page: 3, Limit: 3})

		require.NoError(t, err)
		assert.Equal(t, 3, page.Page)
		require.Len(t, messages, 1)
		assert.Equal(t, "m0@x", messages[0].MessageID)
	})

	t.Run("limit 超出范围时截断", func(t *testing.T) {
		_, page, err := f.mailbox.List(ctx, addr.Address, domain.MessageQuery{Page: 0, Limit: 1000})

		require.NoError(t, err)
		assert.Equal(t, 1, page.Page)
		assert.Equal(t, domain.MaxPageLimit, page.Limit)
		assert.Equal(t, 1, page.Pages)
	})

	t.Run("page 过大时返回空页", func(t *testing.T) {
		messages, page, err := f.mailbox.List(ctx, addr.Address, domain.MessageQuery{Page: math.MaxInt, Limit: 2})

		require.NoError(t, err)
		assert.Empty(t, messages)
		assert.Equal(t, math.MaxInt32/2+1, page.Page)
		assert.Equal(t, int64(7), page.Total)
	})

	t.Run("只看未读", func(t *testing.T) {
		require.NoError(t, f.mailbox.MarkRead(ctx, addr.Address, "m6@x"))

		messages, page, err := f.mailbox.List(ctx, addr.Address, domain.MessageQuery{Page: 1, Limit: 10, UnreadOnly: true})

		require.NoError(t, err)
		assert.Equal(t, int64(6), page.Total)
		assert.Equal(t, "m5@x", messages[0].MessageID)
	})
}

func TestMailboxService_Flags(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	addr, err := f.registry.Generate(ctx, "")
	require.NoError(t, err)
	other, err := f.registry.Generate(ctx, "")
	require.NoError(t, err)

	msg, err := f.mailbox.Append(ctx, addr, &domain.Message{From: "a@b.c", Body: "one"})
	require.NoError(t, err)
	_, err = f.mailbox.Append(ctx, addr, &domain.Message{From: "a@b.c", Body: "two"})
	require.NoError(t, err)

	t.Run("重复标记已读不报错", func(t *testing.T) {
		require.NoError(t, f.mailbox.MarkRead(ctx, addr.Address, msg.MessageID))
		require.NoError(t, f.mailbox.MarkRead(ctx, addr.Address, msg.ID))

		got, err := f.mailbox.Get(ctx, addr.Address, msg.ID)
		require.NoError(t, err)
		assert.True(t, got.IsRead)

		unread, err := f.mailbox.UnreadCount(ctx, addr.Address)
		require.NoError(t, err)
		assert.Equal(t, int64(1), unread)
	})

	t.Run("其他地址读取不到", func(t *testing.T) {
		_, err := f.mailbox.Get(ctx, other.Address, msg.MessageID)
		assert.ErrorIs(t, err, storage.ErrMessageNotFound)

		err = f.mailbox.MarkRead(ctx, other.Address, msg.MessageID)
		assert.ErrorIs(t, err, storage.ErrMessageNotFound)
	})

	t.Run("全部标记已读", func(t *testing.T) {
		n, err := f.mailbox.MarkAllRead(ctx, addr.Address)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = f.mailbox.MarkAllRead(ctx, addr.Address)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("重复软删除不报错", func(t *testing.T) {
		require.NoError(t, f.mailbox.SoftDelete(ctx, addr.Address, msg.MessageID))
		require.NoError(t, f.mailbox.SoftDelete(ctx, addr.Address, msg.MessageID))

		_, err := f.mailbox.Get(ctx, addr.Address, msg.MessageID)
		assert.ErrorIs(t, err, storage.ErrMessageNotFound)

		_, page, err := f.mailbox.List(ctx, addr.Address, domain.MessageQuery{Page: 1, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(1), page.Total)
	})

	t.Run("全部软删除", func(t *testing.T) {
		n, err := f.mailbox.SoftDeleteAll(ctx, addr.Address)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, page, err := f.mailbox.List(ctx, addr.Address, domain.MessageQuery{Page: 1, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(0), page.Total)
		assert.Equal(t, 0, page.Pages)
	})
}

func TestMailboxService_StatsAndAttachments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	addr, err := f.registry.Generate(ctx, "")
	require.NoError(t, err)

	var last *domain.Message
	for i := 0; i < 7; i++ {
		last, err = f.mailbox.Append(ctx, addr, &domain.Message{
			From:       "a@b.c",
			Subject:    fmt.Sprintf("s%d", i),
			Body:       "body",
			ReceivedAt: f.clock.Now().Add(time.Duration(i) * time.Second),
			Attachments: []domain.Attachment{
				{Filename: "first.txt", Content: []byte("1")},
				{Filename: "second.txt", Content: []byte("22")},
			},
		})
		require.NoError(t, err)
	}
	require.NoError(t, f.mailbox.MarkRead(ctx, addr.Address, last.ID))

	t.Run("统计信息", func(t *testing.T) {
		f.clock.Advance(30 * time.Minute)

		stats, err := f.mailbox.Stats(ctx, addr)

		require.NoError(t, err)
		assert.Equal(t, 7, stats.TotalMessages)
		assert.Equal(t, 6, stats.UnreadCount)
		assert.Equal(t, 1, stats.ReadCount)
		require.Len(t, stats.RecentMessages, domain.RecentMessageCount)
		assert.Equal(t, "s6", stats.RecentMessages[0].Subject)
		assert.Equal(t, 2, stats.RecentMessages[0].AttachmentCount)
		assert.Equal(t, domain.TimeRemaining{Minutes: 30}, stats.TimeRemaining)
		assert.Equal(t, addr.CreatedAt, stats.CreatedAt)
	})

	t.Run("按序号获取附件", func(t *testing.T) {
		att, err := f.mailbox.Attachment(ctx, addr.Address, last.ID, 1)

		require.NoError(t, err)
		assert.Equal(t, "second.txt", att.Filename)
		assert.Equal(t, []byte("22"), att.Content)
	})

	t.Run("附件序号不存在", func(t *testing.T) {
		_, err := f.mailbox.Attachment(ctx, addr.Address, last.ID, 5)

		assert.ErrorIs(t, err, domain.ErrAttachmentNotFound)
	})
}

func TestMailboxLifecycleScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	addr, err := f.registry.Generate(ctx, "")
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	m1, err := f.ingest.Ingest(ctx, InboundMail{To: addr.Address, From: "x@y.z", Subject: "m1", Body: "hello", Source: domain.SourceAPI})
	require.NoError(t, err)

	messages, _, err := f.mailbox.List(ctx, addr.Address, domain.MessageQuery{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, messages, 1)
	unread, err := f.mailbox.UnreadCount(ctx, addr.Address)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)

	require.NoError(t, f.mailbox.MarkRead(ctx, addr.Address, m1.MessageID))
	unread, err = f.mailbox.UnreadCount(ctx, addr.Address)
	require.NoError(t, err)
	assert.Equal(t, int64(0), unread)

	f.clock.Advance(60 * time.Minute)
	_, err = f.registry.Open(ctx, addr.Address)
	assert.ErrorIs(t, err, domain.ErrRecipientExpired)
	_, err = f.registry.Lookup(ctx, addr.Address)
	assert.ErrorIs(t, err, storage.ErrAddressNotFound)
}
