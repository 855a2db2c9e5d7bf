package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"burnbox/backend/internal/domain"
	"burnbox/backend/internal/storage"
)

// MailboxService 封装单个地址下邮件集合的操作。
type MailboxService struct {
	messages   storage.MessageRepository
	addresses  storage.AddressRepository
	domain     string
	now        func() time.Time
	listeners  []MessageListener
	dispatcher *dispatcher
	log        *zap.Logger
}

// NewMailboxService 创建邮件业务服务。
//
// 参数:
//   - messages: 邮件仓储
//   - addresses: 地址仓储，用于维护邮件计数
//   - domainName: 生成 messageId 使用的域名
//   - log: 日志记录器
func NewMailboxService(messages storage.MessageRepository, addresses storage.AddressRepository, domainName string, log *zap.Logger) *MailboxService {
	return &MailboxService{
		messages:   messages,
		addresses:  addresses,
		domain:     domainName,
		now:        time.Now,
		dispatcher: &dispatcher{log: log},
		log:        log,
	}
}

// SetClock 替换时间源（测试使用）
func (s *MailboxService) SetClock(now func() time.Time) {
	s.now = now
}

// SetSubmitter 设置回调的异步执行器
func (s *MailboxService) SetSubmitter(submitter Submitter) {
	s.dispatcher.submitter = submitter
}

// OnAppend 注册新邮件回调
func (s *MailboxService) OnAppend(listener MessageListener) {
	s.listeners = append(s.listeners, listener)
}

// Append 保存一封新邮件并更新地址计数。
//
// 邮件写入成功后计数更新失败不会回滚邮件。
// 地址行已不存在时邮件仍然保存，返回邮件和 ErrOrphanedMessage。
func (s *MailboxService) Append(ctx context.Context, addr *domain.Address, msg *domain.Message) (*domain.Message, error) {
	now := s.now().UTC()

	msg.AddressID = addr.ID
	msg.EmailAddress = addr.Address
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if strings.TrimSpace(msg.MessageID) == "" {
		msg.MessageID = NewMessageID(s.domain)
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = now
	}
	if msg.Priority == "" {
		msg.Priority = domain.PriorityNormal
	}
	NormalizeBody(msg, "")

	for i := range msg.Attachments {
		att := &msg.Attachments[i]
		if att.ID == "" {
			att.ID = uuid.NewString()
		}
		att.MessagePK = msg.ID
		att.Position = i
		if att.Size == 0 {
			att.Size = int64(len(att.Content))
		}
	}
	msg.Size = msg.ComputeSize()

	if err := s.messages.SaveMessage(ctx, msg); err != nil {
		return nil, classify(err)
	}

	var result error
	if err := s.addresses.IncrementMessageCount(ctx, addr.Address, now); err != nil {
		if errors.Is(err, storage.ErrAddressNotFound) {
			s.log.Warn("message stored for a removed address",
				zap.String("address", addr.Address),
				zap.String("message_id", msg.MessageID),
			)
			result = domain.ErrOrphanedMessage
		} else {
			s.log.Warn("failed to update message counter",
				zap.String("address", addr.Address),
				zap.Error(err),
			)
		}
	}

	s.notify(*msg)
	return msg, result
}

// List 分页列出未删除的邮件，按接收时间倒序
func (s *MailboxService) List(ctx context.Context, address string, q domain.MessageQuery) ([]domain.Message, domain.Pagination, error) {
	q = q.Clamp()
	messages, total, err := s.messages.ListMessages(ctx, domain.NormalizeAddress(address), q)
	if err != nil {
		return nil, domain.Pagination{}, classify(err)
	}
	return messages, domain.NewPagination(q, total), nil
}

// Get 获取地址下的一封未删除邮件，id 可以是主键或 messageId
func (s *MailboxService) Get(ctx context.Context, address, id string) (*domain.Message, error) {
	msg, err := s.messages.GetMessage(ctx, domain.NormalizeAddress(address), id)
	if err != nil {
		return nil, classify(err)
	}
	return msg, nil
}

// MarkRead 标记为已读，重复调用不报错
func (s *MailboxService) MarkRead(ctx context.Context, address, id string) error {
	return classify(s.messages.MarkRead(ctx, domain.NormalizeAddress(address), id))
}

// MarkAllRead 将地址下全部邮件标记为已读，返回受影响数量
func (s *MailboxService) MarkAllRead(ctx context.Context, address string) (int64, error) {
	n, err := s.messages.MarkAllRead(ctx, domain.NormalizeAddress(address))
	return n, classify(err)
}

// SoftDelete 软删除一封邮件，重复调用不报错
func (s *MailboxService) SoftDelete(ctx context.Context, address, id string) error {
	return classify(s.messages.SoftDeleteMessage(ctx, domain.NormalizeAddress(address), id))
}

// SoftDeleteAll 软删除地址下全部邮件
func (s *MailboxService) SoftDeleteAll(ctx context.Context, address string) (int64, error) {
	n, err := s.messages.SoftDeleteAll(ctx, domain.NormalizeAddress(address))
	return n, classify(err)
}

// UnreadCount 未读邮件数
func (s *MailboxService) UnreadCount(ctx context.Context, address string) (int64, error) {
	n, err := s.messages.CountUnread(ctx, domain.NormalizeAddress(address))
	return n, classify(err)
}

// Stats 汇总地址的邮件统计
func (s *MailboxService) Stats(ctx context.Context, addr *domain.Address) (*domain.MailboxStats, error) {
	recent, total, err := s.messages.ListMessages(ctx, addr.Address, domain.MessageQuery{
		Page:  1,
		Limit: domain.RecentMessageCount,
	})
	if err != nil {
		return nil, classify(err)
	}
	unread, err := s.messages.CountUnread(ctx, addr.Address)
	if err != nil {
		return nil, classify(err)
	}

	summaries := make([]domain.Summary, 0, len(recent))
	for i := range recent {
		summaries = append(summaries, recent[i].Summarize())
	}

	return &domain.MailboxStats{
		TotalMessages:  int(total),
		UnreadCount:    int(unread),
		ReadCount:      int(total - unread),
		TimeRemaining:  addr.TimeRemaining(s.now()),
		RecentMessages: summaries,
		CreatedAt:      addr.CreatedAt,
		LastAccessedAt: addr.LastAccessedAt,
	}, nil
}

// Attachment 按顺序号获取附件内容
func (s *MailboxService) Attachment(ctx context.Context, address, id string, index int) (*domain.Attachment, error) {
	msg, err := s.Get(ctx, address, id)
	if err != nil {
		return nil, err
	}
	for i := range msg.Attachments {
		if msg.Attachments[i].Position == index {
			return &msg.Attachments[i], nil
		}
	}
	return nil, domain.ErrAttachmentNotFound
}

func (s *MailboxService) notify(msg domain.Message) {
	for _, listener := range s.listeners {
		listener := listener
		s.dispatcher.run("message.received", func() { listener(msg) })
	}
}
