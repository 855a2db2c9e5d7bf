package service

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"

	"burnbox/backend/internal/domain"
)

// MaxMockCount 单次最多生成的模拟邮件数
const MaxMockCount = 10

// InboundMail 各入站渠道统一的邮件表示
type InboundMail struct {
	To          string
	From        string
	Subject     string
	Body        string
	BodyHTML    string
	BodyText    string
	Override    string // 明确指定的正文，优先级最高
	Attachments []domain.Attachment
	Headers     map[string]string
	MessageID   string
	ReceivedAt  time.Time
	Priority    domain.Priority
	Source      domain.MessageSource
}

// Validate 检查必填字段
func (m *InboundMail) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return domain.Malformed("to", "is required")
	}
	if strings.TrimSpace(m.From) == "" {
		return domain.Malformed("from", "is required")
	}
	return nil
}

// IngestService 入站网关，所有渠道共用同一套接收流程:
// 解析收件地址、规范化正文、分配 messageId、写入邮箱。
type IngestService struct {
	registry *RegistryService
	mailbox  *MailboxService
	now      func() time.Time
	log      *zap.Logger
}

// NewIngestService 创建入站网关
func NewIngestService(registry *RegistryService, mailbox *MailboxService, log *zap.Logger) *IngestService {
	return &IngestService{
		registry: registry,
		mailbox:  mailbox,
		now:      time.Now,
		log:      log,
	}
}

// SetClock 替换时间源（测试使用）
func (s *IngestService) SetClock(now func() time.Time) {
	s.now = now
}

// Accept 校验收件地址是否可以接收邮件，供 SMTP RCPT 阶段使用
func (s *IngestService) Accept(ctx context.Context, recipient string) (*domain.Address, error) {
	return s.registry.Resolve(ctx, recipient)
}

// Ingest 接收一封入站邮件并保存。
//
// 返回值:
//   - *domain.Message: 保存后的邮件
//   - error: ErrMalformedPayload、ErrUnknownRecipient、ErrRecipientExpired、
//     ErrDuplicateMessageID 或 ErrStoreUnavailable
func (s *IngestService) Ingest(ctx context.Context, in InboundMail) (*domain.Message, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	addr, err := s.registry.Resolve(ctx, in.To)
	if err != nil {
		return nil, err
	}
	return s.Deliver(ctx, addr, in)
}

// Deliver 将邮件写入已通过校验的地址
func (s *IngestService) Deliver(ctx context.Context, addr *domain.Address, in InboundMail) (*domain.Message, error) {
	msg := &domain.Message{
		MessageID:   strings.TrimSpace(in.MessageID),
		From:        in.From,
		To:          in.To,
		Subject:     in.Subject,
		Body:        in.Body,
		BodyHTML:    in.BodyHTML,
		BodyText:    in.BodyText,
		Attachments: in.Attachments,
		Headers:     in.Headers,
		ReceivedAt:  in.ReceivedAt,
		Priority:    in.Priority,
		Source:      in.Source,
	}
	NormalizeBody(msg, in.Override)

	stored, err := s.mailbox.Append(ctx, addr, msg)
	if errors.Is(err, domain.ErrOrphanedMessage) {
		return stored, nil
	}
	if err != nil {
		s.log.Warn("inbound message rejected",
			zap.String("recipient", addr.Address),
			zap.String("source", string(in.Source)),
			zap.Error(err),
		)
		return nil, err
	}

	s.log.Info("inbound message stored",
		zap.String("recipient", stored.EmailAddress),
		zap.String("message_id", stored.MessageID),
		zap.String("source", string(stored.Source)),
		zap.Int64("size", stored.Size),
	)
	return stored, nil
}

var (
	mockSenders = []string{
		"noreply@example.com",
		"support@testsite.com",
		"newsletter@company.org",
		"alerts@service.net",
		"notifications@app.io",
	}
	mockSubjects = []string{
		"Welcome to our service!",
		"Your account verification",
		"Important security update",
		"Newsletter - Weekly Updates",
		"Password reset request",
		"Order confirmation #12345",
		"Meeting reminder",
		"System maintenance notice",
	}
	mockBodies = []string{
		"Thank you for signing up! Please verify your email address to get started.",
		"Your verification code is: 123456. This code will expire in 10 minutes.",
		"We have detected unusual activity on your account. Please review your recent activity.",
		"Here are this week's top stories and updates from our team.",
		"Someone requested a password reset for your account. If this wasn't you, please ignore this email.",
		"Your order has been confirmed and will be shipped within 2-3 business days.",
		"This is a reminder about your upcoming meeting scheduled for tomorrow at 2 PM.",
		"We will be performing scheduled maintenance on our servers tonight from 2-4 AM EST.",
	}
)

// InjectMock 为地址生成 count 封模拟邮件，接收时间随机分布在过去一小时内。
// count 小于 1 按 1 处理，大于 MaxMockCount 按 MaxMockCount 处理。
func (s *IngestService) InjectMock(ctx context.Context, address string, count int) ([]domain.Message, error) {
	if strings.TrimSpace(address) == "" {
		return nil, domain.Malformed("emailAddress", "is required")
	}
	count = max(1, min(count, MaxMockCount))

	addr, err := s.registry.Resolve(ctx, address)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	generated := make([]domain.Message, 0, count)
	for i := 0; i < count; i++ {
		body := mockBodies[rand.IntN(len(mockBodies))]
		msg, err := s.Deliver(ctx, addr, InboundMail{
			To:         addr.Address,
			From:       mockSenders[rand.IntN(len(mockSenders))],
			Subject:    mockSubjects[rand.IntN(len(mockSubjects))],
			Body:       body,
			BodyText:   body,
			ReceivedAt: now.Add(-time.Duration(rand.Int64N(int64(time.Hour)))),
			Source:     domain.SourceMock,
		})
		if err != nil {
			return generated, err
		}
		generated = append(generated, *msg)
	}
	return generated, nil
}
