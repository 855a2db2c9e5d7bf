package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"burnbox/backend/internal/domain"
)

// ErrDeliveryFailed 外发邮件失败
var ErrDeliveryFailed = errors.New("delivery failed")

// MailSender 外发邮件的能力
type MailSender interface {
	Send(ctx context.Context, mail *domain.OutboundMail) (*domain.DeliveryReceipt, error)
	Verify(ctx context.Context) error
}

// DispatchService 处理回复、转发和新邮件发送
type DispatchService struct {
	registry  *RegistryService
	mailbox   *MailboxService
	sender    MailSender
	from      string
	validator *domain.EmailValidator
	log       *zap.Logger
}

// NewDispatchService 创建外发服务。
// from 不为空时作为统一发件人，原地址写入 Reply-To。
func NewDispatchService(registry *RegistryService, mailbox *MailboxService, sender MailSender, from string, log *zap.Logger) *DispatchService {
	return &DispatchService{
		registry:  registry,
		mailbox:   mailbox,
		sender:    sender,
		from:      from,
		validator: domain.NewEmailValidator(),
		log:       log,
	}
}

// ReplyInput 回复参数
type ReplyInput struct {
	MessageID string
	Subject   string
	Text      string
	HTML      string
}

// ForwardInput 转发参数
type ForwardInput struct {
	MessageID string
	To        []string
	Subject   string
	Text      string
}

// SendInput 新邮件参数
type SendInput struct {
	To      []string
	Subject string
	Text    string
	HTML    string
}

// Reply 回复一封收到的邮件，收件人为原发件人
func (s *DispatchService) Reply(ctx context.Context, address string, in ReplyInput) (*domain.DeliveryReceipt, error) {
	if strings.TrimSpace(in.MessageID) == "" {
		return nil, domain.Malformed("messageId", "is required")
	}
	if strings.TrimSpace(in.Text) == "" {
		return nil, domain.Malformed("text", "is required")
	}

	addr, original, err := s.original(ctx, address, in.MessageID)
	if err != nil {
		return nil, err
	}

	subject := in.Subject
	if subject == "" {
		subject = original.Subject
	}
	subject = withPrefix(subject, "Re: ")

	text := fmt.Sprintf("%s\n\nOn %s, %s wrote:\n%s",
		in.Text,
		original.ReceivedAt.UTC().Format(time.RFC1123Z),
		original.From,
		quote(bodyTextOf(original)),
	)

	return s.deliver(ctx, addr, &domain.OutboundMail{
		To:         []string{domain.NormalizeAddress(original.From)},
		Subject:    subject,
		Text:       text,
		HTML:       in.HTML,
		InReplyTo:  original.MessageID,
		References: []string{original.MessageID},
	})
}

// Forward 将收到的邮件转发给指定收件人
func (s *DispatchService) Forward(ctx context.Context, address string, in ForwardInput) (*domain.DeliveryReceipt, error) {
	if strings.TrimSpace(in.MessageID) == "" {
		return nil, domain.Malformed("messageId", "is required")
	}
	if len(in.To) == 0 {
		return nil, domain.Malformed("to", "is required")
	}

	addr, original, err := s.original(ctx, address, in.MessageID)
	if err != nil {
		return nil, err
	}

	subject := in.Subject
	if subject == "" {
		subject = original.Subject
	}
	subject = withPrefix(subject, "Fwd: ")

	var b strings.Builder
	if in.Text != "" {
		b.WriteString(in.Text)
		b.WriteString("\n\n")
	}
	b.WriteString("---------- Forwarded message ----------\n")
	fmt.Fprintf(&b, "From: %s\n", original.From)
	fmt.Fprintf(&b, "Date: %s\n", original.ReceivedAt.UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Subject: %s\n", original.Subject)
	fmt.Fprintf(&b, "To: %s\n\n", original.To)
	b.WriteString(bodyTextOf(original))

	return s.deliver(ctx, addr, &domain.OutboundMail{
		To:         in.To,
		Subject:    subject,
		Text:       b.String(),
		References: []string{original.MessageID},
	})
}

// Send 从一次性地址发送新邮件
func (s *DispatchService) Send(ctx context.Context, address string, in SendInput) (*domain.DeliveryReceipt, error) {
	if len(in.To) == 0 {
		return nil, domain.Malformed("to", "is required")
	}
	if strings.TrimSpace(in.Subject) == "" {
		return nil, domain.Malformed("subject", "is required")
	}
	if strings.TrimSpace(in.Text) == "" {
		return nil, domain.Malformed("text", "is required")
	}

	addr, err := s.registry.Resolve(ctx, address)
	if err != nil {
		return nil, err
	}

	return s.deliver(ctx, addr, &domain.OutboundMail{
		To:      in.To,
		Subject: in.Subject,
		Text:    in.Text,
		HTML:    in.HTML,
	})
}

// Verify 检查外发通道是否可用
func (s *DispatchService) Verify(ctx context.Context) error {
	if err := s.sender.Verify(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}

// original 解析地址并获取被回复或转发的邮件
func (s *DispatchService) original(ctx context.Context, address, messageID string) (*domain.Address, *domain.Message, error) {
	addr, err := s.registry.Resolve(ctx, address)
	if err != nil {
		return nil, nil, err
	}
	msg, err := s.mailbox.Get(ctx, addr.Address, messageID)
	if err != nil {
		return nil, nil, err
	}
	return addr, msg, nil
}

func (s *DispatchService) deliver(ctx context.Context, addr *domain.Address, mail *domain.OutboundMail) (*domain.DeliveryReceipt, error) {
	recipients := make([]string, 0, len(mail.To))
	for _, to := range mail.To {
		to = domain.NormalizeAddress(to)
		if err := s.validator.ValidateEmail(to); err != nil {
			return nil, domain.Malformed("to", "invalid address "+to)
		}
		recipients = append(recipients, to)
	}
	mail.To = recipients

	if err := domain.ValidateSubject(mail.Subject); err != nil {
		return nil, domain.Malformed("subject", err.Error())
	}
	if err := domain.ValidateMessageBody(mail.Text); err != nil {
		return nil, domain.Malformed("text", err.Error())
	}
	if err := domain.ValidateMessageBody(mail.HTML); err != nil {
		return nil, domain.Malformed("html", err.Error())
	}

	mail.From = addr.Address
	if s.from != "" {
		mail.From = s.from
		mail.ReplyTo = addr.Address
	}

	receipt, err := s.sender.Send(ctx, mail)
	if err != nil {
		s.log.Error("outbound delivery failed",
			zap.String("from", addr.Address),
			zap.Strings("to", mail.To),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	s.log.Info("outbound mail sent",
		zap.String("from", addr.Address),
		zap.Strings("to", mail.To),
		zap.String("message_id", receipt.MessageID),
	)
	return receipt, nil
}

// withPrefix 主题没有该前缀时添加
func withPrefix(subject, prefix string) string {
	if strings.HasPrefix(strings.ToLower(subject), strings.ToLower(prefix)) {
		return subject
	}
	return prefix + subject
}

func bodyTextOf(msg *domain.Message) string {
	if msg.BodyText != "" {
		return msg.BodyText
	}
	return StripHTML(msg.Body)
}

// quote 为每行添加 "> " 前缀
func quote(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = "> " + line
	}
	return strings.Join(lines, "\n")
}
