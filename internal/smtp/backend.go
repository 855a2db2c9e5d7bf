// Package smtp 实现只接收邮件的 SMTP 入站通道。
package smtp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"burnbox/backend/internal/config"
	"burnbox/backend/internal/domain"
	"burnbox/backend/internal/service"
)

const defaultSubject = "(No Subject)"

// Ingestor 入站网关：RCPT 阶段校验收件人，DATA 阶段投递
type Ingestor interface {
	Accept(ctx context.Context, recipient string) (*domain.Address, error)
	Deliver(ctx context.Context, addr *domain.Address, in service.InboundMail) (*domain.Message, error)
}

// Recorder SMTP 通道指标
type Recorder interface {
	RecordIngestRejected(source, reason string)
	RecordIngestDuration(source string, duration time.Duration)
	RecordRateLimitBlock(scope string)
}

// Backend 实现 go-smtp 的 Backend 接口。
//
// 只接收发往本系统已登记地址的邮件，不做中继。
// 收件人在 RCPT 阶段同步校验，未知和已过期地址以永久失败拒绝，发送方 MTA 不会重试。
type Backend struct {
	ingest          Ingestor
	limiter         *IPLimiter
	maxRecipients   int
	maxMessageBytes int64
	timeout         time.Duration
	recorder        Recorder
	log             *zap.Logger
	now             func() time.Time
}

// NewBackend 创建 SMTP Backend。
func NewBackend(ingest Ingestor, cfg config.SMTPConfig, log *zap.Logger) *Backend {
	return &Backend{
		ingest:          ingest,
		limiter:         NewIPLimiter(cfg.RateLimit),
		maxRecipients:   cfg.MaxRecipients,
		maxMessageBytes: cfg.MaxMessageBytes,
		timeout:         10 * time.Second,
		recorder:        nopRecorder{},
		log:             log.Named("smtp"),
		now:             time.Now,
	}
}

// SetRecorder 设置指标记录器
func (b *Backend) SetRecorder(rec Recorder) {
	if rec != nil {
		b.recorder = rec
	}
}

// Limiter 返回会话限流器（用于定期清理）
func (b *Backend) Limiter() *IPLimiter {
	return b.limiter
}

// NewServer 创建监听配置中地址的 SMTP 服务器
func (b *Backend) NewServer(cfg config.SMTPConfig) *gosmtp.Server {
	srv := gosmtp.NewServer(b)
	srv.Addr = cfg.BindAddr()
	srv.Domain = cfg.Domain
	srv.ReadTimeout = 60 * time.Second
	srv.WriteTimeout = 60 * time.Second
	srv.MaxMessageBytes = cfg.MaxMessageBytes
	srv.MaxRecipients = cfg.MaxRecipients
	srv.AllowInsecureAuth = true
	return srv
}

// NewSession 创建新的 SMTP 会话，超过来源 IP 速率的连接以 421 拒绝。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	ip := remoteIP(c.Conn().RemoteAddr())
	if !b.limiter.Allow(ip) {
		b.recorder.RecordRateLimitBlock("smtp")
		b.log.Warn("SMTP session rate limited", zap.String("ip", ip))
		return nil, &gosmtp.SMTPError{
			Code:         421,
			EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
			Message:      "too many connections from your address, try again later",
		}
	}
	return &session{backend: b, remoteIP: ip}, nil
}

type session struct {
	backend    *Backend
	remoteIP   string
	from       string
	recipients []*domain.Address
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.from = domain.NormalizeAddress(from)
	s.recipients = nil
	return nil
}

// Rcpt 处理 RCPT 命令，在接收 DATA 之前校验收件人。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	address := domain.NormalizeAddress(to)
	if err := domain.NewEmailValidator().ValidateEmail(address); err != nil {
		s.reject(address, "malformed")
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}

	// 同一事务中重复的收件人只投递一次
	for _, rcpt := range s.recipients {
		if rcpt.Address == address {
			return nil
		}
	}
	if s.backend.maxRecipients > 0 && len(s.recipients) >= s.backend.maxRecipients {
		return &gosmtp.SMTPError{
			Code:         452,
			EnhancedCode: gosmtp.EnhancedCode{4, 5, 3},
			Message:      "too many recipients",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.backend.timeout)
	defer cancel()

	addr, err := s.backend.ingest.Accept(ctx, address)
	if err != nil {
		s.reject(address, reason(err))
		return smtpError(err)
	}
	s.recipients = append(s.recipients, addr)
	return nil
}

// Data 读取完整邮件后再解析和投递，客户端中途断开不会留下部分数据。
func (s *session) Data(r io.Reader) error {
	return s.deliverAll(r, nil)
}

// LMTPData 以 LMTP 模式运行时逐个收件人报告结果。
func (s *session) LMTPData(r io.Reader, status gosmtp.StatusCollector) error {
	return s.deliverAll(r, status)
}

func (s *session) deliverAll(r io.Reader, status gosmtp.StatusCollector) error {
	start := s.backend.now()
	defer func() {
		s.backend.recorder.RecordIngestDuration(string(domain.SourceSMTP), s.backend.now().Sub(start))
	}()

	raw, err := s.read(r)
	if err != nil {
		return err
	}

	parsed, err := ParseEmail(raw)
	if err != nil {
		s.backend.log.Warn("Failed to parse inbound message",
			zap.String("from", s.from),
			zap.String("ip", s.remoteIP),
			zap.Error(err),
		)
		s.reject("", "parse")
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
			Message:      "message could not be parsed",
		}
	}

	var lastErr error
	stored := 0
	for _, rcpt := range s.recipients {
		err := s.deliver(rcpt, parsed)
		if status != nil {
			status.SetStatus(rcpt.Address, err)
		}
		if err != nil {
			lastErr = err
			continue
		}
		stored++
	}

	if status != nil || stored > 0 {
		return nil
	}
	return lastErr
}

func (s *session) read(r io.Reader) ([]byte, error) {
	limit := s.backend.maxMessageBytes
	if limit <= 0 {
		return io.ReadAll(r)
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if n > limit {
		s.reject("", "too_large")
		return nil, &gosmtp.SMTPError{
			Code:         552,
			EnhancedCode: gosmtp.EnhancedCode{5, 3, 4},
			Message:      "message exceeds maximum size",
		}
	}
	return buf.Bytes(), nil
}

func (s *session) deliver(rcpt *domain.Address, parsed *ParsedEmail) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.backend.timeout)
	defer cancel()

	in := service.InboundMail{
		To:          rcpt.Address,
		From:        firstNonEmpty(parsed.From, s.from, "unknown"),
		Subject:     firstNonEmpty(parsed.Subject, defaultSubject),
		BodyHTML:    parsed.HTML,
		BodyText:    parsed.Text,
		Attachments: cloneAttachments(parsed.Attachments),
		Headers:     parsed.Headers,
		Priority:    parsed.Priority,
		ReceivedAt:  s.backend.now().UTC(),
		Source:      domain.SourceSMTP,
	}

	// RCPT 之后地址可能已停用或过期，写入前重新确认
	live, err := s.backend.ingest.Accept(ctx, rcpt.Address)
	if err != nil {
		s.reject(rcpt.Address, reason(err))
		s.backend.log.Info("SMTP recipient gone before DATA",
			zap.String("recipient", rcpt.Address),
			zap.Error(err),
		)
		return smtpError(err)
	}

	msg, err := s.backend.ingest.Deliver(ctx, live, in)
	if err != nil {
		s.reject(rcpt.Address, reason(err))
		s.backend.log.Warn("SMTP delivery failed",
			zap.String("recipient", rcpt.Address),
			zap.String("from", in.From),
			zap.Error(err),
		)
		return smtpError(err)
	}

	s.backend.log.Info("SMTP message accepted",
		zap.String("recipient", rcpt.Address),
		zap.String("message_id", msg.MessageID),
		zap.String("inbound_message_id", parsed.MessageID),
		zap.Int("attachments", len(msg.Attachments)),
	)
	return nil
}

func (s *session) reject(recipient, why string) {
	s.backend.recorder.RecordIngestRejected(string(domain.SourceSMTP), why)
	if recipient != "" {
		s.backend.log.Info("SMTP recipient rejected",
			zap.String("recipient", recipient),
			zap.String("reason", why),
			zap.String("ip", s.remoteIP),
		)
	}
}

// Reset 重置状态。
func (s *session) Reset() {
	s.from = ""
	s.recipients = nil
}

// Logout 会话结束。
func (s *session) Logout() error {
	return nil
}

// smtpError 把入站错误翻译为 SMTP 回复码
func smtpError(err error) *gosmtp.SMTPError {
	switch {
	case errors.Is(err, domain.ErrUnknownRecipient):
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
			Message:      "mailbox unavailable",
		}
	case errors.Is(err, domain.ErrRecipientExpired):
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 2, 1},
			Message:      "mailbox expired",
		}
	case errors.Is(err, domain.ErrMalformedPayload):
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	default:
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "temporary failure, try again later",
		}
	}
}

func reason(err error) string {
	switch {
	case errors.Is(err, domain.ErrUnknownRecipient):
		return "unknown_recipient"
	case errors.Is(err, domain.ErrRecipientExpired):
		return "recipient_expired"
	case errors.Is(err, domain.ErrMalformedPayload):
		return "malformed"
	case errors.Is(err, domain.ErrDuplicateMessageID):
		return "duplicate"
	default:
		return "store_unavailable"
	}
}

// cloneAttachments 每个收件人保存独立的附件行，主键由存储前重新分配
func cloneAttachments(src []domain.Attachment) []domain.Attachment {
	if len(src) == 0 {
		return nil
	}
	out := make([]domain.Attachment, len(src))
	copy(out, src)
	for i := range out {
		out[i].ID = ""
		out[i].MessagePK = ""
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func remoteIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

type nopRecorder struct{}

func (nopRecorder) RecordIngestRejected(string, string) {}
func (nopRecorder) RecordIngestDuration(string, time.Duration) {}
func (nopRecorder) RecordRateLimitBlock(string) {}
