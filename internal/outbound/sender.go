package outbound

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"burnbox/backend/internal/config"
	"burnbox/backend/internal/domain"
	"burnbox/backend/internal/service"
)

// SMTPSender 通过 SMTP 中继外发邮件
type SMTPSender struct {
	cfg       config.OutboundConfig
	localName string
	tls       *tls.Config
	log       *zap.Logger
	now       func() time.Time
}

// NewSMTPSender 创建 SMTP 中继发送器
func NewSMTPSender(cfg config.OutboundConfig, localName string, log *zap.Logger) *SMTPSender {
	return &SMTPSender{
		cfg:       cfg,
		localName: localName,
		tls:       &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12},
		log:       log.Named("outbound"),
		now:       time.Now,
	}
}

func (s *SMTPSender) addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// Send 发送一封邮件，每次发送建立一个新连接
func (s *SMTPSender) Send(ctx context.Context, m *domain.OutboundMail) (*domain.DeliveryReceipt, error) {
	now := s.now().UTC()
	raw, messageID, err := Compose(m, now)
	if err != nil {
		return nil, fmt.Errorf("compose: %w", err)
	}

	c, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	if err := c.SendMail(envelopeFrom(m.From), m.To, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("send via %s: %w", s.addr(), err)
	}
	if err := c.Quit(); err != nil {
		s.log.Debug("SMTP relay quit failed", zap.Error(err))
	}

	return &domain.DeliveryReceipt{
		MessageID: messageID,
		Accepted:  m.To,
		Relay:     s.addr(),
		SentAt:    now,
	}, nil
}

// Verify 连接中继、完成认证并发送 NOOP
func (s *SMTPSender) Verify(ctx context.Context) error {
	c, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Noop(); err != nil {
		return fmt.Errorf("noop: %w", err)
	}
	return c.Quit()
}

func (s *SMTPSender) connect(ctx context.Context) (*gosmtp.Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.addr())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.addr(), err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	// STARTTLS 开启时中继必须支持升级，握手后重新 EHLO
	var c *gosmtp.Client
	if s.cfg.StartTLS {
		c, err = gosmtp.NewClientStartTLS(conn, s.tls)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("starttls: %w", err)
		}
	} else {
		c = gosmtp.NewClient(conn)
	}
	if err := c.Hello(s.localName); err != nil {
		c.Close()
		return nil, fmt.Errorf("hello: %w", err)
	}

	if s.cfg.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)); err != nil {
			c.Close()
			return nil, fmt.Errorf("auth: %w", err)
		}
	}
	return c, nil
}

// envelopeFrom 从 "Name <addr>" 形式中取出地址
func envelopeFrom(from string) string {
	return domain.NormalizeAddress(addressOnly(from))
}

func addressOnly(s string) string {
	start := strings.LastIndexByte(s, '<')
	end := strings.LastIndexByte(s, '>')
	if start >= 0 && end > start {
		return s[start+1 : end]
	}
	return s
}

// LogSender 未配置中继时使用，只记录日志
type LogSender struct {
	log *zap.Logger
	now func() time.Time
}

// NewLogSender 创建日志发送器
func NewLogSender(log *zap.Logger) *LogSender {
	return &LogSender{log: log.Named("outbound"), now: time.Now}
}

// Send 生成邮件并记录日志，不实际发送
func (s *LogSender) Send(_ context.Context, m *domain.OutboundMail) (*domain.DeliveryReceipt, error) {
	now := s.now().UTC()
	raw, messageID, err := Compose(m, now)
	if err != nil {
		return nil, fmt.Errorf("compose: %w", err)
	}

	s.log.Info("Outbound relay not configured, mail logged only",
		zap.String("message_id", messageID),
		zap.String("from", m.From),
		zap.Strings("to", m.To),
		zap.String("subject", m.Subject),
		zap.Int("size", len(raw)),
	)
	return &domain.DeliveryReceipt{
		MessageID: messageID,
		Accepted:  m.To,
		Relay:     "log",
		SentAt:    now,
	}, nil
}

// Verify 日志发送器始终可用
func (s *LogSender) Verify(context.Context) error {
	return nil
}

// New 按配置选择发送器
func New(cfg config.OutboundConfig, localName string, log *zap.Logger) service.MailSender {
	if cfg.Enabled() {
		return NewSMTPSender(cfg, localName, log)
	}
	return NewLogSender(log)
}
