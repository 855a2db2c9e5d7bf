package outbound

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"burnbox/backend/internal/config"
	"burnbox/backend/internal/domain"
)

func TestCompose(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("纯文本邮件", func(t *testing.T) {
		raw, id, err := Compose(&domain.OutboundMail{
			From:      "alice@temp.mail",
			To:        []string{"bob@example.com"},
			Subject:   "Re: 你好",
			Text:      "hello",
			InReplyTo: "<orig@example.com>",
			References: []string{
				"<root@example.com>", "orig@example.com",
			},
		}, now)
		require.NoError(t, err)
		assert.Contains(t, id, "@temp.mail")

		r, err := mail.CreateReader(bytes.NewReader(raw))
		require.NoError(t, err)
		subject, err := r.Header.Subject()
		require.NoError(t, err)
		assert.Equal(t, "Re: 你好", subject)

		msgID, err := r.Header.MessageID()
		require.NoError(t, err)
		assert.Equal(t, id, msgID)

		inReplyTo, err := r.Header.MsgIDList("In-Reply-To")
		require.NoError(t, err)
		assert.Equal(t, []string{"orig@example.com"}, inReplyTo)

		refs, err := r.Header.MsgIDList("References")
		require.NoError(t, err)
		assert.Equal(t, []string{"root@example.com", "orig@example.com"}, refs)

		part, err := r.NextPart()
		require.NoError(t, err)
		body, _ := io.ReadAll(part.Body)
		assert.Equal(t, "hello", string(body))
	})

	t.Run("文本加HTML生成alternative", func(t *testing.T) {
		raw, _, err := Compose(&domain.OutboundMail{
			From:    "alice@temp.mail",
			ReplyTo: "alice@temp.mail",
			To:      []string{"bob@example.com", "carol@example.com"},
			Subject: "hi",
			Text:    "plain",
			HTML:    "<p>rich</p>",
		}, now)
		require.NoError(t, err)

		r, err := mail.CreateReader(bytes.NewReader(raw))
		require.NoError(t, err)
		to, err := r.Header.AddressList("To")
		require.NoError(t, err)
		assert.Len(t, to, 2)

		var bodies []string
		for {
			part, err := r.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			require.NoError(t, err)
			b, _ := io.ReadAll(part.Body)
			bodies = append(bodies, string(b))
		}
		assert.Equal(t, []string{"plain", "<p>rich</p>"}, bodies)
	})

	t.Run("收件人格式错误", func(t *testing.T) {
		_, _, err := Compose(&domain.OutboundMail{
			From: "alice@temp.mail",
			To:   []string{"not an address"},
		}, now)
		assert.Error(t, err)
	})
}

// relayBackend 记录收到的邮件的测试中继
type relayBackend struct {
	mu       sync.Mutex
	user     string
	password string
	from     string
	to       []string
	data     []byte
}

func (b *relayBackend) NewSession(*gosmtp.Conn) (gosmtp.Session, error) {
	return &relaySession{b: b}, nil
}

type relaySession struct {
	b      *relayBackend
	authed bool
}

func (s *relaySession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *relaySession) Auth(string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username != s.b.user || password != s.b.password {
			return errors.New("invalid credentials")
		}
		s.authed = true
		return nil
	}), nil
}

func (s *relaySession) Mail(from string, _ *gosmtp.MailOptions) error {
	if !s.authed {
		return gosmtp.ErrAuthRequired
	}
	s.b.mu.Lock()
	s.b.from = from
	s.b.mu.Unlock()
	return nil
}

func (s *relaySession) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	s.b.mu.Lock()
	s.b.to = append(s.b.to, to)
	s.b.mu.Unlock()
	return nil
}

func (s *relaySession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.b.mu.Lock()
	s.b.data = data
	s.b.mu.Unlock()
	return nil
}

func (s *relaySession) Reset()        {}
func (s *relaySession) Logout() error { return nil }

func startRelay(t *testing.T, backend *relayBackend) config.OutboundConfig {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := gosmtp.NewServer(backend)
	srv.Domain = "relay.test"
	srv.AllowInsecureAuth = true
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	host, port, _ := net.SplitHostPort(ln.Addr().String())
	p, _ := strconv.Atoi(port)
	return config.OutboundConfig{
		Host:     host,
		Port:     p,
		Username: backend.user,
		Password: backend.password,
	}
}

func TestSMTPSender(t *testing.T) {
	backend := &relayBackend{user: "relay", password: "secret"}
	cfg := startRelay(t, backend)
	sender := NewSMTPSender(cfg, "burnbox.test", zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("校验中继连接", func(t *testing.T) {
		assert.NoError(t, sender.Verify(ctx))
	})

	t.Run("通过中继发送", func(t *testing.T) {
		receipt, err := sender.Send(ctx, &domain.OutboundMail{
			From:    "Alice <Alice@Temp.Mail>",
			To:      []string{"bob@example.com"},
			Subject: "hello",
			Text:    "body",
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"bob@example.com"}, receipt.Accepted)
		assert.Equal(t, net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)), receipt.Relay)

		backend.mu.Lock()
		defer backend.mu.Unlock()
		assert.Equal(t, "alice@temp.mail", backend.from)
		assert.Equal(t, []string{"bob@example.com"}, backend.to)
		assert.Contains(t, string(backend.data), receipt.MessageID)
	})

	t.Run("要求STARTTLS但中继不支持时失败", func(t *testing.T) {
		strict := cfg
		strict.StartTLS = true
		err := NewSMTPSender(strict, "burnbox.test", zap.NewNop()).Verify(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "starttls")
	})

	t.Run("认证失败", func(t *testing.T) {
		bad := cfg
		bad.Password = "wrong"
		err := NewSMTPSender(bad, "burnbox.test", zap.NewNop()).Verify(ctx)
		assert.Error(t, err)
	})

	t.Run("中继不可达", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addr := ln.Addr().(*net.TCPAddr)
		require.NoError(t, ln.Close())

		down := NewSMTPSender(config.OutboundConfig{Host: "127.0.0.1", Port: addr.Port}, "burnbox.test", zap.NewNop())
		assert.Error(t, down.Verify(ctx))
	})
}

func TestLogSenderAndNew(t *testing.T) {
	s := New(config.OutboundConfig{}, "burnbox.test", zap.NewNop())
	_, ok := s.(*LogSender)
	require.True(t, ok)

	receipt, err := s.Send(context.Background(), &domain.OutboundMail{
		From: "alice@temp.mail",
		To:   []string{"bob@example.com"},
		Text: "x",
	})
	require.NoError(t, err)
	assert.Equal(t, "log", receipt.Relay)
	assert.NotEmpty(t, receipt.MessageID)
	assert.NoError(t, s.Verify(context.Background()))

	_, ok = New(config.OutboundConfig{Host: "smtp.example.com", Port: 587}, "burnbox.test", zap.NewNop()).(*SMTPSender)
	assert.True(t, ok)
}
