// Package outbound 实现外发邮件的发送器。
package outbound

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"burnbox/backend/internal/domain"
)

// Compose 生成 RFC 5322 格式的邮件。
// 同时有纯文本和 HTML 时生成 multipart/alternative，返回邮件内容与 Message-Id（不含尖括号）。
func Compose(m *domain.OutboundMail, now time.Time) ([]byte, string, error) {
	from, err := mail.ParseAddress(m.From)
	if err != nil {
		return nil, "", fmt.Errorf("parse from: %w", err)
	}
	to := make([]*mail.Address, 0, len(m.To))
	for _, rcpt := range m.To {
		addr, err := mail.ParseAddress(rcpt)
		if err != nil {
			return nil, "", fmt.Errorf("parse to %q: %w", rcpt, err)
		}
		to = append(to, addr)
	}

	messageID := uuid.NewString() + "@" + domainOf(from.Address)

	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", to)
	h.SetSubject(m.Subject)
	h.SetMessageID(messageID)
	if m.ReplyTo != "" {
		h.SetAddressList("Reply-To", []*mail.Address{{Address: m.ReplyTo}})
	}
	if m.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{trimID(m.InReplyTo)})
	}
	if len(m.References) > 0 {
		refs := make([]string, 0, len(m.References))
		for _, ref := range m.References {
			refs = append(refs, trimID(ref))
		}
		h.SetMsgIDList("References", refs)
	}

	var buf bytes.Buffer
	if m.HTML == "" {
		h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		w, err := mail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, "", err
		}
		if _, err := io.WriteString(w, m.Text); err != nil {
			return nil, "", err
		}
		if err := w.Close(); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), messageID, nil
	}

	w, err := mail.CreateInlineWriter(&buf, h)
	if err != nil {
		return nil, "", err
	}
	for _, part := range []struct{ contentType, body string }{
		{"text/plain", m.Text},
		{"text/html", m.HTML},
	} {
		var ph mail.InlineHeader
		ph.SetContentType(part.contentType, map[string]string{"charset": "utf-8"})
		pw, err := w.CreatePart(ph)
		if err != nil {
			return nil, "", err
		}
		if _, err := io.WriteString(pw, part.body); err != nil {
			return nil, "", err
		}
		if err := pw.Close(); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), messageID, nil
}

func domainOf(address string) string {
	if at := strings.LastIndex(address, "@"); at >= 0 {
		return address[at+1:]
	}
	return "localhost"
}

func trimID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}
