package smtp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"

	"burnbox/backend/internal/domain"
)

var wordDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

func init() {
	message.CharsetReader = charsetReader
}

// ParsedEmail 表示解析后的邮件内容。
type ParsedEmail struct {
	Subject     string
	From        string
	To          string
	Cc          string
	MessageID   string
	Text        string
	HTML        string
	Priority    domain.Priority
	Headers     map[string]string
	Attachments []domain.Attachment
}

// ParseEmail 解析完整的 RFC 5322 邮件，提取文本、HTML、附件与头部。
// 传输编码与字符集由 go-message 解码。
func ParseEmail(raw []byte) (*ParsedEmail, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse mail: %w", err)
	}
	defer mr.Close()

	parsed := &ParsedEmail{
		Headers: collectHeaders(mr.Header),
	}
	parsed.Subject, _ = mr.Header.Subject()
	parsed.From = headerText(mr.Header, "From")
	parsed.To = headerText(mr.Header, "To")
	parsed.Cc = headerText(mr.Header, "Cc")
	parsed.MessageID, _ = mr.Header.MessageID()
	parsed.Priority = priorityOf(mr.Header)

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !(message.IsUnknownCharset(err) && part != nil) {
			return nil, fmt.Errorf("read part: %w", err)
		}

		var h message.Header
		switch ph := part.Header.(type) {
		case *mail.InlineHeader:
			h = ph.Header
		case *mail.AttachmentHeader:
			h = ph.Header
		default:
			continue
		}

		contentType, params, _ := h.ContentType()
		if contentType == "" {
			contentType = "text/plain"
		}
		disposition, dispParams, _ := h.ContentDisposition()
		filename := firstNonEmpty(decodeWord(dispParams["filename"]), decodeWord(params["name"]))

		isBody := disposition != "attachment" && filename == "" &&
			(contentType == "text/plain" || contentType == "text/html")
		if !isBody {
			att, err := readAttachment(part.Body, contentType, filename, h.Get("Content-Id"), len(parsed.Attachments))
			if err != nil {
				return nil, err
			}
			parsed.Attachments = append(parsed.Attachments, att)
			continue
		}

		body, err := io.ReadAll(part.Body)
		if err != nil {
			return nil, fmt.Errorf("read %s part: %w", contentType, err)
		}
		if contentType == "text/html" {
			if parsed.HTML == "" {
				parsed.HTML = string(body)
			}
		} else if parsed.Text == "" {
			parsed.Text = string(body)
		}
	}

	return parsed, nil
}

func readAttachment(body io.Reader, contentType, filename, contentID string, position int) (domain.Attachment, error) {
	content, err := io.ReadAll(body)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("read attachment: %w", err)
	}
	if filename == "" {
		filename = "unnamed"
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return domain.Attachment{
		Position:    position,
		Filename:    filename,
		ContentType: contentType,
		Size:        int64(len(content)),
		Content:     content,
		ContentID:   strings.Trim(strings.TrimSpace(contentID), "<>"),
	}, nil
}

// collectHeaders 头部名称小写，同名头部以 ", " 连接
func collectHeaders(h mail.Header) map[string]string {
	headers := make(map[string]string)
	fields := h.Fields()
	for fields.Next() {
		key := strings.ToLower(fields.Key())
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		if prev, ok := headers[key]; ok {
			headers[key] = prev + ", " + value
			continue
		}
		headers[key] = value
	}
	return headers
}

// decodeWord 解码 RFC 2047 编码的参数值（部分客户端这样编码附件名）
func decodeWord(s string) string {
	if s == "" {
		return s
	}
	decoded, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

func headerText(h mail.Header, key string) string {
	v, err := h.Text(key)
	if err != nil {
		return h.Get(key)
	}
	return v
}

// priorityOf 读取 X-Priority（1、2 为高，4、5 为低）与 Importance
func priorityOf(h mail.Header) domain.Priority {
	if v := strings.TrimSpace(h.Get("X-Priority")); v != "" {
		switch v[0] {
		case '1', '2':
			return domain.PriorityHigh
		case '4', '5':
			return domain.PriorityLow
		}
	}
	return domain.ParsePriority(h.Get("Importance"))
}

// charsetReader 为 go-message 提供非 UTF-8 字符集的解码
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc := lookupCharset(charset)
	if enc == nil {
		return nil, fmt.Errorf("unhandled charset %q", charset)
	}
	return transform.NewReader(input, enc.NewDecoder()), nil
}

func lookupCharset(charset string) encoding.Encoding {
	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "gb2312", "gbk":
		return simplifiedchinese.GBK
	case "gb18030":
		return simplifiedchinese.GB18030
	case "big5":
		return traditionalchinese.Big5
	case "iso-2022-jp":
		return japanese.ISO2022JP
	case "shift_jis":
		return japanese.ShiftJIS
	case "euc-jp":
		return japanese.EUCJP
	case "euc-kr", "ks_c_5601-1987":
		return korean.EUCKR
	}
	if enc, err := htmlindex.Get(charset); err == nil {
		return enc
	}
	return nil
}
