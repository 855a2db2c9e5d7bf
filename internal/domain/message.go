package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MessageSource 邮件来源标记，仅用于诊断。
type MessageSource string

const (
	SourceSMTP          MessageSource = "smtp"
	SourceWebhook       MessageSource = "webhook"
	SourceMock          MessageSource = "mock"
	SourceAPI           MessageSource = "api"
	SourceRelayProvider MessageSource = "relay-provider"
)

// Priority 邮件优先级
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// ParsePriority 解析优先级字符串，未知值返回 normal
func ParsePriority(s string) Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityHigh:
		return PriorityHigh
	case PriorityLow:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// PreviewLength 列表预览的最大字符数
const PreviewLength = 100

// Message 表示一次性邮箱收到的一封邮件。
// 创建后只允许修改 IsRead 与 IsDeleted。
type Message struct {
	ID           string            `json:"id" gorm:"primaryKey;type:varchar(36)"`
	MessageID    string            `json:"messageId" gorm:"type:varchar(255);uniqueIndex;not null"`
	AddressID    string            `json:"addressId" gorm:"type:varchar(36);index"`
	EmailAddress string            `json:"emailAddress" gorm:"type:varchar(320);index;not null"`
	From         string            `json:"from" gorm:"column:from_address;type:varchar(320)"`
	To           string            `json:"to" gorm:"column:to_address;type:varchar(1000)"`
	Subject      string            `json:"subject" gorm:"type:varchar(1000)"`
	Body         string            `json:"body"`
	BodyHTML     string            `json:"bodyHtml"`
	BodyText     string            `json:"bodyText"`
	Attachments  []Attachment      `json:"attachments" gorm:"foreignKey:MessagePK;constraint:OnDelete:CASCADE"`
	Headers      map[string]string `json:"headers" gorm:"type:text;serializer:json"`
	ReceivedAt   time.Time         `json:"receivedAt" gorm:"index"`
	IsRead       bool              `json:"isRead" gorm:"default:false;index"`
	IsDeleted    bool              `json:"isDeleted" gorm:"default:false;index"`
	Priority     Priority          `json:"priority" gorm:"type:varchar(10);default:normal"`
	Source       MessageSource     `json:"source" gorm:"type:varchar(20)"`
	Size         int64             `json:"size"`
}

// ComputeSize 正文、HTML 与附件大小之和（字节）
func (m *Message) ComputeSize() int64 {
	size := int64(len(m.Body) + len(m.BodyHTML))
	for _, att := range m.Attachments {
		size += att.Size
	}
	return size
}

// Preview 返回纯文本正文的前 100 个字符
func (m *Message) Preview() string {
	text := m.BodyText
	if text == "" {
		text = m.Body
	}
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= PreviewLength {
		return text
	}
	return string([]rune(text)[:PreviewLength]) + "..."
}

// Summary 列表中使用的邮件摘要，不含正文和附件内容。
type Summary struct {
	ID              string    `json:"id"`
	MessageID       string    `json:"messageId"`
	From            string    `json:"from"`
	To              string    `json:"to"`
	Subject         string    `json:"subject"`
	Preview         string    `json:"preview"`
	ReceivedAt      time.Time `json:"receivedAt"`
	IsRead          bool      `json:"isRead"`
	Priority        Priority  `json:"priority"`
	Size            int64     `json:"size"`
	AttachmentCount int       `json:"attachmentCount"`
}

// Summarize 生成邮件摘要
func (m *Message) Summarize() Summary {
	return Summary{
		ID:              m.ID,
		MessageID:       m.MessageID,
		From:            m.From,
		To:              m.To,
		Subject:         m.Subject,
		Preview:         m.Preview(),
		ReceivedAt:      m.ReceivedAt,
		IsRead:          m.IsRead,
		Priority:        m.Priority,
		Size:            m.Size,
		AttachmentCount: len(m.Attachments),
	}
}
