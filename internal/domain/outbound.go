package domain

import "time"

// OutboundMail 需要外发的邮件
type OutboundMail struct {
	From       string
	ReplyTo    string
	To         []string
	Subject    string
	Text       string
	HTML       string
	InReplyTo  string
	References []string
}

// DeliveryReceipt 外发结果回执
type DeliveryReceipt struct {
	MessageID string    `json:"messageId"`
	Accepted  []string  `json:"accepted"`
	Relay     string    `json:"relay"`
	SentAt    time.Time `json:"sentAt"`
}
