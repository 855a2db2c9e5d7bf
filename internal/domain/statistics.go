package domain

import "time"

// RecentMessageCount 统计信息中返回的最近邮件数量
const RecentMessageCount = 5

// MailboxStats 单个邮箱的统计信息
type MailboxStats struct {
	TotalMessages  int           `json:"totalMessages"`
	UnreadCount    int           `json:"unreadCount"`
	ReadCount      int           `json:"readCount"`
	TimeRemaining  TimeRemaining `json:"timeRemaining"`
	RecentMessages []Summary     `json:"recentMessages"`
	CreatedAt      time.Time     `json:"createdAt"`
	LastAccessedAt time.Time     `json:"lastAccessedAt"`
}

// SystemStats 全局统计信息
type SystemStats struct {
	ActiveAddresses int64      `json:"activeAddresses"`
	TotalMessages   int64      `json:"totalMessages"`
	UnreadMessages  int64      `json:"unreadMessages"`
	ReadMessages    int64      `json:"readMessages"`
	OldestMessageAt *time.Time `json:"oldestMessageAt,omitempty"`
	NewestMessageAt *time.Time `json:"newestMessageAt,omitempty"`
	// 以秒计的最早/最新邮件年龄
	OldestMessageAge int64 `json:"oldestMessageAge"`
	NewestMessageAge int64 `json:"newestMessageAge"`
}

// WithAges 根据 now 填充邮件年龄
func (s SystemStats) WithAges(now time.Time) SystemStats {
	if s.OldestMessageAt != nil {
		s.OldestMessageAge = int64(now.Sub(*s.OldestMessageAt) / time.Second)
	}
	if s.NewestMessageAt != nil {
		s.NewestMessageAge = int64(now.Sub(*s.NewestMessageAt) / time.Second)
	}
	return s
}
