package domain

import (
	"time"
)

// Address 表示一个一次性邮箱地址。
// 过期时间在创建时确定，之后不会因访问而延长。
type Address struct {
	ID             string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Address        string    `json:"address" gorm:"type:varchar(320);uniqueIndex;not null"`
	LocalPart      string    `json:"localPart" gorm:"type:varchar(64)"`
	Domain         string    `json:"domain" gorm:"type:varchar(253);index"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt" gorm:"index"`
	IsActive       bool      `json:"isActive" gorm:"default:true;index"`
	MessageCount   int       `json:"messageCount" gorm:"default:0"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
}

// IsExpired 判断地址在 now 时刻是否已过期
func (a *Address) IsExpired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}

// TimeRemaining 计算剩余有效时间
func (a *Address) TimeRemaining(now time.Time) TimeRemaining {
	return NewTimeRemaining(a.ExpiresAt.Sub(now))
}

// TimeRemaining 剩余时间，各单位向下取整。
type TimeRemaining struct {
	Expired bool `json:"expired"`
	Hours   int  `json:"hours"`
	Minutes int  `json:"minutes"`
	Seconds int  `json:"seconds"`
}

// NewTimeRemaining 根据剩余时长构造 TimeRemaining
func NewTimeRemaining(d time.Duration) TimeRemaining {
	if d <= 0 {
		return TimeRemaining{Expired: true}
	}
	return TimeRemaining{
		Hours:   int(d / time.Hour),
		Minutes: int((d % time.Hour) / time.Minute),
		Seconds: int((d % time.Minute) / time.Second),
	}
}
