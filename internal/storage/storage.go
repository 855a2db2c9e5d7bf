package storage

import (
	"context"
	"errors"
	"time"

	"burnbox/backend/internal/domain"
)

var (
	// ErrAddressNotFound 地址未找到
	ErrAddressNotFound = domain.ErrAddressNotFound
	// ErrMessageNotFound 邮件未找到
	ErrMessageNotFound = domain.ErrMessageNotFound
	// ErrDuplicateMessageID messageId 违反唯一约束
	ErrDuplicateMessageID = domain.ErrDuplicateMessageID
	// ErrUnavailable 存储不可达
	ErrUnavailable = domain.ErrStoreUnavailable
	// ErrDuplicateAddress 地址违反唯一约束
	ErrDuplicateAddress = errors.New("address already exists")
)

// AddressRepository 定义地址数据存取操作。
type AddressRepository interface {
	// CreateAddress 插入新地址，地址冲突时返回 ErrDuplicateAddress
	CreateAddress(ctx context.Context, addr *domain.Address) error
	// GetAddress 按地址查找激活状态的记录（大小写不敏感），包括已过期但未回收的记录
	GetAddress(ctx context.Context, address string) (*domain.Address, error)
	// DeactivateAddress 标记为非激活，幂等
	DeactivateAddress(ctx context.Context, address string) error
	TouchAddress(ctx context.Context, address string, at time.Time) error
	// IncrementMessageCount 计数加一并刷新访问时间，地址行不存在时返回 ErrAddressNotFound
	IncrementMessageCount(ctx context.Context, address string, at time.Time) error
}

// MessageRepository 定义邮件数据存取操作。
// id 参数既可以是邮件主键，也可以是 messageId。
type MessageRepository interface {
	// SaveMessage 插入邮件及其附件，messageId 冲突时返回 ErrDuplicateMessageID
	SaveMessage(ctx context.Context, msg *domain.Message) error
	// ListMessages 按 receivedAt 倒序分页返回未删除邮件及总数
	ListMessages(ctx context.Context, address string, q domain.MessageQuery) ([]domain.Message, int64, error)
	GetMessage(ctx context.Context, address, id string) (*domain.Message, error)
	MarkRead(ctx context.Context, address, id string) error
	MarkAllRead(ctx context.Context, address string) (int64, error)
	// SoftDeleteMessage 软删除，已删除时不报错
	SoftDeleteMessage(ctx context.Context, address, id string) error
	SoftDeleteAll(ctx context.Context, address string) (int64, error)
	CountUnread(ctx context.Context, address string) (int64, error)
}

// ReclaimRepository 定义回收任务需要的批量操作。
// 每个方法最多处理 limit 行，调用方循环直到返回数量小于 limit。
type ReclaimRepository interface {
	// DeleteExpiredAddresses 硬删除已过期或非激活的地址，返回被删除的地址
	DeleteExpiredAddresses(ctx context.Context, now time.Time, limit int) ([]string, error)
	PurgeDeletedMessages(ctx context.Context, limit int) (int64, error)
	PurgeMessagesBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
	// SoftDeleteMessagesFor 软删除指定地址下的全部邮件
	SoftDeleteMessagesFor(ctx context.Context, addresses []string) (int64, error)
	// SoftDeleteOrphanedMessages 软删除地址行已不存在的邮件
	SoftDeleteOrphanedMessages(ctx context.Context, limit int) (int64, error)
	DeleteInactiveAddresses(ctx context.Context, limit int) ([]string, error)
	// AddressesOverCap 返回未删除邮件数超过 cap 的地址
	AddressesOverCap(ctx context.Context, cap int) ([]string, error)
	// SoftDeleteBeyondNewest 保留最新 keep 封，软删除其余邮件中的至多 limit 封
	SoftDeleteBeyondNewest(ctx context.Context, address string, keep, limit int) (int64, error)
	// RecountMessages 用实际未删除邮件数刷新计数
	RecountMessages(ctx context.Context, address string) error
	SystemStats(ctx context.Context) (domain.SystemStats, error)
}

// Store 聚合所有存储能力。
type Store interface {
	AddressRepository
	MessageRepository
	ReclaimRepository
	Health(ctx context.Context) error
	Close() error
}
