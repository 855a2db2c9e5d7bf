package sql

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"burnbox/backend/internal/domain"
	"burnbox/backend/internal/storage"
)

// ========== Message Repository ==========

// attachmentMeta 列表查询时不加载附件内容
func attachmentMeta(db *gorm.DB) *gorm.DB {
	return db.Select("id", "message_pk", "position", "filename", "content_type", "size", "content_id").
		Order("position")
}

func attachmentFull(db *gorm.DB) *gorm.DB {
	return db.Order("position")
}

// liveMessages 地址下未删除邮件的查询范围
func liveMessages(address string, unreadOnly bool) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		db = db.Where("email_address = ? AND is_deleted = ?", strings.ToLower(address), false)
		if unreadOnly {
			db = db.Where("is_read = ?", false)
		}
		return db
	}
}

// messageByID 按主键或 messageId 定位地址下的邮件
func messageByID(address, id string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("email_address = ? AND (id = ? OR message_id = ?)", strings.ToLower(address), id, id)
	}
}

// SaveMessage 保存邮件及附件
func (s *Store) SaveMessage(ctx context.Context, msg *domain.Message) error {
	msg.EmailAddress = strings.ToLower(msg.EmailAddress)
	return translateError(s.conn(ctx).Create(msg).Error, storage.ErrDuplicateMessageID)
}

// ListMessages 按接收时间倒序分页返回邮件
func (s *Store) ListMessages(ctx context.Context, address string, q domain.MessageQuery) ([]domain.Message, int64, error) {
	var total int64
	err := s.conn(ctx).Model(&domain.Message{}).
		Scopes(liveMessages(address, q.UnreadOnly)).
		Count(&total).Error
	if err != nil {
		return nil, 0, translateError(err, nil)
	}

	messages := make([]domain.Message, 0, q.Limit)
	if total == 0 {
		return messages, 0, nil
	}

	err = s.conn(ctx).
		Scopes(liveMessages(address, q.UnreadOnly)).
		Preload("Attachments", attachmentMeta).
		Order("received_at DESC, id DESC").
		Limit(q.Limit).
		Offset(q.Offset()).
		Find(&messages).Error
	if err != nil {
		return nil, 0, translateError(err, nil)
	}
	return messages, total, nil
}

// GetMessage 获取地址下的单封未删除邮件
func (s *Store) GetMessage(ctx context.Context, address, id string) (*domain.Message, error) {
	var msg domain.Message
	err := s.conn(ctx).
		Scopes(messageByID(address, id)).
		Where("is_deleted = ?", false).
		Preload("Attachments", attachmentFull).
		First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrMessageNotFound
		}
		return nil, translateError(err, nil)
	}
	return &msg, nil
}

// MarkRead 标记邮件已读
func (s *Store) MarkRead(ctx context.Context, address, id string) error {
	result := s.conn(ctx).Model(&domain.Message{}).
		Scopes(messageByID(address, id)).
		Where("is_deleted = ?", false).
		Update("is_read", true)
	if result.Error != nil {
		return translateError(result.Error, nil)
	}
	if result.RowsAffected == 0 {
		return s.messageExists(ctx, address, id, false)
	}
	return nil
}

// MarkAllRead 标记地址下全部邮件已读
func (s *Store) MarkAllRead(ctx context.Context, address string) (int64, error) {
	result := s.conn(ctx).Model(&domain.Message{}).
		Scopes(liveMessages(address, true)).
		Update("is_read", true)
	return result.RowsAffected, translateError(result.Error, nil)
}

// SoftDeleteMessage 软删除邮件
func (s *Store) SoftDeleteMessage(ctx context.Context, address, id string) error {
	result := s.conn(ctx).Model(&domain.Message{}).
		Scopes(messageByID(address, id)).
		Update("is_deleted", true)
	if result.Error != nil {
		return translateError(result.Error, nil)
	}
	if result.RowsAffected == 0 {
		return s.messageExists(ctx, address, id, true)
	}
	return nil
}

// SoftDeleteAll 软删除地址下全部邮件
func (s *Store) SoftDeleteAll(ctx context.Context, address string) (int64, error) {
	result := s.conn(ctx).Model(&domain.Message{}).
		Scopes(liveMessages(address, false)).
		Update("is_deleted", true)
	return result.RowsAffected, translateError(result.Error, nil)
}

// CountUnread 统计未读邮件数
func (s *Store) CountUnread(ctx context.Context, address string) (int64, error) {
	var count int64
	err := s.conn(ctx).Model(&domain.Message{}).
		Scopes(liveMessages(address, true)).
		Count(&count).Error
	return count, translateError(err, nil)
}

// messageExists 在更新未影响任何行时区分“已是目标状态”和“不存在”
func (s *Store) messageExists(ctx context.Context, address, id string, includeDeleted bool) error {
	query := s.conn(ctx).Model(&domain.Message{}).Scopes(messageByID(address, id))
	if !includeDeleted {
		query = query.Where("is_deleted = ?", false)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return translateError(err, nil)
	}
	if count == 0 {
		return storage.ErrMessageNotFound
	}
	return nil
}
