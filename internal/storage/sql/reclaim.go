package sql

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"gorm.io/gorm"

	"burnbox/backend/internal/domain"
)

// ========== Reclaim Repository ==========
// 先按索引条件取出至多 limit 个主键，再按主键批量删除或更新，控制单次事务的范围。

// DeleteExpiredAddresses 删除过期或非激活的地址
func (s *Store) DeleteExpiredAddresses(ctx context.Context, now time.Time, limit int) ([]string, error) {
	return s.deleteAddresses(ctx, limit, "expires_at < ? OR is_active = ?", now, false)
}

// DeleteInactiveAddresses 删除非激活的地址
func (s *Store) DeleteInactiveAddresses(ctx context.Context, limit int) ([]string, error) {
	return s.deleteAddresses(ctx, limit, "is_active = ?", false)
}

func (s *Store) deleteAddresses(ctx context.Context, limit int, query string, args ...interface{}) ([]string, error) {
	var rows []domain.Address
	err := s.conn(ctx).Select("id", "address").
		Where(query, args...).
		Order("id").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, translateError(err, nil)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(rows))
	addresses := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
		addresses = append(addresses, row.Address)
	}

	if err := s.conn(ctx).Where("id IN ?", ids).Delete(&domain.Address{}).Error; err != nil {
		return nil, translateError(err, nil)
	}
	return addresses, nil
}

// PurgeDeletedMessages 物理删除已软删除的邮件
func (s *Store) PurgeDeletedMessages(ctx context.Context, limit int) (int64, error) {
	return s.purgeMessages(ctx, limit, "is_deleted = ?", true)
}

// PurgeMessagesBefore 物理删除 cutoff 之前收到的邮件
func (s *Store) PurgeMessagesBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	return s.purgeMessages(ctx, limit, "received_at < ?", cutoff)
}

func (s *Store) purgeMessages(ctx context.Context, limit int, query string, args ...interface{}) (int64, error) {
	var ids []string
	err := s.conn(ctx).Model(&domain.Message{}).
		Where(query, args...).
		Order("id").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, translateError(err, nil)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	var deleted int64
	err = s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("message_pk IN ?", ids).Delete(&domain.Attachment{}).Error; err != nil {
			return err
		}
		result := tx.Where("id IN ?", ids).Delete(&domain.Message{})
		deleted = result.RowsAffected
		return result.Error
	})
	return deleted, translateError(err, nil)
}

// SoftDeleteMessagesFor 软删除指定地址下的邮件
func (s *Store) SoftDeleteMessagesFor(ctx context.Context, addresses []string) (int64, error) {
	if len(addresses) == 0 {
		return 0, nil
	}
	lowered := make([]string, len(addresses))
	for i, a := range addresses {
		lowered[i] = strings.ToLower(a)
	}

	result := s.conn(ctx).Model(&domain.Message{}).
		Where("email_address IN ? AND is_deleted = ?", lowered, false).
		Update("is_deleted", true)
	return result.RowsAffected, translateError(result.Error, nil)
}

// SoftDeleteOrphanedMessages 软删除地址已不存在的邮件
func (s *Store) SoftDeleteOrphanedMessages(ctx context.Context, limit int) (int64, error) {
	var ids []string
	err := s.conn(ctx).Model(&domain.Message{}).
		Where("is_deleted = ?", false).
		Where("NOT EXISTS (SELECT 1 FROM addresses WHERE addresses.address = messages.email_address)").
		Order("id").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, translateError(err, nil)
	}
	return s.softDeleteIDs(ctx, ids)
}

// AddressesOverCap 返回未删除邮件数超过上限的地址
func (s *Store) AddressesOverCap(ctx context.Context, cap int) ([]string, error) {
	var addresses []string
	err := s.conn(ctx).Model(&domain.Message{}).
		Where("is_deleted = ?", false).
		Group("email_address").
		Having("COUNT(*) > ?", cap).
		Pluck("email_address", &addresses).Error
	return addresses, translateError(err, nil)
}

// SoftDeleteBeyondNewest 只保留最新的 keep 封邮件
func (s *Store) SoftDeleteBeyondNewest(ctx context.Context, address string, keep, limit int) (int64, error) {
	var ids []string
	err := s.conn(ctx).Model(&domain.Message{}).
		Scopes(liveMessages(address, false)).
		Order("received_at DESC, id DESC").
		Offset(keep).
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, translateError(err, nil)
	}
	return s.softDeleteIDs(ctx, ids)
}

// RecountMessages 用实际未删除邮件数刷新计数
func (s *Store) RecountMessages(ctx context.Context, address string) error {
	var count int64
	if err := s.conn(ctx).Model(&domain.Message{}).Scopes(liveMessages(address, false)).Count(&count).Error; err != nil {
		return translateError(err, nil)
	}

	result := s.conn(ctx).Model(&domain.Address{}).
		Where("address = ?", strings.ToLower(address)).
		Update("message_count", count)
	if result.Error != nil {
		return translateError(result.Error, nil)
	}
	if result.RowsAffected == 0 {
		return s.addressExists(ctx, strings.ToLower(address))
	}
	return nil
}

// SystemStats 汇总全局统计
func (s *Store) SystemStats(ctx context.Context) (domain.SystemStats, error) {
	var stats domain.SystemStats

	if err := s.conn(ctx).Model(&domain.Address{}).Where("is_active = ?", true).Count(&stats.ActiveAddresses).Error; err != nil {
		return stats, translateError(err, nil)
	}
	if err := s.conn(ctx).Model(&domain.Message{}).Where("is_deleted = ?", false).Count(&stats.TotalMessages).Error; err != nil {
		return stats, translateError(err, nil)
	}
	if err := s.conn(ctx).Model(&domain.Message{}).Where("is_deleted = ? AND is_read = ?", false, false).Count(&stats.UnreadMessages).Error; err != nil {
		return stats, translateError(err, nil)
	}
	stats.ReadMessages = stats.TotalMessages - stats.UnreadMessages

	var oldest, newest sql.NullTime
	row := s.conn(ctx).Model(&domain.Message{}).
		Select("MIN(received_at), MAX(received_at)").
		Where("is_deleted = ?", false).
		Row()
	if err := row.Scan(&oldest, &newest); err != nil {
		return stats, translateError(err, nil)
	}
	if oldest.Valid {
		stats.OldestMessageAt = &oldest.Time
	}
	if newest.Valid {
		stats.NewestMessageAt = &newest.Time
	}
	return stats, nil
}

func (s *Store) softDeleteIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := s.conn(ctx).Model(&domain.Message{}).
		Where("id IN ?", ids).
		Update("is_deleted", true)
	return result.RowsAffected, translateError(result.Error, nil)
}
