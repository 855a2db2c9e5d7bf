package sql

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"burnbox/backend/internal/domain"
	"burnbox/backend/internal/storage"
)

// ========== Address Repository ==========

// CreateAddress 插入新地址
func (s *Store) CreateAddress(ctx context.Context, addr *domain.Address) error {
	addr.Address = strings.ToLower(addr.Address)
	return translateError(s.conn(ctx).Create(addr).Error, storage.ErrDuplicateAddress)
}

// GetAddress 根据完整地址获取激活的地址
func (s *Store) GetAddress(ctx context.Context, address string) (*domain.Address, error) {
	var addr domain.Address
	err := s.conn(ctx).
		Where("address = ? AND is_active = ?", strings.ToLower(address), true).
		First(&addr).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrAddressNotFound
		}
		return nil, translateError(err, nil)
	}
	return &addr, nil
}

// DeactivateAddress 将地址标记为非激活
func (s *Store) DeactivateAddress(ctx context.Context, address string) error {
	address = strings.ToLower(address)
	result := s.conn(ctx).Model(&domain.Address{}).
		Where("address = ?", address).
		Update("is_active", false)
	if result.Error != nil {
		return translateError(result.Error, nil)
	}
	if result.RowsAffected == 0 {
		// MySQL 对未变化的行返回 0，需再确认一次是否存在
		return s.addressExists(ctx, address)
	}
	return nil
}

// TouchAddress 更新最近访问时间
func (s *Store) TouchAddress(ctx context.Context, address string, at time.Time) error {
	err := s.conn(ctx).Model(&domain.Address{}).
		Where("address = ?", strings.ToLower(address)).
		Update("last_accessed_at", at).Error
	return translateError(err, nil)
}

// IncrementMessageCount 邮件计数加一
func (s *Store) IncrementMessageCount(ctx context.Context, address string, at time.Time) error {
	result := s.conn(ctx).Model(&domain.Address{}).
		Where("address = ?", strings.ToLower(address)).
		Updates(map[string]interface{}{
			"message_count":    gorm.Expr("message_count + 1"),
			"last_accessed_at": at,
		})
	if result.Error != nil {
		return translateError(result.Error, nil)
	}
	if result.RowsAffected == 0 {
		return storage.ErrAddressNotFound
	}
	return nil
}

func (s *Store) addressExists(ctx context.Context, address string) error {
	var count int64
	if err := s.conn(ctx).Model(&domain.Address{}).Where("address = ?", address).Count(&count).Error; err != nil {
		return translateError(err, nil)
	}
	if count == 0 {
		return storage.ErrAddressNotFound
	}
	return nil
}
