package hybrid

import (
	"context"
	"time"

	"go.uber.org/zap"

	"burnbox/backend/internal/domain"
	"burnbox/backend/internal/storage"
)

// AddressCache 地址缓存，由 Redis 实现。
type AddressCache interface {
	CacheAddress(ctx context.Context, addr *domain.Address, ttl time.Duration) error
	GetCachedAddress(ctx context.Context, address string) (*domain.Address, error)
	DeleteCachedAddress(ctx context.Context, addresses ...string) error
}

// Store 混合存储实现，数据库为主存储，Redis 缓存地址查询。
// 缓存中的 messageCount 与 lastAccessedAt 可能落后至多一个 TTL。
type Store struct {
	storage.Store
	cache AddressCache
	ttl   time.Duration
	log   *zap.Logger
}

// NewStore 创建混合存储实例
func NewStore(primary storage.Store, cache AddressCache, ttl time.Duration, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		Store: primary,
		cache: cache,
		ttl:   ttl,
		log:   log,
	}
}

// CreateAddress 保存地址并写入缓存
func (s *Store) CreateAddress(ctx context.Context, addr *domain.Address) error {
	if err := s.Store.CreateAddress(ctx, addr); err != nil {
		return err
	}
	s.remember(ctx, addr)
	return nil
}

// GetAddress 先查缓存，未命中时回源数据库
func (s *Store) GetAddress(ctx context.Context, address string) (*domain.Address, error) {
	if cached, err := s.cache.GetCachedAddress(ctx, address); err == nil && cached.IsActive {
		return cached, nil
	}

	addr, err := s.Store.GetAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	s.remember(ctx, addr)
	return addr, nil
}

// DeactivateAddress 停用地址并清除缓存
func (s *Store) DeactivateAddress(ctx context.Context, address string) error {
	err := s.Store.DeactivateAddress(ctx, address)
	s.forget(ctx, address)
	return err
}

// DeleteExpiredAddresses 删除过期地址并清除缓存
func (s *Store) DeleteExpiredAddresses(ctx context.Context, now time.Time, limit int) ([]string, error) {
	deleted, err := s.Store.DeleteExpiredAddresses(ctx, now, limit)
	s.forget(ctx, deleted...)
	return deleted, err
}

// DeleteInactiveAddresses 删除非激活地址并清除缓存
func (s *Store) DeleteInactiveAddresses(ctx context.Context, limit int) ([]string, error) {
	deleted, err := s.Store.DeleteInactiveAddresses(ctx, limit)
	s.forget(ctx, deleted...)
	return deleted, err
}

// remember 缓存失败不影响主流程
func (s *Store) remember(ctx context.Context, addr *domain.Address) {
	if err := s.cache.CacheAddress(ctx, addr, s.ttl); err != nil {
		s.log.Warn("failed to cache address", zap.String("address", addr.Address), zap.Error(err))
	}
}

func (s *Store) forget(ctx context.Context, addresses ...string) {
	if len(addresses) == 0 {
		return
	}
	if err := s.cache.DeleteCachedAddress(ctx, addresses...); err != nil {
		s.log.Warn("failed to evict cached address", zap.Strings("addresses", addresses), zap.Error(err))
	}
}
