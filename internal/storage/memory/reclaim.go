package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"burnbox/backend/internal/domain"
	"burnbox/backend/internal/storage"
)

// DeleteExpiredAddresses 删除过期或非激活的地址。
func (s *Store) DeleteExpiredAddresses(_ context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storage.ErrUnavailable
	}

	return s.deleteAddressesLocked(limit, func(addr *domain.Address) bool {
		return addr.ExpiresAt.Before(now) || !addr.IsActive
	}), nil
}

// DeleteInactiveAddresses 删除非激活的地址。
func (s *Store) DeleteInactiveAddresses(_ context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storage.ErrUnavailable
	}

	return s.deleteAddressesLocked(limit, func(addr *domain.Address) bool {
		return !addr.IsActive
	}), nil
}

// PurgeDeletedMessages 物理删除已软删除的邮件。
func (s *Store) PurgeDeletedMessages(_ context.Context, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, storage.ErrUnavailable
	}

	return s.purgeLocked(limit, func(msg *domain.Message) bool { return msg.IsDeleted }), nil
}

// PurgeMessagesBefore 物理删除 cutoff 之前收到的邮件。
func (s *Store) PurgeMessagesBefore(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, storage.ErrUnavailable
	}

	return s.purgeLocked(limit, func(msg *domain.Message) bool { return msg.ReceivedAt.Before(cutoff) }), nil
}

// SoftDeleteMessagesFor 软删除指定地址下的邮件。
func (s *Store) SoftDeleteMessagesFor(_ context.Context, addresses []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, storage.ErrUnavailable
	}

	var n int64
	for _, address := range addresses {
		n += s.softDeleteAllLocked(strings.ToLower(address))
	}
	return n, nil
}

// SoftDeleteOrphanedMessages 软删除地址已不存在的邮件。
func (s *Store) SoftDeleteOrphanedMessages(_ context.Context, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, storage.ErrUnavailable
	}

	var n int64
	for address, bucket := range s.byAddress {
		if _, exists := s.addresses[address]; exists {
			continue
		}
		for _, msg := range bucket {
			if limit > 0 && n >= int64(limit) {
				return n, nil
			}
			if !msg.IsDeleted {
				msg.IsDeleted = true
				n++
			}
		}
	}
	return n, nil
}

// AddressesOverCap 返回未删除邮件数超过上限的地址。
func (s *Store) AddressesOverCap(_ context.Context, cap int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrUnavailable
	}

	var result []string
	for address, bucket := range s.byAddress {
		live := 0
		for _, msg := range bucket {
			if !msg.IsDeleted {
				live++
			}
		}
		if live > cap {
			result = append(result, address)
		}
	}
	sort.Strings(result)
	return result, nil
}

// SoftDeleteBeyondNewest 只保留最新的 keep 封邮件。
func (s *Store) SoftDeleteBeyondNewest(_ context.Context, address string, keep, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, storage.ErrUnavailable
	}

	live := s.liveMessagesLocked(strings.ToLower(address))
	if len(live) <= keep {
		return 0, nil
	}
	excess := live[keep:]
	if limit > 0 && len(excess) > limit {
		excess = excess[:limit]
	}
	for _, msg := range excess {
		msg.IsDeleted = true
	}
	return int64(len(excess)), nil
}

// RecountMessages 重新计算地址的邮件计数。
func (s *Store) RecountMessages(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrUnavailable
	}

	key := strings.ToLower(address)
	addr, ok := s.addresses[key]
	if !ok {
		return storage.ErrAddressNotFound
	}
	addr.MessageCount = len(s.liveMessagesLocked(key))
	return nil
}

// SystemStats 汇总全局统计。
func (s *Store) SystemStats(_ context.Context) (domain.SystemStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return domain.SystemStats{}, storage.ErrUnavailable
	}

	var stats domain.SystemStats
	for _, addr := range s.addresses {
		if addr.IsActive {
			stats.ActiveAddresses++
		}
	}
	for _, msg := range s.messages {
		if msg.IsDeleted {
			continue
		}
		stats.TotalMessages++
		if msg.IsRead {
			stats.ReadMessages++
		} else {
			stats.UnreadMessages++
		}
		received := msg.ReceivedAt
		if stats.OldestMessageAt == nil || received.Before(*stats.OldestMessageAt) {
			stats.OldestMessageAt = &received
		}
		if stats.NewestMessageAt == nil || received.After(*stats.NewestMessageAt) {
			stats.NewestMessageAt = &received
		}
	}
	return stats, nil
}

func (s *Store) deleteAddressesLocked(limit int, match func(*domain.Address) bool) []string {
	keys := make([]string, 0)
	for key, addr := range s.addresses {
		if match(addr) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	for _, key := range keys {
		delete(s.addresses, key)
	}
	return keys
}

func (s *Store) purgeLocked(limit int, match func(*domain.Message) bool) int64 {
	var n int64
	for _, msg := range s.messages {
		if limit > 0 && n >= int64(limit) {
			break
		}
		if match(msg) {
			s.deleteMessageLocked(msg)
			n++
		}
	}
	return n
}
