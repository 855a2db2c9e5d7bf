package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"burnbox/backend/internal/domain"
	"burnbox/backend/internal/storage"
)

// Store 使用内存保存地址与邮件数据，主要用于开发验证和测试。
// 与数据库实现一致地维护 address 与 messageId 的唯一约束。
type Store struct {
	mu        sync.RWMutex
	addresses map[string]*domain.Address            // address -> row
	messages  map[string]*domain.Message            // id -> message
	byMsgID   map[string]string                     // messageId -> id
	byAddress map[string]map[string]*domain.Message // emailAddress -> id -> message
	closed    bool
}

var _ storage.Store = (*Store)(nil)

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		addresses: make(map[string]*domain.Address),
		messages:  make(map[string]*domain.Message),
		byMsgID:   make(map[string]string),
		byAddress: make(map[string]map[string]*domain.Message),
	}
}

// CreateAddress 保存新地址。
func (s *Store) CreateAddress(_ context.Context, addr *domain.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrUnavailable
	}

	key := strings.ToLower(addr.Address)
	if _, exists := s.addresses[key]; exists {
		return storage.ErrDuplicateAddress
	}
	clone := *addr
	clone.Address = key
	s.addresses[key] = &clone
	return nil
}

// GetAddress 根据完整地址获取激活的地址。
func (s *Store) GetAddress(_ context.Context, address string) (*domain.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrUnavailable
	}

	addr, ok := s.addresses[strings.ToLower(address)]
	if !ok || !addr.IsActive {
		return nil, storage.ErrAddressNotFound
	}
	clone := *addr
	return &clone, nil
}

// DeactivateAddress 将地址标记为非激活。
func (s *Store) DeactivateAddress(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrUnavailable
	}

	addr, ok := s.addresses[strings.ToLower(address)]
	if !ok {
		return storage.ErrAddressNotFound
	}
	addr.IsActive = false
	return nil
}

// TouchAddress 更新最近访问时间。
func (s *Store) TouchAddress(_ context.Context, address string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrUnavailable
	}

	addr, ok := s.addresses[strings.ToLower(address)]
	if !ok {
		return storage.ErrAddressNotFound
	}
	addr.LastAccessedAt = at
	return nil
}

// IncrementMessageCount 邮件计数加一。
func (s *Store) IncrementMessageCount(_ context.Context, address string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrUnavailable
	}

	addr, ok := s.addresses[strings.ToLower(address)]
	if !ok {
		return storage.ErrAddressNotFound
	}
	addr.MessageCount++
	addr.LastAccessedAt = at
	return nil
}

// SaveMessage 保存邮件。
func (s *Store) SaveMessage(_ context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrUnavailable
	}

	if _, exists := s.byMsgID[msg.MessageID]; exists {
		return storage.ErrDuplicateMessageID
	}
	clone := cloneMessage(msg)
	clone.EmailAddress = strings.ToLower(clone.EmailAddress)
	s.messages[clone.ID] = clone
	s.byMsgID[clone.MessageID] = clone.ID
	if s.byAddress[clone.EmailAddress] == nil {
		s.byAddress[clone.EmailAddress] = make(map[string]*domain.Message)
	}
	s.byAddress[clone.EmailAddress][clone.ID] = clone
	return nil
}

// ListMessages 按接收时间倒序分页返回邮件。
func (s *Store) ListMessages(_ context.Context, address string, q domain.MessageQuery) ([]domain.Message, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, 0, storage.ErrUnavailable
	}

	live := s.liveMessagesLocked(strings.ToLower(address))
	filtered := live[:0]
	for _, msg := range live {
		if q.UnreadOnly && msg.IsRead {
			continue
		}
		filtered = append(filtered, msg)
	}

	total := int64(len(filtered))
	start := q.Offset()
	if start >= len(filtered) {
		return []domain.Message{}, total, nil
	}
	end := start + q.Limit
	if end > len(filtered) {
		end = len(filtered)
	}

	result := make([]domain.Message, 0, end-start)
	for _, msg := range filtered[start:end] {
		result = append(result, *cloneMessage(msg))
	}
	return result, total, nil
}

// GetMessage 获取地址下的单封未删除邮件。
func (s *Store) GetMessage(_ context.Context, address, id string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrUnavailable
	}

	msg := s.findLocked(address, id)
	if msg == nil || msg.IsDeleted {
		return nil, storage.ErrMessageNotFound
	}
	return cloneMessage(msg), nil
}

// MarkRead 标记邮件已读。
func (s *Store) MarkRead(_ context.Context, address, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrUnavailable
	}

	msg := s.findLocked(address, id)
	if msg == nil || msg.IsDeleted {
		return storage.ErrMessageNotFound
	}
	msg.IsRead = true
	return nil
}

// MarkAllRead 标记地址下全部未读邮件为已读。
func (s *Store) MarkAllRead(_ context.Context, address string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, storage.ErrUnavailable
	}

	var n int64
	for _, msg := range s.byAddress[strings.ToLower(address)] {
		if !msg.IsDeleted && !msg.IsRead {
			msg.IsRead = true
			n++
		}
	}
	return n, nil
}

// SoftDeleteMessage 软删除邮件。
func (s *Store) SoftDeleteMessage(_ context.Context, address, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrUnavailable
	}

	msg := s.findLocked(address, id)
	if msg == nil {
		return storage.ErrMessageNotFound
	}
	msg.IsDeleted = true
	return nil
}

// SoftDeleteAll 软删除地址下全部邮件。
func (s *Store) SoftDeleteAll(_ context.Context, address string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, storage.ErrUnavailable
	}
	return s.softDeleteAllLocked(strings.ToLower(address)), nil
}

// CountUnread 统计未读邮件数。
func (s *Store) CountUnread(_ context.Context, address string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, storage.ErrUnavailable
	}

	var n int64
	for _, msg := range s.byAddress[strings.ToLower(address)] {
		if !msg.IsDeleted && !msg.IsRead {
			n++
		}
	}
	return n, nil
}

// Health 检查存储是否可用。
func (s *Store) Health(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrUnavailable
	}
	return nil
}

// Close 关闭存储，之后所有操作返回 ErrUnavailable。
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// findLocked 按主键或 messageId 在地址范围内查找邮件，调用方需持有锁。
func (s *Store) findLocked(address, id string) *domain.Message {
	msg, ok := s.messages[id]
	if !ok {
		if pk, found := s.byMsgID[id]; found {
			msg = s.messages[pk]
		}
	}
	if msg == nil || msg.EmailAddress != strings.ToLower(address) {
		return nil
	}
	return msg
}

// liveMessagesLocked 返回按 receivedAt 倒序排列的未删除邮件。
func (s *Store) liveMessagesLocked(address string) []*domain.Message {
	live := make([]*domain.Message, 0, len(s.byAddress[address]))
	for _, msg := range s.byAddress[address] {
		if !msg.IsDeleted {
			live = append(live, msg)
		}
	}
	sortNewestFirst(live)
	return live
}

func (s *Store) softDeleteAllLocked(address string) int64 {
	var n int64
	for _, msg := range s.byAddress[address] {
		if !msg.IsDeleted {
			msg.IsDeleted = true
			n++
		}
	}
	return n
}

func (s *Store) deleteMessageLocked(msg *domain.Message) {
	delete(s.messages, msg.ID)
	delete(s.byMsgID, msg.MessageID)
	if bucket := s.byAddress[msg.EmailAddress]; bucket != nil {
		delete(bucket, msg.ID)
		if len(bucket) == 0 {
			delete(s.byAddress, msg.EmailAddress)
		}
	}
}

func sortNewestFirst(msgs []*domain.Message) {
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].ReceivedAt.Equal(msgs[j].ReceivedAt) {
			return msgs[i].ID > msgs[j].ID
		}
		return msgs[i].ReceivedAt.After(msgs[j].ReceivedAt)
	})
}

func cloneMessage(msg *domain.Message) *domain.Message {
	clone := *msg
	if msg.Attachments != nil {
		clone.Attachments = make([]domain.Attachment, len(msg.Attachments))
		copy(clone.Attachments, msg.Attachments)
	}
	if msg.Headers != nil {
		clone.Headers = make(map[string]string, len(msg.Headers))
		for k, v := range msg.Headers {
			clone.Headers[k] = v
		}
	}
	return &clone
}
