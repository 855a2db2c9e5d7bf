package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"burnbox/backend/internal/config"
	"burnbox/backend/internal/domain"
	"burnbox/backend/internal/storage"
)

// MaxGenerateAttempts 生成地址时的最大尝试次数
const MaxGenerateAttempts = 10

// localPartLength 随机本地部分的长度（十六进制字符）
const localPartLength = 12

// RegistryService 管理一次性地址的生成、查找与失效。
type RegistryService struct {
	repo       storage.AddressRepository
	domain     string
	domainSet  map[string]struct{}
	allowed    []string
	ttl        time.Duration
	validator  *domain.EmailValidator
	now        func() time.Time
	localPart  func() string
	listeners  []AddressListener
	dispatcher *dispatcher
	log        *zap.Logger
}

// NewRegistryService 创建地址注册服务。
func NewRegistryService(repo storage.AddressRepository, cfg *config.Config, log *zap.Logger) *RegistryService {
	domainSet := make(map[string]struct{}, len(cfg.Mailbox.AllowedDomains))
	for _, d := range cfg.Mailbox.AllowedDomains {
		domainSet[d] = struct{}{}
	}
	domainSet[cfg.Mailbox.Domain] = struct{}{}

	return &RegistryService{
		repo:       repo,
		domain:     cfg.Mailbox.Domain,
		domainSet:  domainSet,
		allowed:    cfg.Mailbox.AllowedDomains,
		ttl:        cfg.Mailbox.TTL,
		validator:  domain.NewEmailValidator(),
		now:        time.Now,
		localPart:  randomLocalPart,
		dispatcher: &dispatcher{log: log},
		log:        log,
	}
}

// SetClock 替换时间源（测试使用）
func (s *RegistryService) SetClock(now func() time.Time) {
	s.now = now
}

// SetSubmitter 设置回调的异步执行器
func (s *RegistryService) SetSubmitter(submitter Submitter) {
	s.dispatcher.submitter = submitter
}

// OnCreate 注册地址创建回调
func (s *RegistryService) OnCreate(listener AddressListener) {
	s.listeners = append(s.listeners, listener)
}

// Domain 默认域名
func (s *RegistryService) Domain() string { return s.domain }

// AllowedDomains 允许生成地址的域名
func (s *RegistryService) AllowedDomains() []string { return s.allowed }

// TTL 地址生存时间
func (s *RegistryService) TTL() time.Duration { return s.ttl }

// Generate 生成新的一次性地址。
//
// 本地部分随机生成，依赖存储层唯一约束发现冲突，
// 冲突时重试，MaxGenerateAttempts 次均冲突返回 ErrAddressGenerationExhausted。
func (s *RegistryService) Generate(ctx context.Context, domainName string) (*domain.Address, error) {
	selected, err := s.pickDomain(domainName)
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= MaxGenerateAttempts; attempt++ {
		localPart := s.localPart()
		address := localPart + "@" + selected
		if err := s.validator.ValidateEmail(address); err != nil {
			return nil, err
		}

		now := s.now().UTC()
		addr := &domain.Address{
			ID:             uuid.NewString(),
			Address:        address,
			LocalPart:      localPart,
			Domain:         selected,
			CreatedAt:      now,
			ExpiresAt:      now.Add(s.ttl),
			IsActive:       true,
			LastAccessedAt: now,
		}

		err := s.repo.CreateAddress(ctx, addr)
		if err == nil {
			s.notify(*addr)
			return addr, nil
		}
		if !errors.Is(err, storage.ErrDuplicateAddress) {
			return nil, classify(err)
		}
		s.log.Debug("address collision, retrying",
			zap.String("address", address),
			zap.Int("attempt", attempt),
		)
	}

	s.log.Warn("address generation exhausted",
		zap.String("domain", selected),
		zap.Int("attempts", MaxGenerateAttempts),
	)
	return nil, domain.ErrAddressGenerationExhausted
}

// Lookup 按地址查找激活的记录，大小写不敏感。已过期但未回收的地址也会返回。
func (s *RegistryService) Lookup(ctx context.Context, address string) (*domain.Address, error) {
	normalized := domain.NormalizeAddress(address)
	if normalized == "" {
		return nil, storage.ErrAddressNotFound
	}
	addr, err := s.repo.GetAddress(ctx, normalized)
	if err != nil {
		return nil, classify(err)
	}
	return addr, nil
}

// Touch 更新最近访问时间，失败只记录日志
func (s *RegistryService) Touch(ctx context.Context, address string) {
	if err := s.repo.TouchAddress(ctx, domain.NormalizeAddress(address), s.now().UTC()); err != nil {
		s.log.Warn("failed to touch address", zap.String("address", address), zap.Error(err))
	}
}

// IsExpired 判断地址当前是否已过期
func (s *RegistryService) IsExpired(addr *domain.Address) bool {
	return addr.IsExpired(s.now())
}

// Deactivate 将地址标记为非激活，幂等
func (s *RegistryService) Deactivate(ctx context.Context, address string) error {
	return classify(s.repo.DeactivateAddress(ctx, domain.NormalizeAddress(address)))
}

// Resolve 为入站邮件解析收件地址。
// 不存在返回 ErrUnknownRecipient，已过期返回 ErrRecipientExpired。
func (s *RegistryService) Resolve(ctx context.Context, address string) (*domain.Address, error) {
	addr, err := s.Lookup(ctx, address)
	if errors.Is(err, storage.ErrAddressNotFound) {
		return nil, domain.ErrUnknownRecipient
	}
	if err != nil {
		return nil, err
	}
	if s.IsExpired(addr) {
		return nil, domain.ErrRecipientExpired
	}
	return addr, nil
}

// Open 客户端读取邮箱时调用。
// 已过期的地址会被立即停用并返回 ErrRecipientExpired，未过期的地址刷新访问时间。
func (s *RegistryService) Open(ctx context.Context, address string) (*domain.Address, error) {
	addr, err := s.Lookup(ctx, address)
	if err != nil {
		return nil, err
	}
	if s.IsExpired(addr) {
		if err := s.Deactivate(ctx, addr.Address); err != nil {
			s.log.Warn("failed to deactivate expired address", zap.String("address", addr.Address), zap.Error(err))
		}
		return nil, domain.ErrRecipientExpired
	}
	s.Touch(ctx, addr.Address)
	addr.LastAccessedAt = s.now().UTC()
	return addr, nil
}

// pickDomain 选择生成地址使用的域名
func (s *RegistryService) pickDomain(requested string) (string, error) {
	requested = strings.ToLower(strings.TrimSpace(requested))
	if requested == "" {
		return s.domain, nil
	}
	if _, ok := s.domainSet[requested]; !ok {
		return "", domain.ErrDomainNotAllowed
	}
	return requested, nil
}

func (s *RegistryService) notify(addr domain.Address) {
	for _, listener := range s.listeners {
		listener := listener
		s.dispatcher.run("address.created", func() { listener(addr) })
	}
}

// randomLocalPart 取随机 UUID 去掉连字符后的前 12 位
func randomLocalPart() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:localPartLength]
}
