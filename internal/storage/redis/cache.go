package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"burnbox/backend/internal/domain"
)

// ErrCacheMiss 缓存未命中
var ErrCacheMiss = errors.New("cache miss")

const newMailPrefix = "new_mail:"

// Cache Redis 缓存实现
type Cache struct {
	rdb *goredis.Client
	log *zap.Logger
}

// NewCache 基于已连接的客户端创建缓存
func NewCache(client *Client) *Cache {
	return &Cache{
		rdb: client.rdb,
		log: client.log,
	}
}

func addressKey(address string) string {
	return "address:" + strings.ToLower(address)
}

func rateLimitKey(scope, key string) string {
	return fmt.Sprintf("ratelimit:%s:%s", scope, key)
}

func dedupKey(scope, id string) string {
	return fmt.Sprintf("dedup:%s:%s", scope, id)
}

func newMailChannel(address string) string {
	return newMailPrefix + strings.ToLower(address)
}

// AddressFromChannel 从通知频道名解析地址
func AddressFromChannel(channel string) string {
	return strings.TrimPrefix(channel, newMailPrefix)
}

// ========== 地址缓存 ==========

// CacheAddress 缓存地址信息
func (c *Cache) CacheAddress(ctx context.Context, addr *domain.Address, ttl time.Duration) error {
	data, err := json.Marshal(addr)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, addressKey(addr.Address), data, ttl).Err()
}

// GetCachedAddress 获取缓存的地址信息
func (c *Cache) GetCachedAddress(ctx context.Context, address string) (*domain.Address, error) {
	data, err := c.rdb.Get(ctx, addressKey(address)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}

	var addr domain.Address
	if err := json.Unmarshal(data, &addr); err != nil {
		return nil, err
	}
	return &addr, nil
}

// DeleteCachedAddress 删除缓存的地址信息
func (c *Cache) DeleteCachedAddress(ctx context.Context, addresses ...string) error {
	if len(addresses) == 0 {
		return nil
	}
	keys := make([]string, len(addresses))
	for i, a := range addresses {
		keys[i] = addressKey(a)
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// ========== 限流缓存 ==========

// IncrementRateLimit 增加限流计数，返回窗口内的累计次数
func (c *Cache) IncrementRateLimit(ctx context.Context, scope, key string, window time.Duration) (int64, error) {
	k := rateLimitKey(scope, key)

	count, err := c.rdb.Incr(ctx, k).Result()
	if err != nil {
		return 0, err
	}

	// 新窗口的第一次计数时设置过期时间
	if count == 1 {
		if err := c.rdb.Expire(ctx, k, window).Err(); err != nil {
			return count, err
		}
	}
	return count, nil
}

// ========== 去重 ==========

// AcquireOnce 首次出现返回 true，重复返回 false。
// Redis 不可用时放行。
func (c *Cache) AcquireOnce(ctx context.Context, scope, id string, ttl time.Duration) bool {
	key := dedupKey(scope, id)

	ok, err := c.rdb.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		c.log.Warn("redis dedup check failed, allowing processing",
			zap.String("scope", scope),
			zap.String("id", id),
			zap.Error(err),
		)
		return true
	}

	if !ok {
		c.log.Info("skipped duplicated delivery",
			zap.String("scope", scope),
			zap.String("dedup_key", key),
		)
	}
	return ok
}

// Release 删除去重键，处理失败后允许重投再次进入
func (c *Cache) Release(ctx context.Context, scope, id string) {
	if err := c.rdb.Del(ctx, dedupKey(scope, id)).Err(); err != nil {
		c.log.Warn("redis dedup release failed",
			zap.String("scope", scope),
			zap.String("id", id),
			zap.Error(err),
		)
	}
}

// ========== 发布订阅 ==========

// PublishNewMail 发布新邮件通知
func (c *Cache) PublishNewMail(ctx context.Context, address string, payload []byte) error {
	return c.rdb.Publish(ctx, newMailChannel(address), payload).Err()
}

// SubscribeNewMail 订阅全部地址的新邮件通知
func (c *Cache) SubscribeNewMail(ctx context.Context) *goredis.PubSub {
	return c.rdb.PSubscribe(ctx, newMailPrefix+"*")
}
