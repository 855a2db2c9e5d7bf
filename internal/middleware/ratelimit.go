package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Counter 固定窗口计数器，redis.Cache 实现了该接口
type Counter interface {
	IncrementRateLimit(ctx context.Context, scope, key string, window time.Duration) (int64, error)
}

// BlockRecorder 记录被限流的请求
type BlockRecorder interface {
	RecordRateLimitBlock(scope string)
}

const rateLimitScope = "http"

// RateLimiter 按客户端 IP 限流。
// 配置了 Counter 时使用共享的固定窗口计数，否则使用进程内令牌桶。
type RateLimiter struct {
	requests int
	window   time.Duration
	counter  Counter
	recorder BlockRecorder
	log      *zap.Logger

	mu       sync.Mutex
	limiters map[string]*localEntry
	now      func() time.Time
}

type localEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter 创建限流器，requests <= 0 时不限流
func NewRateLimiter(requests int, window time.Duration, counter Counter, log *zap.Logger) *RateLimiter {
	return &RateLimiter{
		requests: requests,
		window:   window,
		counter:  counter,
		log:      log,
		limiters: make(map[string]*localEntry),
		now:      time.Now,
	}
}

// SetRecorder 设置限流指标记录器
func (l *RateLimiter) SetRecorder(rec BlockRecorder) {
	l.recorder = rec
}

// Allow 判断该 IP 是否还能继续请求，返回剩余次数（进程内模式下为 -1）
func (l *RateLimiter) Allow(ctx context.Context, ip string) (bool, int) {
	if l.requests <= 0 {
		return true, -1
	}
	if l.counter != nil {
		n, err := l.counter.IncrementRateLimit(ctx, rateLimitScope, ip, l.window)
		if err == nil {
			return n <= int64(l.requests), max(l.requests-int(n), 0)
		}
		l.log.Warn("shared rate limit unavailable, falling back to local limiter", zap.Error(err))
	}
	return l.local(ip).Allow(), -1
}

func (l *RateLimiter) local(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.limiters[ip]
	if !ok {
		every := l.window / time.Duration(l.requests)
		entry = &localEntry{limiter: rate.NewLimiter(rate.Every(every), l.requests)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = l.now()
	return entry.limiter
}

// Prune 清理长时间未出现的 IP
func (l *RateLimiter) Prune(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	removed := 0
	for ip, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
			removed++
		}
	}
	return removed
}

// Run 定期清理本地限流器，ctx 结束时返回
func (l *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune(l.window)
		}
	}
}

// Middleware 返回 gin 中间件，超限时返回 429
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, remaining := l.Allow(c.Request.Context(), c.ClientIP())
		if remaining >= 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(l.requests))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		}
		if !allowed {
			if l.recorder != nil {
				l.recorder.RecordRateLimitBlock(rateLimitScope)
			}
			c.Header("Retry-After", strconv.Itoa(int(l.window.Seconds())))
			abort(c, http.StatusTooManyRequests, "请求过于频繁，请稍后再试")
			return
		}
		c.Next()
	}
}
