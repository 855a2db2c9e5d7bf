// Package health 提供存活/就绪探针与汇总健康报告。
package health

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Status 健康状态
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const (
	checkTimeout       = 2 * time.Second
	maxGoroutines      = 10000
	goroutineCheckName = "goroutine-threshold"
)

// CheckFunc 依赖探测函数
type CheckFunc func(ctx context.Context) error

// CheckResult 单项检查结果
type CheckResult struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Critical bool          `json:"critical"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report 健康报告
type Report struct {
	Status     Status        `json:"status"`
	Timestamp  time.Time     `json:"timestamp"`
	Uptime     time.Duration `json:"uptime"`
	Version    string        `json:"version"`
	Goroutines int           `json:"goroutines"`
	Checks     []CheckResult `json:"checks"`
}

type check struct {
	name     string
	critical bool
	fn       CheckFunc
}

// HealthChecker 健康检查器。
// 关键依赖失败时就绪探针失败，非关键依赖失败只让报告降级。
type HealthChecker struct {
	handler   healthcheck.Handler
	checks    []check
	mu        sync.RWMutex
	logger    *zap.Logger
	startTime time.Time
	version   string
}

// NewHealthChecker 创建健康检查器，探针结果同时注册为 Prometheus 指标
func NewHealthChecker(registry prometheus.Registerer, version string, logger *zap.Logger) *HealthChecker {
	var handler healthcheck.Handler
	if registry != nil {
		handler = healthcheck.NewMetricsHandler(registry, "burnbox")
	} else {
		handler = healthcheck.NewHandler()
	}
	handler.AddLivenessCheck(goroutineCheckName, healthcheck.GoroutineCountCheck(maxGoroutines))

	return &HealthChecker{
		handler:   handler,
		logger:    logger,
		startTime: time.Now(),
		version:   version,
	}
}

// AddCheck 注册依赖检查。critical 为 true 时参与就绪探针。
func (hc *HealthChecker) AddCheck(name string, critical bool, fn CheckFunc) {
	hc.mu.Lock()
	hc.checks = append(hc.checks, check{name: name, critical: critical, fn: fn})
	hc.mu.Unlock()

	if critical {
		hc.handler.AddReadinessCheck(name, healthcheck.Timeout(func() error {
			return fn(context.Background())
		}, checkTimeout))
	}
}

// LiveEndpoint 存活探针
func (hc *HealthChecker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.handler.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪探针
func (hc *HealthChecker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.handler.ReadyEndpoint(w, r)
}

// CheckHealth 并发执行全部检查并汇总
func (hc *HealthChecker) CheckHealth(ctx context.Context) *Report {
	hc.mu.RLock()
	checks := append([]check(nil), hc.checks...)
	hc.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, c check) {
			defer wg.Done()
			results[i] = hc.run(ctx, c)
		}(i, c)
	}
	wg.Wait()

	report := &Report{
		Status:     StatusHealthy,
		Timestamp:  time.Now().UTC(),
		Uptime:     time.Since(hc.startTime),
		Version:    hc.version,
		Goroutines: runtime.NumGoroutine(),
		Checks:     results,
	}
	for _, r := range results {
		switch {
		case r.Status == StatusUnhealthy && r.Critical:
			report.Status = StatusUnhealthy
		case r.Status == StatusUnhealthy && report.Status == StatusHealthy:
			report.Status = StatusDegraded
		}
	}
	return report
}

func (hc *HealthChecker) run(ctx context.Context, c check) (result CheckResult) {
	start := time.Now()
	result = CheckResult{Name: c.name, Status: StatusHealthy, Critical: c.critical}
	defer func() {
		if p := recover(); p != nil {
			result.Status = StatusUnhealthy
			result.Message = "check panicked"
			hc.logger.Error("Health check panicked", zap.String("check", c.name), zap.Any("panic", p))
		}
		result.Duration = time.Since(start)
	}()

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if err := c.fn(ctx); err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
		hc.logger.Warn("Health check failed", zap.String("check", c.name), zap.Error(err))
	}
	return result
}
