// Package scheduler 实现地址与邮件的定期回收任务。
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"burnbox/backend/internal/config"
	"burnbox/backend/internal/domain"
	"burnbox/backend/internal/storage"
)

// 回收步骤名称，按执行顺序排列
const (
	StepExpireAddresses  = "expire_addresses"
	StepPurgeDeleted     = "purge_deleted"
	StepPurgeAged        = "purge_aged"
	StepSoftDeleteOrphan = "soft_delete_orphans"
	StepRemoveInactive   = "remove_inactive"
	StepEnforceCap       = "enforce_cap"
)

// 周期结果
const (
	ResultOK          = "ok"
	ResultPartial     = "partial"
	ResultSkipped     = "skipped"
	ResultUnavailable = "unavailable"
)

// ErrCycleRunning 上一个周期仍在执行
var ErrCycleRunning = errors.New("reclamation cycle already running")

// Store 回收任务依赖的存储能力
type Store interface {
	storage.ReclaimRepository
	Health(ctx context.Context) error
}

// Recorder 回收指标记录器，*monitoring.Metrics 实现了该接口
type Recorder interface {
	RecordReclaimCycle(result string)
	RecordReclaimSkipped()
	RecordReclaimStep(step string, rows int64, duration time.Duration, err error)
	RecordAddressesReclaimed(n int)
	UpdateSystemStats(activeAddresses, totalMessages int64)
}

// StepResult 单个步骤的执行结果
type StepResult struct {
	Name     string        `json:"name"`
	Rows     int64         `json:"rows"`
	Batches  int           `json:"batches"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// CycleReport 一次回收周期的报告
type CycleReport struct {
	StartedAt  time.Time           `json:"startedAt"`
	FinishedAt time.Time           `json:"finishedAt"`
	Result     string              `json:"result"`
	Steps      []StepResult        `json:"steps"`
	Reclaimed  []string            `json:"reclaimedAddresses,omitempty"`
	Stats      *domain.SystemStats `json:"stats,omitempty"`
}

// Step 按名称查找步骤结果
func (r CycleReport) Step(name string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepResult{}, false
}

// Reclaimer 回收调度器。
//
// 同一时刻最多运行一个周期：定时触发时若上一周期仍在执行，本次触发被丢弃而不是排队。
type Reclaimer struct {
	store    Store
	cfg      config.RetentionConfig
	log      *zap.Logger
	recorder Recorder
	now      func() time.Time

	running     atomic.Bool
	lastSuccess atomic.Int64
	wg          sync.WaitGroup

	mu        sync.RWMutex
	cron      *gocron.Scheduler
	last      *CycleReport
	listeners []func(CycleReport)
}

// NewReclaimer 创建回收调度器
func NewReclaimer(store Store, cfg config.RetentionConfig, log *zap.Logger) *Reclaimer {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 500
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 2 * time.Minute
	}
	return &Reclaimer{
		store:    store,
		cfg:      cfg,
		log:      log.Named("reclaimer"),
		recorder: nopRecorder{},
		now:      time.Now,
	}
}

// SetRecorder 设置指标记录器
func (r *Reclaimer) SetRecorder(rec Recorder) {
	if rec != nil {
		r.recorder = rec
	}
}

// SetClock 替换时间源（测试使用）
func (r *Reclaimer) SetClock(now func() time.Time) {
	r.now = now
}

// OnComplete 注册周期完成回调（不包括被跳过和存储不可用的周期）
func (r *Reclaimer) OnComplete(fn func(CycleReport)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Start 启动定时任务，首个周期在 initial_delay 之后执行
func (r *Reclaimer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return errors.New("reclaimer already started")
	}

	cron := gocron.NewScheduler(time.UTC)
	_, err := cron.Every(r.cfg.Interval).
		StartAt(time.Now().Add(r.cfg.InitialDelay)).
		Tag("reclaim").
		Do(func() { r.tick(ctx) })
	if err != nil {
		return fmt.Errorf("schedule reclamation: %w", err)
	}
	cron.StartAsync()
	r.cron = cron

	r.log.Info("Reclamation scheduler started",
		zap.Duration("interval", r.cfg.Interval),
		zap.Duration("initial_delay", r.cfg.InitialDelay),
		zap.Int("batch_size", r.cfg.BatchSize),
		zap.Int("max_messages", r.cfg.MaxMessages),
		zap.Duration("message_age", r.cfg.MessageAge),
	)
	return nil
}

// Stop 停止定时任务并等待正在执行的周期结束
func (r *Reclaimer) Stop() {
	r.mu.Lock()
	cron := r.cron
	r.cron = nil
	r.mu.Unlock()

	if cron != nil {
		cron.Stop()
	}
	r.wg.Wait()
	r.log.Info("Reclamation scheduler stopped")
}

// Running 是否有周期正在执行
func (r *Reclaimer) Running() bool {
	return r.running.Load()
}

// LastSuccess 最近一次全部步骤成功的周期结束时间，从未成功时为零值
func (r *Reclaimer) LastSuccess() time.Time {
	ns := r.lastSuccess.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// LastReport 最近一次执行完的周期报告
func (r *Reclaimer) LastReport() *CycleReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return nil
	}
	report := *r.last
	return &report
}

// ForceCycle 立即同步执行一个周期。已有周期在执行时返回 ErrCycleRunning。
func (r *Reclaimer) ForceCycle(ctx context.Context) (CycleReport, error) {
	r.log.Info("Forced reclamation cycle requested")
	return r.RunOnce(ctx)
}

func (r *Reclaimer) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, ErrCycleRunning) {
		r.log.Warn("Reclamation cycle did not run", zap.Error(err))
	}
}

// RunOnce 执行一个回收周期。
//
// 存储不可达时整个周期跳过，返回 ErrStoreUnavailable；各步骤相互隔离，某步失败只记录日志。
func (r *Reclaimer) RunOnce(ctx context.Context) (CycleReport, error) {
	if !r.running.CompareAndSwap(false, true) {
		r.recorder.RecordReclaimSkipped()
		r.log.Warn("Previous reclamation cycle still running, tick skipped")
		return CycleReport{Result: ResultSkipped}, ErrCycleRunning
	}
	r.wg.Add(1)
	defer func() {
		r.running.Store(false)
		r.wg.Done()
	}()

	report := CycleReport{StartedAt: r.now()}

	if err := r.ping(ctx); err != nil {
		report.Result = ResultUnavailable
		report.FinishedAt = r.now()
		r.recorder.RecordReclaimCycle(ResultUnavailable)
		r.log.Error("Store unavailable, reclamation cycle skipped", zap.Error(err))
		return report, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	now := report.StartedAt
	var expired []string

	report.Steps = append(report.Steps,
		r.runStep(ctx, StepExpireAddresses, func(ctx context.Context) (int64, int, error) {
			var err error
			var batches int
			expired, batches, err = r.drainAddresses(ctx, func(ctx context.Context) ([]string, error) {
				return r.store.DeleteExpiredAddresses(ctx, now, r.cfg.BatchSize)
			})
			r.recorder.RecordAddressesReclaimed(len(expired))
			return int64(len(expired)), batches, err
		}),
		r.runStep(ctx, StepPurgeDeleted, func(ctx context.Context) (int64, int, error) {
			return r.drain(ctx, func(ctx context.Context) (int64, error) {
				return r.store.PurgeDeletedMessages(ctx, r.cfg.BatchSize)
			})
		}),
		r.runStep(ctx, StepPurgeAged, func(ctx context.Context) (int64, int, error) {
			cutoff := now.Add(-r.cfg.MessageAge)
			return r.drain(ctx, func(ctx context.Context) (int64, error) {
				return r.store.PurgeMessagesBefore(ctx, cutoff, r.cfg.BatchSize)
			})
		}),
		r.runStep(ctx, StepSoftDeleteOrphan, func(ctx context.Context) (int64, int, error) {
			return r.softDeleteOrphans(ctx, expired)
		}),
	)

	var removed []string
	report.Steps = append(report.Steps,
		r.runStep(ctx, StepRemoveInactive, func(ctx context.Context) (int64, int, error) {
			var err error
			var batches int
			removed, batches, err = r.drainAddresses(ctx, func(ctx context.Context) ([]string, error) {
				return r.store.DeleteInactiveAddresses(ctx, r.cfg.BatchSize)
			})
			r.recorder.RecordAddressesReclaimed(len(removed))
			return int64(len(removed)), batches, err
		}),
		r.runStep(ctx, StepEnforceCap, r.enforceCap),
	)
	report.Reclaimed = append(expired, removed...)

	report.Result = ResultOK
	for _, step := range report.Steps {
		if step.Error != "" {
			report.Result = ResultPartial
			break
		}
	}

	if stats, err := r.store.SystemStats(ctx); err != nil {
		r.log.Warn("Failed to collect system stats", zap.Error(err))
	} else {
		stats = stats.WithAges(r.now())
		report.Stats = &stats
		r.recorder.UpdateSystemStats(stats.ActiveAddresses, stats.TotalMessages)
	}

	report.FinishedAt = r.now()
	r.recorder.RecordReclaimCycle(report.Result)
	if report.Result == ResultOK {
		r.lastSuccess.Store(report.FinishedAt.UnixNano())
	}

	r.mu.Lock()
	r.last = &report
	listeners := append([]func(CycleReport){}, r.listeners...)
	r.mu.Unlock()

	r.log.Info("Reclamation cycle finished",
		zap.String("result", report.Result),
		zap.Int("addresses_reclaimed", len(report.Reclaimed)),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	)

	for _, fn := range listeners {
		fn(report)
	}
	return report, nil
}

func (r *Reclaimer) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.StepTimeout)
	defer cancel()
	return r.store.Health(ctx)
}

// runStep 在独立超时下执行一个步骤，错误和 panic 都被限制在该步骤内
func (r *Reclaimer) runStep(ctx context.Context, name string, fn func(ctx context.Context) (int64, int, error)) (result StepResult) {
	stepCtx, cancel := context.WithTimeout(ctx, r.cfg.StepTimeout)
	defer cancel()

	start := time.Now()
	result.Name = name

	var err error
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
		result.Duration = time.Since(start)
		r.recorder.RecordReclaimStep(name, result.Rows, result.Duration, err)

		if err != nil {
			result.Error = err.Error()
			r.log.Error("Reclamation step failed",
				zap.String("step", name),
				zap.Int("batch", result.Batches),
				zap.Int("batch_size", r.cfg.BatchSize),
				zap.Int64("rows", result.Rows),
				zap.Error(err),
			)
			return
		}
		r.log.Debug("Reclamation step finished",
			zap.String("step", name),
			zap.Int("batches", result.Batches),
			zap.Int64("rows", result.Rows),
			zap.Duration("duration", result.Duration),
		)
	}()

	result.Rows, result.Batches, err = fn(stepCtx)
	return result
}

// drain 重复执行批量操作，直到某批处理的行数少于批大小
func (r *Reclaimer) drain(ctx context.Context, batch func(ctx context.Context) (int64, error)) (int64, int, error) {
	var total int64
	batches := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, batches, err
		}
		n, err := batch(ctx)
		batches++
		total += n
		if err != nil {
			return total, batches, fmt.Errorf("batch %d: %w", batches, err)
		}
		if n < int64(r.cfg.BatchSize) {
			return total, batches, nil
		}
	}
}

func (r *Reclaimer) drainAddresses(ctx context.Context, batch func(ctx context.Context) ([]string, error)) ([]string, int, error) {
	var all []string
	_, batches, err := r.drain(ctx, func(ctx context.Context) (int64, error) {
		addrs, err := batch(ctx)
		all = append(all, addrs...)
		return int64(len(addrs)), err
	})
	return all, batches, err
}

// softDeleteOrphans 软删除本周期过期地址的邮件，以及地址行已不存在的其余邮件
func (r *Reclaimer) softDeleteOrphans(ctx context.Context, expired []string) (int64, int, error) {
	var total int64
	batches := 0
	for start := 0; start < len(expired); start += r.cfg.BatchSize {
		end := min(start+r.cfg.BatchSize, len(expired))
		n, err := r.store.SoftDeleteMessagesFor(ctx, expired[start:end])
		batches++
		total += n
		if err != nil {
			return total, batches, fmt.Errorf("addresses %d-%d: %w", start, end, err)
		}
	}

	n, b, err := r.drain(ctx, func(ctx context.Context) (int64, error) {
		return r.store.SoftDeleteOrphanedMessages(ctx, r.cfg.BatchSize)
	})
	return total + n, batches + b, err
}

// enforceCap 对超过上限的地址只保留最新的 max_messages 封邮件。
// 计数在执行时重新统计，不依赖地址上的冗余计数。
func (r *Reclaimer) enforceCap(ctx context.Context) (int64, int, error) {
	over, err := r.store.AddressesOverCap(ctx, r.cfg.MaxMessages)
	if err != nil {
		return 0, 0, err
	}

	var total int64
	batches := 0
	var errs []error
	for _, address := range over {
		n, b, err := r.drain(ctx, func(ctx context.Context) (int64, error) {
			return r.store.SoftDeleteBeyondNewest(ctx, address, r.cfg.MaxMessages, r.cfg.BatchSize)
		})
		total += n
		batches += b
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", address, err))
			continue
		}
		if err := r.store.RecountMessages(ctx, address); err != nil && !errors.Is(err, storage.ErrAddressNotFound) {
			errs = append(errs, fmt.Errorf("recount %s: %w", address, err))
		}
	}
	return total, batches, errors.Join(errs...)
}

type nopRecorder struct{}

func (nopRecorder) RecordReclaimCycle(string) {}
func (nopRecorder) RecordReclaimSkipped() {}
func (nopRecorder) RecordReclaimStep(string, int64, time.Duration, error) {}
func (nopRecorder) RecordAddressesReclaimed(int) {}
func (nopRecorder) UpdateSystemStats(int64, int64) {}
