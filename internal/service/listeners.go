package service

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"burnbox/backend/internal/domain"
	"burnbox/backend/internal/storage"
)

// Submitter 异步执行任务，队列满时返回 false。pool.WorkerPool 实现了该接口。
type Submitter interface {
	TrySubmit(task func()) bool
}

// AddressListener 地址创建成功后的回调
type AddressListener func(addr domain.Address)

// MessageListener 邮件保存成功后的回调
type MessageListener func(msg domain.Message)

// dispatcher 将回调交给 Submitter 执行，未设置时同步执行
type dispatcher struct {
	submitter Submitter
	log       *zap.Logger
}

func (d *dispatcher) run(event string, task func()) {
	if d.submitter == nil {
		task()
		return
	}
	if !d.submitter.TrySubmit(task) {
		d.log.Warn("listener queue full, notification dropped", zap.String("event", event))
	}
}

// classify 将存储层错误归类，未识别的错误一律视为存储不可用
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		storage.ErrAddressNotFound,
		storage.ErrMessageNotFound,
		storage.ErrDuplicateMessageID,
		storage.ErrDuplicateAddress,
		domain.ErrStoreUnavailable,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}
