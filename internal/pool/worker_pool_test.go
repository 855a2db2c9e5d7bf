package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWorkerPool(t *testing.T) {
	t.Run("执行全部任务", func(t *testing.T) {
		p := NewWorkerPool(4, 100, zap.NewNop())
		p.Start(context.Background())

		var count atomic.Int32
		for i := 0; i < 50; i++ {
			require.NoError(t, p.Submit(context.Background(), func() { count.Add(1) }))
		}
		p.Stop()

		assert.Equal(t, int32(50), count.Load())
	})

	t.Run("队列满时TrySubmit返回false", func(t *testing.T) {
		p := NewWorkerPool(1, 1, zap.NewNop())
		// 未启动 worker，队列只能容纳一个任务
		assert.True(t, p.TrySubmit(func() {}))
		assert.False(t, p.TrySubmit(func() {}))
		assert.Equal(t, 1, p.Pending())
	})

	t.Run("任务panic不影响后续任务", func(t *testing.T) {
		p := NewWorkerPool(1, 10, zap.NewNop())
		var panics atomic.Int32
		p.OnPanic(func() { panics.Add(1) })
		p.Start(context.Background())

		var wg sync.WaitGroup
		wg.Add(1)
		require.True(t, p.TrySubmit(func() { panic("boom") }))
		require.True(t, p.TrySubmit(func() { wg.Done() }))
		wg.Wait()
		p.Stop()

		assert.Equal(t, int32(1), panics.Load())
	})

	t.Run("重复Stop不会panic", func(t *testing.T) {
		p := NewWorkerPool(2, 2, nil)
		p.Start(context.Background())
		p.Stop()
		assert.NotPanics(t, p.Stop)
	})

	t.Run("Submit在ctx取消后返回", func(t *testing.T) {
		p := NewWorkerPool(1, 0, zap.NewNop())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, p.Submit(ctx, func() {}), context.Canceled)
	})
}
