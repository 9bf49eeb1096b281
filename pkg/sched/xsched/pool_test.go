package xsched

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestPool_OptionValidation(t *testing.T) {
	_, err := New(WithMinWorkers(-1))
	assert.ErrorIs(t, err, ErrInvalidWorkerBounds)

	_, err = New(WithMinWorkers(10), WithMaxWorkers(5))
	assert.ErrorIs(t, err, ErrInvalidWorkerBounds)

	_, err = New(WithMaxWorkers(0))
	assert.ErrorIs(t, err, ErrInvalidWorkerBounds)

	_, err = New(WithIdleTimeout(-time.Second))
	assert.ErrorIs(t, err, ErrInvalidIdleTimeout)
}

func TestPool_SubmitCompletes(t *testing.T) {
	p := newTestPool(t, WithName("basic"))
	assert.Equal(t, "basic", p.Name())
	assert.True(t, p.IsRunning())

	f, err := p.Submit(func(_ context.Context, state any) (any, error) {
		return state.(string) + " world", nil
	}, WithState("hello"))
	require.NoError(t, err)

	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello world", v)
}

func TestPool_MinWorkersPrewarmed(t *testing.T) {
	p := newTestPool(t, WithMinWorkers(3), WithMaxWorkers(8))

	st := p.Stats()
	assert.Equal(t, 3, st.Workers)
	assert.Equal(t, 3, st.IdleWorkers)
	assert.Equal(t, 3, p.MinWorkers())
	assert.Equal(t, 8, p.MaxWorkers())
}

func TestPool_ScalesToMaxThenQueues(t *testing.T) {
	p := newTestPool(t, WithMaxWorkers(2))

	release := make(chan struct{})
	var running atomic.Int32
	for i := 0; i < 5; i++ {
		_, err := p.Submit(func(_ context.Context, _ any) (any, error) {
			running.Add(1)
			<-release
			running.Add(-1)
			return nil, nil
		})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return running.Load() == 2 }, time.Second, time.Millisecond)
	st := p.Stats()
	assert.Equal(t, 2, st.Workers)
	assert.Equal(t, 3, st.Queued)
	assert.Equal(t, 3, st.QueuedByPri[PriorityNormal])

	close(release)
	assert.True(t, p.WaitForIdleTimeout(2*time.Second))
	assert.Equal(t, int64(5), p.Stats().Finished)
}

func TestPool_SharedQueuePriorityOrder(t *testing.T) {
	p := newTestPool(t, WithMaxWorkers(1))

	block := make(chan struct{})
	_, err := p.Submit(func(_ context.Context, _ any) (any, error) {
		<-block
		return nil, nil
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return p.Stats().Workers == 1 }, time.Second, time.Millisecond)

	order := make(chan Priority, 3)
	for _, pri := range []Priority{PriorityLowest, PriorityHighest, PriorityNormal} {
		pri := pri
		_, err := p.Submit(func(_ context.Context, _ any) (any, error) {
			order <- pri
			return nil, nil
		}, WithPriority(pri))
		require.NoError(t, err)
	}

	close(block)
	require.True(t, p.WaitForIdleTimeout(2*time.Second))

	assert.Equal(t, PriorityHighest, <-order)
	assert.Equal(t, PriorityNormal, <-order)
	assert.Equal(t, PriorityLowest, <-order)
}

func TestPool_WorkerReuse(t *testing.T) {
	p := newTestPool(t, WithMaxWorkers(4))

	// 串行提交应复用同一个热 worker，而不是每次新建。
	// 先等 worker 停靠再提交下一个，排除完成与停靠之间的窗口。
	for i := 0; i < 10; i++ {
		f, err := p.Submit(noopCallback)
		require.NoError(t, err)
		_, werr := f.Wait(context.Background())
		require.NoError(t, werr)
		require.Eventually(t, func() bool {
			return p.Stats().IdleWorkers == 1
		}, time.Second, time.Millisecond)
	}

	assert.Equal(t, 1, p.Stats().Workers)
}

func TestPool_IdleWorkerRetirement(t *testing.T) {
	p := newTestPool(t, WithMinWorkers(1), WithMaxWorkers(4),
		WithIdleTimeout(50*time.Millisecond))

	var eg errgroup.Group
	release := make(chan struct{})
	for i := 0; i < 4; i++ {
		f, err := p.Submit(func(_ context.Context, _ any) (any, error) {
			<-release
			return nil, nil
		})
		require.NoError(t, err)
		eg.Go(func() error {
			_, werr := f.Wait(context.Background())
			return werr
		})
	}
	require.Eventually(t, func() bool { return p.Stats().Workers == 4 }, time.Second, time.Millisecond)

	close(release)
	require.NoError(t, eg.Wait())

	// 空闲超时后缩容到下限
	require.Eventually(t, func() bool {
		return p.Stats().Workers == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPool_AbortDetachesWorker(t *testing.T) {
	p := newTestPool(t, WithMaxWorkers(1))

	blocked := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	f, err := p.Submit(func(_ context.Context, _ any) (any, error) {
		close(blocked)
		<-release
		return "ignored", nil
	})
	require.NoError(t, err)
	<-blocked

	// 放弃式取消：等待者立即被唤醒，结果为取消
	assert.True(t, f.Cancel(true))
	v, werr := f.WaitTimeout(time.Second)
	assert.Nil(t, v)
	assert.ErrorIs(t, werr, ErrCanceled)

	// 被摘除的 worker 不占名额，上限为 1 仍能执行新工作项
	f2, err := p.Submit(noopCallback)
	require.NoError(t, err)
	_, werr = f2.WaitTimeout(time.Second)
	assert.NoError(t, werr)

	// worker 数量回到取消前水平
	require.Eventually(t, func() bool {
		return p.Stats().Workers == 1
	}, time.Second, 5*time.Millisecond)
}

func TestPool_AbortRestoresMinWorkers(t *testing.T) {
	p := newTestPool(t, WithMinWorkers(2), WithMaxWorkers(4))

	blocked := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	f, err := p.Submit(func(_ context.Context, _ any) (any, error) {
		close(blocked)
		<-release
		return nil, nil
	})
	require.NoError(t, err)
	<-blocked

	require.True(t, f.Cancel(true))

	// 摘除 worker 后即便共享队列为空，数量也立即补回下限
	require.Eventually(t, func() bool {
		return p.Stats().Workers >= 2
	}, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, p.Stats().Workers, p.MinWorkers())
}

func TestPool_AbortDiscardsLateResult(t *testing.T) {
	p := newTestPool(t)

	release := make(chan struct{})
	f, err := p.Submit(func(_ context.Context, _ any) (any, error) {
		<-release
		return "late", nil
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.State() == StateInProgress }, time.Second, time.Millisecond)

	f.Cancel(true)
	close(release)

	// 回调跑完后其返回值被丢弃，终态保持 Canceled
	time.Sleep(20 * time.Millisecond)
	res, ok := f.TryResult()
	require.True(t, ok)
	assert.Equal(t, StateCanceled, res.State)
	assert.Nil(t, res.Value)
}

func TestPool_CancelAll(t *testing.T) {
	p := newTestPool(t, WithMaxWorkers(1))

	started := make(chan struct{})
	f1, err := p.Submit(func(ctx context.Context, _ any) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)
	<-started

	f2, err := p.Submit(noopCallback)
	require.NoError(t, err)

	g, err := p.NewGroup("cg", WithConcurrency(0))
	require.NoError(t, err)
	f3, err := g.Submit(noopCallback)
	require.NoError(t, err)

	p.Cancel(false)

	for _, f := range []*Future{f1, f2, f3} {
		_, werr := f.WaitTimeout(2 * time.Second)
		assert.ErrorIs(t, werr, ErrCanceled)
	}
	assert.True(t, p.WaitForIdleTimeout(2*time.Second))
}

func TestPool_WaitForIdle(t *testing.T) {
	p := newTestPool(t)

	// 新引擎即空闲
	assert.True(t, p.WaitForIdleTimeout(time.Millisecond))

	release := make(chan struct{})
	_, err := p.Submit(func(_ context.Context, _ any) (any, error) {
		<-release
		return nil, nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !p.WaitForIdleTimeout(0) }, time.Second, time.Millisecond)

	close(release)
	assert.True(t, p.WaitForIdleTimeout(2*time.Second))
}

func TestPool_ShutdownGraceful(t *testing.T) {
	p, err := New(WithMaxWorkers(1))
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	running, err := p.Submit(func(_ context.Context, _ any) (any, error) {
		close(started)
		<-release
		return "finished", nil
	})
	require.NoError(t, err)
	<-started

	queued, err := p.Submit(noopCallback)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- p.Shutdown(context.Background())
	}()

	// 排队未执行的被取消
	_, werr := queued.WaitTimeout(time.Second)
	assert.ErrorIs(t, werr, ErrCanceled)

	// 执行中的自然结束，Shutdown 等它
	select {
	case <-done:
		t.Fatal("Shutdown 不应在回调结束前返回")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-done)

	v, werr := running.WaitTimeout(time.Second)
	assert.NoError(t, werr)
	assert.Equal(t, "finished", v)

	// 关停后拒绝提交，重复关停报错
	_, err = p.Submit(noopCallback)
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.ErrorIs(t, p.Shutdown(context.Background()), ErrNotRunning)
	assert.False(t, p.IsRunning())
}

func TestPool_ShutdownTimeout(t *testing.T) {
	p, err := New(WithMaxWorkers(1))
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	_, err = p.Submit(func(_ context.Context, _ any) (any, error) {
		close(started)
		<-release
		return nil, nil
	})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Shutdown(ctx), context.DeadlineExceeded)

	// 放行后 worker 自然退出
	close(release)
	require.Eventually(t, func() bool { return p.Stats().Workers == 0 }, 2*time.Second, time.Millisecond)
}

func TestPool_ShutdownNow(t *testing.T) {
	p, err := New(WithMaxWorkers(2))
	require.NoError(t, err)

	started := make(chan struct{})
	f1, err := p.Submit(func(ctx context.Context, _ any) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)
	<-started

	g, err := p.NewGroup("ng", WithConcurrency(0))
	require.NoError(t, err)
	f2, err := g.Submit(noopCallback)
	require.NoError(t, err)

	p.ShutdownNow()

	_, werr := f1.WaitTimeout(time.Second)
	assert.ErrorIs(t, werr, ErrCanceled)
	_, werr = f2.WaitTimeout(time.Second)
	assert.ErrorIs(t, werr, ErrCanceled)
	assert.False(t, p.IsRunning())
}

func TestPool_SetWorkerBounds(t *testing.T) {
	p := newTestPool(t, WithMinWorkers(1), WithMaxWorkers(4))

	assert.ErrorIs(t, p.SetMinWorkers(-1), ErrInvalidWorkerBounds)
	assert.ErrorIs(t, p.SetMinWorkers(5), ErrInvalidWorkerBounds)
	assert.ErrorIs(t, p.SetMaxWorkers(0), ErrInvalidWorkerBounds)

	require.NoError(t, p.SetMinWorkers(3))
	assert.Equal(t, 3, p.Stats().Workers)

	// 调低上限时多余的空闲 worker 退休
	require.NoError(t, p.SetMinWorkers(1))
	require.NoError(t, p.SetMaxWorkers(2))
	require.Eventually(t, func() bool { return p.Stats().Workers <= 2 }, time.Second, time.Millisecond)
}

func TestPool_DoubleEnqueueRejected(t *testing.T) {
	p := newTestPool(t)

	item, err := NewWorkItem(noopCallback)
	require.NoError(t, err)
	require.NoError(t, p.Enqueue(item))
	assert.ErrorIs(t, p.Enqueue(item), ErrItemNotOwned)

	_, werr := item.Future().Wait(context.Background())
	assert.NoError(t, werr)
}

func TestPool_RejectedItemStaysUnowned(t *testing.T) {
	stopped, err := New(WithName("stopped"))
	require.NoError(t, err)
	require.NoError(t, stopped.Shutdown(context.Background()))

	item, err := NewWorkItem(noopCallback)
	require.NoError(t, err)
	require.ErrorIs(t, stopped.Enqueue(item), ErrNotRunning)

	// 被拒收的工作项未被标记归属，可改投其他引擎
	p := newTestPool(t)
	require.NoError(t, p.Enqueue(item))
	_, werr := item.Future().WaitTimeout(time.Second)
	assert.NoError(t, werr)
}

func TestPool_ConcurrentSubmitters(t *testing.T) {
	p := newTestPool(t, WithMaxWorkers(8))

	var completed atomic.Int32
	var eg errgroup.Group
	const n = 200
	for i := 0; i < n; i++ {
		eg.Go(func() error {
			f, err := p.Submit(func(_ context.Context, _ any) (any, error) {
				completed.Add(1)
				return nil, nil
			})
			if err != nil {
				return err
			}
			_, werr := f.Wait(context.Background())
			return werr
		})
	}
	require.NoError(t, eg.Wait())
	assert.Equal(t, int32(n), completed.Load())
	assert.True(t, p.WaitForIdleTimeout(2*time.Second))

	st := p.Stats()
	assert.Equal(t, int64(n), st.Submitted)
	assert.Equal(t, int64(n), st.Finished)
	assert.LessOrEqual(t, st.Workers, 8)
}
