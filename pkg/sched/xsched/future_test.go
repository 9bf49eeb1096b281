package xsched

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuture_WaitReturnsValue(t *testing.T) {
	item, err := NewWorkItem(func(_ context.Context, _ any) (any, error) {
		return "hello", nil
	})
	require.NoError(t, err)

	go item.run(context.Background())

	v, err := item.Future().Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
	assert.Equal(t, StateCompleted, item.Future().State())
}

func TestFuture_WaitNilContext(t *testing.T) {
	item, err := NewWorkItem(noopCallback)
	require.NoError(t, err)

	_, err = item.Future().Wait(nil) //nolint:staticcheck // 验证 nil ctx 防御
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestFuture_WaitTimeout(t *testing.T) {
	item, err := NewWorkItem(noopCallback)
	require.NoError(t, err)

	// 未完成时超时
	start := time.Now()
	_, err = item.Future().WaitTimeout(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrWaitTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	// 非正时长是一次非阻塞探测
	_, err = item.Future().WaitTimeout(0)
	assert.ErrorIs(t, err, ErrWaitTimeout)

	item.run(context.Background())
	_, err = item.Future().WaitTimeout(0)
	assert.NoError(t, err)
}

func TestFuture_TryResult(t *testing.T) {
	item, err := NewWorkItem(noopCallback)
	require.NoError(t, err)

	_, ok := item.Future().TryResult()
	assert.False(t, ok)

	item.run(context.Background())

	res, ok := item.Future().TryResult()
	assert.True(t, ok)
	assert.Equal(t, StateCompleted, res.State)
}

func TestFuture_DoneChannel(t *testing.T) {
	item, err := NewWorkItem(noopCallback)
	require.NoError(t, err)

	select {
	case <-item.Future().Done():
		t.Fatal("未完成的 Done channel 不应就绪")
	default:
	}

	item.run(context.Background())

	select {
	case <-item.Future().Done():
	case <-time.After(time.Second):
		t.Fatal("完成后 Done channel 应当关闭")
	}
}

func TestFuture_OnComplete(t *testing.T) {
	item, err := NewWorkItem(func(_ context.Context, _ any) (any, error) {
		return 7, nil
	})
	require.NoError(t, err)

	got := make(chan Result, 2)
	item.Future().OnComplete(func(res Result) { got <- res })

	item.run(context.Background())

	select {
	case res := <-got:
		assert.Equal(t, 7, res.Value)
	case <-time.After(time.Second):
		t.Fatal("完成回调未触发")
	}

	// 完成后注册的回调立即触发
	item.Future().OnComplete(func(res Result) { got <- res })
	select {
	case res := <-got:
		assert.Equal(t, 7, res.Value)
	case <-time.After(time.Second):
		t.Fatal("补注册的完成回调未触发")
	}
}

func TestFuture_ManyWaiters(t *testing.T) {
	item, err := NewWorkItem(func(_ context.Context, _ any) (any, error) {
		return "shared", nil
	})
	require.NoError(t, err)

	var woken atomic.Int32
	const waiters = 8
	done := make(chan struct{})
	for i := 0; i < waiters; i++ {
		go func() {
			v, werr := item.Future().Wait(context.Background())
			if werr == nil && v == "shared" {
				if woken.Add(1) == waiters {
					close(done)
				}
			}
		}()
	}

	item.run(context.Background())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("只有 %d/%d 个等待者被唤醒", woken.Load(), waiters)
	}
}

func TestFuture_CancelDelegates(t *testing.T) {
	item, err := NewWorkItem(noopCallback)
	require.NoError(t, err)

	assert.True(t, item.Future().Cancel(false))
	assert.Equal(t, StateCanceled, item.State())

	_, werr := item.Future().Wait(context.Background())
	assert.ErrorIs(t, werr, ErrCanceled)
}

func TestFuture_WaitContextCanceled(t *testing.T) {
	item, err := NewWorkItem(noopCallback)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, werr := item.Future().Wait(ctx)
	assert.ErrorIs(t, werr, ErrWaitTimeout)
	assert.ErrorIs(t, werr, context.Canceled)
}
