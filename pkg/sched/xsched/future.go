package xsched

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Future 是工作项的结果桥：在阻塞等待与一次性异步完成通知之间
// 复用同一个终态事件。由所属 WorkItem 独占持有，通过 Submit 系列
// 方法或 WorkItem.Future() 获得。
//
// 完成恰好发生一次；所有等待者观察到同一个 Result。
type Future struct {
	item *WorkItem

	mu        sync.Mutex
	done      chan struct{}
	result    Result
	completed bool
	callbacks []func(Result)
}

// newFuture 创建未完成的结果桥。
func newFuture(item *WorkItem) *Future {
	return &Future{
		item: item,
		done: make(chan struct{}),
	}
}

// Done 返回完成信号 channel。
// 工作项进入终态时该 channel 被关闭，可用于 select。
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// TryResult 非阻塞读取结果。
// 工作项尚未进入终态时返回 (Result{}, false)。
func (f *Future) TryResult() (Result, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.completed
}

// Wait 阻塞直到工作项进入终态或 ctx 结束。
//
// 返回值约定：
//   - 正常完成: (回调产出值, nil)
//   - 回调失败: (nil, 回调错误或 *PanicError)
//   - 已取消:   (nil, ErrCanceled)，过期时为 ErrExpired
//   - ctx 结束: (nil, 包装 ErrWaitTimeout 的错误)；不取消底层工作项
//
// 工作项已进入终态时立即返回，可重复调用，结果幂等。
func (f *Future) Wait(ctx context.Context) (any, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	select {
	case <-f.done:
		return f.unpack()
	case <-ctx.Done():
		// done 与 ctx 同时就绪时优先返回结果
		select {
		case <-f.done:
			return f.unpack()
		default:
		}
		return nil, fmt.Errorf("%w: %w", ErrWaitTimeout, ctx.Err())
	}
}

// WaitTimeout 是 Wait 的便捷形式，以固定时长为界。
// d <= 0 表示非阻塞检查：未完成时立即返回 ErrWaitTimeout。
func (f *Future) WaitTimeout(d time.Duration) (any, error) {
	if d <= 0 {
		select {
		case <-f.done:
			return f.unpack()
		default:
			return nil, ErrWaitTimeout
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return f.Wait(ctx)
}

// OnComplete 注册一次性完成回调。
// 工作项进入终态时由完成它的 goroutine 调用；注册时如已完成则
// 在当前 goroutine 立即调用。回调不应执行耗时操作，
// 否则会拖慢 worker 或注册方。
func (f *Future) OnComplete(fn func(Result)) {
	if fn == nil {
		return
	}
	f.mu.Lock()
	if f.completed {
		res := f.result
		f.mu.Unlock()
		fn(res)
		return
	}
	f.callbacks = append(f.callbacks, fn)
	f.mu.Unlock()
}

// Cancel 请求取消所属工作项，语义见 WorkItem.Cancel。
func (f *Future) Cancel(abort bool) bool {
	return f.item.Cancel(abort)
}

// State 返回所属工作项的当前状态。
func (f *Future) State() State {
	return f.item.State()
}

// complete 发布终态结果。恰好生效一次；重复调用被忽略。
// 返回是否由本次调用完成。
func (f *Future) complete(res Result) bool {
	f.mu.Lock()
	if f.completed {
		f.mu.Unlock()
		return false
	}
	f.result = res
	f.completed = true
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, fn := range callbacks {
		fn(res)
	}
	return true
}

// unpack 将已发布的 Result 展开为 Wait 的返回值形式。
func (f *Future) unpack() (any, error) {
	f.mu.Lock()
	res := f.result
	f.mu.Unlock()
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Value, nil
}
