package xsched

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	retry "github.com/avast/retry-go/v5"
)

// itemSeq 全局工作项序号，同一优先级内用作先后次序的判定依据。
var itemSeq atomic.Uint64

// WorkItem 是单个可调度的工作单元：回调、优先级、状态载荷、
// 取消标记与结果桥的组合。
//
// 状态迁移是单调的（见 State），Execute 恰好执行一次回调。
// 工作项通过分组 ID 弱引用所属分组：分组销毁后引用解析失败，
// 完成通知被跳过，工作项不会延长分组的生命周期。
type WorkItem struct {
	id       uint64
	priority Priority
	callback Callback
	payload  any

	postExec      PostExecuteFunc
	postPolicy    CallPolicy
	expiresAt     time.Time
	retryAttempts uint
	retryDelay    time.Duration

	future *Future
	status atomic.Int32

	// 调度归属，Enqueue/dispatch 时填充
	pool     *Pool
	groupID  string
	admitted atomic.Bool

	mu         sync.Mutex
	cancelReq  bool               // 协作式取消已请求
	execCancel context.CancelFunc // InProgress 时回调 ctx 的取消函数
	abortHook  func()             // worker 注册的摘除钩子，放弃式取消时调用
	enqueuedAt time.Time
	startedAt  time.Time
	finishedAt time.Time
}

// NewWorkItem 构建工作项。
// callback 不能为 nil；选项校验失败时返回错误。
// 构建后的工作项通过 Group.Enqueue 或 Pool 的 Submit 系列方法进入调度。
func NewWorkItem(callback Callback, opts ...ItemOption) (*WorkItem, error) {
	if callback == nil {
		return nil, ErrNilCallback
	}
	o := defaultItemOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	item := &WorkItem{
		id:            itemSeq.Add(1),
		priority:      o.priority,
		callback:      callback,
		payload:       o.state,
		postExec:      o.postExec,
		postPolicy:    o.postPolicy,
		expiresAt:     o.expiresAt,
		retryAttempts: o.retryAttempts,
		retryDelay:    o.retryDelay,
	}
	item.future = newFuture(item)
	return item, nil
}

// ID 返回工作项序号（全局单调递增）。
func (i *WorkItem) ID() uint64 {
	return i.id
}

// Priority 返回优先级。
func (i *WorkItem) Priority() Priority {
	return i.priority
}

// Payload 返回提交时绑定的状态载荷。
func (i *WorkItem) Payload() any {
	return i.payload
}

// State 返回当前状态。
func (i *WorkItem) State() State {
	return State(i.status.Load())
}

// Future 返回结果桥。
func (i *WorkItem) Future() *Future {
	return i.future
}

// CancelRequested 报告是否已请求协作式取消。
// 长时间运行的回调除观察 ctx.Done() 外，也可轮询此方法。
func (i *WorkItem) CancelRequested() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.cancelReq
}

// Expired 报告工作项在 now 时刻是否已过期。
func (i *WorkItem) Expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && now.After(i.expiresAt)
}

// Snapshot 返回只读诊断快照。
func (i *WorkItem) Snapshot() ItemSnapshot {
	i.mu.Lock()
	defer i.mu.Unlock()
	return ItemSnapshot{
		ID:         i.id,
		Priority:   i.priority,
		State:      i.State(),
		EnqueuedAt: i.enqueuedAt,
		StartedAt:  i.startedAt,
		FinishedAt: i.finishedAt,
	}
}

// Cancel 请求取消工作项。
//
//   - 停在分组本地队列或共享分发队列中（InQueue）：直接转为 Canceled，
//     回调不会被调用，等待者立即以取消结果被唤醒，返回 true。
//   - 正在执行（InProgress）且 abort 为 false：协作式取消——取消回调的 ctx
//     并置取消标记，由回调自行决定何时退出；返回 false。
//   - 正在执行且 abort 为 true：立即判定为 Canceled 并唤醒等待者，执行中的
//     worker 被摘除并由新 worker 顶替；回调在后台跑完后被丢弃。回调正在
//     修改的共享状态可能处于未定义状态，这是调用方的责任。返回 true。
//   - 已进入终态：返回该终态是否为 Canceled。
func (i *WorkItem) Cancel(abort bool) bool {
	i.mu.Lock()
	i.cancelReq = true
	i.mu.Unlock()

	// 未晋升的停车项：从分组本地队列摘除
	if !i.admitted.Load() {
		if g := i.group(); g != nil && g.cancelParked(i) {
			return true
		}
	}

	// 已晋升但还在共享队列中：直接进入终态，worker 之后取到会跳过
	if i.State() == StateInQueue {
		if i.finish(StateCanceled, nil, ErrCanceled) {
			return true
		}
	}

	if i.State() == StateInProgress {
		i.mu.Lock()
		cancelExec := i.execCancel
		hook := i.abortHook
		i.mu.Unlock()
		if cancelExec != nil {
			cancelExec()
		}
		if !abort {
			return false
		}
		if i.finish(StateCanceled, nil, ErrCanceled) {
			if hook != nil {
				hook()
			}
			return true
		}
	}

	return i.State() == StateCanceled
}

// =============================================================================
// 执行路径（worker goroutine 调用）
// =============================================================================

// run 在 worker goroutine 上执行工作项。
// 返回 true 表示回调请求了重新排队，工作项未进入终态，
// 调用方（worker）需将其交回所属分组。
func (i *WorkItem) run(parent context.Context) (requeued bool) {
	if i.Expired(time.Now()) {
		i.finish(StateCanceled, nil, ErrExpired)
		return false
	}
	if !i.status.CompareAndSwap(int32(StateInQueue), int32(StateInProgress)) {
		// 出队前已被取消
		return false
	}

	execCtx, cancel := context.WithCancel(parent)
	i.mu.Lock()
	i.startedAt = time.Now()
	i.execCancel = cancel
	if i.cancelReq {
		// CAS 与取消请求竞争：让回调一进来就观察到取消信号
		cancel()
	}
	i.mu.Unlock()

	defer func() {
		i.mu.Lock()
		i.execCancel = nil
		i.abortHook = nil
		i.mu.Unlock()
		cancel()
	}()

	value, err := i.invoke(execCtx)

	if errors.Is(err, ErrRequeue) {
		if i.status.CompareAndSwap(int32(StateInProgress), int32(StateInQueue)) {
			return true
		}
		// 重排队与放弃式取消竞争，取消胜出
		return false
	}

	if err != nil && i.CancelRequested() && isCancellation(err) {
		// 回调响应了协作式取消
		i.finish(StateCanceled, nil, ErrCanceled)
		return false
	}

	i.finish(StateCompleted, value, err)
	return false
}

// invoke 调用回调，捕获 panic，并按配置做原地重试。
func (i *WorkItem) invoke(ctx context.Context) (any, error) {
	if i.retryAttempts == 0 {
		return i.protectedCall(ctx)
	}
	return retry.NewWithData[any](
		retry.Attempts(i.retryAttempts),
		retry.Delay(i.retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			// 取消与重排队请求不重试
			return !isCancellation(err) && !errors.Is(err, ErrRequeue)
		}),
	).Do(func() (any, error) {
		return i.protectedCall(ctx)
	})
}

// protectedCall 执行回调并把 panic 转换为 *PanicError。
func (i *WorkItem) protectedCall(ctx context.Context) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			value = nil
			err = &PanicError{Value: r, Stack: buf[:n]}
		}
	}()
	return i.callback(ctx, i.payload)
}

// =============================================================================
// 终态发布
// =============================================================================

// finish 将工作项迁移到终态并发布结果。恰好生效一次。
// 返回是否由本次调用完成迁移。
//
// 依次执行：状态 CAS、结果桥完成（唤醒等待者与 OnComplete 回调）、
// 执行后钩子、分组完成通知（释放准入名额并晋升下一项）、指标上报。
func (i *WorkItem) finish(s State, value any, err error) bool {
	for {
		cur := i.status.Load()
		if State(cur).Terminal() {
			return false
		}
		if i.status.CompareAndSwap(cur, int32(s)) {
			break
		}
	}

	now := time.Now()
	i.mu.Lock()
	i.finishedAt = now
	enqueuedAt := i.enqueuedAt
	startedAt := i.startedAt
	i.mu.Unlock()

	i.future.complete(Result{Value: value, Err: err, State: s})
	i.runPostExecute(s)

	if i.admitted.Load() {
		if g := i.group(); g != nil {
			g.onItemTerminal(i)
		}
	}

	if i.pool != nil {
		waited := time.Duration(0)
		if !startedAt.IsZero() && !enqueuedAt.IsZero() {
			waited = startedAt.Sub(enqueuedAt)
		} else if !enqueuedAt.IsZero() {
			waited = now.Sub(enqueuedAt)
		}
		executed := time.Duration(0)
		if !startedAt.IsZero() {
			executed = now.Sub(startedAt)
		}
		i.pool.onItemFinished(i, s, err, waited, executed)
	}
	return true
}

// runPostExecute 按调用策略执行后钩子。
// 钩子的 panic 只记录日志，不影响终态。
func (i *WorkItem) runPostExecute(s State) {
	if i.postExec == nil || !i.postPolicy.shouldCall(s) {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			if i.pool != nil {
				i.pool.logger.Error("xsched: post-execute hook panicked",
					AttrItemID(i.id), slog.Any("panic", r))
			}
		}
	}()
	i.postExec(i)
}

// setAbortHook 由 worker 在开始执行前注册摘除钩子。
func (i *WorkItem) setAbortHook(fn func()) {
	i.mu.Lock()
	i.abortHook = fn
	i.mu.Unlock()
}

// markEnqueued 记录调度归属与入队时间。
func (i *WorkItem) markEnqueued(p *Pool, groupID string) {
	i.pool = p
	i.groupID = groupID
	i.mu.Lock()
	i.enqueuedAt = time.Now()
	i.mu.Unlock()
}

// group 解析弱引用的所属分组；分组不存在或已销毁时返回 nil。
func (i *WorkItem) group() *Group {
	if i.pool == nil || i.groupID == "" {
		return nil
	}
	return i.pool.registry.lookup(i.groupID)
}
