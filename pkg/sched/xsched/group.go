package xsched

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Group 工作项分组：准入控制前端。
//
// 分组持有自己的本地待命队列，约束本组同时在途（已晋升到共享分发
// 队列且未进入终态）的工作项不超过并发上限。名额释放时按优先级
// 晋升下一个本地工作项，不做忙等。分组之间相互独立，不会互相饿死。
//
// 分组同时跟踪空闲状态：本地队列为空且在途计数为零即空闲。
// 每次 非空闲→空闲 迁移触发一次已注册的空闲通知。
//
// 所有方法并发安全。通过 Pool.NewGroup 创建，零值不可用。
type Group struct {
	id   string
	name string
	pool *Pool

	mu               sync.Mutex
	pending          priorityQueue
	concurrency      int
	admitted         int
	inflight         map[uint64]*WorkItem
	started          bool
	closed           bool
	unregisterOnIdle bool
	idle             bool
	idleCh           chan struct{}
	onIdle           []IdleFunc

	// history 最近进入终态的工作项快照，供 GetStates 报告
	history *lru.Cache[uint64, ItemSnapshot]

	enqueuedTotal  atomic.Int64
	completedTotal atomic.Int64
	canceledTotal  atomic.Int64
	failedTotal    atomic.Int64
}

// newGroup 创建分组。调用方（Pool.NewGroup）负责注册。
func newGroup(p *Pool, id, name string, o *groupOptions) (*Group, error) {
	history, err := lru.New[uint64, ItemSnapshot](o.historySize)
	if err != nil {
		return nil, err
	}
	g := &Group{
		id:          id,
		name:        name,
		pool:        p,
		concurrency: o.concurrency,
		inflight:    make(map[uint64]*WorkItem),
		started:     !o.startSuspended,
		idle:        true,
		idleCh:      closedChan(),
		history:     history,
	}
	if o.onIdle != nil {
		g.onIdle = append(g.onIdle, o.onIdle)
	}
	return g, nil
}

// Name 返回分组名称。
func (g *Group) Name() string {
	return g.name
}

// =============================================================================
// 提交入口
// =============================================================================

// Submit 构建工作项并入队，返回其结果桥。
// 这是推荐的提交入口；需要复用工作项构建逻辑时可改用
// NewWorkItem + Enqueue 的组合。
func (g *Group) Submit(callback Callback, opts ...ItemOption) (*Future, error) {
	item, err := NewWorkItem(callback, opts...)
	if err != nil {
		return nil, err
	}
	if err := g.Enqueue(item); err != nil {
		return nil, err
	}
	return item.Future(), nil
}

// Enqueue 将工作项放入分组。
//
// 在途计数低于并发上限且分组已启动时，工作项被立即晋升到共享
// 分发队列；否则停在本地队列，等待名额释放后按优先级晋升。
func (g *Group) Enqueue(item *WorkItem) error {
	if item == nil {
		return ErrNilCallback
	}
	if item.pool != nil {
		// 同一工作项不允许重复提交
		return ErrItemNotOwned
	}
	if !g.pool.isRunning() {
		return ErrNotRunning
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrGroupClosed
	}
	item.markEnqueued(g.pool, g.id)
	g.enqueuedTotal.Add(1)
	g.markBusyLocked()
	g.pending.enqueue(item)
	g.promoteLocked()
	g.mu.Unlock()

	g.pool.metrics.RecordSubmit(g.pool.ctx, g.name, item.Priority())
	return nil
}

// Requeue 将工作项重新放回本地待命队列，用于重试类流程。
// 与 Enqueue 不同，Requeue 不计入提交计数，也不要求工作项是全新的。
//
// 已在队列中（本地或共享）的工作项是无害的 no-op。
// 已进入终态返回 ErrItemFinished；属于其他分组返回 ErrItemNotOwned。
// 正在执行的回调应通过返回 ErrRequeue 触发重排队，而不是调用本方法。
func (g *Group) Requeue(item *WorkItem) error {
	if item == nil {
		return ErrNilCallback
	}
	if item.groupID != "" && item.groupID != g.id {
		return ErrItemNotOwned
	}
	if item.State().Terminal() {
		return ErrItemFinished
	}
	if !g.pool.isRunning() {
		return ErrNotRunning
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrGroupClosed
	}
	if item.admitted.Load() || g.pending.contains(item) {
		g.mu.Unlock()
		return nil
	}
	if item.pool == nil {
		item.markEnqueued(g.pool, g.id)
	}
	g.markBusyLocked()
	g.pending.enqueue(item)
	g.promoteLocked()
	g.mu.Unlock()
	return nil
}

// requeueFromWorker 由 worker 在回调返回 ErrRequeue 后调用。
// 工作项此刻已退出在途集合之外不可见，需要先释放名额再重新停车。
func (g *Group) requeueFromWorker(item *WorkItem) {
	g.mu.Lock()
	if _, ok := g.inflight[item.id]; ok {
		delete(g.inflight, item.id)
		g.admitted--
		item.admitted.Store(false)
	}
	g.pool.metrics.RecordRequeue(g.pool.ctx, g.name)
	if g.closed {
		g.mu.Unlock()
		// 分组已销毁，重排队退化为取消
		item.finish(StateCanceled, nil, ErrCanceled)
		return
	}
	g.pending.enqueue(item)
	g.promoteLocked()
	g.mu.Unlock()
}

// =============================================================================
// 生命周期
// =============================================================================

// Start 启动挂起状态创建的分组，开始晋升工作项。幂等。
func (g *Group) Start() {
	g.mu.Lock()
	if !g.started && !g.closed {
		g.started = true
		g.promoteLocked()
	}
	g.mu.Unlock()
}

// Cancel 取消分组内的所有工作项。
//
// 本地待命队列中的工作项直接转为 Canceled（回调不会被调用）；
// 已晋升的工作项按 abort 语义请求取消（见 WorkItem.Cancel）。
func (g *Group) Cancel(abort bool) {
	g.mu.Lock()
	parked := g.pending.drain()
	admitted := make([]*WorkItem, 0, len(g.inflight))
	for _, item := range g.inflight {
		admitted = append(admitted, item)
	}
	g.mu.Unlock()

	for _, item := range parked {
		if item.finish(StateCanceled, nil, ErrCanceled) {
			g.recordTerminal(item)
		}
	}
	for _, item := range admitted {
		item.Cancel(abort)
	}

	g.mu.Lock()
	fire := g.recomputeIdleLocked()
	g.mu.Unlock()
	g.fireIdle(fire)
}

// Close 销毁分组：取消本地待命队列中的所有工作项并拒绝新的提交。
// 已晋升的工作项不受影响，照常执行完毕；最后一个在途工作项进入
// 终态后，分组从引擎注册表中移除。幂等。
func (g *Group) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	parked := g.pending.drain()
	g.unregisterOnIdle = g.admitted > 0
	unregisterNow := g.admitted == 0
	g.mu.Unlock()

	for _, item := range parked {
		if item.finish(StateCanceled, nil, ErrCanceled) {
			g.recordTerminal(item)
		}
	}

	g.mu.Lock()
	fire := g.recomputeIdleLocked()
	g.mu.Unlock()
	g.fireIdle(fire)

	if unregisterNow {
		g.pool.registry.remove(g.id)
	}
}

// =============================================================================
// 运行期配置
// =============================================================================

// Concurrency 返回当前并发上限。
func (g *Group) Concurrency() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.concurrency
}

// SetConcurrency 运行期调整并发上限。
//
// 调高会立即晋升本地队列中的工作项直至新上限；调低只抑制后续晋升，
// 已晋升（含执行中）的工作项不会被撤回或抢占，在途计数自然回落到
// 新上限以下后恢复晋升。0 表示暂停晋升。
func (g *Group) SetConcurrency(n int) error {
	if n < 0 {
		return ErrInvalidConcurrency
	}
	g.mu.Lock()
	g.concurrency = n
	g.promoteLocked()
	g.mu.Unlock()
	return nil
}

// =============================================================================
// 观测
// =============================================================================

// WaitingCallbacks 返回本地待命队列中的工作项数量。
func (g *Group) WaitingCallbacks() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending.len()
}

// InUseThreads 返回当前在途（已晋升且未进入终态）的工作项数量。
func (g *Group) InUseThreads() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.admitted
}

// IsIdle 报告分组是否空闲（本地队列为空且在途计数为零）。
func (g *Group) IsIdle() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.idle
}

// OnIdle 注册空闲通知回调。
// 每次 非空闲→空闲 迁移恰好触发一次，由使最后一个工作项进入
// 终态的 goroutine 调用。回调中不应执行耗时操作。
func (g *Group) OnIdle(fn IdleFunc) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	g.onIdle = append(g.onIdle, fn)
	g.mu.Unlock()
}

// GetStates 返回分组跟踪的工作项状态快照：本地待命队列、在途集合，
// 以及最近进入终态的历史（容量受 WithHistorySize 约束）。
func (g *Group) GetStates() []ItemSnapshot {
	g.mu.Lock()
	pending := g.pending.snapshot()
	inflight := make([]*WorkItem, 0, len(g.inflight))
	for _, item := range g.inflight {
		inflight = append(inflight, item)
	}
	g.mu.Unlock()

	states := make([]ItemSnapshot, 0, len(pending)+len(inflight)+g.history.Len())
	for _, item := range pending {
		states = append(states, item.Snapshot())
	}
	for _, item := range inflight {
		states = append(states, item.Snapshot())
	}
	states = append(states, g.history.Values()...)
	return states
}

// Stats 返回分组统计快照。
func (g *Group) Stats() GroupStats {
	g.mu.Lock()
	s := GroupStats{
		Name:        g.name,
		Concurrency: g.concurrency,
		InUse:       g.admitted,
		Waiting:     g.pending.len(),
		Idle:        g.idle,
		Started:     g.started,
	}
	g.mu.Unlock()
	s.Enqueued = g.enqueuedTotal.Load()
	s.Completed = g.completedTotal.Load()
	s.Canceled = g.canceledTotal.Load()
	s.Failed = g.failedTotal.Load()
	return s
}

// =============================================================================
// 空闲同步
// =============================================================================

// WaitForIdle 阻塞直到分组空闲或 ctx 结束，返回是否等到空闲。
// 多个 goroutine 可并发等待；空闲迁移发生时全部被唤醒。
// ctx 为 nil 时视为 context.Background()。
func (g *Group) WaitForIdle(ctx context.Context) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	g.mu.Lock()
	ch := g.idleCh
	g.mu.Unlock()

	select {
	case <-ch:
		return true
	case <-ctx.Done():
		// 空闲与超时同时就绪时优先报告空闲
		select {
		case <-ch:
			return true
		default:
		}
		return false
	}
}

// WaitForIdleTimeout 是 WaitForIdle 的便捷形式，以固定时长为界。
func (g *Group) WaitForIdleTimeout(d time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return g.WaitForIdle(ctx)
}

// =============================================================================
// 内部：晋升与终态通知
// =============================================================================

// promoteLocked 在持有 g.mu 的前提下，把本地工作项晋升到共享分发
// 队列，直到在途计数到达并发上限或本地队列耗尽。
func (g *Group) promoteLocked() {
	if !g.started || g.closed {
		return
	}
	for g.admitted < g.concurrency {
		item := g.pending.dequeue()
		if item == nil {
			return
		}
		if item.State() != StateInQueue {
			// 已被取消的停车项，跳过
			continue
		}
		g.admitted++
		g.inflight[item.id] = item
		item.admitted.Store(true)
		if err := g.pool.dispatch(item); err != nil {
			// 引擎并发停止，晋升失败的工作项取消
			delete(g.inflight, item.id)
			g.admitted--
			item.admitted.Store(false)
			item.finish(StateCanceled, nil, ErrCanceled)
		}
	}
}

// onItemTerminal 在途工作项进入终态后的回账：释放名额、记录历史、
// 晋升下一项、重算空闲状态。由发布终态的 goroutine 调用（WorkItem.finish）。
func (g *Group) onItemTerminal(item *WorkItem) {
	g.mu.Lock()
	if _, ok := g.inflight[item.id]; !ok {
		g.mu.Unlock()
		return
	}
	delete(g.inflight, item.id)
	g.admitted--
	g.promoteLocked()
	fire := g.recomputeIdleLocked()
	unregister := g.unregisterOnIdle && g.admitted == 0
	if unregister {
		g.unregisterOnIdle = false
	}
	g.mu.Unlock()

	g.recordTerminal(item)
	g.fireIdle(fire)
	if unregister {
		g.pool.registry.remove(g.id)
	}
}

// cancelParked 尝试取消还停在本地队列中的工作项。
// 命中时发布取消终态并返回 true；工作项已不在本地队列时返回 false。
func (g *Group) cancelParked(item *WorkItem) bool {
	g.mu.Lock()
	if !g.pending.remove(item) {
		g.mu.Unlock()
		return false
	}
	fire := g.recomputeIdleLocked()
	g.mu.Unlock()

	item.finish(StateCanceled, nil, ErrCanceled)
	g.recordTerminal(item)
	g.fireIdle(fire)
	return true
}

// recordTerminal 记录终态历史与分组计数。
func (g *Group) recordTerminal(item *WorkItem) {
	snap := item.Snapshot()
	g.history.Add(item.id, snap)
	res, _ := item.future.TryResult()
	switch {
	case snap.State == StateCanceled:
		g.canceledTotal.Add(1)
	case res.Err != nil:
		g.failedTotal.Add(1)
	default:
		g.completedTotal.Add(1)
	}
}

// markBusyLocked 空闲→忙碌迁移：换新空闲信号 channel。
func (g *Group) markBusyLocked() {
	if g.idle {
		g.idle = false
		g.idleCh = make(chan struct{})
	}
}

// recomputeIdleLocked 重算空闲状态。
// 发生 非空闲→空闲 迁移时关闭信号 channel 并返回 true，
// 通知调用方在解锁后触发空闲回调。
func (g *Group) recomputeIdleLocked() bool {
	if g.idle || g.pending.len() != 0 || g.admitted != 0 {
		return false
	}
	g.idle = true
	close(g.idleCh)
	return true
}

// closedChan 返回已关闭的 channel，作为初始空闲信号。
func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// fireIdle 触发空闲通知回调。回调的 panic 只记录日志。
func (g *Group) fireIdle(fire bool) {
	if !fire {
		return
	}
	g.mu.Lock()
	callbacks := make([]IdleFunc, len(g.onIdle))
	copy(callbacks, g.onIdle)
	g.mu.Unlock()

	for _, fn := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					g.pool.logger.Error("xsched: idle callback panicked",
						AttrGroup(g.name), slog.Any("panic", r))
				}
			}()
			fn(g)
		}()
	}
}
