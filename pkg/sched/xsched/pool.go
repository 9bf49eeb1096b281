package xsched

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Pool 调度引擎：按需伸缩的 worker 池加按优先级分发的共享队列。
//
// worker 数量在 [MinWorkers, MaxWorkers] 之间浮动：有工作项待分发
// 且无空闲 worker 时扩容；worker 空闲超过 IdleTimeout 且数量高于
// 下限时退休。分发采用 direct handoff：空闲 worker 以 LIFO 栈停靠，
// 工作项直接递到栈顶 worker 的私有 channel 上，热 worker 优先复用。
//
// 工作项可直接提交（Submit/Enqueue），也可经分组（NewGroup）提交
// 以获得准入控制。所有方法并发安全。零值不可用，通过 New 创建。
type Pool struct {
	name    string
	logger  *slog.Logger
	metrics *Metrics

	registry *groupRegistry

	// ctx 引擎生存期上下文，是所有回调执行 ctx 的父级
	ctx    context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu          sync.Mutex
	running     bool
	minWorkers  int
	maxWorkers  int
	idleTimeout time.Duration
	queue       priorityQueue        // 已准入、等待 worker 的工作项
	ready       []*worker            // 空闲 worker LIFO 栈，栈底最久未用
	workers     map[*worker]struct{} // 全部存活 worker
	busy        int                  // 正在执行回调的 worker 数
	direct      map[uint64]*WorkItem // 未分组提交且未终态的工作项
	idle        bool
	idleCh      chan struct{}

	submittedTotal atomic.Int64
	finishedTotal  atomic.Int64
}

// New 创建并启动调度引擎。
// 立即预热 MinWorkers 个空闲 worker。
func New(opts ...Option) (*Pool, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(o.meterProvider)
	if err != nil {
		return nil, err
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:        o.name,
		logger:      logger,
		metrics:     metrics,
		registry:    newGroupRegistry(),
		ctx:         ctx,
		cancel:      cancel,
		stopCh:      make(chan struct{}),
		running:     true,
		minWorkers:  o.minWorkers,
		maxWorkers:  o.maxWorkers,
		idleTimeout: o.idleTimeout,
		workers:     make(map[*worker]struct{}),
		direct:      make(map[uint64]*WorkItem),
		idle:        true,
		idleCh:      closedChan(),
	}

	p.mu.Lock()
	for i := 0; i < p.minWorkers; i++ {
		p.spawnParkedLocked()
	}
	p.mu.Unlock()

	p.wg.Add(1)
	go p.janitor()

	p.logger.Debug("xsched: pool started",
		AttrPool(p.name), AttrWorkers(p.minWorkers))
	return p, nil
}

// Name 返回引擎名称。
func (p *Pool) Name() string {
	return p.name
}

// =============================================================================
// 提交入口
// =============================================================================

// Submit 构建工作项并直接提交（不经分组准入控制），返回结果桥。
func (p *Pool) Submit(callback Callback, opts ...ItemOption) (*Future, error) {
	item, err := NewWorkItem(callback, opts...)
	if err != nil {
		return nil, err
	}
	if err := p.Enqueue(item); err != nil {
		return nil, err
	}
	return item.Future(), nil
}

// Enqueue 直接提交已构建的工作项。
// 有空闲 worker 时立即交付执行；否则在 worker 上限内扩容；
// 都不行则停在共享队列，按优先级等待。
func (p *Pool) Enqueue(item *WorkItem) error {
	if item == nil {
		return ErrNilCallback
	}
	if item.pool != nil {
		// 同一工作项不允许重复提交
		return ErrItemNotOwned
	}
	p.mu.Lock()
	if !p.running {
		// 拒收时不标记归属，工作项可改投其他引擎
		p.mu.Unlock()
		return ErrNotRunning
	}
	item.markEnqueued(p, "")
	item.admitted.Store(true)
	p.direct[item.id] = item
	p.mu.Unlock()

	p.submittedTotal.Add(1)
	p.metrics.RecordSubmit(p.ctx, "", item.Priority())
	return p.dispatch(item)
}

// NewGroup 创建工作项分组。分组名称仅用于诊断与指标，允许重名。
func (p *Pool) NewGroup(name string, opts ...GroupOption) (*Group, error) {
	o := defaultGroupOptions()
	for _, opt := range opts {
		opt(o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	if !p.isRunning() {
		return nil, ErrNotRunning
	}

	g, err := newGroup(p, uuid.NewString(), name, o)
	if err != nil {
		return nil, err
	}
	p.registry.add(g)
	return g, nil
}

// Groups 返回当前存活的全部分组。
func (p *Pool) Groups() []*Group {
	return p.registry.list()
}

// =============================================================================
// 取消与关停
// =============================================================================

// Cancel 取消引擎中的所有工作项：每个分组内的，以及直接提交的。
// abort 语义见 WorkItem.Cancel。
func (p *Pool) Cancel(abort bool) {
	for _, g := range p.registry.list() {
		g.Cancel(abort)
	}

	p.mu.Lock()
	items := make([]*WorkItem, 0, len(p.direct))
	for _, item := range p.direct {
		items = append(items, item)
	}
	p.mu.Unlock()

	for _, item := range items {
		item.Cancel(abort)
	}
}

// Shutdown 优雅关停：拒绝新的提交，取消所有还未开始执行的工作项
// （分组本地队列与共享队列），等待执行中的回调自然结束。
// ctx 结束仍未排干时返回 ctx 的错误，此时剩余 worker 继续在后台
// 跑完各自的回调。幂等，重复调用返回 ErrNotRunning。
func (p *Pool) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	queued, groups, ok := p.stop()
	if !ok {
		return ErrNotRunning
	}

	for _, g := range groups {
		g.Close()
	}
	for _, item := range queued {
		item.finish(StateCanceled, nil, ErrCanceled)
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		p.cancel()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Debug("xsched: pool shut down", AttrPool(p.name))
		return nil
	case <-ctx.Done():
		p.logger.Warn("xsched: shutdown wait expired",
			AttrPool(p.name), AttrError(ctx.Err()))
		return ctx.Err()
	}
}

// ShutdownNow 立即关停：取消全部工作项（放弃式），不等待回调结束。
// 执行中的回调的 ctx 被取消，其返回值被丢弃。
func (p *Pool) ShutdownNow() {
	queued, groups, ok := p.stop()
	if !ok {
		return
	}

	p.cancel()
	for _, g := range groups {
		g.Cancel(true)
		g.Close()
	}
	for _, item := range queued {
		item.finish(StateCanceled, nil, ErrCanceled)
	}

	p.mu.Lock()
	items := make([]*WorkItem, 0, len(p.direct))
	for _, item := range p.direct {
		items = append(items, item)
	}
	p.mu.Unlock()
	for _, item := range items {
		item.Cancel(true)
	}
}

// stop 停止接收新工作并退休空闲 worker。
// 返回共享队列中排干的工作项和需要关闭的分组；已经停止时 ok 为 false。
func (p *Pool) stop() ([]*WorkItem, []*Group, bool) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil, nil, false
	}
	p.running = false
	queued := p.queue.drain()
	ready := p.ready
	p.ready = nil
	for _, w := range ready {
		delete(p.workers, w)
	}
	fire := p.recomputeIdleLocked()
	p.mu.Unlock()
	_ = fire

	close(p.stopCh)
	for _, w := range ready {
		w.taskCh <- nil
		p.metrics.RecordWorkerRetire(p.ctx, "shutdown")
	}
	return queued, p.registry.list(), true
}

// =============================================================================
// 观测
// =============================================================================

// IsRunning 报告引擎是否仍接收新工作。
func (p *Pool) IsRunning() bool {
	return p.isRunning()
}

// WaitForIdle 阻塞直到引擎空闲或 ctx 结束，返回是否等到空闲。
//
// 引擎空闲指没有可分发的工作：共享队列为空且没有执行中的回调。
// 挂起分组或并发上限为 0 的分组里停车的工作项不计入，它们在
// 对应分组恢复晋升前本来就不会被执行。
func (p *Pool) WaitForIdle(ctx context.Context) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	p.mu.Lock()
	ch := p.idleCh
	p.mu.Unlock()

	select {
	case <-ch:
		return true
	case <-ctx.Done():
		select {
		case <-ch:
			return true
		default:
		}
		return false
	}
}

// WaitForIdleTimeout 是 WaitForIdle 的便捷形式，以固定时长为界。
func (p *Pool) WaitForIdleTimeout(d time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return p.WaitForIdle(ctx)
}

// Stats 返回引擎统计快照。
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	s := PoolStats{
		Name:        p.name,
		Running:     p.running,
		MinWorkers:  p.minWorkers,
		MaxWorkers:  p.maxWorkers,
		Workers:     len(p.workers),
		IdleWorkers: len(p.ready),
		Queued:      p.queue.len(),
		QueuedByPri: p.queue.lenByPriority(),
	}
	p.mu.Unlock()
	s.Groups = p.registry.len()
	s.Submitted = p.submittedTotal.Load()
	s.Finished = p.finishedTotal.Load()
	return s
}

// =============================================================================
// 运行期配置
// =============================================================================

// MinWorkers 返回 worker 下限。
func (p *Pool) MinWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.minWorkers
}

// MaxWorkers 返回 worker 上限。
func (p *Pool) MaxWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxWorkers
}

// SetMinWorkers 运行期调整 worker 下限，不足时立即预热补齐。
func (p *Pool) SetMinWorkers(n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n < 0 || n > p.maxWorkers {
		return ErrInvalidWorkerBounds
	}
	p.minWorkers = n
	if !p.running {
		return nil
	}
	for len(p.workers) < p.minWorkers {
		p.spawnParkedLocked()
	}
	return nil
}

// SetMaxWorkers 运行期调整 worker 上限。
// 调低时多余的空闲 worker 立即退休，执行中的 worker 在完成当前
// 工作项后退休，不抢占。
func (p *Pool) SetMaxWorkers(n int) error {
	p.mu.Lock()
	if n < 1 || n > maxWorkersCap || n < p.minWorkers {
		p.mu.Unlock()
		return ErrInvalidWorkerBounds
	}
	p.maxWorkers = n
	var retired []*worker
	for len(p.workers) > n && len(p.ready) > 0 {
		w := p.ready[0]
		p.ready = append(p.ready[:0], p.ready[1:]...)
		delete(p.workers, w)
		retired = append(retired, w)
	}
	p.mu.Unlock()

	for _, w := range retired {
		w.taskCh <- nil
		p.metrics.RecordWorkerRetire(p.ctx, "shrink")
	}
	return nil
}

// =============================================================================
// 内部：分发与 worker 生命周期
// =============================================================================

func (p *Pool) isRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// dispatch 把已准入的工作项交付执行。
// 优先递给停靠的热 worker；没有则在上限内扩容；否则入共享队列。
func (p *Pool) dispatch(item *WorkItem) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return ErrNotRunning
	}
	p.markBusyLocked()

	if n := len(p.ready); n > 0 {
		w := p.ready[n-1]
		p.ready[n-1] = nil
		p.ready = p.ready[:n-1]
		p.busy++
		p.mu.Unlock()
		// 停靠 worker 的 channel 必为空，发送不会阻塞
		w.taskCh <- item
		return nil
	}

	if len(p.workers) < p.maxWorkers {
		w := p.spawnLocked()
		p.busy++
		p.mu.Unlock()
		w.taskCh <- item
		return nil
	}

	p.queue.enqueue(item)
	p.mu.Unlock()
	return nil
}

// nextOrPark worker 完成一个工作项后的去向：
// 共享队列有货则继续干，没货则停靠，引擎停止或超编则退休。
// 第二个返回值为 false 表示 worker 应当退出。
func (p *Pool) nextOrPark(w *worker) (*WorkItem, bool) {
	p.mu.Lock()
	if p.running {
		for {
			item := p.queue.dequeue()
			if item == nil {
				break
			}
			if item.State() == StateInQueue {
				p.mu.Unlock()
				return item, true
			}
			// 在共享队列里就被取消的工作项，扔掉
		}
	}

	p.busy--
	if !p.running || len(p.workers) > p.maxWorkers {
		reason := "shutdown"
		if p.running {
			reason = "shrink"
		}
		delete(p.workers, w)
		p.recomputeIdleLocked()
		p.mu.Unlock()
		p.metrics.RecordWorkerRetire(p.ctx, reason)
		return nil, false
	}

	w.lastUse = time.Now()
	p.ready = append(p.ready, w)
	p.recomputeIdleLocked()
	p.mu.Unlock()
	return nil, true
}

// detach 放弃式取消的善后：把执行中的 worker 从引擎摘除。
// 被摘除的 goroutine 继续在后台跑完回调后自行退出，不再停靠；
// 摘除后低于下限时立即补位停靠 worker，共享队列有积压时继续补位分发。
func (p *Pool) detach(w *worker) {
	w.detached.Store(true)

	p.mu.Lock()
	if _, ok := p.workers[w]; ok {
		delete(p.workers, w)
		p.busy--
	}
	if p.running {
		// worker 数量必须回到 [min, max] 区间内
		for len(p.workers) < p.minWorkers {
			p.spawnParkedLocked()
		}
	}
	p.recomputeIdleLocked()
	p.mu.Unlock()

	w.doneOnce.Do(p.wg.Done)
	p.metrics.RecordWorkerRetire(p.ctx, "detach")
	p.logger.Debug("xsched: worker detached by abort", AttrPool(p.name))

	p.kick()
}

// kick 共享队列有积压且有容量时补位分发。
func (p *Pool) kick() {
	for {
		p.mu.Lock()
		if !p.running || p.queue.len() == 0 {
			p.mu.Unlock()
			return
		}
		if len(p.ready) == 0 && len(p.workers) >= p.maxWorkers {
			p.mu.Unlock()
			return
		}
		item := p.queue.dequeue()
		p.mu.Unlock()
		if item == nil {
			return
		}
		if item.State() != StateInQueue {
			continue
		}
		if err := p.dispatch(item); err != nil {
			item.finish(StateCanceled, nil, ErrCanceled)
			return
		}
	}
}

// requeueItem worker 回调请求重排队后的交接。
// 分组工作项交回所属分组；直接提交的工作项重新进入共享分发。
func (p *Pool) requeueItem(item *WorkItem) {
	if g := item.group(); g != nil {
		g.requeueFromWorker(item)
		return
	}
	if item.groupID != "" {
		// 分组已销毁，重排队退化为取消
		item.finish(StateCanceled, nil, ErrCanceled)
		return
	}
	p.metrics.RecordRequeue(p.ctx, "")
	if err := p.dispatch(item); err != nil {
		item.finish(StateCanceled, nil, ErrCanceled)
	}
}

// onItemFinished 工作项进入终态后的引擎侧回账（WorkItem.finish 调用）。
func (p *Pool) onItemFinished(item *WorkItem, s State, err error, waited, executed time.Duration) {
	p.finishedTotal.Add(1)

	groupName := ""
	if g := item.group(); g != nil {
		groupName = g.Name()
	} else if item.groupID == "" {
		p.mu.Lock()
		delete(p.direct, item.id)
		p.mu.Unlock()
	}

	outcome := classifyOutcome(s, err)
	p.metrics.RecordFinish(p.ctx, groupName, outcome, waited, executed)

	if s == StateCompleted && err != nil {
		p.logger.Debug("xsched: work item failed",
			AttrPool(p.name), AttrItemID(item.id), AttrError(err))
	}
}

// spawnLocked 创建 worker 并启动其 goroutine。持 p.mu 调用。
func (p *Pool) spawnLocked() *worker {
	w := newWorker(p)
	p.workers[w] = struct{}{}
	p.wg.Add(1)
	go w.run()
	p.metrics.RecordWorkerSpawn(p.ctx)
	return w
}

// spawnParkedLocked 创建 worker 并直接停靠（预热用）。持 p.mu 调用。
func (p *Pool) spawnParkedLocked() {
	w := p.spawnLocked()
	w.lastUse = time.Now()
	p.ready = append(p.ready, w)
}

// markBusyLocked 空闲→忙碌迁移：换新空闲信号 channel。
func (p *Pool) markBusyLocked() {
	if p.idle {
		p.idle = false
		p.idleCh = make(chan struct{})
	}
}

// recomputeIdleLocked 重算空闲状态，迁移到空闲时关闭信号 channel。
func (p *Pool) recomputeIdleLocked() bool {
	if p.idle || p.busy != 0 || p.queue.len() != 0 {
		return false
	}
	p.idle = true
	close(p.idleCh)
	return true
}

// =============================================================================
// 内部：janitor
// =============================================================================

// janitor 周期性退休空闲超时的 worker。
// ready 栈是 LIFO，栈底的 worker 最久未被复用，从栈底开始收割，
// 保持 worker 总数不低于下限。
func (p *Pool) janitor() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		interval := p.idleTimeout / 4
		p.mu.Unlock()
		if interval < 100*time.Millisecond {
			interval = 100 * time.Millisecond
		}

		select {
		case <-p.stopCh:
			return
		case <-time.After(interval):
		}
		p.reapIdle()
	}
}

// reapIdle 收割一轮空闲超时的 worker。
func (p *Pool) reapIdle() {
	p.mu.Lock()
	cutoff := time.Now().Add(-p.idleTimeout)
	n := 0
	for n < len(p.ready) &&
		len(p.workers)-n > p.minWorkers &&
		p.ready[n].lastUse.Before(cutoff) {
		n++
	}
	if n == 0 {
		p.mu.Unlock()
		return
	}
	retired := make([]*worker, n)
	copy(retired, p.ready[:n])
	remaining := copy(p.ready, p.ready[n:])
	for i := remaining; i < len(p.ready); i++ {
		p.ready[i] = nil
	}
	p.ready = p.ready[:remaining]
	for _, w := range retired {
		delete(p.workers, w)
	}
	p.mu.Unlock()

	for _, w := range retired {
		w.taskCh <- nil
		p.metrics.RecordWorkerRetire(p.ctx, "idle")
	}
	p.logger.Debug("xsched: idle workers retired",
		AttrPool(p.name), AttrWorkers(n))
}
