package xsched

import (
	"sync"
	"sync/atomic"
	"time"
)

// worker 执行 goroutine。
//
// 每个 worker 带一条容量为 1 的私有任务 channel，分发方直接把
// 工作项递到空闲 worker 手上（direct handoff），不经过中心
// channel 的惊群。收到 nil 表示退休，worker 的注销账目由发送方
// 在锁内完成，worker 自己只负责退出。
type worker struct {
	pool     *Pool
	taskCh   chan *WorkItem
	lastUse  time.Time // 上次停靠时间，janitor 依此退休超时 worker；由 pool.mu 保护
	detached atomic.Bool
	doneOnce sync.Once // wg.Done 恰好一次：正常退出或被摘除
}

func newWorker(p *Pool) *worker {
	return &worker{
		pool:   p,
		taskCh: make(chan *WorkItem, 1),
	}
}

// run worker 主循环：收任务、执行、向引擎要下一个或停靠。
func (w *worker) run() {
	defer w.doneOnce.Do(w.pool.wg.Done)

	for item := range w.taskCh {
		if item == nil {
			return
		}
		for item != nil {
			w.execute(item)
			if w.detached.Load() {
				// 放弃式取消把本 worker 摘除了，结果已被丢弃
				return
			}
			var ok bool
			item, ok = w.pool.nextOrPark(w)
			if !ok {
				return
			}
		}
	}
}

// execute 执行单个工作项，含重排队交接。
func (w *worker) execute(item *WorkItem) {
	item.setAbortHook(func() { w.pool.detach(w) })
	if item.run(w.pool.ctx) {
		w.pool.requeueItem(item)
	}
}
