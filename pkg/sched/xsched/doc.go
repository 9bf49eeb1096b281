// Package xsched 提供带准入控制的托管式工作调度引擎。
//
// # 设计理念
//
// xsched 采用 Pool + Group 两级调度模型：
//   - Pool 调度引擎持有 [min, max] 范围内动态伸缩的 worker，
//     从共享的优先级分发队列中取出工作项并执行
//   - Group 工作项分组是准入控制前端：持有自己的本地待命队列，
//     约束本组同时在途的工作项数量，不影响其他分组
//   - WorkItem 是单个可调度、可取消的工作单元，
//     通过 Future 桥接阻塞等待与一次性异步完成通知
//
// 与简单 worker pool 的区别：
//   - 工作项按优先级严格排序（同级 FIFO），而非单一 channel 顺序
//   - 每个分组有独立的并发上限，分组之间互不饿死
//   - 工作项有完整的状态机（InQueue → InProgress → Completed/Canceled），
//     支持协作式取消与强制放弃两种取消语义
//
// # 使用场景
//
//   - 多租户/多业务域共享一个进程内线程池，各域独立限流
//   - 需要对异步任务做优先级调度、空闲同步（WaitForIdle）的场景
//   - 需要同时支持同步等待结果与异步回调通知的任务提交
//
// # 核心概念
//
//   - Pool: 调度引擎，管理 worker 生命周期与共享分发队列
//   - Group: 工作项分组，执行准入控制与空闲跟踪
//   - WorkItem: 单个工作项，携带回调、优先级、状态载荷
//   - Future: 结果桥，提供 Wait/Done/OnComplete 三种消费方式
//
// # 快速开始
//
//	pool, err := xsched.New(
//	    xsched.WithMaxWorkers(8),
//	    xsched.WithIdleTimeout(30*time.Second),
//	)
//	if err != nil {
//	    return err
//	}
//	defer pool.Shutdown(context.Background())
//
//	group, err := pool.NewGroup("reports", xsched.WithConcurrency(2))
//	if err != nil {
//	    return err
//	}
//
//	future, err := group.Submit(func(ctx context.Context, state any) (any, error) {
//	    return render(ctx, state)
//	}, xsched.WithPriority(xsched.PriorityHigh))
//	if err != nil {
//	    return err
//	}
//
//	value, err := future.Wait(ctx)
//
// # 取消语义
//
// Cancel(abort=false) 是协作式取消：运行中的回调通过自身 ctx 观察到取消信号，
// 由回调自行决定何时退出；未开始的工作项直接转为 Canceled，回调不会被调用。
//
// Cancel(abort=true) 是放弃式取消：引擎立即将工作项判定为 Canceled 并唤醒等待者，
// 同时将执行该项的 worker 从池中摘除（goroutine 后台跑完后自行退出），
// 并补充一个新 worker 保持池容量。回调正在修改的共享状态可能处于未定义状态，
// 这是调用方的责任，不是池的缺陷。
//
// # 已知限制
//
//   - 跨优先级没有防饿死机制：持续的高优先级流会无限推迟低优先级工作项
//   - 调低分组并发上限不会把已晋升到共享队列的工作项撤回本地队列
//   - Submit 后的工作项不能跨分组迁移
package xsched
