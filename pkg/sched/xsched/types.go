package xsched

import (
	"context"
	"time"
)

// =============================================================================
// 优先级
// =============================================================================

// Priority 工作项优先级。
// 分发队列严格按优先级从高到低取工作项，同级内按入队顺序（FIFO）。
type Priority int

// 优先级从低到高排列。
const (
	// PriorityLowest 最低优先级
	PriorityLowest Priority = iota
	// PriorityLow 较低优先级
	PriorityLow
	// PriorityNormal 普通优先级（默认）
	PriorityNormal
	// PriorityHigh 较高优先级
	PriorityHigh
	// PriorityHighest 最高优先级
	PriorityHighest

	// numPriorities 优先级档位数量
	numPriorities = 5
)

// IsValid 检查优先级是否在有效范围内。
func (p Priority) IsValid() bool {
	return p >= PriorityLowest && p <= PriorityHighest
}

// String 返回优先级的字符串表示。
func (p Priority) String() string {
	switch p {
	case PriorityLowest:
		return "lowest"
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityHighest:
		return "highest"
	default:
		return "invalid"
	}
}

// =============================================================================
// 工作项状态
// =============================================================================

// State 工作项状态。
//
// 状态迁移是单调的：
//
//	InQueue → InProgress → Completed
//	InQueue → Canceled
//	InProgress → Canceled
//
// Canceled 与 Completed 互斥，且都不可逆。
type State int32

const (
	// StateInQueue 在队列中等待（本地待命队列或共享分发队列）
	StateInQueue State = iota
	// StateInProgress 正在被某个 worker 执行
	StateInProgress
	// StateCompleted 已完成（含回调返回错误的情况）
	StateCompleted
	// StateCanceled 已取消（含过期）
	StateCanceled
)

// Terminal 报告状态是否为终态。
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCanceled
}

// String 返回状态的字符串表示。
func (s State) String() string {
	switch s {
	case StateInQueue:
		return "in_queue"
	case StateInProgress:
		return "in_progress"
	case StateCompleted:
		return "completed"
	case StateCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// =============================================================================
// 回调类型
// =============================================================================

// Callback 工作项回调。
//
// ctx 在协作式取消（Cancel(false)）或引擎强制停止时被取消，
// 回调应当观察 ctx.Done() 并尽早返回。state 是提交时通过
// WithState 绑定的状态载荷，未绑定时为 nil。
//
// 返回 ErrRequeue（或包装它的错误）表示请求重新排队执行，
// 工作项不会进入终态。
type Callback func(ctx context.Context, state any) (any, error)

// PostExecuteFunc 执行后钩子。
// 在工作项进入终态后、由完成该项的 goroutine 调用一次。
// 钩子的 panic 或异常只记录日志，不会改变工作项的终态。
type PostExecuteFunc func(item *WorkItem)

// IdleFunc 分组空闲通知回调。
// 每次 非空闲→空闲 迁移恰好触发一次，由使最后一个工作项进入终态的
// goroutine 调用。
type IdleFunc func(g *Group)

// =============================================================================
// 钩子调用策略
// =============================================================================

// CallPolicy 控制执行后钩子在何种终态下被调用。
type CallPolicy int

const (
	// CallAlways 无论完成还是取消都调用
	CallAlways CallPolicy = iota
	// CallOnCompletion 仅在 Completed 时调用
	CallOnCompletion
	// CallOnCancellation 仅在 Canceled 时调用
	CallOnCancellation
)

// String 返回调用策略的字符串表示。
func (p CallPolicy) String() string {
	switch p {
	case CallAlways:
		return "always"
	case CallOnCompletion:
		return "on_completion"
	case CallOnCancellation:
		return "on_cancellation"
	default:
		return "unknown"
	}
}

// shouldCall 判断给定终态下是否应调用钩子。
func (p CallPolicy) shouldCall(s State) bool {
	switch p {
	case CallAlways:
		return true
	case CallOnCompletion:
		return s == StateCompleted
	case CallOnCancellation:
		return s == StateCanceled
	default:
		return false
	}
}

// =============================================================================
// 结果
// =============================================================================

// Result 工作项的终态结果。
// 所有等待者观察到同一个 Result 值。
type Result struct {
	// Value 回调产出的值，失败或取消时为 nil。
	Value any
	// Err 回调返回的错误、捕获的 PanicError，或取消时的 ErrCanceled/ErrExpired。
	Err error
	// State 终态，Completed 或 Canceled 之一。
	State State
}

// Canceled 报告结果是否为取消终态。
func (r Result) Canceled() bool {
	return r.State == StateCanceled
}

// =============================================================================
// 诊断快照
// =============================================================================

// ItemSnapshot 工作项的只读诊断快照。
type ItemSnapshot struct {
	// ID 工作项序号（全池单调递增）。
	ID uint64
	// Priority 优先级。
	Priority Priority
	// State 采样时刻的状态。
	State State
	// EnqueuedAt 入队时间。
	EnqueuedAt time.Time
	// StartedAt 开始执行时间，未开始时为零值。
	StartedAt time.Time
	// FinishedAt 进入终态时间，未结束时为零值。
	FinishedAt time.Time
}
