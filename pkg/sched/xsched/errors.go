package xsched

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// 预定义错误
// =============================================================================

// 预定义错误，使用 errors.Is 进行比较。
var (
	// ErrNotRunning 引擎未运行。
	// 在未 Start 或已 Shutdown 的 Pool 上提交工作项时返回此错误。
	ErrNotRunning = errors.New("xsched: pool is not running")

	// ErrCanceled 工作项已取消。
	// 等待已取消工作项的结果时返回此错误。
	ErrCanceled = errors.New("xsched: work item canceled")

	// ErrExpired 工作项过期。
	// 工作项在被 worker 取出前超过了过期时间。
	// 过期视为取消的一种：errors.Is(ErrExpired, ErrCanceled) 为 true。
	ErrExpired = fmt.Errorf("%w: expired before execution", ErrCanceled)

	// ErrWaitTimeout 等待超时。
	// WaitTimeout 在工作项完成前超时返回此错误。超时不会取消底层工作项。
	ErrWaitTimeout = errors.New("xsched: wait timed out")

	// ErrRequeue 回调请求重新排队。
	// 回调返回此错误（或包装此错误）时，工作项不会进入终态，
	// 而是被重新放回所属分组的本地队列，稍后再次执行。
	ErrRequeue = errors.New("xsched: requeue requested")

	// ErrNilCallback 回调为空。
	ErrNilCallback = errors.New("xsched: callback cannot be nil")

	// ErrNilContext context 参数为空。
	// 所有接受 context.Context 的公开方法都要求传入非 nil 值。
	ErrNilContext = errors.New("xsched: context must not be nil")

	// ErrGroupClosed 分组已销毁。
	// 在已 Close 的 Group 上提交工作项时返回此错误。
	ErrGroupClosed = errors.New("xsched: group is closed")

	// ErrItemFinished 工作项已进入终态。
	// 对 Completed/Canceled 的工作项调用 Requeue 时返回此错误。
	ErrItemFinished = errors.New("xsched: work item already finished")

	// ErrItemNotOwned 工作项不属于该分组。
	// 对别的分组的工作项调用 Requeue 时返回此错误。
	ErrItemNotOwned = errors.New("xsched: work item not owned by this group")

	// ErrInvalidPriority 无效的优先级。
	ErrInvalidPriority = errors.New("xsched: invalid priority")

	// ErrInvalidConcurrency 无效的分组并发上限。
	// 并发上限不允许为负值（0 表示暂停晋升）。
	ErrInvalidConcurrency = errors.New("xsched: invalid concurrency limit")

	// ErrInvalidWorkerBounds 无效的 worker 数量边界。
	// 要求 0 <= min <= max 且 max >= 1。
	ErrInvalidWorkerBounds = errors.New("xsched: invalid worker bounds")

	// ErrInvalidIdleTimeout 无效的空闲超时配置。
	ErrInvalidIdleTimeout = errors.New("xsched: invalid idle timeout")

	// ErrInvalidHistorySize 无效的终态历史容量配置。
	ErrInvalidHistorySize = errors.New("xsched: invalid history size")

	// ErrInvalidRetry 无效的重试配置。
	ErrInvalidRetry = errors.New("xsched: invalid retry configuration")
)

// =============================================================================
// panic 捕获
// =============================================================================

// PanicError 包装工作项回调中逃逸的 panic。
// 作为工作项的失败结果暴露给等待者，同时保留捕获时的堆栈。
type PanicError struct {
	// Value panic 的原始值。
	Value any
	// Stack 捕获时的 goroutine 堆栈。
	Stack []byte
}

// Error 实现 error 接口。
func (e *PanicError) Error() string {
	return fmt.Sprintf("xsched: work item panicked: %v", e.Value)
}

// IsPanic 检查错误是否由回调 panic 引起。
func IsPanic(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}

// =============================================================================
// 错误分类（用于低基数指标）
// =============================================================================

// 终态结果分类常量。
const (
	// OutcomeCompleted 正常完成
	OutcomeCompleted = "completed"
	// OutcomeFailed 回调返回错误或 panic
	OutcomeFailed = "failed"
	// OutcomeCanceled 被取消
	OutcomeCanceled = "canceled"
	// OutcomeExpired 过期未执行
	OutcomeExpired = "expired"
)

// classifyOutcome 将终态映射为低基数字符串，用于指标属性。
func classifyOutcome(state State, err error) string {
	switch state {
	case StateCompleted:
		if err != nil {
			return OutcomeFailed
		}
		return OutcomeCompleted
	case StateCanceled:
		if errors.Is(err, ErrExpired) {
			return OutcomeExpired
		}
		return OutcomeCanceled
	default:
		return "unknown"
	}
}

// isCancellation 判断回调返回的错误是否表示回调响应了协作式取消。
// 协作式取消的回调通常透传 ctx.Err() 或直接返回 ErrCanceled。
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, ErrCanceled)
}
