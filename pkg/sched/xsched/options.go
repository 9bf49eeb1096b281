package xsched

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// =============================================================================
// 引擎配置选项
// =============================================================================

// Option 引擎配置选项函数。
type Option func(*options)

// options 引擎内部配置。
type options struct {
	name          string
	minWorkers    int
	maxWorkers    int
	idleTimeout   time.Duration
	logger        *slog.Logger
	meterProvider metric.MeterProvider
}

// defaultOptions 返回引擎默认配置。
func defaultOptions() *options {
	return &options{
		name:        "default",
		minWorkers:  DefaultMinWorkers,
		maxWorkers:  DefaultMaxWorkers,
		idleTimeout: DefaultIdleTimeout,
		logger:      slog.Default(),
	}
}

// WithName 设置引擎名称，用于多实例场景下区分日志与指标来源。
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithMinWorkers 设置最小 worker 数。
// worker 数不会因空闲退役而低于此值。默认为 0。
// 负值会在 New() 的 validate() 中返回错误。
func WithMinWorkers(n int) Option {
	return func(o *options) {
		o.minWorkers = n
	}
}

// WithMaxWorkers 设置最大 worker 数。
// 达到上限后新工作项在分发队列中排队等待，不会被拒绝。默认为 25。
// 无效值（< 1、< min、超过硬上限）会在 New() 的 validate() 中返回错误。
func WithMaxWorkers(n int) Option {
	return func(o *options) {
		o.maxWorkers = n
	}
}

// WithIdleTimeout 设置 worker 空闲退役超时。
// worker 空闲超过该时长且当前数量高于最小值时自行退出。默认为 60s。
// 无效值（<= 0）会在 New() 的 validate() 中返回错误。
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) {
		o.idleTimeout = d
	}
}

// WithLogger 设置自定义日志记录器。
// 默认使用 slog.Default()。传入 nil 将被忽略，保持使用默认值。
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMeterProvider 设置 OpenTelemetry MeterProvider。
// 用于收集提交/完成计数与执行耗时等指标。
// 如果不设置，不会收集指标。
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}

// validate 验证引擎配置。
func (o *options) validate() error {
	if o.minWorkers < 0 {
		return fmt.Errorf("%w: min workers must be non-negative, got %d", ErrInvalidWorkerBounds, o.minWorkers)
	}
	if o.maxWorkers < 1 {
		return fmt.Errorf("%w: max workers must be positive, got %d", ErrInvalidWorkerBounds, o.maxWorkers)
	}
	if o.maxWorkers < o.minWorkers {
		return fmt.Errorf("%w: max workers (%d) less than min workers (%d)", ErrInvalidWorkerBounds, o.maxWorkers, o.minWorkers)
	}
	if o.maxWorkers > maxWorkersCap {
		return fmt.Errorf("%w: max workers (%d) exceeds cap (%d)", ErrInvalidWorkerBounds, o.maxWorkers, maxWorkersCap)
	}
	if o.idleTimeout <= 0 {
		return fmt.Errorf("%w: idle timeout must be positive, got %s", ErrInvalidIdleTimeout, o.idleTimeout)
	}
	return nil
}

// =============================================================================
// 分组配置选项
// =============================================================================

// GroupOption 分组配置选项函数。
// 分组配置是创建时的快照，分组开始接收工作后不可变
// （并发上限例外，可通过 SetConcurrency 在运行期调整）。
type GroupOption func(*groupOptions)

// groupOptions 分组内部配置。
type groupOptions struct {
	concurrency    int
	startSuspended bool
	historySize    int
	onIdle         IdleFunc
}

// defaultGroupOptions 返回分组默认配置。
func defaultGroupOptions() *groupOptions {
	return &groupOptions{
		concurrency: DefaultConcurrency,
		historySize: DefaultHistorySize,
	}
}

// WithConcurrency 设置分组并发上限。
// 表示该分组同时在途（已晋升且未进入终态）的工作项数量上限。
// 0 表示暂停晋升，工作项全部停在本地队列。默认为 1。
// 负值会在 NewGroup() 的 validate() 中返回错误。
func WithConcurrency(n int) GroupOption {
	return func(o *groupOptions) {
		o.concurrency = n
	}
}

// WithStartSuspended 设置分组以挂起状态创建。
// 挂起的分组接受 Enqueue 但不晋升任何工作项，直到调用 Start()。
func WithStartSuspended() GroupOption {
	return func(o *groupOptions) {
		o.startSuspended = true
	}
}

// WithHistorySize 设置终态历史容量。
// GetStates 依赖该历史报告最近进入终态的工作项。默认为 256。
// 无效值（<= 0 或超过上限）会在 NewGroup() 的 validate() 中返回错误。
func WithHistorySize(n int) GroupOption {
	return func(o *groupOptions) {
		o.historySize = n
	}
}

// WithOnIdle 注册分组空闲通知回调。
// 等价于创建后调用 OnIdle()。
func WithOnIdle(fn IdleFunc) GroupOption {
	return func(o *groupOptions) {
		o.onIdle = fn
	}
}

// validate 验证分组配置。
func (o *groupOptions) validate() error {
	if o.concurrency < 0 {
		return fmt.Errorf("%w: concurrency must be non-negative, got %d", ErrInvalidConcurrency, o.concurrency)
	}
	if o.historySize <= 0 {
		return fmt.Errorf("%w: history size must be positive, got %d", ErrInvalidHistorySize, o.historySize)
	}
	if o.historySize > maxHistorySize {
		return fmt.Errorf("%w: history size (%d) exceeds cap (%d)", ErrInvalidHistorySize, o.historySize, maxHistorySize)
	}
	return nil
}

// =============================================================================
// 工作项配置选项
// =============================================================================

// ItemOption 工作项配置选项函数。
type ItemOption func(*itemOptions)

// itemOptions 工作项内部配置。
type itemOptions struct {
	priority      Priority
	state         any
	postExec      PostExecuteFunc
	postPolicy    CallPolicy
	expiresAt     time.Time
	retryAttempts uint
	retryDelay    time.Duration
}

// defaultItemOptions 返回工作项默认配置。
func defaultItemOptions() *itemOptions {
	return &itemOptions{
		priority: PriorityNormal,
	}
}

// WithPriority 设置工作项优先级。默认为 PriorityNormal。
// 无效优先级会在 NewWorkItem() 的 validate() 中返回错误。
func WithPriority(p Priority) ItemOption {
	return func(o *itemOptions) {
		o.priority = p
	}
}

// WithState 绑定状态载荷。
// 回调执行时作为 state 参数传入。通常闭包捕获已经足够，
// 状态载荷适合需要在 PostExecute 钩子或诊断中访问提交参数的场景。
func WithState(state any) ItemOption {
	return func(o *itemOptions) {
		o.state = state
	}
}

// WithPostExecute 设置执行后钩子及其调用策略。
// 钩子在工作项进入终态后、由完成该项的 goroutine 调用一次。
func WithPostExecute(fn PostExecuteFunc, policy CallPolicy) ItemOption {
	return func(o *itemOptions) {
		o.postExec = fn
		o.postPolicy = policy
	}
}

// WithExpiration 设置过期时间点。
// 工作项在被 worker 取出前到达该时间点时，直接转为 Canceled
// （结果错误为 ErrExpired），回调不会被调用。
func WithExpiration(t time.Time) ItemOption {
	return func(o *itemOptions) {
		o.expiresAt = t
	}
}

// WithTTL 设置从当前时刻起的过期时长，等价于 WithExpiration(time.Now().Add(d))。
func WithTTL(d time.Duration) ItemOption {
	return func(o *itemOptions) {
		if d > 0 {
			o.expiresAt = time.Now().Add(d)
		}
	}
}

// WithRetry 设置回调失败时的原地重试次数与固定间隔。
// attempts 为总尝试次数（包含首次执行），基于 retry-go 实现。
// 重试期间工作项保持 InProgress，全部尝试失败后以最后一次错误进入终态。
// 协作式取消会中断重试。
// 无效值（attempts < 2 或 delay < 0）会在 NewWorkItem() 的 validate() 中返回错误。
func WithRetry(attempts uint, delay time.Duration) ItemOption {
	return func(o *itemOptions) {
		o.retryAttempts = attempts
		o.retryDelay = delay
	}
}

// validate 验证工作项配置。
func (o *itemOptions) validate() error {
	if !o.priority.IsValid() {
		return fmt.Errorf("%w: %d", ErrInvalidPriority, o.priority)
	}
	if o.retryAttempts == 1 {
		return fmt.Errorf("%w: attempts must be at least 2 (including the first run), got %d", ErrInvalidRetry, o.retryAttempts)
	}
	if o.retryDelay < 0 {
		return fmt.Errorf("%w: delay must be non-negative, got %s", ErrInvalidRetry, o.retryDelay)
	}
	return nil
}
