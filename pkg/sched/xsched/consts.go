package xsched

import "time"

// =============================================================================
// 默认配置常量
// =============================================================================

const (
	// DefaultMinWorkers 默认最小 worker 数。
	// 0 表示池可以缩到没有 worker，新工作项到来时按需创建。
	DefaultMinWorkers = 0

	// DefaultMaxWorkers 默认最大 worker 数。
	DefaultMaxWorkers = 25

	// DefaultIdleTimeout worker 空闲多久后退役（高于最小值时）。
	DefaultIdleTimeout = 60 * time.Second

	// DefaultConcurrency 分组默认并发上限。
	DefaultConcurrency = 1

	// DefaultHistorySize 分组终态历史的默认容量。
	// GetStates 依赖该历史报告最近进入终态的工作项。
	DefaultHistorySize = 256
)

// =============================================================================
// 内部常量
// =============================================================================

const (
	// maxWorkersCap worker 数量的硬上限，防止配置错误导致 goroutine 爆炸。
	maxWorkersCap = 1 << 16

	// maxHistorySize 终态历史容量上限。
	maxHistorySize = 1 << 20
)

// =============================================================================
// 仪表化版本
// =============================================================================

const (
	// instrumentationVersion 仪表化版本号。
	instrumentationVersion = "1.0.0"
)
