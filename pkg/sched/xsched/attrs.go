package xsched

import (
	"log/slog"
	"time"
)

// =============================================================================
// 日志属性键常量
// =============================================================================

const (
	attrKeyPool     = "pool"
	attrKeyGroup    = "group"
	attrKeyItemID   = "item_id"
	attrKeyPriority = "priority"
	attrKeyState    = "state"
	attrKeyOutcome  = "outcome"
	attrKeyWorkers  = "workers"
	attrKeyQueued   = "queued"
	attrKeyError    = "error"
	attrKeyDuration = "duration"
)

// =============================================================================
// 日志属性构造函数
// =============================================================================

// AttrPool 返回引擎名称属性。
func AttrPool(name string) slog.Attr {
	return slog.String(attrKeyPool, name)
}

// AttrGroup 返回分组名称属性。
func AttrGroup(name string) slog.Attr {
	return slog.String(attrKeyGroup, name)
}

// AttrItemID 返回工作项序号属性。
func AttrItemID(id uint64) slog.Attr {
	return slog.Uint64(attrKeyItemID, id)
}

// AttrPriority 返回优先级属性。
func AttrPriority(p Priority) slog.Attr {
	return slog.String(attrKeyPriority, p.String())
}

// AttrState 返回工作项状态属性。
func AttrState(s State) slog.Attr {
	return slog.String(attrKeyState, s.String())
}

// AttrOutcome 返回终态结果分类属性。
func AttrOutcome(outcome string) slog.Attr {
	return slog.String(attrKeyOutcome, outcome)
}

// AttrWorkers 返回 worker 数量属性。
func AttrWorkers(n int) slog.Attr {
	return slog.Int(attrKeyWorkers, n)
}

// AttrQueued 返回排队数量属性。
func AttrQueued(n int) slog.Attr {
	return slog.Int(attrKeyQueued, n)
}

// AttrError 返回错误属性。
func AttrError(err error) slog.Attr {
	if err == nil {
		return slog.String(attrKeyError, "")
	}
	return slog.String(attrKeyError, err.Error())
}

// AttrDuration 返回持续时间属性。
func AttrDuration(d time.Duration) slog.Attr {
	return slog.Duration(attrKeyDuration, d)
}
