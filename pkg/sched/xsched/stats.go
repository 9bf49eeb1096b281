package xsched

// PoolStats 引擎统计快照。各字段在同一时刻采样，相互一致。
type PoolStats struct {
	Name        string             `json:"name"`         // 引擎名称
	Running     bool               `json:"running"`      // 是否运行中
	MinWorkers  int                `json:"min_workers"`  // worker 下限
	MaxWorkers  int                `json:"max_workers"`  // worker 上限
	Workers     int                `json:"workers"`      // 当前 worker 总数
	IdleWorkers int                `json:"idle_workers"` // 空闲 worker 数
	Queued      int                `json:"queued"`       // 共享分发队列长度
	QueuedByPri [numPriorities]int `json:"queued_by_priority"`
	Groups      int                `json:"groups"`    // 存活分组数
	Submitted   int64              `json:"submitted"` // 累计直接提交数
	Finished    int64              `json:"finished"`  // 累计终态数
}

// GroupStats 分组统计快照。
type GroupStats struct {
	Name        string `json:"name"`        // 分组名称
	Concurrency int    `json:"concurrency"` // 并发上限
	InUse       int    `json:"in_use"`      // 在途工作项数
	Waiting     int    `json:"waiting"`     // 本地待命队列长度
	Idle        bool   `json:"idle"`        // 是否空闲
	Started     bool   `json:"started"`     // 是否已启动
	Enqueued    int64  `json:"enqueued"`    // 累计入队数
	Completed   int64  `json:"completed"`   // 累计成功数
	Canceled    int64  `json:"canceled"`    // 累计取消数
	Failed      int64  `json:"failed"`      // 累计失败数
}
