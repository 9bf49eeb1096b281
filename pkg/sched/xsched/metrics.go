package xsched

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// 设计决策: 指标前缀使用 "xsched.*"，与 OTel Meter scope name 保持一致
// （Meter("xsched")），各包自治命名。如需统一命名空间，应在采集端
// （Prometheus relabel）处理。
const (
	// metricNameSubmitTotal 提交工作项次数计数器
	metricNameSubmitTotal = "xsched.submit.total"
	// metricNameFinishTotal 工作项进入终态次数计数器
	metricNameFinishTotal = "xsched.finish.total"
	// metricNameRequeueTotal 重排队次数计数器
	metricNameRequeueTotal = "xsched.requeue.total"
	// metricNameWorkerSpawnTotal worker 启动次数计数器
	metricNameWorkerSpawnTotal = "xsched.worker.spawn.total"
	// metricNameWorkerRetireTotal worker 退休次数计数器
	metricNameWorkerRetireTotal = "xsched.worker.retire.total"
	// metricNameWaitDuration 排队等待耗时直方图
	metricNameWaitDuration = "xsched.wait.duration"
	// metricNameExecDuration 回调执行耗时直方图
	metricNameExecDuration = "xsched.exec.duration"
)

// 指标标签键
const (
	metricAttrGroup    = "group"
	metricAttrPriority = "priority"
	metricAttrOutcome  = "outcome"
	metricAttrReason   = "reason"
)

// Metrics 调度引擎指标收集器
// 提供 Counter 和 Histogram 类型的指标收集
type Metrics struct {
	meter             metric.Meter
	submitTotal       metric.Int64Counter
	finishTotal       metric.Int64Counter
	requeueTotal      metric.Int64Counter
	workerSpawnTotal  metric.Int64Counter
	workerRetireTotal metric.Int64Counter
	waitDuration      metric.Float64Histogram
	execDuration      metric.Float64Histogram
	disableGroupLabel bool // 是否禁用 group 标签
}

// NewMetrics 创建指标收集器
// 如果 meterProvider 为 nil，返回 nil（不收集指标）
func NewMetrics(meterProvider metric.MeterProvider, opts ...MetricsOption) (*Metrics, error) {
	if meterProvider == nil {
		return nil, nil
	}

	m := &Metrics{}
	for _, opt := range opts {
		opt(m)
	}

	m.meter = meterProvider.Meter("xsched",
		metric.WithInstrumentationVersion(instrumentationVersion),
	)

	if err := m.initCounters(); err != nil {
		return nil, err
	}
	if err := m.initHistograms(); err != nil {
		return nil, err
	}

	return m, nil
}

// durationBuckets 耗时直方图的桶边界
var durationBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0}

// initCounters 初始化所有计数器指标
func (m *Metrics) initCounters() error {
	var err error
	if m.submitTotal, err = m.meter.Int64Counter(metricNameSubmitTotal,
		metric.WithDescription("提交工作项次数"), metric.WithUnit("{item}")); err != nil {
		return err
	}
	if m.finishTotal, err = m.meter.Int64Counter(metricNameFinishTotal,
		metric.WithDescription("工作项进入终态次数"), metric.WithUnit("{item}")); err != nil {
		return err
	}
	if m.requeueTotal, err = m.meter.Int64Counter(metricNameRequeueTotal,
		metric.WithDescription("工作项重排队次数"), metric.WithUnit("{item}")); err != nil {
		return err
	}
	if m.workerSpawnTotal, err = m.meter.Int64Counter(metricNameWorkerSpawnTotal,
		metric.WithDescription("worker 启动次数"), metric.WithUnit("{worker}")); err != nil {
		return err
	}
	if m.workerRetireTotal, err = m.meter.Int64Counter(metricNameWorkerRetireTotal,
		metric.WithDescription("worker 退休次数"), metric.WithUnit("{worker}")); err != nil {
		return err
	}
	return nil
}

// initHistograms 初始化所有直方图指标
func (m *Metrics) initHistograms() error {
	var err error
	if m.waitDuration, err = m.meter.Float64Histogram(metricNameWaitDuration,
		metric.WithDescription("工作项排队等待耗时"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...)); err != nil {
		return err
	}
	if m.execDuration, err = m.meter.Float64Histogram(metricNameExecDuration,
		metric.WithDescription("回调执行耗时"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...)); err != nil {
		return err
	}
	return nil
}

// MetricsOption 指标收集器配置选项
type MetricsOption func(*Metrics)

// MetricsWithDisableGroupLabel 禁用 group 标签
// 当分组名称为动态生成时（如包含用户 ID），建议启用此选项以避免高基数问题
func MetricsWithDisableGroupLabel() MetricsOption {
	return func(m *Metrics) {
		m.disableGroupLabel = true
	}
}

// RecordSubmit 记录工作项提交
// group: 分组名称
// priority: 工作项优先级
func (m *Metrics) RecordSubmit(ctx context.Context, group string, priority Priority) {
	if m == nil {
		return
	}

	// 使用 context.WithoutCancel 确保即使 ctx 被取消，指标仍能记录
	metricsCtx := context.WithoutCancel(ctx)

	attrs := []attribute.KeyValue{
		attribute.String(metricAttrPriority, priority.String()),
	}
	if !m.disableGroupLabel {
		attrs = append(attrs, attribute.String(metricAttrGroup, group))
	}

	m.submitTotal.Add(metricsCtx, 1, metric.WithAttributes(attrs...))
}

// RecordFinish 记录工作项进入终态
// group: 分组名称
// outcome: 终态结果（completed/failed/canceled/expired）
// wait: 排队等待耗时（入队到开始执行）
// exec: 回调执行耗时（未执行即终止时为 0）
func (m *Metrics) RecordFinish(ctx context.Context, group, outcome string, wait, exec time.Duration) {
	if m == nil {
		return
	}

	metricsCtx := context.WithoutCancel(ctx)

	attrs := []attribute.KeyValue{
		attribute.String(metricAttrOutcome, outcome),
	}
	if !m.disableGroupLabel {
		attrs = append(attrs, attribute.String(metricAttrGroup, group))
	}

	m.finishTotal.Add(metricsCtx, 1, metric.WithAttributes(attrs...))
	m.waitDuration.Record(metricsCtx, wait.Seconds(), metric.WithAttributes(attrs...))
	if exec > 0 {
		m.execDuration.Record(metricsCtx, exec.Seconds(), metric.WithAttributes(attrs...))
	}
}

// RecordRequeue 记录工作项重排队
func (m *Metrics) RecordRequeue(ctx context.Context, group string) {
	if m == nil {
		return
	}

	metricsCtx := context.WithoutCancel(ctx)

	var attrs []attribute.KeyValue
	if !m.disableGroupLabel {
		attrs = append(attrs, attribute.String(metricAttrGroup, group))
	}

	m.requeueTotal.Add(metricsCtx, 1, metric.WithAttributes(attrs...))
}

// RecordWorkerSpawn 记录 worker 启动
func (m *Metrics) RecordWorkerSpawn(ctx context.Context) {
	if m == nil {
		return
	}
	m.workerSpawnTotal.Add(context.WithoutCancel(ctx), 1)
}

// RecordWorkerRetire 记录 worker 退休
// reason: 退休原因（"idle"、"shutdown"、"detach"）
func (m *Metrics) RecordWorkerRetire(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.workerRetireTotal.Add(context.WithoutCancel(ctx), 1,
		metric.WithAttributes(attribute.String(metricAttrReason, reason)))
}
