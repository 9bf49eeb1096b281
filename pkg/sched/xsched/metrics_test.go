package xsched

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMeterProvider(t *testing.T) (*sdkmetric.MeterProvider, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return provider, reader
}

func collectedNames(t *testing.T, reader *sdkmetric.ManualReader) map[string]struct{} {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	names := make(map[string]struct{})
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = struct{}{}
		}
	}
	return names
}

func TestNewMetrics_NilProvider(t *testing.T) {
	m, err := NewMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, m)

	// nil 收集器上的记录是安全的 no-op
	assert.NotPanics(t, func() {
		m.RecordSubmit(context.Background(), "g", PriorityNormal)
		m.RecordFinish(context.Background(), "g", OutcomeCompleted, 0, 0)
		m.RecordRequeue(context.Background(), "g")
		m.RecordWorkerSpawn(context.Background())
		m.RecordWorkerRetire(context.Background(), "idle")
	})
}

func TestMetrics_RecordAndCollect(t *testing.T) {
	provider, reader := newTestMeterProvider(t)
	m, err := NewMetrics(provider)
	require.NoError(t, err)
	require.NotNil(t, m)

	ctx := context.Background()
	m.RecordSubmit(ctx, "g", PriorityHigh)
	m.RecordFinish(ctx, "g", OutcomeCompleted, time.Millisecond, 2*time.Millisecond)
	m.RecordRequeue(ctx, "g")
	m.RecordWorkerSpawn(ctx)
	m.RecordWorkerRetire(ctx, "idle")

	names := collectedNames(t, reader)
	for _, want := range []string{
		metricNameSubmitTotal,
		metricNameFinishTotal,
		metricNameRequeueTotal,
		metricNameWorkerSpawnTotal,
		metricNameWorkerRetireTotal,
		metricNameWaitDuration,
		metricNameExecDuration,
	} {
		assert.Contains(t, names, want)
	}
}

func TestPool_MetricsEndToEnd(t *testing.T) {
	provider, reader := newTestMeterProvider(t)
	p := newTestPool(t, WithMeterProvider(provider))

	g, err := p.NewGroup("metered", WithConcurrency(2))
	require.NoError(t, err)
	f, err := g.Submit(noopCallback)
	require.NoError(t, err)
	_, werr := f.Wait(context.Background())
	require.NoError(t, werr)
	require.True(t, g.WaitForIdleTimeout(time.Second))

	names := collectedNames(t, reader)
	assert.Contains(t, names, metricNameSubmitTotal)
	assert.Contains(t, names, metricNameFinishTotal)
	assert.Contains(t, names, metricNameWorkerSpawnTotal)
}
