package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestOtelMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewOtelMetrics(provider)
	require.NoError(t, err)

	m.RecordDelivery(true, 20*time.Millisecond)
	m.RecordDelivery(true, 30*time.Millisecond)
	m.RecordDelivery(false, time.Second)
	m.RecordDeadLetter()
	m.RecordQueueDepth(7)

	data := collect(t, reader)

	deliveries, ok := data["delivery.emails"].(metricdata.Sum[int64])
	require.True(t, ok)
	byOutcome := map[string]int64{}
	for _, dp := range deliveries.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key("outcome"))
		byOutcome[v.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"success": 2, "failure": 1}, byOutcome)

	dead, ok := data["delivery.dead_letters"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, dead.DataPoints, 1)
	assert.Equal(t, int64(1), dead.DataPoints[0].Value)

	latency, ok := data["delivery.send.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range latency.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(3), count)

	depth, ok := data["delivery.queue.depth"].(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, depth.DataPoints, 1)
	assert.Equal(t, int64(7), depth.DataPoints[0].Value)
}

func TestWorkerRecordsOtelMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	m, err := NewOtelMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)

	issue := testIssue()
	queue := newFakeQueue()
	queue.add(issue.ID, "a@x.io")
	w := NewWorker(queue, newFakeIssues(issue), newFakeSender(), DefaultConfig(), WithMetrics(m))

	_, err = w.TryExecuteTask(context.Background())
	require.NoError(t, err)

	sum, ok := collect(t, reader)["delivery.emails"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(1), sum.DataPoints[0].Value)
}
