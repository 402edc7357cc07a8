package delivery

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsCollector defines the interface for collecting delivery metrics
type MetricsCollector interface {
	RecordDelivery(success bool, duration time.Duration)
	RecordDeadLetter()
	RecordQueueDepth(depth int)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordDelivery(success bool, duration time.Duration) {}
func (NoOpMetricsCollector) RecordDeadLetter()                                   {}
func (NoOpMetricsCollector) RecordQueueDepth(depth int)                          {}

// OtelMetrics implements MetricsCollector with OpenTelemetry instruments.
type OtelMetrics struct {
	deliveries  metric.Int64Counter
	deadLetters metric.Int64Counter
	latency     metric.Float64Histogram
	queueDepth  metric.Int64Gauge
}

// NewOtelMetrics registers the delivery instruments on provider, or on the global
// provider when nil.
func NewOtelMetrics(provider metric.MeterProvider) (*OtelMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter("newsletter.delivery")

	var (
		m   OtelMetrics
		err error
	)

	m.deliveries, err = meter.Int64Counter(
		"delivery.emails",
		metric.WithDescription("Delivery attempts by outcome"),
		metric.WithUnit("{email}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create delivery.emails counter: %w", err)
	}

	m.deadLetters, err = meter.Int64Counter(
		"delivery.dead_letters",
		metric.WithDescription("Tasks moved to the dead letter table"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create delivery.dead_letters counter: %w", err)
	}

	m.latency, err = meter.Float64Histogram(
		"delivery.send.duration",
		metric.WithDescription("Time spent in the email transport per attempt"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create delivery.send.duration histogram: %w", err)
	}

	m.queueDepth, err = meter.Int64Gauge(
		"delivery.queue.depth",
		metric.WithDescription("Tasks waiting in the issue delivery queue"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create delivery.queue.depth gauge: %w", err)
	}

	return &m, nil
}

func (m *OtelMetrics) RecordDelivery(success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.deliveries.Add(context.Background(), 1, attrs)
	m.latency.Record(context.Background(), duration.Seconds(), attrs)
}

func (m *OtelMetrics) RecordDeadLetter() {
	m.deadLetters.Add(context.Background(), 1)
}

func (m *OtelMetrics) RecordQueueDepth(depth int) {
	m.queueDepth.Record(context.Background(), int64(depth))
}
