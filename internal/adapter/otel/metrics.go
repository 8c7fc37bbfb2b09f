package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "finsight"

// Metrics holds all FinSight metric instruments. A nil *Metrics is valid
// and records nothing, so callers never need to guard.
type Metrics struct {
	runsStarted    metric.Int64Counter
	runsCompleted  metric.Int64Counter
	runsFailed     metric.Int64Counter
	messagesSent   metric.Int64Counter
	deliveryErrors metric.Int64Counter
	sendLatency    metric.Float64Histogram
	runDuration    metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.runsStarted, err = meter.Int64Counter("finsight.runs.started",
		metric.WithDescription("Number of analysis runs admitted")); err != nil {
		return nil, err
	}
	if m.runsCompleted, err = meter.Int64Counter("finsight.runs.completed",
		metric.WithDescription("Number of analysis runs completed")); err != nil {
		return nil, err
	}
	if m.runsFailed, err = meter.Int64Counter("finsight.runs.failed",
		metric.WithDescription("Number of analysis runs failed")); err != nil {
		return nil, err
	}
	if m.messagesSent, err = meter.Int64Counter("finsight.stream.messages_sent",
		metric.WithDescription("Number of frames delivered to viewers")); err != nil {
		return nil, err
	}
	if m.deliveryErrors, err = meter.Int64Counter("finsight.stream.delivery_errors",
		metric.WithDescription("Number of failed or stale connection deliveries")); err != nil {
		return nil, err
	}
	if m.sendLatency, err = meter.Float64Histogram("finsight.stream.send_latency_seconds",
		metric.WithDescription("WebSocket write latency in seconds")); err != nil {
		return nil, err
	}
	if m.runDuration, err = meter.Float64Histogram("finsight.run.duration_seconds",
		metric.WithDescription("Analysis run duration in seconds")); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) RunStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.runsStarted.Add(ctx, 1)
}

func (m *Metrics) RunCompleted(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.runsCompleted.Add(ctx, 1)
	m.runDuration.Record(ctx, d.Seconds())
}

func (m *Metrics) RunFailed(ctx context.Context) {
	if m == nil {
		return
	}
	m.runsFailed.Add(ctx, 1)
}

func (m *Metrics) MessageSent(ctx context.Context) {
	if m == nil {
		return
	}
	m.messagesSent.Add(ctx, 1)
}

func (m *Metrics) DeliveryError(ctx context.Context) {
	if m == nil {
		return
	}
	m.deliveryErrors.Add(ctx, 1)
}

func (m *Metrics) SendLatency(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.sendLatency.Record(ctx, d.Seconds())
}
