package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("pipeline-metrics")

// PipelineMetrics provides metrics collection for webhook event processing
type PipelineMetrics struct {
	eventsReceivedCounter   metric.Int64Counter
	eventsProcessedCounter  metric.Int64Counter
	eventsFailedCounter     metric.Int64Counter
	eventsRetriedCounter    metric.Int64Counter
	eventDurationHistogram  metric.Float64Histogram
	eventsInFlightGauge     metric.Int64UpDownCounter
}

// NewPipelineMetrics creates a new pipeline metrics collector
func NewPipelineMetrics() (*PipelineMetrics, error) {
	eventsReceivedCounter, err := meter.Int64Counter(
		"quadro_integrator.events.received",
		metric.WithDescription("Total number of webhook events received"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	eventsProcessedCounter, err := meter.Int64Counter(
		"quadro_integrator.events.processed",
		metric.WithDescription("Total number of events applied to the headcount ledger"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	eventsFailedCounter, err := meter.Int64Counter(
		"quadro_integrator.events.failed",
		metric.WithDescription("Total number of events that failed processing"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	eventsRetriedCounter, err := meter.Int64Counter(
		"quadro_integrator.events.retried",
		metric.WithDescription("Total number of retry attempts across all events"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	eventDurationHistogram, err := meter.Float64Histogram(
		"quadro_integrator.event.duration",
		metric.WithDescription("End-to-end webhook processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	eventsInFlightGauge, err := meter.Int64UpDownCounter(
		"quadro_integrator.events.in_flight",
		metric.WithDescription("Number of webhook events currently being processed"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	return &PipelineMetrics{
		eventsReceivedCounter:  eventsReceivedCounter,
		eventsProcessedCounter: eventsProcessedCounter,
		eventsFailedCounter:    eventsFailedCounter,
		eventsRetriedCounter:   eventsRetriedCounter,
		eventDurationHistogram: eventDurationHistogram,
		eventsInFlightGauge:    eventsInFlightGauge,
	}, nil
}

// RecordEventReceived records an accepted webhook delivery
func (pm *PipelineMetrics) RecordEventReceived(ctx context.Context, eventType string) {
	pm.eventsReceivedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("event.type", eventType),
		),
	)
	pm.eventsInFlightGauge.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("event.type", eventType),
		),
	)
}

// RecordEventProcessed records a successfully applied event
func (pm *PipelineMetrics) RecordEventProcessed(ctx context.Context, eventType string, duration time.Duration) {
	pm.eventsProcessedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("event.type", eventType),
			attribute.String("status", "processed"),
		),
	)
	pm.eventDurationHistogram.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("event.type", eventType),
			attribute.String("status", "processed"),
		),
	)
	pm.eventsInFlightGauge.Add(ctx, -1,
		metric.WithAttributes(
			attribute.String("event.type", eventType),
		),
	)
}

// RecordEventFailed records an event that exhausted processing
func (pm *PipelineMetrics) RecordEventFailed(ctx context.Context, eventType, errorType string, duration time.Duration) {
	pm.eventsFailedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("event.type", eventType),
			attribute.String("status", "failed"),
			attribute.String("error.type", errorType),
		),
	)
	pm.eventDurationHistogram.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("event.type", eventType),
			attribute.String("status", "failed"),
		),
	)
	pm.eventsInFlightGauge.Add(ctx, -1,
		metric.WithAttributes(
			attribute.String("event.type", eventType),
		),
	)
}

// RecordRetryAttempt records a single retry attempt
func (pm *PipelineMetrics) RecordRetryAttempt(ctx context.Context, eventType string) {
	pm.eventsRetriedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("event.type", eventType),
		),
	)
}
