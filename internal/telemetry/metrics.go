// Package telemetry holds the OpenTelemetry instruments of the lifecycle
// engine. Instruments come from the global meter provider, so nothing is
// exported until the host process installs one.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "mapline"

// Outcome labels of a recorded transition.
const (
	OutcomeApplied  = "applied"
	OutcomeRejected = "rejected"
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
)

// Metrics is a nil-safe bundle of instruments.
type Metrics struct {
	transitions   metric.Int64Counter
	bulkOutcomes  metric.Int64Counter
	alertsFailed  metric.Int64Counter
	transitionDur metric.Float64Histogram
	err           error
}

func New() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName, metric.WithInstrumentationVersion("0.1.0"))
	m := &Metrics{}
	m.err = m.init(meter)
	return m
}

func (m *Metrics) init(meter metric.Meter) error {
	var err error
	m.transitions, err = meter.Int64Counter(
		"mapline.transitions",
		metric.WithDescription("Subprocess transitions attempted"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return err
	}
	m.bulkOutcomes, err = meter.Int64Counter(
		"mapline.bulk.outcomes",
		metric.WithDescription("Per-unit outcomes of bulk actions"),
		metric.WithUnit("{unit}"),
	)
	if err != nil {
		return err
	}
	m.alertsFailed, err = meter.Int64Counter(
		"mapline.alerts.failed",
		metric.WithDescription("Alerts the emitter could not accept"),
		metric.WithUnit("{alert}"),
	)
	if err != nil {
		return err
	}
	m.transitionDur, err = meter.Float64Histogram(
		"mapline.transition.duration",
		metric.WithDescription("Time spent applying a transition"),
		metric.WithUnit("ms"),
	)
	return err
}

// Error returns the instrument registration error, if any.
func (m *Metrics) Error() error {
	if m == nil {
		return nil
	}
	return m.err
}

func (m *Metrics) ready() bool {
	return m != nil && m.err == nil
}

func (m *Metrics) RecordTransition(ctx context.Context, action, from, to, outcome string, d time.Duration) {
	if !m.ready() {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("from", from),
		attribute.String("to", to),
		attribute.String("outcome", outcome),
	)
	m.transitions.Add(ctx, 1, attrs)
	m.transitionDur.Record(ctx, float64(d.Microseconds())/1000, attrs)
}

func (m *Metrics) RecordBulkOutcome(ctx context.Context, kind, outcome string) {
	if !m.ready() {
		return
	}
	m.bulkOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) RecordAlertFailure(ctx context.Context, kind string) {
	if !m.ready() {
		return
	}
	m.alertsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
