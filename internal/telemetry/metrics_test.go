package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"mapline/internal/telemetry"
)

func setupMetrics(t *testing.T) (*sdkmetric.ManualReader, *telemetry.Metrics) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	m := telemetry.New()
	require.NoError(t, m.Error())
	return reader, m
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestRecordTransition(t *testing.T) {
	reader, m := setupMetrics(t)
	ctx := context.Background()
	m.RecordTransition(ctx, "ACCEPT", "CADASTRO_AVAILABLE", "CADASTRO_ACCEPTED", telemetry.OutcomeApplied, 3*time.Millisecond)
	m.RecordTransition(ctx, "ACCEPT", "CADASTRO_AVAILABLE", "", telemetry.OutcomeRejected, time.Millisecond)

	got := collect(t, reader)
	sum, ok := got["mapline.transitions"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(2), total)
	assert.Contains(t, got, "mapline.transition.duration")
}

func TestBulkAndAlertCounters(t *testing.T) {
	reader, m := setupMetrics(t)
	ctx := context.Background()
	m.RecordBulkOutcome(ctx, "ACCEPT_BULK", "SUCCEEDED")
	m.RecordAlertFailure(ctx, "SITUATION_CHANGED")

	got := collect(t, reader)
	assert.Contains(t, got, "mapline.bulk.outcomes")
	assert.Contains(t, got, "mapline.alerts.failed")
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *telemetry.Metrics
	m.RecordTransition(context.Background(), "START", "NOT_STARTED", "CADASTRO_IN_PROGRESS", telemetry.OutcomeApplied, 0)
	m.RecordBulkOutcome(context.Background(), "ACCEPT_BULK", "FAILED")
	assert.NoError(t, m.Error())
}
