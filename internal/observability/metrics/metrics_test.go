package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collectCounter(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestRecordMatchOutcomeCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := New(Config{ServiceName: "accord-test"}, provider)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordMatchOutcome(ctx, "matched", "exact_identifier", time.Millisecond)
	m.RecordMatchOutcome(ctx, "review", "fuzzy_title", time.Millisecond)
	m.RecordMatchOutcome(ctx, "unmatched", "", time.Millisecond)
	m.RecordMatchOutcome(ctx, "errored", "", time.Millisecond)

	assert.Equal(t, int64(1), collectCounter(t, reader, "accord_usage_events_matched_total"))
	assert.Equal(t, int64(2), collectCounter(t, reader, "accord_usage_events_unmatched_total"))
	assert.Equal(t, int64(1), collectCounter(t, reader, "accord_usage_events_errored_total"))
}
