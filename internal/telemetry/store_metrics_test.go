package internaltelemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestStoreMetrics_Record(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewStoreMetrics(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.PageSplits.Add(ctx, 2)
	m.PagesAllocated.Add(ctx, 5)
	m.RecoveryLatency.Record(ctx, 12)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	sums := map[string]int64{}
	var histograms int
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch data := md.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					sums[md.Name] += dp.Value
				}
			case metricdata.Histogram[int64]:
				histograms += len(data.DataPoints)
			}
		}
	}
	require.Equal(t, int64(2), sums["domstore.pages.splits_total"])
	require.Equal(t, int64(5), sums["domstore.pages.allocated_total"])
	require.Equal(t, 1, histograms)
}

func TestNoopStoreMetrics(t *testing.T) {
	m := NoopStoreMetrics()
	require.NotNil(t, m.CacheHits)
	m.CacheHits.Add(context.Background(), 1)
}
