package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// sum returns the value of the int64 sum named name whose data point has
// exactly attrs, or zero when there is none.
func sum(t *testing.T, reader *sdkmetric.ManualReader, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	want := attribute.NewSet(attrs...)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			data, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is %T, want an int64 sum", name, m.Data)
			for _, dp := range data.DataPoints {
				if dp.Attributes.Equals(&want) {
					return dp.Value
				}
			}
		}
	}
	return 0
}

func TestManagerRecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	config := DefaultConfig()
	config.MeterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := NewManagerWithConfig(config)
	require.NoError(t, m.Register(newFakeProvider("Metric.K", "Metric.L")))

	s := m.GetSubscriber("client")
	newChangeRecorder(s)
	_, err := s.Subscribe([]string{"Metric.K", "Metric.L"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum(t, reader, "contextd.subscribers"))
	assert.Equal(t, int64(2), sum(t, reader, "contextd.subscribed_keys"))

	require.NoError(t, m.NewChangeSet().AddInt("Metric.K", 1).Commit())
	assert.Equal(t, 1, m.Flush())

	var invalid *InvalidKeysError
	require.ErrorAs(t, m.NewChangeSet().AddInt("Metric.K", 2).AddInt("Metric.Unknown", 1).Commit(), &invalid)

	assert.Equal(t, int64(1), sum(t, reader, "contextd.commits", attribute.Bool("accepted", true)))
	assert.Equal(t, int64(1), sum(t, reader, "contextd.commits", attribute.Bool("accepted", false)))
	assert.Equal(t, int64(1), sum(t, reader, "contextd.notifications"))

	s.Close()
	assert.Equal(t, int64(0), sum(t, reader, "contextd.subscribers"))
	assert.Equal(t, int64(0), sum(t, reader, "contextd.subscribed_keys"))
}
