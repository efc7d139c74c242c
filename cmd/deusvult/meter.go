package main

import (
	"context"
	"errors"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// replayMeter is the meter provider of one replay run. Its counters are
// read back once, after the last span is exported.
type replayMeter struct {
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider
}

func newReplayMeter() *replayMeter {
	reader := sdkmetric.NewManualReader()
	return &replayMeter{
		reader:   reader,
		provider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	}
}

// counters returns every integer counter summed over its attribute sets.
func (m *replayMeter) counters(ctx context.Context) (map[string]int64, error) {
	var rm metricdata.ResourceMetrics
	if err := m.reader.Collect(ctx, &rm); err != nil {
		return nil, err
	}
	totals := make(map[string]int64)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				totals[m.Name] += dp.Value
			}
		}
	}
	return totals, nil
}

// close reads the counters and shuts the provider down.
func (m *replayMeter) close(ctx context.Context) (map[string]int64, error) {
	totals, err := m.counters(ctx)
	return totals, errors.Join(err, m.provider.Shutdown(ctx))
}
