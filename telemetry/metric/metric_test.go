//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

package metric

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	noopm "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	itelemetry "trpc.group/trpc-go/trpc-workflow-go/internal/telemetry"
)

func TestRecordNodeAndRun(t *testing.T) {
	defer func() { _ = UseMeter(noopm.Meter{}) }()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	require.NoError(t, UseMeter(provider.Meter(itelemetry.InstrumentName)))

	ctx := context.Background()
	RecordNode(ctx, "yolo", "completed", 20*time.Millisecond)
	RecordNode(ctx, "yolo", "failed", 5*time.Millisecond)
	RecordRun(ctx, "demo", "failed")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	found := map[string]metricdata.Aggregation{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		found[m.Name] = m.Data
	}
	failures, ok := found[NameNodeFailures].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, failures.DataPoints, 1)
	assert.Equal(t, int64(1), failures.DataPoints[0].Value)

	durations, ok := found[NameNodeDuration].(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range durations.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(2), count)

	runs, ok := found[NameRuns].(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Equal(t, int64(1), runs.DataPoints[0].Value)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	assert.Equal(t, "localhost:4317", metricsEndpoint(itelemetry.ProtocolGRPC))
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "metrics:4318")
	assert.Equal(t, "metrics:4318", metricsEndpoint(itelemetry.ProtocolHTTP))
}
