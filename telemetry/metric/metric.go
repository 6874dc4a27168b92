//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

// Package metric records workflow run and node metrics through
// OpenTelemetry.
package metric

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	noopm "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"

	itelemetry "trpc.group/trpc-go/trpc-workflow-go/internal/telemetry"
)

// Instrument names.
const (
	NameRuns         = "workflow.runs"
	NameNodeFailures = "workflow.node.failures"
	NameNodeDuration = "workflow.node.duration"
)

var (
	// Meter is the global OpenTelemetry meter for the workflow engine.
	Meter metric.Meter = noopm.Meter{}

	runs         metric.Int64Counter
	nodeFailures metric.Int64Counter
	nodeDuration metric.Float64Histogram
)

func init() {
	_ = UseMeter(Meter)
}

// UseMeter replaces Meter and recreates the instruments on it.
func UseMeter(m metric.Meter) error {
	r, err := m.Int64Counter(NameRuns, metric.WithDescription("Finished workflow runs."))
	if err != nil {
		return err
	}
	f, err := m.Int64Counter(NameNodeFailures, metric.WithDescription("Failed node executions."))
	if err != nil {
		return err
	}
	d, err := m.Float64Histogram(NameNodeDuration,
		metric.WithDescription("Node execution time."), metric.WithUnit("ms"))
	if err != nil {
		return err
	}
	Meter, runs, nodeFailures, nodeDuration = m, r, f, d
	return nil
}

// RecordRun counts a finished run.
func RecordRun(ctx context.Context, workflowName, status string) {
	runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String(itelemetry.KeyWorkflowName, workflowName),
		attribute.String(itelemetry.KeyStatus, status),
	))
}

// RecordNode records the duration of one node execution and counts it when
// it failed.
func RecordNode(ctx context.Context, nodeType, status string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(itelemetry.KeyNodeType, nodeType),
		attribute.String(itelemetry.KeyStatus, status),
	)
	nodeDuration.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)
	if status == "failed" {
		nodeFailures.Add(ctx, 1, attrs)
	}
}

// Start installs an OTLP metric exporter and points the instruments at it.
//
// OTEL_EXPORTER_OTLP_METRICS_ENDPOINT and OTEL_EXPORTER_OTLP_ENDPOINT are
// honoured when no endpoint option is given.
func Start(ctx context.Context, opts ...Option) (clean func() error, err error) {
	options := &options{
		serviceName:      itelemetry.ServiceName,
		serviceVersion:   itelemetry.ServiceVersion,
		serviceNamespace: itelemetry.ServiceNamespace,
		protocol:         itelemetry.ProtocolGRPC,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.endpoint == "" {
		options.endpoint = metricsEndpoint(options.protocol)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNamespace(options.serviceNamespace),
			semconv.ServiceName(options.serviceName),
			semconv.ServiceVersion(options.serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter sdkmetric.Exporter
	switch options.protocol {
	case itelemetry.ProtocolHTTP:
		exporter, err = otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(options.endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	default:
		conn, connErr := itelemetry.NewGRPCConn(options.endpoint)
		if connErr != nil {
			return nil, fmt.Errorf("failed to initialize metrics connection: %w", connErr)
		}
		exporter, err = otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)
	if err := UseMeter(provider.Meter(itelemetry.InstrumentName)); err != nil {
		return nil, fmt.Errorf("failed to create instruments: %w", err)
	}
	return func() error {
		if err := provider.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown MeterProvider: %w", err)
		}
		return nil
	}, nil
}

// Option is a function that configures meter options.
type Option func(*options)

type options struct {
	endpoint         string
	serviceName      string
	serviceVersion   string
	serviceNamespace string
	protocol         string
}

// WithEndpoint sets the collector endpoint as host:port.
func WithEndpoint(endpoint string) Option {
	return func(opts *options) {
		opts.endpoint = endpoint
	}
}

// WithProtocol selects "grpc" (default) or "http".
func WithProtocol(protocol string) Option {
	return func(opts *options) {
		opts.protocol = protocol
	}
}

func metricsEndpoint(protocol string) string {
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	if protocol == itelemetry.ProtocolHTTP {
		return "localhost:4318"
	}
	return "localhost:4317"
}
