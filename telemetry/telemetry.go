//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

// Package telemetry starts tracing and metric export together.
package telemetry

import (
	"context"
	"errors"

	"trpc.group/trpc-go/trpc-workflow-go/telemetry/metric"
	"trpc.group/trpc-go/trpc-workflow-go/telemetry/trace"
)

// Config selects the OTLP collector. An empty Endpoint falls back to the
// OTEL_EXPORTER_OTLP_* environment variables.
type Config struct {
	Protocol string
	Endpoint string
}

// Start enables both exporters and returns a cleanup that shuts them down.
func Start(ctx context.Context, cfg Config) (clean func() error, err error) {
	traceOpts := []trace.Option{trace.WithProtocol(cfg.Protocol)}
	metricOpts := []metric.Option{metric.WithProtocol(cfg.Protocol)}
	if cfg.Endpoint != "" {
		traceOpts = append(traceOpts, trace.WithEndpoint(cfg.Endpoint))
		metricOpts = append(metricOpts, metric.WithEndpoint(cfg.Endpoint))
	}
	cleanTrace, err := trace.Start(ctx, traceOpts...)
	if err != nil {
		return nil, err
	}
	cleanMetric, err := metric.Start(ctx, metricOpts...)
	if err != nil {
		return nil, errors.Join(err, cleanTrace())
	}
	return func() error {
		return errors.Join(cleanTrace(), cleanMetric())
	}, nil
}
