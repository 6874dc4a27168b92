//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

// Package telemetry holds the span names, attribute keys and connection
// helpers shared by the tracing and metric packages.
package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// telemetry service constants.
const (
	ServiceName      = "workflowd"
	ServiceVersion   = "v0.1.0"
	ServiceNamespace = "trpc-go-workflow"
	InstrumentName   = "trpc.workflow.go"

	SpanNameExecuteWorkflow   = "execute_workflow"
	SpanNamePrefixExecuteNode = "execute_node"
)

const (
	// ProtocolGRPC uses gRPC protocol for OTLP exporter.
	ProtocolGRPC string = "grpc"
	// ProtocolHTTP uses HTTP protocol for OTLP exporter.
	ProtocolHTTP string = "http"
)

// telemetry attributes constants.
var (
	KeyExecutionID  = "trpc.go.workflow.execution_id"
	KeyWorkflowName = "trpc.go.workflow.name"
	KeyNodeID       = "trpc.go.workflow.node_id"
	KeyNodeType     = "trpc.go.workflow.node_type"
	KeyIteration    = "trpc.go.workflow.iteration"
	KeyStatus       = "trpc.go.workflow.status"
	KeyNodeCount    = "trpc.go.workflow.node_count"
	KeyMode         = "trpc.go.workflow.mode"
)

// TraceWorkflow annotates a run span.
func TraceWorkflow(span trace.Span, executionID, name, mode string, nodes int) {
	span.SetAttributes(
		attribute.String(KeyExecutionID, executionID),
		attribute.String(KeyWorkflowName, name),
		attribute.String(KeyMode, mode),
		attribute.Int(KeyNodeCount, nodes),
	)
}

// TraceNode annotates a node span with its outcome.
func TraceNode(span trace.Span, executionID, nodeID, nodeType string, iteration int, err error) {
	span.SetAttributes(
		attribute.String(KeyExecutionID, executionID),
		attribute.String(KeyNodeID, nodeID),
		attribute.String(KeyNodeType, nodeType),
	)
	if iteration >= 0 {
		span.SetAttributes(attribute.Int(KeyIteration, iteration))
	}
	if err != nil {
		span.SetAttributes(attribute.String(KeyStatus, "failed"))
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetAttributes(attribute.String(KeyStatus, "completed"))
}

// NewGRPCConn creates a new gRPC connection to the OpenTelemetry Collector.
func NewGRPCConn(endpoint string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(endpoint,
		// Note the use of insecure transport here. TLS is recommended in production.
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to collector: %w", err)
	}
	return conn, nil
}
