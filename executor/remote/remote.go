//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

// Package remote proxies model node types (yolo, edocr2, paddleocr, ...) to
// their HTTP inference services.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"trpc.group/trpc-go/trpc-workflow-go/executor"
	"trpc.group/trpc-go/trpc-workflow-go/log"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

const (
	defaultTimeout = 60 * time.Second
	// DefaultMaxResponseBytes caps a service response body.
	DefaultMaxResponseBytes = 32 << 20
	maxErrorBody            = 512
)

// Service describes one inference endpoint. MaxResponseBytes defaults to
// DefaultMaxResponseBytes.
type Service struct {
	URL              string
	Timeout          time.Duration
	MaxResponseBytes int64
}

// Executor calls a model service with the node parameters and inputs.
type Executor struct {
	nodeType string
	service  Service
	client   *http.Client
}

// Option configures an Executor.
type Option func(*Executor)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) { e.client = c }
}

// New creates an executor for nodeType backed by svc.
func New(nodeType string, svc Service, opts ...Option) *Executor {
	if svc.Timeout <= 0 {
		svc.Timeout = defaultTimeout
	}
	if svc.MaxResponseBytes <= 0 {
		svc.MaxResponseBytes = DefaultMaxResponseBytes
	}
	e := &Executor{nodeType: nodeType, service: svc, client: http.DefaultClient}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register installs one remote executor per configured service.
func Register(reg *executor.Registry, services map[string]Service, opts ...Option) {
	for nodeType, svc := range services {
		reg.RegisterExecutor(nodeType, New(nodeType, svc, opts...))
	}
}

type request struct {
	ExecutionID string         `json:"execution_id,omitempty"`
	NodeID      string         `json:"node_id"`
	NodeType    string         `json:"node_type"`
	Iteration   *int           `json:"iteration,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Inputs      map[string]any `json:"inputs,omitempty"`
}

// Run implements executor.Executor.
func (e *Executor) Run(ctx context.Context, node workflow.Node, inputs map[string]any, ec *executor.ExecutionContext) (map[string]any, error) {
	req := request{
		NodeID:     node.ID,
		NodeType:   e.nodeType,
		Parameters: node.Parameters,
		Inputs:     inputs,
	}
	if ec != nil {
		req.ExecutionID = ec.ExecutionID
		if ec.Iteration >= 0 {
			it := ec.Iteration
			req.Iteration = &it
		}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", e.nodeType, err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.service.Timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.service.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", e.nodeType, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call %s service: %w", e.nodeType, err)
	}
	defer resp.Body.Close()
	log.Debugf("%s service answered %d for node %s in %s", e.nodeType, resp.StatusCode, node.ID, time.Since(start))

	if resp.StatusCode/100 != 2 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%s service returned %d: %s", e.nodeType, resp.StatusCode, bytes.TrimSpace(data))
	}
	limit := e.service.MaxResponseBytes
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", e.nodeType, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%s response exceeds %d bytes", e.nodeType, limit)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", e.nodeType, err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
