//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

// Package schema defines the JSON bodies of the REST surface. These types
// are internal; they only exist to facilitate request/response marshalling.
package schema

import (
	"time"

	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

// -----------------------------------------------------------------------------
// Incoming request payloads ----------------------------------------------------
// -----------------------------------------------------------------------------

// ExecuteRequest is the body of execute and execute-stream.
type ExecuteRequest struct {
	Workflow *workflow.Definition `json:"workflow"`
	Inputs   map[string]any       `json:"inputs,omitempty"`
	Config   map[string]any       `json:"config,omitempty"`
}

// CreateSessionRequest publishes a workflow. The workflow fields are
// inlined next to the policy fields.
type CreateSessionRequest struct {
	Name              string          `json:"name"`
	Description       string          `json:"description,omitempty"`
	Version           string          `json:"version,omitempty"`
	Nodes             []workflow.Node `json:"nodes"`
	Edges             []workflow.Edge `json:"edges"`
	LockLevel         string          `json:"lock_level,omitempty"`
	AllowedParameters []string        `json:"allowed_parameters,omitempty"`
	CustomerName      string          `json:"customer_name,omitempty"`
	ExpiresInDays     int             `json:"expires_in_days,omitempty"`
}

// Definition returns the workflow carried by the request.
func (r *CreateSessionRequest) Definition() *workflow.Definition {
	return &workflow.Definition{
		Name:        r.Name,
		Description: r.Description,
		Version:     r.Version,
		Nodes:       r.Nodes,
		Edges:       r.Edges,
	}
}

// SessionExecuteRequest runs a locked session.
type SessionExecuteRequest struct {
	ImageIDs   []string       `json:"image_ids"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// -----------------------------------------------------------------------------
// Outgoing response payloads ---------------------------------------------------
// -----------------------------------------------------------------------------

// ValidateResponse lists every violated rule.
type ValidateResponse struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// CreateSessionResponse is returned once a session is published.
type CreateSessionResponse struct {
	SessionID    string    `json:"session_id"`
	ShareURL     string    `json:"share_url"`
	AccessToken  string    `json:"access_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	WorkflowName string    `json:"workflow_name"`
}

// NodeTypesResponse lists the registered executor types.
type NodeTypesResponse struct {
	Types []string `json:"types"`
}

// ExecutionsResponse lists recorded executions.
type ExecutionsResponse struct {
	Executions []*workflow.ExecutionResponse `json:"executions"`
}

// StatusResponse is a bare acknowledgement.
type StatusResponse struct {
	Status string `json:"status"`
}

// ErrorResponse carries a rejected request's reason.
type ErrorResponse struct {
	Error string `json:"error"`
}
