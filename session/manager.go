//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-workflow-go/log"
	"trpc.group/trpc-go/trpc-workflow-go/scheduler"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

const (
	defaultExpiry = 30 * 24 * time.Hour
	tokenBytes    = 32
	// InputImageIDs is the run input key carrying the invoker's images.
	InputImageIDs = "image_ids"
)

// Launcher starts a workflow run in the background.
type Launcher interface {
	Start(ctx context.Context, def *workflow.Definition, inputs map[string]any, opts ...scheduler.RunOption) (string, error)
}

// CreateRequest describes a session to publish.
type CreateRequest struct {
	Workflow          *workflow.Definition
	LockLevel         LockLevel
	AllowedParameters []string
	CustomerName      string
	// ExpiresInDays <= 0 selects the manager default.
	ExpiresInDays int
}

// ExecutionTicket acknowledges a run started through a session.
type ExecutionTicket struct {
	ExecutionID string                   `json:"execution_id"`
	SessionID   string                   `json:"session_id"`
	Status      workflow.ExecutionStatus `json:"status"`
	ImageCount  int                      `json:"image_count"`
	Message     string                   `json:"message"`
}

// Manager publishes and guards locked sessions.
type Manager struct {
	store         Store
	launcher      Launcher
	defaultExpiry time.Duration
	now           func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithDefaultExpiry sets the lifetime of sessions created without one.
func WithDefaultExpiry(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.defaultExpiry = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a manager.
func NewManager(store Store, launcher Launcher, opts ...Option) *Manager {
	m := &Manager{
		store:         store,
		launcher:      launcher,
		defaultExpiry: defaultExpiry,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AccessOption relaxes the access check of a call.
type AccessOption func(*accessOptions)

type accessOptions struct {
	owner bool
}

// WithOwnerAccess skips the token check for the publishing system. Expiry
// still applies.
func WithOwnerAccess() AccessOption {
	return func(o *accessOptions) {
		o.owner = true
	}
}

// Create validates req.Workflow and publishes it.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*LockedSession, error) {
	if req.Workflow == nil {
		return nil, fmt.Errorf("%w: workflow is required", workflow.ErrInvalidDefinition)
	}
	if err := workflow.Validate(req.Workflow); err != nil {
		return nil, err
	}
	level, err := ParseLockLevel(string(req.LockLevel))
	if err != nil {
		return nil, err
	}
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	expiry := m.defaultExpiry
	if req.ExpiresInDays > 0 {
		expiry = time.Duration(req.ExpiresInDays) * 24 * time.Hour
	}
	now := m.now()
	s := &LockedSession{
		SessionID:         uuid.New().String(),
		Workflow:          req.Workflow.Clone(),
		LockLevel:         level,
		AllowedParameters: append([]string(nil), req.AllowedParameters...),
		CustomerName:      req.CustomerName,
		AccessToken:       token,
		ExpiresAt:         now.Add(expiry),
		CreatedAt:         now,
	}
	if err := m.store.Put(ctx, s); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	log.Infof("session %s published: workflow=%q lock=%s customer=%q expires=%s",
		s.SessionID, s.Workflow.Name, s.LockLevel, s.CustomerName, s.ExpiresAt.Format(time.RFC3339))
	return s, nil
}

// GetDetail returns the session if token matches and it has not expired.
func (m *Manager) GetDetail(ctx context.Context, id, token string, opts ...AccessOption) (*Detail, error) {
	s, err := m.authorize(ctx, id, token, opts...)
	if err != nil {
		return nil, err
	}
	return s.Detail(), nil
}

// ValidateParameterModification checks params against the lock policy of
// the session.
func (m *Manager) ValidateParameterModification(ctx context.Context, id string, params map[string]any) error {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	return checkParameters(s, params)
}

// Execute starts the session workflow on imageIDs with overrides applied.
// Access and parameter errors are returned before anything runs.
func (m *Manager) Execute(
	ctx context.Context,
	id, token string,
	imageIDs []string,
	overrides map[string]any,
	opts ...AccessOption,
) (*ExecutionTicket, error) {
	s, err := m.authorize(ctx, id, token, opts...)
	if err != nil {
		return nil, err
	}
	if err := checkParameters(s, overrides); err != nil {
		log.Warnf("session %s: rejected overrides: %v", id, err)
		return nil, err
	}
	def, err := applyOverrides(s.Workflow, overrides)
	if err != nil {
		return nil, err
	}
	images := make([]any, len(imageIDs))
	for i, img := range imageIDs {
		images[i] = img
	}
	execID, err := m.launcher.Start(ctx, def, map[string]any{InputImageIDs: images})
	if err != nil {
		return nil, fmt.Errorf("start session workflow: %w", err)
	}
	log.Infof("session %s: execution %s started on %d image(s)", id, execID, len(imageIDs))
	return &ExecutionTicket{
		ExecutionID: execID,
		SessionID:   id,
		Status:      workflow.ExecutionRunning,
		ImageCount:  len(imageIDs),
		Message:     fmt.Sprintf("workflow %q started on %d image(s)", def.Name, len(imageIDs)),
	}, nil
}

// Revoke deletes a session.
func (m *Manager) Revoke(ctx context.Context, id string) error {
	if _, err := m.store.Get(ctx, id); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	log.Infof("session %s revoked", id)
	return nil
}

// List returns every stored session that has not expired, oldest first.
func (m *Manager) List(ctx context.Context) ([]*Detail, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	now := m.now()
	out := make([]*Detail, 0, len(all))
	for _, s := range all {
		if !s.Expired(now) {
			out = append(out, s.Detail())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Manager) authorize(ctx context.Context, id, token string, opts ...AccessOption) (*LockedSession, error) {
	var ao accessOptions
	for _, opt := range opts {
		opt(&ao)
	}
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ao.owner && subtle.ConstantTimeCompare([]byte(token), []byte(s.AccessToken)) != 1 {
		log.Warnf("session %s: access denied", id)
		return nil, ErrAccessDenied
	}
	if s.Expired(m.now()) {
		return nil, ErrSessionExpired
	}
	return s, nil
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate access token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// checkParameters applies the lock policy. Keys are checked in sorted
// order so the rejected key is deterministic.
func checkParameters(s *LockedSession, params map[string]any) error {
	if len(params) == 0 || s.LockLevel == LockNone {
		return nil
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if s.LockLevel == LockFull {
		return &ParameterNotAllowedError{Key: keys[0], LockLevel: s.LockLevel}
	}
	allowed := make(map[string]bool, len(s.AllowedParameters))
	for _, k := range s.AllowedParameters {
		allowed[k] = true
	}
	for _, k := range keys {
		if !allowed[k] {
			return &ParameterNotAllowedError{Key: k, LockLevel: s.LockLevel}
		}
	}
	return nil
}

// applyOverrides returns a copy of def with overrides merged into node
// parameters. "<node_id>.<param>" targets one node; a bare "<param>"
// targets every node that already declares it.
func applyOverrides(def *workflow.Definition, overrides map[string]any) (*workflow.Definition, error) {
	out := def.Clone()
	if len(overrides) == 0 {
		return out, nil
	}
	index := make(map[string]int, len(out.Nodes))
	for i, n := range out.Nodes {
		index[n.ID] = i
	}
	patches := make([]map[string]any, len(out.Nodes))
	patch := func(i int, key string, value any) {
		if patches[i] == nil {
			patches[i] = make(map[string]any)
		}
		patches[i][key] = value
	}
	for key, value := range overrides {
		if nodeID, param, ok := strings.Cut(key, "."); ok {
			if i, found := index[nodeID]; found {
				patch(i, param, value)
				continue
			}
		}
		matched := false
		for i, n := range out.Nodes {
			if _, declared := n.Parameters[key]; declared {
				patch(i, key, value)
				matched = true
			}
		}
		if !matched {
			log.Warnf("workflow %q: override %q matches no node parameter", def.Name, key)
		}
	}
	for i, p := range patches {
		if p == nil {
			continue
		}
		node := &out.Nodes[i]
		if node.Parameters == nil {
			node.Parameters = make(map[string]any, len(p))
		}
		if err := mergo.Merge(&node.Parameters, p, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("apply overrides to node %s: %w", node.ID, err)
		}
	}
	return out, nil
}
