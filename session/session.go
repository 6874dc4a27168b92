//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

// Package session publishes validated workflows as locked sessions that
// external parties run by token without seeing or editing the graph.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

// LockLevel controls which parameters an invoker may override.
type LockLevel string

// Lock levels.
const (
	// LockFull rejects every override.
	LockFull LockLevel = "full"
	// LockParameters accepts overrides of the allowed parameters only.
	LockParameters LockLevel = "parameters"
	// LockNone accepts any override.
	LockNone LockLevel = "none"
)

// ParseLockLevel validates a lock level. The empty string means full.
func ParseLockLevel(s string) (LockLevel, error) {
	switch LockLevel(s) {
	case "", LockFull:
		return LockFull, nil
	case LockParameters:
		return LockParameters, nil
	case LockNone:
		return LockNone, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidLockLevel, s)
}

// LockedSession is a published workflow together with its access policy.
type LockedSession struct {
	SessionID         string               `json:"session_id"`
	Workflow          *workflow.Definition `json:"workflow"`
	LockLevel         LockLevel            `json:"lock_level"`
	AllowedParameters []string             `json:"allowed_parameters,omitempty"`
	CustomerName      string               `json:"customer_name,omitempty"`
	AccessToken       string               `json:"access_token"`
	ExpiresAt         time.Time            `json:"expires_at"`
	CreatedAt         time.Time            `json:"created_at"`
}

// Expired reports whether the session is past its expiry at now.
func (s *LockedSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Detail returns the view of the session handed to invokers. It never
// carries the access token.
func (s *LockedSession) Detail() *Detail {
	return &Detail{
		SessionID:         s.SessionID,
		Workflow:          s.Workflow.Clone(),
		LockLevel:         s.LockLevel,
		AllowedParameters: slices.Clone(s.AllowedParameters),
		CustomerName:      s.CustomerName,
		ExpiresAt:         s.ExpiresAt,
		CreatedAt:         s.CreatedAt,
	}
}

// Detail is a session without its token.
type Detail struct {
	SessionID         string               `json:"session_id"`
	Workflow          *workflow.Definition `json:"workflow"`
	LockLevel         LockLevel            `json:"lock_level"`
	AllowedParameters []string             `json:"allowed_parameters"`
	CustomerName      string               `json:"customer_name,omitempty"`
	ExpiresAt         time.Time            `json:"expires_at"`
	CreatedAt         time.Time            `json:"created_at"`
}

// Store persists locked sessions.
type Store interface {
	Put(ctx context.Context, s *LockedSession) error
	// Get returns ErrSessionNotFound for an unknown or evicted id.
	Get(ctx context.Context, id string) (*LockedSession, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*LockedSession, error)
	Close() error
}

// Errors.
var (
	ErrAccessDenied        = errors.New("access denied")
	ErrSessionExpired      = errors.New("session expired")
	ErrSessionNotFound     = errors.New("session not found")
	ErrParameterNotAllowed = errors.New("parameter not allowed")
	ErrInvalidLockLevel    = errors.New("unknown lock level")
)

// ParameterNotAllowedError names the first override rejected by the lock
// policy.
type ParameterNotAllowedError struct {
	Key       string
	LockLevel LockLevel
}

func (e *ParameterNotAllowedError) Error() string {
	if e.LockLevel == LockFull {
		return fmt.Sprintf("parameter %q not allowed: session is fully locked", e.Key)
	}
	return fmt.Sprintf("parameter %q not allowed: not in allowed_parameters", e.Key)
}

// Is implements errors.Is.
func (e *ParameterNotAllowedError) Is(target error) bool { return target == ErrParameterNotAllowed }
