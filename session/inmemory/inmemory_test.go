//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-workflow-go/session"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

func newSession(id string, expires time.Time) *session.LockedSession {
	return &session.LockedSession{
		SessionID: id,
		Workflow: &workflow.Definition{
			Name:  "inspect",
			Nodes: []workflow.Node{{ID: "n1", Type: "yolo", Parameters: map[string]any{"confidence": 0.5}}},
		},
		LockLevel:         session.LockParameters,
		AllowedParameters: []string{"confidence"},
		AccessToken:       "token",
		ExpiresAt:         expires,
		CreatedAt:         time.Now(),
	}
}

func TestStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	defer s.Close()

	require.NoError(t, s.Put(ctx, newSession("s1", time.Now().Add(time.Hour))))
	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "token", got.AccessToken)

	got.Workflow.Nodes[0].Parameters["confidence"] = 0.9
	again, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0.5, again.Workflow.Nodes[0].Parameters["confidence"])

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.Delete(ctx, "s1"))
	_, err = s.Get(ctx, "s1")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestStore_CleanupEvictsExpired(t *testing.T) {
	ctx := context.Background()
	s := NewStore(WithCleanupInterval(10 * time.Millisecond))
	defer s.Close()

	require.NoError(t, s.Put(ctx, newSession("old", time.Now().Add(-time.Minute))))
	require.NoError(t, s.Put(ctx, newSession("fresh", time.Now().Add(time.Hour))))

	assert.Eventually(t, func() bool {
		_, err := s.Get(ctx, "old")
		return err != nil
	}, time.Second, 10*time.Millisecond)
	_, err := s.Get(ctx, "fresh")
	assert.NoError(t, err)
}

func TestStore_CloseIsIdempotent(t *testing.T) {
	s := NewStore(WithCleanupInterval(time.Hour))
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
