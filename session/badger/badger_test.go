//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

package badger

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v3"
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
			Nodes: []workflow.Node{{ID: "n1", Type: "yolo"}},
		},
		LockLevel:         session.LockParameters,
		AllowedParameters: []string{"n1.confidence"},
		AccessToken:       "secret",
		ExpiresAt:         expires,
		CreatedAt:         time.Now(),
	}
}

func TestStore_InMemory(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, newSession("s1", time.Now().Add(time.Hour))))
	require.NoError(t, s.Put(ctx, newSession("s2", time.Now().Add(time.Hour))))

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"n1.confidence"}, got.AllowedParameters)
	assert.Equal(t, "secret", got.AccessToken)

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.Delete(ctx, "s1"))
	_, err = s.Get(ctx, "s1")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, newSession("s1", time.Now().Add(time.Hour))))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "inspect", got.Workflow.Name)
}

func TestStore_SharedDBIsNotClosed(t *testing.T) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	defer db.Close()

	s := New(db, WithExpiredRetention(time.Minute))
	require.NoError(t, s.Put(context.Background(), newSession("s1", time.Now().Add(time.Hour))))
	require.NoError(t, s.Close())
	assert.False(t, db.IsClosed())
}
