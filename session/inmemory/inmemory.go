//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides an in-memory locked session store.
package inmemory

import (
	"context"
	"sync"
	"time"

	"trpc.group/trpc-go/trpc-workflow-go/session"
)

var _ session.Store = (*Store)(nil)

// Store keeps sessions in a map. Expired sessions stay readable until the
// cleanup loop evicts them so that callers can tell expired from unknown.
type Store struct {
	opts storeOpts

	mu       sync.RWMutex
	sessions map[string]*session.LockedSession

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewStore creates a store.
func NewStore(options ...StoreOpt) *Store {
	opts := storeOpts{now: time.Now}
	for _, option := range options {
		option(&opts)
	}
	s := &Store{
		opts:     opts,
		sessions: make(map[string]*session.LockedSession),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if opts.cleanupInterval > 0 {
		go s.cleanupLoop()
	} else {
		close(s.done)
	}
	return s
}

// Put implements session.Store.
func (s *Store) Put(_ context.Context, sess *session.LockedSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.SessionID] = copySession(sess)
	return nil
}

// Get implements session.Store.
func (s *Store) Get(_ context.Context, id string) (*session.LockedSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return copySession(sess), nil
}

// Delete implements session.Store.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// List implements session.Store.
func (s *Store) List(_ context.Context) ([]*session.LockedSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*session.LockedSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, copySession(sess))
	}
	return out, nil
}

// Close stops the cleanup loop.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}

func (s *Store) cleanupLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.opts.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanupExpired()
		case <-s.stop:
			return
		}
	}
}

func (s *Store) cleanupExpired() {
	now := s.opts.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, id)
		}
	}
}

func copySession(sess *session.LockedSession) *session.LockedSession {
	c := *sess
	c.Workflow = sess.Workflow.Clone()
	c.AllowedParameters = append([]string(nil), sess.AllowedParameters...)
	return &c
}
