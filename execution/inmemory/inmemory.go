//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides an in-memory execution history. It is suitable
// for tests and single-process deployments; records are lost on restart.
package inmemory

import (
	"context"
	"sort"
	"sync"

	"trpc.group/trpc-go/trpc-workflow-go/execution"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

var _ execution.Store = (*Store)(nil)

// Store keeps execution records in a map.
type Store struct {
	mu      sync.RWMutex
	records map[string]*workflow.ExecutionResponse
	// maxRecords bounds the history; the oldest records are evicted first.
	maxRecords int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{records: make(map[string]*workflow.ExecutionResponse)}
}

// WithMaxRecords sets the maximum number of records kept. Zero means no
// limit.
func (s *Store) WithMaxRecords(n int) *Store {
	s.maxRecords = n
	return s
}

// Save implements execution.Store.
func (s *Store) Save(_ context.Context, resp *workflow.ExecutionResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[resp.ExecutionID] = copyResponse(resp)
	if s.maxRecords > 0 && len(s.records) > s.maxRecords {
		all := s.sortedLocked()
		for _, r := range all[s.maxRecords:] {
			delete(s.records, r.ExecutionID)
		}
	}
	return nil
}

// Get implements execution.Store.
func (s *Store) Get(_ context.Context, id string) (*workflow.ExecutionResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, execution.ErrNotFound
	}
	return copyResponse(r), nil
}

// List implements execution.Store.
func (s *Store) List(_ context.Context, limit int) ([]*workflow.ExecutionResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.sortedLocked()
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]*workflow.ExecutionResponse, len(all))
	for i, r := range all {
		out[i] = copyResponse(r)
	}
	return out, nil
}

// Close implements execution.Store.
func (s *Store) Close() error { return nil }

// sortedLocked returns the records newest first.
func (s *Store) sortedLocked() []*workflow.ExecutionResponse {
	all := make([]*workflow.ExecutionResponse, 0, len(s.records))
	for _, r := range s.records {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].StartedAt.Equal(all[j].StartedAt) {
			return all[i].StartedAt.After(all[j].StartedAt)
		}
		return all[i].ExecutionID < all[j].ExecutionID
	})
	return all
}

func copyResponse(r *workflow.ExecutionResponse) *workflow.ExecutionResponse {
	c := *r
	c.NodeStatuses = append([]workflow.NodeExecutionStatus(nil), r.NodeStatuses...)
	return &c
}
