//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

package executor

import (
	"sort"
	"sync"
)

// Registry maps node types to executor factories. It is built at start-up
// and read concurrently by running workflows.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register installs factory for nodeType, replacing any previous one.
func (r *Registry) Register(nodeType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[nodeType] = factory
}

// RegisterExecutor installs a shared, stateless executor for nodeType.
func (r *Registry) RegisterExecutor(nodeType string, exec Executor) {
	r.Register(nodeType, func() Executor { return exec })
}

// Get returns a fresh executor for nodeType, or a *NotRegisteredError.
func (r *Registry) Get(nodeType string) (Executor, error) {
	r.mu.RLock()
	factory, ok := r.factories[nodeType]
	r.mu.RUnlock()
	if !ok || factory == nil {
		return nil, &NotRegisteredError{Type: nodeType}
	}
	return factory(), nil
}

// Has reports whether nodeType is registered.
func (r *Registry) Has(nodeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[nodeType]
	return ok
}

// ListTypes returns the registered node types in lexical order.
func (r *Registry) ListTypes() []string {
	r.mu.RLock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	r.mu.RUnlock()
	sort.Strings(types)
	return types
}
