//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

package inmemory

import "time"

// storeOpts is the options for the in-memory session store.
type storeOpts struct {
	// cleanupInterval is the interval for automatic eviction of expired
	// sessions. If set to 0, automatic cleanup is disabled.
	cleanupInterval time.Duration
	now             func() time.Time
}

// StoreOpt is the option for the in-memory session store.
type StoreOpt func(*storeOpts)

// WithCleanupInterval sets the interval for automatic eviction of expired
// sessions.
func WithCleanupInterval(interval time.Duration) StoreOpt {
	return func(opts *storeOpts) {
		opts.cleanupInterval = interval
	}
}

// WithClock replaces time.Now when deciding expiry.
func WithClock(now func() time.Time) StoreOpt {
	return func(opts *storeOpts) {
		opts.now = now
	}
}
