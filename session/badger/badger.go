//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

// Package badger provides a locked session store on an embedded Badger
// database.
package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
	json "github.com/goccy/go-json"

	"trpc.group/trpc-go/trpc-workflow-go/session"
)

var _ session.Store = (*Store)(nil)

const (
	keyPrefix               = "workflow:session:"
	defaultExpiredRetention = 24 * time.Hour
)

// Store keeps one entry per session under workflow:session:<id>. Entries
// carry a TTL of the session lifetime plus a retention window.
type Store struct {
	db               *badger.DB
	ownsDB           bool
	expiredRetention time.Duration
	now              func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithExpiredRetention sets how long an expired session stays readable.
func WithExpiredRetention(d time.Duration) Option {
	return func(s *Store) {
		s.expiredRetention = d
	}
}

// WithClock replaces time.Now when computing entry TTLs.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open opens (or creates) a database in dir. An empty dir opens an
// in-memory database.
func Open(dir string, opts ...Option) (*Store, error) {
	bopts := badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR)
	if dir == "" {
		bopts = bopts.WithInMemory(true)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	s := New(db, opts...)
	s.ownsDB = true
	return s, nil
}

// New creates a store over an open database. Close leaves db open.
func New(db *badger.DB, opts ...Option) *Store {
	s := &Store{
		db:               db,
		expiredRetention: defaultExpiredRetention,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put implements session.Store.
func (s *Store) Put(_ context.Context, sess *session.LockedSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ttl := sess.ExpiresAt.Sub(s.now()) + s.expiredRetention
	if ttl <= 0 {
		ttl = time.Second
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(keyPrefix+sess.SessionID), data).WithTTL(ttl))
	})
}

// Get implements session.Store.
func (s *Store) Get(_ context.Context, id string) (*session.LockedSession, error) {
	var sess *session.LockedSession
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + id))
		if err != nil {
			return err
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		sess, err = decode(value)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, session.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get session %s: %w", id, err)
	}
	return sess, nil
}

// Delete implements session.Store.
func (s *Store) Delete(_ context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + id))
	})
}

// List implements session.Store.
func (s *Store) List(_ context.Context) ([]*session.LockedSession, error) {
	var out []*session.LockedSession
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			sess, err := decode(value)
			if err != nil {
				return err
			}
			out = append(out, sess)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger list sessions: %w", err)
	}
	return out, nil
}

// Close closes the database if the store opened it.
func (s *Store) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func decode(data []byte) (*session.LockedSession, error) {
	var sess session.LockedSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}
