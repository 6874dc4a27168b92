//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

// Package redis provides a Redis-backed locked session store.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"trpc.group/trpc-go/trpc-workflow-go/session"
)

var _ session.Store = (*Store)(nil)

// Store is the redis session store.
// storage structure:
// Session: <prefix>:session:<id> -> LockedSession(json) (expire: expires_at + retention)
// Index:   <prefix>:sessions -> set [id]
type Store struct {
	opts   StoreOpts
	client redis.UniversalClient
	// ownsClient is set when the client was built from a url.
	ownsClient bool
}

// NewStore creates a store. Either WithRedisClient or WithRedisClientURL is
// required. A client passed with WithRedisClient stays owned by the caller.
func NewStore(options ...StoreOpt) (*Store, error) {
	opts := StoreOpts{
		keyPrefix:        defaultKeyPrefix,
		expiredRetention: defaultExpiredRetention,
		now:              time.Now,
	}
	for _, option := range options {
		option(&opts)
	}
	client, owned := opts.redisClient, false
	if client == nil {
		if opts.url == "" {
			return nil, errors.New("redis client or url is required")
		}
		c, err := clientBuilder(WithClientBuilderURL(opts.url))
		if err != nil {
			return nil, fmt.Errorf("create redis client: %w", err)
		}
		client, owned = c, true
	}
	return &Store{opts: opts, client: client, ownsClient: owned}, nil
}

func (s *Store) sessionKey(id string) string {
	return fmt.Sprintf("%s:session:%s", s.opts.keyPrefix, id)
}

func (s *Store) indexKey() string {
	return s.opts.keyPrefix + ":sessions"
}

// Put implements session.Store.
func (s *Store) Put(ctx context.Context, sess *session.LockedSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ttl := sess.ExpiresAt.Sub(s.opts.now()) + s.opts.expiredRetention
	if ttl <= 0 {
		ttl = time.Second
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.sessionKey(sess.SessionID), data, ttl)
	pipe.SAdd(ctx, s.indexKey(), sess.SessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis put session %s: %w", sess.SessionID, err)
	}
	return nil
}

// Get implements session.Store.
func (s *Store) Get(ctx context.Context, id string) (*session.LockedSession, error) {
	data, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, session.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session %s: %w", id, err)
	}
	return decode(data)
}

// Delete implements session.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.sessionKey(id))
	pipe.SRem(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete session %s: %w", id, err)
	}
	return nil
}

// List implements session.Store. Index entries whose key has expired are
// pruned on the way. Keys are fetched one GET each in a pipeline so that
// they may live in different cluster slots.
func (s *Store) List(ctx context.Context) ([]*session.LockedSession, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list sessions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.sessionKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis list sessions: %w", err)
	}
	var (
		out   []*session.LockedSession
		stale []any
	)
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			stale = append(stale, ids[i])
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis get session %s: %w", ids[i], err)
		}
		sess, err := decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if len(stale) > 0 {
		if err := s.client.SRem(ctx, s.indexKey(), stale...).Err(); err != nil {
			return nil, fmt.Errorf("redis prune session index: %w", err)
		}
	}
	return out, nil
}

// Close closes the redis client if the store created it.
func (s *Store) Close() error {
	if !s.ownsClient {
		return nil
	}
	return s.client.Close()
}

func decode(data []byte) (*session.LockedSession, error) {
	var sess session.LockedSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}
