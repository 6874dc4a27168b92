//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

package redis

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var clientBuilder func(builderOpts ...ClientBuilderOpt) (redis.UniversalClient, error) = DefaultClientBuilder

// SetClientBuilder sets the redis client builder.
func SetClientBuilder(builder func(builderOpts ...ClientBuilderOpt) (redis.UniversalClient, error)) {
	clientBuilder = builder
}

// DefaultClientBuilder is the default redis client builder.
func DefaultClientBuilder(builderOpts ...ClientBuilderOpt) (redis.UniversalClient, error) {
	o := &ClientBuilderOpts{}
	for _, opt := range builderOpts {
		opt(o)
	}
	if o.URL == "" {
		return nil, fmt.Errorf("redis: url is empty")
	}
	opts, err := redis.ParseURL(o.URL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url %s: %w", o.URL, err)
	}
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        []string{opts.Addr},
		DB:           opts.DB,
		Username:     opts.Username,
		Password:     opts.Password,
		Protocol:     opts.Protocol,
		ClientName:   opts.ClientName,
		TLSConfig:    opts.TLSConfig,
		MaxRetries:   opts.MaxRetries,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
	}), nil
}

// ClientBuilderOpt is the option for the redis client.
type ClientBuilderOpt func(*ClientBuilderOpts)

// ClientBuilderOpts is the options for the redis client.
type ClientBuilderOpts struct {
	URL string
}

// WithClientBuilderURL sets the redis client url for clientBuilder.
// scheme: redis://<username>:<password>@<host>:<port>/<db>?<options>
func WithClientBuilderURL(url string) ClientBuilderOpt {
	return func(opts *ClientBuilderOpts) {
		opts.URL = url
	}
}

const (
	defaultKeyPrefix        = "workflow"
	defaultExpiredRetention = 24 * time.Hour
)

// StoreOpts is the options for the redis session store.
type StoreOpts struct {
	url         string
	redisClient redis.UniversalClient
	keyPrefix   string
	// expiredRetention keeps a session readable for a while after it
	// expires so that callers see "expired" instead of "not found".
	expiredRetention time.Duration
	now              func() time.Time
}

// StoreOpt is the option for the redis session store.
type StoreOpt func(*StoreOpts)

// WithRedisClientURL creates a redis client from URL.
func WithRedisClientURL(url string) StoreOpt {
	return func(opts *StoreOpts) {
		opts.url = url
	}
}

// WithRedisClient sets the redis client.
func WithRedisClient(client redis.UniversalClient) StoreOpt {
	return func(opts *StoreOpts) {
		opts.redisClient = client
	}
}

// WithKeyPrefix sets the key namespace (default "workflow").
func WithKeyPrefix(prefix string) StoreOpt {
	return func(opts *StoreOpts) {
		opts.keyPrefix = prefix
	}
}

// WithExpiredRetention sets how long an expired session stays readable.
func WithExpiredRetention(d time.Duration) StoreOpt {
	return func(opts *StoreOpts) {
		opts.expiredRetention = d
	}
}

// WithClock replaces time.Now when computing key TTLs.
func WithClock(now func() time.Time) StoreOpt {
	return func(opts *StoreOpts) {
		opts.now = now
	}
}
