//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

// Package config loads the workflowd configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"trpc.group/trpc-go/trpc-workflow-go/executor/remote"
	"trpc.group/trpc-go/trpc-workflow-go/log"
	"trpc.group/trpc-go/trpc-workflow-go/scheduler"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Config is the root of the configuration file.
type Config struct {
	Server     ServerConfig             `yaml:"server"`
	Scheduler  SchedulerConfig          `yaml:"scheduler"`
	Sessions   SessionsConfig           `yaml:"sessions"`
	Executions ExecutionsConfig         `yaml:"executions"`
	Services   map[string]ServiceConfig `yaml:"services"`
	Log        LogConfig                `yaml:"log"`
	Telemetry  TelemetryConfig          `yaml:"telemetry"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// BaseURL prefixes share links. Empty uses the request host.
	BaseURL         string        `yaml:"base_url"`
	AdminToken      string        `yaml:"admin_token"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// SchedulerConfig mirrors scheduler.Options.
type SchedulerConfig struct {
	Mode              string        `yaml:"mode"`
	Workers           int           `yaml:"workers"`
	NodeTimeout       time.Duration `yaml:"node_timeout"`
	CancelGrace       time.Duration `yaml:"cancel_grace"`
	MaxLoopIterations int           `yaml:"max_loop_iterations"`
	EventBuffer       int           `yaml:"event_buffer"`
}

// SessionsConfig selects the locked session store.
type SessionsConfig struct {
	Backend              string `yaml:"backend"`
	BadgerDir            string `yaml:"badger_dir"`
	RedisURL             string `yaml:"redis_url"`
	DefaultExpiresInDays int    `yaml:"default_expires_in_days"`
}

// ExecutionsConfig selects the execution history store.
type ExecutionsConfig struct {
	Backend    string `yaml:"backend"`
	SQLitePath string `yaml:"sqlite_path"`
	// MaxRecords bounds the memory backend. Zero keeps everything.
	MaxRecords int `yaml:"max_records"`
}

// ServiceConfig points a node type at a remote model service.
type ServiceConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`

	// MaxResponseBytes caps the response body; 0 uses the remote default.
	MaxResponseBytes int64 `yaml:"max_response_bytes"`
}

// LogConfig configures the package logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelemetryConfig enables the OTLP exporters.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Protocol string `yaml:"protocol"`
	Endpoint string `yaml:"endpoint"`
}

// Default returns the configuration used for every field the file leaves
// unset.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Mode:              string(scheduler.ModeSequential),
			Workers:           4,
			NodeTimeout:       5 * time.Minute,
			CancelGrace:       5 * time.Second,
			MaxLoopIterations: 100,
			EventBuffer:       256,
		},
		Sessions: SessionsConfig{
			Backend:              BackendMemory,
			DefaultExpiresInDays: 30,
		},
		Executions: ExecutionsConfig{
			Backend: BackendMemory,
		},
		Log: LogConfig{
			Level:  log.LevelInfo,
			Format: log.FormatConsole,
		},
		Telemetry: TelemetryConfig{
			Protocol: "grpc",
		},
	}
}

// Load reads the YAML file at path. An empty path yields Default().
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML data and fills unset fields from Default(). Unknown
// keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := mergo.Merge(cfg, Default()); err != nil {
		return nil, fmt.Errorf("apply config defaults: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown modes and backends and incomplete backend
// settings.
func (c *Config) Validate() error {
	if _, err := scheduler.ParseMode(c.Scheduler.Mode); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if c.Scheduler.Workers < 0 || c.Scheduler.MaxLoopIterations < 0 || c.Scheduler.EventBuffer < 0 {
		return errors.New("scheduler: workers, max_loop_iterations and event_buffer must not be negative")
	}
	switch c.Sessions.Backend {
	case BackendMemory, BackendBadger:
	case BackendRedis:
		if c.Sessions.RedisURL == "" {
			return errors.New("sessions: redis backend requires redis_url")
		}
	default:
		return fmt.Errorf("sessions: unknown backend %q", c.Sessions.Backend)
	}
	switch c.Executions.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Executions.SQLitePath == "" {
			return errors.New("executions: sqlite backend requires sqlite_path")
		}
	default:
		return fmt.Errorf("executions: unknown backend %q", c.Executions.Backend)
	}
	for nodeType, svc := range c.Services {
		if svc.URL == "" {
			return fmt.Errorf("services: %s has no url", nodeType)
		}
	}
	if c.Telemetry.Enabled && c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http" {
		return fmt.Errorf("telemetry: unknown protocol %q", c.Telemetry.Protocol)
	}
	return nil
}

// SchedulerOptions converts the scheduler section.
func (c *Config) SchedulerOptions() []scheduler.Option {
	mode, _ := scheduler.ParseMode(c.Scheduler.Mode)
	return []scheduler.Option{
		scheduler.WithMode(mode),
		scheduler.WithWorkers(c.Scheduler.Workers),
		scheduler.WithNodeTimeout(c.Scheduler.NodeTimeout),
		scheduler.WithCancelGrace(c.Scheduler.CancelGrace),
		scheduler.WithMaxLoopIterations(c.Scheduler.MaxLoopIterations),
		scheduler.WithEventBuffer(c.Scheduler.EventBuffer),
	}
}

// RemoteServices converts the services section.
func (c *Config) RemoteServices() map[string]remote.Service {
	out := make(map[string]remote.Service, len(c.Services))
	for nodeType, svc := range c.Services {
		out[nodeType] = remote.Service{URL: svc.URL, Timeout: svc.Timeout, MaxResponseBytes: svc.MaxResponseBytes}
	}
	return out
}

// SessionExpiry is the default session lifetime.
func (c *Config) SessionExpiry() time.Duration {
	return time.Duration(c.Sessions.DefaultExpiresInDays) * 24 * time.Hour
}
