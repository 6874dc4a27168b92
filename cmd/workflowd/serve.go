//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"trpc.group/trpc-go/trpc-workflow-go/config"
	"trpc.group/trpc-go/trpc-workflow-go/execution"
	execinmemory "trpc.group/trpc-go/trpc-workflow-go/execution/inmemory"
	execsqlite "trpc.group/trpc-go/trpc-workflow-go/execution/sqlite"
	"trpc.group/trpc-go/trpc-workflow-go/log"
	"trpc.group/trpc-go/trpc-workflow-go/scheduler"
	"trpc.group/trpc-go/trpc-workflow-go/server/rest"
	"trpc.group/trpc-go/trpc-workflow-go/session"
	sessionbadger "trpc.group/trpc-go/trpc-workflow-go/session/badger"
	sessioninmemory "trpc.group/trpc-go/trpc-workflow-go/session/inmemory"
	sessionredis "trpc.group/trpc-go/trpc-workflow-go/session/redis"
	"trpc.group/trpc-go/trpc-workflow-go/telemetry"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return cmd
}

// serve runs the server until ctx is done, then shuts it down within
// server.shutdown_timeout.
func serve(ctx context.Context, cfg *config.Config) error {
	if cfg.Telemetry.Enabled {
		clean, err := telemetry.Start(ctx, telemetry.Config{
			Protocol: cfg.Telemetry.Protocol,
			Endpoint: cfg.Telemetry.Endpoint,
		})
		if err != nil {
			return fmt.Errorf("start telemetry: %w", err)
		}
		defer func() {
			if err := clean(); err != nil {
				log.Warnf("telemetry shutdown: %v", err)
			}
		}()
	}

	execStore, err := newExecutionStore(cfg.Executions)
	if err != nil {
		return err
	}
	defer execStore.Close()
	sessionStore, err := newSessionStore(cfg.Sessions)
	if err != nil {
		return err
	}
	defer sessionStore.Close()

	sched := scheduler.New(newRegistry(cfg), cfg.SchedulerOptions()...)
	svc := execution.NewService(sched, execStore)
	mgr := session.NewManager(sessionStore, svc, session.WithDefaultExpiry(cfg.SessionExpiry()))
	handler := rest.New(svc, mgr,
		rest.WithBaseURL(cfg.Server.BaseURL),
		rest.WithAdminToken(cfg.Server.AdminToken),
		rest.WithAllowedOrigins(cfg.Server.AllowedOrigins...),
	).Handler()

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("workflowd listening on %s (mode=%s, sessions=%s, executions=%s)",
			cfg.Server.Addr, cfg.Scheduler.Mode, cfg.Sessions.Backend, cfg.Executions.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Infof("shutting down workflowd")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newExecutionStore(cfg config.ExecutionsConfig) (execution.Store, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		db, err := sql.Open("sqlite3", cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open execution history: %w", err)
		}
		store, err := execsqlite.NewStore(db)
		if err != nil {
			db.Close()
			return nil, err
		}
		return store, nil
	default:
		return execinmemory.NewStore().WithMaxRecords(cfg.MaxRecords), nil
	}
}

func newSessionStore(cfg config.SessionsConfig) (session.Store, error) {
	switch cfg.Backend {
	case config.BackendBadger:
		store, err := sessionbadger.Open(cfg.BadgerDir)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendRedis:
		store, err := sessionredis.NewStore(sessionredis.WithRedisClientURL(cfg.RedisURL))
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return sessioninmemory.NewStore(sessioninmemory.WithCleanupInterval(time.Hour)), nil
	}
}
