//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

// Package sqlite provides a SQLite-backed execution history.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"

	"trpc.group/trpc-go/trpc-workflow-go/execution"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

const (
	sqliteCreateExecutions = "CREATE TABLE IF NOT EXISTS workflow_executions (" +
		"execution_id TEXT NOT NULL PRIMARY KEY, " +
		"workflow_name TEXT NOT NULL, " +
		"status TEXT NOT NULL, " +
		"started_at INTEGER NOT NULL, " +
		"response_json BLOB NOT NULL" +
		")"

	sqliteCreateStartedIndex = "CREATE INDEX IF NOT EXISTS idx_workflow_executions_started " +
		"ON workflow_executions (started_at)"

	sqliteUpsertExecution = "INSERT OR REPLACE INTO workflow_executions (" +
		"execution_id, workflow_name, status, started_at, response_json) VALUES (?, ?, ?, ?, ?)"

	sqliteSelectExecution = "SELECT response_json FROM workflow_executions WHERE execution_id = ?"

	// LIMIT -1 is unbounded in SQLite.
	sqliteListExecutions = "SELECT response_json FROM workflow_executions " +
		"ORDER BY started_at DESC, execution_id ASC LIMIT ?"
)

var _ execution.Store = (*Store)(nil)

// Store keeps every execution as a JSON blob next to a few indexed columns.
// It expects an initialized *sql.DB using a SQLite driver and creates the
// schema if needed.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over db.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if _, err := db.Exec(sqliteCreateExecutions); err != nil {
		return nil, fmt.Errorf("create executions table: %w", err)
	}
	if _, err := db.Exec(sqliteCreateStartedIndex); err != nil {
		return nil, fmt.Errorf("create executions index: %w", err)
	}
	return &Store{db: db}, nil
}

// Save implements execution.Store.
func (s *Store) Save(ctx context.Context, resp *workflow.ExecutionResponse) error {
	blob, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqliteUpsertExecution,
		resp.ExecutionID, resp.WorkflowName, string(resp.Status), resp.StartedAt.UnixNano(), blob,
	); err != nil {
		return fmt.Errorf("save execution %s: %w", resp.ExecutionID, err)
	}
	return nil
}

// Get implements execution.Store.
func (s *Store) Get(ctx context.Context, id string) (*workflow.ExecutionResponse, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, sqliteSelectExecution, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, execution.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select execution %s: %w", id, err)
	}
	return decode(blob)
}

// List implements execution.Store.
func (s *Store) List(ctx context.Context, limit int) ([]*workflow.ExecutionResponse, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, sqliteListExecutions, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []*workflow.ExecutionResponse
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		resp, err := decode(blob)
		if err != nil {
			return nil, err
		}
		out = append(out, resp)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func decode(blob []byte) (*workflow.ExecutionResponse, error) {
	var resp workflow.ExecutionResponse
	if err := json.Unmarshal(blob, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal execution: %w", err)
	}
	return &resp, nil
}
