// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package task persists A2A tasks so that task lookups survive restarts.
//
// The store shares the session database; tasks and sessions of a context
// live side by side.
package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"

	"github.com/kadirpekel/concierge/pkg/session"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS a2a_tasks (
    id VARCHAR(255) PRIMARY KEY,
    context_id VARCHAR(255) NOT NULL,
    status_json TEXT NOT NULL,
    history_json TEXT,
    artifacts_json TEXT,
    metadata_json TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

// SQLStore implements a2asrv.TaskStore on database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect string
	now     func() time.Time
}

// NewSQLStore creates the a2a_tasks table if needed. The caller owns db.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}
	switch dialect {
	case session.DialectPostgres, session.DialectMySQL, session.DialectSQLite:
	case "sqlite3":
		dialect = session.DialectSQLite
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		return nil, fmt.Errorf("failed to create a2a_tasks table: %w", err)
	}
	return &SQLStore{db: db, dialect: dialect, now: time.Now}, nil
}

// StoreFor returns a task store sharing the database of a SQL session
// service.
func StoreFor(svc *session.SQLService) (*SQLStore, error) {
	return NewSQLStore(svc.DB(), svc.Dialect())
}

// Save inserts or replaces the task. created_at is kept on update.
func (s *SQLStore) Save(ctx context.Context, task *a2a.Task) error {
	if task == nil {
		return errors.New("task is required")
	}
	status, err := json.Marshal(task.Status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	history, err := marshalOr(task.History, "[]")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	artifacts, err := marshalOr(task.Artifacts, "[]")
	if err != nil {
		return fmt.Errorf("failed to marshal artifacts: %w", err)
	}
	metadata, err := marshalOr(task.Metadata, "{}")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	now := s.now().UTC()
	_, err = s.db.ExecContext(ctx, session.Rebind(s.dialect, s.upsertQuery()),
		string(task.ID), task.ContextID, string(status), history, artifacts, metadata, now, now)
	if err != nil {
		return fmt.Errorf("failed to save task %s: %w", task.ID, err)
	}
	return nil
}

func (s *SQLStore) upsertQuery() string {
	const insert = `INSERT INTO a2a_tasks (id, context_id, status_json, history_json, artifacts_json, metadata_json, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if s.dialect == session.DialectMySQL {
		return insert + `
ON DUPLICATE KEY UPDATE context_id = VALUES(context_id), status_json = VALUES(status_json),
    history_json = VALUES(history_json), artifacts_json = VALUES(artifacts_json),
    metadata_json = VALUES(metadata_json), updated_at = VALUES(updated_at)`
	}
	return insert + `
ON CONFLICT (id) DO UPDATE SET context_id = excluded.context_id, status_json = excluded.status_json,
    history_json = excluded.history_json, artifacts_json = excluded.artifacts_json,
    metadata_json = excluded.metadata_json, updated_at = excluded.updated_at`
}

// Get returns a2a.ErrTaskNotFound for unknown ids.
func (s *SQLStore) Get(ctx context.Context, taskID a2a.TaskID) (*a2a.Task, error) {
	var (
		id, contextID, status        string
		history, artifacts, metadata sql.NullString
	)
	err := s.db.QueryRowContext(ctx, session.Rebind(s.dialect,
		`SELECT id, context_id, status_json, history_json, artifacts_json, metadata_json FROM a2a_tasks WHERE id = ?`),
		string(taskID)).Scan(&id, &contextID, &status, &history, &artifacts, &metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, a2a.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task %s: %w", taskID, err)
	}

	task := &a2a.Task{ID: a2a.TaskID(id), ContextID: contextID}
	if err := json.Unmarshal([]byte(status), &task.Status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status: %w", err)
	}
	if err := unmarshalNull(history, &task.History); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	if err := unmarshalNull(artifacts, &task.Artifacts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal artifacts: %w", err)
	}
	if err := unmarshalNull(metadata, &task.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return task, nil
}

// ListByContext returns the ids of the tasks of a context, oldest first.
func (s *SQLStore) ListByContext(ctx context.Context, contextID string) ([]a2a.TaskID, error) {
	rows, err := s.db.QueryContext(ctx, session.Rebind(s.dialect,
		`SELECT id FROM a2a_tasks WHERE context_id = ? ORDER BY created_at, id`), contextID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var ids []a2a.TaskID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, a2a.TaskID(id))
	}
	return ids, rows.Err()
}

func marshalOr[T any](v T, empty string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return empty, nil
	}
	return string(data), nil
}

func unmarshalNull(s sql.NullString, v any) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), v)
}

var _ a2asrv.TaskStore = (*SQLStore)(nil)
