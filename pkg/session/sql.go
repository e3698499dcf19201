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

package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/concierge/pkg/agent"

	// SQL drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported SQL dialects.
const (
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
	DialectSQLite   = "sqlite"
)

// SQLService implements Service on a SQL database. Each AppendEvent runs in
// one transaction; the database provides the locking.
type SQLService struct {
	db      *sql.DB
	dialect string
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
    app_name VARCHAR(255) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    id VARCHAR(255) NOT NULL,
    state_json TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (app_name, user_id, id)
)`,
	`CREATE TABLE IF NOT EXISTS app_states (
    app_name VARCHAR(255) PRIMARY KEY,
    state_json TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS user_states (
    app_name VARCHAR(255) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    state_json TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (app_name, user_id)
)`,
	`CREATE TABLE IF NOT EXISTS session_events (
    id VARCHAR(255) NOT NULL,
    app_name VARCHAR(255) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    session_id VARCHAR(255) NOT NULL,
    author VARCHAR(255),
    payload TEXT NOT NULL,
    sequence_num INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (app_name, user_id, session_id, id)
)`,
}

// MySQL has no CREATE INDEX IF NOT EXISTS, so indexes are created
// separately and "already exists" failures are tolerated there.
var indexStatements = []string{
	`CREATE INDEX idx_sessions_user ON sessions(app_name, user_id)`,
	`CREATE INDEX idx_events_session ON session_events(app_name, user_id, session_id, sequence_num)`,
}

// NewSQLService creates a SQL session service and initializes its schema.
// dialect is one of postgres, mysql or sqlite (sqlite3 is accepted).
func NewSQLService(db *sql.DB, dialect string) (*SQLService, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}
	switch dialect {
	case DialectPostgres, DialectMySQL, DialectSQLite:
	case "sqlite3":
		dialect = DialectSQLite
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &SQLService{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// OpenSQLService opens a database with the driver matching dialect and
// returns a service on top of it.
func OpenSQLService(dialect, dsn string) (*SQLService, error) {
	driver := dialect
	if dialect == DialectSQLite || dialect == "sqlite3" {
		driver = "sqlite3"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}
	if driver == "sqlite3" {
		// A single connection keeps in-memory databases consistent.
		db.SetMaxOpenConns(1)
	}
	s, err := NewSQLService(db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB returns the underlying connection pool so other stores can share it.
func (s *SQLService) DB() *sql.DB { return s.db }

// Dialect returns the normalized SQL dialect.
func (s *SQLService) Dialect() string { return s.dialect }

func (s *SQLService) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	for _, stmt := range indexStatements {
		if s.dialect != DialectMySQL {
			stmt = strings.Replace(stmt, "CREATE INDEX", "CREATE INDEX IF NOT EXISTS", 1)
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil && s.dialect != DialectMySQL {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLService) Close() error {
	return s.db.Close()
}

// Get loads a session with its merged app, user and session state.
func (s *SQLService) Get(ctx context.Context, req *GetRequest) (*GetResponse, error) {
	var stateJSON sql.NullString
	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT state_json, updated_at FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`),
		req.AppName, req.UserID, req.SessionID).Scan(&stateJSON, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	sessState, err := decodeState(stateJSON.String)
	if err != nil {
		return nil, err
	}
	appState, userState, err := s.scopedState(ctx, s.db, req.AppName, req.UserID)
	if err != nil {
		return nil, err
	}

	sess := newMemorySession(req.AppName, req.UserID, req.SessionID, mergeState(appState, userState, sessState), updatedAt)
	events, err := s.loadEvents(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	sess.events.events = events
	return &GetResponse{Session: sess}, nil
}

// Create inserts a new session. App and user scoped keys in req.State go to
// their shared tables.
func (s *SQLService) Create(ctx context.Context, req *CreateRequest) (*CreateResponse, error) {
	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	app, user, sessState := splitState(req.State)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.upsertScopes(ctx, tx, req.AppName, req.UserID, app, user, now); err != nil {
		return nil, err
	}
	stateJSON, err := json.Marshal(sessState)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		s.q(`INSERT INTO sessions (app_name, user_id, id, state_json, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`),
		req.AppName, req.UserID, id, string(stateJSON), now, now); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	appState, userState, err := s.scopedState(ctx, tx, req.AppName, req.UserID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	sess := newMemorySession(req.AppName, req.UserID, id, mergeState(appState, userState, sessState), now)
	return &CreateResponse{Session: sess}, nil
}

// AppendEvent persists a complete event and its state delta. It fails with
// ErrStaleSession when the stored session is newer than the one given.
func (s *SQLService) AppendEvent(ctx context.Context, session Session, event *agent.Event) error {
	if session == nil || event == nil {
		return errors.New("session and event are required")
	}
	if event.Partial {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var stateJSON sql.NullString
	var updatedAt time.Time
	err = tx.QueryRowContext(ctx,
		s.q(`SELECT state_json, updated_at FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`),
		session.AppName(), session.UserID(), session.ID()).Scan(&stateJSON, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check session staleness: %w", err)
	}
	// Second precision: some drivers truncate timestamps.
	if updatedAt.Unix() > session.LastUpdateTime().Unix()+1 {
		return fmt.Errorf("%w: stored=%s loaded=%s", ErrStaleSession,
			updatedAt.Format(time.RFC3339), session.LastUpdateTime().Format(time.RFC3339))
	}

	now := time.Now().UTC()
	app, user, sessDelta := splitState(event.Actions.StateDelta)
	if err := s.upsertScopes(ctx, tx, session.AppName(), session.UserID(), app, user, now); err != nil {
		return err
	}

	sessState, err := decodeState(stateJSON.String)
	if err != nil {
		return err
	}
	applyDelta(sessState, sessDelta)
	newState, err := json.Marshal(sessState)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		s.q(`UPDATE sessions SET state_json = ?, updated_at = ? WHERE app_name = ? AND user_id = ? AND id = ?`),
		string(newState), now, session.AppName(), session.UserID(), session.ID()); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	var seq int
	if err := tx.QueryRowContext(ctx,
		s.q(`SELECT COALESCE(MAX(sequence_num), 0) + 1 FROM session_events WHERE app_name = ? AND user_id = ? AND session_id = ?`),
		session.AppName(), session.UserID(), session.ID()).Scan(&seq); err != nil {
		return fmt.Errorf("failed to get sequence number: %w", err)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = now
	}
	payload, err := encodeEvent(event)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		s.q(`INSERT INTO session_events (id, app_name, user_id, session_id, author, payload, sequence_num, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		event.ID, session.AppName(), session.UserID(), session.ID(), event.Author, string(payload), seq, event.Timestamp.UTC()); err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	if ms, ok := session.(*memorySession); ok {
		ms.apply(event, now)
	}
	return nil
}

// List returns the sessions of an app, optionally narrowed to one user.
// Event history is not loaded.
func (s *SQLService) List(ctx context.Context, req *ListRequest) (*ListResponse, error) {
	query := `SELECT user_id, id, state_json, updated_at FROM sessions WHERE app_name = ?`
	args := []any{req.AppName}
	if req.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, req.UserID)
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var userID, id string
		var stateJSON sql.NullString
		var updatedAt time.Time
		if err := rows.Scan(&userID, &id, &stateJSON, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		state, err := decodeState(stateJSON.String)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, newMemorySession(req.AppName, userID, id, state, updatedAt))
	}
	return &ListResponse{Sessions: sessions}, rows.Err()
}

// Delete removes a session and its events.
func (s *SQLService) Delete(ctx context.Context, req *DeleteRequest) error {
	if _, err := s.db.ExecContext(ctx,
		s.q(`DELETE FROM session_events WHERE app_name = ? AND user_id = ? AND session_id = ?`),
		req.AppName, req.UserID, req.SessionID); err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		s.q(`DELETE FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`),
		req.AppName, req.UserID, req.SessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLService) scopedState(ctx context.Context, db querier, appName, userID string) (app, user map[string]any, err error) {
	app, err = s.loadStateRow(ctx, db, `SELECT state_json FROM app_states WHERE app_name = ?`, appName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get app state: %w", err)
	}
	user, err = s.loadStateRow(ctx, db, `SELECT state_json FROM user_states WHERE app_name = ? AND user_id = ?`, appName, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get user state: %w", err)
	}
	return app, user, nil
}

func (s *SQLService) loadStateRow(ctx context.Context, db querier, query string, args ...any) (map[string]any, error) {
	var stateJSON string
	err := db.QueryRowContext(ctx, s.q(query), args...).Scan(&stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return make(map[string]any), nil
	}
	if err != nil {
		return nil, err
	}
	return decodeState(stateJSON)
}

func (s *SQLService) upsertScopes(ctx context.Context, tx *sql.Tx, appName, userID string, app, user map[string]any, now time.Time) error {
	if len(app) > 0 {
		existing, err := s.loadStateRow(ctx, tx, `SELECT state_json FROM app_states WHERE app_name = ?`, appName)
		if err != nil {
			return fmt.Errorf("failed to get app state: %w", err)
		}
		applyDelta(existing, app)
		b, err := json.Marshal(existing)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.upsertAppStateQuery(), appName, string(b), now); err != nil {
			return fmt.Errorf("failed to save app state: %w", err)
		}
	}
	if len(user) > 0 {
		existing, err := s.loadStateRow(ctx, tx, `SELECT state_json FROM user_states WHERE app_name = ? AND user_id = ?`, appName, userID)
		if err != nil {
			return fmt.Errorf("failed to get user state: %w", err)
		}
		applyDelta(existing, user)
		b, err := json.Marshal(existing)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.upsertUserStateQuery(), appName, userID, string(b), now); err != nil {
			return fmt.Errorf("failed to save user state: %w", err)
		}
	}
	return nil
}

func (s *SQLService) loadEvents(ctx context.Context, req *GetRequest) ([]*agent.Event, error) {
	query := `SELECT payload FROM session_events WHERE app_name = ? AND user_id = ? AND session_id = ?`
	args := []any{req.AppName, req.UserID, req.SessionID}
	if !req.After.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, req.After.UTC())
	}
	if req.NumRecentEvents > 0 {
		query = `SELECT payload FROM (` + strings.Replace(query, "SELECT payload", "SELECT payload, sequence_num", 1) +
			` ORDER BY sequence_num DESC LIMIT ` + strconv.Itoa(req.NumRecentEvents) + `) recent ORDER BY sequence_num ASC`
	} else {
		query += " ORDER BY sequence_num ASC"
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*agent.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		ev, err := decodeEvent([]byte(payload))
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *SQLService) upsertAppStateQuery() string {
	switch s.dialect {
	case DialectPostgres:
		return `INSERT INTO app_states (app_name, state_json, updated_at) VALUES ($1, $2, $3)
                ON CONFLICT (app_name) DO UPDATE SET state_json = $2, updated_at = $3`
	case DialectMySQL:
		return `INSERT INTO app_states (app_name, state_json, updated_at) VALUES (?, ?, ?)
                ON DUPLICATE KEY UPDATE state_json = VALUES(state_json), updated_at = VALUES(updated_at)`
	default:
		return `INSERT INTO app_states (app_name, state_json, updated_at) VALUES (?, ?, ?)
                ON CONFLICT (app_name) DO UPDATE SET state_json = excluded.state_json, updated_at = excluded.updated_at`
	}
}

func (s *SQLService) upsertUserStateQuery() string {
	switch s.dialect {
	case DialectPostgres:
		return `INSERT INTO user_states (app_name, user_id, state_json, updated_at) VALUES ($1, $2, $3, $4)
                ON CONFLICT (app_name, user_id) DO UPDATE SET state_json = $3, updated_at = $4`
	case DialectMySQL:
		return `INSERT INTO user_states (app_name, user_id, state_json, updated_at) VALUES (?, ?, ?, ?)
                ON DUPLICATE KEY UPDATE state_json = VALUES(state_json), updated_at = VALUES(updated_at)`
	default:
		return `INSERT INTO user_states (app_name, user_id, state_json, updated_at) VALUES (?, ?, ?, ?)
                ON CONFLICT (app_name, user_id) DO UPDATE SET state_json = excluded.state_json, updated_at = excluded.updated_at`
	}
}

// q rebinds query for the service dialect.
func (s *SQLService) q(query string) string {
	return Rebind(s.dialect, query)
}

// Rebind rewrites ? placeholders to $n for postgres.
func Rebind(dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 1
	for _, c := range query {
		if c == '?' {
			b.WriteString("$" + strconv.Itoa(n))
			n++
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func decodeState(raw string) (map[string]any, error) {
	state := make(map[string]any)
	if raw == "" {
		return state, nil
	}
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if state == nil {
		state = make(map[string]any)
	}
	return state, nil
}

var _ Service = (*SQLService)(nil)
