// Package sqlite implements autohands.TaskStore using pure-Go SQLite.
// Zero CGO required. A single tasks table holds the full Task record;
// dead-lettered rows are retained for operator inspection, making the
// file double as a dead-letter archive.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	autohands "github.com/autohands/runloop"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. When set, opening the
// store, Init, Put and Close emit logs (Init and Put with their duration);
// Get, ListPending and ListDeadLettered do not log, and no row counts are
// logged. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements autohands.TaskStore backed by a local SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath. It opens a
// single shared connection pool with SetMaxOpenConns(1) so that all
// goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates the tasks table and its indexes.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")

	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		task_type TEXT NOT NULL,
		priority INTEGER NOT NULL,
		payload TEXT,
		correlation_id TEXT,
		reply_channel_id TEXT,
		reply_connection_id TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		submitted_at INTEGER NOT NULL,
		first_dispatched_at INTEGER,
		completed_at INTEGER,
		visible_at INTEGER,
		failure_reason TEXT,
		last_error TEXT
	)`)
	if err != nil {
		return &autohands.ErrStoreError{Op: "init.create_table", Err: err}
	}

	for _, ddl := range []string{
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_correlation ON tasks(correlation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_visible_at ON tasks(visible_at)`,
	} {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return &autohands.ErrStoreError{Op: "init.create_index", Err: err}
		}
	}

	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// Put inserts or replaces a task's full row.
func (s *Store) Put(ctx context.Context, t *autohands.Task) error {
	start := time.Now()
	s.logger.Debug("sqlite: put task", "id", t.ID, "task_type", t.TaskType, "status", t.Status)

	var replyChannelID, replyConnectionID *string
	if t.ReplyAddress != nil {
		replyChannelID = &t.ReplyAddress.ChannelID
		replyConnectionID = &t.ReplyAddress.ConnectionID
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO tasks (
			id, task_type, priority, payload, correlation_id,
			reply_channel_id, reply_connection_id, attempts, status,
			submitted_at, first_dispatched_at, completed_at, visible_at,
			failure_reason, last_error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TaskType, int(t.Priority), string(t.Payload), t.CorrelationID,
		replyChannelID, replyConnectionID, t.Attempts, string(t.Status),
		t.SubmittedAt, nullIfZero(t.FirstDispatchedAt), nullIfZero(t.CompletedAt), t.VisibleAt,
		t.FailureReason, t.LastError,
	)
	if err != nil {
		s.logger.Error("sqlite: put task failed", "id", t.ID, "error", err, "duration", time.Since(start))
		return &autohands.ErrStoreError{Op: "put", Err: err}
	}
	s.logger.Debug("sqlite: put task ok", "id", t.ID, "duration", time.Since(start))
	return nil
}

// Get returns a single task by ID.
func (s *Store) Get(ctx context.Context, id string) (*autohands.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, task_type, priority, payload, correlation_id,
			reply_channel_id, reply_connection_id, attempts, status,
			submitted_at, first_dispatched_at, completed_at, visible_at,
			failure_reason, last_error
		 FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, &autohands.ErrNotFound{ID: id}
	}
	if err != nil {
		return nil, &autohands.ErrStoreError{Op: "get", Err: err}
	}
	return t, nil
}

// ListPending returns every task in Pending or Running status, oldest
// first.
func (s *Store) ListPending(ctx context.Context) ([]*autohands.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_type, priority, payload, correlation_id,
			reply_channel_id, reply_connection_id, attempts, status,
			submitted_at, first_dispatched_at, completed_at, visible_at,
			failure_reason, last_error
		 FROM tasks WHERE status IN (?, ?) ORDER BY submitted_at ASC`,
		string(autohands.StatusPending), string(autohands.StatusRunning))
	if err != nil {
		return nil, &autohands.ErrStoreError{Op: "list_pending", Err: err}
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListDeadLettered returns up to limit dead-lettered tasks, oldest first.
// limit <= 0 means unbounded.
func (s *Store) ListDeadLettered(ctx context.Context, limit int) ([]*autohands.Task, error) {
	query := `SELECT id, task_type, priority, payload, correlation_id,
			reply_channel_id, reply_connection_id, attempts, status,
			submitted_at, first_dispatched_at, completed_at, visible_at,
			failure_reason, last_error
		 FROM tasks WHERE status = ? ORDER BY submitted_at ASC`
	args := []any{string(autohands.StatusDeadLettered)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &autohands.ErrStoreError{Op: "list_dead_lettered", Err: err}
	}
	defer rows.Close()
	return scanTasks(rows)
}

// Close closes the underlying database connection.
func (s *Store) Close(ctx context.Context) error {
	s.logger.Debug("sqlite: closing store")
	if err := s.db.Close(); err != nil {
		s.logger.Error("sqlite: close failed", "error", err)
		return &autohands.ErrStoreError{Op: "close", Err: err}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*autohands.Task, error) {
	var t autohands.Task
	var payload sql.NullString
	var priority int
	var status string
	var replyChannelID, replyConnectionID sql.NullString
	var firstDispatchedAt, completedAt, visibleAt sql.NullInt64

	err := row.Scan(&t.ID, &t.TaskType, &priority, &payload, &t.CorrelationID,
		&replyChannelID, &replyConnectionID, &t.Attempts, &status,
		&t.SubmittedAt, &firstDispatchedAt, &completedAt, &visibleAt,
		&t.FailureReason, &t.LastError)
	if err != nil {
		return nil, err
	}

	t.Priority = autohands.Priority(priority)
	t.Status = autohands.Status(status)
	if payload.Valid {
		t.Payload = json.RawMessage(payload.String)
	}
	if replyChannelID.Valid {
		t.ReplyAddress = &autohands.ReplyAddress{
			ChannelID:    replyChannelID.String,
			ConnectionID: replyConnectionID.String,
		}
	}
	t.FirstDispatchedAt = firstDispatchedAt.Int64
	t.CompletedAt = completedAt.Int64
	t.VisibleAt = visibleAt.Int64
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*autohands.Task, error) {
	var out []*autohands.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, &autohands.ErrStoreError{Op: "scan", Err: err}
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &autohands.ErrStoreError{Op: "iterate", Err: err}
	}
	return out, nil
}

func nullIfZero(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

var _ autohands.TaskStore = (*Store)(nil)
