package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteSaver persists checkpoints and pending writes in a single SQLite
// file. Designed for development, single-process deployments, and local
// workflows needing durability without running a database server.
//
// Schema:
//   - checkpoints: one row per (thread_id, checkpoint_id)
//   - pending_writes: one row per (thread_id, parent_checkpoint_id, task_id, channel)
//
// SQLiteSaver uses WAL mode so concurrent readers don't block the writer,
// matching the teacher's SQLiteStore configuration (graph/store/sqlite.go).
type SQLiteSaver struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteSaver opens (and migrates) a SQLite-backed Saver at path. Use
// ":memory:" for an ephemeral database.
func NewSQLiteSaver(path string) (*SQLiteSaver, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("checkpoint: %s: %w", pragma, err)
		}
	}

	s := &SQLiteSaver{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSaver) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id TEXT NOT NULL,
			checkpoint_id TEXT NOT NULL,
			parent_checkpoint_id TEXT,
			ts TIMESTAMP NOT NULL,
			source TEXT NOT NULL,
			step INTEGER NOT NULL,
			payload TEXT NOT NULL,
			PRIMARY KEY (thread_id, checkpoint_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_thread_ts ON checkpoints(thread_id, ts DESC)`,
		`CREATE TABLE IF NOT EXISTS pending_writes (
			thread_id TEXT NOT NULL,
			parent_checkpoint_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (thread_id, parent_checkpoint_id, task_id, channel)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("checkpoint: migrate: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteSaver) Close() error {
	return s.db.Close()
}

func (s *SQLiteSaver) Put(ctx context.Context, threadID string, cp Checkpoint, meta Metadata, parentCheckpointID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	cp.ThreadID = threadID
	cp.Metadata = meta
	if cp.Ts.IsZero() {
		cp.Ts = time.Now().UTC()
	}

	payload, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("checkpoint: marshal: %w", err)
	}

	var parentArg any
	if parentCheckpointID != "" {
		parentArg = parentCheckpointID
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO checkpoints
			(thread_id, checkpoint_id, parent_checkpoint_id, ts, source, step, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, threadID, cp.ID, parentArg, cp.Ts, string(meta.Source), meta.Step, string(payload))
	if err != nil {
		return "", fmt.Errorf("checkpoint: put: %w", err)
	}
	return cp.ID, nil
}

func (s *SQLiteSaver) PutWrites(ctx context.Context, threadID, parentCheckpointID, taskID string, writes []PendingWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("checkpoint: put writes begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, w := range writes {
		value, err := json.Marshal(w.Value)
		if err != nil {
			return fmt.Errorf("checkpoint: marshal write: %w", err)
		}
		// INSERT OR IGNORE makes PutWrites idempotent for a retried taskID:
		// the (thread, parent, task, channel) primary key dedups the write.
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO pending_writes
				(thread_id, parent_checkpoint_id, task_id, channel, value)
			VALUES (?, ?, ?, ?, ?)
		`, threadID, parentCheckpointID, taskID, w.Channel, string(value)); err != nil {
			return fmt.Errorf("checkpoint: put writes: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteSaver) GetTuple(ctx context.Context, threadID, checkpointID string) (Tuple, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		row      *sql.Row
		payload  string
		parentID sql.NullString
	)
	if checkpointID == "" {
		row = s.db.QueryRowContext(ctx, `
			SELECT checkpoint_id, parent_checkpoint_id, payload FROM checkpoints
			WHERE thread_id = ? ORDER BY ts DESC LIMIT 1
		`, threadID)
	} else {
		row = s.db.QueryRowContext(ctx, `
			SELECT checkpoint_id, parent_checkpoint_id, payload FROM checkpoints
			WHERE thread_id = ? AND checkpoint_id = ?
		`, threadID, checkpointID)
	}

	var gotID string
	if err := row.Scan(&gotID, &parentID, &payload); err != nil {
		if err == sql.ErrNoRows {
			return Tuple{}, ErrNotFound
		}
		return Tuple{}, fmt.Errorf("checkpoint: get tuple: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal([]byte(payload), &cp); err != nil {
		return Tuple{}, fmt.Errorf("checkpoint: unmarshal: %w", err)
	}

	var parent *Config
	if parentID.Valid {
		parent = &Config{ThreadID: threadID, CheckpointID: parentID.String}
	}

	return Tuple{
		Config:       Config{ThreadID: threadID, CheckpointID: gotID},
		Checkpoint:   cp,
		Metadata:     cp.Metadata,
		ParentConfig: parent,
	}, nil
}

func (s *SQLiteSaver) List(ctx context.Context, threadID string, filter Filter) ([]Tuple, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT checkpoint_id, parent_checkpoint_id, payload, ts FROM checkpoints WHERE thread_id = ?`
	args := []any{threadID}
	if filter.Before != "" {
		query += ` AND ts < (SELECT ts FROM checkpoints WHERE thread_id = ? AND checkpoint_id = ?)`
		args = append(args, threadID, filter.Before)
	}
	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, string(filter.Source))
	}
	query += ` ORDER BY ts DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: list: %w", err)
	}
	defer rows.Close()

	var out []Tuple
	for rows.Next() {
		var (
			id, payload string
			parentID    sql.NullString
			ts          time.Time
		)
		if err := rows.Scan(&id, &parentID, &payload, &ts); err != nil {
			return nil, fmt.Errorf("checkpoint: list scan: %w", err)
		}
		var cp Checkpoint
		if err := json.Unmarshal([]byte(payload), &cp); err != nil {
			return nil, fmt.Errorf("checkpoint: list unmarshal: %w", err)
		}
		var parent *Config
		if parentID.Valid {
			parent = &Config{ThreadID: threadID, CheckpointID: parentID.String}
		}
		out = append(out, Tuple{
			Config:       Config{ThreadID: threadID, CheckpointID: id},
			Checkpoint:   cp,
			Metadata:     cp.Metadata,
			ParentConfig: parent,
		})
	}
	return out, rows.Err()
}
