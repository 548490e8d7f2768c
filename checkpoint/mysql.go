package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

// MySQLSaver persists checkpoints in MySQL, for multi-process deployments
// where a single-file SQLite database won't do. Schema mirrors SQLiteSaver's
// but uses MySQL's upsert and locking idioms, grounded in the teacher's
// graph/store/mysql.go (same driver, same DSN-based Open contract).
type MySQLSaver struct {
	db *sql.DB
}

// NewMySQLSaver opens a connection pool against dsn (a go-sql-driver/mysql
// DSN, e.g. "user:pass@tcp(127.0.0.1:3306)/dbname?parseTime=true") and
// migrates the checkpoint schema.
func NewMySQLSaver(dsn string) (*MySQLSaver, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: parse dsn: %w", err)
	}
	cfg.ParseTime = true

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open mysql: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &MySQLSaver{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQLSaver) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id VARCHAR(255) NOT NULL,
			checkpoint_id VARCHAR(64) NOT NULL,
			parent_checkpoint_id VARCHAR(64),
			ts DATETIME(6) NOT NULL,
			source VARCHAR(32) NOT NULL,
			step INT NOT NULL,
			payload LONGTEXT NOT NULL,
			PRIMARY KEY (thread_id, checkpoint_id),
			INDEX idx_thread_ts (thread_id, ts)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS pending_writes (
			thread_id VARCHAR(255) NOT NULL,
			parent_checkpoint_id VARCHAR(64) NOT NULL,
			task_id VARCHAR(255) NOT NULL,
			channel VARCHAR(255) NOT NULL,
			value LONGTEXT NOT NULL,
			PRIMARY KEY (thread_id, parent_checkpoint_id, task_id, channel)
		) ENGINE=InnoDB`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("checkpoint: migrate: %w", err)
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *MySQLSaver) Close() error { return s.db.Close() }

func (s *MySQLSaver) Put(ctx context.Context, threadID string, cp Checkpoint, meta Metadata, parentCheckpointID string) (string, error) {
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
		INSERT INTO checkpoints (thread_id, checkpoint_id, parent_checkpoint_id, ts, source, step, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE parent_checkpoint_id=VALUES(parent_checkpoint_id),
			ts=VALUES(ts), source=VALUES(source), step=VALUES(step), payload=VALUES(payload)
	`, threadID, cp.ID, parentArg, cp.Ts, string(meta.Source), meta.Step, string(payload))
	if err != nil {
		return "", fmt.Errorf("checkpoint: put: %w", err)
	}
	return cp.ID, nil
}

func (s *MySQLSaver) PutWrites(ctx context.Context, threadID, parentCheckpointID, taskID string, writes []PendingWrite) error {
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
		if _, err := tx.ExecContext(ctx, `
			INSERT IGNORE INTO pending_writes (thread_id, parent_checkpoint_id, task_id, channel, value)
			VALUES (?, ?, ?, ?, ?)
		`, threadID, parentCheckpointID, taskID, w.Channel, string(value)); err != nil {
			return fmt.Errorf("checkpoint: put writes: %w", err)
		}
	}
	return tx.Commit()
}

func (s *MySQLSaver) GetTuple(ctx context.Context, threadID, checkpointID string) (Tuple, error) {
	var (
		row      *sql.Row
		gotID    string
		parentID sql.NullString
		payload  string
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

func (s *MySQLSaver) List(ctx context.Context, threadID string, filter Filter) ([]Tuple, error) {
	query := `SELECT checkpoint_id, parent_checkpoint_id, payload FROM checkpoints WHERE thread_id = ?`
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
		)
		if err := rows.Scan(&id, &parentID, &payload); err != nil {
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
