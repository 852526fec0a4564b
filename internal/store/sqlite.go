package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/attestary/attestary/internal/record"
)

// SQLite persists records to a SQLite database file. It implements the
// Store interface and serves single-node deployments that want
// durability without running a database server.
type SQLite struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLite creates a SQLite store on an already-open database handle.
func NewSQLite(db *sql.DB, logger *zap.Logger) *SQLite {
	return &SQLite{db: db, logger: logger}
}

// OpenSQLite opens (creating if needed) the database file at path and
// applies the archive's pragmas: WAL for concurrent readers and a busy
// timeout so writers queue instead of failing.
func OpenSQLite(path string, logger *zap.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &BackendError{Op: "open", Err: err}
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, &BackendError{Op: "open", Err: fmt.Errorf("%s: %w", pragma, err)}
		}
	}
	return NewSQLite(db, logger), nil
}

// Provision implements Store.
func (s *SQLite) Provision(ctx context.Context, kinds ...record.Kind) error {
	for _, kind := range kinds {
		table, err := tableName(kind)
		if err != nil {
			return &BackendError{Op: "provision", Err: err}
		}
		ddl := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				agent_id TEXT    NOT NULL,
				ts       INTEGER NOT NULL,
				payload  BLOB    NOT NULL,
				PRIMARY KEY (agent_id, ts)
			)`, table)
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return &BackendError{Op: "provision", Err: fmt.Errorf("create table %s: %w", table, err)}
		}
		s.logger.Debug("record table ready", zap.String("table", table))
	}
	return nil
}

// Insert implements Store.
func (s *SQLite) Insert(ctx context.Context, kind record.Kind, agentID string, ts int64, payload []byte) error {
	table, err := tableName(kind)
	if err != nil {
		return &BackendError{Op: "insert", Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &BackendError{Op: "insert", Err: fmt.Errorf("begin tx: %w", err)}
	}
	defer tx.Rollback() //nolint:errcheck

	query := fmt.Sprintf("INSERT INTO %s (agent_id, ts, payload) VALUES (?, ?, ?)", table)
	if _, err := tx.ExecContext(ctx, query, agentID, ts, payload); err != nil {
		if isConstraintViolation(err) {
			return &ConflictError{Kind: kind, AgentID: agentID, Timestamp: ts}
		}
		return &BackendError{Op: "insert", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &BackendError{Op: "insert", Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}

// SelectRange implements Store.
func (s *SQLite) SelectRange(ctx context.Context, kind record.Kind, agentID string, start, end int64) ([]Row, error) {
	table, err := tableName(kind)
	if err != nil {
		return nil, &BackendError{Op: "select", Err: err}
	}

	query := fmt.Sprintf(`
		SELECT agent_id, ts, payload FROM %s
		WHERE agent_id = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC`, table)

	rows, err := s.db.QueryContext(ctx, query, agentID, start, end)
	if err != nil {
		return nil, &BackendError{Op: "select", Err: err}
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.AgentID, &r.Timestamp, &r.Payload); err != nil {
			return nil, &BackendError{Op: "select", Err: fmt.Errorf("scan row: %w", err)}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &BackendError{Op: "select", Err: err}
	}
	return out, nil
}

// SelectLatest implements Store.
func (s *SQLite) SelectLatest(ctx context.Context, kind record.Kind, agentID string) (*Row, error) {
	table, err := tableName(kind)
	if err != nil {
		return nil, &BackendError{Op: "select", Err: err}
	}

	query := fmt.Sprintf(`
		SELECT agent_id, ts, payload FROM %s
		WHERE agent_id = ?
		ORDER BY ts DESC LIMIT 1`, table)

	var r Row
	if err := s.db.QueryRowContext(ctx, query, agentID).Scan(&r.AgentID, &r.Timestamp, &r.Payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoRows
		}
		return nil, &BackendError{Op: "select", Err: err}
	}
	return &r, nil
}

// Ping implements Store.
func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &BackendError{Op: "ping", Err: err}
	}
	return nil
}

// Close implements Store.
func (s *SQLite) Close() {
	if err := s.db.Close(); err != nil {
		s.logger.Warn("close sqlite store", zap.Error(err))
	}
}

// isConstraintViolation reports whether err is SQLite's duplicate-key
// failure. The modernc driver surfaces it as a text error, e.g.
// "constraint failed: UNIQUE constraint failed: attestation_records...".
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed")
}
