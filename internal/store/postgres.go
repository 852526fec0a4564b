package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/attestary/attestary/internal/record"
)

// uniqueViolation is the PostgreSQL SQLSTATE for a primary-key or unique
// constraint violation.
const uniqueViolation = "23505"

// Postgres persists records to a PostgreSQL database. It implements the
// Store interface.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres creates a Postgres store backed by the given connection pool.
func NewPostgres(pool *pgxpool.Pool, logger *zap.Logger) *Postgres {
	return &Postgres{pool: pool, logger: logger}
}

// Provision implements Store.
func (p *Postgres) Provision(ctx context.Context, kinds ...record.Kind) error {
	for _, kind := range kinds {
		table, err := tableName(kind)
		if err != nil {
			return &BackendError{Op: "provision", Err: err}
		}
		ddl := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				agent_id VARCHAR(128) NOT NULL,
				ts       BIGINT       NOT NULL,
				payload  BYTEA        NOT NULL,
				PRIMARY KEY (agent_id, ts)
			)`, table)
		if _, err := p.pool.Exec(ctx, ddl); err != nil {
			return &BackendError{Op: "provision", Err: fmt.Errorf("create table %s: %w", table, err)}
		}
		p.logger.Debug("record table ready", zap.String("table", table))
	}
	return nil
}

// Insert implements Store.
func (p *Postgres) Insert(ctx context.Context, kind record.Kind, agentID string, ts int64, payload []byte) error {
	table, err := tableName(kind)
	if err != nil {
		return &BackendError{Op: "insert", Err: err}
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return &BackendError{Op: "insert", Err: fmt.Errorf("begin tx: %w", err)}
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	query := fmt.Sprintf("INSERT INTO %s (agent_id, ts, payload) VALUES ($1, $2, $3)", table)
	if _, err := tx.Exec(ctx, query, agentID, ts, payload); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return &ConflictError{Kind: kind, AgentID: agentID, Timestamp: ts}
		}
		return &BackendError{Op: "insert", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return &BackendError{Op: "insert", Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}

// SelectRange implements Store.
func (p *Postgres) SelectRange(ctx context.Context, kind record.Kind, agentID string, start, end int64) ([]Row, error) {
	table, err := tableName(kind)
	if err != nil {
		return nil, &BackendError{Op: "select", Err: err}
	}

	query := fmt.Sprintf(`
		SELECT agent_id, ts, payload FROM %s
		WHERE agent_id = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts ASC`, table)

	rows, err := p.pool.Query(ctx, query, agentID, start, end)
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
func (p *Postgres) SelectLatest(ctx context.Context, kind record.Kind, agentID string) (*Row, error) {
	table, err := tableName(kind)
	if err != nil {
		return nil, &BackendError{Op: "select", Err: err}
	}

	query := fmt.Sprintf(`
		SELECT agent_id, ts, payload FROM %s
		WHERE agent_id = $1
		ORDER BY ts DESC LIMIT 1`, table)

	var r Row
	if err := p.pool.QueryRow(ctx, query, agentID).Scan(&r.AgentID, &r.Timestamp, &r.Payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoRows
		}
		return nil, &BackendError{Op: "select", Err: err}
	}
	return &r, nil
}

// Ping implements Store.
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return &BackendError{Op: "ping", Err: err}
	}
	return nil
}

// Close implements Store.
func (p *Postgres) Close() {
	p.pool.Close()
}
