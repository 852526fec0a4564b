// Package store persists encoded evidence records.
//
// The archive keeps one table per record kind, keyed by (agent_id, ts).
// Payloads are opaque byte blobs; signing, verification, and decoding
// happen above this layer. All implementations share the Store
// interface and the same error contract, so callers never branch on the
// backing engine.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/attestary/attestary/internal/record"
)

// Row is a persisted record as the store sees it.
type Row struct {
	AgentID   string
	Timestamp int64
	Payload   []byte
}

// ErrNoRows is returned by SelectLatest when the agent has no records of
// the requested kind.
var ErrNoRows = errors.New("no matching records")

// ConflictError is returned by Insert when a record already exists for
// the same agent and timestamp. The archive never overwrites evidence;
// callers surface the conflict to the producer.
type ConflictError struct {
	Kind      record.Kind
	AgentID   string
	Timestamp int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s record already archived for %s at %d", e.Kind, e.AgentID, e.Timestamp)
}

// BackendError wraps a failure of the backing engine: connection loss,
// SQL errors, missing tables. Handlers should convert this to HTTP 503
// rather than 500.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Store is the interface for record persistence.
// Memory, Postgres, and SQLite implement this interface.
type Store interface {
	// Provision creates the tables for the given kinds if they do not
	// exist. Idempotent; safe to call on every startup.
	Provision(ctx context.Context, kinds ...record.Kind) error

	// Insert atomically persists one record. A record already present at
	// (agentID, ts) fails with *ConflictError and leaves the stored row
	// untouched.
	Insert(ctx context.Context, kind record.Kind, agentID string, ts int64, payload []byte) error

	// SelectRange returns the agent's rows with start <= ts <= end,
	// ascending by timestamp. An empty window yields an empty slice.
	SelectRange(ctx context.Context, kind record.Kind, agentID string, start, end int64) ([]Row, error)

	// SelectLatest returns the agent's newest row, or ErrNoRows.
	SelectLatest(ctx context.Context, kind record.Kind, agentID string) (*Row, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend connections.
	Close()
}

// tableName returns the backing table for kind.
func tableName(kind record.Kind) (string, error) {
	switch kind {
	case record.KindAttestation:
		return "attestation_records", nil
	case record.KindRegistration:
		return "registration_records", nil
	default:
		return "", fmt.Errorf("unknown record kind %q", kind)
	}
}
