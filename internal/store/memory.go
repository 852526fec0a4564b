package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/attestary/attestary/internal/record"
)

// Memory is an in-memory, thread-safe Store implementation. It backs
// tests and single-process deployments that do not need persistence
// across restarts.
type Memory struct {
	mu     sync.RWMutex
	tables map[record.Kind]map[string][]Row
}

// NewMemory creates an empty memory store. Tables must be provisioned
// before use, same as the SQL implementations.
func NewMemory() *Memory {
	return &Memory{tables: make(map[record.Kind]map[string][]Row)}
}

// Provision implements Store.
func (m *Memory) Provision(ctx context.Context, kinds ...record.Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, kind := range kinds {
		if _, err := tableName(kind); err != nil {
			return &BackendError{Op: "provision", Err: err}
		}
		if m.tables[kind] == nil {
			m.tables[kind] = make(map[string][]Row)
		}
	}
	return nil
}

// Insert implements Store.
func (m *Memory) Insert(_ context.Context, kind record.Kind, agentID string, ts int64, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	table, ok := m.tables[kind]
	if !ok {
		return &BackendError{Op: "insert", Err: errNotProvisioned(kind)}
	}

	rows := table[agentID]
	idx := sort.Search(len(rows), func(i int) bool { return rows[i].Timestamp >= ts })
	if idx < len(rows) && rows[idx].Timestamp == ts {
		return &ConflictError{Kind: kind, AgentID: agentID, Timestamp: ts}
	}

	row := Row{AgentID: agentID, Timestamp: ts, Payload: append([]byte(nil), payload...)}
	rows = append(rows, Row{})
	copy(rows[idx+1:], rows[idx:])
	rows[idx] = row
	table[agentID] = rows
	return nil
}

// SelectRange implements Store.
func (m *Memory) SelectRange(_ context.Context, kind record.Kind, agentID string, start, end int64) ([]Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	table, ok := m.tables[kind]
	if !ok {
		return nil, &BackendError{Op: "select", Err: errNotProvisioned(kind)}
	}

	var out []Row
	for _, row := range table[agentID] {
		if row.Timestamp < start || row.Timestamp > end {
			continue
		}
		out = append(out, Row{
			AgentID:   row.AgentID,
			Timestamp: row.Timestamp,
			Payload:   append([]byte(nil), row.Payload...),
		})
	}
	return out, nil
}

// SelectLatest implements Store.
func (m *Memory) SelectLatest(_ context.Context, kind record.Kind, agentID string) (*Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	table, ok := m.tables[kind]
	if !ok {
		return nil, &BackendError{Op: "select", Err: errNotProvisioned(kind)}
	}

	rows := table[agentID]
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	last := rows[len(rows)-1]
	return &Row{
		AgentID:   last.AgentID,
		Timestamp: last.Timestamp,
		Payload:   append([]byte(nil), last.Payload...),
	}, nil
}

// Ping implements Store.
func (m *Memory) Ping(_ context.Context) error { return nil }

// Close implements Store.
func (m *Memory) Close() {}

// Corrupt overwrites the stored payload at (kind, agentID, ts) in place.
// Tamper-detection tests use this to simulate backend manipulation; it
// has no production caller.
func (m *Memory) Corrupt(kind record.Kind, agentID string, ts int64, payload []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.tables[kind][agentID]
	for i := range rows {
		if rows[i].Timestamp == ts {
			rows[i].Payload = append([]byte(nil), payload...)
			return true
		}
	}
	return false
}

func errNotProvisioned(kind record.Kind) error {
	return fmt.Errorf("table for kind %q not provisioned", kind)
}
