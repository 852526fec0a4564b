package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/attestary/attestary/internal/envelope"
	"github.com/attestary/attestary/internal/record"
	"github.com/attestary/attestary/internal/store"
	"github.com/attestary/attestary/pkg/agentid"
)

// wellKnownKeyFields are the identity fields the default projection
// treats as key material.
var wellKnownKeyFields = []string{"public_key", "ek_tpm", "aik_tpm", "ekcert", "mtls_cert"}

// Read returns the agent's records with start <= timestamp <= end,
// ascending. Records that fail decoding or verification become faults;
// an agent with no records in the window yields an empty result, not
// an error.
func (m *Manager) Read(ctx context.Context, agentID string, start, end int64, serviceTag string) (*ReadResult, error) {
	id, err := agentid.Normalize(agentID)
	if err != nil {
		return nil, fmt.Errorf("agent id: %w", err)
	}
	kind := record.KindForService(m.serviceOrDefault(serviceTag))

	res, err := m.retrieve(ctx, kind, id, start, end, false)
	if err != nil {
		m.observe("read", "error")
		return nil, err
	}
	m.observe("read", "ok")
	return res, nil
}

// ReadLatest returns at most the single newest record with
// timestamp <= end. Pass EndOfTime for "newest overall".
func (m *Manager) ReadLatest(ctx context.Context, agentID string, end int64, serviceTag string) (*ReadResult, error) {
	id, err := agentid.Normalize(agentID)
	if err != nil {
		return nil, fmt.Errorf("agent id: %w", err)
	}
	kind := record.KindForService(m.serviceOrDefault(serviceTag))

	res, err := m.retrieve(ctx, kind, id, 0, end, true)
	if err != nil {
		m.observe("read_latest", "error")
		return nil, err
	}
	m.observe("read_latest", "ok")
	return res, nil
}

// BuildKeyList projects the agent's full record history into its key
// history: every key-bearing identity field from every verified
// record, oldest first.
func (m *Manager) BuildKeyList(ctx context.Context, agentID, serviceTag string) (*KeyList, error) {
	id, err := agentid.Normalize(agentID)
	if err != nil {
		return nil, fmt.Errorf("agent id: %w", err)
	}
	kind := record.KindForService(m.serviceOrDefault(serviceTag))

	res, err := m.retrieve(ctx, kind, id, 0, EndOfTime, false)
	if err != nil {
		m.observe("keylist", "error")
		return nil, err
	}
	list := &KeyList{Keys: []KeyMaterial{}, Faults: res.Faults}
	for _, rec := range res.Records {
		list.Keys = append(list.Keys, m.projectKeys(rec)...)
	}
	m.observe("keylist", "ok")
	return list, nil
}

// retrieve is the shared read path. When latestOnly is set with the
// unbounded end it takes the store's latest-row fast path; with a
// bounded end it scans the window and keeps the newest row, so both
// routes see the same row for the same data.
func (m *Manager) retrieve(ctx context.Context, kind record.Kind, agentID string, start, end int64, latestOnly bool) (*ReadResult, error) {
	var rows []store.Row
	if latestOnly && end == EndOfTime {
		row, err := m.store.SelectLatest(ctx, kind, agentID)
		if err != nil {
			if errors.Is(err, store.ErrNoRows) {
				return &ReadResult{Records: []*record.Record{}}, nil
			}
			return nil, err
		}
		rows = []store.Row{*row}
	} else {
		var err error
		rows, err = m.store.SelectRange(ctx, kind, agentID, start, end)
		if err != nil {
			return nil, err
		}
		if latestOnly && len(rows) > 1 {
			rows = rows[len(rows)-1:]
		}
	}

	res := &ReadResult{Records: []*record.Record{}}
	for _, row := range rows {
		rec, err := record.Decode(row.Payload)
		if err != nil {
			f := classifyFault(row.AgentID, row.Timestamp, err)
			m.reportFault(ctx, f)
			res.Faults = append(res.Faults, f)
			continue
		}
		if err := envelope.Verify(ctx, rec, agentID, m.keys, m.tsa); err != nil {
			f := classifyFault(row.AgentID, row.Timestamp, err)
			m.reportFault(ctx, f)
			res.Faults = append(res.Faults, f)
			continue
		}
		res.Records = append(res.Records, rec)
	}
	return res, nil
}

// defaultKeyProjection lifts the well-known key fields out of a
// record's identity section.
func defaultKeyProjection(rec *record.Record) []KeyMaterial {
	if len(rec.Identity) == 0 {
		return nil
	}
	var keys []KeyMaterial
	for _, name := range wellKnownKeyFields {
		value, ok := rec.Identity[name]
		if !ok || value == nil {
			continue
		}
		keys = append(keys, KeyMaterial{Timestamp: rec.Timestamp, Name: name, Value: value})
	}
	return keys
}
