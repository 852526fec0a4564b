package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/attestary/attestary/internal/admission"
	"github.com/attestary/attestary/internal/envelope"
	"github.com/attestary/attestary/internal/keydir"
	"github.com/attestary/attestary/internal/record"
	"github.com/attestary/attestary/internal/store"
	"github.com/attestary/attestary/internal/timestamp"
	"github.com/attestary/attestary/pkg/agentid"
)

// Manager coordinates the archive: it assembles and signs incoming
// records, persists them, and verifies everything it reads back.
type Manager struct {
	store  store.Store
	signer *envelope.Signer
	keys   keydir.Directory
	tsa    timestamp.Verifier
	logger *zap.Logger

	checker        admission.Checker        // nil = no admission screening
	notifier       AlertNotifier            // nil = no fault dispatch
	metrics        func(op, outcome string) // nil = no metrics
	projectKeys    func(rec *record.Record) []KeyMaterial
	defaultService string
	now            func() time.Time
}

// NewManager builds a Manager over the given store and cryptographic
// collaborators. Optional collaborators are attached with the Set
// methods.
func NewManager(st store.Store, signer *envelope.Signer, keys keydir.Directory, tsa timestamp.Verifier, logger *zap.Logger) *Manager {
	return &Manager{
		store:          st,
		signer:         signer,
		keys:           keys,
		tsa:            tsa,
		logger:         logger,
		projectKeys:    defaultKeyProjection,
		defaultService: "attestation",
		now:            time.Now,
	}
}

// SetAdmission installs an admission checker consulted before a record
// is signed and stored.
func (m *Manager) SetAdmission(c admission.Checker) {
	m.checker = c
}

// SetNotifier installs an alert notifier for faults discovered during
// reads.
func (m *Manager) SetNotifier(n AlertNotifier) {
	m.notifier = n
}

// SetMetricsRecorder installs a callback invoked once per archive
// operation with its outcome, and once per fault with the fault type.
func (m *Manager) SetMetricsRecorder(rec func(op, outcome string)) {
	m.metrics = rec
}

// SetKeyProjector replaces the identity-to-key projection used by
// BuildKeyList.
func (m *Manager) SetKeyProjector(p func(rec *record.Record) []KeyMaterial) {
	m.projectKeys = p
}

// SetDefaultService sets the service tag assumed when a request leaves
// it empty or passes "auto".
func (m *Manager) SetDefaultService(tag string) {
	m.defaultService = tag
}

// SetClock overrides the time source. Tests use this to archive
// records at fixed timestamps.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// CreateRequest carries the producer-supplied parts of a new record.
type CreateRequest struct {
	AgentID    string
	ServiceTag string
	// Timestamp is the record time in Unix seconds; zero means the
	// manager's clock. Backfill tooling sets it explicitly.
	Timestamp        int64
	Identity         map[string]any
	Evidence         map[string]any
	MBPolicy         json.RawMessage
	RuntimePolicy    json.RawMessage
	SignedAttributes []string
}

// Create assembles a record from the request, screens it, signs it,
// and persists it. The returned record carries the signature envelope
// and timestamp proof exactly as archived.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*record.Record, error) {
	id, err := agentid.Normalize(req.AgentID)
	if err != nil {
		return nil, fmt.Errorf("agent id: %w", err)
	}
	tag := m.serviceOrDefault(req.ServiceTag)
	kind := record.KindForService(tag)

	ts := req.Timestamp
	if ts == 0 {
		ts = m.now().UTC().Unix()
	}

	rec := &record.Record{
		AgentID:       id,
		Timestamp:     ts,
		Kind:          kind,
		Identity:      req.Identity,
		Evidence:      req.Evidence,
		MBPolicy:      req.MBPolicy,
		RuntimePolicy: req.RuntimePolicy,
	}

	if m.checker != nil {
		report, err := m.checker.Check(ctx, rec, tag)
		if err != nil {
			m.observe("create", "error")
			return nil, fmt.Errorf("admission check: %w", err)
		}
		if report.Rejected {
			m.observe("create", "rejected")
			m.logger.Warn("record rejected by admission",
				zap.String("agent_id", id),
				zap.Int("score", report.Score),
				zap.String("severity", report.Severity))
			return nil, &admission.Rejected{Report: report}
		}
	}

	if err := m.signer.Sign(ctx, rec, req.SignedAttributes); err != nil {
		m.observe("create", "error")
		return nil, fmt.Errorf("sign record: %w", err)
	}

	payload, err := record.Encode(rec)
	if err != nil {
		m.observe("create", "error")
		return nil, err
	}

	if err := m.store.Insert(ctx, kind, id, ts, payload); err != nil {
		var conflict *store.ConflictError
		if errors.As(err, &conflict) {
			m.observe("create", "conflict")
			return nil, err
		}
		m.observe("create", "error")
		return nil, err
	}

	m.logger.Info("record archived",
		zap.String("agent_id", id),
		zap.String("kind", string(kind)),
		zap.Int64("timestamp", ts),
		zap.Int("bytes", len(payload)))
	m.observe("create", "ok")
	return rec, nil
}

func (m *Manager) serviceOrDefault(tag string) string {
	if tag == "" || tag == "auto" {
		return m.defaultService
	}
	return tag
}

func (m *Manager) observe(op, outcome string) {
	if m.metrics != nil {
		m.metrics(op, outcome)
	}
}

// reportFault logs and dispatches one read fault (non-fatal).
func (m *Manager) reportFault(ctx context.Context, f Fault) {
	m.logger.Warn("record failed verification",
		zap.String("agent_id", f.AgentID),
		zap.Int64("timestamp", f.Timestamp),
		zap.String("type", f.Type),
		zap.Error(f.Err))
	m.observe("fault", f.Type)
	if m.notifier != nil {
		m.notifier.NotifyFault(ctx, f)
	}
}
