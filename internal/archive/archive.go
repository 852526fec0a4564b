// Package archive is the record manager: the single entry point through
// which evidence records are created, signed, persisted, and read back
// with verification.
package archive

import (
	"context"
	"errors"

	"github.com/attestary/attestary/internal/envelope"
	"github.com/attestary/attestary/internal/record"
)

// EndOfTime is the retrieval sentinel for "no upper bound": the Unix
// timestamp of 9999-12-31T23:59:59Z. Reads that want the newest record
// regardless of age pass this as the window end.
const EndOfTime int64 = 253402300799

// Fault describes one stored record that failed decoding or
// verification during a read. Faults accompany the verified records in
// a ReadResult; a read never silently drops a row.
type Fault struct {
	AgentID   string `json:"agent_id"`
	Timestamp int64  `json:"timestamp"`
	// Type classifies the failure: decode, identity, signature,
	// timestamp, or verify for anything else.
	Type    string `json:"type"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// ReadResult is the outcome of a retrieval: the records that decoded
// and verified, ascending by timestamp, plus a fault per record that
// did not.
type ReadResult struct {
	Records []*record.Record `json:"records"`
	Faults  []Fault          `json:"faults,omitempty"`
}

// KeyMaterial is one public-key entry projected from a record's
// identity section.
type KeyMaterial struct {
	Timestamp int64  `json:"timestamp"`
	Name      string `json:"name"`
	Value     any    `json:"value"`
}

// KeyList is the full key history of an agent: every key-bearing
// identity field from every verified record, oldest first.
type KeyList struct {
	Keys   []KeyMaterial `json:"keys"`
	Faults []Fault       `json:"faults,omitempty"`
}

// AlertNotifier receives faults discovered during reads and sweeps.
// *notify.Multi satisfies this interface.
type AlertNotifier interface {
	NotifyFault(ctx context.Context, f Fault)
}

// classifyFault builds a Fault from a per-record failure.
func classifyFault(agentID string, ts int64, err error) Fault {
	f := Fault{AgentID: agentID, Timestamp: ts, Type: "verify", Message: err.Error(), Err: err}

	var codecErr *record.CodecError
	var identityErr *envelope.IdentityMismatch
	var sigErr *envelope.SignatureInvalid
	var tsErr *envelope.TimestampInvalid
	switch {
	case errors.As(err, &codecErr):
		f.Type = "decode"
	case errors.As(err, &identityErr):
		f.Type = "identity"
	case errors.As(err, &sigErr):
		f.Type = "signature"
	case errors.As(err, &tsErr):
		f.Type = "timestamp"
	}
	return f
}
