// Package envelope signs records entering the archive and verifies them
// on the way back out.
//
// A record's envelope is its Signature plus TimestampProof. The
// signature covers an RFC 8785 canonical serialization of a declared
// attribute subset, so byte-level storage details never affect
// verification. The proof is chained over the signature bytes: altering
// the record breaks the signature, altering the signature breaks the
// proof, and back-dating requires forging the authority.
package envelope

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/attestary/attestary/internal/record"
	"github.com/attestary/attestary/internal/timestamp"
)

// Attribute names a record section that can be covered by a signature.
const (
	AttrAgentID       = "agent_id"
	AttrTimestamp     = "timestamp"
	AttrIdentity      = "identity"
	AttrEvidence      = "evidence"
	AttrMBPolicy      = "mb_policy"
	AttrRuntimePolicy = "runtime_policy"
)

// KeyLookup resolves an agent identity to the public key its record
// signatures must verify under. Satisfied by the keydir implementations.
type KeyLookup interface {
	VerificationKey(ctx context.Context, agentID string) (ed25519.PublicKey, error)
}

// IdentityMismatch is returned by Verify when a record's embedded agent
// identity differs from the identity it was filed under. Readers treat
// this as spliced or relocated evidence.
type IdentityMismatch struct {
	Want string
	Got  string
}

func (e *IdentityMismatch) Error() string {
	return fmt.Sprintf("record identity %q does not match expected %q", e.Got, e.Want)
}

// SignatureInvalid is returned by Verify when a record's signature is
// absent, malformed, or does not verify over the declared attributes.
type SignatureInvalid struct {
	AgentID   string
	Timestamp int64
	Reason    string
}

func (e *SignatureInvalid) Error() string {
	return fmt.Sprintf("invalid signature on record %s/%d: %s", e.AgentID, e.Timestamp, e.Reason)
}

// TimestampInvalid is returned by Verify when a record's timestamp proof
// is absent, covers different bytes, or fails authority verification.
type TimestampInvalid struct {
	AgentID   string
	Timestamp int64
	Reason    string
	Err       error
}

func (e *TimestampInvalid) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid timestamp proof on record %s/%d: %s: %v", e.AgentID, e.Timestamp, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid timestamp proof on record %s/%d: %s", e.AgentID, e.Timestamp, e.Reason)
}

func (e *TimestampInvalid) Unwrap() error { return e.Err }

// DefaultAttributes returns the attribute set signed when the producer
// does not name one. Attestation records additionally cover the policies
// the evidence was appraised against.
func DefaultAttributes(kind record.Kind) []string {
	attrs := []string{AttrAgentID, AttrTimestamp, AttrIdentity, AttrEvidence}
	if kind == record.KindAttestation {
		attrs = append(attrs, AttrMBPolicy, AttrRuntimePolicy)
	}
	return attrs
}

// canonicalPayload builds the RFC 8785 canonical JSON of the selected
// record attributes. Sections that are empty on the record are omitted,
// which keeps sign-time and decode-time payloads identical.
func canonicalPayload(rec *record.Record, attrs []string) ([]byte, error) {
	doc := make(map[string]any, len(attrs))
	for _, attr := range attrs {
		switch attr {
		case AttrAgentID:
			doc[attr] = rec.AgentID
		case AttrTimestamp:
			doc[attr] = rec.Timestamp
		case AttrIdentity:
			if rec.Identity != nil {
				doc[attr] = rec.Identity
			}
		case AttrEvidence:
			if rec.Evidence != nil {
				doc[attr] = rec.Evidence
			}
		case AttrMBPolicy:
			if len(rec.MBPolicy) > 0 {
				doc[attr] = rec.MBPolicy
			}
		case AttrRuntimePolicy:
			if len(rec.RuntimePolicy) > 0 {
				doc[attr] = rec.RuntimePolicy
			}
		default:
			return nil, fmt.Errorf("unknown signed attribute %q", attr)
		}
	}
	plain, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal signed attributes: %w", err)
	}
	canonical, err := jcs.Transform(plain)
	if err != nil {
		return nil, fmt.Errorf("canonicalize signed attributes: %w", err)
	}
	return canonical, nil
}

// coversIdentity reports whether attrs pins both the agent identity and
// the record time. Signatures that cover neither are worthless as
// tamper evidence and are rejected at both sign and verify time.
func coversIdentity(attrs []string) bool {
	var agent, ts bool
	for _, a := range attrs {
		switch a {
		case AttrAgentID:
			agent = true
		case AttrTimestamp:
			ts = true
		}
	}
	return agent && ts
}

// Verify checks rec's envelope. expectedAgentID is the identity the
// record was filed under; pass "" to skip the identity check. A nil tsa
// skips proof verification, for tooling that has no authority keys.
//
// Failures surface as *IdentityMismatch, *SignatureInvalid, or
// *TimestampInvalid. Key-lookup failures are returned as plain wrapped
// errors: an unavailable directory says nothing about the record.
func Verify(ctx context.Context, rec *record.Record, expectedAgentID string, keys KeyLookup, tsa timestamp.Verifier) error {
	if rec == nil {
		return fmt.Errorf("nil record")
	}
	if expectedAgentID != "" && rec.AgentID != expectedAgentID {
		return &IdentityMismatch{Want: expectedAgentID, Got: rec.AgentID}
	}

	sig := rec.Signature
	if sig == nil {
		return &SignatureInvalid{AgentID: rec.AgentID, Timestamp: rec.Timestamp, Reason: "record carries no signature"}
	}
	if sig.Algorithm != record.SignatureAlgorithmEd25519 {
		return &SignatureInvalid{AgentID: rec.AgentID, Timestamp: rec.Timestamp,
			Reason: fmt.Sprintf("unsupported algorithm %q", sig.Algorithm)}
	}
	if !coversIdentity(sig.SignedAttributes) {
		return &SignatureInvalid{AgentID: rec.AgentID, Timestamp: rec.Timestamp,
			Reason: "signature does not cover agent_id and timestamp"}
	}

	payload, err := canonicalPayload(rec, sig.SignedAttributes)
	if err != nil {
		return &SignatureInvalid{AgentID: rec.AgentID, Timestamp: rec.Timestamp, Reason: err.Error()}
	}

	key, err := keys.VerificationKey(ctx, rec.AgentID)
	if err != nil {
		return fmt.Errorf("resolve verification key for %s: %w", rec.AgentID, err)
	}
	if !ed25519.Verify(key, payload, sig.Value) {
		return &SignatureInvalid{AgentID: rec.AgentID, Timestamp: rec.Timestamp, Reason: "signature does not verify"}
	}

	if tsa != nil {
		if rec.TimestampProof == nil {
			return &TimestampInvalid{AgentID: rec.AgentID, Timestamp: rec.Timestamp, Reason: "record carries no timestamp proof"}
		}
		if err := tsa.VerifyProof(ctx, rec.TimestampProof, sig.Value); err != nil {
			return &TimestampInvalid{AgentID: rec.AgentID, Timestamp: rec.Timestamp, Reason: "proof rejected", Err: err}
		}
	}
	return nil
}
