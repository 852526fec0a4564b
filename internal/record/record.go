// Package record defines the evidence record model and its wire codec.
//
// A record is the unit of archival: one batch of attestation evidence or
// one registration snapshot for a single agent at a single instant. The
// encoded form produced by Encode is exactly what the store persists, so
// a decoded record carries everything the producer wrote, including the
// operator signature and timestamp proof added at ingest.
package record

import (
	"encoding/json"
	"strings"

	"github.com/attestary/attestary/internal/timestamp"
)

// Kind distinguishes the two record families the archive keeps.
type Kind string

const (
	// KindAttestation — periodic integrity evidence: quotes, measured
	// boot logs, IMA logs and the policies they were appraised against.
	KindAttestation Kind = "attestation"
	// KindRegistration — agent enrollment state: identity keys and
	// registrar metadata.
	KindRegistration Kind = "registration"
)

// Valid reports whether k names a known record kind.
func (k Kind) Valid() bool {
	return k == KindAttestation || k == KindRegistration
}

// KindForService maps a service tag to the record kind it feeds.
// Any tag containing "registration" routes to the registration family;
// everything else is attestation evidence. The match is case-sensitive.
func KindForService(service string) Kind {
	if strings.Contains(service, "registration") {
		return KindRegistration
	}
	return KindAttestation
}

// SignatureAlgorithmEd25519 is the only signature algorithm records
// currently carry.
const SignatureAlgorithmEd25519 = "ed25519"

// Signature is the operator signature embedded in a record. It covers
// the canonical serialization of the attributes named in
// SignedAttributes, in the record's state at signing time.
type Signature struct {
	KeyID            string   `json:"key_id"`
	Algorithm        string   `json:"algorithm"`
	SignedAttributes []string `json:"signed_attributes"`
	Value            []byte   `json:"value"`
}

// Record is a single archived evidence entry.
type Record struct {
	AgentID   string `json:"agent_id"`
	Timestamp int64  `json:"timestamp"`
	Kind      Kind   `json:"kind"`

	// Identity carries the agent's identity material: public keys,
	// EK/AK certificates, registrar metadata.
	Identity map[string]any `json:"identity,omitempty"`
	// Evidence carries the attested payload: quote, measured boot log,
	// IMA entries. Opaque to the archive.
	Evidence map[string]any `json:"evidence,omitempty"`

	// MBPolicy and RuntimePolicy are the appraisal policies in force
	// when the evidence was produced, kept verbatim.
	MBPolicy      json.RawMessage `json:"mb_policy,omitempty"`
	RuntimePolicy json.RawMessage `json:"runtime_policy,omitempty"`

	Signature      *Signature       `json:"signature,omitempty"`
	TimestampProof *timestamp.Proof `json:"timestamp_proof,omitempty"`
}
