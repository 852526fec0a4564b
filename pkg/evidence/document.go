// Package evidence defines the document agents submit to the records API.
//
// A Document carries one attestation's worth of identity material,
// evidence, and policy context. Tooling assembles it, optionally
// canonicalizes it for offline signing, and POSTs it to:
//
//	/api/v1/agents/[agent_id]/records
package evidence

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/gowebpki/jcs"

	"github.com/attestary/attestary/pkg/agentid"
)

// CurrentSchemaVersion is the evidence-document schema version this
// package produces and accepts.
const CurrentSchemaVersion = "1.0"

// maxDocumentBytes caps how much of an evidence file Load will read,
// matching the API's request-body limit.
const maxDocumentBytes = 1 << 20

// maxServiceTagLen bounds the service tag; longer tags are rejected at
// admission anyway.
const maxServiceTagLen = 256

// Document is the JSON structure submitted to the records API.
type Document struct {
	// SchemaVersion is the evidence-document schema version (currently "1.0").
	SchemaVersion string `json:"schema_version"`

	// AgentID identifies the attested machine the evidence belongs to.
	AgentID string `json:"agent_id"`

	// ServiceTag names the attestation service that produced the
	// evidence; tags containing "registration" are registrar output.
	ServiceTag string `json:"service_tag,omitempty"`

	// Timestamp is the evidence collection time in Unix seconds. Zero
	// lets the archive stamp the record on arrival.
	Timestamp int64 `json:"timestamp,omitempty"`

	// Identity carries the agent's identity material (EK/AIK certificates,
	// public keys).
	Identity map[string]any `json:"identity,omitempty"`

	// Evidence carries the attestation evidence (quotes, measurement
	// lists, event logs).
	Evidence map[string]any `json:"evidence,omitempty"`

	// MBPolicy is the measured-boot policy in force when the evidence
	// was collected.
	MBPolicy json.RawMessage `json:"mb_policy,omitempty"`

	// RuntimePolicy is the runtime integrity policy in force.
	RuntimePolicy json.RawMessage `json:"runtime_policy,omitempty"`

	// SignedAttributes names the record fields the archive signature
	// must cover. Empty selects the default set for the record kind.
	SignedAttributes []string `json:"signed_attributes,omitempty"`
}

// Parse decodes a Document from JSON bytes.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode evidence document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Load reads and parses an evidence document from disk.
func Load(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open evidence document: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxDocumentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read evidence document: %w", err)
	}
	if len(data) > maxDocumentBytes {
		return nil, fmt.Errorf("evidence document %s exceeds %d bytes", path, maxDocumentBytes)
	}
	return Parse(data)
}

// Validate checks required fields and structural limits.
func (d *Document) Validate() error {
	if d.SchemaVersion == "" {
		return fmt.Errorf("evidence document: schema_version is required")
	}
	if d.AgentID == "" {
		return fmt.Errorf("evidence document: agent_id is required")
	}
	if err := agentid.Validate(d.AgentID); err != nil {
		return fmt.Errorf("evidence document: %w", err)
	}
	if len(d.ServiceTag) > maxServiceTagLen {
		return fmt.Errorf("evidence document: service_tag exceeds %d characters", maxServiceTagLen)
	}
	if d.Timestamp < 0 {
		return fmt.Errorf("evidence document: timestamp must not be negative")
	}
	if len(d.Identity) == 0 && len(d.Evidence) == 0 {
		return fmt.Errorf("evidence document: carries neither identity nor evidence")
	}
	if len(d.MBPolicy) > 0 && !json.Valid(d.MBPolicy) {
		return fmt.Errorf("evidence document: mb_policy is not valid JSON")
	}
	if len(d.RuntimePolicy) > 0 && !json.Valid(d.RuntimePolicy) {
		return fmt.Errorf("evidence document: runtime_policy is not valid JSON")
	}
	return nil
}

// Canonical returns the document's RFC 8785 canonical JSON encoding,
// the form covered by offline signatures.
func (d *Document) Canonical() ([]byte, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode evidence document: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize evidence document: %w", err)
	}
	return canonical, nil
}
