package envelope

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/attestary/attestary/internal/record"
	"github.com/attestary/attestary/internal/timestamp"
)

// Signer produces the operator envelope on records entering the archive.
type Signer struct {
	keyID string
	key   ed25519.PrivateKey
	tsa   timestamp.Authority
}

// NewSigner creates a signer that signs with key under keyID and obtains
// timestamp proofs from tsa. A nil tsa produces signed records without
// proofs; the server never runs that way, but offline tooling may.
func NewSigner(keyID string, key ed25519.PrivateKey, tsa timestamp.Authority) *Signer {
	return &Signer{keyID: keyID, key: key, tsa: tsa}
}

// KeyID returns the identifier records signed by this signer carry.
func (s *Signer) KeyID() string { return s.keyID }

// PublicKey returns the verification key matching the signing key.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}

// Sign fills rec.Signature and rec.TimestampProof. attrs selects the
// signed attributes; nil, empty, or the single element "auto" selects
// the default set for the record's kind. The record is left untouched
// when signing fails.
func (s *Signer) Sign(ctx context.Context, rec *record.Record, attrs []string) error {
	if rec == nil {
		return fmt.Errorf("nil record")
	}
	resolved, err := resolveAttributes(rec.Kind, attrs)
	if err != nil {
		return err
	}
	payload, err := canonicalPayload(rec, resolved)
	if err != nil {
		return err
	}
	value := ed25519.Sign(s.key, payload)

	var proof *timestamp.Proof
	if s.tsa != nil {
		proof, err = s.tsa.Stamp(ctx, value)
		if err != nil {
			return fmt.Errorf("obtain timestamp proof: %w", err)
		}
	}

	rec.Signature = &record.Signature{
		KeyID:            s.keyID,
		Algorithm:        record.SignatureAlgorithmEd25519,
		SignedAttributes: resolved,
		Value:            value,
	}
	rec.TimestampProof = proof
	return nil
}

// resolveAttributes expands the caller's attribute selection and checks
// it names known sections with identity coverage.
func resolveAttributes(kind record.Kind, attrs []string) ([]string, error) {
	if len(attrs) == 0 || (len(attrs) == 1 && attrs[0] == "auto") {
		return DefaultAttributes(kind), nil
	}
	for _, a := range attrs {
		switch a {
		case AttrAgentID, AttrTimestamp, AttrIdentity, AttrEvidence, AttrMBPolicy, AttrRuntimePolicy:
		default:
			return nil, fmt.Errorf("unknown signed attribute %q", a)
		}
	}
	if !coversIdentity(attrs) {
		return nil, fmt.Errorf("signed attributes must include %s and %s", AttrAgentID, AttrTimestamp)
	}
	return attrs, nil
}
