// Package timestamp provides trusted timestamping of archived evidence.
//
// A timestamp authority binds a moment in time to the digest of a
// signature, producing a Proof that can later be verified against the
// authority's public key. The archive requests a proof for every record
// it signs; verification of the proof is part of reading a record back.
package timestamp

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
)

// Proof is a signed statement that the authority observed digest at time.
type Proof struct {
	// Authority is the issuing authority's name, e.g. "attestary-local".
	Authority string `json:"authority"`
	// Serial uniquely identifies this proof within the authority.
	Serial string `json:"serial"`
	// Time is the attested Unix timestamp in seconds.
	Time int64 `json:"time"`
	// KeyID names the authority key that signed the statement.
	KeyID string `json:"key_id"`
	// Digest is the SHA-256 digest the proof covers.
	Digest []byte `json:"digest"`
	// Value is the authority's signature over the proof statement.
	Value []byte `json:"value"`
}

// An Authority issues timestamp proofs over payload digests.
type Authority interface {
	// Stamp hashes payload and returns a proof binding the digest to the
	// authority's current time.
	Stamp(ctx context.Context, payload []byte) (*Proof, error)
}

// A Verifier checks that a proof is genuine and covers payload.
type Verifier interface {
	VerifyProof(ctx context.Context, p *Proof, payload []byte) error
}

// statement builds the canonical byte string an authority signs.
// Field order and separators are fixed; changing them invalidates every
// previously issued proof.
func statement(authority, serial string, t int64, digest []byte) []byte {
	return []byte(fmt.Sprintf("%s|%s|%d|%x", authority, serial, t, digest))
}

// verify checks p against payload using the given authority public key.
func verify(p *Proof, payload []byte, key ed25519.PublicKey) error {
	digest := sha256.Sum256(payload)
	if !bytes.Equal(digest[:], p.Digest) {
		return fmt.Errorf("proof digest does not match payload")
	}
	st := statement(p.Authority, p.Serial, p.Time, p.Digest)
	if !ed25519.Verify(key, st, p.Value) {
		return fmt.Errorf("proof signature verification failed")
	}
	return nil
}
