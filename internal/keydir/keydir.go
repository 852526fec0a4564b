// Package keydir resolves agent identities to their evidence
// verification keys.
//
// The archive signs records with its own operator key, but deployments
// that give each agent (or each tenant) a dedicated signing key register
// the matching public keys here. Readers look keys up by agent ID when
// verifying records.
package keydir

import (
	"context"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownAgent is returned when no verification key is registered for
// an agent.
var ErrUnknownAgent = errors.New("no verification key for agent")

// A Directory maps agent identities to verification keys.
type Directory interface {
	// VerificationKey returns the ed25519 public key whose signatures are
	// accepted on agentID's records, or ErrUnknownAgent.
	VerificationKey(ctx context.Context, agentID string) (ed25519.PublicKey, error)
}

// parseKey decodes a verification key from its stored form: a PEM
// "PUBLIC KEY" block (PKIX) or a hex-encoded raw 32-byte key.
func parseKey(data []byte) (ed25519.PublicKey, error) {
	if block, _ := pem.Decode(data); block != nil {
		if block.Type != "PUBLIC KEY" {
			return nil, fmt.Errorf("unexpected PEM block %q", block.Type)
		}
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse public key: %w", err)
		}
		edPub, ok := pub.(ed25519.PublicKey)
		if !ok {
			return nil, fmt.Errorf("key is %T, want ed25519", pub)
		}
		return edPub, nil
	}

	raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("key is neither PEM nor hex: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("key has wrong length %d", len(raw))
	}
	return ed25519.PublicKey(raw), nil
}
