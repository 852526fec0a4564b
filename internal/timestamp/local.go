package timestamp

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LocalAuthority issues proofs using an in-process signing key. It is
// the default authority for single-node deployments where the archive
// operator is also trusted to attest time.
type LocalAuthority struct {
	name  string
	keyID string
	key   ed25519.PrivateKey

	// now is the clock source, replaceable in tests.
	now func() time.Time
}

// NewLocalAuthority creates an authority named name that signs proof
// statements with key under the given key identifier.
func NewLocalAuthority(name, keyID string, key ed25519.PrivateKey) *LocalAuthority {
	return &LocalAuthority{
		name:  name,
		keyID: keyID,
		key:   key,
		now:   time.Now,
	}
}

// SetClock replaces the authority's time source. Tests use this to issue
// proofs at fixed instants.
func (la *LocalAuthority) SetClock(now func() time.Time) {
	la.now = now
}

// PublicKey returns the verification key for proofs issued by this authority.
func (la *LocalAuthority) PublicKey() ed25519.PublicKey {
	return la.key.Public().(ed25519.PublicKey)
}

// Stamp implements Authority.
func (la *LocalAuthority) Stamp(ctx context.Context, payload []byte) (*Proof, error) {
	digest := sha256.Sum256(payload)
	p := &Proof{
		Authority: la.name,
		Serial:    uuid.NewString(),
		Time:      la.now().UTC().Unix(),
		KeyID:     la.keyID,
		Digest:    digest[:],
	}
	p.Value = ed25519.Sign(la.key, statement(p.Authority, p.Serial, p.Time, p.Digest))
	return p, nil
}

// Verifier returns a LocalVerifier that accepts proofs issued by this
// authority.
func (la *LocalAuthority) Verifier() *LocalVerifier {
	return NewLocalVerifier(map[string]ed25519.PublicKey{la.keyID: la.PublicKey()})
}

// LocalVerifier verifies proofs against a fixed set of authority keys,
// looked up by key identifier.
type LocalVerifier struct {
	keys map[string]ed25519.PublicKey
}

// NewLocalVerifier creates a verifier trusting the given keys.
func NewLocalVerifier(keys map[string]ed25519.PublicKey) *LocalVerifier {
	return &LocalVerifier{keys: keys}
}

// VerifyProof implements Verifier.
func (lv *LocalVerifier) VerifyProof(ctx context.Context, p *Proof, payload []byte) error {
	key, ok := lv.keys[p.KeyID]
	if !ok {
		return fmt.Errorf("unknown authority key %q", p.KeyID)
	}
	return verify(p, payload, key)
}
