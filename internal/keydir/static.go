package keydir

import (
	"context"
	"crypto/ed25519"
	"sync"

	"github.com/attestary/attestary/pkg/agentid"
)

// Static is an in-memory key directory. It backs tests, seeding, and
// deployments where every agent's records are signed by the same
// operator key.
type Static struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey
}

// NewStatic creates an empty static directory.
func NewStatic() *Static {
	return &Static{keys: make(map[string]ed25519.PublicKey)}
}

// Add registers key as the verification key for agentID, replacing any
// previous key. The identifier is normalized first.
func (s *Static) Add(agentID string, key ed25519.PublicKey) error {
	id, err := agentid.Normalize(agentID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[id] = key
	return nil
}

// Remove drops the key registered for agentID, if any.
func (s *Static) Remove(agentID string) {
	id, err := agentid.Normalize(agentID)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, id)
}

// ListAgents returns the identifiers of all registered agents.
func (s *Static) ListAgents(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.keys))
	for id := range s.keys {
		ids = append(ids, id)
	}
	return ids, nil
}

// VerificationKey implements Directory.
func (s *Static) VerificationKey(ctx context.Context, agentID string) (ed25519.PublicKey, error) {
	id, err := agentid.Normalize(agentID)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[id]
	if !ok {
		return nil, ErrUnknownAgent
	}
	return key, nil
}
