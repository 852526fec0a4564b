package keydir

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/attestary/attestary/pkg/agentid"
)

// FileDir reads verification keys from a directory holding one key file
// per agent, named <agentID>.pub. Files may be PEM or hex encoded.
// Identifiers are normalized and validated before touching the
// filesystem, so a crafted agent ID cannot escape the root.
type FileDir struct {
	root string
}

// NewFileDir creates a directory backed by the key files under root.
func NewFileDir(root string) *FileDir {
	return &FileDir{root: root}
}

// VerificationKey implements Directory.
func (d *FileDir) VerificationKey(ctx context.Context, agentID string) (ed25519.PublicKey, error) {
	id, err := agentid.Normalize(agentID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(d.root, id+".pub"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrUnknownAgent
	}
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	key, err := parseKey(data)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", id, err)
	}
	return key, nil
}

// ListAgents returns the identifiers of all agents with a key file,
// sorted. Files that do not look like key files are skipped.
func (d *FileDir) ListAgents(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("read key directory: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".pub") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".pub")
		if agentid.Validate(id) != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
