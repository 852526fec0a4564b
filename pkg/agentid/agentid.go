// Package agentid provides validation and normalization for agent
// identifiers.
//
// An agent identifier names the monitored entity whose evidence is
// archived. Identifiers are opaque to the archive: typically a UUID
// assigned at enrollment, but any hostname-safe string of 1–128
// characters is accepted. The 128-character ceiling matches the width
// of the agent_id key column in the record tables.
//
// Examples:
//
//	d432fbb3-d2f1-4a97-9ef7-75bd81c00000   (UUID form)
//	node-17.rack2.example.com              (hostname form)
package agentid

import (
	"fmt"
	"strings"
)

// MaxLen is the maximum identifier length in bytes.
const MaxLen = 128

// Validate checks that id is a well-formed agent identifier.
func Validate(id string) error {
	if id == "" {
		return fmt.Errorf("agent identifier must not be empty")
	}
	if len(id) > MaxLen {
		return fmt.Errorf("agent identifier exceeds %d characters", MaxLen)
	}
	for _, r := range id {
		if !validRune(r) {
			return fmt.Errorf("agent identifier %q contains invalid character %q", id, r)
		}
	}
	if strings.HasPrefix(id, ".") || strings.HasPrefix(id, "-") {
		return fmt.Errorf("agent identifier %q must not start with %q", id, id[0])
	}
	return nil
}

// Normalize lowercases id and validates it, returning the canonical form.
// Identifiers are matched case-insensitively everywhere so that UUIDs
// written with uppercase hex digits key the same history.
func Normalize(id string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(id))
	if err := Validate(n); err != nil {
		return "", err
	}
	return n, nil
}

// MustNormalize is like Normalize but panics on error. Useful in tests
// and init blocks.
func MustNormalize(id string) string {
	n, err := Normalize(id)
	if err != nil {
		panic(err)
	}
	return n
}

// validRune reports whether r may appear in an agent identifier.
// The set is the hostname-safe alphabet plus underscore.
func validRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '-' || r == '.' || r == '_':
		return true
	}
	return false
}
