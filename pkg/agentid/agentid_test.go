package agentid_test

import (
	"strings"
	"testing"

	"github.com/attestary/attestary/pkg/agentid"
)

func TestValidate_valid(t *testing.T) {
	cases := []string{
		"d432fbb3-d2f1-4a97-9ef7-75bd81c00000",
		"node-17.rack2.example.com",
		"agent_007",
		"a",
		strings.Repeat("x", 128),
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc, func(t *testing.T) {
			if err := agentid.Validate(tc); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidate_invalid(t *testing.T) {
	cases := []string{
		"",                        // empty
		strings.Repeat("x", 129),  // too long
		"node 17",                 // whitespace
		"host/evil",               // path separator
		"-leading",                // leading hyphen
		".leading",                // leading dot
		"agenteé",            // non-ASCII
		"d432fbb3;drop table foo", // punctuation
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc, func(t *testing.T) {
			if err := agentid.Validate(tc); err == nil {
				t.Errorf("expected error for %q but got nil", tc)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"D432FBB3-D2F1-4A97-9EF7-75BD81C00000", "d432fbb3-d2f1-4a97-9ef7-75bd81c00000"},
		{"  node-1.example.com  ", "node-1.example.com"},
		{"already-lower", "already-lower"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.input, func(t *testing.T) {
			got, err := agentid.Normalize(tc.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("Normalize(%q): got %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestNormalize_invalid(t *testing.T) {
	if _, err := agentid.Normalize("   "); err == nil {
		t.Error("expected error for blank identifier but got nil")
	}
}

func TestMustNormalize_panics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected MustNormalize to panic on invalid identifier")
		}
	}()
	agentid.MustNormalize("not valid!")
}
