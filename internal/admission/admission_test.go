package admission_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/attestary/attestary/internal/admission"
	"github.com/attestary/attestary/internal/record"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newChecker() *admission.RuleBasedChecker {
	c := admission.NewRuleBasedChecker()
	c.SetClock(func() time.Time { return fixedNow })
	return c
}

func cleanRecord() *record.Record {
	return &record.Record{
		AgentID:   "agent-a",
		Timestamp: fixedNow.Unix(),
		Kind:      record.KindAttestation,
		Evidence:  map[string]any{"quote": "r/1RDR4AYA"},
	}
}

func check(t *testing.T, rec *record.Record, serviceTag string) *admission.Report {
	t.Helper()
	rep, err := newChecker().Check(context.Background(), rec, serviceTag)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return rep
}

func hasRule(rep *admission.Report, rule string) bool {
	for _, f := range rep.Findings {
		if f.Rule == rule {
			return true
		}
	}
	return false
}

func TestCheck_cleanRecord(t *testing.T) {
	rep := check(t, cleanRecord(), "attestation")

	if rep.Score != 0 {
		t.Errorf("Score: got %d, want 0", rep.Score)
	}
	if rep.Severity != "none" {
		t.Errorf("Severity: got %q, want %q", rep.Severity, "none")
	}
	if rep.Rejected {
		t.Error("clean record must not be rejected")
	}
	if rep.Findings == nil {
		t.Error("Findings must be an empty slice, not nil")
	}
}

func TestCheck_invalidAgentIdentifier(t *testing.T) {
	cases := []string{"", strings.Repeat("x", 200), "bad id", "host/../etc"}

	for _, id := range cases {
		rec := cleanRecord()
		rec.AgentID = id
		rep := check(t, rec, "attestation")

		if !rep.Rejected {
			t.Errorf("agent ID %q: expected rejection, got score %d", id, rep.Score)
		}
		if !hasRule(rep, "agent_identifier") {
			t.Errorf("agent ID %q: missing agent_identifier finding", id)
		}
	}
}

func TestCheck_futureDated(t *testing.T) {
	rec := cleanRecord()
	rec.Timestamp = fixedNow.Unix() + 3600
	rep := check(t, rec, "attestation")

	if !rep.Rejected || !hasRule(rep, "future_dated") {
		t.Errorf("expected future_dated rejection, got %+v", rep)
	}
}

func TestCheck_futureSkewBoundary(t *testing.T) {
	// Up to five minutes of clock skew is tolerated.
	rec := cleanRecord()
	rec.Timestamp = fixedNow.Unix() + 299
	if rep := check(t, rec, "attestation"); hasRule(rep, "future_dated") {
		t.Error("299s ahead must be within tolerated skew")
	}

	rec.Timestamp = fixedNow.Unix() + 301
	if rep := check(t, rec, "attestation"); !hasRule(rep, "future_dated") {
		t.Error("301s ahead must be flagged")
	}
}

func TestCheck_unknownKind(t *testing.T) {
	rec := cleanRecord()
	rec.Kind = record.Kind("telemetry")
	rep := check(t, rec, "telemetry")

	if !rep.Rejected || !hasRule(rep, "record_kind") {
		t.Errorf("expected record_kind rejection, got %+v", rep)
	}
}

func TestCheck_staleEvidenceIsSoft(t *testing.T) {
	rec := cleanRecord()
	rec.Timestamp = fixedNow.Add(-31 * 24 * time.Hour).Unix()
	rep := check(t, rec, "attestation")

	if rep.Rejected {
		t.Errorf("stale evidence alone must not reject: %+v", rep)
	}
	if !hasRule(rep, "stale_evidence") {
		t.Error("missing stale_evidence finding")
	}
	if rep.Severity != "medium" {
		t.Errorf("Severity: got %q, want %q", rep.Severity, "medium")
	}
}

func TestCheck_emptyEvidenceIsSoft(t *testing.T) {
	rec := cleanRecord()
	rec.Evidence = nil
	rep := check(t, rec, "attestation")

	if rep.Rejected {
		t.Errorf("empty evidence alone must not reject: %+v", rep)
	}
	if !hasRule(rep, "empty_evidence") {
		t.Error("missing empty_evidence finding")
	}
}

func TestCheck_softFindingsAccumulate(t *testing.T) {
	// Stale (0.4) plus empty evidence (0.6) crosses the rejection line.
	rec := cleanRecord()
	rec.Evidence = nil
	rec.Timestamp = fixedNow.Add(-31 * 24 * time.Hour).Unix()
	rep := check(t, rec, "attestation")

	if !rep.Rejected {
		t.Errorf("accumulated soft findings must reject: %+v", rep)
	}
	if rep.Score != 100 {
		t.Errorf("Score: got %d, want 100", rep.Score)
	}
}

func TestCheck_registrationWithoutEvidence(t *testing.T) {
	rec := &record.Record{
		AgentID:   "agent-a",
		Timestamp: fixedNow.Unix(),
		Kind:      record.KindRegistration,
		Identity:  map[string]any{"aik": "..."},
	}
	rep := check(t, rec, "registration")

	if rep.Score != 0 {
		t.Errorf("registration without evidence must be clean, got %+v", rep)
	}
}

func TestRejected_error(t *testing.T) {
	rep := check(t, &record.Record{Kind: record.KindAttestation}, "attestation")
	err := &admission.Rejected{Report: rep}
	if !strings.Contains(err.Error(), "rejected by admission rules") {
		t.Errorf("unexpected message: %v", err)
	}
}
