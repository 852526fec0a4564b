package admission

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/attestary/attestary/internal/record"
	"github.com/attestary/attestary/pkg/agentid"
)

const (
	// maxFutureSkewSeconds is how far ahead of the archive clock a record
	// timestamp may sit before it counts as future-dated.
	maxFutureSkewSeconds = 300

	// maxSectionBytes bounds the serialized size of a single record
	// section. The HTTP layer enforces a request-body cap as well; this
	// guards the other ingest paths.
	maxSectionBytes = 64 << 20

	// staleEvidenceSeconds marks evidence older than 30 days as suspect
	// without rejecting it. Backfills legitimately write old timestamps.
	staleEvidenceSeconds = 30 * 24 * 3600
)

// ruleFunc is a function that inspects a candidate record and returns
// zero or more Findings if its rule matches.
type ruleFunc func(rec *record.Record, serviceTag string, now int64) []Finding

// RuleBasedChecker is the default Checker implementation. It runs a
// fixed set of structural rules and accumulates a score; each finding
// contributes confidence × 100, so a single definitive violation is
// enough to reject.
type RuleBasedChecker struct {
	rules []ruleFunc

	// now is the clock source, replaceable in tests.
	now func() time.Time
}

// NewRuleBasedChecker returns a RuleBasedChecker loaded with the default
// rule set.
func NewRuleBasedChecker() *RuleBasedChecker {
	c := &RuleBasedChecker{now: time.Now}
	c.rules = []ruleFunc{
		ruleAgentIdentifier,
		ruleKnownKind,
		ruleFutureDated,
		ruleSectionSizes,
		ruleStaleEvidence,
		ruleEmptyAttestation,
	}
	return c
}

// SetClock replaces the checker's time source.
func (c *RuleBasedChecker) SetClock(now func() time.Time) {
	c.now = now
}

// Check implements Checker.
func (c *RuleBasedChecker) Check(_ context.Context, rec *record.Record, serviceTag string) (*Report, error) {
	now := c.now().UTC().Unix()

	var findings []Finding
	for _, r := range c.rules {
		findings = append(findings, r(rec, serviceTag, now)...)
	}

	total := 0
	for _, f := range findings {
		total += int(f.Confidence * 100)
	}
	if total > 100 {
		total = 100
	}

	if findings == nil {
		findings = []Finding{}
	}

	return &Report{
		Score:    total,
		Severity: severityLabel(total),
		Findings: findings,
		Rejected: total >= 85,
	}, nil
}

// ── Rules ─────────────────────────────────────────────────────────────────────

func ruleAgentIdentifier(rec *record.Record, _ string, _ int64) []Finding {
	if err := agentid.Validate(rec.AgentID); err != nil {
		return []Finding{{
			Rule:        "agent_identifier",
			Description: err.Error(),
			Confidence:  1.0,
		}}
	}
	return nil
}

func ruleKnownKind(rec *record.Record, serviceTag string, _ int64) []Finding {
	var findings []Finding
	if !rec.Kind.Valid() {
		findings = append(findings, Finding{
			Rule:        "record_kind",
			Description: fmt.Sprintf("record kind %q has no backing table", rec.Kind),
			Confidence:  1.0,
		})
	}
	if len(serviceTag) > 256 {
		findings = append(findings, Finding{
			Rule:        "service_tag",
			Description: "service tag longer than 256 characters",
			Confidence:  0.6,
		})
	}
	return findings
}

func ruleFutureDated(rec *record.Record, _ string, now int64) []Finding {
	if rec.Timestamp > now+maxFutureSkewSeconds {
		return []Finding{{
			Rule:        "future_dated",
			Description: fmt.Sprintf("record timestamp %d is %ds ahead of the archive clock", rec.Timestamp, rec.Timestamp-now),
			Confidence:  1.0,
		}}
	}
	return nil
}

func ruleSectionSizes(rec *record.Record, _ string, _ int64) []Finding {
	var findings []Finding
	for name, section := range map[string]any{
		"identity": rec.Identity,
		"evidence": rec.Evidence,
	} {
		if section == nil {
			continue
		}
		b, err := json.Marshal(section)
		if err != nil {
			findings = append(findings, Finding{
				Rule:        "section_encoding",
				Description: fmt.Sprintf("section %q cannot be serialized: %v", name, err),
				Confidence:  1.0,
			})
			continue
		}
		if len(b) > maxSectionBytes {
			findings = append(findings, Finding{
				Rule:        "section_size",
				Description: fmt.Sprintf("section %q is %d bytes, limit %d", name, len(b), maxSectionBytes),
				Confidence:  0.9,
			})
		}
	}
	if len(rec.MBPolicy) > maxSectionBytes {
		findings = append(findings, Finding{
			Rule:        "section_size",
			Description: fmt.Sprintf("section %q is %d bytes, limit %d", "mb_policy", len(rec.MBPolicy), maxSectionBytes),
			Confidence:  0.9,
		})
	}
	if len(rec.RuntimePolicy) > maxSectionBytes {
		findings = append(findings, Finding{
			Rule:        "section_size",
			Description: fmt.Sprintf("section %q is %d bytes, limit %d", "runtime_policy", len(rec.RuntimePolicy), maxSectionBytes),
			Confidence:  0.9,
		})
	}
	return findings
}

func ruleStaleEvidence(rec *record.Record, _ string, now int64) []Finding {
	if rec.Timestamp > 0 && now-rec.Timestamp > staleEvidenceSeconds {
		return []Finding{{
			Rule:        "stale_evidence",
			Description: "record timestamp is more than 30 days old",
			Confidence:  0.4,
		}}
	}
	return nil
}

func ruleEmptyAttestation(rec *record.Record, _ string, _ int64) []Finding {
	if rec.Kind == record.KindAttestation && len(rec.Evidence) == 0 {
		return []Finding{{
			Rule:        "empty_evidence",
			Description: "attestation record carries no evidence section",
			Confidence:  0.6,
		}}
	}
	return nil
}
