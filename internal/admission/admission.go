// Package admission screens candidate records before they are signed
// and archived. It runs structural rules against the assembled record
// and can reject malformed or implausible evidence before any backend
// work happens.
package admission

import (
	"context"
	"fmt"

	"github.com/attestary/attestary/internal/record"
)

// Finding is a single rule match returned by a check.
type Finding struct {
	Rule        string  `json:"rule"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// Report is the output of an admission check.
type Report struct {
	// Score is the aggregate score (0–100).
	Score int `json:"score"`

	// Severity is a human-readable label derived from Score:
	//   0–14   → "none"
	//   15–34  → "low"
	//   35–64  → "medium"
	//   65–84  → "high"
	//   85–100 → "critical"
	Severity string `json:"severity"`

	// Findings lists every rule that triggered.
	Findings []Finding `json:"findings"`

	// Rejected is true when Score ≥ 85. Rejected records must not be
	// archived.
	Rejected bool `json:"rejected"`
}

// Checker screens an assembled record for admission. serviceTag is the
// producer's routing tag as received, before kind resolution.
type Checker interface {
	Check(ctx context.Context, rec *record.Record, serviceTag string) (*Report, error)
}

// Rejected is the error surfaced to producers whose record failed
// admission. Handlers should convert this to HTTP 422 rather than 500.
type Rejected struct {
	Report *Report
}

func (e *Rejected) Error() string {
	return fmt.Sprintf("record rejected by admission rules: score %d (%s)", e.Report.Score, e.Report.Severity)
}

// severityLabel maps a 0–100 score to a severity string.
func severityLabel(score int) string {
	switch {
	case score >= 85:
		return "critical"
	case score >= 65:
		return "high"
	case score >= 35:
		return "medium"
	case score >= 15:
		return "low"
	default:
		return "none"
	}
}
