// Package notify delivers archive alerts to operators via webhook
// endpoints, email, or the log.
package notify

import (
	"context"
	"time"

	"github.com/attestary/attestary/internal/archive"
)

// Event types carried in dispatched payloads.
const (
	EventRecordFault = "record_fault"
	EventAgentStatus = "agent_status"
)

// Notifier delivers alerts. Implementations do not block the caller;
// delivery happens in the background.
type Notifier interface {
	// NotifyFault reports one stored record that failed verification.
	NotifyFault(ctx context.Context, f archive.Fault)
	// NotifyAgentStatus reports an agent crossing the audit health
	// threshold in either direction.
	NotifyAgentStatus(ctx context.Context, agentID string, healthy bool, detail string)
}

// Event is the JSON envelope delivered to webhook sinks.
type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Fault     *archive.Fault `json:"fault,omitempty"`
	Agent     *AgentStatus   `json:"agent,omitempty"`
}

// AgentStatus describes an audit health transition.
type AgentStatus struct {
	AgentID string `json:"agent_id"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}
