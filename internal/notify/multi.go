package notify

import (
	"context"

	"github.com/attestary/attestary/internal/archive"
)

// Multi fans every alert out to a set of sinks.
type Multi struct {
	sinks []Notifier
}

// NewMulti creates a Multi over the given sinks.
func NewMulti(sinks ...Notifier) *Multi {
	return &Multi{sinks: sinks}
}

// NotifyFault implements Notifier.
func (m *Multi) NotifyFault(ctx context.Context, f archive.Fault) {
	for _, s := range m.sinks {
		s.NotifyFault(ctx, f)
	}
}

// NotifyAgentStatus implements Notifier.
func (m *Multi) NotifyAgentStatus(ctx context.Context, agentID string, healthy bool, detail string) {
	for _, s := range m.sinks {
		s.NotifyAgentStatus(ctx, agentID, healthy, detail)
	}
}
