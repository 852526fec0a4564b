package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/attestary/attestary/internal/archive"
)

// Noop logs alerts to zap instead of delivering them.
// Use in development or when no sink is configured.
type Noop struct {
	logger *zap.Logger
}

// NewNoop creates a Noop backed by the given logger.
func NewNoop(logger *zap.Logger) *Noop {
	return &Noop{logger: logger}
}

// NotifyFault logs the fault and returns.
func (n *Noop) NotifyFault(_ context.Context, f archive.Fault) {
	n.logger.Info("fault alert (noop — not dispatched)",
		zap.String("agent_id", f.AgentID),
		zap.Int64("timestamp", f.Timestamp),
		zap.String("type", f.Type),
		zap.String("message", f.Message),
	)
}

// NotifyAgentStatus logs the transition and returns.
func (n *Noop) NotifyAgentStatus(_ context.Context, agentID string, healthy bool, detail string) {
	n.logger.Info("agent status alert (noop — not dispatched)",
		zap.String("agent_id", agentID),
		zap.Bool("healthy", healthy),
		zap.String("detail", detail),
	)
}
