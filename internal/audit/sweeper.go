// Package audit re-verifies archived record histories in the
// background, so tampering in the store surfaces even when nobody is
// reading.
package audit

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/attestary/attestary/internal/archive"
)

// sweepTags are the service tags each sweep reads, one per record table.
var sweepTags = []string{"attestation", "registration"}

// Config holds sweep configuration.
type Config struct {
	SweepInterval time.Duration
	Concurrency   int
	FailThreshold int
	// Window bounds how far back each sweep looks; zero sweeps the
	// full history.
	Window time.Duration
}

// AgentSource lists the agents whose histories get swept.
// Both keydir.Static and keydir.FileDir implement this interface.
type AgentSource interface {
	ListAgents(ctx context.Context) ([]string, error)
}

// History reads an agent's records with verification.
// *archive.Manager implements this interface.
type History interface {
	Read(ctx context.Context, agentID string, start, end int64, serviceTag string) (*archive.ReadResult, error)
}

// AlertFunc is an optional callback for health transitions.
type AlertFunc func(ctx context.Context, agentID string, healthy bool, detail string)

// MetricsFunc is an optional callback for recording sweep results.
type MetricsFunc func(agentID string, faults int)

// Sweeper runs periodic verification sweeps over the archive.
type Sweeper struct {
	agents     AgentSource
	history    History
	failCounts map[string]int
	mu         sync.Mutex
	cfg        Config
	onAlert    AlertFunc
	onMetrics  MetricsFunc
	logger     *zap.Logger
	now        func() time.Time
}

// New creates a new Sweeper.
func New(agents AgentSource, history History, cfg Config, logger *zap.Logger) *Sweeper {
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Hour
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 4
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}

	return &Sweeper{
		agents:     agents,
		history:    history,
		failCounts: make(map[string]int),
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// SetAlertFunc configures the transition alert callback.
func (s *Sweeper) SetAlertFunc(fn AlertFunc) {
	s.onAlert = fn
}

// SetMetricsRecord configures the metrics recording callback.
func (s *Sweeper) SetMetricsRecord(fn MetricsFunc) {
	s.onMetrics = fn
}

// SetClock replaces the time source used for windowed sweeps.
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Start runs the sweep loop until quit is signalled.
func (s *Sweeper) Start(quit <-chan os.Signal) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			timeout := s.cfg.SweepInterval - time.Second
			if timeout <= 0 {
				timeout = s.cfg.SweepInterval
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			s.SweepAll(ctx)
			cancel()
		case <-quit:
			return
		}
	}
}

// SweepAll re-reads every known agent's history with bounded
// concurrency, tracking consecutive faulty sweeps per agent.
func (s *Sweeper) SweepAll(ctx context.Context) {
	ids, err := s.agents.ListAgents(ctx)
	if err != nil {
		s.logger.Error("audit: list agents", zap.Error(err))
		return
	}

	sem := make(chan struct{}, s.cfg.Concurrency)
	var wg sync.WaitGroup

	for _, id := range ids {
		wg.Add(1)
		go func(agentID string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			faults, err := s.sweepAgent(ctx, agentID)
			if err != nil {
				// Backend trouble is not tamper evidence; leave the
				// agent's count alone.
				s.logger.Warn("audit: sweep failed", zap.String("agent_id", agentID), zap.Error(err))
				return
			}

			if s.onMetrics != nil {
				s.onMetrics(agentID, faults)
			}

			s.mu.Lock()
			prevCount := s.failCounts[agentID]
			if faults == 0 {
				s.failCounts[agentID] = 0
			} else {
				s.failCounts[agentID]++
			}
			count := s.failCounts[agentID]
			s.mu.Unlock()

			if faults == 0 && prevCount >= s.cfg.FailThreshold {
				// Transition: faulty → clean
				s.logger.Info("audit: history clean again", zap.String("agent_id", agentID))
				if s.onAlert != nil {
					s.onAlert(ctx, agentID, true, "history verified clean")
				}
			} else if faults > 0 && count == s.cfg.FailThreshold {
				// Transition: clean → faulty (exactly at threshold)
				s.logger.Warn("audit: history faulty",
					zap.String("agent_id", agentID),
					zap.Int("faults", faults),
					zap.Int("consecutive_sweeps", count),
				)
				if s.onAlert != nil {
					s.onAlert(ctx, agentID, false,
						fmt.Sprintf("%d faulty records across %d consecutive sweeps", faults, count))
				}
			}
		}(id)
	}

	wg.Wait()
}

// sweepAgent reads both record tables for one agent and returns the
// total fault count.
func (s *Sweeper) sweepAgent(ctx context.Context, agentID string) (int, error) {
	var start int64
	if s.cfg.Window > 0 {
		start = s.now().UTC().Add(-s.cfg.Window).Unix()
	}

	total := 0
	for _, tag := range sweepTags {
		res, err := s.history.Read(ctx, agentID, start, archive.EndOfTime, tag)
		if err != nil {
			return 0, err
		}
		total += len(res.Faults)
	}
	return total, nil
}
