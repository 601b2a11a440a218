// Package budget provides the context budget monitor: it tracks token
// consumption per execution unit and signals when a session should hand
// over to a fresh unit. The threshold is only consulted between phases —
// a single oversized phase is a local failure, never something the monitor
// interrupts.
package budget

import (
	"github.com/Iron-Ham/maestro/internal/config"
	"github.com/Iron-Ham/maestro/internal/event"
	"github.com/Iron-Ham/maestro/internal/logging"
	"github.com/Iron-Ham/maestro/internal/session"
)

// Config holds budget configuration.
type Config struct {
	// Ceiling is the maximum safe token size of one continuous execution
	// unit.
	Ceiling int64
	// HandoverFraction is the fraction of the ceiling at which a handover
	// is signaled. Kept well under 1.0 so synthesis and checkpoint
	// persistence still fit before the true ceiling.
	HandoverFraction float64
}

// Monitor tracks per-session token consumption against the ceiling. It is
// stateless across sessions: the counters live on the Session value itself,
// so concurrent sessions need no locking here.
type Monitor struct {
	config Config
	bus    *event.Bus
	logger *logging.Logger
}

// NewMonitor creates a budget monitor.
func NewMonitor(cfg Config, bus *event.Bus, logger *logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Monitor{
		config: cfg,
		bus:    bus,
		logger: logger,
	}
}

// NewMonitorFromConfig creates a budget monitor from application config.
func NewMonitorFromConfig(appCfg *config.Config, bus *event.Bus, logger *logging.Logger) *Monitor {
	cfg := Config{}
	if appCfg != nil {
		cfg.Ceiling = appCfg.Budget.ContextWindow
		cfg.HandoverFraction = appCfg.Budget.HandoverFraction
	}
	return NewMonitor(cfg, bus, logger)
}

// threshold returns the token count at which a handover is signaled.
func (m *Monitor) threshold() int64 {
	return int64(float64(m.config.Ceiling) * m.config.HandoverFraction)
}

// Record adds a phase's token usage to the session's counters. Both the
// lifetime tally (carried across handovers) and the execution-unit tally
// (reset on resume) increase monotonically. Crossing the threshold
// publishes a single budget event.
func (m *Monitor) Record(s *session.Session, tokensUsed int64) {
	if tokensUsed <= 0 {
		return
	}

	before := s.UnitTokens
	s.UnitTokens += tokensUsed
	s.LifetimeTokens += tokensUsed

	threshold := m.threshold()
	if before < threshold && s.UnitTokens >= threshold {
		m.logger.Warn("budget threshold crossed",
			"session_id", s.ID,
			"unit_tokens", s.UnitTokens,
			"ceiling", m.config.Ceiling,
			"fraction", m.config.HandoverFraction,
		)
		if m.bus != nil {
			m.bus.Publish(event.NewBudgetThresholdEvent(s.ID, s.UnitTokens, m.config.Ceiling, m.config.HandoverFraction))
		}
	}
}

// ShouldHandover reports whether the session's execution unit has crossed
// the handover threshold. Checked only between phases.
func (m *Monitor) ShouldHandover(s *session.Session) bool {
	if m.config.Ceiling <= 0 {
		return false
	}
	return s.UnitTokens >= m.threshold()
}

// RemainingCapacity estimates the tokens left before the handover threshold.
// Never negative.
func (m *Monitor) RemainingCapacity(s *session.Session) int64 {
	remaining := m.threshold() - s.UnitTokens
	if remaining < 0 {
		return 0
	}
	return remaining
}
