// Package humanloop manages the suspension of sessions on human-supplied
// data: issuing requests with a fixed response window, validating and
// accepting submissions, reminding once at the midpoint, and failing the
// owning session closed when the window lapses. Expiry is derived from the
// clock on every read, so a request past its deadline rejects submissions
// even if the background sweeper never ran.
package humanloop

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Iron-Ham/maestro/internal/config"
	"github.com/Iron-Ham/maestro/internal/errors"
	"github.com/Iron-Ham/maestro/internal/event"
	"github.com/Iron-Ham/maestro/internal/logging"
	"github.com/Iron-Ham/maestro/internal/pipeline"
	"github.com/Iron-Ham/maestro/internal/session"
)

// Config holds human-loop timing configuration.
type Config struct {
	// Window is how long a request stays open before it expires.
	Window time.Duration
	// SweepInterval is how often the background sweeper scans open requests.
	SweepInterval time.Duration
}

// Coordinator issues, fulfills, and expires human-loop requests.
type Coordinator struct {
	repo   session.Repository
	bus    *event.Bus
	logger *logging.Logger
	config Config

	// now is swapped in tests to drive the clock.
	now func() time.Time
}

// NewCoordinator creates a human-loop coordinator.
func NewCoordinator(cfg Config, repo session.Repository, bus *event.Bus, logger *logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Coordinator{
		repo:   repo,
		bus:    bus,
		logger: logger,
		config: cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// NewCoordinatorFromConfig creates a coordinator from application config.
func NewCoordinatorFromConfig(appCfg *config.Config, repo session.Repository, bus *event.Bus, logger *logging.Logger) *Coordinator {
	cfg := Config{}
	if appCfg != nil {
		cfg.Window = appCfg.HumanLoop.Timeout()
		cfg.SweepInterval = appCfg.HumanLoop.SweepInterval()
	}
	return NewCoordinator(cfg, repo, bus, logger)
}

// Request opens a human-loop request for a gated phase and suspends the
// session on it. The gate's summary, required keys, and schema travel on the
// request so submissions validate without pipeline access.
func (c *Coordinator) Request(ctx context.Context, s *session.Session, phaseIndex int, gate *pipeline.HumanGate) (*session.HumanLoopRequest, error) {
	req := session.NewRequest(s.ID, phaseIndex, gate.Summary, gate.RequiredKeys, gate.Schema, c.config.Window)
	if err := c.repo.SaveRequest(ctx, req); err != nil {
		return nil, errors.Wrap(err, "persist human-loop request")
	}

	s.Status = session.StatusAwaitingHuman
	s.PendingRequestID = req.ID
	s.Touch()
	if err := c.repo.SaveSession(ctx, s); err != nil {
		return nil, errors.Wrap(err, "persist suspended session")
	}

	c.logger.Info("human input requested",
		"session_id", s.ID,
		"request_id", req.ID,
		"phase", phaseIndex,
		"expires_at", req.ExpiresAt,
	)
	if c.bus != nil {
		c.bus.Publish(event.NewHumanInputRequestedEvent(s.ID, req.ID, phaseIndex, req.Summary, req.ExpiresAt))
	}
	return req, nil
}

// Submit validates a payload against the request's required keys and schema
// and, on success, marks the request fulfilled. A rejected payload leaves the
// request open for resubmission. Submitting against an expired request
// finalizes the expiry first, so the fail-closed timeout holds even when the
// sweeper has not caught up with the clock.
func (c *Coordinator) Submit(ctx context.Context, requestID string, payload map[string]string) (*session.HumanLoopRequest, error) {
	req, err := c.repo.LoadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	now := c.now()
	switch req.EffectiveStatus(now) {
	case session.RequestFulfilled:
		return nil, errors.Wrapf(errors.ErrRequestFulfilled, "request %s", req.ID)
	case session.RequestExpired:
		if req.Status != session.RequestExpired {
			if err := c.expire(ctx, req); err != nil {
				return nil, err
			}
		}
		return nil, errors.Wrapf(errors.ErrRequestExpired, "request %s", req.ID)
	}

	if problems := c.validate(req, payload); len(problems) > 0 {
		return nil, errors.NewHumanInputError(req.ID, problems)
	}

	fulfilledAt := now
	req.Status = session.RequestFulfilled
	req.Payload = payload
	req.FulfilledAt = &fulfilledAt
	if err := c.repo.SaveRequest(ctx, req); err != nil {
		return nil, errors.Wrap(err, "persist fulfilled request")
	}

	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	c.logger.Info("human input fulfilled",
		"session_id", req.SessionID,
		"request_id", req.ID,
		"keys", keys,
	)
	if c.bus != nil {
		c.bus.Publish(event.NewHumanInputFulfilledEvent(req.SessionID, req.ID, keys))
	}
	return req, nil
}

// Close retires an open request whose owning session is being finalized
// elsewhere, so no reminder fires for it and late submissions are rejected.
// Unlike expiry it does not touch the session. Closing a fulfilled or
// already expired request is a no-op.
func (c *Coordinator) Close(ctx context.Context, requestID string) error {
	req, err := c.repo.LoadRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status == session.RequestFulfilled || req.Status == session.RequestExpired {
		return nil
	}

	req.Status = session.RequestExpired
	if err := c.repo.SaveRequest(ctx, req); err != nil {
		return errors.Wrap(err, "persist closed request")
	}

	c.logger.Info("human-loop request closed",
		"session_id", req.SessionID,
		"request_id", req.ID,
	)
	return nil
}

// Poll returns the request with its clock-derived status. A request found
// past its deadline is finalized: persisted expired and its owning session
// failed.
func (c *Coordinator) Poll(ctx context.Context, requestID string) (*session.HumanLoopRequest, error) {
	req, err := c.repo.LoadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.EffectiveStatus(c.now()) == session.RequestExpired && req.Status != session.RequestExpired {
		if err := c.expire(ctx, req); err != nil {
			return nil, err
		}
	}
	return req, nil
}

// Sweep makes one pass over open requests: it sends the single midpoint
// reminder where due and finalizes expiries. Called periodically by the
// sweeper goroutine; safe to call concurrently with Submit because expiry is
// clock-derived and fulfillment wins only while the request is open.
func (c *Coordinator) Sweep(ctx context.Context) error {
	open, err := c.repo.ListOpenRequests(ctx)
	if err != nil {
		return errors.Wrap(err, "list open requests")
	}

	now := c.now()
	for _, req := range open {
		switch {
		case req.EffectiveStatus(now) == session.RequestExpired:
			if err := c.expire(ctx, req); err != nil {
				c.logger.Error("expire request", "request_id", req.ID, "error", err)
			}
		case req.ReminderDue(now):
			req.ReminderSent = true
			req.Status = session.RequestReminded
			if err := c.repo.SaveRequest(ctx, req); err != nil {
				c.logger.Error("persist reminder", "request_id", req.ID, "error", err)
				continue
			}
			c.logger.Info("human input reminder",
				"session_id", req.SessionID,
				"request_id", req.ID,
				"expires_at", req.ExpiresAt,
			)
			if c.bus != nil {
				c.bus.Publish(event.NewHumanInputReminderEvent(req.SessionID, req.ID, req.ExpiresAt))
			}
		}
	}
	return nil
}

// Run sweeps on a ticker until the context is canceled.
func (c *Coordinator) Run(ctx context.Context) {
	interval := c.config.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Sweep(ctx); err != nil {
				c.logger.Error("human-loop sweep", "error", err)
			}
		}
	}
}

// expire persists the expiry and fails the owning session closed.
func (c *Coordinator) expire(ctx context.Context, req *session.HumanLoopRequest) error {
	req.Status = session.RequestExpired
	if err := c.repo.SaveRequest(ctx, req); err != nil {
		return errors.Wrap(err, "persist expired request")
	}

	s, err := c.repo.LoadSession(ctx, req.SessionID)
	if err != nil {
		return err
	}
	if !s.IsTerminal() {
		s.Fail(errors.ReasonHumanInputTimeout)
		if err := c.repo.SaveSession(ctx, s); err != nil {
			return errors.Wrap(err, "persist failed session")
		}
	}

	c.logger.Warn("human input expired",
		"session_id", req.SessionID,
		"request_id", req.ID,
		"phase", req.Phase,
	)
	if c.bus != nil {
		c.bus.Publish(event.NewHumanInputExpiredEvent(req.SessionID, req.ID, req.Phase))
		c.bus.Publish(event.NewSessionFailedEvent(req.SessionID, req.Phase, errors.ReasonHumanInputTimeout))
	}
	return nil
}

// validate checks required keys and the optional schema. Returned problems
// are operator-facing strings, one per violation.
func (c *Coordinator) validate(req *session.HumanLoopRequest, payload map[string]string) []string {
	var problems []string
	for _, key := range req.RequiredKeys {
		if v, ok := payload[key]; !ok || v == "" {
			problems = append(problems, fmt.Sprintf("%s: required key is missing or empty", key))
		}
	}

	if req.Schema != nil {
		compiled, err := pipeline.CompileSchema(req.Schema)
		if err != nil {
			problems = append(problems, fmt.Sprintf("schema: %v", err))
			return problems
		}
		doc := make(map[string]any, len(payload))
		for k, v := range payload {
			doc[k] = v
		}
		if err := compiled.Validate(doc); err != nil {
			problems = append(problems, fmt.Sprintf("schema: %v", err))
		}
	}
	return problems
}
