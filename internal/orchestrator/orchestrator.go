// Package orchestrator drives analysis sessions through their pipelines one
// phase at a time. Each Advance call executes at most one phase: render the
// prompt, call the model, merge the result, then decide between continuing,
// completing, handing over, or suspending on human input. Phases run strictly
// sequentially per session; concurrent sessions are independent.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/Iron-Ham/maestro/internal/config"
	"github.com/Iron-Ham/maestro/internal/errors"
	"github.com/Iron-Ham/maestro/internal/event"
	"github.com/Iron-Ham/maestro/internal/logging"
	"github.com/Iron-Ham/maestro/internal/model"
	"github.com/Iron-Ham/maestro/internal/orchestrator/budget"
	"github.com/Iron-Ham/maestro/internal/orchestrator/handover"
	"github.com/Iron-Ham/maestro/internal/orchestrator/humanloop"
	"github.com/Iron-Ham/maestro/internal/orchestrator/prompt"
	"github.com/Iron-Ham/maestro/internal/orchestrator/synthesis"
	"github.com/Iron-Ham/maestro/internal/pipeline"
	"github.com/Iron-Ham/maestro/internal/session"
)

// OutcomeKind classifies what an Advance step concluded.
type OutcomeKind string

const (
	// OutcomeContinue means the phase merged and the next one is ready to run.
	OutcomeContinue OutcomeKind = "continue"
	// OutcomeDone means every phase merged; the session is completed.
	OutcomeDone OutcomeKind = "done"
	// OutcomeAwaitHuman means the session suspended on a human-loop request.
	OutcomeAwaitHuman OutcomeKind = "await_human"
	// OutcomeHandover means the session checkpointed at a budget boundary and
	// waits for a resume in a fresh execution unit.
	OutcomeHandover OutcomeKind = "handover"
	// OutcomeFailed means the session reached the failed terminal state.
	OutcomeFailed OutcomeKind = "failed"
)

// Outcome is the result of one Advance step.
type Outcome struct {
	Kind      OutcomeKind
	NextPhase int

	// Request is set for OutcomeAwaitHuman.
	Request *session.HumanLoopRequest
	// Checkpoint is set for OutcomeHandover.
	Checkpoint *session.HandoverCheckpoint
	// Reason is set for OutcomeFailed.
	Reason string
}

// Orchestrator owns session progression. It is safe for concurrent use; a
// per-session in-flight guard rejects overlapping steps for the same session
// with ErrSessionBusy instead of interleaving them.
type Orchestrator struct {
	repo      session.Repository
	pipelines map[string]*pipeline.Pipeline
	prompts   prompt.Source
	client    model.Client
	budget    *budget.Monitor
	synth     *synthesis.Synthesizer
	handover  *handover.Manager
	humanloop *humanloop.Coordinator
	bus       *event.Bus
	logger    *logging.Logger

	mu       sync.Mutex
	inflight map[string]bool
}

// Config wires an Orchestrator's collaborators.
type Config struct {
	Repository session.Repository
	Pipelines  map[string]*pipeline.Pipeline
	Prompts    prompt.Source
	Client     model.Client
	Budget     *budget.Monitor
	Handover   *handover.Manager
	HumanLoop  *humanloop.Coordinator
	Bus        *event.Bus
	Logger     *logging.Logger
}

// New creates an orchestrator from explicit collaborators.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Orchestrator{
		repo:      cfg.Repository,
		pipelines: cfg.Pipelines,
		prompts:   cfg.Prompts,
		client:    cfg.Client,
		budget:    cfg.Budget,
		synth:     synthesis.NewSynthesizer(logger),
		handover:  cfg.Handover,
		humanloop: cfg.HumanLoop,
		bus:       cfg.Bus,
		logger:    logger,
		inflight:  make(map[string]bool),
	}
}

// NewFromConfig assembles an orchestrator and its collaborators from
// application config, a repository, and a model client.
func NewFromConfig(appCfg *config.Config, repo session.Repository, pipelines map[string]*pipeline.Pipeline, prompts prompt.Source, client model.Client, bus *event.Bus, logger *logging.Logger) *Orchestrator {
	return New(Config{
		Repository: repo,
		Pipelines:  pipelines,
		Prompts:    prompts,
		Client:     client,
		Budget:     budget.NewMonitorFromConfig(appCfg, bus, logger),
		Handover:   handover.NewManager(repo, bus, logger),
		HumanLoop:  humanloop.NewCoordinatorFromConfig(appCfg, repo, bus, logger),
		Bus:        bus,
		Logger:     logger,
	})
}

// HumanLoop exposes the coordinator for the sweeper and the submission
// surfaces.
func (o *Orchestrator) HumanLoop() *humanloop.Coordinator {
	return o.humanloop
}

// StartSession creates a new session at phase 0 with an empty archive.
func (o *Orchestrator) StartSession(ctx context.Context, subject, pipelineName string) (*session.Session, error) {
	p, ok := o.pipelines[pipelineName]
	if !ok {
		return nil, errors.NewNotFoundError("pipeline", pipelineName)
	}
	if subject == "" {
		return nil, errors.NewValidationError("subject cannot be empty").WithField("subject")
	}

	s := session.New(subject, pipelineName)
	if err := o.repo.CreateSession(ctx, s); err != nil {
		return nil, errors.Wrap(err, "create session")
	}
	if err := o.repo.SaveArchive(ctx, session.NewArchive(s.ID), 0); err != nil {
		return nil, errors.Wrap(err, "create archive")
	}

	o.logger.Info("session started",
		"session_id", s.ID,
		"subject", subject,
		"pipeline", pipelineName,
		"phases", p.PhaseCount(),
	)
	if o.bus != nil {
		o.bus.Publish(event.NewSessionStartedEvent(s.ID, subject, pipelineName, p.PhaseCount()))
	}
	return s, nil
}

// Advance executes at most one phase of the session and returns the step's
// outcome. A terminal session is a no-op reporting its terminal state.
func (o *Orchestrator) Advance(ctx context.Context, sessionID string) (*Outcome, error) {
	if err := o.acquire(sessionID); err != nil {
		return nil, err
	}
	defer o.release(sessionID)

	return o.step(ctx, sessionID)
}

// Run advances the session until it stops continuing: completion, a human
// gate, a handover boundary, or failure.
func (o *Orchestrator) Run(ctx context.Context, sessionID string) (*Outcome, error) {
	if err := o.acquire(sessionID); err != nil {
		return nil, err
	}
	defer o.release(sessionID)

	for {
		outcome, err := o.step(ctx, sessionID)
		if err != nil {
			// A failed step still carries its terminal outcome.
			return outcome, err
		}
		if outcome.Kind != OutcomeContinue {
			return outcome, nil
		}
		if err := ctx.Err(); err != nil {
			return outcome, err
		}
	}
}

// SubmitHumanInput forwards a payload to the pending request. Fulfillment
// does not itself advance the session; the next Advance consumes the payload
// and runs the gated phase.
func (o *Orchestrator) SubmitHumanInput(ctx context.Context, requestID string, payload map[string]string) (*session.HumanLoopRequest, error) {
	return o.humanloop.Submit(ctx, requestID, payload)
}

// Resume consumes a handover checkpoint and rehydrates its session. The
// caller then drives the session with Advance or Run as usual.
func (o *Orchestrator) Resume(ctx context.Context, checkpointID string) (*session.Session, error) {
	return o.handover.Resume(ctx, checkpointID)
}

// Cancel stops a session. A suspended session fails immediately; a running
// one fails at its next suspension point, never mid-phase.
func (o *Orchestrator) Cancel(ctx context.Context, sessionID string) (*session.Session, error) {
	s, err := o.repo.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.IsTerminal() {
		return s, nil
	}

	switch s.Status {
	case session.StatusAwaitingHuman, session.StatusCheckpointed:
		// Retire the pending request so no reminder fires for the dead
		// session and late submissions are rejected.
		if s.PendingRequestID != "" {
			if err := o.humanloop.Close(ctx, s.PendingRequestID); err != nil && !errors.Is(err, errors.ErrRequestNotFound) {
				return nil, err
			}
		}
		o.fail(ctx, s, errors.ReasonCancelled)
	default:
		s.CancelRequested = true
		s.Touch()
		if err := o.repo.SaveSession(ctx, s); err != nil {
			return nil, errors.Wrap(err, "persist cancel request")
		}
	}
	return s, nil
}

// GetSession returns the session by id.
func (o *Orchestrator) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	return o.repo.LoadSession(ctx, sessionID)
}

// GetArchive returns the session's current archive.
func (o *Orchestrator) GetArchive(ctx context.Context, sessionID string) (*session.Archive, error) {
	return o.repo.LoadArchive(ctx, sessionID)
}

// ListSessions returns all sessions, newest first.
func (o *Orchestrator) ListSessions(ctx context.Context) ([]*session.Session, error) {
	return o.repo.ListSessions(ctx)
}

// step runs one state-machine transition. Callers hold the in-flight guard.
func (o *Orchestrator) step(ctx context.Context, sessionID string) (*Outcome, error) {
	s, err := o.repo.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if s.IsTerminal() {
		return o.terminalOutcome(s), nil
	}
	if s.CancelRequested {
		o.fail(ctx, s, errors.ReasonCancelled)
		return &Outcome{Kind: OutcomeFailed, Reason: errors.ReasonCancelled}, nil
	}

	p, ok := o.pipelines[s.Pipeline]
	if !ok {
		return nil, errors.NewNotFoundError("pipeline", s.Pipeline)
	}

	var humanPayload map[string]string
	if s.Status == session.StatusAwaitingHuman {
		outcome, payload, err := o.resolvePendingRequest(ctx, s)
		if err != nil || outcome != nil {
			return outcome, err
		}
		humanPayload = payload
	}

	if s.Status == session.StatusCheckpointed {
		cp, err := o.repo.LatestCheckpoint(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		return &Outcome{Kind: OutcomeHandover, NextPhase: cp.NextPhase, Checkpoint: cp}, nil
	}

	archive, err := o.repo.LoadArchive(ctx, s.ID)
	if err != nil {
		return nil, err
	}

	// A crashed or replayed step may have merged the phase already; the
	// archive's merged-phase count is authoritative.
	if archive.PhaseIndex > s.PhaseIndex {
		s.PhaseIndex = archive.PhaseIndex
		s.Touch()
		if err := o.repo.SaveSession(ctx, s); err != nil {
			return nil, errors.Wrap(err, "persist phase index")
		}
	}

	if s.PhaseIndex >= p.PhaseCount() {
		return o.complete(ctx, s, p)
	}

	i := s.PhaseIndex
	phase := p.Phase(i)

	if phase.RequiresHuman() && humanPayload == nil {
		req, err := o.humanloop.Request(ctx, s, i, phase.Human)
		if err != nil {
			return nil, err
		}
		return &Outcome{Kind: OutcomeAwaitHuman, NextPhase: i, Request: req}, nil
	}

	result, err := o.executePhase(ctx, s, p, i, archive)
	if err != nil {
		o.fail(ctx, s, errors.ReasonModelFailure)
		return &Outcome{Kind: OutcomeFailed, Reason: errors.ReasonModelFailure},
			errors.NewPhaseError("phase execution failed", err).
				WithSessionID(s.ID).WithPhase(i).WithPhaseName(phase.Name)
	}

	o.budget.Record(s, result.TotalTokens())

	merged, err := o.synth.Merge(archive, phase, result, humanPayload)
	if err != nil {
		o.fail(ctx, s, errors.ReasonSynthesisFailure)
		return &Outcome{Kind: OutcomeFailed, Reason: errors.ReasonSynthesisFailure}, err
	}
	if err := o.repo.SaveArchive(ctx, merged, i); err != nil {
		return nil, err
	}

	s.PhaseIndex = i + 1
	s.PendingRequestID = ""
	s.Status = session.StatusRunning
	s.Touch()

	if o.bus != nil {
		o.bus.Publish(event.NewPhaseCompletedEvent(s.ID, i, phase.Name, result.TokensIn, result.TokensOut))
	}
	o.logger.Info("phase completed",
		"session_id", s.ID,
		"phase", i,
		"name", phase.Name,
		"tokens", result.TotalTokens(),
	)

	// Completion outranks the budget signal: when the merged phase was the
	// last one there is nothing left to hand over.
	if s.PhaseIndex >= p.PhaseCount() {
		return o.complete(ctx, s, p)
	}

	if o.budget.ShouldHandover(s) {
		cp, err := o.handover.CreateCheckpoint(ctx, s, merged, s.PhaseIndex, errors.ReasonBudgetThreshold)
		if err != nil {
			return nil, err
		}
		return &Outcome{Kind: OutcomeHandover, NextPhase: s.PhaseIndex, Checkpoint: cp}, nil
	}

	if err := o.repo.SaveSession(ctx, s); err != nil {
		return nil, errors.Wrap(err, "persist session")
	}
	return &Outcome{Kind: OutcomeContinue, NextPhase: s.PhaseIndex}, nil
}

// resolvePendingRequest inspects the request a suspended session waits on.
// It returns a non-nil outcome when the session must keep waiting or has
// failed, or the fulfilled payload when the gated phase may run.
func (o *Orchestrator) resolvePendingRequest(ctx context.Context, s *session.Session) (*Outcome, map[string]string, error) {
	if s.PendingRequestID == "" {
		// Nothing to wait on; treat as running.
		s.Status = session.StatusRunning
		return nil, nil, nil
	}

	req, err := o.humanloop.Poll(ctx, s.PendingRequestID)
	if err != nil {
		return nil, nil, err
	}

	switch req.Status {
	case session.RequestFulfilled:
		s.Status = session.StatusRunning
		return nil, req.Payload, nil
	case session.RequestExpired:
		// Poll already failed the session closed.
		return &Outcome{Kind: OutcomeFailed, Reason: errors.ReasonHumanInputTimeout}, nil, nil
	default:
		return &Outcome{Kind: OutcomeAwaitHuman, NextPhase: req.Phase, Request: req}, nil, nil
	}
}

// executePhase renders the phase prompt against the archive snapshot and
// calls the model.
func (o *Orchestrator) executePhase(ctx context.Context, s *session.Session, p *pipeline.Pipeline, i int, archive *session.Archive) (*session.PhaseResult, error) {
	phase := p.Phase(i)

	if o.bus != nil {
		o.bus.Publish(event.NewPhaseStartedEvent(s.ID, i, phase.Name))
	}

	text, err := o.prompts.Prompt(phase, prompt.Context{
		Subject: s.Subject,
		Phase:   phase.Name,
		Archive: archive.Fields,
	})
	if err != nil {
		return nil, errors.Wrap(err, "render prompt")
	}

	res, err := o.client.Execute(ctx, text)
	if err != nil {
		return nil, err
	}

	return &session.PhaseResult{
		Phase:       i,
		Name:        phase.Name,
		Text:        res.Text,
		TokensIn:    res.TokensIn,
		TokensOut:   res.TokensOut,
		Status:      session.ResultSuccess,
		CompletedAt: time.Now().UTC(),
	}, nil
}

// complete marks the session completed and emits the completion event.
func (o *Orchestrator) complete(ctx context.Context, s *session.Session, p *pipeline.Pipeline) (*Outcome, error) {
	s.Status = session.StatusCompleted
	s.Reason = ""
	s.PendingRequestID = ""
	s.Touch()
	if err := o.repo.SaveSession(ctx, s); err != nil {
		return nil, errors.Wrap(err, "persist completed session")
	}

	o.logger.Info("session completed",
		"session_id", s.ID,
		"phases", p.PhaseCount(),
		"lifetime_tokens", s.LifetimeTokens,
	)
	if o.bus != nil {
		o.bus.Publish(event.NewSessionCompletedEvent(s.ID, p.PhaseCount(), s.LifetimeTokens))
	}
	return &Outcome{Kind: OutcomeDone, NextPhase: s.PhaseIndex}, nil
}

// fail transitions the session to failed and emits the failure event. Save
// errors are logged, not returned; the caller is already on a failure path.
func (o *Orchestrator) fail(ctx context.Context, s *session.Session, reason string) {
	phase := s.PhaseIndex
	s.Fail(reason)
	if err := o.repo.SaveSession(ctx, s); err != nil {
		o.logger.Error("persist failed session", "session_id", s.ID, "error", err)
	}

	o.logger.Warn("session failed", "session_id", s.ID, "phase", phase, "reason", reason)
	if o.bus != nil {
		o.bus.Publish(event.NewSessionFailedEvent(s.ID, phase, reason))
	}
}

// terminalOutcome reports a terminal session's state without mutating it.
func (o *Orchestrator) terminalOutcome(s *session.Session) *Outcome {
	if s.Status == session.StatusCompleted {
		return &Outcome{Kind: OutcomeDone, NextPhase: s.PhaseIndex}
	}
	return &Outcome{Kind: OutcomeFailed, NextPhase: s.PhaseIndex, Reason: s.Reason}
}

func (o *Orchestrator) acquire(sessionID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflight[sessionID] {
		return errors.Wrapf(errors.ErrSessionBusy, "session %s", sessionID)
	}
	o.inflight[sessionID] = true
	return nil
}

func (o *Orchestrator) release(sessionID string) {
	o.mu.Lock()
	delete(o.inflight, sessionID)
	o.mu.Unlock()
}
