// Package event defines event types for decoupling components in Maestro.
// These events let the orchestrator, the human-loop coordinator, and
// notification subscribers communicate without direct dependencies.
package event

import "time"

// Event is the interface that all events must implement.
// It provides a common way to identify and timestamp events.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "phase.started", "handover.created")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Session Lifecycle Events
// -----------------------------------------------------------------------------

// SessionStartedEvent is emitted when a new analysis session is created.
type SessionStartedEvent struct {
	baseEvent
	SessionID string // Unique identifier for the session
	Subject   string // Subject under analysis
	Pipeline  string // Name of the pipeline definition
	Phases    int    // Number of phases in the pipeline
}

// NewSessionStartedEvent creates a SessionStartedEvent.
func NewSessionStartedEvent(sessionID, subject, pipeline string, phases int) SessionStartedEvent {
	return SessionStartedEvent{
		baseEvent: newBaseEvent("session.started"),
		SessionID: sessionID,
		Subject:   subject,
		Pipeline:  pipeline,
		Phases:    phases,
	}
}

// SessionCompletedEvent is emitted when every phase of a session has merged.
type SessionCompletedEvent struct {
	baseEvent
	SessionID      string // Unique identifier for the session
	Phases         int    // Number of phases that ran
	LifetimeTokens int64  // Total tokens consumed across all execution units
}

// NewSessionCompletedEvent creates a SessionCompletedEvent.
func NewSessionCompletedEvent(sessionID string, phases int, lifetimeTokens int64) SessionCompletedEvent {
	return SessionCompletedEvent{
		baseEvent:      newBaseEvent("session.completed"),
		SessionID:      sessionID,
		Phases:         phases,
		LifetimeTokens: lifetimeTokens,
	}
}

// SessionFailedEvent is emitted when a session transitions to Failed.
type SessionFailedEvent struct {
	baseEvent
	SessionID string // Unique identifier for the session
	Phase     int    // Phase index at which the failure occurred
	Reason    string // Reason code (e.g., "human-input-timeout", "cancelled")
}

// NewSessionFailedEvent creates a SessionFailedEvent.
func NewSessionFailedEvent(sessionID string, phase int, reason string) SessionFailedEvent {
	return SessionFailedEvent{
		baseEvent: newBaseEvent("session.failed"),
		SessionID: sessionID,
		Phase:     phase,
		Reason:    reason,
	}
}

// -----------------------------------------------------------------------------
// Phase Events
// -----------------------------------------------------------------------------

// PhaseStartedEvent is emitted when the orchestrator begins executing a phase.
type PhaseStartedEvent struct {
	baseEvent
	SessionID string // Session the phase belongs to
	Phase     int    // Zero-based phase index
	Name      string // Phase name from the pipeline definition
}

// NewPhaseStartedEvent creates a PhaseStartedEvent.
func NewPhaseStartedEvent(sessionID string, phase int, name string) PhaseStartedEvent {
	return PhaseStartedEvent{
		baseEvent: newBaseEvent("phase.started"),
		SessionID: sessionID,
		Phase:     phase,
		Name:      name,
	}
}

// PhaseCompletedEvent is emitted after a phase's result has merged into
// the archive.
type PhaseCompletedEvent struct {
	baseEvent
	SessionID string // Session the phase belongs to
	Phase     int    // Zero-based phase index
	Name      string // Phase name from the pipeline definition
	TokensIn  int64  // Prompt tokens consumed by the model call
	TokensOut int64  // Completion tokens produced by the model call
}

// NewPhaseCompletedEvent creates a PhaseCompletedEvent.
func NewPhaseCompletedEvent(sessionID string, phase int, name string, tokensIn, tokensOut int64) PhaseCompletedEvent {
	return PhaseCompletedEvent{
		baseEvent: newBaseEvent("phase.completed"),
		SessionID: sessionID,
		Phase:     phase,
		Name:      name,
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
	}
}

// TotalTokens returns the sum of prompt and completion tokens.
func (e PhaseCompletedEvent) TotalTokens() int64 {
	return e.TokensIn + e.TokensOut
}

// -----------------------------------------------------------------------------
// Budget Events
// -----------------------------------------------------------------------------

// BudgetThresholdEvent is emitted when cumulative token usage for the
// current execution unit crosses the handover fraction of the ceiling.
type BudgetThresholdEvent struct {
	baseEvent
	SessionID  string  // Session whose budget crossed the threshold
	UnitTokens int64   // Tokens consumed by the current execution unit
	Ceiling    int64   // Configured context window ceiling
	Fraction   float64 // Configured handover fraction
}

// NewBudgetThresholdEvent creates a BudgetThresholdEvent.
func NewBudgetThresholdEvent(sessionID string, unitTokens, ceiling int64, fraction float64) BudgetThresholdEvent {
	return BudgetThresholdEvent{
		baseEvent:  newBaseEvent("budget.threshold"),
		SessionID:  sessionID,
		UnitTokens: unitTokens,
		Ceiling:    ceiling,
		Fraction:   fraction,
	}
}

// -----------------------------------------------------------------------------
// Human Loop Events
// -----------------------------------------------------------------------------

// HumanInputRequestedEvent is emitted when a session suspends waiting for
// externally-supplied data. The default notifier renders these events.
type HumanInputRequestedEvent struct {
	baseEvent
	SessionID string    // Session that is now awaiting input
	RequestID string    // Identifier of the human-loop request
	Phase     int       // Phase index gated on the input
	Summary   string    // Short description of what is needed
	ExpiresAt time.Time // When the request expires unfulfilled
}

// NewHumanInputRequestedEvent creates a HumanInputRequestedEvent.
func NewHumanInputRequestedEvent(sessionID, requestID string, phase int, summary string, expiresAt time.Time) HumanInputRequestedEvent {
	return HumanInputRequestedEvent{
		baseEvent: newBaseEvent("humanloop.requested"),
		SessionID: sessionID,
		RequestID: requestID,
		Phase:     phase,
		Summary:   summary,
		ExpiresAt: expiresAt,
	}
}

// HumanInputReminderEvent is emitted once per request at the halfway point
// of its expiry window.
type HumanInputReminderEvent struct {
	baseEvent
	SessionID string    // Session still awaiting input
	RequestID string    // Identifier of the human-loop request
	ExpiresAt time.Time // When the request expires unfulfilled
}

// NewHumanInputReminderEvent creates a HumanInputReminderEvent.
func NewHumanInputReminderEvent(sessionID, requestID string, expiresAt time.Time) HumanInputReminderEvent {
	return HumanInputReminderEvent{
		baseEvent: newBaseEvent("humanloop.reminder"),
		SessionID: sessionID,
		RequestID: requestID,
		ExpiresAt: expiresAt,
	}
}

// HumanInputFulfilledEvent is emitted when a valid submission is accepted.
type HumanInputFulfilledEvent struct {
	baseEvent
	SessionID string   // Session that can now continue
	RequestID string   // Identifier of the fulfilled request
	Keys      []string // Payload keys that were supplied
}

// NewHumanInputFulfilledEvent creates a HumanInputFulfilledEvent.
func NewHumanInputFulfilledEvent(sessionID, requestID string, keys []string) HumanInputFulfilledEvent {
	return HumanInputFulfilledEvent{
		baseEvent: newBaseEvent("humanloop.fulfilled"),
		SessionID: sessionID,
		RequestID: requestID,
		Keys:      keys,
	}
}

// HumanInputExpiredEvent is emitted when a request's expiry passes without
// a valid submission. The owning session fails with "human-input-timeout".
type HumanInputExpiredEvent struct {
	baseEvent
	SessionID string // Session that will fail
	RequestID string // Identifier of the expired request
	Phase     int    // Phase index that was gated on the input
}

// NewHumanInputExpiredEvent creates a HumanInputExpiredEvent.
func NewHumanInputExpiredEvent(sessionID, requestID string, phase int) HumanInputExpiredEvent {
	return HumanInputExpiredEvent{
		baseEvent: newBaseEvent("humanloop.expired"),
		SessionID: sessionID,
		RequestID: requestID,
		Phase:     phase,
	}
}

// -----------------------------------------------------------------------------
// Handover Events
// -----------------------------------------------------------------------------

// HandoverCreatedEvent is emitted when a checkpoint is persisted and the
// session stops for a fresh execution unit.
type HandoverCreatedEvent struct {
	baseEvent
	SessionID    string // Session that checkpointed
	CheckpointID string // Identifier of the new checkpoint
	NextPhase    int    // Phase index execution resumes at
	Reason       string // Reason code (e.g., "budget-threshold")
}

// NewHandoverCreatedEvent creates a HandoverCreatedEvent.
func NewHandoverCreatedEvent(sessionID, checkpointID string, nextPhase int, reason string) HandoverCreatedEvent {
	return HandoverCreatedEvent{
		baseEvent:    newBaseEvent("handover.created"),
		SessionID:    sessionID,
		CheckpointID: checkpointID,
		NextPhase:    nextPhase,
		Reason:       reason,
	}
}

// HandoverResumedEvent is emitted when a checkpoint is consumed and its
// session rehydrated in a new execution unit.
type HandoverResumedEvent struct {
	baseEvent
	SessionID    string // Session that resumed
	CheckpointID string // Identifier of the consumed checkpoint
	NextPhase    int    // Phase index execution resumes at
}

// NewHandoverResumedEvent creates a HandoverResumedEvent.
func NewHandoverResumedEvent(sessionID, checkpointID string, nextPhase int) HandoverResumedEvent {
	return HandoverResumedEvent{
		baseEvent:    newBaseEvent("handover.resumed"),
		SessionID:    sessionID,
		CheckpointID: checkpointID,
		NextPhase:    nextPhase,
	}
}
