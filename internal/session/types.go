// Package session defines the persistent aggregates of an analysis session
// (the session itself, its archive, handover checkpoints, and human-loop
// requests) and the Repository interface their durable storage implements.
// Two backends ship with the package: a file store and a SQLite store.
package session

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a session.
type Status string

const (
	// StatusRunning means the session is executing phases.
	StatusRunning Status = "running"
	// StatusAwaitingHuman means the session is suspended on a human-loop
	// request.
	StatusAwaitingHuman Status = "awaiting_human"
	// StatusCheckpointed means the session stopped at a handover boundary and
	// waits for a resume in a fresh execution unit.
	StatusCheckpointed Status = "checkpointed"
	// StatusCompleted means every phase merged successfully. Terminal.
	StatusCompleted Status = "completed"
	// StatusFailed means the session failed and will not continue. Terminal.
	StatusFailed Status = "failed"
)

// Session is one subject's trip through a pipeline. It is exclusively owned
// and mutated by the orchestrator; concurrent sessions share nothing.
type Session struct {
	ID         string `json:"id"`
	Subject    string `json:"subject"`
	Pipeline   string `json:"pipeline"`
	PhaseIndex int    `json:"phase_index"`
	Status     Status `json:"status"`
	Reason     string `json:"reason,omitempty"`

	// PendingRequestID is the human-loop request the session is suspended
	// on while Status is StatusAwaitingHuman.
	PendingRequestID string `json:"pending_request_id,omitempty"`

	// CancelRequested is honored at the next suspension point.
	CancelRequested bool `json:"cancel_requested,omitempty"`

	// LifetimeTokens is the total token count across all execution units;
	// it is what checkpoints carry forward.
	LifetimeTokens int64 `json:"lifetime_tokens"`

	// UnitTokens is the token count of the current execution unit; the
	// budget monitor compares it against the context ceiling and it resets
	// to zero on resume.
	UnitTokens int64 `json:"unit_tokens"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a running session at phase 0.
func New(subject, pipeline string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        uuid.New().String(),
		Subject:   subject,
		Pipeline:  pipeline,
		Status:    StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsTerminal reports whether the session reached a terminal state.
func (s *Session) IsTerminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// Fail marks the session failed with the given reason code.
func (s *Session) Fail(reason string) {
	s.Status = StatusFailed
	s.Reason = reason
	s.PendingRequestID = ""
	s.Touch()
}

// Touch updates the modification timestamp.
func (s *Session) Touch() {
	s.UpdatedAt = time.Now().UTC()
}

// ResultStatus is the outcome of a single phase execution.
type ResultStatus string

const (
	// ResultSuccess means the model call succeeded and the result is ready
	// to merge.
	ResultSuccess ResultStatus = "success"
	// ResultFailed means the phase failed; nothing merges.
	ResultFailed ResultStatus = "failed"
)

// PhaseResult is the output of one phase's model call.
type PhaseResult struct {
	Phase       int          `json:"phase"`
	Name        string       `json:"name"`
	Text        string       `json:"text"`
	TokensIn    int64        `json:"tokens_in"`
	TokensOut   int64        `json:"tokens_out"`
	Status      ResultStatus `json:"status"`
	CompletedAt time.Time    `json:"completed_at"`
}

// TotalTokens returns the sum of prompt and completion tokens.
func (r *PhaseResult) TotalTokens() int64 {
	return r.TokensIn + r.TokensOut
}

// Archive is the cumulative record accumulated across completed phases.
// PhaseIndex counts merged phases: after phase i merges it is i+1. Merges
// happen strictly in increasing phase order, and a write requires the stored
// index as a precondition, so a racing second merge for the same phase loses.
type Archive struct {
	SessionID  string            `json:"session_id"`
	Fields     map[string]string `json:"fields"`
	PhaseIndex int               `json:"phase_index"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// NewArchive creates an empty archive for a session.
func NewArchive(sessionID string) *Archive {
	return &Archive{
		SessionID: sessionID,
		Fields:    make(map[string]string),
		UpdatedAt: time.Now().UTC(),
	}
}

// Clone returns a deep copy. Merging always works on a clone so the input
// archive survives a failed merge untouched.
func (a *Archive) Clone() *Archive {
	return &Archive{
		SessionID:  a.SessionID,
		Fields:     maps.Clone(a.Fields),
		PhaseIndex: a.PhaseIndex,
		UpdatedAt:  a.UpdatedAt,
	}
}

// Get returns a field value and whether it is present.
func (a *Archive) Get(field string) (string, bool) {
	v, ok := a.Fields[field]
	return v, ok
}

// HandoverCheckpoint is a single-use snapshot that lets a session cross an
// execution-unit boundary. IDs are ULIDs, so the latest checkpoint for a
// session is the lexical maximum.
type HandoverCheckpoint struct {
	ID             string            `json:"id"`
	SessionID      string            `json:"session_id"`
	NextPhase      int               `json:"next_phase"`
	Snapshot       map[string]string `json:"snapshot"`
	LifetimeTokens int64             `json:"lifetime_tokens"`
	Reason         string            `json:"reason"`

	// Digest is a BLAKE3 hash of the snapshot, verified on resume.
	Digest string `json:"digest"`

	Consumed  bool      `json:"consumed"`
	CreatedAt time.Time `json:"created_at"`
}

// RequestStatus is the lifecycle state of a human-loop request.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestReminded  RequestStatus = "reminded"
	RequestFulfilled RequestStatus = "fulfilled"
	RequestExpired   RequestStatus = "expired"
)

// HumanLoopRequest suspends a session until an operator supplies data. The
// stored status can lag the clock; EffectiveStatus is authoritative so
// expiry holds even if no sweeper ever ran.
type HumanLoopRequest struct {
	ID           string         `json:"id"`
	SessionID    string         `json:"session_id"`
	Phase        int            `json:"phase"`
	Summary      string         `json:"summary"`
	RequiredKeys []string       `json:"required_keys"`
	Schema       map[string]any `json:"schema,omitempty"`

	CreatedAt    time.Time         `json:"created_at"`
	ExpiresAt    time.Time         `json:"expires_at"`
	ReminderSent bool              `json:"reminder_sent"`
	Status       RequestStatus     `json:"status"`
	Payload      map[string]string `json:"payload,omitempty"`
	FulfilledAt  *time.Time        `json:"fulfilled_at,omitempty"`
}

// NewRequest creates a pending request expiring after the given window.
func NewRequest(sessionID string, phase int, summary string, requiredKeys []string, schema map[string]any, window time.Duration) *HumanLoopRequest {
	now := time.Now().UTC()
	return &HumanLoopRequest{
		ID:           uuid.New().String(),
		SessionID:    sessionID,
		Phase:        phase,
		Summary:      summary,
		RequiredKeys: requiredKeys,
		Schema:       schema,
		CreatedAt:    now,
		ExpiresAt:    now.Add(window),
		Status:       RequestPending,
	}
}

// EffectiveStatus derives the request status from the clock: a pending or
// reminded request past its deadline reports expired regardless of what was
// last persisted.
func (r *HumanLoopRequest) EffectiveStatus(now time.Time) RequestStatus {
	if r.Status == RequestFulfilled || r.Status == RequestExpired {
		return r.Status
	}
	if !now.Before(r.ExpiresAt) {
		return RequestExpired
	}
	return r.Status
}

// Open reports whether the request can still accept a submission at the
// given instant.
func (r *HumanLoopRequest) Open(now time.Time) bool {
	s := r.EffectiveStatus(now)
	return s == RequestPending || s == RequestReminded
}

// ReminderDue reports whether the single reminder should fire: the request
// is still open, no reminder was sent, and half the response window has
// elapsed.
func (r *HumanLoopRequest) ReminderDue(now time.Time) bool {
	if r.ReminderSent || !r.Open(now) {
		return false
	}
	half := r.CreatedAt.Add(r.ExpiresAt.Sub(r.CreatedAt) / 2)
	return !now.Before(half)
}
