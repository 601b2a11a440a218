package session

import "context"

// Repository is durable CRUD for the session aggregates, keyed by id, with
// read-your-writes consistency within one process step. Implementations must
// make ConsumeCheckpoint a compare-and-swap so a checkpoint can be consumed
// exactly once, and SaveArchive must enforce the phase-index precondition.
type Repository interface {
	// CreateSession persists a new session. Returns an already-exists error
	// if the id is taken.
	CreateSession(ctx context.Context, s *Session) error

	// SaveSession persists the current state of an existing session.
	SaveSession(ctx context.Context, s *Session) error

	// LoadSession retrieves a session by id. Returns ErrSessionNotFound if
	// absent.
	LoadSession(ctx context.Context, id string) (*Session, error)

	// ListSessions returns all sessions, newest first.
	ListSessions(ctx context.Context) ([]*Session, error)

	// SaveArchive persists an archive only if the stored archive's
	// PhaseIndex equals expectPhase (0 for a first save). Returns
	// ErrArchiveStale when the precondition fails, which rejects a second,
	// racing merge for the same session/phase.
	SaveArchive(ctx context.Context, a *Archive, expectPhase int) error

	// RestoreArchive overwrites the stored archive unconditionally. Used
	// only when rehydrating from a checkpoint snapshot.
	RestoreArchive(ctx context.Context, a *Archive) error

	// LoadArchive retrieves a session's archive. Returns ErrArchiveNotFound
	// if absent.
	LoadArchive(ctx context.Context, sessionID string) (*Archive, error)

	// SaveCheckpoint persists a handover checkpoint.
	SaveCheckpoint(ctx context.Context, cp *HandoverCheckpoint) error

	// LoadCheckpoint retrieves a checkpoint by id. Returns
	// ErrCheckpointNotFound if absent.
	LoadCheckpoint(ctx context.Context, id string) (*HandoverCheckpoint, error)

	// ConsumeCheckpoint atomically flips a checkpoint's consumed flag.
	// Returns ErrDuplicateResume if the flag was already set.
	ConsumeCheckpoint(ctx context.Context, id string) error

	// LatestCheckpoint returns the most recent checkpoint for a session, or
	// ErrCheckpointNotFound if the session has none.
	LatestCheckpoint(ctx context.Context, sessionID string) (*HandoverCheckpoint, error)

	// SaveRequest persists a human-loop request.
	SaveRequest(ctx context.Context, r *HumanLoopRequest) error

	// LoadRequest retrieves a request by id. Returns ErrRequestNotFound if
	// absent.
	LoadRequest(ctx context.Context, id string) (*HumanLoopRequest, error)

	// ListOpenRequests returns every request whose persisted status is
	// pending or reminded, across all sessions. The sweeper walks this list.
	ListOpenRequests(ctx context.Context) ([]*HumanLoopRequest, error)
}
