// Package handover creates and consumes the single-use checkpoints that let
// a session cross execution-unit boundaries. A checkpoint snapshot carries a
// BLAKE3 digest verified on resume, and consumption is a compare-and-swap in
// the repository, so a crashed or retried scheduler cannot replay a phase.
package handover

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/zeebo/blake3"

	"github.com/Iron-Ham/maestro/internal/errors"
	"github.com/Iron-Ham/maestro/internal/event"
	"github.com/Iron-Ham/maestro/internal/logging"
	"github.com/Iron-Ham/maestro/internal/session"
)

// Manager creates and consumes handover checkpoints.
type Manager struct {
	repo   session.Repository
	bus    *event.Bus
	logger *logging.Logger
}

// NewManager creates a handover manager.
func NewManager(repo session.Repository, bus *event.Bus, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Manager{
		repo:   repo,
		bus:    bus,
		logger: logger,
	}
}

// CreateCheckpoint captures a deep snapshot of the archive, the next phase
// index, the lifetime token count, and the reason, then persists it and
// marks the session checkpointed. Nothing further executes for the session
// in this execution unit.
func (m *Manager) CreateCheckpoint(ctx context.Context, s *session.Session, archive *session.Archive, nextPhase int, reason string) (*session.HandoverCheckpoint, error) {
	snapshot := maps.Clone(archive.Fields)
	if snapshot == nil {
		snapshot = make(map[string]string)
	}

	cp := &session.HandoverCheckpoint{
		ID:             ulid.Make().String(),
		SessionID:      s.ID,
		NextPhase:      nextPhase,
		Snapshot:       snapshot,
		LifetimeTokens: s.LifetimeTokens,
		Reason:         reason,
		Digest:         snapshotDigest(snapshot),
		CreatedAt:      time.Now().UTC(),
	}

	if err := m.repo.SaveCheckpoint(ctx, cp); err != nil {
		return nil, errors.Wrap(err, "persist checkpoint")
	}

	s.Status = session.StatusCheckpointed
	s.Reason = reason
	s.PhaseIndex = nextPhase
	s.Touch()
	if err := m.repo.SaveSession(ctx, s); err != nil {
		return nil, errors.Wrap(err, "persist checkpointed session")
	}

	m.logger.Info("handover checkpoint created",
		"session_id", s.ID,
		"checkpoint_id", cp.ID,
		"next_phase", nextPhase,
		"reason", reason,
	)
	if m.bus != nil {
		m.bus.Publish(event.NewHandoverCreatedEvent(s.ID, cp.ID, nextPhase, reason))
	}
	return cp, nil
}

// Resume consumes a checkpoint and rehydrates its session for a fresh
// execution unit: same session id, status running at the checkpointed
// index, execution-unit token counter zeroed, archive restored from the
// verified snapshot. A checkpoint that was already consumed fails with
// ErrDuplicateResume before any state changes.
func (m *Manager) Resume(ctx context.Context, checkpointID string) (*session.Session, error) {
	cp, err := m.repo.LoadCheckpoint(ctx, checkpointID)
	if err != nil {
		return nil, err
	}

	if got := snapshotDigest(cp.Snapshot); got != cp.Digest {
		return nil, errors.Wrapf(errors.ErrCheckpointCorrupted, "snapshot digest mismatch for checkpoint %s", cp.ID)
	}

	// The consume flip is the single-use gate; everything after it runs at
	// most once per checkpoint.
	if err := m.repo.ConsumeCheckpoint(ctx, cp.ID); err != nil {
		return nil, err
	}

	s, err := m.repo.LoadSession(ctx, cp.SessionID)
	if err != nil {
		return nil, err
	}
	if s.IsTerminal() {
		return nil, errors.Wrapf(errors.ErrSessionTerminal, "session %s cannot resume", s.ID)
	}

	archive := &session.Archive{
		SessionID:  s.ID,
		Fields:     maps.Clone(cp.Snapshot),
		PhaseIndex: cp.NextPhase,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := m.repo.RestoreArchive(ctx, archive); err != nil {
		return nil, errors.Wrap(err, "restore archive snapshot")
	}

	s.Status = session.StatusRunning
	s.Reason = ""
	s.PhaseIndex = cp.NextPhase
	s.LifetimeTokens = cp.LifetimeTokens
	s.UnitTokens = 0 // Fresh execution unit, fresh context window
	s.Touch()
	if err := m.repo.SaveSession(ctx, s); err != nil {
		return nil, errors.Wrap(err, "persist resumed session")
	}

	m.logger.Info("session resumed from checkpoint",
		"session_id", s.ID,
		"checkpoint_id", cp.ID,
		"next_phase", cp.NextPhase,
	)
	if m.bus != nil {
		m.bus.Publish(event.NewHandoverResumedEvent(s.ID, cp.ID, cp.NextPhase))
	}
	return s, nil
}

// snapshotDigest hashes the snapshot in sorted key order so equal maps
// always digest identically. Keys and values are length-prefixed so a
// value containing separator bytes cannot digest like two distinct fields.
func snapshotDigest(snapshot map[string]string) string {
	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := blake3.New()
	for _, k := range keys {
		v := snapshot[k]
		fmt.Fprintf(h, "%d:%s%d:%s", len(k), k, len(v), v)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
