package handover

import (
	"context"
	"testing"

	"github.com/Iron-Ham/maestro/internal/errors"
	"github.com/Iron-Ham/maestro/internal/event"
	"github.com/Iron-Ham/maestro/internal/logging"
	"github.com/Iron-Ham/maestro/internal/session"
)

func newManager(t *testing.T) (*Manager, session.Repository, *event.Bus) {
	t.Helper()
	repo, err := session.NewFileRepository(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	bus := event.NewBus()
	return NewManager(repo, bus, logging.NopLogger()), repo, bus
}

func startSession(t *testing.T, repo session.Repository, fields map[string]string, phase int) (*session.Session, *session.Archive) {
	t.Helper()
	ctx := context.Background()
	s := session.New("Acme Corp", "subject-analysis")
	s.PhaseIndex = phase
	s.LifetimeTokens = 150_000
	s.UnitTokens = 140_000
	if err := repo.CreateSession(ctx, s); err != nil {
		t.Fatal(err)
	}
	archive := session.NewArchive(s.ID)
	for k, v := range fields {
		archive.Fields[k] = v
	}
	archive.PhaseIndex = phase
	if err := repo.SaveArchive(ctx, archive, 0); err != nil {
		t.Fatal(err)
	}
	return s, archive
}

func TestCreateCheckpoint(t *testing.T) {
	m, repo, _ := newManager(t)
	ctx := context.Background()
	s, archive := startSession(t, repo, map[string]string{"identity": "Acme Corp", "summary": "x"}, 2)

	cp, err := m.CreateCheckpoint(ctx, s, archive, 2, errors.ReasonBudgetThreshold)
	if err != nil {
		t.Fatalf("CreateCheckpoint() error = %v", err)
	}

	if cp.SessionID != s.ID {
		t.Errorf("SessionID = %q, want %q", cp.SessionID, s.ID)
	}
	if cp.NextPhase != 2 {
		t.Errorf("NextPhase = %d, want 2", cp.NextPhase)
	}
	if cp.LifetimeTokens != 150_000 {
		t.Errorf("LifetimeTokens = %d, want 150000", cp.LifetimeTokens)
	}
	if cp.Snapshot["identity"] != "Acme Corp" {
		t.Errorf("snapshot identity = %q", cp.Snapshot["identity"])
	}
	if cp.Digest == "" {
		t.Error("checkpoint has no digest")
	}
	if s.Status != session.StatusCheckpointed {
		t.Errorf("session status = %q, want checkpointed", s.Status)
	}

	// Snapshot is a deep copy, not an alias.
	archive.Fields["identity"] = "mutated"
	loaded, err := repo.LoadCheckpoint(ctx, cp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Snapshot["identity"] != "Acme Corp" {
		t.Errorf("persisted snapshot identity = %q, want original value", loaded.Snapshot["identity"])
	}
}

func TestResumeRestoresSessionAndArchive(t *testing.T) {
	m, repo, _ := newManager(t)
	ctx := context.Background()
	s, archive := startSession(t, repo, map[string]string{"identity": "Acme Corp"}, 3)

	cp, err := m.CreateCheckpoint(ctx, s, archive, 3, errors.ReasonBudgetThreshold)
	if err != nil {
		t.Fatal(err)
	}

	resumed, err := m.Resume(ctx, cp.ID)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}

	if resumed.ID != s.ID {
		t.Errorf("resumed id = %q, want same session %q", resumed.ID, s.ID)
	}
	if resumed.Status != session.StatusRunning {
		t.Errorf("status = %q, want running", resumed.Status)
	}
	if resumed.PhaseIndex != 3 {
		t.Errorf("PhaseIndex = %d, want 3", resumed.PhaseIndex)
	}
	if resumed.UnitTokens != 0 {
		t.Errorf("UnitTokens = %d, want 0 after resume", resumed.UnitTokens)
	}
	if resumed.LifetimeTokens != 150_000 {
		t.Errorf("LifetimeTokens = %d, want carried 150000", resumed.LifetimeTokens)
	}

	restored, err := repo.LoadArchive(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if restored.Fields["identity"] != "Acme Corp" {
		t.Errorf("restored identity = %q", restored.Fields["identity"])
	}
	if restored.PhaseIndex != 3 {
		t.Errorf("restored PhaseIndex = %d, want 3", restored.PhaseIndex)
	}
}

func TestResumeTwiceFails(t *testing.T) {
	m, repo, _ := newManager(t)
	ctx := context.Background()
	s, archive := startSession(t, repo, map[string]string{"identity": "Acme"}, 1)

	cp, err := m.CreateCheckpoint(ctx, s, archive, 1, errors.ReasonBudgetThreshold)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Resume(ctx, cp.ID); err != nil {
		t.Fatalf("first Resume() error = %v", err)
	}

	_, err = m.Resume(ctx, cp.ID)
	if !errors.Is(err, errors.ErrDuplicateResume) {
		t.Errorf("second Resume() error = %v, want ErrDuplicateResume", err)
	}
}

func TestResumeUnknownCheckpoint(t *testing.T) {
	m, _, _ := newManager(t)

	_, err := m.Resume(context.Background(), "01JXXXXXXXXXXXXXXXXXXXXXXX")
	if !errors.Is(err, errors.ErrCheckpointNotFound) {
		t.Errorf("Resume(unknown) error = %v, want ErrCheckpointNotFound", err)
	}
}

func TestResumeDetectsCorruptedSnapshot(t *testing.T) {
	m, repo, _ := newManager(t)
	ctx := context.Background()
	s, archive := startSession(t, repo, map[string]string{"identity": "Acme"}, 1)

	cp, err := m.CreateCheckpoint(ctx, s, archive, 1, errors.ReasonBudgetThreshold)
	if err != nil {
		t.Fatal(err)
	}

	cp.Snapshot["identity"] = "tampered"
	if err := repo.SaveCheckpoint(ctx, cp); err != nil {
		t.Fatal(err)
	}

	_, err = m.Resume(ctx, cp.ID)
	if !errors.Is(err, errors.ErrCheckpointCorrupted) {
		t.Errorf("Resume(tampered) error = %v, want ErrCheckpointCorrupted", err)
	}

	// The corrupted checkpoint was not consumed.
	loaded, err := repo.LoadCheckpoint(ctx, cp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Consumed {
		t.Error("corrupted checkpoint was consumed")
	}
}

func TestCheckpointEvents(t *testing.T) {
	m, repo, bus := newManager(t)
	ctx := context.Background()
	s, archive := startSession(t, repo, map[string]string{"identity": "Acme"}, 2)

	var created []event.HandoverCreatedEvent
	var resumed []event.HandoverResumedEvent
	bus.Subscribe("handover.created", func(e event.Event) {
		created = append(created, e.(event.HandoverCreatedEvent))
	})
	bus.Subscribe("handover.resumed", func(e event.Event) {
		resumed = append(resumed, e.(event.HandoverResumedEvent))
	})

	cp, err := m.CreateCheckpoint(ctx, s, archive, 2, errors.ReasonBudgetThreshold)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Resume(ctx, cp.ID); err != nil {
		t.Fatal(err)
	}

	if len(created) != 1 || created[0].CheckpointID != cp.ID {
		t.Errorf("created events = %+v, want one for %s", created, cp.ID)
	}
	if len(resumed) != 1 || resumed[0].CheckpointID != cp.ID {
		t.Errorf("resumed events = %+v, want one for %s", resumed, cp.ID)
	}
}

func TestSnapshotDigestStable(t *testing.T) {
	a := map[string]string{"b": "2", "a": "1", "c": "3"}
	b := map[string]string{"c": "3", "a": "1", "b": "2"}

	if snapshotDigest(a) != snapshotDigest(b) {
		t.Error("equal maps produced different digests")
	}

	b["c"] = "changed"
	if snapshotDigest(a) == snapshotDigest(b) {
		t.Error("different maps produced equal digests")
	}
}

func TestSnapshotDigestSeparatorSafe(t *testing.T) {
	// A value carrying field-separator bytes must not digest like two fields.
	one := map[string]string{"k1": "v1\nk2=v2"}
	two := map[string]string{"k1": "v1", "k2": "v2"}
	if snapshotDigest(one) == snapshotDigest(two) {
		t.Error("embedded separators collided with distinct fields")
	}

	// Key/value boundaries must not shift.
	left := map[string]string{"ab": "c"}
	right := map[string]string{"a": "bc"}
	if snapshotDigest(left) == snapshotDigest(right) {
		t.Error("shifted key/value boundary produced equal digests")
	}
}
