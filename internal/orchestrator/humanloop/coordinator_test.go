package humanloop

import (
	"context"
	"testing"
	"time"

	"github.com/Iron-Ham/maestro/internal/errors"
	"github.com/Iron-Ham/maestro/internal/event"
	"github.com/Iron-Ham/maestro/internal/logging"
	"github.com/Iron-Ham/maestro/internal/pipeline"
	"github.com/Iron-Ham/maestro/internal/session"
)

const window = 24 * time.Hour

func newCoordinator(t *testing.T) (*Coordinator, session.Repository, *event.Bus) {
	t.Helper()
	repo, err := session.NewFileRepository(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	bus := event.NewBus()
	c := NewCoordinator(Config{Window: window, SweepInterval: time.Second}, repo, bus, logging.NopLogger())
	return c, repo, bus
}

func testGate() *pipeline.HumanGate {
	return &pipeline.HumanGate{
		Summary:      "verify the subject's contact details",
		RequiredKeys: []string{"contact"},
	}
}

func openRequest(t *testing.T, c *Coordinator, repo session.Repository, gate *pipeline.HumanGate) (*session.Session, *session.HumanLoopRequest) {
	t.Helper()
	ctx := context.Background()
	s := session.New("Acme Corp", "subject-analysis")
	s.PhaseIndex = 1
	if err := repo.CreateSession(ctx, s); err != nil {
		t.Fatal(err)
	}
	req, err := c.Request(ctx, s, 1, gate)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	return s, req
}

func TestRequestSuspendsSession(t *testing.T) {
	c, repo, bus := newCoordinator(t)

	var requested []event.HumanInputRequestedEvent
	bus.Subscribe("humanloop.requested", func(e event.Event) {
		requested = append(requested, e.(event.HumanInputRequestedEvent))
	})

	s, req := openRequest(t, c, repo, testGate())

	if s.Status != session.StatusAwaitingHuman {
		t.Errorf("session status = %q, want awaiting_human", s.Status)
	}
	if s.PendingRequestID != req.ID {
		t.Errorf("PendingRequestID = %q, want %q", s.PendingRequestID, req.ID)
	}
	if got := req.ExpiresAt.Sub(req.CreatedAt); got != window {
		t.Errorf("response window = %v, want %v", got, window)
	}
	if len(requested) != 1 || requested[0].RequestID != req.ID {
		t.Errorf("requested events = %+v", requested)
	}
}

func TestSubmitFulfills(t *testing.T) {
	c, repo, bus := newCoordinator(t)
	ctx := context.Background()

	var fulfilled []event.HumanInputFulfilledEvent
	bus.Subscribe("humanloop.fulfilled", func(e event.Event) {
		fulfilled = append(fulfilled, e.(event.HumanInputFulfilledEvent))
	})

	_, req := openRequest(t, c, repo, testGate())

	got, err := c.Submit(ctx, req.ID, map[string]string{"contact": "ops@example.com"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if got.Status != session.RequestFulfilled {
		t.Errorf("status = %q, want fulfilled", got.Status)
	}
	if got.Payload["contact"] != "ops@example.com" {
		t.Errorf("payload = %v", got.Payload)
	}
	if got.FulfilledAt == nil {
		t.Error("FulfilledAt not set")
	}
	if len(fulfilled) != 1 {
		t.Errorf("fulfilled events = %d, want 1", len(fulfilled))
	}
}

func TestSubmitRejectsMissingRequiredKey(t *testing.T) {
	c, repo, _ := newCoordinator(t)
	ctx := context.Background()
	_, req := openRequest(t, c, repo, testGate())

	_, err := c.Submit(ctx, req.ID, map[string]string{"contact": ""})

	var humanErr *errors.HumanInputError
	if !errors.As(err, &humanErr) {
		t.Fatalf("Submit() error = %v, want HumanInputError", err)
	}
	if humanErr.RequestID != req.ID {
		t.Errorf("RequestID = %q, want %q", humanErr.RequestID, req.ID)
	}

	// Rejection is non-fatal; a corrected resubmission succeeds.
	if _, err := c.Submit(ctx, req.ID, map[string]string{"contact": "ops@example.com"}); err != nil {
		t.Errorf("resubmit error = %v", err)
	}
}

func TestSubmitValidatesSchema(t *testing.T) {
	c, repo, _ := newCoordinator(t)
	ctx := context.Background()

	gate := testGate()
	gate.Schema = map[string]any{
		"type":     "object",
		"required": []any{"contact"},
		"properties": map[string]any{
			"contact": map[string]any{"type": "string", "minLength": 5},
		},
	}
	_, req := openRequest(t, c, repo, gate)

	_, err := c.Submit(ctx, req.ID, map[string]string{"contact": "x@y"})
	var humanErr *errors.HumanInputError
	if !errors.As(err, &humanErr) {
		t.Fatalf("Submit(short contact) error = %v, want HumanInputError", err)
	}

	if _, err := c.Submit(ctx, req.ID, map[string]string{"contact": "ops@example.com"}); err != nil {
		t.Errorf("Submit(valid contact) error = %v", err)
	}
}

func TestSubmitAfterFulfillment(t *testing.T) {
	c, repo, _ := newCoordinator(t)
	ctx := context.Background()
	_, req := openRequest(t, c, repo, testGate())

	if _, err := c.Submit(ctx, req.ID, map[string]string{"contact": "a@b.com"}); err != nil {
		t.Fatal(err)
	}

	_, err := c.Submit(ctx, req.ID, map[string]string{"contact": "c@d.com"})
	if !errors.Is(err, errors.ErrRequestFulfilled) {
		t.Errorf("second Submit() error = %v, want ErrRequestFulfilled", err)
	}
}

func TestSubmitAfterExpiryFailsClosed(t *testing.T) {
	c, repo, _ := newCoordinator(t)
	ctx := context.Background()
	s, req := openRequest(t, c, repo, testGate())

	c.now = func() time.Time { return req.ExpiresAt.Add(time.Minute) }

	_, err := c.Submit(ctx, req.ID, map[string]string{"contact": "late@example.com"})
	if !errors.Is(err, errors.ErrRequestExpired) {
		t.Fatalf("Submit(expired) error = %v, want ErrRequestExpired", err)
	}

	failed, err := repo.LoadSession(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if failed.Status != session.StatusFailed {
		t.Errorf("session status = %q, want failed", failed.Status)
	}
	if failed.Reason != errors.ReasonHumanInputTimeout {
		t.Errorf("reason = %q, want %q", failed.Reason, errors.ReasonHumanInputTimeout)
	}
}

func TestPollDerivesExpiry(t *testing.T) {
	c, repo, _ := newCoordinator(t)
	ctx := context.Background()
	_, req := openRequest(t, c, repo, testGate())

	got, err := c.Poll(ctx, req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != session.RequestPending {
		t.Errorf("status = %q, want pending", got.Status)
	}

	c.now = func() time.Time { return req.ExpiresAt.Add(time.Minute) }

	got, err = c.Poll(ctx, req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != session.RequestExpired {
		t.Errorf("status after deadline = %q, want expired", got.Status)
	}

	// Expiry was persisted, not just derived.
	stored, err := repo.LoadRequest(ctx, req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != session.RequestExpired {
		t.Errorf("persisted status = %q, want expired", stored.Status)
	}
}

func TestSweepSendsSingleReminder(t *testing.T) {
	c, repo, bus := newCoordinator(t)
	ctx := context.Background()

	var reminders []event.HumanInputReminderEvent
	bus.Subscribe("humanloop.reminder", func(e event.Event) {
		reminders = append(reminders, e.(event.HumanInputReminderEvent))
	})

	_, req := openRequest(t, c, repo, testGate())

	// Before the midpoint nothing fires.
	c.now = func() time.Time { return req.CreatedAt.Add(window / 4) }
	if err := c.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	if len(reminders) != 0 {
		t.Fatalf("reminder fired before the midpoint")
	}

	c.now = func() time.Time { return req.CreatedAt.Add(window/2 + time.Minute) }
	if err := c.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Sweep(ctx); err != nil {
		t.Fatal(err)
	}

	if len(reminders) != 1 {
		t.Fatalf("reminders = %d, want exactly 1", len(reminders))
	}
	stored, err := repo.LoadRequest(ctx, req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.ReminderSent || stored.Status != session.RequestReminded {
		t.Errorf("stored request = %+v, want reminded", stored)
	}
}

func TestSweepExpiresLapsedRequests(t *testing.T) {
	c, repo, bus := newCoordinator(t)
	ctx := context.Background()

	var expired []event.HumanInputExpiredEvent
	bus.Subscribe("humanloop.expired", func(e event.Event) {
		expired = append(expired, e.(event.HumanInputExpiredEvent))
	})
	var failed []event.SessionFailedEvent
	bus.Subscribe("session.failed", func(e event.Event) {
		failed = append(failed, e.(event.SessionFailedEvent))
	})

	s, req := openRequest(t, c, repo, testGate())

	c.now = func() time.Time { return req.ExpiresAt.Add(time.Minute) }
	if err := c.Sweep(ctx); err != nil {
		t.Fatal(err)
	}

	if len(expired) != 1 || expired[0].RequestID != req.ID {
		t.Errorf("expired events = %+v", expired)
	}
	if len(failed) != 1 || failed[0].Reason != errors.ReasonHumanInputTimeout {
		t.Errorf("failed events = %+v", failed)
	}

	gone, err := repo.LoadSession(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if gone.Status != session.StatusFailed {
		t.Errorf("session status = %q, want failed", gone.Status)
	}
}

func TestFulfilledRequestSurvivesSweep(t *testing.T) {
	c, repo, _ := newCoordinator(t)
	ctx := context.Background()
	s, req := openRequest(t, c, repo, testGate())

	if _, err := c.Submit(ctx, req.ID, map[string]string{"contact": "ops@example.com"}); err != nil {
		t.Fatal(err)
	}

	c.now = func() time.Time { return req.ExpiresAt.Add(time.Hour) }
	if err := c.Sweep(ctx); err != nil {
		t.Fatal(err)
	}

	stored, err := repo.LoadRequest(ctx, req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != session.RequestFulfilled {
		t.Errorf("status = %q, fulfillment must outlast the deadline", stored.Status)
	}
	owner, err := repo.LoadSession(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if owner.Status == session.StatusFailed {
		t.Error("session failed despite fulfilled request")
	}
}

func TestCloseRetiresOpenRequest(t *testing.T) {
	c, repo, bus := newCoordinator(t)
	ctx := context.Background()

	var reminders []event.HumanInputReminderEvent
	bus.Subscribe("humanloop.reminder", func(e event.Event) {
		reminders = append(reminders, e.(event.HumanInputReminderEvent))
	})
	var failed []event.SessionFailedEvent
	bus.Subscribe("session.failed", func(e event.Event) {
		failed = append(failed, e.(event.SessionFailedEvent))
	})

	_, req := openRequest(t, c, repo, testGate())

	if err := c.Close(ctx, req.ID); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	stored, err := repo.LoadRequest(ctx, req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != session.RequestExpired {
		t.Errorf("status = %q, want expired", stored.Status)
	}

	// A late submission is rejected.
	if _, err := c.Submit(ctx, req.ID, map[string]string{"contact": "late@example.com"}); !errors.Is(err, errors.ErrRequestExpired) {
		t.Errorf("Submit(closed) error = %v, want ErrRequestExpired", err)
	}

	// The sweeper neither reminds about nor re-expires a closed request.
	c.now = func() time.Time { return req.CreatedAt.Add(window/2 + time.Minute) }
	if err := c.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	c.now = func() time.Time { return req.ExpiresAt.Add(time.Minute) }
	if err := c.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	if len(reminders) != 0 {
		t.Errorf("reminders = %d, want 0 for a closed request", len(reminders))
	}
	if len(failed) != 0 {
		t.Errorf("session.failed events = %d, want 0 for a closed request", len(failed))
	}
}

func TestCloseFulfilledRequestIsNoOp(t *testing.T) {
	c, repo, _ := newCoordinator(t)
	ctx := context.Background()
	_, req := openRequest(t, c, repo, testGate())

	if _, err := c.Submit(ctx, req.ID, map[string]string{"contact": "ops@example.com"}); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(ctx, req.ID); err != nil {
		t.Fatalf("Close(fulfilled) error = %v", err)
	}

	stored, err := repo.LoadRequest(ctx, req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != session.RequestFulfilled {
		t.Errorf("status = %q, fulfillment must survive Close", stored.Status)
	}
}
