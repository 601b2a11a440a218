package event

import (
	"io"
	"os"
	"time"

	"fmt"
)

// Notifier renders operator-facing notifications for the events that need a
// human's attention: input requests, reminders, expiries, handover
// boundaries, and terminal session states. It writes plain lines to a writer
// (stderr by default); external delivery mechanisms subscribe to the same bus
// instead of extending this type.
type Notifier struct {
	out io.Writer
}

// NewNotifier creates a notifier writing to the given writer. A nil writer
// means stderr.
func NewNotifier(out io.Writer) *Notifier {
	if out == nil {
		out = os.Stderr
	}
	return &Notifier{out: out}
}

// Attach subscribes the notifier to the bus and returns the subscription ids.
func (n *Notifier) Attach(bus *Bus) []string {
	return []string{
		bus.Subscribe("humanloop.requested", n.handle),
		bus.Subscribe("humanloop.reminder", n.handle),
		bus.Subscribe("humanloop.expired", n.handle),
		bus.Subscribe("handover.created", n.handle),
		bus.Subscribe("budget.threshold", n.handle),
		bus.Subscribe("session.completed", n.handle),
		bus.Subscribe("session.failed", n.handle),
	}
}

func (n *Notifier) handle(e Event) {
	switch ev := e.(type) {
	case HumanInputRequestedEvent:
		n.printf("input needed [%s]: %s (request %s, respond by %s)",
			ev.SessionID, ev.Summary, ev.RequestID, ev.ExpiresAt.Format(time.RFC3339))
	case HumanInputReminderEvent:
		n.printf("reminder [%s]: request %s still awaits input, expires %s",
			ev.SessionID, ev.RequestID, ev.ExpiresAt.Format(time.RFC3339))
	case HumanInputExpiredEvent:
		n.printf("expired [%s]: request %s received no input; session failed",
			ev.SessionID, ev.RequestID)
	case HandoverCreatedEvent:
		n.printf("handover [%s]: checkpoint %s cut before phase %d (%s)",
			ev.SessionID, ev.CheckpointID, ev.NextPhase, ev.Reason)
	case BudgetThresholdEvent:
		n.printf("budget [%s]: %d tokens used of %d ceiling",
			ev.SessionID, ev.UnitTokens, ev.Ceiling)
	case SessionCompletedEvent:
		n.printf("completed [%s]: %d phases, %d tokens",
			ev.SessionID, ev.Phases, ev.LifetimeTokens)
	case SessionFailedEvent:
		n.printf("failed [%s]: phase %d, reason %s",
			ev.SessionID, ev.Phase, ev.Reason)
	}
}

func (n *Notifier) printf(format string, args ...any) {
	fmt.Fprintf(n.out, format+"\n", args...)
}
