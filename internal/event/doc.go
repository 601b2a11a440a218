// Package event provides a pub-sub event bus for decoupled inter-component
// communication in Maestro.
//
// This package enables loose coupling between the orchestrator, the human-loop
// coordinator, and notification subscribers by allowing them to communicate
// through events rather than direct method calls. Components can publish
// events without knowing who will receive them, and subscribe to events
// without knowing who will produce them.
//
// # Main Types
//
//   - [Event]: Interface that all events must implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub event dispatcher with thread-safe operations
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Categories
//
// The package defines several categories of events:
//
// Session Lifecycle:
//   - [SessionStartedEvent]: Emitted when a new analysis session is created
//   - [SessionCompletedEvent]: Emitted when every phase has merged
//   - [SessionFailedEvent]: Emitted when a session transitions to Failed
//
// Phase Execution:
//   - [PhaseStartedEvent]: Emitted when a phase begins executing
//   - [PhaseCompletedEvent]: Emitted after a phase's result merges into the archive
//
// Budget:
//   - [BudgetThresholdEvent]: Emitted when token usage crosses the handover threshold
//
// Human Loop:
//   - [HumanInputRequestedEvent]: Emitted when a session suspends for external data
//   - [HumanInputReminderEvent]: Emitted at the halfway point of the expiry window
//   - [HumanInputFulfilledEvent]: Emitted when a valid submission is accepted
//   - [HumanInputExpiredEvent]: Emitted when a request expires unfulfilled
//
// Handover:
//   - [HandoverCreatedEvent]: Emitted when a checkpoint is persisted
//   - [HandoverResumedEvent]: Emitted when a checkpoint is consumed
//
// # Thread Safety
//
// The [Bus] type is safe for concurrent use. Multiple goroutines can publish
// and subscribe concurrently. Handlers are called synchronously and protected
// against panics - a panicking handler will not prevent other handlers from
// being called.
//
// # Basic Usage
//
//	bus := event.NewBus()
//
//	// Subscribe to specific event types
//	bus.Subscribe("humanloop.requested", func(e event.Event) {
//	    req := e.(event.HumanInputRequestedEvent)
//	    log.Printf("session %s needs input by %v", req.SessionID, req.ExpiresAt)
//	})
//
//	// Subscribe to all events (useful for logging)
//	bus.SubscribeAll(func(e event.Event) {
//	    log.Printf("Event: %s at %v", e.EventType(), e.Timestamp())
//	})
//
//	// Publish events
//	bus.Publish(event.NewPhaseStartedEvent("sess-1", 0, "recon"))
//
//	// Unsubscribe when done
//	id := bus.Subscribe("phase.completed", handler)
//	bus.Unsubscribe(id)
//
// # Event Type Naming Convention
//
// Event types follow the pattern "category.action":
//   - session.started, session.completed, session.failed
//   - phase.started, phase.completed
//   - budget.threshold
//   - humanloop.requested, humanloop.reminder, humanloop.fulfilled, humanloop.expired
//   - handover.created, handover.resumed
package event
