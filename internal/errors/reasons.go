package errors

// Reason codes recorded on a session when it reaches a terminal or
// checkpointed state. They are part of the public contract: callers and the
// HTTP API surface them verbatim, so the strings are stable.
const (
	// ReasonHumanInputTimeout marks a session failed because a human-loop
	// request expired with no valid submission.
	ReasonHumanInputTimeout = "human-input-timeout"

	// ReasonCancelled marks a session failed by an explicit cancellation.
	ReasonCancelled = "cancelled"

	// ReasonBudgetThreshold marks a checkpoint cut because cumulative token
	// usage crossed the handover fraction of the context ceiling.
	ReasonBudgetThreshold = "budget-threshold"

	// ReasonModelFailure marks a session failed because the model client
	// exhausted its own retries.
	ReasonModelFailure = "model-failure"

	// ReasonSynthesisFailure marks a session failed because an archive merge
	// violated a synthesis invariant.
	ReasonSynthesisFailure = "synthesis-invariant"
)
