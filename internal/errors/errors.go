// Package errors provides centralized error definitions and error handling utilities
// for the Maestro codebase. It defines domain-specific errors, semantic error types,
// error constructors with context wrapping, and error classification helpers.
//
// # Error Types
//
// The package provides two categories of errors:
//
// Domain-specific errors represent errors from specific subsystems:
//   - SessionError: errors related to session lifecycle and persistence
//   - PhaseError: errors related to executing one phase of a pipeline
//   - SynthesisError: archive merge invariant violations, naming the offending field
//   - HumanInputError: rejected human-loop submissions, carrying per-key problems
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - AlreadyExistsError: resource already exists
//   - ValidationError: invalid input or state
//
// # Usage
//
// Creating errors:
//
//	// Domain-specific error
//	err := errors.NewPhaseError("model call failed", errors.ErrModelExhausted).
//		WithSessionID("abc123").WithPhase(2)
//
//	// Semantic error
//	err := errors.NewNotFoundError("session", "abc123")
//
// Checking errors:
//
//	// Check for specific sentinel errors
//	if errors.Is(err, errors.ErrDuplicateResume) { ... }
//
//	// Check for error types
//	var synthErr *errors.SynthesisError
//	if errors.As(err, &synthErr) { ... }
//
//	// Use classification helpers
//	if errors.IsRetryable(err) { ... }
//	if errors.IsValidation(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Session-related sentinel errors
var (
	// ErrSessionNotFound indicates that a session could not be found.
	ErrSessionNotFound = New("session not found")
	// ErrSessionTerminal indicates an operation against a completed or failed session.
	ErrSessionTerminal = New("session is terminal")
	// ErrSessionCorrupted indicates that session data is corrupted.
	ErrSessionCorrupted = New("session data corrupted")
	// ErrSessionNotCheckpointed indicates a resume against a session that is not
	// sitting at a handover boundary.
	ErrSessionNotCheckpointed = New("session is not checkpointed")
	// ErrSessionBusy indicates a second advance raced an in-flight orchestration
	// step for the same session.
	ErrSessionBusy = New("session step already in flight")
)

// Archive-related sentinel errors
var (
	// ErrArchiveNotFound indicates that a session's archive could not be found.
	ErrArchiveNotFound = New("archive not found")
	// ErrArchiveStale indicates that an archive write lost a phase-index
	// precondition check to a concurrent writer.
	ErrArchiveStale = New("archive phase index does not match")
	// ErrFieldLost indicates that a merge would drop or blank a previously
	// populated archive field.
	ErrFieldLost = New("archive field lost")
	// ErrRequiredFieldEmpty indicates that a required archive field is absent
	// or empty after a merge.
	ErrRequiredFieldEmpty = New("required archive field empty")
)

// Checkpoint-related sentinel errors
var (
	// ErrCheckpointNotFound indicates that a handover checkpoint could not be found.
	ErrCheckpointNotFound = New("checkpoint not found")
	// ErrDuplicateResume indicates that a single-use checkpoint was consumed twice.
	ErrDuplicateResume = New("checkpoint already consumed")
	// ErrCheckpointCorrupted indicates that a checkpoint snapshot failed its
	// integrity check.
	ErrCheckpointCorrupted = New("checkpoint data corrupted")
)

// Human-loop sentinel errors
var (
	// ErrRequestNotFound indicates that a human-loop request could not be found.
	ErrRequestNotFound = New("human-loop request not found")
	// ErrRequestExpired indicates a submission against an expired request.
	ErrRequestExpired = New("human-loop request expired")
	// ErrRequestFulfilled indicates a submission against an already fulfilled request.
	ErrRequestFulfilled = New("human-loop request already fulfilled")
	// ErrHumanInputTimeout indicates that a request expired with no submission.
	ErrHumanInputTimeout = New("human input timed out")
)

// Model-related sentinel errors
var (
	// ErrModelExhausted indicates that the model client gave up after its own
	// retry policy ran out.
	ErrModelExhausted = New("model retries exhausted")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
	// ErrOperationFailed indicates a general operation failure.
	ErrOperationFailed = New("operation failed")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// MaestroError is the base interface for all Maestro errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type MaestroError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	// This is used by errors.Is() for error comparison.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// SessionError represents errors related to session lifecycle and persistence.
//
// Example:
//
//	err := errors.NewSessionError("failed to load session", errors.ErrSessionNotFound)
//	err = err.WithSessionID("abc123")
//	fmt.Println(err) // "session error [session=abc123]: failed to load session: session not found"
type SessionError struct {
	baseError
	SessionID string
}

// NewSessionError creates a new SessionError.
func NewSessionError(message string, cause error) *SessionError {
	return &SessionError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithSessionID adds a session ID to the error context.
func (e *SessionError) WithSessionID(id string) *SessionError {
	e.SessionID = id
	return e
}

// WithSeverity sets the error severity.
func (e *SessionError) WithSeverity(s Severity) *SessionError {
	e.severity = s
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *SessionError) WithRetryable(r bool) *SessionError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *SessionError) Error() string {
	var parts []string
	if e.SessionID != "" {
		parts = append(parts, fmt.Sprintf("session=%s", e.SessionID))
	}

	prefix := "session error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("session error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *SessionError) Is(target error) bool {
	if _, ok := target.(*SessionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// PhaseError represents a failure while executing one phase of a pipeline.
// Phase failures are terminal for the owning session: the orchestrator never
// retries across phases.
//
// Example:
//
//	err := errors.NewPhaseError("model call failed", errors.ErrModelExhausted)
//	err = err.WithSessionID("abc123").WithPhase(2).WithPhaseName("profile")
type PhaseError struct {
	baseError
	SessionID string
	Phase     int
	PhaseName string
}

// NewPhaseError creates a new PhaseError.
func NewPhaseError(message string, cause error) *PhaseError {
	return &PhaseError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
		Phase: -1, // -1 indicates not set
	}
}

// WithSessionID adds a session ID to the error context.
func (e *PhaseError) WithSessionID(id string) *PhaseError {
	e.SessionID = id
	return e
}

// WithPhase adds a phase index to the error context.
func (e *PhaseError) WithPhase(idx int) *PhaseError {
	e.Phase = idx
	return e
}

// WithPhaseName adds a phase name to the error context.
func (e *PhaseError) WithPhaseName(name string) *PhaseError {
	e.PhaseName = name
	return e
}

// WithSeverity sets the error severity.
func (e *PhaseError) WithSeverity(s Severity) *PhaseError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *PhaseError) Error() string {
	var parts []string
	if e.SessionID != "" {
		parts = append(parts, fmt.Sprintf("session=%s", e.SessionID))
	}
	if e.Phase >= 0 {
		parts = append(parts, fmt.Sprintf("phase=%d", e.Phase))
	}
	if e.PhaseName != "" {
		parts = append(parts, fmt.Sprintf("name=%s", e.PhaseName))
	}

	prefix := "phase error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("phase error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *PhaseError) Is(target error) bool {
	if _, ok := target.(*PhaseError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// SynthesisError represents an archive merge invariant violation: a field the
// archive held was dropped or blanked, or a field the phase was required to
// produce is missing or empty. It always names the offending field and is
// escalated by the orchestrator to a phase failure.
//
// Example:
//
//	err := errors.NewSynthesisError("identity", errors.ErrFieldLost)
//	fmt.Println(err) // "synthesis error [field=identity]: archive field lost"
type SynthesisError struct {
	baseError
	Field string
}

// NewSynthesisError creates a new SynthesisError for the given field.
// cause should be ErrFieldLost or ErrRequiredFieldEmpty.
func NewSynthesisError(field string, cause error) *SynthesisError {
	return &SynthesisError{
		baseError: baseError{
			message:    "archive merge invariant violated",
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
		Field: field,
	}
}

// Error returns the formatted error message.
func (e *SynthesisError) Error() string {
	prefix := "synthesis error"
	if e.Field != "" {
		prefix = fmt.Sprintf("synthesis error [field=%s]", e.Field)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", prefix, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *SynthesisError) Is(target error) bool {
	if _, ok := target.(*SynthesisError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// HumanInputError represents a rejected human-loop submission. It is
// non-fatal: the owning request stays pending and the payload may be
// resubmitted any number of times before expiry.
//
// Example:
//
//	err := errors.NewHumanInputError("req-1", []string{"contact: required key is empty"})
type HumanInputError struct {
	baseError
	RequestID string
	Problems  []string
}

// NewHumanInputError creates a new HumanInputError.
func NewHumanInputError(requestID string, problems []string) *HumanInputError {
	return &HumanInputError{
		baseError: baseError{
			message:    "human input rejected",
			cause:      ErrInvalidInput,
			severity:   SeverityWarning,
			retryable:  true, // the caller may resubmit a corrected payload
			userFacing: true,
		},
		RequestID: requestID,
		Problems:  problems,
	}
}

// Error returns the formatted error message.
func (e *HumanInputError) Error() string {
	prefix := "human input error"
	if e.RequestID != "" {
		prefix = fmt.Sprintf("human input error [request=%s]", e.RequestID)
	}
	if len(e.Problems) > 0 {
		return fmt.Sprintf("%s: %s: %s", prefix, e.message, strings.Join(e.Problems, "; "))
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *HumanInputError) Is(target error) bool {
	if _, ok := target.(*HumanInputError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("session", "abc123")
//	fmt.Println(err) // "session 'abc123' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// AlreadyExistsError represents a resource that already exists.
//
// Example:
//
//	err := errors.NewAlreadyExistsError("session", "abc123")
//	fmt.Println(err) // "session 'abc123' already exists"
type AlreadyExistsError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewAlreadyExistsError creates a new AlreadyExistsError.
func NewAlreadyExistsError(resourceType, resourceID string) *AlreadyExistsError {
	return &AlreadyExistsError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' already exists", resourceType, resourceID),
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *AlreadyExistsError) WithCause(cause error) *AlreadyExistsError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *AlreadyExistsError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' already exists: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' already exists", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *AlreadyExistsError) Is(target error) bool {
	if _, ok := target.(*AlreadyExistsError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("subject cannot be empty")
//	err = err.WithField("subject").WithValue("")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}

	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry. This checks for:
//   - Errors implementing MaestroError with IsRetryable() returning true
//   - Errors wrapping ErrTimeout
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Check if error implements MaestroError
	var maestroErr MaestroError
	if As(err, &maestroErr) {
		return maestroErr.IsRetryable()
	}

	// Check for known retryable sentinel errors
	if Is(err, ErrTimeout) {
		return true
	}

	return false
}

// IsValidation returns true if the error represents rejected input: a
// HumanInputError, a ValidationError, or anything wrapping ErrInvalidInput.
// Validation failures are non-fatal; the caller may correct and resubmit.
func IsValidation(err error) bool {
	if err == nil {
		return false
	}

	var humanErr *HumanInputError
	var validationErr *ValidationError
	if As(err, &humanErr) || As(err, &validationErr) {
		return true
	}

	return Is(err, ErrInvalidInput)
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	// Check if error implements MaestroError
	var maestroErr MaestroError
	if As(err, &maestroErr) {
		return maestroErr.IsUserFacing()
	}

	// Semantic errors are always user-facing
	var notFound *NotFoundError
	var alreadyExists *AlreadyExistsError
	var validation *ValidationError

	if As(err, &notFound) || As(err, &alreadyExists) || As(err, &validation) {
		return true
	}

	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement MaestroError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	// Check if error implements MaestroError
	var maestroErr MaestroError
	if As(err, &maestroErr) {
		return maestroErr.Severity()
	}

	// Default to Error severity for unknown errors
	return SeverityError
}

// IsDomainError returns true if the error is a domain-specific error
// (SessionError, PhaseError, SynthesisError, or HumanInputError).
func IsDomainError(err error) bool {
	if err == nil {
		return false
	}

	var sessionErr *SessionError
	var phaseErr *PhaseError
	var synthErr *SynthesisError
	var humanErr *HumanInputError

	return As(err, &sessionErr) || As(err, &phaseErr) ||
		As(err, &synthErr) || As(err, &humanErr)
}

// IsSemanticError returns true if the error is a semantic error
// (NotFoundError, AlreadyExistsError, or ValidationError).
func IsSemanticError(err error) bool {
	if err == nil {
		return false
	}

	var notFound *NotFoundError
	var alreadyExists *AlreadyExistsError
	var validation *ValidationError

	return As(err, &notFound) || As(err, &alreadyExists) || As(err, &validation)
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
//
// Example:
//
//	err := errors.Wrap(baseErr, "failed to advance session")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
//
// Example:
//
//	err := errors.Wrapf(baseErr, "failed to advance session %s", sessionID)
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
