package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// -----------------------------------------------------------------------------
// Severity Tests
// -----------------------------------------------------------------------------

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityDebug, "debug"},
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// SessionError Tests
// -----------------------------------------------------------------------------

func TestNewSessionError(t *testing.T) {
	cause := ErrSessionNotFound
	err := NewSessionError("failed to load session", cause)

	if err.message != "failed to load session" {
		t.Errorf("message = %q, want %q", err.message, "failed to load session")
	}
	if err.cause != cause {
		t.Errorf("cause = %v, want %v", err.cause, cause)
	}
	if err.Severity() != SeverityError {
		t.Errorf("Severity() = %v, want %v", err.Severity(), SeverityError)
	}
	if err.IsRetryable() {
		t.Error("IsRetryable() = true, want false")
	}
	if !err.IsUserFacing() {
		t.Error("IsUserFacing() = false, want true")
	}
}

func TestSessionError_Format(t *testing.T) {
	err := NewSessionError("failed to load session", ErrSessionNotFound).
		WithSessionID("abc123")

	want := "session error [session=abc123]: failed to load session: session not found"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestSessionError_Is(t *testing.T) {
	err := NewSessionError("load failed", ErrSessionNotFound)

	if !errors.Is(err, ErrSessionNotFound) {
		t.Error("errors.Is(err, ErrSessionNotFound) = false, want true")
	}
	if errors.Is(err, ErrCheckpointNotFound) {
		t.Error("errors.Is(err, ErrCheckpointNotFound) = true, want false")
	}
}

// -----------------------------------------------------------------------------
// PhaseError Tests
// -----------------------------------------------------------------------------

func TestPhaseError_Format(t *testing.T) {
	err := NewPhaseError("model call failed", ErrModelExhausted).
		WithSessionID("abc123").
		WithPhase(2).
		WithPhaseName("profile")

	want := "phase error [session=abc123, phase=2, name=profile]: model call failed: model retries exhausted"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestPhaseError_PhaseZeroIncluded(t *testing.T) {
	err := NewPhaseError("boom", nil).WithPhase(0)

	if !strings.Contains(err.Error(), "phase=0") {
		t.Errorf("Error() = %q, want phase=0 included", err.Error())
	}
}

func TestPhaseError_UnsetPhaseOmitted(t *testing.T) {
	err := NewPhaseError("boom", nil)

	if strings.Contains(err.Error(), "phase=") {
		t.Errorf("Error() = %q, want no phase marker", err.Error())
	}
}

func TestPhaseError_As(t *testing.T) {
	var target *PhaseError
	err := fmt.Errorf("advancing: %w", NewPhaseError("boom", ErrModelExhausted).WithPhase(3))

	if !errors.As(err, &target) {
		t.Fatal("errors.As failed to find PhaseError")
	}
	if target.Phase != 3 {
		t.Errorf("Phase = %d, want 3", target.Phase)
	}
	if !errors.Is(err, ErrModelExhausted) {
		t.Error("errors.Is(err, ErrModelExhausted) = false, want true")
	}
}

// -----------------------------------------------------------------------------
// SynthesisError Tests
// -----------------------------------------------------------------------------

func TestSynthesisError_Format(t *testing.T) {
	tests := []struct {
		name  string
		field string
		cause error
		want  string
	}{
		{
			name:  "field lost",
			field: "identity",
			cause: ErrFieldLost,
			want:  "synthesis error [field=identity]: archive field lost",
		},
		{
			name:  "required field empty",
			field: "contact",
			cause: ErrRequiredFieldEmpty,
			want:  "synthesis error [field=contact]: required archive field empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewSynthesisError(tt.field, tt.cause)
			if got := err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
			if !errors.Is(err, tt.cause) {
				t.Errorf("errors.Is(err, %v) = false, want true", tt.cause)
			}
		})
	}
}

func TestSynthesisError_NamesField(t *testing.T) {
	var synthErr *SynthesisError
	err := fmt.Errorf("merging phase 4: %w", NewSynthesisError("identity", ErrFieldLost))

	if !errors.As(err, &synthErr) {
		t.Fatal("errors.As failed to find SynthesisError")
	}
	if synthErr.Field != "identity" {
		t.Errorf("Field = %q, want %q", synthErr.Field, "identity")
	}
}

// -----------------------------------------------------------------------------
// HumanInputError Tests
// -----------------------------------------------------------------------------

func TestHumanInputError(t *testing.T) {
	err := NewHumanInputError("req-1", []string{"contact: required key is empty"})

	if !errors.Is(err, ErrInvalidInput) {
		t.Error("errors.Is(err, ErrInvalidInput) = false, want true")
	}
	if !err.IsRetryable() {
		t.Error("IsRetryable() = false, want true (resubmission allowed)")
	}
	if err.Severity() != SeverityWarning {
		t.Errorf("Severity() = %v, want %v", err.Severity(), SeverityWarning)
	}

	want := "human input error [request=req-1]: human input rejected: contact: required key is empty"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

// -----------------------------------------------------------------------------
// Semantic Error Tests
// -----------------------------------------------------------------------------

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError("session", "abc123")

	want := "session 'abc123' not found"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if err.ResourceType != "session" {
		t.Errorf("ResourceType = %q, want %q", err.ResourceType, "session")
	}
}

func TestNotFoundError_WithCause(t *testing.T) {
	err := NewNotFoundError("checkpoint", "ck-1").WithCause(ErrCheckpointNotFound)

	if !errors.Is(err, ErrCheckpointNotFound) {
		t.Error("errors.Is(err, ErrCheckpointNotFound) = false, want true")
	}
}

func TestAlreadyExistsError(t *testing.T) {
	err := NewAlreadyExistsError("session", "abc123")

	want := "session 'abc123' already exists"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("subject cannot be empty").
		WithField("subject").
		WithValue("")

	if !errors.Is(err, ErrInvalidInput) {
		t.Error("errors.Is(err, ErrInvalidInput) = false, want true")
	}
	if !strings.Contains(err.Error(), "field=subject") {
		t.Errorf("Error() = %q, want field=subject included", err.Error())
	}
}

// -----------------------------------------------------------------------------
// Classification Tests
// -----------------------------------------------------------------------------

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"wrapped ErrTimeout", fmt.Errorf("op: %w", ErrTimeout), true},
		{"phase error", NewPhaseError("boom", nil), false},
		{"human input error", NewHumanInputError("req-1", nil), true},
		{"session error marked retryable", NewSessionError("busy", nil).WithRetryable(true), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsValidation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"human input error", NewHumanInputError("req-1", nil), true},
		{"validation error", NewValidationError("bad"), true},
		{"wrapped ErrInvalidInput", fmt.Errorf("submit: %w", ErrInvalidInput), true},
		{"synthesis error", NewSynthesisError("f", ErrFieldLost), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidation(tt.err); got != tt.want {
				t.Errorf("IsValidation() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetSeverity(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Severity
	}{
		{"nil", nil, SeverityDebug},
		{"plain error", errors.New("boom"), SeverityError},
		{"validation error", NewValidationError("bad"), SeverityWarning},
		{"critical session error", NewSessionError("corrupt", nil).WithSeverity(SeverityCritical), SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetSeverity(tt.err); got != tt.want {
				t.Errorf("GetSeverity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsDomainError(t *testing.T) {
	if !IsDomainError(NewSynthesisError("f", ErrFieldLost)) {
		t.Error("IsDomainError(SynthesisError) = false, want true")
	}
	if !IsDomainError(NewPhaseError("boom", nil)) {
		t.Error("IsDomainError(PhaseError) = false, want true")
	}
	if IsDomainError(NewNotFoundError("session", "x")) {
		t.Error("IsDomainError(NotFoundError) = true, want false")
	}
	if IsDomainError(nil) {
		t.Error("IsDomainError(nil) = true, want false")
	}
}

func TestWrap(t *testing.T) {
	base := ErrDuplicateResume
	err := Wrap(base, "resuming checkpoint")

	if !errors.Is(err, ErrDuplicateResume) {
		t.Error("errors.Is(wrapped, ErrDuplicateResume) = false, want true")
	}
	want := "resuming checkpoint: checkpoint already consumed"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	if Wrap(nil, "msg") != nil {
		t.Error("Wrap(nil) != nil")
	}
}

func TestWrapf(t *testing.T) {
	err := Wrapf(ErrSessionNotFound, "advancing session %s", "abc")

	if !errors.Is(err, ErrSessionNotFound) {
		t.Error("errors.Is(wrapped, ErrSessionNotFound) = false, want true")
	}
	if Wrapf(nil, "msg %d", 1) != nil {
		t.Error("Wrapf(nil) != nil")
	}
}
