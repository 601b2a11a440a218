// Package model defines the language-model client seam. The orchestration
// core never retries a model call itself; the retrying wrapper in this
// package is the collaborator that owns backoff, and an APIError reaching
// the core means retries are already exhausted.
package model

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/maestro/internal/errors"
)

// Result is the output of one model call.
type Result struct {
	Text      string
	TokensIn  int64
	TokensOut int64
}

// TotalTokens returns the sum of prompt and completion tokens.
func (r *Result) TotalTokens() int64 {
	return r.TokensIn + r.TokensOut
}

// Client executes a prompt against a language model.
type Client interface {
	// Execute runs the prompt and returns the model's response. A returned
	// error means the call cannot succeed: transient failures are retried
	// below this interface.
	Execute(ctx context.Context, prompt string) (*Result, error)
}

// APIError is a failure reported by the model API.
type APIError struct {
	StatusCode int
	Message    string
	// Transient marks errors worth retrying (rate limits, upstream
	// overload). The retrying client consults this flag.
	Transient bool
}

// Error returns the formatted error message.
func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("model api error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("model api error: %s", e.Message)
}

// IsTransient reports whether err is a transient APIError.
func IsTransient(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Transient
}
