package model

import (
	"context"
	"time"

	"github.com/Iron-Ham/maestro/internal/errors"
	"github.com/Iron-Ham/maestro/internal/logging"
)

// RetryConfig controls the retrying client's backoff.
type RetryConfig struct {
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int
	// InitialBackoff is the delay before the first retry; it doubles per
	// attempt.
	InitialBackoff time.Duration
}

// RetryClient wraps a Client with exponential backoff over transient
// failures: APIErrors flagged transient and anything the errors package
// classifies retryable. Permanent errors fail immediately; exhausting the
// attempts wraps the last error in ErrModelExhausted so the orchestrator
// can classify it without knowing the provider.
type RetryClient struct {
	inner  Client
	config RetryConfig
	logger *logging.Logger
}

// NewRetryClient creates a RetryClient around the given inner client.
func NewRetryClient(inner Client, cfg RetryConfig, logger *logging.Logger) *RetryClient {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &RetryClient{
		inner:  inner,
		config: cfg,
		logger: logger,
	}
}

// Execute runs the prompt, retrying transient failures.
func (c *RetryClient) Execute(ctx context.Context, prompt string) (*Result, error) {
	backoff := c.config.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying model call",
				"attempt", attempt,
				"backoff", backoff.String(),
				"error", lastErr,
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}

		result, err := c.inner.Execute(ctx, prompt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsTransient(err) && !errors.IsRetryable(err) {
			return nil, err
		}
	}

	return nil, errors.Wrapf(errors.ErrModelExhausted, "gave up after %d attempts: %v", c.config.MaxRetries+1, lastErr)
}
