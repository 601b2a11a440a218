package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "budget.handover_fraction")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateBudget()...)
	errors = append(errors, c.validateHumanLoop()...)
	errors = append(errors, c.validateModel()...)
	errors = append(errors, c.validateStorage()...)
	errors = append(errors, c.validateServer()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateBudget validates the BudgetConfig
func (c *Config) validateBudget() []ValidationError {
	var errors []ValidationError

	if c.Budget.ContextWindow <= 0 {
		errors = append(errors, ValidationError{
			Field:   "budget.context_window",
			Value:   c.Budget.ContextWindow,
			Message: "must be positive",
		})
	}

	if c.Budget.HandoverFraction <= 0 || c.Budget.HandoverFraction > 1 {
		errors = append(errors, ValidationError{
			Field:   "budget.handover_fraction",
			Value:   c.Budget.HandoverFraction,
			Message: "must be in (0, 1]",
		})
	}

	return errors
}

// validateHumanLoop validates the HumanLoopConfig
func (c *Config) validateHumanLoop() []ValidationError {
	var errors []ValidationError

	if c.HumanLoop.TimeoutHours <= 0 {
		errors = append(errors, ValidationError{
			Field:   "human_loop.timeout_hours",
			Value:   c.HumanLoop.TimeoutHours,
			Message: "must be positive",
		})
	}

	if c.HumanLoop.SweepIntervalSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "human_loop.sweep_interval_seconds",
			Value:   c.HumanLoop.SweepIntervalSeconds,
			Message: "must be positive",
		})
	}

	return errors
}

// validateModel validates the ModelConfig
func (c *Config) validateModel() []ValidationError {
	var errors []ValidationError

	if c.Model.MaxRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "model.max_retries",
			Value:   c.Model.MaxRetries,
			Message: "must be non-negative",
		})
	}

	if c.Model.InitialBackoffMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "model.initial_backoff_ms",
			Value:   c.Model.InitialBackoffMs,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateStorage validates the StorageConfig
func (c *Config) validateStorage() []ValidationError {
	var errors []ValidationError

	if !IsValidStorageBackend(c.Storage.Backend) {
		errors = append(errors, ValidationError{
			Field:   "storage.backend",
			Value:   c.Storage.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidStorageBackends(), ", ")),
		})
	}

	return errors
}

// validateServer validates the ServerConfig
func (c *Config) validateServer() []ValidationError {
	var errors []ValidationError

	if c.Server.Addr == "" {
		errors = append(errors, ValidationError{
			Field:   "server.addr",
			Value:   c.Server.Addr,
			Message: "must not be empty",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	validLevel := false
	for _, level := range ValidLogLevels() {
		if strings.EqualFold(c.Logging.Level, level) {
			validLevel = true
			break
		}
	}
	if !validLevel {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative",
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
