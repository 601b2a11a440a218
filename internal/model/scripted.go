package model

import (
	"context"
	"sync"

	"github.com/Iron-Ham/maestro/internal/errors"
)

// ScriptedClient returns pre-recorded results in order. It backs tests and
// local dry runs where no real model is available.
type ScriptedClient struct {
	mu      sync.Mutex
	steps   []ScriptStep
	next    int
	Prompts []string // Prompts received, in order
}

// ScriptStep is one scripted response: either a result or an error.
type ScriptStep struct {
	Result *Result
	Err    error
}

// NewScriptedClient creates a client that replays the given steps.
func NewScriptedClient(steps ...ScriptStep) *ScriptedClient {
	return &ScriptedClient{steps: steps}
}

// Respond is a convenience constructor for a successful step.
func Respond(text string, tokensIn, tokensOut int64) ScriptStep {
	return ScriptStep{Result: &Result{Text: text, TokensIn: tokensIn, TokensOut: tokensOut}}
}

// Fail is a convenience constructor for a failing step.
func Fail(err error) ScriptStep {
	return ScriptStep{Err: err}
}

// Execute returns the next scripted step, recording the prompt.
func (c *ScriptedClient) Execute(ctx context.Context, prompt string) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Prompts = append(c.Prompts, prompt)

	if c.next >= len(c.steps) {
		return nil, errors.Wrap(errors.ErrModelExhausted, "scripted client ran out of steps")
	}
	step := c.steps[c.next]
	c.next++

	if step.Err != nil {
		return nil, step.Err
	}
	return step.Result, nil
}

// Calls returns how many prompts the client has received.
func (c *ScriptedClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Prompts)
}
