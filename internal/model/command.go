package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/Iron-Ham/maestro/internal/errors"
)

// CommandClient executes phases by shelling out to an external model command.
// The prompt is written to the command's stdin; the command must print a
// single JSON object on stdout:
//
//	{"text": "...", "tokens_in": 123, "tokens_out": 456}
//
// A non-zero exit is treated as transient so the retry wrapper gets a chance;
// malformed output is permanent.
type CommandClient struct {
	name string
	args []string
}

// commandResult is the wire shape the external command prints.
type commandResult struct {
	Text      string `json:"text"`
	TokensIn  int64  `json:"tokens_in"`
	TokensOut int64  `json:"tokens_out"`
}

// NewCommandClient parses a command line into a client. The command string is
// split on whitespace; the first token is the binary.
func NewCommandClient(command string) (*CommandClient, error) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return nil, errors.NewValidationError("model command cannot be empty").WithField("model.command")
	}
	return &CommandClient{name: parts[0], args: parts[1:]}, nil
}

// Execute runs the command with the prompt on stdin and parses its output.
func (c *CommandClient) Execute(ctx context.Context, prompt string) (*Result, error) {
	cmd := exec.CommandContext(ctx, c.name, c.args...)
	cmd.Stdin = strings.NewReader(prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &APIError{
			Message:   fmt.Sprintf("model command failed: %v: %s", err, strings.TrimSpace(stderr.String())),
			Transient: true,
		}
	}

	var res commandResult
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		return nil, &APIError{
			Message:   fmt.Sprintf("model command output is not valid JSON: %v", err),
			Transient: false,
		}
	}

	return &Result{
		Text:      res.Text,
		TokensIn:  res.TokensIn,
		TokensOut: res.TokensOut,
	}, nil
}
