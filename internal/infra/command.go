package infra

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/eliteGoblin/focusd/audio_mon/internal/domain"
)

// CommandRunner abstracts command execution for testing.
type CommandRunner interface {
	// Output runs a command and returns its stdout. Failures are *domain.ToolError.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)

	// Start launches a command without waiting for it.
	Start(name string, args ...string) error
}

// ExecRunner executes real system commands.
type ExecRunner struct{}

// Output runs the command and captures stderr into the returned error.
func (r *ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, &domain.ToolError{
			Tool:   name,
			Args:   args,
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}
	return out, nil
}

// Start launches the command and reaps it in the background.
func (r *ExecRunner) Start(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return &domain.ToolError{Tool: name, Args: args, Err: err}
	}
	go cmd.Wait()
	return nil
}

// Ensure ExecRunner implements CommandRunner.
var _ CommandRunner = (*ExecRunner)(nil)
