package command

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout is the default timeout for command execution.
const DefaultTimeout = 30 * time.Second

// defaultDir is where commands run when no directory is configured.
const defaultDir = "/tmp"

// runCombined executes a command and returns its combined output. A context
// without a deadline gets DefaultTimeout.
func runCombined(ctx context.Context, dir, name string, args ...string) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	// #nosec G204 -- callers pass configured executables
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("command failed: %s %s (exit code %d): %s",
				name, strings.Join(args, " "), exitErr.ExitCode(), string(output))
		}
		return "", fmt.Errorf("command failed: %s %s: %w (output: %s)",
			name, strings.Join(args, " "), err, string(output))
	}

	return string(output), nil
}

// Builder provides a fluent interface for building and executing commands
// with more control over execution parameters.
type Builder struct {
	name    string
	args    []string
	dir     string
	timeout time.Duration
	ctx     context.Context
}

// NewCommand creates a new Builder for the given command.
func NewCommand(name string, args ...string) *Builder {
	return &Builder{
		name:    name,
		args:    args,
		dir:     defaultDir,
		timeout: DefaultTimeout,
		ctx:     context.Background(),
	}
}

// WithTimeout sets the timeout for Run. It does not apply to Cmd.
func (cb *Builder) WithTimeout(timeout time.Duration) *Builder {
	cb.timeout = timeout
	return cb
}

// WithContext sets the context for the command execution.
func (cb *Builder) WithContext(ctx context.Context) *Builder {
	cb.ctx = ctx
	return cb
}

// WithDir sets the working directory. An empty dir keeps the default.
func (cb *Builder) WithDir(dir string) *Builder {
	if dir != "" {
		cb.dir = dir
	}
	return cb
}

// Run executes the command and returns the combined output. A zero timeout
// leaves the context's own deadline, or DefaultTimeout when it has none.
func (cb *Builder) Run() (string, error) {
	ctx := cb.ctx
	if cb.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cb.timeout)
		defer cancel()
	}
	return runCombined(ctx, cb.dir, cb.name, cb.args...)
}

// Cmd returns an unstarted command bound to the builder's context. The
// process is killed when that context ends.
func (cb *Builder) Cmd() *exec.Cmd {
	// #nosec G204 -- callers pass configured executables
	cmd := exec.CommandContext(cb.ctx, cb.name, cb.args...)
	cmd.Dir = cb.dir
	return cmd
}
