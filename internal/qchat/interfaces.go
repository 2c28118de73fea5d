// Package qchat drives the q chat command-line agent as a subprocess.
package qchat

import (
	"context"
	"errors"
	"iter"
	"time"
)

// ErrWaitTimeout is returned by Process.Wait when the process has not exited
// within the allotted time.
var ErrWaitTimeout = errors.New("timed out waiting for q chat to exit")

// Launcher starts agent processes.
type Launcher interface {
	// Launch starts a process that reads input on its standard input.
	Launch(ctx context.Context, input string) (Process, error)
}

// Process is a running agent. Lines must be consumed before Wait; Close
// must always be called and releases everything the process holds.
type Process interface {
	// Lines yields raw output lines until the output stream closes.
	Lines() iter.Seq[string]

	// Err reports a failure to read the output stream, if any.
	Err() error

	// Stderr returns what the error stream has written so far. It does not
	// block; the content is complete only after Wait has returned an exit
	// code.
	Stderr() string

	// Wait waits up to timeout for the process to exit and returns its
	// exit code. It returns ErrWaitTimeout when the process is still running.
	Wait(timeout time.Duration) (int, error)

	// Terminate kills the process and everything it spawned.
	Terminate() error

	// Close terminates the process if needed and reaps it.
	Close() error
}
