package qchat

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"os/exec"
	"sync"
	"time"
)

const (
	// maxLineBytes is the longest output line the scanner accepts.
	maxLineBytes = 1024 * 1024
	// waitDelay bounds how long Wait keeps copying the error stream after exit.
	waitDelay = 2 * time.Second
)

// cmdProcess implements Process on top of exec.Cmd.
type cmdProcess struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *limitedBuffer

	scanErr error

	waitOnce  sync.Once
	waitDone  chan struct{}
	waitErr   error
	closeOnce sync.Once
}

func startProcess(cmd *exec.Cmd, maxStderr int) (*cmdProcess, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderr := &limitedBuffer{limit: maxStderr}
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	// #nosec G204 -- command and args come from configuration
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}

	return &cmdProcess{
		cmd:      cmd,
		stdout:   stdout,
		stderr:   stderr,
		waitDone: make(chan struct{}),
	}, nil
}

func (p *cmdProcess) pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Lines yields stdout lines without their terminators.
func (p *cmdProcess) Lines() iter.Seq[string] {
	return func(yield func(string) bool) {
		scanner := bufio.NewScanner(p.stdout)
		scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), maxLineBytes)
		for scanner.Scan() {
			if !yield(scanner.Text()) {
				return
			}
		}
		if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
			p.scanErr = fmt.Errorf("failed to read q chat output: %w", err)
		}
	}
}

func (p *cmdProcess) Err() error {
	return p.scanErr
}

func (p *cmdProcess) Stderr() string {
	return p.stderr.String()
}

func (p *cmdProcess) Wait(timeout time.Duration) (int, error) {
	p.startWait()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.waitDone:
	case <-timer.C:
		return -1, ErrWaitTimeout
	}

	if p.waitErr == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(p.waitErr, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("failed to wait for q chat: %w", p.waitErr)
}

// Terminate kills the agent together with every process it spawned.
func (p *cmdProcess) Terminate() error {
	if err := killProcessGroup(p.cmd); err != nil {
		return fmt.Errorf("failed to kill q chat: %w", err)
	}
	return nil
}

func (p *cmdProcess) Close() error {
	var err error
	p.closeOnce.Do(func() {
		select {
		case <-p.waitDone:
			return
		default:
		}
		err = p.Terminate()
		p.startWait()
		<-p.waitDone
	})
	return err
}

// startWait reaps the process exactly once, in the background.
func (p *cmdProcess) startWait() {
	p.waitOnce.Do(func() {
		go func() {
			p.waitErr = p.cmd.Wait()
			close(p.waitDone)
		}()
	})
}

// limitedBuffer keeps the first limit bytes written to it and discards the rest.
type limitedBuffer struct {
	buf   bytes.Buffer
	limit int
	mu    sync.Mutex
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	// Report everything as written so the copier never fails the process.
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
