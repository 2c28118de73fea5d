package mocks

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/Veraticus/qrelay/internal/qchat"
)

// ProcessScript describes how a FakeProcess behaves.
type ProcessScript struct {
	// Lines are yielded in order from Lines.
	Lines []string

	// ExitCode is returned by Wait.
	ExitCode int

	// Stderr is returned by Stderr.
	Stderr string

	// ReadErr is reported by Err after the lines are exhausted.
	ReadErr error

	// Hang keeps the process alive after its output ends, so Wait times out
	// until Terminate is called.
	Hang bool

	// BlockOutput keeps the output stream open until the launch context ends.
	BlockOutput bool

	// BeforeLine runs before line i is yielded, typically to advance a fake clock.
	BeforeLine func(i int)

	// PanicOnLine, when set, panics before yielding that line index.
	PanicOnLine *int
}

// WithPanicOnLine returns a copy of s that panics before yielding line i.
func (s ProcessScript) WithPanicOnLine(i int) ProcessScript {
	s.PanicOnLine = &i
	return s
}

// FakeProcess is a scripted qchat.Process.
type FakeProcess struct {
	ctx    context.Context
	script ProcessScript
	exited chan struct{}

	mu         sync.Mutex
	terminated bool
	closed     bool
	waits      int
}

var _ qchat.Process = (*FakeProcess)(nil)

// NewFakeProcess creates a process bound to ctx.
func NewFakeProcess(ctx context.Context, script ProcessScript) *FakeProcess {
	return &FakeProcess{
		ctx:    ctx,
		script: script,
		exited: make(chan struct{}),
	}
}

// Lines yields the scripted lines.
func (p *FakeProcess) Lines() iter.Seq[string] {
	return func(yield func(string) bool) {
		for i, line := range p.script.Lines {
			if p.script.PanicOnLine != nil && *p.script.PanicOnLine == i {
				panic("scripted panic")
			}
			if p.script.BeforeLine != nil {
				p.script.BeforeLine(i)
			}
			if p.ctx.Err() != nil {
				return
			}
			if !yield(line) {
				return
			}
		}
		if p.script.BlockOutput {
			select {
			case <-p.ctx.Done():
				_ = p.Terminate()
			case <-p.exited:
			}
		}
	}
}

// Err returns the scripted read error.
func (p *FakeProcess) Err() error {
	return p.script.ReadErr
}

// Stderr returns the scripted error output.
func (p *FakeProcess) Stderr() string {
	return p.script.Stderr
}

// Wait returns the scripted exit code, or ErrWaitTimeout for a hanging process.
func (p *FakeProcess) Wait(timeout time.Duration) (int, error) {
	p.mu.Lock()
	p.waits++
	p.mu.Unlock()

	if !p.script.Hang && !p.script.BlockOutput {
		return p.script.ExitCode, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.exited:
		return -1, nil
	case <-timer.C:
		return -1, qchat.ErrWaitTimeout
	}
}

// Terminate marks the process as killed.
func (p *FakeProcess) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.terminated {
		p.terminated = true
		close(p.exited)
	}
	return nil
}

// Close releases the process.
func (p *FakeProcess) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// Terminated reports whether Terminate was called.
func (p *FakeProcess) Terminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

// Closed reports whether Close was called.
func (p *FakeProcess) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Waits returns how many times Wait was called.
func (p *FakeProcess) Waits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waits
}

// ScriptedLauncher hands out FakeProcesses in script order.
type ScriptedLauncher struct {
	mu        sync.Mutex
	scripts   []ProcessScript
	fallback  ProcessScript
	launchErr error
	inputs    []string
	processes []*FakeProcess
}

var _ qchat.Launcher = (*ScriptedLauncher)(nil)

// NewScriptedLauncher creates a launcher that plays scripts in order and
// then repeats the last one.
func NewScriptedLauncher(scripts ...ProcessScript) *ScriptedLauncher {
	l := &ScriptedLauncher{scripts: scripts}
	if len(scripts) > 0 {
		l.fallback = scripts[len(scripts)-1]
	}
	return l
}

// SetLaunchError makes every Launch fail with err.
func (l *ScriptedLauncher) SetLaunchError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launchErr = err
}

// Launch records input and starts the next scripted process.
func (l *ScriptedLauncher) Launch(ctx context.Context, input string) (qchat.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.inputs = append(l.inputs, input)
	if l.launchErr != nil {
		return nil, l.launchErr
	}

	script := l.fallback
	if len(l.scripts) > 0 {
		script = l.scripts[0]
		l.scripts = l.scripts[1:]
	}
	p := NewFakeProcess(ctx, script)
	l.processes = append(l.processes, p)
	return p, nil
}

// Inputs returns every input passed to Launch.
func (l *ScriptedLauncher) Inputs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.inputs))
	copy(out, l.inputs)
	return out
}

// Processes returns every process launched so far.
func (l *ScriptedLauncher) Processes() []*FakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*FakeProcess, len(l.processes))
	copy(out, l.processes)
	return out
}
