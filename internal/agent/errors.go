package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// LaunchError means q chat could not be started.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch q chat: %v", e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// ProcessError means q chat exited with a non-zero status.
type ProcessError struct {
	Stderr   string
	ExitCode int
}

func (e *ProcessError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("q chat exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("q chat exited with code %d: %s", e.ExitCode, e.Stderr)
}

// EmptyOutputError means q chat exited cleanly without a usable line.
type EmptyOutputError struct{}

func (e *EmptyOutputError) Error() string {
	return "q chat produced no output"
}

// TimeoutError means the run or the exit wait ran out of time.
type TimeoutError struct {
	Stage State
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("q chat timed out after %s while %s", e.After, e.Stage)
}

// Is lets errors.Is match context.DeadlineExceeded.
func (e *TimeoutError) Is(target error) bool {
	return target == context.DeadlineExceeded
}

// InternalError covers anything unexpected, including recovered panics.
type InternalError struct {
	Message string
	Err     error
}

func (e *InternalError) Error() string {
	return "internal error: " + e.Message
}

func (e *InternalError) Unwrap() error { return e.Err }

// ErrorType classifies a run failure for reply selection.
type ErrorType int

const (
	// ErrorTypeInternal covers launch failures, panics and unknown errors.
	ErrorTypeInternal ErrorType = iota
	// ErrorTypeProcess is a non-zero exit.
	ErrorTypeProcess
	// ErrorTypeEmptyOutput is a clean exit with nothing to say.
	ErrorTypeEmptyOutput
	// ErrorTypeTimeout is a run or exit-wait timeout.
	ErrorTypeTimeout
)

// Messages are the user-facing texts sent when a run fails. Templates
// containing %s receive the error detail.
type Messages struct {
	Process     string
	EmptyOutput string
	Timeout     string
	Internal    string
}

// DefaultMessages returns the stock failure texts.
func DefaultMessages() Messages {
	return Messages{
		Process:     "处理请求时出错: %s",
		EmptyOutput: "无法获取有效回复",
		Timeout:     "处理请求超时，请稍后再试",
		Internal:    "执行 q chat 时发生错误: %s",
	}
}

// ErrorRecovery turns run failures into the text sent back to the user.
type ErrorRecovery struct {
	messages Messages
}

// NewErrorRecovery creates a recovery with msgs; empty fields fall back to
// DefaultMessages.
func NewErrorRecovery(msgs Messages) *ErrorRecovery {
	def := DefaultMessages()
	if msgs.Process == "" {
		msgs.Process = def.Process
	}
	if msgs.EmptyOutput == "" {
		msgs.EmptyOutput = def.EmptyOutput
	}
	if msgs.Timeout == "" {
		msgs.Timeout = def.Timeout
	}
	if msgs.Internal == "" {
		msgs.Internal = def.Internal
	}
	return &ErrorRecovery{messages: msgs}
}

// ClassifyError determines which reply an error gets.
func (r *ErrorRecovery) ClassifyError(err error) ErrorType {
	var (
		processErr *ProcessError
		emptyErr   *EmptyOutputError
		timeoutErr *TimeoutError
	)
	switch {
	case errors.As(err, &processErr):
		return ErrorTypeProcess
	case errors.As(err, &emptyErr):
		return ErrorTypeEmptyOutput
	case errors.As(err, &timeoutErr):
		return ErrorTypeTimeout
	default:
		return ErrorTypeInternal
	}
}

// GenerateUserMessage returns the reply text for err.
func (r *ErrorRecovery) GenerateUserMessage(err error) string {
	switch r.ClassifyError(err) {
	case ErrorTypeProcess:
		var processErr *ProcessError
		errors.As(err, &processErr)
		return fillTemplate(r.messages.Process, processErr.Stderr)
	case ErrorTypeEmptyOutput:
		return r.messages.EmptyOutput
	case ErrorTypeTimeout:
		return r.messages.Timeout
	default:
		return fillTemplate(r.messages.Internal, detail(err))
	}
}

// String names the failure for metrics and spans.
func (t ErrorType) String() string {
	switch t {
	case ErrorTypeProcess:
		return "process_error"
	case ErrorTypeEmptyOutput:
		return "empty_output"
	case ErrorTypeTimeout:
		return "timeout"
	default:
		return "internal_error"
	}
}

// detail strips the type prefix so users see the underlying cause.
func detail(err error) string {
	if err == nil {
		return "unknown error"
	}
	var (
		launchErr   *LaunchError
		internalErr *InternalError
	)
	switch {
	case errors.As(err, &launchErr) && launchErr.Err != nil:
		return launchErr.Err.Error()
	case errors.As(err, &internalErr):
		return internalErr.Message
	default:
		return err.Error()
	}
}

func fillTemplate(tmpl, value string) string {
	if !strings.Contains(tmpl, "%s") {
		return tmpl
	}
	return fmt.Sprintf(tmpl, value)
}
