// Package delivery sends replies back to the chat platform.
package delivery

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrMissingArgument is returned when a unit lacks an app id, reply target or text.
	ErrMissingArgument = errors.New("app id, reply target and text are required")

	// ErrUnknownApp is returned when no credentials are configured for an app id.
	ErrUnknownApp = errors.New("no credentials configured for app")
)

// Unit is a single outbound reply.
type Unit struct {
	AppID       string
	ReplyTarget string
	Text        string
	Threaded    bool
}

// Sink delivers replies. Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, unit Unit) error
}

// Error reports a failed delivery. It is never fatal to the caller.
type Error struct {
	AppID       string
	ReplyTarget string
	Err         error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("failed to deliver reply to %s (app %s): %v", e.ReplyTarget, e.AppID, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Validate checks that the unit can be delivered at all.
func (u Unit) Validate() error {
	if u.AppID == "" || u.ReplyTarget == "" || u.Text == "" {
		return &Error{AppID: u.AppID, ReplyTarget: u.ReplyTarget, Err: ErrMissingArgument}
	}
	return nil
}

// ObserveFunc is told about the outcome of every delivery.
type ObserveFunc func(unit Unit, err error)

type observedSink struct {
	next    Sink
	observe ObserveFunc
}

// Observed wraps next so observe sees the result of each Send.
func Observed(next Sink, observe ObserveFunc) Sink {
	if observe == nil {
		return next
	}
	return &observedSink{next: next, observe: observe}
}

func (s *observedSink) Send(ctx context.Context, unit Unit) error {
	err := s.next.Send(ctx, unit)
	s.observe(unit, err)
	return err
}
