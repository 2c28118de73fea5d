// Package deliverytest provides an in-memory delivery.Sink for tests.
package deliverytest

import (
	"context"
	"sync"

	"github.com/Veraticus/qrelay/internal/delivery"
)

// Recorder captures every unit it is asked to send.
type Recorder struct {
	mu    sync.Mutex
	units []delivery.Unit

	// FailFunc, when set, decides whether a Send fails. Failed units are
	// still recorded.
	FailFunc func(unit delivery.Unit) error
}

// Send records unit.
func (r *Recorder) Send(ctx context.Context, unit delivery.Unit) error {
	if err := unit.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.units = append(r.units, unit)
	fail := r.FailFunc
	r.mu.Unlock()

	if fail != nil {
		return fail(unit)
	}
	return ctx.Err()
}

// Units returns a copy of the recorded units in send order.
func (r *Recorder) Units() []delivery.Unit {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]delivery.Unit, len(r.units))
	copy(out, r.units)
	return out
}

// Texts returns the text of every recorded unit.
func (r *Recorder) Texts() []string {
	units := r.Units()
	texts := make([]string, len(units))
	for i, u := range units {
		texts[i] = u.Text
	}
	return texts
}

// Reset drops all recorded units.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.units = nil
	r.mu.Unlock()
}
