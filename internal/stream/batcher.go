package stream

import (
	"strings"
	"time"

	"k8s.io/utils/clock"
)

const (
	// DefaultMaxLines flushes a batch once it holds this many lines.
	DefaultMaxLines = 20

	// DefaultFlushInterval flushes a batch once this much time has passed
	// since the previous flush.
	DefaultFlushInterval = 4 * time.Second
)

// Batcher accumulates lines and decides when they should be sent. It
// bounds both the number of chat messages and how long the user waits to
// see new output. A Batcher is owned by a single run and is not safe for
// concurrent use.
type Batcher struct {
	clock     clock.PassiveClock
	lastFlush time.Time
	buffer    []string
	maxLines  int
	interval  time.Duration
}

// BatcherOption configures a Batcher.
type BatcherOption func(*Batcher)

// WithMaxLines sets the size trigger.
func WithMaxLines(n int) BatcherOption {
	return func(b *Batcher) {
		if n > 0 {
			b.maxLines = n
		}
	}
}

// WithFlushInterval sets the time trigger.
func WithFlushInterval(d time.Duration) BatcherOption {
	return func(b *Batcher) {
		if d > 0 {
			b.interval = d
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(c clock.PassiveClock) BatcherOption {
	return func(b *Batcher) {
		if c != nil {
			b.clock = c
		}
	}
}

// NewBatcher creates an empty batcher. The flush timer starts now.
func NewBatcher(opts ...BatcherOption) *Batcher {
	b := &Batcher{
		clock:    clock.RealClock{},
		maxLines: DefaultMaxLines,
		interval: DefaultFlushInterval,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.lastFlush = b.clock.Now()
	return b
}

// Offer buffers line and returns a batch when the buffer is full or the
// flush interval has elapsed.
func (b *Batcher) Offer(line string) (string, bool) {
	b.buffer = append(b.buffer, line)

	now := b.clock.Now()
	if len(b.buffer) >= b.maxLines || now.Sub(b.lastFlush) >= b.interval {
		return b.flush(now), true
	}
	return "", false
}

// Drain returns whatever is still buffered. It reports false when the
// buffer is empty.
func (b *Batcher) Drain() (string, bool) {
	if len(b.buffer) == 0 {
		return "", false
	}
	return b.flush(b.clock.Now()), true
}

func (b *Batcher) flush(now time.Time) string {
	batch := strings.Join(b.buffer, "\n")
	b.buffer = b.buffer[:0]
	b.lastFlush = now
	return batch
}
