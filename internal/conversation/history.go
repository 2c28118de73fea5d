package conversation

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"k8s.io/utils/clock"
)

const (
	// DefaultExpiry is how long a turn stays visible after it was recorded.
	DefaultExpiry = time.Hour

	// DefaultMaxTurns is the number of turns kept per user (ten round trips).
	DefaultMaxTurns = 20

	// DefaultMaxUsers bounds how many users are tracked at once. The least
	// recently active user is dropped first.
	DefaultMaxUsers = 10000

	// DefaultUserLabel prefixes user turns in rendered context.
	DefaultUserLabel = "用户: "

	// DefaultAssistantLabel prefixes assistant turns in rendered context.
	DefaultAssistantLabel = "助手: "
)

// History is the in-memory Store.
//
// A single mutex guards every user. Per-user traffic is low and a run
// touches the store twice, so the coarse lock costs little while keeping
// the read-modify-write of one user's turns atomic.
type History struct {
	users    *lru.Cache[string, []Turn]
	clock    clock.PassiveClock
	logger   *slog.Logger
	labels   map[Role]string
	expiry   time.Duration
	maxTurns int
	maxUsers int
	mu       sync.Mutex
}

// Option configures a History.
type Option func(*History)

// WithExpiry sets the turn expiry window.
func WithExpiry(d time.Duration) Option {
	return func(h *History) {
		if d > 0 {
			h.expiry = d
		}
	}
}

// WithMaxTurns sets how many turns are retained per user.
func WithMaxTurns(n int) Option {
	return func(h *History) {
		if n > 0 {
			h.maxTurns = n
		}
	}
}

// WithMaxUsers sets how many users are tracked before eviction.
func WithMaxUsers(n int) Option {
	return func(h *History) {
		if n > 0 {
			h.maxUsers = n
		}
	}
}

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c clock.PassiveClock) Option {
	return func(h *History) {
		if c != nil {
			h.clock = c
		}
	}
}

// WithLabels sets the prefixes used when rendering context.
func WithLabels(user, assistant string) Option {
	return func(h *History) {
		h.labels = map[Role]string{RoleUser: user, RoleAssistant: assistant}
	}
}

// WithLogger sets the logger used for eviction notices.
func WithLogger(logger *slog.Logger) Option {
	return func(h *History) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHistory creates an empty history store.
func NewHistory(opts ...Option) *History {
	h := &History{
		clock:    clock.RealClock{},
		logger:   slog.Default(),
		expiry:   DefaultExpiry,
		maxTurns: DefaultMaxTurns,
		maxUsers: DefaultMaxUsers,
		labels: map[Role]string{
			RoleUser:      DefaultUserLabel,
			RoleAssistant: DefaultAssistantLabel,
		},
	}
	for _, opt := range opts {
		opt(h)
	}

	// maxUsers is always positive here, which is the only failure NewWithEvict reports.
	h.users, _ = lru.NewWithEvict(h.maxUsers, func(userID string, turns []Turn) {
		h.logger.Debug("evicted conversation history",
			slog.String("user_id", userID),
			slog.Int("turns", len(turns)))
	})
	return h
}

// Append records a turn. Expired turns are dropped first, then the new turn
// is added and the oldest turns beyond the retention limit are discarded.
func (h *History) Append(userID string, role Role, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock.Now()
	turns, _ := h.users.Get(userID)
	turns = h.prune(turns, now)
	turns = append(turns, Turn{Timestamp: now, Role: role, Content: content})
	if len(turns) > h.maxTurns {
		turns = slices.Clone(turns[len(turns)-h.maxTurns:])
	}
	h.users.Add(userID, turns)
}

// Context renders the live turns for userID, one "label+content" line per
// turn. Expired turns are pruned before rendering.
func (h *History) Context(userID string) string {
	turns := h.Turns(userID)
	if len(turns) == 0 {
		return ""
	}

	var b strings.Builder
	for i, turn := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(h.labels[turn.Role])
		b.WriteString(turn.Content)
	}
	return b.String()
}

// Turns returns a copy of the live turns for userID.
func (h *History) Turns(userID string) []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()

	turns, ok := h.users.Get(userID)
	if !ok {
		return nil
	}
	live := h.prune(turns, h.clock.Now())
	if len(live) == 0 {
		h.users.Remove(userID)
		return nil
	}
	if len(live) != len(turns) {
		h.users.Add(userID, live)
	}
	return slices.Clone(live)
}

// CleanupExpired drops users whose turns have all expired and returns how
// many were removed.
func (h *History) CleanupExpired() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock.Now()
	removed := 0
	for _, userID := range h.users.Keys() {
		turns, ok := h.users.Peek(userID)
		if !ok {
			continue
		}
		live := h.prune(turns, now)
		switch {
		case len(live) == 0:
			h.users.Remove(userID)
			removed++
		case len(live) != len(turns):
			// Add bumps recency, so only rewrite entries that lost turns.
			h.users.Add(userID, live)
		}
	}
	return removed
}

// Stats reports the number of tracked users and stored turns.
func (h *History) Stats() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	total := 0
	for _, userID := range h.users.Keys() {
		turns, _ := h.users.Peek(userID)
		total += len(turns)
	}
	return map[string]int{
		"users": h.users.Len(),
		"turns": total,
	}
}

// prune returns the turns younger than the expiry window. The result never
// aliases the input.
func (h *History) prune(turns []Turn, now time.Time) []Turn {
	live := make([]Turn, 0, len(turns)+1)
	for _, turn := range turns {
		if now.Sub(turn.Timestamp) < h.expiry {
			live = append(live, turn)
		}
	}
	return live
}
