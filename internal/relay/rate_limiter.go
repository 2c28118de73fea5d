package relay

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"
)

// Rate limiter defaults.
const (
	// DefaultRateInterval is the sustained gap allowed between messages of one user.
	DefaultRateInterval = 10 * time.Second

	// DefaultRateBurst is how many messages a user may send back to back.
	DefaultRateBurst = 3

	// defaultTrackedUsers bounds the limiter cache.
	defaultTrackedUsers = 10000
)

// RateLimiter applies a token bucket per user. A nil *RateLimiter allows
// everything.
type RateLimiter struct {
	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
	clock    clock.PassiveClock
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithRateClock replaces the wall clock.
func WithRateClock(c clock.PassiveClock) RateLimiterOption {
	return func(r *RateLimiter) {
		if c != nil {
			r.clock = c
		}
	}
}

// NewRateLimiter allows burst messages at once and one more every interval.
// Non-positive arguments fall back to the defaults; trackedUsers bounds how
// many buckets are kept.
func NewRateLimiter(interval time.Duration, burst, trackedUsers int, opts ...RateLimiterOption) *RateLimiter {
	if interval <= 0 {
		interval = DefaultRateInterval
	}
	if burst <= 0 {
		burst = DefaultRateBurst
	}
	if trackedUsers <= 0 {
		trackedUsers = defaultTrackedUsers
	}

	// trackedUsers is positive, the only condition lru.New rejects.
	cache, _ := lru.New[string, *rate.Limiter](trackedUsers)
	r := &RateLimiter{
		limiters: cache,
		limit:    rate.Every(interval),
		burst:    burst,
		clock:    clock.RealClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Allow consumes a token for userID and reports whether one was available.
func (r *RateLimiter) Allow(userID string) bool {
	if r == nil {
		return true
	}

	r.mu.Lock()
	limiter, ok := r.limiters.Get(userID)
	if !ok {
		limiter = rate.NewLimiter(r.limit, r.burst)
		r.limiters.Add(userID, limiter)
	}
	r.mu.Unlock()

	return limiter.AllowN(r.clock.Now(), 1)
}

// Tracked returns the number of users with a bucket.
func (r *RateLimiter) Tracked() int {
	if r == nil {
		return 0
	}
	return r.limiters.Len()
}
