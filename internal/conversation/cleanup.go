package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultCleanupInterval is the default interval at which expired users are dropped.
	DefaultCleanupInterval = 5 * time.Minute
)

// expirer is the part of History the cleanup service drives.
type expirer interface {
	CleanupExpired() int
	Stats() map[string]int
}

// CleanupService periodically drops users whose history has fully expired,
// so idle users do not hold memory until LRU eviction reaches them.
type CleanupService struct {
	store    expirer
	logger   *slog.Logger
	interval time.Duration
	report   func(users, turns int)
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewCleanupService creates a new cleanup service with default interval.
func NewCleanupService(history *History) *CleanupService {
	return NewCleanupServiceWithInterval(history, DefaultCleanupInterval)
}

// NewCleanupServiceWithInterval creates a new cleanup service with custom interval.
func NewCleanupServiceWithInterval(history *History, interval time.Duration) *CleanupService {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	return &CleanupService{
		store:    history,
		logger:   slog.Default().With(slog.String("component", "conversation.cleanup")),
		interval: interval,
	}
}

// OnStats registers fn to receive the store size after every cleanup pass.
// It must be called before Start.
func (c *CleanupService) OnStats(fn func(users, turns int)) *CleanupService {
	c.report = fn
	return c
}

// Start begins the periodic cleanup process.
func (c *CleanupService) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	cleanupCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	go c.runCleanup(cleanupCtx, c.done)

	return nil
}

// Stop gracefully stops the cleanup service.
func (c *CleanupService) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}

	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (c *CleanupService) runCleanup(ctx context.Context, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		c.running = false
		close(done)
		c.mu.Unlock()
	}()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "Cleanup service stopping")
			return

		case <-ticker.C:
			c.performCleanup(ctx)
		}
	}
}

func (c *CleanupService) performCleanup(ctx context.Context) {
	startTime := time.Now()
	removed := c.store.CleanupExpired()
	duration := time.Since(startTime)

	if removed > 0 {
		c.logger.InfoContext(ctx, "Dropped expired conversation histories",
			slog.Int("removed", removed),
			slog.Duration("duration", duration),
		)
	}

	stats := c.store.Stats()
	if c.report != nil {
		c.report(stats["users"], stats["turns"])
	}
	c.logger.DebugContext(ctx, "History stats after cleanup",
		slog.Int("users", stats["users"]),
		slog.Int("turns", stats["turns"]),
	)
}

// IsRunning returns whether the cleanup service is currently running.
func (c *CleanupService) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
