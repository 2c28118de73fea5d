package conversation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/qrelay/internal/conversation"
)

func TestCleanupService_Start(t *testing.T) {
	history := conversation.NewHistory()
	service := conversation.NewCleanupServiceWithInterval(history, 50*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, service.Start(ctx))
	assert.True(t, service.IsRunning())

	// Starting again is a no-op.
	require.NoError(t, service.Start(ctx))

	service.Stop()
	assert.False(t, service.IsRunning())

	// Stopping twice must not panic.
	service.Stop()
}

func TestCleanupService_PeriodicCleanup(t *testing.T) {
	history := conversation.NewHistory(conversation.WithExpiry(50 * time.Millisecond))
	service := conversation.NewCleanupServiceWithInterval(history, 20*time.Millisecond)

	history.Append("user1", conversation.RoleUser, "hello")
	history.Append("user2", conversation.RoleUser, "hi")
	require.Equal(t, 2, history.Stats()["users"])

	require.NoError(t, service.Start(context.Background()))
	defer service.Stop()

	assert.Eventually(t, func() bool {
		return history.Stats()["users"] == 0
	}, time.Second, 10*time.Millisecond)
}

func TestCleanupService_OnStats(t *testing.T) {
	history := conversation.NewHistory()
	history.Append("user1", conversation.RoleUser, "hello")
	history.Append("user1", conversation.RoleAssistant, "hi")

	reports := make(chan [2]int, 16)
	service := conversation.NewCleanupServiceWithInterval(history, 10*time.Millisecond).
		OnStats(func(users, turns int) {
			select {
			case reports <- [2]int{users, turns}:
			default:
			}
		})
	require.NoError(t, service.Start(context.Background()))
	defer service.Stop()

	select {
	case got := <-reports:
		assert.Equal(t, [2]int{1, 2}, got)
	case <-time.After(time.Second):
		t.Fatal("no stats reported")
	}
}

func TestCleanupService_ContextCancellation(t *testing.T) {
	history := conversation.NewHistory()
	service := conversation.NewCleanupServiceWithInterval(history, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, service.Start(ctx))

	cancel()

	assert.Eventually(t, func() bool { return !service.IsRunning() }, time.Second, 5*time.Millisecond)
	service.Stop()
}

func TestCleanupService_ConcurrentStartStop(t *testing.T) {
	history := conversation.NewHistory(conversation.WithExpiry(20 * time.Millisecond))
	service := conversation.NewCleanupServiceWithInterval(history, 5*time.Millisecond)

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for range 5 {
				if id%2 == 0 {
					_ = service.Start(context.Background())
				} else {
					service.Stop()
				}
				history.Append("user", conversation.RoleUser, "ping")
				time.Sleep(2 * time.Millisecond)
			}
		}(i)
	}
	wg.Wait()

	service.Stop()
	assert.False(t, service.IsRunning())
}
