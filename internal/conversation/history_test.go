package conversation_test

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/Veraticus/qrelay/internal/conversation"
)

func newTestHistory(opts ...conversation.Option) (*conversation.History, *clocktesting.FakePassiveClock) {
	clk := clocktesting.NewFakePassiveClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	opts = append([]conversation.Option{conversation.WithClock(clk)}, opts...)
	return conversation.NewHistory(opts...), clk
}

func TestHistory_ContextRendersChronologicalLabeledLines(t *testing.T) {
	h, _ := newTestHistory()

	h.Append("alice", conversation.RoleUser, "what is S3?")
	h.Append("alice", conversation.RoleAssistant, "object storage")
	h.Append("alice", conversation.RoleUser, "and EBS?")

	want := "用户: what is S3?\n助手: object storage\n用户: and EBS?"
	assert.Equal(t, want, h.Context("alice"))
}

func TestHistory_ContextEmptyForUnknownUser(t *testing.T) {
	h, _ := newTestHistory()

	assert.Empty(t, h.Context("nobody"))
	assert.Nil(t, h.Turns("nobody"))
	assert.Equal(t, 0, h.Stats()["users"])
}

func TestHistory_UsersAreIndependent(t *testing.T) {
	h, _ := newTestHistory()

	h.Append("alice", conversation.RoleUser, "a")
	h.Append("bob", conversation.RoleUser, "b")

	assert.Equal(t, "用户: a", h.Context("alice"))
	assert.Equal(t, "用户: b", h.Context("bob"))
}

func TestHistory_TruncatesToMaxTurns(t *testing.T) {
	h, _ := newTestHistory()

	for i := range 25 {
		h.Append("alice", conversation.RoleUser, fmt.Sprintf("msg-%d", i))
		require.LessOrEqual(t, len(h.Turns("alice")), conversation.DefaultMaxTurns)
	}

	turns := h.Turns("alice")
	require.Len(t, turns, conversation.DefaultMaxTurns)
	assert.Equal(t, "msg-5", turns[0].Content, "oldest turns are dropped first")
	assert.Equal(t, "msg-24", turns[len(turns)-1].Content)
}

func TestHistory_ExpiredTurnsExcludedOnRead(t *testing.T) {
	h, clk := newTestHistory(conversation.WithExpiry(time.Hour))

	h.Append("alice", conversation.RoleUser, "old")
	clk.SetTime(clk.Now().Add(30 * time.Minute))
	h.Append("alice", conversation.RoleUser, "newer")

	// The first turn is exactly one expiry window old: age >= expiry drops it.
	clk.SetTime(clk.Now().Add(30 * time.Minute))
	assert.Equal(t, "用户: newer", h.Context("alice"))

	clk.SetTime(clk.Now().Add(time.Hour))
	assert.Empty(t, h.Context("alice"))
	assert.Equal(t, 0, h.Stats()["users"], "fully expired users are dropped on read")
}

func TestHistory_AppendPrunesExpiredTurns(t *testing.T) {
	h, clk := newTestHistory(conversation.WithExpiry(time.Minute))

	h.Append("alice", conversation.RoleUser, "first")
	clk.SetTime(clk.Now().Add(2 * time.Minute))
	h.Append("alice", conversation.RoleUser, "second")

	turns := h.Turns("alice")
	require.Len(t, turns, 1)
	assert.Equal(t, "second", turns[0].Content)
	assert.Equal(t, 1, h.Stats()["turns"])
}

func TestHistory_CustomLabels(t *testing.T) {
	h, _ := newTestHistory(conversation.WithLabels("User: ", "Assistant: "))

	h.Append("alice", conversation.RoleUser, "hi")
	h.Append("alice", conversation.RoleAssistant, "hello")

	assert.Equal(t, "User: hi\nAssistant: hello", h.Context("alice"))
}

func TestHistory_EvictsLeastRecentlyUsedUser(t *testing.T) {
	h, _ := newTestHistory(conversation.WithMaxUsers(2))

	h.Append("alice", conversation.RoleUser, "a")
	h.Append("bob", conversation.RoleUser, "b")
	_ = h.Context("alice") // alice is now more recent than bob
	h.Append("carol", conversation.RoleUser, "c")

	assert.NotEmpty(t, h.Context("alice"))
	assert.Empty(t, h.Context("bob"))
	assert.NotEmpty(t, h.Context("carol"))
}

func TestHistory_CleanupExpired(t *testing.T) {
	h, clk := newTestHistory(conversation.WithExpiry(time.Minute))

	h.Append("alice", conversation.RoleUser, "a")
	clk.SetTime(clk.Now().Add(30 * time.Second))
	h.Append("bob", conversation.RoleUser, "b")
	clk.SetTime(clk.Now().Add(45 * time.Second))

	assert.Equal(t, 1, h.CleanupExpired())
	stats := h.Stats()
	assert.Equal(t, 1, stats["users"])
	assert.Equal(t, 1, stats["turns"])
}

func TestHistory_TurnsReturnsCopy(t *testing.T) {
	h, _ := newTestHistory()
	h.Append("alice", conversation.RoleUser, "original")

	turns := h.Turns("alice")
	turns[0].Content = "mutated"

	assert.Equal(t, "用户: original", h.Context("alice"))
}

func TestHistory_ConcurrentAppends(t *testing.T) {
	h := conversation.NewHistory()

	var wg sync.WaitGroup
	for u := range 8 {
		user := fmt.Sprintf("user-%d", u)
		for i := range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				h.Append(user, conversation.RoleUser, fmt.Sprintf("m%d", i))
				_ = h.Context(user)
			}()
		}
	}
	wg.Wait()

	for u := range 8 {
		ctx := h.Context(fmt.Sprintf("user-%d", u))
		assert.Len(t, strings.Split(ctx, "\n"), conversation.DefaultMaxTurns)
	}
}
