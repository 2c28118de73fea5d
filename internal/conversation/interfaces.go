// Package conversation keeps short-lived per-user conversation history.
package conversation

import "time"

// Role identifies who produced a turn.
type Role string

const (
	// RoleUser marks a turn sent by the chat user.
	RoleUser Role = "user"
	// RoleAssistant marks a turn produced by the agent.
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation. Turns are never modified after
// they are recorded.
type Turn struct {
	Timestamp time.Time
	Role      Role
	Content   string
}

// Store records conversation turns per user and renders them as prompt
// context. Implementations must be safe for concurrent use.
type Store interface {
	// Append records a turn for the user, pruning expired and excess turns.
	Append(userID string, role Role, content string)

	// Context renders the user's live turns as labeled lines in
	// chronological order. It returns "" when nothing remains.
	Context(userID string) string
}
