package agent

import "time"

const (
	// DefaultRunTimeout bounds a whole run, from launch to the final reply.
	DefaultRunTimeout = 5 * time.Minute

	// DefaultExitWaitTimeout bounds the wait for q chat to exit after its
	// output stream has ended.
	DefaultExitWaitTimeout = 5 * time.Second

	// DefaultReportTimeout bounds the delivery of an error reply, which is
	// sent even when the run context has already expired.
	DefaultReportTimeout = 10 * time.Second
)

// Request is a single message to answer.
type Request struct {
	// Message is the user's text with mentions removed.
	Message string

	// AppID selects the bot credentials used for replies.
	AppID string

	// ReplyTarget is the message every reply is threaded under.
	ReplyTarget string

	// UserID keys the conversation history.
	UserID string
}

// Config holds the timing knobs of a Runner.
type Config struct {
	RunTimeout      time.Duration
	ExitWaitTimeout time.Duration
	ReportTimeout   time.Duration
	MaxBatchLines   int
	FlushInterval   time.Duration
}
