// Package relay accepts inbound chat messages, records them and dispatches
// agent runs to a bounded worker pool.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Veraticus/qrelay/internal/agent"
	"github.com/Veraticus/qrelay/internal/conversation"
	"github.com/Veraticus/qrelay/internal/delivery"
	"github.com/Veraticus/qrelay/internal/metrics"
)

var (
	// ErrRateLimited is returned by Handle when the sender is over their limit.
	ErrRateLimited = errors.New("sender is rate limited")

	// ErrInvalidInbound is returned for messages missing required fields.
	ErrInvalidInbound = errors.New("inbound message is missing app id, message id or user id")
)

// Inbound is a decoded chat message.
type Inbound struct {
	AppID     string
	MessageID string
	UserID    string
	Text      string
}

// Validate reports whether the message can be answered.
func (in Inbound) Validate() error {
	if in.AppID == "" || in.MessageID == "" || in.UserID == "" {
		return ErrInvalidInbound
	}
	return nil
}

// Handler consumes inbound messages.
type Handler interface {
	Handle(ctx context.Context, in Inbound) error
}

// AgentRunner answers a request. Run reports failures to the user itself.
type AgentRunner interface {
	Run(ctx context.Context, req agent.Request) string
}

// Submitter queues tasks for background execution.
type Submitter interface {
	Submit(name string, task Task) error
}

// Messages are the fixed replies sent by the orchestrator.
type Messages struct {
	Ack         string
	Busy        string
	RateLimited string
}

// DefaultMessages returns the stock replies.
func DefaultMessages() Messages {
	return Messages{
		Ack:         "正在思考中...",
		Busy:        "当前请求较多，请稍后再试",
		RateLimited: "发送太频繁，请稍后再试",
	}
}

// Orchestrator turns an inbound message into an acknowledged background run.
type Orchestrator struct {
	history  conversation.Store
	sink     delivery.Sink
	runner   AgentRunner
	pool     Submitter
	limiter  *RateLimiter
	messages Messages
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator) error

// WithRateLimiter enables per-user rate limiting.
func WithRateLimiter(l *RateLimiter) OrchestratorOption {
	return func(o *Orchestrator) error {
		o.limiter = l
		return nil
	}
}

// WithMessages replaces the fixed replies. Empty fields keep their defaults.
func WithMessages(m Messages) OrchestratorOption {
	return func(o *Orchestrator) error {
		if m.Ack != "" {
			o.messages.Ack = m.Ack
		}
		if m.Busy != "" {
			o.messages.Busy = m.Busy
		}
		if m.RateLimited != "" {
			o.messages.RateLimited = m.RateLimited
		}
		return nil
	}
}

// WithMetrics reports rejections to m.
func WithMetrics(m *metrics.Metrics) OrchestratorOption {
	return func(o *Orchestrator) error {
		o.metrics = m
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) error {
		if logger == nil {
			return fmt.Errorf("invalid option: logger cannot be nil")
		}
		o.logger = logger
		return nil
	}
}

// NewOrchestrator creates an orchestrator. All four dependencies are required.
func NewOrchestrator(
	history conversation.Store,
	sink delivery.Sink,
	runner AgentRunner,
	pool Submitter,
	opts ...OrchestratorOption,
) (*Orchestrator, error) {
	switch {
	case history == nil:
		return nil, fmt.Errorf("orchestrator creation failed: history store is required")
	case sink == nil:
		return nil, fmt.Errorf("orchestrator creation failed: delivery sink is required")
	case runner == nil:
		return nil, fmt.Errorf("orchestrator creation failed: agent runner is required")
	case pool == nil:
		return nil, fmt.Errorf("orchestrator creation failed: task pool is required")
	}

	o := &Orchestrator{
		history:  history,
		sink:     sink,
		runner:   runner,
		pool:     pool,
		messages: DefaultMessages(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	o.logger = o.logger.With(slog.String("component", "orchestrator"))
	return o, nil
}

// Handle queues the agent run, then records the user's turn and acknowledges it.
// It returns without waiting for the run. A returned error is for the
// caller's logs; the user has already been told what happened.
func (o *Orchestrator) Handle(ctx context.Context, in Inbound) error {
	return o.dispatch(ctx, in, o.messages.Ack, true)
}

func (o *Orchestrator) dispatch(ctx context.Context, in Inbound, ack string, threadedAck bool) error {
	if err := in.Validate(); err != nil {
		return err
	}
	logger := o.logger.With(
		slog.String("user_id", in.UserID),
		slog.String("message_id", in.MessageID))

	if !o.limiter.Allow(in.UserID) {
		o.metrics.IncRejected(metrics.ReasonRateLimited)
		o.reply(ctx, logger, in, o.messages.RateLimited, true)
		logger.WarnContext(ctx, "message rejected by rate limiter")
		return ErrRateLimited
	}

	req := agent.Request{
		Message:     in.Text,
		AppID:       in.AppID,
		ReplyTarget: in.MessageID,
		UserID:      in.UserID,
	}
	// The run holds until the turn is recorded and the ack is out, so a
	// rejected message leaves no trace and the ack precedes every batch.
	acked := make(chan struct{})
	err := o.pool.Submit(in.MessageID, func(taskCtx context.Context) {
		<-acked
		o.runner.Run(taskCtx, req)
	})
	if err != nil {
		reason := metrics.ReasonQueueFull
		if errors.Is(err, ErrPoolStopped) {
			reason = metrics.ReasonStopped
		}
		o.metrics.IncRejected(reason)
		o.reply(ctx, logger, in, o.messages.Busy, true)
		logger.ErrorContext(ctx, "failed to queue agent run", slog.Any("error", err))
		return fmt.Errorf("failed to queue agent run: %w", err)
	}

	o.history.Append(in.UserID, conversation.RoleUser, in.Text)
	o.reply(ctx, logger, in, ack, threadedAck)
	close(acked)

	logger.InfoContext(ctx, "agent run queued", slog.Int("message_length", len(in.Text)))
	return nil
}

func (o *Orchestrator) reply(ctx context.Context, logger *slog.Logger, in Inbound, text string, threaded bool) {
	err := o.sink.Send(ctx, delivery.Unit{
		AppID:       in.AppID,
		ReplyTarget: in.MessageID,
		Text:        text,
		Threaded:    threaded,
	})
	if err != nil {
		logger.WarnContext(ctx, "failed to send reply", slog.Any("error", err))
	}
}
