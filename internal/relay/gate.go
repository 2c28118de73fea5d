package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Veraticus/qrelay/internal/intent"
	"github.com/Veraticus/qrelay/internal/metrics"
)

// GateMessages are the replies of the intent gate.
type GateMessages struct {
	Accepted string
	Rejected string
}

// DefaultGateMessages returns the stock gate replies.
func DefaultGateMessages() GateMessages {
	return GateMessages{
		Accepted: "收到问题，处理中...",
		Rejected: "抱歉，我只能回答关于AWS和软件开发相关的问题。",
	}
}

// GatedOrchestrator screens messages with a classifier before handing
// relevant ones to an Orchestrator. Gate replies are not threaded.
type GatedOrchestrator struct {
	inner      *Orchestrator
	classifier intent.Classifier
	messages   GateMessages
	logger     *slog.Logger
}

// NewGatedOrchestrator wraps inner with classifier. Empty message fields
// keep their defaults.
func NewGatedOrchestrator(inner *Orchestrator, classifier intent.Classifier, messages GateMessages) (*GatedOrchestrator, error) {
	if inner == nil {
		return nil, fmt.Errorf("gate creation failed: orchestrator is required")
	}
	if classifier == nil {
		return nil, fmt.Errorf("gate creation failed: classifier is required")
	}

	def := DefaultGateMessages()
	if messages.Accepted == "" {
		messages.Accepted = def.Accepted
	}
	if messages.Rejected == "" {
		messages.Rejected = def.Rejected
	}

	return &GatedOrchestrator{
		inner:      inner,
		classifier: classifier,
		messages:   messages,
		logger:     inner.logger.With(slog.String("gate", "intent")),
	}, nil
}

// Handle classifies the message and either dispatches it or refuses it. A
// classifier failure counts as off topic.
func (g *GatedOrchestrator) Handle(ctx context.Context, in Inbound) error {
	if err := in.Validate(); err != nil {
		return err
	}

	relevant, err := g.classifier.IsRelevant(ctx, in.Text)
	if err != nil {
		g.logger.WarnContext(ctx, "intent classification failed",
			slog.String("message_id", in.MessageID),
			slog.Any("error", err))
		g.inner.metrics.IncRejected(metrics.ReasonClassifier)
		g.inner.reply(ctx, g.logger, in, g.messages.Rejected, false)
		return nil
	}
	if !relevant {
		g.inner.metrics.IncRejected(metrics.ReasonOffTopic)
		g.inner.reply(ctx, g.logger, in, g.messages.Rejected, false)
		g.logger.InfoContext(ctx, "message rejected as off topic", slog.String("message_id", in.MessageID))
		return nil
	}

	return g.inner.dispatch(ctx, in, g.messages.Accepted, false)
}
