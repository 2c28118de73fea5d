// Package lark receives Lark (Feishu) event callbacks and turns message
// events into relay requests.
package lark

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	larkevent "github.com/larksuite/oapi-sdk-go/v3/event"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"github.com/Veraticus/qrelay/internal/delivery"
	"github.com/Veraticus/qrelay/internal/relay"
)

const (
	// DefaultNonTextReply answers anything that is not a text message.
	DefaultNonTextReply = "解析消息失败，请发送文本消息"

	// DefaultDedupWindow is how long a message id is remembered. Lark
	// redelivers events that were not acknowledged in time.
	DefaultDedupWindow = 10 * time.Minute

	// DefaultDedupSize bounds the remembered message ids.
	DefaultDedupSize = 4096

	maxBodyBytes = 1 << 20
)

// WebhookConfig configures a Webhook.
type WebhookConfig struct {
	VerificationToken string
	EncryptKey        string
	NonTextReply      string
	DedupWindow       time.Duration
	DedupSize         int
}

// Webhook is the HTTP endpoint Lark posts events to.
type Webhook struct {
	handler    relay.Handler
	sink       delivery.Sink
	dispatcher *dispatcher.EventDispatcher
	seen       *expirable.LRU[string, struct{}]
	mu         sync.Mutex
	nonText    string
	logger     *slog.Logger
}

// NewWebhook creates the endpoint. Message events go to handler; sink is
// used for the non-text reply.
func NewWebhook(cfg WebhookConfig, handler relay.Handler, sink delivery.Sink, logger *slog.Logger) (*Webhook, error) {
	if handler == nil {
		return nil, fmt.Errorf("webhook creation failed: handler is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("webhook creation failed: delivery sink is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.NonTextReply == "" {
		cfg.NonTextReply = DefaultNonTextReply
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = DefaultDedupWindow
	}
	if cfg.DedupSize <= 0 {
		cfg.DedupSize = DefaultDedupSize
	}

	w := &Webhook{
		handler: handler,
		sink:    sink,
		seen:    expirable.NewLRU[string, struct{}](cfg.DedupSize, nil, cfg.DedupWindow),
		nonText: cfg.NonTextReply,
		logger:  logger.With(slog.String("component", "webhook")),
	}
	w.dispatcher = dispatcher.NewEventDispatcher(
		strings.TrimSpace(cfg.VerificationToken),
		strings.TrimSpace(cfg.EncryptKey))
	w.dispatcher.OnP2MessageReceiveV1(w.handleMessage)
	return w, nil
}

// ServeHTTP feeds the request to the event dispatcher, which also answers
// the URL verification challenge.
func (w *Webhook) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(rw, fmt.Sprintf("read body: %v", err), http.StatusBadRequest)
		return
	}

	resp := w.dispatcher.Handle(r.Context(), &larkevent.EventReq{
		Header:     r.Header,
		Body:       body,
		RequestURI: r.RequestURI,
	})
	if resp == nil {
		http.Error(rw, "empty response", http.StatusInternalServerError)
		return
	}
	for key, values := range resp.Header {
		for _, value := range values {
			rw.Header().Add(key, value)
		}
	}
	rw.WriteHeader(resp.StatusCode)
	_, _ = rw.Write(resp.Body)
}

// handleMessage always returns nil so Lark gets a 200 and does not retry;
// failures are logged and, where possible, reported in the chat.
func (w *Webhook) handleMessage(ctx context.Context, event *larkim.P2MessageReceiveV1) error {
	msg, err := ParseEvent(event)
	logger := w.logger.With(
		slog.String("app_id", msg.AppID),
		slog.String("message_id", msg.MessageID))

	switch {
	case errors.Is(err, ErrMalformedEvent):
		logger.WarnContext(ctx, "ignoring malformed message event")
		return nil
	case w.duplicate(msg.MessageID):
		logger.InfoContext(ctx, "ignoring redelivered message event")
		return nil
	case err != nil:
		logger.InfoContext(ctx, "rejecting unparseable message",
			slog.String("message_type", msg.Type),
			slog.Any("error", err))
		w.replyNonText(ctx, logger, msg)
		return nil
	}

	err = w.handler.Handle(ctx, relay.Inbound{
		AppID:     msg.AppID,
		MessageID: msg.MessageID,
		UserID:    msg.UserID,
		Text:      msg.Text,
	})
	if err != nil {
		logger.WarnContext(ctx, "message not dispatched", slog.Any("error", err))
	}
	return nil
}

// duplicate records messageID and reports whether it was already seen.
func (w *Webhook) duplicate(messageID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seen.Contains(messageID) {
		return true
	}
	w.seen.Add(messageID, struct{}{})
	return false
}

func (w *Webhook) replyNonText(ctx context.Context, logger *slog.Logger, msg Message) {
	err := w.sink.Send(ctx, delivery.Unit{
		AppID:       msg.AppID,
		ReplyTarget: msg.MessageID,
		Text:        w.nonText,
		Threaded:    true,
	})
	if err != nil {
		logger.WarnContext(ctx, "failed to send non-text reply", slog.Any("error", err))
	}
}
