package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
)

// LarkSink replies to Lark messages through the open platform API. It holds
// one client per configured app so a single relay can serve several bots.
type LarkSink struct {
	clients map[string]*lark.Client
	logger  *slog.Logger
}

// NewLarkSink creates a sink for the given app id to app secret mapping.
func NewLarkSink(apps map[string]string, logger *slog.Logger, opts ...lark.ClientOptionFunc) *LarkSink {
	if logger == nil {
		logger = slog.Default()
	}
	clients := make(map[string]*lark.Client, len(apps))
	for appID, secret := range apps {
		appID = strings.TrimSpace(appID)
		if appID == "" {
			continue
		}
		clients[appID] = lark.NewClient(appID, strings.TrimSpace(secret), opts...)
	}
	return &LarkSink{
		clients: clients,
		logger:  logger.With(slog.String("component", "delivery.lark")),
	}
}

// Send replies to unit.ReplyTarget as a plain text message.
func (s *LarkSink) Send(ctx context.Context, unit Unit) error {
	if err := unit.Validate(); err != nil {
		return err
	}

	client, ok := s.clients[unit.AppID]
	if !ok {
		return &Error{AppID: unit.AppID, ReplyTarget: unit.ReplyTarget, Err: ErrUnknownApp}
	}

	req := larkim.NewReplyMessageReqBuilder().
		MessageId(unit.ReplyTarget).
		Body(larkim.NewReplyMessageReqBodyBuilder().
			MsgType("text").
			Content(TextContent(unit.Text)).
			ReplyInThread(unit.Threaded).
			Build()).
		Build()

	resp, err := client.Im.Message.Reply(ctx, req)
	if err != nil {
		return &Error{AppID: unit.AppID, ReplyTarget: unit.ReplyTarget, Err: fmt.Errorf("lark reply API call failed: %w", err)}
	}
	if !resp.Success() {
		return &Error{
			AppID:       unit.AppID,
			ReplyTarget: unit.ReplyTarget,
			Err:         fmt.Errorf("lark reply API error: code=%d msg=%s", resp.Code, resp.Msg),
		}
	}

	s.logger.DebugContext(ctx, "reply delivered",
		slog.String("app_id", unit.AppID),
		slog.String("reply_target", unit.ReplyTarget),
		slog.Bool("threaded", unit.Threaded),
		slog.Int("text_length", len(unit.Text)))
	return nil
}

// TextContent builds the JSON content payload of a Lark text message.
func TextContent(text string) string {
	payload, _ := json.Marshal(map[string]string{"text": text})
	return string(payload)
}
