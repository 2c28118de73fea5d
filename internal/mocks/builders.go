package mocks

import (
	"encoding/json"

	"github.com/Veraticus/qrelay/internal/relay"
)

// InboundBuilder creates relay.Inbound values for tests.
type InboundBuilder struct {
	in relay.Inbound
}

// NewInboundBuilder creates a builder with sensible defaults.
func NewInboundBuilder() *InboundBuilder {
	return &InboundBuilder{in: relay.Inbound{
		AppID:     "cli_test",
		MessageID: "om_test_1",
		UserID:    "ou_test_user",
		Text:      "如何创建 EC2 实例?",
	}}
}

// WithMessageID sets the message id.
func (b *InboundBuilder) WithMessageID(id string) *InboundBuilder {
	b.in.MessageID = id
	return b
}

// WithUserID sets the user id.
func (b *InboundBuilder) WithUserID(id string) *InboundBuilder {
	b.in.UserID = id
	return b
}

// WithText sets the text.
func (b *InboundBuilder) WithText(text string) *InboundBuilder {
	b.in.Text = text
	return b
}

// Build returns the message.
func (b *InboundBuilder) Build() relay.Inbound {
	return b.in
}

// EventBuilder creates raw Lark im.message.receive_v1 callback bodies.
type EventBuilder struct {
	appID       string
	token       string
	messageID   string
	messageType string
	content     string
	userID      string
	openID      string
}

// NewEventBuilder creates a text message event from a user.
func NewEventBuilder() *EventBuilder {
	return &EventBuilder{
		appID:       "cli_test",
		messageID:   "om_test_1",
		messageType: "text",
		content:     `{"text":"hello"}`,
		userID:      "u_test",
		openID:      "ou_test",
	}
}

// WithToken sets the verification token in the header.
func (b *EventBuilder) WithToken(token string) *EventBuilder {
	b.token = token
	return b
}

// WithMessageID sets the message id.
func (b *EventBuilder) WithMessageID(id string) *EventBuilder {
	b.messageID = id
	return b
}

// WithText sets a text content payload.
func (b *EventBuilder) WithText(text string) *EventBuilder {
	raw, _ := json.Marshal(map[string]string{"text": text})
	b.messageType = "text"
	b.content = string(raw)
	return b
}

// WithImage makes the event an image message.
func (b *EventBuilder) WithImage() *EventBuilder {
	b.messageType = "image"
	b.content = `{"image_key":"img_v2_test"}`
	return b
}

// WithSender sets the sender ids; empty values are omitted.
func (b *EventBuilder) WithSender(userID, openID string) *EventBuilder {
	b.userID = userID
	b.openID = openID
	return b
}

// Build returns the JSON body.
func (b *EventBuilder) Build() []byte {
	senderID := map[string]string{}
	if b.userID != "" {
		senderID["user_id"] = b.userID
	}
	if b.openID != "" {
		senderID["open_id"] = b.openID
	}
	body := map[string]any{
		"schema": "2.0",
		"header": map[string]any{
			"event_id":    "ev_" + b.messageID,
			"event_type":  "im.message.receive_v1",
			"create_time": "1700000000000",
			"token":       b.token,
			"app_id":      b.appID,
			"tenant_key":  "tenant_test",
		},
		"event": map[string]any{
			"sender": map[string]any{
				"sender_id":   senderID,
				"sender_type": "user",
			},
			"message": map[string]any{
				"message_id":   b.messageID,
				"chat_id":      "oc_test",
				"chat_type":    "p2p",
				"message_type": b.messageType,
				"content":      b.content,
			},
		},
	}
	raw, _ := json.Marshal(body)
	return raw
}
