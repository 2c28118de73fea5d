package lark

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
)

// MessageTypeText is the only message type the relay answers.
const MessageTypeText = "text"

var (
	// ErrNotText is returned for message types other than text.
	ErrNotText = errors.New("message is not plain text")

	// ErrMalformedEvent is returned when required event fields are missing.
	ErrMalformedEvent = errors.New("message event is missing required fields")
)

// mentionPattern matches @mentions, optionally with an escaping backslash.
var mentionPattern = regexp.MustCompile(`\\?@[\p{L}\p{N}_]+`)

// RemoveMentions strips every @mention and trims the result.
func RemoveMentions(text string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(text, ""))
}

// ParseTextContent extracts the text of a text message content payload.
func ParseTextContent(content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", nil
	}
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return "", fmt.Errorf("failed to decode message content: %w", err)
	}
	return payload.Text, nil
}

// ResolveUserID picks the sender's user id, then open id, then falls back to
// the message id so history is still keyed per conversation.
func ResolveUserID(sender *larkim.EventSender, messageID string) string {
	if sender != nil && sender.SenderId != nil {
		if id := strings.TrimSpace(deref(sender.SenderId.UserId)); id != "" {
			return id
		}
		if id := strings.TrimSpace(deref(sender.SenderId.OpenId)); id != "" {
			return id
		}
	}
	return messageID
}

// Message is the part of a receive event the relay uses.
type Message struct {
	AppID     string
	MessageID string
	UserID    string
	Type      string
	Text      string
}

// ParseEvent extracts a Message. Non-text messages return ErrNotText along
// with the ids needed to reply.
func ParseEvent(event *larkim.P2MessageReceiveV1) (Message, error) {
	if event == nil || event.Event == nil || event.Event.Message == nil {
		return Message{}, ErrMalformedEvent
	}

	raw := event.Event.Message
	msg := Message{
		MessageID: deref(raw.MessageId),
		Type:      strings.ToLower(strings.TrimSpace(deref(raw.MessageType))),
	}
	if event.EventV2Base != nil && event.EventV2Base.Header != nil {
		msg.AppID = event.EventV2Base.Header.AppID
	}
	msg.UserID = ResolveUserID(event.Event.Sender, msg.MessageID)

	if msg.AppID == "" || msg.MessageID == "" {
		return msg, ErrMalformedEvent
	}
	if msg.Type != MessageTypeText {
		return msg, ErrNotText
	}

	text, err := ParseTextContent(deref(raw.Content))
	if err != nil {
		return msg, err
	}
	msg.Text = RemoveMentions(text)
	return msg, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
