package lark_test

import (
	"testing"

	larkevent "github.com/larksuite/oapi-sdk-go/v3/event"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/qrelay/internal/lark"
)

func strPtr(s string) *string { return &s }

func TestRemoveMentions(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"@_user_1 hello", "hello"},
		{"hi @bot there", "hi  there"},
		{`\@_user_1 escaped`, "escaped"},
		{"@机器人 你好", "你好"},
		{"no mentions", "no mentions"},
		{"@_user_1", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, lark.RemoveMentions(tt.in))
		})
	}
}

func TestParseTextContent(t *testing.T) {
	text, err := lark.ParseTextContent(`{"text":"@_user_1 what is IAM?"}`)
	require.NoError(t, err)
	assert.Equal(t, "@_user_1 what is IAM?", text)

	text, err = lark.ParseTextContent("")
	require.NoError(t, err)
	assert.Empty(t, text)

	_, err = lark.ParseTextContent("{not json")
	require.Error(t, err)
}

func TestResolveUserID(t *testing.T) {
	tests := []struct {
		name   string
		sender *larkim.EventSender
		want   string
	}{
		{"user id wins", &larkim.EventSender{SenderId: &larkim.UserId{UserId: strPtr("u1"), OpenId: strPtr("ou1")}}, "u1"},
		{"open id fallback", &larkim.EventSender{SenderId: &larkim.UserId{UserId: strPtr(" "), OpenId: strPtr("ou1")}}, "ou1"},
		{"message id fallback", &larkim.EventSender{SenderId: &larkim.UserId{}}, "om_1"},
		{"no sender", nil, "om_1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, lark.ResolveUserID(tt.sender, "om_1"))
		})
	}
}

func event(msgType, content string) *larkim.P2MessageReceiveV1 {
	return &larkim.P2MessageReceiveV1{
		EventV2Base: &larkevent.EventV2Base{Header: &larkevent.EventHeader{AppID: "cli_a"}},
		Event: &larkim.P2MessageReceiveV1Data{
			Sender: &larkim.EventSender{SenderId: &larkim.UserId{OpenId: strPtr("ou_1")}},
			Message: &larkim.EventMessage{
				MessageId:   strPtr("om_1"),
				MessageType: strPtr(msgType),
				Content:     strPtr(content),
			},
		},
	}
}

func TestParseEvent(t *testing.T) {
	msg, err := lark.ParseEvent(event("text", `{"text":"@_user_1 deploy lambda"}`))
	require.NoError(t, err)
	assert.Equal(t, lark.Message{
		AppID:     "cli_a",
		MessageID: "om_1",
		UserID:    "ou_1",
		Type:      "text",
		Text:      "deploy lambda",
	}, msg)

	msg, err = lark.ParseEvent(event("image", `{"image_key":"x"}`))
	require.ErrorIs(t, err, lark.ErrNotText)
	assert.Equal(t, "om_1", msg.MessageID)
	assert.Equal(t, "cli_a", msg.AppID)

	_, err = lark.ParseEvent(nil)
	require.ErrorIs(t, err, lark.ErrMalformedEvent)

	noHeader := event("text", `{"text":"x"}`)
	noHeader.EventV2Base = nil
	_, err = lark.ParseEvent(noHeader)
	require.ErrorIs(t, err, lark.ErrMalformedEvent)
}
