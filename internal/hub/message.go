package hub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"community-hub/pkg/crypto"
)

type MsgType string

const (
	Subscribe    MsgType = "subscribe"
	Unsubscribe  MsgType = "unsubscribe"
	Chat         MsgType = "chat"
	ChatLegacy   MsgType = "chat.legacy"
	Ping         MsgType = "ping"
	Pong         MsgType = "pong"
	ChatMessage  MsgType = "chat.message"
	ChatJoin     MsgType = "chat.join"
	ChatLeave    MsgType = "chat.leave"
	Presence     MsgType = "presence"
	Subscribed   MsgType = "subscribed"
	Unsubscribed MsgType = "unsubscribed"
	Error        MsgType = "error"
)

// InboundFrame is what a client writes on the socket. Payload is the codec
// token (a JSON string) when encryption is on and a JSON object otherwise.
type InboundFrame struct {
	Type      MsgType         `json:"type"`
	ID        string          `json:"id,omitempty"`
	ChannelID string          `json:"channel_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type OutboundFrame struct {
	Type      MsgType         `json:"type"`
	ID        string          `json:"id"`
	Topic     string          `json:"topic,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ChatEvent is the decoded body of a chat frame. ChannelID is only read on
// the legacy path.
type ChatEvent struct {
	ChannelID string `json:"channel_id" validate:"omitempty,uuid"`
	Content   string `json:"content" validate:"required,max=4000"`
	ReplyTo   *int64 `json:"reply_to,omitempty" validate:"omitempty,gt=0"`
}

const (
	NoticeForbidden  = "forbidden"
	NoticeBadPayload = "bad_payload"
	NoticeNotFound   = "not_found"
	NoticeStorage    = "storage"
	NoticeInvalid    = "invalid"
)

type ErrorNotice struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
}

// MembershipNotice is the body of chat.join and chat.leave frames.
type MembershipNotice struct {
	ChannelID string    `json:"channel_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type SubscriptionAck struct {
	ChannelID string `json:"channel_id"`
	RequestID string `json:"request_id,omitempty"`
}

func normalizeMsgType(msgType MsgType) MsgType {
	switch MsgType(strings.ToLower(strings.TrimSpace(string(msgType)))) {
	case Subscribe:
		return Subscribe
	case Unsubscribe:
		return Unsubscribe
	case Chat, "chat.send", "message":
		return Chat
	case ChatLegacy, "chat.sendmessage", "sendmessage":
		return ChatLegacy
	case Ping:
		return Ping
	case Pong:
		return Pong
	default:
		return ""
	}
}

// encodePayload marshals v and runs it through the codec. With encryption on
// the result is a JSON string holding the token.
func encodePayload(codec *crypto.Codec, v interface{}) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if !codec.Enabled() {
		return raw, nil
	}

	token, err := codec.Encrypt(string(raw))
	if err != nil {
		return nil, err
	}
	return json.Marshal(token)
}

// decodePayload reverses encodePayload. With encryption off a JSON string
// carrying the object is accepted as well as the bare object.
func decodePayload(codec *crypto.Codec, payload json.RawMessage) ([]byte, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("%w: empty payload", crypto.ErrCodec)
	}

	if !codec.Enabled() {
		if trimmed[0] != '"' {
			return trimmed, nil
		}
		var body string
		if err := json.Unmarshal(trimmed, &body); err != nil {
			return nil, fmt.Errorf("%w: invalid payload string", crypto.ErrCodec)
		}
		return []byte(body), nil
	}

	var token string
	if err := json.Unmarshal(trimmed, &token); err != nil {
		return nil, fmt.Errorf("%w: payload is not a token", crypto.ErrCodec)
	}
	plain, err := codec.Decrypt(token)
	if err != nil {
		return nil, err
	}
	return []byte(plain), nil
}
