package model

import (
	"time"

	"github.com/google/uuid"
)

// Message is the persisted record. Content holds ciphertext when Encrypted is set.
type Message struct {
	ID        int64     `db:"id" json:"id"`
	ChannelID uuid.UUID `db:"channel_id" json:"channel_id"`
	SenderID  uuid.UUID `db:"sender_id" json:"sender_id"`
	Content   string    `db:"content" json:"-"`
	Encrypted bool      `db:"encrypted" json:"encrypted"`
	ReplyTo   *int64    `db:"reply_to" json:"reply_to,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"timestamp"`
}

// MessageView is what callers see: plaintext content plus sender details
// resolved at read time.
type MessageView struct {
	ID            int64     `json:"id"`
	ChannelID     uuid.UUID `json:"channel_id"`
	SenderID      uuid.UUID `json:"sender_id"`
	SenderName    string    `json:"sender_name"`
	SenderRole    UserRole  `json:"role"`
	SenderLevel   int       `json:"level"`
	Content       string    `json:"content"`
	ReplyTo       *int64    `json:"reply_to,omitempty"`
	Undecryptable bool      `json:"undecryptable,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
