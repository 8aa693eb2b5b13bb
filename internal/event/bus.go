package event

import (
	"strings"
	"sync"
	"time"
)

const (
	EventPresenceChanged = "presence.changed"
	EventMessageCreated  = "message.created"
	EventUserLevelUp     = "user.level_up"
	EventCoursePurchased = "course.purchased"
)

type PresenceChangedPayload struct {
	UserID      string    `json:"user_id"`
	Online      bool      `json:"online"`
	OnlineCount int       `json:"online_count"`
	Timestamp   time.Time `json:"timestamp"`
}

type MessageCreatedPayload struct {
	MessageID int64     `json:"message_id"`
	ChannelID string    `json:"channel_id"`
	SenderID  string    `json:"sender_id"`
	Timestamp time.Time `json:"timestamp"`
}

type LevelUpPayload struct {
	UserID   string `json:"user_id"`
	OldLevel int    `json:"old_level"`
	NewLevel int    `json:"new_level"`
}

type CoursePurchasedPayload struct {
	UserID   string `json:"user_id"`
	CourseID string `json:"course_id"`
	Role     string `json:"role"`
}

// Bus is an in-process, fire-and-forget pub/sub for domain events.
// Handlers run on their own goroutines.
type Bus struct {
	handlers sync.Map
	mu       sync.Mutex
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(event string, handler func(payload any)) {
	if b == nil || handler == nil {
		return
	}

	eventName := strings.TrimSpace(event)
	if eventName == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	handlers := make([]func(payload any), 0, 1)
	if current, ok := b.handlers.Load(eventName); ok {
		if casted, valid := current.([]func(payload any)); valid {
			handlers = append(handlers, casted...)
		}
	}
	handlers = append(handlers, handler)
	b.handlers.Store(eventName, handlers)
}

func (b *Bus) Publish(event string, payload any) {
	if b == nil {
		return
	}

	eventName := strings.TrimSpace(event)
	if eventName == "" {
		return
	}

	current, ok := b.handlers.Load(eventName)
	if !ok {
		return
	}

	handlers, ok := current.([]func(payload any))
	if !ok || len(handlers) == 0 {
		return
	}

	for _, handler := range handlers {
		if handler == nil {
			continue
		}
		go handler(payload)
	}
}
