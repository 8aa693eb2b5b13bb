package hub

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"community-hub/internal/metrics"
	"community-hub/internal/model"
)

var ErrEmptyTopic = errors.New("topic is required")

type subscriberSet struct {
	mu      sync.RWMutex
	clients map[*ChatClient]struct{}
}

// Broker is the in-process topic fan-out. Delivery is best effort: a client
// whose send buffer is full misses the frame.
type Broker struct {
	topics sync.Map
	logger *zap.Logger
}

func NewBroker(logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{logger: logger}
}

// Subscribe adds client to topic and reports whether it was new. A closed
// client is never added, even when it closes while subscribing.
func (b *Broker) Subscribe(client *ChatClient, topic string) bool {
	topic = strings.TrimSpace(topic)
	if client == nil || topic == "" || client.closed() {
		return false
	}

	value, _ := b.topics.LoadOrStore(topic, &subscriberSet{clients: make(map[*ChatClient]struct{})})
	set := value.(*subscriberSet)

	set.mu.Lock()
	_, exists := set.clients[client]
	set.clients[client] = struct{}{}
	set.mu.Unlock()

	client.addTopic(topic)

	// Unregister closes before it releases topics, so a close observed here
	// may have missed this entry.
	if client.closed() {
		b.Unsubscribe(client, topic)
		return false
	}
	return !exists
}

func (b *Broker) Unsubscribe(client *ChatClient, topic string) bool {
	topic = strings.TrimSpace(topic)
	if client == nil || topic == "" {
		return false
	}
	client.removeTopic(topic)

	value, ok := b.topics.Load(topic)
	if !ok {
		return false
	}
	set := value.(*subscriberSet)

	set.mu.Lock()
	_, exists := set.clients[client]
	delete(set.clients, client)
	set.mu.Unlock()

	return exists
}

// UnsubscribeAll drops every subscription of client and returns the topics
// it held.
func (b *Broker) UnsubscribeAll(client *ChatClient) []string {
	if client == nil {
		return nil
	}
	topics := client.Topics()
	for _, topic := range topics {
		b.Unsubscribe(client, topic)
	}
	return topics
}

func (b *Broker) SubscriberCount(topic string) int {
	value, ok := b.topics.Load(strings.TrimSpace(topic))
	if !ok {
		return 0
	}
	set := value.(*subscriberSet)
	set.mu.RLock()
	defer set.mu.RUnlock()
	return len(set.clients)
}

// Publish sends an already encoded payload to topic. The frame type follows
// from the topic family.
func (b *Broker) Publish(topic string, payload []byte) error {
	_, err := b.PublishFrame(OutboundFrame{
		Type:    frameTypeForTopic(topic),
		Topic:   topic,
		Payload: payload,
	})
	return err
}

// PublishFrame fans frame out to the current subscribers of frame.Topic and
// returns how many accepted it.
func (b *Broker) PublishFrame(frame OutboundFrame) (int, error) {
	frame.Topic = strings.TrimSpace(frame.Topic)
	if frame.Topic == "" {
		return 0, ErrEmptyTopic
	}

	raw, err := marshalFrame(frame)
	if err != nil {
		return 0, err
	}

	value, ok := b.topics.Load(frame.Topic)
	if !ok {
		return 0, nil
	}
	set := value.(*subscriberSet)

	set.mu.RLock()
	targets := make([]*ChatClient, 0, len(set.clients))
	for client := range set.clients {
		targets = append(targets, client)
	}
	set.mu.RUnlock()

	delivered := 0
	for _, client := range targets {
		if client.enqueue(raw) {
			delivered++
			continue
		}
		metrics.IncFramesDropped("outbound")
		b.logger.Warn("client send buffer full, dropping frame",
			zap.String("conn_id", client.ConnID),
			zap.String("topic", frame.Topic),
			zap.String("type", string(frame.Type)),
		)
	}
	return delivered, nil
}

func marshalFrame(frame OutboundFrame) ([]byte, error) {
	if frame.ID == "" {
		frame.ID = uuid.NewString()
	}
	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now().UTC()
	}
	return json.Marshal(frame)
}

func frameTypeForTopic(topic string) MsgType {
	topic = strings.TrimSpace(topic)
	switch {
	case topic == model.PresenceTopic:
		return Presence
	case strings.HasPrefix(topic, "user.") && strings.HasSuffix(topic, ".errors"):
		return Error
	default:
		return ChatMessage
	}
}
