package hub

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait        = 30 * time.Second
	readWait         = heartbeatTimeout
	maxMessageSize   = 64 << 10
	maxBatchMessages = 128
	sendBufferSize   = 256
	recentFrameSlots = 64
)

// ChatClient is one websocket connection. UserID is uuid.Nil for anonymous
// connections.
type ChatClient struct {
	ConnID string
	UserID uuid.UUID
	Conn   *websocket.Conn
	Send   chan []byte
	Done   chan struct{}

	hub            *Hub
	connectedAt    time.Time
	lastPongUnix   atomic.Int64
	unregisterOnce sync.Once
	closeOnce      sync.Once

	topicsMu sync.Mutex
	topics   map[string]struct{}

	recentMu  sync.Mutex
	recent    [recentFrameSlots]string
	recentPos int
}

func NewChatClient(userID uuid.UUID, conn *websocket.Conn, h *Hub) *ChatClient {
	now := time.Now().UTC()
	client := &ChatClient{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		Conn:        conn,
		Send:        make(chan []byte, sendBufferSize),
		Done:        make(chan struct{}),
		hub:         h,
		connectedAt: now,
		topics:      make(map[string]struct{}),
	}
	client.markPong(now)
	return client
}

func (c *ChatClient) Identified() bool {
	return c != nil && c.UserID != uuid.Nil
}

func (c *ChatClient) Start() {
	go c.writePump()
	go c.readPump()
}

func (c *ChatClient) writePump() {
	defer c.unregister()
	defer c.closeConn()

	for {
		select {
		case <-c.Done:
			return
		case message := <-c.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			for _, frame := range c.collectBatch(message) {
				if err := c.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					return
				}
			}
		}
	}
}

func (c *ChatClient) readPump() {
	defer c.unregister()
	defer c.closeConn()

	c.Conn.SetReadLimit(maxMessageSize)
	if err := c.Conn.SetReadDeadline(time.Now().Add(readWait)); err != nil {
		return
	}
	c.Conn.SetPongHandler(func(_ string) error {
		now := time.Now().UTC()
		c.markPong(now)
		return c.Conn.SetReadDeadline(now.Add(readWait))
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		now := time.Now().UTC()
		c.markPong(now)
		_ = c.Conn.SetReadDeadline(now.Add(readWait))
		c.hub.HandleMessage(c, message)
	}
}

// enqueue never blocks; it reports whether the frame was accepted.
func (c *ChatClient) enqueue(raw []byte) bool {
	select {
	case <-c.Done:
		return false
	default:
	}

	select {
	case c.Send <- raw:
		return true
	default:
		return false
	}
}

func (c *ChatClient) unregister() {
	c.unregisterOnce.Do(func() {
		if c.hub != nil {
			c.hub.Unregister(c)
		}
	})
}

func (c *ChatClient) closeConn() {
	c.closeOnce.Do(func() {
		close(c.Done)
		if c.Conn != nil {
			_ = c.Conn.Close()
		}
	})
}

func (c *ChatClient) closed() bool {
	select {
	case <-c.Done:
		return true
	default:
		return false
	}
}

func (c *ChatClient) LastPong() time.Time {
	unix := c.lastPongUnix.Load()
	if unix <= 0 {
		return time.Time{}
	}
	return time.Unix(0, unix).UTC()
}

func (c *ChatClient) markPong(ts time.Time) {
	c.lastPongUnix.Store(ts.UnixNano())
}

func (c *ChatClient) addTopic(topic string) {
	c.topicsMu.Lock()
	c.topics[topic] = struct{}{}
	c.topicsMu.Unlock()
}

func (c *ChatClient) removeTopic(topic string) {
	c.topicsMu.Lock()
	delete(c.topics, topic)
	c.topicsMu.Unlock()
}

func (c *ChatClient) Topics() []string {
	c.topicsMu.Lock()
	topics := make([]string, 0, len(c.topics))
	for topic := range c.topics {
		topics = append(topics, topic)
	}
	c.topicsMu.Unlock()

	sort.Strings(topics)
	return topics
}

// seenFrame records id and reports whether it was already handled on this
// connection. Frames without an id are never treated as repeats.
func (c *ChatClient) seenFrame(id string) bool {
	if id == "" {
		return false
	}

	c.recentMu.Lock()
	defer c.recentMu.Unlock()

	for _, recent := range c.recent {
		if recent == id {
			return true
		}
	}
	c.recent[c.recentPos] = id
	c.recentPos = (c.recentPos + 1) % recentFrameSlots
	return false
}

// collectBatch takes first plus whatever is already queued so one deadline
// covers a burst.
func (c *ChatClient) collectBatch(first []byte) [][]byte {
	batch := make([][]byte, 0, maxBatchMessages)
	batch = append(batch, first)

	for len(batch) < maxBatchMessages {
		select {
		case message := <-c.Send:
			batch = append(batch, message)
		default:
			return batch
		}
	}

	return batch
}
