package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"community-hub/internal/access"
	"community-hub/internal/metrics"
	"community-hub/internal/model"
	"community-hub/internal/presence"
	"community-hub/internal/service"
	"community-hub/pkg/crypto"
)

const (
	heartbeatInterval = 30 * time.Second
	heartbeatTimeout  = 90 * time.Second
	messageQueueSize  = 8192
	chatEventTimeout  = 10 * time.Second
	lastSeenTimeout   = 3 * time.Second
)

type Deps struct {
	Broker   *Broker
	Presence *presence.Tracker
	Users    UserDirectory
	Channels ChannelDirectory
	Pipeline *ChatPipeline
	Codec    *crypto.Codec
}

// Hub owns the live connections: lifecycle hooks, topic subscriptions and
// the worker pool that drains inbound frames.
type Hub struct {
	clients   sync.Map
	connCount atomic.Int64

	// uuid.UUID -> *userConns
	userConns sync.Map

	broker   *Broker
	presence *presence.Tracker
	users    UserDirectory
	channels ChannelDirectory
	pipeline *ChatPipeline
	codec    *crypto.Codec

	messageQueue chan incomingMessage
	workerCount  int
	workerWG     sync.WaitGroup

	logger *zap.Logger
	stopCh chan struct{}
}

// userConns counts one user's live connections. Presence flips happen under
// its own lock, so transitions for a user are applied in order without a
// process-wide lock.
type userConns struct {
	mu      sync.Mutex
	count   int
	retired bool
}

type incomingMessage struct {
	client *ChatClient
	raw    []byte
}

func NewHub(deps Deps, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Broker == nil {
		deps.Broker = NewBroker(logger)
	}
	if deps.Codec == nil {
		deps.Codec = &crypto.Codec{}
	}

	h := &Hub{
		broker:   deps.Broker,
		presence: deps.Presence,
		users:    deps.Users,
		channels: deps.Channels,
		pipeline: deps.Pipeline,
		codec:    deps.Codec,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
	h.workerCount = runtime.NumCPU() * 2
	if h.workerCount < 2 {
		h.workerCount = 2
	}
	h.messageQueue = make(chan incomingMessage, messageQueueSize)

	h.startMessageWorkers()

	go h.startHeartbeat()

	return h
}

// Publish hands an encoded payload to every subscriber of topic.
func (h *Hub) Publish(topic string, payload []byte) error {
	return h.broker.Publish(topic, payload)
}

func (h *Hub) Register(client *ChatClient) {
	if client == nil {
		return
	}

	h.clients.Store(client.ConnID, client)
	metrics.SetChatConnections(int(h.connCount.Add(1)))
	client.markPong(time.Now().UTC())

	h.broker.Subscribe(client, model.PresenceTopic)
	if client.Identified() {
		h.broker.Subscribe(client, model.UserErrorTopic(client.UserID.String()))

		h.addUserConn(client.UserID)

		h.touchLastSeen(client.UserID)
	}

	h.sendPresenceSnapshot(client)
	h.logger.Debug("chat client registered",
		zap.String("conn_id", client.ConnID),
		zap.String("user_id", client.UserID.String()),
	)
}

func (h *Hub) Unregister(client *ChatClient) {
	if client == nil {
		return
	}
	if _, loaded := h.clients.LoadAndDelete(client.ConnID); !loaded {
		return
	}
	metrics.SetChatConnections(int(h.connCount.Add(-1)))
	metrics.ObserveConnectionDuration(time.Since(client.connectedAt))

	client.closeConn()
	topics := h.broker.UnsubscribeAll(client)

	if !client.Identified() {
		return
	}

	for _, topic := range topics {
		if channelID, ok := channelFromTopic(topic); ok {
			h.publishMembership(ChatLeave, channelID, client.UserID, "")
		}
	}

	h.dropUserConn(client.UserID)

	h.touchLastSeen(client.UserID)
}

// addUserConn marks the user online on its first connection.
func (h *Hub) addUserConn(userID uuid.UUID) {
	for {
		value, _ := h.userConns.LoadOrStore(userID, &userConns{})
		entry := value.(*userConns)

		entry.mu.Lock()
		if entry.retired {
			// the last connection is going away; wait for a fresh entry
			entry.mu.Unlock()
			continue
		}
		entry.count++
		if entry.count == 1 && h.presence != nil {
			h.presence.MarkOnline(userID)
		}
		entry.mu.Unlock()
		return
	}
}

// dropUserConn marks the user offline when its last connection goes. The
// entry is retired and removed while still locked, so a reconnect always
// marks online after this mark offline.
func (h *Hub) dropUserConn(userID uuid.UUID) {
	value, ok := h.userConns.Load(userID)
	if !ok {
		return
	}
	entry := value.(*userConns)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.retired {
		return
	}
	entry.count--
	if entry.count > 0 {
		return
	}
	entry.retired = true
	if h.presence != nil {
		h.presence.MarkOffline(userID)
	}
	h.userConns.Delete(userID)
}

// HandleMessage queues a raw frame for the worker pool. A full queue drops it.
func (h *Hub) HandleMessage(client *ChatClient, raw []byte) {
	if client == nil || len(raw) == 0 {
		return
	}

	job := incomingMessage{
		client: client,
		raw:    append([]byte(nil), raw...),
	}

	select {
	case <-h.stopCh:
		return
	case h.messageQueue <- job:
		return
	default:
		metrics.IncFramesDropped("inbound")
		h.logger.Warn("chat message queue full, dropping frame",
			zap.String("conn_id", client.ConnID),
		)
	}
}

func (h *Hub) processIncomingMessage(client *ChatClient, raw []byte) {
	if client == nil || len(raw) == 0 {
		return
	}
	// frames queued before a disconnect are dropped
	if !h.registered(client) {
		return
	}

	var frame InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.logger.Warn("invalid ws frame", zap.String("conn_id", client.ConnID), zap.Error(err))
		h.sendNotice(client, ErrorNotice{Code: NoticeBadPayload, Message: "frame is not valid json"})
		return
	}

	msgType := normalizeMsgType(frame.Type)
	if msgType == "" {
		h.logger.Debug("unknown ws frame type", zap.String("conn_id", client.ConnID), zap.String("type", string(frame.Type)))
		h.sendNotice(client, ErrorNotice{Code: NoticeInvalid, Message: "unknown frame type", RequestID: frame.ID})
		return
	}

	client.markPong(time.Now().UTC())

	switch msgType {
	case Ping:
		h.sendFrame(client, OutboundFrame{Type: Pong, ID: frame.ID})
	case Pong:
	case Subscribe:
		h.subscribe(client, frame)
	case Unsubscribe:
		h.unsubscribe(client, frame)
	case Chat, ChatLegacy:
		if client.seenFrame(frame.ID) {
			h.logger.Debug("duplicate chat frame ignored",
				zap.String("conn_id", client.ConnID),
				zap.String("request_id", frame.ID),
			)
			return
		}
		if h.pipeline == nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), chatEventTimeout)
		defer cancel()
		if msgType == ChatLegacy {
			h.pipeline.HandleLegacyEvent(ctx, client.UserID, frame)
		} else {
			h.pipeline.HandleChannelEvent(ctx, client.UserID, frame)
		}
	}
}

func (h *Hub) subscribe(client *ChatClient, frame InboundFrame) {
	if !client.Identified() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), chatEventTimeout)
	defer cancel()

	user, channel, err := h.loadMembership(ctx, client.UserID, frame.ChannelID)
	if err != nil {
		h.rejectSubscription(client, frame, err)
		return
	}
	if !access.CanView(user, channel) {
		h.rejectSubscription(client, frame, fmt.Errorf("view %s: %w", channel.Name, service.ErrPermission))
		return
	}

	channelID := channel.ID.String()
	added := h.broker.Subscribe(client, channel.Topic())
	h.sendAck(client, Subscribed, channelID, frame.ID)
	if added {
		h.publishMembership(ChatJoin, channelID, user.ID, user.Username)
	}
}

func (h *Hub) unsubscribe(client *ChatClient, frame InboundFrame) {
	channelID := strings.TrimSpace(frame.ChannelID)
	if channelID == "" {
		h.sendNotice(client, ErrorNotice{Code: NoticeInvalid, Message: "channel_id is required", RequestID: frame.ID})
		return
	}

	removed := h.broker.Unsubscribe(client, model.ChannelTopic(channelID))
	h.sendAck(client, Unsubscribed, channelID, frame.ID)
	if removed && client.Identified() {
		h.publishMembership(ChatLeave, channelID, client.UserID, "")
	}
}

func (h *Hub) loadMembership(ctx context.Context, userID uuid.UUID, rawChannelID string) (*model.User, *model.Channel, error) {
	channelID, err := uuid.Parse(strings.TrimSpace(rawChannelID))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: channel_id is not a uuid", service.ErrInvalidInput)
	}
	if h.users == nil || h.channels == nil {
		return nil, nil, errors.New("hub directories are not configured")
	}

	user, err := h.users.GetByID(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	channel, err := h.channels.GetByID(ctx, channelID)
	if err != nil {
		return nil, nil, err
	}
	return user, channel, nil
}

func (h *Hub) rejectSubscription(client *ChatClient, frame InboundFrame, err error) {
	code := noticeCode(err)
	h.logger.Info("subscription rejected",
		zap.String("conn_id", client.ConnID),
		zap.String("user_id", client.UserID.String()),
		zap.String("channel_id", frame.ChannelID),
		zap.String("code", code),
		zap.Error(err),
	)
	h.sendNotice(client, ErrorNotice{
		Code:      code,
		Message:   noticeMessage(code, err),
		RequestID: frame.ID,
		ChannelID: frame.ChannelID,
	})
}

func (h *Hub) publishMembership(kind MsgType, channelID string, userID uuid.UUID, username string) {
	payload, err := encodePayload(h.codec, MembershipNotice{
		ChannelID: channelID,
		UserID:    userID.String(),
		Username:  username,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.logger.Warn("encode membership notice failed", zap.String("channel_id", channelID), zap.Error(err))
		return
	}
	if _, err := h.broker.PublishFrame(OutboundFrame{
		Type:    kind,
		Topic:   model.ChannelTopic(channelID),
		Payload: payload,
	}); err != nil {
		h.logger.Warn("publish membership notice failed", zap.String("channel_id", channelID), zap.Error(err))
	}
}

func (h *Hub) sendPresenceSnapshot(client *ChatClient) {
	if h.presence == nil {
		return
	}
	raw, err := json.Marshal(h.presence.Snapshot())
	if err != nil {
		return
	}
	h.sendFrame(client, OutboundFrame{Type: Presence, Topic: model.PresenceTopic, Payload: raw})
}

func (h *Hub) sendAck(client *ChatClient, kind MsgType, channelID, requestID string) {
	raw, err := json.Marshal(SubscriptionAck{ChannelID: channelID, RequestID: requestID})
	if err != nil {
		return
	}
	h.sendFrame(client, OutboundFrame{
		Type:    kind,
		ID:      requestID,
		Topic:   model.ChannelTopic(channelID),
		Payload: raw,
	})
}

func (h *Hub) sendNotice(client *ChatClient, notice ErrorNotice) {
	raw, err := json.Marshal(notice)
	if err != nil {
		return
	}
	h.sendFrame(client, OutboundFrame{Type: Error, ID: notice.RequestID, Payload: raw})
}

func (h *Hub) sendFrame(client *ChatClient, frame OutboundFrame) {
	raw, err := marshalFrame(frame)
	if err != nil {
		h.logger.Warn("encode frame failed", zap.String("type", string(frame.Type)), zap.Error(err))
		return
	}
	if !client.enqueue(raw) {
		metrics.IncFramesDropped("outbound")
		h.logger.Warn("client send buffer full, dropping frame",
			zap.String("conn_id", client.ConnID),
			zap.String("type", string(frame.Type)),
		)
	}
}

func (h *Hub) touchLastSeen(userID uuid.UUID) {
	if h.users == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), lastSeenTimeout)
	defer cancel()
	if err := h.users.TouchLastSeen(ctx, userID); err != nil {
		h.logger.Warn("update last seen failed", zap.String("user_id", userID.String()), zap.Error(err))
	}
}

func (h *Hub) registered(client *ChatClient) bool {
	_, ok := h.clients.Load(client.ConnID)
	return ok && !client.closed()
}

func (h *Hub) ConnectedCount() int {
	return int(h.connCount.Load())
}

func (h *Hub) Close() {
	select {
	case <-h.stopCh:
		return
	default:
		close(h.stopCh)
	}
	h.workerWG.Wait()

	h.clients.Range(func(_, value interface{}) bool {
		if client, ok := value.(*ChatClient); ok && client != nil {
			client.unregister()
		}
		return true
	})
}

func (h *Hub) startMessageWorkers() {
	if h.workerCount <= 0 {
		h.workerCount = 1
	}

	for idx := 0; idx < h.workerCount; idx++ {
		h.workerWG.Add(1)
		go h.messageWorker()
	}
}

func (h *Hub) messageWorker() {
	defer h.workerWG.Done()

	for {
		select {
		case <-h.stopCh:
			return
		case job := <-h.messageQueue:
			h.processIncomingMessage(job.client, job.raw)
		}
	}
}

func (h *Hub) startHeartbeat() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case now := <-ticker.C:
			h.sweep(now)
		}
	}
}

// sweep evicts connections idle past heartbeatTimeout and pings the rest.
func (h *Hub) sweep(now time.Time) {
	h.clients.Range(func(_, value interface{}) bool {
		client, ok := value.(*ChatClient)
		if !ok || client == nil {
			return true
		}

		lastPong := client.LastPong()
		if !lastPong.IsZero() && now.Sub(lastPong) > heartbeatTimeout {
			h.logger.Info("chat client heartbeat timeout",
				zap.String("conn_id", client.ConnID),
				zap.Duration("idle", now.Sub(lastPong)),
			)
			client.unregister()
			return true
		}

		h.sendFrame(client, OutboundFrame{Type: Ping})
		return true
	})
}

func channelFromTopic(topic string) (string, bool) {
	if !strings.HasPrefix(topic, "chat.") {
		return "", false
	}
	channelID := strings.TrimPrefix(topic, "chat.")
	return channelID, channelID != ""
}
