package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"community-hub/internal/model"
	"community-hub/internal/presence"
	"community-hub/internal/service"
	"community-hub/pkg/crypto"
)

const testCodecKey = "0123456789abcdef0123456789abcdef"

type fakeUsers struct {
	mu      sync.Mutex
	users   map[uuid.UUID]*model.User
	touched map[uuid.UUID]int
	err     error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{
		users:   make(map[uuid.UUID]*model.User),
		touched: make(map[uuid.UUID]int),
	}
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	user, ok := f.users[id]
	if !ok {
		return nil, fmt.Errorf("get user: %w", service.ErrNotFound)
	}
	copied := *user
	return &copied, nil
}

func (f *fakeUsers) TouchLastSeen(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched[id]++
	return nil
}

func (f *fakeUsers) touchCount(id uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.touched[id]
}

type fakeChannels struct {
	mu       sync.Mutex
	channels map[uuid.UUID]*model.Channel
}

func (f *fakeChannels) GetByID(_ context.Context, id uuid.UUID) (*model.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	channel, ok := f.channels[id]
	if !ok {
		return nil, fmt.Errorf("get channel: %w", service.ErrNotFound)
	}
	return channel, nil
}

type appendCall struct {
	channelID uuid.UUID
	senderID  uuid.UUID
	content   string
	replyTo   *int64
}

type fakeStore struct {
	mu     sync.Mutex
	calls  []appendCall
	nextID int64
	err    error
}

func (f *fakeStore) Append(
	_ context.Context,
	sender *model.User,
	channel *model.Channel,
	content string,
	replyTo *int64,
) (*model.MessageView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if sender.Muted {
		return nil, fmt.Errorf("post: %w: sender is muted", service.ErrPermission)
	}

	f.nextID++
	f.calls = append(f.calls, appendCall{
		channelID: channel.ID,
		senderID:  sender.ID,
		content:   content,
		replyTo:   replyTo,
	})
	return &model.MessageView{
		ID:          f.nextID,
		ChannelID:   channel.ID,
		SenderID:    sender.ID,
		SenderName:  sender.Username,
		SenderRole:  sender.Role,
		SenderLevel: sender.CurrentLevel() + 1,
		Content:     content,
		ReplyTo:     replyTo,
		Timestamp:   time.Now().UTC(),
	}, nil
}

func (f *fakeStore) appended() []appendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]appendCall(nil), f.calls...)
}

type hubFixture struct {
	hub      *Hub
	broker   *Broker
	tracker  *presence.Tracker
	users    *fakeUsers
	channels *fakeChannels
	store    *fakeStore
	codec    *crypto.Codec
	pipeline *ChatPipeline
}

func newHubFixture(t *testing.T, encrypted bool) *hubFixture {
	t.Helper()

	codec, err := crypto.NewCodec(testCodecKey, encrypted)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	broker := NewBroker(nil)
	tracker := presence.NewTracker(broker, nil, nil)
	users := newFakeUsers()
	channels := &fakeChannels{channels: make(map[uuid.UUID]*model.Channel)}
	store := &fakeStore{}
	pipeline := NewChatPipeline(users, channels, store, codec, broker, nil)

	h := NewHub(Deps{
		Broker:   broker,
		Presence: tracker,
		Users:    users,
		Channels: channels,
		Pipeline: pipeline,
		Codec:    codec,
	}, nil)
	t.Cleanup(h.Close)

	return &hubFixture{
		hub:      h,
		broker:   broker,
		tracker:  tracker,
		users:    users,
		channels: channels,
		store:    store,
		codec:    codec,
		pipeline: pipeline,
	}
}

func (f *hubFixture) addUser(name string, role model.UserRole, level int) *model.User {
	user := &model.User{
		ID:       uuid.New(),
		Username: name,
		Role:     role,
		Level:    level,
	}
	f.users.mu.Lock()
	f.users.users[user.ID] = user
	f.users.mu.Unlock()
	return user
}

func (f *hubFixture) addChannel(name string, policy model.AccessPolicy) *model.Channel {
	channel := &model.Channel{
		ID:     uuid.New(),
		Name:   name,
		Policy: policy,
	}
	f.channels.mu.Lock()
	f.channels.channels[channel.ID] = channel
	f.channels.mu.Unlock()
	return channel
}

func (f *hubFixture) chatFrame(t *testing.T, kind MsgType, id, channelID string, event ChatEvent) InboundFrame {
	t.Helper()
	payload, err := encodePayload(f.codec, event)
	if err != nil {
		t.Fatalf("encode chat event: %v", err)
	}
	return InboundFrame{Type: kind, ID: id, ChannelID: channelID, Payload: payload}
}

func (f *hubFixture) connect(userID uuid.UUID) *ChatClient {
	client := NewChatClient(userID, nil, f.hub)
	f.hub.Register(client)
	return client
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

// readFrame returns the first buffered frame of type want, discarding others.
func readFrame(t *testing.T, client *ChatClient, want MsgType) OutboundFrame {
	t.Helper()

	deadline := time.After(time.Second)
	for {
		select {
		case raw := <-client.Send:
			var frame OutboundFrame
			if err := json.Unmarshal(raw, &frame); err != nil {
				t.Fatalf("decode outbound frame: %v", err)
			}
			if frame.Type == want {
				return frame
			}
		case <-deadline:
			t.Fatalf("no %s frame received", want)
			return OutboundFrame{}
		}
	}
}

// assertNoFrame drains the buffer and fails if a frame of type unwanted is in it.
func assertNoFrame(t *testing.T, client *ChatClient, unwanted MsgType) {
	t.Helper()

	for {
		select {
		case raw := <-client.Send:
			var frame OutboundFrame
			if err := json.Unmarshal(raw, &frame); err != nil {
				t.Fatalf("decode outbound frame: %v", err)
			}
			if frame.Type == unwanted {
				t.Fatalf("unexpected %s frame: %s", unwanted, string(raw))
			}
		default:
			return
		}
	}
}

func decodeNotice(t *testing.T, frame OutboundFrame) ErrorNotice {
	t.Helper()
	var notice ErrorNotice
	if err := json.Unmarshal(frame.Payload, &notice); err != nil {
		t.Fatalf("decode notice: %v", err)
	}
	return notice
}
