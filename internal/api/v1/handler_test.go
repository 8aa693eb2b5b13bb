package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"community-hub/internal/api/middleware"
	"community-hub/internal/hub"
	"community-hub/internal/model"
	"community-hub/internal/service"
)

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type fakeVerifier struct {
	identities map[string]*service.Identity
}

func (v *fakeVerifier) Verify(token string) (*service.Identity, error) {
	identity, ok := v.identities[token]
	if !ok {
		return nil, fmt.Errorf("%w: unknown token", service.ErrAuthentication)
	}
	return identity, nil
}

type fakeUsers struct {
	mu    sync.Mutex
	users map[uuid.UUID]*model.User
	total int64
	muted map[uuid.UUID]bool
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return nil, fmt.Errorf("get user: %w", service.ErrNotFound)
	}
	return user, nil
}

func (f *fakeUsers) CountAll(context.Context) (int64, error) {
	return f.total, nil
}

func (f *fakeUsers) SetMuted(_ context.Context, id uuid.UUID, muted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		return fmt.Errorf("set muted: %w", service.ErrNotFound)
	}
	f.muted[id] = muted
	return nil
}

func (f *fakeUsers) SetRole(_ context.Context, id uuid.UUID, role model.UserRole) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return fmt.Errorf("set role: %w", service.ErrNotFound)
	}
	user.Role = role
	return nil
}

func (f *fakeUsers) TouchLastSeen(context.Context, uuid.UUID) error {
	return nil
}

type fakeDirectory struct {
	channels map[uuid.UUID]*model.Channel
	listed   []*model.Channel
	free     []*model.Channel
	premium  []*model.Channel
}

func (f *fakeDirectory) ListVisible(context.Context, *model.User) ([]*model.Channel, error) {
	return f.listed, nil
}

func (f *fakeDirectory) ListFree(context.Context, *model.User) ([]*model.Channel, error) {
	return f.free, nil
}

func (f *fakeDirectory) ListPremium(context.Context, *model.User) ([]*model.Channel, error) {
	return f.premium, nil
}

func (f *fakeDirectory) GetByID(_ context.Context, id uuid.UUID) (*model.Channel, error) {
	channel, ok := f.channels[id]
	if !ok {
		return nil, fmt.Errorf("get channel: %w", service.ErrNotFound)
	}
	return channel, nil
}

type fakeMessages struct {
	history  map[uuid.UUID][]model.MessageView
	owners   map[int64]uuid.UUID
	channels map[int64]uuid.UUID
	edited   map[int64]string
	deleted  map[int64]bool
	editErr  error
	listErr  error
	listedAt []uuid.UUID
}

func (f *fakeMessages) ListOrdered(_ context.Context, channel *model.Channel) ([]model.MessageView, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.listedAt = append(f.listedAt, channel.ID)
	return f.history[channel.ID], nil
}

func (f *fakeMessages) allowed(channelID uuid.UUID, messageID int64, requester *model.User) bool {
	if home, ok := f.channels[messageID]; ok && channelID != uuid.Nil && home != channelID {
		return false
	}
	owner, ok := f.owners[messageID]
	return ok && (owner == requester.ID || requester.IsAdmin())
}

func (f *fakeMessages) Edit(
	_ context.Context,
	channelID uuid.UUID,
	messageID int64,
	content string,
	requester *model.User,
) (bool, error) {
	if f.editErr != nil {
		return false, f.editErr
	}
	if !f.allowed(channelID, messageID, requester) {
		return false, nil
	}
	f.edited[messageID] = content
	return true, nil
}

func (f *fakeMessages) Delete(_ context.Context, channelID uuid.UUID, messageID int64, requester *model.User) (bool, error) {
	if !f.allowed(channelID, messageID, requester) {
		return false, nil
	}
	f.deleted[messageID] = true
	return true, nil
}

func (f *fakeMessages) Remove(_ context.Context, messageID int64, requester *model.User) (bool, error) {
	if _, ok := f.owners[messageID]; !ok || !requester.IsAdmin() {
		return false, nil
	}
	f.deleted[messageID] = true
	return true, nil
}

type fakePresence struct {
	online []uuid.UUID
}

func (f *fakePresence) AllOnline() []uuid.UUID { return f.online }
func (f *fakePresence) Count() int             { return len(f.online) }

type fakeLevels struct {
	granted map[uuid.UUID]int
}

func (f *fakeLevels) AddXP(_ context.Context, userID uuid.UUID, delta int) (*service.LevelChange, error) {
	before := f.granted[userID]
	f.granted[userID] += delta
	level, xp := service.ApplyXP(model.MinLevel, 0, f.granted[userID])
	beforeLevel, beforeXP := service.ApplyXP(model.MinLevel, 0, before)
	return &service.LevelChange{
		Before: model.UserLevel{UserID: userID, Level: beforeLevel, XP: beforeXP},
		After:  model.UserLevel{UserID: userID, Level: level, XP: xp},
	}, nil
}

type fakeLeaderboard struct {
	entries []model.LeaderboardEntry
	limits  []int
}

func (f *fakeLeaderboard) Leaderboard(_ context.Context, limit int) ([]model.LeaderboardEntry, error) {
	f.limits = append(f.limits, limit)
	if len(f.entries) > limit {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

type postedEvent struct {
	userID    uuid.UUID
	channelID string
	event     hub.ChatEvent
}

// fakePoster accepts every post unless err is set.
type fakePoster struct {
	posted []postedEvent
	err    error
}

func (f *fakePoster) HandlePostedEvent(_ context.Context, userID uuid.UUID, channelID string, event hub.ChatEvent) hub.Outcome {
	f.posted = append(f.posted, postedEvent{userID: userID, channelID: channelID, event: event})
	if f.err != nil {
		return hub.Outcome{State: hub.StateFailed, FailedAt: hub.StateAuthenticated, Err: f.err}
	}
	return hub.Outcome{
		State: hub.StateBroadcast,
		Message: &model.MessageView{
			ID:        int64(len(f.posted)),
			ChannelID: uuid.MustParse(channelID),
			SenderID:  userID,
			Content:   event.Content,
			ReplyTo:   event.ReplyTo,
		},
	}
}

type fakeChannelAdmin struct {
	created []service.CreateChannelRequest
	deleted []uuid.UUID
	system  map[uuid.UUID]bool
}

func (f *fakeChannelAdmin) Create(_ context.Context, req service.CreateChannelRequest) (*model.Channel, error) {
	f.created = append(f.created, req)
	policy := model.ParsePolicy(req.AccessLevel, req.MinLevel, req.CourseID)
	return &model.Channel{ID: uuid.New(), Name: req.Name, Policy: policy, Hidden: req.Hidden}, nil
}

func (f *fakeChannelAdmin) Delete(_ context.Context, id uuid.UUID) error {
	if f.system[id] {
		return fmt.Errorf("delete channel: %w: system channel", service.ErrPermission)
	}
	f.deleted = append(f.deleted, id)
	return nil
}

type apiFixture struct {
	router   *gin.Engine
	verifier *fakeVerifier
	users    *fakeUsers
	dir      *fakeDirectory
	messages *fakeMessages
	presence *fakePresence
	levels   *fakeLevels
	board    *fakeLeaderboard
	poster   *fakePoster
	admin    *fakeChannelAdmin
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &apiFixture{
		verifier: &fakeVerifier{identities: make(map[string]*service.Identity)},
		users:    &fakeUsers{users: make(map[uuid.UUID]*model.User), muted: make(map[uuid.UUID]bool)},
		dir:      &fakeDirectory{channels: make(map[uuid.UUID]*model.Channel)},
		messages: &fakeMessages{
			history: make(map[uuid.UUID][]model.MessageView),
			owners:   make(map[int64]uuid.UUID),
			channels: make(map[int64]uuid.UUID),
			edited:   make(map[int64]string),
			deleted:  make(map[int64]bool),
		},
		presence: &fakePresence{},
		levels:   &fakeLevels{granted: make(map[uuid.UUID]int)},
		board:    &fakeLeaderboard{},
		poster:   &fakePoster{},
		admin:    &fakeChannelAdmin{system: make(map[uuid.UUID]bool)},
	}

	router := gin.New()
	auth := middleware.JWTAuth(f.verifier)
	group := router.Group("/api/v1")
	community := NewCommunityHandler(f.dir, f.messages, f.users, f.presence, f.board, f.poster)
	RegisterCommunityRoutes(group, community, auth)
	RegisterAdminRoutes(group, NewAdminHandler(f.levels, f.users, f.admin, f.messages, nil), auth)
	RegisterWSRoutes(router, NewWSHandler(nil, f.verifier, nil, nil), nil)
	f.router = router
	return f
}

// addUser registers a user and returns a bearer token for it.
func (f *apiFixture) addUser(name string, role model.UserRole, level int) (*model.User, string) {
	user := &model.User{ID: uuid.New(), Username: name, Role: role, Level: level}
	f.users.users[user.ID] = user
	token := "token-" + name
	f.verifier.identities[token] = &service.Identity{UserID: user.ID, Role: role}
	return user, token
}

func (f *apiFixture) addChannel(name string, policy model.AccessPolicy, hidden bool) *model.Channel {
	channel := &model.Channel{ID: uuid.New(), Name: name, Policy: policy, Hidden: hidden}
	f.dir.channels[channel.ID] = channel
	return channel
}

func (f *apiFixture) do(t *testing.T, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body []byte
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = raw
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)
	return resp
}

func decodeAPIResponse(t *testing.T, raw []byte) apiResponse {
	t.Helper()

	var resp apiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
	return resp
}

func messageView(id int64, channelID, senderID uuid.UUID, content string) model.MessageView {
	return model.MessageView{
		ID:        id,
		ChannelID: channelID,
		SenderID:  senderID,
		Content:   content,
		Timestamp: time.Unix(1700000000+id, 0).UTC(),
	}
}
