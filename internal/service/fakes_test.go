package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"community-hub/internal/model"
	"community-hub/internal/repository"
)

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*model.User
	err   error
}

func newFakeUserRepo(users ...*model.User) *fakeUserRepo {
	repo := &fakeUserRepo{users: make(map[uuid.UUID]*model.User)}
	for _, user := range users {
		copied := *user
		repo.users[user.ID] = &copied
	}
	return repo
}

func (r *fakeUserRepo) FindByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	user, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (r *fakeUserRepo) FindByUsername(_ context.Context, username string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Username == username {
			copied := *user
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeUserRepo) FindByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	out := make(map[uuid.UUID]*model.User, len(ids))
	for _, id := range ids {
		if user, ok := r.users[id]; ok {
			copied := *user
			out[id] = &copied
		}
	}
	return out, nil
}

func (r *fakeUserRepo) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	copied := *user
	r.users[user.ID] = &copied
	return nil
}

func (r *fakeUserRepo) UpdateRole(_ context.Context, id uuid.UUID, role model.UserRole) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.Role = role
	return nil
}

func (r *fakeUserRepo) SetMuted(_ context.Context, id uuid.UUID, muted bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.Muted = muted
	return nil
}

func (r *fakeUserRepo) TouchLastSeen(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.LastSeenAt = &at
	return nil
}

func (r *fakeUserRepo) List(context.Context, repository.UserListFilter) ([]*model.User, error) {
	return nil, nil
}

func (r *fakeUserRepo) Count(context.Context, repository.UserListFilter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.users)), nil
}

// setLevel keeps the user row in step with fakeLevelRepo, the way the
// postgres join does.
func (r *fakeUserRepo) setLevel(id uuid.UUID, level model.UserLevel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user, ok := r.users[id]; ok {
		user.Level = level.Level
		user.XP = level.XP
	}
}

func (r *fakeUserRepo) addCourse(id, courseID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user, ok := r.users[id]; ok {
		for _, existing := range user.CourseIDs {
			if existing == courseID {
				return
			}
		}
		user.CourseIDs = append(user.CourseIDs, courseID)
	}
}

type fakeLevelRepo struct {
	mu     sync.Mutex
	levels map[uuid.UUID]model.UserLevel
	users  *fakeUserRepo
	err    error
}

func newFakeLevelRepo(users *fakeUserRepo) *fakeLevelRepo {
	return &fakeLevelRepo{levels: make(map[uuid.UUID]model.UserLevel), users: users}
}

func (r *fakeLevelRepo) Get(_ context.Context, userID uuid.UUID) (*model.UserLevel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	level, ok := r.levels[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &level, nil
}

func (r *fakeLevelRepo) Update(
	_ context.Context,
	userID uuid.UUID,
	fn func(current model.UserLevel) model.UserLevel,
) (*model.UserLevel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	current, ok := r.levels[userID]
	if !ok {
		current = *model.DefaultLevel(userID)
	}
	next := fn(current)
	next.UserID = userID
	r.levels[userID] = next
	if r.users != nil {
		r.users.setLevel(userID, next)
	}
	return &next, nil
}

func (r *fakeLevelRepo) Top(_ context.Context, limit int) ([]model.LeaderboardEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}

	entries := make([]model.LeaderboardEntry, 0, len(r.levels))
	for userID, level := range r.levels {
		entry := model.LeaderboardEntry{UserID: userID, Level: level.Level, XP: level.XP}
		if r.users != nil {
			if user, err := r.users.FindByID(context.Background(), userID); err == nil {
				entry.Username = user.Username
			}
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Level != entries[j].Level {
			return entries[i].Level > entries[j].Level
		}
		if entries[i].XP != entries[j].XP {
			return entries[i].XP > entries[j].XP
		}
		return entries[i].Username < entries[j].Username
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

type fakeMessageRepo struct {
	mu        sync.Mutex
	nextID    int64
	messages  map[int64]*model.Message
	createErr error
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{messages: make(map[int64]*model.Message)}
}

func (r *fakeMessageRepo) Create(_ context.Context, message *model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.nextID++
	message.ID = r.nextID
	copied := *message
	r.messages[message.ID] = &copied
	return nil
}

func (r *fakeMessageRepo) FindByID(_ context.Context, id int64) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	message, ok := r.messages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *message
	return &copied, nil
}

// ListByChannel returns rows in insertion-map order; callers must sort.
func (r *fakeMessageRepo) ListByChannel(_ context.Context, channelID uuid.UUID) ([]*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Message, 0, len(r.messages))
	for _, message := range r.messages {
		if message.ChannelID == channelID {
			copied := *message
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *fakeMessageRepo) UpdateContent(_ context.Context, id int64, content string, encrypted bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	message, ok := r.messages[id]
	if !ok {
		return repository.ErrNotFound
	}
	message.Content = content
	message.Encrypted = encrypted
	return nil
}

func (r *fakeMessageRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.messages[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.messages, id)
	return nil
}

func (r *fakeMessageRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func (r *fakeMessageRepo) put(message model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := message
	r.messages[message.ID] = &copied
	if message.ID > r.nextID {
		r.nextID = message.ID
	}
}

type fakeChannelRepo struct {
	mu       sync.Mutex
	channels []*model.Channel
}

func (r *fakeChannelRepo) FindByID(_ context.Context, id uuid.UUID) (*model.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, channel := range r.channels {
		if channel.ID == id {
			return channel, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeChannelRepo) FindByName(_ context.Context, name string) (*model.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, channel := range r.channels {
		if channel.Name == name {
			return channel, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeChannelRepo) FindByCourse(_ context.Context, courseID uuid.UUID) (*model.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, channel := range r.channels {
		if channel.Policy.CourseID != nil && *channel.Policy.CourseID == courseID {
			return channel, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeChannelRepo) List(_ context.Context, filter repository.ChannelListFilter) ([]*model.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Channel, 0, len(r.channels))
	for _, channel := range r.channels {
		if channel.Hidden && !filter.IncludeHidden {
			continue
		}
		out = append(out, channel)
	}
	return out, nil
}

func (r *fakeChannelRepo) Create(_ context.Context, channel *model.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.channels {
		if existing.Name == channel.Name {
			return repository.ErrConflict
		}
	}
	if channel.ID == uuid.Nil {
		channel.ID = uuid.New()
	}
	r.channels = append(r.channels, channel)
	return nil
}

func (r *fakeChannelRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for idx, channel := range r.channels {
		if channel.ID == id {
			r.channels = append(r.channels[:idx], r.channels[idx+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *fakeChannelRepo) Count(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.channels)), nil
}

type fakeCourseRepo struct {
	mu        sync.Mutex
	courses   map[uuid.UUID]*model.Course
	purchases []model.Purchase
	users     *fakeUserRepo
}

func newFakeCourseRepo(users *fakeUserRepo, courses ...*model.Course) *fakeCourseRepo {
	repo := &fakeCourseRepo{courses: make(map[uuid.UUID]*model.Course), users: users}
	for _, course := range courses {
		repo.courses[course.ID] = course
	}
	return repo
}

func (r *fakeCourseRepo) FindByID(_ context.Context, id uuid.UUID) (*model.Course, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	course, ok := r.courses[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return course, nil
}

func (r *fakeCourseRepo) FindBySlug(_ context.Context, slug string) (*model.Course, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, course := range r.courses {
		if course.Slug == slug {
			return course, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeCourseRepo) List(context.Context) ([]*model.Course, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Course, 0, len(r.courses))
	for _, course := range r.courses {
		out = append(out, course)
	}
	return out, nil
}

func (r *fakeCourseRepo) Create(_ context.Context, course *model.Course) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if course.ID == uuid.Nil {
		course.ID = uuid.New()
	}
	r.courses[course.ID] = course
	return nil
}

func (r *fakeCourseRepo) RecordPurchase(_ context.Context, purchase *model.Purchase) error {
	r.mu.Lock()
	r.purchases = append(r.purchases, *purchase)
	r.mu.Unlock()
	if r.users != nil {
		r.users.addCourse(purchase.UserID, purchase.CourseID)
	}
	return nil
}

func (r *fakeCourseRepo) CourseIDsForUser(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uuid.UUID, 0, len(r.purchases))
	for _, purchase := range r.purchases {
		if purchase.UserID == userID {
			out = append(out, purchase.CourseID)
		}
	}
	return out, nil
}

var (
	_ repository.UserRepository    = (*fakeUserRepo)(nil)
	_ repository.LevelRepository   = (*fakeLevelRepo)(nil)
	_ repository.MessageRepository = (*fakeMessageRepo)(nil)
	_ repository.ChannelRepository = (*fakeChannelRepo)(nil)
	_ repository.CourseRepository  = (*fakeCourseRepo)(nil)
)
