package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"community-hub/internal/model"
)

var ErrNotFound = errors.New("record not found")

var ErrConflict = errors.New("record already exists")

type Pagination struct {
	Limit  int32 `json:"limit"`
	Offset int32 `json:"offset"`
}

type UserListFilter struct {
	Role       *model.UserRole `json:"role,omitempty"`
	Keyword    *string         `json:"keyword,omitempty"`
	Pagination Pagination      `json:"pagination"`
}

type ChannelListFilter struct {
	IncludeHidden bool               `json:"include_hidden"`
	Kinds         []model.PolicyKind `json:"kinds,omitempty"`
}

// UserRepository loads users together with their level row and purchased
// course ids, so a returned *model.User is a complete capability view.
type UserRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	FindByUsername(ctx context.Context, username string) (*model.User, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.User, error)
	Create(ctx context.Context, user *model.User) error
	UpdateRole(ctx context.Context, id uuid.UUID, role model.UserRole) error
	SetMuted(ctx context.Context, id uuid.UUID, muted bool) error
	TouchLastSeen(ctx context.Context, id uuid.UUID, at time.Time) error
	List(ctx context.Context, filter UserListFilter) ([]*model.User, error)
	Count(ctx context.Context, filter UserListFilter) (int64, error)
}

type ChannelRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.Channel, error)
	FindByName(ctx context.Context, name string) (*model.Channel, error)
	FindByCourse(ctx context.Context, courseID uuid.UUID) (*model.Channel, error)
	List(ctx context.Context, filter ChannelListFilter) ([]*model.Channel, error)
	Create(ctx context.Context, channel *model.Channel) error
	Delete(ctx context.Context, id uuid.UUID) error
	Count(ctx context.Context) (int64, error)
}

type MessageRepository interface {
	Create(ctx context.Context, message *model.Message) error
	FindByID(ctx context.Context, id int64) (*model.Message, error)
	// ListByChannel returns rows ordered by created_at, then id.
	ListByChannel(ctx context.Context, channelID uuid.UUID) ([]*model.Message, error)
	UpdateContent(ctx context.Context, id int64, content string, encrypted bool) error
	Delete(ctx context.Context, id int64) error
}

type LevelRepository interface {
	Get(ctx context.Context, userID uuid.UUID) (*model.UserLevel, error)
	// Update runs fn against the locked row (created at level 1 when absent)
	// and stores the result in the same transaction.
	Update(ctx context.Context, userID uuid.UUID, fn func(current model.UserLevel) model.UserLevel) (*model.UserLevel, error)
	// Top ranks users that have a level row by level, then XP, then username.
	Top(ctx context.Context, limit int) ([]model.LeaderboardEntry, error)
}

type CourseRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.Course, error)
	FindBySlug(ctx context.Context, slug string) (*model.Course, error)
	List(ctx context.Context) ([]*model.Course, error)
	Create(ctx context.Context, course *model.Course) error
	RecordPurchase(ctx context.Context, purchase *model.Purchase) error
	CourseIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}
