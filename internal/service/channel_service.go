package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"community-hub/internal/access"
	"community-hub/internal/model"
	"community-hub/internal/repository"
)

type CreateChannelRequest struct {
	Name        string
	AccessLevel string
	MinLevel    *int
	CourseID    *uuid.UUID
	Hidden      bool
	System      bool
}

// ChannelService is the channel directory: listings filtered per user plus
// plain lookups that delegate to storage.
type ChannelService struct {
	channelRepo repository.ChannelRepository
	courseRepo  repository.CourseRepository
	logger      *zap.Logger
}

func NewChannelService(
	channelRepo repository.ChannelRepository,
	courseRepo repository.CourseRepository,
	logger *zap.Logger,
) *ChannelService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChannelService{
		channelRepo: channelRepo,
		courseRepo:  courseRepo,
		logger:      logger,
	}
}

// ListVisible returns every non-hidden channel the user can view.
func (s *ChannelService) ListVisible(ctx context.Context, user *model.User) ([]*model.Channel, error) {
	return s.filter(ctx, user, func(channel *model.Channel) bool {
		return access.CanView(user, channel)
	})
}

// ListFree returns open and readonly channels plus level channels whose
// threshold the user already meets. Course channels never appear here.
func (s *ChannelService) ListFree(ctx context.Context, user *model.User) ([]*model.Channel, error) {
	return s.filter(ctx, user, func(channel *model.Channel) bool {
		if !access.CanView(user, channel) {
			return false
		}
		switch channel.Policy.Kind {
		case model.PolicyOpen, model.PolicyReadOnly:
			return true
		case model.PolicyLevel:
			return user.CurrentLevel() >= channel.Policy.MinLevel
		default:
			return false
		}
	})
}

// ListPremium returns the course channels the user can view.
func (s *ChannelService) ListPremium(ctx context.Context, user *model.User) ([]*model.Channel, error) {
	return s.filter(ctx, user, func(channel *model.Channel) bool {
		return channel.Policy.Kind == model.PolicyCourse && access.CanView(user, channel)
	})
}

func (s *ChannelService) filter(
	ctx context.Context,
	user *model.User,
	keep func(channel *model.Channel) bool,
) ([]*model.Channel, error) {
	if user == nil {
		return nil, ErrAuthentication
	}

	channels, err := s.channelRepo.List(ctx, repository.ChannelListFilter{})
	if err != nil {
		return nil, storageError("list channels", err)
	}

	out := make([]*model.Channel, 0, len(channels))
	for _, channel := range channels {
		if channel == nil || channel.Hidden {
			continue
		}
		if keep(channel) {
			out = append(out, channel)
		}
	}
	return out, nil
}

// GetByID resolves a channel regardless of its hidden flag.
func (s *ChannelService) GetByID(ctx context.Context, id uuid.UUID) (*model.Channel, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("get channel: %w: empty id", ErrInvalidInput)
	}
	channel, err := s.channelRepo.FindByID(ctx, id)
	if err != nil {
		return nil, storageError("get channel", err)
	}
	return channel, nil
}

func (s *ChannelService) GetByCourse(ctx context.Context, courseID uuid.UUID) (*model.Channel, error) {
	channel, err := s.channelRepo.FindByCourse(ctx, courseID)
	if err != nil {
		return nil, storageError("get course channel", err)
	}
	return channel, nil
}

func (s *ChannelService) Create(ctx context.Context, req CreateChannelRequest) (*model.Channel, error) {
	name := model.NormalizeChannelName(req.Name)
	if name == "" {
		return nil, fmt.Errorf("create channel: %w: name is required", ErrInvalidInput)
	}

	policy := model.ParsePolicy(req.AccessLevel, req.MinLevel, req.CourseID)
	switch policy.Kind {
	case model.PolicyUnknown:
		return nil, fmt.Errorf("create channel: %w: unknown access level %q", ErrInvalidInput, strings.TrimSpace(req.AccessLevel))
	case model.PolicyCourse:
		if policy.CourseID == nil {
			return nil, fmt.Errorf("create channel: %w: course channel needs a course id", ErrInvalidInput)
		}
		if s.courseRepo != nil {
			if _, err := s.courseRepo.FindByID(ctx, *policy.CourseID); err != nil {
				return nil, storageError("create channel: find course", err)
			}
		}
	}

	channel := &model.Channel{
		Name:   name,
		Policy: policy,
		Hidden: req.Hidden,
		System: req.System,
	}
	if err := s.channelRepo.Create(ctx, channel); err != nil {
		return nil, storageError("create channel", err)
	}

	s.logger.Info("channel created",
		zap.String("channel_id", channel.ID.String()),
		zap.String("name", channel.Name),
		zap.String("policy", string(channel.Policy.Kind)),
	)
	return channel, nil
}

// Delete removes a channel and its history. System channels are kept.
func (s *ChannelService) Delete(ctx context.Context, id uuid.UUID) error {
	channel, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if channel.System {
		return fmt.Errorf("delete channel: %w: system channel", ErrPermission)
	}
	if err := s.channelRepo.Delete(ctx, id); err != nil {
		return storageError("delete channel", err)
	}
	return nil
}

func (s *ChannelService) Count(ctx context.Context) (int64, error) {
	total, err := s.channelRepo.Count(ctx)
	if err != nil {
		return 0, storageError("count channels", err)
	}
	return total, nil
}
