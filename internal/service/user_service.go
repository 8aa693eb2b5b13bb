package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"community-hub/internal/event"
	"community-hub/internal/model"
	"community-hub/internal/repository"
)

type UserService struct {
	userRepo   repository.UserRepository
	courseRepo repository.CourseRepository
	eventBus   *event.Bus
	logger     *zap.Logger
}

func NewUserService(
	userRepo repository.UserRepository,
	courseRepo repository.CourseRepository,
	eventBus *event.Bus,
	logger *zap.Logger,
) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{
		userRepo:   userRepo,
		courseRepo: courseRepo,
		eventBus:   eventBus,
		logger:     logger,
	}
}

func (s *UserService) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("get user: %w: empty id", ErrInvalidInput)
	}
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, storageError("get user", err)
	}
	return user, nil
}

// RecordPurchase links a course to the user and applies the role promotion.
// Buying the same course twice is a no-op.
func (s *UserService) RecordPurchase(ctx context.Context, userID, courseID uuid.UUID, externalRef string) (*model.User, error) {
	user, err := s.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	course, err := s.courseRepo.FindByID(ctx, courseID)
	if err != nil {
		return nil, storageError("record purchase: find course", err)
	}

	purchase := &model.Purchase{
		UserID:      user.ID,
		CourseID:    course.ID,
		PurchasedAt: time.Now().UTC(),
	}
	if ref := strings.TrimSpace(externalRef); ref != "" {
		purchase.ExternalRef = &ref
	}
	if err := s.courseRepo.RecordPurchase(ctx, purchase); err != nil {
		return nil, storageError("record purchase", err)
	}

	role := model.RoleAfterPurchase(user.Role)
	if role != user.Role {
		if err := s.userRepo.UpdateRole(ctx, user.ID, role); err != nil {
			return nil, storageError("record purchase: update role", err)
		}
		s.logger.Info("user role promoted after purchase",
			zap.String("user_id", user.ID.String()),
			zap.String("from", string(user.Role)),
			zap.String("to", string(role)),
		)
	}

	if s.eventBus != nil {
		s.eventBus.Publish(event.EventCoursePurchased, event.CoursePurchasedPayload{
			UserID:   user.ID.String(),
			CourseID: course.ID.String(),
			Role:     string(role),
		})
	}

	return s.GetByID(ctx, user.ID)
}

// SetRole is the admin override of a user's role. Unlike a purchase it may
// also demote.
func (s *UserService) SetRole(ctx context.Context, id uuid.UUID, role model.UserRole) error {
	if id == uuid.Nil {
		return fmt.Errorf("set role: %w: empty id", ErrInvalidInput)
	}
	if !role.Valid() {
		return fmt.Errorf("set role: %w: unknown role %q", ErrInvalidInput, role)
	}
	if err := s.userRepo.UpdateRole(ctx, id, role); err != nil {
		return storageError("set role", err)
	}
	s.logger.Info("user role changed", zap.String("user_id", id.String()), zap.String("role", string(role)))
	return nil
}

func (s *UserService) SetMuted(ctx context.Context, id uuid.UUID, muted bool) error {
	if err := s.userRepo.SetMuted(ctx, id, muted); err != nil {
		return storageError("set muted", err)
	}
	s.logger.Info("user mute changed", zap.String("user_id", id.String()), zap.Bool("muted", muted))
	return nil
}

func (s *UserService) TouchLastSeen(ctx context.Context, id uuid.UUID) error {
	if err := s.userRepo.TouchLastSeen(ctx, id, time.Now().UTC()); err != nil {
		return storageError("touch last seen", err)
	}
	return nil
}

func (s *UserService) CountAll(ctx context.Context) (int64, error) {
	total, err := s.userRepo.Count(ctx, repository.UserListFilter{})
	if err != nil {
		return 0, storageError("count users", err)
	}
	return total, nil
}

// OfflineCount derives offline users from the total and the online count.
func OfflineCount(total int64, online int) int64 {
	offline := total - int64(online)
	if offline < 0 {
		return 0
	}
	return offline
}
