package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"community-hub/internal/event"
	"community-hub/internal/model"
	"community-hub/internal/repository"
)

// RequiredXP is the XP needed to advance from level.
func RequiredXP(level int) int {
	return level * model.XPPerLevelMul
}

// ApplyXP adds delta and converts XP into levels until the remainder is below
// the next threshold. At MaxLevel surplus XP is kept but not converted.
func ApplyXP(level, xp, delta int) (int, int) {
	if level < model.MinLevel {
		level = model.MinLevel
	}
	if level > model.MaxLevel {
		level = model.MaxLevel
	}
	xp += delta
	if xp < 0 {
		xp = 0
	}

	for level < model.MaxLevel && xp >= RequiredXP(level) {
		xp -= RequiredXP(level)
		level++
	}
	return level, xp
}

type LevelChange struct {
	Before model.UserLevel `json:"before"`
	After  model.UserLevel `json:"after"`
}

func (c LevelChange) LeveledUp() bool {
	return c.After.Level > c.Before.Level
}

type LevelService struct {
	levelRepo repository.LevelRepository
	eventBus  *event.Bus
	logger    *zap.Logger
}

func NewLevelService(levelRepo repository.LevelRepository, eventBus *event.Bus, logger *zap.Logger) *LevelService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LevelService{
		levelRepo: levelRepo,
		eventBus:  eventBus,
		logger:    logger,
	}
}

// AddXP grants a non-negative amount of XP. Posting and admin grants both
// come through here so the formula is applied in one place.
func (s *LevelService) AddXP(ctx context.Context, userID uuid.UUID, delta int) (*LevelChange, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("add xp: %w: empty user id", ErrInvalidInput)
	}
	if delta < 0 {
		return nil, fmt.Errorf("add xp: %w: negative delta %d", ErrInvalidInput, delta)
	}

	change := &LevelChange{}
	updated, err := s.levelRepo.Update(ctx, userID, func(current model.UserLevel) model.UserLevel {
		change.Before = current
		next := current
		next.Level, next.XP = ApplyXP(current.Level, current.XP, delta)
		return next
	})
	if err != nil {
		return nil, storageError("add xp", err)
	}
	change.After = *updated

	if change.LeveledUp() {
		s.logger.Info("user leveled up",
			zap.String("user_id", userID.String()),
			zap.Int("old_level", change.Before.Level),
			zap.Int("new_level", change.After.Level),
		)
		if s.eventBus != nil {
			s.eventBus.Publish(event.EventUserLevelUp, event.LevelUpPayload{
				UserID:   userID.String(),
				OldLevel: change.Before.Level,
				NewLevel: change.After.Level,
			})
		}
	}

	return change, nil
}

func (s *LevelService) Get(ctx context.Context, userID uuid.UUID) (*model.UserLevel, error) {
	level, err := s.levelRepo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.DefaultLevel(userID), nil
		}
		return nil, storageError("get level", err)
	}
	return level, nil
}

// Leaderboard returns the top ranked users. A limit outside 1..MaxLeaderboardSize
// falls back to LeaderboardSize.
func (s *LevelService) Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	if limit <= 0 || limit > model.MaxLeaderboardSize {
		limit = model.LeaderboardSize
	}
	entries, err := s.levelRepo.Top(ctx, limit)
	if err != nil {
		return nil, storageError("leaderboard", err)
	}
	if entries == nil {
		entries = []model.LeaderboardEntry{}
	}
	return entries, nil
}
