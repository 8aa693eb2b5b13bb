package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	MinLevel      = 1
	MaxLevel      = 100
	XPPerLevelMul = 100

	LeaderboardSize    = 10
	MaxLeaderboardSize = 100
)

type UserLevel struct {
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	Level     int       `db:"level" json:"level"`
	XP        int       `db:"xp" json:"xp"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func DefaultLevel(userID uuid.UUID) *UserLevel {
	return &UserLevel{UserID: userID, Level: MinLevel, XP: 0}
}

// LeaderboardEntry is one ranked user: highest level first, then most XP.
type LeaderboardEntry struct {
	UserID   uuid.UUID `db:"user_id" json:"id"`
	Username string    `db:"username" json:"username"`
	Level    int       `db:"level" json:"level"`
	XP       int       `db:"xp" json:"xp"`
}
