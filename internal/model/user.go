package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type UserRole string

const (
	UserRoleFree    UserRole = "FREE"
	UserRolePremium UserRole = "PREMIUM"
	UserRoleAdmin   UserRole = "ADMIN"
)

func (r UserRole) Valid() bool {
	switch r {
	case UserRoleFree, UserRolePremium, UserRoleAdmin:
		return true
	default:
		return false
	}
}

func ParseUserRole(raw string) UserRole {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(UserRoleAdmin):
		return UserRoleAdmin
	case string(UserRolePremium):
		return UserRolePremium
	default:
		return UserRoleFree
	}
}

// User is the single representation of an account. It carries the
// capability view used by access checks, so there is no separate principal.
type User struct {
	ID           uuid.UUID   `db:"id" json:"id"`
	Username     string      `db:"username" json:"username"`
	Email        *string     `db:"email" json:"email,omitempty"`
	PasswordHash string      `db:"password_hash" json:"-"`
	Role         UserRole    `db:"role" json:"role"`
	Muted        bool        `db:"muted" json:"muted"`
	Level        int         `db:"level" json:"level"`
	XP           int         `db:"xp" json:"xp"`
	CourseIDs    []uuid.UUID `db:"-" json:"course_ids,omitempty"`
	LastSeenAt   *time.Time  `db:"last_seen_at" json:"last_seen_at,omitempty"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updated_at"`
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == UserRoleAdmin
}

func (u *User) CurrentLevel() int {
	if u == nil || u.Level < MinLevel {
		return MinLevel
	}
	return u.Level
}

func (u *User) HasCourse(courseID uuid.UUID) bool {
	if u == nil || courseID == uuid.Nil {
		return false
	}
	for _, id := range u.CourseIDs {
		if id == courseID {
			return true
		}
	}
	return false
}

// RoleAfterPurchase returns the role a user holds once a course is bought.
// ADMIN is never downgraded.
func RoleAfterPurchase(current UserRole) UserRole {
	if current == UserRoleAdmin {
		return UserRoleAdmin
	}
	return UserRolePremium
}
