package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type PolicyKind string

const (
	PolicyOpen      PolicyKind = "open"
	PolicyReadOnly  PolicyKind = "readonly"
	PolicyAdminOnly PolicyKind = "admin-only"
	PolicyLevel     PolicyKind = "level"
	PolicyCourse    PolicyKind = "course"
	PolicyUnknown   PolicyKind = "unknown"
)

// AccessPolicy is decided once when a channel is loaded. MinLevel is only
// meaningful for PolicyLevel and CourseID only for PolicyCourse.
type AccessPolicy struct {
	Kind     PolicyKind `json:"kind"`
	MinLevel int        `json:"min_level,omitempty"`
	CourseID *uuid.UUID `json:"course_id,omitempty"`
}

func ParsePolicy(raw string, minLevel *int, courseID *uuid.UUID) AccessPolicy {
	kind := PolicyKind(strings.ToLower(strings.TrimSpace(raw)))
	switch kind {
	case PolicyOpen, PolicyReadOnly, PolicyAdminOnly:
		return AccessPolicy{Kind: kind}
	case PolicyLevel:
		level := 0
		if minLevel != nil && *minLevel > 0 {
			level = *minLevel
		}
		return AccessPolicy{Kind: kind, MinLevel: level}
	case PolicyCourse:
		if courseID == nil || *courseID == uuid.Nil {
			return AccessPolicy{Kind: kind}
		}
		id := *courseID
		return AccessPolicy{Kind: kind, CourseID: &id}
	default:
		return AccessPolicy{Kind: PolicyUnknown}
	}
}

func OpenPolicy() AccessPolicy     { return AccessPolicy{Kind: PolicyOpen} }
func ReadOnlyPolicy() AccessPolicy { return AccessPolicy{Kind: PolicyReadOnly} }
func AdminOnlyPolicy() AccessPolicy {
	return AccessPolicy{Kind: PolicyAdminOnly}
}

func LevelPolicy(minLevel int) AccessPolicy {
	if minLevel < 0 {
		minLevel = 0
	}
	return AccessPolicy{Kind: PolicyLevel, MinLevel: minLevel}
}

func CoursePolicy(courseID uuid.UUID) AccessPolicy {
	return AccessPolicy{Kind: PolicyCourse, CourseID: &courseID}
}

// Storage columns for a policy: access_level, min_level, course_id.
func (p AccessPolicy) Columns() (string, *int, *uuid.UUID) {
	switch p.Kind {
	case PolicyLevel:
		level := p.MinLevel
		return string(p.Kind), &level, nil
	case PolicyCourse:
		return string(p.Kind), nil, p.CourseID
	default:
		return string(p.Kind), nil, nil
	}
}

type Channel struct {
	ID        uuid.UUID    `db:"id" json:"id"`
	Name      string       `db:"name" json:"name"`
	Policy    AccessPolicy `db:"-" json:"policy"`
	Hidden    bool         `db:"hidden" json:"hidden"`
	System    bool         `db:"system_channel" json:"system"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
}

func NormalizeChannelName(name string) string {
	return strings.TrimSpace(name)
}

// Topic is the fan-out destination for messages posted to the channel.
func (c *Channel) Topic() string {
	return ChannelTopic(c.ID.String())
}

func ChannelTopic(channelID string) string {
	return "chat." + strings.TrimSpace(channelID)
}

func UserErrorTopic(userID string) string {
	return "user." + strings.TrimSpace(userID) + ".errors"
}

const PresenceTopic = "presence.online"
