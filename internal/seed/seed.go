package seed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"community-hub/internal/model"
	"community-hub/internal/repository"
)

type ChannelStore interface {
	Count(ctx context.Context) (int64, error)
	Create(ctx context.Context, channel *model.Channel) error
}

type CourseStore interface {
	FindBySlug(ctx context.Context, slug string) (*model.Course, error)
	Create(ctx context.Context, course *model.Course) error
}

// File is the layout of channels.yaml.
type File struct {
	Courses  []CourseSeed  `yaml:"courses"`
	Channels []ChannelSeed `yaml:"channels"`
}

type CourseSeed struct {
	Slug       string `yaml:"slug"`
	Title      string `yaml:"title"`
	PriceCents int64  `yaml:"price_cents"`
}

// ChannelSeed describes one default channel. Course names a course slug and
// is only read for the course policy.
type ChannelSeed struct {
	Name     string `yaml:"name"`
	Access   string `yaml:"access"`
	MinLevel int    `yaml:"min_level"`
	Course   string `yaml:"course"`
	Hidden   bool   `yaml:"hidden"`
	System   bool   `yaml:"system"`
}

type Result struct {
	Courses  int
	Channels int
	Skipped  []string
}

func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*File, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Channels))
	for i, ch := range file.Channels {
		name := model.NormalizeChannelName(ch.Name)
		if name == "" {
			return nil, fmt.Errorf("seed channel #%d: name is required", i+1)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("seed channel %q: duplicate name", name)
		}
		seen[name] = struct{}{}

		minLevel := ch.MinLevel
		if model.ParsePolicy(ch.Access, &minLevel, nil).Kind == model.PolicyUnknown {
			return nil, fmt.Errorf("seed channel %q: unknown access %q", name, ch.Access)
		}
		file.Channels[i].Name = name
	}
	return &file, nil
}

type Seeder struct {
	channels ChannelStore
	courses  CourseStore
	logger   *zap.Logger
}

func NewSeeder(channels ChannelStore, courses CourseStore, logger *zap.Logger) *Seeder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{channels: channels, courses: courses, logger: logger}
}

// Apply creates the seeded courses and channels when the channel directory is
// empty. A populated directory is left untouched.
func (s *Seeder) Apply(ctx context.Context, file *File) (*Result, error) {
	result := &Result{}
	if file == nil {
		return result, nil
	}

	total, err := s.channels.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count channels: %w", err)
	}
	if total > 0 {
		s.logger.Debug("channel directory already populated, skipping seed", zap.Int64("channels", total))
		return result, nil
	}

	courseIDs := make(map[string]uuid.UUID, len(file.Courses))
	for _, c := range file.Courses {
		course, created, err := s.ensureCourse(ctx, c)
		if err != nil {
			return nil, err
		}
		if created {
			result.Courses++
		}
		courseIDs[course.Slug] = course.ID
	}

	for _, ch := range file.Channels {
		channel, err := s.buildChannel(ctx, ch, courseIDs)
		if err != nil {
			return nil, err
		}
		if channel == nil {
			result.Skipped = append(result.Skipped, ch.Name)
			continue
		}
		if err := s.channels.Create(ctx, channel); err != nil {
			return nil, fmt.Errorf("create channel %q: %w", channel.Name, err)
		}
		result.Channels++
	}

	s.logger.Info("default channels seeded",
		zap.Int("courses", result.Courses),
		zap.Int("channels", result.Channels),
		zap.Strings("skipped", result.Skipped),
	)
	return result, nil
}

func (s *Seeder) ensureCourse(ctx context.Context, c CourseSeed) (*model.Course, bool, error) {
	slug := strings.ToLower(strings.TrimSpace(c.Slug))
	existing, err := s.courses.FindBySlug(ctx, slug)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, fmt.Errorf("find course %q: %w", slug, err)
	}

	course := &model.Course{Slug: slug, Title: strings.TrimSpace(c.Title), PriceCents: c.PriceCents}
	if err := s.courses.Create(ctx, course); err != nil {
		return nil, false, fmt.Errorf("create course %q: %w", slug, err)
	}
	return course, true, nil
}

// buildChannel returns nil for a course channel whose course does not exist.
func (s *Seeder) buildChannel(ctx context.Context, ch ChannelSeed, courseIDs map[string]uuid.UUID) (*model.Channel, error) {
	minLevel := ch.MinLevel
	var courseID *uuid.UUID

	if model.PolicyKind(strings.ToLower(strings.TrimSpace(ch.Access))) == model.PolicyCourse {
		slug := strings.ToLower(strings.TrimSpace(ch.Course))
		id, ok := courseIDs[slug]
		if !ok {
			course, err := s.courses.FindBySlug(ctx, slug)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					s.logger.Warn("course not found for seeded channel",
						zap.String("channel", ch.Name),
						zap.String("course", slug),
					)
					return nil, nil
				}
				return nil, fmt.Errorf("find course %q: %w", slug, err)
			}
			id = course.ID
		}
		courseID = &id
	}

	return &model.Channel{
		Name:   ch.Name,
		Policy: model.ParsePolicy(ch.Access, &minLevel, courseID),
		Hidden: ch.Hidden,
		System: ch.System,
	}, nil
}
