package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"community-hub/internal/model"
	"community-hub/internal/repository"
)

type channelRepository struct {
	pool *pgxpool.Pool
}

func NewChannelRepository(pool *pgxpool.Pool) repository.ChannelRepository {
	return &channelRepository{pool: pool}
}

var _ repository.ChannelRepository = (*channelRepository)(nil)

const channelColumns = `
	id,
	name,
	access_level,
	min_level,
	course_id,
	hidden,
	system_channel,
	created_at
`

func (r *channelRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Channel, error) {
	return r.findOne(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = $1`, id)
}

func (r *channelRepository) FindByName(ctx context.Context, name string) (*model.Channel, error) {
	return r.findOne(ctx, `SELECT `+channelColumns+` FROM channels WHERE name = $1`, model.NormalizeChannelName(name))
}

func (r *channelRepository) FindByCourse(ctx context.Context, courseID uuid.UUID) (*model.Channel, error) {
	return r.findOne(ctx, `SELECT `+channelColumns+` FROM channels WHERE course_id = $1`, courseID)
}

func (r *channelRepository) findOne(ctx context.Context, query string, arg any) (*model.Channel, error) {
	channel, err := scanChannel(r.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return channel, nil
}

func (r *channelRepository) List(ctx context.Context, filter repository.ChannelListFilter) ([]*model.Channel, error) {
	args := make([]any, 0, 1)
	conditions := make([]string, 0, 2)

	if !filter.IncludeHidden {
		conditions = append(conditions, "hidden = FALSE")
	}
	if len(filter.Kinds) > 0 {
		kinds := make([]string, 0, len(filter.Kinds))
		for _, kind := range filter.Kinds {
			kinds = append(kinds, string(kind))
		}
		args = append(args, kinds)
		conditions = append(conditions, fmt.Sprintf("LOWER(TRIM(access_level)) = ANY($%d)", len(args)))
	}

	var builder strings.Builder
	builder.WriteString("SELECT ")
	builder.WriteString(channelColumns)
	builder.WriteString(" FROM channels")
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at ASC, name ASC")

	rows, err := r.pool.Query(ctx, builder.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	channels := make([]*model.Channel, 0, 16)
	for rows.Next() {
		item, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return channels, nil
}

func (r *channelRepository) Create(ctx context.Context, channel *model.Channel) error {
	if channel.ID == uuid.Nil {
		channel.ID = uuid.New()
	}
	if channel.CreatedAt.IsZero() {
		channel.CreatedAt = time.Now().UTC()
	}
	channel.Name = model.NormalizeChannelName(channel.Name)

	accessLevel, minLevel, courseID := channel.Policy.Columns()
	query := `
		INSERT INTO channels (
			id, name, access_level, min_level, course_id,
			hidden, system_channel, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(
		ctx,
		query,
		channel.ID,
		channel.Name,
		accessLevel,
		minLevel,
		courseID,
		channel.Hidden,
		channel.System,
		channel.CreatedAt,
	)
	return mapWriteError(err)
}

func (r *channelRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM channels WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return ensureAffected(tag)
}

func (r *channelRepository) Count(ctx context.Context) (int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM channels`).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func scanChannel(src scanTarget) (*model.Channel, error) {
	channel := &model.Channel{}
	var (
		accessLevel string
		minLevel    *int
		courseID    *uuid.UUID
	)
	err := src.Scan(
		&channel.ID,
		&channel.Name,
		&accessLevel,
		&minLevel,
		&courseID,
		&channel.Hidden,
		&channel.System,
		&channel.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	channel.Policy = model.ParsePolicy(accessLevel, minLevel, courseID)
	return channel, nil
}
