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

type userRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) repository.UserRepository {
	return &userRepository{pool: pool}
}

var _ repository.UserRepository = (*userRepository)(nil)

const userColumns = `
	u.id,
	u.username,
	u.email,
	u.password_hash,
	u.role,
	u.muted,
	COALESCE(l.level, 1),
	COALESCE(l.xp, 0),
	ARRAY(
		SELECT p.course_id::text
		FROM course_purchases p
		WHERE p.user_id = u.id
		ORDER BY p.course_id
	),
	u.last_seen_at,
	u.created_at,
	u.updated_at
`

const userFrom = ` FROM users u LEFT JOIN user_levels l ON l.user_id = u.id`

func (r *userRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	query := `SELECT ` + userColumns + userFrom + ` WHERE u.id = $1`
	user, err := scanUser(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *userRepository) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	query := `SELECT ` + userColumns + userFrom + ` WHERE u.username = $1`
	user, err := scanUser(r.pool.QueryRow(ctx, query, strings.TrimSpace(username)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *userRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.User, error) {
	out := make(map[uuid.UUID]*model.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	raw := make([]string, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, id.String())
	}

	query := `SELECT ` + userColumns + userFrom + ` WHERE u.id = ANY($1::uuid[])`
	rows, err := r.pool.Query(ctx, query, raw)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out[user.ID] = user
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// Create inserts the user and its level row in one transaction.
func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = user.CreatedAt
	}
	if user.Role == "" {
		user.Role = model.UserRoleFree
	}
	if user.Level < model.MinLevel {
		user.Level = model.MinLevel
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	query := `
		INSERT INTO users (
			id, username, email, password_hash, role,
			muted, last_seen_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if _, err := tx.Exec(
		ctx,
		query,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.Role,
		user.Muted,
		user.LastSeenAt,
		user.CreatedAt,
		user.UpdatedAt,
	); err != nil {
		return mapWriteError(err)
	}

	if _, err := tx.Exec(
		ctx,
		`INSERT INTO user_levels (user_id, level, xp, updated_at) VALUES ($1, $2, $3, $4)`,
		user.ID,
		user.Level,
		user.XP,
		user.CreatedAt,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *userRepository) UpdateRole(ctx context.Context, id uuid.UUID, role model.UserRole) error {
	query := `UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, role)
	if err != nil {
		return err
	}
	return ensureAffected(tag)
}

func (r *userRepository) SetMuted(ctx context.Context, id uuid.UUID, muted bool) error {
	query := `UPDATE users SET muted = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, muted)
	if err != nil {
		return err
	}
	return ensureAffected(tag)
}

func (r *userRepository) TouchLastSeen(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE users SET last_seen_at = $2 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, at.UTC())
	if err != nil {
		return err
	}
	return ensureAffected(tag)
}

func (r *userRepository) List(ctx context.Context, filter repository.UserListFilter) ([]*model.User, error) {
	limit, offset := normalizePagination(filter.Pagination)

	args := make([]any, 0, 4)
	conditions := buildUserListConditions(filter, &args)

	var builder strings.Builder
	builder.WriteString("SELECT ")
	builder.WriteString(userColumns)
	builder.WriteString(userFrom)

	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}

	args = append(args, limit, offset)
	_, _ = fmt.Fprintf(&builder, " ORDER BY u.created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, builder.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]*model.User, 0, limit)
	for rows.Next() {
		item, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return users, nil
}

func (r *userRepository) Count(ctx context.Context, filter repository.UserListFilter) (int64, error) {
	args := make([]any, 0, 2)
	conditions := buildUserListConditions(filter, &args)

	var builder strings.Builder
	builder.WriteString("SELECT COUNT(*) FROM users u")
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}

	var total int64
	if err := r.pool.QueryRow(ctx, builder.String(), args...).Scan(&total); err != nil {
		return 0, err
	}

	return total, nil
}

func buildUserListConditions(filter repository.UserListFilter, args *[]any) []string {
	conditions := make([]string, 0, 2)

	if filter.Role != nil {
		*args = append(*args, string(*filter.Role))
		conditions = append(conditions, fmt.Sprintf("u.role = $%d", len(*args)))
	}
	if filter.Keyword != nil {
		keyword := "%" + strings.TrimSpace(*filter.Keyword) + "%"
		*args = append(*args, keyword)
		argPos := len(*args)
		conditions = append(conditions, fmt.Sprintf("(u.username ILIKE $%d OR u.email ILIKE $%d)", argPos, argPos))
	}

	return conditions
}

func scanUser(src scanTarget) (*model.User, error) {
	user := &model.User{}
	var (
		role    string
		courses []string
	)
	err := src.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&role,
		&user.Muted,
		&user.Level,
		&user.XP,
		&courses,
		&user.LastSeenAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	user.Role = model.ParseUserRole(role)
	user.CourseIDs = parseUUIDs(courses)
	return user, nil
}
