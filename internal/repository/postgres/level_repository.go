package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"community-hub/internal/model"
	"community-hub/internal/repository"
)

type levelRepository struct {
	pool *pgxpool.Pool
}

func NewLevelRepository(pool *pgxpool.Pool) repository.LevelRepository {
	return &levelRepository{pool: pool}
}

var _ repository.LevelRepository = (*levelRepository)(nil)

func (r *levelRepository) Get(ctx context.Context, userID uuid.UUID) (*model.UserLevel, error) {
	query := `SELECT user_id, level, xp, updated_at FROM user_levels WHERE user_id = $1`
	level := &model.UserLevel{}
	err := r.pool.QueryRow(ctx, query, userID).Scan(&level.UserID, &level.Level, &level.XP, &level.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return level, nil
}

func (r *levelRepository) Update(
	ctx context.Context,
	userID uuid.UUID,
	fn func(current model.UserLevel) model.UserLevel,
) (*model.UserLevel, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// the users FK turns an unknown id into an error here
	if _, err := tx.Exec(
		ctx,
		`INSERT INTO user_levels (user_id, level, xp) VALUES ($1, 1, 0) ON CONFLICT (user_id) DO NOTHING`,
		userID,
	); err != nil {
		return nil, err
	}

	current := model.UserLevel{}
	err = tx.QueryRow(
		ctx,
		`SELECT user_id, level, xp, updated_at FROM user_levels WHERE user_id = $1 FOR UPDATE`,
		userID,
	).Scan(&current.UserID, &current.Level, &current.XP, &current.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	next := fn(current)
	next.UserID = userID
	next.UpdatedAt = time.Now().UTC()

	if _, err := tx.Exec(
		ctx,
		`UPDATE user_levels SET level = $2, xp = $3, updated_at = $4 WHERE user_id = $1`,
		userID,
		next.Level,
		next.XP,
		next.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &next, nil
}

func (r *levelRepository) Top(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	query := `
		SELECT l.user_id, u.username, l.level, l.xp
		FROM user_levels l
		JOIN users u ON u.id = l.user_id
		ORDER BY l.level DESC, l.xp DESC, u.username ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]model.LeaderboardEntry, 0, limit)
	for rows.Next() {
		var entry model.LeaderboardEntry
		if err := rows.Scan(&entry.UserID, &entry.Username, &entry.Level, &entry.XP); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
