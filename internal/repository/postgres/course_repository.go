package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"community-hub/internal/model"
	"community-hub/internal/repository"
)

type courseRepository struct {
	pool *pgxpool.Pool
}

func NewCourseRepository(pool *pgxpool.Pool) repository.CourseRepository {
	return &courseRepository{pool: pool}
}

var _ repository.CourseRepository = (*courseRepository)(nil)

const courseColumns = `id, slug, title, price_cents, created_at`

func (r *courseRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Course, error) {
	course, err := scanCourse(r.pool.QueryRow(ctx, `SELECT `+courseColumns+` FROM courses WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return course, nil
}

func (r *courseRepository) FindBySlug(ctx context.Context, slug string) (*model.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses WHERE slug = $1`
	course, err := scanCourse(r.pool.QueryRow(ctx, query, strings.ToLower(strings.TrimSpace(slug))))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return course, nil
}

func (r *courseRepository) List(ctx context.Context) ([]*model.Course, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+courseColumns+` FROM courses ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	courses := make([]*model.Course, 0, 8)
	for rows.Next() {
		course, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		courses = append(courses, course)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return courses, nil
}

func (r *courseRepository) Create(ctx context.Context, course *model.Course) error {
	if course.ID == uuid.Nil {
		course.ID = uuid.New()
	}
	if course.CreatedAt.IsZero() {
		course.CreatedAt = time.Now().UTC()
	}
	course.Slug = strings.ToLower(strings.TrimSpace(course.Slug))

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO courses (id, slug, title, price_cents, created_at) VALUES ($1, $2, $3, $4, $5)`,
		course.ID,
		course.Slug,
		course.Title,
		course.PriceCents,
		course.CreatedAt,
	)
	return mapWriteError(err)
}

// RecordPurchase is idempotent per (user, course).
func (r *courseRepository) RecordPurchase(ctx context.Context, purchase *model.Purchase) error {
	if purchase.PurchasedAt.IsZero() {
		purchase.PurchasedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO course_purchases (user_id, course_id, external_ref, purchased_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, course_id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query, purchase.UserID, purchase.CourseID, purchase.ExternalRef, purchase.PurchasedAt)
	return err
}

func (r *courseRepository) CourseIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var raw []string
	err := r.pool.QueryRow(
		ctx,
		`SELECT ARRAY(SELECT course_id::text FROM course_purchases WHERE user_id = $1 ORDER BY course_id)`,
		userID,
	).Scan(&raw)
	if err != nil {
		return nil, err
	}
	return parseUUIDs(raw), nil
}

func scanCourse(src scanTarget) (*model.Course, error) {
	course := &model.Course{}
	if err := src.Scan(&course.ID, &course.Slug, &course.Title, &course.PriceCents, &course.CreatedAt); err != nil {
		return nil, err
	}
	return course, nil
}
