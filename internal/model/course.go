package model

import (
	"time"

	"github.com/google/uuid"
)

type Course struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Slug       string    `db:"slug" json:"slug"`
	Title      string    `db:"title" json:"title"`
	PriceCents int64     `db:"price_cents" json:"price_cents"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

type Purchase struct {
	UserID      uuid.UUID `db:"user_id" json:"user_id"`
	CourseID    uuid.UUID `db:"course_id" json:"course_id"`
	ExternalRef *string   `db:"external_ref" json:"external_ref,omitempty"`
	PurchasedAt time.Time `db:"purchased_at" json:"purchased_at"`
}
