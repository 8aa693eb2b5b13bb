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

type messageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) repository.MessageRepository {
	return &messageRepository{pool: pool}
}

var _ repository.MessageRepository = (*messageRepository)(nil)

const messageColumns = `
	id,
	channel_id,
	sender_id,
	content,
	encrypted,
	reply_to,
	created_at
`

// Create assigns ID from the sequence. CreatedAt is taken from the caller
// when set so ordering follows acceptance time.
func (r *messageRepository) Create(ctx context.Context, message *model.Message) error {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO messages (channel_id, sender_id, content, encrypted, reply_to, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	return r.pool.QueryRow(
		ctx,
		query,
		message.ChannelID,
		message.SenderID,
		message.Content,
		message.Encrypted,
		message.ReplyTo,
		message.CreatedAt,
	).Scan(&message.ID)
}

func (r *messageRepository) FindByID(ctx context.Context, id int64) (*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	message, err := scanMessage(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return message, nil
}

func (r *messageRepository) ListByChannel(ctx context.Context, channelID uuid.UUID) ([]*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE channel_id = $1 ORDER BY created_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]*model.Message, 0, 64)
	for rows.Next() {
		item, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}

func (r *messageRepository) UpdateContent(ctx context.Context, id int64, content string, encrypted bool) error {
	query := `UPDATE messages SET content = $2, encrypted = $3 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, content, encrypted)
	if err != nil {
		return err
	}
	return ensureAffected(tag)
}

func (r *messageRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return ensureAffected(tag)
}

func scanMessage(src scanTarget) (*model.Message, error) {
	message := &model.Message{}
	err := src.Scan(
		&message.ID,
		&message.ChannelID,
		&message.SenderID,
		&message.Content,
		&message.Encrypted,
		&message.ReplyTo,
		&message.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return message, nil
}
