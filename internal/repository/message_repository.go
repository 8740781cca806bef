package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-chat/internal/domain"
)

// MessageRepository manages ticket thread messages.
type MessageRepository interface {
	Create(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	UpdateBody(ctx context.Context, id, body string, editedAt time.Time) error
	Delete(ctx context.Context, id string) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.Message, error)
	ListSince(ctx context.Context, ticketID string, after time.Time) ([]domain.Message, error)
}

type messageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository builds repository.
func NewMessageRepository(pool *pgxpool.Pool) MessageRepository {
	return &messageRepository{pool: pool}
}

const messageColumns = `id, ticket_id, author_id, author_kind, body, reply_to_id, created_at, read_at, edited_at`

func (r *messageRepository) Create(ctx context.Context, msg *domain.Message) error {
	const query = `
        INSERT INTO ticket_messages (ticket_id, author_id, author_kind, body, reply_to_id)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		msg.TicketID,
		msg.AuthorID,
		msg.AuthorKind,
		msg.Body,
		msg.ReplyToID,
	).Scan(&msg.ID, &msg.CreatedAt)
}

func (r *messageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	const query = `
        SELECT ` + messageColumns + `
        FROM ticket_messages WHERE id=$1`
	var msg domain.Message
	if err := scanMessage(r.pool.QueryRow(ctx, query, id), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepository) UpdateBody(ctx context.Context, id, body string, editedAt time.Time) error {
	const query = `UPDATE ticket_messages SET body=$1, edited_at=$2 WHERE id=$3`
	cmd, err := r.pool.Exec(ctx, query, body, editedAt, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *messageRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM ticket_messages WHERE id=$1`
	cmd, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *messageRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.Message, error) {
	const query = `
        SELECT ` + messageColumns + `
        FROM ticket_messages WHERE ticket_id=$1 ORDER BY created_at ASC, id ASC`
	return r.queryMessages(ctx, query, ticketID)
}

func (r *messageRepository) ListSince(ctx context.Context, ticketID string, after time.Time) ([]domain.Message, error) {
	const query = `
        SELECT ` + messageColumns + `
        FROM ticket_messages WHERE ticket_id=$1 AND created_at > $2 ORDER BY created_at ASC, id ASC`
	return r.queryMessages(ctx, query, ticketID, after)
}

func (r *messageRepository) queryMessages(ctx context.Context, query string, args ...any) ([]domain.Message, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Message
	for rows.Next() {
		var msg domain.Message
		if err := scanMessage(rows, &msg); err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}

func scanMessage(row pgx.Row, msg *domain.Message) error {
	return row.Scan(
		&msg.ID,
		&msg.TicketID,
		&msg.AuthorID,
		&msg.AuthorKind,
		&msg.Body,
		&msg.ReplyToID,
		&msg.CreatedAt,
		&msg.ReadAt,
		&msg.EditedAt,
	)
}
