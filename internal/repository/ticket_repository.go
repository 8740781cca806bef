package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-chat/internal/domain"
)

// TicketFilter narrows ticket listings.
type TicketFilter struct {
	CreatorID  *string
	Status     *domain.TicketStatus
	SearchText *string
	Limit      int
	Offset     int
}

// TicketRepository persists support tickets.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	UpdateStatus(ctx context.Context, id string, status domain.TicketStatus) error
	TouchLastMessage(ctx context.Context, id string, at time.Time) error
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository returns a Postgres-backed implementation.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (creator_id, category, subject, status, page_url, ui_location, screen_name)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		ticket.CreatorID,
		ticket.Category,
		ticket.Subject,
		ticket.Status,
		ticket.Context.PageURL,
		ticket.Context.UILocation,
		ticket.Context.ScreenName,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	const query = `
        SELECT id, creator_id, category, subject, status, page_url, ui_location, screen_name,
               created_at, updated_at, last_message_at
        FROM tickets WHERE id=$1`
	var ticket domain.Ticket
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&ticket.ID,
		&ticket.CreatorID,
		&ticket.Category,
		&ticket.Subject,
		&ticket.Status,
		&ticket.Context.PageURL,
		&ticket.Context.UILocation,
		&ticket.Context.ScreenName,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.LastMessageAt,
	)
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	var (
		conditions []string
		args       []any
	)
	addArg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.CreatorID != nil {
		conditions = append(conditions, "creator_id="+addArg(*filter.CreatorID))
	}
	if filter.Status != nil {
		conditions = append(conditions, "status="+addArg(*filter.Status))
	}
	if filter.SearchText != nil && strings.TrimSpace(*filter.SearchText) != "" {
		placeholder := addArg("%" + strings.TrimSpace(*filter.SearchText) + "%")
		conditions = append(conditions, "subject ILIKE "+placeholder)
	}

	query := `
        SELECT id, creator_id, category, subject, status, page_url, ui_location, screen_name,
               created_at, updated_at, last_message_at
        FROM tickets`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY updated_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + addArg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + addArg(filter.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		if err := rows.Scan(
			&ticket.ID,
			&ticket.CreatorID,
			&ticket.Category,
			&ticket.Subject,
			&ticket.Status,
			&ticket.Context.PageURL,
			&ticket.Context.UILocation,
			&ticket.Context.ScreenName,
			&ticket.CreatedAt,
			&ticket.UpdatedAt,
			&ticket.LastMessageAt,
		); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}

func (r *ticketRepository) UpdateStatus(ctx context.Context, id string, status domain.TicketStatus) error {
	const query = `UPDATE tickets SET status=$1, updated_at=NOW() WHERE id=$2`
	cmd, err := r.pool.Exec(ctx, query, status, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) TouchLastMessage(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE tickets SET last_message_at=$1, updated_at=NOW() WHERE id=$2`
	_, err := r.pool.Exec(ctx, query, at, id)
	return err
}
