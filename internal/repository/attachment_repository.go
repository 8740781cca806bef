package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-chat/internal/domain"
)

// AttachmentRepository persists attachment metadata.
type AttachmentRepository interface {
	Create(ctx context.Context, attachment *domain.Attachment) error
	GetByID(ctx context.Context, id string) (*domain.Attachment, error)
	ListByTicket(ctx context.Context, ticketID string) ([]domain.Attachment, error)
	ListSince(ctx context.Context, ticketID string, after time.Time) ([]domain.Attachment, error)
}

type attachmentRepository struct {
	pool *pgxpool.Pool
}

// NewAttachmentRepository constructs repository.
func NewAttachmentRepository(pool *pgxpool.Pool) AttachmentRepository {
	return &attachmentRepository{pool: pool}
}

const attachmentColumns = `id, ticket_id, message_id, storage_ref, file_name, mime_type, size_bytes, creator_id, created_at`

func (r *attachmentRepository) Create(ctx context.Context, attachment *domain.Attachment) error {
	const query = `
        INSERT INTO ticket_attachments (ticket_id, message_id, storage_ref, file_name, mime_type, size_bytes, creator_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		attachment.TicketID,
		attachment.MessageID,
		attachment.StorageRef,
		attachment.FileName,
		attachment.MimeType,
		attachment.SizeBytes,
		attachment.CreatorID,
	).Scan(&attachment.ID, &attachment.CreatedAt)
}

func (r *attachmentRepository) GetByID(ctx context.Context, id string) (*domain.Attachment, error) {
	const query = `
        SELECT ` + attachmentColumns + `
        FROM ticket_attachments WHERE id=$1`
	var attachment domain.Attachment
	if err := scanAttachment(r.pool.QueryRow(ctx, query, id), &attachment); err != nil {
		return nil, err
	}
	return &attachment, nil
}

func (r *attachmentRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.Attachment, error) {
	const query = `
        SELECT ` + attachmentColumns + `
        FROM ticket_attachments WHERE ticket_id=$1 ORDER BY created_at ASC, id ASC`
	return r.queryAttachments(ctx, query, ticketID)
}

func (r *attachmentRepository) ListSince(ctx context.Context, ticketID string, after time.Time) ([]domain.Attachment, error) {
	const query = `
        SELECT ` + attachmentColumns + `
        FROM ticket_attachments WHERE ticket_id=$1 AND created_at > $2 ORDER BY created_at ASC, id ASC`
	return r.queryAttachments(ctx, query, ticketID, after)
}

func (r *attachmentRepository) queryAttachments(ctx context.Context, query string, args ...any) ([]domain.Attachment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Attachment
	for rows.Next() {
		var attachment domain.Attachment
		if err := scanAttachment(rows, &attachment); err != nil {
			return nil, err
		}
		result = append(result, attachment)
	}
	return result, rows.Err()
}

func scanAttachment(row pgx.Row, attachment *domain.Attachment) error {
	return row.Scan(
		&attachment.ID,
		&attachment.TicketID,
		&attachment.MessageID,
		&attachment.StorageRef,
		&attachment.FileName,
		&attachment.MimeType,
		&attachment.SizeBytes,
		&attachment.CreatorID,
		&attachment.CreatedAt,
	)
}
