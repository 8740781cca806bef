package dto

import (
	"time"

	"github.com/spec-kit/support-chat/internal/domain"
)

// CreateMessageRequest payload.
type CreateMessageRequest struct {
	Body      string  `json:"body"`
	ReplyToID *string `json:"reply_to_id,omitempty"`
}

// UpdateMessageRequest payload.
type UpdateMessageRequest struct {
	Body string `json:"body"`
}

// MessageResponse represents one conversation message.
type MessageResponse struct {
	ID         string            `json:"id"`
	TicketID   string            `json:"ticket_id"`
	AuthorID   string            `json:"author_id"`
	AuthorKind domain.AuthorKind `json:"author_kind"`
	AuthorName string            `json:"author_name,omitempty"`
	Body       string            `json:"body"`
	ReplyToID  *string           `json:"reply_to_id,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	ReadAt     *time.Time        `json:"read_at,omitempty"`
	EditedAt   *time.Time        `json:"edited_at,omitempty"`
}

// AttachmentResponse carries attachment metadata plus a signed URL.
type AttachmentResponse struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticket_id"`
	MessageID *string   `json:"message_id,omitempty"`
	FileName  string    `json:"file_name"`
	MimeType  string    `json:"mime_type"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
	URL       string    `json:"url,omitempty"`
}

// MessageView maps a domain message to its response form.
func MessageView(m *domain.Message) MessageResponse {
	return MessageResponse{
		ID:         m.ID,
		TicketID:   m.TicketID,
		AuthorID:   m.AuthorID,
		AuthorKind: m.AuthorKind,
		AuthorName: m.AuthorName,
		Body:       m.Body,
		ReplyToID:  m.ReplyToID,
		CreatedAt:  m.CreatedAt,
		ReadAt:     m.ReadAt,
		EditedAt:   m.EditedAt,
	}
}

// AttachmentView maps a domain attachment to its response form.
func AttachmentView(a *domain.Attachment) AttachmentResponse {
	return AttachmentResponse{
		ID:        a.ID,
		TicketID:  a.TicketID,
		MessageID: a.MessageID,
		FileName:  a.FileName,
		MimeType:  a.MimeType,
		SizeBytes: a.SizeBytes,
		CreatedAt: a.CreatedAt,
		URL:       a.SignedURL,
	}
}
