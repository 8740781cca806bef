package dto

import (
	"time"

	"github.com/spec-kit/support-chat/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Category domain.TicketCategory `json:"category"`
	Subject  string                `json:"subject"`
	Context  domain.TicketContext  `json:"context"`
}

// UpdateStatusRequest payload.
type UpdateStatusRequest struct {
	Status domain.TicketStatus `json:"status"`
}

// TicketSummary response.
type TicketSummary struct {
	ID            string                `json:"id"`
	CreatorID     string                `json:"creator_id"`
	Category      domain.TicketCategory `json:"category"`
	Subject       string                `json:"subject"`
	Status        domain.TicketStatus   `json:"status"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
	LastMessageAt *time.Time            `json:"last_message_at,omitempty"`
}

// TicketDetailResponse provides the ticket with its conversation.
type TicketDetailResponse struct {
	TicketSummary
	Context     domain.TicketContext `json:"context"`
	Messages    []MessageResponse    `json:"messages"`
	Attachments []AttachmentResponse `json:"attachments"`
}

// TicketView maps a domain ticket to its summary view.
func TicketView(t *domain.Ticket) TicketSummary {
	return TicketSummary{
		ID:            t.ID,
		CreatorID:     t.CreatorID,
		Category:      t.Category,
		Subject:       t.Subject,
		Status:        t.Status,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
		LastMessageAt: t.LastMessageAt,
	}
}
