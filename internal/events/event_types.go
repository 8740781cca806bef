package events

import (
	"time"

	"github.com/spec-kit/support-chat/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated       EventType = "ticket_created"
	EventTicketStatusChanged EventType = "ticket_status_changed"
	EventMessageAdded        EventType = "message_added"
	EventMessageEdited       EventType = "message_edited"
	EventMessageDeleted      EventType = "message_deleted"
	EventAttachmentAdded     EventType = "attachment_added"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Kind      domain.AuthorKind `json:"kind"`
	ProfileID string            `json:"profile_id,omitempty"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Category domain.TicketCategory `json:"category"`
	Subject  string                `json:"subject"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
}

// MessageAddedPayload payload.
type MessageAddedPayload struct {
	MessageID   string            `json:"message_id"`
	AuthorKind  domain.AuthorKind `json:"author_kind"`
	AuthorID    string            `json:"author_id"`
	BodyPreview string            `json:"body_preview"`
}

// MessageEditedPayload payload.
type MessageEditedPayload struct {
	MessageID string `json:"message_id"`
}

// MessageDeletedPayload payload.
type MessageDeletedPayload struct {
	MessageID string `json:"message_id"`
}

// AttachmentAddedPayload payload.
type AttachmentAddedPayload struct {
	AttachmentID string `json:"attachment_id"`
	MessageID    string `json:"message_id,omitempty"`
	MimeType     string `json:"mime_type"`
	SizeBytes    int64  `json:"size_bytes"`
}
