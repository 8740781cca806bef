package chat

import (
	"github.com/spec-kit/support-chat/internal/domain"
)

// Broadcast event names on the per-ticket channel. Saved events carry the
// full confirmed record so other subscribers can apply it without waiting
// for the change-data-capture path.
const (
	EventMessageSaved      = "message_saved"
	EventMessageDeleted    = "message_deleted"
	EventAttachmentSaved   = "attachment_saved"
	EventAttachmentDeleted = "attachment_deleted"
	EventTyping            = "typing"
)

// MessageEnvelope is the wire form of a message. Timestamps use the
// fixed-width stamp layout so they sort and round-trip deterministically.
type MessageEnvelope struct {
	ID         string  `json:"id"`
	TicketID   string  `json:"ticket_id"`
	AuthorID   string  `json:"author_id"`
	AuthorKind string  `json:"author_kind"`
	Body       string  `json:"body"`
	ReplyToID  *string `json:"reply_to_id,omitempty"`
	CreatedAt  string  `json:"created_at"`
	ReadAt     *string `json:"read_at,omitempty"`
	EditedAt   *string `json:"edited_at,omitempty"`
}

// EncodeMessage converts a domain message to its wire form. Client-side
// annotations (author name, sending mark) are not carried on the wire.
func EncodeMessage(m domain.Message) MessageEnvelope {
	env := MessageEnvelope{
		ID:         m.ID,
		TicketID:   m.TicketID,
		AuthorID:   m.AuthorID,
		AuthorKind: string(m.AuthorKind),
		Body:       m.Body,
		ReplyToID:  m.ReplyToID,
		CreatedAt:  domain.FormatStamp(m.CreatedAt),
	}
	if m.ReadAt != nil {
		s := domain.FormatStamp(*m.ReadAt)
		env.ReadAt = &s
	}
	if m.EditedAt != nil {
		s := domain.FormatStamp(*m.EditedAt)
		env.EditedAt = &s
	}
	return env
}

// Decode converts the wire form back to a domain message.
func (e MessageEnvelope) Decode() (domain.Message, error) {
	createdAt, err := domain.ParseStamp(e.CreatedAt)
	if err != nil {
		return domain.Message{}, err
	}
	msg := domain.Message{
		ID:         e.ID,
		TicketID:   e.TicketID,
		AuthorID:   e.AuthorID,
		AuthorKind: domain.AuthorKind(e.AuthorKind),
		Body:       e.Body,
		ReplyToID:  e.ReplyToID,
		CreatedAt:  createdAt,
	}
	if e.ReadAt != nil {
		t, err := domain.ParseStamp(*e.ReadAt)
		if err != nil {
			return domain.Message{}, err
		}
		msg.ReadAt = &t
	}
	if e.EditedAt != nil {
		t, err := domain.ParseStamp(*e.EditedAt)
		if err != nil {
			return domain.Message{}, err
		}
		msg.EditedAt = &t
	}
	return msg, nil
}

// AttachmentEnvelope is the wire form of an attachment. Signed URLs are
// derived per reader and never travel on the wire.
type AttachmentEnvelope struct {
	ID         string  `json:"id"`
	TicketID   string  `json:"ticket_id"`
	MessageID  *string `json:"message_id,omitempty"`
	StorageRef string  `json:"storage_ref"`
	FileName   string  `json:"file_name"`
	MimeType   string  `json:"mime_type"`
	SizeBytes  int64   `json:"size_bytes"`
	CreatorID  string  `json:"creator_id"`
	CreatedAt  string  `json:"created_at"`
}

// EncodeAttachment converts a domain attachment to its wire form.
func EncodeAttachment(a domain.Attachment) AttachmentEnvelope {
	return AttachmentEnvelope{
		ID:         a.ID,
		TicketID:   a.TicketID,
		MessageID:  a.MessageID,
		StorageRef: a.StorageRef,
		FileName:   a.FileName,
		MimeType:   a.MimeType,
		SizeBytes:  a.SizeBytes,
		CreatorID:  a.CreatorID,
		CreatedAt:  domain.FormatStamp(a.CreatedAt),
	}
}

// Decode converts the wire form back to a domain attachment.
func (e AttachmentEnvelope) Decode() (domain.Attachment, error) {
	createdAt, err := domain.ParseStamp(e.CreatedAt)
	if err != nil {
		return domain.Attachment{}, err
	}
	return domain.Attachment{
		ID:         e.ID,
		TicketID:   e.TicketID,
		MessageID:  e.MessageID,
		StorageRef: e.StorageRef,
		FileName:   e.FileName,
		MimeType:   e.MimeType,
		SizeBytes:  e.SizeBytes,
		CreatorID:  e.CreatorID,
		CreatedAt:  createdAt,
	}, nil
}

// DeleteEnvelope is the wire form of a deletion broadcast.
type DeleteEnvelope struct {
	ID string `json:"id"`
}

// TypingEnvelope is the wire form of a typing-state broadcast.
type TypingEnvelope struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	IsTyping bool   `json:"isTyping"`
}
