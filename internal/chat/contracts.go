// Package chat implements the realtime synchronization layer for one
// ticket's conversation: an in-memory message store, a channel adapter that
// folds two notification feeds into a single stream, typing presence, and a
// session facade with optimistic send/edit/delete semantics.
//
// The package depends only on the narrow collaborator contracts below; the
// rest of the repository provides production implementations (pgx-backed
// persistence, a Redis + Postgres NOTIFY hub, disk-backed object storage).
package chat

import (
	"context"

	"github.com/spec-kit/support-chat/internal/domain"
)

// Persistence is the persistence-collaborator contract the session depends
// on. Implementations enforce authorization; the sync core does not.
type Persistence interface {
	// GetTicketDetail returns the ticket with its full message and
	// attachment lists, for initial load and full resync.
	GetTicketDetail(ctx context.Context, ticketID string) (*domain.Ticket, []domain.Message, []domain.Attachment, error)

	InsertMessage(ctx context.Context, ticketID, authorID string, kind domain.AuthorKind, body string, replyToID *string) (*domain.Message, error)
	UpdateMessage(ctx context.Context, messageID, newBody string) error
	DeleteMessage(ctx context.Context, messageID string) error

	// InsertAttachment validates MIME type and size before any write.
	InsertAttachment(ctx context.Context, ticketID string, messageID *string, creatorID string, blob []byte, fileName, mimeType string) (*domain.Attachment, error)

	// FetchSince returns messages and attachments created strictly after
	// the given wire stamp, for gap recovery after a reconnect.
	FetchSince(ctx context.Context, ticketID, afterStamp string) ([]domain.Message, []domain.Attachment, error)

	// ResolveDisplayNames maps author ids to display names in one batch.
	ResolveDisplayNames(ctx context.Context, ids []string) (map[string]string, error)

	// SignedURL derives a time-limited retrieval URL for a storage ref.
	SignedURL(storageRef string) (string, error)
}

// ConnectionState describes the realtime channel lifecycle.
type ConnectionState string

const (
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
)

// ChangeOp is the operation of a change-data-capture event.
type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// Change is one normalized row-level change event. Exactly one of Message
// and Attachment is set for inserts/updates; deletes carry only the id.
type Change struct {
	Op           ChangeOp
	Message      *domain.Message
	Attachment   *domain.Attachment
	MessageID    string
	AttachmentID string
}

// Handlers receives events for one per-ticket subscription. Any field may be
// nil; nil handlers are skipped.
type Handlers struct {
	// Broadcast delivers an application-level event by name with its raw
	// JSON payload.
	Broadcast func(event string, payload []byte)
	// Change delivers a row-level change-data-capture event.
	Change func(Change)
	// State reports connection-state transitions. Implementations report a
	// disconnect only when the channel genuinely drops, never as a side
	// effect of the subscription's own unsubscribe.
	State func(ConnectionState)
}

// Notifier is the notification-collaborator contract: per-ticket
// subscriptions plus a low-level broadcast primitive on the same channel.
type Notifier interface {
	// Subscribe attaches handlers to the ticket's channel and returns an
	// unsubscribe function. A nil error means the subscription was
	// acknowledged.
	Subscribe(ctx context.Context, ticketID string, h Handlers) (func(), error)

	// Broadcast publishes an application-level event on the ticket's
	// channel. Payload is JSON-serialized.
	Broadcast(ctx context.Context, ticketID, event string, payload any) error
}
