package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// AuthorKind indicates who authored a message.
type AuthorKind string

const (
	AuthorKindUser   AuthorKind = "user"
	AuthorKindSystem AuthorKind = "system"
	AuthorKindAdmin  AuthorKind = "admin"
)

// PlaceholderBody is stored when a message carries only an image.
const PlaceholderBody = "[image]"

// Message is one entry in a ticket's conversation thread.
//
// AuthorName and Sending are client-side annotations: the name is resolved
// from the author id at read time and never persisted, and Sending marks an
// optimistic record awaiting server confirmation.
type Message struct {
	ID         string     `json:"id"`
	TicketID   string     `json:"ticket_id"`
	AuthorID   string     `json:"author_id"`
	AuthorKind AuthorKind `json:"author_kind"`
	Body       string     `json:"body"`
	ReplyToID  *string    `json:"reply_to_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
	EditedAt   *time.Time `json:"edited_at,omitempty"`

	AuthorName string `json:"author_name,omitempty"`
	Sending    bool   `json:"-"`
}

// SortKey is the ordering key within a ticket: fixed-width creation stamp
// with the id as a deterministic tiebreaker.
func (m Message) SortKey() string {
	return FormatStamp(m.CreatedAt) + "|" + m.ID
}

// localIDPrefix tags optimistic identifiers so they can never collide with
// server-assigned UUIDs.
const localIDPrefix = "local-"

// NewLocalID generates an optimistic message identifier.
func NewLocalID() string {
	return localIDPrefix + uuid.NewString()
}

// IsLocalID reports whether id was produced by NewLocalID.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, localIDPrefix)
}
