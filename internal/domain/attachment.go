package domain

import "time"

// MaxAttachmentBytes is the hard cap on attachment size.
const MaxAttachmentBytes = 5 << 20 // 5 MiB

// AllowedImageTypes is the MIME allow-list for attachments.
var AllowedImageTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
	"image/gif":  {},
}

// AllowedImageType reports whether mimeType is on the attachment allow-list.
func AllowedImageType(mimeType string) bool {
	_, ok := AllowedImageTypes[mimeType]
	return ok
}

// Attachment is a stored image linked to a ticket and, once its message
// completes, to that message. MessageID is nullable to support
// upload-then-link flows and is immutable once set.
//
// SignedURL is derived on every read and never persisted.
type Attachment struct {
	ID         string    `json:"id"`
	TicketID   string    `json:"ticket_id"`
	MessageID  *string   `json:"message_id,omitempty"`
	StorageRef string    `json:"storage_ref"`
	FileName   string    `json:"file_name"`
	MimeType   string    `json:"mime_type"`
	SizeBytes  int64     `json:"size_bytes"`
	CreatorID  string    `json:"creator_id"`
	CreatedAt  time.Time `json:"created_at"`

	SignedURL string `json:"signed_url,omitempty"`
}
