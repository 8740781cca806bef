package chat

import (
	"sort"
	"sync"

	"github.com/spec-kit/support-chat/internal/domain"
)

// Store is the authoritative client-side view of one ticket's messages and
// attachments. It reconciles records from any source (initial load, resync,
// remote event, local optimistic action) with merge-or-insert semantics.
//
// Every mutation is a single synchronous pass under the store lock, so
// callers never observe a partially applied change.
type Store struct {
	mu          sync.Mutex
	messages    []domain.Message
	attachments []domain.Attachment
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Seed replaces the full contents with freshly loaded state.
func (s *Store) Seed(messages []domain.Message, attachments []domain.Attachment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append([]domain.Message(nil), messages...)
	s.attachments = append([]domain.Attachment(nil), attachments...)
	s.sortLocked()
}

// Upsert merges an incoming record over an existing one with the same id, or
// inserts it. Zero-valued incoming fields are treated as absent and preserve
// the existing value. Calling Upsert twice with the same payload is
// idempotent: no duplicate entries, no ordering drift.
func (s *Store) Upsert(msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == msg.ID {
			s.messages[i] = mergeMessage(s.messages[i], msg)
			s.sortLocked()
			return
		}
	}
	s.messages = append(s.messages, msg)
	s.sortLocked()
}

// Replace removes the record with oldID and inserts msg as a whole record,
// bypassing field merging. It backs confirmation of optimistic sends
// (replace-by-value, surviving concurrent reordering) and exact rollbacks.
func (s *Store) Replace(oldID string, msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeMessageLocked(oldID)
	s.removeMessageLocked(msg.ID)
	s.messages = append(s.messages, msg)
	s.sortLocked()
}

// Remove deletes the message and cascades removal of any attachment linked
// to it. It returns the removed records so callers can capture them for
// rollback, and false when the id is unknown.
func (s *Store) Remove(id string) (domain.Message, []domain.Attachment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed, ok := s.getMessageLocked(id)
	if !ok {
		return domain.Message{}, nil, false
	}
	s.removeMessageLocked(id)

	var cascaded []domain.Attachment
	kept := s.attachments[:0]
	for _, att := range s.attachments {
		if att.MessageID != nil && *att.MessageID == id {
			cascaded = append(cascaded, att)
			continue
		}
		kept = append(kept, att)
	}
	s.attachments = kept
	return removed, cascaded, true
}

// Get returns a copy of the message with the given id.
func (s *Store) Get(id string) (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getMessageLocked(id)
}

// SetAuthorName patches the display name of an existing message. It is a
// no-op when the message is no longer present (e.g. deleted while the name
// lookup was in flight).
func (s *Store) SetAuthorName(id, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i].AuthorName = name
			return true
		}
	}
	return false
}

// UpsertAttachment applies the same merge-or-insert policy as Upsert, keyed
// by attachment id.
func (s *Store) UpsertAttachment(att domain.Attachment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.attachments {
		if s.attachments[i].ID == att.ID {
			s.attachments[i] = mergeAttachment(s.attachments[i], att)
			return
		}
	}
	s.attachments = append(s.attachments, att)
}

// RemoveAttachment deletes a single attachment by id.
func (s *Store) RemoveAttachment(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.attachments {
		if s.attachments[i].ID == id {
			s.attachments = append(s.attachments[:i], s.attachments[i+1:]...)
			return true
		}
	}
	return false
}

// Messages returns a snapshot in ascending creation order, ties broken by id.
func (s *Store) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.messages...)
}

// Attachments returns a snapshot of all attachments.
func (s *Store) Attachments() []domain.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Attachment(nil), s.attachments...)
}

// AttachmentsFor returns the attachments linked to one message.
func (s *Store) AttachmentsFor(messageID string) []domain.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Attachment
	for _, att := range s.attachments {
		if att.MessageID != nil && *att.MessageID == messageID {
			out = append(out, att)
		}
	}
	return out
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *Store) getMessageLocked(id string) (domain.Message, bool) {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return s.messages[i], true
		}
	}
	return domain.Message{}, false
}

func (s *Store) removeMessageLocked(id string) {
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return
		}
	}
}

// sortLocked orders by the fixed-width stamp, then id. The stamp layout is
// zero-padded, so the string comparison is chronological.
func (s *Store) sortLocked() {
	sort.SliceStable(s.messages, func(i, j int) bool {
		return s.messages[i].SortKey() < s.messages[j].SortKey()
	})
}

func mergeMessage(existing, incoming domain.Message) domain.Message {
	merged := existing
	if incoming.TicketID != "" {
		merged.TicketID = incoming.TicketID
	}
	if incoming.AuthorID != "" {
		merged.AuthorID = incoming.AuthorID
	}
	if incoming.AuthorKind != "" {
		merged.AuthorKind = incoming.AuthorKind
	}
	if incoming.Body != "" {
		merged.Body = incoming.Body
	}
	if incoming.ReplyToID != nil {
		merged.ReplyToID = incoming.ReplyToID
	}
	if !incoming.CreatedAt.IsZero() {
		merged.CreatedAt = incoming.CreatedAt
	}
	if incoming.ReadAt != nil {
		merged.ReadAt = incoming.ReadAt
	}
	if incoming.EditedAt != nil {
		merged.EditedAt = incoming.EditedAt
	}
	if incoming.AuthorName != "" {
		merged.AuthorName = incoming.AuthorName
	}
	merged.Sending = incoming.Sending
	return merged
}

func mergeAttachment(existing, incoming domain.Attachment) domain.Attachment {
	merged := existing
	if incoming.TicketID != "" {
		merged.TicketID = incoming.TicketID
	}
	// message_id is immutable once set; only fill it in.
	if merged.MessageID == nil && incoming.MessageID != nil {
		merged.MessageID = incoming.MessageID
	}
	if incoming.StorageRef != "" {
		merged.StorageRef = incoming.StorageRef
	}
	if incoming.FileName != "" {
		merged.FileName = incoming.FileName
	}
	if incoming.MimeType != "" {
		merged.MimeType = incoming.MimeType
	}
	if incoming.SizeBytes > 0 {
		merged.SizeBytes = incoming.SizeBytes
	}
	if incoming.CreatorID != "" {
		merged.CreatorID = incoming.CreatorID
	}
	if !incoming.CreatedAt.IsZero() {
		merged.CreatedAt = incoming.CreatedAt
	}
	return merged
}
