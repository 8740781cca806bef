package chat

import (
	"testing"
	"time"

	"github.com/spec-kit/support-chat/internal/domain"
)

var storeBase = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func msg(id string, offset time.Duration) domain.Message {
	return domain.Message{
		ID:         id,
		TicketID:   "t1",
		AuthorID:   "u1",
		AuthorKind: domain.AuthorKindUser,
		Body:       "body " + id,
		CreatedAt:  storeBase.Add(offset),
	}
}

func att(id, messageID string) domain.Attachment {
	a := domain.Attachment{
		ID:         id,
		TicketID:   "t1",
		StorageRef: "ref-" + id,
		FileName:   id + ".png",
		MimeType:   "image/png",
		SizeBytes:  10,
		CreatorID:  "u1",
		CreatedAt:  storeBase,
	}
	if messageID != "" {
		a.MessageID = &messageID
	}
	return a
}

func storeIDs(s *Store) []string {
	msgs := s.Messages()
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

func TestUpsertKeepsOrder(t *testing.T) {
	s := NewStore()
	s.Upsert(msg("b", 2*time.Second))
	s.Upsert(msg("c", 3*time.Second))
	s.Upsert(msg("a", time.Second))

	want := []string{"a", "b", "c"}
	got := storeIDs(s)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestUpsertIdempotent(t *testing.T) {
	s := NewStore()
	m := msg("a", 0)
	s.Upsert(m)
	s.Upsert(m)
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
}

func TestUpsertMergePreservesExistingFields(t *testing.T) {
	s := NewStore()
	full := msg("a", 0)
	full.AuthorName = "Alice"
	s.Upsert(full)

	// A sparse update (edit notification) must not wipe resolved fields.
	now := storeBase.Add(time.Minute)
	s.Upsert(domain.Message{ID: "a", Body: "edited", EditedAt: &now})

	got, ok := s.Get("a")
	if !ok {
		t.Fatal("message missing after merge")
	}
	if got.Body != "edited" {
		t.Errorf("Body = %q, want %q", got.Body, "edited")
	}
	if got.AuthorName != "Alice" {
		t.Errorf("AuthorName = %q, want %q", got.AuthorName, "Alice")
	}
	if got.CreatedAt != full.CreatedAt {
		t.Errorf("CreatedAt changed: %v, want %v", got.CreatedAt, full.CreatedAt)
	}
	if got.EditedAt == nil || !got.EditedAt.Equal(now) {
		t.Errorf("EditedAt = %v, want %v", got.EditedAt, now)
	}
}

func TestUpsertClearsSendingMark(t *testing.T) {
	s := NewStore()
	optimistic := msg("a", 0)
	optimistic.Sending = true
	s.Upsert(optimistic)

	confirmed := msg("a", 0)
	s.Upsert(confirmed)

	got, _ := s.Get("a")
	if got.Sending {
		t.Error("Sending mark survived confirmation")
	}
}

func TestReplaceSwapsOptimisticForConfirmed(t *testing.T) {
	s := NewStore()
	local := msg(domain.NewLocalID(), 0)
	local.Sending = true
	s.Upsert(local)

	confirmed := msg("server-id", time.Second)
	s.Replace(local.ID, confirmed)

	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
	if _, ok := s.Get(local.ID); ok {
		t.Error("optimistic record survived replacement")
	}
	got, ok := s.Get("server-id")
	if !ok {
		t.Fatal("confirmed record missing")
	}
	if got.Sending {
		t.Error("confirmed record still marked sending")
	}
}

func TestReplaceDoesNotDuplicateEchoedRecord(t *testing.T) {
	s := NewStore()
	local := msg(domain.NewLocalID(), 0)
	s.Upsert(local)

	// The change feed may deliver the confirmed record before the local
	// confirmation path runs Replace.
	confirmed := msg("server-id", time.Second)
	s.Upsert(confirmed)
	s.Replace(local.ID, confirmed)

	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
}

func TestReplaceRestoresExactRecord(t *testing.T) {
	s := NewStore()
	read := storeBase.Add(time.Minute)
	original := msg("a", 0)
	original.ReadAt = &read
	s.Upsert(original)

	edited := original
	edited.Body = "changed"
	s.Replace("a", edited)
	s.Replace("a", original)

	got, _ := s.Get("a")
	if got.Body != original.Body {
		t.Errorf("Body = %q, want %q", got.Body, original.Body)
	}
	if got.ReadAt == nil || !got.ReadAt.Equal(read) {
		t.Errorf("ReadAt = %v, want %v", got.ReadAt, read)
	}
}

func TestRemoveCascadesAttachments(t *testing.T) {
	s := NewStore()
	s.Upsert(msg("a", 0))
	s.Upsert(msg("b", time.Second))
	s.UpsertAttachment(att("att1", "a"))
	s.UpsertAttachment(att("att2", "b"))
	s.UpsertAttachment(att("att3", ""))

	removed, cascaded, ok := s.Remove("a")
	if !ok {
		t.Fatal("Remove returned false for known id")
	}
	if removed.ID != "a" {
		t.Errorf("removed.ID = %q, want %q", removed.ID, "a")
	}
	if len(cascaded) != 1 || cascaded[0].ID != "att1" {
		t.Fatalf("cascaded = %v, want just att1", cascaded)
	}
	if len(s.Attachments()) != 2 {
		t.Errorf("attachments remaining = %d, want 2", len(s.Attachments()))
	}
}

func TestRemoveUnknownID(t *testing.T) {
	s := NewStore()
	if _, _, ok := s.Remove("nope"); ok {
		t.Error("Remove returned true for unknown id")
	}
}

func TestSetAuthorNameAfterDelete(t *testing.T) {
	s := NewStore()
	s.Upsert(msg("a", 0))
	s.Remove("a")
	if s.SetAuthorName("a", "Alice") {
		t.Error("SetAuthorName should be a no-op for a deleted message")
	}
}

func TestAttachmentMergeKeepsMessageLink(t *testing.T) {
	s := NewStore()
	s.UpsertAttachment(att("att1", "m1"))

	// A later event without a message link must not orphan the attachment.
	update := att("att1", "")
	update.FileName = "renamed.png"
	s.UpsertAttachment(update)

	got := s.AttachmentsFor("m1")
	if len(got) != 1 {
		t.Fatalf("AttachmentsFor = %d entries, want 1", len(got))
	}
	if got[0].FileName != "renamed.png" {
		t.Errorf("FileName = %q, want %q", got[0].FileName, "renamed.png")
	}
}

func TestSeedReplacesContents(t *testing.T) {
	s := NewStore()
	s.Upsert(msg("stale", 0))
	s.Seed([]domain.Message{msg("b", 2*time.Second), msg("a", time.Second)}, []domain.Attachment{att("att1", "a")})

	got := storeIDs(s)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("after seed order = %v, want [a b]", got)
	}
	if len(s.Attachments()) != 1 {
		t.Errorf("attachments = %d, want 1", len(s.Attachments()))
	}
}
