package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spec-kit/support-chat/internal/chat"
	"github.com/spec-kit/support-chat/internal/domain"
)

// changeFrame mirrors the JSON built by the notify_ticket_change trigger.
type changeFrame struct {
	Table    string          `json:"table"`
	Op       string          `json:"op"`
	TicketID string          `json:"ticket_id"`
	Row      json.RawMessage `json:"row"`
}

// messageRow is row_to_json output for ticket_messages. Timestamps arrive in
// Postgres ISO form, not the wire stamp layout.
type messageRow struct {
	ID         string  `json:"id"`
	TicketID   string  `json:"ticket_id"`
	AuthorID   string  `json:"author_id"`
	AuthorKind string  `json:"author_kind"`
	Body       string  `json:"body"`
	ReplyToID  *string `json:"reply_to_id"`
	CreatedAt  string  `json:"created_at"`
	ReadAt     *string `json:"read_at"`
	EditedAt   *string `json:"edited_at"`
}

// attachmentRow is row_to_json output for ticket_attachments.
type attachmentRow struct {
	ID         string  `json:"id"`
	TicketID   string  `json:"ticket_id"`
	MessageID  *string `json:"message_id"`
	StorageRef string  `json:"storage_ref"`
	FileName   string  `json:"file_name"`
	MimeType   string  `json:"mime_type"`
	SizeBytes  int64   `json:"size_bytes"`
	CreatorID  string  `json:"creator_id"`
	CreatedAt  string  `json:"created_at"`
}

// decodeChange converts a trigger payload into a normalized change event.
// Rows from tables the chat layer does not track decode to a nil change.
func decodeChange(payload []byte) (string, *chat.Change, error) {
	var frame changeFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return "", nil, fmt.Errorf("decode change frame: %w", err)
	}

	op, ok := changeOp(frame.Op)
	if !ok {
		return "", nil, fmt.Errorf("unknown change op %q", frame.Op)
	}

	switch frame.Table {
	case "ticket_messages":
		change, err := decodeMessageChange(op, frame.Row)
		return frame.TicketID, change, err
	case "ticket_attachments":
		change, err := decodeAttachmentChange(op, frame.Row)
		return frame.TicketID, change, err
	default:
		return frame.TicketID, nil, nil
	}
}

func changeOp(op string) (chat.ChangeOp, bool) {
	switch op {
	case "INSERT":
		return chat.OpInsert, true
	case "UPDATE":
		return chat.OpUpdate, true
	case "DELETE":
		return chat.OpDelete, true
	default:
		return "", false
	}
}

func decodeMessageChange(op chat.ChangeOp, raw json.RawMessage) (*chat.Change, error) {
	var row messageRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("decode message row: %w", err)
	}
	if op == chat.OpDelete {
		return &chat.Change{Op: op, MessageID: row.ID}, nil
	}

	createdAt, err := parsePgTime(row.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("message %s created_at: %w", row.ID, err)
	}
	msg := domain.Message{
		ID:         row.ID,
		TicketID:   row.TicketID,
		AuthorID:   row.AuthorID,
		AuthorKind: domain.AuthorKind(row.AuthorKind),
		Body:       row.Body,
		ReplyToID:  row.ReplyToID,
		CreatedAt:  createdAt,
	}
	if row.ReadAt != nil {
		t, err := parsePgTime(*row.ReadAt)
		if err != nil {
			return nil, fmt.Errorf("message %s read_at: %w", row.ID, err)
		}
		msg.ReadAt = &t
	}
	if row.EditedAt != nil {
		t, err := parsePgTime(*row.EditedAt)
		if err != nil {
			return nil, fmt.Errorf("message %s edited_at: %w", row.ID, err)
		}
		msg.EditedAt = &t
	}
	return &chat.Change{Op: op, Message: &msg}, nil
}

func decodeAttachmentChange(op chat.ChangeOp, raw json.RawMessage) (*chat.Change, error) {
	var row attachmentRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("decode attachment row: %w", err)
	}
	if op == chat.OpDelete {
		return &chat.Change{Op: op, AttachmentID: row.ID}, nil
	}

	createdAt, err := parsePgTime(row.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("attachment %s created_at: %w", row.ID, err)
	}
	att := domain.Attachment{
		ID:         row.ID,
		TicketID:   row.TicketID,
		MessageID:  row.MessageID,
		StorageRef: row.StorageRef,
		FileName:   row.FileName,
		MimeType:   row.MimeType,
		SizeBytes:  row.SizeBytes,
		CreatorID:  row.CreatorID,
		CreatedAt:  createdAt,
	}
	return &chat.Change{Op: op, Attachment: &att}, nil
}

// pgTimeLayouts covers the timestamp renderings row_to_json produces across
// Postgres configurations.
var pgTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999-07",
	"2006-01-02T15:04:05-07",
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func parsePgTime(s string) (time.Time, error) {
	for _, layout := range pgTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
