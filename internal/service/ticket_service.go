package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/support-chat/internal/domain"
	"github.com/spec-kit/support-chat/internal/events"
	"github.com/spec-kit/support-chat/internal/repository"
	"github.com/spec-kit/support-chat/internal/storage"
	apperrors "github.com/spec-kit/support-chat/pkg/util"
)

// VerificationRequestBody is the fixed automated message appended when a
// ticket transitions into testing.
const VerificationRequestBody = "This issue has been marked as ready for testing. Please verify the fix and reply here with the result."

// TicketService coordinates ticket workflows and is the persistence
// boundary for chat sessions: it implements the session's persistence
// contract against the repositories and object storage.
type TicketService struct {
	tickets     repository.TicketRepository
	messages    repository.MessageRepository
	attachments repository.AttachmentRepository
	profiles    repository.ProfileRepository
	blobs       storage.BlobStore
	signer      *storage.URLSigner
	dispatcher  events.Dispatcher
	logger      *zap.Logger
}

// TicketDependencies bundles collaborators for ticket service.
type TicketDependencies struct {
	TicketRepo     repository.TicketRepository
	MessageRepo    repository.MessageRepository
	AttachmentRepo repository.AttachmentRepository
	ProfileRepo    repository.ProfileRepository
	Blobs          storage.BlobStore
	Signer         *storage.URLSigner
	Dispatcher     events.Dispatcher
	Logger         *zap.Logger
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{
		tickets:     deps.TicketRepo,
		messages:    deps.MessageRepo,
		attachments: deps.AttachmentRepo,
		profiles:    deps.ProfileRepo,
		blobs:       deps.Blobs,
		signer:      deps.Signer,
		dispatcher:  deps.Dispatcher,
		logger:      logger,
	}
}

// TicketListFilter describes listing filters.
type TicketListFilter struct {
	OwnerID    *string
	Status     *domain.TicketStatus
	SearchText *string
	Limit      int
	Offset     int
}

// CreateTicket files a new ticket for a user. Category and subject are
// required.
func (s *TicketService) CreateTicket(ctx context.Context, creatorID string, category domain.TicketCategory, subject string, tctx domain.TicketContext) (*domain.Ticket, error) {
	if creatorID == "" {
		return nil, apperrors.NewAuthError("no current identity")
	}
	if !domain.ValidCategory(category) {
		return nil, apperrors.NewValidationError("unknown ticket category", map[string]any{"category": category})
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, apperrors.NewValidationError("subject required", nil)
	}

	ticket := &domain.Ticket{
		CreatorID: creatorID,
		Category:  category,
		Subject:   subject,
		Status:    domain.TicketStatusOpen,
		Context:   tctx,
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, apperrors.NewPersistenceError("create ticket", err)
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: ticket.ID,
		Actor:    events.Actor{Kind: domain.AuthorKindUser, ProfileID: creatorID},
		Payload: events.TicketCreatedPayload{
			Category: ticket.Category,
			Subject:  ticket.Subject,
		},
	})
	return ticket, nil
}

// ListTickets returns tickets matching the filter.
func (s *TicketService) ListTickets(ctx context.Context, filter TicketListFilter) ([]domain.Ticket, error) {
	tickets, err := s.tickets.ListWithFilter(ctx, repository.TicketFilter{
		CreatorID:  filter.OwnerID,
		Status:     filter.Status,
		SearchText: filter.SearchText,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	})
	if err != nil {
		return nil, apperrors.NewPersistenceError("list tickets", err)
	}
	return tickets, nil
}

// GetTicketDetail returns the ticket with its full message and attachment
// lists.
func (s *TicketService) GetTicketDetail(ctx context.Context, ticketID string) (*domain.Ticket, []domain.Message, []domain.Attachment, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, nil, nil, mapRowError("ticket", err)
	}
	messages, err := s.messages.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, nil, nil, apperrors.NewPersistenceError("list messages", err)
	}
	attachments, err := s.attachments.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, nil, nil, apperrors.NewPersistenceError("list attachments", err)
	}
	return ticket, messages, attachments, nil
}

// InsertMessage appends a message to a ticket. A reply reference must point
// at a message in the same ticket.
func (s *TicketService) InsertMessage(ctx context.Context, ticketID, authorID string, kind domain.AuthorKind, body string, replyToID *string) (*domain.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperrors.NewValidationError("message body required", nil)
	}
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, mapRowError("ticket", err)
	}
	if replyToID != nil {
		target, err := s.messages.GetByID(ctx, *replyToID)
		if err != nil {
			return nil, mapRowError("reply target", err)
		}
		if target.TicketID != ticket.ID {
			return nil, apperrors.NewValidationError("reply target belongs to another ticket", nil)
		}
	}

	msg := &domain.Message{
		TicketID:   ticket.ID,
		AuthorID:   authorID,
		AuthorKind: kind,
		Body:       body,
		ReplyToID:  replyToID,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, apperrors.NewPersistenceError("insert message", err)
	}
	if err := s.tickets.TouchLastMessage(ctx, ticket.ID, msg.CreatedAt); err != nil {
		s.logger.Warn("touch last message failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventMessageAdded,
		TicketID: ticket.ID,
		Actor:    events.Actor{Kind: kind, ProfileID: authorID},
		Payload: events.MessageAddedPayload{
			MessageID:   msg.ID,
			AuthorKind:  msg.AuthorKind,
			AuthorID:    msg.AuthorID,
			BodyPreview: bodyPreview(msg.Body, 120),
		},
	})
	return msg, nil
}

// UpdateMessage rewrites a message's text and stamps the edit time.
func (s *TicketService) UpdateMessage(ctx context.Context, messageID, newBody string) error {
	newBody = strings.TrimSpace(newBody)
	if newBody == "" {
		return apperrors.NewValidationError("message body required", nil)
	}
	if err := s.messages.UpdateBody(ctx, messageID, newBody, time.Now()); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("message", map[string]any{"id": messageID})
		}
		return apperrors.NewPersistenceError("update message", err)
	}
	s.publishEvent(ctx, events.Event{
		Type:    events.EventMessageEdited,
		Payload: events.MessageEditedPayload{MessageID: messageID},
	})
	return nil
}

// DeleteMessage removes a message outright; attachment rows cascade in the
// store.
func (s *TicketService) DeleteMessage(ctx context.Context, messageID string) error {
	if err := s.messages.Delete(ctx, messageID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("message", map[string]any{"id": messageID})
		}
		return apperrors.NewPersistenceError("delete message", err)
	}
	s.publishEvent(ctx, events.Event{
		Type:    events.EventMessageDeleted,
		Payload: events.MessageDeletedPayload{MessageID: messageID},
	})
	return nil
}

// InsertAttachment validates the blob, stores it, and records the metadata
// row. Validation happens before any write.
func (s *TicketService) InsertAttachment(ctx context.Context, ticketID string, messageID *string, creatorID string, blob []byte, fileName, mimeType string) (*domain.Attachment, error) {
	if err := storage.ValidateUpload(fileName, mimeType, int64(len(blob))); err != nil {
		return nil, err
	}
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, mapRowError("ticket", err)
	}
	if messageID != nil {
		msg, err := s.messages.GetByID(ctx, *messageID)
		if err != nil {
			return nil, mapRowError("message", err)
		}
		if msg.TicketID != ticket.ID {
			return nil, apperrors.NewValidationError("message belongs to another ticket", nil)
		}
	}

	ref, err := s.blobs.Put(ctx, ticket.ID, fileName, blob)
	if err != nil {
		return nil, apperrors.NewPersistenceError("store attachment blob", err)
	}

	attachment := &domain.Attachment{
		TicketID:   ticket.ID,
		MessageID:  messageID,
		StorageRef: ref,
		FileName:   fileName,
		MimeType:   mimeType,
		SizeBytes:  int64(len(blob)),
		CreatorID:  creatorID,
	}
	if err := s.attachments.Create(ctx, attachment); err != nil {
		if cleanupErr := s.blobs.Delete(ctx, ref); cleanupErr != nil {
			s.logger.Warn("orphaned blob cleanup failed", zap.String("ref", ref), zap.Error(cleanupErr))
		}
		return nil, apperrors.NewPersistenceError("insert attachment", err)
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventAttachmentAdded,
		TicketID: ticket.ID,
		Actor:    events.Actor{Kind: domain.AuthorKindUser, ProfileID: creatorID},
		Payload: events.AttachmentAddedPayload{
			AttachmentID: attachment.ID,
			MessageID:    derefOrEmpty(messageID),
			MimeType:     attachment.MimeType,
			SizeBytes:    attachment.SizeBytes,
		},
	})
	return attachment, nil
}

// FetchSince returns records created strictly after the wire stamp, for gap
// recovery. An empty stamp means everything.
func (s *TicketService) FetchSince(ctx context.Context, ticketID, afterStamp string) ([]domain.Message, []domain.Attachment, error) {
	var after time.Time
	if afterStamp != "" {
		parsed, err := domain.ParseStamp(afterStamp)
		if err != nil {
			return nil, nil, apperrors.NewValidationError("invalid stamp", map[string]any{"stamp": afterStamp})
		}
		after = parsed
	}
	messages, err := s.messages.ListSince(ctx, ticketID, after)
	if err != nil {
		return nil, nil, apperrors.NewPersistenceError("fetch messages", err)
	}
	attachments, err := s.attachments.ListSince(ctx, ticketID, after)
	if err != nil {
		return nil, nil, apperrors.NewPersistenceError("fetch attachments", err)
	}
	return messages, attachments, nil
}

// ResolveDisplayNames maps author ids to display names in one batch. The
// system persona resolves without a profile row.
func (s *TicketService) ResolveDisplayNames(ctx context.Context, ids []string) (map[string]string, error) {
	lookup := make([]string, 0, len(ids))
	names := make(map[string]string, len(ids))
	for _, id := range ids {
		if id == domain.SystemAuthorID {
			names[domain.SystemAuthorID] = domain.SystemAuthorName
			continue
		}
		lookup = append(lookup, id)
	}
	if len(lookup) > 0 {
		resolved, err := s.profiles.ResolveNames(ctx, lookup)
		if err != nil {
			return nil, apperrors.NewPersistenceError("resolve display names", err)
		}
		for id, name := range resolved {
			names[id] = name
		}
	}
	return names, nil
}

// SignedURL derives a time-limited retrieval URL for a storage ref.
func (s *TicketService) SignedURL(storageRef string) (string, error) {
	return s.signer.Sign(storageRef)
}

// SetStatus changes a ticket's status; administrators only. A transition
// into testing appends exactly one automated verification message. Setting
// the status a ticket already has is a no-op and never re-fires the side
// effect.
func (s *TicketService) SetStatus(ctx context.Context, actor *domain.Profile, ticketID string, status domain.TicketStatus) (*domain.Ticket, error) {
	if actor == nil {
		return nil, apperrors.NewAuthError("no current identity")
	}
	if actor.Role != domain.RoleAdmin {
		return nil, apperrors.NewForbidden("administrator required")
	}
	if !domain.ValidStatus(status) {
		return nil, apperrors.NewValidationError("unknown status", map[string]any{"status": status})
	}

	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, mapRowError("ticket", err)
	}
	if ticket.Status == status {
		return ticket, nil
	}

	oldStatus := ticket.Status
	if err := s.tickets.UpdateStatus(ctx, ticket.ID, status); err != nil {
		return nil, apperrors.NewPersistenceError("update ticket status", err)
	}
	ticket.Status = status

	if status == domain.TicketStatusTesting {
		if _, err := s.InsertMessage(ctx, ticket.ID, domain.SystemAuthorID, domain.AuthorKindSystem, VerificationRequestBody, nil); err != nil {
			s.logger.Error("verification request message failed",
				zap.String("ticket_id", ticket.ID), zap.Error(err))
		}
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketStatusChanged,
		TicketID: ticket.ID,
		Actor:    events.Actor{Kind: domain.AuthorKindAdmin, ProfileID: actor.ID},
		Payload: events.TicketStatusChangedPayload{
			OldStatus: oldStatus,
			NewStatus: status,
		},
	})
	return ticket, nil
}

// UpdateMessageAs enforces authorship at the persistence boundary: only the
// author or an administrator may edit.
func (s *TicketService) UpdateMessageAs(ctx context.Context, actor *domain.Profile, messageID, newBody string) error {
	if err := s.authorizeMessageAction(ctx, actor, messageID); err != nil {
		return err
	}
	return s.UpdateMessage(ctx, messageID, newBody)
}

// DeleteMessageAs enforces authorship at the persistence boundary: only the
// author or an administrator may delete.
func (s *TicketService) DeleteMessageAs(ctx context.Context, actor *domain.Profile, messageID string) error {
	if err := s.authorizeMessageAction(ctx, actor, messageID); err != nil {
		return err
	}
	return s.DeleteMessage(ctx, messageID)
}

func (s *TicketService) authorizeMessageAction(ctx context.Context, actor *domain.Profile, messageID string) error {
	if actor == nil {
		return apperrors.NewAuthError("no current identity")
	}
	if actor.Role == domain.RoleAdmin {
		return nil
	}
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return mapRowError("message", err)
	}
	if msg.AuthorID != actor.ID {
		return apperrors.NewForbidden("not the message author")
	}
	return nil
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_ = s.dispatcher.Publish(ctx, event)
}

func mapRowError(resource string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewNotFound(resource, nil)
	}
	return apperrors.NewPersistenceError("load "+resource, err)
}

func bodyPreview(body string, max int) string {
	body = strings.TrimSpace(body)
	if len(body) <= max {
		return body
	}
	if max <= 3 {
		return body[:max]
	}
	return body[:max-3] + "..."
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
