package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-chat/internal/domain"
	"github.com/spec-kit/support-chat/internal/observability"
	apperrors "github.com/spec-kit/support-chat/pkg/util"
)

// LocalUser identifies the viewer owning a session.
type LocalUser struct {
	ID   string
	Name string
	Kind domain.AuthorKind
}

// ImageUpload is an attachment payload supplied with a send.
type ImageUpload struct {
	Data     []byte
	FileName string
	MimeType string
}

// SessionConfig bundles the capabilities a session needs. Collaborators are
// injected, never global, so multiple ticket sessions can run in isolation.
type SessionConfig struct {
	TicketID    string
	User        LocalUser
	Persistence Persistence
	Notifier    Notifier
	Logger      *zap.Logger
	Metrics     *observability.Metrics
	Options     Options
	// OnState observes connection-state transitions. Optional.
	OnState func(ConnectionState)
}

// Session is the composed public surface for one ticket's chat: optimistic
// send/edit/delete, typing presence, reload, and snapshot accessors. One
// session per viewer per ticket; opening a session for another ticket means
// closing this one first.
type Session struct {
	ticketID    string
	user        LocalUser
	persistence Persistence
	logger      *zap.Logger

	store   *Store
	names   *NameResolver
	adapter *Adapter
	typing  *TypingTracker

	mu     sync.Mutex
	ticket *domain.Ticket
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// Open loads initial ticket state and subscribes to the realtime channel.
func Open(ctx context.Context, cfg SessionConfig) (*Session, error) {
	if cfg.User.ID == "" {
		return nil, apperrors.NewAuthError("no current identity")
	}
	if cfg.TicketID == "" {
		return nil, apperrors.NewValidationError("ticket id required", nil)
	}
	if cfg.User.Kind == "" {
		cfg.User.Kind = domain.AuthorKindUser
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	sessionCtx, cancel := context.WithCancel(context.Background())

	s := &Session{
		ticketID:    cfg.TicketID,
		user:        cfg.User,
		persistence: cfg.Persistence,
		logger:      cfg.Logger.With(zap.String("ticket_id", cfg.TicketID)),
		store:       NewStore(),
		names:       NewNameResolver(cfg.Persistence.ResolveDisplayNames),
		ctx:         sessionCtx,
		cancel:      cancel,
	}
	s.names.Prime(cfg.User.ID, cfg.User.Name)
	s.names.Prime(domain.SystemAuthorID, domain.SystemAuthorName)

	s.typing = NewTypingTracker(cfg.User.ID, cfg.User.Name, s.broadcastTyping, cfg.Options)
	s.adapter = NewAdapter(AdapterConfig{
		TicketID:    cfg.TicketID,
		Store:       s.store,
		Names:       s.names,
		Notifier:    cfg.Notifier,
		Persistence: cfg.Persistence,
		Logger:      s.logger,
		Metrics:     cfg.Metrics,
		Options:     cfg.Options,
		OnTyping:    s.typing.HandleRemote,
		OnState:     cfg.OnState,
		Reload:      s.Reload,
	})

	if err := s.Reload(ctx); err != nil {
		s.typing.Close()
		cancel()
		return nil, err
	}
	s.adapter.Start(sessionCtx)
	return s, nil
}

// Reload refetches the full ticket state and reseeds the store, resetting
// the duplicate-suppression sets and the gap-recovery watermark.
func (s *Session) Reload(ctx context.Context) error {
	ticket, messages, attachments, err := s.persistence.GetTicketDetail(ctx, s.ticketID)
	if err != nil {
		return apperrors.NewPersistenceError("load ticket", err)
	}

	ids := make([]string, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.AuthorID)
	}
	names, err := s.names.Resolve(ctx, ids)
	if err != nil {
		s.logger.Warn("display name resolution failed", zap.Error(err))
		names = map[string]string{}
	}
	for i := range messages {
		if messages[i].AuthorKind == domain.AuthorKindSystem {
			messages[i].AuthorName = domain.SystemAuthorName
			continue
		}
		if name, ok := names[messages[i].AuthorID]; ok {
			messages[i].AuthorName = name
		}
	}

	if s.isClosed() {
		return nil
	}
	s.mu.Lock()
	s.ticket = ticket
	s.mu.Unlock()
	s.store.Seed(messages, attachments)
	s.adapter.ResetKnown(messages, attachments)
	return nil
}

// Send validates, optimistically inserts, persists, then confirms a new
// message. On failure of any step the optimistic record is removed entirely;
// no partial state survives.
func (s *Session) Send(ctx context.Context, text string, image *ImageUpload, replyToID *string) (domain.Message, error) {
	if s.isClosed() {
		return domain.Message{}, apperrors.NewValidationError("session closed", nil)
	}

	text = strings.TrimSpace(text)
	if text == "" && image == nil {
		return domain.Message{}, apperrors.NewValidationError("message needs text or an image", nil)
	}
	if image != nil {
		if err := validateImage(*image); err != nil {
			return domain.Message{}, err
		}
	}

	body := text
	if body == "" {
		body = domain.PlaceholderBody
	}

	optimistic := domain.Message{
		ID:         domain.NewLocalID(),
		TicketID:   s.ticketID,
		AuthorID:   s.user.ID,
		AuthorKind: s.user.Kind,
		Body:       body,
		ReplyToID:  replyToID,
		CreatedAt:  time.Now(),
		AuthorName: s.user.Name,
		Sending:    true,
	}
	s.store.Upsert(optimistic)

	confirmed, err := s.persistence.InsertMessage(ctx, s.ticketID, s.user.ID, s.user.Kind, body, replyToID)
	if err != nil {
		s.rollbackSend(optimistic.ID)
		return domain.Message{}, apperrors.NewPersistenceError("send message", err)
	}

	var attachment *domain.Attachment
	if image != nil {
		attachment, err = s.persistence.InsertAttachment(ctx, s.ticketID, &confirmed.ID, s.user.ID, image.Data, image.FileName, image.MimeType)
		if err != nil {
			// The message must not survive without its promised
			// attachment. Remove it locally and best-effort on the
			// server, then surface the attachment failure.
			s.rollbackSend(optimistic.ID)
			if delErr := s.persistence.DeleteMessage(ctx, confirmed.ID); delErr != nil {
				s.logger.Warn("cleanup of half-sent message failed",
					zap.String("message_id", confirmed.ID), zap.Error(delErr))
			}
			return domain.Message{}, apperrors.NewPersistenceError("upload attachment", err)
		}
	}

	result := *confirmed
	result.AuthorName = s.user.Name
	result.Sending = false

	if s.isClosed() {
		return result, nil
	}
	s.store.Replace(optimistic.ID, result)
	s.adapter.RebroadcastMessage(ctx, result)
	if attachment != nil {
		s.store.UpsertAttachment(*attachment)
		s.adapter.RebroadcastAttachment(ctx, *attachment)
	}
	return result, nil
}

// Edit optimistically rewrites a message's text and stamps an edit time; on
// persistence failure it rolls back to the exact pre-edit record.
func (s *Session) Edit(ctx context.Context, messageID, newText string) error {
	if s.isClosed() {
		return apperrors.NewValidationError("session closed", nil)
	}
	newText = strings.TrimSpace(newText)
	if newText == "" {
		return apperrors.NewValidationError("message text required", nil)
	}

	previous, ok := s.store.Get(messageID)
	if !ok {
		return apperrors.NewNotFound("message", map[string]any{"id": messageID})
	}

	now := time.Now()
	updated := previous
	updated.Body = newText
	updated.EditedAt = &now
	s.store.Replace(messageID, updated)

	if err := s.persistence.UpdateMessage(ctx, messageID, newText); err != nil {
		if !s.isClosed() {
			s.store.Replace(messageID, previous)
		}
		return apperrors.NewPersistenceError("edit message", err)
	}

	if !s.isClosed() {
		s.adapter.RebroadcastMessage(ctx, updated)
	}
	return nil
}

// Remove deletes a message with a delete-first policy: the local record (and
// its attachments) disappear before the network call, and are re-inserted
// exactly if the call fails. A flicker on rollback beats a delay on every
// delete.
func (s *Session) Remove(ctx context.Context, messageID string) error {
	if s.isClosed() {
		return apperrors.NewValidationError("session closed", nil)
	}

	previous, cascaded, ok := s.store.Remove(messageID)
	if !ok {
		return apperrors.NewNotFound("message", map[string]any{"id": messageID})
	}

	if err := s.persistence.DeleteMessage(ctx, messageID); err != nil {
		if !s.isClosed() {
			s.store.Replace(previous.ID, previous)
			for _, att := range cascaded {
				s.store.UpsertAttachment(att)
			}
		}
		return apperrors.NewPersistenceError("delete message", err)
	}

	if !s.isClosed() {
		s.adapter.RebroadcastMessageDelete(ctx, messageID)
	}
	return nil
}

// SetTyping broadcasts the local typing state, debounced.
func (s *Session) SetTyping(isTyping bool) {
	if s.isClosed() {
		return
	}
	s.typing.SetTyping(isTyping)
}

// Ticket returns the loaded ticket.
func (s *Session) Ticket() *domain.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticket
}

// Messages returns the ordered message snapshot.
func (s *Session) Messages() []domain.Message {
	return s.store.Messages()
}

// Attachments returns all attachments with freshly signed URLs. URLs are
// recomputed on every call; their validity window is bounded.
func (s *Session) Attachments() []domain.Attachment {
	return ResolveAttachmentURLs(s.store.Attachments(), s.persistence.SignedURL)
}

// AttachmentsFor returns one message's attachments with signed URLs.
func (s *Session) AttachmentsFor(messageID string) []domain.Attachment {
	return ResolveAttachmentURLs(s.store.AttachmentsFor(messageID), s.persistence.SignedURL)
}

// DeletedReplyPlaceholder is shown when a reply target no longer exists.
const DeletedReplyPlaceholder = "message removed"

// ReplyPreview returns the body of the message a reply points at. A dangling
// reference (target deleted) degrades to a placeholder, never an error.
func (s *Session) ReplyPreview(replyToID *string) string {
	if replyToID == nil {
		return ""
	}
	if target, ok := s.store.Get(*replyToID); ok {
		return target.Body
	}
	return DeletedReplyPlaceholder
}

// Typing returns the display names of other users currently typing.
func (s *Session) Typing() []string {
	return s.typing.Typing()
}

// ConnectionState reports the realtime channel state.
func (s *Session) ConnectionState() ConnectionState {
	return s.adapter.State()
}

// Close tears down the subscription and timers. After Close returns no
// further mutation is applied to the store.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.adapter.Close()
	s.typing.Close()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// rollbackSend removes an optimistic record unless the session was torn
// down mid-flight (a defunct session never mutates its store).
func (s *Session) rollbackSend(optimisticID string) {
	if s.isClosed() {
		return
	}
	s.store.Remove(optimisticID)
}

func (s *Session) broadcastTyping(env TypingEnvelope) {
	if err := s.adapter.notifier.Broadcast(s.ctx, s.ticketID, EventTyping, env); err != nil {
		s.logger.Debug("typing broadcast failed", zap.Error(err))
	}
}

// validateImage enforces the attachment constraints before any network
// upload attempt.
func validateImage(img ImageUpload) error {
	if len(img.Data) == 0 {
		return apperrors.NewValidationError("image is empty", nil)
	}
	if int64(len(img.Data)) > domain.MaxAttachmentBytes {
		return apperrors.NewValidationError("image exceeds the size limit", map[string]any{
			"size_bytes": len(img.Data),
			"max_bytes":  domain.MaxAttachmentBytes,
		})
	}
	if !domain.AllowedImageType(img.MimeType) {
		return apperrors.NewValidationError("unsupported image type", map[string]any{
			"mime_type": img.MimeType,
		})
	}
	return nil
}
