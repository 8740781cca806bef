package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-chat/internal/domain"
	"github.com/spec-kit/support-chat/internal/observability"
)

// Channel-event metric kinds.
const (
	metricEventApplied        = "event_applied"
	metricDuplicateSuppressed = "duplicate_suppressed"
	metricReconnect           = "reconnect"
	metricGapRecovery         = "gap_recovery"
	metricFullReload          = "full_reload"
)

// Adapter bridges a single logical per-ticket event stream out of two
// delivery mechanisms that may both fire for the same mutation: the
// application-level broadcast sent by the acting client, and the row-level
// change feed delivered to every subscriber. Duplicate application is
// suppressed through known-id sets; connection drops trigger a fixed-delay
// resubscription plus a gap-recovery fetch.
type Adapter struct {
	ticketID    string
	store       *Store
	names       *NameResolver
	notifier    Notifier
	persistence Persistence
	logger      *zap.Logger
	metrics     *observability.Metrics
	opts        Options

	onTyping func(TypingEnvelope)
	onState  func(ConnectionState)
	// reload performs a full reseed of ticket state, the fallback when
	// gap recovery itself fails.
	reload func(ctx context.Context) error

	ctx context.Context

	mu               sync.Mutex
	state            ConnectionState
	knownMessages    map[string]struct{}
	knownAttachments map[string]struct{}
	lastStamp        string
	unsubscribe      func()
	// gen identifies the current subscription; state events carrying an
	// older generation belong to a stream connect already replaced.
	gen       int
	reconnect *time.Timer
	closed    bool
}

// AdapterConfig bundles adapter dependencies.
type AdapterConfig struct {
	TicketID    string
	Store       *Store
	Names       *NameResolver
	Notifier    Notifier
	Persistence Persistence
	Logger      *zap.Logger
	Metrics     *observability.Metrics
	Options     Options
	OnTyping    func(TypingEnvelope)
	OnState     func(ConnectionState)
	Reload      func(ctx context.Context) error
}

// NewAdapter constructs an adapter; call Start to subscribe.
func NewAdapter(cfg AdapterConfig) *Adapter {
	return &Adapter{
		ticketID:         cfg.TicketID,
		store:            cfg.Store,
		names:            cfg.Names,
		notifier:         cfg.Notifier,
		persistence:      cfg.Persistence,
		logger:           cfg.Logger,
		metrics:          cfg.Metrics,
		opts:             cfg.Options.withDefaults(),
		onTyping:         cfg.OnTyping,
		onState:          cfg.OnState,
		reload:           cfg.Reload,
		state:            StateConnecting,
		knownMessages:    make(map[string]struct{}),
		knownAttachments: make(map[string]struct{}),
	}
}

// Start subscribes to the ticket channel. Subscription failures are handled
// internally through the reconnect policy, never surfaced to the caller.
func (a *Adapter) Start(ctx context.Context) {
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()
	a.connect(false)
}

// State returns the current connection state.
func (a *Adapter) State() ConnectionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Close tears down the subscription and cancels any pending reconnect.
// Mandatory before a new adapter for the same viewer is created, so stale
// events never leak across tickets.
func (a *Adapter) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	if a.reconnect != nil {
		a.reconnect.Stop()
		a.reconnect = nil
	}
	unsub := a.unsubscribe
	a.unsubscribe = nil
	a.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// MarkMessageKnown records an id as already applied, so the echo of a
// locally-originated mutation is not re-inserted.
func (a *Adapter) MarkMessageKnown(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.knownMessages[id] = struct{}{}
}

// MarkAttachmentKnown records an attachment id as already applied.
func (a *Adapter) MarkAttachmentKnown(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.knownAttachments[id] = struct{}{}
}

// NoteStamp advances the gap-recovery watermark.
func (a *Adapter) NoteStamp(t time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.noteStampLocked(t)
}

// ResetKnown replaces the known-id sets and watermark after a full reseed.
func (a *Adapter) ResetKnown(messages []domain.Message, attachments []domain.Attachment) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.knownMessages = make(map[string]struct{}, len(messages))
	a.knownAttachments = make(map[string]struct{}, len(attachments))
	a.lastStamp = ""
	for _, m := range messages {
		a.knownMessages[m.ID] = struct{}{}
		a.noteStampLocked(m.CreatedAt)
	}
	for _, att := range attachments {
		a.knownAttachments[att.ID] = struct{}{}
		a.noteStampLocked(att.CreatedAt)
	}
}

// RebroadcastMessage publishes a confirmed record on the application channel
// so other subscribers receive it ahead of the change-feed path. Best-effort.
func (a *Adapter) RebroadcastMessage(ctx context.Context, m domain.Message) {
	a.MarkMessageKnown(m.ID)
	a.NoteStamp(m.CreatedAt)
	if err := a.notifier.Broadcast(ctx, a.ticketID, EventMessageSaved, EncodeMessage(m)); err != nil {
		a.logger.Debug("rebroadcast message failed", zap.String("message_id", m.ID), zap.Error(err))
	}
}

// RebroadcastMessageDelete publishes a confirmed deletion. Best-effort.
func (a *Adapter) RebroadcastMessageDelete(ctx context.Context, id string) {
	if err := a.notifier.Broadcast(ctx, a.ticketID, EventMessageDeleted, DeleteEnvelope{ID: id}); err != nil {
		a.logger.Debug("rebroadcast delete failed", zap.String("message_id", id), zap.Error(err))
	}
}

// RebroadcastAttachment publishes a confirmed attachment record. Best-effort.
func (a *Adapter) RebroadcastAttachment(ctx context.Context, att domain.Attachment) {
	a.MarkAttachmentKnown(att.ID)
	a.NoteStamp(att.CreatedAt)
	if err := a.notifier.Broadcast(ctx, a.ticketID, EventAttachmentSaved, EncodeAttachment(att)); err != nil {
		a.logger.Debug("rebroadcast attachment failed", zap.String("attachment_id", att.ID), zap.Error(err))
	}
}

func (a *Adapter) handlers(gen int) Handlers {
	return Handlers{
		Broadcast: a.handleBroadcast,
		Change:    a.handleChange,
		State: func(state ConnectionState) {
			a.handleState(gen, state)
		},
	}
}

func (a *Adapter) connect(recovering bool) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	ctx := a.ctx
	unsub := a.unsubscribe
	a.unsubscribe = nil
	a.gen++
	gen := a.gen
	a.mu.Unlock()

	// Old subscription goes away before the new one exists, to avoid
	// duplicate delivery. Its teardown may still surface a disconnect from
	// the dying receive loop; the stale generation filters that out.
	if unsub != nil {
		unsub()
	}

	a.setState(StateConnecting)
	newUnsub, err := a.notifier.Subscribe(ctx, a.ticketID, a.handlers(gen))
	if err != nil {
		a.logger.Warn("channel subscribe failed",
			zap.String("ticket_id", a.ticketID), zap.Error(err))
		a.setState(StateDisconnected)
		a.mu.Lock()
		a.scheduleReconnectLocked()
		a.mu.Unlock()
		return
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		newUnsub()
		return
	}
	a.unsubscribe = newUnsub
	a.mu.Unlock()

	a.setState(StateConnected)
	if recovering {
		a.recoverGap(ctx)
	}
}

func (a *Adapter) handleState(gen int, state ConnectionState) {
	a.mu.Lock()
	stale := gen != a.gen
	a.mu.Unlock()
	if stale {
		return
	}
	if state != StateDisconnected {
		a.setState(state)
		return
	}
	a.setState(StateDisconnected)
	a.mu.Lock()
	a.scheduleReconnectLocked()
	a.mu.Unlock()
}

func (a *Adapter) setState(state ConnectionState) {
	a.mu.Lock()
	if a.closed || a.state == state {
		a.mu.Unlock()
		return
	}
	a.state = state
	cb := a.onState
	a.mu.Unlock()

	if cb != nil {
		cb(state)
	}
}

func (a *Adapter) scheduleReconnectLocked() {
	if a.closed || a.reconnect != nil {
		return
	}
	a.reconnect = time.AfterFunc(a.opts.ReconnectDelay, func() {
		a.mu.Lock()
		a.reconnect = nil
		closed := a.closed
		a.mu.Unlock()
		if closed {
			return
		}
		a.metrics.RecordChannelEvent(metricReconnect)
		a.connect(true)
	})
}

// recoverGap fetches everything created after the last known stamp. When the
// fetch itself fails, falls back to a full reload of ticket state.
func (a *Adapter) recoverGap(ctx context.Context) {
	a.mu.Lock()
	stamp := a.lastStamp
	a.mu.Unlock()

	msgs, atts, err := a.persistence.FetchSince(ctx, a.ticketID, stamp)
	if err != nil {
		a.logger.Warn("gap recovery fetch failed; reloading ticket state",
			zap.String("ticket_id", a.ticketID), zap.Error(err))
		a.metrics.RecordChannelEvent(metricFullReload)
		if a.reload != nil {
			if reloadErr := a.reload(ctx); reloadErr != nil {
				a.logger.Error("full reload failed",
					zap.String("ticket_id", a.ticketID), zap.Error(reloadErr))
			}
		}
		return
	}

	a.metrics.RecordChannelEvent(metricGapRecovery)
	for _, m := range msgs {
		a.applyMessage(m)
	}
	for _, att := range atts {
		a.applyAttachment(att)
	}
}

func (a *Adapter) handleBroadcast(event string, payload []byte) {
	switch event {
	case EventMessageSaved:
		var env MessageEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			a.logger.Warn("bad message broadcast", zap.Error(err))
			return
		}
		msg, err := env.Decode()
		if err != nil {
			a.logger.Warn("bad message broadcast", zap.Error(err))
			return
		}
		a.applyMessage(msg)
	case EventMessageDeleted:
		var env DeleteEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			a.logger.Warn("bad delete broadcast", zap.Error(err))
			return
		}
		a.applyMessageDelete(env.ID)
	case EventAttachmentSaved:
		var env AttachmentEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			a.logger.Warn("bad attachment broadcast", zap.Error(err))
			return
		}
		att, err := env.Decode()
		if err != nil {
			a.logger.Warn("bad attachment broadcast", zap.Error(err))
			return
		}
		a.applyAttachment(att)
	case EventAttachmentDeleted:
		var env DeleteEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			a.logger.Warn("bad delete broadcast", zap.Error(err))
			return
		}
		a.applyAttachmentDelete(env.ID)
	case EventTyping:
		var env TypingEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			a.logger.Warn("bad typing broadcast", zap.Error(err))
			return
		}
		if a.onTyping != nil {
			a.onTyping(env)
		}
	}
}

func (a *Adapter) handleChange(ch Change) {
	switch {
	case ch.Message != nil:
		a.applyMessage(*ch.Message)
	case ch.Attachment != nil:
		a.applyAttachment(*ch.Attachment)
	case ch.Op == OpDelete && ch.MessageID != "":
		a.applyMessageDelete(ch.MessageID)
	case ch.Op == OpDelete && ch.AttachmentID != "":
		a.applyAttachmentDelete(ch.AttachmentID)
	}
}

// applyMessage merges a remote message into the store. An event for an
// already-known id (the other delivery path fired first, or it echoes a
// local mutation) never re-inserts; it only refreshes fields.
func (a *Adapter) applyMessage(m domain.Message) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	_, known := a.knownMessages[m.ID]
	a.knownMessages[m.ID] = struct{}{}
	a.noteStampLocked(m.CreatedAt)
	a.mu.Unlock()

	if m.AuthorKind == domain.AuthorKindSystem {
		m.AuthorName = domain.SystemAuthorName
	} else if name, ok := a.names.Cached(m.AuthorID); ok {
		m.AuthorName = name
	}

	a.store.Upsert(m)
	if known {
		a.metrics.RecordChannelEvent(metricDuplicateSuppressed)
	} else {
		a.metrics.RecordChannelEvent(metricEventApplied)
	}

	if m.AuthorName == "" {
		go a.resolveAuthor(m.ID, m.AuthorID)
	}
}

// resolveAuthor fills in the display name asynchronously: events in flight
// are applied immediately and patched once the lookup lands.
func (a *Adapter) resolveAuthor(messageID, authorID string) {
	a.mu.Lock()
	ctx := a.ctx
	a.mu.Unlock()

	name, err := a.names.ResolveOne(ctx, authorID)
	if err != nil {
		a.logger.Debug("author name lookup failed",
			zap.String("author_id", authorID), zap.Error(err))
		return
	}

	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return
	}
	a.store.SetAuthorName(messageID, name)
}

func (a *Adapter) applyMessageDelete(id string) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	delete(a.knownMessages, id)
	a.mu.Unlock()

	if _, _, ok := a.store.Remove(id); ok {
		a.metrics.RecordChannelEvent(metricEventApplied)
	}
}

func (a *Adapter) applyAttachment(att domain.Attachment) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	_, known := a.knownAttachments[att.ID]
	a.knownAttachments[att.ID] = struct{}{}
	a.noteStampLocked(att.CreatedAt)
	a.mu.Unlock()

	a.store.UpsertAttachment(att)
	if known {
		a.metrics.RecordChannelEvent(metricDuplicateSuppressed)
	} else {
		a.metrics.RecordChannelEvent(metricEventApplied)
	}
}

func (a *Adapter) applyAttachmentDelete(id string) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	delete(a.knownAttachments, id)
	a.mu.Unlock()

	if a.store.RemoveAttachment(id) {
		a.metrics.RecordChannelEvent(metricEventApplied)
	}
}

func (a *Adapter) noteStampLocked(t time.Time) {
	if t.IsZero() {
		return
	}
	stamp := domain.FormatStamp(t)
	if stamp > a.lastStamp {
		a.lastStamp = stamp
	}
}
