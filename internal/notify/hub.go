// Package notify implements the per-ticket notification hub backing the chat
// layer: application-level events travel over Redis pub/sub, while a shared
// Postgres LISTEN connection feeds row-level changes captured by the
// notify_ticket_change trigger.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/support-chat/internal/chat"
	"github.com/spec-kit/support-chat/internal/observability"
)

const (
	changeChannel = "ticket_changes"

	// listenRetryDelay paces reconnect attempts for the LISTEN connection.
	listenRetryDelay = 2 * time.Second
)

// envelope is the Redis wire frame: an event name plus its JSON payload.
type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Hub multiplexes per-ticket subscriptions over Redis pub/sub and a single
// Postgres LISTEN connection. It satisfies chat.Notifier.
type Hub struct {
	rdb     *redis.Client
	pool    *pgxpool.Pool
	logger  *zap.Logger
	metrics *observability.Metrics

	mu     sync.Mutex
	nextID int
	// subs holds change/state handlers per ticket; broadcast delivery runs
	// through each subscription's own Redis pubsub instead.
	subs map[string]map[int]chat.Handlers

	cancelListen context.CancelFunc
}

// NewHub creates a hub. Call Start to launch the change-feed listener.
func NewHub(rdb *redis.Client, pool *pgxpool.Pool, logger *zap.Logger, metrics *observability.Metrics) *Hub {
	return &Hub{
		rdb:     rdb,
		pool:    pool,
		logger:  logger,
		metrics: metrics,
		subs:    make(map[string]map[int]chat.Handlers),
	}
}

// Start launches the Postgres LISTEN loop. The loop restarts its connection on
// failure and runs until the context is cancelled or Close is called.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	if h.cancelListen != nil {
		h.mu.Unlock()
		return
	}
	listenCtx, cancel := context.WithCancel(ctx)
	h.cancelListen = cancel
	h.mu.Unlock()

	go h.listenLoop(listenCtx)
}

// Close stops the change-feed listener. Per-ticket subscriptions are released
// by their own unsubscribe functions.
func (h *Hub) Close() {
	h.mu.Lock()
	cancel := h.cancelListen
	h.cancelListen = nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Subscribe attaches handlers to the ticket channel. The returned function
// detaches them and closes the Redis subscription.
func (h *Hub) Subscribe(ctx context.Context, ticketID string, handlers chat.Handlers) (func(), error) {
	pubsub := h.rdb.Subscribe(ctx, ticketChannel(ticketID))
	// Receive blocks until the server acknowledges the SUBSCRIBE, so a nil
	// error here means the subscription is live.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe ticket %s: %w", ticketID, err)
	}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[ticketID] == nil {
		h.subs[ticketID] = make(map[int]chat.Handlers)
	}
	h.subs[ticketID][id] = handlers
	h.mu.Unlock()

	done := make(chan struct{})
	closing := make(chan struct{})
	go h.receiveLoop(ctx, pubsub, handlers, closing, done)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[ticketID]; ok {
				delete(set, id)
				if len(set) == 0 {
					delete(h.subs, ticketID)
				}
			}
			h.mu.Unlock()
			// Flag the teardown before closing, so the receive loop does
			// not report the close-induced error as a channel drop.
			close(closing)
			_ = pubsub.Close()
			<-done
		})
	}
	return unsubscribe, nil
}

// Broadcast publishes an application-level event on the ticket channel.
func (h *Hub) Broadcast(ctx context.Context, ticketID, event string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	frame, err := json.Marshal(envelope{Event: event, Payload: body})
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", event, err)
	}
	if err := h.rdb.Publish(ctx, ticketChannel(ticketID), frame).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", event, err)
	}
	return nil
}

func ticketChannel(ticketID string) string {
	return "ticket:" + ticketID
}

// receiveLoop pumps Redis messages into the subscriber's broadcast handler.
// A receive error on a live subscription means the connection dropped and the
// subscriber is told so it can run its reconnect policy; errors caused by a
// deliberate unsubscribe or client shutdown are not drops and stay silent.
func (h *Hub) receiveLoop(ctx context.Context, pubsub *redis.PubSub, handlers chat.Handlers, closing <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			select {
			case <-closing:
				return
			default:
			}
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return
			}
			h.logger.Warn("pubsub receive failed", zap.Error(err))
			if handlers.State != nil {
				handlers.State(chat.StateDisconnected)
			}
			return
		}
		var frame envelope
		if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
			h.logger.Warn("bad pubsub frame", zap.String("channel", msg.Channel), zap.Error(err))
			continue
		}
		if handlers.Broadcast != nil {
			handlers.Broadcast(frame.Event, frame.Payload)
		}
	}
}

// listenLoop keeps a LISTEN connection on the change channel, reacquiring it
// after failures.
func (h *Hub) listenLoop(ctx context.Context) {
	for ctx.Err() == nil {
		if err := h.listenOnce(ctx); err != nil && ctx.Err() == nil {
			h.logger.Warn("change feed listener lost; retrying",
				zap.String("channel", changeChannel), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(listenRetryDelay):
		}
	}
}

func (h *Hub) listenOnce(ctx context.Context) error {
	conn, err := h.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+changeChannel); err != nil {
		return fmt.Errorf("listen %s: %w", changeChannel, err)
	}
	h.logger.Info("change feed listener attached", zap.String("channel", changeChannel))

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		h.dispatchChange([]byte(notification.Payload))
	}
}

func (h *Hub) dispatchChange(payload []byte) {
	ticketID, change, err := decodeChange(payload)
	if err != nil {
		h.logger.Warn("bad change payload", zap.Error(err))
		return
	}
	if change == nil {
		return
	}
	h.metrics.RecordChannelEvent("change_feed")

	h.mu.Lock()
	set := h.subs[ticketID]
	handlers := make([]chat.Handlers, 0, len(set))
	for _, hd := range set {
		handlers = append(handlers, hd)
	}
	h.mu.Unlock()

	for _, hd := range handlers {
		if hd.Change != nil {
			hd.Change(*change)
		}
	}
}
