package chat

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TypingTracker maintains ephemeral typing presence for one ticket: outbound
// debounced typing broadcasts for the local user and an expiring map of
// remote typers.
type TypingTracker struct {
	mu sync.Mutex

	localID   string
	localName string
	broadcast func(TypingEnvelope)
	opts      Options

	limiter   *rate.Limiter
	stopTimer *time.Timer
	started   bool

	entries map[string]typingEntry

	sweeper *time.Ticker
	done    chan struct{}
	closed  bool
}

type typingEntry struct {
	name   string
	expiry time.Time
}

// NewTypingTracker starts a tracker. The broadcast function publishes a
// typing envelope on the ticket channel; it is called outside the tracker
// lock.
func NewTypingTracker(localID, localName string, broadcast func(TypingEnvelope), opts Options) *TypingTracker {
	opts = opts.withDefaults()
	t := &TypingTracker{
		localID:   localID,
		localName: localName,
		broadcast: broadcast,
		opts:      opts,
		limiter:   rate.NewLimiter(rate.Every(opts.TypingStartInterval), 1),
		entries:   make(map[string]typingEntry),
		sweeper:   time.NewTicker(opts.TypingSweepInterval),
		done:      make(chan struct{}),
	}
	go t.sweepLoop()
	return t
}

// SetTyping broadcasts the local typing state. "Started" events are limited
// to one per interval; calls inside the window are dropped but still defer
// the automatic stop. An automatic "stopped" broadcast fires after the
// inactivity window when no explicit stop was sent.
func (t *TypingTracker) SetTyping(isTyping bool) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}

	var send bool
	if isTyping {
		t.resetStopTimerLocked()
		send = t.limiter.Allow()
		t.started = true
	} else {
		t.cancelStopTimerLocked()
		t.started = false
		send = true
	}
	t.mu.Unlock()

	if send {
		t.broadcast(TypingEnvelope{UserID: t.localID, UserName: t.localName, IsTyping: isTyping})
	}
}

// HandleRemote applies an inbound typing event. Events from the local user
// are ignored.
func (t *TypingTracker) HandleRemote(env TypingEnvelope) {
	if env.UserID == "" || env.UserID == t.localID {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if env.IsTyping {
		t.entries[env.UserID] = typingEntry{
			name:   env.UserName,
			expiry: time.Now().Add(t.opts.TypingTTL),
		}
	} else {
		delete(t.entries, env.UserID)
	}
}

// Typing returns the display names of users currently typing. Order is
// unspecified.
func (t *TypingTracker) Typing() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	var names []string
	for _, entry := range t.entries {
		if entry.expiry.After(now) {
			names = append(names, entry.name)
		}
	}
	return names
}

// Close cancels timers and stops the sweep loop. No broadcast fires after
// Close returns.
func (t *TypingTracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.cancelStopTimerLocked()
	t.sweeper.Stop()
	close(t.done)
	t.mu.Unlock()
}

func (t *TypingTracker) resetStopTimerLocked() {
	if t.stopTimer != nil {
		t.stopTimer.Stop()
	}
	t.stopTimer = time.AfterFunc(t.opts.TypingTTL, t.autoStop)
}

func (t *TypingTracker) cancelStopTimerLocked() {
	if t.stopTimer != nil {
		t.stopTimer.Stop()
		t.stopTimer = nil
	}
}

func (t *TypingTracker) autoStop() {
	t.mu.Lock()
	if t.closed || !t.started {
		t.mu.Unlock()
		return
	}
	t.started = false
	t.stopTimer = nil
	t.mu.Unlock()

	t.broadcast(TypingEnvelope{UserID: t.localID, UserName: t.localName, IsTyping: false})
}

func (t *TypingTracker) sweepLoop() {
	for {
		select {
		case <-t.done:
			return
		case <-t.sweeper.C:
			t.mu.Lock()
			now := time.Now()
			for id, entry := range t.entries {
				if !entry.expiry.After(now) {
					delete(t.entries, id)
				}
			}
			t.mu.Unlock()
		}
	}
}
