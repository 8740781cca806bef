package chat

import "time"

// Options controls the timing behavior of a session. The zero value is
// usable; unset fields take the production defaults below. Tests compress
// these intervals.
type Options struct {
	// ReconnectDelay is the fixed (not exponential) delay before a
	// resubscription attempt after a channel drop.
	ReconnectDelay time.Duration
	// TypingStartInterval bounds outbound "typing started" broadcasts to
	// one per interval; extra calls are dropped, not queued.
	TypingStartInterval time.Duration
	// TypingTTL is both the inactivity window before an automatic
	// "typing stopped" broadcast and the expiry for inbound entries.
	TypingTTL time.Duration
	// TypingSweepInterval is the eviction cadence for expired entries.
	TypingSweepInterval time.Duration
}

const (
	defaultReconnectDelay      = 2 * time.Second
	defaultTypingStartInterval = 1000 * time.Millisecond
	defaultTypingTTL           = 3500 * time.Millisecond
	defaultTypingSweepInterval = 1000 * time.Millisecond
)

func (o Options) withDefaults() Options {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = defaultReconnectDelay
	}
	if o.TypingStartInterval <= 0 {
		o.TypingStartInterval = defaultTypingStartInterval
	}
	if o.TypingTTL <= 0 {
		o.TypingTTL = defaultTypingTTL
	}
	if o.TypingSweepInterval <= 0 {
		o.TypingSweepInterval = defaultTypingSweepInterval
	}
	return o
}
