package chat

import (
	"sync"
	"testing"
	"time"
)

// typingRecorder captures broadcasts from a tracker under test.
type typingRecorder struct {
	mu   sync.Mutex
	sent []TypingEnvelope
}

func (r *typingRecorder) record(env TypingEnvelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, env)
}

func (r *typingRecorder) envelopes() []TypingEnvelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TypingEnvelope(nil), r.sent...)
}

func testTypingOptions() Options {
	return Options{
		TypingStartInterval: 50 * time.Millisecond,
		TypingTTL:           120 * time.Millisecond,
		TypingSweepInterval: 20 * time.Millisecond,
	}
}

func TestSetTypingDebouncesStarts(t *testing.T) {
	rec := &typingRecorder{}
	tracker := NewTypingTracker("me", "Me", rec.record, testTypingOptions())
	defer tracker.Close()

	for i := 0; i < 10; i++ {
		tracker.SetTyping(true)
	}

	var starts int
	for _, env := range rec.envelopes() {
		if env.IsTyping {
			starts++
		}
	}
	if starts != 1 {
		t.Errorf("start broadcasts = %d, want 1", starts)
	}
}

func TestSetTypingAllowsStartAfterInterval(t *testing.T) {
	rec := &typingRecorder{}
	tracker := NewTypingTracker("me", "Me", rec.record, testTypingOptions())
	defer tracker.Close()

	tracker.SetTyping(true)
	time.Sleep(70 * time.Millisecond)
	tracker.SetTyping(true)

	var starts int
	for _, env := range rec.envelopes() {
		if env.IsTyping {
			starts++
		}
	}
	if starts != 2 {
		t.Errorf("start broadcasts = %d, want 2", starts)
	}
}

func TestExplicitStopAlwaysBroadcasts(t *testing.T) {
	rec := &typingRecorder{}
	tracker := NewTypingTracker("me", "Me", rec.record, testTypingOptions())
	defer tracker.Close()

	tracker.SetTyping(true)
	tracker.SetTyping(false)

	envs := rec.envelopes()
	if len(envs) != 2 {
		t.Fatalf("broadcasts = %d, want 2", len(envs))
	}
	if envs[1].IsTyping {
		t.Error("second broadcast should be a stop")
	}
}

func TestAutoStopAfterInactivity(t *testing.T) {
	rec := &typingRecorder{}
	tracker := NewTypingTracker("me", "Me", rec.record, testTypingOptions())
	defer tracker.Close()

	tracker.SetTyping(true)
	time.Sleep(200 * time.Millisecond)

	envs := rec.envelopes()
	if len(envs) < 2 {
		t.Fatalf("broadcasts = %d, want start+auto-stop", len(envs))
	}
	last := envs[len(envs)-1]
	if last.IsTyping {
		t.Error("auto-stop broadcast missing")
	}
}

func TestExplicitStopCancelsAutoStop(t *testing.T) {
	rec := &typingRecorder{}
	tracker := NewTypingTracker("me", "Me", rec.record, testTypingOptions())
	defer tracker.Close()

	tracker.SetTyping(true)
	tracker.SetTyping(false)
	time.Sleep(200 * time.Millisecond)

	if got := len(rec.envelopes()); got != 2 {
		t.Errorf("broadcasts = %d, want exactly 2 (no auto-stop after explicit stop)", got)
	}
}

func TestHandleRemoteTracksTypers(t *testing.T) {
	tracker := NewTypingTracker("me", "Me", func(TypingEnvelope) {}, testTypingOptions())
	defer tracker.Close()

	tracker.HandleRemote(TypingEnvelope{UserID: "u2", UserName: "Bob", IsTyping: true})
	names := tracker.Typing()
	if len(names) != 1 || names[0] != "Bob" {
		t.Fatalf("Typing() = %v, want [Bob]", names)
	}

	tracker.HandleRemote(TypingEnvelope{UserID: "u2", UserName: "Bob", IsTyping: false})
	if names := tracker.Typing(); len(names) != 0 {
		t.Errorf("Typing() after stop = %v, want empty", names)
	}
}

func TestHandleRemoteIgnoresLocalEcho(t *testing.T) {
	tracker := NewTypingTracker("me", "Me", func(TypingEnvelope) {}, testTypingOptions())
	defer tracker.Close()

	tracker.HandleRemote(TypingEnvelope{UserID: "me", UserName: "Me", IsTyping: true})
	if names := tracker.Typing(); len(names) != 0 {
		t.Errorf("local echo tracked as remote typer: %v", names)
	}
}

func TestRemoteEntryExpires(t *testing.T) {
	tracker := NewTypingTracker("me", "Me", func(TypingEnvelope) {}, testTypingOptions())
	defer tracker.Close()

	tracker.HandleRemote(TypingEnvelope{UserID: "u2", UserName: "Bob", IsTyping: true})
	time.Sleep(200 * time.Millisecond)
	if names := tracker.Typing(); len(names) != 0 {
		t.Errorf("expired typer still reported: %v", names)
	}
}

func TestCloseSilencesTracker(t *testing.T) {
	rec := &typingRecorder{}
	tracker := NewTypingTracker("me", "Me", rec.record, testTypingOptions())
	tracker.Close()

	tracker.SetTyping(true)
	tracker.HandleRemote(TypingEnvelope{UserID: "u2", UserName: "Bob", IsTyping: true})
	if got := len(rec.envelopes()); got != 0 {
		t.Errorf("broadcasts after Close = %d, want 0", got)
	}
	if names := tracker.Typing(); len(names) != 0 {
		t.Errorf("Typing() after Close = %v, want empty", names)
	}
}
