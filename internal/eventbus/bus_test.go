package eventbus

import (
	"testing"
)

func TestSubscribeFiltersByType(t *testing.T) {
	t.Parallel()
	b := New()
	all, unsubAll := b.Subscribe(8)
	defer unsubAll()
	cycles, unsubCycles := b.Subscribe(8, "cycle.*")
	defer unsubCycles()
	exact, unsubExact := b.Subscribe(8, "config.reloaded")
	defer unsubExact()

	b.Publish(Event{Type: "cycle.started"})
	b.Publish(Event{Type: "cycle.finished"})
	b.Publish(Event{Type: "config.reloaded"})

	if len(all) != 3 {
		t.Fatalf("all got %d events, want 3", len(all))
	}
	if len(cycles) != 2 {
		t.Fatalf("cycles got %d events, want 2", len(cycles))
	}
	if len(exact) != 1 {
		t.Fatalf("exact got %d events, want 1", len(exact))
	}
	if e := <-exact; e.Time.IsZero() {
		t.Fatal("publish should stamp the event time")
	}
}

func TestSlowSubscriberDropsWithoutBlocking(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: "cycle.coalesced"})
	}
	if len(ch) != 1 {
		t.Fatalf("buffered = %d, want 1", len(ch))
	}
	if got := b.Dropped(); got != 4 {
		t.Fatalf("dropped = %d, want 4", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(2)
	unsub()
	unsub()

	b.Publish(Event{Type: "cycle.started"})
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
}
