package stream

import (
	"testing"
	"time"

	"fleetcall/internal/calls"
)

func TestPublishFansOut(t *testing.T) {
	b := NewBus()
	s1 := b.Subscribe(4)
	s2 := b.Subscribe(4)
	defer b.Unsubscribe(s1)
	defer b.Unsubscribe(s2)

	b.Publish(calls.CallEvent{Type: calls.EventStatus, Timestamp: time.Now()})

	for i, s := range []*Subscriber{s1, s2} {
		select {
		case ev := <-s.C:
			if ev.Type != calls.EventStatus {
				t.Fatalf("sub %d: type = %s", i, ev.Type)
			}
		default:
			t.Fatalf("sub %d: no event delivered", i)
		}
	}
}

func TestTypedSubscriptionFilters(t *testing.T) {
	b := NewBus()
	transcripts := b.Subscribe(4, calls.EventTranscript)
	wildcard := b.Subscribe(4)
	defer b.Unsubscribe(transcripts)
	defer b.Unsubscribe(wildcard)

	b.Publish(calls.CallEvent{Type: calls.EventStatus})
	b.Publish(calls.CallEvent{Type: calls.EventTranscript})

	if got := len(transcripts.C); got != 1 {
		t.Fatalf("typed subscriber queued %d events, want 1", got)
	}
	if got := len(wildcard.C); got != 2 {
		t.Fatalf("wildcard subscriber queued %d events, want 2", got)
	}
}

func TestSlowSubscriberDropsWithoutBlocking(t *testing.T) {
	b := NewBus()
	slow := b.Subscribe(2)
	fast := b.Subscribe(8)
	defer b.Unsubscribe(slow)
	defer b.Unsubscribe(fast)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			b.Publish(calls.CallEvent{Type: calls.EventStatus})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a full subscriber queue")
	}

	if slow.Dropped() != 3 {
		t.Fatalf("dropped = %d, want 3", slow.Dropped())
	}
	if len(fast.C) != 5 {
		t.Fatalf("fast subscriber queued %d events, want 5", len(fast.C))
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	s := b.Subscribe(1)
	b.Unsubscribe(s)

	if _, ok := <-s.C; ok {
		t.Fatalf("expected closed channel")
	}
	if b.Len() != 0 {
		t.Fatalf("len = %d, want 0", b.Len())
	}

	// Double unsubscribe must not panic.
	b.Unsubscribe(s)
}

func TestPublishAfterUnsubscribe(t *testing.T) {
	b := NewBus()
	s := b.Subscribe(1)
	b.Unsubscribe(s)

	// Must not panic on the closed channel.
	b.Publish(calls.CallEvent{Type: calls.EventStatus})
}
