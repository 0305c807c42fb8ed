package stream

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"fleetcall/internal/calls"
)

// Bus is the in-process publish/subscribe fan-out for canonical call
// events.
//
// Delivery is synchronous into each subscriber's bounded channel and
// never blocks the publisher: a subscriber that stops draining loses
// events (counted on Dropped) instead of stalling its siblings. There
// is no buffering before subscription and no replay.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscriber]struct{}
}

// Subscriber is one registered event consumer. Read from C until it is
// closed; always Unsubscribe on teardown or the registry grows without
// bound.
type Subscriber struct {
	// C carries matching events. Closed by Unsubscribe.
	C chan calls.CallEvent

	types   map[calls.EventType]struct{} // nil means wildcard
	dropped atomic.Int64
}

// Dropped reports how many events overflowed this subscriber's queue.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

func NewBus() *Bus {
	return &Bus{subs: map[*Subscriber]struct{}{}}
}

// Subscribe registers a consumer for the given event types; no types
// means every type. buffer bounds the per-subscriber queue.
func (b *Bus) Subscribe(buffer int, types ...calls.EventType) *Subscriber {
	if buffer <= 0 {
		buffer = 16
	}
	s := &Subscriber{C: make(chan calls.CallEvent, buffer)}
	if len(types) > 0 {
		s.types = make(map[calls.EventType]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; !ok {
		return
	}
	delete(b.subs, s)
	close(s.C)
}

// Publish delivers ev to every subscriber registered for its type or
// for the wildcard. Full queues drop rather than block.
func (b *Bus) Publish(ev calls.CallEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if s.types != nil {
			if _, ok := s.types[ev.Type]; !ok {
				continue
			}
		}
		select {
		case s.C <- ev:
		default:
			if s.dropped.Add(1) == 1 {
				slog.Warn("event subscriber queue full, dropping", "type", string(ev.Type))
			}
		}
	}
}

// Len reports the current subscriber count.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
