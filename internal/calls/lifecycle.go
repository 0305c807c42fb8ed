package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Publisher receives canonical events for fan-out to live streams.
// stream.Bus satisfies it; tests use a recording stub.
type Publisher interface {
	Publish(ev CallEvent)
}

// Lifecycle enforces legal status transitions for calls and their
// owning recipients.
//
// Transitions on the same call serialize through the store's version
// check with a bounded retry; transitions on different calls proceed
// independently. A successful terminal transition moves the owning
// recipient in the same logical operation and publishes exactly one
// status event.
type Lifecycle struct {
	store Store
	bus   Publisher
	clock func() time.Time
}

func NewLifecycle(store Store, bus Publisher) *Lifecycle {
	return &Lifecycle{store: store, bus: bus, clock: time.Now}
}

// conflictRetries bounds how often a transition re-reads after losing
// the version race. Two writers per call is the realistic worst case
// (dispatcher vs. webhook), so a small bound suffices.
const conflictRetries = 3

// Transition moves a call to target, applying f with the same write.
//
// Idempotency: a call already in a terminal state accepts further
// terminal transition attempts as no-op successes, which is what makes
// duplicate webhook deliveries harmless. Terminal to non-terminal is
// rejected with ErrInvalidTransition. An unknown call id yields
// ErrNotFound.
func (l *Lifecycle) Transition(ctx context.Context, callID string, target CallStatus, f TransitionFields) (Call, error) {
	var lastErr error
	for attempt := 0; attempt <= conflictRetries; attempt++ {
		c, err := l.store.GetCall(ctx, callID)
		if err != nil {
			return Call{}, err
		}

		if c.Status == target {
			return c, nil
		}
		if c.Status.Terminal() {
			if target.Terminal() {
				// Duplicate end-of-call delivery with a different verdict;
				// the first one won.
				return c, nil
			}
			return Call{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, target)
		}
		if !legal(c.Status, target) {
			return Call{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, target)
		}

		if target.Terminal() {
			if f.EndedAt.IsZero() {
				f.EndedAt = l.clock().UTC()
			}
			if f.DurationSeconds == 0 {
				if d := int(f.EndedAt.Sub(c.StartedAt).Seconds()); d > 0 {
					f.DurationSeconds = d
				}
			}
		}

		updated, err := l.store.UpdateCallStatus(ctx, callID, c.Version, target, f)
		if err != nil {
			if errors.Is(err, ErrConflict) {
				lastErr = err
				continue
			}
			return Call{}, err
		}

		ev := CallEvent{Type: EventStatus, Timestamp: l.clock().UTC(), Call: &updated}
		if target.Terminal() {
			r, err := l.store.UpdateRecipientStatus(ctx, updated.RecipientID, RecipientStatusFor(target))
			if err != nil {
				// The call row is already terminal; surface the half-applied
				// recipient write instead of hiding it.
				return updated, fmt.Errorf("recipient update after terminal call: %w", err)
			}
			ev.Recipient = &r
		}
		if l.bus != nil {
			l.bus.Publish(ev)
		}
		return updated, nil
	}
	slog.Warn("call transition retries exhausted", "call_id", callID, "target", string(target))
	return Call{}, lastErr
}

// legal reports whether a non-terminal call may move to target.
func legal(from, to CallStatus) bool {
	switch from {
	case CallStatusInitiated:
		return to == CallStatusCalling || to.Terminal()
	case CallStatusCalling:
		return to.Terminal()
	default:
		return false
	}
}
