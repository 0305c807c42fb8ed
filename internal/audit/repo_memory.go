package audit

import (
	"context"
	"sync"
)

// MemoryRepo keeps the operator action trail (dispatch runs, manual
// call starts, hangups) in memory, newest last. It backs tests and
// single-process deployments where losing the trail on restart is
// acceptable; a durable repository can replace it behind the same
// interface.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of the recorded trail in append order.
func (r *MemoryRepo) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
