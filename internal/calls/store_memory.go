package calls

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and local development.
// It honors the same version-check semantics as the Postgres store.
type MemoryStore struct {
	mu         sync.Mutex
	recipients map[string]Recipient
	byID       map[string]Call
	byProvider map[string]string // provider_call_id -> call id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		recipients: map[string]Recipient{},
		byID:       map[string]Call{},
		byProvider: map[string]string{},
	}
}

// AddRecipient seeds a recipient, assigning an id and created_at when
// missing. Creation is otherwise a collaborator concern.
func (s *MemoryStore) AddRecipient(r Recipient) Recipient {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = RecipientStatusNew
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	s.recipients[r.ID] = r
	return r
}

func (s *MemoryStore) ListEligibleRecipients(ctx context.Context, limit int) ([]Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Recipient, 0)
	for _, r := range s.recipients {
		if r.Status.Eligible() {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) GetRecipient(ctx context.Context, id string) (Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recipients[id]
	if !ok {
		return Recipient{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) ClaimRecipient(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recipients[id]
	if !ok {
		return false, ErrNotFound
	}
	if !r.Status.Eligible() {
		return false, nil
	}
	r.Status = RecipientStatusCalling
	s.recipients[id] = r
	return true, nil
}

func (s *MemoryStore) UpdateRecipientStatus(ctx context.Context, id string, status RecipientStatus) (Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recipients[id]
	if !ok {
		return Recipient{}, ErrNotFound
	}
	r.Status = status
	s.recipients[id] = r
	return r, nil
}

func (s *MemoryStore) CreateCall(ctx context.Context, c Call) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = CallStatusInitiated
	}
	if c.StartedAt.IsZero() {
		c.StartedAt = time.Now().UTC()
	}
	c.Version = 1
	s.byID[c.ID] = c
	if c.ProviderCallID != "" {
		s.byProvider[c.ProviderCallID] = c.ID
	}
	return c, nil
}

func (s *MemoryStore) GetCall(ctx context.Context, id string) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) GetCallByProviderID(ctx context.Context, providerCallID string) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byProvider[providerCallID]
	if !ok {
		return Call{}, ErrNotFound
	}
	return s.byID[id], nil
}

func (s *MemoryStore) UpdateCallStatus(ctx context.Context, id string, expectedVersion int64, status CallStatus, f TransitionFields) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	if c.Version != expectedVersion {
		return Call{}, ErrConflict
	}
	c.Status = status
	applyFields(&c, f)
	c.Version++
	s.byID[id] = c
	if c.ProviderCallID != "" {
		s.byProvider[c.ProviderCallID] = c.ID
	}
	return c, nil
}

func (s *MemoryStore) CountCallsByStatus(ctx context.Context, status CallStatus) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.byID {
		if c.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{TotalRecipients: len(s.recipients), TotalCalls: len(s.byID)}
	for _, c := range s.byID {
		switch c.Status {
		case CallStatusCompleted:
			st.CompletedCalls++
		case CallStatusFailed, CallStatusNoAnswer:
			st.FailedCalls++
		case CallStatusInitiated, CallStatusCalling:
			st.ActiveCalls++
		}
	}
	if st.TotalCalls > 0 {
		st.SuccessRate = st.CompletedCalls * 100 / st.TotalCalls
	}
	return st, nil
}

// applyFields merges non-zero transition fields into the call row.
func applyFields(c *Call, f TransitionFields) {
	if f.ProviderCallID != "" {
		c.ProviderCallID = f.ProviderCallID
	}
	if f.Transcript != "" {
		c.Transcript = f.Transcript
	}
	if f.Summary != "" {
		c.Summary = f.Summary
	}
	if f.RecordingURL != "" {
		c.RecordingURL = f.RecordingURL
	}
	if f.Reason != "" {
		c.Reason = f.Reason
	}
	if f.DurationSeconds > 0 {
		c.DurationSeconds = f.DurationSeconds
	}
	if !f.EndedAt.IsZero() {
		t := f.EndedAt
		c.EndedAt = &t
	}
}
