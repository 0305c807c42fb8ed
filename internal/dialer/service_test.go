package dialer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"fleetcall/internal/calls"
	"fleetcall/internal/telephony"

	"golang.org/x/sync/errgroup"
)

// fakeProvider dispatches in memory and fails the phones told to fail.
type fakeProvider struct {
	mu        sync.Mutex
	name      string
	failPhone map[string]bool
	starts    map[string]int // phone -> Start invocations
	hangups   []string
	hangupErr error
	seq       int
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{name: name, failPhone: map[string]bool{}, starts: map[string]int{}}
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Start(ctx context.Context, req telephony.StartRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts[req.Phone]++
	if p.failPhone[req.Phone] {
		return "", telephony.ErrCallRejected
	}
	p.seq++
	return fmt.Sprintf("%s-%d", p.name, p.seq), nil
}

func (p *fakeProvider) Hangup(ctx context.Context, providerCallID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hangups = append(p.hangups, providerCallID)
	return p.hangupErr
}

func (p *fakeProvider) Health(ctx context.Context) error { return nil }

func (p *fakeProvider) Config() telephony.Info {
	return telephony.Info{Name: p.name, Kind: "voice-ai", Configured: true}
}

func (p *fakeProvider) totalStarts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.starts {
		n += c
	}
	return n
}

func newTestService(t *testing.T, store *calls.MemoryStore, provider *fakeProvider, cfg Config) *Service {
	t.Helper()
	registry, err := telephony.NewRegistry(provider.Name(), provider)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	lc := calls.NewLifecycle(store, nil)
	return NewService(store, lc, registry, NewMemoryGuard(), cfg)
}

func seedRecipients(store *calls.MemoryStore, n int) []calls.Recipient {
	base := time.Now().UTC().Add(-time.Hour)
	out := make([]calls.Recipient, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, store.AddRecipient(calls.Recipient{
			Name:      fmt.Sprintf("r%d", i),
			Phone:     fmt.Sprintf("+9190000000%02d", i),
			Status:    calls.RecipientStatusNew,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	return out
}

func TestProcessFailuresDoNotConsumeCapacity(t *testing.T) {
	store := calls.NewMemoryStore()
	provider := newFakeProvider("bolna")
	svc := newTestService(t, store, provider, Config{ConcurrencyCap: 2, BatchSize: 10})

	rs := seedRecipients(store, 3)
	provider.failPhone[rs[0].Phone] = true

	res, err := svc.ProcessScheduledCalls(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Processed != 3 || res.Started != 2 || res.Failed != 1 {
		t.Fatalf("result = %+v, want {3 2 1}", res)
	}

	// Failed dispatch lands the recipient in failed, the others in calling.
	r0, _ := store.GetRecipient(context.Background(), rs[0].ID)
	if r0.Status != calls.RecipientStatusFailed {
		t.Fatalf("failed recipient status = %s", r0.Status)
	}
	for _, r := range rs[1:] {
		got, _ := store.GetRecipient(context.Background(), r.ID)
		if got.Status != calls.RecipientStatusCalling {
			t.Fatalf("recipient %s status = %s, want calling", r.ID, got.Status)
		}
	}
}

func TestProcessRespectsConcurrencyCap(t *testing.T) {
	store := calls.NewMemoryStore()
	provider := newFakeProvider("bolna")
	svc := newTestService(t, store, provider, Config{ConcurrencyCap: 2, BatchSize: 10})

	seedRecipients(store, 5)

	res, err := svc.ProcessScheduledCalls(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Started != 2 {
		t.Fatalf("started = %d, want 2", res.Started)
	}

	// Nothing ended, so the next run has zero capacity.
	res, err = svc.ProcessScheduledCalls(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Processed != 0 || res.Started != 0 {
		t.Fatalf("expected idle run at cap, got %+v", res)
	}

	eligible, _ := store.ListEligibleRecipients(context.Background(), 0)
	if len(eligible) != 3 {
		t.Fatalf("eligible remaining = %d, want 3", len(eligible))
	}
}

func TestProcessRespectsBatchSize(t *testing.T) {
	store := calls.NewMemoryStore()
	provider := newFakeProvider("bolna")
	svc := newTestService(t, store, provider, Config{ConcurrencyCap: 10, BatchSize: 2})

	seedRecipients(store, 5)
	res, err := svc.ProcessScheduledCalls(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Started != 2 {
		t.Fatalf("started = %d, want batch size 2", res.Started)
	}
}

func TestProcessDialsOldestFirst(t *testing.T) {
	store := calls.NewMemoryStore()
	provider := newFakeProvider("bolna")
	svc := newTestService(t, store, provider, Config{ConcurrencyCap: 1, BatchSize: 10})

	rs := seedRecipients(store, 3)
	if _, err := svc.ProcessScheduledCalls(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}

	provider.mu.Lock()
	defer provider.mu.Unlock()
	if provider.starts[rs[0].Phone] != 1 {
		t.Fatalf("expected oldest recipient dialed, starts=%v", provider.starts)
	}
}

func TestConcurrentRunsNeverDoubleDial(t *testing.T) {
	store := calls.NewMemoryStore()
	provider := newFakeProvider("bolna")
	svc := newTestService(t, store, provider, Config{ConcurrencyCap: 100, BatchSize: 100})

	seedRecipients(store, 20)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := svc.ProcessScheduledCalls(context.Background())
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent runs: %v", err)
	}

	// The run guard lets one batch through at a time and the claim is
	// conditional, so every recipient is dialed at most once.
	provider.mu.Lock()
	for phone, n := range provider.starts {
		if n > 1 {
			t.Fatalf("recipient %s dialed %d times", phone, n)
		}
	}
	provider.mu.Unlock()
	if provider.totalStarts() > 20 {
		t.Fatalf("total starts = %d, want <= 20", provider.totalStarts())
	}
}

func TestStartCallExplicit(t *testing.T) {
	store := calls.NewMemoryStore()
	provider := newFakeProvider("bolna")
	svc := newTestService(t, store, provider, Config{})

	r := store.AddRecipient(calls.Recipient{Name: "Asha", Phone: "+919876543210"})
	call, err := svc.StartCall(context.Background(), r.ID, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if call.Status != calls.CallStatusCalling || call.ProviderCallID == "" {
		t.Fatalf("unexpected call: %+v", call)
	}

	// Second start while the first is live is rejected.
	if _, err := svc.StartCall(context.Background(), r.ID, ""); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("err = %v, want ErrNotEligible", err)
	}
}

func TestStartCallUnknownRecipient(t *testing.T) {
	svc := newTestService(t, calls.NewMemoryStore(), newFakeProvider("bolna"), Config{})
	if _, err := svc.StartCall(context.Background(), "missing", ""); !errors.Is(err, calls.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestHangupActiveCall(t *testing.T) {
	store := calls.NewMemoryStore()
	provider := newFakeProvider("bolna")
	svc := newTestService(t, store, provider, Config{})

	r := store.AddRecipient(calls.Recipient{Name: "Asha", Phone: "+919876543210"})
	call, err := svc.StartCall(context.Background(), r.ID, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := svc.Hangup(context.Background(), call.ID); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	got, _ := store.GetCall(context.Background(), call.ID)
	if got.Status != calls.CallStatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}

	provider.mu.Lock()
	defer provider.mu.Unlock()
	if len(provider.hangups) != 1 || provider.hangups[0] != call.ProviderCallID {
		t.Fatalf("provider hangups = %v", provider.hangups)
	}
}

func TestHangupIsNoOpOnUnknownAndTerminal(t *testing.T) {
	store := calls.NewMemoryStore()
	provider := newFakeProvider("bolna")
	svc := newTestService(t, store, provider, Config{})

	if err := svc.Hangup(context.Background(), "missing"); err != nil {
		t.Fatalf("unknown id: %v", err)
	}

	r := store.AddRecipient(calls.Recipient{Name: "Asha", Phone: "+919876543210"})
	call, _ := svc.StartCall(context.Background(), r.ID, "")
	if err := svc.Hangup(context.Background(), call.ID); err != nil {
		t.Fatalf("first hangup: %v", err)
	}
	if err := svc.Hangup(context.Background(), call.ID); err != nil {
		t.Fatalf("terminal hangup must be a no-op: %v", err)
	}

	provider.mu.Lock()
	defer provider.mu.Unlock()
	if len(provider.hangups) != 1 {
		t.Fatalf("terminal hangup reached provider: %v", provider.hangups)
	}
}

func TestHangupSurvivesProviderError(t *testing.T) {
	store := calls.NewMemoryStore()
	provider := newFakeProvider("bolna")
	provider.hangupErr = telephony.ErrProviderUnavailable
	svc := newTestService(t, store, provider, Config{})

	r := store.AddRecipient(calls.Recipient{Name: "Asha", Phone: "+919876543210"})
	call, _ := svc.StartCall(context.Background(), r.ID, "")

	if err := svc.Hangup(context.Background(), call.ID); err != nil {
		t.Fatalf("hangup must not surface provider failure: %v", err)
	}
	got, _ := store.GetCall(context.Background(), call.ID)
	if got.Status != calls.CallStatusCompleted {
		t.Fatalf("status = %s, want completed despite provider error", got.Status)
	}
}
