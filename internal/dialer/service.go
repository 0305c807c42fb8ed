// Package dialer dispatches queued outbound calls through provider
// adapters under a concurrency cap, and owns the best-effort hangup
// path.
package dialer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fleetcall/internal/calls"
	"fleetcall/internal/telephony"
	"fleetcall/pkg/logger"
)

// ErrNotEligible means the recipient is not in a dispatchable status
// (or another dispatcher already claimed it).
var ErrNotEligible = errors.New("dialer: recipient not eligible")

// Config holds the dispatch knobs.
type Config struct {
	// ConcurrencyCap bounds how many calls may be in flight at once.
	ConcurrencyCap int
	// BatchSize bounds successful dispatches per run.
	BatchSize int
	// CallTimeout bounds each provider Start invocation; a timeout is
	// treated exactly like a provider failure.
	CallTimeout time.Duration
	// DispatchDelay is an optional pause between dispatches for
	// provider throughput limits.
	DispatchDelay time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.ConcurrencyCap <= 0 {
		out.ConcurrencyCap = 3
	}
	if out.BatchSize <= 0 {
		out.BatchSize = 10
	}
	if out.CallTimeout <= 0 {
		out.CallTimeout = 30 * time.Second
	}
	return out
}

// BatchResult is the aggregate outcome of one dispatch run.
type BatchResult struct {
	Processed int `json:"processed"`
	Started   int `json:"started"`
	Failed    int `json:"failed"`
}

// Service selects eligible recipients and dispatches them through
// provider adapters. One recipient failing never aborts the batch.
type Service struct {
	store     calls.Store
	lifecycle *calls.Lifecycle
	registry  *telephony.Registry
	guard     Guard
	cfg       Config
	clock     func() time.Time
}

func NewService(store calls.Store, lifecycle *calls.Lifecycle, registry *telephony.Registry, guard Guard, cfg Config) *Service {
	if guard == nil {
		guard = NewMemoryGuard()
	}
	return &Service{
		store:     store,
		lifecycle: lifecycle,
		registry:  registry,
		guard:     guard,
		cfg:       cfg.withDefaults(),
		clock:     time.Now,
	}
}

// ProcessScheduledCalls runs one dispatch batch. It is a discrete,
// idempotent unit of work: safe to invoke from a timer, an operator
// action, or both at once (a concurrent run short-circuits to an empty
// result).
//
// Failures do not consume capacity: the run keeps attempting eligible
// recipients, oldest first, until it has started min(batchSize,
// remaining capacity) calls or run out of candidates.
func (s *Service) ProcessScheduledCalls(ctx context.Context) (BatchResult, error) {
	log := logger.From(ctx)
	var res BatchResult

	releaseRun, ok := s.guard.AcquireRun(ctx)
	if !ok {
		log.Debug("dispatch run already in flight, skipping")
		return res, nil
	}
	defer releaseRun()

	inFlight, err := s.store.CountCallsByStatus(ctx, calls.CallStatusCalling)
	if err != nil {
		return res, fmt.Errorf("count in-flight calls: %w", err)
	}
	capacity := s.cfg.ConcurrencyCap - inFlight
	if capacity <= 0 {
		log.Debug("no dispatch capacity", "in_flight", inFlight, "cap", s.cfg.ConcurrencyCap)
		return res, nil
	}
	target := capacity
	if s.cfg.BatchSize < target {
		target = s.cfg.BatchSize
	}

	eligible, err := s.store.ListEligibleRecipients(ctx, 0)
	if err != nil {
		return res, fmt.Errorf("list eligible recipients: %w", err)
	}

	for i, r := range eligible {
		if res.Started >= target {
			break
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		releaseRecipient, ok := s.guard.AcquireRecipient(ctx, r.ID)
		if !ok {
			continue
		}
		claimed, err := s.store.ClaimRecipient(ctx, r.ID)
		if err != nil || !claimed {
			releaseRecipient()
			if err != nil {
				log.Warn("recipient claim failed", "recipient_id", r.ID, "err", err)
			}
			continue
		}

		res.Processed++
		if _, err := s.dispatch(ctx, r, ""); err != nil {
			res.Failed++
			log.Warn("dispatch failed", "recipient_id", r.ID, "err", err)
		} else {
			res.Started++
		}
		releaseRecipient()

		if s.cfg.DispatchDelay > 0 && i < len(eligible)-1 && res.Started < target {
			s.pause(ctx)
		}
	}

	log.Info("dispatch run finished",
		"processed", res.Processed, "started", res.Started, "failed", res.Failed)
	return res, nil
}

// StartCall dispatches one recipient immediately, outside the batch
// flow. providerName empty selects the default adapter.
func (s *Service) StartCall(ctx context.Context, recipientID, providerName string) (calls.Call, error) {
	r, err := s.store.GetRecipient(ctx, recipientID)
	if err != nil {
		return calls.Call{}, err
	}
	if _, err := s.registry.Get(providerName); err != nil {
		return calls.Call{}, err
	}

	releaseRecipient, ok := s.guard.AcquireRecipient(ctx, r.ID)
	if !ok {
		return calls.Call{}, ErrNotEligible
	}
	defer releaseRecipient()

	claimed, err := s.store.ClaimRecipient(ctx, r.ID)
	if err != nil {
		return calls.Call{}, err
	}
	if !claimed {
		return calls.Call{}, ErrNotEligible
	}

	created, err := s.dispatch(ctx, r, providerName)
	if err != nil {
		return calls.Call{}, err
	}
	// Re-read so the caller sees the provider call id and the calling
	// status written by the transition.
	return s.store.GetCall(ctx, created.ID)
}

// dispatch creates the call row and drives the provider Start under
// the per-call timeout. The recipient must already be claimed.
func (s *Service) dispatch(ctx context.Context, r calls.Recipient, providerName string) (calls.Call, error) {
	provider, err := s.registry.Get(providerName)
	if err != nil {
		// No adapter: release the claim by failing the dispatch.
		_, _ = s.store.UpdateRecipientStatus(ctx, r.ID, calls.RecipientStatusFailed)
		return calls.Call{}, err
	}

	created, err := s.store.CreateCall(ctx, calls.Call{
		RecipientID: r.ID,
		Provider:    provider.Name(),
		Status:      calls.CallStatusInitiated,
		StartedAt:   s.clock().UTC(),
	})
	if err != nil {
		_, _ = s.store.UpdateRecipientStatus(ctx, r.ID, calls.RecipientStatusFailed)
		return calls.Call{}, fmt.Errorf("create call: %w", err)
	}

	startCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	providerCallID, err := provider.Start(startCtx, telephony.StartRequest{
		CallID:        created.ID,
		RecipientName: r.Name,
		Phone:         r.Phone,
	})
	if err != nil {
		reason := err.Error()
		if errors.Is(startCtx.Err(), context.DeadlineExceeded) {
			reason = "dispatch timeout after " + s.cfg.CallTimeout.String()
		}
		// Terminal transition also moves the recipient to failed.
		if _, terr := s.lifecycle.Transition(ctx, created.ID, calls.CallStatusFailed,
			calls.TransitionFields{Reason: reason}); terr != nil {
			return calls.Call{}, fmt.Errorf("record dispatch failure: %v (start: %w)", terr, err)
		}
		return calls.Call{}, err
	}

	if _, err := s.lifecycle.Transition(ctx, created.ID, calls.CallStatusCalling,
		calls.TransitionFields{ProviderCallID: providerCallID}); err != nil {
		return calls.Call{}, fmt.Errorf("mark calling: %w", err)
	}
	return created, nil
}

// Hangup ends a call locally and, best effort, at the provider.
//
// An unknown or already-terminal call id is a no-op success; the remote
// call may well have ended before the operator clicked, and the
// provider-side failure must never surface to the cleanup caller.
func (s *Service) Hangup(ctx context.Context, callID string) error {
	log := logger.From(ctx)

	c, err := s.store.GetCall(ctx, callID)
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			return nil
		}
		return err
	}
	if c.Status.Terminal() {
		return nil
	}

	if c.ProviderCallID != "" {
		if provider, perr := s.registry.Get(c.Provider); perr == nil {
			hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if herr := provider.Hangup(hctx, c.ProviderCallID); herr != nil {
				log.Warn("provider hangup failed, proceeding with local cleanup",
					"call_id", c.ID, "provider", c.Provider, "err", herr)
			}
			cancel()
		}
	}

	_, err = s.lifecycle.Transition(ctx, c.ID, calls.CallStatusCompleted, calls.TransitionFields{
		EndedAt: s.clock().UTC(),
	})
	if errors.Is(err, calls.ErrInvalidTransition) {
		// Raced with a terminal webhook; the call is already closed.
		return nil
	}
	return err
}

func (s *Service) pause(ctx context.Context) {
	t := time.NewTimer(s.cfg.DispatchDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
