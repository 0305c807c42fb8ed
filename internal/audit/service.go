package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// Audit is internal-only, and callers should treat audit logging as
// best-effort: a failed append must never fail a call flow.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogDialerRun records one dispatch batch outcome.
func (s *Service) LogDialerRun(ctx context.Context, actorUserID, ip string, processed, started, failed int) error {
	return s.Append(ctx, Event{
		Type:        EventTypeDialerRun,
		ActorUserID: actorUserID,
		IPAddress:   ip,
		Message:     "dispatch batch finished",
		Metadata:    fmt.Sprintf(`{"processed":%d,"started":%d,"failed":%d}`, processed, started, failed),
	})
}

// LogCallStart records an operator-initiated dispatch.
func (s *Service) LogCallStart(ctx context.Context, actorUserID, actorRole, ip, callID, recipientID, provider string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeCallStart,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		CallID:      callID,
		RecipientID: recipientID,
		Provider:    provider,
		Message:     "call started",
	})
}

// LogCallHangup records an operator-initiated hangup.
func (s *Service) LogCallHangup(ctx context.Context, actorUserID, actorRole, ip, callID string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeCallHangup,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		CallID:      callID,
		Message:     "call hangup requested",
	})
}
