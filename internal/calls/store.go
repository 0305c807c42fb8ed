package calls

import (
	"context"
	"errors"
)

var (
	// ErrNotFound means the referenced call or recipient does not exist.
	ErrNotFound = errors.New("calls: not found")

	// ErrConflict means an optimistic status update lost the race; the
	// caller should reload and retry.
	ErrConflict = errors.New("calls: version conflict")

	// ErrInvalidTransition means the requested status change is illegal
	// (e.g. terminal back to non-terminal).
	ErrInvalidTransition = errors.New("calls: invalid transition")
)

// Store is the persistence contract for recipients and calls.
//
// Rows are assumed per-row strongly consistent. Cross-entity
// consistency (call + owning recipient) is handled by Lifecycle, not
// here.
type Store interface {
	// ListEligibleRecipients returns recipients with status new or
	// queued, oldest first. limit <= 0 means no limit.
	ListEligibleRecipients(ctx context.Context, limit int) ([]Recipient, error)

	GetRecipient(ctx context.Context, id string) (Recipient, error)

	// ClaimRecipient moves an eligible recipient to calling. It returns
	// false when the recipient is no longer eligible, which is how
	// concurrent dispatchers avoid double-dialing the same person.
	ClaimRecipient(ctx context.Context, id string) (bool, error)

	UpdateRecipientStatus(ctx context.Context, id string, status RecipientStatus) (Recipient, error)

	CreateCall(ctx context.Context, c Call) (Call, error)
	GetCall(ctx context.Context, id string) (Call, error)
	GetCallByProviderID(ctx context.Context, providerCallID string) (Call, error)

	// UpdateCallStatus applies a status change if the stored version
	// still equals expectedVersion, returning ErrConflict otherwise.
	UpdateCallStatus(ctx context.Context, id string, expectedVersion int64, status CallStatus, f TransitionFields) (Call, error)

	CountCallsByStatus(ctx context.Context, status CallStatus) (int, error)

	Stats(ctx context.Context) (Stats, error)
}
