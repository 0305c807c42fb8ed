package calls

import "time"

// Recipient is the person an outbound call targets.
//
// Status lifecycle: new/queued recipients are eligible for dispatch,
// calling means a call is in flight, completed/failed are set by
// terminal call transitions. contacted/qualified/disqualified come from
// operator review via the CRUD surface, not from this package.
//
// Invariant: at most one call per recipient has status "calling".
type Recipient struct {
	ID     string          `json:"id" db:"id"`
	Name   string          `json:"name" db:"name"`
	Phone  string          `json:"phone" db:"phone"`
	Status RecipientStatus `json:"status" db:"status"`

	// Source records where the recipient was imported from (optional).
	Source string `json:"source,omitempty" db:"source"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type RecipientStatus string

const (
	RecipientStatusNew          RecipientStatus = "new"
	RecipientStatusQueued       RecipientStatus = "queued"
	RecipientStatusCalling      RecipientStatus = "calling"
	RecipientStatusCompleted    RecipientStatus = "completed"
	RecipientStatusFailed       RecipientStatus = "failed"
	RecipientStatusContacted    RecipientStatus = "contacted"
	RecipientStatusQualified    RecipientStatus = "qualified"
	RecipientStatusDisqualified RecipientStatus = "disqualified"
)

// Eligible reports whether a recipient may be dispatched.
func (s RecipientStatus) Eligible() bool {
	return s == RecipientStatusNew || s == RecipientStatusQueued
}

// Call is one attempt to reach a recipient through a provider.
//
// Version is an optimistic concurrency token: every status update
// carries the version it read, and the store rejects stale writes with
// ErrConflict. That serializes transitions per call without any global
// lock.
type Call struct {
	ID          string `json:"id" db:"id"`
	RecipientID string `json:"recipient_id" db:"recipient_id"`

	// Provider is the adapter name ("bolna", "tata", ...).
	Provider string `json:"provider" db:"provider"`
	// ProviderCallID is the provider's identifier, recorded at dispatch.
	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`

	Status CallStatus `json:"status" db:"status"`

	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	DurationSeconds int        `json:"duration_seconds,omitempty" db:"duration_seconds"`

	Transcript   string `json:"transcript,omitempty" db:"transcript"`
	Summary      string `json:"summary,omitempty" db:"summary"`
	RecordingURL string `json:"recording_url,omitempty" db:"recording_url"`

	// Reason holds the failure reason for failed dispatches.
	Reason string `json:"reason,omitempty" db:"reason"`

	Version int64 `json:"-" db:"version"`
}

type CallStatus string

const (
	CallStatusInitiated CallStatus = "initiated"
	CallStatusCalling   CallStatus = "calling"
	CallStatusCompleted CallStatus = "completed"
	CallStatusFailed    CallStatus = "failed"
	CallStatusNoAnswer  CallStatus = "no-answer"
)

// Terminal reports whether no further transition is permitted.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusFailed, CallStatusNoAnswer:
		return true
	default:
		return false
	}
}

// RecipientStatusFor maps a terminal call status to the recipient status
// applied in the same logical transition.
func RecipientStatusFor(s CallStatus) RecipientStatus {
	if s == CallStatusCompleted {
		return RecipientStatusCompleted
	}
	return RecipientStatusFailed
}

// EventType classifies canonical call events on the live stream.
type EventType string

const (
	EventConnected  EventType = "connected"
	EventUpdate     EventType = "update"
	EventStatus     EventType = "status"
	EventTranscript EventType = "transcript"
	EventError      EventType = "error"
)

// CallEvent is the canonical real-time notification fanned out to
// dashboard streams. Call and Recipient are optional payloads.
type CallEvent struct {
	Type      EventType  `json:"type"`
	Timestamp time.Time  `json:"timestamp"`
	Call      *Call      `json:"call,omitempty"`
	Recipient *Recipient `json:"recipient,omitempty"`
	Message   string     `json:"message,omitempty"`
}

// TransitionFields carries the optional fields applied together with a
// status transition. Zero values leave the stored column untouched.
type TransitionFields struct {
	ProviderCallID  string
	Transcript      string
	Summary         string
	RecordingURL    string
	Reason          string
	DurationSeconds int
	EndedAt         time.Time
}

// Stats is the dashboard aggregate served by the cache-fronted stats
// endpoint.
type Stats struct {
	TotalRecipients int `json:"total_recipients"`
	TotalCalls      int `json:"total_calls"`
	CompletedCalls  int `json:"completed_calls"`
	FailedCalls     int `json:"failed_calls"`
	ActiveCalls     int `json:"active_calls"`
	SuccessRate     int `json:"success_rate"`
}
