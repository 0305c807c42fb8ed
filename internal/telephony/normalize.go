package telephony

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fleetcall/internal/calls"
)

// ErrMalformedPayload means a webhook body could not be parsed or lacks
// the call identifier. Surfaced to the provider as a client error.
var ErrMalformedPayload = fmt.Errorf("telephony: malformed payload")

// Event is the canonical form of one provider webhook. Terminal is set
// for end-of-call payloads and feeds the lifecycle transition; parsing
// itself never touches state.
type Event struct {
	Provider       string
	ProviderCallID string

	// Type is the canonical event classification for the live stream.
	Type calls.EventType

	// RawStatus is the provider's own status word, kept for logging.
	RawStatus string

	Transcript string
	Message    string

	Terminal *Terminal
}

// Terminal carries the end-of-call verdict and the fields applied with
// it.
type Terminal struct {
	Status calls.CallStatus
	Fields calls.TransitionFields
}

// AnswerExtractor turns a provider "analysis" blob into the summary
// stored on the call. The canonical structured-answers contract is
// still open; implementations must not guess a schema.
type AnswerExtractor interface {
	Extract(analysis json.RawMessage, summary string) string
}

// SummaryExtractor is the safe default: keep the plain summary, fall
// back to an analysis-embedded one when the top-level field is empty.
type SummaryExtractor struct{}

func (SummaryExtractor) Extract(analysis json.RawMessage, summary string) string {
	if summary != "" || len(analysis) == 0 {
		return summary
	}
	var a struct {
		Summary string `json:"summary"`
	}
	if json.Unmarshal(analysis, &a) == nil {
		return a.Summary
	}
	return ""
}

// Normalizer converts provider-specific webhook payloads into canonical
// events. Dispatch is by provider tag; each parser knows the field
// aliases its provider actually sends.
type Normalizer struct {
	extractor AnswerExtractor
}

func NewNormalizer(extractor AnswerExtractor) *Normalizer {
	if extractor == nil {
		extractor = SummaryExtractor{}
	}
	return &Normalizer{extractor: extractor}
}

// Normalize parses one webhook body.
//
// Policy: unknown message types come back as a plain update event with
// no Terminal (acknowledged, ignored); a missing call identifier is
// ErrMalformedPayload; an unknown provider tag is ErrUnsupportedProvider.
func (n *Normalizer) Normalize(provider string, payload []byte) (Event, error) {
	var data map[string]any
	if err := json.Unmarshal(payload, &data); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	switch provider {
	case "bolna":
		return n.parseBolna(data)
	case "tata":
		return n.parseTata(data)
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnsupportedProvider, provider)
	}
}

func (n *Normalizer) parseBolna(data map[string]any) (Event, error) {
	ev := Event{
		Provider:       "bolna",
		ProviderCallID: str(data, "call_id", "id"),
		RawStatus:      strings.ToLower(str(data, "status")),
		Transcript:     str(data, "transcript"),
	}
	if ev.ProviderCallID == "" {
		return Event{}, fmt.Errorf("%w: missing call_id", ErrMalformedPayload)
	}

	switch ev.RawStatus {
	case "completed", "done":
		ev.Type = calls.EventStatus
		ev.Terminal = &Terminal{Status: calls.CallStatusCompleted}
	case "failed", "error":
		ev.Type = calls.EventStatus
		ev.Terminal = &Terminal{Status: calls.CallStatusFailed}
	case "no-answer", "busy":
		ev.Type = calls.EventStatus
		ev.Terminal = &Terminal{Status: calls.CallStatusNoAnswer}
	case "in-progress", "active":
		// Mid-call update; transcripts stream through here.
		if ev.Transcript != "" {
			ev.Type = calls.EventTranscript
		} else {
			ev.Type = calls.EventStatus
		}
	default:
		// Unknown message type: acknowledge and ignore.
		ev.Type = calls.EventUpdate
		ev.Message = "unrecognized status " + strconv.Quote(ev.RawStatus)
	}

	if ev.Terminal != nil {
		ev.Terminal.Fields = calls.TransitionFields{
			Transcript:      ev.Transcript,
			Summary:         n.extractor.Extract(rawField(data, "analysis"), str(data, "summary")),
			RecordingURL:    str(data, "recording_url"),
			DurationSeconds: num(data, "duration_seconds", "call_duration"),
		}
		if ev.Terminal.Status != calls.CallStatusCompleted {
			ev.Terminal.Fields.Reason = "provider reported " + ev.RawStatus
		}
	}
	return ev, nil
}

func (n *Normalizer) parseTata(data map[string]any) (Event, error) {
	ev := Event{
		Provider:       "tata",
		ProviderCallID: str(data, "call_id", "callId"),
		RawStatus:      strings.ToLower(str(data, "status", "call_status")),
	}
	if ev.ProviderCallID == "" {
		return Event{}, fmt.Errorf("%w: missing call_id", ErrMalformedPayload)
	}

	eventType := strings.ToLower(str(data, "event_type", "eventType"))
	hangupCause := strings.ToLower(str(data, "hangup_cause", "hangupCause"))

	terminalStatus, terminal := tataTerminalStatus(eventType, ev.RawStatus, hangupCause)
	if terminal {
		ev.Type = calls.EventStatus
		ev.Terminal = &Terminal{
			Status: terminalStatus,
			Fields: calls.TransitionFields{
				RecordingURL:    str(data, "recording_url", "recording"),
				DurationSeconds: num(data, "duration", "call_duration"),
				EndedAt:         parseTime(str(data, "timestamp")),
			},
		}
		if terminalStatus != calls.CallStatusCompleted {
			reason := hangupCause
			if reason == "" {
				reason = "provider reported " + ev.RawStatus
			}
			ev.Terminal.Fields.Reason = reason
		}
		return ev, nil
	}

	switch eventType {
	case "call_initiated", "call_ringing", "call_answered":
		ev.Type = calls.EventStatus
	default:
		ev.Type = calls.EventUpdate
		ev.Message = "unrecognized event " + strconv.Quote(eventType)
	}
	return ev, nil
}

// tataTerminalStatus folds the PBX event/status/cause triple into our
// terminal state. call_ended with a busy cause counts as a failure, a
// rule inherited from the click-to-call flow.
func tataTerminalStatus(eventType, status, hangupCause string) (calls.CallStatus, bool) {
	if eventType == "call_failed" {
		return calls.CallStatusFailed, true
	}
	if eventType == "call_ended" {
		switch {
		case hangupCause == "busy":
			return calls.CallStatusFailed, true
		case status == "no_answer" || status == "no-answer":
			return calls.CallStatusNoAnswer, true
		default:
			return calls.CallStatusCompleted, true
		}
	}
	switch status {
	case "completed":
		return calls.CallStatusCompleted, true
	case "failed", "cancelled", "canceled", "rejected":
		return calls.CallStatusFailed, true
	case "busy", "no_answer", "no-answer":
		return calls.CallStatusNoAnswer, true
	}
	return "", false
}

// str returns the first non-empty string among the given keys.
func str(data map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := data[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// num reads the first present numeric field, accepting the string
// renditions some PBX webhooks send.
func num(data map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := data[k].(type) {
		case float64:
			return int(v)
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n
			}
		}
	}
	return 0
}

func rawField(data map[string]any, key string) json.RawMessage {
	v, ok := data[key]
	if !ok || v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
