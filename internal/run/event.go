package run

import (
	"encoding/json"
	"time"
)

// EventKind is the fixed vocabulary of event envelope kinds. It covers both
// the SSE-framed event names and the internal "codex.notification"
// passthrough kind.
type EventKind string

const (
	EventRunMeta          EventKind = "run.meta"
	EventNotification     EventKind = "codex.notification"
	EventRollupOutputLine EventKind = "codex.rollup.outputLine"
	EventRollupMessage    EventKind = "codex.rollup.agentMessage"
	EventRunPaused        EventKind = "run.paused"
	EventRunCompleted     EventKind = "run.completed"
	EventRunFailed        EventKind = "run.failed"
	EventRunInterrupted   EventKind = "run.interrupted"
)

// IsTerminalMarker reports whether kind is one of the stream-ending markers.
// Only the most recent terminal-category event, if any, ends replay —
// run.paused is explicitly not one of these, since a paused run can still
// resume and keep streaming.
func (k EventKind) IsTerminalMarker() bool {
	switch k {
	case EventRunCompleted, EventRunFailed, EventRunInterrupted:
		return true
	default:
		return false
	}
}

// Envelope is one event on a run's stream: (kind, created_at, payload),
// plus the sequence number the broadcaster assigns for cursor ordering.
// Ties in created_at are broken by sequence, never timestamp, since a
// coalesced burst of deltas can legitimately share a timestamp.
type Envelope struct {
	Kind      EventKind       `json:"kind"`
	CreatedAt time.Time       `json:"createdAt"`
	Seq       uint64          `json:"seq"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload into an Envelope. Seq is assigned by the
// broadcaster on publish, not here.
func NewEnvelope(kind EventKind, createdAt time.Time, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Kind: kind, CreatedAt: createdAt, Payload: data}, nil
}

// RollupRecord is one line of a run's rollup.jsonl. Seq mirrors the
// broadcaster sequence assigned when the record was published, so an SSE
// replay can dedup against the live stream the same way it does for raw
// envelopes: by sequence, never by timestamp.
type RollupRecord struct {
	Type            RollupType `json:"type"`
	CreatedAt       time.Time  `json:"createdAt"`
	Seq             uint64     `json:"seq"`
	Source          string     `json:"source,omitempty"`
	Text            string     `json:"text,omitempty"`
	EndsWithNewline *bool      `json:"endsWithNewline,omitempty"`
	IsControl       bool       `json:"isControl,omitempty"`
}

// RollupType distinguishes the two rollup record shapes.
type RollupType string

const (
	RollupOutputLine   RollupType = "outputLine"
	RollupAgentMessage RollupType = "agentMessage"
)
