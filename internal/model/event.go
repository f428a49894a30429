package model

import "time"

type EventKind string

const (
	EventProgress EventKind = "progress"
	EventWaiting  EventKind = "waiting"
	EventSummary  EventKind = "summary"
	EventLog      EventKind = "log"
)

func (k EventKind) String() string { return string(k) }

func (k EventKind) Valid() bool {
	return k == EventProgress || k == EventWaiting || k == EventSummary || k == EventLog
}

// Event is a unit of telemetry pushed to progress observers.
// Only the fields relevant to Kind are populated. Success, Seconds and the
// summary counters are always serialized, zero included.
type Event struct {
	Kind     EventKind `json:"kind"`
	RunID    string    `json:"runId,omitempty"`
	Identity string    `json:"username,omitempty"`

	// progress
	Position int    `json:"position,omitempty"`
	Total    int    `json:"total,omitempty"`
	Handle   string `json:"handle,omitempty"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`

	// waiting
	Seconds int `json:"seconds"`

	// summary
	SuccessCount int `json:"successCount"`
	FailureCount int `json:"failureCount"`

	// human readable line, always set by the dispatcher
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}
