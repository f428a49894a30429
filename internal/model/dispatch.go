package model

import "time"

// DispatchRequest describes one bulk send. Delays are whole seconds.
type DispatchRequest struct {
	Identity   string
	Recipients []User
	Message    string
	Count      int
	MinDelay   int
	MaxDelay   int
}

// Effective returns the number of recipients that will actually be attempted.
func (r DispatchRequest) Effective() int {
	if r.Count < len(r.Recipients) {
		return r.Count
	}
	return len(r.Recipients)
}

type Outcome struct {
	Position  int    `json:"position"` // 1-based
	Recipient User   `json:"recipient"`
	Succeeded bool   `json:"succeeded"`
	Error     string `json:"error,omitempty"`
}

type Summary struct {
	SuccessCount int `json:"successCount"`
	FailureCount int `json:"failureCount"`
}

// Ack is returned to the caller as soon as a run has been accepted.
type Ack struct {
	RunID     string    `json:"runId"`
	Identity  string    `json:"username"`
	Total     int       `json:"total"`
	StartedAt time.Time `json:"startedAt"`
}

// RunStatus is an in-memory snapshot of a dispatch run.
type RunStatus struct {
	RunID      string    `json:"runId"`
	Identity   string    `json:"username"`
	Total      int       `json:"total"`
	Done       int       `json:"done"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Running    bool      `json:"running"`
	Cancelled  bool      `json:"cancelled"`
	Outcomes   []Outcome `json:"outcomes"`
	CreatedAt  time.Time `json:"createdAt"`
	FinishedAt time.Time `json:"finishedAt,omitzero"`
}
