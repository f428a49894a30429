package model

import (
	"strings"
	"time"
)

type OutcomeStatus string

const (
	StatusSent   OutcomeStatus = "sent"
	StatusFailed OutcomeStatus = "failed"
)

func (s OutcomeStatus) String() string { return string(s) }

func (s OutcomeStatus) Valid() bool {
	return s == StatusSent || s == StatusFailed
}

// ParseOutcomeStatus normalizes input; empty => "" (no filter).
func ParseOutcomeStatus(s string) (OutcomeStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", true
	case "sent":
		return StatusSent, true
	case "failed":
		return StatusFailed, true
	default:
		return "", false
	}
}

// OutcomeRecord is the audit payload published to Kafka for each attempted recipient,
// and the row shape stored by the recorder.
type OutcomeRecord struct {
	RunID       string        `json:"run_id"      db:"run_id"`
	Identity    string        `json:"identity"    db:"identity"`
	Position    int           `json:"position"    db:"position"`
	Total       int           `json:"total"       db:"total"`
	RecipientID string        `json:"recipient_id" db:"recipient_id"`
	Handle      string        `json:"handle"      db:"handle"`
	Status      OutcomeStatus `json:"status"      db:"status"`
	Error       string        `json:"error,omitempty" db:"error"`
	SentAt      time.Time     `json:"sent_at"     db:"sent_at"`
}
