package journal

import (
	"time"

	"reelay/internal/outcome"
)

// StepStatus tracks the durable state of one journaled step.
type StepStatus string

const (
	// StepPending marks a step that has started but not durably finished.
	// Pending rows carry the attempt counter across process restarts.
	StepPending StepStatus = "pending"
	// StepCompleted marks a successfully finished step; its payload is
	// authoritative and the work is never executed again.
	StepCompleted StepStatus = "completed"
	// StepFailed marks a fatally failed step; the recorded failure is
	// authoritative and the work is never retried, even after a crash.
	StepFailed StepStatus = "failed"
)

// StepRecord is the durable record of one unit of work.
type StepRecord struct {
	StepID       string
	RequestKey   string
	StepName     string
	Status       StepStatus
	Attempts     int
	Payload      string
	ErrorKind    outcome.ErrorKind
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// StepID derives the deterministic identifier for a step. It must never
// contain randomness: replays of the same request recompute the same ID.
func StepID(requestKey, stepName string) string {
	return requestKey + "/" + stepName
}
