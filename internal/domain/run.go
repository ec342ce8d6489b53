package domain

import "time"

type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
)

type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeFailed  Outcome = "failed"
	OutcomeDropped Outcome = "dropped"
)

// Run is the journal record of one pipeline execution.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     RunStatus
	Slots      int
	Dropped    int
	Created    int
	Updated    int
	Failed     int
	Pruned     int
	Retryable  bool
	Error      string
	Events     []RunEvent
}

// RunEvent is the per-slot outcome inside a run.
type RunEvent struct {
	UID       string
	SlotIndex int
	Outcome   Outcome
	Error     string
}

// Duration returns how long the run took.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Failures returns the events that did not make it into the calendar.
func (r *Run) Failures() []RunEvent {
	var out []RunEvent
	for _, e := range r.Events {
		if e.Outcome == OutcomeFailed || e.Outcome == OutcomeDropped {
			out = append(out, e)
		}
	}
	return out
}
