package domain

import (
	"errors"
	"fmt"
	"time"
)

type JobID string

type JobState string

const (
	JobStatePending   JobState = "PENDING"
	JobStateStarted   JobState = "STARTED"
	JobStateSuccess   JobState = "SUCCESS"
	JobStateFailure   JobState = "FAILURE"
	JobStateCancelled JobState = "CANCELLED"
)

// jobTransitions is the complete set of legal state changes.
var jobTransitions = map[JobState][]JobState{
	JobStatePending: {JobStateStarted, JobStateCancelled},
	JobStateStarted: {JobStateSuccess, JobStateFailure, JobStateCancelled},
}

// IsTerminal reports whether no further transition is possible.
func (s JobState) IsTerminal() bool {
	return s == JobStateSuccess || s == JobStateFailure || s == JobStateCancelled
}

// CanTransition reports whether moving from s to next is allowed.
func (s JobState) CanTransition(next JobState) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Params is the opaque parameter map a job is submitted with.
type Params map[string]any

// JobRecord tracks one asynchronous unit of work from submission to terminal state.
type JobRecord struct {
	ID            JobID       `json:"id"`
	OwnerID       OwnerID     `json:"owner_id"`
	Action        ActionKind  `json:"action"`
	ScenarioID    *ScenarioID `json:"scenario_id,omitempty"`
	State         JobState    `json:"state"`
	Params        Params      `json:"params"`
	Result        string      `json:"result,omitempty"`
	Partial       bool        `json:"partial"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	RunAt         *time.Time  `json:"run_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	StartedAt     *time.Time  `json:"started_at,omitempty"`
	FinishedAt    *time.Time  `json:"finished_at,omitempty"`
}

// Transition moves the record to next and stamps the matching timestamp.
func (j *JobRecord) Transition(next JobState, at time.Time) error {
	if !j.State.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.State, next)
	}
	j.State = next
	switch {
	case next == JobStateStarted:
		j.StartedAt = &at
	case next.IsTerminal():
		j.FinishedAt = &at
	}
	return nil
}

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job state transition")
)
