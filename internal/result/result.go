// Package result holds the outcome model for a verification run: the
// per-test Result state machine and the RunResult handed to reporting.
package result

import (
	"fmt"
	"time"
)

// State describes where a Result is in its lifecycle.
type State string

const (
	StateNotStarted State = "not_started"
	StateRunning    State = "running"
	StatePassed     State = "passed"
	StateFailed     State = "failed"
	StateError      State = "error"
	StateTimedOut   State = "timed_out"
	StateSkipped    State = "skipped"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	switch s {
	case StatePassed, StateFailed, StateError, StateTimedOut, StateSkipped:
		return true
	default:
		return false
	}
}

// TransitionError reports an invalid transition attempt on a Result. The
// Result itself is left unchanged; the engine downgrades the offending test
// to an error outcome instead of letting the violation escape.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid result transition %s -> %s", e.From, e.To)
}

// Result is the record of one test's outcome. Transitions are forward-only:
// not_started -> running -> exactly one terminal state. Terminal states are
// write-once; a second terminal mark fails with TransitionError and the first
// outcome stands. Fields are exported for serialization and must be treated
// as read-only outside the Mark methods.
type Result struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	State       State      `json:"state"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Message     string     `json:"message,omitempty"`
	Detail      string     `json:"detail,omitempty"`
	Artifacts   []string   `json:"artifacts,omitempty"`

	violation error
}

// New creates a Result in the not_started state.
func New(name, description string) *Result {
	return &Result{
		Name:        name,
		Description: description,
		State:       StateNotStarted,
	}
}

// MarkStarted transitions the Result into running and stamps StartedAt.
func (r *Result) MarkStarted() error {
	if r.State != StateNotStarted {
		return r.reject(StateRunning)
	}
	now := time.Now()
	r.StartedAt = &now
	r.State = StateRunning
	return nil
}

// MarkPassed records a successful outcome.
func (r *Result) MarkPassed(message string) error {
	return r.terminal(StatePassed, message, "")
}

// MarkFailed records a check-reported failure: the test ran and determined
// its expectation was not met.
func (r *Result) MarkFailed(message, detail string) error {
	return r.terminal(StateFailed, message, detail)
}

// MarkError records an unexpected failure during execution, distinct from a
// semantic test failure.
func (r *Result) MarkError(message, detail string) error {
	return r.terminal(StateError, message, detail)
}

// MarkTimedOut records that the test did not return within its bound.
func (r *Result) MarkTimedOut(message string) error {
	return r.terminal(StateTimedOut, message, "")
}

// MarkSkipped records that the test was never attempted. Valid only from
// not_started; both timestamps are stamped at the moment of skipping so the
// terminal-state timestamp invariant holds for every terminal Result.
func (r *Result) MarkSkipped(reason string) error {
	if r.State != StateNotStarted {
		return r.reject(StateSkipped)
	}
	now := time.Now()
	r.StartedAt = &now
	r.EndedAt = &now
	r.State = StateSkipped
	r.Message = reason
	return nil
}

func (r *Result) terminal(to State, message, detail string) error {
	if r.State != StateRunning {
		return r.reject(to)
	}
	now := time.Now()
	r.EndedAt = &now
	r.State = to
	r.Message = message
	r.Detail = detail
	return nil
}

func (r *Result) reject(to State) error {
	err := &TransitionError{From: r.State, To: to}
	if r.violation == nil {
		r.violation = err
	}
	return err
}

// Violation returns the first invalid transition attempted on this Result,
// if any. The engine inspects it after a test returns so a contract-breaking
// test surfaces as an error outcome rather than passing silently.
func (r *Result) Violation() error {
	return r.violation
}

// AddArtifact associates a file written by the test with its Result.
func (r *Result) AddArtifact(path string) {
	r.Artifacts = append(r.Artifacts, path)
}

// Duration returns the elapsed time between start and end, or zero when the
// Result never reached a terminal state.
func (r *Result) Duration() time.Duration {
	if r.StartedAt == nil || r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(*r.StartedAt)
}
