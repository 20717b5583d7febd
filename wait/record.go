// Package wait correlates external decisions with suspended workflow runs.
//
// A wait is a durable record keyed by a correlation key. It is persisted
// before anyone suspends on it and resolved exactly once, either by a
// delivered event or by its deadline, through a compare-and-set on the
// record's state. Whoever resolves first wins; later deliveries are no-ops.
package wait

import (
	"encoding/json"
	"time"

	"github.com/xraph/signoff/id"
)

// State is the lifecycle state of a wait record.
type State string

const (
	// StateOpen means the wait has not been resolved yet.
	StateOpen State = "open"
	// StateResolved means an event or the deadline resolved the wait.
	StateResolved State = "resolved"
)

// Outcome is how a wait was resolved.
type Outcome string

const (
	// OutcomeEvent means a matching event was delivered.
	OutcomeEvent Outcome = "event"
	// OutcomeTimedOut means the deadline passed first.
	OutcomeTimedOut Outcome = "timed_out"
)

// Record is the durable state of one wait.
type Record struct {
	ID           id.WaitID       `json:"id"`
	Key          string          `json:"key"`
	RunID        id.RunID        `json:"run_id"`
	State        State           `json:"state"`
	Outcome      Outcome         `json:"outcome,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Deadline     time.Time       `json:"deadline"`
	RegisteredAt time.Time       `json:"registered_at"`
	ResolvedAt   *time.Time      `json:"resolved_at,omitempty"`
}

// Open reports whether the wait is still unresolved.
func (r *Record) Open() bool { return r.State == StateOpen }

// Result returns the outcome of a resolved record.
func (r *Record) Result() Result {
	return Result{Outcome: r.Outcome, Payload: r.Payload}
}

// Result is what a waiter observes when its wait resolves.
type Result struct {
	Outcome Outcome         `json:"outcome"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TimedOut reports whether the deadline resolved the wait.
func (r Result) TimedOut() bool { return r.Outcome == OutcomeTimedOut }

// Resolution is the compare-and-set applied by Store.ResolveWait.
type Resolution struct {
	Outcome Outcome
	Payload json.RawMessage
	At      time.Time
}
