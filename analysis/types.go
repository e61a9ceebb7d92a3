package analysis

import (
	"time"
)

// State is a step in a request's lifecycle
type State string

const (
	StateQueued     State = "queued"
	StateDispatched State = "dispatched"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
	StateTimedOut   State = "timed_out"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether no further transition may follow s.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateTimedOut, StateCancelled:
		return true
	}
	return false
}

// Request is one unit of dispatch work. Once enqueued it belongs to the
// dispatcher and must not be modified by the caller.
type Request struct {
	ID         string
	RegionID   string
	Text       string
	Image      []byte // optional snapshot of the region, any common image format
	EnqueuedAt time.Time
	Model      string
	Provider   Provider

	state State
}

// Issue is a problem the backend found in the code
type Issue struct {
	Category    string `json:"category"`
	Severity    string `json:"severity"`
	Line        *int   `json:"line,omitempty"`
	Description string `json:"description"`
	Fix         string `json:"fix,omitempty"`
}

// Suggestion is an improvement the backend proposes
type Suggestion struct {
	Category    string `json:"category"`
	Description string `json:"description"`
	Line        *int   `json:"line,omitempty"`
	Code        string `json:"code,omitempty"`
}

// Simulation summarises a simulated execution of the code
type Simulation struct {
	CanSimulate   bool     `json:"can_simulate"`
	Output        string   `json:"output"`
	Errors        []string `json:"errors,omitempty"`
	ExecutionTime string   `json:"execution_time,omitempty"`
	SecurityRisks []string `json:"security_risks,omitempty"`
}

// Result holds the normalized findings for one region.
type Result struct {
	RequestID   string       `json:"request_id"`
	RegionID    string       `json:"region_id"`
	Provider    Provider     `json:"provider"`
	Model       string       `json:"model"`
	Language    string       `json:"language"`
	Issues      []Issue      `json:"issues"`
	Suggestions []Suggestion `json:"suggestions"`
	Simulation  *Simulation  `json:"simulation,omitempty"`
	CompletedAt time.Time    `json:"completed_at"`
	// Raw is set when the response could not be parsed and the result was
	// synthesized from the response text.
	Raw bool `json:"raw,omitempty"`
}

// Failure is published when a request ends in any state other than
// succeeded or cancelled.
type Failure struct {
	RequestID string
	RegionID  string
	Err       error
}

// APIError carries a user-presentable message for a failed request.
type APIError struct {
	RequestID string `json:"request_id"`
	RegionID  string `json:"region_id"`
	Message   string `json:"message"`
}

// StateChange is published on every lifecycle transition.
type StateChange struct {
	RequestID string
	RegionID  string
	State     State
	At        time.Time
	Err       error
}

// Stats is a point-in-time view of the dispatcher queue.
type Stats struct {
	Queued   int    `json:"queued"`
	InFlight string `json:"in_flight,omitempty"`
}
