package harness

import (
	"github.com/roach88/replica/internal/record"
	"github.com/roach88/replica/internal/replica"
)

// TraceEvent is one recorded broadcast.
type TraceEvent struct {
	Seq    int64          `json:"seq"`
	Step   int            `json:"step"` // index of the step that caused it
	Action replica.Action `json:"action"`
	Source replica.Source `json:"source"`
	Event  record.Event   `json:"event,omitempty"`
	Record record.Record  `json:"record,omitempty"`
	Size   int            `json:"size"` // replica length after the change
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every step expectation and every
	// assertion held.
	Pass bool `json:"pass"`

	// Trace contains every broadcast in delivery order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Replica is the replica content after the last step.
	Replica []record.Record `json:"replica"`

	// Remote is the remote collection content after the last step,
	// in id order.
	Remote []record.Record `json:"remote"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Actions returns the trace's action sequence.
func (r *Result) Actions() []string {
	out := make([]string, len(r.Trace))
	for i, ev := range r.Trace {
		out[i] = string(ev.Action)
	}
	return out
}
