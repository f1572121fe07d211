package harness

import "github.com/roach88/bufsync/internal/ir"

// Trace event types.
const (
	EventEnqueue = "enqueue"
	EventSync    = "sync"
	EventReset   = "reset"
)

// TraceEvent is one observable step of a scenario run.
type TraceEvent struct {
	Seq    int64       `json:"seq"`
	Type   string      `json:"type"`
	Fields ir.IRObject `json:"fields"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace lists enqueues, resets and sync passes in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Commands is the command log after the last step.
	Commands []ir.Command `json:"commands"`
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

// addTrace appends an event with the next sequence number.
func (r *Result) addTrace(eventType string, fields ir.IRObject) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:    int64(len(r.Trace) + 1),
		Type:   eventType,
		Fields: fields,
	})
}
