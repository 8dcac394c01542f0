package dispatch

import (
	"github.com/google/uuid"

	"github.com/lalithlochan/beacon/internal/channel"
	"github.com/lalithlochan/beacon/internal/db"
)

// Outcome is the result of one dispatch. Failures are data, not errors.
type Outcome struct {
	Success  bool
	Response channel.Response
	Err      error
}

// ErrorText returns the failure message, or "" on success.
func (o Outcome) ErrorText() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Overall summarises a batch.
type Overall string

const (
	OverallSuccess Overall = "success" // every target succeeded
	OverallPartial Overall = "partial" // mixed results
	OverallFailed  Overall = "failed"  // every target failed
)

// Result is the per-target entry of an Aggregate.
type Result struct {
	Target   *db.Target
	RecordID uuid.UUID // uuid.Nil when no record could be created
	Outcome  Outcome
}

// Aggregate collects the results of a DispatchMany call in target order.
type Aggregate struct {
	Results []Result
}

// Total returns the number of targets attempted.
func (a *Aggregate) Total() int { return len(a.Results) }

// Succeeded returns the number of successful targets.
func (a *Aggregate) Succeeded() int {
	n := 0
	for _, r := range a.Results {
		if r.Outcome.Success {
			n++
		}
	}
	return n
}

// Overall is success only when every target succeeded. An empty batch
// counts as success.
func (a *Aggregate) Overall() Overall {
	ok := a.Succeeded()
	switch {
	case ok == len(a.Results):
		return OverallSuccess
	case ok == 0:
		return OverallFailed
	default:
		return OverallPartial
	}
}
