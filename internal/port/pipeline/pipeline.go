// Package pipeline defines the port to the external analysis computation.
//
// The computation is a blocking, synchronous, step-emitting collaborator.
// FinSight never interprets what it computes; the bridge only translates
// its steps into events.
package pipeline

import (
	"context"
	"errors"

	"github.com/Strob0t/FinSight/internal/domain/analysis"
)

// ErrDone is returned by StepSource.Next when the step sequence has ended
// normally.
var ErrDone = errors.New("pipeline: no more steps")

// Message is one textual fragment produced by a step. Stage is the explicit
// stage tag if the computation provided one; empty means unattributed.
type Message struct {
	Stage string
	Text  string
}

// Step is one unit of computation output.
type Step struct {
	// Messages in the order the computation produced them.
	Messages []Message

	// Reports maps report-section name to replacement content.
	Reports map[string]string

	// CompletedStages lists stages whose designated output artifact is
	// present in this step, in completion order.
	CompletedStages []string

	// FailedStages maps a stage name to its failure message.
	FailedStages map[string]string

	// Result is a terminal result fragment, usually present only on the
	// final step.
	Result string
}

// StepSource iterates the computation's step sequence. Next blocks until the
// next step is available and returns ErrDone when the sequence ends normally.
// Any other error is a stage execution failure.
type StepSource interface {
	Next(ctx context.Context) (*Step, error)
	Close() error
}

// Runner opens a step source for an analysis request.
type Runner interface {
	Open(ctx context.Context, req analysis.Request) (StepSource, error)
}
