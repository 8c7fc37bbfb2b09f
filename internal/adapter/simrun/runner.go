// Package simrun implements the pipeline port with a simulated analysis
// backend. It walks the requested stages in order, emitting plausible
// message, report and completion steps, so the streaming stack can run
// end to end without a real computation attached.
package simrun

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/FinSight/internal/domain/analysis"
	"github.com/Strob0t/FinSight/internal/port/pipeline"
)

// Runner builds simulated step sources.
type Runner struct {
	stepDelay     time.Duration
	stepsPerStage int
}

// New creates a simulated runner. stepDelay paces the emitted steps;
// stepsPerStage controls how many message steps each stage produces
// before its report and completion.
func New(stepDelay time.Duration, stepsPerStage int) *Runner {
	if stepsPerStage < 1 {
		stepsPerStage = 1
	}
	return &Runner{stepDelay: stepDelay, stepsPerStage: stepsPerStage}
}

// Open starts a simulated analysis for the request.
func (r *Runner) Open(_ context.Context, req analysis.Request) (pipeline.StepSource, error) {
	slog.Info("simulated analysis opened", "identifier", req.Identifier, "stages", len(req.Stages))
	return &source{
		identifier:    req.Identifier,
		stages:        req.Stages,
		stepDelay:     r.stepDelay,
		stepsPerStage: r.stepsPerStage,
	}, nil
}

type source struct {
	identifier    string
	stages        []string
	stepDelay     time.Duration
	stepsPerStage int

	stage int // index of the stage being worked
	step  int // steps emitted for the current stage
	done  bool
}

// Next produces the next simulated step, pacing by the configured delay.
func (s *source) Next(ctx context.Context) (*pipeline.Step, error) {
	if s.done || s.stage >= len(s.stages) {
		return nil, pipeline.ErrDone
	}

	if s.stepDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.stepDelay):
		}
	} else if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	stage := s.stages[s.stage]
	s.step++

	if s.step < s.stepsPerStage {
		return &pipeline.Step{
			Messages: []pipeline.Message{{
				Stage: stage,
				Text:  fmt.Sprintf("%s: evaluating %s (pass %d)", stage, s.identifier, s.step),
			}},
		}, nil
	}

	// Final step of the stage: report section + completion.
	step := &pipeline.Step{
		Messages: []pipeline.Message{{
			Stage: stage,
			Text:  fmt.Sprintf("%s: analysis of %s complete", stage, s.identifier),
		}},
		Reports: map[string]string{
			stage + "_report": fmt.Sprintf("Simulated %s findings for %s.", stage, s.identifier),
		},
		CompletedStages: []string{stage},
	}

	s.stage++
	s.step = 0
	if s.stage >= len(s.stages) {
		step.Result = "HOLD"
		s.done = true
	}
	return step, nil
}

// Close releases the source. The simulated backend holds no resources.
func (s *source) Close() error { return nil }
