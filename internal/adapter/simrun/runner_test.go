package simrun

import (
	"context"
	"errors"
	"testing"

	"github.com/Strob0t/FinSight/internal/domain/analysis"
	"github.com/Strob0t/FinSight/internal/port/pipeline"
)

func drain(t *testing.T, src pipeline.StepSource) []*pipeline.Step {
	t.Helper()
	var steps []*pipeline.Step
	for {
		step, err := src.Next(context.Background())
		if errors.Is(err, pipeline.ErrDone) {
			return steps
		}
		if err != nil {
			t.Fatal(err)
		}
		steps = append(steps, step)
	}
}

func TestRunnerWalksStagesInOrder(t *testing.T) {
	r := New(0, 2)
	src, err := r.Open(context.Background(), analysis.Request{
		Identifier: "AAPL",
		Stages:     []string{"market_analyst", "news_analyst"},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = src.Close() }()

	steps := drain(t, src)
	if len(steps) != 4 { // 2 steps per stage
		t.Fatalf("expected 4 steps, got %d", len(steps))
	}

	var completed []string
	for _, step := range steps {
		completed = append(completed, step.CompletedStages...)
	}
	want := []string{"market_analyst", "news_analyst"}
	if len(completed) != len(want) {
		t.Fatalf("expected %d completions, got %d", len(want), len(completed))
	}
	for i := range want {
		if completed[i] != want[i] {
			t.Fatalf("completion %d: expected %s, got %s", i, want[i], completed[i])
		}
	}

	last := steps[len(steps)-1]
	if last.Result == "" {
		t.Fatal("expected a result on the final step")
	}
	if last.Reports["news_analyst_report"] == "" {
		t.Fatal("expected a report section for the final stage")
	}
}

func TestRunnerObservesCancellation(t *testing.T) {
	r := New(0, 3)
	src, err := r.Open(context.Background(), analysis.Request{Identifier: "AAPL", Stages: []string{"market_analyst"}})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
