package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Strob0t/FinSight/internal/adapter/otel"
	"github.com/Strob0t/FinSight/internal/domain"
	"github.com/Strob0t/FinSight/internal/domain/analysis"
	"github.com/Strob0t/FinSight/internal/domain/event"
	"github.com/Strob0t/FinSight/internal/port/broadcast"
	"github.com/Strob0t/FinSight/internal/port/pipeline"
)

// Bridge adapts the blocking, step-emitting analysis computation into
// asynchronous typed events. One worker goroutine per accepted run, bounded
// by the admission cap; start requests beyond the cap are rejected, never
// queued.
type Bridge struct {
	registry  *Registry
	hub       broadcast.Broadcaster
	runner    pipeline.Runner
	sem       *semaphore.Weighted
	attribute AttributeFunc
	metrics   *otel.Metrics

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewBridge creates a Bridge with the given admission cap.
func NewBridge(registry *Registry, hub broadcast.Broadcaster, runner pipeline.Runner, admissionCap int, metrics *otel.Metrics) *Bridge {
	if admissionCap < 1 {
		admissionCap = 1
	}
	return &Bridge{
		registry:  registry,
		hub:       hub,
		runner:    runner,
		sem:       semaphore.NewWeighted(int64(admissionCap)),
		attribute: AttributeStage,
		metrics:   metrics,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// StartAnalysis admits and launches a new run. Returns
// domain.ErrAdmissionRejected when the concurrent-run cap is reached; no
// session state is created in that case.
func (b *Bridge) StartAnalysis(ctx context.Context, req analysis.Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	if !b.sem.TryAcquire(1) {
		slog.Warn("analysis rejected, admission cap reached", "identifier", req.Identifier)
		return "", domain.ErrAdmissionRejected
	}

	token, err := b.registry.CreateSession(req)
	if err != nil {
		b.sem.Release(1)
		return "", err
	}

	b.launch(token, req)
	b.metrics.RunStarted(ctx)
	return token, nil
}

// RetryAnalysis re-admits a failed session as a fresh Pending -> Running
// cycle. Only valid from the Failed terminal state.
func (b *Bridge) RetryAnalysis(ctx context.Context, token string) error {
	session, err := b.registry.GetSession(token)
	if err != nil {
		return err
	}

	if !b.sem.TryAcquire(1) {
		slog.Warn("retry rejected, admission cap reached", "session", token)
		return domain.ErrAdmissionRejected
	}

	if _, err := b.registry.ResetForRetry(token); err != nil {
		b.sem.Release(1)
		return err
	}

	// The retried run re-uses the original request, not just its stages.
	req := analysis.Request{
		Identifier:  session.Identifier,
		Stages:      session.StageOrder,
		Depth:       session.Depth,
		ModelConfig: session.ModelConfig,
	}
	b.launch(token, req)
	b.metrics.RunStarted(ctx)
	return nil
}

// CancelAnalysis sets the cooperative cancellation signal for a run. The
// worker observes it at the next step boundary. Returns false when no run
// with that token is in flight.
func (b *Bridge) CancelAnalysis(token string) bool {
	b.mu.Lock()
	cancel, ok := b.cancels[token]
	b.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// RunningCount reports the number of runs currently in flight.
func (b *Bridge) RunningCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.cancels)
}

// launch registers the cancellation signal and starts the worker. The
// worker context is detached from the request: a run outlives the HTTP
// request that started it.
func (b *Bridge) launch(token string, req analysis.Request) {
	runCtx, cancel := context.WithCancel(context.Background())
	b.mu.Lock()
	b.cancels[token] = cancel
	b.mu.Unlock()

	go b.run(runCtx, token, req)
}

func (b *Bridge) run(ctx context.Context, token string, req analysis.Request) {
	started := time.Now()
	defer func() {
		b.mu.Lock()
		if cancel, ok := b.cancels[token]; ok {
			cancel()
			delete(b.cancels, token)
		}
		b.mu.Unlock()
		b.sem.Release(1)
	}()

	if _, err := b.registry.StartRun(token); err != nil {
		slog.Error("start run", "session", token, "error", err)
		return
	}

	src, err := b.runner.Open(ctx, req)
	if err != nil {
		b.fail(ctx, token, err.Error())
		return
	}
	defer func() { _ = src.Close() }()

	var result string
	for {
		if ctx.Err() != nil {
			b.cancelled(token)
			return
		}

		step, err := src.Next(ctx)
		switch {
		case errors.Is(err, pipeline.ErrDone):
			b.complete(ctx, token, result, started)
			return
		case err != nil:
			if ctx.Err() != nil {
				b.cancelled(token)
				return
			}
			b.fail(ctx, token, err.Error())
			return
		}

		if step.Result != "" {
			result = step.Result
		}

		// Events must reach viewers in the order they were derived
		// from the step.
		for _, ev := range b.translate(token, req.Stages, step) {
			b.hub.Broadcast(ctx, ev)
		}

		// A step-reported stage failure drives the session terminal;
		// stop translating further steps for this run.
		if session, err := b.registry.GetSession(token); err == nil && session.Status == analysis.StatusFailed {
			b.hub.Broadcast(ctx, event.Error{Token: token, At: time.Now().UTC(), Message: session.Error})
			b.metrics.RunFailed(ctx)
			slog.Warn("analysis failed", "session", token, "error", session.Error)
			return
		}
	}
}

// translate turns one computation step into zero or more events, applying
// the corresponding registry updates as it goes. Order within the returned
// slice equals derivation order: messages, report sections, completions,
// failures.
func (b *Bridge) translate(token string, stages []string, step *pipeline.Step) []event.Event {
	var events []event.Event
	now := func() time.Time { return time.Now().UTC() }

	for _, msg := range step.Messages {
		stage := msg.Stage
		if stage == "" {
			stage = b.attribute(msg.Text, stages)
		}

		agent := stage
		if agent == "" {
			agent = AgentUnassigned
		}

		// First attributed message moves a pending stage to in_progress.
		if stage != "" {
			if session, err := b.registry.GetSession(token); err == nil && session.Stages[stage] == analysis.StagePending {
				if updated, err := b.registry.UpdateStageStatus(token, stage, analysis.StageInProgress, ""); err == nil {
					events = append(events, stageEvent(updated, stage, now()))
				}
			}
		}

		events = append(events, event.Message{Token: token, At: now(), Agent: agent, Content: msg.Text})
	}

	sections := make([]string, 0, len(step.Reports))
	for section := range step.Reports {
		sections = append(sections, section)
	}
	sort.Strings(sections)
	for _, section := range sections {
		content := step.Reports[section]
		if _, err := b.registry.UpdateReportSection(token, section, content); err != nil {
			slog.Error("report update", "session", token, "section", section, "error", err)
			continue
		}
		events = append(events, event.Report{Token: token, At: now(), Section: section, Content: content})
	}

	for _, stage := range step.CompletedStages {
		updated, err := b.registry.UpdateStageStatus(token, stage, analysis.StageCompleted, "")
		if err != nil {
			slog.Error("stage completion", "session", token, "stage", stage, "error", err)
			continue
		}
		events = append(events, stageEvent(updated, stage, now()))
	}

	failed := make([]string, 0, len(step.FailedStages))
	for stage := range step.FailedStages {
		failed = append(failed, stage)
	}
	sort.Strings(failed)
	for _, stage := range failed {
		updated, err := b.registry.UpdateStageStatus(token, stage, analysis.StageFailed, step.FailedStages[stage])
		if err != nil {
			slog.Error("stage failure", "session", token, "stage", stage, "error", err)
			continue
		}
		events = append(events, stageEvent(updated, stage, now()))
	}

	return events
}

func (b *Bridge) complete(ctx context.Context, token, result string, started time.Time) {
	if _, err := b.registry.CompleteRun(token); err != nil {
		slog.Error("complete run", "session", token, "error", err)
		return
	}
	b.hub.Broadcast(ctx, event.Complete{Token: token, At: time.Now().UTC(), Result: result})
	b.metrics.RunCompleted(ctx, time.Since(started))
	slog.Info("analysis completed", "session", token, "duration", time.Since(started))
}

func (b *Bridge) fail(ctx context.Context, token, errMsg string) {
	if _, err := b.registry.FailRun(token, errMsg); err != nil {
		slog.Error("fail run", "session", token, "error", err)
		return
	}
	b.hub.Broadcast(ctx, event.Error{Token: token, At: time.Now().UTC(), Message: errMsg})
	b.metrics.RunFailed(ctx)
	slog.Warn("analysis failed", "session", token, "error", errMsg)
}

// cancelled marks the session Cancelled without emitting further events;
// a cancelled run goes quiet from the viewer's perspective.
func (b *Bridge) cancelled(token string) {
	if _, err := b.registry.CancelRun(token); err != nil {
		slog.Error("cancel run", "session", token, "error", err)
		return
	}
	slog.Info("analysis cancelled", "session", token)
}

func stageEvent(s *analysis.Session, stage string, at time.Time) event.AgentStatus {
	return event.AgentStatus{
		Token:        s.Token,
		At:           at,
		Agent:        stage,
		Status:       string(s.Stages[stage]),
		Progress:     s.Progress,
		CurrentStage: s.CurrentStage,
		Error:        s.Error,
	}
}
