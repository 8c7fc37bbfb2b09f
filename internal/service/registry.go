// Package service implements the session registry and the stream bridge,
// the two use-case layers of the streaming core.
package service

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/FinSight/internal/domain"
	"github.com/Strob0t/FinSight/internal/domain/analysis"
)

// failedProgressCap keeps a failed run's progress below 100.0 so that
// progress reaches exactly 100.0 only on a completed run.
const failedProgressCap = 99.9

// Canceler signals cooperative cancellation for a running analysis.
// Implemented by the Bridge.
type Canceler interface {
	CancelAnalysis(token string) bool
}

// Stats summarizes the registry for the operational endpoints.
type Stats struct {
	Total    int                     `json:"total"`
	ByStatus map[analysis.Status]int `json:"by_status"`
}

// sessionEntry pairs a session with its own lock so unrelated sessions
// never contend. The registry lock only guards the sessions map itself.
type sessionEntry struct {
	mu sync.Mutex
	s  analysis.Session
}

// Registry owns all session state machines. It is the single source of
// truth for session state; every mutation happens under the per-session
// lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*sessionEntry)}
}

// CreateSession allocates session state for a run request and returns the
// new session token. Fails only on malformed input.
func (r *Registry) CreateSession(req analysis.Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	s := analysis.Session{
		Token:        uuid.NewString(),
		Identifier:   req.Identifier,
		Depth:        req.Depth,
		Status:       analysis.StatusPending,
		Stages:       make(map[string]analysis.StageStatus, len(req.Stages)),
		StageOrder:   append([]string(nil), req.Stages...),
		Reports:      make(map[string]*string),
		CreatedAt:    now,
		LastActivity: now,
	}
	for _, st := range req.Stages {
		s.Stages[st] = analysis.StagePending
	}
	if len(req.ModelConfig) > 0 {
		s.ModelConfig = make(map[string]any, len(req.ModelConfig))
		for k, v := range req.ModelConfig {
			s.ModelConfig[k] = v
		}
	}

	r.mu.Lock()
	r.sessions[s.Token] = &sessionEntry{s: s}
	r.mu.Unlock()

	slog.Info("session created", "session", s.Token, "identifier", req.Identifier, "stages", len(req.Stages))
	return s.Token, nil
}

// GetSession returns a copy of the session state for the given token.
func (r *Registry) GetSession(token string) (*analysis.Session, error) {
	e, err := r.entry(token)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s.Clone(), nil
}

// UpdateStageStatus applies a stage transition and recomputes derived
// session state. Updates arriving after a terminal status are no-ops;
// a cancelled run must not be resurrected by late worker updates.
func (r *Registry) UpdateStageStatus(token, stage string, status analysis.StageStatus, errMsg string) (*analysis.Session, error) {
	e, err := r.entry(token)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	s := &e.s

	if s.Status.Terminal() {
		slog.Debug("stage update ignored, session terminal",
			"session", token, "stage", stage, "status", status)
		return s.Clone(), nil
	}
	if _, ok := s.Stages[stage]; !ok {
		return nil, fmt.Errorf("stage %q: %w", stage, domain.ErrNotFound)
	}

	s.Stages[stage] = status
	switch status {
	case analysis.StageInProgress:
		s.CurrentStage = stage
	case analysis.StageFailed:
		if errMsg == "" {
			errMsg = "stage failed"
		}
		appendError(s, stage+": "+errMsg)
	}

	recomputeLocked(s)
	s.LastActivity = time.Now().UTC()
	return s.Clone(), nil
}

// UpdateReportSection replaces a report section's content. Allowed in any
// non-terminal status.
func (r *Registry) UpdateReportSection(token, section, content string) (*analysis.Session, error) {
	e, err := r.entry(token)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	s := &e.s

	if s.Status.Terminal() {
		slog.Debug("report update ignored, session terminal", "session", token, "section", section)
		return s.Clone(), nil
	}

	c := content
	s.Reports[section] = &c
	s.LastActivity = time.Now().UTC()
	return s.Clone(), nil
}

// StartRun transitions Pending -> Running. Idempotent; a terminal session
// is left untouched.
func (r *Registry) StartRun(token string) (*analysis.Session, error) {
	return r.transition(token, func(s *analysis.Session) {
		if s.Status != analysis.StatusPending {
			return
		}
		now := time.Now().UTC()
		s.Status = analysis.StatusRunning
		s.StartedAt = &now
	})
}

// CompleteRun transitions Running -> Completed and pins progress at 100.
func (r *Registry) CompleteRun(token string) (*analysis.Session, error) {
	return r.transition(token, func(s *analysis.Session) {
		if s.Status.Terminal() {
			return
		}
		now := time.Now().UTC()
		s.Status = analysis.StatusCompleted
		s.Progress = 100.0
		s.CompletedAt = &now
		s.CurrentStage = ""
	})
}

// FailRun transitions to Failed with the given error message attached.
func (r *Registry) FailRun(token, errMsg string) (*analysis.Session, error) {
	return r.transition(token, func(s *analysis.Session) {
		if s.Status.Terminal() {
			return
		}
		now := time.Now().UTC()
		s.Status = analysis.StatusFailed
		s.CompletedAt = &now
		if s.Progress > failedProgressCap {
			s.Progress = failedProgressCap
		}
		appendError(s, errMsg)
	})
}

// CancelRun transitions to Cancelled.
func (r *Registry) CancelRun(token string) (*analysis.Session, error) {
	return r.transition(token, func(s *analysis.Session) {
		if s.Status.Terminal() {
			return
		}
		now := time.Now().UTC()
		s.Status = analysis.StatusCancelled
		s.CompletedAt = &now
	})
}

// ResetForRetry re-enters Pending from Failed, clearing stage statuses,
// progress and the error message. Any other status is rejected.
func (r *Registry) ResetForRetry(token string) (*analysis.Session, error) {
	e, err := r.entry(token)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	s := &e.s

	if s.Status != analysis.StatusFailed {
		return nil, fmt.Errorf("retry requires a failed session, status is %s: %w", s.Status, domain.ErrTerminalState)
	}

	now := time.Now().UTC()
	s.Status = analysis.StatusPending
	s.Progress = 0
	s.Error = ""
	s.CurrentStage = ""
	s.StartedAt = nil
	s.CompletedAt = nil
	s.LastActivity = now
	for st := range s.Stages {
		s.Stages[st] = analysis.StagePending
	}
	slog.Info("session reset for retry", "session", token)
	return s.Clone(), nil
}

// Delete removes a session. The caller is responsible for cancelling a
// still-running analysis first.
func (r *Registry) Delete(token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[token]; !ok {
		return fmt.Errorf("session %s: %w", token, domain.ErrNotFound)
	}
	delete(r.sessions, token)
	slog.Info("session deleted", "session", token)
	return nil
}

// ListSessions returns copies of all sessions, newest first.
func (r *Registry) ListSessions() []analysis.Session {
	r.mu.RLock()
	entries := make([]*sessionEntry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]analysis.Session, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, *e.s.Clone())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Stats returns session counts per status.
func (r *Registry) Stats() Stats {
	sessions := r.ListSessions()
	st := Stats{Total: len(sessions), ByStatus: make(map[analysis.Status]int)}
	for i := range sessions {
		st.ByStatus[sessions[i].Status]++
	}
	return st
}

// EvictExpired removes sessions whose last activity predates the idle
// timeout. Still-running sessions are cancelled through the bridge first.
// Returns the evicted tokens so the caller can release their connections.
func (r *Registry) EvictExpired(idleTimeout time.Duration, canceler Canceler) []string {
	cutoff := time.Now().UTC().Add(-idleTimeout)

	r.mu.RLock()
	candidates := make(map[string]*sessionEntry, len(r.sessions))
	for token, e := range r.sessions {
		candidates[token] = e
	}
	r.mu.RUnlock()

	var evicted []string
	for token, e := range candidates {
		e.mu.Lock()
		expired := e.s.LastActivity.Before(cutoff)
		running := e.s.Status == analysis.StatusRunning || e.s.Status == analysis.StatusPending
		e.mu.Unlock()
		if !expired {
			continue
		}
		if running && canceler != nil {
			canceler.CancelAnalysis(token)
		}
		evicted = append(evicted, token)
	}

	if len(evicted) == 0 {
		return nil
	}

	r.mu.Lock()
	for _, token := range evicted {
		delete(r.sessions, token)
	}
	r.mu.Unlock()

	slog.Info("idle sessions evicted", "count", len(evicted))
	return evicted
}

func (r *Registry) entry(token string) (*sessionEntry, error) {
	r.mu.RLock()
	e, ok := r.sessions[token]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("session %s: %w", token, domain.ErrNotFound)
	}
	return e, nil
}

// transition applies fn under the session lock and returns a fresh copy.
func (r *Registry) transition(token string, fn func(*analysis.Session)) (*analysis.Session, error) {
	e, err := r.entry(token)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.s)
	e.s.LastActivity = time.Now().UTC()
	return e.s.Clone(), nil
}

// recomputeLocked derives progress and the overall status from the stage
// map. Progress is monotone while the session is running and only reaches
// 100.0 on a fully completed run.
func recomputeLocked(s *analysis.Session) {
	total := len(s.Stages)
	if total == 0 {
		return
	}

	done := 0
	anyFailed := false
	allCompleted := true
	for _, st := range s.Stages {
		if st.Done() {
			done++
		}
		if st == analysis.StageFailed {
			anyFailed = true
		}
		if st != analysis.StageCompleted {
			allCompleted = false
		}
	}

	p := 100 * float64(done) / float64(total)
	if p > s.Progress {
		s.Progress = p
	}

	now := time.Now().UTC()
	switch {
	case anyFailed:
		s.Status = analysis.StatusFailed
		s.CompletedAt = &now
		if s.Progress > failedProgressCap {
			s.Progress = failedProgressCap
		}
	case allCompleted:
		s.Status = analysis.StatusCompleted
		s.Progress = 100.0
		s.CompletedAt = &now
		s.CurrentStage = ""
	}
}

func appendError(s *analysis.Session, msg string) {
	if msg == "" {
		return
	}
	if s.Error == "" {
		s.Error = msg
		return
	}
	s.Error += "; " + msg
}
