// Package analysis defines the session entity tracked for each analysis run.
package analysis

import "time"

// Status represents the overall state of an analysis session.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final. Terminal sessions never
// transition again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// StageStatus represents the state of a single agent stage within a run.
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageInProgress StageStatus = "in_progress"
	StageCompleted  StageStatus = "completed"
	StageFailed     StageStatus = "failed"
)

// Done reports whether the stage counts toward run progress.
func (s StageStatus) Done() bool {
	return s == StageCompleted || s == StageFailed
}

// Session is the tracked state of one analysis run, identified by Token.
// Mutated only through the registry's synchronized API.
type Session struct {
	Token        string                 `json:"session_token"`
	Identifier   string                 `json:"identifier"`
	Depth        int                    `json:"depth,omitempty"`
	ModelConfig  map[string]any         `json:"-"`
	Status       Status                 `json:"status"`
	Progress     float64                `json:"progress"`
	Stages       map[string]StageStatus `json:"stage_statuses"`
	StageOrder   []string               `json:"-"`
	Reports      map[string]*string     `json:"report_sections"`
	CurrentStage string                 `json:"current_stage,omitempty"`
	Error        string                 `json:"error_message,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
	LastActivity time.Time              `json:"last_activity"`
}

// Clone returns a deep copy safe to hand out after the session lock is released.
func (s *Session) Clone() *Session {
	out := *s
	out.Stages = make(map[string]StageStatus, len(s.Stages))
	for k, v := range s.Stages {
		out.Stages[k] = v
	}
	out.StageOrder = append([]string(nil), s.StageOrder...)
	if s.ModelConfig != nil {
		out.ModelConfig = make(map[string]any, len(s.ModelConfig))
		for k, v := range s.ModelConfig {
			out.ModelConfig[k] = v
		}
	}
	out.Reports = make(map[string]*string, len(s.Reports))
	for k, v := range s.Reports {
		if v == nil {
			out.Reports[k] = nil
			continue
		}
		c := *v
		out.Reports[k] = &c
	}
	return &out
}
