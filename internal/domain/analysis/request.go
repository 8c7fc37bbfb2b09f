package analysis

import (
	"fmt"

	"github.com/Strob0t/FinSight/internal/domain"
)

// Request holds the fields needed to start an analysis run.
type Request struct {
	Identifier  string         `json:"identifier"`
	Stages      []string       `json:"stages"`
	Depth       int            `json:"depth,omitempty"`
	ModelConfig map[string]any `json:"model_config,omitempty"`
}

// Validate checks that a Request has all required fields.
func (r *Request) Validate() error {
	if r.Identifier == "" {
		return fmt.Errorf("identifier is required: %w", domain.ErrValidation)
	}
	if len(r.Stages) == 0 {
		return fmt.Errorf("at least one stage is required: %w", domain.ErrValidation)
	}
	seen := make(map[string]bool, len(r.Stages))
	for _, st := range r.Stages {
		if st == "" {
			return fmt.Errorf("stage name must not be empty: %w", domain.ErrValidation)
		}
		if seen[st] {
			return fmt.Errorf("duplicate stage %q: %w", st, domain.ErrValidation)
		}
		seen[st] = true
	}
	if r.Depth < 0 {
		return fmt.Errorf("depth must be non-negative: %w", domain.ErrValidation)
	}
	return nil
}
