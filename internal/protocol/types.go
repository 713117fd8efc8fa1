// Package protocol turns model output into persisted protocol instances and
// drives their step lifecycle.
package protocol

import (
	"errors"
	"time"
)

type StepStatus string

const (
	StatusPending    StepStatus = "pending"
	StatusInProgress StepStatus = "in_progress"
	StatusCompleted  StepStatus = "completed"
	StatusSkipped    StepStatus = "skipped"
)

var (
	ErrStepNotFound      = errors.New("protocol step not found")
	ErrProtocolNotFound  = errors.New("protocol not found")
	ErrInvalidTransition = errors.New("invalid protocol step transition")
)

type Step struct {
	ID               int        `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	Status           StepStatus `json:"status"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	Notes            string     `json:"notes,omitempty"`
	EvidenceRefs     []string   `json:"evidence_refs"`
	IsMandatory      bool       `json:"is_mandatory"`
	ResponsibleRoles []string   `json:"responsible_roles,omitempty"`
	Deadline         string     `json:"deadline,omitempty"`
}

// Instance is 1:1 with a case. CurrentStep is the smallest pending step id,
// nil once no step is pending.
type Instance struct {
	CaseID        string    `json:"case_id"`
	SessionID     string    `json:"session_id,omitempty"`
	ProtocolName  string    `json:"protocol_name"`
	Category      string    `json:"category,omitempty"`
	SeverityLevel string    `json:"severity_level,omitempty"`
	CurrentStep   *int      `json:"current_step"`
	IsCompleted   bool      `json:"is_completed"`
	Steps         []Step    `json:"steps"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (i *Instance) step(id int) *Step {
	for idx := range i.Steps {
		if i.Steps[idx].ID == id {
			return &i.Steps[idx]
		}
	}
	return nil
}

// Clone returns a deep copy so transitions never mutate a caller's instance.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	out := *i
	if i.CurrentStep != nil {
		cur := *i.CurrentStep
		out.CurrentStep = &cur
	}
	out.Steps = make([]Step, len(i.Steps))
	for idx, s := range i.Steps {
		if s.CompletedAt != nil {
			at := *s.CompletedAt
			s.CompletedAt = &at
		}
		s.EvidenceRefs = append([]string(nil), s.EvidenceRefs...)
		s.ResponsibleRoles = append([]string(nil), s.ResponsibleRoles...)
		out.Steps[idx] = s
	}
	return &out
}

// recompute restores the current step invariant. A step still in progress
// keeps the instance open even when nothing is pending.
func (i *Instance) recompute() {
	var current *int
	open := false
	for _, s := range i.Steps {
		if s.Status == StatusInProgress {
			open = true
		}
		if s.Status != StatusPending {
			continue
		}
		if current == nil || s.ID < *current {
			id := s.ID
			current = &id
		}
	}
	i.CurrentStep = current
	i.IsCompleted = current == nil && !open && len(i.Steps) > 0
}
