package protocol

import (
	"fmt"
	"slices"
	"time"
)

var now = time.Now

// CompleteStep marks a step completed and returns the updated copy. Completing
// an already completed step keeps its first timestamp and only adds evidence
// refs it does not have yet.
func CompleteStep(inst *Instance, stepID int, notes string, evidenceRefs []string) (*Instance, error) {
	if inst == nil {
		return nil, ErrProtocolNotFound
	}
	out := inst.Clone()
	step := out.step(stepID)
	if step == nil {
		return nil, fmt.Errorf("%w: %d", ErrStepNotFound, stepID)
	}
	if step.Status == StatusSkipped {
		return nil, fmt.Errorf("%w: step %d was skipped", ErrInvalidTransition, stepID)
	}

	ts := now().UTC()
	if step.Status != StatusCompleted || step.CompletedAt == nil {
		step.CompletedAt = &ts
	}
	step.Status = StatusCompleted
	if notes != "" {
		step.Notes = notes
	}
	for _, ref := range evidenceRefs {
		if ref == "" || slices.Contains(step.EvidenceRefs, ref) {
			continue
		}
		step.EvidenceRefs = append(step.EvidenceRefs, ref)
	}

	out.UpdatedAt = ts
	out.recompute()
	return out, nil
}

// StartStep moves a pending step to in_progress. Starting a step already in
// progress is a no-op.
func StartStep(inst *Instance, stepID int) (*Instance, error) {
	if inst == nil {
		return nil, ErrProtocolNotFound
	}
	out := inst.Clone()
	step := out.step(stepID)
	if step == nil {
		return nil, fmt.Errorf("%w: %d", ErrStepNotFound, stepID)
	}
	switch step.Status {
	case StatusInProgress:
		return out, nil
	case StatusPending:
	default:
		return nil, fmt.Errorf("%w: step %d is %s", ErrInvalidTransition, stepID, step.Status)
	}
	step.Status = StatusInProgress
	out.UpdatedAt = now().UTC()
	out.recompute()
	return out, nil
}

// SkipStep moves a pending step to skipped, which is terminal. Mandatory
// steps cannot be skipped.
func SkipStep(inst *Instance, stepID int, notes string) (*Instance, error) {
	if inst == nil {
		return nil, ErrProtocolNotFound
	}
	out := inst.Clone()
	step := out.step(stepID)
	if step == nil {
		return nil, fmt.Errorf("%w: %d", ErrStepNotFound, stepID)
	}
	if step.IsMandatory {
		return nil, fmt.Errorf("%w: step %d is mandatory", ErrInvalidTransition, stepID)
	}
	switch step.Status {
	case StatusSkipped:
		return out, nil
	case StatusPending:
	default:
		return nil, fmt.Errorf("%w: step %d is %s", ErrInvalidTransition, stepID, step.Status)
	}
	step.Status = StatusSkipped
	if notes != "" {
		step.Notes = notes
	}
	out.UpdatedAt = now().UTC()
	out.recompute()
	return out, nil
}
