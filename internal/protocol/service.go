package protocol

import (
	"context"
	"errors"
	"fmt"

	"github.com/Wachitugo/ConvivenciaLaboral-sub001/pkg/logging"
)

// Service applies step transitions to stored instances.
type Service struct {
	store  Store
	logger logging.Logger
}

func NewService(store Store, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Service{store: store, logger: logger}
}

func (s *Service) Get(ctx context.Context, caseID string) (*Instance, error) {
	return s.store.GetProtocol(ctx, caseID)
}

func (s *Service) CompleteStep(ctx context.Context, caseID string, stepID int, notes string, evidenceRefs []string) (*Instance, error) {
	return s.apply(ctx, caseID, StatusCompleted, func(inst *Instance) (*Instance, error) {
		return CompleteStep(inst, stepID, notes, evidenceRefs)
	})
}

func (s *Service) StartStep(ctx context.Context, caseID string, stepID int) (*Instance, error) {
	return s.apply(ctx, caseID, StatusInProgress, func(inst *Instance) (*Instance, error) {
		return StartStep(inst, stepID)
	})
}

func (s *Service) SkipStep(ctx context.Context, caseID string, stepID int, notes string) (*Instance, error) {
	return s.apply(ctx, caseID, StatusSkipped, func(inst *Instance) (*Instance, error) {
		return SkipStep(inst, stepID, notes)
	})
}

func (s *Service) apply(ctx context.Context, caseID string, target StepStatus, transition func(*Instance) (*Instance, error)) (*Instance, error) {
	updated, err := s.store.UpdateProtocol(context.WithoutCancel(ctx), caseID, func(current *Instance) (*Instance, error) {
		if current == nil {
			return nil, ErrProtocolNotFound
		}
		return transition(current)
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrProtocolNotFound):
		return nil, err
	case errors.Is(err, ErrStepNotFound), errors.Is(err, ErrInvalidTransition):
		transitionsTotal.WithLabelValues(string(target), "rejected").Inc()
		return nil, err
	default:
		transitionsTotal.WithLabelValues(string(target), "error").Inc()
		return nil, fmt.Errorf("persist transition: %w", err)
	}
	transitionsTotal.WithLabelValues(string(target), "ok").Inc()
	s.logger.WithFields(logging.Fields{
		"case_id":      caseID,
		"status":       target,
		"is_completed": updated.IsCompleted,
	}).Info("Protocol step updated")
	return updated, nil
}
