// Package lookup answers read-only queries about sagas by business
// identifiers. Support teams key on payment or correlation IDs, not saga
// IDs, so this is the main diagnostic entry point.
package lookup

import (
	"context"

	"github.com/payrail/orchestrator/internal/saga"
)

// finder is the read slice of the saga repository.
type finder interface {
	GetSaga(ctx context.Context, id string) (*saga.Saga, error)
	FindByPaymentID(ctx context.Context, tenantID, paymentID string) (*saga.Saga, error)
	FindByCorrelationID(ctx context.Context, tenantID, correlationID string) (*saga.Saga, error)
}

// Service resolves sagas and views over their steps.
type Service struct {
	store finder
}

func NewService(store finder) *Service {
	return &Service{store: store}
}

// ByID returns the saga with all steps attached.
func (s *Service) ByID(ctx context.Context, id string) (*saga.Saga, error) {
	return s.store.GetSaga(ctx, id)
}

// ByPaymentID returns the most recently started saga for the payment
// within the tenant.
func (s *Service) ByPaymentID(ctx context.Context, tenantID, paymentID string) (*saga.Saga, error) {
	return s.store.FindByPaymentID(ctx, tenantID, paymentID)
}

// ByCorrelationID returns the most recently started saga carrying the
// correlation ID within the tenant.
func (s *Service) ByCorrelationID(ctx context.Context, tenantID, correlationID string) (*saga.Saga, error) {
	return s.store.FindByCorrelationID(ctx, tenantID, correlationID)
}

// CurrentStep returns the step the saga's cursor points at, or nil when
// the saga has run past its last step.
func (s *Service) CurrentStep(ctx context.Context, id string) (*saga.Step, error) {
	sg, err := s.store.GetSaga(ctx, id)
	if err != nil {
		return nil, err
	}
	return sg.StepBySequence(sg.CurrentStep), nil
}

// Steps returns the saga's steps in sequence order.
func (s *Service) Steps(ctx context.Context, id string) ([]*saga.Step, error) {
	sg, err := s.store.GetSaga(ctx, id)
	if err != nil {
		return nil, err
	}
	return sg.Steps, nil
}

// CompletedSteps returns only the steps that finished forward execution.
func (s *Service) CompletedSteps(ctx context.Context, id string) ([]*saga.Step, error) {
	sg, err := s.store.GetSaga(ctx, id)
	if err != nil {
		return nil, err
	}
	return sg.CompletedSteps(), nil
}
