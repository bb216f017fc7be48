package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/payrail/orchestrator/internal/repository"
	"github.com/payrail/orchestrator/pkg/logger"
)

// streamPublisher is the slice of pkg/streams.Client the service needs.
type streamPublisher interface {
	Publish(ctx context.Context, stream string, msg interface{}) (string, error)
}

// Service persists lifecycle events and forwards them to the event bus.
// The bus forward is best-effort: a failure is logged, never rolled back,
// so the audit row survives bus outages.
type Service struct {
	repo      *repository.EventRepository
	publisher streamPublisher
	stream    string
	log       *logger.Logger
}

func NewService(repo *repository.EventRepository, publisher streamPublisher, stream string, log *logger.Logger) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		stream:    stream,
		log:       log,
	}
}

// Publish appends the event to the audit table, then forwards it to the
// lifecycle stream.
func (s *Service) Publish(ctx context.Context, ev *Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	record := &repository.EventRecord{
		SagaID:         ev.SagaID,
		TenantID:       ev.TenantID,
		BusinessUnitID: ev.BusinessUnitID,
		CorrelationID:  ev.CorrelationID,
		Type:           string(ev.Type),
		Payload:        payload,
		OccurredAt:     ev.OccurredAt,
	}
	if err := s.repo.Insert(ctx, record); err != nil {
		return fmt.Errorf("persist event: %w", err)
	}

	if s.publisher != nil {
		if _, err := s.publisher.Publish(ctx, s.stream, ev); err != nil {
			s.log.Warnf("publish event to stream failed", map[string]interface{}{
				"sagaID": ev.SagaID,
				"type":   string(ev.Type),
				"error":  err.Error(),
			})
		}
	}
	return nil
}

// BySagaID returns a saga's events ordered by occurrence ascending.
func (s *Service) BySagaID(ctx context.Context, sagaID string) ([]*repository.EventRecord, error) {
	return s.repo.ListBySagaID(ctx, sagaID)
}

// ByCorrelationID returns events across sagas sharing a correlation ID,
// ordered by occurrence ascending.
func (s *Service) ByCorrelationID(ctx context.Context, correlationID string) ([]*repository.EventRecord, error) {
	return s.repo.ListByCorrelationID(ctx, correlationID)
}
