package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-booking/internal/model"
	"github.com/jwalitptl/clinic-booking/internal/repository"
	"github.com/jwalitptl/clinic-booking/pkg/logger"
)

// Emitter records domain events for asynchronous delivery.
type Emitter interface {
	Emit(ctx context.Context, eventType string, apt *model.Appointment)
}

// EventService writes appointment events to the outbox table. The worker
// publishes them later, so a broker outage never fails a request.
type EventService struct {
	outboxRepo repository.OutboxRepository
	log        *logger.Logger
	now        func() time.Time
}

func NewEventService(outboxRepo repository.OutboxRepository, log *logger.Logger) *EventService {
	return &EventService{
		outboxRepo: outboxRepo,
		log:        log,
		now:        time.Now,
	}
}

// Record stores one event snapshot of apt.
func (s *EventService) Record(ctx context.Context, eventType string, apt *model.Appointment) error {
	payload, err := json.Marshal(model.NewAppointmentEvent(apt, s.now().UTC()))
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	event := &model.OutboxEvent{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   payload,
	}
	if err := s.outboxRepo.Create(ctx, event); err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}
	return nil
}

// Emit is Record with the error logged. The appointment write it follows has
// already committed.
func (s *EventService) Emit(ctx context.Context, eventType string, apt *model.Appointment) {
	if err := s.Record(ctx, eventType, apt); err != nil {
		s.log.Error(err, "failed to record event",
			"event_type", eventType,
			"appointment_id", apt.ID.String(),
		)
	}
}

// CleanupProcessedEvents removes delivered events older than retention.
func (s *EventService) CleanupProcessedEvents(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention)
	count, err := s.outboxRepo.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup events: %w", err)
	}
	return count, nil
}

type nopEmitter struct{}

func (nopEmitter) Emit(context.Context, string, *model.Appointment) {}

// Nop returns an Emitter that drops everything.
func Nop() Emitter { return nopEmitter{} }
