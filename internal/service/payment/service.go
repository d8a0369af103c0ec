package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-booking/internal/model"
	"github.com/jwalitptl/clinic-booking/internal/repository"
	"github.com/jwalitptl/clinic-booking/internal/service/event"
	apperrors "github.com/jwalitptl/clinic-booking/pkg/errors"
	"github.com/jwalitptl/clinic-booking/pkg/logger"
	"github.com/jwalitptl/clinic-booking/pkg/metrics"
)

// Checkout metadata keys, read back by the webhook reconciler.
const (
	MetadataAppointmentID = "appointmentId"
	MetadataServiceID     = "serviceId"
	MetadataPatientName   = "patientName"
)

const providerStripe = "stripe"

type Config struct {
	Currency          string
	AppURL            string
	DefaultReturnPath string
	CancelPath        string
	Location          *time.Location
	Refund            RefundPolicy
}

// Service runs checkout, webhook reconciliation and refunds against one
// payment Gateway.
type Service struct {
	appointments  repository.AppointmentRepository
	services      repository.ServiceRepository
	profiles      repository.ProfileRepository
	webhookEvents repository.WebhookEventRepository
	gateway       Gateway
	events        event.Emitter
	metrics       *metrics.Metrics
	log           *logger.Logger
	cfg           Config
	now           func() time.Time
}

func NewService(
	appointments repository.AppointmentRepository,
	services repository.ServiceRepository,
	profiles repository.ProfileRepository,
	webhookEvents repository.WebhookEventRepository,
	gateway Gateway,
	events event.Emitter,
	m *metrics.Metrics,
	log *logger.Logger,
	cfg Config,
) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.DefaultReturnPath == "" {
		cfg.DefaultReturnPath = "/dashboard"
	}
	if cfg.CancelPath == "" {
		cfg.CancelPath = "/book?canceled=true"
	}
	return &Service{
		appointments:  appointments,
		services:      services,
		profiles:      profiles,
		webhookEvents: webhookEvents,
		gateway:       gateway,
		events:        events,
		metrics:       m,
		log:           log,
		cfg:           cfg,
		now:           time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) getAppointment(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	apt, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("appointment", err)
		}
		return nil, apperrors.Upstream("failed to get appointment", err)
	}
	return apt, nil
}

// Patients act on their own appointments only.
func checkOwner(caller *model.Profile, apt *model.Appointment) error {
	if caller.IsAdmin() || apt.PatientID == caller.ID {
		return nil
	}
	return apperrors.Forbidden("cannot pay for another patient's appointment")
}
