package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-booking/internal/model"
	"github.com/jwalitptl/clinic-booking/internal/schedule"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrSlotTaken is returned when a write would overlap another active
	// appointment of the same staff member.
	ErrSlotTaken = errors.New("time slot overlaps an existing appointment")
	// ErrStaleState is returned by conditional writes whose precondition no
	// longer holds.
	ErrStaleState = errors.New("record was modified concurrently")
	ErrReferenced = errors.New("record is still referenced")
	ErrDuplicate  = errors.New("record already exists")
)

type (
	AppointmentRepository interface {
		// Create inserts apt after re-checking the staff member's day for
		// overlaps inside the same transaction.
		Create(ctx context.Context, apt *model.Appointment) error
		GetByID(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
		GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*model.Appointment, error)
		List(ctx context.Context, filters model.AppointmentFilters) ([]*model.Appointment, error)
		// Update persists schedule, status and notes. With reschedule set the
		// overlap check is repeated under the staff/day lock.
		Update(ctx context.Context, apt *model.Appointment, reschedule bool) error
		// UpdatePayment persists the payment sub-state and status only if the
		// stored payment status still equals expected.
		UpdatePayment(ctx context.Context, apt *model.Appointment, expected model.PaymentStatus) error
		Delete(ctx context.Context, id uuid.UUID) error
		ListActiveForStaff(ctx context.Context, staffID uuid.UUID, date schedule.Date, excludeID *uuid.UUID) ([]*model.Appointment, error)
		CountByService(ctx context.Context, serviceID uuid.UUID) (int, error)
	}

	ServiceRepository interface {
		Create(ctx context.Context, svc *model.Service) error
		GetByID(ctx context.Context, id uuid.UUID) (*model.Service, error)
		List(ctx context.Context, includeInactive bool) ([]*model.Service, error)
		Update(ctx context.Context, svc *model.Service) error
		Delete(ctx context.Context, id uuid.UUID) error
	}

	ProfileRepository interface {
		Create(ctx context.Context, profile *model.Profile) error
		GetByID(ctx context.Context, id uuid.UUID) (*model.Profile, error)
		List(ctx context.Context, filters model.ProfileFilters) ([]*model.Profile, error)
		Update(ctx context.Context, profile *model.Profile) error
	}

	AvailabilityRepository interface {
		Create(ctx context.Context, slot *model.StaffAvailability) error
		GetByID(ctx context.Context, id uuid.UUID) (*model.StaffAvailability, error)
		List(ctx context.Context, staffID *uuid.UUID, day model.DayOfWeek) ([]*model.StaffAvailability, error)
		Update(ctx context.Context, slot *model.StaffAvailability) error
		Delete(ctx context.Context, id uuid.UUID) error
	}

	// WebhookEventRepository remembers provider event ids already applied.
	WebhookEventRepository interface {
		AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
		MarkProcessed(ctx context.Context, provider, eventID, eventType string) error
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		// ClaimPending marks up to limit due events as processing and returns them.
		ClaimPending(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		MarkProcessed(ctx context.Context, id uuid.UUID) error
		MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retryAt *time.Time) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)
