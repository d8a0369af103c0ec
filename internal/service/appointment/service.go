package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-booking/internal/model"
	"github.com/jwalitptl/clinic-booking/internal/repository"
	"github.com/jwalitptl/clinic-booking/internal/schedule"
	"github.com/jwalitptl/clinic-booking/internal/service/event"
	apperrors "github.com/jwalitptl/clinic-booking/pkg/errors"
	"github.com/jwalitptl/clinic-booking/pkg/metrics"
)

// AvailabilityChecker reports whether a staff member's slot is free.
type AvailabilityChecker interface {
	IsAvailable(ctx context.Context, staffID uuid.UUID, date schedule.Date, slot schedule.Interval, excludeID *uuid.UUID) (bool, error)
}

type Service struct {
	repo     repository.AppointmentRepository
	services repository.ServiceRepository
	profiles repository.ProfileRepository
	checker  AvailabilityChecker
	events   event.Emitter
	metrics  *metrics.Metrics
	loc      *time.Location
	now      func() time.Time
}

func NewService(
	repo repository.AppointmentRepository,
	services repository.ServiceRepository,
	profiles repository.ProfileRepository,
	checker AvailabilityChecker,
	events event.Emitter,
	m *metrics.Metrics,
	loc *time.Location,
) *Service {
	return &Service{
		repo:     repo,
		services: services,
		profiles: profiles,
		checker:  checker,
		events:   events,
		metrics:  m,
		loc:      loc,
		now:      time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// EndTime computes start + duration on the same day.
func EndTime(start schedule.Clock, durationMinutes int) (schedule.Clock, error) {
	end, err := start.EndTime(durationMinutes)
	if err != nil {
		if errors.Is(err, schedule.ErrCrossesMidnight) {
			return 0, apperrors.Validation("appointment must end before midnight", err)
		}
		return 0, apperrors.Validation("invalid service duration", err)
	}
	return end, nil
}

// CreateAppointment books a slot for the caller.
func (s *Service) CreateAppointment(ctx context.Context, caller *model.Profile, req *model.CreateAppointmentRequest) (*model.Appointment, error) {
	apt, err := s.createAppointment(ctx, caller, req)
	s.countBooking(err)
	if err != nil {
		return nil, err
	}

	s.events.Emit(ctx, model.EventAppointmentCreated, apt)
	return apt, nil
}

func (s *Service) createAppointment(ctx context.Context, caller *model.Profile, req *model.CreateAppointmentRequest) (*model.Appointment, error) {
	staffID, err := uuid.Parse(req.StaffID)
	if err != nil {
		return nil, apperrors.Validation("invalid staff_id", err)
	}
	serviceID, err := uuid.Parse(req.ServiceID)
	if err != nil {
		return nil, apperrors.Validation("invalid service_id", err)
	}
	date, err := schedule.ParseDate(req.AppointmentDate)
	if err != nil {
		return nil, apperrors.Validation("invalid appointment_date", err)
	}
	start, err := schedule.ParseClock(req.StartTime)
	if err != nil {
		return nil, apperrors.Validation("invalid start_time", err)
	}

	option := req.PaymentOption
	if option == "" {
		option = model.PaymentOptionPayNow
	}
	if option != model.PaymentOptionPayNow && option != model.PaymentOptionPayLater {
		return nil, apperrors.Validation("invalid payment_option", nil)
	}

	svc, err := s.bookableService(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if err := s.requireStaff(ctx, staffID); err != nil {
		return nil, err
	}

	end, err := EndTime(start, svc.Duration)
	if err != nil {
		return nil, err
	}
	slot := schedule.Interval{Start: start, End: end}
	if err := s.checkSlot(ctx, staffID, date, slot, nil); err != nil {
		return nil, err
	}

	apt := &model.Appointment{
		Base:            model.NewBase(s.now().UTC()),
		PatientID:       caller.ID,
		StaffID:         staffID,
		ServiceID:       serviceID,
		AppointmentDate: date,
		StartTime:       start,
		EndTime:         end,
		PatientNotes:    req.Notes,
	}
	if option == model.PaymentOptionPayLater {
		apt.Status = model.AppointmentStatusConfirmed
		apt.PaymentStatus = model.PaymentStatusPayLater
	} else {
		apt.Status = model.AppointmentStatusPending
		apt.PaymentStatus = model.PaymentStatusPending
	}

	if err := s.repo.Create(ctx, apt); err != nil {
		return nil, mapWriteError(err)
	}
	return apt, nil
}

func (s *Service) GetAppointment(ctx context.Context, caller *model.Profile, id uuid.UUID) (*model.Appointment, error) {
	apt, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canSee(caller, apt) {
		return nil, apperrors.Forbidden("cannot access this appointment")
	}
	return apt, nil
}

// ListAppointments scopes the result by role: patients see their own
// bookings, staff their own schedule, admins everything.
func (s *Service) ListAppointments(ctx context.Context, caller *model.Profile, q *model.ListAppointmentsQuery) ([]*model.Appointment, error) {
	var filters model.AppointmentFilters

	if q.Status != "" {
		status := model.AppointmentStatus(q.Status)
		if !status.Valid() {
			return nil, apperrors.Validation("invalid status", nil)
		}
		filters.Status = status
	}
	if q.StartDate != "" {
		d, err := schedule.ParseDate(q.StartDate)
		if err != nil {
			return nil, apperrors.Validation("invalid start_date", err)
		}
		filters.StartDate = &d
	}
	if q.EndDate != "" {
		d, err := schedule.ParseDate(q.EndDate)
		if err != nil {
			return nil, apperrors.Validation("invalid end_date", err)
		}
		filters.EndDate = &d
	}

	switch caller.Role {
	case model.RolePatient:
		filters.PatientID = &caller.ID
	case model.RoleStaff:
		filters.StaffID = &caller.ID
	case model.RoleAdmin:
		if q.StaffID != "" {
			id, err := uuid.Parse(q.StaffID)
			if err != nil {
				return nil, apperrors.Validation("invalid staff_id", err)
			}
			filters.StaffID = &id
		}
	default:
		return nil, apperrors.Forbidden("")
	}

	appointments, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, apperrors.Upstream("failed to list appointments", err)
	}
	return appointments, nil
}

// UpdateAppointment applies a partial update. Changing date, start time or
// service recomputes the end time and re-checks the slot.
func (s *Service) UpdateAppointment(ctx context.Context, caller *model.Profile, id uuid.UUID, req *model.UpdateAppointmentRequest) (*model.Appointment, error) {
	apt, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canSee(caller, apt) {
		return nil, apperrors.Forbidden("cannot access this appointment")
	}
	if caller.Role == model.RolePatient {
		if err := patientMayApply(req); err != nil {
			return nil, err
		}
	}
	previous := apt.Status

	if req.Reschedules() {
		if err := s.reschedule(ctx, apt, req); err != nil {
			return nil, err
		}
	}

	if req.Status != nil && *req.Status != apt.Status {
		if !apt.Status.CanTransitionTo(*req.Status) {
			return nil, apperrors.InvalidState("cannot change status from " + string(apt.Status) + " to " + string(*req.Status))
		}
		apt.Status = *req.Status
	}
	if req.PatientNotes != nil {
		apt.PatientNotes = req.PatientNotes
	}
	if req.StaffNotes != nil {
		apt.StaffNotes = req.StaffNotes
	}
	if req.CancellationReason != nil {
		apt.CancellationReason = req.CancellationReason
	}

	if err := s.repo.Update(ctx, apt, req.Reschedules()); err != nil {
		return nil, mapWriteError(err)
	}

	if apt.Status == model.AppointmentStatusCancelled && previous != model.AppointmentStatusCancelled {
		s.events.Emit(ctx, model.EventAppointmentCancelled, apt)
	} else {
		s.events.Emit(ctx, model.EventAppointmentUpdated, apt)
	}
	return apt, nil
}

func (s *Service) reschedule(ctx context.Context, apt *model.Appointment, req *model.UpdateAppointmentRequest) error {
	switch apt.Status {
	case model.AppointmentStatusPending, model.AppointmentStatusConfirmed:
	default:
		return apperrors.InvalidState("only pending or confirmed appointments can be rescheduled")
	}

	if req.AppointmentDate != nil {
		d, err := schedule.ParseDate(*req.AppointmentDate)
		if err != nil {
			return apperrors.Validation("invalid appointment_date", err)
		}
		apt.AppointmentDate = d
	}
	if req.StartTime != nil {
		c, err := schedule.ParseClock(*req.StartTime)
		if err != nil {
			return apperrors.Validation("invalid start_time", err)
		}
		apt.StartTime = c
	}
	if req.ServiceID != nil {
		id, err := uuid.Parse(*req.ServiceID)
		if err != nil {
			return apperrors.Validation("invalid service_id", err)
		}
		if id != apt.ServiceID && paymentStarted(apt) {
			return apperrors.InvalidState("service cannot change once payment has started")
		}
		apt.ServiceID = id
	}

	svc, err := s.bookableService(ctx, apt.ServiceID)
	if err != nil {
		return err
	}
	end, err := EndTime(apt.StartTime, svc.Duration)
	if err != nil {
		return err
	}
	apt.EndTime = end

	return s.checkSlot(ctx, apt.StaffID, apt.AppointmentDate, apt.Slot(), &apt.ID)
}

func (s *Service) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NotFound("appointment", err)
		}
		return apperrors.Upstream("failed to delete appointment", err)
	}
	return nil
}

func (s *Service) checkSlot(ctx context.Context, staffID uuid.UUID, date schedule.Date, slot schedule.Interval, excludeID *uuid.UUID) error {
	if date.At(slot.Start, s.loc).Before(s.now()) {
		return apperrors.Validation("appointment cannot be scheduled in the past", nil)
	}
	ok, err := s.checker.IsAvailable(ctx, staffID, date, slot, excludeID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.Conflict("time slot is not available", repository.ErrSlotTaken)
	}
	return nil
}

func (s *Service) bookableService(ctx context.Context, id uuid.UUID) (*model.Service, error) {
	svc, err := s.services.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("service", err)
		}
		return nil, apperrors.Upstream("failed to get service", err)
	}
	if !svc.IsActive {
		return nil, apperrors.Validation("service is not available for booking", nil)
	}
	return svc, nil
}

func (s *Service) requireStaff(ctx context.Context, id uuid.UUID) error {
	staff, err := s.profiles.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NotFound("staff member", err)
		}
		return apperrors.Upstream("failed to get staff member", err)
	}
	if staff.Role == model.RolePatient {
		return apperrors.Validation("staff_id does not belong to a staff member", nil)
	}
	return nil
}

func (s *Service) get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	apt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("appointment", err)
		}
		return nil, apperrors.Upstream("failed to get appointment", err)
	}
	return apt, nil
}

func (s *Service) countBooking(err error) {
	result := "created"
	if appErr, ok := apperrors.As(err); ok {
		switch appErr.Code {
		case apperrors.ErrConflict:
			result = "conflict"
		case apperrors.ErrValidation, apperrors.ErrNotFound:
			result = "rejected"
		default:
			result = "error"
		}
	} else if err != nil {
		result = "error"
	}
	s.metrics.Bookings.WithLabelValues(result).Inc()
}

// paymentStarted reports whether an amount for the current service is held
// by an open checkout session or already captured.
func paymentStarted(apt *model.Appointment) bool {
	if apt.PaymentStatus.Settled() {
		return true
	}
	return apt.PaymentStatus == model.PaymentStatusPending && apt.StripeSessionID != nil
}

func canSee(caller *model.Profile, apt *model.Appointment) bool {
	switch caller.Role {
	case model.RoleAdmin:
		return true
	case model.RoleStaff:
		return apt.StaffID == caller.ID
	case model.RolePatient:
		return apt.PatientID == caller.ID
	}
	return false
}

// Patients may cancel and edit their own notes, nothing else.
func patientMayApply(req *model.UpdateAppointmentRequest) error {
	if req.Reschedules() || req.StaffNotes != nil {
		return apperrors.Forbidden("patients may only cancel an appointment")
	}
	if req.Status != nil && *req.Status != model.AppointmentStatusCancelled {
		return apperrors.Forbidden("patients may only cancel an appointment")
	}
	return nil
}

func mapWriteError(err error) error {
	switch {
	case errors.Is(err, repository.ErrSlotTaken):
		return apperrors.Conflict("time slot is not available", err)
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NotFound("appointment", err)
	case errors.Is(err, repository.ErrReferenced):
		return apperrors.Validation("appointment references a missing profile or service", err)
	}
	return apperrors.Upstream("failed to save appointment", err)
}
