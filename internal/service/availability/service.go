package availability

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-booking/internal/model"
	"github.com/jwalitptl/clinic-booking/internal/repository"
	"github.com/jwalitptl/clinic-booking/internal/schedule"
	apperrors "github.com/jwalitptl/clinic-booking/pkg/errors"
)

// Service manages the weekly availability template of staff members.
type Service struct {
	repo     repository.AvailabilityRepository
	profiles repository.ProfileRepository
	now      func() time.Time
}

func NewService(repo repository.AvailabilityRepository, profiles repository.ProfileRepository) *Service {
	return &Service{
		repo:     repo,
		profiles: profiles,
		now:      time.Now,
	}
}

func (s *Service) List(ctx context.Context, filters model.AvailabilityFilters) ([]*model.StaffAvailability, error) {
	var staffID *uuid.UUID
	if filters.StaffID != "" {
		id, err := uuid.Parse(filters.StaffID)
		if err != nil {
			return nil, apperrors.Validation("invalid staff_id", err)
		}
		staffID = &id
	}

	slots, err := s.repo.List(ctx, staffID, filters.DayOfWeek)
	if err != nil {
		return nil, apperrors.Upstream("failed to list availability", err)
	}
	return slots, nil
}

func (s *Service) Create(ctx context.Context, caller *model.Profile, req *model.CreateAvailabilityRequest) (*model.StaffAvailability, error) {
	staffID, err := uuid.Parse(req.StaffID)
	if err != nil {
		return nil, apperrors.Validation("invalid staff_id", err)
	}
	if err := checkOwner(caller, staffID); err != nil {
		return nil, err
	}
	if err := s.requireStaff(ctx, staffID); err != nil {
		return nil, err
	}

	window, err := parseWindow(req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}

	slot := &model.StaffAvailability{
		Base:        model.NewBase(s.now().UTC()),
		StaffID:     staffID,
		DayOfWeek:   req.DayOfWeek,
		StartTime:   window.Start,
		EndTime:     window.End,
		IsAvailable: true,
	}
	if req.IsAvailable != nil {
		slot.IsAvailable = *req.IsAvailable
	}

	if err := s.repo.Create(ctx, slot); err != nil {
		return nil, apperrors.Upstream("failed to create availability", err)
	}
	return slot, nil
}

func (s *Service) Update(ctx context.Context, caller *model.Profile, id uuid.UUID, req *model.UpdateAvailabilityRequest) (*model.StaffAvailability, error) {
	slot, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(caller, slot.StaffID); err != nil {
		return nil, err
	}

	start, end := slot.StartTime.String(), slot.EndTime.String()
	if req.StartTime != nil {
		start = *req.StartTime
	}
	if req.EndTime != nil {
		end = *req.EndTime
	}
	window, err := parseWindow(start, end)
	if err != nil {
		return nil, err
	}
	slot.StartTime, slot.EndTime = window.Start, window.End

	if req.DayOfWeek != nil {
		slot.DayOfWeek = *req.DayOfWeek
	}
	if req.IsAvailable != nil {
		slot.IsAvailable = *req.IsAvailable
	}

	if err := s.repo.Update(ctx, slot); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("availability", err)
		}
		return nil, apperrors.Upstream("failed to update availability", err)
	}
	return slot, nil
}

func (s *Service) Delete(ctx context.Context, caller *model.Profile, id uuid.UUID) error {
	slot, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if err := checkOwner(caller, slot.StaffID); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NotFound("availability", err)
		}
		return apperrors.Upstream("failed to delete availability", err)
	}
	return nil
}

func (s *Service) get(ctx context.Context, id uuid.UUID) (*model.StaffAvailability, error) {
	slot, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("availability", err)
		}
		return nil, apperrors.Upstream("failed to get availability", err)
	}
	return slot, nil
}

func (s *Service) requireStaff(ctx context.Context, staffID uuid.UUID) error {
	staff, err := s.profiles.GetByID(ctx, staffID)
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

// Staff may only edit their own rows; admins edit anyone's.
func checkOwner(caller *model.Profile, staffID uuid.UUID) error {
	if caller.IsAdmin() || caller.ID == staffID {
		return nil
	}
	return apperrors.Forbidden("cannot manage another staff member's availability")
}

func parseWindow(start, end string) (schedule.Interval, error) {
	s, err := schedule.ParseClock(start)
	if err != nil {
		return schedule.Interval{}, apperrors.Validation("invalid start_time", err)
	}
	e, err := schedule.ParseClock(end)
	if err != nil {
		return schedule.Interval{}, apperrors.Validation("invalid end_time", err)
	}
	if s >= e {
		return schedule.Interval{}, apperrors.Validation("start_time must be before end_time", nil)
	}
	return schedule.Interval{Start: s, End: e}, nil
}
