package availability

import (
	"context"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-booking/internal/repository"
	"github.com/jwalitptl/clinic-booking/internal/schedule"
	apperrors "github.com/jwalitptl/clinic-booking/pkg/errors"
)

// Checker decides whether a staff member's time range is free of active
// appointments.
type Checker struct {
	appointments repository.AppointmentRepository
}

func NewChecker(appointments repository.AppointmentRepository) *Checker {
	return &Checker{appointments: appointments}
}

// IsAvailable reports whether slot on date overlaps no active appointment of
// staffID, ignoring excludeID. A store failure is returned as an error and
// never as "available".
func (c *Checker) IsAvailable(ctx context.Context, staffID uuid.UUID, date schedule.Date, slot schedule.Interval, excludeID *uuid.UUID) (bool, error) {
	existing, err := c.appointments.ListActiveForStaff(ctx, staffID, date, excludeID)
	if err != nil {
		return false, apperrors.Upstream("failed to check availability", err)
	}

	booked := make([]schedule.Interval, 0, len(existing))
	for _, apt := range existing {
		if excludeID != nil && apt.ID == *excludeID {
			continue
		}
		if !apt.Status.Occupies() {
			continue
		}
		booked = append(booked, apt.Slot())
	}
	return !schedule.OverlapsAny(slot, booked), nil
}
