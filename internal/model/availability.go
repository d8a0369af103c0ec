package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-booking/internal/schedule"
)

type DayOfWeek string

const (
	Monday    DayOfWeek = "monday"
	Tuesday   DayOfWeek = "tuesday"
	Wednesday DayOfWeek = "wednesday"
	Thursday  DayOfWeek = "thursday"
	Friday    DayOfWeek = "friday"
	Saturday  DayOfWeek = "saturday"
	Sunday    DayOfWeek = "sunday"
)

// DayOfWeekFor converts a time.Weekday.
func DayOfWeekFor(d time.Weekday) DayOfWeek {
	return [...]DayOfWeek{Sunday, Monday, Tuesday, Wednesday, Thursday, Friday, Saturday}[d]
}

// StaffAvailability is one window of a staff member's weekly template.
type StaffAvailability struct {
	Base
	StaffID     uuid.UUID      `db:"staff_id" json:"staff_id"`
	DayOfWeek   DayOfWeek      `db:"day_of_week" json:"day_of_week"`
	StartTime   schedule.Clock `db:"start_time" json:"start_time"`
	EndTime     schedule.Clock `db:"end_time" json:"end_time"`
	IsAvailable bool           `db:"is_available" json:"is_available"`
}

type CreateAvailabilityRequest struct {
	StaffID     string    `json:"staff_id" binding:"required,uuid"`
	DayOfWeek   DayOfWeek `json:"day_of_week" binding:"required,oneof=monday tuesday wednesday thursday friday saturday sunday"`
	StartTime   string    `json:"start_time" binding:"required,clock"`
	EndTime     string    `json:"end_time" binding:"required,clock"`
	IsAvailable *bool     `json:"is_available"`
}

type UpdateAvailabilityRequest struct {
	DayOfWeek   *DayOfWeek `json:"day_of_week" binding:"omitempty,oneof=monday tuesday wednesday thursday friday saturday sunday"`
	StartTime   *string    `json:"start_time" binding:"omitempty,clock"`
	EndTime     *string    `json:"end_time" binding:"omitempty,clock"`
	IsAvailable *bool      `json:"is_available"`
}

type AvailabilityFilters struct {
	StaffID   string    `form:"staff_id" binding:"omitempty,uuid"`
	DayOfWeek DayOfWeek `form:"day_of_week" binding:"omitempty,oneof=monday tuesday wednesday thursday friday saturday sunday"`
}
