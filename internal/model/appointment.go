package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-booking/internal/schedule"
)

type AppointmentStatus string

const (
	AppointmentStatusPending   AppointmentStatus = "pending"
	AppointmentStatusConfirmed AppointmentStatus = "confirmed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
	AppointmentStatusCompleted AppointmentStatus = "completed"
	AppointmentStatusNoShow    AppointmentStatus = "no_show"
)

var appointmentTransitions = map[AppointmentStatus][]AppointmentStatus{
	AppointmentStatusPending:   {AppointmentStatusConfirmed, AppointmentStatusCancelled},
	AppointmentStatusConfirmed: {AppointmentStatusCompleted, AppointmentStatusCancelled, AppointmentStatusNoShow},
}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case AppointmentStatusPending, AppointmentStatusConfirmed, AppointmentStatusCancelled,
		AppointmentStatusCompleted, AppointmentStatusNoShow:
		return true
	}
	return false
}

// CanTransitionTo reports whether the status machine allows s -> next.
// Staying in the same status is always allowed.
func (s AppointmentStatus) CanTransitionTo(next AppointmentStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range appointmentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Occupies reports whether an appointment in this status blocks its slot.
func (s AppointmentStatus) Occupies() bool {
	return s != AppointmentStatusCancelled && s != AppointmentStatusNoShow
}

// PaymentOption is chosen by the patient at booking time.
type PaymentOption string

const (
	PaymentOptionPayNow   PaymentOption = "pay_now"
	PaymentOptionPayLater PaymentOption = "pay_later"
)

type Appointment struct {
	Base
	PatientID          uuid.UUID         `db:"patient_id" json:"patient_id"`
	StaffID            uuid.UUID         `db:"staff_id" json:"staff_id"`
	ServiceID          uuid.UUID         `db:"service_id" json:"service_id"`
	AppointmentDate    schedule.Date     `db:"appointment_date" json:"appointment_date"`
	StartTime          schedule.Clock    `db:"start_time" json:"start_time"`
	EndTime            schedule.Clock    `db:"end_time" json:"end_time"`
	Status             AppointmentStatus `db:"status" json:"status"`
	PatientNotes       *string           `db:"patient_notes" json:"patient_notes,omitempty"`
	StaffNotes         *string           `db:"staff_notes" json:"staff_notes,omitempty"`
	CancellationReason *string           `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	ReminderSent       bool              `db:"reminder_sent" json:"reminder_sent"`
	Payment
}

// Payment is the payment sub-state stored on the appointment row.
type Payment struct {
	PaymentStatus         PaymentStatus `db:"payment_status" json:"payment_status"`
	PaymentAmount         *float64      `db:"payment_amount" json:"payment_amount,omitempty"`
	PaymentCurrency       *string       `db:"payment_currency" json:"payment_currency,omitempty"`
	StripeSessionID       *string       `db:"stripe_session_id" json:"stripe_session_id,omitempty"`
	StripePaymentIntentID *string       `db:"stripe_payment_intent_id" json:"stripe_payment_intent_id,omitempty"`
	PaidAt                *time.Time    `db:"paid_at" json:"paid_at,omitempty"`
	RefundAmount          *float64      `db:"refund_amount" json:"refund_amount,omitempty"`
	RefundedAt            *time.Time    `db:"refunded_at" json:"refunded_at,omitempty"`
	RefundReason          *string       `db:"refund_reason" json:"refund_reason,omitempty"`
}

// Slot is the wall-clock interval the appointment occupies on its date.
func (a *Appointment) Slot() schedule.Interval {
	return schedule.Interval{Start: a.StartTime, End: a.EndTime}
}

// StartsAt places the appointment start in the clinic location.
func (a *Appointment) StartsAt(loc *time.Location) time.Time {
	return a.AppointmentDate.At(a.StartTime, loc)
}

type CreateAppointmentRequest struct {
	StaffID         string        `json:"staff_id" binding:"required,uuid"`
	ServiceID       string        `json:"service_id" binding:"required,uuid"`
	AppointmentDate string        `json:"appointment_date" binding:"required,isodate"`
	StartTime       string        `json:"start_time" binding:"required,clock"`
	Notes           *string       `json:"patient_notes" binding:"omitempty,max=2000"`
	PaymentOption   PaymentOption `json:"payment_option" binding:"omitempty,oneof=pay_now pay_later"`
}

type UpdateAppointmentRequest struct {
	AppointmentDate    *string            `json:"appointment_date" binding:"omitempty,isodate"`
	StartTime          *string            `json:"start_time" binding:"omitempty,clock"`
	ServiceID          *string            `json:"service_id" binding:"omitempty,uuid"`
	Status             *AppointmentStatus `json:"status" binding:"omitempty,oneof=pending confirmed cancelled completed no_show"`
	PatientNotes       *string            `json:"patient_notes" binding:"omitempty,max=2000"`
	StaffNotes         *string            `json:"staff_notes" binding:"omitempty,max=2000"`
	CancellationReason *string            `json:"cancellation_reason" binding:"omitempty,max=1000"`
}

// Reschedules reports whether the update touches date, time or service.
func (r *UpdateAppointmentRequest) Reschedules() bool {
	return r.AppointmentDate != nil || r.StartTime != nil || r.ServiceID != nil
}

type AppointmentFilters struct {
	PatientID *uuid.UUID
	StaffID   *uuid.UUID
	Status    AppointmentStatus
	StartDate *schedule.Date
	EndDate   *schedule.Date
}

// ListAppointmentsQuery is bound from the query string.
type ListAppointmentsQuery struct {
	Status    string `form:"status" binding:"omitempty,oneof=pending confirmed cancelled completed no_show"`
	StartDate string `form:"start_date" binding:"omitempty,isodate"`
	EndDate   string `form:"end_date" binding:"omitempty,isodate"`
	StaffID   string `form:"staff_id" binding:"omitempty,uuid"`
}
