package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusProcessing OutboxStatus = "processing"
	OutboxStatusProcessed  OutboxStatus = "processed"
	OutboxStatusRetry      OutboxStatus = "retry"
	OutboxStatusFailed     OutboxStatus = "failed"
)

type OutboxEvent struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	EventType    string          `db:"event_type" json:"event_type"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Status       OutboxStatus    `db:"status" json:"status"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	RetryCount   int             `db:"retry_count" json:"retry_count"`
	RetryAt      *time.Time      `db:"retry_at" json:"retry_at,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
	ProcessedAt  *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
}

// Domain event types written to the outbox.
const (
	EventAppointmentCreated   = "appointment.created"
	EventAppointmentUpdated   = "appointment.updated"
	EventAppointmentCancelled = "appointment.cancelled"
	EventPaymentCompleted     = "payment.completed"
	EventPaymentFailed        = "payment.failed"
	EventPaymentRefunded      = "payment.refunded"
)

// AppointmentEvent is the payload of every appointment/payment domain event.
type AppointmentEvent struct {
	AppointmentID   uuid.UUID         `json:"appointment_id"`
	PatientID       uuid.UUID         `json:"patient_id"`
	StaffID         uuid.UUID         `json:"staff_id"`
	ServiceID       uuid.UUID         `json:"service_id"`
	AppointmentDate string            `json:"appointment_date"`
	StartTime       string            `json:"start_time"`
	EndTime         string            `json:"end_time"`
	Status          AppointmentStatus `json:"status"`
	PaymentStatus   PaymentStatus     `json:"payment_status"`
	Amount          *float64          `json:"amount,omitempty"`
	Currency        *string           `json:"currency,omitempty"`
	OccurredAt      time.Time         `json:"occurred_at"`
}

// NewAppointmentEvent snapshots apt for publishing.
func NewAppointmentEvent(apt *Appointment, now time.Time) AppointmentEvent {
	evt := AppointmentEvent{
		AppointmentID:   apt.ID,
		PatientID:       apt.PatientID,
		StaffID:         apt.StaffID,
		ServiceID:       apt.ServiceID,
		AppointmentDate: apt.AppointmentDate.String(),
		StartTime:       apt.StartTime.String(),
		EndTime:         apt.EndTime.String(),
		Status:          apt.Status,
		PaymentStatus:   apt.PaymentStatus,
		Currency:        apt.PaymentCurrency,
		OccurredAt:      now,
	}
	switch apt.PaymentStatus {
	case PaymentStatusRefunded, PaymentStatusPartiallyRefunded:
		evt.Amount = apt.RefundAmount
	default:
		evt.Amount = apt.PaymentAmount
	}
	return evt
}
