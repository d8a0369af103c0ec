package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/clinic-booking/internal/model"
	"github.com/jwalitptl/clinic-booking/internal/repository"
	"github.com/jwalitptl/clinic-booking/internal/schedule"
)

const appointmentColumns = `
	id, patient_id, staff_id, service_id, appointment_date, start_time, end_time,
	status, patient_notes, staff_notes, cancellation_reason, reminder_sent,
	payment_status, payment_amount, payment_currency, stripe_session_id,
	stripe_payment_intent_id, paid_at, refund_amount, refunded_at, refund_reason,
	created_at, updated_at`

// Statuses that do not block a slot.
const inactiveStatuses = `('cancelled', 'no_show')`

func (r *appointmentRepository) Create(ctx context.Context, apt *model.Appointment) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := lockStaffDay(ctx, tx, apt.StaffID, apt.AppointmentDate); err != nil {
			return err
		}
		taken, err := slotTaken(ctx, tx, apt.StaffID, apt.AppointmentDate, apt.Slot(), nil)
		if err != nil {
			return err
		}
		if taken {
			return repository.ErrSlotTaken
		}

		query := `
			INSERT INTO appointments (` + appointmentColumns + `
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
				$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23
			)`
		_, err = tx.ExecContext(ctx, query,
			apt.ID,
			apt.PatientID,
			apt.StaffID,
			apt.ServiceID,
			apt.AppointmentDate,
			apt.StartTime,
			apt.EndTime,
			apt.Status,
			apt.PatientNotes,
			apt.StaffNotes,
			apt.CancellationReason,
			apt.ReminderSent,
			apt.PaymentStatus,
			apt.PaymentAmount,
			apt.PaymentCurrency,
			apt.StripeSessionID,
			apt.StripePaymentIntentID,
			apt.PaidAt,
			apt.RefundAmount,
			apt.RefundedAt,
			apt.RefundReason,
			apt.CreatedAt,
			apt.UpdatedAt,
		)
		return mapError("create appointment", err)
	})
}

func (r *appointmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	var apt model.Appointment
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`
	if err := r.db.GetContext(ctx, &apt, query, id); err != nil {
		return nil, mapError("get appointment", err)
	}
	return &apt, nil
}

func (r *appointmentRepository) GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*model.Appointment, error) {
	var apt model.Appointment
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE stripe_payment_intent_id = $1 LIMIT 1`
	if err := r.db.GetContext(ctx, &apt, query, paymentIntentID); err != nil {
		return nil, mapError("get appointment by payment intent", err)
	}
	return &apt, nil
}

func (r *appointmentRepository) List(ctx context.Context, filters model.AppointmentFilters) ([]*model.Appointment, error) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filters.PatientID != nil {
		add("patient_id = $%d", *filters.PatientID)
	}
	if filters.StaffID != nil {
		add("staff_id = $%d", *filters.StaffID)
	}
	if filters.Status != "" {
		add("status = $%d", filters.Status)
	}
	if filters.StartDate != nil {
		add("appointment_date >= $%d", *filters.StartDate)
	}
	if filters.EndDate != nil {
		add("appointment_date <= $%d", *filters.EndDate)
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY appointment_date ASC, start_time ASC"

	appointments := []*model.Appointment{}
	if err := r.db.SelectContext(ctx, &appointments, query, args...); err != nil {
		return nil, mapError("list appointments", err)
	}
	return appointments, nil
}

func (r *appointmentRepository) Update(ctx context.Context, apt *model.Appointment, reschedule bool) error {
	apt.UpdatedAt = time.Now().UTC()

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if reschedule {
			if err := lockStaffDay(ctx, tx, apt.StaffID, apt.AppointmentDate); err != nil {
				return err
			}
			taken, err := slotTaken(ctx, tx, apt.StaffID, apt.AppointmentDate, apt.Slot(), &apt.ID)
			if err != nil {
				return err
			}
			if taken {
				return repository.ErrSlotTaken
			}
		}

		query := `
			UPDATE appointments
			SET service_id = $1, appointment_date = $2, start_time = $3, end_time = $4,
				status = $5, patient_notes = $6, staff_notes = $7, cancellation_reason = $8,
				updated_at = $9
			WHERE id = $10`
		res, err := tx.ExecContext(ctx, query,
			apt.ServiceID,
			apt.AppointmentDate,
			apt.StartTime,
			apt.EndTime,
			apt.Status,
			apt.PatientNotes,
			apt.StaffNotes,
			apt.CancellationReason,
			apt.UpdatedAt,
			apt.ID,
		)
		if err != nil {
			return mapError("update appointment", err)
		}
		return requireRows("update appointment", res)
	})
}

func (r *appointmentRepository) UpdatePayment(ctx context.Context, apt *model.Appointment, expected model.PaymentStatus) error {
	apt.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE appointments
		SET status = $1, cancellation_reason = $2, payment_status = $3,
			payment_amount = $4, payment_currency = $5, stripe_session_id = $6,
			stripe_payment_intent_id = $7, paid_at = $8, refund_amount = $9,
			refunded_at = $10, refund_reason = $11, updated_at = $12
		WHERE id = $13 AND payment_status = $14`
	res, err := r.db.ExecContext(ctx, query,
		apt.Status,
		apt.CancellationReason,
		apt.PaymentStatus,
		apt.PaymentAmount,
		apt.PaymentCurrency,
		apt.StripeSessionID,
		apt.StripePaymentIntentID,
		apt.PaidAt,
		apt.RefundAmount,
		apt.RefundedAt,
		apt.RefundReason,
		apt.UpdatedAt,
		apt.ID,
		expected,
	)
	if err != nil {
		return mapError("update appointment payment", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update appointment payment: %w", err)
	}
	if n == 0 {
		return repository.ErrStaleState
	}
	return nil
}

func (r *appointmentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return mapError("delete appointment", err)
	}
	return requireRows("delete appointment", res)
}

func (r *appointmentRepository) ListActiveForStaff(ctx context.Context, staffID uuid.UUID, date schedule.Date, excludeID *uuid.UUID) ([]*model.Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE staff_id = $1
		AND appointment_date = $2
		AND status NOT IN ` + inactiveStatuses + `
		AND ($3::uuid IS NULL OR id <> $3)
		ORDER BY start_time ASC`

	appointments := []*model.Appointment{}
	if err := r.db.SelectContext(ctx, &appointments, query, staffID, date, excludeID); err != nil {
		return nil, mapError("list staff appointments", err)
	}
	return appointments, nil
}

func (r *appointmentRepository) CountByService(ctx context.Context, serviceID uuid.UUID) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM appointments WHERE service_id = $1`, serviceID); err != nil {
		return 0, mapError("count appointments by service", err)
	}
	return n, nil
}

// lockStaffDay serializes writers for one staff member's day until the
// surrounding transaction ends.
func lockStaffDay(ctx context.Context, tx *sqlx.Tx, staffID uuid.UUID, date schedule.Date) error {
	key := staffID.String() + "/" + date.String()
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("failed to lock staff schedule: %w", err)
	}
	return nil
}

func slotTaken(ctx context.Context, tx *sqlx.Tx, staffID uuid.UUID, date schedule.Date, slot schedule.Interval, excludeID *uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE staff_id = $1
			AND appointment_date = $2
			AND status NOT IN ` + inactiveStatuses + `
			AND start_time < $4
			AND end_time > $3
			AND ($5::uuid IS NULL OR id <> $5)
		)`
	var exists bool
	if err := tx.GetContext(ctx, &exists, query, staffID, date, slot.Start, slot.End, excludeID); err != nil {
		return false, fmt.Errorf("failed to check slot: %w", err)
	}
	return exists, nil
}
