package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-booking/internal/model"
	"github.com/jwalitptl/clinic-booking/internal/repository"
	apperrors "github.com/jwalitptl/clinic-booking/pkg/errors"
)

const defaultRefundReason = "Appointment cancelled"

// RefundAppointment cancels a paid appointment and refunds the share the
// refund policy allows for the notice given.
func (s *Service) RefundAppointment(ctx context.Context, caller *model.Profile, req *model.RefundRequest) (*model.RefundResponse, error) {
	resp, err := s.refundAppointment(ctx, caller, req)
	outcome := "refunded"
	if err != nil {
		switch {
		case apperrors.HasCode(err, apperrors.ErrPolicy):
			outcome = "denied"
		case apperrors.HasCode(err, apperrors.ErrUpstream):
			outcome = "failed"
		default:
			outcome = "rejected"
		}
	}
	s.metrics.Refunds.WithLabelValues(outcome).Inc()
	return resp, err
}

func (s *Service) refundAppointment(ctx context.Context, caller *model.Profile, req *model.RefundRequest) (*model.RefundResponse, error) {
	appointmentID, err := uuid.Parse(req.AppointmentID)
	if err != nil {
		return nil, apperrors.Validation("invalid appointmentId", err)
	}
	apt, err := s.getAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(caller, apt); err != nil {
		return nil, err
	}

	if apt.PaymentStatus != model.PaymentStatusCompleted {
		return nil, apperrors.InvalidState("no completed payment found for this appointment")
	}
	if apt.StripePaymentIntentID == nil || *apt.StripePaymentIntentID == "" {
		return nil, apperrors.InvalidState("no payment intent found for this appointment")
	}
	if apt.PaymentAmount == nil {
		return nil, apperrors.InvalidState("no payment amount recorded for this appointment")
	}

	hours := apt.StartsAt(s.cfg.Location).Sub(s.now()).Hours()
	pct, note, ok := s.cfg.Refund.Percentage(hours)
	if !ok {
		return nil, apperrors.Policy(fmt.Sprintf("No refund available - appointment is less than %s hours away",
			formatHours(s.cfg.Refund.PartialRefundHours))).
			WithDetail("hoursUntilAppointment", roundTenth(hours))
	}

	reason := req.Reason
	if reason == "" {
		reason = defaultRefundReason
	}
	refundReason := reason + " (" + note + ")"
	amount := RefundAmountMinor(*apt.PaymentAmount, pct)

	refund, err := s.gateway.CreateRefund(ctx, &RefundParams{
		PaymentIntentID: *apt.StripePaymentIntentID,
		AmountMinor:     amount,
		AppointmentID:   apt.ID,
		Policy:          fmt.Sprintf("%d%%", pct),
	})
	if err != nil {
		return nil, apperrors.Upstream("failed to process refund", err)
	}

	now := s.now().UTC()
	refunded := ToMajor(amount)
	apt.Status = model.AppointmentStatusCancelled
	apt.CancellationReason = &reason
	apt.RefundAmount = &refunded
	apt.RefundedAt = &now
	apt.RefundReason = &refundReason
	if pct == 100 {
		apt.PaymentStatus = model.PaymentStatusRefunded
	} else {
		apt.PaymentStatus = model.PaymentStatusPartiallyRefunded
	}

	recorded, err := s.saveRefund(ctx, apt)
	if err != nil {
		s.log.Error(err, "refund created but appointment update failed",
			"appointment_id", apt.ID.String(),
			"refund_id", refund.ID,
		)
		if errors.Is(err, repository.ErrStaleState) {
			return nil, apperrors.Upstream("refund created but appointment changed concurrently", err)
		}
		return nil, apperrors.Upstream("refund created but failed to update appointment", err)
	}

	// The charge.refunded webhook already announced the refund.
	if recorded {
		s.events.Emit(ctx, model.EventAppointmentCancelled, apt)
	} else {
		s.events.Emit(ctx, model.EventPaymentRefunded, apt)
	}

	currency := ""
	if apt.PaymentCurrency != nil {
		currency = *apt.PaymentCurrency + " "
	}
	return &model.RefundResponse{
		Success:          true,
		RefundID:         refund.ID,
		RefundAmount:     refunded,
		RefundPercentage: pct,
		Message:          fmt.Sprintf("Refund of %s%.2f (%d%%) processed successfully", currency, refunded, pct),
	}, nil
}

const maxRefundWriteAttempts = 3

// saveRefund writes the cancelled and refunded state expecting a completed
// payment. The provider's charge.refunded webhook can land between the
// refund call and this write; when the fresh row shows a refund of the same
// payment intent the fields are re-applied on top of it. recorded reports
// whether the webhook got there first.
func (s *Service) saveRefund(ctx context.Context, apt *model.Appointment) (recorded bool, err error) {
	expected := model.PaymentStatusCompleted
	for attempt := 1; ; attempt++ {
		err = s.appointments.UpdatePayment(ctx, apt, expected)
		if !errors.Is(err, repository.ErrStaleState) || attempt == maxRefundWriteAttempts {
			return recorded, err
		}

		fresh, getErr := s.appointments.GetByID(ctx, apt.ID)
		if getErr != nil {
			return recorded, fmt.Errorf("failed to reload appointment: %w", getErr)
		}
		if !refundedSameIntent(fresh, apt) {
			return recorded, err
		}

		recorded = true
		expected = fresh.PaymentStatus
		if fresh.PaymentStatus == model.PaymentStatusRefunded {
			apt.PaymentStatus = model.PaymentStatusRefunded
		}
		if fresh.RefundAmount != nil && *fresh.RefundAmount > *apt.RefundAmount {
			apt.RefundAmount = fresh.RefundAmount
		}
	}
}

func refundedSameIntent(fresh, apt *model.Appointment) bool {
	switch fresh.PaymentStatus {
	case model.PaymentStatusRefunded, model.PaymentStatusPartiallyRefunded:
	default:
		return false
	}
	return fresh.StripePaymentIntentID != nil && apt.StripePaymentIntentID != nil &&
		*fresh.StripePaymentIntentID == *apt.StripePaymentIntentID
}
