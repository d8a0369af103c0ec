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

// Webhook outcomes, reported in metrics.
const (
	OutcomeApplied   = "applied"
	OutcomeNoop      = "noop"
	OutcomeDuplicate = "duplicate"
	OutcomeSkipped   = "skipped"
	OutcomeIgnored   = "ignored"
	OutcomeFailed    = "failed"
)

const cancelledPaymentRefundReason = "Payment received after the appointment was cancelled (full refund)"

// errSkip marks events that reference nothing we can update.
var errSkip = errors.New("skip event")

// HandleWebhook verifies and applies one provider event. Signature failures
// return ErrInvalidSignature before any state is read. Errors other than
// that should be answered with a 5xx so the provider redelivers.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) (string, error) {
	evt, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		s.metrics.WebhookEvents.WithLabelValues("unknown", "invalid_signature").Inc()
		return "", err
	}

	outcome, err := s.reconcile(ctx, evt)
	if err != nil {
		outcome = OutcomeFailed
	}
	s.metrics.WebhookEvents.WithLabelValues(evt.Type, outcome).Inc()
	return outcome, err
}

func (s *Service) reconcile(ctx context.Context, evt *WebhookEvent) (string, error) {
	seen, err := s.webhookEvents.AlreadyProcessed(ctx, providerStripe, evt.ID)
	if err != nil {
		return "", apperrors.Upstream("failed to check webhook event", err)
	}
	if seen {
		s.log.Info("webhook event already processed", "event_id", evt.ID, "event_type", evt.Type)
		return OutcomeDuplicate, nil
	}

	var (
		applied  bool
		applyErr error
	)
	switch evt.Type {
	case EventCheckoutCompleted:
		applied, applyErr = s.applyCheckoutCompleted(ctx, evt)
	case EventCheckoutExpired:
		applied, applyErr = s.applyCheckoutExpired(ctx, evt)
	case EventChargeRefunded:
		applied, applyErr = s.applyChargeRefunded(ctx, evt)
	default:
		s.log.Info("unhandled webhook event type", "event_id", evt.ID, "event_type", evt.Type)
		return OutcomeIgnored, nil
	}

	outcome := OutcomeNoop
	switch {
	case errors.Is(applyErr, errSkip):
		s.log.Warn("webhook event skipped", "event_id", evt.ID, "event_type", evt.Type, "reason", applyErr.Error())
		outcome = OutcomeSkipped
	case applyErr != nil:
		return "", applyErr
	case applied:
		outcome = OutcomeApplied
	}

	if err := s.webhookEvents.MarkProcessed(ctx, providerStripe, evt.ID, evt.Type); err != nil {
		return "", apperrors.Upstream("failed to record webhook event", err)
	}
	return outcome, nil
}

func (s *Service) appointmentFromMetadata(ctx context.Context, metadata map[string]string) (*model.Appointment, error) {
	raw := metadata[MetadataAppointmentID]
	if raw == "" {
		return nil, fmt.Errorf("%w: no appointment id in session metadata", errSkip)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed appointment id %q", errSkip, raw)
	}
	apt, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: appointment %s not found", errSkip, id)
		}
		return nil, apperrors.Upstream("failed to get appointment", err)
	}
	return apt, nil
}

// writePayment persists apt's payment sub-state conditionally on expected.
// A lost race is returned as an error so the event is redelivered and
// re-evaluated against the fresh row.
func (s *Service) writePayment(ctx context.Context, apt *model.Appointment, expected model.PaymentStatus) error {
	if err := s.appointments.UpdatePayment(ctx, apt, expected); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return apperrors.Upstream("appointment payment changed concurrently", err)
		}
		return apperrors.Upstream("failed to update appointment payment", err)
	}
	return nil
}

func (s *Service) applyCheckoutCompleted(ctx context.Context, evt *WebhookEvent) (bool, error) {
	if evt.Checkout == nil {
		return false, fmt.Errorf("%w: missing checkout session", errSkip)
	}
	apt, err := s.appointmentFromMetadata(ctx, evt.Checkout.Metadata)
	if err != nil {
		return false, err
	}

	current := apt.PaymentStatus
	if current == model.PaymentStatusCompleted && apt.Status == model.AppointmentStatusCancelled {
		return s.refundCancelled(ctx, apt)
	}
	if current == model.PaymentStatusCompleted || !current.CanTransitionTo(model.PaymentStatusCompleted) {
		return false, nil
	}
	if evt.Checkout.PaymentIntentID == "" {
		return false, fmt.Errorf("%w: session %s has no payment intent", errSkip, evt.Checkout.ID)
	}

	intent, err := s.gateway.GetPaymentIntent(ctx, evt.Checkout.PaymentIntentID)
	if err != nil {
		return false, apperrors.Upstream("failed to retrieve payment intent", err)
	}

	now := s.now().UTC()
	apt.PaymentStatus = model.PaymentStatusCompleted
	apt.StripePaymentIntentID = &intent.ID
	apt.PaidAt = &now
	if apt.StripeSessionID == nil {
		apt.StripeSessionID = &evt.Checkout.ID
	}
	if apt.PaymentAmount == nil && intent.AmountReceived > 0 {
		amount := ToMajor(intent.AmountReceived)
		apt.PaymentAmount = &amount
	}
	if apt.Status == model.AppointmentStatusPending {
		apt.Status = model.AppointmentStatusConfirmed
	}

	if err := s.writePayment(ctx, apt, current); err != nil {
		return false, err
	}
	if apt.Status == model.AppointmentStatusCancelled {
		s.log.Warn("payment completed for cancelled appointment",
			"appointment_id", apt.ID.String(),
			"payment_intent", intent.ID,
		)
		return s.refundCancelled(ctx, apt)
	}
	s.log.Info("payment completed", "appointment_id", apt.ID.String(), "payment_intent", intent.ID)
	s.events.Emit(ctx, model.EventPaymentCompleted, apt)
	return true, nil
}

// refundCancelled returns in full a payment captured after its appointment
// was cancelled. A failed refund leaves the payment completed, so the
// redelivered completion event retries it under the same idempotency key.
func (s *Service) refundCancelled(ctx context.Context, apt *model.Appointment) (bool, error) {
	if apt.PaymentAmount == nil || apt.StripePaymentIntentID == nil {
		return false, fmt.Errorf("%w: cancelled appointment %s has no captured amount", errSkip, apt.ID)
	}
	amount := ToMinor(*apt.PaymentAmount)
	refund, err := s.gateway.CreateRefund(ctx, &RefundParams{
		PaymentIntentID: *apt.StripePaymentIntentID,
		AmountMinor:     amount,
		AppointmentID:   apt.ID,
		Policy:          "100%",
	})
	if err != nil {
		s.metrics.Refunds.WithLabelValues("failed").Inc()
		return false, apperrors.Upstream("failed to refund payment for cancelled appointment", err)
	}

	now := s.now().UTC()
	refunded := ToMajor(amount)
	reason := cancelledPaymentRefundReason
	apt.PaymentStatus = model.PaymentStatusRefunded
	apt.RefundAmount = &refunded
	apt.RefundedAt = &now
	apt.RefundReason = &reason
	if err := s.writePayment(ctx, apt, model.PaymentStatusCompleted); err != nil {
		return false, err
	}
	s.metrics.Refunds.WithLabelValues("refunded").Inc()
	s.log.Info("refunded payment for cancelled appointment",
		"appointment_id", apt.ID.String(),
		"refund_id", refund.ID,
	)
	s.events.Emit(ctx, model.EventPaymentRefunded, apt)
	return true, nil
}

func (s *Service) applyCheckoutExpired(ctx context.Context, evt *WebhookEvent) (bool, error) {
	if evt.Checkout == nil {
		return false, fmt.Errorf("%w: missing checkout session", errSkip)
	}
	apt, err := s.appointmentFromMetadata(ctx, evt.Checkout.Metadata)
	if err != nil {
		return false, err
	}

	// Only an open checkout can expire; anything else already moved on.
	if apt.PaymentStatus != model.PaymentStatusPending {
		return false, nil
	}
	if apt.StripeSessionID != nil && *apt.StripeSessionID != evt.Checkout.ID {
		return false, nil
	}

	apt.PaymentStatus = model.PaymentStatusFailed
	if err := s.writePayment(ctx, apt, model.PaymentStatusPending); err != nil {
		return false, err
	}
	s.events.Emit(ctx, model.EventPaymentFailed, apt)
	return true, nil
}

func (s *Service) applyChargeRefunded(ctx context.Context, evt *WebhookEvent) (bool, error) {
	if evt.Charge == nil || evt.Charge.PaymentIntentID == "" {
		return false, fmt.Errorf("%w: charge has no payment intent", errSkip)
	}
	apt, err := s.appointments.GetByPaymentIntent(ctx, evt.Charge.PaymentIntentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, fmt.Errorf("%w: no appointment for payment intent %s", errSkip, evt.Charge.PaymentIntentID)
		}
		return false, apperrors.Upstream("failed to get appointment", err)
	}

	refund := ToMajor(evt.Charge.AmountRefunded)
	next := model.PaymentStatusPartiallyRefunded
	if apt.PaymentAmount == nil || refund >= *apt.PaymentAmount {
		next = model.PaymentStatusRefunded
	}

	current := apt.PaymentStatus
	if current == next && apt.RefundAmount != nil && *apt.RefundAmount == refund {
		return false, nil
	}
	if !current.CanTransitionTo(next) {
		return false, nil
	}

	now := s.now().UTC()
	apt.PaymentStatus = next
	apt.RefundAmount = &refund
	apt.RefundedAt = &now

	if err := s.writePayment(ctx, apt, current); err != nil {
		return false, err
	}
	s.events.Emit(ctx, model.EventPaymentRefunded, apt)
	return true, nil
}
