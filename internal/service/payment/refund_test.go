package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-booking/internal/model"
	apperrors "github.com/jwalitptl/clinic-booking/pkg/errors"
)

func TestRefundPolicy_Percentage(t *testing.T) {
	p := DefaultRefundPolicy()
	tests := []struct {
		hours float64
		pct   int
		ok    bool
	}{
		{72, 100, true},
		{48.0, 100, true},
		{47.99, 50, true},
		{24.0, 50, true},
		{23.99, 0, false},
		{-1, 0, false},
	}
	for _, tt := range tests {
		pct, _, ok := p.Percentage(tt.hours)
		assert.Equal(t, tt.ok, ok, "hours=%v", tt.hours)
		assert.Equal(t, tt.pct, pct, "hours=%v", tt.hours)
	}

	_, note, _ := p.Percentage(30)
	assert.Equal(t, "50% refund - cancelled 24-48 hours before appointment", note)
	_, note, _ = p.Percentage(50)
	assert.Equal(t, "Full refund - cancelled 48+ hours before appointment", note)
}

func TestRefundAmountMinor(t *testing.T) {
	assert.Equal(t, int64(100000), RefundAmountMinor(1000, 100))
	assert.Equal(t, int64(50000), RefundAmountMinor(1000, 50))
	assert.Equal(t, int64(4999), RefundAmountMinor(99.975, 50))
	assert.Equal(t, int64(1999), ToMinor(19.99))
	assert.Equal(t, 19.99, ToMajor(1999))
}

func TestRefundAppointment_Scenario(t *testing.T) {
	tests := []struct {
		name   string
		before time.Duration
		amount int64
		pct    int
		status model.PaymentStatus
	}{
		{"50 hours", 50 * time.Hour, 100000, 100, model.PaymentStatusRefunded},
		{"30 hours", 30 * time.Hour, 50000, 50, model.PaymentStatusPartiallyRefunded},
		{"exactly 48 hours", 48 * time.Hour, 100000, 100, model.PaymentStatusRefunded},
		{"just under 48 hours", 48*time.Hour - 36*time.Second, 50000, 50, model.PaymentStatusPartiallyRefunded},
		{"exactly 24 hours", 24 * time.Hour, 50000, 50, model.PaymentStatusPartiallyRefunded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			apt := f.paid(t, 1000)
			f.now = appointmentStart.Add(-tt.before)

			resp, err := f.svc.RefundAppointment(context.Background(), f.patient, &model.RefundRequest{AppointmentID: apt.ID.String()})
			require.NoError(t, err)
			assert.True(t, resp.Success)
			assert.Equal(t, "re_test_1", resp.RefundID)
			assert.Equal(t, tt.pct, resp.RefundPercentage)
			assert.Equal(t, float64(tt.amount)/100, resp.RefundAmount)

			require.Len(t, f.gateway.refunds, 1)
			assert.Equal(t, tt.amount, f.gateway.refunds[0].AmountMinor)
			assert.Equal(t, "pi_1", f.gateway.refunds[0].PaymentIntentID)
			assert.Equal(t, apt.ID, f.gateway.refunds[0].AppointmentID)

			stored := f.stored(t, apt.ID)
			assert.Equal(t, model.AppointmentStatusCancelled, stored.Status)
			assert.Equal(t, tt.status, stored.PaymentStatus)
			assert.Equal(t, float64(tt.amount)/100, *stored.RefundAmount)
			assert.Equal(t, "Appointment cancelled", *stored.CancellationReason)
			assert.Contains(t, *stored.RefundReason, "Appointment cancelled (")
			assert.Equal(t, []string{model.EventPaymentRefunded}, f.outbox.EventTypes())
		})
	}
}

func TestRefundAppointment_Denied(t *testing.T) {
	tests := []struct {
		name   string
		before time.Duration
		hours  float64
	}{
		{"10 hours", 10 * time.Hour, 10},
		{"just under 24 hours", 24*time.Hour - 36*time.Second, 24},
		{"after start", -2 * time.Hour, -2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			apt := f.paid(t, 1000)
			f.now = appointmentStart.Add(-tt.before)

			_, err := f.svc.RefundAppointment(context.Background(), f.patient, &model.RefundRequest{AppointmentID: apt.ID.String()})
			appErr, ok := apperrors.As(err)
			require.True(t, ok)
			assert.Equal(t, apperrors.ErrPolicy, appErr.Code)
			assert.Equal(t, "No refund available - appointment is less than 24 hours away", appErr.Message)
			assert.Equal(t, tt.hours, appErr.Details["hoursUntilAppointment"])

			assert.Empty(t, f.gateway.refunds)
			assert.Equal(t, model.PaymentStatusCompleted, f.stored(t, apt.ID).PaymentStatus)
			assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Refunds.WithLabelValues("denied")))
		})
	}
}

func TestRefundAppointment_CustomReason(t *testing.T) {
	f := newFixture(t)
	apt := f.paid(t, 1000)
	f.now = appointmentStart.Add(-30 * time.Hour)

	resp, err := f.svc.RefundAppointment(context.Background(), f.patient, &model.RefundRequest{AppointmentID: apt.ID.String(), Reason: "Travelling"})
	require.NoError(t, err)
	assert.Equal(t, "Refund of INR 500.00 (50%) processed successfully", resp.Message)

	stored := f.stored(t, apt.ID)
	assert.Equal(t, "Travelling (50% refund - cancelled 24-48 hours before appointment)", *stored.RefundReason)
	assert.Equal(t, "Travelling", *stored.CancellationReason)
}

func TestRefundAppointment_ProviderFailure(t *testing.T) {
	f := newFixture(t)
	apt := f.paid(t, 1000)
	before := f.stored(t, apt.ID)
	f.gateway.err = errors.New("card network unavailable")

	_, err := f.svc.RefundAppointment(context.Background(), f.patient, &model.RefundRequest{AppointmentID: apt.ID.String()})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrUpstream))
	assert.Equal(t, before, f.stored(t, apt.ID))
	assert.Empty(t, f.outbox.Events())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Refunds.WithLabelValues("failed")))
}

func TestRefundAppointment_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	paid := f.paid(t, 1000)
	unpaid := f.appointment(model.PaymentStatusPending)
	require.NoError(t, f.appointments.Create(ctx, unpaid))

	_, err := f.svc.RefundAppointment(ctx, f.otherPatient, &model.RefundRequest{AppointmentID: paid.ID.String()})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrForbidden))

	_, err = f.svc.RefundAppointment(ctx, f.patient, &model.RefundRequest{AppointmentID: unpaid.ID.String()})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidState))

	_, err = f.svc.RefundAppointment(ctx, f.patient, &model.RefundRequest{AppointmentID: "2d1f7d0e-0000-4000-8000-000000000000"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))

	// A second refund of the same appointment finds it already refunded.
	_, err = f.svc.RefundAppointment(ctx, f.admin, &model.RefundRequest{AppointmentID: paid.ID.String()})
	require.NoError(t, err)
	_, err = f.svc.RefundAppointment(ctx, f.patient, &model.RefundRequest{AppointmentID: paid.ID.String()})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidState))
	assert.Len(t, f.gateway.refunds, 1)
}

func TestRefundAppointment_WebhookLandsBeforeWrite(t *testing.T) {
	tests := []struct {
		name    string
		before  time.Duration
		minor   int64
		payment model.PaymentStatus
	}{
		{"partial", 30 * time.Hour, 50000, model.PaymentStatusPartiallyRefunded},
		{"full", 50 * time.Hour, 100000, model.PaymentStatusRefunded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			apt := f.paid(t, 1000)
			f.now = appointmentStart.Add(-tt.before)
			f.refundEvent("evt_refund", "pi_1", tt.minor)

			var outcome string
			f.gateway.onRefund = func() {
				var err error
				outcome, err = f.svc.HandleWebhook(ctx, []byte("{}"), "evt_refund")
				require.NoError(t, err)
			}

			resp, err := f.svc.RefundAppointment(ctx, f.patient, &model.RefundRequest{AppointmentID: apt.ID.String()})
			require.NoError(t, err)
			assert.Equal(t, OutcomeApplied, outcome)
			assert.Equal(t, float64(tt.minor)/100, resp.RefundAmount)

			stored := f.stored(t, apt.ID)
			assert.Equal(t, model.AppointmentStatusCancelled, stored.Status)
			assert.Equal(t, tt.payment, stored.PaymentStatus)
			assert.Equal(t, float64(tt.minor)/100, *stored.RefundAmount)
			require.NotNil(t, stored.RefundReason)
			assert.Contains(t, *stored.RefundReason, "Appointment cancelled (")
			assert.Equal(t, "Appointment cancelled", *stored.CancellationReason)
			assert.Equal(t, []string{model.EventPaymentRefunded, model.EventAppointmentCancelled}, f.outbox.EventTypes())
			assert.Len(t, f.gateway.refunds, 1)

			// The refund is settled; asking again is refused without a provider call.
			_, err = f.svc.RefundAppointment(ctx, f.patient, &model.RefundRequest{AppointmentID: apt.ID.String()})
			assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidState))
			assert.Len(t, f.gateway.refunds, 1)
		})
	}
}

func TestRefundAppointment_WebhookLandsAfterWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.paid(t, 1000)
	f.now = appointmentStart.Add(-30 * time.Hour)

	_, err := f.svc.RefundAppointment(ctx, f.patient, &model.RefundRequest{AppointmentID: apt.ID.String()})
	require.NoError(t, err)
	written := f.stored(t, apt.ID)

	f.refundEvent("evt_refund", "pi_1", 50000)
	outcome, err := f.svc.HandleWebhook(ctx, []byte("{}"), "evt_refund")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, outcome)

	stored := f.stored(t, apt.ID)
	assert.Equal(t, written, stored)
	assert.Equal(t, model.AppointmentStatusCancelled, stored.Status)
	assert.Equal(t, model.PaymentStatusPartiallyRefunded, stored.PaymentStatus)
	assert.Equal(t, "Appointment cancelled (50% refund - cancelled 24-48 hours before appointment)", *stored.RefundReason)
	assert.Equal(t, []string{model.EventPaymentRefunded}, f.outbox.EventTypes())
}

func TestRefundAppointment_OtherChangeIsNotMerged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.paid(t, 1000)
	f.now = appointmentStart.Add(-30 * time.Hour)

	// A concurrent write that is not a refund of this payment is reported.
	f.gateway.onRefund = func() {
		changed := f.stored(t, apt.ID)
		other := "pi_other"
		changed.StripePaymentIntentID = &other
		changed.PaymentStatus = model.PaymentStatusRefunded
		require.NoError(t, f.appointments.UpdatePayment(ctx, &changed, model.PaymentStatusCompleted))
	}

	_, err := f.svc.RefundAppointment(ctx, f.patient, &model.RefundRequest{AppointmentID: apt.ID.String()})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrUpstream))
	assert.Equal(t, model.AppointmentStatusConfirmed, f.stored(t, apt.ID).Status)
	assert.Empty(t, f.outbox.EventTypes())
}
