package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-booking/internal/model"
	"github.com/jwalitptl/clinic-booking/internal/repository/repotest"
	"github.com/jwalitptl/clinic-booking/pkg/logger"
	"github.com/jwalitptl/clinic-booking/pkg/messaging"
	"github.com/jwalitptl/clinic-booking/pkg/metrics"
)

type sentMail struct {
	to, subject, body string
}

type fakeSender struct {
	sent []sentMail
	err  error
}

func (s *fakeSender) Send(_ context.Context, to, subject, body string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMail{to, subject, body})
	return nil
}

type notifierFixture struct {
	notifier *Notifier
	sender   *fakeSender
	metrics  *metrics.Metrics
	patient  *model.Profile
	service  *model.Service
}

func newNotifierFixture() *notifierFixture {
	f := &notifierFixture{
		sender:  &fakeSender{},
		metrics: metrics.NewNop(),
		patient: &model.Profile{Base: model.Base{ID: uuid.New()}, Email: "pat@example.com", FullName: "Pat Doe", Role: model.RolePatient},
		service: &model.Service{Base: model.Base{ID: uuid.New()}, Name: "Consultation", Duration: 30, Currency: "INR", IsActive: true},
	}
	f.notifier = NewNotifier(f.sender,
		repotest.NewProfiles(f.patient),
		repotest.NewServices(f.service),
		messaging.Channels{Prefix: "clinic:"},
		f.metrics, logger.Nop())
	return f
}

func (f *notifierFixture) message(t *testing.T, eventType string, mutate func(*model.AppointmentEvent)) messaging.Message {
	t.Helper()
	currency := "inr"
	amount := 500.0
	evt := model.AppointmentEvent{
		AppointmentID:   uuid.New(),
		PatientID:       f.patient.ID,
		StaffID:         uuid.New(),
		ServiceID:       f.service.ID,
		AppointmentDate: "2025-03-10",
		StartTime:       "10:00",
		EndTime:         "10:30",
		Status:          model.AppointmentStatusConfirmed,
		PaymentStatus:   model.PaymentStatusCompleted,
		Amount:          &amount,
		Currency:        &currency,
		OccurredAt:      time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	if mutate != nil {
		mutate(&evt)
	}
	payload, err := json.Marshal(evt)
	require.NoError(t, err)
	return messaging.Message{Channel: "clinic:" + eventType, Payload: payload}
}

func TestNotifier_Channels(t *testing.T) {
	f := newNotifierFixture()
	assert.Equal(t, []string{
		"clinic:appointment.created",
		"clinic:appointment.cancelled",
		"clinic:payment.completed",
		"clinic:payment.refunded",
	}, f.notifier.Channels())
}

func TestNotifier_Emails(t *testing.T) {
	tests := []struct {
		eventType string
		mutate    func(*model.AppointmentEvent)
		subject   string
		contains  []string
	}{
		{
			eventType: model.EventAppointmentCreated,
			mutate:    func(e *model.AppointmentEvent) { e.PaymentStatus = model.PaymentStatusPending },
			subject:   "Your appointment is booked",
			contains:  []string{"Hi Pat Doe", "Consultation is booked for 2025-03-10 at 10:00", "complete payment"},
		},
		{
			eventType: model.EventPaymentCompleted,
			subject:   "Payment received",
			contains:  []string{"INR 500.00", "confirmed"},
		},
		{
			eventType: model.EventPaymentRefunded,
			mutate:    func(e *model.AppointmentEvent) { v := 250.0; e.Amount = &v },
			subject:   "Refund processed",
			contains:  []string{"refund of INR 250.00"},
		},
		{
			eventType: model.EventAppointmentCancelled,
			subject:   "Your appointment was cancelled",
			contains:  []string{"Consultation on 2025-03-10 at 10:00 has been cancelled"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			f := newNotifierFixture()
			require.NoError(t, f.notifier.Handle(context.Background(), f.message(t, tt.eventType, tt.mutate)))

			require.Len(t, f.sender.sent, 1)
			mail := f.sender.sent[0]
			assert.Equal(t, "pat@example.com", mail.to)
			assert.Equal(t, tt.subject, mail.subject)
			for _, s := range tt.contains {
				assert.Contains(t, mail.body, s)
			}
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.NotificationsSent.WithLabelValues(tt.eventType, "sent")))
		})
	}
}

func TestNotifier_UnknownServiceStillSends(t *testing.T) {
	f := newNotifierFixture()
	msg := f.message(t, model.EventPaymentCompleted, func(e *model.AppointmentEvent) { e.ServiceID = uuid.New() })

	require.NoError(t, f.notifier.Handle(context.Background(), msg))
	require.Len(t, f.sender.sent, 1)
	assert.Contains(t, f.sender.sent[0].body, "your appointment")
}

func TestNotifier_Failures(t *testing.T) {
	t.Run("bad payload", func(t *testing.T) {
		f := newNotifierFixture()
		err := f.notifier.Handle(context.Background(), messaging.Message{Channel: "clinic:payment.completed", Payload: []byte("{")})
		assert.Error(t, err)
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.NotificationsSent.WithLabelValues(model.EventPaymentCompleted, "invalid")))
	})

	t.Run("unknown patient", func(t *testing.T) {
		f := newNotifierFixture()
		msg := f.message(t, model.EventPaymentCompleted, func(e *model.AppointmentEvent) { e.PatientID = uuid.New() })
		assert.Error(t, f.notifier.Handle(context.Background(), msg))
		assert.Empty(t, f.sender.sent)
	})

	t.Run("smtp error", func(t *testing.T) {
		f := newNotifierFixture()
		f.sender.err = errors.New("connection refused")
		err := f.notifier.Handle(context.Background(), f.message(t, model.EventPaymentCompleted, nil))
		assert.ErrorContains(t, err, "connection refused")
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.NotificationsSent.WithLabelValues(model.EventPaymentCompleted, "error")))
	})

	t.Run("not notified", func(t *testing.T) {
		f := newNotifierFixture()
		require.NoError(t, f.notifier.Handle(context.Background(), f.message(t, model.EventAppointmentUpdated, nil)))
		assert.Empty(t, f.sender.sent)
	})
}

func TestSMTPSender_Message(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "localhost", Port: 1025})
	var buf bytes.Buffer
	_, err := s.message("pat@example.com", "Payment received", "Hi Pat").WriteTo(&buf)
	require.NoError(t, err)

	raw := buf.String()
	assert.Contains(t, raw, "From: no-reply@clinic.local")
	assert.Contains(t, raw, "To: pat@example.com")
	assert.Contains(t, raw, "Subject: Payment received")
	assert.Contains(t, raw, "Hi Pat")
}

func TestSMTPSender_CancelledContext(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "localhost", Port: 1025})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Send(ctx, "pat@example.com", "x", "y"), context.Canceled)
}
