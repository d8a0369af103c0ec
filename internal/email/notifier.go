package email

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jwalitptl/clinic-booking/internal/model"
	"github.com/jwalitptl/clinic-booking/internal/repository"
	"github.com/jwalitptl/clinic-booking/pkg/logger"
	"github.com/jwalitptl/clinic-booking/pkg/messaging"
	"github.com/jwalitptl/clinic-booking/pkg/metrics"
)

// NotifiedEvents are the event types that produce a patient email.
var NotifiedEvents = []string{
	model.EventAppointmentCreated,
	model.EventAppointmentCancelled,
	model.EventPaymentCompleted,
	model.EventPaymentRefunded,
}

// Notifier turns domain events from the broker into patient emails.
type Notifier struct {
	sender   Sender
	profiles repository.ProfileRepository
	services repository.ServiceRepository
	channels messaging.Channels
	metrics  *metrics.Metrics
	log      *logger.Logger
}

func NewNotifier(
	sender Sender,
	profiles repository.ProfileRepository,
	services repository.ServiceRepository,
	channels messaging.Channels,
	m *metrics.Metrics,
	log *logger.Logger,
) *Notifier {
	return &Notifier{
		sender:   sender,
		profiles: profiles,
		services: services,
		channels: channels,
		metrics:  m,
		log:      log,
	}
}

// Channels lists the broker channels Handle expects.
func (n *Notifier) Channels() []string {
	out := make([]string, 0, len(NotifiedEvents))
	for _, t := range NotifiedEvents {
		out = append(out, n.channels.For(t))
	}
	return out
}

// Run consumes until ctx is done.
func (n *Notifier) Run(ctx context.Context, broker messaging.Broker) error {
	return messaging.Consume(ctx, broker, n.log, n.Handle, n.Channels()...)
}

func (n *Notifier) Handle(ctx context.Context, msg messaging.Message) error {
	eventType := n.channels.EventType(msg.Channel)

	var evt model.AppointmentEvent
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		n.metrics.NotificationsSent.WithLabelValues(eventType, "invalid").Inc()
		return fmt.Errorf("failed to decode %s event: %w", eventType, err)
	}

	patient, err := n.profiles.GetByID(ctx, evt.PatientID)
	if err != nil {
		n.metrics.NotificationsSent.WithLabelValues(eventType, "error").Inc()
		return fmt.Errorf("failed to load patient %s: %w", evt.PatientID, err)
	}
	if patient.Email == "" {
		n.metrics.NotificationsSent.WithLabelValues(eventType, "skipped").Inc()
		return nil
	}

	serviceName := "your appointment"
	svc, err := n.services.GetByID(ctx, evt.ServiceID)
	switch {
	case err == nil:
		serviceName = svc.Name
	case !errors.Is(err, repository.ErrNotFound):
		n.log.Warn("service lookup failed", "service_id", evt.ServiceID.String(), "error", err.Error())
	}

	subject, body, ok := compose(eventType, patient, serviceName, &evt)
	if !ok {
		n.metrics.NotificationsSent.WithLabelValues(eventType, "skipped").Inc()
		return nil
	}

	if err := n.sender.Send(ctx, patient.Email, subject, body); err != nil {
		n.metrics.NotificationsSent.WithLabelValues(eventType, "error").Inc()
		return fmt.Errorf("failed to send %s email: %w", eventType, err)
	}
	n.metrics.NotificationsSent.WithLabelValues(eventType, "sent").Inc()
	n.log.Info("notification sent",
		"event_type", eventType,
		"appointment_id", evt.AppointmentID.String(),
	)
	return nil
}

func compose(eventType string, patient *model.Profile, serviceName string, evt *model.AppointmentEvent) (string, string, bool) {
	name := patient.FullName
	if name == "" {
		name = "there"
	}
	when := fmt.Sprintf("%s at %s", evt.AppointmentDate, evt.StartTime)

	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", name)

	var subject string
	switch eventType {
	case model.EventAppointmentCreated:
		subject = "Your appointment is booked"
		fmt.Fprintf(&b, "Your %s is booked for %s.\n", serviceName, when)
		if evt.PaymentStatus == model.PaymentStatusPending {
			b.WriteString("Please complete payment to confirm it.\n")
		}
	case model.EventAppointmentCancelled:
		subject = "Your appointment was cancelled"
		fmt.Fprintf(&b, "Your %s on %s has been cancelled.\n", serviceName, when)
	case model.EventPaymentCompleted:
		subject = "Payment received"
		fmt.Fprintf(&b, "We received %s for your %s on %s. Your appointment is confirmed.\n", amount(evt), serviceName, when)
	case model.EventPaymentRefunded:
		subject = "Refund processed"
		fmt.Fprintf(&b, "A refund of %s for your %s on %s has been issued. It may take a few days to appear.\n", amount(evt), serviceName, when)
	default:
		return "", "", false
	}

	b.WriteString("\nThank you.\n")
	return subject, b.String(), true
}

func amount(evt *model.AppointmentEvent) string {
	if evt.Amount == nil {
		return "your payment"
	}
	if evt.Currency != nil && *evt.Currency != "" {
		return fmt.Sprintf("%s %.2f", strings.ToUpper(*evt.Currency), *evt.Amount)
	}
	return fmt.Sprintf("%.2f", *evt.Amount)
}
