package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-booking/internal/model"
	"github.com/jwalitptl/clinic-booking/internal/repository"
	apperrors "github.com/jwalitptl/clinic-booking/pkg/errors"
)

// CreateCheckoutSession opens a hosted checkout for the appointment's
// service and records the session on the appointment.
func (s *Service) CreateCheckoutSession(ctx context.Context, caller *model.Profile, req *model.CheckoutSessionRequest) (*model.CheckoutSessionResponse, error) {
	resp, err := s.createCheckoutSession(ctx, caller, req)
	outcome := "created"
	if err != nil {
		outcome = "rejected"
		if apperrors.HasCode(err, apperrors.ErrUpstream) {
			outcome = "failed"
		}
	}
	s.metrics.CheckoutSessions.WithLabelValues(outcome).Inc()
	return resp, err
}

func (s *Service) createCheckoutSession(ctx context.Context, caller *model.Profile, req *model.CheckoutSessionRequest) (*model.CheckoutSessionResponse, error) {
	appointmentID, err := uuid.Parse(req.AppointmentID)
	if err != nil {
		return nil, apperrors.Validation("invalid appointmentId", err)
	}
	serviceID, err := uuid.Parse(req.ServiceID)
	if err != nil {
		return nil, apperrors.Validation("invalid serviceId", err)
	}

	svc, err := s.services.GetByID(ctx, serviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("service", err)
		}
		return nil, apperrors.Upstream("failed to get service", err)
	}
	apt, err := s.getAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(caller, apt); err != nil {
		return nil, err
	}

	switch {
	case apt.ServiceID != svc.ID:
		return nil, apperrors.Validation("serviceId does not match the appointment", nil)
	case apt.Status == model.AppointmentStatusCancelled:
		return nil, apperrors.InvalidState("appointment is cancelled")
	case apt.PaymentStatus.Settled():
		return nil, apperrors.InvalidState("appointment is already paid")
	}

	amount := ToMinor(svc.Price)
	if amount <= 0 {
		return nil, apperrors.Validation("service has no price to charge", nil)
	}

	patient, err := s.profiles.GetByID(ctx, apt.PatientID)
	if err != nil {
		return nil, apperrors.Upstream("failed to get patient profile", err)
	}

	returnPath := req.ReturnURL
	if returnPath == "" {
		returnPath = s.cfg.DefaultReturnPath
	}
	appURL := strings.TrimSuffix(s.cfg.AppURL, "/")

	session, err := s.gateway.CreateCheckoutSession(ctx, &CheckoutParams{
		AppointmentID:      apt.ID,
		ServiceID:          svc.ID,
		ProductName:        svc.Name,
		ProductDescription: fmt.Sprintf("Appointment on %s at %s", apt.AppointmentDate, apt.StartTime),
		AmountMinor:        amount,
		Currency:           strings.ToLower(s.cfg.Currency),
		CustomerEmail:      patient.Email,
		PatientName:        patient.FullName,
		SuccessURL:         appURL + returnPath + "?session_id={CHECKOUT_SESSION_ID}&success=true",
		CancelURL:          appURL + s.cfg.CancelPath,
	})
	if err != nil {
		return nil, apperrors.Upstream("failed to create checkout session", err)
	}

	expected := apt.PaymentStatus
	price := svc.Price
	currency := strings.ToUpper(s.cfg.Currency)
	apt.StripeSessionID = &session.ID
	apt.PaymentAmount = &price
	apt.PaymentCurrency = &currency
	if apt.PaymentStatus == model.PaymentStatusFailed {
		apt.PaymentStatus = model.PaymentStatusPending
	}

	if err := s.appointments.UpdatePayment(ctx, apt, expected); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return nil, apperrors.Conflict("appointment payment changed, retry checkout", err)
		}
		return nil, apperrors.Upstream("failed to record checkout session", err)
	}

	return &model.CheckoutSessionResponse{SessionID: session.ID, URL: session.URL}, nil
}
