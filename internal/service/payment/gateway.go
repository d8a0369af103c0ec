package payment

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrInvalidSignature is returned by Gateway.ParseWebhook when the payload
// was not signed with the configured secret.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Provider event types the reconciler acts on.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventCheckoutExpired   = "checkout.session.expired"
	EventChargeRefunded    = "charge.refunded"
)

// Gateway is the hosted payment provider.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, params *CheckoutParams) (*CheckoutSession, error)
	GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
	CreateRefund(ctx context.Context, params *RefundParams) (*Refund, error)
	// ParseWebhook verifies the signature header and decodes the event.
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

// CheckoutParams describes a one line-item hosted checkout. Amounts are in
// minor units.
type CheckoutParams struct {
	AppointmentID      uuid.UUID
	ServiceID          uuid.UUID
	ProductName        string
	ProductDescription string
	AmountMinor        int64
	Currency           string
	CustomerEmail      string
	PatientName        string
	SuccessURL         string
	CancelURL          string
}

type CheckoutSession struct {
	ID  string
	URL string
}

type PaymentIntent struct {
	ID             string
	Status         string
	AmountReceived int64
	Currency       string
}

type RefundParams struct {
	PaymentIntentID string
	AmountMinor     int64
	AppointmentID   uuid.UUID
	Policy          string
}

type Refund struct {
	ID          string
	AmountMinor int64
	Status      string
}

// WebhookEvent is a verified provider event. Exactly one of Checkout and
// Charge is set for the handled types.
type WebhookEvent struct {
	ID       string
	Type     string
	Checkout *CheckoutSessionData
	Charge   *ChargeData
}

type CheckoutSessionData struct {
	ID              string
	PaymentIntentID string
	Metadata        map[string]string
}

type ChargeData struct {
	ID              string
	PaymentIntentID string
	AmountRefunded  int64
	Currency        string
}
