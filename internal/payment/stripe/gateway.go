// Package stripe implements the payment Gateway on Stripe hosted checkout.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	stripego "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jwalitptl/clinic-booking/internal/service/payment"
	"github.com/jwalitptl/clinic-booking/pkg/logger"
)

var tracer = otel.Tracer("clinic.internal.payment.stripe")

const defaultTolerance = 5 * time.Minute

type Config struct {
	SecretKey        string
	WebhookSecret    string
	WebhookTolerance time.Duration
	// Backends overrides the API endpoints. Nil uses api.stripe.com.
	Backends *stripego.Backends
}

// Gateway talks to Stripe with its own API client rather than the package
// level key.
type Gateway struct {
	api           *client.API
	webhookSecret string
	tolerance     time.Duration
	log           *logger.Logger
}

var _ payment.Gateway = (*Gateway)(nil)

func NewGateway(cfg Config, log *logger.Logger) *Gateway {
	backends := cfg.Backends
	if backends == nil {
		backends = NewBackends("", log)
	}
	tolerance := cfg.WebhookTolerance
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}
	api := &client.API{}
	api.Init(cfg.SecretKey, backends)
	return &Gateway{
		api:           api,
		webhookSecret: cfg.WebhookSecret,
		tolerance:     tolerance,
		log:           log,
	}
}

// NewBackends builds Stripe backends that log through log. An empty url
// keeps the default API endpoint.
func NewBackends(url string, log *logger.Logger) *stripego.Backends {
	cfg := &stripego.BackendConfig{
		LeveledLogger: &leveledLogger{log: log},
	}
	if url != "" {
		cfg.URL = stripego.String(url)
		cfg.MaxNetworkRetries = stripego.Int64(0)
	}
	b := stripego.GetBackendWithConfig(stripego.APIBackend, cfg)
	return &stripego.Backends{API: b, Connect: b, Uploads: b}
}

func (g *Gateway) CreateCheckoutSession(ctx context.Context, p *payment.CheckoutParams) (*payment.CheckoutSession, error) {
	ctx, span := tracer.Start(ctx, "stripe.CreateCheckoutSession", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.appointment_id", p.AppointmentID.String()),
		attribute.Int64("clinic.amount_minor", p.AmountMinor),
		attribute.String("clinic.currency", p.Currency),
	)

	metadata := map[string]string{
		payment.MetadataAppointmentID: p.AppointmentID.String(),
		payment.MetadataServiceID:     p.ServiceID.String(),
		payment.MetadataPatientName:   p.PatientName,
	}
	params := &stripego.CheckoutSessionParams{
		Mode: stripego.String(string(stripego.CheckoutSessionModePayment)),
		LineItems: []*stripego.CheckoutSessionLineItemParams{
			{
				PriceData: &stripego.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripego.String(p.Currency),
					UnitAmount: stripego.Int64(p.AmountMinor),
					ProductData: &stripego.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripego.String(p.ProductName),
						Description: stripego.String(p.ProductDescription),
					},
				},
				Quantity: stripego.Int64(1),
			},
		},
		SuccessURL: stripego.String(p.SuccessURL),
		CancelURL:  stripego.String(p.CancelURL),
		Metadata:   metadata,
		PaymentIntentData: &stripego.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	if p.CustomerEmail != "" {
		params.CustomerEmail = stripego.String(p.CustomerEmail)
	}
	params.Context = ctx

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, g.fail(span, "create checkout session", err)
	}
	span.SetAttributes(attribute.String("stripe.session_id", sess.ID))
	return &payment.CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func (g *Gateway) GetPaymentIntent(ctx context.Context, id string) (*payment.PaymentIntent, error) {
	ctx, span := tracer.Start(ctx, "stripe.GetPaymentIntent", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("stripe.payment_intent", id))

	params := &stripego.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, g.fail(span, "retrieve payment intent", err)
	}
	return &payment.PaymentIntent{
		ID:             pi.ID,
		Status:         string(pi.Status),
		AmountReceived: pi.AmountReceived,
		Currency:       string(pi.Currency),
	}, nil
}

// CreateRefund is keyed on the appointment so a retried request cannot
// refund twice.
func (g *Gateway) CreateRefund(ctx context.Context, p *payment.RefundParams) (*payment.Refund, error) {
	ctx, span := tracer.Start(ctx, "stripe.CreateRefund", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.appointment_id", p.AppointmentID.String()),
		attribute.String("stripe.payment_intent", p.PaymentIntentID),
		attribute.Int64("clinic.amount_minor", p.AmountMinor),
	)

	params := &stripego.RefundParams{
		PaymentIntent: stripego.String(p.PaymentIntentID),
		Amount:        stripego.Int64(p.AmountMinor),
		Reason:        stripego.String(string(stripego.RefundReasonRequestedByCustomer)),
	}
	params.AddMetadata("appointmentId", p.AppointmentID.String())
	params.AddMetadata("refundPercentage", p.Policy)
	params.SetIdempotencyKey("refund-" + p.AppointmentID.String())
	params.Context = ctx

	r, err := g.api.Refunds.New(params)
	if err != nil {
		return nil, g.fail(span, "create refund", err)
	}
	return &payment.Refund{ID: r.ID, AmountMinor: r.Amount, Status: string(r.Status)}, nil
}

// ParseWebhook verifies the Stripe-Signature header and decodes the object
// for the event types the reconciler handles. A verified event whose object
// does not decode is returned without data; redelivery would not fix it.
func (g *Gateway) ParseWebhook(payload []byte, signature string) (*payment.WebhookEvent, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                g.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrInvalidSignature, err)
	}

	out := &payment.WebhookEvent{ID: evt.ID, Type: string(evt.Type)}
	if evt.Data == nil {
		return out, nil
	}

	switch out.Type {
	case payment.EventCheckoutCompleted, payment.EventCheckoutExpired:
		var sess stripego.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &sess); err != nil {
			g.undecodable(out, err)
			return out, nil
		}
		out.Checkout = &payment.CheckoutSessionData{ID: sess.ID, Metadata: sess.Metadata}
		if sess.PaymentIntent != nil {
			out.Checkout.PaymentIntentID = sess.PaymentIntent.ID
		}
	case payment.EventChargeRefunded:
		var ch stripego.Charge
		if err := json.Unmarshal(evt.Data.Raw, &ch); err != nil {
			g.undecodable(out, err)
			return out, nil
		}
		out.Charge = &payment.ChargeData{ID: ch.ID, AmountRefunded: ch.AmountRefunded, Currency: string(ch.Currency)}
		if ch.PaymentIntent != nil {
			out.Charge.PaymentIntentID = ch.PaymentIntent.ID
		}
	}
	return out, nil
}

func (g *Gateway) undecodable(evt *payment.WebhookEvent, err error) {
	g.log.Error(err, "undecodable webhook object", "event_id", evt.ID, "event_type", evt.Type)
}

func (g *Gateway) fail(span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, op)
	var serr *stripego.Error
	if errors.As(err, &serr) {
		span.SetAttributes(
			attribute.String("stripe.error_code", string(serr.Code)),
			attribute.Int("http.status_code", serr.HTTPStatusCode),
		)
		g.log.Warn("stripe request failed",
			"op", op,
			"code", string(serr.Code),
			"status", serr.HTTPStatusCode,
		)
	}
	return fmt.Errorf("stripe %s: %w", op, err)
}
