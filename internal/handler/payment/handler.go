package payment

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-booking/internal/authz"
	"github.com/jwalitptl/clinic-booking/internal/middleware"
	"github.com/jwalitptl/clinic-booking/internal/model"
	"github.com/jwalitptl/clinic-booking/internal/service/payment"
	"github.com/jwalitptl/clinic-booking/pkg/httputil"
	"github.com/jwalitptl/clinic-booking/pkg/logger"
	"github.com/jwalitptl/clinic-booking/pkg/validator"
)

const signatureHeader = "Stripe-Signature"

// Stripe caps event payloads well below this.
const maxWebhookBody = 512 << 10

type Handler struct {
	service *payment.Service
	log     *logger.Logger
}

func NewHandler(service *payment.Service, log *logger.Logger) *Handler {
	return &Handler{service: service, log: log}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, auth *middleware.AuthMiddleware) {
	rg.POST("/create-checkout-session", auth.Authenticate(), auth.Require(authz.ActionCreateCheckout), h.CreateCheckoutSession)
	rg.POST("/refund-appointment", auth.Authenticate(), auth.Require(authz.ActionRefundAppointment), h.RefundAppointment)

	// Authenticated by signature, not bearer token.
	rg.POST("/stripe-webhook", middleware.SizeLimit(maxWebhookBody), h.StripeWebhook)
}

func (h *Handler) CreateCheckoutSession(c *gin.Context) {
	var req model.CheckoutSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, validator.Translate(err))
		return
	}

	resp, err := h.service.CreateCheckoutSession(c.Request.Context(), middleware.Profile(c), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) RefundAppointment(c *gin.Context) {
	var req model.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, validator.Translate(err))
		return
	}

	resp, err := h.service.RefundAppointment(c.Request.Context(), middleware.Profile(c), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// StripeWebhook answers 2xx only once the event is durably applied or known
// to need nothing; anything else makes Stripe redeliver.
func (h *Handler) StripeWebhook(c *gin.Context) {
	signature := c.GetHeader(signatureHeader)
	if signature == "" {
		httputil.RespondWithStatus(c, http.StatusBadRequest, "No signature provided")
		return
	}

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		httputil.RespondWithStatus(c, http.StatusRequestEntityTooLarge, "Webhook payload too large")
		return
	}

	outcome, err := h.service.HandleWebhook(c.Request.Context(), payload, signature)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			h.log.Warn("webhook signature verification failed", "error", err.Error())
			httputil.RespondWithStatus(c, http.StatusBadRequest, "Webhook signature verification failed")
			return
		}
		h.log.Error(err, "webhook processing failed")
		httputil.RespondWithStatus(c, http.StatusInternalServerError, "Webhook processing failed")
		return
	}

	h.log.Debug("webhook handled", "outcome", outcome)
	c.JSON(http.StatusOK, gin.H{"received": true})
}
