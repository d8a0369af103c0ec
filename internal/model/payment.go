package model

type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusCompleted         PaymentStatus = "completed"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
	PaymentStatusPayLater          PaymentStatus = "pay_later"
)

// Once completed, a payment only moves towards refunded.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:           {PaymentStatusCompleted, PaymentStatusFailed},
	PaymentStatusPayLater:          {PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed},
	PaymentStatusFailed:            {PaymentStatusPending, PaymentStatusCompleted},
	PaymentStatusCompleted:         {PaymentStatusRefunded, PaymentStatusPartiallyRefunded},
	PaymentStatusPartiallyRefunded: {PaymentStatusRefunded, PaymentStatusPartiallyRefunded},
}

// CanTransitionTo reports whether the payment status may move to next.
// Self transitions are not implied; callers treat them as no-ops.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Settled reports whether money has been captured for the appointment.
func (s PaymentStatus) Settled() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusRefunded, PaymentStatusPartiallyRefunded:
		return true
	}
	return false
}

type CheckoutSessionRequest struct {
	AppointmentID string `json:"appointmentId" binding:"required,uuid"`
	ServiceID     string `json:"serviceId" binding:"required,uuid"`
	ReturnURL     string `json:"returnUrl" binding:"omitempty,startswith=/"`
}

type CheckoutSessionResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

type RefundRequest struct {
	AppointmentID string `json:"appointmentId" binding:"required,uuid"`
	Reason        string `json:"reason" binding:"omitempty,max=1000"`
}

type RefundResponse struct {
	Success          bool    `json:"success"`
	RefundID         string  `json:"refundId"`
	RefundAmount     float64 `json:"refundAmount"`
	RefundPercentage int     `json:"refundPercentage"`
	Message          string  `json:"message"`
}
