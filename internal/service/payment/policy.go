package payment

import (
	"fmt"
	"math"
)

// RefundPolicy maps notice given before the appointment to a refund
// percentage.
type RefundPolicy struct {
	FullRefundHours    float64
	PartialRefundHours float64
	PartialPercentage  int
}

func DefaultRefundPolicy() RefundPolicy {
	return RefundPolicy{
		FullRefundHours:    48,
		PartialRefundHours: 24,
		PartialPercentage:  50,
	}
}

// Percentage returns the refund percentage for hours of notice and a
// human-readable note. ok is false when no refund is allowed.
func (p RefundPolicy) Percentage(hours float64) (pct int, note string, ok bool) {
	switch {
	case hours >= p.FullRefundHours:
		return 100, fmt.Sprintf("Full refund - cancelled %s+ hours before appointment", formatHours(p.FullRefundHours)), true
	case hours >= p.PartialRefundHours:
		return p.PartialPercentage, fmt.Sprintf("%d%% refund - cancelled %s-%s hours before appointment",
			p.PartialPercentage, formatHours(p.PartialRefundHours), formatHours(p.FullRefundHours)), true
	}
	return 0, "", false
}

// RefundAmountMinor is round(amount * pct) minor units for a major-unit
// amount.
func RefundAmountMinor(amount float64, pct int) int64 {
	return int64(math.Round(amount * float64(pct)))
}

// ToMinor converts a major-unit amount to minor units.
func ToMinor(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func ToMajor(minor int64) float64 {
	return float64(minor) / 100
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}

func formatHours(h float64) string {
	if h == math.Trunc(h) {
		return fmt.Sprintf("%.0f", h)
	}
	return fmt.Sprintf("%.1f", h)
}
