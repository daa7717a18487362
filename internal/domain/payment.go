package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// PaymentState is the gateway payment status collapsed to what the order
// state machine cares about.
type PaymentState string

const (
	PaymentApproved PaymentState = "APPROVED"
	PaymentInReview PaymentState = "IN_REVIEW"
	PaymentRejected PaymentState = "REJECTED"
)

// AmountTolerance is the largest accepted difference between the charged
// amount and the order total.
var AmountTolerance = decimal.RequireFromString("0.01")

// MapGatewayStatus translates the gateway's status vocabulary.
func MapGatewayStatus(status string) (PaymentState, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "approved":
		return PaymentApproved, true
	case "in_process", "pending":
		return PaymentInReview, true
	case "rejected", "cancelled":
		return PaymentRejected, true
	}
	return "", false
}

// NextStatus applies one payment observation to the current order status.
// The second return is false when the observation does not move the order.
func NextStatus(current OrderStatus, state PaymentState) (OrderStatus, bool) {
	switch current {
	case StatusPending:
		switch state {
		case PaymentInReview:
			return StatusProcessing, true
		case PaymentApproved:
			return StatusApproved, true
		case PaymentRejected:
			return StatusCancelled, true
		}
	case StatusProcessing:
		switch state {
		case PaymentApproved:
			return StatusApproved, true
		case PaymentRejected:
			return StatusCancelled, true
		}
	}
	return current, false
}

// AmountMatches compares a charged amount with the order total within
// AmountTolerance.
func AmountMatches(total, charged decimal.Decimal) bool {
	return !charged.Sub(total).Abs().GreaterThan(AmountTolerance)
}
