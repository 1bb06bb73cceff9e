/*
payment.go - Payment reconciliation and order submission

PURPOSE:
  Validates a proposed payment against the discounted order total, builds the
  order payload, submits it through the gateway exactly once, and transitions
  the included lines to Paid only after the gateway confirms.

RECONCILIATION RULES:
  Single instrument  payment amount == discounted total, exactly. Integer
                     minor-unit comparison, zero tolerance.
  Split              ≥2 entries, each with a distinct method and a positive
                     amount; Σ amounts == discounted total exactly.

FAILURE BEHAVIOR:
  Every validation failure is detected before the gateway is touched — the
  engine never submits a known-invalid order. On gateway failure no line
  transitions and nothing is retried automatically; the operator re-invokes
  with a fresh payload. A gateway insufficient-stock rejection surfaces as a
  retryable error (IsRetryable), since another operator may have consumed the
  same lots first.

SEE ALSO:
  - pricing.go: Totals and discount evaluation
  - stage.go: markPaid, the reconciler-only transition
  - collaborators.go: SubmissionGateway contract
*/
package dispense

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// RECONCILER
// =============================================================================

// Reconciler validates payments and commits orders through the gateway.
type Reconciler struct {
	Gateway SubmissionGateway
}

func NewReconciler(gateway SubmissionGateway) *Reconciler {
	return &Reconciler{Gateway: gateway}
}

// Reconcile validates the proposed payment against the appointment's Packed
// lines, submits the order, and returns the committed order with every
// included line in Paid state.
//
// The lines slice is the appointment's current lines; lines that are not
// Packed with at least one allocation are ignored. On any error the input
// lines are untouched and nothing was submitted (except for gateway errors,
// where submission was attempted once and rejected).
func (r *Reconciler) Reconcile(ctx context.Context, appointmentID AppointmentID, lines []MedicineLine, payment Payment, discount Discount) (*CommittedOrder, error) {
	var packed []MedicineLine
	for _, line := range lines {
		if line.Stage == StagePacked && len(line.Allocations) > 0 {
			packed = append(packed, line.Clone())
		}
	}
	if len(packed) == 0 {
		return nil, ErrEmptyOrder
	}

	total := OrderTotal(packed)
	payable, discountAmount := discount.Apply(total)

	if err := validatePayment(payment, payable); err != nil {
		return nil, err
	}

	order := Order{
		AppointmentID:    appointmentID,
		Lines:            packed,
		TotalOrderAmount: total.RoundMinor(),
		DiscountAmount:   discountAmount,
		PaidOrderAmount:  payable,
		Payment:          payment,
		CouponCode:       discount.Code(),
	}

	// The single external call. At most once per reconciliation attempt.
	orderID, err := r.Gateway.Submit(ctx, order)
	if err != nil {
		if errors.Is(err, ErrInsufficientStock) || errors.Is(err, ErrGatewayRejected) {
			return nil, err
		}
		return nil, &GatewayRejectedError{Reason: "submission failed", Err: err}
	}

	paidLines := make([]MedicineLine, len(packed))
	for i, line := range packed {
		paid, err := markPaid(line)
		if err != nil {
			// Unreachable for lines filtered above; surface rather than hide.
			return nil, fmt.Errorf("finalizing line %s after submission: %w", line.ID, err)
		}
		paidLines[i] = paid
	}

	return &CommittedOrder{OrderID: orderID, Order: order, Lines: paidLines}, nil
}

// =============================================================================
// PAYMENT VALIDATION
// =============================================================================

func validatePayment(payment Payment, payable Money) error {
	switch payment.Mode {
	case PaymentSingle:
		if len(payment.Entries) != 1 {
			return &AmountMismatchError{Expected: payable, Actual: payment.Total()}
		}
		entry := payment.Entries[0]
		if entry.Amount.IsNegative() {
			return &AmountMismatchError{Expected: payable, Actual: entry.Amount}
		}
		if !entry.Amount.Equal(payable) {
			return &AmountMismatchError{Expected: payable, Actual: entry.Amount}
		}
		return nil

	case PaymentSplit:
		if len(payment.Entries) < 2 {
			return ErrInsufficientMethods
		}
		seen := make(map[PaymentMethod]bool, len(payment.Entries))
		for _, entry := range payment.Entries {
			if seen[entry.Method] {
				return ErrDuplicatePaymentMethod
			}
			seen[entry.Method] = true
			if entry.Amount.IsZero() || entry.Amount.IsNegative() {
				return &AmountMismatchError{Expected: payable, Actual: payment.Total()}
			}
		}
		if !payment.Total().Equal(payable) {
			return &AmountMismatchError{Expected: payable, Actual: payment.Total()}
		}
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrUnknownPaymentMode, payment.Mode)
	}
}
