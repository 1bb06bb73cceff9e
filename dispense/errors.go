/*
errors.go - Centralized error types for the dispensing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers branch on sentinel errors with errors.Is() and extract detail
  (offending IDs and quantities) from structured types with errors.As().

ERROR CATEGORIES:
  1. Stage errors      - Invalid transitions, quantity invariant violations
  2. Allocation errors - Lot stock, duplicate lot, quantity mismatch
  3. Payment errors    - Amount mismatch, method validation, gateway rejection
  4. Upstream errors   - Opaque inventory/gateway failures, surfaced verbatim

PROPAGATION POLICY:
  Every invariant violation is detected locally, before any external call.
  Upstream failures are wrapped but never interpreted or retried here; the
  operator re-attempts. Every rejection carries enough structured detail for
  the presentation layer to render an actionable message.

SEE ALSO:
  - stage.go: Returns stage errors
  - allocation.go: Returns allocation errors
  - payment.go: Returns payment errors
*/
package dispense

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidTransition is returned for out-of-order stage changes:
	// skipping Packed, any backward move, or editing a Paid line.
	ErrInvalidTransition = errors.New("invalid stage transition")

	// ErrQuantityExceedsPrescribed is returned when Σ used quantity across a
	// line's allocations would exceed the prescribed quantity.
	ErrQuantityExceedsPrescribed = errors.New("quantity exceeds prescribed")

	// ErrQuantityExceedsAvailable is returned when a pack request exceeds the
	// line's advisory stock hint. The authoritative check still happens in
	// the inventory service at submission time.
	ErrQuantityExceedsAvailable = errors.New("quantity exceeds available stock")

	// ErrExceedsLotStock is returned when a requested quantity exceeds a
	// lot's remaining-quantity snapshot.
	ErrExceedsLotStock = errors.New("requested quantity exceeds lot stock")

	// ErrDuplicateLot is returned when the same lot appears twice in one
	// allocation set.
	ErrDuplicateLot = errors.New("duplicate lot in allocation")

	// ErrQuantityMismatch is returned when a complete allocation does not sum
	// to the target quantity, or a partial one overshoots it.
	ErrQuantityMismatch = errors.New("allocation quantity mismatch")

	// ErrAmountMismatch is returned when payment amounts do not equal the
	// discounted order total exactly. Zero tolerance, minor-unit comparison.
	ErrAmountMismatch = errors.New("payment amount mismatch")

	// ErrDuplicatePaymentMethod is returned when a split payment repeats a
	// payment method.
	ErrDuplicatePaymentMethod = errors.New("duplicate payment method in split")

	// ErrInsufficientMethods is returned when a split payment has fewer than
	// two entries.
	ErrInsufficientMethods = errors.New("split payment requires at least two methods")

	// ErrUnknownPaymentMode is returned when a payment declares a mode other
	// than single or split.
	ErrUnknownPaymentMode = errors.New("unknown payment mode")

	// ErrEmptyOrder is returned when reconciliation is attempted with no
	// packed lines.
	ErrEmptyOrder = errors.New("order has no packed lines")

	// ErrGatewayRejected wraps an order submission failure. The order is not
	// retried automatically; the caller must re-invoke with a fresh payload.
	ErrGatewayRejected = errors.New("order submission rejected by gateway")

	// ErrInsufficientStock is returned by the inventory commit path when the
	// authoritative remaining quantity no longer covers an allocation.
	// Normal under concurrent dispensing; safe to re-resolve and retry.
	ErrInsufficientStock = errors.New("insufficient stock at commit")

	// ErrLineNotFound is returned when a referenced medicine line doesn't exist.
	ErrLineNotFound = errors.New("medicine line not found")

	// ErrLotNotFound is returned when a referenced lot doesn't exist.
	ErrLotNotFound = errors.New("lot not found")

	// ErrCouponNotFound is returned when an order-level coupon code is unknown.
	ErrCouponNotFound = errors.New("coupon not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// TransitionError reports an out-of-order stage change.
type TransitionError struct {
	LineID LineID
	From   Stage
	To     Stage
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("line %s: cannot transition %s → %s", e.LineID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// PrescribedQuantityError reports a Σ used > prescribed violation.
type PrescribedQuantityError struct {
	LineID     LineID
	Prescribed Quantity
	Requested  Quantity
}

func (e *PrescribedQuantityError) Error() string {
	return fmt.Sprintf("line %s: requested %d exceeds prescribed %d", e.LineID, e.Requested, e.Prescribed)
}

func (e *PrescribedQuantityError) Unwrap() error { return ErrQuantityExceedsPrescribed }

// AvailabilityError reports a pack request beyond the line's stock hint.
type AvailabilityError struct {
	LineID    LineID
	Available Quantity
	Requested Quantity
}

func (e *AvailabilityError) Error() string {
	return fmt.Sprintf("line %s: requested %d exceeds available %d", e.LineID, e.Requested, e.Available)
}

func (e *AvailabilityError) Unwrap() error { return ErrQuantityExceedsAvailable }

// ReturnInvariantError reports broken used/returned arithmetic on an allocation.
type ReturnInvariantError struct {
	LotID    LotID
	Initial  Quantity
	Used     Quantity
	Returned Quantity
}

func (e *ReturnInvariantError) Error() string {
	return fmt.Sprintf("lot %s: used %d != initial %d - returned %d", e.LotID, e.Used, e.Initial, e.Returned)
}

func (e *ReturnInvariantError) Unwrap() error { return ErrQuantityExceedsPrescribed }

// LotStockError reports a request beyond a lot's remaining snapshot.
type LotStockError struct {
	LotID     LotID
	Remaining Quantity
	Requested Quantity
}

func (e *LotStockError) Error() string {
	return fmt.Sprintf("lot %s: requested %d exceeds remaining %d", e.LotID, e.Requested, e.Remaining)
}

func (e *LotStockError) Unwrap() error { return ErrExceedsLotStock }

// DuplicateLotError reports a lot that appears twice in one allocation set.
type DuplicateLotError struct {
	LotID LotID
}

func (e *DuplicateLotError) Error() string {
	return fmt.Sprintf("lot %s appears more than once in allocation", e.LotID)
}

func (e *DuplicateLotError) Unwrap() error { return ErrDuplicateLot }

// QuantityMismatchError reports a sum that misses the target quantity.
type QuantityMismatchError struct {
	Expected Quantity
	Actual   Quantity
}

func (e *QuantityMismatchError) Error() string {
	return fmt.Sprintf("allocation sums to %d, expected %d", e.Actual, e.Expected)
}

func (e *QuantityMismatchError) Unwrap() error { return ErrQuantityMismatch }

// AmountMismatchError reports payment amounts that miss the discounted total.
type AmountMismatchError struct {
	Expected Money
	Actual   Money
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("payment %s does not equal order total %s", e.Actual, e.Expected)
}

func (e *AmountMismatchError) Unwrap() error { return ErrAmountMismatch }

// InsufficientStockError reports an authoritative stock shortfall at commit.
type InsufficientStockError struct {
	LotID     LotID
	Remaining Quantity
	Requested Quantity
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("lot %s: %d requested but only %d remaining at commit", e.LotID, e.Requested, e.Remaining)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// GatewayRejectedError wraps an opaque upstream submission failure.
type GatewayRejectedError struct {
	Reason string
	Err    error
}

func (e *GatewayRejectedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway rejected order: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("gateway rejected order: %s", e.Reason)
}

func (e *GatewayRejectedError) Unwrap() error { return ErrGatewayRejected }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the operation might succeed after re-resolving
// allocations against fresh lot snapshots.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrInsufficientStock)
}

// IsClientError returns true if the error is due to invalid operator input
// rather than an upstream failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrQuantityExceedsPrescribed) ||
		errors.Is(err, ErrQuantityExceedsAvailable) ||
		errors.Is(err, ErrExceedsLotStock) ||
		errors.Is(err, ErrDuplicateLot) ||
		errors.Is(err, ErrQuantityMismatch) ||
		errors.Is(err, ErrAmountMismatch) ||
		errors.Is(err, ErrDuplicatePaymentMethod) ||
		errors.Is(err, ErrInsufficientMethods) ||
		errors.Is(err, ErrUnknownPaymentMode) ||
		errors.Is(err, ErrEmptyOrder)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLineNotFound) ||
		errors.Is(err, ErrLotNotFound) ||
		errors.Is(err, ErrCouponNotFound)
}
