/*
collaborators.go - Interfaces to the systems the engine calls out to

PURPOSE:
  The engine owns no durable storage. It reads lot snapshots from the
  inventory service, resolves order-level coupons through the coupon service,
  and submits finished orders through the submission gateway. These are the
  only three external touch points; everything else is pure computation.

CONTRACT NOTES:
  - Lot listings are snapshots. Validation against them is advisory; the
    authoritative remaining-quantity check and decrement happen atomically
    inside the gateway's Submit.
  - Submit is called at most once per reconciliation attempt and never
    retried automatically. Idempotency across operator retries is the
    gateway's responsibility.
  - An insufficient-stock rejection from Submit must unwrap to
    ErrInsufficientStock so callers can re-resolve and retry; any other
    rejection is surfaced verbatim as a GatewayRejectedError.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite-backed catalog + gateway
  - dispense/store: in-memory catalog + gateway for tests and dev

SEE ALSO:
  - payment.go: The only caller of SubmissionGateway
*/
package dispense

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// INVENTORY - Lot snapshots
// =============================================================================

// LotCatalog is the read side of the external inventory service.
type LotCatalog interface {
	// ListLots returns the available lots for a medicine item at a branch,
	// as a point-in-time snapshot.
	ListLots(ctx context.Context, itemID ItemID, branchID BranchID) ([]Lot, error)
}

// =============================================================================
// ORDER SUBMISSION - The single commit point
// =============================================================================

// SubmissionGateway persists an order and consumes the allocated inventory in
// one atomic operation.
type SubmissionGateway interface {
	// Submit persists the order and decrements lot stock conditionally.
	// On an authoritative stock shortfall it returns an error unwrapping
	// ErrInsufficientStock and commits nothing.
	Submit(ctx context.Context, order Order) (OrderID, error)
}

// =============================================================================
// COUPONS - Order-level percentage lookup
// =============================================================================

// Coupon is an order-level percentage discount. Per-line 100%-off coupons are
// a local flag on the line, not a remote lookup.
type Coupon struct {
	Code               string
	DiscountPercentage decimal.Decimal
	Description        string
}

// CouponService resolves order-level coupon codes.
type CouponService interface {
	// LookupCoupon returns the coupon for code, or an error unwrapping
	// ErrCouponNotFound.
	LookupCoupon(ctx context.Context, code string) (Coupon, error)
}
