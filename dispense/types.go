/*
Package dispense provides the core pharmacy dispensing and billing engine.

PURPOSE:
  This package contains the types and algorithms for moving a prescribed
  medicine line through the dispensing pipeline (Prescribed → Packed → Paid),
  mapping requested quantities onto inventory lots, pricing the result, and
  reconciling payment at checkout.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A monetary amount with minor-unit precision (no float drift)
  - Quantity: An integer unit count, never negative
  - Lot: A snapshot of one receipt batch (batch no, expiry, price, stock)
  - LotAllocation: A (lot, quantity) pair attached to a medicine line
  - MedicineLine: One prescribed medicine for one appointment
  - Stage: The line's position in the dispensing pipeline

DESIGN PRINCIPLES:
  1. Value semantics: lines are passed and returned by value; there is no
     hidden shared mutable store. The caller owns persistence.
  2. Precision: Money wraps decimal.Decimal and is validated to minor-unit
     (two decimal place) granularity at the boundary.
  3. Advisory snapshots: Lot.RemainingQuantity is a snapshot; the
     authoritative decrement happens inside the submission gateway.

USAGE:
  price := dispense.MustParseMoney("50.00")
  lot := dispense.Lot{ID: "lot-a", BatchNo: "B-100", UnitPrice: price, RemainingQuantity: 20}

SEE ALSO:
  - allocation.go: Mapping a requested quantity onto lots
  - stage.go: Stage transition rules
  - pricing.go: Line and order pricing
  - payment.go: Payment reconciliation and order submission
*/
package dispense

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Monetary amount at minor-unit precision
// =============================================================================

// Money is an exact monetary amount. Arithmetic never rounds; rounding to the
// smallest currency unit happens once, at the end of order pricing.
type Money struct {
	Value decimal.Decimal
}

// minorUnitPlaces is the number of decimal places of the smallest currency unit.
const minorUnitPlaces = 2

// ParseMoney parses a decimal string into Money. It rejects negative amounts
// and amounts finer than the minor currency unit.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid money amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return Money{}, fmt.Errorf("money amount %q is negative", s)
	}
	if d.Exponent() < -minorUnitPlaces && !d.Equal(d.Round(minorUnitPlaces)) {
		return Money{}, fmt.Errorf("money amount %q is finer than the minor currency unit", s)
	}
	return Money{Value: d}, nil
}

// MustParseMoney is ParseMoney for literals in tests and seed data.
// Panics on invalid input.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// MoneyFromMinorUnits builds a Money from an integer count of minor units
// (e.g. 540 minor units = 5.40).
func MoneyFromMinorUnits(n int64) Money {
	return Money{Value: decimal.New(n, -minorUnitPlaces)}
}

func ZeroMoney() Money { return Money{Value: decimal.Zero} }

func (m Money) Add(o Money) Money        { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money        { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) MulQty(q Quantity) Money  { return Money{Value: m.Value.Mul(decimal.NewFromInt(int64(q)))} }
func (m Money) Equal(o Money) bool       { return m.Value.Equal(o.Value) }
func (m Money) IsZero() bool             { return m.Value.IsZero() }
func (m Money) IsNegative() bool         { return m.Value.IsNegative() }
func (m Money) GreaterThan(o Money) bool { return m.Value.GreaterThan(o.Value) }
func (m Money) String() string           { return m.Value.StringFixed(minorUnitPlaces) }

// RoundMinor rounds half-up to the smallest currency unit. Applied exactly
// once per order, after discounting; never per line.
func (m Money) RoundMinor() Money {
	return Money{Value: m.Value.Round(minorUnitPlaces)}
}

// MinorUnits returns the amount as an integer count of minor units.
// The amount must already be minor-unit aligned (post-RoundMinor).
func (m Money) MinorUnits() int64 {
	return m.Value.Shift(minorUnitPlaces).IntPart()
}

// =============================================================================
// QUANTITY - Integer unit count
// =============================================================================

// Quantity counts whole dispensing units (tablets, vials, strips).
// Negative quantities are rejected at the boundary, never stored.
type Quantity int

// =============================================================================
// IDENTIFIERS
// =============================================================================

type LineID string
type LotID string
type ItemID string
type BranchID string
type AppointmentID string
type OrderID string

// =============================================================================
// STAGE - Dispensing pipeline position
// =============================================================================

type Stage string

const (
	StagePrescribed Stage = "prescribed"
	StagePacked     Stage = "packed"
	StagePaid       Stage = "paid"
)

// rank orders stages for the forward-only invariant.
func (s Stage) rank() int {
	switch s {
	case StagePrescribed:
		return 0
	case StagePacked:
		return 1
	case StagePaid:
		return 2
	}
	return -1
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool { return s.rank() >= 0 }

// =============================================================================
// LOT - Snapshot of one receipt batch
// =============================================================================

// Lot is a read-only view of one receipt batch of a medicine, as reported by
// the inventory service. RemainingQuantity is a snapshot: the authoritative
// copy lives in the inventory service and is decremented atomically at
// submission time.
type Lot struct {
	ID                LotID
	ItemID            ItemID
	BranchID          BranchID
	BatchNo           string
	ExpiryDate        time.Time
	UnitPrice         Money
	RemainingQuantity Quantity
}

// =============================================================================
// LOT ALLOCATION - A (lot, quantity) pair on a medicine line
// =============================================================================

// LotAllocation records how much of a line's packed quantity comes from one
// lot.
//
// INVARIANTS:
//   - UsedQuantity = InitialUsedQuantity − ReturnedQuantity
//   - 0 ≤ ReturnedQuantity ≤ InitialUsedQuantity
type LotAllocation struct {
	LotID      LotID
	BatchNo    string
	ExpiryDate time.Time
	UnitPrice  Money

	// InitialUsedQuantity is the quantity committed at pack time. Immutable.
	InitialUsedQuantity Quantity

	// UsedQuantity is the current quantity after any returns.
	UsedQuantity Quantity

	// ReturnedQuantity accumulates return adjustments before payment.
	ReturnedQuantity Quantity
}

// checkInvariant validates the used/returned arithmetic for one allocation.
func (a LotAllocation) checkInvariant() error {
	if a.UsedQuantity < 0 || a.ReturnedQuantity < 0 || a.InitialUsedQuantity < 0 {
		return &ReturnInvariantError{LotID: a.LotID, Initial: a.InitialUsedQuantity, Used: a.UsedQuantity, Returned: a.ReturnedQuantity}
	}
	if a.UsedQuantity != a.InitialUsedQuantity-a.ReturnedQuantity {
		return &ReturnInvariantError{LotID: a.LotID, Initial: a.InitialUsedQuantity, Used: a.UsedQuantity, Returned: a.ReturnedQuantity}
	}
	return nil
}

// =============================================================================
// MEDICINE LINE - One prescribed medicine for one appointment
// =============================================================================

// MedicineLine is one prescribed medicine for one appointment. Created
// upstream when the prescription is recorded, mutated only through stage
// transitions, immutable once Paid.
type MedicineLine struct {
	ID            LineID
	AppointmentID AppointmentID
	ItemID        ItemID
	ItemName      string

	// PrescribedQuantity bounds the total packed quantity.
	PrescribedQuantity Quantity

	// AvailableQuantity is an informational stock hint from the inventory
	// service at prescription time. Advisory only.
	AvailableQuantity Quantity

	Stage       Stage
	Allocations []LotAllocation

	// CouponApplied marks the local 100%-off adjustment. At most one per
	// line; forces the line price to exactly zero.
	CouponApplied bool
}

// UsedTotal is the sum of UsedQuantity over the line's allocations.
func (l MedicineLine) UsedTotal() Quantity {
	var total Quantity
	for _, a := range l.Allocations {
		total += a.UsedQuantity
	}
	return total
}

// IsPacked reports whether the line counts toward an order: it must be in
// Packed (or Paid) stage with at least one allocation.
func (l MedicineLine) IsPacked() bool {
	return (l.Stage == StagePacked || l.Stage == StagePaid) && len(l.Allocations) > 0
}

// Clone returns a deep copy. Stage transitions operate on copies so a failed
// transition never leaves a half-mutated line behind.
func (l MedicineLine) Clone() MedicineLine {
	out := l
	out.Allocations = make([]LotAllocation, len(l.Allocations))
	copy(out.Allocations, l.Allocations)
	return out
}

// checkQuantityInvariant validates Σ used ≤ prescribed plus every
// per-allocation invariant.
func (l MedicineLine) checkQuantityInvariant() error {
	for _, a := range l.Allocations {
		if err := a.checkInvariant(); err != nil {
			return err
		}
	}
	if l.UsedTotal() > l.PrescribedQuantity {
		return &PrescribedQuantityError{LineID: l.ID, Prescribed: l.PrescribedQuantity, Requested: l.UsedTotal()}
	}
	return nil
}
