/*
pricing.go - Line and order pricing with coupon discounts

PURPOSE:
  Computes the monetary cost of a line's allocations and aggregates an order
  total, applying coupon discounts through one pure function.

ALGORITHM:
  line price   = Σ over allocations of (usedQuantity × unitPrice)
                 forced to exactly zero when the line's 100%-off coupon is set
  order total  = Σ price over Packed/Paid lines with ≥1 allocation
  discounted   = total × (1 − percentage/100), rounded half-up to the minor
                 currency unit ONCE at the end — never per line, so rounding
                 error cannot compound.

DISCOUNT MODEL:
  Discounts are a small tagged variant evaluated in one place:
    NoDiscount          the order total is unchanged
    OrderCoupon(pct)    percentage off the order total
  The per-line 100%-off coupon is a local flag on the line, mutually
  exclusive with nothing: a zeroed line simply contributes nothing to the
  total before the order-level percentage applies.

SEE ALSO:
  - types.go: Money arithmetic and RoundMinor
  - payment.go: Consumes DiscountedTotal for reconciliation
*/
package dispense

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LINE AND ORDER PRICING
// =============================================================================

// PriceLine computes the cost of a line from its allocations. A line with the
// 100%-off coupon prices at exactly zero regardless of allocations; a line
// with no allocations prices at zero.
func PriceLine(line MedicineLine) Money {
	if line.CouponApplied {
		return ZeroMoney()
	}
	total := ZeroMoney()
	for _, a := range line.Allocations {
		total = total.Add(a.UnitPrice.MulQty(a.UsedQuantity))
	}
	return total
}

// OrderTotal sums PriceLine over the lines that count toward an order:
// Packed or Paid, with at least one allocation. Lines that are still
// Prescribed, or Packed with nothing allocated yet, are excluded.
func OrderTotal(lines []MedicineLine) Money {
	total := ZeroMoney()
	for _, line := range lines {
		if !line.IsPacked() {
			continue
		}
		total = total.Add(PriceLine(line))
	}
	return total
}

// =============================================================================
// DISCOUNT - Tagged variant, one evaluation point
// =============================================================================

type discountKind int

const (
	discountNone discountKind = iota
	discountOrderPercent
)

// Discount is the order-level discount variant. Construct with NoDiscount or
// OrderCoupon; evaluate with Apply.
type Discount struct {
	kind    discountKind
	percent decimal.Decimal
	code    string
}

// NoDiscount leaves the order total unchanged.
func NoDiscount() Discount { return Discount{kind: discountNone} }

// OrderCoupon discounts the order total by the coupon's percentage.
// Percentages outside [0, 100] are rejected.
func OrderCoupon(code string, percentage decimal.Decimal) (Discount, error) {
	if percentage.IsNegative() || percentage.GreaterThan(decimal.NewFromInt(100)) {
		return Discount{}, fmt.Errorf("coupon %s: discount percentage %s out of range [0, 100]", code, percentage)
	}
	return Discount{kind: discountOrderPercent, percent: percentage, code: code}, nil
}

// Code returns the coupon code, empty for NoDiscount.
func (d Discount) Code() string { return d.code }

// Apply evaluates the discount against an order total and returns the payable
// amount and the discount amount. Rounding half-up to the minor unit happens
// here, exactly once.
func (d Discount) Apply(total Money) (payable Money, discountAmount Money) {
	switch d.kind {
	case discountOrderPercent:
		factor := decimal.NewFromInt(1).Sub(d.percent.Div(decimal.NewFromInt(100)))
		payable = Money{Value: total.Value.Mul(factor)}.RoundMinor()
		return payable, total.Sub(payable)
	default:
		return total.RoundMinor(), ZeroMoney()
	}
}
