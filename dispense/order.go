/*
order.go - Order payload and payment model

PURPOSE:
  Defines the order the engine hands to the submission gateway and the
  payment the operator proposes at checkout. An order is constructed
  transiently at reconciliation time from the appointment's Packed lines,
  submitted once, then discarded by the engine — the durable record lives
  in the external system.

SEE ALSO:
  - payment.go: Builds and submits orders
  - collaborators.go: The gateway interface that accepts this payload
*/
package dispense

// =============================================================================
// PAYMENT - Proposed settlement of an order total
// =============================================================================

// PaymentMethod identifies a payment instrument. The engine treats methods as
// opaque labels; the domain layer defines the accepted set.
type PaymentMethod string

// PaymentMode distinguishes a single-instrument payment from a split.
type PaymentMode string

const (
	PaymentSingle PaymentMode = "single"
	PaymentSplit  PaymentMode = "split"
)

// PaymentEntry is one (method, amount) pair.
type PaymentEntry struct {
	Method PaymentMethod
	Amount Money
}

// Payment is the operator's proposed settlement.
type Payment struct {
	Mode    PaymentMode
	Entries []PaymentEntry
}

// SinglePayment settles the whole order with one instrument.
func SinglePayment(method PaymentMethod, amount Money) Payment {
	return Payment{Mode: PaymentSingle, Entries: []PaymentEntry{{Method: method, Amount: amount}}}
}

// SplitPayment settles the order across two or more distinct instruments.
func SplitPayment(entries ...PaymentEntry) Payment {
	return Payment{Mode: PaymentSplit, Entries: entries}
}

// Total sums the payment entries.
func (p Payment) Total() Money {
	total := ZeroMoney()
	for _, e := range p.Entries {
		total = total.Add(e.Amount)
	}
	return total
}

// =============================================================================
// ORDER - The gateway submission payload
// =============================================================================

// Order is the unit submitted to the gateway for one appointment's Packed
// lines at payment time. Lines are snapshots: the gateway consumes exactly
// the allocations recorded here.
type Order struct {
	AppointmentID AppointmentID
	Lines         []MedicineLine

	// TotalOrderAmount is the undiscounted order total.
	TotalOrderAmount Money
	// DiscountAmount is what the order-level coupon removed.
	DiscountAmount Money
	// PaidOrderAmount is the discounted total the payment settles.
	PaidOrderAmount Money

	Payment Payment

	// CouponCode is the order-level percentage coupon, independent of any
	// per-line 100%-off coupons baked into the line snapshots.
	CouponCode string
}

// CommittedOrder is the engine's result after a confirmed gateway submission:
// the submitted payload, the assigned order ID, and the lines in their final
// Paid state.
type CommittedOrder struct {
	OrderID OrderID
	Order   Order
	Lines   []MedicineLine
}
