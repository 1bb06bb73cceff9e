// Package pharmacy implements the clinic-facing dispensing workflow on top
// of the dispense engine: per-appointment aggregates, payment methods, and
// the checkout orchestration.
package pharmacy

import (
	"context"

	"github.com/warp/pharmacy-engine/dispense"
)

// =============================================================================
// PAYMENT METHODS
// =============================================================================

// Accepted payment instruments. The engine treats methods as opaque; this is
// the clinic's accepted set.
const (
	MethodCash dispense.PaymentMethod = "CASH"
	MethodCard dispense.PaymentMethod = "CARD"
	MethodUPI  dispense.PaymentMethod = "UPI"
)

// KnownMethod reports whether m is an accepted instrument.
func KnownMethod(m dispense.PaymentMethod) bool {
	switch m {
	case MethodCash, MethodCard, MethodUPI:
		return true
	}
	return false
}

// =============================================================================
// LINE STORE - Persistence for medicine lines
// =============================================================================

// LineStore persists medicine-line state between operations. Implemented by
// store/sqlite for production and dispense/store for tests.
type LineStore interface {
	SaveLine(ctx context.Context, line dispense.MedicineLine) error
	GetLine(ctx context.Context, id dispense.LineID) (*dispense.MedicineLine, error)
	LinesByAppointment(ctx context.Context, appointmentID dispense.AppointmentID) ([]dispense.MedicineLine, error)
}

// =============================================================================
// QUOTE - Price preview before checkout
// =============================================================================

// LineQuote is the computed price of one line for display.
type LineQuote struct {
	LineID        dispense.LineID
	ItemName      string
	Stage         dispense.Stage
	UsedQuantity  dispense.Quantity
	Price         dispense.Money
	CouponApplied bool
}

// Quote is the order preview for an appointment: per-line prices plus the
// totals a checkout with the same coupon would settle.
type Quote struct {
	AppointmentID  dispense.AppointmentID
	Lines          []LineQuote
	TotalAmount    dispense.Money
	DiscountAmount dispense.Money
	PayableAmount  dispense.Money
	CouponCode     string
}
