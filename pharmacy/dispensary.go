/*
dispensary.go - Per-appointment dispensing orchestration

PURPOSE:
  The Dispensary is the application-facing service over the dispense engine.
  It loads line state, fetches lot snapshots, runs the engine's pure
  operations, and persists the results. It also owns the per-appointment
  serialization the engine itself deliberately doesn't: packing and paying
  for one appointment never interleave, while different appointments proceed
  fully in parallel.

OPERATION FLOW (pack):
  1. Lock the appointment
  2. Load the line and the lot snapshot for its item
  3. Resolve the operator's lot selection (engine validation)
  4. Transition Prescribed → Packed (engine validation)
  5. Persist the updated line

OPERATION FLOW (checkout):
  1. Lock the appointment
  2. Load all lines, resolve the optional order coupon
  3. Reconcile payment and submit through the gateway (engine)
  4. Persist every line in Paid state

Failures before the gateway call leave persisted state untouched. A gateway
failure also leaves lines Packed — the operator re-attempts checkout, per the
no-auto-retry policy.

SEE ALSO:
  - dispense/payment.go: Reconciliation semantics
  - store/sqlite: Production LineStore + gateway
*/
package pharmacy

import (
	"context"
	"fmt"
	"sync"

	"github.com/warp/pharmacy-engine/dispense"
)

// =============================================================================
// DISPENSARY
// =============================================================================

// Dispensary orchestrates dispensing operations for one branch.
type Dispensary struct {
	Branch     dispense.BranchID
	Lines      LineStore
	Catalog    dispense.LotCatalog
	Coupons    dispense.CouponService
	Reconciler *dispense.Reconciler

	mu    sync.Mutex
	locks map[dispense.AppointmentID]*sync.Mutex
}

// NewDispensary wires a dispensary for one branch.
func NewDispensary(branch dispense.BranchID, lines LineStore, catalog dispense.LotCatalog, coupons dispense.CouponService, gateway dispense.SubmissionGateway) *Dispensary {
	return &Dispensary{
		Branch:     branch,
		Lines:      lines,
		Catalog:    catalog,
		Coupons:    coupons,
		Reconciler: dispense.NewReconciler(gateway),
		locks:      make(map[dispense.AppointmentID]*sync.Mutex),
	}
}

// lockFor returns the single mutex serializing one appointment's operations.
func (d *Dispensary) lockFor(appointmentID dispense.AppointmentID) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	lock, ok := d.locks[appointmentID]
	if !ok {
		lock = &sync.Mutex{}
		d.locks[appointmentID] = lock
	}
	return lock
}

// =============================================================================
// PRESCRIPTION RECORDING
// =============================================================================

// RecordPrescription creates a Prescribed line for an appointment. Quantities
// are validated at this boundary; the stock hint is captured from the current
// lot snapshot.
func (d *Dispensary) RecordPrescription(ctx context.Context, line dispense.MedicineLine) (*dispense.MedicineLine, error) {
	if line.ID == "" || line.AppointmentID == "" || line.ItemID == "" {
		return nil, fmt.Errorf("line id, appointment id, and item id are required")
	}
	if line.PrescribedQuantity < 0 {
		return nil, fmt.Errorf("prescribed quantity %d is negative", line.PrescribedQuantity)
	}

	lock := d.lockFor(line.AppointmentID)
	lock.Lock()
	defer lock.Unlock()

	line.Stage = dispense.StagePrescribed
	line.Allocations = nil
	line.CouponApplied = false

	// Capture the advisory stock hint.
	lots, err := d.Catalog.ListLots(ctx, line.ItemID, d.Branch)
	if err != nil {
		return nil, fmt.Errorf("fetching lot snapshot for %s: %w", line.ItemID, err)
	}
	var available dispense.Quantity
	for _, lot := range lots {
		available += lot.RemainingQuantity
	}
	line.AvailableQuantity = available

	if err := d.Lines.SaveLine(ctx, line); err != nil {
		return nil, fmt.Errorf("saving line %s: %w", line.ID, err)
	}
	return &line, nil
}

// =============================================================================
// PACKING
// =============================================================================

// PackLine resolves the operator's lot selection against a fresh snapshot and
// advances the line to Packed. The target quantity is the sum the selection
// must reach; it may be less than the prescribed quantity but never more.
func (d *Dispensary) PackLine(ctx context.Context, lineID dispense.LineID, requests []dispense.AllocationRequest, target dispense.Quantity) (*dispense.MedicineLine, error) {
	line, err := d.Lines.GetLine(ctx, lineID)
	if err != nil {
		return nil, err
	}

	lock := d.lockFor(line.AppointmentID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock; another operation may have advanced the line.
	line, err = d.Lines.GetLine(ctx, lineID)
	if err != nil {
		return nil, err
	}

	candidates, err := d.Catalog.ListLots(ctx, line.ItemID, d.Branch)
	if err != nil {
		return nil, fmt.Errorf("fetching lot snapshot for %s: %w", line.ItemID, err)
	}

	allocations, err := dispense.ResolveAllocations(candidates, requests, target, true)
	if err != nil {
		return nil, err
	}

	packed, err := dispense.Pack(*line, allocations)
	if err != nil {
		return nil, err
	}

	if err := d.Lines.SaveLine(ctx, packed); err != nil {
		return nil, fmt.Errorf("saving packed line %s: %w", packed.ID, err)
	}
	return &packed, nil
}

// SuggestPack returns a first-expiry-first-out lot selection for a line's
// prescribed quantity. Display-only; the operator confirms or edits it.
func (d *Dispensary) SuggestPack(ctx context.Context, lineID dispense.LineID) ([]dispense.AllocationRequest, error) {
	line, err := d.Lines.GetLine(ctx, lineID)
	if err != nil {
		return nil, err
	}
	candidates, err := d.Catalog.ListLots(ctx, line.ItemID, d.Branch)
	if err != nil {
		return nil, fmt.Errorf("fetching lot snapshot for %s: %w", line.ItemID, err)
	}
	return dispense.SuggestAllocations(candidates, line.PrescribedQuantity), nil
}

// =============================================================================
// RETURNS AND LINE COUPON
// =============================================================================

// ReturnUnits hands back units from a Packed line's lots before payment.
func (d *Dispensary) ReturnUnits(ctx context.Context, lineID dispense.LineID, returns map[dispense.LotID]dispense.Quantity) (*dispense.MedicineLine, error) {
	line, err := d.Lines.GetLine(ctx, lineID)
	if err != nil {
		return nil, err
	}

	lock := d.lockFor(line.AppointmentID)
	lock.Lock()
	defer lock.Unlock()

	line, err = d.Lines.GetLine(ctx, lineID)
	if err != nil {
		return nil, err
	}

	adjusted, err := dispense.ReturnUnits(*line, returns)
	if err != nil {
		return nil, err
	}

	if err := d.Lines.SaveLine(ctx, adjusted); err != nil {
		return nil, fmt.Errorf("saving adjusted line %s: %w", adjusted.ID, err)
	}
	return &adjusted, nil
}

// SetLineCoupon toggles the 100%-off coupon on a line. Rejected once Paid.
func (d *Dispensary) SetLineCoupon(ctx context.Context, lineID dispense.LineID, applied bool) (*dispense.MedicineLine, error) {
	line, err := d.Lines.GetLine(ctx, lineID)
	if err != nil {
		return nil, err
	}

	lock := d.lockFor(line.AppointmentID)
	lock.Lock()
	defer lock.Unlock()

	line, err = d.Lines.GetLine(ctx, lineID)
	if err != nil {
		return nil, err
	}
	if line.Stage == dispense.StagePaid {
		return nil, &dispense.TransitionError{LineID: line.ID, From: line.Stage, To: line.Stage}
	}

	updated := line.Clone()
	updated.CouponApplied = applied
	if err := d.Lines.SaveLine(ctx, updated); err != nil {
		return nil, fmt.Errorf("saving line %s: %w", updated.ID, err)
	}
	return &updated, nil
}

// =============================================================================
// QUOTE AND CHECKOUT
// =============================================================================

// resolveDiscount turns an optional coupon code into the engine's discount
// variant.
func (d *Dispensary) resolveDiscount(ctx context.Context, couponCode string) (dispense.Discount, error) {
	if couponCode == "" {
		return dispense.NoDiscount(), nil
	}
	coupon, err := d.Coupons.LookupCoupon(ctx, couponCode)
	if err != nil {
		return dispense.Discount{}, err
	}
	return dispense.OrderCoupon(coupon.Code, coupon.DiscountPercentage)
}

// Quote prices the appointment's current lines without committing anything.
// Per-line rows cover every line for display, but the totals aggregate only
// Packed lines — the exact set a checkout with the same coupon would settle.
// Lines paid in an earlier checkout are never re-priced.
func (d *Dispensary) Quote(ctx context.Context, appointmentID dispense.AppointmentID, couponCode string) (*Quote, error) {
	lock := d.lockFor(appointmentID)
	lock.Lock()
	defer lock.Unlock()

	lines, err := d.Lines.LinesByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	discount, err := d.resolveDiscount(ctx, couponCode)
	if err != nil {
		return nil, err
	}

	var packed []dispense.MedicineLine
	for _, line := range lines {
		if line.Stage == dispense.StagePacked {
			packed = append(packed, line)
		}
	}
	total := dispense.OrderTotal(packed)
	payable, discountAmount := discount.Apply(total)

	quote := &Quote{
		AppointmentID:  appointmentID,
		TotalAmount:    total.RoundMinor(),
		DiscountAmount: discountAmount,
		PayableAmount:  payable,
		CouponCode:     couponCode,
	}
	for _, line := range lines {
		quote.Lines = append(quote.Lines, LineQuote{
			LineID:        line.ID,
			ItemName:      line.ItemName,
			Stage:         line.Stage,
			UsedQuantity:  line.UsedTotal(),
			Price:         dispense.PriceLine(line),
			CouponApplied: line.CouponApplied,
		})
	}
	return quote, nil
}

// Checkout reconciles the payment against the appointment's Packed lines and
// submits the order. On success every included line is persisted as Paid.
func (d *Dispensary) Checkout(ctx context.Context, appointmentID dispense.AppointmentID, payment dispense.Payment, couponCode string) (*dispense.CommittedOrder, error) {
	for _, entry := range payment.Entries {
		if !KnownMethod(entry.Method) {
			return nil, fmt.Errorf("unknown payment method %q", entry.Method)
		}
	}

	lock := d.lockFor(appointmentID)
	lock.Lock()
	defer lock.Unlock()

	lines, err := d.Lines.LinesByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	discount, err := d.resolveDiscount(ctx, couponCode)
	if err != nil {
		return nil, err
	}

	committed, err := d.Reconciler.Reconcile(ctx, appointmentID, lines, payment, discount)
	if err != nil {
		return nil, err
	}

	for _, line := range committed.Lines {
		if err := d.Lines.SaveLine(ctx, line); err != nil {
			return nil, fmt.Errorf("persisting paid line %s after submission: %w", line.ID, err)
		}
	}
	return committed, nil
}
