package pharmacy_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/pharmacy-engine/dispense"
	"github.com/warp/pharmacy-engine/factory"
	"github.com/warp/pharmacy-engine/pharmacy"
	"github.com/warp/pharmacy-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testBranch = dispense.BranchID("branch-main")

func newTestDispensary(t *testing.T) (*pharmacy.Dispensary, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	coupons, err := factory.FromJSON(factory.CatalogJSON{Coupons: []factory.CouponJSON{
		{Code: "SAVE10", DiscountPercentage: "10", Description: "Ten percent off"},
	}})
	require.NoError(t, err)

	// The sqlite store serves as lot catalog, line store, and gateway.
	d := pharmacy.NewDispensary(testBranch, store, store, coupons, store)
	return d, store
}

func seedLot(t *testing.T, store *sqlite.Store, id string, exp time.Time, price string, remaining int) {
	t.Helper()
	require.NoError(t, store.SaveLot(context.Background(), dispense.Lot{
		ID:                dispense.LotID(id),
		ItemID:            "item-amoxicillin",
		BranchID:          testBranch,
		BatchNo:           "B-" + id,
		ExpiryDate:        exp,
		UnitPrice:         dispense.MustParseMoney(price),
		RemainingQuantity: dispense.Quantity(remaining),
	}))
}

func seedStandardLots(t *testing.T, store *sqlite.Store) {
	seedLot(t, store, "lot-mar", time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC), "10.00", 6)
	seedLot(t, store, "lot-sep", time.Date(2026, time.September, 1, 0, 0, 0, 0, time.UTC), "12.50", 20)
}

func recordLine(t *testing.T, d *pharmacy.Dispensary, lineID, aptID string, qty int) *dispense.MedicineLine {
	t.Helper()
	line, err := d.RecordPrescription(context.Background(), dispense.MedicineLine{
		ID:                 dispense.LineID(lineID),
		AppointmentID:      dispense.AppointmentID(aptID),
		ItemID:             "item-amoxicillin",
		ItemName:           "Amoxicillin 250mg",
		PrescribedQuantity: dispense.Quantity(qty),
	})
	require.NoError(t, err)
	return line
}

// =============================================================================
// PRESCRIPTION RECORDING
// =============================================================================

func TestRecordPrescription_CapturesStockHint(t *testing.T) {
	// GIVEN: 26 units across two lots
	// WHEN: Recording a prescription
	// THEN: The line starts Prescribed with the advisory hint set to 26

	d, store := newTestDispensary(t)
	seedStandardLots(t, store)

	line := recordLine(t, d, "line-1", "apt-1", 10)

	assert.Equal(t, dispense.StagePrescribed, line.Stage)
	assert.Equal(t, dispense.Quantity(26), line.AvailableQuantity)
	assert.Empty(t, line.Allocations)
}

func TestRecordPrescription_MissingIDs_Rejected(t *testing.T) {
	d, _ := newTestDispensary(t)

	_, err := d.RecordPrescription(context.Background(), dispense.MedicineLine{
		ID: "line-1", ItemID: "item-x",
	})
	assert.Error(t, err, "appointment id is required")

	_, err = d.RecordPrescription(context.Background(), dispense.MedicineLine{
		ID: "line-1", AppointmentID: "apt-1", ItemID: "item-x", PrescribedQuantity: -1,
	})
	assert.Error(t, err, "negative quantity is rejected")
}

// =============================================================================
// PACKING
// =============================================================================

func TestPackLine_PersistsPackedState(t *testing.T) {
	// GIVEN: A prescribed line for 10 units
	// WHEN: Packing 6 from lot-mar and 4 from lot-sep
	// THEN: The persisted line is Packed with both allocations intact

	d, store := newTestDispensary(t)
	seedStandardLots(t, store)
	recordLine(t, d, "line-1", "apt-1", 10)

	packed, err := d.PackLine(context.Background(), "line-1", []dispense.AllocationRequest{
		{LotID: "lot-mar", Quantity: 6},
		{LotID: "lot-sep", Quantity: 4},
	}, 10)
	require.NoError(t, err)
	assert.Equal(t, dispense.StagePacked, packed.Stage)

	stored, err := store.GetLine(context.Background(), "line-1")
	require.NoError(t, err)
	assert.Equal(t, dispense.StagePacked, stored.Stage)
	require.Len(t, stored.Allocations, 2)
	assert.Equal(t, dispense.Quantity(10), stored.UsedTotal())
	assert.Equal(t, "B-lot-mar", stored.Allocations[0].BatchNo)
}

func TestPackLine_StaleSelection_Rejected(t *testing.T) {
	// GIVEN: lot-mar holds only 6 units
	// WHEN: The operator selects 8 from it
	// THEN: Rejected against the fresh snapshot; the line stays Prescribed

	d, store := newTestDispensary(t)
	seedStandardLots(t, store)
	recordLine(t, d, "line-1", "apt-1", 10)

	_, err := d.PackLine(context.Background(), "line-1", []dispense.AllocationRequest{
		{LotID: "lot-mar", Quantity: 8},
	}, 8)
	assert.ErrorIs(t, err, dispense.ErrExceedsLotStock)

	stored, err := store.GetLine(context.Background(), "line-1")
	require.NoError(t, err)
	assert.Equal(t, dispense.StagePrescribed, stored.Stage)
}

func TestSuggestPack_FollowsExpiryOrder(t *testing.T) {
	// GIVEN: lot-mar (6 units, expires first) and lot-sep (20 units)
	// WHEN: Asking for a suggestion on a 10-unit line
	// THEN: 6 from lot-mar then 4 from lot-sep

	d, store := newTestDispensary(t)
	seedStandardLots(t, store)
	recordLine(t, d, "line-1", "apt-1", 10)

	suggestion, err := d.SuggestPack(context.Background(), "line-1")
	require.NoError(t, err)
	require.Len(t, suggestion, 2)
	assert.Equal(t, dispense.LotID("lot-mar"), suggestion[0].LotID)
	assert.Equal(t, dispense.Quantity(6), suggestion[0].Quantity)
	assert.Equal(t, dispense.LotID("lot-sep"), suggestion[1].LotID)
	assert.Equal(t, dispense.Quantity(4), suggestion[1].Quantity)
}

// =============================================================================
// RETURNS AND LINE COUPON
// =============================================================================

func TestReturnUnits_ReducesCharge(t *testing.T) {
	// GIVEN: A packed 6 × 10.00 line
	// WHEN: Returning 2 units
	// THEN: The quote drops from 60.00 to 40.00

	d, store := newTestDispensary(t)
	seedStandardLots(t, store)
	recordLine(t, d, "line-1", "apt-1", 10)
	_, err := d.PackLine(context.Background(), "line-1", []dispense.AllocationRequest{
		{LotID: "lot-mar", Quantity: 6},
	}, 6)
	require.NoError(t, err)

	adjusted, err := d.ReturnUnits(context.Background(), "line-1", map[dispense.LotID]dispense.Quantity{
		"lot-mar": 2,
	})
	require.NoError(t, err)
	assert.Equal(t, dispense.Quantity(4), adjusted.UsedTotal())

	quote, err := d.Quote(context.Background(), "apt-1", "")
	require.NoError(t, err)
	assert.Equal(t, "40.00", quote.PayableAmount.String())
}

func TestSetLineCoupon_ZeroesLine(t *testing.T) {
	// GIVEN: A packed line worth 60.00
	// WHEN: Applying the 100%-off line coupon
	// THEN: The quote's payable amount is 0.00

	d, store := newTestDispensary(t)
	seedStandardLots(t, store)
	recordLine(t, d, "line-1", "apt-1", 10)
	_, err := d.PackLine(context.Background(), "line-1", []dispense.AllocationRequest{
		{LotID: "lot-mar", Quantity: 6},
	}, 6)
	require.NoError(t, err)

	line, err := d.SetLineCoupon(context.Background(), "line-1", true)
	require.NoError(t, err)
	assert.True(t, line.CouponApplied)

	quote, err := d.Quote(context.Background(), "apt-1", "")
	require.NoError(t, err)
	assert.Equal(t, "0.00", quote.PayableAmount.String())
}

// =============================================================================
// QUOTE AND CHECKOUT
// =============================================================================

func packStandardLine(t *testing.T, d *pharmacy.Dispensary, lineID, aptID string) {
	t.Helper()
	recordLine(t, d, lineID, aptID, 10)
	_, err := d.PackLine(context.Background(), dispense.LineID(lineID), []dispense.AllocationRequest{
		{LotID: "lot-mar", Quantity: 6},
	}, 6)
	require.NoError(t, err)
}

func TestQuote_WithOrderCoupon(t *testing.T) {
	// GIVEN: A packed 60.00 line and the SAVE10 coupon
	// WHEN: Quoting
	// THEN: Total 60.00, discount 6.00, payable 54.00

	d, store := newTestDispensary(t)
	seedStandardLots(t, store)
	packStandardLine(t, d, "line-1", "apt-1")

	quote, err := d.Quote(context.Background(), "apt-1", "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, "60.00", quote.TotalAmount.String())
	assert.Equal(t, "6.00", quote.DiscountAmount.String())
	assert.Equal(t, "54.00", quote.PayableAmount.String())
	assert.Equal(t, "SAVE10", quote.CouponCode)
}

func TestQuote_AfterCheckout_PricesOnlyPackedLines(t *testing.T) {
	// GIVEN: A 60.00 line paid in a first checkout, then a newly packed
	//        4 × 12.50 line on the same appointment
	// WHEN: Quoting and checking out again
	// THEN: The quote totals only the packed 50.00 line — exactly what the
	//       second checkout settles — while the paid line still shows as a row

	d, store := newTestDispensary(t)
	seedStandardLots(t, store)
	packStandardLine(t, d, "line-1", "apt-1")

	_, err := d.Checkout(context.Background(), "apt-1",
		dispense.SinglePayment(pharmacy.MethodCash, dispense.MustParseMoney("60.00")), "")
	require.NoError(t, err)

	recordLine(t, d, "line-2", "apt-1", 4)
	_, err = d.PackLine(context.Background(), "line-2", []dispense.AllocationRequest{
		{LotID: "lot-sep", Quantity: 4},
	}, 4)
	require.NoError(t, err)

	quote, err := d.Quote(context.Background(), "apt-1", "")
	require.NoError(t, err)
	assert.Equal(t, "50.00", quote.TotalAmount.String())
	assert.Equal(t, "50.00", quote.PayableAmount.String())
	assert.Len(t, quote.Lines, 2, "paid lines stay visible as display rows")

	committed, err := d.Checkout(context.Background(), "apt-1",
		dispense.SinglePayment(pharmacy.MethodCash, dispense.MustParseMoney("50.00")), "")
	require.NoError(t, err)
	assert.Equal(t, "50.00", committed.Order.PaidOrderAmount.String())
}

func TestCheckout_SinglePayment_FullFlow(t *testing.T) {
	// GIVEN: A packed 6 × 10.00 line
	// WHEN: Checking out with exactly 60.00 cash
	// THEN: Line persisted as Paid, lot stock decremented atomically

	d, store := newTestDispensary(t)
	seedStandardLots(t, store)
	packStandardLine(t, d, "line-1", "apt-1")

	committed, err := d.Checkout(context.Background(), "apt-1",
		dispense.SinglePayment(pharmacy.MethodCash, dispense.MustParseMoney("60.00")), "")
	require.NoError(t, err)
	assert.NotEmpty(t, committed.OrderID)

	stored, err := store.GetLine(context.Background(), "line-1")
	require.NoError(t, err)
	assert.Equal(t, dispense.StagePaid, stored.Stage)

	lot, err := store.GetLot(context.Background(), "lot-mar")
	require.NoError(t, err)
	assert.Equal(t, dispense.Quantity(0), lot.RemainingQuantity)
}

func TestCheckout_WithCoupon_SplitPayment(t *testing.T) {
	// GIVEN: A 60.00 order with SAVE10 (payable 54.00)
	// WHEN: Splitting 30.00 cash + 24.00 card
	// THEN: Committed with the coupon code on the order

	d, store := newTestDispensary(t)
	seedStandardLots(t, store)
	packStandardLine(t, d, "line-1", "apt-1")

	committed, err := d.Checkout(context.Background(), "apt-1",
		dispense.SplitPayment(
			dispense.PaymentEntry{Method: pharmacy.MethodCash, Amount: dispense.MustParseMoney("30.00")},
			dispense.PaymentEntry{Method: pharmacy.MethodCard, Amount: dispense.MustParseMoney("24.00")},
		), "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", committed.Order.CouponCode)
	assert.Equal(t, "54.00", committed.Order.PaidOrderAmount.String())
}

func TestCheckout_UnknownMethod_Rejected(t *testing.T) {
	d, store := newTestDispensary(t)
	seedStandardLots(t, store)
	packStandardLine(t, d, "line-1", "apt-1")

	_, err := d.Checkout(context.Background(), "apt-1",
		dispense.SinglePayment("CHEQUE", dispense.MustParseMoney("60.00")), "")
	assert.Error(t, err)

	stored, err := store.GetLine(context.Background(), "line-1")
	require.NoError(t, err)
	assert.Equal(t, dispense.StagePacked, stored.Stage, "failed checkout leaves the line Packed")
}

func TestCheckout_UnknownCoupon_Rejected(t *testing.T) {
	d, store := newTestDispensary(t)
	seedStandardLots(t, store)
	packStandardLine(t, d, "line-1", "apt-1")

	_, err := d.Checkout(context.Background(), "apt-1",
		dispense.SinglePayment(pharmacy.MethodCash, dispense.MustParseMoney("60.00")), "NOPE")
	assert.ErrorIs(t, err, dispense.ErrCouponNotFound)
}

func TestCheckout_WrongAmount_NothingPersisted(t *testing.T) {
	// GIVEN: A 60.00 order
	// WHEN: Paying 59.99
	// THEN: Rejected; line still Packed, stock untouched

	d, store := newTestDispensary(t)
	seedStandardLots(t, store)
	packStandardLine(t, d, "line-1", "apt-1")

	_, err := d.Checkout(context.Background(), "apt-1",
		dispense.SinglePayment(pharmacy.MethodCash, dispense.MustParseMoney("59.99")), "")
	assert.ErrorIs(t, err, dispense.ErrAmountMismatch)

	lot, err := store.GetLot(context.Background(), "lot-mar")
	require.NoError(t, err)
	assert.Equal(t, dispense.Quantity(6), lot.RemainingQuantity)
}

func TestCheckout_StockConsumedConcurrently_Retryable(t *testing.T) {
	// GIVEN: Two appointments both packed 6 units from the same 6-unit lot
	//        (snapshot checks pass for both)
	// WHEN: Checking out one after the other
	// THEN: The first wins; the second fails retryably at the authoritative
	//       decrement and its line stays Packed

	d, store := newTestDispensary(t)
	seedStandardLots(t, store)
	packStandardLine(t, d, "line-1", "apt-1")
	packStandardLine(t, d, "line-2", "apt-2")

	_, err := d.Checkout(context.Background(), "apt-1",
		dispense.SinglePayment(pharmacy.MethodCash, dispense.MustParseMoney("60.00")), "")
	require.NoError(t, err)

	_, err = d.Checkout(context.Background(), "apt-2",
		dispense.SinglePayment(pharmacy.MethodCash, dispense.MustParseMoney("60.00")), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, dispense.ErrInsufficientStock)
	assert.True(t, dispense.IsRetryable(err))

	stored, err := store.GetLine(context.Background(), "line-2")
	require.NoError(t, err)
	assert.Equal(t, dispense.StagePacked, stored.Stage)
}

func TestPaidLine_IsImmutable(t *testing.T) {
	// GIVEN: A line that has been paid
	// WHEN: Attempting a return or a coupon toggle
	// THEN: Both rejected with invalid-transition errors

	d, store := newTestDispensary(t)
	seedStandardLots(t, store)
	packStandardLine(t, d, "line-1", "apt-1")

	_, err := d.Checkout(context.Background(), "apt-1",
		dispense.SinglePayment(pharmacy.MethodCash, dispense.MustParseMoney("60.00")), "")
	require.NoError(t, err)

	_, err = d.ReturnUnits(context.Background(), "line-1", map[dispense.LotID]dispense.Quantity{"lot-mar": 1})
	assert.ErrorIs(t, err, dispense.ErrInvalidTransition)

	_, err = d.SetLineCoupon(context.Background(), "line-1", true)
	assert.ErrorIs(t, err, dispense.ErrInvalidTransition)
}
