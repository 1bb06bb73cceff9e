package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/pharmacy-engine/dispense"
	"github.com/warp/pharmacy-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testLot(id string, month time.Month, price string, remaining int) dispense.Lot {
	return dispense.Lot{
		ID:                dispense.LotID(id),
		ItemID:            "item-ibuprofen",
		BranchID:          "branch-main",
		BatchNo:           "B-" + id,
		ExpiryDate:        time.Date(2026, month, 1, 0, 0, 0, 0, time.UTC),
		UnitPrice:         dispense.MustParseMoney(price),
		RemainingQuantity: dispense.Quantity(remaining),
	}
}

// =============================================================================
// LOT PERSISTENCE
// =============================================================================

func TestLots_RoundTripAndExpiryOrder(t *testing.T) {
	// GIVEN: Lots saved out of expiry order
	// WHEN: Listing them for the item/branch
	// THEN: Soonest expiry first, prices and quantities intact

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveLot(ctx, testLot("lot-dec", time.December, "8.00", 30)))
	require.NoError(t, store.SaveLot(ctx, testLot("lot-feb", time.February, "9.25", 12)))
	require.NoError(t, store.SaveLot(ctx, testLot("lot-jul", time.July, "8.50", 5)))

	lots, err := store.ListLots(ctx, "item-ibuprofen", "branch-main")
	require.NoError(t, err)
	require.Len(t, lots, 3)
	assert.Equal(t, dispense.LotID("lot-feb"), lots[0].ID)
	assert.Equal(t, dispense.LotID("lot-jul"), lots[1].ID)
	assert.Equal(t, dispense.LotID("lot-dec"), lots[2].ID)
	assert.True(t, lots[0].UnitPrice.Equal(dispense.MustParseMoney("9.25")))
	assert.Equal(t, dispense.Quantity(12), lots[0].RemainingQuantity)
}

func TestLots_UpsertOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveLot(ctx, testLot("lot-a", time.March, "8.00", 30)))
	require.NoError(t, store.SaveLot(ctx, testLot("lot-a", time.March, "8.00", 25)))

	lot, err := store.GetLot(ctx, "lot-a")
	require.NoError(t, err)
	assert.Equal(t, dispense.Quantity(25), lot.RemainingQuantity)
}

func TestGetLot_Missing_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetLot(context.Background(), "lot-missing")
	assert.ErrorIs(t, err, dispense.ErrLotNotFound)
}

// =============================================================================
// LINE PERSISTENCE
// =============================================================================

func TestLines_RoundTripWithAllocations(t *testing.T) {
	// GIVEN: A packed line with two allocations and a partial return
	// WHEN: Saving and re-reading
	// THEN: Stage, coupon flag, and allocation arithmetic survive intact

	store := newTestStore(t)
	ctx := context.Background()

	line := dispense.MedicineLine{
		ID:                 "line-1",
		AppointmentID:      "apt-1",
		ItemID:             "item-ibuprofen",
		ItemName:           "Ibuprofen 400mg",
		PrescribedQuantity: 10,
		AvailableQuantity:  42,
		Stage:              dispense.StagePacked,
		CouponApplied:      true,
		Allocations: []dispense.LotAllocation{
			{
				LotID:               "lot-feb",
				BatchNo:             "B-lot-feb",
				ExpiryDate:          time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC),
				UnitPrice:           dispense.MustParseMoney("9.25"),
				InitialUsedQuantity: 6,
				UsedQuantity:        4,
				ReturnedQuantity:    2,
			},
			{
				LotID:               "lot-jul",
				BatchNo:             "B-lot-jul",
				ExpiryDate:          time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC),
				UnitPrice:           dispense.MustParseMoney("8.50"),
				InitialUsedQuantity: 4,
				UsedQuantity:        4,
			},
		},
	}
	require.NoError(t, store.SaveLine(ctx, line))

	stored, err := store.GetLine(ctx, "line-1")
	require.NoError(t, err)
	assert.Equal(t, dispense.StagePacked, stored.Stage)
	assert.True(t, stored.CouponApplied)
	assert.Equal(t, dispense.Quantity(42), stored.AvailableQuantity)
	require.Len(t, stored.Allocations, 2)

	feb := stored.Allocations[0]
	assert.Equal(t, dispense.LotID("lot-feb"), feb.LotID)
	assert.Equal(t, dispense.Quantity(6), feb.InitialUsedQuantity)
	assert.Equal(t, dispense.Quantity(4), feb.UsedQuantity)
	assert.Equal(t, dispense.Quantity(2), feb.ReturnedQuantity)
	assert.True(t, feb.UnitPrice.Equal(dispense.MustParseMoney("9.25")))
}

func TestLines_SaveReplacesAllocations(t *testing.T) {
	// GIVEN: A saved line with one allocation
	// WHEN: Saving again with a different allocation set
	// THEN: The old set is fully replaced, not merged

	store := newTestStore(t)
	ctx := context.Background()

	line := dispense.MedicineLine{
		ID: "line-1", AppointmentID: "apt-1", ItemID: "item-ibuprofen",
		ItemName: "Ibuprofen 400mg", PrescribedQuantity: 10, Stage: dispense.StagePacked,
		Allocations: []dispense.LotAllocation{
			{LotID: "lot-feb", UnitPrice: dispense.MustParseMoney("9.25"), ExpiryDate: time.Now(), InitialUsedQuantity: 6, UsedQuantity: 6},
		},
	}
	require.NoError(t, store.SaveLine(ctx, line))

	line.Allocations = []dispense.LotAllocation{
		{LotID: "lot-jul", UnitPrice: dispense.MustParseMoney("8.50"), ExpiryDate: time.Now(), InitialUsedQuantity: 3, UsedQuantity: 3},
	}
	require.NoError(t, store.SaveLine(ctx, line))

	stored, err := store.GetLine(ctx, "line-1")
	require.NoError(t, err)
	require.Len(t, stored.Allocations, 1)
	assert.Equal(t, dispense.LotID("lot-jul"), stored.Allocations[0].LotID)
}

func TestGetLine_Missing_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetLine(context.Background(), "line-missing")
	assert.ErrorIs(t, err, dispense.ErrLineNotFound)
}

func TestLinesByAppointment_OrderedByID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"line-b", "line-a", "line-c"} {
		require.NoError(t, store.SaveLine(ctx, dispense.MedicineLine{
			ID: dispense.LineID(id), AppointmentID: "apt-1", ItemID: "item-ibuprofen",
			ItemName: "Ibuprofen 400mg", PrescribedQuantity: 1, Stage: dispense.StagePrescribed,
		}))
	}
	require.NoError(t, store.SaveLine(ctx, dispense.MedicineLine{
		ID: "line-other", AppointmentID: "apt-2", ItemID: "item-ibuprofen",
		ItemName: "Ibuprofen 400mg", PrescribedQuantity: 1, Stage: dispense.StagePrescribed,
	}))

	lines, err := store.LinesByAppointment(ctx, "apt-1")
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, dispense.LineID("line-a"), lines[0].ID)
	assert.Equal(t, dispense.LineID("line-c"), lines[2].ID)
}

// =============================================================================
// SUBMISSION GATEWAY
// =============================================================================

func submitOrder(lines ...dispense.MedicineLine) dispense.Order {
	total := dispense.OrderTotal(lines)
	return dispense.Order{
		AppointmentID:    "apt-1",
		Lines:            lines,
		TotalOrderAmount: total.RoundMinor(),
		DiscountAmount:   dispense.ZeroMoney(),
		PaidOrderAmount:  total.RoundMinor(),
		Payment:          dispense.SinglePayment("CASH", total.RoundMinor()),
	}
}

func packedTestLine(id string, lotID string, used int, price string) dispense.MedicineLine {
	return dispense.MedicineLine{
		ID: dispense.LineID(id), AppointmentID: "apt-1", ItemID: "item-ibuprofen",
		ItemName: "Ibuprofen 400mg", PrescribedQuantity: dispense.Quantity(used),
		Stage: dispense.StagePacked,
		Allocations: []dispense.LotAllocation{{
			LotID:               dispense.LotID(lotID),
			UnitPrice:           dispense.MustParseMoney(price),
			ExpiryDate:          time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC),
			InitialUsedQuantity: dispense.Quantity(used),
			UsedQuantity:        dispense.Quantity(used),
		}},
	}
}

func TestSubmit_DecrementsStockAndAssignsID(t *testing.T) {
	// GIVEN: 12 units in lot-feb
	// WHEN: Submitting an order using 5 of them
	// THEN: An order ID comes back and remaining drops to 7

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveLot(ctx, testLot("lot-feb", time.February, "9.25", 12)))

	orderID, err := store.Submit(ctx, submitOrder(packedTestLine("line-1", "lot-feb", 5, "9.25")))
	require.NoError(t, err)
	assert.NotEmpty(t, orderID)

	lot, err := store.GetLot(ctx, "lot-feb")
	require.NoError(t, err)
	assert.Equal(t, dispense.Quantity(7), lot.RemainingQuantity)
}

func TestSubmit_InsufficientStock_RollsBackEverything(t *testing.T) {
	// GIVEN: An order drawing from two lots where the second falls short
	// WHEN: Submitting
	// THEN: InsufficientStockError; the first lot's decrement is rolled back

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveLot(ctx, testLot("lot-feb", time.February, "9.25", 12)))
	require.NoError(t, store.SaveLot(ctx, testLot("lot-jul", time.July, "8.50", 2)))

	order := submitOrder(
		packedTestLine("line-1", "lot-feb", 5, "9.25"),
		packedTestLine("line-2", "lot-jul", 3, "8.50"),
	)

	_, err := store.Submit(ctx, order)
	require.Error(t, err)
	assert.ErrorIs(t, err, dispense.ErrInsufficientStock)
	assert.True(t, dispense.IsRetryable(err))

	feb, err := store.GetLot(ctx, "lot-feb")
	require.NoError(t, err)
	assert.Equal(t, dispense.Quantity(12), feb.RemainingQuantity, "partial decrement must roll back")

	jul, err := store.GetLot(ctx, "lot-jul")
	require.NoError(t, err)
	assert.Equal(t, dispense.Quantity(2), jul.RemainingQuantity)
}

func TestSubmit_AggregatesAcrossLines(t *testing.T) {
	// GIVEN: Two lines drawing 4 and 5 from the same lot of 12
	// WHEN: Submitting
	// THEN: One aggregated decrement of 9

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveLot(ctx, testLot("lot-feb", time.February, "9.25", 12)))

	order := submitOrder(
		packedTestLine("line-1", "lot-feb", 4, "9.25"),
		packedTestLine("line-2", "lot-feb", 5, "9.25"),
	)

	_, err := store.Submit(ctx, order)
	require.NoError(t, err)

	lot, err := store.GetLot(ctx, "lot-feb")
	require.NoError(t, err)
	assert.Equal(t, dispense.Quantity(3), lot.RemainingQuantity)
}
