// Package store provides in-memory implementations of the engine's
// collaborator interfaces, for testing and development.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/pharmacy-engine/dispense"
)

// =============================================================================
// MEMORY - In-memory lot catalog, gateway, and line store
// =============================================================================

// Memory implements dispense.LotCatalog and dispense.SubmissionGateway plus
// medicine-line persistence, all in process memory. Submit applies the same
// conditional-decrement semantics as the production store: it checks every
// allocation against authoritative stock under one lock and commits all
// decrements or none.
type Memory struct {
	mu     sync.RWMutex
	lots   map[dispense.LotID]dispense.Lot
	lines  map[dispense.LineID]dispense.MedicineLine
	orders map[dispense.OrderID]dispense.Order
	nextID int
}

func NewMemory() *Memory {
	return &Memory{
		lots:   make(map[dispense.LotID]dispense.Lot),
		lines:  make(map[dispense.LineID]dispense.MedicineLine),
		orders: make(map[dispense.OrderID]dispense.Order),
	}
}

// =============================================================================
// LOT CATALOG
// =============================================================================

// AddLot seeds a lot. Overwrites any existing lot with the same ID.
func (m *Memory) AddLot(lot dispense.Lot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lots[lot.ID] = lot
}

// ListLots returns a snapshot of the lots for an item at a branch, soonest
// expiry first.
func (m *Memory) ListLots(_ context.Context, itemID dispense.ItemID, branchID dispense.BranchID) ([]dispense.Lot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []dispense.Lot
	for _, lot := range m.lots {
		if lot.ItemID == itemID && lot.BranchID == branchID {
			result = append(result, lot)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ExpiryDate.Before(result[j].ExpiryDate)
	})
	return result, nil
}

// Lot returns the current authoritative state of one lot.
func (m *Memory) Lot(id dispense.LotID) (dispense.Lot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lot, ok := m.lots[id]
	return lot, ok
}

// =============================================================================
// SUBMISSION GATEWAY
// =============================================================================

// Submit validates and decrements stock for every allocation in the order,
// then records the order. All-or-nothing under one lock.
func (m *Memory) Submit(_ context.Context, order dispense.Order) (dispense.OrderID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check phase: every allocation must still be covered.
	needed := make(map[dispense.LotID]dispense.Quantity)
	for _, line := range order.Lines {
		for _, a := range line.Allocations {
			needed[a.LotID] += a.UsedQuantity
		}
	}
	for lotID, qty := range needed {
		lot, ok := m.lots[lotID]
		if !ok {
			return "", &dispense.InsufficientStockError{LotID: lotID, Remaining: 0, Requested: qty}
		}
		if lot.RemainingQuantity < qty {
			return "", &dispense.InsufficientStockError{LotID: lotID, Remaining: lot.RemainingQuantity, Requested: qty}
		}
	}

	// Commit phase: decrement and record.
	for lotID, qty := range needed {
		lot := m.lots[lotID]
		lot.RemainingQuantity -= qty
		m.lots[lotID] = lot
	}

	m.nextID++
	orderID := dispense.OrderID(fmt.Sprintf("ord-%d", m.nextID))
	m.orders[orderID] = order
	return orderID, nil
}

// Order returns a previously submitted order.
func (m *Memory) Order(id dispense.OrderID) (dispense.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order, ok := m.orders[id]
	return order, ok
}

// OrderCount returns how many orders have been submitted.
func (m *Memory) OrderCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.orders)
}

// =============================================================================
// LINE STORE
// =============================================================================

// SaveLine persists a medicine line snapshot.
func (m *Memory) SaveLine(_ context.Context, line dispense.MedicineLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines[line.ID] = line.Clone()
	return nil
}

// GetLine returns one medicine line.
func (m *Memory) GetLine(_ context.Context, id dispense.LineID) (*dispense.MedicineLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	line, ok := m.lines[id]
	if !ok {
		return nil, dispense.ErrLineNotFound
	}
	out := line.Clone()
	return &out, nil
}

// LinesByAppointment returns all lines for an appointment, ordered by ID.
func (m *Memory) LinesByAppointment(_ context.Context, appointmentID dispense.AppointmentID) ([]dispense.MedicineLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []dispense.MedicineLine
	for _, line := range m.lines {
		if line.AppointmentID == appointmentID {
			result = append(result, line.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}
