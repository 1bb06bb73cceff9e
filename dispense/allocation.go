/*
allocation.go - Mapping a requested quantity onto inventory lots

PURPOSE:
  Validates an operator-chosen selection of (lot, quantity) pairs against the
  current lot snapshots and produces the LotAllocation records attached to a
  medicine line at pack time.

POLICY:
  The operator supplies the ordered lot selection; the resolver never picks
  lots on its own. This mirrors a pharmacist manually choosing batches,
  typically preferring soonest-expiry stock. SuggestAllocations offers a
  first-expiry-first-out default the caller may use as a starting point, but
  nothing in the engine depends on it.

VALIDATION RULES:
  1. Every requested lot must exist in the candidate snapshot
  2. Requested quantity per lot ≤ that lot's remaining-quantity snapshot
  3. No lot appears twice in one selection
  4. Complete selections sum exactly to the target quantity;
     partial ones (incremental editing before commit) sum to ≤ target

All checks run against snapshots and are therefore advisory: the inventory
service re-checks and decrements remaining quantity atomically when the order
is submitted.

SEE ALSO:
  - stage.go: Attaches resolved allocations on Prescribed → Packed
  - errors.go: ExceedsLotStock / DuplicateLot / QuantityMismatch
*/
package dispense

import (
	"sort"
)

// =============================================================================
// ALLOCATION REQUEST - Operator's lot selection
// =============================================================================

// AllocationRequest is one entry of the operator's lot selection: take
// Quantity units from the lot with LotID.
type AllocationRequest struct {
	LotID    LotID
	Quantity Quantity
}

// =============================================================================
// RESOLVER
// =============================================================================

// ResolveAllocations validates the requested selection against the candidate
// lot snapshots and returns the allocations to attach to a line.
//
// When complete is true the requested quantities must sum exactly to target
// (used at Prescribed → Packed). When false the sum may be anything up to
// target (used during incremental line editing before commit).
func ResolveAllocations(candidates []Lot, requests []AllocationRequest, target Quantity, complete bool) ([]LotAllocation, error) {
	if target < 0 {
		return nil, &QuantityMismatchError{Expected: target, Actual: sumRequested(requests)}
	}

	byID := make(map[LotID]Lot, len(candidates))
	for _, lot := range candidates {
		byID[lot.ID] = lot
	}

	seen := make(map[LotID]bool, len(requests))
	allocations := make([]LotAllocation, 0, len(requests))
	var total Quantity

	for _, req := range requests {
		if req.Quantity <= 0 {
			return nil, &QuantityMismatchError{Expected: target, Actual: sumRequested(requests)}
		}
		if seen[req.LotID] {
			return nil, &DuplicateLotError{LotID: req.LotID}
		}
		seen[req.LotID] = true

		lot, ok := byID[req.LotID]
		if !ok {
			return nil, &LotStockError{LotID: req.LotID, Remaining: 0, Requested: req.Quantity}
		}
		if req.Quantity > lot.RemainingQuantity {
			return nil, &LotStockError{LotID: req.LotID, Remaining: lot.RemainingQuantity, Requested: req.Quantity}
		}

		total += req.Quantity
		allocations = append(allocations, LotAllocation{
			LotID:               lot.ID,
			BatchNo:             lot.BatchNo,
			ExpiryDate:          lot.ExpiryDate,
			UnitPrice:           lot.UnitPrice,
			InitialUsedQuantity: req.Quantity,
			UsedQuantity:        req.Quantity,
			ReturnedQuantity:    0,
		})
	}

	if complete && total != target {
		return nil, &QuantityMismatchError{Expected: target, Actual: total}
	}
	if !complete && total > target {
		return nil, &QuantityMismatchError{Expected: target, Actual: total}
	}

	return allocations, nil
}

func sumRequested(requests []AllocationRequest) Quantity {
	var total Quantity
	for _, r := range requests {
		total += r.Quantity
	}
	return total
}

// =============================================================================
// FEFO SUGGESTION - Optional default ordering
// =============================================================================

// SuggestAllocations proposes a first-expiry-first-out selection covering
// target from the candidate snapshots. It is a suggestion only; the operator
// may reorder or replace it freely. Returns the partial selection it could
// cover when total stock falls short — the caller decides whether a partial
// pack is acceptable.
func SuggestAllocations(candidates []Lot, target Quantity) []AllocationRequest {
	lots := make([]Lot, len(candidates))
	copy(lots, candidates)
	sort.SliceStable(lots, func(i, j int) bool {
		return lots[i].ExpiryDate.Before(lots[j].ExpiryDate)
	})

	var requests []AllocationRequest
	remaining := target
	for _, lot := range lots {
		if remaining <= 0 {
			break
		}
		if lot.RemainingQuantity <= 0 {
			continue
		}
		take := lot.RemainingQuantity
		if take > remaining {
			take = remaining
		}
		requests = append(requests, AllocationRequest{LotID: lot.ID, Quantity: take})
		remaining -= take
	}
	return requests
}
