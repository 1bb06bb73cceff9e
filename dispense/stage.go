/*
stage.go - Stage transition rules for medicine lines

PURPOSE:
  Owns the per-line stage machine (Prescribed → Packed → Paid) and enforces
  the quantity invariants on every transition.

STAGE MACHINE:

  ┌────────────┐   Pack (allocations)   ┌──────────┐   reconciled order   ┌────────┐
  │ Prescribed │ ─────────────────────▶ │  Packed  │ ───────────────────▶ │  Paid  │
  └────────────┘                        └──────────┘                      └────────┘
                                          │      ▲
                                          └──────┘
                                     ReturnUnits (any number
                                     of times before payment)

TRANSITION RULES:
  Prescribed → Packed  allocations non-empty, validated by the resolver,
                       Σ used ≤ prescribed. Snapshot allocations attached
                       with initialUsed = used, returned = 0.
  Packed → Packed      return adjustment: used shrinks, returned grows,
                       used = initialUsed − returned must hold afterwards.
  Packed → Paid        only through payment reconciliation (payment.go);
                       the line becomes immutable.
  anything else        rejected with a TransitionError.

Every function operates on a copy and returns the updated line; persistence is
the caller's responsibility. A failed transition leaves the input untouched.

SEE ALSO:
  - allocation.go: Produces the allocations Pack attaches
  - payment.go: The only path to Paid
*/
package dispense

// =============================================================================
// TRANSITION - Generic entry point
// =============================================================================

// Transition applies a stage change with the given allocations. It dispatches
// to the specific rule for the (current, target) pair and rejects everything
// else, including any attempt to reach Paid directly — Paid is only assigned
// by payment reconciliation.
func Transition(line MedicineLine, target Stage, allocations []LotAllocation) (MedicineLine, error) {
	if !target.Valid() {
		return line, &TransitionError{LineID: line.ID, From: line.Stage, To: target}
	}

	switch {
	case line.Stage == StagePrescribed && target == StagePacked:
		return Pack(line, allocations)
	case line.Stage == StagePacked && target == StagePacked:
		return applyEditedAllocations(line, allocations)
	default:
		return line, &TransitionError{LineID: line.ID, From: line.Stage, To: target}
	}
}

// =============================================================================
// PRESCRIBED → PACKED
// =============================================================================

// Pack advances a Prescribed line to Packed, attaching resolver-validated
// allocations. The line's stock hint, when present, is applied as an advisory
// pre-check; the authoritative check happens in the inventory service at
// submission.
func Pack(line MedicineLine, allocations []LotAllocation) (MedicineLine, error) {
	if line.Stage != StagePrescribed {
		return line, &TransitionError{LineID: line.ID, From: line.Stage, To: StagePacked}
	}
	if len(allocations) == 0 {
		return line, &QuantityMismatchError{Expected: line.PrescribedQuantity, Actual: 0}
	}

	packed := line.Clone()
	packed.Allocations = make([]LotAllocation, len(allocations))
	for i, a := range allocations {
		a.InitialUsedQuantity = a.UsedQuantity
		a.ReturnedQuantity = 0
		packed.Allocations[i] = a
	}

	seen := make(map[LotID]bool, len(packed.Allocations))
	for _, a := range packed.Allocations {
		if a.UsedQuantity <= 0 {
			return line, &QuantityMismatchError{Expected: line.PrescribedQuantity, Actual: packed.UsedTotal()}
		}
		if seen[a.LotID] {
			return line, &DuplicateLotError{LotID: a.LotID}
		}
		seen[a.LotID] = true
	}

	if err := packed.checkQuantityInvariant(); err != nil {
		return line, err
	}
	if line.AvailableQuantity > 0 && packed.UsedTotal() > line.AvailableQuantity {
		return line, &AvailabilityError{LineID: line.ID, Available: line.AvailableQuantity, Requested: packed.UsedTotal()}
	}

	packed.Stage = StagePacked
	return packed, nil
}

// =============================================================================
// PACKED → PACKED (return adjustment)
// =============================================================================

// ReturnUnits reduces used quantities on a Packed line, recording the units
// handed back. Allowed any number of times before payment. Each entry in
// returns gives additional units to return from that lot.
func ReturnUnits(line MedicineLine, returns map[LotID]Quantity) (MedicineLine, error) {
	if line.Stage != StagePacked {
		return line, &TransitionError{LineID: line.ID, From: line.Stage, To: StagePacked}
	}

	adjusted := line.Clone()
	matched := 0
	for i := range adjusted.Allocations {
		a := &adjusted.Allocations[i]
		qty, ok := returns[a.LotID]
		if !ok {
			continue
		}
		matched++
		if qty < 0 {
			return line, &ReturnInvariantError{LotID: a.LotID, Initial: a.InitialUsedQuantity, Used: a.UsedQuantity, Returned: a.ReturnedQuantity + qty}
		}
		a.UsedQuantity -= qty
		a.ReturnedQuantity += qty
	}
	if matched != len(returns) {
		for lotID := range returns {
			if !hasAllocation(adjusted.Allocations, lotID) {
				return line, ErrLotNotFound
			}
		}
	}

	if err := adjusted.checkQuantityInvariant(); err != nil {
		return line, err
	}
	return adjusted, nil
}

// applyEditedAllocations replaces a Packed line's allocations with an edited
// set, enforcing the return arithmetic on every allocation. Used by callers
// that edit used/returned quantities directly rather than via ReturnUnits.
// An original lot omitted from the edit counts as a full return of that lot;
// its return trail is kept with used = 0, returned = initial.
func applyEditedAllocations(line MedicineLine, allocations []LotAllocation) (MedicineLine, error) {
	edited := line.Clone()
	edited.Allocations = make([]LotAllocation, len(allocations))
	copy(edited.Allocations, allocations)

	// Edits may only shrink usage: initial quantities are fixed at pack time.
	initials := make(map[LotID]Quantity, len(line.Allocations))
	for _, a := range line.Allocations {
		initials[a.LotID] = a.InitialUsedQuantity
	}
	seen := make(map[LotID]bool, len(edited.Allocations))
	for _, a := range edited.Allocations {
		if seen[a.LotID] {
			return line, &DuplicateLotError{LotID: a.LotID}
		}
		seen[a.LotID] = true
		initial, ok := initials[a.LotID]
		if !ok {
			return line, ErrLotNotFound
		}
		if a.InitialUsedQuantity != initial {
			return line, &ReturnInvariantError{LotID: a.LotID, Initial: initial, Used: a.UsedQuantity, Returned: a.ReturnedQuantity}
		}
	}
	for _, a := range line.Allocations {
		if seen[a.LotID] {
			continue
		}
		returned := a
		returned.UsedQuantity = 0
		returned.ReturnedQuantity = returned.InitialUsedQuantity
		edited.Allocations = append(edited.Allocations, returned)
	}

	if err := edited.checkQuantityInvariant(); err != nil {
		return line, err
	}
	return edited, nil
}

// =============================================================================
// PACKED → PAID (reconciler-only)
// =============================================================================

// markPaid finalizes a line after successful order submission. Unexported:
// the only caller is the payment reconciler, which guarantees the line was
// part of a validated, gateway-confirmed order.
func markPaid(line MedicineLine) (MedicineLine, error) {
	if line.Stage != StagePacked {
		return line, &TransitionError{LineID: line.ID, From: line.Stage, To: StagePaid}
	}
	paid := line.Clone()
	paid.Stage = StagePaid
	return paid, nil
}

func hasAllocation(allocations []LotAllocation, lotID LotID) bool {
	for _, a := range allocations {
		if a.LotID == lotID {
			return true
		}
	}
	return false
}
