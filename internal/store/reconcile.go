package store

// ReconcilePlan is the minimal set of mutations that turns the current grid
// items of a dashboard into the desired list. Deletes are applied first so
// their keys can be reused by differently-typed items in the same request.
type ReconcilePlan struct {
	Deletes []string
	Inserts []PlannedItem
	Updates []PlannedItem
}

// PlannedItem is a desired grid item together with the render order it will be
// assigned, which is its zero-based index in the submitted list.
type PlannedItem struct {
	GridItemInput
	Order int
}

// PlanReconcile computes the three-way diff between the currently persisted
// grid items and a client-submitted replacement list.
//
// Membership is judged by item key against the original current set, not the
// post-delete state: an item keyed like a deleted one is still an update in
// the same request, matching the uniqueness invariant at every step. Order is
// assigned from the desired list's declaration order.
func PlanReconcile(current []GridItem, desired []GridItemInput) ReconcilePlan {
	existing := make(map[string]bool, len(current))
	for _, item := range current {
		existing[item.I] = true
	}
	wanted := make(map[string]bool, len(desired))
	for _, item := range desired {
		wanted[item.I] = true
	}

	var plan ReconcilePlan
	for _, item := range current {
		if !wanted[item.I] {
			plan.Deletes = append(plan.Deletes, item.I)
		}
	}
	for index, item := range desired {
		planned := PlannedItem{GridItemInput: item, Order: index}
		if existing[item.I] {
			plan.Updates = append(plan.Updates, planned)
		} else {
			plan.Inserts = append(plan.Inserts, planned)
		}
	}
	return plan
}
