package store

import (
	"reflect"
	"testing"
)

func TestPlanReconcileMixedDiff(t *testing.T) {
	current := []GridItem{
		{ID: 10, I: "1", Source: "Text"},
		{ID: 11, I: "2", Source: "Map"},
	}
	desired := []GridItemInput{
		{I: "2", Source: "Map", ArgsString: "{}"},
		{I: "3", Source: "Image", ArgsString: "{}"},
	}

	plan := PlanReconcile(current, desired)

	if !reflect.DeepEqual(plan.Deletes, []string{"1"}) {
		t.Errorf("expected delete of item 1, got %v", plan.Deletes)
	}
	if len(plan.Updates) != 1 || plan.Updates[0].I != "2" || plan.Updates[0].Order != 0 {
		t.Errorf("expected update of item 2 at order 0, got %+v", plan.Updates)
	}
	if len(plan.Inserts) != 1 || plan.Inserts[0].I != "3" || plan.Inserts[0].Order != 1 {
		t.Errorf("expected insert of item 3 at order 1, got %+v", plan.Inserts)
	}
}

func TestPlanReconcileReusedKeyIsUpdate(t *testing.T) {
	// A desired item keyed like a current one is always an update, even when
	// the client changed everything else about it.
	current := []GridItem{{ID: 5, I: "a", Source: "Text"}}
	desired := []GridItemInput{{I: "a", Source: "Map", ArgsString: `{"layers":[]}`}}

	plan := PlanReconcile(current, desired)

	if len(plan.Deletes) != 0 {
		t.Errorf("expected no deletes, got %v", plan.Deletes)
	}
	if len(plan.Inserts) != 0 {
		t.Errorf("expected no inserts, got %+v", plan.Inserts)
	}
	if len(plan.Updates) != 1 || plan.Updates[0].Source != "Map" {
		t.Errorf("expected one update carrying the new source, got %+v", plan.Updates)
	}
}

func TestPlanReconcileEmptyDesiredDeletesEverything(t *testing.T) {
	current := []GridItem{{I: "1"}, {I: "2"}}

	plan := PlanReconcile(current, nil)

	if !reflect.DeepEqual(plan.Deletes, []string{"1", "2"}) {
		t.Errorf("expected all current items deleted, got %v", plan.Deletes)
	}
	if len(plan.Inserts) != 0 || len(plan.Updates) != 0 {
		t.Errorf("expected no inserts or updates, got %+v %+v", plan.Inserts, plan.Updates)
	}
}

func TestPlanReconcileOrderFollowsDeclaration(t *testing.T) {
	desired := []GridItemInput{{I: "c"}, {I: "a"}, {I: "b"}}

	plan := PlanReconcile(nil, desired)

	if len(plan.Inserts) != 3 {
		t.Fatalf("expected 3 inserts, got %d", len(plan.Inserts))
	}
	for index, item := range plan.Inserts {
		if item.Order != index {
			t.Errorf("item %s: expected order %d, got %d", item.I, index, item.Order)
		}
	}
}

func TestPlanReconcileIdempotent(t *testing.T) {
	current := []GridItem{{I: "1", Order: 0}, {I: "2", Order: 1}}
	desired := []GridItemInput{{I: "1"}, {I: "2"}}

	plan := PlanReconcile(current, desired)

	if len(plan.Deletes) != 0 || len(plan.Inserts) != 0 {
		t.Errorf("matching lists should produce only updates, got %+v", plan)
	}
	if len(plan.Updates) != 2 {
		t.Errorf("expected 2 updates, got %d", len(plan.Updates))
	}
}

func TestDashboardPublic(t *testing.T) {
	if (Dashboard{AccessGroups: []string{"team-a"}}).Public() {
		t.Error("group-restricted dashboard reported public")
	}
	if !(Dashboard{AccessGroups: []string{"team-a", "public"}}).Public() {
		t.Error("tagged dashboard not reported public")
	}
	if (Dashboard{}).Public() {
		t.Error("untagged dashboard reported public")
	}
}
