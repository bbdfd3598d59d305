package entity

import "testing"

func TestNewAssignsDistinctIdentity(t *testing.T) {
	a := New()
	b := New()

	if a.ECSID == b.ECSID {
		t.Error("two fresh entities should not share an ecs_id")
	}
	if a.LiveID == b.LiveID {
		t.Error("two fresh entities should not share a live_id")
	}
	if a.LineageID == b.LineageID {
		t.Error("two fresh entities should not share a lineage_id")
	}
	if a.RootECSID != a.ECSID {
		t.Error("a freshly created entity is its own root")
	}
	if a.PreviousECSID != nil {
		t.Error("a freshly created entity has no previous_ecs_id")
	}
	if len(a.OldIDs) != 0 {
		t.Error("a freshly created entity has no old_ids")
	}
}

func TestForkPreservesLineageAndUpdatesVersion(t *testing.T) {
	b := New()
	lineage := b.LineageID
	live := b.LiveID
	original := b.ECSID

	b.Fork()

	if b.LineageID != lineage {
		t.Error("fork must not change lineage_id")
	}
	if b.LiveID != live {
		t.Error("fork must not change live_id")
	}
	if b.ECSID == original {
		t.Error("fork must assign a fresh ecs_id")
	}
	if b.PreviousECSID == nil || *b.PreviousECSID != original {
		t.Error("fork must record the superseded ecs_id as previous_ecs_id")
	}
	if len(b.OldIDs) != 1 || b.OldIDs[0] != original {
		t.Error("fork must append the superseded ecs_id to old_ids")
	}
}

type leafDoc struct {
	Base
	Title string
}

func TestIdentityPromotedThroughEmbedding(t *testing.T) {
	d := &leafDoc{Base: New(), Title: "x"}

	var e Entity = d
	if e.Identity().ECSID != d.ECSID {
		t.Error("Identity() should return the embedded Base of the concrete struct")
	}
}
