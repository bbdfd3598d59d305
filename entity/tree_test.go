package entity

import "testing"

type child struct {
	Base
	Name string
}

type parentWithList struct {
	Base
	Label    string
	Children []*child
}

type parentWithSet struct {
	Base
	Tags []*child `entity:"set"`
}

type parentWithMap struct {
	Base
	ByKey map[string]*child
}

type parentWithScalar struct {
	Base
	Only *child
}

func noRoots(ID) bool { return false }

func TestBuildTreeHierarchicalList(t *testing.T) {
	c1 := &child{Base: New(), Name: "a"}
	c2 := &child{Base: New(), Name: "b"}
	p := &parentWithList{Base: New(), Label: "p", Children: []*child{c1, c2}}

	tree, err := BuildTree(p, noRoots)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tree.Nodes) != 3 {
		t.Fatalf("expected 3 nodes (parent + 2 children), got %d", len(tree.Nodes))
	}
	if len(tree.Edges) != 2 {
		t.Fatalf("expected 2 edges, got %d", len(tree.Edges))
	}
	for _, e := range tree.Edges {
		if e.Ownership != Hierarchical {
			t.Errorf("expected hierarchical edge, got %v", e.Ownership)
		}
		if e.Container != List {
			t.Errorf("expected List container kind, got %v", e.Container)
		}
	}
}

func TestBuildTreeReferenceEdgeDoesNotRecurse(t *testing.T) {
	shared := &child{Base: New(), Name: "shared"}
	p := &parentWithScalar{Base: New(), Only: shared}

	isRoot := func(id ID) bool { return id == shared.ECSID }

	tree, err := BuildTree(p, isRoot)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tree.Nodes) != 1 {
		t.Fatalf("reference target must not be added to Nodes, got %d nodes", len(tree.Nodes))
	}
	if len(tree.Edges) != 1 || tree.Edges[0].Ownership != Reference {
		t.Fatalf("expected a single reference edge, got %+v", tree.Edges)
	}
}

func TestBuildTreeIncoherentOwnership(t *testing.T) {
	shared := &child{Base: New(), Name: "shared"}

	type grandparent struct {
		Base
		P1 *parentWithScalar
		P2 *parentWithScalar
	}
	gp := &grandparent{
		Base: New(),
		P1:   &parentWithScalar{Base: New(), Only: shared},
		P2:   &parentWithScalar{Base: New(), Only: shared},
	}

	_, err := BuildTree(gp, noRoots)
	if err == nil {
		t.Fatal("expected IncoherentOwnership error when two distinct parents claim the same hierarchical child")
	}
	if _, ok := err.(*IncoherentOwnershipError); !ok {
		t.Fatalf("expected *IncoherentOwnershipError, got %T: %v", err, err)
	}
}

func TestBuildTreeCyclicHierarchyDetected(t *testing.T) {
	type node struct {
		Base
		Next *node
	}
	a := &node{Base: New()}
	b := &node{Base: New()}
	a.Next = b
	b.Next = a

	_, err := BuildTree(a, noRoots)
	if err == nil {
		t.Fatal("expected CyclicHierarchy error for a hierarchical self-loop")
	}
	if _, ok := err.(*CyclicHierarchyError); !ok {
		t.Fatalf("expected *CyclicHierarchyError, got %T: %v", err, err)
	}
}

func TestStructuralHashDeterministicAndOrderSensitive(t *testing.T) {
	c1 := &child{Base: New(), Name: "a"}
	c2 := &child{Base: New(), Name: "b"}

	p1 := &parentWithList{Base: New(), Label: "p", Children: []*child{c1, c2}}
	p2 := &parentWithList{Base: New(), Label: "p", Children: []*child{c1, c2}}

	t1, err := BuildTree(p1, noRoots)
	if err != nil {
		t.Fatal(err)
	}
	t2, err := BuildTree(p2, noRoots)
	if err != nil {
		t.Fatal(err)
	}

	if t1.StructuralHash != t2.StructuralHash {
		t.Error("two structurally identical trees must hash identically")
	}

	p3 := &parentWithList{Base: New(), Label: "p", Children: []*child{c2, c1}}
	t3, err := BuildTree(p3, noRoots)
	if err != nil {
		t.Fatal(err)
	}
	if t3.StructuralHash == t1.StructuralHash {
		t.Error("list order is significant; reordering children must change the hash")
	}
}

func TestStructuralHashSetOrderInsensitive(t *testing.T) {
	c1 := &child{Base: New(), Name: "a"}
	c2 := &child{Base: New(), Name: "b"}

	p1 := &parentWithSet{Base: New(), Tags: []*child{c1, c2}}
	p2 := &parentWithSet{Base: New(), Tags: []*child{c2, c1}}

	t1, err := BuildTree(p1, noRoots)
	if err != nil {
		t.Fatal(err)
	}
	t2, err := BuildTree(p2, noRoots)
	if err != nil {
		t.Fatal(err)
	}
	if t1.StructuralHash != t2.StructuralHash {
		t.Error("set-kind containers must hash identically regardless of element order")
	}
}

func TestStructuralHashMapSortedByKey(t *testing.T) {
	c1 := &child{Base: New(), Name: "a"}
	c2 := &child{Base: New(), Name: "b"}

	p1 := &parentWithMap{Base: New(), ByKey: map[string]*child{"x": c1, "y": c2}}
	p2 := &parentWithMap{Base: New(), ByKey: map[string]*child{"y": c2, "x": c1}}

	t1, err := BuildTree(p1, noRoots)
	if err != nil {
		t.Fatal(err)
	}
	t2, err := BuildTree(p2, noRoots)
	if err != nil {
		t.Fatal(err)
	}
	if t1.StructuralHash != t2.StructuralHash {
		t.Error("map iteration order must not affect the structural hash")
	}
}

func TestStructuralHashChangesWithContent(t *testing.T) {
	p := &parentWithScalar{Base: New(), Only: &child{Base: New(), Name: "a"}}
	before, err := BuildTree(p, noRoots)
	if err != nil {
		t.Fatal(err)
	}

	p.Only.Name = "b"
	after, err := BuildTree(p, noRoots)
	if err != nil {
		t.Fatal(err)
	}

	if before.StructuralHash == after.StructuralHash {
		t.Error("changing a leaf field must change the root's structural hash")
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	c := &child{Base: New(), Name: "a"}
	p := &parentWithScalar{Base: New(), Only: c}

	tree, err := BuildTree(p, noRoots)
	if err != nil {
		t.Fatal(err)
	}

	snap := NewSnapshot(tree)
	restoredRoot, nodes := snap.Restore()

	if restoredRoot.Identity().ECSID != p.ECSID {
		t.Error("restore must preserve ecs_id")
	}
	if !restoredRoot.Identity().FromStorage {
		t.Error("restore must mark FromStorage = true")
	}
	if restoredRoot.Identity().LiveID == p.LiveID {
		t.Error("restore must assign a fresh live_id")
	}
	if len(nodes) != len(tree.Nodes) {
		t.Errorf("expected %d restored nodes, got %d", len(tree.Nodes), len(nodes))
	}

	restoredP := restoredRoot.(*parentWithScalar)
	if restoredP.Only == p.Only {
		t.Error("restore must produce independent copies, not share pointers with the live tree")
	}
	if restoredP.Only.Name != p.Only.Name {
		t.Error("restore must preserve field content")
	}
}
