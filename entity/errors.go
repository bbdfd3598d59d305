package entity

import "fmt"

// Sentinel errors returned by tree building and structural hashing.
var (
	// ErrCyclicHierarchy is returned when a hierarchical (ownership) edge
	// would close a cycle. Reference edges may cycle freely; only ownership
	// edges must form a DAG.
	ErrCyclicHierarchy = fmt.Errorf("cyclic hierarchy")

	// ErrUnreachableChild is returned when a child entity carries a parent
	// pointer that does not correspond to any edge discovered during the walk.
	ErrUnreachableChild = fmt.Errorf("unreachable child")

	// ErrIncoherentOwnership is returned when a single entity is claimed as a
	// hierarchical child by more than one parent in the same tree.
	ErrIncoherentOwnership = fmt.Errorf("incoherent ownership")
)

// CyclicHierarchyError carries the offending node so callers can report
// exactly where the cycle closed.
type CyclicHierarchyError struct {
	ChildECSID ID
	ParentECSID ID
}

func (e *CyclicHierarchyError) Error() string {
	return fmt.Sprintf("cyclic hierarchy: %s already an ancestor of %s", e.ChildECSID, e.ParentECSID)
}

func (e *CyclicHierarchyError) Unwrap() error { return ErrCyclicHierarchy }

// UnreachableChildError names the child whose declared ownership could not
// be traced back to a live edge.
type UnreachableChildError struct {
	ChildECSID ID
}

func (e *UnreachableChildError) Error() string {
	return fmt.Sprintf("unreachable child: %s", e.ChildECSID)
}

func (e *UnreachableChildError) Unwrap() error { return ErrUnreachableChild }

// IncoherentOwnershipError names the child and both competing parents.
type IncoherentOwnershipError struct {
	ChildECSID   ID
	FirstParent  ID
	SecondParent ID
}

func (e *IncoherentOwnershipError) Error() string {
	return fmt.Sprintf("incoherent ownership: %s claimed as hierarchical child of both %s and %s",
		e.ChildECSID, e.FirstParent, e.SecondParent)
}

func (e *IncoherentOwnershipError) Unwrap() error { return ErrIncoherentOwnership }
