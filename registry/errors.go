package registry

import (
	"fmt"

	"github.com/entityflow/entityflow/entity"
)

// Sentinel errors returned by registry operations.
var (
	ErrAlreadyRegistered    = fmt.Errorf("entity already registered as a root")
	ErrNotFound             = fmt.Errorf("entity not found")
	ErrStaleLiveId          = fmt.Errorf("stale live_id")
	ErrDetachNonHierarchical = fmt.Errorf("cannot detach a non-hierarchical edge")
)

// AlreadyRegisteredError names the ecs_id that was already a root.
type AlreadyRegisteredError struct {
	ECSID entity.ID
}

func (e *AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("entity %s is already registered as a root", e.ECSID)
}

func (e *AlreadyRegisteredError) Unwrap() error { return ErrAlreadyRegistered }

// NotFoundError names the identity that could not be resolved and the kind
// of identity it was looked up by.
type NotFoundError struct {
	Kind string // "ecs_id", "live_id", or "lineage_id"
	ID   entity.ID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// StaleLiveIdError names a live_id that no longer resolves to a live
// in-memory root, typically because the tree it belonged to was detached or
// superseded.
type StaleLiveIdError struct {
	LiveID entity.ID
}

func (e *StaleLiveIdError) Error() string {
	return fmt.Sprintf("stale live_id: %s", e.LiveID)
}

func (e *StaleLiveIdError) Unwrap() error { return ErrStaleLiveId }

// DetachNonHierarchicalError names the ecs_id that was requested for detach
// but was not found as a hierarchical child of any registered tree.
type DetachNonHierarchicalError struct {
	ECSID entity.ID
}

func (e *DetachNonHierarchicalError) Error() string {
	return fmt.Sprintf("%s is not a hierarchical child of any registered tree", e.ECSID)
}

func (e *DetachNonHierarchicalError) Unwrap() error { return ErrDetachNonHierarchical }
