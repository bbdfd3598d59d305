package entity

import "time"

// LifecycleState names a point in an entity lineage's life.
type LifecycleState string

const (
	StateCreated      LifecycleState = "created"
	StatePromotedRoot  LifecycleState = "promoted_to_root"
	StateVersioned     LifecycleState = "versioned"
	StateDetached      LifecycleState = "detached"
	StateReconstructed LifecycleState = "reconstructed"
)

// LifecycleTransition is one entry in a lineage's append-only history. The
// registry owns this ledger, keyed by lineage_id, rather than storing it on
// the Entity itself.
type LifecycleTransition struct {
	State     LifecycleState
	ECSID     ID
	At        time.Time
	Detail    string
}
