// Package entity defines the core data object of the substrate: an immutable,
// versioned record identified by a content-stable lineage and a
// version-stable ecs_id, plus the tree builder and structural hash that
// give every entity graph a deterministic shape.
//
// Entities are plain data. Tree walking, versioning, and borrowing are free
// functions operating on the Entity interface rather than methods attached
// to the data itself, so that a domain type can embed Base and gain
// identity without inheriting any substrate behavior.
package entity

import (
	"time"

	"github.com/google/uuid"
)

// ID is the identity type used throughout the substrate for ecs_id,
// live_id, and lineage_id.
type ID = uuid.UUID

// NilID is the zero-value ID, used to mean "no predecessor" / "not yet set".
var NilID = uuid.Nil

// NewID generates a fresh random identifier.
func NewID() ID {
	return uuid.New()
}

// Entity is implemented by any type that embeds Base (by value), via the
// promoted Identity method. It is the minimal surface every substrate
// package depends on: enough to read and mutate the identity envelope of a
// concrete domain struct without knowing its shape.
type Entity interface {
	Identity() *Base
}

// AttributeSource records, per field, where the value currently stored in
// that field was borrowed from. A nil entry means the field was set
// directly rather than borrowed.
type AttributeSource map[string]*Provenance

// Provenance is a tagged union over the three shapes a borrowed value can
// take: a scalar field, a container field (list/tuple/set), or a map field.
// Only one of Single / List / Map is populated, mirroring which shape the
// field has.
type Provenance struct {
	// Single holds the source id for a scalar field. Nil if this field was
	// set directly (not borrowed).
	Single *SourceRef

	// List holds one source per element, in element order, for a
	// list/tuple/set-shaped field. A nil element means that position was
	// set directly.
	List []*SourceRef

	// Map holds one source per key, for a map-shaped field.
	Map map[string]*SourceRef
}

// SourceRef names the entity and field an attribute value was borrowed
// from.
type SourceRef struct {
	ECSID ID
	Field string
	// Index is set when the source value came from a container element
	// (list/tuple/set index or map key), and empty otherwise.
	Index string
}

// SourceOne builds a Provenance for a scalar borrowed field.
func SourceOne(ref SourceRef) *Provenance {
	return &Provenance{Single: &ref}
}

// SourceAt builds a Provenance for one element of a list/tuple/set-shaped
// field, leaving the other elements unset.
func SourceAt(index int, ref SourceRef) *Provenance {
	list := make([]*SourceRef, index+1)
	list[index] = &ref
	return &Provenance{List: list}
}

// SourceKey builds a Provenance for one key of a map-shaped field, leaving
// the other keys unset.
func SourceKey(key string, ref SourceRef) *Provenance {
	return &Provenance{Map: map[string]*SourceRef{key: &ref}}
}

// Base is the identity envelope every domain entity embeds. It carries no
// behavior; Identity() is the only method, promoted automatically to any
// struct embedding Base by value.
type Base struct {
	// ECSID changes every time the entity's content diverges from the
	// version it was registered or last versioned from. It is the entity's
	// version identity.
	ECSID ID

	// LiveID is stable across versions within a single in-memory session;
	// it identifies "this object" regardless of how many times its content
	// has forked. Mutation tracking keys off LiveID.
	LiveID ID

	// LineageID is stable across the entire history of an entity, from its
	// first registration through every subsequent version and detach. It
	// never changes.
	LineageID ID

	// RootECSID is the ecs_id of the tree root this entity currently
	// belongs to. Equal to ECSID when this entity is itself a root.
	RootECSID ID

	// RootLiveID is the live_id of the tree root this entity currently
	// belongs to.
	RootLiveID ID

	// PreviousECSID is the ecs_id this entity had before its most recent
	// version fork. Nil for an entity that has never been versioned.
	PreviousECSID *ID

	// OldIDs accumulates every ecs_id this entity has ever held, oldest
	// first, across its full version history.
	OldIDs []ID

	// CreatedAt is set once, at first construction, and never changes.
	CreatedAt time.Time

	// ForkedAt is updated every time this entity's ecs_id changes (i.e. on
	// every version fork). Equal to CreatedAt until the first fork.
	ForkedAt time.Time

	// FromStorage is true when this entity was produced by Restore rather
	// than by New or by a function call. It participates in no ownership
	// decisions; it is informational provenance only.
	FromStorage bool

	// AttributeSource records, per field, where the current value of that
	// field was borrowed from. Populated by address.Context's Borrow and
	// BorrowFrom methods.
	AttributeSource AttributeSource

	// UntypedData is a bag for values that did not fit the entity's typed
	// fields at construction time (for instance, extra keys surfaced by a
	// loosely-typed caller). The substrate itself never writes to it.
	UntypedData map[string]any
}

// Identity returns the address of this Base, satisfying Entity for any type
// that embeds Base by value.
func (b *Base) Identity() *Base { return b }

// Init stamps a freshly constructed Base with new identity. Callers embed
// Base in a domain struct and call Init from their own constructor; Init
// does not know about the containing type.
func (b *Base) Init() {
	now := time.Now()
	ecs := NewID()
	b.ECSID = ecs
	b.LiveID = NewID()
	b.LineageID = NewID()
	b.RootECSID = ecs
	b.RootLiveID = b.LiveID
	b.PreviousECSID = nil
	b.OldIDs = nil
	b.CreatedAt = now
	b.ForkedAt = now
	b.FromStorage = false
	b.AttributeSource = make(AttributeSource)
	b.UntypedData = nil
}

// Fork rewrites this Base's version identity in place: the current ECSID is
// pushed onto OldIDs, a new ECSID is minted, PreviousECSID points at the
// superseded id, and ForkedAt advances. LineageID, LiveID, and CreatedAt are
// untouched. Callers are responsible for propagating RootECSID to any
// ancestors whose subtree now diverges.
func (b *Base) Fork() {
	old := b.ECSID
	b.OldIDs = append(b.OldIDs, old)
	b.PreviousECSID = &old
	b.ECSID = NewID()
	b.ForkedAt = time.Now()
}

// New constructs a Base value with fresh identity, for embedding into a
// freshly constructed domain struct.
func New() Base {
	var b Base
	b.Init()
	return b
}

// IdentityOf is a convenience accessor equivalent to e.Identity(), useful
// when e is a value of the Entity interface type rather than a concrete
// pointer.
func IdentityOf(e Entity) *Base {
	if e == nil {
		return nil
	}
	return e.Identity()
}
