// Package registry is the substrate's authoritative in-memory store: the
// single place that knows which entities are currently tree roots, what
// every entity's current version looks like, and how each lineage has
// evolved over time.
package registry

import (
	"reflect"
	"sync"
	"time"

	"github.com/entityflow/entityflow/entity"
	"github.com/entityflow/entityflow/eventbus"
)

// liveEntry is one row of the live_id index: which root and which current
// ecs_id a live in-memory node currently belongs to.
type liveEntry struct {
	RootECSID entity.ID
	ECSID     entity.ID
}

// Registry maintains the indexes described in spec.md §4.B: trees,
// live_index, ecs_index, lineage_index, and type_index, plus the lifecycle
// transition ledger (§3 [EXPANDED]) and a lock manager (§4.B [EXPANDED]).
type Registry struct {
	locks *lockManager
	bus   *eventbus.Bus

	mu sync.RWMutex // guards every map below; AcquireStructural additionally
	// serializes registration/detach/attach against each other at a
	// coarser grain than Go's map-safety requires, matching spec.md's
	// single-writer contract.

	trees     map[entity.ID]*entity.BuiltTree // root_ecs_id -> current tree
	liveRoots map[entity.ID]entity.Entity      // root_live_id -> live root object
	rootOfLive map[entity.ID]entity.ID         // root_live_id -> current root_ecs_id

	liveIndex    map[entity.ID]liveEntry    // live_id -> (root_ecs_id, ecs_id), every node
	ecsIndex     map[entity.ID]entity.ID    // ecs_id -> root_ecs_id, current versions only
	lineageIndex map[entity.ID][]entity.ID  // lineage_id -> ordered ecs_ids ever assigned
	typeIndex    map[string]map[entity.ID]bool // type name -> set of root_ecs_id

	history map[entity.ID][]entity.LifecycleTransition // lineage_id -> transitions

	parentFieldOf map[entity.ID]edgeLocation // ecs_id (hierarchical child) -> where it hangs
}

// edgeLocation names the parent and field a hierarchical child currently
// hangs from, so Detach can sever exactly that edge.
type edgeLocation struct {
	ParentECSID entity.ID
	FieldName   string
	Index       string
	Container   entity.ContainerKind
}

// New constructs an empty Registry backed by bus for lifecycle event
// emission. Passing nil uses eventbus.Default().
func New(bus *eventbus.Bus) *Registry {
	if bus == nil {
		bus = eventbus.Default()
	}
	return &Registry{
		locks:         newLockManager(),
		bus:           bus,
		trees:         make(map[entity.ID]*entity.BuiltTree),
		liveRoots:     make(map[entity.ID]entity.Entity),
		rootOfLive:    make(map[entity.ID]entity.ID),
		liveIndex:     make(map[entity.ID]liveEntry),
		ecsIndex:      make(map[entity.ID]entity.ID),
		lineageIndex:  make(map[entity.ID][]entity.ID),
		typeIndex:     make(map[string]map[entity.ID]bool),
		history:       make(map[entity.ID][]entity.LifecycleTransition),
		parentFieldOf: make(map[entity.ID]edgeLocation),
	}
}

var defaultRegistry = New(nil)

// Default returns the package-level Registry instance (spec.md §9: the
// registry is an instantiable context with a package-level Default for
// convenience).
func Default() *Registry { return defaultRegistry }

// LockStats exposes the lock manager's acquisition and wait-time counters.
func (r *Registry) LockStats() LockStats { return r.locks.Stats() }

// History returns the append-only lifecycle transition ledger for a
// lineage, oldest first.
func (r *Registry) History(lineageID entity.ID) []entity.LifecycleTransition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]entity.LifecycleTransition{}, r.history[lineageID]...)
}

func (r *Registry) recordTransition(lineageID entity.ID, state entity.LifecycleState, ecsID entity.ID, detail string) {
	r.history[lineageID] = append(r.history[lineageID], entity.LifecycleTransition{
		State:  state,
		ECSID:  ecsID,
		At:     time.Now(),
		Detail: detail,
	})
}

// isRegisteredRoot reports whether id is currently the ecs_id of some
// registered tree's root. Used by entity.BuildTree to classify edges.
func (r *Registry) isRegisteredRoot(id entity.ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	root, ok := r.ecsIndex[id]
	return ok && root == id
}

func typeName(e entity.Entity) string {
	t := reflect.TypeOf(e)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// RegisterRoot builds root's tree, asserts it is not already registered,
// populates every index, records the Created/PromotedToRoot transitions,
// and emits a Created event.
func (r *Registry) RegisterRoot(root entity.Entity) (*entity.BuiltTree, error) {
	base := root.Identity()

	r.locks.AcquireStructural("", WriteLock)
	defer r.locks.ReleaseStructural("", WriteLock)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ecsIndex[base.ECSID]; exists {
		return nil, &AlreadyRegisteredError{ECSID: base.ECSID}
	}

	tree, err := entity.BuildTree(root, r.isRegisteredRootLocked)
	if err != nil {
		return nil, err
	}

	r.indexTree(tree, base.LiveID)

	r.recordTransition(base.LineageID, entity.StateCreated, base.ECSID, "")
	r.recordTransition(base.LineageID, entity.StatePromotedRoot, base.ECSID, "")

	r.bus.Emit(eventbus.New(eventbus.TypeCreated, eventbus.WithSubject(typeName(root), base.ECSID)))

	return tree, nil
}

// IsRegisteredRoot reports whether id is currently the ecs_id of some
// registered tree's root. Exposed for callers outside this package (the
// executor's isolation step) that need to run entity.BuildTree themselves,
// independent of the registry's own write path.
func (r *Registry) IsRegisteredRoot(id entity.ID) bool {
	return r.isRegisteredRoot(id)
}

// isRegisteredRootLocked is isRegisteredRoot without re-acquiring mu; only
// safe to call while r.mu is already held.
func (r *Registry) isRegisteredRootLocked(id entity.ID) bool {
	root, ok := r.ecsIndex[id]
	return ok && root == id
}

// indexTree records every node of tree into the index maps, stamps each
// node's RootECSID/RootLiveID with the tree's root, and tracks
// parent-field location for hierarchical children, for later Detach calls.
// Callers must hold r.mu.
func (r *Registry) indexTree(tree *entity.BuiltTree, rootLiveID entity.ID) {
	rootECSID := tree.RootECSID
	r.trees[rootECSID] = tree
	r.liveRoots[rootLiveID] = tree.Nodes[rootECSID]
	r.rootOfLive[rootLiveID] = rootECSID

	for id, node := range tree.Nodes {
		base := node.Identity()
		base.RootECSID = rootECSID
		base.RootLiveID = rootLiveID
		r.liveIndex[base.LiveID] = liveEntry{RootECSID: rootECSID, ECSID: id}
		r.ecsIndex[id] = rootECSID
		r.appendLineage(base.LineageID, id)
	}

	tn := typeName(tree.Nodes[rootECSID])
	if r.typeIndex[tn] == nil {
		r.typeIndex[tn] = make(map[entity.ID]bool)
	}
	r.typeIndex[tn][rootECSID] = true

	for _, e := range tree.Edges {
		if e.Ownership == entity.Hierarchical {
			r.parentFieldOf[e.ChildECSID] = edgeLocation{
				ParentECSID: e.ParentECSID,
				FieldName:   e.FieldName,
				Index:       e.Index,
				Container:   e.Container,
			}
		}
	}
}

func (r *Registry) appendLineage(lineageID, ecsID entity.ID) {
	list := r.lineageIndex[lineageID]
	for _, existing := range list {
		if existing == ecsID {
			return
		}
	}
	r.lineageIndex[lineageID] = append(list, ecsID)
}

// Get looks up an entity by its current ecs_id.
func (r *Registry) Get(ecsID entity.ID) (entity.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rootECSID, ok := r.ecsIndex[ecsID]
	if !ok {
		return nil, &NotFoundError{Kind: "ecs_id", ID: ecsID}
	}
	tree, ok := r.trees[rootECSID]
	if !ok {
		return nil, &NotFoundError{Kind: "ecs_id", ID: ecsID}
	}
	node, ok := tree.Nodes[ecsID]
	if !ok {
		return nil, &NotFoundError{Kind: "ecs_id", ID: ecsID}
	}
	return node, nil
}

// GetByLiveID looks up an entity by its live_id.
func (r *Registry) GetByLiveID(liveID entity.ID) (entity.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.liveIndex[liveID]
	if !ok {
		return nil, &NotFoundError{Kind: "live_id", ID: liveID}
	}
	tree, ok := r.trees[entry.RootECSID]
	if !ok {
		return nil, &NotFoundError{Kind: "live_id", ID: liveID}
	}
	node, ok := tree.Nodes[entry.ECSID]
	if !ok {
		return nil, &NotFoundError{Kind: "live_id", ID: liveID}
	}
	return node, nil
}

// ByType returns the current root ecs_ids of every registered tree whose
// root's concrete type has the given name.
func (r *Registry) ByType(name string) []entity.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.typeIndex[name]
	out := make([]entity.ID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// ByLineage returns every ecs_id a lineage has ever held, oldest first.
func (r *Registry) ByLineage(lineageID entity.ID) []entity.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]entity.ID{}, r.lineageIndex[lineageID]...)
}
