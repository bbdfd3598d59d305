package entity

import (
	"reflect"
	"sort"
	"strconv"
)

// Ownership classifies an edge discovered while walking an entity's fields.
type Ownership int

const (
	// Hierarchical means the child is owned by this tree: it has no other
	// parent, it is included in the tree's Nodes, and it contributes its
	// full content hash to the parent's structural hash.
	Hierarchical Ownership = iota

	// Reference means the child belongs to some other tree (it is already
	// a registered root) and is linked here only by identity: the edge
	// contributes a hash of the target's ecs_id, not its content, and the
	// walk does not recurse into it.
	Reference
)

func (o Ownership) String() string {
	if o == Reference {
		return "reference"
	}
	return "hierarchical"
}

// ContainerKind classifies the shape of the field an edge was discovered
// through, which governs the ordering rule used when folding multiple
// children into a single structural hash.
type ContainerKind int

const (
	// Scalar fields hold at most one entity directly.
	Scalar ContainerKind = iota
	// List fields are ordered; child hashes fold in element order.
	List
	// Tuple fields are fixed-arity and ordered, like List; expressed in Go
	// as a fixed-size array field.
	Tuple
	// Set fields are unordered; child hashes fold sorted by hash value.
	Set
	// Map fields are unordered; child hashes fold sorted by key.
	Map
)

// EdgeInfo records one edge discovered while walking an entity tree.
type EdgeInfo struct {
	ParentECSID ID
	ChildECSID  ID
	FieldName   string
	// Index is the slice/array index or map key the child was found at.
	// Empty for Scalar fields.
	Index     string
	Ownership Ownership
	Container ContainerKind
}

// BuiltTree is the output of BuildTree: every hierarchical node reachable
// from the root, every edge (hierarchical and reference) discovered, each
// node's path from the root, and the root's structural hash.
type BuiltTree struct {
	RootECSID      ID
	Nodes          map[ID]Entity
	Edges          []EdgeInfo
	Ancestry       map[ID][]ID
	StructuralHash string

	// NodeHashes holds each node's own structural hash, keyed by its
	// ecs_id at the time of this build. Used by the registry to tell
	// which nodes of two builds of the same live graph actually changed.
	NodeHashes map[ID]string
}

// IsRegisteredRootFunc reports whether the given ecs_id is currently
// registered as the root of some tree. BuildTree uses it to decide whether
// a discovered child is owned by this tree (hierarchical) or merely linked
// to another tree (reference).
type IsRegisteredRootFunc func(ID) bool

var entityIfaceType = reflect.TypeOf((*Entity)(nil)).Elem()
var baseType = reflect.TypeOf(Base{})

// embedsIdentity reports whether t is Base itself, or anonymously embeds
// Base at any depth (as ConfigBase does), so the tree walker can skip the
// identity envelope regardless of how many marker types wrap it.
func embedsIdentity(t reflect.Type) bool {
	if t == baseType {
		return true
	}
	if t.Kind() != reflect.Struct {
		return false
	}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.Anonymous && embedsIdentity(sf.Type) {
			return true
		}
	}
	return false
}

// walkState carries the mutable bookkeeping threaded through one BuildTree
// call: the in-progress tree, the owning-parent of every hierarchical child
// seen so far (for incoherent-ownership detection), the current DFS stack
// (for cycle detection), and each finished node's own structural hash (so a
// node reached twice through the same parent is not re-walked).
type walkState struct {
	tree             *BuiltTree
	isRegisteredRoot IsRegisteredRootFunc
	parentOf         map[ID]ID
	visiting         map[ID]bool
	hashes           map[ID]string
}

// BuildTree walks root's fields (and its descendants' fields) to discover
// every hierarchically owned entity reachable from it, classifying each
// discovered edge as hierarchical or reference, and computing a
// deterministic structural hash over the resulting tree.
//
// A child already registered as a root elsewhere is always treated as a
// reference, regardless of how it is reached, which is what allows
// reference edges to cycle freely: the walk never follows them.
func BuildTree(root Entity, isRegisteredRoot IsRegisteredRootFunc) (*BuiltTree, error) {
	if isRegisteredRoot == nil {
		isRegisteredRoot = func(ID) bool { return false }
	}

	t := &BuiltTree{
		Nodes:    make(map[ID]Entity),
		Ancestry: make(map[ID][]ID),
	}
	t.RootECSID = root.Identity().ECSID

	st := &walkState{
		tree:             t,
		isRegisteredRoot: isRegisteredRoot,
		parentOf:         make(map[ID]ID),
		visiting:         make(map[ID]bool),
		hashes:           make(map[ID]string),
	}

	hash, err := st.walkNode(root, nil)
	if err != nil {
		return nil, err
	}
	t.StructuralHash = hash
	t.NodeHashes = st.hashes
	return t, nil
}

func (st *walkState) walkNode(node Entity, path []ID) (string, error) {
	id := node.Identity().ECSID
	nodePath := append(append([]ID{}, path...), id)
	st.tree.Nodes[id] = node
	st.tree.Ancestry[id] = nodePath

	rv := reflect.ValueOf(node)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	rt := rv.Type()

	var fields []fieldHash
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		if sf.Anonymous && embedsIdentity(sf.Type) {
			continue
		}
		if !sf.IsExported() {
			continue
		}
		fv := rv.Field(i)

		fh, err := st.hashField(sf, fv, id, nodePath)
		if err != nil {
			return "", err
		}
		fields = append(fields, fieldHash{name: sf.Name, hash: fh})
	}

	h := hashTypeFields(rt.Name(), fields)
	st.hashes[id] = h
	return h, nil
}

type fieldHash struct {
	name string
	hash string
}

func (st *walkState) hashField(sf reflect.StructField, fv reflect.Value, parentID ID, path []ID) (string, error) {
	if isEntityValue(fv.Type()) {
		return st.hashScalarEdge(sf.Name, fv, parentID, path)
	}

	switch fv.Kind() {
	case reflect.Slice, reflect.Array:
		if isEntityValue(fv.Type().Elem()) {
			kind := List
			if fv.Kind() == reflect.Array {
				kind = Tuple
			} else if sf.Tag.Get("entity") == "set" {
				kind = Set
			}
			return st.hashEntityContainer(sf.Name, kind, fv, parentID, path)
		}
		return canonicalHash(fv), nil
	case reflect.Map:
		if isEntityValue(fv.Type().Elem()) {
			return st.hashEntityMap(sf.Name, fv, parentID, path)
		}
		return canonicalHash(fv), nil
	default:
		return canonicalHash(fv), nil
	}
}

func isEntityValue(t reflect.Type) bool {
	return t.Implements(entityIfaceType)
}

func asEntity(fv reflect.Value) (Entity, bool) {
	if !fv.IsValid() {
		return nil, false
	}
	if (fv.Kind() == reflect.Ptr || fv.Kind() == reflect.Interface) && fv.IsNil() {
		return nil, false
	}
	e, ok := fv.Interface().(Entity)
	if !ok || e == nil {
		return nil, false
	}
	return e, true
}

func (st *walkState) hashScalarEdge(fieldName string, fv reflect.Value, parentID ID, path []ID) (string, error) {
	child, ok := asEntity(fv)
	if !ok {
		return hashBytes([]byte("null")), nil
	}
	return st.linkChild(fieldName, "", Scalar, child, parentID, path)
}

func (st *walkState) hashEntityContainer(fieldName string, kind ContainerKind, fv reflect.Value, parentID ID, path []ID) (string, error) {
	n := fv.Len()
	hashes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		child, ok := asEntity(fv.Index(i))
		var h string
		if ok {
			var err error
			h, err = st.linkChild(fieldName, strconv.Itoa(i), kind, child, parentID, path)
			if err != nil {
				return "", err
			}
		} else {
			h = hashBytes([]byte("null"))
		}
		hashes = append(hashes, h)
	}
	if kind == Set {
		sort.Strings(hashes)
	}
	return hashJoin(hashes), nil
}

func (st *walkState) hashEntityMap(fieldName string, fv reflect.Value, parentID ID, path []ID) (string, error) {
	keys := fv.MapKeys()
	type kv struct {
		key  string
		hash string
	}
	entries := make([]kv, 0, len(keys))
	for _, k := range keys {
		keyStr := formatMapKey(k)
		child, ok := asEntity(fv.MapIndex(k))
		var h string
		if ok {
			var err error
			h, err = st.linkChild(fieldName, keyStr, Map, child, parentID, path)
			if err != nil {
				return "", err
			}
		} else {
			h = hashBytes([]byte("null"))
		}
		entries = append(entries, kv{keyStr, h})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })
	hashes := make([]string, len(entries))
	for i, e := range entries {
		hashes[i] = hashBytes([]byte(e.key + ":" + e.hash))
	}
	return hashJoin(hashes), nil
}

func (st *walkState) linkChild(fieldName, index string, kind ContainerKind, child Entity, parentID ID, path []ID) (string, error) {
	childID := child.Identity().ECSID

	ownership := Hierarchical
	if st.isRegisteredRoot(childID) {
		ownership = Reference
	}

	st.tree.Edges = append(st.tree.Edges, EdgeInfo{
		ParentECSID: parentID,
		ChildECSID:  childID,
		FieldName:   fieldName,
		Index:       index,
		Ownership:   ownership,
		Container:   kind,
	})

	if ownership == Reference {
		return hashBytes([]byte("ref:" + childID.String())), nil
	}

	if existing, ok := st.parentOf[childID]; ok {
		if existing != parentID {
			return "", &IncoherentOwnershipError{ChildECSID: childID, FirstParent: existing, SecondParent: parentID}
		}
		if h, seen := st.hashes[childID]; seen {
			return h, nil
		}
	}
	if st.visiting[childID] {
		return "", &CyclicHierarchyError{ChildECSID: childID, ParentECSID: parentID}
	}

	st.parentOf[childID] = parentID
	st.visiting[childID] = true
	h, err := st.walkNode(child, path)
	delete(st.visiting, childID)
	if err != nil {
		return "", err
	}
	return h, nil
}

func formatMapKey(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	return stringify(k)
}
