package registry

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/entityflow/entityflow/entity"
	"github.com/entityflow/entityflow/eventbus"
)

// removeChildReference clears the field (or container slot) loc names on
// parent, so a rebuilt tree no longer reaches the detached child.
func removeChildReference(parent entity.Entity, loc edgeLocation) error {
	rv := reflect.ValueOf(parent)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	fv := rv.FieldByName(loc.FieldName)
	if !fv.IsValid() {
		return fmt.Errorf("detach: field %q not found on %T", loc.FieldName, parent)
	}

	switch loc.Container {
	case entity.Scalar:
		fv.Set(reflect.Zero(fv.Type()))
	case entity.List, entity.Set:
		idx, err := strconv.Atoi(loc.Index)
		if err != nil || idx < 0 || idx >= fv.Len() {
			return fmt.Errorf("detach: invalid container index %q for field %q", loc.Index, loc.FieldName)
		}
		fv.Set(reflect.AppendSlice(fv.Slice(0, idx), fv.Slice(idx+1, fv.Len())))
	case entity.Tuple:
		idx, err := strconv.Atoi(loc.Index)
		if err != nil || idx < 0 || idx >= fv.Len() {
			return fmt.Errorf("detach: invalid tuple index %q for field %q", loc.Index, loc.FieldName)
		}
		fv.Index(idx).Set(reflect.Zero(fv.Type().Elem()))
	case entity.Map:
		fv.SetMapIndex(reflect.ValueOf(loc.Index), reflect.Value{})
	}
	return nil
}

// assignField sets parent's named field to child, by reflection. The field
// must exist, be exported, and be assignable from child's concrete type
// (either a matching concrete pointer type or the entity.Entity
// interface).
func assignField(parent entity.Entity, field string, child entity.Entity) error {
	rv := reflect.ValueOf(parent)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	fv := rv.FieldByName(field)
	if !fv.IsValid() {
		return fmt.Errorf("attach: field %q not found on %T", field, parent)
	}
	cv := reflect.ValueOf(child)
	if !cv.Type().AssignableTo(fv.Type()) {
		return fmt.Errorf("attach: field %q of type %s cannot hold %T", field, fv.Type(), child)
	}
	fv.Set(cv)
	return nil
}

// VersionIfDiverged rebuilds root_live_id's tree from the live in-memory
// graph and compares its structural hash against the registered version.
// If unchanged, it is a no-op. If diverged, every node whose structural
// hash changed is forked to a fresh ecs_id, the registry's indexes are
// rewritten, and Modified/IDUpdate events are emitted. It returns the
// newly assigned ecs_ids, empty when nothing changed.
func (r *Registry) VersionIfDiverged(rootLiveID entity.ID) ([]entity.ID, error) {
	r.mu.RLock()
	liveRoot, ok := r.liveRoots[rootLiveID]
	oldRootECSID, ok2 := r.rootOfLive[rootLiveID]
	r.mu.RUnlock()
	if !ok || !ok2 {
		return nil, &StaleLiveIdError{LiveID: rootLiveID}
	}
	lineageID := liveRoot.Identity().LineageID

	r.locks.AcquireLineage("", lineageID, WriteLock)
	defer r.locks.ReleaseLineage("", lineageID, WriteLock)

	r.mu.Lock()
	defer r.mu.Unlock()

	oldTree, ok := r.trees[oldRootECSID]
	if !ok {
		return nil, &StaleLiveIdError{LiveID: rootLiveID}
	}

	newIDs, finalTree, diverged, err := r.forkDivergedNodes(lineageID, liveRoot, oldTree)
	if err != nil {
		return nil, err
	}
	if !diverged {
		return nil, nil
	}

	r.deindexTree(oldTree)
	r.indexTree(finalTree, rootLiveID)

	tn := typeName(liveRoot)
	r.bus.Emit(eventbus.New(eventbus.TypeModified, eventbus.WithSubject(tn, finalTree.RootECSID)))
	r.bus.Emit(eventbus.New(eventbus.TypeIDUpdate, eventbus.WithSubject(tn, finalTree.RootECSID),
		eventbus.WithMetadata("changed_count", len(newIDs))))

	return newIDs, nil
}

// forkDivergedNodes rebuilds liveRoot's tree and compares it against oldTree
// (the tree last registered for the same root). Every node whose structural
// hash changed or disappeared is forked to a fresh ecs_id via base.Fork();
// the returned tree is built once more, after forking, so its ecs_ids
// reflect the new versions. diverged is false (and newIDs empty) when
// nothing changed. Callers must hold r.mu and the relevant lineage lock.
func (r *Registry) forkDivergedNodes(lineageID entity.ID, liveRoot entity.Entity, oldTree *entity.BuiltTree) (newIDs []entity.ID, finalTree *entity.BuiltTree, diverged bool, err error) {
	newTree, err := entity.BuildTree(liveRoot, r.isRegisteredRootLocked)
	if err != nil {
		return nil, nil, false, err
	}

	if newTree.StructuralHash == oldTree.StructuralHash {
		return nil, oldTree, false, nil
	}

	var changedOld []entity.ID
	for ecsID, oldHash := range oldTree.NodeHashes {
		newHash, stillPresent := newTree.NodeHashes[ecsID]
		if !stillPresent || newHash != oldHash {
			changedOld = append(changedOld, ecsID)
		}
	}

	newIDs = make([]entity.ID, 0, len(changedOld))
	for _, oldID := range changedOld {
		node := newTree.Nodes[oldID]
		if node == nil {
			continue
		}
		base := node.Identity()
		base.Fork()
		newIDs = append(newIDs, base.ECSID)
		r.recordTransition(base.LineageID, entity.StateVersioned, base.ECSID, "")
	}

	finalTree, err = entity.BuildTree(liveRoot, r.isRegisteredRootLocked)
	if err != nil {
		return nil, nil, false, err
	}
	return newIDs, finalTree, true, nil
}

// deindexTree removes a previously-registered tree's entries from the tree,
// ecs_id, parent-field and type indexes. Its live_id entries stay until an
// indexTree call overwrites them, and its lineage entries are kept as
// history. Callers must hold r.mu and are expected to call indexTree
// immediately afterward with the tree's replacement.
func (r *Registry) deindexTree(tree *entity.BuiltTree) {
	delete(r.trees, tree.RootECSID)
	for id := range tree.Nodes {
		delete(r.ecsIndex, id)
		delete(r.parentFieldOf, id)
	}
	if root, ok := tree.Nodes[tree.RootECSID]; ok {
		tn := typeName(root)
		if set := r.typeIndex[tn]; set != nil {
			delete(set, tree.RootECSID)
		}
	}
}

// Detach severs subtreeECSID's hierarchical edge from its parent and
// registers it as an independent root. Its lineage_id is preserved; a
// Detached event is emitted.
func (r *Registry) Detach(subtreeECSID entity.ID) (*entity.BuiltTree, error) {
	r.locks.AcquireStructural("", WriteLock)
	defer r.locks.ReleaseStructural("", WriteLock)

	r.mu.Lock()
	defer r.mu.Unlock()

	loc, ok := r.parentFieldOf[subtreeECSID]
	if !ok {
		return nil, &DetachNonHierarchicalError{ECSID: subtreeECSID}
	}

	parentRootECSID, ok := r.ecsIndex[loc.ParentECSID]
	if !ok {
		return nil, &NotFoundError{Kind: "ecs_id", ID: loc.ParentECSID}
	}
	parentTree, ok := r.trees[parentRootECSID]
	if !ok {
		return nil, &NotFoundError{Kind: "ecs_id", ID: parentRootECSID}
	}
	childNode, ok := parentTree.Nodes[subtreeECSID]
	if !ok {
		return nil, &NotFoundError{Kind: "ecs_id", ID: subtreeECSID}
	}

	delete(r.parentFieldOf, subtreeECSID)

	if err := removeChildReference(parentTree.Nodes[loc.ParentECSID], loc); err != nil {
		return nil, err
	}

	parentLiveID := findLiveIDForRoot(r, parentRootECSID, parentTree)
	parentLineage := parentTree.Nodes[parentRootECSID].Identity().LineageID
	_, rebuiltParent, _, err := r.forkDivergedNodes(parentLineage, parentTree.Nodes[parentRootECSID], parentTree)
	if err != nil {
		return nil, err
	}

	r.deindexTree(parentTree)
	r.indexTree(rebuiltParent, parentLiveID)

	childTree, err := entity.BuildTree(childNode, r.isRegisteredRootLocked)
	if err != nil {
		return nil, err
	}
	r.indexTree(childTree, childNode.Identity().LiveID)

	base := childNode.Identity()
	r.recordTransition(base.LineageID, entity.StateDetached, base.ECSID, "")
	r.bus.Emit(eventbus.New(eventbus.TypeDetached, eventbus.WithSubject(typeName(childNode), base.ECSID)))

	return childTree, nil
}

// findLiveIDForRoot recovers the root_live_id a now-deindexed tree was
// registered under, so Detach can re-index the parent's rebuilt tree under
// the same live handle.
func findLiveIDForRoot(r *Registry, rootECSID entity.ID, tree *entity.BuiltTree) entity.ID {
	for liveID, ecsID := range r.rootOfLive {
		if ecsID == rootECSID {
			return liveID
		}
	}
	return tree.Nodes[rootECSID].Identity().LiveID
}

// Attach moves subtreeECSID, currently a registered root, into parentECSID's
// tree as a hierarchical child hung off field. The subtree's root ceases to
// be independently registered; an Attached event is emitted.
func (r *Registry) Attach(subtreeECSID, parentECSID entity.ID, field string) error {
	r.locks.AcquireStructural("", WriteLock)
	defer r.locks.ReleaseStructural("", WriteLock)

	r.mu.Lock()
	defer r.mu.Unlock()

	if root, ok := r.ecsIndex[subtreeECSID]; !ok || root != subtreeECSID {
		return &NotFoundError{Kind: "ecs_id", ID: subtreeECSID}
	}
	parentRootECSID, ok := r.ecsIndex[parentECSID]
	if !ok {
		return &NotFoundError{Kind: "ecs_id", ID: parentECSID}
	}
	parentTree, ok := r.trees[parentRootECSID]
	if !ok {
		return &NotFoundError{Kind: "ecs_id", ID: parentRootECSID}
	}
	parentNode, ok := parentTree.Nodes[parentECSID]
	if !ok {
		return &NotFoundError{Kind: "ecs_id", ID: parentECSID}
	}

	subtreeTree := r.trees[subtreeECSID]
	childNode := subtreeTree.Nodes[subtreeECSID]

	if err := assignField(parentNode, field, childNode); err != nil {
		return err
	}

	parentLiveID := findLiveIDForRoot(r, parentRootECSID, parentTree)
	parentLineage := parentTree.Nodes[parentRootECSID].Identity().LineageID

	// subtreeTree must be deindexed before rebuilding parent's tree, or the
	// newly assigned field would still see subtreeECSID as a registered
	// root and classify the new edge as a reference instead of hierarchical.
	r.deindexTree(subtreeTree)

	_, rebuiltParent, _, err := r.forkDivergedNodes(parentLineage, parentTree.Nodes[parentRootECSID], parentTree)
	if err != nil {
		return err
	}

	r.deindexTree(parentTree)
	r.indexTree(rebuiltParent, parentLiveID)

	base := childNode.Identity()
	r.recordTransition(base.LineageID, entity.StatePromotedRoot, base.ECSID, "attach:"+field)
	r.bus.Emit(eventbus.New(eventbus.TypeAttached, eventbus.WithSubject(typeName(childNode), base.ECSID)))

	return nil
}
