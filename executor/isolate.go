package executor

import (
	"fmt"
	"reflect"

	"github.com/entityflow/entityflow/entity"
)

// identityMapping records, for a live_id minted during isolation, the
// ecs_id and live_id the copied node had in the registry, and whether the
// node is the isolated input's own root (as opposed to a hierarchical
// sub-entity reached through it). This is the "object-identity map" spec.md
// §4.E.4 requires: the sole oracle semantic detection (§4.E.5) consults.
type identityMapping struct {
	originalECSID  entity.ID
	originalLiveID entity.ID
	isRoot         bool
}

var baseType = reflect.TypeOf(entity.Base{})

// IsolationDepthError reports that an input tree's hierarchical ownership
// ran deeper than the configured guard. The check runs on the copied tree's
// ancestry paths after the deep copy and the tree walk have finished, so it
// rejects the call without cutting either of those steps short.
type IsolationDepthError struct {
	RootECSID entity.ID
	MaxDepth  int
}

func (e *IsolationDepthError) Error() string {
	return fmt.Sprintf("isolate: tree rooted at %s exceeds max isolation depth %d", e.RootECSID, e.MaxDepth)
}

// isolate deep-copies root's entire hierarchically-owned subtree (as
// determined by isRegisteredRoot, exactly as entity.BuildTree would walk
// it) and mints a fresh live_id for every node in the copy, leaving ecs_id
// and lineage_id untouched. It returns the isolated copy and a lookup from
// every minted live_id back to the node it was copied from. maxDepth bounds
// how many levels of hierarchical ownership the tree may reach; a value of
// 0 disables the guard.
func isolate(root entity.Entity, isRegisteredRoot entity.IsRegisteredRootFunc, maxDepth int) (entity.Entity, map[entity.ID]identityMapping, error) {
	copyRoot := entity.CloneEntity(root)

	tree, err := entity.BuildTree(copyRoot, isRegisteredRoot)
	if err != nil {
		return nil, nil, err
	}
	if maxDepth > 0 {
		for _, path := range tree.Ancestry {
			if len(path) > maxDepth {
				return nil, nil, &IsolationDepthError{RootECSID: tree.RootECSID, MaxDepth: maxDepth}
			}
		}
	}

	mapping := make(map[entity.ID]identityMapping, len(tree.Nodes))
	for ecsID, node := range tree.Nodes {
		base := node.Identity()
		oldLive := base.LiveID
		newLive := entity.NewID()
		base.LiveID = newLive
		mapping[newLive] = identityMapping{
			originalECSID:  ecsID,
			originalLiveID: oldLive,
			isRoot:         ecsID == tree.RootECSID,
		}
	}
	return copyRoot, mapping, nil
}

// copyNonIdentityFields writes every exported field of src other than the
// embedded identity envelope onto dst, in place. Used at COMMIT time to
// graft a mutated or detached isolation-copy's content back onto the
// entity object the registry actually has indexed, since the registry's
// own divergence check (registry.VersionIfDiverged / Detach) only ever
// looks at the live object it was given at RegisterRoot, never at a copy.
func copyNonIdentityFields(dst, src entity.Entity) {
	dv := reflect.ValueOf(dst)
	if dv.Kind() == reflect.Ptr {
		dv = dv.Elem()
	}
	sv := reflect.ValueOf(src)
	if sv.Kind() == reflect.Ptr {
		sv = sv.Elem()
	}
	t := dv.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.Anonymous && (sf.Type == baseType || sf.Type == reflect.TypeOf(entity.ConfigBase{})) {
			continue
		}
		if !sf.IsExported() {
			continue
		}
		dv.Field(i).Set(sv.Field(i))
	}
}
