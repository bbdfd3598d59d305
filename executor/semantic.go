package executor

import "github.com/entityflow/entityflow/entity"

// detectSemantic classifies the effect a function's execution had on one
// returned entity, by object identity alone against the combined
// object-identity map of every isolated input (spec.md §4.E.5). Object
// identity here means "live_id this specific copy was minted with during
// isolation", since the user function operates only on copies.
func detectSemantic(r entity.Entity, mapping map[entity.ID]identityMapping) (entity.Semantic, identityMapping, bool) {
	m, found := mapping[r.Identity().LiveID]
	if !found {
		return entity.SemanticCreation, identityMapping{}, false
	}
	if m.isRoot {
		return entity.SemanticMutation, m, true
	}
	return entity.SemanticDetachment, m, true
}
