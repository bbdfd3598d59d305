package executor

import (
	"fmt"
	"reflect"

	"github.com/entityflow/entityflow/address"
	"github.com/entityflow/entityflow/entity"
	"github.com/entityflow/entityflow/registry"
)

// invocationInputs is what buildArgs assembles from one call's classified
// kwargs: the reflect arguments ready to pass to the registered function,
// the original (pre-call) ecs_ids of every entity-typed parameter supplied
// (FunctionExecution.InputIDs), every synthesized/ready ConfigEntity's
// ecs_id (FunctionExecution.ConfigIDs), and the merged object-identity map
// every isolated entity input contributed (spec.md §4.E.4).
type invocationInputs struct {
	args         []reflect.Value
	entityInputs []entity.ID
	configIDs    []entity.ID
	mapping      map[entity.ID]identityMapping
}

// splitConfigArgs pulls out of kwargs any ConfigEntity-typed parameter the
// caller already supplied as a ready-built instance, so address.Classify
// never sees it (it would otherwise reject an Entity-valued kwarg against
// a primitive-typed ParamSpec). Everything else — including ConfigEntity
// parameters the caller supplied as a primitive, which still need
// classification as config_primitive — passes through untouched.
func (eng *Engine) splitConfigArgs(reg *Registration, kwargs map[string]any) (map[string]entity.ConfigEntity, []ParamSpec, map[string]any) {
	ready := make(map[string]entity.ConfigEntity)
	classifyParams := make([]ParamSpec, 0, len(reg.Params))
	classifyKwargs := make(map[string]any, len(kwargs))
	for k, v := range kwargs {
		classifyKwargs[k] = v
	}

	for _, p := range reg.Params {
		if p.IsConfigEntity {
			if v, supplied := kwargs[p.Name]; supplied {
				if ce, ok := v.(entity.ConfigEntity); ok {
					ready[p.Name] = ce
					delete(classifyKwargs, p.Name)
					continue
				}
			}
		}
		classifyParams = append(classifyParams, p)
	}
	return ready, classifyParams, classifyKwargs
}

// buildArgs turns one call's classification result into reflect arguments
// ready for Registration.fn, isolating every entity-typed argument behind
// a private copy along the way (spec.md §4.E.4).
func (eng *Engine) buildArgs(reg *Registration, classified map[string]address.Classified, readyConfigs map[string]entity.ConfigEntity) (*invocationInputs, error) {
	inv := &invocationInputs{
		args:    make([]reflect.Value, len(reg.Params)),
		mapping: make(map[entity.ID]identityMapping),
	}

	for i, p := range reg.Params {
		if p.IsConfigEntity {
			instance, err := eng.resolveConfigParam(reg, i, p, classified, readyConfigs)
			if err != nil {
				return nil, err
			}
			id, err := eng.ensureConfigRegistered(instance)
			if err != nil {
				return nil, err
			}
			inv.configIDs = append(inv.configIDs, id)
			inv.args[i] = reflect.ValueOf(instance)
			continue
		}

		c, supplied := classified[p.Name]
		if !supplied {
			inv.args[i] = reflect.Zero(reg.fnType.In(i))
			continue
		}

		if ent, ok := c.Value.(entity.Entity); ok {
			copyEnt, mapping, err := isolate(ent, eng.registry.IsRegisteredRoot, eng.maxIsolationDepth)
			if err != nil {
				return nil, err
			}
			for live, m := range mapping {
				inv.mapping[live] = m
				if m.isRoot {
					inv.entityInputs = appendUnique(inv.entityInputs, m.originalECSID)
				}
			}
			inv.args[i] = reflect.ValueOf(copyEnt)
			continue
		}

		v := reflect.ValueOf(c.Value)
		if !v.IsValid() {
			v = reflect.Zero(reg.fnType.In(i))
		}
		inv.args[i] = v
	}

	return inv, nil
}

func appendUnique(ids []entity.ID, id entity.ID) []entity.ID {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

// resolveConfigParam produces the ConfigEntity instance to pass for param
// p: the caller's ready-built instance if one was supplied, otherwise a
// freshly synthesized one built from the classified primitive (spec.md
// §4.E.3: "the engine synthesizes a fresh ConfigEntity instance from those
// primitives").
func (eng *Engine) resolveConfigParam(reg *Registration, idx int, p ParamSpec, classified map[string]address.Classified, readyConfigs map[string]entity.ConfigEntity) (entity.Entity, error) {
	if ce, ok := readyConfigs[p.Name]; ok {
		return ce, nil
	}
	c, ok := classified[p.Name]
	if !ok {
		if p.Required {
			return nil, &address.MissingRequiredError{Name: p.Name}
		}
		return nil, &InvalidSignatureError{Name: p.Name, Reason: "no value supplied for optional config parameter"}
	}
	return synthesizeConfig(reg.fnType.In(idx), p, c.Value)
}

// synthesizeConfig constructs a fresh instance of concreteType (the
// registered function's actual declared parameter type for this config
// slot — a pointer to a struct embedding entity.ConfigBase) and sets its
// one exported field matching value's type.
func synthesizeConfig(concreteType reflect.Type, p ParamSpec, value any) (entity.Entity, error) {
	if concreteType.Kind() != reflect.Ptr || concreteType.Elem().Kind() != reflect.Struct {
		return nil, &InvalidSignatureError{Name: p.Name, Reason: "config parameter must be a pointer to a struct implementing entity.ConfigEntity"}
	}
	inst := reflect.New(concreteType.Elem())

	if baseField := inst.Elem().FieldByName("Base"); baseField.IsValid() && baseField.Type() == baseType {
		baseField.Set(reflect.ValueOf(entity.New()))
	}

	set := false
	valType := reflect.TypeOf(value)
	for i := 0; i < inst.Elem().NumField(); i++ {
		sf := inst.Elem().Type().Field(i)
		if sf.Anonymous || !sf.IsExported() {
			continue
		}
		if valType != nil && valType.AssignableTo(sf.Type) {
			inst.Elem().Field(i).Set(reflect.ValueOf(value))
			set = true
			break
		}
	}
	if !set {
		return nil, &InvalidSignatureError{Name: p.Name, Reason: "no field on config type matches the supplied primitive's type"}
	}

	ce, ok := inst.Interface().(entity.Entity)
	if !ok {
		return nil, &InvalidSignatureError{Name: p.Name, Reason: "config type does not implement entity.Entity"}
	}
	return ce, nil
}

func (eng *Engine) ensureConfigRegistered(ce entity.Entity) (entity.ID, error) {
	if _, err := eng.registry.RegisterRoot(ce); err != nil {
		if _, already := err.(*registry.AlreadyRegisteredError); already {
			return ce.Identity().ECSID, nil
		}
		return entity.NilID, err
	}
	return ce.Identity().ECSID, nil
}

// invoke calls reg.fn with args, converting a user-function panic into an
// error rather than propagating it, consistent with spec.md §4.E.9's
// "any exception thrown by a user function" error semantics.
func (eng *Engine) invoke(reg *Registration, args []reflect.Value) (result reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	results := reg.fn.Call(args)
	result = results[0]
	if errVal := results[1]; !errVal.IsNil() {
		err = errVal.Interface().(error)
	}
	return result, err
}

// commitOutputs applies the per-semantic post-execution action (spec.md
// §4.E.6) to every unpacked output, in unpacking order, and returns the
// committed entities plus the sibling group FunctionExecution records.
//
// Outputs that are mutations/detachments of the same original tree are
// committed one at a time, in unpack order; an earlier output's fork can
// supersede the ecs_id a later output in the same call was mapped against
// if both belong to the same tree. Detaching several children of one tree
// (as TestExecuteListReturnPattern does) is not affected: a detach forks
// only the parent chain, so the other children keep their mapped ecs_ids.
func (eng *Engine) commitOutputs(outs []output, mapping map[entity.ID]identityMapping, fe *entity.FunctionExecution) ([]entity.Entity, []entity.ID, error) {
	committed := make([]entity.Entity, 0, len(outs))
	sibling := make([]entity.ID, 0, len(outs))

	for _, o := range outs {
		semantic, m, found := detectSemantic(o.entity, mapping)
		_ = found

		var committedEntity entity.Entity
		switch semantic {
		case entity.SemanticMutation:
			original, err := eng.registry.Get(m.originalECSID)
			if err != nil {
				return nil, nil, err
			}
			copyNonIdentityFields(original, o.entity)
			if _, err := eng.registry.VersionIfDiverged(original.Identity().RootLiveID); err != nil {
				return nil, nil, err
			}
			committedEntity = original

		case entity.SemanticDetachment:
			original, err := eng.registry.Get(m.originalECSID)
			if err != nil {
				return nil, nil, err
			}
			copyNonIdentityFields(original, o.entity)
			if _, err := eng.registry.Detach(m.originalECSID); err != nil {
				return nil, nil, err
			}
			committedEntity = original

		default: // creation
			if _, err := eng.registry.RegisterRoot(o.entity); err != nil {
				return nil, nil, err
			}
			committedEntity = o.entity
		}

		fe.Semantics[committedEntity.Identity().ECSID] = semantic
		committed = append(committed, committedEntity)
		sibling = append(sibling, committedEntity.Identity().ECSID)
	}

	return committed, sibling, nil
}
