package executor

import (
	"reflect"

	"github.com/entityflow/entityflow/address"
	"github.com/entityflow/entityflow/entity"
)

// Strategy names one of the four ways a call's inputs can be wired into a
// user function, selected per call from the classified kwargs (spec.md
// §4.E.3).
type Strategy string

const (
	StrategyPureBorrowing          Strategy = "pure_borrowing"
	StrategySingleEntityDirect     Strategy = "single_entity_direct"
	StrategyMultiEntityComposite   Strategy = "multi_entity_composite"
	StrategySingleEntityWithConfig Strategy = "single_entity_with_config"
)

// ParamSpec is the declared shape of one registered function parameter.
// The classifier (package address) already defines exactly this shape, so
// registration reuses it directly rather than declaring a parallel type.
type ParamSpec = address.ParamSpec

// Registration is what Register caches for one named function: its
// reflected callable, the ordered parameter specs naming its positional
// arguments (Go has no reflectable parameter names, so callers supply
// them), and the return pattern derived from its declared return type.
type Registration struct {
	Name    string
	fn      reflect.Value
	fnType  reflect.Type
	Params  []ParamSpec
	IsAsync bool

	inputSignature string
	DeclaredOutput entity.ReturnPattern
}

// ScalarResult is the wrapper entity a B7 return value (a non-Entity
// scalar or plain record) is boxed into, so every execution still produces
// a registrable Entity. The substrate does not attempt to synthesize a
// distinct wrapper type per function signature — one generic wrapper
// carrying the value by reflection covers every B7 shape without requiring
// runtime type generation.
type ScalarResult struct {
	entity.Base
	Value any
}

func wrapScalar(v any) entity.Entity {
	w := &ScalarResult{Base: entity.New(), Value: v}
	return w
}

// selectStrategy names, for tracing/diagnostics, which of the four input
// wiring shapes a call's classified kwargs matched: a config parameter
// (with any number of entity inputs), more than one entity input, exactly
// one entity input alone, or none at all. buildArgs does not branch on this
// value — every parameter kind is handled uniformly regardless — but the
// classification is useful on its own for logging what shape a call took.
func selectStrategy(reg *Registration, classified map[string]address.Classified) Strategy {
	entityCount := 0
	hasConfig := false
	for _, p := range reg.Params {
		if p.IsConfigEntity {
			hasConfig = true
			continue
		}
		if c, ok := classified[p.Name]; ok {
			if _, isEnt := c.Value.(entity.Entity); isEnt {
				entityCount++
			}
		}
	}
	switch {
	case hasConfig:
		return StrategySingleEntityWithConfig
	case entityCount > 1:
		return StrategyMultiEntityComposite
	case entityCount == 1:
		return StrategySingleEntityDirect
	default:
		return StrategyPureBorrowing
	}
}

// inputSignatureHash builds the cache key Register uses to recognize two
// registrations sharing an identical non-ConfigEntity parameter shape
// (spec.md §4.E.1: "two registrations sharing an input-signature hash
// share the cached input record type").
func inputSignatureHash(params []ParamSpec) string {
	h := ""
	for _, p := range params {
		if p.IsConfigEntity {
			continue
		}
		h += p.Name + ":" + p.Type.String() + ";"
	}
	return h
}
