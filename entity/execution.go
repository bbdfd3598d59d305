package entity

import "time"

// ReturnPattern classifies the shape of a registered function's return
// value. The executor derives one from the declared return type at
// registration, and on every call records the one derived from the actual
// returned value.
type ReturnPattern string

const (
	PatternSingleEntity  ReturnPattern = "B1" // single Entity
	PatternTuple         ReturnPattern = "B2" // fixed-arity tuple of Entities
	PatternList          ReturnPattern = "B3" // list of Entities
	PatternMap           ReturnPattern = "B4" // map of Entities
	PatternMixed         ReturnPattern = "B5" // container mixing Entities and non-Entities
	PatternNested        ReturnPattern = "B6" // Entities nested at depth > 1
	PatternWrappedScalar ReturnPattern = "B7" // non-Entity value, wrapped in a generated Entity
)

// Semantic classifies the effect a function's execution had on its inputs,
// determined purely by object identity comparison (§4.E.5), never by
// inspecting field values.
type Semantic string

const (
	SemanticMutation   Semantic = "mutation"
	SemanticCreation   Semantic = "creation"
	SemanticDetachment Semantic = "detachment"
)

// FunctionExecution is the entity subtype the executor writes once per
// call, recording everything needed to audit what ran, on what, and with
// what result. It is registered in the registry like any other entity.
type FunctionExecution struct {
	Base

	FunctionName string

	InputIDs  []ID
	ConfigIDs []ID
	OutputIDs []ID

	// SiblingGroups links the call's outputs as siblings. The executor
	// records one group holding every output id, in unpacking order, and no
	// group when the call produced no output. Invariant 9: every id appearing in any
	// SiblingGroups entry also appears in OutputIDs.
	SiblingGroups [][]ID

	InputPattern  ReturnPattern
	OutputPattern ReturnPattern

	// Semantics holds one entry per output id, naming the effect detected
	// for that output.
	Semantics map[ID]Semantic

	Success   bool
	Error     string

	StartedAt  time.Time
	FinishedAt time.Time
}

// ConfigEntity is implemented by entity subtypes that exist purely to
// bundle primitive configuration passed as a top-level function parameter.
// It carries no methods beyond the embedded Entity surface; the marker
// exists so the executor and classifier can type-switch on it.
type ConfigEntity interface {
	Entity
	IsConfigEntity()
}

// ConfigBase is embedded by domain config types in addition to Base, to
// satisfy ConfigEntity.
type ConfigBase struct {
	Base
}

// IsConfigEntity marks the embedding type as a ConfigEntity.
func (ConfigBase) IsConfigEntity() {}
