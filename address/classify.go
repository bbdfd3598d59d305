package address

import (
	"reflect"

	"github.com/entityflow/entityflow/entity"
)

// Pattern labels how one call-site argument was supplied, per spec.md §4.C.
type Pattern int

const (
	// PatternEntity is a live Entity, typed to a declared Entity parameter.
	PatternEntity Pattern = iota
	// PatternAddress is a string matching the address grammar whose
	// resolved value type matches the declared parameter type.
	PatternAddress
	// PatternLiteral is a plain value conforming to the declared parameter
	// type.
	PatternLiteral
	// PatternConfigPrimitive is a primitive consumed by a declared
	// top-level ConfigEntity parameter.
	PatternConfigPrimitive
)

func (p Pattern) String() string {
	switch p {
	case PatternEntity:
		return "entity"
	case PatternAddress:
		return "address"
	case PatternLiteral:
		return "literal"
	case PatternConfigPrimitive:
		return "config_primitive"
	default:
		return "unknown"
	}
}

// Classified is one kwarg's classification result: its pattern, and its
// resolved value (the argument itself for entity/literal, the value an
// address resolved to for address, the raw primitive for config_primitive).
type Classified struct {
	Pattern  Pattern
	Value    any
	SourceID entity.ID // populated only for PatternAddress
}

// ParamSpec names one declared parameter the classifier checks kwargs
// against: its Go type, and whether it is a top-level ConfigEntity
// parameter (config_primitive classification only ever applies to these).
type ParamSpec struct {
	Name          string
	Type          reflect.Type
	IsConfigEntity bool
	Required      bool
}

// Classify labels every kwarg in kwargs against params, resolving any
// address-shaped string value through r. Extra kwargs not named in params
// produce UnknownParameterError; required params missing from kwargs
// produce MissingRequiredError.
func Classify(r Resolver, params []ParamSpec, kwargs map[string]any) (map[string]Classified, error) {
	byName := make(map[string]ParamSpec, len(params))
	for _, p := range params {
		byName[p.Name] = p
	}

	for name := range kwargs {
		if _, ok := byName[name]; !ok {
			return nil, &UnknownParameterError{Name: name}
		}
	}

	out := make(map[string]Classified, len(params))
	for _, p := range params {
		raw, supplied := kwargs[p.Name]
		if !supplied {
			if p.Required {
				return nil, &MissingRequiredError{Name: p.Name}
			}
			continue
		}

		c, err := classifyOne(r, p, raw)
		if err != nil {
			return nil, err
		}
		out[p.Name] = c
	}
	return out, nil
}

func classifyOne(r Resolver, p ParamSpec, raw any) (Classified, error) {
	if e, ok := raw.(entity.Entity); ok {
		if !entityAssignable(p.Type) {
			return Classified{}, &InputTypeMismatchError{Name: p.Name, Declared: p.Type.String(), Got: "entity"}
		}
		return Classified{Pattern: PatternEntity, Value: e}, nil
	}

	if s, ok := raw.(string); ok && LooksLikeAddress(s) {
		val, sourceID, err := Resolve(r, s)
		if err != nil {
			return Classified{}, err
		}
		if !conforms(val, p.Type) {
			return Classified{}, &AddressTypeError{Raw: s, Segment: s, Reason: "resolved value does not match declared parameter type"}
		}
		return Classified{Pattern: PatternAddress, Value: val, SourceID: sourceID}, nil
	}

	if p.IsConfigEntity {
		return Classified{Pattern: PatternConfigPrimitive, Value: raw}, nil
	}

	if !conforms(raw, p.Type) {
		return Classified{}, &InputTypeMismatchError{Name: p.Name, Declared: p.Type.String(), Got: reflect.TypeOf(raw).String()}
	}
	return Classified{Pattern: PatternLiteral, Value: raw}, nil
}

var entityIfaceType = reflect.TypeOf((*entity.Entity)(nil)).Elem()

func entityAssignable(t reflect.Type) bool {
	return t != nil && (t == entityIfaceType || t.Implements(entityIfaceType))
}

func conforms(val any, declared reflect.Type) bool {
	if declared == nil {
		return true
	}
	if val == nil {
		return declared.Kind() == reflect.Ptr || declared.Kind() == reflect.Interface || declared.Kind() == reflect.Slice || declared.Kind() == reflect.Map
	}
	t := reflect.TypeOf(val)
	return t.AssignableTo(declared) || t.ConvertibleTo(declared)
}
