package executor

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/entityflow/entityflow/entity"
)

var entityIfaceType = reflect.TypeOf((*entity.Entity)(nil)).Elem()

// classifyReturnType derives a ReturnPattern from a function's declared
// return type, at Register time (Registration.DeclaredOutput). The pattern
// recorded for each call is derived afresh by unpack from the actual return
// value; the declared pattern is used only when that value is invalid.
func classifyReturnType(t reflect.Type) entity.ReturnPattern {
	if isEntityType(t) {
		return entity.PatternSingleEntity
	}
	switch t.Kind() {
	case reflect.Array:
		if isEntityType(t.Elem()) {
			return entity.PatternTuple
		}
		return entity.PatternWrappedScalar
	case reflect.Slice:
		if isEntityType(t.Elem()) {
			return entity.PatternList
		}
		return entity.PatternWrappedScalar
	case reflect.Map:
		if isEntityType(t.Elem()) {
			return entity.PatternMap
		}
		return entity.PatternWrappedScalar
	case reflect.Struct:
		if containsEntityField(t) {
			return entity.PatternNested
		}
		return entity.PatternWrappedScalar
	default:
		return entity.PatternWrappedScalar
	}
}

func isEntityType(t reflect.Type) bool {
	return t.Implements(entityIfaceType)
}

func containsEntityField(t reflect.Type) bool {
	for i := 0; i < t.NumField(); i++ {
		ft := t.Field(i).Type
		if isEntityType(ft) {
			return true
		}
		if ft.Kind() == reflect.Struct && containsEntityField(ft) {
			return true
		}
	}
	return false
}

// output is one unpacked return value: the entity it resolved to (wrapping
// a plain scalar when the declared/actual pattern is B7), its position
// within the original return shape (tuple index, list index, map key, or a
// dotted path for B6).
type output struct {
	entity   entity.Entity
	position string
}

// unpack classifies v (the actual return value) against declared, refining
// the pattern as needed, and unpacks every Entity found within it into a
// flat, position-tagged list plus the refined pattern.
func unpack(v reflect.Value, declared entity.ReturnPattern) ([]output, entity.ReturnPattern, error) {
	v = derefValue(v)
	if !v.IsValid() {
		return nil, declared, nil
	}

	if e, ok := asEntity(v); ok {
		return []output{{entity: e, position: ""}}, entity.PatternSingleEntity, nil
	}

	switch v.Kind() {
	case reflect.Array:
		return unpackIndexed(v, entity.PatternTuple)
	case reflect.Slice:
		return unpackIndexed(v, entity.PatternList)
	case reflect.Map:
		return unpackMap(v)
	case reflect.Struct:
		return unpackStruct(v)
	default:
		return []output{{entity: wrapScalar(v.Interface()), position: ""}}, entity.PatternWrappedScalar, nil
	}
}

func unpackIndexed(v reflect.Value, containerPattern entity.ReturnPattern) ([]output, entity.ReturnPattern, error) {
	var outs []output
	mixed, nested := false, false
	for i := 0; i < v.Len(); i++ {
		ev := derefValue(v.Index(i))
		if e, ok := asEntity(ev); ok {
			outs = append(outs, output{entity: e, position: itoa(i)})
			continue
		}
		if ev.Kind() == reflect.Struct && containsEntityField(ev.Type()) {
			nested = true
			nestedOuts, _, err := unpackStruct(ev)
			if err != nil {
				return nil, "", err
			}
			for _, no := range nestedOuts {
				outs = append(outs, output{entity: no.entity, position: itoa(i) + "." + no.position})
			}
			continue
		}
		mixed = true
	}
	switch {
	case nested:
		return outs, entity.PatternNested, nil
	case mixed:
		return outs, entity.PatternMixed, nil
	default:
		return outs, containerPattern, nil
	}
}

func unpackMap(v reflect.Value) ([]output, entity.ReturnPattern, error) {
	var outs []output
	mixed, nested := false, false
	for _, k := range v.MapKeys() {
		ev := derefValue(v.MapIndex(k))
		key := formatMapKeyValue(k)
		if e, ok := asEntity(ev); ok {
			outs = append(outs, output{entity: e, position: key})
			continue
		}
		if ev.Kind() == reflect.Struct && containsEntityField(ev.Type()) {
			nested = true
			nestedOuts, _, err := unpackStruct(ev)
			if err != nil {
				return nil, "", err
			}
			for _, no := range nestedOuts {
				outs = append(outs, output{entity: no.entity, position: key + "." + no.position})
			}
			continue
		}
		mixed = true
	}
	switch {
	case nested:
		return outs, entity.PatternNested, nil
	case mixed:
		return outs, entity.PatternMixed, nil
	default:
		return outs, entity.PatternMap, nil
	}
}

func unpackStruct(v reflect.Value) ([]output, entity.ReturnPattern, error) {
	var outs []output
	for i := 0; i < v.NumField(); i++ {
		sf := v.Type().Field(i)
		if !sf.IsExported() {
			continue
		}
		fv := derefValue(v.Field(i))
		if !fv.IsValid() {
			continue
		}
		if e, ok := asEntity(fv); ok {
			outs = append(outs, output{entity: e, position: sf.Name})
			continue
		}
		if fv.Kind() == reflect.Struct && containsEntityField(fv.Type()) {
			nestedOuts, _, err := unpackStruct(fv)
			if err != nil {
				return nil, "", err
			}
			for _, no := range nestedOuts {
				outs = append(outs, output{entity: no.entity, position: sf.Name + "." + no.position})
			}
		}
	}
	return outs, entity.PatternNested, nil
}

func derefValue(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return v
		}
		if v.Kind() == reflect.Ptr && v.Type().Implements(entityIfaceType) {
			return v
		}
		v = v.Elem()
	}
	return v
}

func asEntity(v reflect.Value) (entity.Entity, bool) {
	if !v.IsValid() {
		return nil, false
	}
	if (v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface) && v.IsNil() {
		return nil, false
	}
	e, ok := v.Interface().(entity.Entity)
	if !ok || e == nil {
		return nil, false
	}
	return e, true
}

func formatMapKeyValue(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	return fmt.Sprintf("%v", k.Interface())
}

func itoa(i int) string { return strconv.Itoa(i) }
