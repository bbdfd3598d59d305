package address

import (
	"reflect"
	"strconv"

	"github.com/entityflow/entityflow/entity"
)

// Resolver looks up an entity by its current ecs_id. registry.Registry
// satisfies this structurally, so address never imports registry.
type Resolver interface {
	Get(ecsID entity.ID) (entity.Entity, error)
}

// resolved is the outcome of walking an address's path: the value found at
// the end of it, and the ecs_id of the nearest entity encountered along the
// way (the root entity, or a sub-entity reached partway through the path),
// which is what Borrow records as the value's provenance source.
type resolved struct {
	value    reflect.Value
	sourceID entity.ID
}

// Resolve parses raw and walks it against r, returning the value found (as
// an any — a scalar, a slice/map, or an entity.Entity) and the ecs_id of the
// nearest entity on the path, for provenance recording.
func Resolve(r Resolver, raw string) (any, entity.ID, error) {
	pa, err := parse(raw)
	if err != nil {
		return nil, entity.NilID, err
	}

	root, err := r.Get(pa.ecsID)
	if err != nil {
		return nil, entity.NilID, &UnknownEntityError{ECSID: pa.ecsID}
	}

	res := resolved{value: reflect.ValueOf(root), sourceID: pa.ecsID}
	for _, seg := range pa.segments {
		res, err = step(res, seg, raw)
		if err != nil {
			return nil, entity.NilID, err
		}
	}

	if !res.value.IsValid() {
		return nil, res.sourceID, nil
	}
	return res.value.Interface(), res.sourceID, nil
}

func step(cur resolved, seg segment, raw string) (resolved, error) {
	switch seg.kind {
	case segField:
		return stepField(cur, seg.text, raw)
	default:
		return stepIndex(cur, seg.text, raw)
	}
}

func stepField(cur resolved, field, raw string) (resolved, error) {
	rv := deref(cur.value)
	if rv.Kind() != reflect.Struct {
		return resolved{}, &AddressTypeError{Raw: raw, Segment: "." + field, Reason: "not a struct"}
	}
	fv := rv.FieldByName(field)
	if !fv.IsValid() {
		return resolved{}, &FieldNotFoundError{Field: field}
	}
	return advance(cur.sourceID, fv), nil
}

func stepIndex(cur resolved, key, raw string) (resolved, error) {
	rv := deref(cur.value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(key)
		if err != nil {
			return resolved{}, &AddressTypeError{Raw: raw, Segment: "[" + key + "]", Reason: "not an integer index"}
		}
		if i < 0 || i >= rv.Len() {
			return resolved{}, &IndexOutOfRangeError{Index: key, Len: rv.Len()}
		}
		return advance(cur.sourceID, rv.Index(i)), nil
	case reflect.Map:
		keyType := rv.Type().Key()
		if keyType.Kind() != reflect.String {
			return resolved{}, &AddressTypeError{Raw: raw, Segment: "[" + key + "]", Reason: "map key is not string-keyed"}
		}
		mv := rv.MapIndex(reflect.ValueOf(key).Convert(keyType))
		if !mv.IsValid() {
			return resolved{}, &FieldNotFoundError{Field: key}
		}
		return advance(cur.sourceID, mv), nil
	default:
		return resolved{}, &AddressTypeError{Raw: raw, Segment: "[" + key + "]", Reason: "not indexable"}
	}
}

// advance wraps a newly reached value, updating the provenance source id if
// the value itself is an entity.
func advance(prevSource entity.ID, v reflect.Value) resolved {
	next := resolved{value: v, sourceID: prevSource}
	if e, ok := asEntity(v); ok {
		next.sourceID = e.Identity().ECSID
	}
	return next
}

func deref(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
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
