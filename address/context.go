package address

import (
	"fmt"
	"reflect"

	"github.com/entityflow/entityflow/entity"
)

// Context is the per-call resolution surface: it pairs a Resolver with the
// borrow/provenance bookkeeping spec.md §6's Address API and Entity API
// describe (`get`, `borrow_from`, the address form of `borrow`).
type Context struct {
	resolver Resolver
}

// NewContext builds a Context backed by r.
func NewContext(r Resolver) *Context {
	return &Context{resolver: r}
}

// Get resolves raw against c's resolver and returns the value found: a
// scalar, a slice/map, or an entity.Entity, depending on what the address
// names.
func (c *Context) Get(raw string) (any, error) {
	val, _, err := Resolve(c.resolver, raw)
	return val, err
}

// Borrow resolves raw, assigns the result into dest.destField, and records
// dest's provenance for that field as having come from the nearest entity
// on the address's path. Container fields receive per-element provenance:
// every element of the borrowed value is attributed to the same source,
// since they all arrived through the one address.
func (c *Context) Borrow(dest entity.Entity, destField, raw string) error {
	val, sourceID, err := Resolve(c.resolver, raw)
	if err != nil {
		return err
	}
	// Resolve has already parsed raw successfully; its last field segment is
	// the source field, and any index after it the source element.
	pa, _ := parse(raw)
	field, index := "", ""
	for _, seg := range pa.segments {
		if seg.kind == segField {
			field, index = seg.text, ""
		} else {
			index = seg.text
		}
	}
	return assign(dest, destField, val, SourceRefFor(sourceID, field, index))
}

// BorrowFrom reads source.sourceField directly (no address string involved)
// and assigns it into dest.destField, recording source's ecs_id as the
// provenance. This is the Entity API's `entity.borrow_from` form.
func (c *Context) BorrowFrom(dest entity.Entity, destField string, source entity.Entity, sourceField string) error {
	rv := deref(reflect.ValueOf(source))
	if rv.Kind() != reflect.Struct {
		return &AddressTypeError{Raw: sourceField, Segment: sourceField, Reason: "source is not a struct"}
	}
	fv := rv.FieldByName(sourceField)
	if !fv.IsValid() {
		return &FieldNotFoundError{Field: sourceField}
	}
	return assign(dest, destField, fv.Interface(), SourceRefFor(source.Identity().ECSID, sourceField, ""))
}

// SourceRefFor builds the entity.SourceRef a Borrow/BorrowFrom call
// attributes a destination field to.
func SourceRefFor(ecsID entity.ID, field, index string) entity.SourceRef {
	return entity.SourceRef{ECSID: ecsID, Field: field, Index: index}
}

// assign sets dest.destField to val by reflection and records provenance on
// dest's AttributeSource, choosing a scalar, list, or map Provenance shape
// to match destField's actual kind.
func assign(dest entity.Entity, destField string, val any, ref entity.SourceRef) error {
	rv := reflect.ValueOf(dest)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	fv := rv.FieldByName(destField)
	if !fv.IsValid() {
		return &FieldNotFoundError{Field: destField}
	}

	vv := reflect.ValueOf(val)
	if val == nil {
		vv = reflect.Zero(fv.Type())
	}
	if !vv.Type().AssignableTo(fv.Type()) {
		if !vv.Type().ConvertibleTo(fv.Type()) {
			return &InputTypeMismatchError{Name: destField, Declared: fv.Type().String(), Got: vv.Type().String()}
		}
		vv = vv.Convert(fv.Type())
	}
	fv.Set(vv)

	base := dest.Identity()
	if base.AttributeSource == nil {
		base.AttributeSource = make(entity.AttributeSource)
	}
	base.AttributeSource[destField] = provenanceFor(fv, ref)
	return nil
}

// provenanceFor builds the Provenance shape matching fv's kind: Single for a
// scalar, List (every index attributed to the same source) for a
// slice/array, Map (every key attributed to the same source) for a map.
func provenanceFor(fv reflect.Value, ref entity.SourceRef) *entity.Provenance {
	switch fv.Kind() {
	case reflect.Slice, reflect.Array:
		list := make([]*entity.SourceRef, fv.Len())
		for i := range list {
			r := ref
			list[i] = &r
		}
		return &entity.Provenance{List: list}
	case reflect.Map:
		m := make(map[string]*entity.SourceRef, fv.Len())
		for _, k := range fv.MapKeys() {
			r := ref
			m[formatKey(k)] = &r
		}
		return &entity.Provenance{Map: m}
	default:
		return entity.SourceOne(ref)
	}
}

func formatKey(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	return fmt.Sprintf("%v", k.Interface())
}
