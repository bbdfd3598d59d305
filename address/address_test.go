package address

import (
	"reflect"
	"testing"

	"github.com/entityflow/entityflow/entity"
)

func reflectEntityType() reflect.Type { return reflect.TypeOf((*entity.Entity)(nil)).Elem() }
func reflectStringType() reflect.Type { return reflect.TypeOf("") }
func reflectIntType() reflect.Type    { return reflect.TypeOf(0) }

type note struct {
	entity.Base
	Title string
	Tags  []string
	Meta  map[string]string
}

type holder struct {
	entity.Base
	Title string
	Tags  []string
	Meta  map[string]string
}

// fakeResolver is a minimal in-memory Resolver stand-in, grounded only on
// the Resolver interface's one-method contract rather than on registry
// itself, so this package's tests never import registry.
type fakeResolver struct {
	byID map[entity.ID]entity.Entity
}

func newFakeResolver(entities ...entity.Entity) *fakeResolver {
	r := &fakeResolver{byID: make(map[entity.ID]entity.Entity)}
	for _, e := range entities {
		r.byID[e.Identity().ECSID] = e
	}
	return r
}

func (r *fakeResolver) Get(id entity.ID) (entity.Entity, error) {
	e, ok := r.byID[id]
	if !ok {
		return nil, &UnknownEntityError{ECSID: id}
	}
	return e, nil
}

func TestResolveScalarField(t *testing.T) {
	n := &note{Base: entity.New(), Title: "hello"}
	r := newFakeResolver(n)

	val, sourceID, err := Resolve(r, "@"+n.ECSID.String()+".Title")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val.(string) != "hello" {
		t.Errorf("expected %q, got %v", "hello", val)
	}
	if sourceID != n.ECSID {
		t.Errorf("expected source %s, got %s", n.ECSID, sourceID)
	}
}

func TestResolveListIndex(t *testing.T) {
	n := &note{Base: entity.New(), Tags: []string{"a", "b", "c"}}
	r := newFakeResolver(n)

	val, _, err := Resolve(r, "@"+n.ECSID.String()+".Tags[1]")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val.(string) != "b" {
		t.Errorf("expected %q, got %v", "b", val)
	}
}

func TestResolveMapKey(t *testing.T) {
	n := &note{Base: entity.New(), Meta: map[string]string{"author": "ada"}}
	r := newFakeResolver(n)

	val, _, err := Resolve(r, `@`+n.ECSID.String()+`.Meta["author"]`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val.(string) != "ada" {
		t.Errorf("expected %q, got %v", "ada", val)
	}
}

func TestResolveUnknownEntity(t *testing.T) {
	r := newFakeResolver()
	_, _, err := Resolve(r, "@"+entity.NewID().String())
	if _, ok := err.(*UnknownEntityError); !ok {
		t.Fatalf("expected *UnknownEntityError, got %T: %v", err, err)
	}
}

func TestResolveFieldNotFound(t *testing.T) {
	n := &note{Base: entity.New()}
	r := newFakeResolver(n)
	_, _, err := Resolve(r, "@"+n.ECSID.String()+".DoesNotExist")
	if _, ok := err.(*FieldNotFoundError); !ok {
		t.Fatalf("expected *FieldNotFoundError, got %T: %v", err, err)
	}
}

func TestResolveIndexOutOfRange(t *testing.T) {
	n := &note{Base: entity.New(), Tags: []string{"a"}}
	r := newFakeResolver(n)
	_, _, err := Resolve(r, "@"+n.ECSID.String()+".Tags[5]")
	if _, ok := err.(*IndexOutOfRangeError); !ok {
		t.Fatalf("expected *IndexOutOfRangeError, got %T: %v", err, err)
	}
}

func TestResolveAddressTypeError(t *testing.T) {
	n := &note{Base: entity.New(), Title: "hello"}
	r := newFakeResolver(n)
	_, _, err := Resolve(r, "@"+n.ECSID.String()+".Title.Nested")
	if _, ok := err.(*AddressTypeError); !ok {
		t.Fatalf("expected *AddressTypeError, got %T: %v", err, err)
	}
}

func TestParseMalformedAddress(t *testing.T) {
	cases := []string{"", "not-an-address", "@", "@not-a-uuid", "@" + entity.NewID().String() + "["}
	for _, raw := range cases {
		if _, err := parse(raw); err == nil {
			t.Errorf("expected malformed address error for %q", raw)
		}
	}
}

func TestContextGet(t *testing.T) {
	n := &note{Base: entity.New(), Title: "hello"}
	c := NewContext(newFakeResolver(n))

	val, err := c.Get("@" + n.ECSID.String() + ".Title")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val.(string) != "hello" {
		t.Errorf("expected %q, got %v", "hello", val)
	}
}

func TestContextBorrowScalarRecordsProvenance(t *testing.T) {
	src := &note{Base: entity.New(), Title: "source title"}
	c := NewContext(newFakeResolver(src))

	dest := &holder{Base: entity.New()}
	if err := c.Borrow(dest, "Title", "@"+src.ECSID.String()+".Title"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dest.Title != "source title" {
		t.Errorf("expected borrowed value assigned, got %q", dest.Title)
	}

	prov := dest.AttributeSource["Title"]
	if prov == nil || prov.Single == nil {
		t.Fatal("expected a scalar Provenance recorded for Title")
	}
	if prov.Single.ECSID != src.ECSID {
		t.Errorf("expected provenance source %s, got %s", src.ECSID, prov.Single.ECSID)
	}
}

func TestContextBorrowListRecordsPerElementProvenance(t *testing.T) {
	src := &note{Base: entity.New(), Tags: []string{"a", "b"}}
	c := NewContext(newFakeResolver(src))

	dest := &holder{Base: entity.New()}
	if err := c.Borrow(dest, "Tags", "@"+src.ECSID.String()+".Tags"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dest.Tags) != 2 {
		t.Fatalf("expected both tags assigned, got %v", dest.Tags)
	}

	prov := dest.AttributeSource["Tags"]
	if prov == nil || len(prov.List) != 2 {
		t.Fatal("expected a per-element List Provenance of length 2")
	}
	for i, ref := range prov.List {
		if ref == nil || ref.ECSID != src.ECSID {
			t.Errorf("element %d: expected provenance source %s, got %v", i, src.ECSID, ref)
		}
	}
}

func TestContextBorrowFrom(t *testing.T) {
	src := &note{Base: entity.New(), Title: "direct"}
	c := NewContext(newFakeResolver(src))

	dest := &holder{Base: entity.New()}
	if err := c.BorrowFrom(dest, "Title", src, "Title"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dest.Title != "direct" {
		t.Errorf("expected %q, got %q", "direct", dest.Title)
	}
	if dest.AttributeSource["Title"].Single.ECSID != src.ECSID {
		t.Error("expected BorrowFrom to record source's ecs_id as provenance")
	}
}

func TestClassifyEntityAddressLiteral(t *testing.T) {
	src := &note{Base: entity.New(), Title: "from address"}
	r := newFakeResolver(src)

	params := []ParamSpec{
		{Name: "doc", Type: reflectEntityType(), Required: true},
		{Name: "title", Type: reflectStringType(), Required: true},
		{Name: "count", Type: reflectIntType(), Required: false},
	}
	kwargs := map[string]any{
		"doc":   entity.Entity(src),
		"title": "@" + src.ECSID.String() + ".Title",
		"count": 3,
	}

	got, err := Classify(r, params, kwargs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["doc"].Pattern != PatternEntity {
		t.Errorf("expected doc classified as entity, got %v", got["doc"].Pattern)
	}
	if got["title"].Pattern != PatternAddress || got["title"].Value.(string) != "from address" {
		t.Errorf("expected title classified as address resolving to %q, got %+v", "from address", got["title"])
	}
	if got["count"].Pattern != PatternLiteral {
		t.Errorf("expected count classified as literal, got %v", got["count"].Pattern)
	}
}

func TestClassifyUnknownParameter(t *testing.T) {
	r := newFakeResolver()
	params := []ParamSpec{{Name: "a", Type: reflectStringType()}}
	_, err := Classify(r, params, map[string]any{"b": "x"})
	if _, ok := err.(*UnknownParameterError); !ok {
		t.Fatalf("expected *UnknownParameterError, got %T: %v", err, err)
	}
}

func TestClassifyMissingRequired(t *testing.T) {
	r := newFakeResolver()
	params := []ParamSpec{{Name: "a", Type: reflectStringType(), Required: true}}
	_, err := Classify(r, params, map[string]any{})
	if _, ok := err.(*MissingRequiredError); !ok {
		t.Fatalf("expected *MissingRequiredError, got %T: %v", err, err)
	}
}

func TestClassifyConfigPrimitive(t *testing.T) {
	r := newFakeResolver()
	params := []ParamSpec{{Name: "threshold", Type: reflectIntType(), IsConfigEntity: true}}
	got, err := Classify(r, params, map[string]any{"threshold": 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["threshold"].Pattern != PatternConfigPrimitive {
		t.Errorf("expected config_primitive, got %v", got["threshold"].Pattern)
	}
}
