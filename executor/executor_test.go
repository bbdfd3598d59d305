package executor

import (
	"errors"
	"reflect"
	"testing"

	"github.com/entityflow/entityflow/entity"
	"github.com/entityflow/entityflow/eventbus"
	"github.com/entityflow/entityflow/registry"
)

type doc struct {
	entity.Base
	Title    string
	Sections []*section
}

type section struct {
	entity.Base
	Body string
}

type thresholdConfig struct {
	entity.ConfigBase
	Threshold int
}

func newEngine() *Engine {
	return NewEngine(registry.New(nil), eventbus.NewBus())
}

func reflectType(v any) reflect.Type { return reflect.TypeOf(v) }

func TestRegisterRejectsArityMismatch(t *testing.T) {
	eng := newEngine()
	fn := func(d *doc) (*doc, error) { return d, nil }
	_, err := eng.Register("rename", fn, []ParamSpec{
		{Name: "doc", Type: reflectType(&doc{})},
		{Name: "extra", Type: reflectType("")},
	})
	if _, ok := err.(*InvalidSignatureError); !ok {
		t.Fatalf("expected *InvalidSignatureError, got %T: %v", err, err)
	}
}

func TestRegisterRejectsNonErrorSecondReturn(t *testing.T) {
	eng := newEngine()
	fn := func(d *doc) (*doc, *doc) { return d, d }
	_, err := eng.Register("bad", fn, []ParamSpec{{Name: "doc", Type: reflectType(&doc{})}})
	if _, ok := err.(*InvalidSignatureError); !ok {
		t.Fatalf("expected *InvalidSignatureError, got %T: %v", err, err)
	}
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	eng := newEngine()
	fn := func(d *doc) (*doc, error) { return d, nil }
	params := []ParamSpec{{Name: "doc", Type: reflectType(&doc{})}}
	if _, err := eng.Register("rename", fn, params); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := eng.Register("rename", fn, params)
	if _, ok := err.(*AlreadyRegisteredError); !ok {
		t.Fatalf("expected *AlreadyRegisteredError, got %T: %v", err, err)
	}
}

func TestRegisterSharesCachedParamsAcrossIdenticalSignatures(t *testing.T) {
	eng := newEngine()
	fn1 := func(d *doc) (*doc, error) { return d, nil }
	fn2 := func(d *doc) (*doc, error) { return d, nil }
	params1 := []ParamSpec{{Name: "doc", Type: reflectType(&doc{})}}
	params2 := []ParamSpec{{Name: "doc", Type: reflectType(&doc{})}}

	r1, err := eng.Register("rename", fn1, params1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r2, err := eng.Register("retitle", fn2, params2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if &r1.Params[0] != &r2.Params[0] {
		t.Error("expected both registrations to share the cached ParamSpec slice backing array")
	}
}

func TestExecuteUnknownFunction(t *testing.T) {
	eng := newEngine()
	_, err := eng.Execute("nope", nil)
	if _, ok := err.(*UnknownFunctionError); !ok {
		t.Fatalf("expected *UnknownFunctionError, got %T: %v", err, err)
	}
}

// renameDoc mutates its input's Title field in place and returns the same
// pointer, exercising the B1/mutation path.
func renameDoc(d *doc) (*doc, error) {
	d.Title = "renamed"
	return d, nil
}

func TestExecuteMutationSemantic(t *testing.T) {
	eng := newEngine()
	if _, err := eng.Register("rename", renameDoc, []ParamSpec{
		{Name: "doc", Type: reflectType(&doc{}), Required: true},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := &doc{Base: entity.New(), Title: "original"}
	if _, err := eng.registry.RegisterRoot(d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := eng.Execute("rename", map[string]any{"doc": d})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Primary == nil || res.Primary.(*doc).Title != "renamed" {
		t.Fatalf("expected renamed title, got %+v", res.Primary)
	}
	if res.Execution.Semantics[res.Primary.Identity().ECSID] != entity.SemanticMutation {
		t.Errorf("expected mutation semantic, got %v", res.Execution.Semantics)
	}

	stored, err := eng.registry.Get(res.Primary.Identity().ECSID)
	if err != nil {
		t.Fatalf("expected committed doc findable by its new ecs_id: %v", err)
	}
	if stored.(*doc).Title != "renamed" {
		t.Errorf("expected registry's copy to reflect the mutation, got %+v", stored)
	}
}

// detachSection returns a doc's first section on its own, unhooked from any
// parent field, exercising the detachment path.
func detachSection(d *doc) (*section, error) {
	return d.Sections[0], nil
}

func TestExecuteDetachmentSemantic(t *testing.T) {
	eng := newEngine()
	if _, err := eng.Register("detach_first", detachSection, []ParamSpec{
		{Name: "doc", Type: reflectType(&doc{}), Required: true},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s := &section{Base: entity.New(), Body: "intro"}
	d := &doc{Base: entity.New(), Title: "parent", Sections: []*section{s}}
	if _, err := eng.registry.RegisterRoot(d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := eng.Execute("detach_first", map[string]any{"doc": d})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Execution.Semantics[res.Primary.Identity().ECSID] != entity.SemanticDetachment {
		t.Errorf("expected detachment semantic, got %v", res.Execution.Semantics)
	}
	detached, err := eng.registry.Get(s.ECSID)
	if err != nil {
		t.Fatalf("expected the detached section to resolve as its own root: %v", err)
	}
	if detached.Identity().RootECSID != s.ECSID {
		t.Errorf("expected the detached section to be its own tree root, got root %s", detached.Identity().RootECSID)
	}
}

// summarize returns a brand-new section, never derived from any input,
// exercising the creation path and the B1 return pattern.
func summarize(d *doc) (*section, error) {
	return &section{Base: entity.New(), Body: "summary of " + d.Title}, nil
}

func TestExecuteCreationSemantic(t *testing.T) {
	eng := newEngine()
	if _, err := eng.Register("summarize", summarize, []ParamSpec{
		{Name: "doc", Type: reflectType(&doc{}), Required: true},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := &doc{Base: entity.New(), Title: "report"}
	if _, err := eng.registry.RegisterRoot(d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := eng.Execute("summarize", map[string]any{"doc": d})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Execution.Semantics[res.Primary.Identity().ECSID] != entity.SemanticCreation {
		t.Errorf("expected creation semantic, got %v", res.Execution.Semantics)
	}
	if _, err := eng.registry.Get(res.Primary.Identity().ECSID); err != nil {
		t.Errorf("expected the created section to be registered as its own root: %v", err)
	}
}

// splitSections returns every section of a doc as a plain slice, exercising
// the B3 list return pattern.
func splitSections(d *doc) ([]*section, error) {
	return d.Sections, nil
}

func TestExecuteListReturnPattern(t *testing.T) {
	eng := newEngine()
	if _, err := eng.Register("split", splitSections, []ParamSpec{
		{Name: "doc", Type: reflectType(&doc{}), Required: true},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := &doc{Base: entity.New(), Sections: []*section{
		{Base: entity.New(), Body: "a"},
		{Base: entity.New(), Body: "b"},
	}}
	if _, err := eng.registry.RegisterRoot(d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := eng.Execute("split", map[string]any{"doc": d})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(res.Outputs))
	}
	if res.Execution.OutputPattern != entity.PatternList {
		t.Errorf("expected B3 list pattern, got %v", res.Execution.OutputPattern)
	}
}

// wordCount returns a bare int, exercising the B7 scalar-wrapping path.
func wordCount(d *doc) (int, error) {
	return len(d.Title), nil
}

func TestExecuteScalarWrapping(t *testing.T) {
	eng := newEngine()
	if _, err := eng.Register("word_count", wordCount, []ParamSpec{
		{Name: "doc", Type: reflectType(&doc{}), Required: true},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := &doc{Base: entity.New(), Title: "hello"}
	if _, err := eng.registry.RegisterRoot(d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := eng.Execute("word_count", map[string]any{"doc": d})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Execution.OutputPattern != entity.PatternWrappedScalar {
		t.Errorf("expected B7 wrapped scalar pattern, got %v", res.Execution.OutputPattern)
	}
	sr, ok := res.Primary.(*ScalarResult)
	if !ok {
		t.Fatalf("expected *ScalarResult, got %T", res.Primary)
	}
	if sr.Value.(int) != 5 {
		t.Errorf("expected wrapped value 5, got %v", sr.Value)
	}
}

// applyThreshold takes a doc plus a synthesized config entity, exercising
// single_entity_with_config.
func applyThreshold(d *doc, cfg *thresholdConfig) (*doc, error) {
	if len(d.Title) > cfg.Threshold {
		d.Title = d.Title[:cfg.Threshold]
	}
	return d, nil
}

func TestExecuteConfigEntitySynthesis(t *testing.T) {
	eng := newEngine()
	if _, err := eng.Register("truncate", applyThreshold, []ParamSpec{
		{Name: "doc", Type: reflectType(&doc{}), Required: true},
		{Name: "cfg", Type: reflectType(0), IsConfigEntity: true, Required: true},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := &doc{Base: entity.New(), Title: "abcdefgh"}
	if _, err := eng.registry.RegisterRoot(d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := eng.Execute("truncate", map[string]any{"doc": d, "cfg": 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Primary.(*doc).Title != "abc" {
		t.Errorf("expected truncated title %q, got %q", "abc", res.Primary.(*doc).Title)
	}
	if len(res.Execution.ConfigIDs) != 1 {
		t.Errorf("expected one synthesized config id recorded, got %d", len(res.Execution.ConfigIDs))
	}
}

func TestExecuteConfigEntityReadySupplied(t *testing.T) {
	eng := newEngine()
	if _, err := eng.Register("truncate_ready", applyThreshold, []ParamSpec{
		{Name: "doc", Type: reflectType(&doc{}), Required: true},
		{Name: "cfg", Type: reflectType(0), IsConfigEntity: true, Required: true},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := &doc{Base: entity.New(), Title: "abcdefgh"}
	if _, err := eng.registry.RegisterRoot(d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ready := &thresholdConfig{ConfigBase: entity.ConfigBase{Base: entity.New()}, Threshold: 4}

	res, err := eng.Execute("truncate_ready", map[string]any{"doc": d, "cfg": ready})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Primary.(*doc).Title != "abcd" {
		t.Errorf("expected truncated title %q, got %q", "abcd", res.Primary.(*doc).Title)
	}
}

// failingFn always returns an error, exercising the RUN-stage failure path.
func failingFn(d *doc) (*doc, error) {
	return nil, errors.New("boom")
}

func TestExecuteRunFailureRecordsFunctionExecution(t *testing.T) {
	eng := newEngine()
	if _, err := eng.Register("fail", failingFn, []ParamSpec{
		{Name: "doc", Type: reflectType(&doc{}), Required: true},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := &doc{Base: entity.New(), Title: "x"}
	if _, err := eng.registry.RegisterRoot(d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := eng.Execute("fail", map[string]any{"doc": d})
	execErr, ok := err.(*ExecutionError)
	if !ok {
		t.Fatalf("expected *ExecutionError, got %T: %v", err, err)
	}
	if execErr.Stage != "RUN" {
		t.Errorf("expected failure at RUN stage, got %s", execErr.Stage)
	}
}

func TestExecuteClassifyFailureUnknownParameter(t *testing.T) {
	eng := newEngine()
	if _, err := eng.Register("rename2", renameDoc, []ParamSpec{
		{Name: "doc", Type: reflectType(&doc{}), Required: true},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := &doc{Base: entity.New(), Title: "x"}
	if _, err := eng.registry.RegisterRoot(d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := eng.Execute("rename2", map[string]any{"doc": d, "bogus": 1})
	execErr, ok := err.(*ExecutionError)
	if !ok {
		t.Fatalf("expected *ExecutionError, got %T: %v", err, err)
	}
	if execErr.Stage != "CLASSIFY" {
		t.Errorf("expected failure at CLASSIFY stage, got %s", execErr.Stage)
	}
}

func TestExecuteAsyncDeliversResult(t *testing.T) {
	eng := newEngine()
	if _, err := eng.Register("rename3", renameDoc, []ParamSpec{
		{Name: "doc", Type: reflectType(&doc{}), Required: true},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := &doc{Base: entity.New(), Title: "x"}
	if _, err := eng.registry.RegisterRoot(d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ch := eng.ExecuteAsync("rename3", map[string]any{"doc": d})
	ar := <-ch
	if ar.Err != nil {
		t.Fatalf("unexpected error: %v", ar.Err)
	}
	if ar.Result.Primary.(*doc).Title != "renamed" {
		t.Errorf("expected renamed title, got %+v", ar.Result.Primary)
	}
}

func TestIsolationLeavesOriginalUntouchedDuringRun(t *testing.T) {
	eng := newEngine()
	if _, err := eng.Register("rename4", renameDoc, []ParamSpec{
		{Name: "doc", Type: reflectType(&doc{}), Required: true},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := &doc{Base: entity.New(), Title: "original"}
	originalLiveID := d.LiveID
	if _, err := eng.registry.RegisterRoot(d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := eng.Execute("rename4", map[string]any{"doc": d}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.LiveID != originalLiveID {
		t.Error("expected the caller's own object's live_id to be untouched by isolation")
	}
}

type chainNode struct {
	entity.Base
	Depth int
	Next  *chainNode
}

func walkChain(n *chainNode) (*chainNode, error) {
	return n, nil
}

func buildChain(length int) *chainNode {
	root := &chainNode{Base: entity.New(), Depth: 0}
	cur := root
	for i := 1; i < length; i++ {
		cur.Next = &chainNode{Base: entity.New(), Depth: i}
		cur = cur.Next
	}
	return root
}

func TestExecuteRejectsInputTreeDeeperThanMaxIsolationDepth(t *testing.T) {
	eng := NewEngine(registry.New(nil), eventbus.NewBus(), WithMaxIsolationDepth(3))
	if _, err := eng.Register("walkChain", walkChain, []ParamSpec{
		{Name: "n", Type: reflectType(&chainNode{}), Required: true},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	root := buildChain(6)
	if _, err := eng.registry.RegisterRoot(root); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := eng.Execute("walkChain", map[string]any{"n": root})
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected *ExecutionError, got %v", err)
	}
	if execErr.Stage != "RESOLVE" {
		t.Errorf("Stage = %q, want RESOLVE", execErr.Stage)
	}
	var depthErr *IsolationDepthError
	if !errors.As(execErr.Cause, &depthErr) {
		t.Errorf("Cause = %v, want *IsolationDepthError", execErr.Cause)
	}
}

func TestExecuteAllowsInputTreeWithinMaxIsolationDepth(t *testing.T) {
	eng := NewEngine(registry.New(nil), eventbus.NewBus(), WithMaxIsolationDepth(8))
	if _, err := eng.Register("walkChain2", walkChain, []ParamSpec{
		{Name: "n", Type: reflectType(&chainNode{}), Required: true},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	root := buildChain(6)
	if _, err := eng.registry.RegisterRoot(root); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := eng.Execute("walkChain2", map[string]any{"n": root}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
