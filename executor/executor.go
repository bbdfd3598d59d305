// Package executor is the substrate's callable registry and execution
// engine: register typed functions, classify and resolve each call's
// kwargs, isolate every entity input behind a private copy, run the user
// function, detect what it did to its inputs by object identity alone, and
// commit the result back through the registry, recording a
// FunctionExecution for every call.
package executor

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/entityflow/entityflow/address"
	"github.com/entityflow/entityflow/entity"
	"github.com/entityflow/entityflow/eventbus"
	"github.com/entityflow/entityflow/logger"
	"github.com/entityflow/entityflow/registry"
)

// RegisterOption configures a Registration at Register time.
type RegisterOption func(*Registration)

// WithAsync marks a registration as declaring itself asynchronous. This is
// informational only: every registered function can be dispatched through
// either Execute or ExecuteAsync regardless of this flag, since Go has no
// reified async function type to gate on.
func WithAsync() RegisterOption {
	return func(r *Registration) { r.IsAsync = true }
}

// Engine is the callable registry and execution coordinator.
type Engine struct {
	mu    sync.RWMutex
	funcs map[string]*Registration

	// inputRecords caches, by input-signature hash, the canonical param
	// slice two registrations sharing an identical non-ConfigEntity
	// parameter shape are made to share (spec.md §4.E.1).
	inputRecords map[string][]ParamSpec

	registry *registry.Registry
	bus      *eventbus.Bus

	// maxIsolationDepth is the deepest hierarchical ownership path isolate()
	// accepts in an input tree; a deeper tree is rejected once it has been
	// copied and walked. 0 disables the guard.
	maxIsolationDepth int
}

// EngineOption configures an Engine at construction time.
type EngineOption func(*Engine)

// WithMaxIsolationDepth sets the depth guard every isolate() call enforces
// against the input trees it copies (config.Config.MaxIsolationDepth).
func WithMaxIsolationDepth(n int) EngineOption {
	return func(eng *Engine) { eng.maxIsolationDepth = n }
}

// NewEngine constructs an Engine bound to reg for isolation/versioning/
// commit and bus for FunctionStarted/Completed/Failed events. Passing nil
// for bus uses eventbus.Default().
func NewEngine(reg *registry.Registry, bus *eventbus.Bus, opts ...EngineOption) *Engine {
	if bus == nil {
		bus = eventbus.Default()
	}
	eng := &Engine{
		funcs:        make(map[string]*Registration),
		inputRecords: make(map[string][]ParamSpec),
		registry:     reg,
		bus:          bus,
	}
	for _, opt := range opts {
		opt(eng)
	}
	return eng
}

// Register inspects fn's declared signature against params (spec.md
// §4.E.1) and caches it under name. fn must have the shape
// func(p1, p2, ...) (R, error), with one positional parameter per entry in
// params, in the same order.
func (eng *Engine) Register(name string, fn any, params []ParamSpec, opts ...RegisterOption) (*Registration, error) {
	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func {
		return nil, &InvalidSignatureError{Name: name, Reason: "fn is not a function"}
	}
	ft := fv.Type()
	if ft.NumIn() != len(params) {
		return nil, &InvalidSignatureError{Name: name, Reason: fmt.Sprintf("declared %d params, function takes %d", len(params), ft.NumIn())}
	}
	if ft.NumOut() != 2 || !ft.Out(1).Implements(errorType) {
		return nil, &InvalidSignatureError{Name: name, Reason: "function must return (result, error)"}
	}

	reg := &Registration{
		Name:           name,
		fn:             fv,
		fnType:         ft,
		Params:         params,
		DeclaredOutput: classifyReturnType(ft.Out(0)),
		inputSignature: inputSignatureHash(params),
	}
	for _, opt := range opts {
		opt(reg)
	}

	eng.mu.Lock()
	defer eng.mu.Unlock()
	if _, exists := eng.funcs[name]; exists {
		return nil, &AlreadyRegisteredError{Name: name}
	}
	if cached, ok := eng.inputRecords[reg.inputSignature]; ok {
		reg.Params = cached
	} else {
		eng.inputRecords[reg.inputSignature] = params
	}
	eng.funcs[name] = reg
	return reg, nil
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func (eng *Engine) lookup(name string) (*Registration, bool) {
	eng.mu.RLock()
	defer eng.mu.RUnlock()
	reg, ok := eng.funcs[name]
	return reg, ok
}

// Result is what Execute/ExecuteAsync return on success: every output
// entity the call committed, Primary as a convenience accessor for a call
// with a single output (B1, or the B7 ScalarResult wrapper; nil for every
// other pattern), and the FunctionExecution audit record
// written for this call.
type Result struct {
	Outputs   []entity.Entity
	Primary   entity.Entity
	Execution *entity.FunctionExecution
}

// Execute runs name synchronously against kwargs, driving the
// CLASSIFY->RESOLVE->ISOLATE->RUN->ANALYZE->COMMIT/FAIL state machine
// (spec.md §4.E.10) to completion on the calling goroutine.
func (eng *Engine) Execute(name string, kwargs map[string]any) (*Result, error) {
	reg, ok := eng.lookup(name)
	if !ok {
		return nil, &UnknownFunctionError{Name: name}
	}

	trace := logger.StartTrace("executor.execute", name)
	defer trace.EndTrace()
	tid := traceID(trace)

	fe := &entity.FunctionExecution{
		Base:         entity.New(),
		FunctionName: name,
		Semantics:    make(map[entity.ID]entity.Semantic),
		StartedAt:    time.Now(),
	}

	logger.LogExecutionPhase(tid, name, "enter", "CLASSIFY")
	readyConfigs, classifyParams, classifyKwargs := eng.splitConfigArgs(reg, kwargs)
	classified, err := address.Classify(eng.registry, classifyParams, classifyKwargs)
	if err != nil {
		return eng.fail(fe, name, "CLASSIFY", err)
	}

	logger.LogExecutionPhase(tid, name, "enter", "RESOLVE")
	strategy := selectStrategy(reg, classified)
	logger.Trace("executor: %s resolved as %s", name, strategy)
	inv, err := eng.buildArgs(reg, classified, readyConfigs)
	if err != nil {
		return eng.fail(fe, name, "RESOLVE", err)
	}
	fe.InputIDs = inv.entityInputs
	fe.ConfigIDs = inv.configIDs
	fe.InputPattern = inputPatternFor(len(inv.entityInputs))

	logger.LogExecutionPhase(tid, name, "enter", "ISOLATE")
	// Isolation already happened inside buildArgs, per entity argument, so
	// every argument the RUN stage below sees is a private copy.

	logger.LogExecutionPhase(tid, name, "enter", "RUN")
	eng.bus.Emit(eventbus.New(eventbus.TypeFunctionStarted, eventbus.WithMetadata("function", name)))
	outVal, err := eng.invoke(reg, inv.args)
	if err != nil {
		return eng.fail(fe, name, "RUN", err)
	}

	logger.LogExecutionPhase(tid, name, "enter", "ANALYZE")
	outs, outputPattern, err := unpack(outVal, reg.DeclaredOutput)
	if err != nil {
		return eng.fail(fe, name, "ANALYZE", err)
	}
	fe.OutputPattern = outputPattern

	logger.LogExecutionPhase(tid, name, "enter", "COMMIT")
	committed, sibling, err := eng.commitOutputs(outs, inv.mapping, fe)
	if err != nil {
		return eng.fail(fe, name, "COMMIT", err)
	}
	fe.OutputIDs = sibling
	if len(sibling) > 0 {
		fe.SiblingGroups = [][]entity.ID{sibling}
	}
	fe.Success = true
	fe.FinishedAt = time.Now()

	if _, err := eng.registry.RegisterRoot(fe); err != nil {
		return nil, err
	}
	eng.bus.Emit(eventbus.New(eventbus.TypeFunctionCompleted, eventbus.WithSubject("FunctionExecution", fe.ECSID),
		eventbus.WithMetadata("function", name)))

	return &Result{Outputs: committed, Primary: primaryOf(committed, outputPattern), Execution: fe}, nil
}

// ExecuteAsync runs name on its own goroutine and returns a future
// channel delivering exactly one Result or error (spec.md §4.E.8).
func (eng *Engine) ExecuteAsync(name string, kwargs map[string]any) <-chan AsyncResult {
	ch := make(chan AsyncResult, 1)
	go func() {
		res, err := eng.Execute(name, kwargs)
		ch <- AsyncResult{Result: res, Err: err}
		close(ch)
	}()
	return ch
}

// AsyncResult is what ExecuteAsync's future channel delivers.
type AsyncResult struct {
	Result *Result
	Err    error
}

func (eng *Engine) fail(fe *entity.FunctionExecution, name, stage string, cause error) (*Result, error) {
	fe.Success = false
	fe.Error = cause.Error()
	fe.FinishedAt = time.Now()
	if _, regErr := eng.registry.RegisterRoot(fe); regErr != nil {
		logger.Warn("executor: failed to record FunctionExecution for %s: %v", name, regErr)
	}
	eng.bus.Emit(eventbus.New(eventbus.TypeFunctionFailed, eventbus.WithSubject("FunctionExecution", fe.ECSID),
		eventbus.WithMetadata("function", name), eventbus.WithMetadata("stage", stage), eventbus.WithMetadata("error", cause.Error())))
	return nil, &ExecutionError{Name: name, Stage: stage, Cause: cause}
}

func traceID(tc *logger.TraceContext) string {
	if tc == nil {
		return ""
	}
	return tc.TraceID
}

func inputPatternFor(n int) entity.ReturnPattern {
	switch {
	case n == 0:
		return ""
	case n == 1:
		return entity.PatternSingleEntity
	default:
		return entity.PatternTuple
	}
}

func primaryOf(outs []entity.Entity, pattern entity.ReturnPattern) entity.Entity {
	if (pattern == entity.PatternSingleEntity || pattern == entity.PatternWrappedScalar) && len(outs) == 1 {
		return outs[0]
	}
	return nil
}
