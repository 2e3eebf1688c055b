package quickjs

import (
	"fmt"
	"sort"
	"sync"
)

// EvaluatorName names a registered evaluator backend.
type EvaluatorName string

const (
	// EvaluatorGoja runs scripts on github.com/dop251/goja. It is the default.
	EvaluatorGoja EvaluatorName = "goja"
	// EvaluatorQuickJS runs scripts on modernc.org/quickjs.
	EvaluatorQuickJS EvaluatorName = "quickjs"
)

// Evaluator parses and runs scripts on behalf of one context. The object model, exceptions and
// host classes live in the context; an evaluator only has to convert between its own values
// and context values.
//
// All methods except Interrupt are called on the owner goroutine of the runtime.
type Evaluator interface {
	// Eval runs code and returns an owned result, or the Exception value with the exception
	// pending on the context.
	Eval(code string, opts *EvalOptions) Value
	// Compile parses code without running it and returns an evaluator specific program.
	Compile(code string, opts *EvalOptions) (any, error)
	// Run runs a program returned by Compile, with the same result convention as Eval.
	Run(program any, opts *EvalOptions) Value
	// Global looks up a global binding of the evaluator, such as a built-in constructor, that
	// is not an own property of Context.Globals.
	Global(name string) (Value, bool)
	// Backtrace describes the running script stack, one "    at" line per frame.
	Backtrace() string
	// Interrupt aborts the running script. It may be called from any goroutine.
	Interrupt(reason error)
	// Close releases the evaluator and every context value it still holds.
	Close()
}

// EvaluatorFactory creates the evaluator of a new context.
type EvaluatorFactory func(ctx *Context) (Evaluator, error)

var (
	evaluatorsMu sync.RWMutex
	evaluators   = map[EvaluatorName]EvaluatorFactory{}
)

// RegisterEvaluator makes an evaluator backend available to WithEvaluator. Registering a name
// twice replaces the previous factory.
func RegisterEvaluator(name EvaluatorName, factory EvaluatorFactory) {
	evaluatorsMu.Lock()
	defer evaluatorsMu.Unlock()
	evaluators[name] = factory
}

// Evaluators lists the registered backend names.
func Evaluators() []EvaluatorName {
	evaluatorsMu.RLock()
	defer evaluatorsMu.RUnlock()
	names := make([]EvaluatorName, 0, len(evaluators))
	for n := range evaluators {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

func newEvaluator(name EvaluatorName, ctx *Context) (Evaluator, error) {
	evaluatorsMu.RLock()
	factory, ok := evaluators[name]
	evaluatorsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("quickjs: unknown evaluator %q", name)
	}
	return factory(ctx)
}

// =============================================================================
// EVAL OPTIONS
// =============================================================================

// EvalOptions holds the flags of one evaluation.
type EvalOptions struct {
	Global      bool
	Module      bool
	Strict      bool
	CompileOnly bool
	FileName    string
	Await       bool
	LoadOnly    bool
}

type EvalOption func(*EvalOptions)

func EvalFlagGlobal(global bool) EvalOption {
	return func(o *EvalOptions) {
		o.Global = global
	}
}

func EvalFlagModule(module bool) EvalOption {
	return func(o *EvalOptions) {
		o.Module = module
	}
}

func EvalFlagStrict(strict bool) EvalOption {
	return func(o *EvalOptions) {
		o.Strict = strict
	}
}

func EvalFlagCompileOnly(compileOnly bool) EvalOption {
	return func(o *EvalOptions) {
		o.CompileOnly = compileOnly
	}
}

func EvalFileName(filename string) EvalOption {
	return func(o *EvalOptions) {
		o.FileName = filename
	}
}

func EvalAwait(await bool) EvalOption {
	return func(o *EvalOptions) {
		o.Await = await
	}
}

func EvalLoadOnly(loadOnly bool) EvalOption {
	return func(o *EvalOptions) {
		o.LoadOnly = loadOnly
	}
}

func newEvalOptions(opts []EvalOption) *EvalOptions {
	options := &EvalOptions{Global: true, FileName: "<input>"}
	for _, fn := range opts {
		fn(options)
	}
	return options
}

// =============================================================================
// COMPILED CODE
// =============================================================================

// Bytecode is the payload of a FunctionBytecode value: a compiled script together with what is
// needed to compile it again after serialization.
type Bytecode struct {
	Source    string
	FileName  string
	Strict    bool
	Module    bool
	Evaluator EvaluatorName

	program any // evaluator program, rebuilt lazily after ReadObject
}

func (r *Runtime) newBytecode(b *Bytecode) (JSValue, error) {
	h, c, err := r.allocCell(TagFunctionBytecode, cellHeaderSize+bytecodeSize+len(b.Source))
	if err != nil {
		return Exception, err
	}
	c.code = b
	return makeRef(TagFunctionBytecode, h), nil
}

func (b *Bytecode) options() *EvalOptions {
	return &EvalOptions{Global: !b.Module, Module: b.Module, Strict: b.Strict, FileName: b.FileName}
}

// =============================================================================
// SCRIPT OWNED OBJECTS
// =============================================================================

// scriptHandle is the internal data of objects that mirror an evaluator object. Property
// access is forwarded through the exotic methods; functions are invoked through call.
type scriptHandle interface {
	ExoticMethods
	call(ctx *Context, this JSValue, args []JSValue, flags CallFlags) JSValue
	className() string
	owner() Evaluator
	// instanceOf evaluates `obj instanceof ctor` in the evaluator.
	instanceOf(ctx *Context, ctor JSValue) (bool, error)
	// promiseState reports the state and the settled value of promise objects.
	promiseState(ctx *Context) (PromiseState, JSValue, bool)
}

func scriptHandleOf(r *Runtime, v JSValue) scriptHandle {
	if v.tag != TagObject {
		return nil
	}
	h, _ := r.objectOf(v).internal.(scriptHandle)
	return h
}

// scriptExotic forwards the property traps of mirror objects to their evaluator.
type scriptExotic struct{}

func (scriptExotic) handle(ctx *Context, obj Value) ExoticMethods {
	if h := scriptHandleOf(ctx.rt, obj.ref); h != nil {
		return h
	}
	return UnimplementedExoticMethods{}
}

func (e scriptExotic) GetOwnProperty(ctx *Context, desc *PropertyDescriptor, obj Value, prop Atom) (bool, error) {
	return e.handle(ctx, obj).GetOwnProperty(ctx, desc, obj, prop)
}

func (e scriptExotic) GetOwnPropertyNames(ctx *Context, obj Value) ([]PropertyEnum, error) {
	return e.handle(ctx, obj).GetOwnPropertyNames(ctx, obj)
}

func (e scriptExotic) DeleteProperty(ctx *Context, obj Value, prop Atom) (bool, error) {
	return e.handle(ctx, obj).DeleteProperty(ctx, obj, prop)
}

func (e scriptExotic) DefineOwnProperty(ctx *Context, obj Value, prop Atom, val, getter, setter Value, flags PropertyFlags) (bool, error) {
	return e.handle(ctx, obj).DefineOwnProperty(ctx, obj, prop, val, getter, setter, flags)
}

func (e scriptExotic) HasProperty(ctx *Context, obj Value, prop Atom) (bool, error) {
	return e.handle(ctx, obj).HasProperty(ctx, obj, prop)
}

func (e scriptExotic) GetProperty(ctx *Context, obj Value, prop Atom, receiver Value) (Value, error) {
	return e.handle(ctx, obj).GetProperty(ctx, obj, prop, receiver)
}

func (e scriptExotic) SetProperty(ctx *Context, obj Value, prop Atom, val, receiver Value, flags PropertyFlags) (bool, error) {
	return e.handle(ctx, obj).SetProperty(ctx, obj, prop, val, receiver, flags)
}

// callBytecodeFunction is the call trap of ClassBytecodeFunction objects.
func callBytecodeFunction(ctx *Context, funcObj, this Value, args []Value, flags CallFlags) (Value, error) {
	h := scriptHandleOf(ctx.rt, funcObj.ref)
	if h == nil {
		return Value{}, ErrNotSupported
	}
	return ctx.wrap(h.call(ctx, this.ref, ctx.rawArgs(args), flags)), nil
}

// newScriptObject creates the mirror of an evaluator object.
func (ctx *Context) newScriptObject(h scriptHandle, callable, ctor bool) JSValue {
	id := ClassScriptObject
	if callable {
		id = ClassBytecodeFunction
	}
	v := ctx.newObjectProtoClass(Null, id)
	if v.IsException() {
		return v
	}
	obj := ctx.rt.objectOf(v)
	obj.internal = h
	obj.constructor = ctor
	return v
}

// globalExotic resolves names that are missing on the global object through the evaluator, so
// that built-ins such as JSON or Promise are visible from the host.
type globalExotic struct {
	UnimplementedExoticMethods
}

func (globalExotic) lookup(ctx *Context, prop Atom) (Value, bool) {
	if prop.IsSymbol() {
		return Value{}, false
	}
	if ctx.evaluator != nil {
		if v, ok := ctx.evaluator.Global(prop.String()); ok {
			return v, true
		}
	}
	if v, ok := ctx.intrinsics[prop.String()]; ok {
		return ctx.wrap(ctx.rt.dup(v)), true
	}
	return Value{}, false
}

func (g globalExotic) HasProperty(ctx *Context, obj Value, prop Atom) (bool, error) {
	if _, own := ctx.rt.objectOf(obj.ref).props[prop.ref]; own {
		return false, ErrNotSupported
	}
	v, ok := g.lookup(ctx, prop)
	if !ok {
		return false, ErrNotSupported
	}
	v.Free()
	return true, nil
}

func (g globalExotic) GetProperty(ctx *Context, obj Value, prop Atom, receiver Value) (Value, error) {
	if _, own := ctx.rt.objectOf(obj.ref).props[prop.ref]; own {
		return Value{}, ErrNotSupported
	}
	v, ok := g.lookup(ctx, prop)
	if !ok {
		return Value{}, ErrNotSupported
	}
	return v, nil
}
