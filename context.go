package quickjs

import (
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"os"

	"github.com/cockroachdb/apd/v3"
	"go.uber.org/zap"
)

// Context represents a Javascript context (or Realm). Each JSContext has its own global objects and system objects. There can be several JSContexts per JSRuntime and they can share objects, similar to frames of the same origin sharing Javascript objects in a web browser.
type Context struct {
	rt     *Runtime
	closed bool
	opaque any

	globals           JSValue
	objectProto       JSValue
	functionProto     JSValue
	arrayProto        JSValue
	errorProto        JSValue
	nativeErrorProtos [nativeErrorCount]JSValue
	classProtos       map[ClassID]JSValue
	intrinsics        map[string]JSValue // built-in constructors, also visible through Globals
	oomError          JSValue

	exception   JSValue // Uninitialized when clean
	hostErr     error
	uncatchable bool
	callDepth   int

	evaluator   Evaluator
	handleStore *HandleStore
	modules     map[string]JSValue // TagModule cells by normalized name
}

func newContext(r *Runtime) *Context {
	ctx := &Context{
		rt:          r,
		exception:   Uninitialized,
		globals:     Undefined,
		oomError:    Undefined,
		classProtos: make(map[ClassID]JSValue),
		intrinsics:  make(map[string]JSValue),
		handleStore: NewHandleStore(),
		modules:     make(map[string]JSValue),
	}
	ctx.initIntrinsics()

	ev, err := newEvaluator(r.options.evaluator, ctx)
	if err != nil {
		r.logger.Error("evaluator unavailable", zap.String("evaluator", string(r.options.evaluator)), zap.Error(err))
	} else {
		ctx.evaluator = ev
	}
	if r.options.moduleImport {
		ctx.installRequire()
	}
	return ctx
}

// Runtime returns the runtime of the context.
func (ctx *Context) Runtime() *Runtime {
	return ctx.rt
}

// Close frees the context: the global object, the intrinsics, the loaded modules and every
// Go value kept in the handle store. Values still held by the host stay valid until freed.
func (ctx *Context) Close() {
	r := ctx.rt
	r.mustOwn()
	if ctx.closed {
		return
	}
	ctx.closed = true
	if ctx.evaluator != nil {
		ctx.evaluator.Close()
		ctx.evaluator = nil
	}
	r.free(ctx.takeException())
	ctx.hostErr = nil

	for name, m := range ctx.modules {
		r.free(m)
		delete(ctx.modules, name)
	}
	for name, v := range ctx.intrinsics {
		r.free(v)
		delete(ctx.intrinsics, name)
	}
	for id, p := range ctx.classProtos {
		r.free(p)
		delete(ctx.classProtos, id)
	}
	for i, p := range ctx.nativeErrorProtos {
		r.free(p)
		ctx.nativeErrorProtos[i] = Undefined
	}
	for _, p := range []*JSValue{&ctx.globals, &ctx.oomError, &ctx.errorProto, &ctx.arrayProto, &ctx.functionProto, &ctx.objectProto} {
		v := *p
		*p = Undefined
		r.free(v)
	}

	ctx.handleStore.Clear()
	r.removeContext(ctx)
	r.runGC()
}

// SetOpaque attaches host data to the context.
func (ctx *Context) SetOpaque(data any) {
	ctx.opaque = data
}

// Opaque returns the host data attached with SetOpaque.
func (ctx *Context) Opaque() any {
	return ctx.opaque
}

// raw unwraps a borrowed Value. The zero Value maps to undefined.
func (ctx *Context) raw(v Value) JSValue {
	if v.ctx == nil {
		return Undefined
	}
	ctx.checkSameRuntime(v)
	return v.ref
}

// checkSameRuntime panics with ErrCrossRuntime when a heap value of another runtime is used.
func (ctx *Context) checkSameRuntime(v Value) {
	if v.ctx != nil && v.ctx.rt != ctx.rt && v.ref.HasRefCount() {
		panic(fmt.Errorf("%w: %s value used with a context of another runtime", ErrCrossRuntime, v.ref.tag))
	}
}

// =============================================================================
// VALUE CONSTRUCTORS
// =============================================================================

// Null return a null value.
func (ctx *Context) Null() Value {
	return ctx.wrap(Null)
}

// Undefined return a undefined value.
func (ctx *Context) Undefined() Value {
	return ctx.wrap(Undefined)
}

// Uninitialized returns a uninitialized value.
func (ctx *Context) Uninitialized() Value {
	return ctx.wrap(Uninitialized)
}

// Error returns a new Error object carrying the message of err. An *Error keeps its name and
// cause.
func (ctx *Context) Error(err error) Value {
	ctx.rt.mustOwn()
	kind, msg, cause := PlainError, err.Error(), ""
	var jsErr *Error
	if errors.As(err, &jsErr) {
		kind, msg, cause = ErrorKindOf(jsErr.Name), jsErr.Message, jsErr.Cause
	}
	v := ctx.newErrorObject(kind, msg)
	if v.IsException() || cause == "" {
		return ctx.wrap(v)
	}
	ctx.defineValue(v, atomCause, ctx.newStringValue(cause), PropertyWritable|PropertyConfigurable)
	return ctx.wrap(v)
}

// Bool returns a bool value with given bool.
func (ctx *Context) Bool(b bool) Value {
	return ctx.wrap(MakeBool(b))
}

// Int32 returns a int32 value with given int32.
func (ctx *Context) Int32(v int32) Value {
	return ctx.wrap(MakeInt(v))
}

// Int64 returns a number value; integers outside the int32 range are stored as doubles.
func (ctx *Context) Int64(v int64) Value {
	if v >= math.MinInt32 && v <= math.MaxInt32 {
		return ctx.wrap(MakeInt(int32(v)))
	}
	return ctx.wrap(makeFloat64(float64(v)))
}

// Uint32 returns a uint32 value with given uint32.
func (ctx *Context) Uint32(v uint32) Value {
	return ctx.Int64(int64(v))
}

// BigInt64 returns a BigInt value with given int64.
func (ctx *Context) BigInt64(v int64) Value {
	return ctx.BigInt(big.NewInt(v))
}

// BigUint64 returns a BigInt value with given uint64.
func (ctx *Context) BigUint64(v uint64) Value {
	return ctx.BigInt(new(big.Int).SetUint64(v))
}

// BigInt returns a BigInt value holding a copy of v.
func (ctx *Context) BigInt(v *big.Int) Value {
	ctx.rt.mustOwn()
	ref, err := ctx.rt.newBigInt(v)
	if err != nil {
		return ctx.wrap(ctx.throwOutOfMemory())
	}
	return ctx.wrap(ref)
}

// BigFloat returns a BigFloat value holding a copy of v.
func (ctx *Context) BigFloat(v *big.Float) Value {
	ctx.rt.mustOwn()
	ref, err := ctx.rt.newBigFloat(v)
	if err != nil {
		return ctx.wrap(ctx.throwOutOfMemory())
	}
	return ctx.wrap(ref)
}

// BigDecimal returns a BigDecimal value holding a copy of v.
func (ctx *Context) BigDecimal(v *apd.Decimal) Value {
	ctx.rt.mustOwn()
	ref, err := ctx.rt.newBigDecimal(v)
	if err != nil {
		return ctx.wrap(ctx.throwOutOfMemory())
	}
	return ctx.wrap(ref)
}

// Float64 returns a float64 value with given float64.
func (ctx *Context) Float64(v float64) Value {
	return ctx.wrap(makeFloat64(v))
}

// String returns a string value with given string.
func (ctx *Context) String(v string) Value {
	ctx.rt.mustOwn()
	return ctx.wrap(ctx.newStringValue(v))
}

// Symbol returns a new unique symbol.
func (ctx *Context) Symbol(description string) Value {
	ctx.rt.mustOwn()
	ref, err := ctx.rt.newSymbol(description, atomKindSymbol)
	if err != nil {
		return ctx.wrap(ctx.throwOutOfMemory())
	}
	return ctx.wrap(ref)
}

// Object returns a new object value.
func (ctx *Context) Object() Value {
	ctx.rt.mustOwn()
	return ctx.wrap(ctx.newObject())
}

// NewObjectClass creates an object of a registered class with the default prototype of the
// class.
func (ctx *Context) NewObjectClass(id ClassID) Value {
	ctx.rt.mustOwn()
	return ctx.wrap(ctx.newObjectClass(id))
}

// NewObjectProtoClass creates an object of a registered class with an explicit prototype,
// which may be null.
func (ctx *Context) NewObjectProtoClass(proto Value, id ClassID) Value {
	ctx.rt.mustOwn()
	p := ctx.raw(proto)
	if proto.ctx == nil {
		p = Null
	}
	return ctx.wrap(ctx.newObjectProtoClass(p, id))
}

// SetClassProto sets the default prototype of a class in this context. proto is consumed.
func (ctx *Context) SetClassProto(id ClassID, proto Value) {
	ctx.rt.mustOwn()
	if old, ok := ctx.classProtos[id]; ok {
		ctx.rt.free(old)
	}
	ctx.classProtos[id] = ctx.raw(proto)
}

// GetClassProto returns the default prototype of a class.
func (ctx *Context) GetClassProto(id ClassID) Value {
	ctx.rt.mustOwn()
	return ctx.wrap(ctx.rt.dup(ctx.classProto(id)))
}

// Atom returns a new Atom value with given string.
func (ctx *Context) Atom(v string) Atom {
	ctx.rt.mustOwn()
	return ctx.wrapAtom(ctx.rt.atoms.newAtom(v))
}

// AtomIdx returns a new Atom value with given idx.
func (ctx *Context) AtomIdx(idx uint32) Atom {
	ctx.rt.mustOwn()
	return ctx.wrapAtom(ctx.rt.atoms.newAtomUint32(idx))
}

// Invoke invokes a function with given this value and arguments.
func (ctx *Context) Invoke(fn Value, this Value, args ...Value) Value {
	return ctx.Call(fn, this, args...)
}

// Globals returns the global object of the context. The value is borrowed and must not be
// freed.
func (ctx *Context) Globals() Value {
	return ctx.wrap(ctx.globals)
}

// =============================================================================
// EVALUATION
// =============================================================================

func (ctx *Context) checkEval() error {
	if ctx.closed {
		return ErrRuntimeClosed
	}
	if ctx.evaluator == nil {
		return fmt.Errorf("quickjs: evaluator %q is not available", ctx.rt.options.evaluator)
	}
	return nil
}

// Eval returns a js value with given code.
// Need call Free() `quickjs.Value`'s returned by `Eval()` and `EvalFile()` and `EvalBytecode()`.
// With EvalFlagCompileOnly the result is a FunctionBytecode value for EvalFunction; with
// EvalFlagModule the code runs as a module and the result is its namespace object.
func (ctx *Context) Eval(code string, opts ...EvalOption) (Value, error) {
	ctx.rt.mustOwn()
	if err := ctx.checkEval(); err != nil {
		return ctx.Null(), err
	}
	options := newEvalOptions(opts)

	var val JSValue
	switch {
	case options.CompileOnly:
		val = ctx.compileBytecode(code, options)
	case options.Module:
		val = ctx.evalModule(code, options.FileName)
	default:
		val = ctx.raw(ctx.evaluator.Eval(code, options))
	}
	if options.Await && !val.IsException() {
		return ctx.Await(ctx.wrap(val))
	}
	if val.IsException() {
		return ctx.wrap(val), ctx.Exception()
	}
	return ctx.wrap(val), nil
}

// EvalFile returns a js value with given code and filename.
// Need call Free() `quickjs.Value`'s returned by `Eval()` and `EvalFile()` and `EvalBytecode()`.
func (ctx *Context) EvalFile(filePath string, opts ...EvalOption) (Value, error) {
	b, err := os.ReadFile(filePath)
	if err != nil {
		return ctx.Null(), err
	}
	opts = append(opts, EvalFileName(filePath))
	return ctx.Eval(string(b), opts...)
}

// EvalFunction runs a FunctionBytecode value produced by EvalFlagCompileOnly or ReadObject.
// fb is consumed.
func (ctx *Context) EvalFunction(fb Value) (Value, error) {
	ctx.rt.mustOwn()
	ref := ctx.raw(fb)
	if err := ctx.checkEval(); err != nil {
		ctx.rt.free(ref)
		return ctx.Null(), err
	}
	val := ctx.evalFunction(ref)
	if val.IsException() {
		return ctx.wrap(val), ctx.Exception()
	}
	return ctx.wrap(val), nil
}

// Compile returns a compiled bytecode with given code.
func (ctx *Context) Compile(code string, opts ...EvalOption) ([]byte, error) {
	opts = append(opts, EvalFlagCompileOnly(true))
	fb, err := ctx.Eval(code, opts...)
	if err != nil {
		return nil, err
	}
	defer fb.Free()
	return ctx.WriteObject(fb, WriteObjBytecode)
}

// CompileFile returns a compiled bytecode with given filename.
func (ctx *Context) CompileFile(filePath string, opts ...EvalOption) ([]byte, error) {
	b, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	options := newEvalOptions(opts)
	if options.FileName == "<input>" {
		opts = append(opts, EvalFileName(filePath))
	}
	return ctx.Compile(string(b), opts...)
}

// EvalBytecode returns a js value with given bytecode.
// Need call Free() `quickjs.Value`'s returned by `Eval()` and `EvalFile()` and `EvalBytecode()`.
func (ctx *Context) EvalBytecode(buf []byte) (Value, error) {
	fb, err := ctx.ReadObject(buf, ReadObjBytecode)
	if err != nil {
		return ctx.Null(), err
	}
	if fb.ref.tag != TagFunctionBytecode {
		fb.Free()
		return ctx.Null(), fmt.Errorf("%w: bytecode buffer holds %s", ErrTypeMismatch, fb.ref.tag)
	}
	return ctx.EvalFunction(fb)
}

func (ctx *Context) compileBytecode(code string, options *EvalOptions) JSValue {
	b := &Bytecode{
		Source:    code,
		FileName:  options.FileName,
		Strict:    options.Strict,
		Module:    options.Module,
		Evaluator: ctx.rt.options.evaluator,
	}
	if !b.Module {
		program, err := ctx.evaluator.Compile(code, options)
		if err != nil {
			return ctx.throwCompileError(err)
		}
		b.program = program
	}
	v, err := ctx.rt.newBytecode(b)
	if err != nil {
		return ctx.throwOutOfMemory()
	}
	return v
}

func (ctx *Context) throwCompileError(err error) JSValue {
	var jsErr *Error
	if errors.As(err, &jsErr) {
		return ctx.throwError(ErrorKindOf(jsErr.Name), "%s", jsErr.Message)
	}
	return ctx.throwError(SyntaxError, "%s", err.Error())
}

// evalFunction runs and consumes a bytecode value.
func (ctx *Context) evalFunction(fb JSValue) JSValue {
	r := ctx.rt
	defer r.free(fb)
	if fb.tag != TagFunctionBytecode {
		return ctx.throwError(TypeError, "not a function bytecode")
	}
	b := r.cellOf(fb).code
	if b.Module {
		return ctx.evalModule(b.Source, b.FileName)
	}
	if b.program == nil || b.Evaluator != r.options.evaluator {
		program, err := ctx.evaluator.Compile(b.Source, b.options())
		if err != nil {
			return ctx.throwCompileError(err)
		}
		b.program, b.Evaluator = program, r.options.evaluator
	}
	return ctx.raw(ctx.evaluator.Run(b.program, b.options()))
}

// =============================================================================
// MODULES
// =============================================================================

// LoadModule returns a js value with given code and module name.
// The module runs immediately unless EvalLoadOnly is set, in which case it runs on the first
// Import. The result is the exports object of the module.
func (ctx *Context) LoadModule(code string, moduleName string, opts ...EvalOption) (Value, error) {
	ctx.rt.mustOwn()
	if err := ctx.checkEval(); err != nil {
		return ctx.Null(), err
	}
	options := newEvalOptions(opts)
	if options.LoadOnly {
		if ref := ctx.defineModule(moduleName, code); ref.IsException() {
			return ctx.wrap(ref), ctx.Exception()
		}
		return ctx.Undefined(), nil
	}
	val := ctx.evalModule(code, moduleName)
	if val.IsException() {
		return ctx.wrap(val), ctx.Exception()
	}
	if options.Await {
		return ctx.Await(ctx.wrap(val))
	}
	return ctx.wrap(val), nil
}

// LoadModuleFile returns a js value with given file path and module name.
func (ctx *Context) LoadModuleFile(filePath string, moduleName string) (Value, error) {
	b, err := os.ReadFile(filePath)
	if err != nil {
		return ctx.Null(), err
	}
	return ctx.LoadModule(string(b), moduleName)
}

// CompileModule returns a compiled bytecode with given code and module name.
func (ctx *Context) CompileModule(filePath string, moduleName string, opts ...EvalOption) ([]byte, error) {
	opts = append(opts, EvalFileName(moduleName), EvalFlagModule(true))
	return ctx.CompileFile(filePath, opts...)
}

// LoadModuleBytecode returns a js value with given bytecode and module name.
func (ctx *Context) LoadModuleBytecode(buf []byte, opts ...EvalOption) (Value, error) {
	fb, err := ctx.ReadObject(buf, ReadObjBytecode)
	if err != nil {
		return ctx.Null(), err
	}
	if fb.ref.tag != TagFunctionBytecode || !ctx.rt.cellOf(fb.ref).code.Module {
		fb.Free()
		return ctx.Null(), fmt.Errorf("%w: buffer does not hold module bytecode", ErrTypeMismatch)
	}
	b := ctx.rt.cellOf(fb.ref).code
	fb.Free()
	return ctx.LoadModule(b.Source, b.FileName, opts...)
}

// =============================================================================
// JOBS AND PROMISES
// =============================================================================

// PromiseState is the settlement state of a promise.
type PromiseState int

const (
	PromisePending PromiseState = iota
	PromiseFulfilled
	PromiseRejected
)

func (s PromiseState) String() string {
	switch s {
	case PromiseFulfilled:
		return "fulfilled"
	case PromiseRejected:
		return "rejected"
	}
	return "pending"
}

// promiseState reports the state of a promise; ok is false for other values. The result is
// owned and only set for settled promises.
func (ctx *Context) promiseState(v JSValue) (state PromiseState, result JSValue, ok bool) {
	h := scriptHandleOf(ctx.rt, v)
	if h == nil {
		return PromisePending, Undefined, false
	}
	return h.promiseState(ctx)
}

// Loop runs pending jobs until the queue is empty. Jobs that throw are logged and skipped.
func (ctx *Context) Loop() {
	r := ctx.rt
	for r.IsJobPending() {
		if jobCtx, err := r.ExecutePendingJob(); err != nil && jobCtx == ctx {
			r.logger.Warn("job failed", zap.Error(err))
		}
	}
}

// Await waits for a promise, running pending jobs while it is pending, and returns its
// result, or the Exception value when it is rejected. Values that are not promises are
// returned unchanged. v is consumed.
func (ctx *Context) Await(v Value) (Value, error) {
	r := ctx.rt
	r.mustOwn()
	ref := ctx.raw(v)
	for {
		state, result, ok := ctx.promiseState(ref)
		if !ok {
			return v, nil
		}
		switch state {
		case PromiseFulfilled:
			r.free(ref)
			return ctx.wrap(result), nil
		case PromiseRejected:
			r.free(ref)
			ctx.throw(result)
			return ctx.wrap(Exception), ctx.Exception()
		}
		if _, err := r.ExecutePendingJob(); err != nil {
			r.free(ref)
			if errors.Is(err, io.EOF) {
				ctx.throwError(InternalError, "promise is pending and no job is queued")
				return ctx.wrap(Exception), ctx.Exception()
			}
			return ctx.wrap(Exception), err
		}
	}
}

// Promise creates a new Promise with executor function
// Executor runs synchronously in current thread for thread safety. resolve and reject may also
// be called later from the owner goroutine; the first call settles the promise and later calls
// are ignored.
func (ctx *Context) Promise(executor func(resolve, reject func(Value))) Value {
	promiseSetup, err := ctx.Eval(`
        (() => {
            let _resolve, _reject;
            const promise = new Promise((resolve, reject) => {
                _resolve = resolve;
                _reject = reject;
            });
            return { promise, resolve: _resolve, reject: _reject };
        })()
    `)
	if err != nil {
		return ctx.ThrowError(err)
	}
	defer promiseSetup.Free()

	promise := promiseSetup.Get("promise")
	resolveFunc := promiseSetup.Get("resolve")
	rejectFunc := promiseSetup.Get("reject")

	settled := false
	settle := func(fn Value, v Value) {
		if settled {
			return
		}
		settled = true
		fn.Execute(ctx.Undefined(), v).Free()
		resolveFunc.Free()
		rejectFunc.Free()
	}
	resolve := func(result Value) {
		settle(resolveFunc, result)
	}
	reject := func(reason Value) {
		settle(rejectFunc, reason)
	}

	executor(resolve, reject)

	return promise
}

// AsyncFunction returns a function that returns a promise. asyncFn receives an object with
// resolve and reject methods; a value other than undefined returned by asyncFn resolves the
// promise directly.
//
//	ctx.AsyncFunction(func(ctx *Context, this Value, promise Value, args []Value) Value {
//	    promise.Call("resolve", ctx.String("result")).Free()
//	    return ctx.Undefined()
//	})
func (ctx *Context) AsyncFunction(asyncFn func(ctx *Context, this Value, promise Value, args []Value) Value) Value {
	return ctx.Function(func(ctx *Context, this Value, args []Value) Value {
		return ctx.Promise(func(resolve, reject func(Value)) {
			promiseObj := ctx.Object()
			defer promiseObj.Free()
			promiseObj.Set("resolve", ctx.Function(func(ctx *Context, this Value, args []Value) Value {
				if len(args) > 0 {
					resolve(args[0])
				} else {
					resolve(ctx.Undefined())
				}
				return ctx.Undefined()
			}))
			promiseObj.Set("reject", ctx.Function(func(ctx *Context, this Value, args []Value) Value {
				if len(args) > 0 {
					reject(args[0])
				} else {
					errObj := ctx.Error(fmt.Errorf("Promise rejected without reason"))
					defer errObj.Free()
					reject(errObj)
				}
				return ctx.Undefined()
			}))

			result := asyncFn(ctx, this, promiseObj, args)
			if result.IsException() {
				reason := ctx.GetException()
				defer reason.Free()
				reject(reason)
				return
			}
			if !result.IsUndefined() {
				resolve(result)
			}
			result.Free()
		})
	})
}

// SetInterruptHandler sets a interrupt handler.
//
// Deprecated: Use SetInterruptHandler on runtime instead
func (ctx *Context) SetInterruptHandler(handler InterruptHandler) {
	ctx.rt.SetInterruptHandler(handler)
}

// Array returns a new empty array.
func (ctx *Context) Array() Array {
	ctx.rt.mustOwn()
	return NewQjsArray(ctx.wrap(ctx.newArray()))
}

// =============================================================================
// CLASS BINDING METHODS
// =============================================================================

// CreateClass creates and registers a JavaScript class using the ClassBuilder pattern
func (ctx *Context) CreateClass(builder *ClassBuilder) (Value, ClassID, error) {
	return builder.Build(ctx)
}

// CreateInstanceFromNewTarget creates a class instance whose prototype is new_target.prototype,
// so subclasses get the right prototype chain, and attaches goObj as its instance data.
func (ctx *Context) CreateInstanceFromNewTarget(newTarget Value, classID ClassID, goObj any) Value {
	ctx.rt.mustOwn()
	handleID := ctx.handleStore.Store(goObj)

	proto := newTarget.Get("prototype")
	if proto.IsException() {
		ctx.handleStore.Delete(handleID)
		return proto
	}
	defer proto.Free()

	p := proto.ref
	if p.tag != TagObject {
		p = ctx.classProto(classID)
	}
	obj := ctx.newObjectProtoClass(p, classID)
	if obj.IsException() {
		ctx.handleStore.Delete(handleID)
		return ctx.wrap(obj)
	}
	ctx.rt.objectOf(obj).opaque = &instanceHandle{store: ctx.handleStore, id: handleID}
	return ctx.wrap(obj)
}

// GetInstanceData retrieves Go object from JavaScript class instance
// This method extracts the opaque data stored by CreateInstanceFromNewTarget
func (ctx *Context) GetInstanceData(val Value) (any, error) {
	if !val.IsObject() {
		return nil, errors.New("value is not an object")
	}
	ih, ok := ctx.rt.objectOf(ctx.raw(val)).opaque.(*instanceHandle)
	if !ok {
		return nil, errors.New("no instance data found")
	}
	if obj, exists := ih.value(); exists {
		return obj, nil
	}
	return nil, errors.New("instance data not found in handle store")
}

// GetInstanceDataTyped retrieves Go object from JavaScript class instance with type assertion
// This is a convenience method that combines GetInstanceData with type assertion
func (ctx *Context) GetInstanceDataTyped(val Value, expectedClassID ClassID) (any, error) {
	if !ctx.IsInstanceOf(val, expectedClassID) {
		return nil, errors.New("value is not an instance of expected class")
	}
	return ctx.GetInstanceData(val)
}

// IsInstanceOf reports whether val is an object of the given class.
func (ctx *Context) IsInstanceOf(val Value, expectedClassID ClassID) bool {
	if !val.IsObject() {
		return false
	}
	return ctx.rt.objectOf(ctx.raw(val)).classID == expectedClassID
}
