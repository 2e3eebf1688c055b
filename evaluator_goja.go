package quickjs

import (
	"bytes"
	"errors"
	"sync"
	"weak"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

func init() {
	RegisterEvaluator(EvaluatorGoja, newGojaEvaluator)
}

// gojaFrameSize converts the stack size option, in bytes, into a goja call depth.
const gojaFrameSize = 512

const functionFactorySource = `(function (invoke) {
	"use strict";
	return function () { return invoke(new.target, this, ...arguments); };
})`

const instanceOfSource = `(function (o, c) { return o instanceof c; })`

// gojaEvaluator runs scripts on a goja runtime. Context objects are exposed to scripts through
// wrappers; script objects are exposed to the host through mirror objects whose property traps
// call back into goja.
type gojaEvaluator struct {
	ctx *Context
	vm  *goja.Runtime

	// host objects wrapped for scripts, by value and by wrapper
	wrappers map[JSValue]weak.Pointer[goja.Object]
	hosts    map[weak.Pointer[goja.Object]]JSValue
	held     map[JSValue]int // references owned by live wrappers
	dead     *deadWrappers

	// script objects mirrored on the host side; the mirror owns the entry
	mirrors map[*goja.Object]JSValue

	symbols     map[JSAtom]*goja.Symbol
	symbolAtoms map[*goja.Symbol]JSAtom

	// intrinsic prototypes shared by both sides
	aliases   map[JSValue]*goja.Object
	intrinsic map[*goja.Object]JSValue

	reflect struct {
		get, set, has, deleteProperty, defineProperty goja.Callable
		ownKeys, getOwnPropertyDescriptor             goja.Callable
	}
	instanceOf      goja.Callable
	functionFactory goja.Callable

	synced map[string]*syncedGlobal

	depth      int
	hostErrs   map[*goja.Object]error
	abort      *uncatchableThrow
	stopSignal func()
	closed     bool
}

// syncedGlobal is the last value of a global seen on both sides.
type syncedGlobal struct {
	host   JSValue // owned
	script goja.Value
}

// uncatchableThrow carries an uncatchable host exception out of a running script.
type uncatchableThrow struct {
	value JSValue // owned
	host  error
}

// deadWrappers collects the references of wrappers reclaimed by the Go collector. Cleanups run
// on their own goroutine; the owner drains the list before entering the script engine.
type deadWrappers struct {
	mu     sync.Mutex
	closed bool
	refs   []deadRef
}

type deadRef struct {
	v  JSValue
	wp weak.Pointer[goja.Object]
}

func (d *deadWrappers) add(ref deadRef) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.refs = append(d.refs, ref)
	}
}

func (d *deadWrappers) take() []deadRef {
	d.mu.Lock()
	defer d.mu.Unlock()
	refs := d.refs
	d.refs = nil
	return refs
}

func newGojaEvaluator(ctx *Context) (Evaluator, error) {
	vm := goja.New()
	ev := &gojaEvaluator{
		ctx:         ctx,
		vm:          vm,
		wrappers:    make(map[JSValue]weak.Pointer[goja.Object]),
		hosts:       make(map[weak.Pointer[goja.Object]]JSValue),
		held:        make(map[JSValue]int),
		dead:        &deadWrappers{},
		mirrors:     make(map[*goja.Object]JSValue),
		symbols:     make(map[JSAtom]*goja.Symbol),
		symbolAtoms: make(map[*goja.Symbol]JSAtom),
		aliases:     make(map[JSValue]*goja.Object),
		intrinsic:   make(map[*goja.Object]JSValue),
		synced:      make(map[string]*syncedGlobal),
		hostErrs:    make(map[*goja.Object]error),
	}
	if size := ctx.rt.options.maxStackSize; size > 0 {
		depth := int(size / gojaFrameSize)
		if depth < 16 {
			depth = 16
		}
		vm.SetMaxCallStackSize(depth)
	}

	reflect := vm.Get("Reflect").ToObject(vm)
	for name, dst := range map[string]*goja.Callable{
		"get":                      &ev.reflect.get,
		"set":                      &ev.reflect.set,
		"has":                      &ev.reflect.has,
		"deleteProperty":           &ev.reflect.deleteProperty,
		"defineProperty":           &ev.reflect.defineProperty,
		"ownKeys":                  &ev.reflect.ownKeys,
		"getOwnPropertyDescriptor": &ev.reflect.getOwnPropertyDescriptor,
	} {
		fn, ok := goja.AssertFunction(reflect.Get(name))
		if !ok {
			return nil, errors.New("goja: Reflect." + name + " is not a function")
		}
		*dst = fn
	}
	var err error
	if ev.instanceOf, err = ev.helper(instanceOfSource); err != nil {
		return nil, err
	}
	if ev.functionFactory, err = ev.helper(functionFactorySource); err != nil {
		return nil, err
	}

	ev.alias(ctx.objectProto, "Object")
	ev.alias(ctx.functionProto, "Function")
	ev.alias(ctx.arrayProto, "Array")
	ev.alias(ctx.errorProto, "Error")
	for i, p := range ctx.nativeErrorProtos {
		ev.alias(p, ErrorKind(i+1).String())
	}
	for id, name := range map[ClassID]string{ClassNumber: "Number", ClassString: "String", ClassBoolean: "Boolean", ClassSymbol: "Symbol"} {
		ev.alias(ctx.classProtos[id], name)
	}

	vm.SetPromiseRejectionTracker(ev.trackRejection)
	return ev, nil
}

func (ev *gojaEvaluator) helper(src string) (goja.Callable, error) {
	v, err := ev.vm.RunString(src)
	if err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, errors.New("goja: helper is not a function")
	}
	return fn, nil
}

// alias links a context prototype with the prototype of the goja built-in of the same name.
func (ev *gojaEvaluator) alias(proto JSValue, name string) {
	ctor := ev.vm.Get(name)
	if ctor == nil || proto.tag != TagObject {
		return
	}
	p, ok := ctor.ToObject(ev.vm).Get("prototype").(*goja.Object)
	if !ok {
		return
	}
	ev.aliases[proto] = p
	ev.intrinsic[p] = proto
}

// =============================================================================
// EVALUATOR INTERFACE
// =============================================================================

func (ev *gojaEvaluator) Eval(code string, opts *EvalOptions) Value {
	program, err := ev.Compile(code, opts)
	if err != nil {
		return ev.ctx.wrap(ev.ctx.throwCompileError(err))
	}
	return ev.Run(program, opts)
}

func (ev *gojaEvaluator) Compile(code string, opts *EvalOptions) (any, error) {
	program, err := goja.Compile(opts.FileName, code, opts.Strict)
	if err != nil {
		var syntaxErr *goja.CompilerSyntaxError
		if errors.As(err, &syntaxErr) {
			return nil, &Error{Name: SyntaxError.String(), Message: syntaxErr.Error()}
		}
		name, msg := trimErrorPrefix(err.Error())
		if name == "" {
			name = SyntaxError.String()
		}
		return nil, &Error{Name: name, Message: msg}
	}
	return program, nil
}

func (ev *gojaEvaluator) Run(program any, _ *EvalOptions) Value {
	ctx := ev.ctx
	p, ok := program.(*goja.Program)
	if !ok {
		return ctx.wrap(ctx.throwError(TypeError, "program was compiled by another evaluator"))
	}
	var res goja.Value
	err := ev.enter(func() (err error) {
		res, err = ev.vm.RunProgram(p)
		return err
	})
	if err != nil {
		return ctx.wrap(ev.throwFromGoja(err))
	}
	return ctx.wrap(ev.toArena(res))
}

func (ev *gojaEvaluator) Global(name string) (Value, bool) {
	if ev.closed {
		return Value{}, false
	}
	v := ev.vm.GlobalObject().Get(name)
	if v == nil {
		return Value{}, false
	}
	return ev.ctx.wrap(ev.toArena(v)), true
}

func (ev *gojaEvaluator) Backtrace() string {
	if ev.closed || ev.ctx.rt.options.stripInfo&StripDebug != 0 {
		return ""
	}
	var buf bytes.Buffer
	for _, frame := range ev.vm.CaptureCallStack(0, nil) {
		buf.WriteString("    at ")
		frame.Write(&buf)
		buf.WriteByte('\n')
	}
	return buf.String()
}

func (ev *gojaEvaluator) Interrupt(reason error) {
	ev.vm.Interrupt(reason)
}

func (ev *gojaEvaluator) Close() {
	if ev.closed {
		return
	}
	ev.closed = true
	r := ev.ctx.rt
	ev.dead.mu.Lock()
	ev.dead.closed = true
	ev.dead.refs = nil
	ev.dead.mu.Unlock()

	for v, n := range ev.held {
		for ; n > 0; n-- {
			r.free(v)
		}
	}
	ev.held = nil
	ev.wrappers, ev.hosts = nil, nil
	for name, g := range ev.synced {
		r.free(g.host)
		delete(ev.synced, name)
	}
	for a := range ev.symbols {
		r.atoms.free(a)
	}
	ev.symbols, ev.symbolAtoms = nil, nil
	if ev.abort != nil {
		r.free(ev.abort.value)
		ev.abort = nil
	}
	ev.mirrors = map[*goja.Object]JSValue{}
}

// =============================================================================
// ENTERING THE ENGINE
// =============================================================================

// enter runs fn inside goja with the globals synchronized on both sides. The outermost call
// arms the watchdog.
func (ev *gojaEvaluator) enter(fn func() error) error {
	if ev.closed {
		return ErrRuntimeClosed
	}
	ev.drain()
	ev.syncIn()
	if ev.depth == 0 {
		clear(ev.hostErrs)
		ev.stopSignal = ev.ctx.rt.startWatchdog(ev)
	}
	ev.depth++
	err := ev.run(fn)
	ev.depth--
	if ev.depth == 0 {
		ev.stopSignal()
		ev.stopSignal = nil
		ev.vm.ClearInterrupt()
		if err == nil && ev.abort != nil {
			err = &goja.InterruptedError{}
		}
	}
	ev.syncOut()
	return err
}

// run converts the panics goja uses for exceptions thrown outside of a script frame.
func (ev *gojaEvaluator) run(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			switch x := p.(type) {
			case goja.Value:
				err = &thrownValue{value: x}
			case *goja.Exception:
				err = x
			default:
				panic(p)
			}
		}
	}()
	return fn()
}

// thrownValue is a goja value thrown from a callback that ran outside of a script frame.
type thrownValue struct {
	value goja.Value
}

func (t *thrownValue) Error() string {
	return t.value.String()
}

// drain releases the references of wrappers the Go collector reclaimed.
func (ev *gojaEvaluator) drain() {
	r := ev.ctx.rt
	for _, d := range ev.dead.take() {
		if n := ev.held[d.v]; n > 0 {
			if n == 1 {
				delete(ev.held, d.v)
			} else {
				ev.held[d.v] = n - 1
			}
			r.free(d.v)
		}
		delete(ev.hosts, d.wp)
		if wp, ok := ev.wrappers[d.v]; ok && wp.Value() == nil {
			delete(ev.wrappers, d.v)
		}
	}
}

// =============================================================================
// GLOBALS
// =============================================================================

// syncIn copies the globals the host changed into the script global object. A pending exception
// survives the copy.
func (ev *gojaEvaluator) syncIn() {
	ctx, r := ev.ctx, ev.ctx.rt
	saved := ctx.suspendException()
	defer func() {
		r.free(ctx.takeException())
		ctx.hostErr, ctx.uncatchable = nil, false
		ctx.resumeException(saved)
	}()
	global := ev.vm.GlobalObject()
	tab, code := ctx.getOwnPropertyNamesInternal(ctx.globals, GPNStringMask)
	if code < 0 {
		r.free(ctx.takeException())
		return
	}
	defer ctx.freePropertyEnum(tab)

	present := make(map[string]bool, len(tab))
	for _, p := range tab {
		name := ctx.atomName(p.atom)
		present[name] = true
		v := ctx.getProperty(ctx.globals, p.atom, ctx.globals)
		if v.IsException() {
			r.free(ctx.takeException())
			continue
		}
		if g, ok := ev.synced[name]; ok && g.host == v {
			r.free(v)
			continue
		}
		gv := ev.toGoja(v)
		if err := global.Set(name, gv); err != nil {
			r.logger.Debug("global not synchronized", zap.String("name", name), zap.Error(err))
			r.free(v)
			continue
		}
		ev.remember(name, v, gv)
	}
	for name, g := range ev.synced {
		if present[name] {
			continue
		}
		if cur := global.Get(name); cur != nil && cur.SameAs(g.script) {
			_ = global.Delete(name)
		}
		r.free(g.host)
		delete(ev.synced, name)
	}
}

// syncOut copies the globals the script created or changed back to the host global object.
func (ev *gojaEvaluator) syncOut() {
	if ev.closed {
		return
	}
	ctx, r := ev.ctx, ev.ctx.rt
	global := ev.vm.GlobalObject()
	seen := make(map[string]bool)
	update := func(name string, gv goja.Value) {
		if g, ok := ev.synced[name]; ok && g.script.SameAs(gv) {
			return
		}
		v := ev.toArena(gv)
		if v.IsException() {
			r.free(ctx.takeException())
			return
		}
		if ctx.setPropertyStr(ctx.globals, name, r.dup(v), 0) < 0 {
			r.free(ctx.takeException())
		}
		ev.remember(name, v, gv)
	}
	for _, name := range global.Keys() {
		seen[name] = true
		update(name, global.Get(name))
	}
	for name, g := range ev.synced {
		if seen[name] {
			continue
		}
		gv := global.Get(name)
		if gv == nil {
			prop := r.atoms.newAtom(name)
			if ctx.deleteProperty(ctx.globals, prop, 0) < 0 {
				r.free(ctx.takeException())
			}
			r.atoms.free(prop)
			r.free(g.host)
			delete(ev.synced, name)
			continue
		}
		update(name, gv)
	}
}

// remember records the synchronized pair; v is consumed.
func (ev *gojaEvaluator) remember(name string, v JSValue, gv goja.Value) {
	if g, ok := ev.synced[name]; ok {
		ev.ctx.rt.free(g.host)
		g.host, g.script = v, gv
		return
	}
	ev.synced[name] = &syncedGlobal{host: v, script: gv}
}

// =============================================================================
// EXCEPTIONS
// =============================================================================

// throwFromGoja makes the error returned by goja the pending exception.
func (ev *gojaEvaluator) throwFromGoja(err error) JSValue {
	ctx := ev.ctx
	var (
		ex          *goja.Exception
		interrupted *goja.InterruptedError
		thrown      *thrownValue
	)
	switch {
	case errors.As(err, &interrupted):
		if a := ev.abort; a != nil {
			ev.abort = nil
			ctx.throw(a.value)
			ctx.uncatchable, ctx.hostErr = true, a.host
			return Exception
		}
		reason, _ := interrupted.Value().(error)
		if reason == nil {
			reason = ErrInterrupted
		}
		if errors.Is(reason, ErrOutOfMemory) {
			ctx.throwOutOfMemory()
		} else {
			ctx.throwUncatchable(ErrInterrupted.Error())
		}
		ctx.hostErr = reason
		return Exception
	case errors.As(err, &ex):
		return ev.throwValue(ex.Value())
	case errors.As(err, &thrown):
		return ev.throwValue(thrown.value)
	case errors.Is(err, ErrRuntimeClosed):
		return ctx.throwHostError(err)
	}
	name, msg := trimErrorPrefix(err.Error())
	kind := InternalError
	if name != "" {
		kind = ErrorKindOf(name)
	}
	return ctx.throwError(kind, "%s", msg)
}

func (ev *gojaEvaluator) throwValue(gv goja.Value) JSValue {
	ctx := ev.ctx
	v := ev.toArena(gv)
	if v.IsException() {
		return v
	}
	ctx.throw(v)
	if obj, ok := gv.(*goja.Object); ok {
		ctx.hostErr = ev.hostErrs[obj]
	}
	return Exception
}

// throwIntoGoja rethrows the pending exception inside the running script. Uncatchable
// exceptions abort the script instead.
func (ev *gojaEvaluator) throwIntoGoja() goja.Value {
	ctx := ev.ctx
	host, uncatchable := ctx.hostErr, ctx.uncatchable
	ctx.hostErr, ctx.uncatchable = nil, false
	v := ctx.takeException()
	if uncatchable {
		if ev.abort != nil {
			ctx.rt.free(ev.abort.value)
		}
		ev.abort = &uncatchableThrow{value: v, host: host}
		ev.vm.Interrupt(ErrInterrupted)
		return goja.Undefined()
	}
	gv := ev.toGoja(v)
	ctx.rt.free(v)
	if obj, ok := gv.(*goja.Object); ok && host != nil {
		ev.hostErrs[obj] = host
	}
	panic(gv)
}

func (ev *gojaEvaluator) trackRejection(p *goja.Promise, op goja.PromiseRejectionOperation) {
	ctx, r := ev.ctx, ev.ctx.rt
	if r.rejectionTracker == nil || ev.closed {
		return
	}
	promise := ev.toArena(ev.vm.ToValue(p))
	reason := ev.toArena(p.Result())
	if promise.IsException() || reason.IsException() {
		r.free(ctx.takeException())
	} else {
		r.trackRejection(ctx, promise, reason, op == goja.PromiseRejectionHandle)
	}
	r.free(promise)
	r.free(reason)
}
