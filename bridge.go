package quickjs

import (
	"errors"
	"math"
	"math/big"
	"runtime"
	"strconv"
	"weak"

	"github.com/dop251/goja"
)

// =============================================================================
// CONTEXT VALUES IN GOJA
// =============================================================================

// toGoja converts a context value for the script engine. v is borrowed.
func (ev *gojaEvaluator) toGoja(v JSValue) goja.Value {
	r := ev.ctx.rt
	switch v.tag {
	case TagInt:
		return ev.vm.ToValue(int64(v.int32()))
	case TagFloat64:
		return ev.vm.ToValue(v.float64())
	case TagBool:
		return ev.vm.ToValue(v.u != 0)
	case TagNull:
		return goja.Null()
	case TagString:
		return ev.vm.ToValue(r.stringOf(v))
	case TagBigInt:
		return ev.vm.ToValue(r.cellOf(v).bigInt)
	case TagBigFloat:
		f, _ := r.cellOf(v).bigFloat.Float64()
		return ev.vm.ToValue(f)
	case TagBigDecimal:
		f, err := r.cellOf(v).bigDec.Float64()
		if err != nil {
			f = math.NaN()
		}
		return ev.vm.ToValue(f)
	case TagSymbol:
		return ev.symbolOf(r.cellOf(v).atom)
	case TagObject:
		return ev.objectToGoja(v)
	}
	return goja.Undefined()
}

func (ev *gojaEvaluator) objectToGoja(v JSValue) goja.Value {
	r := ev.ctx.rt
	obj := r.objectOf(v)
	if h, ok := obj.internal.(*gojaHandle); ok && h.ev == ev {
		return h.obj
	}
	if p, ok := ev.aliases[v]; ok {
		return p
	}
	if wp, ok := ev.wrappers[v]; ok {
		if o := wp.Value(); o != nil {
			return o
		}
	}
	switch obj.classID {
	case ClassNumber, ClassString, ClassBoolean, ClassSymbol:
		return ev.toGoja(obj.primitive).ToObject(ev.vm)
	case ClassArray:
		o := ev.vm.NewDynamicArray(&hostArray{ev: ev, v: v})
		ev.register(v, o)
		return o
	}
	if r.isCallable(v) {
		return ev.wrapFunction(v)
	}
	o := ev.vm.NewDynamicObject(&hostObject{ev: ev, v: v})
	ev.register(v, o)
	if obj.proto.tag == TagObject {
		if proto, ok := ev.toGoja(obj.proto).(*goja.Object); ok {
			_ = o.SetPrototype(proto)
		}
	}
	return o
}

// register ties the lifetime of a context object to its wrapper: the wrapper holds a reference
// until the Go collector reclaims it.
func (ev *gojaEvaluator) register(v JSValue, o *goja.Object) {
	ev.ctx.rt.dup(v)
	ev.held[v]++
	wp := weak.Make(o)
	ev.wrappers[v] = wp
	ev.hosts[wp] = v
	runtime.AddCleanup(o, ev.dead.add, deadRef{v: v, wp: wp})
}

// symbolOf returns the goja symbol standing for a symbol atom.
func (ev *gojaEvaluator) symbolOf(a JSAtom) *goja.Symbol {
	if s, ok := ev.symbols[a]; ok {
		return s
	}
	atoms := ev.ctx.rt.atoms
	s := goja.NewSymbol(atoms.toString(a))
	ev.symbols[atoms.dup(a)] = s
	ev.symbolAtoms[s] = a
	return s
}

// atomOfSymbol returns the borrowed symbol atom standing for a goja symbol.
func (ev *gojaEvaluator) atomOfSymbol(s *goja.Symbol) JSAtom {
	if a, ok := ev.symbolAtoms[s]; ok {
		return a
	}
	a := ev.ctx.rt.atoms.newSymbol(s.String(), atomKindSymbol)
	ev.symbols[a] = s
	ev.symbolAtoms[s] = a
	return a
}

// propertyKey converts an atom into a goja property key.
func (ev *gojaEvaluator) propertyKey(a JSAtom) goja.Value {
	atoms := ev.ctx.rt.atoms
	switch {
	case a.isInt():
		return ev.vm.ToValue(int64(a &^ atomTagInt))
	case atoms.kind(a) != atomKindString:
		return ev.symbolOf(a)
	}
	return ev.vm.ToValue(atoms.toString(a))
}

// =============================================================================
// GOJA VALUES IN THE CONTEXT
// =============================================================================

// toArena converts a goja value into an owned context value. It returns the Exception value
// when the context runs out of memory.
func (ev *gojaEvaluator) toArena(gv goja.Value) JSValue {
	ctx, r := ev.ctx, ev.ctx.rt
	switch {
	case gv == nil || goja.IsUndefined(gv):
		return Undefined
	case goja.IsNull(gv):
		return Null
	}
	switch x := gv.(type) {
	case *goja.Symbol:
		v, err := r.symbolFromAtom(ev.atomOfSymbol(x))
		if err != nil {
			return ctx.throwOutOfMemory()
		}
		return v
	case *goja.Object:
		return ev.objectToArena(x)
	}
	switch x := gv.Export().(type) {
	case bool:
		return MakeBool(x)
	case int64:
		if x >= math.MinInt32 && x <= math.MaxInt32 {
			return MakeInt(int32(x))
		}
		return MakeFloat(float64(x))
	case float64:
		return MakeFloat(x)
	case string:
		return ctx.newStringValue(x)
	case *big.Int:
		v, err := r.newBigInt(x)
		if err != nil {
			return ctx.throwOutOfMemory()
		}
		return v
	}
	return ctx.newStringValue(gv.String())
}

func (ev *gojaEvaluator) objectToArena(o *goja.Object) JSValue {
	ctx, r := ev.ctx, ev.ctx.rt
	if v, ok := ev.hosts[weak.Make(o)]; ok {
		return r.dup(v)
	}
	if v, ok := ev.intrinsic[o]; ok {
		return r.dup(v)
	}
	if v, ok := ev.mirrors[o]; ok {
		return r.dup(v)
	}
	if o.ClassName() == "Error" {
		return ev.errorToArena(o)
	}
	_, callable := goja.AssertFunction(o)
	_, ctor := goja.AssertConstructor(o)
	v := ctx.newScriptObject(&gojaHandle{ev: ev, obj: o}, callable, ctor)
	if v.IsException() {
		return v
	}
	ev.mirrors[o] = v
	return v
}

// errorToArena copies a goja error into a context error object, so that the host sees its
// name, message and stack.
func (ev *gojaEvaluator) errorToArena(o *goja.Object) JSValue {
	ctx := ev.ctx
	str := func(name string) string {
		if gv := o.Get(name); gv != nil && !goja.IsUndefined(gv) {
			return gv.String()
		}
		return ""
	}
	name := str("name")
	kind := ErrorKindOf(name)
	v := ctx.newErrorObject(kind, str("message"))
	if v.IsException() {
		return v
	}
	flags := PropertyWritable | PropertyConfigurable
	if name != "" && name != kind.String() {
		ctx.defineValue(v, atomName, ctx.newStringValue(name), flags)
	}
	if stack := str("stack"); stack != "" {
		ctx.defineValue(v, atomStack, ctx.newStringValue(stack), flags)
	}
	for _, key := range []string{"cause", "errors"} {
		if gv := o.Get(key); gv != nil {
			ctx.defineValueStr(v, key, ev.toArena(gv), flags)
		}
	}
	for _, key := range o.Keys() {
		switch key {
		case "name", "message", "stack", "cause", "errors":
			continue
		}
		ctx.defineValueStr(v, key, ev.toArena(o.Get(key)), PropertyDefault)
	}
	return v
}

// =============================================================================
// HOST OBJECTS
// =============================================================================

// hostObject exposes the own properties of a context object to scripts. Inherited properties
// are resolved through the goja prototype, which is the wrapper of the context prototype.
type hostObject struct {
	ev *gojaEvaluator
	v  JSValue
}

func (h *hostObject) atom(key string) JSAtom {
	return h.ev.ctx.rt.atoms.newAtom(key)
}

func (h *hostObject) has(prop JSAtom) int {
	ctx := h.ev.ctx
	if ctx.exoticOf(ctx.rt.objectOf(h.v), 0) != nil {
		return ctx.hasProperty(h.v, prop)
	}
	return ctx.getOwnPropertyInternal(nil, h.v, prop)
}

func (h *hostObject) Get(key string) goja.Value {
	ev, r := h.ev, h.ev.ctx.rt
	prop := h.atom(key)
	defer r.atoms.free(prop)
	switch h.has(prop) {
	case 0:
		return h.inheritedAccessor(prop)
	case -1:
		return ev.throwIntoGoja()
	}
	res := ev.ctx.getProperty(h.v, prop, h.v)
	if res.IsException() {
		return ev.throwIntoGoja()
	}
	defer r.free(res)
	return ev.toGoja(res)
}

// inheritedAccessor runs a getter found on a host prototype with the object itself as this.
// goja resolves inherited properties on the prototype wrapper, which would bind this to the
// prototype. Data properties and intrinsic prototypes are left to goja.
func (h *hostObject) inheritedAccessor(prop JSAtom) goja.Value {
	ev, r := h.ev, h.ev.ctx.rt
	cur := r.objectOf(h.v).proto
	for cur.tag == TagObject {
		if _, ok := ev.aliases[cur]; ok {
			return nil
		}
		if sh, ok := scriptHandleOf(r, cur).(*gojaHandle); ok && sh.ev == ev {
			next, owned := ev.nextHostProto(sh.obj, prop)
			if owned {
				return nil
			}
			cur = next
			continue
		}
		obj := r.objectOf(cur)
		if ev.ctx.exoticOf(obj, 0) != nil {
			return nil
		}
		if p, ok := obj.props[prop]; ok {
			if !p.isAccessor() {
				return nil
			}
			getter := r.dup(p.getter)
			defer r.free(getter)
			res := ev.ctx.callGetter(getter, h.v)
			if res.IsException() {
				return ev.throwIntoGoja()
			}
			defer r.free(res)
			return ev.toGoja(res)
		}
		cur = obj.proto
	}
	return nil
}

func (h *hostObject) Set(key string, val goja.Value) bool {
	ev, r := h.ev, h.ev.ctx.rt
	v := ev.toArena(val)
	if v.IsException() {
		ev.throwIntoGoja()
		return false
	}
	prop := h.atom(key)
	defer r.atoms.free(prop)
	// goja has already searched the script side of the prototype chain for a setter before
	// calling Set; going through mirror traps again would loop back here.
	flags := PropertyThrow
	if ev.ctx.exoticOf(r.objectOf(h.v), 0) == nil {
		flags |= PropertyNoExotic
	}
	code := ev.ctx.setProperty(h.v, prop, v, h.v, flags)
	if code < 0 {
		ev.throwIntoGoja()
	}
	return code > 0
}

func (h *hostObject) Has(key string) bool {
	prop := h.atom(key)
	defer h.ev.ctx.rt.atoms.free(prop)
	code := h.has(prop)
	if code < 0 {
		h.ev.throwIntoGoja()
	}
	return code > 0
}

func (h *hostObject) Delete(key string) bool {
	prop := h.atom(key)
	defer h.ev.ctx.rt.atoms.free(prop)
	code := h.ev.ctx.deleteProperty(h.v, prop, 0)
	if code < 0 {
		h.ev.throwIntoGoja()
	}
	return code > 0
}

func (h *hostObject) Keys() []string {
	ctx := h.ev.ctx
	tab, code := ctx.getOwnPropertyNamesInternal(h.v, GPNStringMask|GPNEnumOnly)
	if code < 0 {
		h.ev.throwIntoGoja()
		return nil
	}
	defer ctx.freePropertyEnum(tab)
	keys := make([]string, len(tab))
	for i, e := range tab {
		keys[i] = ctx.atomName(e.atom)
	}
	return keys
}

// nextHostProto follows the goja prototype chain from o. It reports owned when a script object
// on the way has prop, and otherwise returns the first context object reached, or Null.
func (ev *gojaEvaluator) nextHostProto(o *goja.Object, prop JSAtom) (JSValue, bool) {
	key := ev.propertyKey(prop)
	for ; o != nil; o = o.Prototype() {
		if v, ok := ev.hosts[weak.Make(o)]; ok {
			return v, false
		}
		if _, ok := ev.intrinsic[o]; ok {
			return Null, true
		}
		d, err := ev.reflect.getOwnPropertyDescriptor(goja.Undefined(), o, key)
		if err != nil || !goja.IsUndefined(d) {
			return Null, true
		}
	}
	return Null, false
}

// hostArray exposes a context array to scripts as a goja array.
type hostArray struct {
	ev *gojaEvaluator
	v  JSValue
}

func (a *hostArray) Len() int {
	ctx := a.ev.ctx
	res := ctx.getProperty(a.v, atomLength, a.v)
	if res.IsException() {
		a.ev.throwIntoGoja()
		return 0
	}
	n, _ := ctx.toNumber(res)
	ctx.rt.free(res)
	return int(n)
}

func (a *hostArray) Get(idx int) goja.Value {
	if idx < 0 || idx > MaxAtomInt {
		return nil
	}
	ctx := a.ev.ctx
	res := ctx.getProperty(a.v, atomFromUint32(uint32(idx)), a.v)
	if res.IsException() {
		return a.ev.throwIntoGoja()
	}
	defer ctx.rt.free(res)
	return a.ev.toGoja(res)
}

func (a *hostArray) Set(idx int, val goja.Value) bool {
	if idx < 0 || idx > MaxAtomInt {
		return false
	}
	return a.set(atomFromUint32(uint32(idx)), a.ev.toArena(val))
}

func (a *hostArray) SetLen(n int) bool {
	return a.set(atomLength, MakeFloat(float64(n)))
}

// set stores v, which is consumed.
func (a *hostArray) set(prop JSAtom, v JSValue) bool {
	if v.IsException() {
		a.ev.throwIntoGoja()
		return false
	}
	code := a.ev.ctx.setProperty(a.v, prop, v, a.v, PropertyThrow)
	if code < 0 {
		a.ev.throwIntoGoja()
	}
	return code > 0
}

// wrapFunction creates a goja function that calls the context function v. Static properties
// are copied once; the prototype is the wrapper of the context prototype, so instanceof holds
// on both sides.
func (ev *gojaEvaluator) wrapFunction(v JSValue) goja.Value {
	ctx, r := ev.ctx, ev.ctx.rt
	invoke := func(call goja.FunctionCall) goja.Value {
		return ev.invoke(v, call.Arguments)
	}
	res, err := ev.functionFactory(goja.Undefined(), ev.vm.ToValue(invoke))
	if err != nil {
		panic(err)
	}
	fn := res.(*goja.Object)
	ev.register(v, fn)

	name := ""
	if nv := ctx.getProperty(v, atomName, v); !nv.IsException() {
		name, _ = ctx.toGoString(nv)
		r.free(nv)
	} else {
		r.free(ctx.takeException())
	}
	length := 0.0
	if lv := ctx.getProperty(v, atomLength, v); !lv.IsException() {
		length, _ = ctx.toNumber(lv)
		r.free(lv)
	} else {
		r.free(ctx.takeException())
	}
	_ = fn.DefineDataProperty("name", ev.vm.ToValue(name), goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE)
	_ = fn.DefineDataProperty("length", ev.vm.ToValue(int64(length)), goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE)

	tab, code := ctx.getOwnPropertyNamesInternal(v, GPNStringMask)
	if code < 0 {
		r.free(ctx.takeException())
		return fn
	}
	defer ctx.freePropertyEnum(tab)
	for _, e := range tab {
		switch e.atom {
		case atomName, atomLength:
			continue
		}
		pv := ctx.getProperty(v, e.atom, v)
		if pv.IsException() {
			r.free(ctx.takeException())
			continue
		}
		gv := ev.toGoja(pv)
		r.free(pv)
		if e.atom == atomPrototype {
			_ = fn.DefineDataProperty("prototype", gv, goja.FLAG_TRUE, goja.FLAG_FALSE, goja.FLAG_FALSE)
			continue
		}
		enumerable := goja.FLAG_FALSE
		if e.enumerable {
			enumerable = goja.FLAG_TRUE
		}
		_ = fn.DefineDataProperty(ctx.atomName(e.atom), gv, goja.FLAG_TRUE, goja.FLAG_TRUE, enumerable)
	}
	return fn
}

// invoke runs a context function for a script. args starts with new.target and this.
func (ev *gojaEvaluator) invoke(fn JSValue, args []goja.Value) goja.Value {
	if ev.closed {
		panic(ev.vm.NewGoError(ErrRuntimeClosed))
	}
	ctx, r := ev.ctx, ev.ctx.rt
	for len(args) < 2 {
		args = append(args, goja.Undefined())
	}
	var flags CallFlags
	thisArg := args[1]
	if !goja.IsUndefined(args[0]) {
		flags |= CallFlagConstructor
		thisArg = args[0]
	}

	ev.syncOut()
	raw := make([]JSValue, 0, len(args)-1)
	defer func() {
		for _, a := range raw {
			r.free(a)
		}
	}()
	for _, a := range append([]goja.Value{thisArg}, args[2:]...) {
		v := ev.toArena(a)
		if v.IsException() {
			return ev.throwIntoGoja()
		}
		raw = append(raw, v)
	}
	res := ctx.callInternal(fn, raw[0], raw[1:], flags)
	ev.syncIn()
	if res.IsException() {
		return ev.throwIntoGoja()
	}
	defer r.free(res)
	return ev.toGoja(res)
}

// =============================================================================
// SCRIPT OBJECTS
// =============================================================================

// gojaHandle is the internal data of context objects that mirror a goja object. The property
// traps go through Reflect so that proxies, accessors and exotic goja objects behave as they do
// in scripts.
type gojaHandle struct {
	ev  *gojaEvaluator
	obj *goja.Object
}

func (h *gojaHandle) call(ctx *Context, this JSValue, args []JSValue, flags CallFlags) JSValue {
	ev := h.ev
	if ev.closed {
		return ctx.throwHostError(ErrRuntimeClosed)
	}
	gargs := make([]goja.Value, len(args))
	for i, a := range args {
		gargs[i] = ev.toGoja(a)
	}
	var res goja.Value
	err := ev.enter(func() error {
		if flags&CallFlagConstructor != 0 {
			ctor, ok := goja.AssertConstructor(h.obj)
			if !ok {
				return errors.New("TypeError: not a constructor")
			}
			newTarget, _ := ev.toGoja(this).(*goja.Object)
			o, err := ctor(newTarget, gargs...)
			if err == nil {
				res = o
			}
			return err
		}
		fn, ok := goja.AssertFunction(h.obj)
		if !ok {
			return errors.New("TypeError: not a function")
		}
		var err error
		res, err = fn(ev.toGoja(this), gargs...)
		return err
	})
	if err != nil {
		return ev.throwFromGoja(err)
	}
	return ev.toArena(res)
}

// reflect runs a Reflect function; failures are thrown on the context.
func (h *gojaHandle) reflect(fn goja.Callable, args ...goja.Value) (goja.Value, error) {
	ev := h.ev
	var res goja.Value
	err := ev.enter(func() (err error) {
		res, err = fn(goja.Undefined(), args...)
		return err
	})
	if err != nil {
		ev.throwFromGoja(err)
		return nil, err
	}
	return res, nil
}

func (h *gojaHandle) GetOwnProperty(ctx *Context, desc *PropertyDescriptor, _ Value, prop Atom) (bool, error) {
	ev := h.ev
	res, err := h.reflect(ev.reflect.getOwnPropertyDescriptor, h.obj, ev.propertyKey(prop.ref))
	if err != nil {
		return false, err
	}
	d, ok := res.(*goja.Object)
	if !ok {
		return false, nil
	}
	if desc == nil {
		return true, nil
	}
	flag := func(name string, f PropertyFlags) PropertyFlags {
		if gv := d.Get(name); gv != nil && gv.ToBoolean() {
			return f
		}
		return 0
	}
	desc.Flags = flag("configurable", PropertyConfigurable) | flag("enumerable", PropertyEnumerable)
	get, set := d.Get("get"), d.Get("set")
	if get != nil || set != nil {
		desc.Flags |= PropertyGetSet
		desc.Getter = ctx.wrap(ev.toArena(get))
		desc.Setter = ctx.wrap(ev.toArena(set))
		return true, nil
	}
	desc.Flags |= flag("writable", PropertyWritable)
	desc.Value = ctx.wrap(ev.toArena(d.Get("value")))
	return true, nil
}

func (h *gojaHandle) GetOwnPropertyNames(ctx *Context, _ Value) ([]PropertyEnum, error) {
	ev, r := h.ev, ctx.rt
	res, err := h.reflect(ev.reflect.ownKeys, h.obj)
	if err != nil {
		return nil, err
	}
	keys := res.ToObject(ev.vm)
	n := keys.Get("length").ToInteger()
	names := make([]PropertyEnum, 0, n)
	for i := int64(0); i < n; i++ {
		var a JSAtom
		switch k := keys.Get(strconv.FormatInt(i, 10)).(type) {
		case *goja.Symbol:
			a = r.atoms.dup(ev.atomOfSymbol(k))
		default:
			a = r.atoms.newAtom(k.String())
		}
		names = append(names, PropertyEnum{Atom: ctx.wrapAtom(a)})
	}
	return names, nil
}

func (h *gojaHandle) DeleteProperty(_ *Context, _ Value, prop Atom) (bool, error) {
	res, err := h.reflect(h.ev.reflect.deleteProperty, h.obj, h.ev.propertyKey(prop.ref))
	if err != nil {
		return false, err
	}
	return res.ToBoolean(), nil
}

func (h *gojaHandle) DefineOwnProperty(ctx *Context, _ Value, prop Atom, val, getter, setter Value, flags PropertyFlags) (bool, error) {
	ev := h.ev
	d := ev.vm.NewObject()
	set := func(name string, has PropertyFlags, v goja.Value) {
		if flags&has != 0 {
			_ = d.Set(name, v)
		}
	}
	set("configurable", PropertyHasConfigurable, ev.vm.ToValue(flags&PropertyConfigurable != 0))
	set("enumerable", PropertyHasEnumerable, ev.vm.ToValue(flags&PropertyEnumerable != 0))
	set("writable", PropertyHasWritable, ev.vm.ToValue(flags&PropertyWritable != 0))
	if flags&PropertyHasValue != 0 {
		_ = d.Set("value", ev.toGoja(val.ref))
	}
	if flags&PropertyHasGet != 0 {
		_ = d.Set("get", ev.toGoja(getter.ref))
	}
	if flags&PropertyHasSet != 0 {
		_ = d.Set("set", ev.toGoja(setter.ref))
	}
	res, err := h.reflect(ev.reflect.defineProperty, h.obj, ev.propertyKey(prop.ref), d)
	if err != nil {
		return false, err
	}
	if !res.ToBoolean() && flags&PropertyThrow != 0 {
		ctx.throwError(TypeError, "cannot define property '%s'", prop.String())
		return false, nil
	}
	return res.ToBoolean(), nil
}

func (h *gojaHandle) HasProperty(_ *Context, _ Value, prop Atom) (bool, error) {
	res, err := h.reflect(h.ev.reflect.has, h.obj, h.ev.propertyKey(prop.ref))
	if err != nil {
		return false, err
	}
	return res.ToBoolean(), nil
}

func (h *gojaHandle) receiver(obj, receiver Value) goja.Value {
	if receiver.ctx == nil || receiver.ref == obj.ref {
		return h.obj
	}
	return h.ev.toGoja(receiver.ref)
}

func (h *gojaHandle) GetProperty(ctx *Context, obj Value, prop Atom, receiver Value) (Value, error) {
	ev := h.ev
	res, err := h.reflect(ev.reflect.get, h.obj, ev.propertyKey(prop.ref), h.receiver(obj, receiver))
	if err != nil {
		return Value{}, err
	}
	return ctx.wrap(ev.toArena(res)), nil
}

func (h *gojaHandle) SetProperty(ctx *Context, obj Value, prop Atom, val, receiver Value, flags PropertyFlags) (bool, error) {
	ev := h.ev
	res, err := h.reflect(ev.reflect.set, h.obj, ev.propertyKey(prop.ref), ev.toGoja(val.ref), h.receiver(obj, receiver))
	if err != nil {
		return false, err
	}
	if !res.ToBoolean() && flags&PropertyThrow != 0 {
		ctx.throwError(TypeError, "cannot set property '%s'", prop.String())
		return false, nil
	}
	return res.ToBoolean(), nil
}

func (h *gojaHandle) className() string {
	return h.obj.ClassName()
}

func (h *gojaHandle) owner() Evaluator {
	return h.ev
}

func (h *gojaHandle) instanceOf(_ *Context, ctor JSValue) (bool, error) {
	res, err := h.reflect(h.ev.instanceOf, h.obj, h.ev.toGoja(ctor))
	if err != nil {
		return false, err
	}
	return res.ToBoolean(), nil
}

func (h *gojaHandle) promiseState(*Context) (PromiseState, JSValue, bool) {
	if h.ev.closed {
		return PromisePending, Undefined, false
	}
	p, ok := h.obj.Export().(*goja.Promise)
	if !ok {
		return PromisePending, Undefined, false
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return PromiseFulfilled, h.ev.toArena(p.Result()), true
	case goja.PromiseStateRejected:
		return PromiseRejected, h.ev.toArena(p.Result()), true
	}
	return PromisePending, Undefined, true
}

// release is called when the mirror object is finalized.
func (h *gojaHandle) release(*Runtime) {
	if h.ev.mirrors != nil {
		delete(h.ev.mirrors, h.obj)
	}
}
