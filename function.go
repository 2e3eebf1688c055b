package quickjs

// FunctionFunc is the signature of host functions created with Context.Function. this and args
// are borrowed; the returned value is owned by the caller. Return the value of one of the
// Context.Throw helpers to raise an exception.
type FunctionFunc func(ctx *Context, this Value, args []Value) Value

// cfunction is the internal data of ClassCFunction objects.
type cfunction struct {
	name   string
	length int
	call   ClassCallFunc
}

func callCFunction(ctx *Context, funcObj, this Value, args []Value, flags CallFlags) (Value, error) {
	cf, ok := ctx.rt.objectOf(funcObj.ref).internal.(*cfunction)
	if !ok {
		return Value{}, ErrNotSupported
	}
	return cf.call(ctx, funcObj, this, args, flags)
}

// newCFunction creates a host function object. The function is a constructor when ctor is set.
func (ctx *Context) newCFunction(name string, length int, call ClassCallFunc, ctor bool) JSValue {
	v := ctx.newObjectProtoClass(ctx.functionProto, ClassCFunction)
	if v.IsException() {
		return v
	}
	obj := ctx.rt.objectOf(v)
	obj.internal = &cfunction{name: name, length: length, call: call}
	obj.constructor = ctor
	if ctx.defineValue(v, atomName, ctx.newStringValue(name), PropertyConfigurable) < 0 ||
		ctx.defineValue(v, atomLength, MakeInt(int32(length)), PropertyConfigurable) < 0 {
		ctx.rt.free(v)
		return Exception
	}
	return v
}

// NewCFunction creates a host function with the full call trap signature. When ctor is true
// the function can be invoked with new; flags then carry CallFlagConstructor.
func (ctx *Context) NewCFunction(name string, length int, fn ClassCallFunc, ctor bool) Value {
	ctx.rt.mustOwn()
	return ctx.wrap(ctx.newCFunction(name, length, fn, ctor))
}

// Function returns a js function value with given function template.
func (ctx *Context) Function(fn FunctionFunc) Value {
	return ctx.NewFunction("", fn)
}

// NewFunction returns a named js function value with given function template.
func (ctx *Context) NewFunction(name string, fn FunctionFunc) Value {
	ctx.rt.mustOwn()
	call := func(ctx *Context, _ Value, this Value, args []Value, _ CallFlags) (Value, error) {
		return fn(ctx, this, args), nil
	}
	return ctx.wrap(ctx.newCFunction(name, 0, call, false))
}

// SetConstructorBit marks or unmarks an object as a constructor. It reports false for values
// that are not objects.
func (ctx *Context) SetConstructorBit(v Value, isConstructor bool) bool {
	ctx.rt.mustOwn()
	ref := ctx.raw(v)
	if ref.tag != TagObject {
		return false
	}
	ctx.rt.objectOf(ref).constructor = isConstructor
	return true
}

// maxCallDepth bounds host level recursion through call traps.
const maxCallDepth = 1000

// callInternal invokes the call trap of fn. this and args are borrowed; the result is owned.
func (ctx *Context) callInternal(fn, this JSValue, args []JSValue, flags CallFlags) JSValue {
	r := ctx.rt
	if fn.tag != TagObject {
		return ctx.throwError(TypeError, "not a function")
	}
	obj := r.objectOf(fn)
	entry := r.classes.lookup(obj.classID)
	if entry == nil || entry.def.Call == nil {
		return ctx.throwError(TypeError, "not a function")
	}
	if flags&CallFlagConstructor != 0 && !obj.constructor {
		return ctx.throwError(TypeError, "not a constructor")
	}
	if ctx.callDepth >= maxCallDepth {
		return ctx.throwError(InternalError, "stack overflow")
	}
	ctx.callDepth++
	defer func() { ctx.callDepth-- }()

	wargs := make([]Value, len(args))
	for i, a := range args {
		wargs[i] = ctx.wrap(a)
	}
	var res Value
	switch ctx.runHook(func() (err error) {
		res, err = entry.def.Call(ctx, ctx.wrap(fn), ctx.wrap(this), wargs, flags)
		return err
	}) {
	case hookDefault:
		return ctx.throwError(TypeError, "not a function")
	case hookFailed:
		if res.ctx != nil && !res.IsException() {
			res.Free()
		}
		return Exception
	}
	return ctx.rawOrUndefined(res)
}

func (ctx *Context) callConstructorInternal(fn, newTarget JSValue, args []JSValue) JSValue {
	return ctx.callInternal(fn, newTarget, args, CallFlagConstructor)
}

func (ctx *Context) rawArgs(args []Value) []JSValue {
	raw := make([]JSValue, len(args))
	for i, a := range args {
		raw[i] = ctx.raw(a)
	}
	return raw
}

// Call calls fn with the given this and arguments and returns the result. On exception the
// result is the Exception value and the exception is pending on ctx.
func (ctx *Context) Call(fn, this Value, args ...Value) Value {
	ctx.rt.mustOwn()
	return ctx.wrap(ctx.callInternal(ctx.raw(fn), ctx.raw(this), ctx.rawArgs(args), 0))
}

// CallConstructor invokes fn as a constructor. A zero newTarget defaults to fn.
func (ctx *Context) CallConstructor(fn, newTarget Value, args ...Value) Value {
	ctx.rt.mustOwn()
	target := ctx.raw(fn)
	if newTarget.ctx != nil {
		target = ctx.raw(newTarget)
	}
	return ctx.wrap(ctx.callConstructorInternal(ctx.raw(fn), target, ctx.rawArgs(args)))
}
