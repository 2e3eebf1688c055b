package quickjs

import (
	"strings"
)

// initIntrinsics creates the prototypes and constructors every context starts with. The
// evaluator supplies the rest of the standard library; these are the objects the engine itself
// needs to create errors, arrays, functions and boxed primitives.
func (ctx *Context) initIntrinsics() {
	ctx.objectProto = ctx.newObjectProtoClass(Null, ClassObject)
	ctx.functionProto = ctx.newObjectProtoClass(ctx.objectProto, ClassObject)
	ctx.arrayProto = ctx.newObjectProtoClass(ctx.objectProto, ClassArray)
	ctx.errorProto = ctx.newObjectProtoClass(ctx.objectProto, ClassObject)
	for i := range ctx.nativeErrorProtos {
		ctx.nativeErrorProtos[i] = ctx.newObjectProtoClass(ctx.errorProto, ClassObject)
	}
	for _, id := range []ClassID{ClassNumber, ClassString, ClassBoolean, ClassSymbol} {
		ctx.classProtos[id] = ctx.newObjectProtoClass(ctx.objectProto, ClassObject)
	}
	ctx.classProtos[ClassArray] = ctx.rt.dup(ctx.arrayProto)
	ctx.classProtos[ClassError] = ctx.rt.dup(ctx.errorProto)
	ctx.classProtos[ClassCFunction] = ctx.rt.dup(ctx.functionProto)
	ctx.classProtos[ClassBytecodeFunction] = ctx.rt.dup(ctx.functionProto)

	ctx.globals = ctx.newObjectProtoClass(ctx.objectProto, ClassGlobal)

	ctx.defineMethods(ctx.objectProto, map[string]FunctionFunc{
		"toString":       objectToString,
		"valueOf":        func(ctx *Context, this Value, _ []Value) Value { return this.Dup() },
		"hasOwnProperty": objectHasOwnProperty,
	})
	ctx.defineMethods(ctx.functionProto, map[string]FunctionFunc{
		"toString": func(ctx *Context, _ Value, _ []Value) Value {
			return ctx.String("function () {\n    [native code]\n}")
		},
	})
	ctx.defineMethods(ctx.arrayProto, map[string]FunctionFunc{
		"push":     arrayPush,
		"pop":      arrayPop,
		"shift":    arrayShift,
		"unshift":  arrayUnshift,
		"join":     arrayJoin,
		"toString": arrayJoin,
	})
	ctx.defineMethods(ctx.errorProto, map[string]FunctionFunc{"toString": errorToString})
	for _, id := range []ClassID{ClassNumber, ClassString, ClassBoolean, ClassSymbol} {
		ctx.defineMethods(ctx.classProtos[id], map[string]FunctionFunc{"valueOf": primitiveValueOf})
	}

	flags := PropertyWritable | PropertyConfigurable
	ctx.defineValue(ctx.errorProto, atomName, ctx.newStringValue(PlainError.String()), flags)
	ctx.defineValue(ctx.errorProto, atomMessage, ctx.newStringValue(""), flags)
	for i, p := range ctx.nativeErrorProtos {
		ctx.defineValue(p, atomName, ctx.newStringValue(ErrorKind(i+1).String()), flags)
		ctx.defineValue(p, atomMessage, ctx.newStringValue(""), flags)
	}

	ctx.defineConstructor("Object", ctx.objectProto, func(ctx *Context, _ Value, _ []Value) Value {
		return ctx.Object()
	})
	ctx.defineConstructor("Array", ctx.arrayProto, func(ctx *Context, _ Value, args []Value) Value {
		arr := ctx.newArray()
		for i, a := range args {
			ctx.defineValue(arr, atomFromUint32(uint32(i)), ctx.rt.dup(a.ref), PropertyDefault)
		}
		return ctx.wrap(arr)
	})
	ctx.defineConstructor(PlainError.String(), ctx.errorProto, newErrorConstructor(PlainError))
	for i, p := range ctx.nativeErrorProtos {
		kind := ErrorKind(i + 1)
		ctx.defineConstructor(kind.String(), p, newErrorConstructor(kind))
	}

	ctx.oomError = ctx.newErrorObject(InternalError, outOfMemoryMessage)
}

func (ctx *Context) defineMethods(obj JSValue, methods map[string]FunctionFunc) {
	for name, fn := range methods {
		f := ctx.NewFunction(name, fn)
		ctx.defineValueStr(obj, name, f.ref, PropertyWritable|PropertyConfigurable)
	}
}

// defineConstructor registers a built-in constructor linked to proto. Constructors called
// without new behave the same.
func (ctx *Context) defineConstructor(name string, proto JSValue, fn FunctionFunc) {
	call := func(ctx *Context, _ Value, this Value, args []Value, flags CallFlags) (Value, error) {
		if flags&CallFlagConstructor == 0 {
			this = ctx.Undefined()
		}
		return fn(ctx, this, args), nil
	}
	ctor := ctx.newCFunction(name, 1, call, true)
	if ctor.IsException() {
		return
	}
	ctx.defineValue(ctor, atomPrototype, ctx.rt.dup(proto), 0)
	ctx.defineValue(proto, atomConstructor, ctx.rt.dup(ctor), PropertyWritable|PropertyConfigurable)
	ctx.intrinsics[name] = ctor
}

func newErrorConstructor(kind ErrorKind) FunctionFunc {
	return func(ctx *Context, newTarget Value, args []Value) Value {
		msg := ""
		if len(args) > 0 && !args[0].IsUndefined() {
			msg = args[0].String()
		}
		v := ctx.newErrorObject(kind, msg)
		if v.IsException() {
			return ctx.wrap(v)
		}
		if newTarget.IsObject() {
			proto := ctx.getProperty(newTarget.ref, atomPrototype, newTarget.ref)
			if proto.tag == TagObject {
				ctx.setPrototype(v, proto, false)
			}
			ctx.rt.free(proto)
		}
		if len(args) > 1 && args[1].IsObject() && args[1].Has("cause") {
			cause := ctx.getProperty(args[1].ref, atomCause, args[1].ref)
			if cause.IsException() {
				ctx.rt.free(v)
				return ctx.wrap(cause)
			}
			ctx.defineValue(v, atomCause, cause, PropertyWritable|PropertyConfigurable)
		}
		return ctx.wrap(v)
	}
}

func objectToString(ctx *Context, this Value, _ []Value) Value {
	switch {
	case this.IsUndefined():
		return ctx.String("[object Undefined]")
	case this.IsNull():
		return ctx.String("[object Null]")
	case !this.IsObject():
		return ctx.String("[object " + this.typeTag() + "]")
	}
	name := ctx.rt.ClassName(this.ClassID())
	if h := scriptHandleOf(ctx.rt, this.ref); h != nil {
		name = h.className()
	}
	if name == "" || ctx.rt.objectOf(this.ref).classID >= ClassInitCount {
		name = "Object"
	}
	return ctx.String("[object " + name + "]")
}

func objectHasOwnProperty(ctx *Context, this Value, args []Value) Value {
	if !this.IsObject() {
		return ctx.Bool(false)
	}
	key := Undefined
	if len(args) > 0 {
		key = args[0].ref
	}
	prop, ok := ctx.toPropertyKey(key)
	if !ok {
		return ctx.wrap(Exception)
	}
	defer ctx.rt.atoms.free(prop)
	res := ctx.getOwnPropertyInternal(nil, this.ref, prop)
	if res < 0 {
		return ctx.wrap(Exception)
	}
	return ctx.Bool(res > 0)
}

func primitiveValueOf(ctx *Context, this Value, _ []Value) Value {
	if this.IsObject() {
		if prim := ctx.rt.objectOf(this.ref).primitive; !prim.IsUndefined() {
			return ctx.wrap(ctx.rt.dup(prim))
		}
		return ctx.ThrowTypeError("not a primitive wrapper")
	}
	return this.Dup()
}

func errorToString(ctx *Context, this Value, _ []Value) Value {
	if !this.IsObject() {
		return ctx.ThrowTypeError("not an object")
	}
	name := this.Get("name")
	defer name.Free()
	msg := this.Get("message")
	defer msg.Free()
	if name.IsException() || msg.IsException() {
		return ctx.wrap(Exception)
	}
	n, m := "Error", ""
	if !name.IsUndefined() {
		n = name.String()
	}
	if !msg.IsUndefined() {
		m = msg.String()
	}
	switch {
	case n == "":
		return ctx.String(m)
	case m == "":
		return ctx.String(n)
	}
	return ctx.String(n + ": " + m)
}

// =============================================================================
// ARRAY METHODS
// =============================================================================

func arrayLength(ctx *Context, this Value) (int64, bool) {
	l := ctx.getProperty(this.ref, atomLength, this.ref)
	if l.IsException() {
		return 0, false
	}
	defer ctx.rt.free(l)
	f, ok := ctx.toNumber(l)
	if !ok {
		return 0, false
	}
	return toInt64(f), true
}

func setArrayLength(ctx *Context, this Value, n int64) bool {
	return ctx.setProperty(this.ref, atomLength, MakeFloat(float64(n)), this.ref, PropertyThrow) >= 0
}

func indexAtom(ctx *Context, i int64) JSAtom {
	return ctx.rt.atoms.newAtomUint32(uint32(i))
}

func arrayPush(ctx *Context, this Value, args []Value) Value {
	n, ok := arrayLength(ctx, this)
	if !ok {
		return ctx.wrap(Exception)
	}
	for _, a := range args {
		prop := indexAtom(ctx, n)
		res := ctx.setProperty(this.ref, prop, ctx.rt.dup(a.ref), this.ref, PropertyThrow)
		ctx.rt.atoms.free(prop)
		if res < 0 {
			return ctx.wrap(Exception)
		}
		n++
	}
	if !setArrayLength(ctx, this, n) {
		return ctx.wrap(Exception)
	}
	return ctx.Int64(n)
}

func arrayPop(ctx *Context, this Value, _ []Value) Value {
	n, ok := arrayLength(ctx, this)
	if !ok {
		return ctx.wrap(Exception)
	}
	if n == 0 {
		setArrayLength(ctx, this, 0)
		return ctx.Undefined()
	}
	prop := indexAtom(ctx, n-1)
	defer ctx.rt.atoms.free(prop)
	v := ctx.getProperty(this.ref, prop, this.ref)
	if v.IsException() {
		return ctx.wrap(v)
	}
	if ctx.deleteProperty(this.ref, prop, PropertyThrow) < 0 || !setArrayLength(ctx, this, n-1) {
		ctx.rt.free(v)
		return ctx.wrap(Exception)
	}
	return ctx.wrap(v)
}

// moveElements copies count elements starting at from to the index to.
func moveElements(ctx *Context, this Value, from, to, count int64) bool {
	step, i := int64(1), int64(0)
	if to > from {
		step, i = -1, count-1
	}
	for ; i >= 0 && i < count; i += step {
		src, dst := indexAtom(ctx, from+i), indexAtom(ctx, to+i)
		ok := func() bool {
			defer ctx.rt.atoms.free(src)
			defer ctx.rt.atoms.free(dst)
			has := ctx.hasProperty(this.ref, src)
			if has < 0 {
				return false
			}
			if has == 0 {
				return ctx.deleteProperty(this.ref, dst, PropertyThrow) >= 0
			}
			v := ctx.getProperty(this.ref, src, this.ref)
			if v.IsException() {
				return false
			}
			return ctx.setProperty(this.ref, dst, v, this.ref, PropertyThrow) >= 0
		}()
		if !ok {
			return false
		}
	}
	return true
}

func arrayShift(ctx *Context, this Value, _ []Value) Value {
	n, ok := arrayLength(ctx, this)
	if !ok {
		return ctx.wrap(Exception)
	}
	if n == 0 {
		setArrayLength(ctx, this, 0)
		return ctx.Undefined()
	}
	first := ctx.getProperty(this.ref, atomFromUint32(0), this.ref)
	if first.IsException() {
		return ctx.wrap(first)
	}
	last := indexAtom(ctx, n-1)
	defer ctx.rt.atoms.free(last)
	if !moveElements(ctx, this, 1, 0, n-1) ||
		ctx.deleteProperty(this.ref, last, PropertyThrow) < 0 ||
		!setArrayLength(ctx, this, n-1) {
		ctx.rt.free(first)
		return ctx.wrap(Exception)
	}
	return ctx.wrap(first)
}

func arrayUnshift(ctx *Context, this Value, args []Value) Value {
	n, ok := arrayLength(ctx, this)
	if !ok {
		return ctx.wrap(Exception)
	}
	count := int64(len(args))
	if count > 0 {
		if !moveElements(ctx, this, 0, count, n) {
			return ctx.wrap(Exception)
		}
		for i, a := range args {
			if ctx.setProperty(this.ref, atomFromUint32(uint32(i)), ctx.rt.dup(a.ref), this.ref, PropertyThrow) < 0 {
				return ctx.wrap(Exception)
			}
		}
	}
	if !setArrayLength(ctx, this, n+count) {
		return ctx.wrap(Exception)
	}
	return ctx.Int64(n + count)
}

func arrayJoin(ctx *Context, this Value, args []Value) Value {
	n, ok := arrayLength(ctx, this)
	if !ok {
		return ctx.wrap(Exception)
	}
	sep := ","
	if len(args) > 0 && !args[0].IsUndefined() {
		sep = args[0].String()
	}
	parts := make([]string, n)
	for i := int64(0); i < n; i++ {
		prop := indexAtom(ctx, i)
		v := ctx.getProperty(this.ref, prop, this.ref)
		ctx.rt.atoms.free(prop)
		if v.IsException() {
			return ctx.wrap(v)
		}
		if !v.IsUndefined() && !v.IsNull() {
			s, ok := ctx.toGoString(v)
			if !ok {
				ctx.rt.free(v)
				return ctx.wrap(Exception)
			}
			parts[i] = s
		}
		ctx.rt.free(v)
	}
	return ctx.String(strings.Join(parts, sep))
}
