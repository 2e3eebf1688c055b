package quickjs

// ExoticMethods lets a class take over the fundamental property operations of its objects.
// Every method may return ErrNotSupported to fall back to the ordinary behaviour for that one
// operation; embed UnimplementedExoticMethods to start from a class that behaves exactly like a
// plain object.
//
// The obj, prop, val and receiver arguments are borrowed and must not be freed. Values stored in
// a filled descriptor, the Value returned by GetProperty and the atoms returned by
// GetOwnPropertyNames are owned by the caller. A method signals a JavaScript exception either by
// throwing on ctx or by returning an error, which is converted into an InternalError.
type ExoticMethods interface {
	// GetOwnProperty reports whether prop exists; when desc is not nil it is filled as well.
	GetOwnProperty(ctx *Context, desc *PropertyDescriptor, obj Value, prop Atom) (bool, error)
	// GetOwnPropertyNames lists the own keys. Enumerability is read back through GetOwnProperty.
	GetOwnPropertyNames(ctx *Context, obj Value) ([]PropertyEnum, error)
	DeleteProperty(ctx *Context, obj Value, prop Atom) (bool, error)
	DefineOwnProperty(ctx *Context, obj Value, prop Atom, val, getter, setter Value, flags PropertyFlags) (bool, error)
	HasProperty(ctx *Context, obj Value, prop Atom) (bool, error)
	GetProperty(ctx *Context, obj Value, prop Atom, receiver Value) (Value, error)
	SetProperty(ctx *Context, obj Value, prop Atom, val, receiver Value, flags PropertyFlags) (bool, error)
}

// UnimplementedExoticMethods returns ErrNotSupported from every trap.
type UnimplementedExoticMethods struct{}

func (UnimplementedExoticMethods) GetOwnProperty(*Context, *PropertyDescriptor, Value, Atom) (bool, error) {
	return false, ErrNotSupported
}

func (UnimplementedExoticMethods) GetOwnPropertyNames(*Context, Value) ([]PropertyEnum, error) {
	return nil, ErrNotSupported
}

func (UnimplementedExoticMethods) DeleteProperty(*Context, Value, Atom) (bool, error) {
	return false, ErrNotSupported
}

func (UnimplementedExoticMethods) DefineOwnProperty(*Context, Value, Atom, Value, Value, Value, PropertyFlags) (bool, error) {
	return false, ErrNotSupported
}

func (UnimplementedExoticMethods) HasProperty(*Context, Value, Atom) (bool, error) {
	return false, ErrNotSupported
}

func (UnimplementedExoticMethods) GetProperty(*Context, Value, Atom, Value) (Value, error) {
	return Value{}, ErrNotSupported
}

func (UnimplementedExoticMethods) SetProperty(*Context, Value, Atom, Value, Value, PropertyFlags) (bool, error) {
	return false, ErrNotSupported
}

// PropertyDescriptor describes an own property. Getter and Setter are set for accessor
// properties, Value for data properties.
type PropertyDescriptor struct {
	Flags  PropertyFlags
	Value  Value
	Getter Value
	Setter Value
}

// Free releases the values held by a filled descriptor.
func (d *PropertyDescriptor) Free() {
	for _, v := range []Value{d.Value, d.Getter, d.Setter} {
		if v.ctx != nil {
			v.Free()
		}
	}
	*d = PropertyDescriptor{}
}

// =============================================================================
// ENGINE SIDE DISPATCH
// =============================================================================

// The dispatchers below keep the native calling convention: a negative code means a pending
// exception, otherwise 0 or 1. handled is false when the trap asked for the ordinary behaviour.

type propEnum struct {
	atom       JSAtom
	enumerable bool
}

func (ctx *Context) exoticOf(obj *object, flags PropertyFlags) ExoticMethods {
	if flags&PropertyNoExotic != 0 {
		return nil
	}
	entry := ctx.rt.classes.lookup(obj.classID)
	if entry == nil {
		return nil
	}
	return entry.def.Exotic
}

func (ctx *Context) wrap(v JSValue) Value {
	return Value{ctx: ctx, ref: v}
}

func (ctx *Context) wrapAtom(a JSAtom) Atom {
	return Atom{ctx: ctx, ref: a}
}

func boolCode(ok bool) int {
	if ok {
		return 1
	}
	return 0
}

func (ctx *Context) exoticGetOwnProperty(ex ExoticMethods, desc *propertyDescriptor, obj JSValue, prop JSAtom) (int, bool) {
	var (
		found bool
		pd    *PropertyDescriptor
	)
	if desc != nil {
		pd = &PropertyDescriptor{}
	}
	switch ctx.runHook(func() (err error) {
		found, err = ex.GetOwnProperty(ctx, pd, ctx.wrap(obj), ctx.wrapAtom(prop))
		return err
	}) {
	case hookDefault:
		return 0, false
	case hookFailed:
		if pd != nil {
			pd.Free()
		}
		return -1, true
	}
	if desc != nil {
		*desc = propertyDescriptor{
			flags:  pd.Flags,
			value:  ctx.rawOrUndefined(pd.Value),
			getter: ctx.rawOrUndefined(pd.Getter),
			setter: ctx.rawOrUndefined(pd.Setter),
		}
		if !found {
			ctx.rt.freeDescriptor(desc)
		}
	}
	return boolCode(found), true
}

func (ctx *Context) exoticGetOwnPropertyNames(ex ExoticMethods, obj JSValue) ([]propEnum, int, bool) {
	var names []PropertyEnum
	switch ctx.runHook(func() (err error) {
		names, err = ex.GetOwnPropertyNames(ctx, ctx.wrap(obj))
		return err
	}) {
	case hookDefault:
		return nil, 0, false
	case hookFailed:
		for _, n := range names {
			ctx.rt.atoms.free(n.Atom.ref)
		}
		return nil, -1, true
	}
	tab := make([]propEnum, len(names))
	for i, n := range names {
		tab[i] = propEnum{atom: n.Atom.ref, enumerable: n.IsEnumerable}
	}
	return tab, 0, true
}

func (ctx *Context) exoticDeleteProperty(ex ExoticMethods, obj JSValue, prop JSAtom) (int, bool) {
	var ok bool
	switch ctx.runHook(func() (err error) {
		ok, err = ex.DeleteProperty(ctx, ctx.wrap(obj), ctx.wrapAtom(prop))
		return err
	}) {
	case hookDefault:
		return 0, false
	case hookFailed:
		return -1, true
	}
	return boolCode(ok), true
}

func (ctx *Context) exoticDefineOwnProperty(ex ExoticMethods, obj JSValue, prop JSAtom, val, getter, setter JSValue, flags PropertyFlags) (int, bool) {
	var ok bool
	switch ctx.runHook(func() (err error) {
		ok, err = ex.DefineOwnProperty(ctx, ctx.wrap(obj), ctx.wrapAtom(prop), ctx.wrap(val), ctx.wrap(getter), ctx.wrap(setter), flags)
		return err
	}) {
	case hookDefault:
		return 0, false
	case hookFailed:
		return -1, true
	}
	return boolCode(ok), true
}

func (ctx *Context) exoticHasProperty(ex ExoticMethods, obj JSValue, prop JSAtom) (int, bool) {
	var ok bool
	switch ctx.runHook(func() (err error) {
		ok, err = ex.HasProperty(ctx, ctx.wrap(obj), ctx.wrapAtom(prop))
		return err
	}) {
	case hookDefault:
		return 0, false
	case hookFailed:
		return -1, true
	}
	return boolCode(ok), true
}

func (ctx *Context) exoticGetProperty(ex ExoticMethods, obj JSValue, prop JSAtom, receiver JSValue) (JSValue, bool) {
	var res Value
	switch ctx.runHook(func() (err error) {
		res, err = ex.GetProperty(ctx, ctx.wrap(obj), ctx.wrapAtom(prop), ctx.wrap(receiver))
		return err
	}) {
	case hookDefault:
		return Undefined, false
	case hookFailed:
		if res.ctx != nil {
			res.Free()
		}
		return Exception, true
	}
	return ctx.rawOrUndefined(res), true
}

func (ctx *Context) exoticSetProperty(ex ExoticMethods, obj JSValue, prop JSAtom, val, receiver JSValue, flags PropertyFlags) (int, bool) {
	var ok bool
	switch ctx.runHook(func() (err error) {
		ok, err = ex.SetProperty(ctx, ctx.wrap(obj), ctx.wrapAtom(prop), ctx.wrap(val), ctx.wrap(receiver), flags)
		return err
	}) {
	case hookDefault:
		return 0, false
	case hookFailed:
		return -1, true
	}
	return boolCode(ok), true
}

// rawOrUndefined unwraps a value owned by the caller; the zero Value maps to undefined.
func (ctx *Context) rawOrUndefined(v Value) JSValue {
	if v.ctx == nil {
		return Undefined
	}
	ctx.checkSameRuntime(v)
	return v.ref
}
