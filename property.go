package quickjs

import (
	"unicode/utf16"
)

// failf reports a failed property operation: it throws a TypeError when the flags ask for it,
// otherwise it returns false.
func (ctx *Context) failf(flags PropertyFlags, format string, args ...any) int {
	if flags&(PropertyThrow|PropertyThrowStrict) != 0 {
		ctx.throwError(TypeError, format, args...)
		return -1
	}
	return 0
}

func (ctx *Context) atomName(a JSAtom) string {
	return ctx.rt.atoms.toString(a)
}

// =============================================================================
// OWN PROPERTIES
// =============================================================================

// getOwnPropertyInternal returns -1 on exception, 0 if prop is absent and 1 if present. A non
// nil desc is filled with owned values when the property exists.
func (ctx *Context) getOwnPropertyInternal(desc *propertyDescriptor, v JSValue, prop JSAtom) int {
	obj := ctx.rt.objectOf(v)
	if ex := ctx.exoticOf(obj, 0); ex != nil {
		if code, handled := ctx.exoticGetOwnProperty(ex, desc, v, prop); handled {
			return code
		}
	}
	p, ok := obj.props[prop]
	if !ok {
		return 0
	}
	if desc != nil {
		*desc = propertyDescriptor{
			flags:  p.flags & (PropertyDefault | PropertyGetSet),
			value:  ctx.rt.dup(p.value),
			getter: ctx.rt.dup(p.getter),
			setter: ctx.rt.dup(p.setter),
		}
	}
	return 1
}

// getOwnPropertyNamesInternal lists the own keys selected by flags. The returned table owns its
// atoms and is charged to the allocator; release it with freePropertyEnum. An empty result is a
// zero length table with code 0.
func (ctx *Context) getOwnPropertyNamesInternal(v JSValue, flags GPNFlags) ([]propEnum, int) {
	r := ctx.rt
	obj := r.objectOf(v)

	keys := r.ownKeys(obj)
	all := make([]propEnum, 0, len(keys))
	for _, a := range keys {
		all = append(all, propEnum{atom: r.atoms.dup(a), enumerable: obj.props[a].flags&PropertyEnumerable != 0})
	}
	if ex := ctx.exoticOf(obj, 0); ex != nil {
		extra, code, handled := ctx.exoticGetOwnPropertyNames(ex, v)
		if handled {
			if code < 0 {
				freeEnumAtoms(r, all)
				return nil, -1
			}
			for _, e := range extra {
				if _, dup := obj.props[e.atom]; dup {
					r.atoms.free(e.atom)
					continue
				}
				if flags&GPNEnumOnly != 0 {
					var desc propertyDescriptor
					res := ctx.getOwnPropertyInternal(&desc, v, e.atom)
					if res < 0 {
						r.atoms.free(e.atom)
						freeEnumAtoms(r, all)
						return nil, -1
					}
					if res > 0 {
						e.enumerable = desc.flags&PropertyEnumerable != 0
						r.freeDescriptor(&desc)
					}
				}
				all = append(all, e)
			}
		}
	}

	n := 0
	for _, e := range all {
		if ctx.selectKey(e, flags) {
			n++
		}
	}
	if err := r.mallocFns.Malloc(&r.malloc, n*propertyEnumSize); err != nil {
		freeEnumAtoms(r, all)
		ctx.throwOutOfMemory()
		return nil, -1
	}
	tab := make([]propEnum, 0, n)
	for _, e := range all {
		if ctx.selectKey(e, flags) {
			if flags&GPNSetEnum != 0 {
				e.enumerable = true
			}
			tab = append(tab, e)
		} else {
			r.atoms.free(e.atom)
		}
	}
	return tab, 0
}

func (ctx *Context) selectKey(e propEnum, flags GPNFlags) bool {
	if flags&GPNEnumOnly != 0 && !e.enumerable {
		return false
	}
	switch ctx.rt.atoms.kind(e.atom) {
	case atomKindSymbol:
		return flags&GPNSymbolMask != 0
	case atomKindPrivate:
		return flags&GPNPrivateMask != 0
	}
	return flags&GPNStringMask != 0
}

func freeEnumAtoms(r *Runtime, tab []propEnum) {
	for _, e := range tab {
		r.atoms.free(e.atom)
	}
}

func (ctx *Context) freePropertyEnum(tab []propEnum) {
	freeEnumAtoms(ctx.rt, tab)
	ctx.rt.mallocFns.Free(&ctx.rt.malloc, len(tab)*propertyEnumSize)
}

// =============================================================================
// DEFINE / DELETE
// =============================================================================

const propertyHasAll = PropertyHasConfigurable | PropertyHasWritable | PropertyHasEnumerable

// defineProperty follows JS_DefineProperty: val, getter and setter are borrowed. The attributes
// of a new property are the flag bits whose Has bit is set.
func (ctx *Context) defineProperty(v JSValue, prop JSAtom, val, getter, setter JSValue, flags PropertyFlags) int {
	r := ctx.rt
	if v.tag != TagObject {
		ctx.throwError(TypeError, "not an object")
		return -1
	}
	obj := r.objectOf(v)
	if ex := ctx.exoticOf(obj, flags); ex != nil {
		if code, handled := ctx.exoticDefineOwnProperty(ex, v, prop, val, getter, setter, flags); handled {
			if code == 0 {
				return ctx.failf(flags, "could not define property '%s'", ctx.atomName(prop))
			}
			return code
		}
	}

	p := obj.props[prop]
	var (
		arrayIdx uint32
		growLen  bool
	)
	if obj.classID == ClassArray {
		if prop == atomLength && p != nil {
			if flags&PropertyHasValue != 0 {
				if res := ctx.setArrayLength(obj, val, flags); res <= 0 {
					return res
				}
				flags &^= PropertyHasValue
			}
			return ctx.updateProperty(obj, p, prop, val, getter, setter, flags)
		}
		if prop.isInt() && p == nil {
			arrayIdx = uint32(prop &^ atomTagInt)
			lenProp := obj.props[atomLength]
			if cur := arrayLengthOf(lenProp); arrayIdx >= cur {
				if lenProp.flags&PropertyWritable == 0 {
					return ctx.failf(flags, "'length' is read-only")
				}
				growLen = true
			}
		}
	}

	if p != nil {
		return ctx.updateProperty(obj, p, prop, val, getter, setter, flags)
	}
	if !obj.extensible {
		return ctx.failf(flags, "object is not extensible")
	}

	np := &property{value: Undefined, getter: Undefined, setter: Undefined}
	attrs := flags & (flags >> PropertyHasShift) & (PropertyConfigurable | PropertyWritable | PropertyEnumerable)
	if flags&(PropertyHasGet|PropertyHasSet) != 0 {
		np.flags = PropertyGetSet | attrs&^PropertyWritable
		if flags&PropertyHasGet != 0 {
			np.getter = r.dup(getter)
		}
		if flags&PropertyHasSet != 0 {
			np.setter = r.dup(setter)
		}
	} else {
		np.flags = attrs | flags&PropertyLength
		if flags&PropertyHasValue != 0 {
			np.value = r.dup(val)
		}
	}
	if err := r.resizeCell(v, r.cellOf(v).size+propertySize); err != nil {
		r.free(np.value)
		r.free(np.getter)
		r.free(np.setter)
		ctx.throwOutOfMemory()
		return -1
	}
	obj.props[prop] = np
	obj.keys = append(obj.keys, r.atoms.dup(prop))
	if growLen {
		lenProp := obj.props[atomLength]
		old := lenProp.value
		lenProp.value = numberFromUint32(arrayIdx + 1)
		r.free(old)
	}
	return 1
}

// updateProperty redefines an existing property, enforcing the invariants of non configurable
// properties.
func (ctx *Context) updateProperty(obj *object, p *property, prop JSAtom, val, getter, setter JSValue, flags PropertyFlags) int {
	r := ctx.rt
	if p.flags&PropertyConfigurable == 0 {
		fail := false
		if flags&PropertyHasConfigurable != 0 && flags&PropertyConfigurable != 0 {
			fail = true
		}
		if flags&PropertyHasEnumerable != 0 && flags&PropertyEnumerable != p.flags&PropertyEnumerable {
			fail = true
		}
		if flags&(PropertyHasGet|PropertyHasSet) != 0 {
			if !p.isAccessor() ||
				(flags&PropertyHasGet != 0 && !r.sameValue(getter, p.getter)) ||
				(flags&PropertyHasSet != 0 && !r.sameValue(setter, p.setter)) {
				fail = true
			}
		} else if flags&(PropertyHasValue|PropertyHasWritable) != 0 {
			if p.isAccessor() {
				fail = true
			} else if p.flags&PropertyWritable == 0 {
				if flags&PropertyHasWritable != 0 && flags&PropertyWritable != 0 {
					fail = true
				}
				if flags&PropertyHasValue != 0 && !r.sameValue(val, p.value) {
					fail = true
				}
			}
		}
		if fail {
			return ctx.failf(flags, "property '%s' is not configurable", ctx.atomName(prop))
		}
	}

	if flags&(PropertyHasGet|PropertyHasSet) != 0 {
		if !p.isAccessor() {
			old := p.value
			p.value = Undefined
			p.flags = p.flags&^(PropertyWritable|PropertyTypeMask) | PropertyGetSet
			r.free(old)
		}
		if flags&PropertyHasGet != 0 {
			old := p.getter
			p.getter = r.dup(getter)
			r.free(old)
		}
		if flags&PropertyHasSet != 0 {
			old := p.setter
			p.setter = r.dup(setter)
			r.free(old)
		}
	} else if flags&(PropertyHasValue|PropertyHasWritable) != 0 {
		if p.isAccessor() {
			g, s := p.getter, p.setter
			p.getter, p.setter = Undefined, Undefined
			p.flags &^= PropertyTypeMask
			r.free(g)
			r.free(s)
		}
		if flags&PropertyHasValue != 0 {
			old := p.value
			p.value = r.dup(val)
			r.free(old)
		}
		if flags&PropertyHasWritable != 0 {
			p.flags = p.flags&^PropertyWritable | flags&PropertyWritable
		}
	}
	if flags&PropertyHasConfigurable != 0 {
		p.flags = p.flags&^PropertyConfigurable | flags&PropertyConfigurable
	}
	if flags&PropertyHasEnumerable != 0 {
		p.flags = p.flags&^PropertyEnumerable | flags&PropertyEnumerable
	}
	return 1
}

// defineValue defines a data property and consumes val.
func (ctx *Context) defineValue(v JSValue, prop JSAtom, val JSValue, flags PropertyFlags) int {
	res := ctx.defineProperty(v, prop, val, Undefined, Undefined, flags|PropertyHasValue|propertyHasAll)
	ctx.rt.free(val)
	return res
}

func (ctx *Context) defineValueStr(v JSValue, name string, val JSValue, flags PropertyFlags) int {
	prop := ctx.rt.atoms.newAtom(name)
	defer ctx.rt.atoms.free(prop)
	return ctx.defineValue(v, prop, val, flags)
}

// deleteProperty returns 1 when the property is gone afterwards.
func (ctx *Context) deleteProperty(v JSValue, prop JSAtom, flags PropertyFlags) int {
	r := ctx.rt
	if v.tag != TagObject {
		return ctx.failf(flags, "cannot delete property of %s", v.tag)
	}
	obj := r.objectOf(v)
	if ex := ctx.exoticOf(obj, flags); ex != nil {
		if code, handled := ctx.exoticDeleteProperty(ex, v, prop); handled {
			if code == 0 {
				return ctx.failf(flags, "could not delete property '%s'", ctx.atomName(prop))
			}
			return code
		}
	}
	p, ok := obj.props[prop]
	if !ok {
		return 1
	}
	if p.flags&PropertyConfigurable == 0 {
		return ctx.failf(flags, "could not delete property '%s'", ctx.atomName(prop))
	}
	obj.removeKey(prop)
	_ = r.resizeCell(v, r.cellOf(v).size-propertySize)
	r.free(p.value)
	r.free(p.getter)
	r.free(p.setter)
	r.atoms.free(prop)
	return 1
}

// =============================================================================
// ARRAYS
// =============================================================================

func arrayLengthOf(p *property) uint32 {
	if p == nil {
		return 0
	}
	n, _ := p.value.ToNumber()
	return uint32(n)
}

func numberFromUint32(n uint32) JSValue {
	return MakeFloat(float64(n))
}

// setArrayLength truncates or extends an array. Elements that cannot be deleted stop the
// truncation and make the operation fail.
func (ctx *Context) setArrayLength(obj *object, val JSValue, flags PropertyFlags) int {
	r := ctx.rt
	d, ok := ctx.toNumber(val)
	if !ok {
		return -1
	}
	n := uint32(d)
	if float64(n) != d {
		ctx.throwError(RangeError, "invalid array length")
		return -1
	}
	lenProp := obj.props[atomLength]
	cur := arrayLengthOf(lenProp)
	if n == cur {
		return 1
	}
	if lenProp.flags&PropertyWritable == 0 {
		return ctx.failf(flags, "'length' is read-only")
	}
	res := 1
	if n < cur {
		var doomed []JSAtom
		for _, a := range obj.keys {
			if a.isInt() && uint32(a&^atomTagInt) >= n {
				doomed = append(doomed, a)
			}
		}
		for _, a := range doomed {
			idx := uint32(a &^ atomTagInt)
			if obj.props[a].flags&PropertyConfigurable == 0 {
				if idx+1 > n {
					n = idx + 1
				}
				res = ctx.failf(flags, "could not delete array element %d", idx)
				continue
			}
		}
		for _, a := range doomed {
			if uint32(a&^atomTagInt) < n {
				continue
			}
			p := obj.props[a]
			obj.removeKey(a)
			r.free(p.value)
			r.free(p.getter)
			r.free(p.setter)
			r.atoms.free(a)
		}
	}
	old := lenProp.value
	lenProp.value = numberFromUint32(n)
	r.free(old)
	return res
}

// =============================================================================
// LOOKUP
// =============================================================================

// protoOfPrimitive returns the prototype used for property access on a primitive.
func (ctx *Context) protoOfPrimitive(v JSValue) JSValue {
	switch v.tag {
	case TagInt, TagFloat64:
		return ctx.classProto(ClassNumber)
	case TagString:
		return ctx.classProto(ClassString)
	case TagBool:
		return ctx.classProto(ClassBoolean)
	case TagSymbol:
		return ctx.classProto(ClassSymbol)
	}
	return ctx.objectProto
}

func (ctx *Context) hasProperty(v JSValue, prop JSAtom) int {
	r := ctx.rt
	if v.tag != TagObject {
		ctx.throwError(TypeError, "not an object")
		return -1
	}
	cur := v
	for {
		obj := r.objectOf(cur)
		if ex := ctx.exoticOf(obj, 0); ex != nil {
			if code, handled := ctx.exoticHasProperty(ex, cur, prop); handled {
				return code
			}
		}
		if res := ctx.getOwnPropertyInternal(nil, cur, prop); res != 0 {
			return res
		}
		cur = obj.proto
		if cur.tag != TagObject {
			return 0
		}
	}
}

// getProperty follows JS_GetPropertyInternal and returns an owned value or Exception.
func (ctx *Context) getProperty(v JSValue, prop JSAtom, receiver JSValue) JSValue {
	r := ctx.rt
	cur := v
	switch v.tag {
	case TagObject:
	case TagNull, TagUndefined:
		return ctx.throwError(TypeError, "cannot read property '%s' of %s", ctx.atomName(prop), v)
	case TagString:
		units := utf16.Encode([]rune(r.stringOf(v)))
		if prop == atomLength {
			return MakeInt(int32(len(units)))
		}
		if prop.isInt() {
			if idx := int(prop &^ atomTagInt); idx < len(units) {
				return ctx.newStringValue(string(utf16.Decode(units[idx : idx+1])))
			}
		}
		cur = ctx.protoOfPrimitive(v)
	default:
		cur = ctx.protoOfPrimitive(v)
	}

	for cur.tag == TagObject {
		obj := r.objectOf(cur)
		if ex := ctx.exoticOf(obj, 0); ex != nil {
			if res, handled := ctx.exoticGetProperty(ex, cur, prop, receiver); handled {
				return res
			}
			var desc propertyDescriptor
			if code, handled := ctx.exoticGetOwnProperty(ex, &desc, cur, prop); handled {
				if code < 0 {
					return Exception
				}
				if code > 0 {
					if desc.flags&PropertyTypeMask == PropertyGetSet {
						getter := desc.getter
						r.free(desc.value)
						r.free(desc.setter)
						defer r.free(getter)
						return ctx.callGetter(getter, receiver)
					}
					r.free(desc.getter)
					r.free(desc.setter)
					return desc.value
				}
			}
		}
		if p, ok := obj.props[prop]; ok {
			if p.isAccessor() {
				getter := r.dup(p.getter)
				defer r.free(getter)
				return ctx.callGetter(getter, receiver)
			}
			return r.dup(p.value)
		}
		cur = obj.proto
	}
	return Undefined
}

func (ctx *Context) callGetter(getter, this JSValue) JSValue {
	if getter.tag != TagObject {
		return Undefined
	}
	return ctx.callInternal(getter, this, nil, 0)
}

func (ctx *Context) getPropertyStr(v JSValue, name string) JSValue {
	prop := ctx.rt.atoms.newAtom(name)
	defer ctx.rt.atoms.free(prop)
	return ctx.getProperty(v, prop, v)
}

// setProperty follows JS_SetPropertyInternal and consumes val.
func (ctx *Context) setProperty(v JSValue, prop JSAtom, val, receiver JSValue, flags PropertyFlags) int {
	res := ctx.setPropertyInternal(v, prop, val, receiver, flags)
	ctx.rt.free(val)
	return res
}

func (ctx *Context) setPropertyStr(v JSValue, name string, val JSValue, flags PropertyFlags) int {
	prop := ctx.rt.atoms.newAtom(name)
	defer ctx.rt.atoms.free(prop)
	return ctx.setProperty(v, prop, val, v, flags)
}

func (ctx *Context) setPropertyInternal(v JSValue, prop JSAtom, val, receiver JSValue, flags PropertyFlags) int {
	r := ctx.rt
	cur := v
	switch v.tag {
	case TagObject:
	case TagNull, TagUndefined:
		ctx.throwError(TypeError, "cannot set property '%s' of %s", ctx.atomName(prop), v)
		return -1
	default:
		cur = ctx.protoOfPrimitive(v)
	}

	for cur.tag == TagObject {
		obj := r.objectOf(cur)
		if ex := ctx.exoticOf(obj, flags); ex != nil {
			if code, handled := ctx.exoticSetProperty(ex, cur, prop, val, receiver, flags); handled {
				if code == 0 {
					return ctx.failf(flags, "could not set property '%s'", ctx.atomName(prop))
				}
				return code
			}
			var desc propertyDescriptor
			if code, handled := ctx.exoticGetOwnProperty(ex, &desc, cur, prop); handled {
				if code < 0 {
					return -1
				}
				if code > 0 {
					if desc.flags&PropertyTypeMask == PropertyGetSet {
						setter := desc.setter
						r.free(desc.value)
						r.free(desc.getter)
						defer r.free(setter)
						return ctx.callSetter(setter, receiver, val, prop, flags)
					}
					writable := desc.flags&PropertyWritable != 0
					r.freeDescriptor(&desc)
					if !writable {
						return ctx.failf(flags, "'%s' is read-only", ctx.atomName(prop))
					}
					break
				}
			}
		}
		if p, ok := obj.props[prop]; ok {
			if p.isAccessor() {
				setter := r.dup(p.setter)
				defer r.free(setter)
				return ctx.callSetter(setter, receiver, val, prop, flags)
			}
			if p.flags&PropertyWritable == 0 {
				return ctx.failf(flags, "'%s' is read-only", ctx.atomName(prop))
			}
			if cur == receiver {
				if obj.classID == ClassArray && prop == atomLength {
					return ctx.setArrayLength(obj, val, flags)
				}
				old := p.value
				p.value = r.dup(val)
				r.free(old)
				return 1
			}
			break
		}
		cur = obj.proto
	}

	if receiver.tag != TagObject {
		return ctx.failf(flags, "cannot create property '%s' on %s", ctx.atomName(prop), receiver.tag)
	}
	if receiver != v {
		var desc propertyDescriptor
		switch ctx.getOwnPropertyInternal(&desc, receiver, prop) {
		case -1:
			return -1
		case 1:
			ok := desc.flags&PropertyTypeMask != PropertyGetSet && desc.flags&PropertyWritable != 0
			r.freeDescriptor(&desc)
			if !ok {
				return ctx.failf(flags, "'%s' is read-only", ctx.atomName(prop))
			}
			return ctx.defineProperty(receiver, prop, val, Undefined, Undefined, PropertyHasValue|flags&PropertyThrow)
		}
	}
	if flags&PropertyNoAdd != 0 {
		ctx.throwError(ReferenceError, "'%s' is not defined", ctx.atomName(prop))
		return -1
	}
	return ctx.defineProperty(receiver, prop, val, Undefined, Undefined,
		PropertyDefault|propertyHasAll|PropertyHasValue|flags&(PropertyThrow|PropertyThrowStrict))
}

func (ctx *Context) callSetter(setter, this, val JSValue, prop JSAtom, flags PropertyFlags) int {
	if setter.tag != TagObject {
		return ctx.failf(flags, "no setter for property '%s'", ctx.atomName(prop))
	}
	res := ctx.callInternal(setter, this, []JSValue{val}, 0)
	if res.IsException() {
		return -1
	}
	ctx.rt.free(res)
	return 1
}

// =============================================================================
// PROTOTYPES AND EXTENSIBILITY
// =============================================================================

// setPrototype replaces the prototype of v; proto is borrowed.
func (ctx *Context) setPrototype(v, proto JSValue, throw bool) int {
	r := ctx.rt
	flags := PropertyFlags(0)
	if throw {
		flags = PropertyThrow
	}
	if v.tag != TagObject {
		return ctx.failf(flags, "not an object")
	}
	if proto.tag != TagObject && proto.tag != TagNull {
		return ctx.failf(flags, "invalid prototype")
	}
	obj := r.objectOf(v)
	if obj.proto == proto {
		return 1
	}
	if !obj.extensible {
		return ctx.failf(flags, "object is not extensible")
	}
	for p := proto; p.tag == TagObject; p = r.objectOf(p).proto {
		if p == v {
			return ctx.failf(flags, "circular prototype chain")
		}
	}
	old := obj.proto
	obj.proto = r.dup(proto)
	r.free(old)
	return 1
}

func (ctx *Context) preventExtensions(v JSValue) {
	if v.tag == TagObject {
		ctx.rt.objectOf(v).extensible = false
	}
}

func (ctx *Context) isExtensible(v JSValue) bool {
	return v.tag == TagObject && ctx.rt.objectOf(v).extensible
}
