package quickjs

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// object is the payload of an Object cell.
type object struct {
	classID     ClassID
	proto       JSValue // Null or an owned object reference
	props       map[JSAtom]*property
	keys        []JSAtom // insertion order
	extensible  bool
	constructor bool

	opaque    any     // host data attached with SetOpaque
	internal  any     // class specific engine data (host functions, evaluator functions)
	primitive JSValue // boxed primitive of Number, String, Boolean and Symbol objects

	finalized  bool
	collecting bool
}

type property struct {
	flags  PropertyFlags
	value  JSValue
	getter JSValue
	setter JSValue
}

func (p *property) isAccessor() bool {
	return p.flags&PropertyTypeMask == PropertyGetSet
}

// propertyDescriptor is the raw form of PropertyDescriptor. Filled descriptors own their values.
type propertyDescriptor struct {
	flags  PropertyFlags
	value  JSValue
	getter JSValue
	setter JSValue
}

func (r *Runtime) freeDescriptor(d *propertyDescriptor) {
	r.free(d.value)
	r.free(d.getter)
	r.free(d.setter)
	*d = propertyDescriptor{}
}

func (r *Runtime) objectOf(v JSValue) *object {
	if v.tag != TagObject {
		panic(fmt.Errorf("%w: %s is not an object", ErrTypeMismatch, v.tag))
	}
	return r.cellOf(v).obj
}

// newObjectProtoClass allocates an object. proto is borrowed.
func (ctx *Context) newObjectProtoClass(proto JSValue, id ClassID) JSValue {
	r := ctx.rt
	if !r.IsRegisteredClass(id) {
		return ctx.throwError(TypeError, "class %d is not registered", id)
	}
	h, c, err := r.allocCell(TagObject, cellHeaderSize+objectSize)
	if err != nil {
		return ctx.throwOutOfMemory()
	}
	c.obj = &object{
		classID:    id,
		proto:      r.dup(proto),
		props:      make(map[JSAtom]*property),
		extensible: true,
		primitive:  Undefined,
	}
	v := makeRef(TagObject, h)
	if id == ClassArray {
		if ctx.defineProperty(v, atomLength, MakeInt(0), Undefined, Undefined,
			PropertyWritable|PropertyLength|PropertyHasWritable|PropertyHasEnumerable|PropertyHasConfigurable|PropertyHasValue) < 0 {
			r.free(v)
			return Exception
		}
	}
	return v
}

func (ctx *Context) newObjectClass(id ClassID) JSValue {
	return ctx.newObjectProtoClass(ctx.classProto(id), id)
}

func (ctx *Context) newObject() JSValue {
	return ctx.newObjectProtoClass(ctx.objectProto, ClassObject)
}

func (ctx *Context) newArray() JSValue {
	return ctx.newObjectProtoClass(ctx.arrayProto, ClassArray)
}

// classProto returns the default prototype for objects of a class.
func (ctx *Context) classProto(id ClassID) JSValue {
	if p, ok := ctx.classProtos[id]; ok {
		return p
	}
	return ctx.objectProto
}

// finalizeObject runs the class finalizer and the Finalize method of the host data once.
func (r *Runtime) finalizeObject(v JSValue, obj *object) {
	if obj.finalized {
		return
	}
	obj.finalized = true
	entry := r.classes.lookup(obj.classID)
	if entry != nil && entry.def.Finalizer != nil {
		r.callFinalizer(entry, v)
	}
	if fin, ok := obj.opaque.(ClassFinalizer); ok {
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.logger.Warn("host finalizer panicked", zap.Any("panic", p))
				}
			}()
			fin.Finalize()
		}()
	}
	if rel, ok := obj.internal.(interface{ release(*Runtime) }); ok {
		rel.release(r)
	}
}

// callFinalizer never lets a finalizer failure escape into the engine.
func (r *Runtime) callFinalizer(entry *classEntry, v JSValue) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("class finalizer panicked", zap.String("class", entry.def.Name), zap.Any("panic", p))
		}
	}()
	if err := entry.def.Finalizer(r, v); err != nil {
		r.logger.Warn("class finalizer failed", zap.String("class", entry.def.Name), zap.Error(err))
	}
}

// releaseObjectRefs drops every reference held by the object.
func (r *Runtime) releaseObjectRefs(v JSValue, obj *object) {
	props, keys := obj.props, obj.keys
	obj.props, obj.keys = nil, nil
	for _, a := range keys {
		p := props[a]
		r.free(p.value)
		r.free(p.getter)
		r.free(p.setter)
		r.atoms.free(a)
	}
	proto := obj.proto
	obj.proto = Null
	r.free(proto)
	prim := obj.primitive
	obj.primitive = Undefined
	r.free(prim)
	obj.opaque = nil
	obj.internal = nil
}

// forEachChild reports every value the object references, including the edges reported by the
// class GC mark handler.
func (r *Runtime) forEachChild(v JSValue, obj *object, fn func(JSValue)) {
	fn(obj.proto)
	fn(obj.primitive)
	for _, a := range obj.keys {
		p := obj.props[a]
		fn(p.value)
		fn(p.getter)
		fn(p.setter)
	}
	if m, ok := obj.internal.(interface{ mark(func(JSValue)) }); ok {
		m.mark(fn)
	}
	entry := r.classes.lookup(obj.classID)
	if entry != nil && entry.def.GCMark != nil {
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.logger.Warn("class gc mark panicked", zap.String("class", entry.def.Name), zap.Any("panic", p))
				}
			}()
			if err := entry.def.GCMark(r, v, MarkFunc(fn)); err != nil {
				r.logger.Warn("class gc mark failed", zap.String("class", entry.def.Name), zap.Error(err))
			}
		}()
	}
}

// ownKeys returns the own keys in enumeration order: integer keys ascending, then string keys,
// then symbols, both in insertion order.
func (r *Runtime) ownKeys(obj *object) []JSAtom {
	var ints, strs, syms []JSAtom
	for _, a := range obj.keys {
		switch {
		case a.isInt():
			ints = append(ints, a)
		case r.atoms.kind(a) == atomKindString:
			strs = append(strs, a)
		default:
			syms = append(syms, a)
		}
	}
	sort.Slice(ints, func(i, j int) bool { return ints[i] < ints[j] })
	keys := make([]JSAtom, 0, len(obj.keys))
	keys = append(keys, ints...)
	keys = append(keys, strs...)
	return append(keys, syms...)
}

func (obj *object) removeKey(a JSAtom) {
	delete(obj.props, a)
	for i, k := range obj.keys {
		if k == a {
			obj.keys = append(obj.keys[:i], obj.keys[i+1:]...)
			return
		}
	}
}

// isCallable reports whether calling the value reaches a call handler.
func (r *Runtime) isCallable(v JSValue) bool {
	if v.tag != TagObject {
		return false
	}
	entry := r.classes.lookup(r.objectOf(v).classID)
	return entry != nil && entry.def.Call != nil
}

func (r *Runtime) isConstructor(v JSValue) bool {
	return v.tag == TagObject && r.objectOf(v).constructor && r.isCallable(v)
}

func (r *Runtime) classIDOf(v JSValue) ClassID {
	if v.tag != TagObject {
		return 0
	}
	return r.objectOf(v).classID
}
