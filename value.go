package quickjs

import (
	"errors"
	"math"
	"math/big"

	"github.com/cockroachdb/apd/v3"
)

// Value is a JSValue bound to the context it belongs to. Reference counting is used, so it is important to explicitly duplicate (Dup, increment the reference count) or free (Free, decrement the reference count) values.
type Value struct {
	ctx *Context
	ref JSValue
}

// Free the value.
func (v Value) Free() {
	if v.ctx == nil {
		return
	}
	v.ctx.rt.mustOwn()
	v.ctx.rt.free(v.ref)
}

// Dup returns a new owned reference to the same value.
func (v Value) Dup() Value {
	if v.ctx == nil {
		return v
	}
	v.ctx.rt.mustOwn()
	return Value{ctx: v.ctx, ref: v.ctx.rt.dup(v.ref)}
}

// Context represents a Javascript context.
func (v Value) Context() *Context {
	return v.ctx
}

// Ref returns the raw value. It stays valid as long as v is.
func (v Value) Ref() JSValue {
	return v.ref
}

// Tag returns the tag of the value.
func (v Value) Tag() Tag {
	return v.ref.tag
}

// ClassID returns the class of an object, or 0 for other values.
func (v Value) ClassID() ClassID {
	if v.ctx == nil {
		return 0
	}
	return v.ctx.rt.classIDOf(v.ref)
}

func (v Value) typeTag() string {
	switch v.ref.tag {
	case TagInt, TagFloat64:
		return "Number"
	case TagString:
		return "String"
	case TagBool:
		return "Boolean"
	case TagSymbol:
		return "Symbol"
	case TagBigInt:
		return "BigInt"
	case TagBigFloat:
		return "BigFloat"
	case TagBigDecimal:
		return "BigDecimal"
	case TagNull:
		return "Null"
	case TagUndefined:
		return "Undefined"
	}
	return "Object"
}

// Deprecated: Use ToBool instead.
func (v Value) Bool() bool {
	return v.ToBool()
}

// ToBool returns the boolean value of the value.
func (v Value) ToBool() bool {
	return v.ctx.truthy(v.ref)
}

// String returns the string representation of the value.
// This method implements the fmt.Stringer interface.
func (v Value) String() string {
	return v.ToString()
}

// ToString returns the string representation of the value.
func (v Value) ToString() string {
	if v.ctx == nil {
		return v.ref.String()
	}
	v.ctx.rt.mustOwn()
	s, _ := v.ctx.toGoString(v.ref)
	return s
}

// JSONStringify returns the JSON string representation of the value.
func (v Value) JSONStringify() string {
	v.ctx.rt.mustOwn()
	s, _ := v.ctx.jsonStringify(v.ref)
	return s
}

// Deprecated: Use ToInt64 instead.
func (v Value) Int64() int64 {
	return v.ToInt64()
}

// ToInt64 returns the int64 value of the value.
func (v Value) ToInt64() int64 {
	if v.ref.tag == TagBigInt {
		return v.ctx.rt.cellOf(v.ref).bigInt.Int64()
	}
	f, _ := v.ctx.toNumber(v.ref)
	return toInt64(math.Trunc(f))
}

// Deprecated: Use ToInt32 instead.
func (v Value) Int32() int32 {
	return v.ToInt32()
}

// ToInt32 returns the int32 value of the value.
func (v Value) ToInt32() int32 {
	if v.ref.tag == TagInt {
		return v.ref.int32()
	}
	f, _ := v.ctx.toNumber(v.ref)
	return toInt32(f)
}

// Deprecated: Use ToUint32 instead.
func (v Value) Uint32() uint32 {
	return v.ToUint32()
}

// ToUint32 returns the uint32 value of the value.
func (v Value) ToUint32() uint32 {
	f, _ := v.ctx.toNumber(v.ref)
	return toUint32(f)
}

// Deprecated: Use ToFloat64 instead.
func (v Value) Float64() float64 {
	return v.ToFloat64()
}

// ToFloat64 returns the float64 value of the value.
func (v Value) ToFloat64() float64 {
	f, _ := v.ctx.toNumber(v.ref)
	return f
}

// Deprecated: Use ToBigInt instead.
func (v Value) BigInt() *big.Int {
	return v.ToBigInt()
}

// ToBigInt returns the big.Int value of the value.
func (v Value) ToBigInt() *big.Int {
	if !v.IsBigInt() {
		return nil
	}
	return new(big.Int).Set(v.ctx.rt.cellOf(v.ref).bigInt)
}

// ToBigFloat returns a copy of the payload of a BigFloat value, or nil.
func (v Value) ToBigFloat() *big.Float {
	if v.ref.tag != TagBigFloat {
		return nil
	}
	return new(big.Float).Copy(v.ctx.rt.cellOf(v.ref).bigFloat)
}

// ToBigDecimal returns a copy of the payload of a BigDecimal value, or nil.
func (v Value) ToBigDecimal() *apd.Decimal {
	if v.ref.tag != TagBigDecimal {
		return nil
	}
	return new(apd.Decimal).Set(v.ctx.rt.cellOf(v.ref).bigDec)
}

// Len returns the length of the array.
func (v Value) Len() int64 {
	l := v.Get("length")
	defer l.Free()
	return l.Int64()
}

// =============================================================================
// PROPERTIES
// =============================================================================

// Set sets the value of the property with the given name. val is consumed.
func (v Value) Set(name string, val Value) {
	v.ctx.rt.mustOwn()
	v.ctx.setPropertyStr(v.ref, name, v.ctx.raw(val), PropertyThrow)
}

// SetIdx sets the value of the property with the given index. val is consumed.
func (v Value) SetIdx(idx int64, val Value) {
	prop := v.ctx.AtomIdx(uint32(idx))
	defer prop.Free()
	v.SetAtom(prop, val)
}

// SetAtom sets a property by atom. val is consumed.
func (v Value) SetAtom(prop Atom, val Value) bool {
	v.ctx.rt.mustOwn()
	return v.ctx.setProperty(v.ref, prop.ref, v.ctx.raw(val), v.ref, PropertyThrow) > 0
}

// Get returns the value of the property with the given name.
func (v Value) Get(name string) Value {
	v.ctx.rt.mustOwn()
	return v.ctx.wrap(v.ctx.getPropertyStr(v.ref, name))
}

// GetIdx returns the value of the property with the given index.
func (v Value) GetIdx(idx int64) Value {
	prop := v.ctx.AtomIdx(uint32(idx))
	defer prop.Free()
	return v.GetAtom(prop)
}

// GetAtom returns the value of a property by atom.
func (v Value) GetAtom(prop Atom) Value {
	v.ctx.rt.mustOwn()
	return v.ctx.wrap(v.ctx.getProperty(v.ref, prop.ref, v.ref))
}

// DefineProperty defines an own property. val, getter and setter are borrowed; only the
// attributes whose Has flag is set are applied. It reports false when the definition was
// rejected; with PropertyThrow a TypeError is pending instead.
func (v Value) DefineProperty(prop Atom, val, getter, setter Value, flags PropertyFlags) bool {
	ctx := v.ctx
	ctx.rt.mustOwn()
	return ctx.defineProperty(v.ref, prop.ref, ctx.raw(val), ctx.raw(getter), ctx.raw(setter), flags) > 0
}

// DefinePropertyValue defines a writable, enumerable and configurable data property with the
// attributes in flags. val is consumed.
func (v Value) DefinePropertyValue(name string, val Value, flags PropertyFlags) bool {
	v.ctx.rt.mustOwn()
	return v.ctx.defineValueStr(v.ref, name, v.ctx.raw(val), flags) > 0
}

// DefinePropertyGetSet defines an accessor property. getter and setter are consumed; either
// may be the zero Value.
func (v Value) DefinePropertyGetSet(name string, getter, setter Value, flags PropertyFlags) bool {
	ctx := v.ctx
	ctx.rt.mustOwn()
	g, s := ctx.raw(getter), ctx.raw(setter)
	defer ctx.rt.free(g)
	defer ctx.rt.free(s)
	prop := ctx.rt.atoms.newAtom(name)
	defer ctx.rt.atoms.free(prop)
	return ctx.defineProperty(v.ref, prop, Undefined, g, s,
		flags|PropertyHasGet|PropertyHasSet|PropertyHasConfigurable|PropertyHasEnumerable) > 0
}

// GetOwnProperty returns the descriptor of an own property. The descriptor owns its values;
// release it with PropertyDescriptor.Free.
func (v Value) GetOwnProperty(prop Atom) (PropertyDescriptor, bool, error) {
	ctx := v.ctx
	ctx.rt.mustOwn()
	if !v.IsObject() {
		return PropertyDescriptor{}, false, nil
	}
	var desc propertyDescriptor
	switch ctx.getOwnPropertyInternal(&desc, v.ref, prop.ref) {
	case -1:
		return PropertyDescriptor{}, false, ctx.Exception()
	case 0:
		return PropertyDescriptor{}, false, nil
	}
	pd := PropertyDescriptor{Flags: desc.flags}
	if desc.flags&PropertyTypeMask == PropertyGetSet {
		pd.Getter, pd.Setter = ctx.wrap(desc.getter), ctx.wrap(desc.setter)
		ctx.rt.free(desc.value)
	} else {
		pd.Value = ctx.wrap(desc.value)
		ctx.rt.free(desc.getter)
		ctx.rt.free(desc.setter)
	}
	return pd, true, nil
}

// OwnPropertyNames lists the own keys selected by flags. The atoms are owned by the caller.
func (v Value) OwnPropertyNames(flags GPNFlags) ([]PropertyEnum, error) {
	ctx := v.ctx
	ctx.rt.mustOwn()
	if !v.IsObject() {
		return nil, errors.New("value does not contain properties")
	}
	tab, code := ctx.getOwnPropertyNamesInternal(v.ref, flags)
	if code < 0 {
		return nil, ctx.Exception()
	}
	names := make([]PropertyEnum, len(tab))
	for i, e := range tab {
		names[i] = PropertyEnum{IsEnumerable: e.enumerable, Atom: ctx.wrapAtom(ctx.rt.atoms.dup(e.atom))}
	}
	ctx.freePropertyEnum(tab)
	return names, nil
}

// PropertyNames returns the names of the own string and symbol properties of the value.
func (v Value) PropertyNames() ([]string, error) {
	pList, err := v.OwnPropertyNames(GPNStringMask | GPNSymbolMask | GPNPrivateMask)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(pList))
	for i := range pList {
		names[i] = pList[i].ToString()
		pList[i].Atom.Free()
	}
	return names, nil
}

// Has returns true if the value has the property with the given name.
func (v Value) Has(name string) bool {
	prop := v.ctx.Atom(name)
	defer prop.Free()
	return v.HasAtom(prop)
}

// HasIdx returns true if the value has the property with the given index.
func (v Value) HasIdx(idx uint32) bool {
	prop := v.ctx.AtomIdx(idx)
	defer prop.Free()
	return v.HasAtom(prop)
}

// HasAtom reports whether the property exists on the value or its prototype chain.
func (v Value) HasAtom(prop Atom) bool {
	if !v.IsObject() {
		return false
	}
	return v.ctx.hasProperty(v.ref, prop.ref) > 0
}

// Delete deletes the property with the given name.
func (v Value) Delete(name string) bool {
	if !v.Has(name) {
		return false // Property does not exist, nothing to delete
	}
	prop := v.ctx.Atom(name)
	defer prop.Free()
	return v.ctx.deleteProperty(v.ref, prop.ref, PropertyThrow) == 1
}

// DeleteIdx deletes the property with the given index.
func (v Value) DeleteIdx(idx uint32) bool {
	if !v.HasIdx(idx) {
		return false // Property does not exist, nothing to delete
	}
	prop := v.ctx.AtomIdx(idx)
	defer prop.Free()
	return v.ctx.deleteProperty(v.ref, prop.ref, PropertyThrow) == 1
}

// GetPrototype returns the prototype of an object, or null.
func (v Value) GetPrototype() Value {
	if !v.IsObject() {
		return v.ctx.Null()
	}
	return v.ctx.wrap(v.ctx.rt.dup(v.ctx.rt.objectOf(v.ref).proto))
}

// SetPrototype replaces the prototype of an object. proto is borrowed.
func (v Value) SetPrototype(proto Value) bool {
	v.ctx.rt.mustOwn()
	p := v.ctx.raw(proto)
	if proto.ctx == nil {
		p = Null
	}
	return v.ctx.setPrototype(v.ref, p, false) > 0
}

// PreventExtensions makes an object non extensible.
func (v Value) PreventExtensions() {
	v.ctx.preventExtensions(v.ref)
}

// IsExtensible reports whether new properties can be added to the object.
func (v Value) IsExtensible() bool {
	return v.ctx.isExtensible(v.ref)
}

// SetOpaque attaches host data to an object. Data implementing ClassFinalizer is finalized
// with the object.
func (v Value) SetOpaque(data any) bool {
	if !v.IsObject() {
		return false
	}
	v.ctx.rt.objectOf(v.ref).opaque = data
	return true
}

// GetOpaque returns the host data attached to an object.
func (v Value) GetOpaque() any {
	return v.ctx.rt.Opaque(v.ref)
}

// GetOpaqueClass returns the host data of an object of the given class, or nil for objects
// of other classes.
func (v Value) GetOpaqueClass(id ClassID) any {
	if v.ClassID() != id {
		return nil
	}
	return v.GetOpaque()
}

// =============================================================================
// CALLS
// =============================================================================

// valueOrException returns the pending exception in place of the Exception value.
func (v Value) valueOrException(val Value) Value {
	if val.IsException() {
		return v.ctx.GetException()
	}
	return val
}

// Call calls the function with the given arguments.
func (v Value) Call(fname string, args ...Value) Value {
	fn := v.Get(fname) // get the function by name
	defer fn.Free()
	if fn.IsException() {
		return v.ctx.GetException()
	}
	return v.valueOrException(v.ctx.Call(fn, v, args...))
}

// Execute the function with the given arguments.
func (v Value) Execute(this Value, args ...Value) Value {
	return v.valueOrException(v.ctx.Call(v, this, args...))
}

// Call Class Constructor
func (v Value) New(args ...Value) Value {
	return v.CallConstructor(args...)
}

// CallConstructor calls the constructor with the given arguments.
func (v Value) CallConstructor(args ...Value) Value {
	return v.valueOrException(v.ctx.CallConstructor(v, Value{}, args...))
}

// =============================================================================
// ERRORS
// =============================================================================

// Deprecated: Use ToError() instead.
func (v Value) Error() error {
	return v.ToError()
}

// ToError returns the error value of the value.
func (v Value) ToError() error {
	if !v.IsError() {
		return nil
	}
	return v.ctx.errorFromValue(v.ref)
}

// GlobalInstanceof checks if the value is an instance of the given global constructor
func (v Value) GlobalInstanceof(name string) bool {
	if !v.IsObject() {
		return false
	}
	ctx := v.ctx
	if ctor, ok := ctx.intrinsics[name]; ok && ctx.ordinaryInstanceOf(v.ref, ctor) {
		return true
	}
	ctor := ctx.Globals().Get(name)
	defer ctor.Free()
	if !ctor.IsObject() {
		return false
	}
	return ctx.instanceOf(v.ref, ctor.ref)
}

// ordinaryInstanceOf walks the prototype chain of v looking for ctor.prototype.
func (ctx *Context) ordinaryInstanceOf(v, ctor JSValue) bool {
	r := ctx.rt
	proto := ctx.getProperty(ctor, atomPrototype, ctor)
	defer r.free(proto)
	if proto.tag != TagObject {
		return false
	}
	for p := r.objectOf(v).proto; p.tag == TagObject; p = r.objectOf(p).proto {
		if p == proto {
			return true
		}
	}
	return false
}

// instanceOf implements `v instanceof ctor`, asking the evaluator when either side is a script
// object.
func (ctx *Context) instanceOf(v, ctor JSValue) bool {
	if h := scriptHandleOf(ctx.rt, v); h != nil {
		ok, err := h.instanceOf(ctx, ctor)
		return err == nil && ok
	}
	return ctx.ordinaryInstanceOf(v, ctor)
}

// =============================================================================
// PREDICATES
// =============================================================================

func (v Value) IsNumber() bool        { return v.ref.IsNumber() }
func (v Value) IsBigInt() bool        { return v.ref.IsBigInt() }
func (v Value) IsBigFloat() bool      { return v.ref.tag == TagBigFloat }
func (v Value) IsBigDecimal() bool    { return v.ref.tag == TagBigDecimal }
func (v Value) IsBool() bool          { return v.ref.IsBool() }
func (v Value) IsNull() bool          { return v.ref.IsNull() }
func (v Value) IsUndefined() bool     { return v.ref.IsUndefined() }
func (v Value) IsException() bool     { return v.ref.IsException() }
func (v Value) IsUninitialized() bool { return v.ref.IsUninitialized() }
func (v Value) IsString() bool        { return v.ref.IsString() }
func (v Value) IsSymbol() bool        { return v.ref.IsSymbol() }
func (v Value) IsObject() bool        { return v.ref.IsObject() }
func (v Value) IsFunctionBytecode() bool {
	return v.ref.tag == TagFunctionBytecode
}
func (v Value) IsModule() bool { return v.ref.tag == TagModule }

// IsArray reports whether the value is an array, including arrays created by scripts.
func (v Value) IsArray() bool {
	if !v.IsObject() {
		return false
	}
	if v.ClassID() == ClassArray {
		return true
	}
	h := scriptHandleOf(v.ctx.rt, v.ref)
	return h != nil && h.className() == "Array"
}

// IsError reports whether the value is an Error object.
func (v Value) IsError() bool {
	return v.ctx != nil && v.ctx.isError(v.ref)
}

// IsFunction reports whether the value can be called.
func (v Value) IsFunction() bool {
	return v.ctx != nil && v.ctx.rt.isCallable(v.ref)
}

// IsConstructor reports whether the value can be called with new.
func (v Value) IsConstructor() bool {
	return v.ctx != nil && v.ctx.rt.isConstructor(v.ref)
}

// IsPromise reports whether the value is a promise object.
func (v Value) IsPromise() bool {
	if v.ctx == nil {
		return false
	}
	_, res, ok := v.ctx.promiseState(v.ref)
	v.ctx.rt.free(res)
	return ok
}

// PromiseState returns the state of a promise; values that are not promises report
// PromisePending and false.
func (v Value) PromiseState() (PromiseState, bool) {
	state, res, ok := v.ctx.promiseState(v.ref)
	v.ctx.rt.free(res)
	return state, ok
}

// GetGoObject returns the Go object attached to a class instance by its constructor.
func (v Value) GetGoObject() (any, error) {
	return v.ctx.GetInstanceData(v)
}

// ToArray wraps an array value. The Array shares the reference of v.
func (v Value) ToArray() (Array, error) {
	if !v.IsArray() {
		return Array{}, errors.New("value is not an array")
	}
	return NewQjsArray(v), nil
}
