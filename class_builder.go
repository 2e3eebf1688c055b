package quickjs

import (
	"errors"

	"go.uber.org/zap"
)

// =============================================================================
// CLASS-RELATED FUNCTION TYPES
// =============================================================================

// ClassConstructorFunc receives the instance created for new.target, with the instance
// properties already bound, and returns the Go object to associate with it.
type ClassConstructorFunc func(ctx *Context, instance Value, args []Value) (any, error)

// ClassMethodFunc represents both instance and static methods.
// this is the object instance for instance methods, or the constructor function for static
// methods.
type ClassMethodFunc func(ctx *Context, this Value, args []Value) Value

// ClassGetterFunc represents accessor getter functions.
type ClassGetterFunc func(ctx *Context, this Value) Value

// ClassSetterFunc represents accessor setter functions.
// Returns the set value or an exception.
type ClassSetterFunc func(ctx *Context, this Value, value Value) Value

// =============================================================================
// CLASS BINDING CONFIGURATION STRUCTURES
// =============================================================================

// MethodEntry represents a method binding configuration.
type MethodEntry struct {
	Name   string          // Method name in JavaScript
	Func   ClassMethodFunc // Method implementation function
	Static bool            // true for static methods, false for instance methods
	Length int             // Expected parameter count, 0 for default
}

// AccessorEntry represents an accessor binding configuration.
type AccessorEntry struct {
	Name   string          // Accessor name in JavaScript
	Getter ClassGetterFunc // Optional getter function
	Setter ClassSetterFunc // Optional setter function
	Static bool            // true for static accessors, false for instance accessors
}

// PropertyEntry represents a property binding configuration.
type PropertyEntry struct {
	Name   string        // Property name in JavaScript
	Value  Value         // Property value, borrowed until Build or instance creation
	Static bool          // true for static properties, false for instance properties
	Flags  PropertyFlags // Property flags (writable, enumerable, configurable)
}

// =============================================================================
// CLASS BUILDER - FLUENT API FOR BUILDING JAVASCRIPT CLASSES
// =============================================================================

// ClassBuilder provides a fluent API for building JavaScript classes.
type ClassBuilder struct {
	name        string
	constructor ClassConstructorFunc
	methods     []MethodEntry
	accessors   []AccessorEntry
	properties  []PropertyEntry

	// hooks of the instance class
	call      ClassCallFunc
	gcMark    ClassGCMarkFunc
	finalizer ClassFinalizerFunc
	exotic    ExoticMethods
}

// NewClassBuilder creates a new ClassBuilder with the specified name
func NewClassBuilder(name string) *ClassBuilder {
	return &ClassBuilder{
		name:       name,
		methods:    make([]MethodEntry, 0),
		accessors:  make([]AccessorEntry, 0),
		properties: make([]PropertyEntry, 0),
	}
}

// Constructor sets the constructor function for the class.
func (cb *ClassBuilder) Constructor(fn ClassConstructorFunc) *ClassBuilder {
	cb.constructor = fn
	return cb
}

// Method adds an instance method to the class.
func (cb *ClassBuilder) Method(name string, fn ClassMethodFunc) *ClassBuilder {
	cb.methods = append(cb.methods, MethodEntry{Name: name, Func: fn})
	return cb
}

// StaticMethod adds a static method to the class.
// Static methods are called on the constructor function itself
func (cb *ClassBuilder) StaticMethod(name string, fn ClassMethodFunc) *ClassBuilder {
	cb.methods = append(cb.methods, MethodEntry{Name: name, Func: fn, Static: true})
	return cb
}

// Accessor adds a read-write accessor to the class instance.
// Pass nil for getter to create write-only accessor
// Pass nil for setter to create read-only accessor
func (cb *ClassBuilder) Accessor(name string, getter ClassGetterFunc, setter ClassSetterFunc) *ClassBuilder {
	cb.accessors = append(cb.accessors, AccessorEntry{Name: name, Getter: getter, Setter: setter})
	return cb
}

// StaticAccessor adds a read-write static accessor to the class constructor.
func (cb *ClassBuilder) StaticAccessor(name string, getter ClassGetterFunc, setter ClassSetterFunc) *ClassBuilder {
	cb.accessors = append(cb.accessors, AccessorEntry{Name: name, Getter: getter, Setter: setter, Static: true})
	return cb
}

// Property adds a data property to every instance; it is bound before the constructor runs.
// Default flags: writable, enumerable, configurable
func (cb *ClassBuilder) Property(name string, value Value, flags ...PropertyFlags) *ClassBuilder {
	propFlags := PropertyDefault
	if len(flags) > 0 {
		propFlags = flags[0]
	}
	cb.properties = append(cb.properties, PropertyEntry{Name: name, Value: value, Flags: propFlags})
	return cb
}

// StaticProperty adds a data property to the class constructor.
// Default flags: writable, enumerable, configurable
func (cb *ClassBuilder) StaticProperty(name string, value Value, flags ...PropertyFlags) *ClassBuilder {
	propFlags := PropertyDefault
	if len(flags) > 0 {
		propFlags = flags[0]
	}
	cb.properties = append(cb.properties, PropertyEntry{Name: name, Value: value, Static: true, Flags: propFlags})
	return cb
}

// Call makes instances of the class callable.
func (cb *ClassBuilder) Call(fn ClassCallFunc) *ClassBuilder {
	cb.call = fn
	return cb
}

// GCMark reports references held by the Go data of instances.
func (cb *ClassBuilder) GCMark(fn ClassGCMarkFunc) *ClassBuilder {
	cb.gcMark = fn
	return cb
}

// Finalizer runs when an instance is destroyed, before the Finalize method of its Go object.
func (cb *ClassBuilder) Finalizer(fn ClassFinalizerFunc) *ClassBuilder {
	cb.finalizer = fn
	return cb
}

// Exotic installs exotic property traps on instances.
func (cb *ClassBuilder) Exotic(methods ExoticMethods) *ClassBuilder {
	cb.exotic = methods
	return cb
}

// Build creates and registers the JavaScript class in the given context.
// Returns the constructor function and the class id of its instances.
func (cb *ClassBuilder) Build(ctx *Context) (Value, ClassID, error) {
	return ctx.createClass(cb)
}

// =============================================================================
// CLASS CREATION IMPLEMENTATION
// =============================================================================

func validateClassBuilder(builder *ClassBuilder) error {
	if builder.name == "" {
		return errors.New("class name is required")
	}
	if builder.constructor == nil {
		return errors.New("constructor function is required")
	}
	return nil
}

func (ctx *Context) createClass(builder *ClassBuilder) (Value, ClassID, error) {
	r := ctx.rt
	r.mustOwn()
	if err := validateClassBuilder(builder); err != nil {
		return Value{}, 0, err
	}

	classID := AllocateClassID()
	err := r.NewClass(classID, &ClassDef{
		Name:      builder.name,
		Call:      builder.call,
		GCMark:    builder.gcMark,
		Finalizer: builder.finalizer,
		Exotic:    builder.exotic,
	})
	if err != nil {
		return Value{}, 0, err
	}

	proto := ctx.newObject()
	if proto.IsException() {
		return ctx.wrap(proto), 0, ctx.Exception()
	}
	ctor := ctx.newCFunction(builder.name, 0, ctx.classConstructorProxy(builder, classID), true)
	if ctor.IsException() {
		r.free(proto)
		return ctx.wrap(ctor), 0, ctx.Exception()
	}

	fail := func() (Value, ClassID, error) {
		r.free(proto)
		r.free(ctor)
		return ctx.wrap(Exception), 0, ctx.Exception()
	}
	if ctx.defineValue(ctor, atomPrototype, r.dup(proto), 0) < 0 ||
		ctx.defineValue(proto, atomConstructor, r.dup(ctor), PropertyWritable|PropertyConfigurable) < 0 {
		return fail()
	}

	for _, m := range builder.methods {
		target := proto
		if m.Static {
			target = ctor
		}
		fn := ctx.newCFunction(m.Name, m.Length, methodProxy(m.Func), false)
		if ctx.defineValueStr(target, m.Name, fn, PropertyWritable|PropertyConfigurable) < 0 {
			return fail()
		}
	}
	for _, a := range builder.accessors {
		target := proto
		if a.Static {
			target = ctor
		}
		if !ctx.defineAccessor(target, a) {
			return fail()
		}
	}
	for _, p := range builder.properties {
		if !p.Static {
			continue
		}
		if ctx.defineValueStr(ctor, p.Name, r.dup(ctx.raw(p.Value)), p.Flags) < 0 {
			return fail()
		}
	}

	ctx.SetClassProto(classID, ctx.wrap(proto))
	return ctx.wrap(ctor), classID, nil
}

func (ctx *Context) defineAccessor(target JSValue, a AccessorEntry) bool {
	getter, setter := Undefined, Undefined
	if a.Getter != nil {
		get := a.Getter
		getter = ctx.newCFunction("get "+a.Name, 0, func(ctx *Context, _, this Value, _ []Value, _ CallFlags) (Value, error) {
			return get(ctx, this), nil
		}, false)
	}
	if a.Setter != nil {
		set := a.Setter
		setter = ctx.newCFunction("set "+a.Name, 1, func(ctx *Context, _, this Value, args []Value, _ CallFlags) (Value, error) {
			val := ctx.Undefined()
			if len(args) > 0 {
				val = args[0]
			}
			return set(ctx, this, val), nil
		}, false)
	}
	defer ctx.rt.free(getter)
	defer ctx.rt.free(setter)
	if getter.IsException() || setter.IsException() {
		return false
	}
	prop := ctx.rt.atoms.newAtom(a.Name)
	defer ctx.rt.atoms.free(prop)
	return ctx.defineProperty(target, prop, Undefined, getter, setter,
		PropertyConfigurable|PropertyHasGet|PropertyHasSet|PropertyHasConfigurable|PropertyHasEnumerable) >= 0
}

func methodProxy(fn ClassMethodFunc) ClassCallFunc {
	return func(ctx *Context, _, this Value, args []Value, _ CallFlags) (Value, error) {
		return fn(ctx, this, args), nil
	}
}

// classConstructorProxy creates the instance from new.target, binds the instance properties,
// runs the Go constructor and attaches the Go object it returns.
func (ctx *Context) classConstructorProxy(builder *ClassBuilder, classID ClassID) ClassCallFunc {
	return func(ctx *Context, _, newTarget Value, args []Value, flags CallFlags) (Value, error) {
		if flags&CallFlagConstructor == 0 {
			return ctx.ThrowTypeError("class constructor %s cannot be invoked without 'new'", builder.name), nil
		}
		r := ctx.rt

		proto := newTarget.Get("prototype")
		if proto.IsException() {
			return proto, nil
		}
		defer proto.Free()
		p := proto.ref
		if p.tag != TagObject {
			p = ctx.classProto(classID)
		}
		instance := ctx.newObjectProtoClass(p, classID)
		if instance.IsException() {
			return ctx.wrap(instance), nil
		}

		for _, prop := range builder.properties {
			if prop.Static {
				continue
			}
			if ctx.defineValueStr(instance, prop.Name, r.dup(ctx.raw(prop.Value)), prop.Flags) < 0 {
				r.free(instance)
				return ctx.wrap(Exception), nil
			}
		}

		goObj, err := builder.constructor(ctx, ctx.wrap(instance), args)
		if err != nil {
			r.free(instance)
			return Value{}, err
		}
		if ctx.hasPending() {
			r.free(instance)
			return ctx.wrap(Exception), nil
		}
		if goObj != nil {
			id := ctx.handleStore.Store(goObj)
			r.objectOf(instance).opaque = &instanceHandle{store: ctx.handleStore, id: id}
		}
		r.logger.Debug("class instance created", zap.String("class", builder.name))
		return ctx.wrap(instance), nil
	}
}
