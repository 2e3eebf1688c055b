package quickjs

import (
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// ClassID identifies a native class. Ids below ClassInitCount are reserved for the built-in
// classes; AllocateClassID hands out the others.
type ClassID uint32

// Built-in class ids, numbered as in QuickJS.
const (
	ClassObject           ClassID = 1
	ClassArray            ClassID = 2
	ClassError            ClassID = 3
	ClassNumber           ClassID = 4
	ClassString           ClassID = 5
	ClassBoolean          ClassID = 6
	ClassSymbol           ClassID = 7
	ClassModuleNS         ClassID = 11
	ClassCFunction        ClassID = 12
	ClassBytecodeFunction ClassID = 13
	ClassScriptObject     ClassID = 14 // mirrors of evaluator objects
	ClassGlobal           ClassID = 15

	// ClassInitCount is the first id returned by AllocateClassID.
	ClassInitCount ClassID = 64
	// MaxClassID is the largest id a runtime can register.
	MaxClassID ClassID = 0xFFFF
)

var lastClassID atomic.Uint32

func init() {
	lastClassID.Store(uint32(ClassInitCount) - 1)
}

// AllocateClassID returns a new class id, unique in the process. The same id may be registered
// on several runtimes.
func AllocateClassID() ClassID {
	return ClassID(lastClassID.Add(1))
}

// =============================================================================
// CLASS HOOKS
// =============================================================================

// ClassFinalizer is an optional cleanup interface for host data attached to an object.
// Objects whose opaque data implements it have Finalize() called once when they are destroyed.
type ClassFinalizer interface {
	Finalize()
}

// ClassCallFunc is the call trap. funcObj, this and args are borrowed; the returned value is
// owned by the caller. With CallFlagConstructor set, this is new.target.
type ClassCallFunc func(ctx *Context, funcObj, this Value, args []Value, flags CallFlags) (Value, error)

// MarkFunc reports one reference held by host data.
type MarkFunc func(v JSValue)

// ClassGCMarkFunc reports the references held by the host data of val, so that the cycle
// collector sees edges that are not stored in properties.
type ClassGCMarkFunc func(rt *Runtime, val JSValue, mark MarkFunc) error

// ClassFinalizerFunc releases the host resources of val. It runs exactly once, when the last
// reference is released or the object is collected as part of a cycle, and must not create
// new references to val. Errors are logged and otherwise ignored.
type ClassFinalizerFunc func(rt *Runtime, val JSValue) error

// ClassDef describes a native class. A nil hook means the capability is absent: objects
// without Call are not callable, GCMark adds no edges and Finalizer does nothing.
type ClassDef struct {
	Name      string
	Call      ClassCallFunc
	GCMark    ClassGCMarkFunc
	Finalizer ClassFinalizerFunc
	Exotic    ExoticMethods
}

type classEntry struct {
	id   ClassID
	def  ClassDef
	name JSAtom
}

type classTable struct {
	entries []*classEntry
}

func (t *classTable) lookup(id ClassID) *classEntry {
	if int(id) >= len(t.entries) {
		return nil
	}
	return t.entries[id]
}

// NewClass registers a class on the runtime.
func (r *Runtime) NewClass(id ClassID, def *ClassDef) error {
	r.mustOwn()
	if def == nil || def.Name == "" {
		return errors.New("quickjs: class definition requires a name")
	}
	if id == 0 || id > MaxClassID {
		return fmt.Errorf("%w: %d for class %q (1..%d)", ErrClassCapacity, id, def.Name, MaxClassID)
	}
	if existing := r.classes.lookup(id); existing != nil {
		return fmt.Errorf("%w: id %d is already bound to class %q, cannot register %q", ErrClassRegistered, id, existing.def.Name, def.Name)
	}
	if int(id) >= len(r.classes.entries) {
		n := int(id) + 1
		if n < 2*len(r.classes.entries) {
			n = 2 * len(r.classes.entries)
		}
		grown := make([]*classEntry, n)
		copy(grown, r.classes.entries)
		r.classes.entries = grown
	}
	r.classes.entries[id] = &classEntry{id: id, def: *def, name: r.atoms.newAtom(def.Name)}
	r.logger.Debug("class registered", zap.Uint32("id", uint32(id)), zap.String("name", def.Name),
		zap.Bool("callable", def.Call != nil), zap.Bool("exotic", def.Exotic != nil))
	return nil
}

// IsRegisteredClass reports whether id has been registered on the runtime.
func (r *Runtime) IsRegisteredClass(id ClassID) bool {
	return r.classes.lookup(id) != nil
}

// ClassName returns the registered name of a class.
func (r *Runtime) ClassName(id ClassID) string {
	if e := r.classes.lookup(id); e != nil {
		return e.def.Name
	}
	return ""
}

// Opaque returns the host data attached to an object of any class. It is safe to call from
// finalizers and GC mark handlers.
func (r *Runtime) Opaque(v JSValue) any {
	if v.tag != TagObject {
		return nil
	}
	return r.objectOf(v).opaque
}

func (r *Runtime) registerBuiltinClasses() {
	builtins := []struct {
		id  ClassID
		def ClassDef
	}{
		{ClassObject, ClassDef{Name: "Object"}},
		{ClassArray, ClassDef{Name: "Array"}},
		{ClassError, ClassDef{Name: "Error"}},
		{ClassNumber, ClassDef{Name: "Number"}},
		{ClassString, ClassDef{Name: "String"}},
		{ClassBoolean, ClassDef{Name: "Boolean"}},
		{ClassSymbol, ClassDef{Name: "Symbol"}},
		{ClassModuleNS, ClassDef{Name: "Module"}},
		{ClassCFunction, ClassDef{Name: "Function", Call: callCFunction}},
		{ClassBytecodeFunction, ClassDef{Name: "Function", Call: callBytecodeFunction, Exotic: scriptExotic{}}},
		{ClassScriptObject, ClassDef{Name: "Object", Exotic: scriptExotic{}}},
		{ClassGlobal, ClassDef{Name: "global", Exotic: globalExotic{}}},
	}
	for _, b := range builtins {
		def := b.def
		if err := r.NewClass(b.id, &def); err != nil {
			panic(err)
		}
	}
}
