package quickjs

import "strconv"

// JSAtom is the raw atom handle. Half of the atom range is reserved for immediate integer
// atoms from 0 to 2^31-1; the other half indexes the runtime atom table.
type JSAtom uint32

const (
	AtomNull   JSAtom = 0
	atomTagInt JSAtom = 1 << 31
	// MaxAtomInt is the largest integer that is stored as an immediate atom.
	MaxAtomInt = 1<<31 - 1
)

type atomKind uint8

const (
	atomKindString atomKind = iota
	atomKindSymbol
	atomKindPrivate
)

// Predefined atoms live for the whole runtime.
const (
	atomEmptyString JSAtom = iota + 1
	atomLength
	atomPrototype
	atomConstructor
	atomName
	atomMessage
	atomStack
	atomCause
	atomErrors
	atomToString
	atomValueOf
	atomValue
	atomGet
	atomSet
	atomWritable
	atomEnumerable
	atomConfigurable
	atomExports
	atomDefault
	atomEnd
)

var predefinedAtoms = [atomEnd]string{
	atomEmptyString:  "",
	atomLength:       "length",
	atomPrototype:    "prototype",
	atomConstructor:  "constructor",
	atomName:         "name",
	atomMessage:      "message",
	atomStack:        "stack",
	atomCause:        "cause",
	atomErrors:       "errors",
	atomToString:     "toString",
	atomValueOf:      "valueOf",
	atomValue:        "value",
	atomGet:          "get",
	atomSet:          "set",
	atomWritable:     "writable",
	atomEnumerable:   "enumerable",
	atomConfigurable: "configurable",
	atomExports:      "exports",
	atomDefault:      "default",
}

type atomEntry struct {
	str  string
	kind atomKind
	rc   int32
	live bool
}

type atomTable struct {
	entries []atomEntry
	byName  map[string]JSAtom
	freeIDs []JSAtom
}

func newAtomTable() *atomTable {
	t := &atomTable{
		entries: make([]atomEntry, atomEnd, 256),
		byName:  make(map[string]JSAtom, 256),
	}
	for a := atomEmptyString; a < atomEnd; a++ {
		t.entries[a] = atomEntry{str: predefinedAtoms[a], rc: 1, live: true}
		t.byName[predefinedAtoms[a]] = a
	}
	return t
}

func atomFromUint32(n uint32) JSAtom {
	return JSAtom(n) | atomTagInt
}

func (a JSAtom) isInt() bool {
	return a&atomTagInt != 0
}

func (a JSAtom) permanent() bool {
	return a.isInt() || a < atomEnd
}

// arrayIndex parses the canonical decimal form of an integer atom.
func arrayIndex(s string) (uint32, bool) {
	if s == "" || len(s) > 10 || (len(s) > 1 && s[0] == '0') {
		return 0, false
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil || n > MaxAtomInt {
		return 0, false
	}
	return uint32(n), true
}

func (t *atomTable) alloc(e atomEntry) JSAtom {
	e.rc = 1
	e.live = true
	if n := len(t.freeIDs); n > 0 {
		a := t.freeIDs[n-1]
		t.freeIDs = t.freeIDs[:n-1]
		t.entries[a] = e
		return a
	}
	t.entries = append(t.entries, e)
	return JSAtom(len(t.entries) - 1)
}

func (t *atomTable) newAtom(s string) JSAtom {
	if n, ok := arrayIndex(s); ok {
		return atomFromUint32(n)
	}
	if a, ok := t.byName[s]; ok {
		return t.dup(a)
	}
	a := t.alloc(atomEntry{str: s, kind: atomKindString})
	t.byName[s] = a
	return a
}

func (t *atomTable) newAtomUint32(n uint32) JSAtom {
	if n <= MaxAtomInt {
		return atomFromUint32(n)
	}
	return t.newAtom(strconv.FormatUint(uint64(n), 10))
}

func (t *atomTable) newSymbol(description string, kind atomKind) JSAtom {
	return t.alloc(atomEntry{str: description, kind: kind})
}

func (t *atomTable) dup(a JSAtom) JSAtom {
	if !a.permanent() {
		t.entries[a].rc++
	}
	return a
}

func (t *atomTable) free(a JSAtom) {
	if a.permanent() {
		return
	}
	e := &t.entries[a]
	if !e.live {
		return
	}
	e.rc--
	if e.rc > 0 {
		return
	}
	if e.kind == atomKindString {
		delete(t.byName, e.str)
	}
	*e = atomEntry{}
	t.freeIDs = append(t.freeIDs, a)
}

func (t *atomTable) kind(a JSAtom) atomKind {
	if a.isInt() {
		return atomKindString
	}
	return t.entries[a].kind
}

func (t *atomTable) toString(a JSAtom) string {
	if a.isInt() {
		return strconv.FormatUint(uint64(a&^atomTagInt), 10)
	}
	if int(a) >= len(t.entries) {
		return ""
	}
	return t.entries[a].str
}

func (t *atomTable) count() int {
	return len(t.entries) - 1 - len(t.freeIDs)
}

// =============================================================================
// ATOM WRAPPER
// =============================================================================

// Atom represents a QuickJS atom - unique strings used for object property names.
// Object property names and some strings are stored as Atoms (unique strings) to save memory and allow fast comparison.
// An Atom returned by a constructor owns a reference that must be released with Free.
type Atom struct {
	ctx *Context
	ref JSAtom
}

// Free decrements the reference count of the atom.
func (a Atom) Free() {
	a.ctx.rt.mustOwn()
	a.ctx.rt.atoms.free(a.ref)
}

// Dup returns a new owned reference to the same atom.
func (a Atom) Dup() Atom {
	a.ctx.rt.mustOwn()
	return Atom{ctx: a.ctx, ref: a.ctx.rt.atoms.dup(a.ref)}
}

// Ref returns the raw atom.
func (a Atom) Ref() JSAtom {
	return a.ref
}

// IsSymbol reports whether the atom is a symbol or private name.
func (a Atom) IsSymbol() bool {
	return a.ctx.rt.atoms.kind(a.ref) != atomKindString
}

// ToString returns the string representation of the atom.
func (a Atom) ToString() string {
	return a.ctx.rt.atoms.toString(a.ref)
}

// String returns the string representation of the atom.
// This method implements the fmt.Stringer interface.
func (a Atom) String() string {
	return a.ToString()
}

// ToValue returns the value representation of the atom: a number for integer atoms, a symbol
// for symbol atoms and a string otherwise.
func (a Atom) ToValue() Value {
	return Value{ctx: a.ctx, ref: a.ctx.atomToValue(a.ref)}
}

// PropertyEnum is one entry of an own property name list.
type PropertyEnum struct {
	IsEnumerable bool
	Atom         Atom
}

// ToString returns the atom string representation of the property.
func (p PropertyEnum) ToString() string {
	return p.Atom.ToString()
}
