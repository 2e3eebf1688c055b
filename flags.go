package quickjs

// PropertyFlags are the QuickJS JS_PROP_* bits used by property definition and assignment.
type PropertyFlags uint32

// Property flags constants matching QuickJS
const (
	PropertyConfigurable PropertyFlags = 1 << 0 // JS_PROP_CONFIGURABLE
	PropertyWritable     PropertyFlags = 1 << 1 // JS_PROP_WRITABLE
	PropertyEnumerable   PropertyFlags = 1 << 2 // JS_PROP_ENUMERABLE
	PropertyLength       PropertyFlags = 1 << 3 // JS_PROP_LENGTH, array length

	// Default property flags (writable, enumerable, configurable)
	PropertyDefault = PropertyConfigurable | PropertyWritable | PropertyEnumerable

	PropertyTypeMask PropertyFlags = 3 << 4 // JS_PROP_TMASK
	PropertyNormal   PropertyFlags = 0 << 4
	PropertyGetSet   PropertyFlags = 1 << 4 // accessor property

	// PropertyHasShift moves the PropertyHas* bits onto the attribute bits.
	PropertyHasShift = 8

	PropertyHasConfigurable PropertyFlags = 1 << 8
	PropertyHasWritable     PropertyFlags = 1 << 9
	PropertyHasEnumerable   PropertyFlags = 1 << 10
	PropertyHasGet          PropertyFlags = 1 << 11
	PropertyHasSet          PropertyFlags = 1 << 12
	PropertyHasValue        PropertyFlags = 1 << 13

	// PropertyThrow throws instead of returning false.
	PropertyThrow PropertyFlags = 1 << 14
	// PropertyThrowStrict throws in strict mode only.
	PropertyThrowStrict PropertyFlags = 1 << 15
	// PropertyNoAdd fails assignment instead of creating a new property.
	PropertyNoAdd PropertyFlags = 1 << 16
	// PropertyNoExotic bypasses the exotic traps of the target.
	PropertyNoExotic PropertyFlags = 1 << 17
)

// GPNFlags select the keys returned by own property enumeration (JS_GPN_*).
type GPNFlags uint32

const (
	GPNStringMask  GPNFlags = 1 << 0
	GPNSymbolMask  GPNFlags = 1 << 1
	GPNPrivateMask GPNFlags = 1 << 2
	GPNEnumOnly    GPNFlags = 1 << 4
	GPNSetEnum     GPNFlags = 1 << 5
)

// CallFlags qualify a call trap invocation.
type CallFlags uint32

// CallFlagConstructor marks a `new` invocation; the this argument is then new.target.
const CallFlagConstructor CallFlags = 1 << 0

// WriteObjFlags control Context.WriteObject.
type WriteObjFlags uint32

const (
	WriteObjBytecode WriteObjFlags = 1 << 0 // allow function bytecode
	WriteObjBSwap    WriteObjFlags = 1 << 1 // byte swapped output
)

// ReadObjFlags control Context.ReadObject.
type ReadObjFlags uint32

const (
	ReadObjBytecode ReadObjFlags = 1 << 0 // allow function bytecode
	ReadObjROMData  ReadObjFlags = 1 << 1 // the buffer outlives the values read from it
)
