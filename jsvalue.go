package quickjs

import (
	"fmt"
	"math"
	"strconv"
)

// JSValue is the raw tagged value: a tag plus a 64-bit payload holding an int32, a boolean, a
// double or the handle of a heap cell. JSValue is comparable and equality is bit-exact.
//
// Values with a negative tag are references: every owned copy must be released exactly once with
// Runtime.FreeValue (or Value.Free), and extra owners are created with Runtime.DupValue.
type JSValue struct {
	tag Tag
	u   uint64
}

const (
	float64SignMask = 0x7fffffffffffffff
	float64InfBits  = 0x7ff0000000000000
	float64NaNBits  = 0x7ff8000000000000
)

var (
	Null          = JSValue{tag: TagNull}
	Undefined     = JSValue{tag: TagUndefined}
	Uninitialized = JSValue{tag: TagUninitialized}
	False         = JSValue{tag: TagBool, u: 0}
	True          = JSValue{tag: TagBool, u: 1}
	NaN           = JSValue{tag: TagFloat64, u: float64NaNBits}

	// Exception is the sentinel returned by operations that raised a JavaScript exception.
	// The exception itself is pending on the context.
	Exception = JSValue{tag: TagException}
)

// MakeInt returns an inline integer value.
func MakeInt(v int32) JSValue {
	return JSValue{tag: TagInt, u: uint64(uint32(v))}
}

// MakeBool returns True or False.
func MakeBool(v bool) JSValue {
	if v {
		return True
	}
	return False
}

// MakeFloat returns a number value. Integral values that fit an int32 are folded to TagInt
// (negative zero is kept as a double) and every NaN is stored as the canonical NaN.
func MakeFloat(d float64) JSValue {
	if d >= math.MinInt32 && d <= math.MaxInt32 {
		i := int32(d)
		if math.Float64bits(float64(i)) == math.Float64bits(d) {
			return MakeInt(i)
		}
	}
	return makeFloat64(d)
}

// makeFloat64 never folds.
func makeFloat64(d float64) JSValue {
	bits := math.Float64bits(d)
	if bits&float64SignMask > float64InfBits {
		return NaN
	}
	return JSValue{tag: TagFloat64, u: bits}
}

// MakeCatchOffset returns an interpreter catch offset marker.
func MakeCatchOffset(off int32) JSValue {
	return JSValue{tag: TagCatchOffset, u: uint64(uint32(off))}
}

func makeRef(tag Tag, h handle) JSValue {
	return JSValue{tag: tag, u: uint64(h)}
}

// Tag returns the value tag.
func (v JSValue) Tag() Tag {
	return v.tag
}

// HasRefCount reports whether the value references a heap cell.
func (v JSValue) HasRefCount() bool {
	return v.tag.HasRefCount()
}

func (v JSValue) IsNumber() bool        { return v.tag == TagInt || v.tag == TagFloat64 }
func (v JSValue) IsBool() bool          { return v.tag == TagBool }
func (v JSValue) IsNull() bool          { return v.tag == TagNull }
func (v JSValue) IsUndefined() bool     { return v.tag == TagUndefined }
func (v JSValue) IsUninitialized() bool { return v.tag == TagUninitialized }
func (v JSValue) IsException() bool     { return v.tag == TagException }
func (v JSValue) IsString() bool        { return v.tag == TagString }
func (v JSValue) IsSymbol() bool        { return v.tag == TagSymbol }
func (v JSValue) IsObject() bool        { return v.tag == TagObject }
func (v JSValue) IsBigInt() bool        { return v.tag == TagBigInt }

// IsNaN reports whether the value is a double holding NaN.
func (v JSValue) IsNaN() bool {
	return v.tag == TagFloat64 && v.u&float64SignMask > float64InfBits
}

func (v JSValue) handle() handle {
	return handle(v.u)
}

func (v JSValue) int32() int32 {
	return int32(uint32(v.u))
}

func (v JSValue) float64() float64 {
	return math.Float64frombits(v.u)
}

func (v JSValue) mismatch(want string) error {
	return fmt.Errorf("%w: %s is not %s", ErrTypeMismatch, v.tag, want)
}

// ToInt32 returns the payload of an Int value.
func (v JSValue) ToInt32() (int32, error) {
	if v.tag != TagInt {
		return 0, v.mismatch("an integer")
	}
	return v.int32(), nil
}

// ToDouble returns the payload of a Float64 value.
func (v JSValue) ToDouble() (float64, error) {
	if v.tag != TagFloat64 {
		return 0, v.mismatch("a double")
	}
	return v.float64(), nil
}

// ToNumber returns the numeric payload of an Int or Float64 value.
func (v JSValue) ToNumber() (float64, error) {
	switch v.tag {
	case TagInt:
		return float64(v.int32()), nil
	case TagFloat64:
		return v.float64(), nil
	}
	return 0, v.mismatch("a number")
}

// ToBool returns the payload of a Bool value.
func (v JSValue) ToBool() (bool, error) {
	if v.tag != TagBool {
		return false, v.mismatch("a boolean")
	}
	return v.u != 0, nil
}

// String returns a context-independent description of the value. Heap values print their kind
// only; use Value.String for the JavaScript string conversion.
func (v JSValue) String() string {
	switch v.tag {
	case TagInt:
		return strconv.Itoa(int(v.int32()))
	case TagFloat64:
		return formatNumber(v.float64())
	case TagBool:
		return strconv.FormatBool(v.u != 0)
	case TagNull:
		return "null"
	case TagUndefined:
		return "undefined"
	}
	return "[" + v.tag.String() + "]"
}
