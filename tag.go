package quickjs

import "strconv"

// Tag identifies the kind of a JSValue. The numeric values match QuickJS; every negative tag
// denotes a reference-counted heap cell.
type Tag int32

const (
	TagFirst            Tag = -11
	TagBigDecimal       Tag = -11
	TagBigInt           Tag = -10
	TagBigFloat         Tag = -9
	TagSymbol           Tag = -8
	TagString           Tag = -7
	TagModule           Tag = -3
	TagFunctionBytecode Tag = -2
	TagObject           Tag = -1

	TagInt           Tag = 0
	TagBool          Tag = 1
	TagNull          Tag = 2
	TagUndefined     Tag = 3
	TagUninitialized Tag = 4
	TagCatchOffset   Tag = 5
	TagException     Tag = 6
	TagFloat64       Tag = 7
)

var tagNames = map[Tag]string{
	TagBigDecimal:       "BigDecimal",
	TagBigInt:           "BigInt",
	TagBigFloat:         "BigFloat",
	TagSymbol:           "Symbol",
	TagString:           "String",
	TagModule:           "Module",
	TagFunctionBytecode: "FunctionBytecode",
	TagObject:           "Object",
	TagInt:              "Int",
	TagBool:             "Bool",
	TagNull:             "Null",
	TagUndefined:        "Undefined",
	TagUninitialized:    "Uninitialized",
	TagCatchOffset:      "CatchOffset",
	TagException:        "Exception",
	TagFloat64:          "Float64",
}

// HasRefCount reports whether values with this tag point to a reference-counted heap cell.
func (t Tag) HasRefCount() bool {
	return t < 0
}

// IsNumber reports whether the tag is one of the two inline number tags.
func (t Tag) IsNumber() bool {
	return t == TagInt || t == TagFloat64
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return "Tag(" + strconv.Itoa(int(t)) + ")"
}
