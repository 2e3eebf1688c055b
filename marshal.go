package quickjs

import (
	"fmt"
	"math"
	"math/big"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"
)

// Marshaler is the interface implemented by types that can marshal themselves into a JavaScript value.
type Marshaler interface {
	MarshalJS(ctx *Context) (Value, error)
}

// Unmarshaler is the interface implemented by types that can unmarshal a JavaScript value into themselves.
type Unmarshaler interface {
	UnmarshalJS(ctx *Context, val Value) error
}

var (
	valueType      = reflect.TypeFor[Value]()
	bigIntType     = reflect.TypeFor[big.Int]()
	bigFloatType   = reflect.TypeFor[big.Float]()
	bigDecimalType = reflect.TypeFor[apd.Decimal]()
)

// Marshal returns the JavaScript value encoding of v.
//
// Marshal uses the following type mappings:
//   - bool -> boolean
//   - signed and unsigned integers up to 32 bits, int64 -> number
//   - uint64 -> BigInt
//   - float32, float64 -> number
//   - string -> string
//   - big.Int -> BigInt, big.Float -> BigFloat, apd.Decimal -> BigDecimal
//   - Value -> a new reference to the same value
//   - slice, array -> Array ([]byte included, one number per byte)
//   - map, struct -> Object
//   - pointer -> the pointed value; nil becomes null
//
// Struct fields use their name unless a "js" or "json" tag renames them; "-" skips a field and
// the omitempty option skips zero values.
//
// Types implementing Marshaler are marshaled by their MarshalJS method.
func (ctx *Context) Marshal(v any) (Value, error) {
	if v == nil {
		return ctx.Null(), nil
	}
	return ctx.marshal(reflect.ValueOf(v))
}

// Unmarshal stores the Go form of jsVal in the value pointed to by v, which must be a non-nil
// pointer.
//
// Unmarshal inverts the mappings of Marshal, with these additions:
//   - null and undefined set pointers, maps, slices and interfaces to nil
//   - a string unmarshals into []byte as its bytes
//   - BigInt unmarshals into any integer type it fits in
//
// Into an empty interface Unmarshal stores nil, bool, int64 for integral numbers, float64,
// string, *big.Int, *big.Float, *apd.Decimal, []any or map[string]any.
//
// Types implementing Unmarshaler are unmarshaled by their UnmarshalJS method.
func (ctx *Context) Unmarshal(jsVal Value, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("unmarshal target must be a non-nil pointer")
	}
	return ctx.unmarshal(jsVal, rv.Elem())
}

func (ctx *Context) marshal(rv reflect.Value) (Value, error) {
	if rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return ctx.Null(), nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return ctx.Null(), nil
	}

	if rv.CanInterface() {
		switch x := rv.Interface().(type) {
		case Marshaler:
			return x.MarshalJS(ctx)
		case Value:
			ctx.checkSameRuntime(x)
			return x.Dup(), nil
		}
	}

	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return ctx.Null(), nil
		}
		return ctx.marshal(rv.Elem())
	}

	switch rv.Type() {
	case bigIntType:
		x := rv.Interface().(big.Int)
		return ctx.BigInt(&x), nil
	case bigFloatType:
		x := rv.Interface().(big.Float)
		return ctx.BigFloat(&x), nil
	case bigDecimalType:
		x := rv.Interface().(apd.Decimal)
		return ctx.BigDecimal(&x), nil
	}

	switch rv.Kind() {
	case reflect.Bool:
		return ctx.Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return ctx.Int64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uintptr:
		if rv.Uint() > math.MaxUint32 {
			return ctx.BigUint64(rv.Uint()), nil
		}
		return ctx.Uint32(uint32(rv.Uint())), nil
	case reflect.Uint64:
		return ctx.BigUint64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return ctx.Float64(rv.Float()), nil
	case reflect.String:
		return ctx.String(rv.String()), nil
	case reflect.Slice:
		if rv.IsNil() {
			return ctx.Null(), nil
		}
		return ctx.marshalList(rv)
	case reflect.Array:
		return ctx.marshalList(rv)
	case reflect.Map:
		if rv.IsNil() {
			return ctx.Null(), nil
		}
		return ctx.marshalMap(rv)
	case reflect.Struct:
		return ctx.marshalStruct(rv)
	default:
		return ctx.Null(), fmt.Errorf("unsupported type: %v", rv.Type())
	}
}

// marshalList builds an Array from a slice or array.
func (ctx *Context) marshalList(rv reflect.Value) (Value, error) {
	arr := ctx.wrap(ctx.newArray())
	if arr.IsException() {
		return arr, ctx.Exception()
	}
	for i := 0; i < rv.Len(); i++ {
		elem, err := ctx.marshal(rv.Index(i))
		if err != nil {
			arr.Free()
			return ctx.Null(), err
		}
		arr.SetIdx(int64(i), elem)
	}
	return arr, nil
}

func (ctx *Context) marshalMap(rv reflect.Value) (Value, error) {
	obj := ctx.Object()
	iter := rv.MapRange()
	for iter.Next() {
		key, err := mapKeyString(iter.Key())
		if err != nil {
			obj.Free()
			return ctx.Null(), err
		}
		val, err := ctx.marshal(iter.Value())
		if err != nil {
			obj.Free()
			return ctx.Null(), err
		}
		obj.Set(key, val)
	}
	return obj, nil
}

func mapKeyString(k reflect.Value) (string, error) {
	switch k.Kind() {
	case reflect.String:
		return k.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(k.Uint(), 10), nil
	}
	if s, ok := k.Interface().(fmt.Stringer); ok {
		return s.String(), nil
	}
	return "", fmt.Errorf("unsupported map key type: %v", k.Type())
}

func (ctx *Context) marshalStruct(rv reflect.Value) (Value, error) {
	obj := ctx.Object()
	for _, f := range structFields(rv.Type()) {
		fv := rv.Field(f.index)
		if f.omitEmpty && fv.IsZero() {
			continue
		}
		val, err := ctx.marshal(fv)
		if err != nil {
			obj.Free()
			return ctx.Null(), fmt.Errorf("struct field %s: %w", rv.Type().Field(f.index).Name, err)
		}
		obj.Set(f.name, val)
	}
	return obj, nil
}

type structField struct {
	index     int
	name      string
	omitEmpty bool
}

// structFields lists the exported, non-skipped fields of a struct type with their property
// names.
func structFields(typ reflect.Type) []structField {
	fields := make([]structField, 0, typ.NumField())
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}
		name, skip := fieldPropertyName(field)
		if skip {
			continue
		}
		fields = append(fields, structField{index: i, name: name, omitEmpty: hasTagOption(field, "omitempty")})
	}
	return fields
}

func hasTagOption(field reflect.StructField, option string) bool {
	for _, key := range []string{"js", "json"} {
		if tag, ok := field.Tag.Lookup(key); ok {
			opts := strings.Split(tag, ",")[1:]
			return slices.Contains(opts, option)
		}
	}
	return false
}

func (ctx *Context) unmarshal(jsVal Value, rv reflect.Value) error {
	if rv.CanAddr() {
		if u, ok := rv.Addr().Interface().(Unmarshaler); ok {
			return u.UnmarshalJS(ctx, jsVal)
		}
	}
	if rv.Type() == valueType {
		rv.Set(reflect.ValueOf(jsVal.Dup()))
		return nil
	}

	nullish := jsVal.IsNull() || jsVal.IsUndefined()
	switch rv.Kind() {
	case reflect.Pointer:
		if nullish {
			rv.SetZero()
			return nil
		}
		if rv.IsNil() {
			rv.Set(reflect.New(rv.Type().Elem()))
		}
		return ctx.unmarshal(jsVal, rv.Elem())
	case reflect.Map, reflect.Slice, reflect.Interface:
		if nullish {
			rv.SetZero()
			return nil
		}
	}

	switch rv.Type() {
	case bigIntType:
		if !jsVal.IsBigInt() {
			return unmarshalTypeError(jsVal, rv)
		}
		rv.Set(reflect.ValueOf(*jsVal.ToBigInt()))
		return nil
	case bigFloatType:
		if !jsVal.IsBigFloat() {
			return unmarshalTypeError(jsVal, rv)
		}
		rv.Set(reflect.ValueOf(*jsVal.ToBigFloat()))
		return nil
	case bigDecimalType:
		if !jsVal.IsBigDecimal() {
			return unmarshalTypeError(jsVal, rv)
		}
		rv.Set(reflect.ValueOf(*jsVal.ToBigDecimal()))
		return nil
	}

	switch rv.Kind() {
	case reflect.Bool:
		if !jsVal.IsBool() {
			return unmarshalTypeError(jsVal, rv)
		}
		rv.SetBool(jsVal.ToBool())

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := integerOf(jsVal, rv)
		if err != nil {
			return err
		}
		if !n.IsInt64() || rv.OverflowInt(n.Int64()) {
			return fmt.Errorf("value %s out of range for Go %v", n, rv.Type())
		}
		rv.SetInt(n.Int64())

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n, err := integerOf(jsVal, rv)
		if err != nil {
			return err
		}
		if !n.IsUint64() || rv.OverflowUint(n.Uint64()) {
			return fmt.Errorf("value %s out of range for Go %v", n, rv.Type())
		}
		rv.SetUint(n.Uint64())

	case reflect.Float32, reflect.Float64:
		if !jsVal.IsNumber() {
			return unmarshalTypeError(jsVal, rv)
		}
		rv.SetFloat(jsVal.ToFloat64())

	case reflect.String:
		if !jsVal.IsString() {
			return unmarshalTypeError(jsVal, rv)
		}
		rv.SetString(jsVal.ToString())

	case reflect.Slice:
		return ctx.unmarshalSlice(jsVal, rv)

	case reflect.Array:
		return ctx.unmarshalArray(jsVal, rv)

	case reflect.Map:
		return ctx.unmarshalMap(jsVal, rv)

	case reflect.Struct:
		return ctx.unmarshalStruct(jsVal, rv)

	case reflect.Interface:
		if rv.NumMethod() > 0 {
			return fmt.Errorf("unsupported type: %v", rv.Type())
		}
		val, err := ctx.unmarshalInterface(jsVal)
		if err != nil {
			return err
		}
		if val == nil {
			rv.SetZero()
		} else {
			rv.Set(reflect.ValueOf(val))
		}

	default:
		return fmt.Errorf("unsupported type: %v", rv.Type())
	}
	return nil
}

func unmarshalTypeError(jsVal Value, rv reflect.Value) error {
	return fmt.Errorf("cannot unmarshal JavaScript %s into Go %v", jsVal.typeTag(), rv.Type())
}

// integerOf reads an integral number or a BigInt.
func integerOf(jsVal Value, rv reflect.Value) (*big.Int, error) {
	switch {
	case jsVal.IsBigInt():
		return jsVal.ToBigInt(), nil
	case jsVal.IsNumber():
		f := jsVal.ToFloat64()
		if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			return nil, fmt.Errorf("cannot unmarshal non-integral number %s into Go %v", formatNumber(f), rv.Type())
		}
		n, _ := big.NewFloat(f).Int(nil)
		return n, nil
	}
	return nil, unmarshalTypeError(jsVal, rv)
}

func (ctx *Context) unmarshalSlice(jsVal Value, rv reflect.Value) error {
	if rv.Type().Elem().Kind() == reflect.Uint8 && jsVal.IsString() {
		rv.SetBytes([]byte(jsVal.ToString()))
		return nil
	}
	if !jsVal.IsArray() {
		return fmt.Errorf("expected array, got JavaScript %s", jsVal.typeTag())
	}

	length := int(jsVal.Len())
	slice := reflect.MakeSlice(rv.Type(), length, length)
	for i := 0; i < length; i++ {
		if err := ctx.unmarshalIndex(jsVal, i, slice.Index(i)); err != nil {
			return err
		}
	}
	rv.Set(slice)
	return nil
}

// unmarshalArray fills a Go array from the first elements of an Array; missing elements keep
// their zero value.
func (ctx *Context) unmarshalArray(jsVal Value, rv reflect.Value) error {
	if !jsVal.IsArray() {
		return fmt.Errorf("expected array, got JavaScript %s", jsVal.typeTag())
	}
	n := min(int(jsVal.Len()), rv.Len())
	for i := 0; i < n; i++ {
		if err := ctx.unmarshalIndex(jsVal, i, rv.Index(i)); err != nil {
			return err
		}
	}
	return nil
}

func (ctx *Context) unmarshalIndex(arr Value, i int, dst reflect.Value) error {
	elem := arr.GetIdx(int64(i))
	defer elem.Free()
	if elem.IsException() {
		return ctx.Exception()
	}
	if err := ctx.unmarshal(elem, dst); err != nil {
		return fmt.Errorf("array element %d: %w", i, err)
	}
	return nil
}

func (ctx *Context) unmarshalMap(jsVal Value, rv reflect.Value) error {
	if !jsVal.IsObject() {
		return fmt.Errorf("expected object, got JavaScript %s", jsVal.typeTag())
	}
	props, err := jsVal.PropertyNames()
	if err != nil {
		return err
	}
	if rv.IsNil() {
		rv.Set(reflect.MakeMapWithSize(rv.Type(), len(props)))
	}

	keyType := rv.Type().Key()
	for _, prop := range props {
		key := reflect.New(keyType).Elem()
		switch keyType.Kind() {
		case reflect.String:
			key.SetString(prop)
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			n, err := strconv.ParseInt(prop, 10, 64)
			if err != nil || key.OverflowInt(n) {
				continue
			}
			key.SetInt(n)
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			n, err := strconv.ParseUint(prop, 10, 64)
			if err != nil || key.OverflowUint(n) {
				continue
			}
			key.SetUint(n)
		default:
			return fmt.Errorf("unsupported map key type: %v", keyType)
		}

		val := reflect.New(rv.Type().Elem()).Elem()
		pv := jsVal.Get(prop)
		err := ctx.unmarshal(pv, val)
		pv.Free()
		if err != nil {
			return fmt.Errorf("map value for key %s: %w", prop, err)
		}
		rv.SetMapIndex(key, val)
	}
	return nil
}

func (ctx *Context) unmarshalStruct(jsVal Value, rv reflect.Value) error {
	if !jsVal.IsObject() {
		return fmt.Errorf("expected object, got JavaScript %s", jsVal.typeTag())
	}
	for _, f := range structFields(rv.Type()) {
		if !jsVal.Has(f.name) {
			continue
		}
		pv := jsVal.Get(f.name)
		err := ctx.unmarshal(pv, rv.Field(f.index))
		pv.Free()
		if err != nil {
			return fmt.Errorf("struct field %s: %w", rv.Type().Field(f.index).Name, err)
		}
	}
	return nil
}

func (ctx *Context) unmarshalInterface(jsVal Value) (any, error) {
	switch {
	case jsVal.IsFunction(), jsVal.IsSymbol(), jsVal.IsException(), jsVal.IsUninitialized(), jsVal.IsPromise():
		return nil, fmt.Errorf("unsupported JavaScript type %s", jsVal.typeTag())
	case jsVal.IsNull(), jsVal.IsUndefined():
		return nil, nil
	case jsVal.IsBool():
		return jsVal.ToBool(), nil
	case jsVal.IsString():
		return jsVal.ToString(), nil
	case jsVal.IsNumber():
		f := jsVal.ToFloat64()
		if f == math.Trunc(f) && math.Abs(f) < 1<<63 {
			return int64(f), nil
		}
		return f, nil
	case jsVal.IsBigInt():
		return jsVal.ToBigInt(), nil
	case jsVal.IsBigFloat():
		return jsVal.ToBigFloat(), nil
	case jsVal.IsBigDecimal():
		return jsVal.ToBigDecimal(), nil
	case jsVal.IsArray():
		length := jsVal.Len()
		list := make([]any, length)
		for i := int64(0); i < length; i++ {
			elem := jsVal.GetIdx(i)
			v, err := ctx.unmarshalInterface(elem)
			elem.Free()
			if err != nil {
				return nil, fmt.Errorf("array element %d: %w", i, err)
			}
			list[i] = v
		}
		return list, nil
	case jsVal.IsObject():
		props, err := jsVal.PropertyNames()
		if err != nil {
			return nil, err
		}
		m := make(map[string]any, len(props))
		for _, prop := range props {
			pv := jsVal.Get(prop)
			v, err := ctx.unmarshalInterface(pv)
			pv.Free()
			if err != nil {
				return nil, fmt.Errorf("property %s: %w", prop, err)
			}
			m[prop] = v
		}
		return m, nil
	}
	return nil, fmt.Errorf("unhandled JavaScript type %s", jsVal.typeTag())
}
