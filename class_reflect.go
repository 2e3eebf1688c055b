package quickjs

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// =============================================================================
// REFLECTION BINDING
// =============================================================================

// ReflectOptions configures BindClass.
type ReflectOptions struct {
	// IncludePrivate also binds unexported methods.
	IncludePrivate bool

	// MethodPrefix binds only methods with this prefix; empty binds all of them.
	MethodPrefix string

	IgnoredMethods []string
	IgnoredFields  []string
}

// ReflectOption configures ReflectOptions.
type ReflectOption func(*ReflectOptions)

// WithIncludePrivate includes unexported methods in the binding.
func WithIncludePrivate(include bool) ReflectOption {
	return func(opts *ReflectOptions) {
		opts.IncludePrivate = include
	}
}

// WithMethodPrefix filters methods by name prefix.
func WithMethodPrefix(prefix string) ReflectOption {
	return func(opts *ReflectOptions) {
		opts.MethodPrefix = prefix
	}
}

// WithIgnoredMethods skips the named methods.
func WithIgnoredMethods(methods ...string) ReflectOption {
	return func(opts *ReflectOptions) {
		opts.IgnoredMethods = append(opts.IgnoredMethods, methods...)
	}
}

// WithIgnoredFields skips the named fields.
func WithIgnoredFields(fields ...string) ReflectOption {
	return func(opts *ReflectOptions) {
		opts.IgnoredFields = append(opts.IgnoredFields, fields...)
	}
}

// BindClass registers a class for a Go struct type. Exported fields become accessors on the
// prototype, methods of the pointer type become prototype methods and the constructor fills a
// new struct from its arguments.
//
//	ctor, classID, err := ctx.BindClass(&Point{})
//	if err != nil { return err }
//	ctx.Globals().Set("Point", ctor)
func (ctx *Context) BindClass(structType any, options ...ReflectOption) (Value, ClassID, error) {
	builder, err := ctx.BindClassBuilder(structType, options...)
	if err != nil {
		return Value{}, 0, err
	}
	return builder.Build(ctx)
}

// BindClassBuilder returns the ClassBuilder BindClass would build, so that it can be extended
// before Build.
func (ctx *Context) BindClassBuilder(structType any, options ...ReflectOption) (*ClassBuilder, error) {
	opts := &ReflectOptions{}
	for _, option := range options {
		option(opts)
	}

	typ, err := structTypeOf(structType)
	if err != nil {
		return nil, err
	}
	if typ.Name() == "" {
		return nil, errors.New("cannot determine class name from anonymous type")
	}
	return reflectClass(typ, opts), nil
}

// structTypeOf accepts a reflect.Type, a struct value or a pointer to a struct.
func structTypeOf(structType any) (reflect.Type, error) {
	if t, ok := structType.(reflect.Type); ok {
		if t.Kind() != reflect.Struct {
			return nil, errors.New("type must be a struct type")
		}
		return t, nil
	}
	typ := reflect.TypeOf(structType)
	if typ == nil {
		return nil, errors.New("cannot get type from nil value")
	}
	if typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return nil, errors.New("value must be a struct or pointer to struct")
	}
	return typ, nil
}

func reflectClass(typ reflect.Type, opts *ReflectOptions) *ClassBuilder {
	builder := NewClassBuilder(typ.Name())
	builder.Constructor(func(ctx *Context, _ Value, args []Value) (any, error) {
		ptr := reflect.New(typ)
		if len(args) == 0 {
			return ptr.Interface(), nil
		}
		var err error
		if len(args) == 1 && args[0].IsObject() && !args[0].IsArray() {
			err = fieldsFromObject(ctx, ptr.Elem(), args[0])
		} else {
			err = fieldsFromArgs(ctx, ptr.Elem(), args)
		}
		if err != nil {
			return nil, fmt.Errorf("constructor initialization failed: %w", err)
		}
		return ptr.Interface(), nil
	})

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if !field.IsExported() || slices.Contains(opts.IgnoredFields, field.Name) {
			continue
		}
		name, skip := fieldPropertyName(field)
		if skip {
			continue
		}
		builder.Accessor(name, fieldGetter(field, i), fieldSetter(field, i))
	}

	ptrType := reflect.PointerTo(typ)
	for i := 0; i < ptrType.NumMethod(); i++ {
		method := ptrType.Method(i)
		switch {
		case !isExported(method.Name) && !opts.IncludePrivate:
		case opts.MethodPrefix != "" && !strings.HasPrefix(method.Name, opts.MethodPrefix):
		case slices.Contains(opts.IgnoredMethods, method.Name):
		case slices.Contains(reservedMethods, method.Name):
		default:
			builder.Method(method.Name, methodCaller(method))
		}
	}
	return builder
}

// fieldsFromArgs assigns positional arguments to the exported fields in declaration order.
func fieldsFromArgs(ctx *Context, st reflect.Value, args []Value) error {
	typ := st.Type()
	next := 0
	for i := 0; i < typ.NumField() && next < len(args); i++ {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}
		if err := ctx.unmarshal(args[next], st.Field(i)); err != nil {
			return fmt.Errorf("failed to set field %s: %w", field.Name, err)
		}
		next++
	}
	return nil
}

// fieldsFromObject assigns the properties of obj to the fields they name.
func fieldsFromObject(ctx *Context, st reflect.Value, obj Value) error {
	typ := st.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}
		name, skip := fieldPropertyName(field)
		if skip || !obj.Has(name) {
			continue
		}
		prop := obj.Get(name)
		err := ctx.unmarshal(prop, st.Field(i))
		prop.Free()
		if err != nil {
			return fmt.Errorf("failed to set field %s from property %s: %w", field.Name, name, err)
		}
	}
	return nil
}

// fieldPropertyName reads the property name from the js tag, then the json tag, and falls
// back to the field name. A "-" tag skips the field.
func fieldPropertyName(field reflect.StructField) (string, bool) {
	for _, key := range []string{"js", "json"} {
		tag, ok := field.Tag.Lookup(key)
		if !ok {
			continue
		}
		if tag == "-" {
			return "", true
		}
		if name, _, _ := strings.Cut(tag, ","); name != "" {
			return name, false
		}
	}
	return field.Name, false
}

// instanceStruct returns the struct behind a class instance created by the reflected
// constructor.
func instanceStruct(ctx *Context, this Value) (reflect.Value, error) {
	obj, err := ctx.GetInstanceData(this)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("failed to get instance data: %w", err)
	}
	rv := reflect.ValueOf(obj)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return reflect.Value{}, errors.New("instance data is not a struct pointer")
	}
	return rv, nil
}

func methodCaller(method reflect.Method) ClassMethodFunc {
	return func(ctx *Context, this Value, args []Value) Value {
		recv, err := instanceStruct(ctx, this)
		if err != nil {
			return ctx.ThrowError(err)
		}
		if recv.Type() != method.Type.In(0) {
			return ctx.ThrowTypeError("%s called on incompatible receiver", method.Name)
		}
		in, err := methodArgs(ctx, method.Type, args)
		if err != nil {
			return ctx.ThrowError(fmt.Errorf("failed to prepare method arguments: %w", err))
		}
		return methodResults(ctx, recv.Method(method.Index).Call(in))
	}
}

func fieldGetter(field reflect.StructField, index int) ClassGetterFunc {
	return func(ctx *Context, this Value) Value {
		recv, err := instanceStruct(ctx, this)
		if err != nil {
			return ctx.ThrowError(err)
		}
		st := recv.Elem()
		if st.Type().NumField() <= index {
			return ctx.ThrowTypeError("%s is not a field of %s", field.Name, st.Type().Name())
		}
		v, err := ctx.marshal(st.Field(index))
		if err != nil {
			return ctx.ThrowError(fmt.Errorf("failed to marshal field %s: %w", field.Name, err))
		}
		return v
	}
}

func fieldSetter(field reflect.StructField, index int) ClassSetterFunc {
	return func(ctx *Context, this Value, value Value) Value {
		recv, err := instanceStruct(ctx, this)
		if err != nil {
			return ctx.ThrowError(err)
		}
		st := recv.Elem()
		if st.Type().NumField() <= index {
			return ctx.ThrowTypeError("%s is not a field of %s", field.Name, st.Type().Name())
		}
		tmp := reflect.New(field.Type).Elem()
		if err := ctx.unmarshal(value, tmp); err != nil {
			return ctx.ThrowError(fmt.Errorf("failed to unmarshal value for field %s: %w", field.Name, err))
		}
		st.Field(index).Set(tmp)
		return ctx.Undefined()
	}
}

// methodArgs converts script arguments to the parameters of a method whose first input is the
// receiver. Missing arguments become zero values; a variadic tail takes the remaining ones.
func methodArgs(ctx *Context, typ reflect.Type, args []Value) ([]reflect.Value, error) {
	params := typ.NumIn() - 1
	fixed := params
	if typ.IsVariadic() {
		fixed--
	} else if len(args) > params {
		return nil, fmt.Errorf("too many arguments: expected %d, got %d", params, len(args))
	}

	in := make([]reflect.Value, 0, max(params, len(args)))
	for i := 0; i < fixed; i++ {
		v := reflect.New(typ.In(i + 1)).Elem()
		if i < len(args) {
			if err := ctx.unmarshal(args[i], v); err != nil {
				return nil, fmt.Errorf("failed to convert argument %d: %w", i, err)
			}
		}
		in = append(in, v)
	}
	if typ.IsVariadic() {
		elem := typ.In(params).Elem()
		for i := fixed; i < len(args); i++ {
			v := reflect.New(elem).Elem()
			if err := ctx.unmarshal(args[i], v); err != nil {
				return nil, fmt.Errorf("failed to convert argument %d: %w", i, err)
			}
			in = append(in, v)
		}
	}
	return in, nil
}

var errorType = reflect.TypeFor[error]()

// methodResults converts method results. A trailing non-nil error is thrown; one remaining
// result is returned as is and several become an array.
func methodResults(ctx *Context, out []reflect.Value) Value {
	if n := len(out); n > 0 && out[n-1].Type() == errorType {
		if err, _ := out[n-1].Interface().(error); err != nil {
			return ctx.ThrowError(err)
		}
		out = out[:n-1]
	}
	switch len(out) {
	case 0:
		return ctx.Undefined()
	case 1:
		v, err := ctx.marshal(out[0])
		if err != nil {
			return ctx.ThrowError(fmt.Errorf("failed to marshal return value: %w", err))
		}
		return v
	}
	results := make([]any, len(out))
	for i, r := range out {
		results[i] = r.Interface()
	}
	v, err := ctx.Marshal(results)
	if err != nil {
		return ctx.ThrowError(fmt.Errorf("failed to marshal return values: %w", err))
	}
	return v
}

func isExported(name string) bool {
	r, _ := utf8.DecodeRuneInString(name)
	return unicode.IsUpper(r)
}

// reservedMethods are never bound: they implement Go interfaces the binding itself uses.
var reservedMethods = []string{
	"String",
	"Error",
	"GoString",
	"Format",
	"Finalize",
	"MarshalJS",
	"UnmarshalJS",
}
