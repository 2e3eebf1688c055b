package quickjs_test

import (
	"math"
	"math/big"
	"testing"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/require"

	"github.com/btx638/quickjs-go"
)

func setup(t *testing.T, opts ...quickjs.Option) (*quickjs.Runtime, *quickjs.Context) {
	t.Helper()
	rt := quickjs.NewRuntime(opts...)
	ctx := rt.NewContext()
	t.Cleanup(func() {
		ctx.Close()
		rt.Close()
	})
	return rt, ctx
}

func TestValuePrimitives(t *testing.T) {
	t.Run("Numbers", func(t *testing.T) {
		_, ctx := setup(t)
		require.EqualValues(t, -5, ctx.Int32(-5).ToInt32())
		require.EqualValues(t, math.MaxUint32, ctx.Uint32(math.MaxUint32).ToUint32())
		require.EqualValues(t, 1<<40, ctx.Int64(1<<40).ToInt64())
		require.Equal(t, 2.5, ctx.Float64(2.5).ToFloat64())
		require.True(t, ctx.Float64(3).IsNumber())
		require.Equal(t, quickjs.TagFloat64, ctx.Float64(3).Tag())
	})

	t.Run("Strings", func(t *testing.T) {
		_, ctx := setup(t)
		s := ctx.String("héllo")
		defer s.Free()
		require.True(t, s.IsString())
		require.Equal(t, "héllo", s.String())
		require.True(t, s.ToBool())

		empty := ctx.String("")
		defer empty.Free()
		require.False(t, empty.ToBool())
	})

	t.Run("BigNumbers", func(t *testing.T) {
		_, ctx := setup(t)
		huge, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
		b := ctx.BigInt(huge)
		defer b.Free()
		require.True(t, b.IsBigInt())
		require.Equal(t, 0, huge.Cmp(b.ToBigInt()))
		require.Equal(t, "123456789012345678901234567890", b.String())

		u := ctx.BigUint64(math.MaxUint64)
		defer u.Free()
		require.Equal(t, "18446744073709551615", u.String())

		f := ctx.BigFloat(big.NewFloat(1.5))
		defer f.Free()
		require.True(t, f.IsBigFloat())
		require.Equal(t, "1.5", f.ToBigFloat().Text('g', -1))

		d := ctx.BigDecimal(apd.New(314, -2))
		defer d.Free()
		require.True(t, d.IsBigDecimal())
		require.Equal(t, "3.14", d.ToBigDecimal().String())
		require.Nil(t, ctx.Int32(1).ToBigDecimal())
	})

	t.Run("Symbols", func(t *testing.T) {
		_, ctx := setup(t)
		a := ctx.Symbol("tag")
		b := ctx.Symbol("tag")
		defer a.Free()
		defer b.Free()
		require.True(t, a.IsSymbol())
		require.NotEqual(t, a.Ref(), b.Ref())
		require.Equal(t, "Symbol(tag)", a.String())
	})

	t.Run("Singletons", func(t *testing.T) {
		_, ctx := setup(t)
		require.True(t, ctx.Null().IsNull())
		require.True(t, ctx.Undefined().IsUndefined())
		require.True(t, ctx.Uninitialized().IsUninitialized())
		require.True(t, ctx.Bool(true).ToBool())
		require.Equal(t, "null", ctx.Null().String())
	})
}

func TestObjectProperties(t *testing.T) {
	t.Run("SetGetDelete", func(t *testing.T) {
		_, ctx := setup(t)
		obj := ctx.Object()
		defer obj.Free()
		obj.Set("name", ctx.String("quickjs"))
		require.True(t, obj.Has("name"))
		name := obj.Get("name")
		require.Equal(t, "quickjs", name.String())
		name.Free()

		require.True(t, obj.Delete("name"))
		require.False(t, obj.Has("name"))
		missing := obj.Get("name")
		require.True(t, missing.IsUndefined())
	})

	t.Run("KeyOrder", func(t *testing.T) {
		_, ctx := setup(t)
		o := ctx.Object()
		defer o.Free()
		o.Set("b", ctx.Int32(1))
		o.SetIdx(2, ctx.Int32(2))
		o.Set("a", ctx.Int32(3))
		o.SetIdx(0, ctx.Int32(4))
		names, err := o.PropertyNames()
		require.NoError(t, err)
		require.Equal(t, []string{"0", "2", "b", "a"}, names)
	})

	t.Run("ReadOnly", func(t *testing.T) {
		_, ctx := setup(t)
		o := ctx.Object()
		defer o.Free()
		require.True(t, o.DefinePropertyValue("fixed", ctx.Int32(1), quickjs.PropertyEnumerable))
		o.Set("fixed", ctx.Int32(2))
		require.True(t, ctx.HasException())
		err := ctx.Exception()
		require.Error(t, err)

		v := o.Get("fixed")
		require.EqualValues(t, 1, v.ToInt32())
		require.False(t, o.Delete("fixed"))
		ctx.GetException().Free()
	})

	t.Run("Accessor", func(t *testing.T) {
		_, ctx := setup(t)
		o := ctx.Object()
		defer o.Free()
		stored := 0
		getter := ctx.Function(func(ctx *quickjs.Context, this quickjs.Value, _ []quickjs.Value) quickjs.Value {
			return ctx.Int32(int32(stored))
		})
		setter := ctx.Function(func(ctx *quickjs.Context, this quickjs.Value, args []quickjs.Value) quickjs.Value {
			stored = int(args[0].ToInt32()) * 10
			return ctx.Undefined()
		})
		require.True(t, o.DefinePropertyGetSet("value", getter, setter, quickjs.PropertyEnumerable))
		o.Set("value", ctx.Int32(4))
		require.Equal(t, 40, stored)
		v := o.Get("value")
		require.EqualValues(t, 40, v.ToInt32())

		prop := ctx.Atom("value")
		defer prop.Free()
		desc, ok, err := o.GetOwnProperty(prop)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, quickjs.PropertyGetSet, desc.Flags&quickjs.PropertyTypeMask)
		require.True(t, desc.Getter.IsFunction())
		desc.Free()
	})

	t.Run("Prototype", func(t *testing.T) {
		_, ctx := setup(t)
		proto := ctx.Object()
		defer proto.Free()
		proto.Set("greet", ctx.String("hi"))
		child := ctx.Object()
		defer child.Free()
		require.True(t, child.SetPrototype(proto))

		greet := child.Get("greet")
		require.Equal(t, "hi", greet.String())
		greet.Free()
		names, err := child.PropertyNames()
		require.NoError(t, err)
		require.Empty(t, names)

		got := child.GetPrototype()
		require.Equal(t, proto.Ref(), got.Ref())
		got.Free()

		require.False(t, proto.SetPrototype(child))
	})

	t.Run("Extensible", func(t *testing.T) {
		_, ctx := setup(t)
		o := ctx.Object()
		defer o.Free()
		require.True(t, o.IsExtensible())
		o.PreventExtensions()
		require.False(t, o.IsExtensible())
		o.Set("new", ctx.Int32(1))
		require.True(t, ctx.HasException())
		ctx.GetException().Free()
		require.False(t, o.Has("new"))
	})
}

func TestArray(t *testing.T) {
	_, ctx := setup(t)

	arr := ctx.Array()
	defer arr.Free()
	require.True(t, arr.ToValue().IsArray())
	require.EqualValues(t, 0, arr.Len())

	require.EqualValues(t, 3, arr.Push(ctx.Int32(1), ctx.Int32(2), ctx.Int32(3)))
	require.EqualValues(t, 3, arr.Len())

	first, err := arr.Get(0)
	require.NoError(t, err)
	require.EqualValues(t, 1, first.ToInt32())
	_, err = arr.Get(3)
	require.Error(t, err)
	_, err = arr.Get(-1)
	require.Error(t, err)

	require.NoError(t, arr.Set(1, ctx.String("two")))
	require.Error(t, arr.Set(7, ctx.Null()))

	last := arr.Pop()
	require.EqualValues(t, 3, last.ToInt32())
	require.EqualValues(t, 2, arr.Len())

	require.EqualValues(t, 3, arr.Unshift([]quickjs.Value{ctx.Int32(0)}))
	head := arr.Shift()
	require.EqualValues(t, 0, head.ToInt32())

	joined := arr.Call("join", []quickjs.Value{})
	require.Equal(t, "1,two", joined.String())
	joined.Free()

	// holes
	arr.SetIdx(5, ctx.Bool(true))
	require.EqualValues(t, 6, arr.Len())
	require.True(t, arr.HasIdx(5))
	require.False(t, arr.HasIdx(3))
	ok, err := arr.Delete(5)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 6, arr.Len())

	// truncate through length
	arr.ToValue().Set("length", ctx.Int32(1))
	require.EqualValues(t, 1, arr.Len())
	require.False(t, arr.HasIdx(1))

	arr.ToValue().Set("length", ctx.Float64(1.5))
	var jsErr *quickjs.Error
	require.ErrorAs(t, ctx.Exception(), &jsErr)
	require.Equal(t, "RangeError", jsErr.Name)

	t.Run("ToArray", func(t *testing.T) {
		_, ctx := setup(t)
		obj := ctx.Object()
		defer obj.Free()
		_, err := obj.ToArray()
		require.Error(t, err)
	})
}

func newAddFunction(ctx *quickjs.Context) quickjs.Value {
	return ctx.NewFunction("add", func(ctx *quickjs.Context, this quickjs.Value, args []quickjs.Value) quickjs.Value {
		sum := int32(0)
		for _, a := range args {
			sum += a.ToInt32()
		}
		return ctx.Int32(sum)
	})
}

func TestCallFunctions(t *testing.T) {
	_, ctx := setup(t)

	add := newAddFunction(ctx)
	defer add.Free()
	require.True(t, add.IsFunction())
	require.False(t, add.IsConstructor())

	a, b := ctx.Int32(2), ctx.Int32(3)
	res := ctx.Call(add, ctx.Undefined(), a, b)
	require.EqualValues(t, 5, res.ToInt32())

	res = add.Execute(ctx.Undefined(), a)
	require.EqualValues(t, 2, res.ToInt32())

	t.Run("NotAFunction", func(t *testing.T) {
		_, ctx := setup(t)
		obj := ctx.Object()
		defer obj.Free()
		res := ctx.Call(obj, ctx.Undefined())
		require.True(t, res.IsException())
		err := ctx.Exception()
		require.ErrorContains(t, err, "not a function")
	})

	t.Run("NotAConstructor", func(t *testing.T) {
		_, ctx := setup(t)
		add := newAddFunction(ctx)
		defer add.Free()
		res := ctx.CallConstructor(add, quickjs.Value{})
		require.True(t, res.IsException())
		require.ErrorContains(t, ctx.Exception(), "not a constructor")

		require.True(t, ctx.SetConstructorBit(add, true))
		require.True(t, add.IsConstructor())
		require.True(t, ctx.SetConstructorBit(add, false))
	})

	t.Run("StackOverflow", func(t *testing.T) {
		_, ctx := setup(t)
		var self quickjs.Value
		self = ctx.NewFunction("recurse", func(ctx *quickjs.Context, this quickjs.Value, _ []quickjs.Value) quickjs.Value {
			return ctx.Call(self, this)
		})
		defer self.Free()
		res := ctx.Call(self, ctx.Undefined())
		require.True(t, res.IsException())
		var jsErr *quickjs.Error
		require.ErrorAs(t, ctx.Exception(), &jsErr)
		require.Equal(t, "InternalError", jsErr.Name)
		require.Equal(t, "stack overflow", jsErr.Message)
	})

	t.Run("Method", func(t *testing.T) {
		_, ctx := setup(t)
		obj := ctx.Object()
		defer obj.Free()
		obj.Set("add", newAddFunction(ctx))
		res := obj.Call("add", ctx.Int32(4), ctx.Int32(5))
		require.EqualValues(t, 9, res.ToInt32())

		res = obj.Call("missing")
		require.True(t, res.IsError())
	})
}
