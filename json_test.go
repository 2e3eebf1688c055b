package quickjs_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/btx638/quickjs-go"
)

func TestParseJSON(t *testing.T) {
	_, ctx := setup(t)

	v := ctx.ParseJSON(`{"name":"quickjs","tags":["a","b"],"n":1.5,"i":42,"ok":true,"none":null,"nested":{"z":1,"a":2}}`)
	require.False(t, v.IsException())
	defer v.Free()
	require.True(t, v.IsObject())

	name := v.Get("name")
	require.Equal(t, "quickjs", name.String())
	name.Free()

	tags := v.Get("tags")
	require.True(t, tags.IsArray())
	require.EqualValues(t, 2, tags.Len())
	tags.Free()

	n := v.Get("n")
	require.Equal(t, 1.5, n.ToFloat64())
	i := v.Get("i")
	require.Equal(t, quickjs.TagInt, i.Tag())
	ok := v.Get("ok")
	require.True(t, ok.ToBool())
	none := v.Get("none")
	require.True(t, none.IsNull())

	nested := v.Get("nested")
	defer nested.Free()
	keys, err := nested.PropertyNames()
	require.NoError(t, err)
	require.Equal(t, []string{"z", "a"}, keys)

	t.Run("Scalars", func(t *testing.T) {
		_, ctx := setup(t)
		require.True(t, ctx.ParseJSON(`null`).IsNull())
		require.EqualValues(t, -3, ctx.ParseJSON(`-3`).ToInt32())
		s := ctx.ParseJSON(`"é"`)
		defer s.Free()
		require.Equal(t, "é", s.String())
	})

	t.Run("SyntaxError", func(t *testing.T) {
		_, ctx := setup(t)
		for _, input := range []string{`{"a":`, `[1,,2]`, `{'a':1}`, `1 2`, ``} {
			res := ctx.ParseJSON(input)
			require.True(t, res.IsException(), input)
			var jsErr *quickjs.Error
			require.ErrorAs(t, ctx.Exception(), &jsErr, input)
			require.Equal(t, "SyntaxError", jsErr.Name)
			require.Contains(t, jsErr.Message, "JSON.parse")
		}
	})
}

func TestJSONStringify(t *testing.T) {
	_, ctx := setup(t)

	obj := ctx.ParseJSON(`{"b":[1,"two",null,true],"a":{"x":0.25}}`)
	defer obj.Free()
	s, err := ctx.JSONStringify(obj)
	require.NoError(t, err)
	require.Equal(t, `{"b":[1,"two",null,true],"a":{"x":0.25}}`, s)
	require.Equal(t, s, obj.JSONStringify())

	t.Run("SkipsFunctions", func(t *testing.T) {
		_, ctx := setup(t)
		o := ctx.Object()
		defer o.Free()
		o.Set("f", ctx.Function(func(ctx *quickjs.Context, _ quickjs.Value, _ []quickjs.Value) quickjs.Value {
			return ctx.Undefined()
		}))
		o.Set("u", ctx.Undefined())
		o.Set("html", ctx.String("<b>&</b>"))
		o.Set("nan", ctx.Float64(math.NaN()))
		s, err := ctx.JSONStringify(o)
		require.NoError(t, err)
		require.Equal(t, `{"html":"<b>&</b>","nan":null}`, s)
	})

	t.Run("Undefined", func(t *testing.T) {
		_, ctx := setup(t)
		s, err := ctx.JSONStringify(ctx.Undefined())
		require.NoError(t, err)
		require.Empty(t, s)
	})

	t.Run("ToJSON", func(t *testing.T) {
		_, ctx := setup(t)
		res, err := ctx.Eval(`({ when: { toJSON(key) { return "at:" + key } } })`)
		require.NoError(t, err)
		defer res.Free()
		s, err := ctx.JSONStringify(res)
		require.NoError(t, err)
		require.Equal(t, `{"when":"at:when"}`, s)
	})

	t.Run("Circular", func(t *testing.T) {
		_, ctx := setup(t)
		o := ctx.Object()
		o.Set("self", o.Dup())
		_, err := ctx.JSONStringify(o)
		require.ErrorContains(t, err, "circular")
		o.Delete("self")
		o.Free()
	})

	t.Run("BigInt", func(t *testing.T) {
		_, ctx := setup(t)
		b := ctx.BigInt64(1)
		defer b.Free()
		_, err := ctx.JSONStringify(b)
		var jsErr *quickjs.Error
		require.ErrorAs(t, err, &jsErr)
		require.Equal(t, "TypeError", jsErr.Name)
	})
}
