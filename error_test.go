package quickjs_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/btx638/quickjs-go"
)

func TestErrorString(t *testing.T) {
	err := &quickjs.Error{Name: "TypeError", Message: "bad input"}
	require.Equal(t, "TypeError: bad input", err.Error())

	err.Cause = "missing field"
	require.Equal(t, "TypeError: bad input (cause: missing field)", err.Error())

	require.Equal(t, "only message", (&quickjs.Error{Message: "only message"}).Error())
	require.Nil(t, errors.Unwrap(&quickjs.Error{}))
}

func TestErrorKind(t *testing.T) {
	for _, kind := range []quickjs.ErrorKind{
		quickjs.PlainError, quickjs.EvalError, quickjs.RangeError, quickjs.ReferenceError,
		quickjs.SyntaxError, quickjs.TypeError, quickjs.URIError, quickjs.InternalError,
		quickjs.AggregateError,
	} {
		require.Equal(t, kind, quickjs.ErrorKindOf(kind.String()))
	}
	require.Equal(t, quickjs.PlainError, quickjs.ErrorKindOf("CustomError"))
	require.Equal(t, "Error", quickjs.ErrorKind(99).String())
}

func TestThrowHelpers(t *testing.T) {
	cases := []struct {
		name  string
		throw func(ctx *quickjs.Context) quickjs.Value
	}{
		{"SyntaxError", func(ctx *quickjs.Context) quickjs.Value { return ctx.ThrowSyntaxError("bad %s", "token") }},
		{"TypeError", func(ctx *quickjs.Context) quickjs.Value { return ctx.ThrowTypeError("bad %s", "token") }},
		{"ReferenceError", func(ctx *quickjs.Context) quickjs.Value { return ctx.ThrowReferenceError("bad %s", "token") }},
		{"RangeError", func(ctx *quickjs.Context) quickjs.Value { return ctx.ThrowRangeError("bad %s", "token") }},
		{"InternalError", func(ctx *quickjs.Context) quickjs.Value { return ctx.ThrowInternalError("bad %s", "token") }},
		{"URIError", func(ctx *quickjs.Context) quickjs.Value { return ctx.ThrowKind(quickjs.URIError, "bad %s", "token") }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ctx := setup(t)
			res := tc.throw(ctx)
			require.True(t, res.IsException())
			require.True(t, ctx.HasException())

			err := ctx.Exception()
			require.False(t, ctx.HasException())
			var jsErr *quickjs.Error
			require.ErrorAs(t, err, &jsErr)
			require.Equal(t, tc.name, jsErr.Name)
			require.Equal(t, "bad token", jsErr.Message)
		})
	}

	t.Run("NoPendingException", func(t *testing.T) {
		_, ctx := setup(t)
		require.NoError(t, ctx.Exception())
		require.True(t, ctx.GetException().IsNull())
	})

	t.Run("ThrowValue", func(t *testing.T) {
		_, ctx := setup(t)
		ctx.Throw(ctx.String("plain string"))
		exc := ctx.GetException()
		defer exc.Free()
		require.True(t, exc.IsString())
		require.False(t, exc.IsError())
		require.Equal(t, "plain string", exc.String())
	})

	t.Run("ThrowNonErrorAsGoError", func(t *testing.T) {
		_, ctx := setup(t)
		ctx.Throw(ctx.Int32(42))
		err := ctx.Exception()
		require.EqualError(t, err, "42")
	})

	t.Run("LatestThrowWins", func(t *testing.T) {
		_, ctx := setup(t)
		ctx.ThrowTypeError("first")
		ctx.ThrowRangeError("second")
		var jsErr *quickjs.Error
		require.ErrorAs(t, ctx.Exception(), &jsErr)
		require.Equal(t, "second", jsErr.Message)
	})

	t.Run("OutOfMemory", func(t *testing.T) {
		_, ctx := setup(t)
		ctx.ThrowOutOfMemory()
		var jsErr *quickjs.Error
		require.ErrorAs(t, ctx.Exception(), &jsErr)
		require.Equal(t, "InternalError", jsErr.Name)
		require.Equal(t, "out of memory", jsErr.Message)
	})
}

func TestHostErrors(t *testing.T) {
	sentinel := errors.New("disk on fire")

	t.Run("Unwrap", func(t *testing.T) {
		_, ctx := setup(t)
		fail := ctx.NewFunction("fail", func(ctx *quickjs.Context, _ quickjs.Value, _ []quickjs.Value) quickjs.Value {
			return ctx.ThrowError(fmt.Errorf("write journal: %w", sentinel))
		})
		defer fail.Free()
		res := ctx.Call(fail, ctx.Undefined())
		require.True(t, res.IsException())
		err := ctx.Exception()
		require.ErrorIs(t, err, sentinel)

		var jsErr *quickjs.Error
		require.ErrorAs(t, err, &jsErr)
		require.Equal(t, "InternalError", jsErr.Name)
		require.Equal(t, "write journal: disk on fire", jsErr.Message)
	})

	t.Run("ErrorKindIsKept", func(t *testing.T) {
		_, ctx := setup(t)
		ctx.ThrowError(&quickjs.Error{Name: "RangeError", Message: "too far"})
		var jsErr *quickjs.Error
		require.ErrorAs(t, ctx.Exception(), &jsErr)
		require.Equal(t, "RangeError", jsErr.Name)
		require.Equal(t, "too far", jsErr.Message)
	})

	t.Run("Panic", func(t *testing.T) {
		_, ctx := setup(t)
		boom := ctx.NewFunction("boom", func(*quickjs.Context, quickjs.Value, []quickjs.Value) quickjs.Value {
			panic("kaboom")
		})
		defer boom.Free()
		res := ctx.Call(boom, ctx.Undefined())
		require.True(t, res.IsException())
		require.ErrorContains(t, ctx.Exception(), "panic: kaboom")
	})

	t.Run("ErrorValue", func(t *testing.T) {
		_, ctx := setup(t)
		v := ctx.Error(sentinel)
		defer v.Free()
		require.True(t, v.IsError())
		require.ErrorContains(t, v.ToError(), "disk on fire")
		require.Nil(t, ctx.String("x").ToError())
	})
}

func TestScriptErrors(t *testing.T) {
	_, ctx := setup(t)

	_, err := ctx.Eval(`throw new TypeError("wrong", { cause: "because" })`, quickjs.EvalFileName("errors.js"))
	var jsErr *quickjs.Error
	require.ErrorAs(t, err, &jsErr)
	require.Equal(t, "TypeError", jsErr.Name)
	require.Equal(t, "wrong", jsErr.Message)
	require.Equal(t, "because", jsErr.Cause)
	require.Contains(t, jsErr.Stack, "errors.js")
	require.Equal(t, "errors.js", jsErr.FileName)
	require.Equal(t, 1, jsErr.LineNumber)

	_, err = ctx.Eval(`undefinedVariable`)
	require.ErrorAs(t, err, &jsErr)
	require.Equal(t, "ReferenceError", jsErr.Name)

	_, err = ctx.Eval(`function (`)
	require.ErrorAs(t, err, &jsErr)
	require.Equal(t, "SyntaxError", jsErr.Name)

	_, err = ctx.Eval(`class MyError extends Error { constructor(m) { super(m); this.name = "MyError" } }; throw new MyError("custom")`)
	require.ErrorAs(t, err, &jsErr)
	require.Equal(t, "MyError", jsErr.Name)
	require.Equal(t, "MyError: custom", jsErr.Error())

	t.Run("CaughtHostError", func(t *testing.T) {
		_, ctx := setup(t)
		fail := ctx.NewFunction("fail", func(ctx *quickjs.Context, _ quickjs.Value, _ []quickjs.Value) quickjs.Value {
			return ctx.ThrowTypeError("refused")
		})
		ctx.Globals().Set("fail", fail)
		res, err := ctx.Eval(`try { fail() } catch (e) { e instanceof TypeError ? e.message : "other" }`)
		require.NoError(t, err)
		defer res.Free()
		require.Equal(t, "refused", res.String())

		require.Equal(t, "false,true", evalString(t, ctx,
			`try { fail() } catch (e) { [e === null, e instanceof TypeError].join() }`))
	})

	t.Run("CaughtHostErrorAfterGlobalChange", func(t *testing.T) {
		_, ctx := setup(t)
		ctx.Globals().Set("fail", ctx.Function(func(ctx *quickjs.Context, _ quickjs.Value, _ []quickjs.Value) quickjs.Value {
			ctx.Globals().Set("attempts", ctx.Int32(1))
			return ctx.ThrowRangeError("busy")
		}))
		require.Equal(t, "RangeError:busy:1", evalString(t, ctx,
			`try { fail() } catch (e) { e.name + ":" + e.message + ":" + attempts }`))
	})

	t.Run("StaleExceptionDoesNotFailCalls", func(t *testing.T) {
		_, ctx := setup(t)
		seven := ctx.NewFunction("seven", func(ctx *quickjs.Context, _ quickjs.Value, _ []quickjs.Value) quickjs.Value {
			return ctx.Int32(7)
		})
		defer seven.Free()

		ctx.ThrowTypeError("stale")
		res := ctx.Call(seven, ctx.Undefined())
		require.False(t, res.IsException())
		require.EqualValues(t, 7, res.ToInt32())

		require.True(t, ctx.HasException())
		var jsErr *quickjs.Error
		require.ErrorAs(t, ctx.Exception(), &jsErr)
		require.Equal(t, "stale", jsErr.Message)
	})

	t.Run("StaleExceptionDoesNotMaskFailure", func(t *testing.T) {
		_, ctx := setup(t)
		refuse := ctx.NewFunction("refuse", func(ctx *quickjs.Context, _ quickjs.Value, _ []quickjs.Value) quickjs.Value {
			return ctx.ThrowRangeError("fresh")
		})
		defer refuse.Free()

		ctx.ThrowTypeError("stale")
		res := ctx.Call(refuse, ctx.Undefined())
		require.True(t, res.IsException())
		var jsErr *quickjs.Error
		require.ErrorAs(t, ctx.Exception(), &jsErr)
		require.Equal(t, "fresh", jsErr.Message)
	})
}

func TestParseStack(t *testing.T) {
	stack := "TypeError: boom\n" +
		"    at f (main.js:12:5)\n" +
		"    at <eval> (lib.js:3)\n" +
		"    at native\n" +
		"    at other.js:7:9(34)\n"
	frames := quickjs.ParseStack(stack)
	require.Equal(t, []quickjs.StackFrame{
		{Function: "f", FileName: "main.js", LineNumber: 12, Column: 5},
		{Function: "<eval>", FileName: "lib.js", LineNumber: 3},
		{FileName: "other.js", LineNumber: 7, Column: 9},
	}, frames)

	require.Empty(t, quickjs.ParseStack(""))
	require.Empty(t, quickjs.ParseStack("Error: no frames"))
}
