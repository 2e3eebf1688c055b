package quickjs_test

import (
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/btx638/quickjs-go"
)

func TestEvaluatorBackends(t *testing.T) {
	for _, name := range []quickjs.EvaluatorName{quickjs.EvaluatorGoja, quickjs.EvaluatorQuickJS} {
		t.Run(string(name), func(t *testing.T) {
			t.Run("Primitives", func(t *testing.T) {
				_, ctx := setup(t, quickjs.WithEvaluator(name))
				require.Equal(t, "7|héllo|true|null|undefined", evalString(t, ctx,
					`[3 + 4, "héllo", !0, String(null), String(undefined)].join("|")`))

				res, err := ctx.Eval(`2n ** 80n`)
				require.NoError(t, err)
				defer res.Free()
				require.True(t, res.IsBigInt())
				require.Zero(t, new(big.Int).Lsh(big.NewInt(1), 80).Cmp(res.ToBigInt()))

				nan, err := ctx.Eval(`0 / 0`)
				require.NoError(t, err)
				require.True(t, nan.IsNumber())
				require.NotEqual(t, nan.ToFloat64(), nan.ToFloat64())
			})

			t.Run("HostFunction", func(t *testing.T) {
				_, ctx := setup(t, quickjs.WithEvaluator(name))
				ctx.Globals().Set("join", ctx.Function(func(ctx *quickjs.Context, _ quickjs.Value, args []quickjs.Value) quickjs.Value {
					parts := make([]string, len(args))
					for i, a := range args {
						parts[i] = a.String()
					}
					return ctx.String(strings.Join(parts, "+"))
				}))
				require.Equal(t, "a+1+true", evalString(t, ctx, `join("a", 1, true)`))
			})

			t.Run("Globals", func(t *testing.T) {
				_, ctx := setup(t, quickjs.WithEvaluator(name))
				ctx.Globals().Set("fromHost", ctx.Int32(41))
				res, err := ctx.Eval(`globalThis.fromScript = fromHost + 1; fromScript`)
				require.NoError(t, err)
				require.EqualValues(t, 42, res.ToInt32())

				v := ctx.Globals().Get("fromScript")
				require.EqualValues(t, 42, v.ToInt32())
			})

			t.Run("ScriptFunction", func(t *testing.T) {
				_, ctx := setup(t, quickjs.WithEvaluator(name))
				fn, err := ctx.Eval(`(function mul(a, b) { return a * b })`)
				require.NoError(t, err)
				defer fn.Free()
				require.True(t, fn.IsFunction())

				res := ctx.Call(fn, ctx.Undefined(), ctx.Int32(6), ctx.Int32(7))
				require.False(t, res.IsException())
				require.EqualValues(t, 42, res.ToInt32())
			})

			t.Run("Objects", func(t *testing.T) {
				_, ctx := setup(t, quickjs.WithEvaluator(name))
				obj, err := ctx.Eval(`({ name: "box", size: [1, 2], nested: { ok: true } })`)
				require.NoError(t, err)
				defer obj.Free()
				s, err := ctx.JSONStringify(obj)
				require.NoError(t, err)
				require.JSONEq(t, `{"name":"box","size":[1,2],"nested":{"ok":true}}`, s)
			})

			t.Run("Exceptions", func(t *testing.T) {
				_, ctx := setup(t, quickjs.WithEvaluator(name))
				_, err := ctx.Eval(`throw new TypeError("bad input")`)
				var jsErr *quickjs.Error
				require.ErrorAs(t, err, &jsErr)
				require.Equal(t, "TypeError", jsErr.Name)
				require.Equal(t, "bad input", jsErr.Message)

				_, err = ctx.Eval(`let = ;`)
				require.ErrorAs(t, err, &jsErr)
				require.Equal(t, "SyntaxError", jsErr.Name)

				ctx.Globals().Set("fail", ctx.Function(func(ctx *quickjs.Context, _ quickjs.Value, _ []quickjs.Value) quickjs.Value {
					return ctx.ThrowRangeError("from host")
				}))
				require.Equal(t, "RangeError:from host", evalString(t, ctx,
					`try { fail() } catch (e) { e.name + ":" + e.message }`))
			})

			t.Run("Bytecode", func(t *testing.T) {
				_, ctx := setup(t, quickjs.WithEvaluator(name))
				buf, err := ctx.Compile(`[1, 2, 3].map(x => x * 2).join()`)
				require.NoError(t, err)
				res, err := ctx.EvalBytecode(buf)
				require.NoError(t, err)
				defer res.Free()
				require.Equal(t, "2,4,6", res.String())
			})

			t.Run("Timeout", func(t *testing.T) {
				_, ctx := setup(t, quickjs.WithEvaluator(name), quickjs.WithExecuteTimeout(1))
				_, err := ctx.Eval(`for (;;) {}`)
				require.ErrorIs(t, err, quickjs.ErrInterrupted)
			})
		})
	}
}

func TestGojaBacktrace(t *testing.T) {
	_, ctx := setup(t)

	ctx.Globals().Set("fail", ctx.Function(func(ctx *quickjs.Context, _ quickjs.Value, _ []quickjs.Value) quickjs.Value {
		return ctx.ThrowInternalError("deep failure")
	}))
	res, err := ctx.Eval(`
function outer() { return inner() }
function inner() { return fail() }
try { outer() } catch (e) { e.stack }
`, quickjs.EvalFileName("trace.js"))
	require.NoError(t, err)
	defer res.Free()
	require.Contains(t, res.String(), "trace.js")
	require.Contains(t, res.String(), "inner")

	t.Run("StripDebug", func(t *testing.T) {
		_, ctx := setup(t, quickjs.WithStripInfo(quickjs.StripDebug))
		ctx.Globals().Set("fail", ctx.Function(func(ctx *quickjs.Context, _ quickjs.Value, _ []quickjs.Value) quickjs.Value {
			return ctx.ThrowInternalError("deep failure")
		}))
		res, err := ctx.Eval(`try { fail() } catch (e) { e.stack }`)
		require.NoError(t, err)
		defer res.Free()
		require.Empty(t, res.String())
	})
}

func TestRegisterEvaluator(t *testing.T) {
	quickjs.RegisterEvaluator("broken", func(*quickjs.Context) (quickjs.Evaluator, error) {
		return nil, quickjs.ErrNotSupported
	})
	require.Contains(t, quickjs.Evaluators(), quickjs.EvaluatorName("broken"))

	rt := quickjs.NewRuntime(quickjs.WithEvaluator("broken"))
	defer rt.Close()
	ctx := rt.NewContext()
	_, err := ctx.Eval(`1`)
	require.ErrorContains(t, err, `evaluator "broken" is not available`)
}
