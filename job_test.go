package quickjs_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/btx638/quickjs-go"
)

func TestJobQueue(t *testing.T) {
	rt, ctx := setup(t)

	_, err := rt.ExecutePendingJob()
	require.ErrorIs(t, err, io.EOF)
	require.False(t, rt.IsJobPending())

	var order []string
	record := func(ctx *quickjs.Context, args []quickjs.Value) quickjs.Value {
		order = append(order, args[0].String())
		return ctx.Undefined()
	}

	first := ctx.String("first")
	rt.EnqueueJob(ctx, record, first)
	first.Free()
	rt.EnqueueJob(ctx, func(ctx *quickjs.Context, args []quickjs.Value) quickjs.Value {
		order = append(order, "second")
		third := ctx.String("third")
		defer third.Free()
		ctx.Runtime().EnqueueJob(ctx, record, third)
		return ctx.Undefined()
	})
	require.True(t, rt.IsJobPending())

	jobCtx, err := rt.ExecutePendingJob()
	require.NoError(t, err)
	require.Same(t, ctx, jobCtx)
	require.Equal(t, []string{"first"}, order)

	require.NoError(t, rt.ExecuteAllPendingJobs())
	require.Equal(t, []string{"first", "second", "third"}, order)
	require.False(t, rt.IsJobPending())

	t.Run("FailingJob", func(t *testing.T) {
		rt, ctx := setup(t)
		var order []string
		rt.EnqueueJob(ctx, func(ctx *quickjs.Context, _ []quickjs.Value) quickjs.Value {
			return ctx.ThrowRangeError("job failed")
		})
		rt.EnqueueJob(ctx, func(ctx *quickjs.Context, args []quickjs.Value) quickjs.Value {
			order = append(order, args[0].String())
			return ctx.Undefined()
		}, ctx.Int32(4))

		err := rt.ExecuteAllPendingJobs()
		var jsErr *quickjs.Error
		require.ErrorAs(t, err, &jsErr)
		require.Equal(t, "RangeError", jsErr.Name)
		require.True(t, rt.IsJobPending())

		ctx.Loop()
		require.False(t, rt.IsJobPending())
		require.Equal(t, []string{"4"}, order)
	})

	t.Run("ClosedContext", func(t *testing.T) {
		rt, ctx := setup(t)
		other := rt.NewContext()
		rt.EnqueueJob(other, func(ctx *quickjs.Context, _ []quickjs.Value) quickjs.Value {
			return ctx.Undefined()
		}, ctx.Int32(5))
		other.Close()
		_, err := rt.ExecutePendingJob()
		require.ErrorIs(t, err, quickjs.ErrRuntimeClosed)
	})
}

func TestPromises(t *testing.T) {
	t.Run("Resolve", func(t *testing.T) {
		_, ctx := setup(t)
		p := ctx.Promise(func(resolve, _ func(quickjs.Value)) {
			v := ctx.String("done")
			defer v.Free()
			resolve(v)
		})
		require.True(t, p.IsPromise())
		state, ok := p.PromiseState()
		require.True(t, ok)
		require.Equal(t, quickjs.PromiseFulfilled, state)

		res, err := ctx.Await(p)
		require.NoError(t, err)
		defer res.Free()
		require.Equal(t, "done", res.String())
	})

	t.Run("Reject", func(t *testing.T) {
		_, ctx := setup(t)
		p := ctx.Promise(func(_, reject func(quickjs.Value)) {
			reason := ctx.Error(&quickjs.Error{Name: "TypeError", Message: "nope"})
			defer reason.Free()
			reject(reason)
		})
		_, err := ctx.Await(p)
		var jsErr *quickjs.Error
		require.ErrorAs(t, err, &jsErr)
		require.Equal(t, "TypeError", jsErr.Name)
		require.Equal(t, "nope", jsErr.Message)
	})

	t.Run("NotAPromise", func(t *testing.T) {
		_, ctx := setup(t)
		res, err := ctx.Await(ctx.Int32(9))
		require.NoError(t, err)
		require.EqualValues(t, 9, res.ToInt32())
		require.False(t, res.IsPromise())
	})

	t.Run("ScriptAwait", func(t *testing.T) {
		_, ctx := setup(t)
		res, err := ctx.Eval(`(async () => { const v = await Promise.resolve(20); return v + 1 })()`, quickjs.EvalAwait(true))
		require.NoError(t, err)
		require.EqualValues(t, 21, res.ToInt32())
	})

	t.Run("AsyncFunction", func(t *testing.T) {
		_, ctx := setup(t)
		fn := ctx.AsyncFunction(func(ctx *quickjs.Context, _ quickjs.Value, promise quickjs.Value, args []quickjs.Value) quickjs.Value {
			sum := ctx.Int32(args[0].ToInt32() + args[1].ToInt32())
			promise.Call("resolve", sum).Free()
			return ctx.Undefined()
		})
		ctx.Globals().Set("addAsync", fn)
		res, err := ctx.Eval(`addAsync(2, 3).then(v => v * 10)`, quickjs.EvalAwait(true))
		require.NoError(t, err)
		require.EqualValues(t, 50, res.ToInt32())
	})

	t.Run("AsyncFunctionThrows", func(t *testing.T) {
		_, ctx := setup(t)
		fn := ctx.AsyncFunction(func(ctx *quickjs.Context, _ quickjs.Value, _ quickjs.Value, _ []quickjs.Value) quickjs.Value {
			return ctx.ThrowTypeError("async failure")
		})
		ctx.Globals().Set("failAsync", fn)
		res, err := ctx.Eval(`failAsync().catch(e => e.message)`, quickjs.EvalAwait(true))
		require.NoError(t, err)
		defer res.Free()
		require.Equal(t, "async failure", res.String())
	})
}

func TestPromiseRejectionTracker(t *testing.T) {
	rt, ctx := setup(t)

	type rejection struct {
		reason  string
		handled bool
	}
	var seen []rejection
	rt.SetHostPromiseRejectionTracker(func(ctx *quickjs.Context, promise, reason quickjs.Value, isHandled bool) {
		require.True(t, promise.IsPromise())
		seen = append(seen, rejection{reason: reason.String(), handled: isHandled})
	})

	res, err := ctx.Eval(`Promise.reject("lost"); 1`)
	require.NoError(t, err)
	res.Free()
	require.Equal(t, []rejection{{reason: "lost"}}, seen)

	seen = nil
	res, err = ctx.Eval(`const p = Promise.reject("late"); p.catch(() => {}); 2`)
	require.NoError(t, err)
	res.Free()
	require.NotEmpty(t, seen)
	require.Equal(t, "late", seen[0].reason)

	rt.SetHostPromiseRejectionTracker(nil)
	seen = nil
	res, err = ctx.Eval(`Promise.reject("ignored"); 3`)
	require.NoError(t, err)
	res.Free()
	require.Empty(t, seen)
}
