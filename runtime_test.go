package quickjs_test

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/btx638/quickjs-go"
)

func TestRuntimeOptions(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	rt := quickjs.NewRuntime(
		quickjs.WithExecuteTimeout(30),
		quickjs.WithMemoryLimit(64*1024*1024),
		quickjs.WithGCThreshold(-1),
		quickjs.WithMaxStackSize(1024*1024),
		quickjs.WithStripInfo(quickjs.StripSource),
		quickjs.WithLogger(zap.New(core)),
	)
	defer rt.Close()

	ctx := rt.NewContext()
	require.Same(t, rt, ctx.Runtime())
	res, err := ctx.Eval(`1 + 2`)
	require.NoError(t, err)
	require.EqualValues(t, 3, res.ToInt32())

	rt.SetMemoryLimit(0)
	rt.SetGCThreshold(1024)
	rt.SetMaxStackSize(0)
	rt.SetExecuteTimeout(0)
	rt.SetStripInfo(0)
	rt.RunGC()

	t.Run("Contexts", func(t *testing.T) {
		rt, ctx := setup(t)
		second := rt.NewContext()
		require.Len(t, rt.Contexts(), 2)
		second.Close()
		require.Len(t, rt.Contexts(), 1)
		require.Same(t, ctx, rt.Contexts()[0])
	})

	t.Run("ClosedContext", func(t *testing.T) {
		rt, _ := setup(t)
		other := rt.NewContext()
		other.Close()
		_, err := other.Eval(`1`)
		require.ErrorIs(t, err, quickjs.ErrRuntimeClosed)
	})

	t.Run("LeakIsLogged", func(t *testing.T) {
		rt := quickjs.NewRuntime(quickjs.WithLogger(zap.New(core)))
		ctx := rt.NewContext()
		ctx.String("leaked")
		rt.Close()
		require.Equal(t, 1, logs.FilterMessage("runtime closed with live heap cells").Len())
		rt.Close()
	})
}

func TestEvaluators(t *testing.T) {
	names := quickjs.Evaluators()
	require.Contains(t, names, quickjs.EvaluatorGoja)
	require.Contains(t, names, quickjs.EvaluatorQuickJS)

	rt := quickjs.NewRuntime(quickjs.WithEvaluator("missing"))
	defer rt.Close()
	ctx := rt.NewContext()
	_, err := ctx.Eval(`1`)
	require.ErrorContains(t, err, `evaluator "missing" is not available`)
}

func TestCrossThreadAccess(t *testing.T) {
	rt, ctx := setup(t)
	require.True(t, rt.CheckAccess())
	require.NoError(t, rt.VerifyAccess())

	type result struct {
		access bool
		verify error
		panic  any
	}
	done := make(chan result)
	go func() {
		var res result
		res.access = rt.CheckAccess()
		res.verify = rt.VerifyAccess()
		defer func() {
			res.panic = recover()
			done <- res
		}()
		ctx.String("from another goroutine")
	}()
	res := <-done

	require.False(t, res.access)
	require.ErrorIs(t, res.verify, quickjs.ErrCrossThread)
	err, ok := res.panic.(error)
	require.True(t, ok)
	require.ErrorIs(t, err, quickjs.ErrCrossThread)
}

func TestCrossRuntimeValue(t *testing.T) {
	_, ctx1 := setup(t)
	_, ctx2 := setup(t)

	s := ctx1.String("owned by the first runtime")
	defer s.Free()
	obj := ctx2.Object()
	defer obj.Free()

	defer func() {
		err, ok := recover().(error)
		require.True(t, ok)
		require.ErrorIs(t, err, quickjs.ErrCrossRuntime)
	}()
	obj.Set("s", s.Dup())
}

func TestExecuteTimeout(t *testing.T) {
	_, ctx := setup(t, quickjs.WithExecuteTimeout(1))

	start := time.Now()
	_, err := ctx.Eval(`try { while (true) {} } catch (e) { "caught" }`)
	require.Error(t, err)
	require.ErrorIs(t, err, quickjs.ErrInterrupted)
	require.Less(t, time.Since(start), 10*time.Second)

	var jsErr *quickjs.Error
	require.ErrorAs(t, err, &jsErr)
	require.True(t, jsErr.Uncatchable)
	require.Equal(t, "InternalError", jsErr.Name)

	res, err := ctx.Eval(`"still usable"`)
	require.NoError(t, err)
	defer res.Free()
	require.Equal(t, "still usable", res.String())
}

func TestInterruptHandler(t *testing.T) {
	rt, ctx := setup(t)

	var polls atomic.Int32
	rt.SetInterruptHandler(func() int {
		if polls.Add(1) > 3 {
			return 1
		}
		return 0
	})
	_, err := ctx.Eval(`for (;;) {}`)
	require.True(t, errors.Is(err, quickjs.ErrInterrupted))
	require.Greater(t, polls.Load(), int32(3))

	rt.SetInterruptHandler(nil)
	res, err := ctx.Eval(`let n = 0; for (let i = 0; i < 1000; i++) n += i; n`)
	require.NoError(t, err)
	require.EqualValues(t, 499500, res.ToInt32())
}
