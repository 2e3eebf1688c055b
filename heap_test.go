package quickjs

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// recoverError runs fn and returns the error it panicked with.
func recoverError(t *testing.T, fn func()) (err error) {
	t.Helper()
	defer func() {
		p := recover()
		require.NotNil(t, p, "expected a panic")
		err, _ = p.(error)
	}()
	fn()
	return nil
}

func TestRefCounting(t *testing.T) {
	t.Run("DupAndFree", func(t *testing.T) {
		ctx := newTestContext(t)
		rt := ctx.rt
		s := ctx.String("hello")
		require.Equal(t, 1, rt.RefCount(s.Ref()))

		d := rt.DupValue(s.Ref())
		require.Equal(t, s.Ref(), d)
		require.Equal(t, 2, rt.RefCount(s.Ref()))

		rt.FreeValue(d)
		require.Equal(t, 1, rt.RefCount(s.Ref()))
		s.Free()

		err := recoverError(t, func() { rt.RefCount(s.Ref()) })
		require.ErrorIs(t, err, ErrUseAfterFree)
	})

	t.Run("InlineValues", func(t *testing.T) {
		rt := newTestContext(t).rt
		require.Equal(t, 0, rt.RefCount(MakeInt(3)))
		rt.FreeValue(MakeInt(3))
		require.Equal(t, Null, rt.DupValue(Null))
	})

	t.Run("StaleHandleAfterReuse", func(t *testing.T) {
		ctx := newTestContext(t)
		rt := ctx.rt
		a := ctx.String("a")
		stale := a.Ref()
		a.Free()
		b := ctx.String("b")
		defer b.Free()
		require.Equal(t, stale.handle().index(), b.Ref().handle().index())
		require.NotEqual(t, stale, b.Ref())

		err := recoverError(t, func() { rt.DupValue(stale) })
		require.ErrorIs(t, err, ErrUseAfterFree)
	})

	t.Run("DoubleFree", func(t *testing.T) {
		ctx := newTestContext(t)
		rt := ctx.rt
		obj := ctx.Object()
		ref := obj.Ref()
		obj.Free()
		err := recoverError(t, func() { rt.FreeValue(ref) })
		require.ErrorIs(t, err, ErrUseAfterFree)
	})

	t.Run("ObjectsReleaseProperties", func(t *testing.T) {
		ctx := newTestContext(t)
		rt := ctx.rt
		child := ctx.Object()
		parent := ctx.Object()
		parent.Set("child", child.Dup())
		require.Equal(t, 2, rt.RefCount(child.Ref()))
		parent.Free()
		require.Equal(t, 1, rt.RefCount(child.Ref()))
		child.Free()
	})
}

func TestMemoryUsage(t *testing.T) {
	rt := NewRuntime()
	defer rt.Close()
	ctx := rt.NewContext()
	defer ctx.Close()

	before := rt.MemoryUsage()
	s := ctx.String("0123456789")
	arr := ctx.Array()
	sym := ctx.Symbol("tag")
	big := ctx.BigInt64(1)

	during := rt.MemoryUsage()
	require.Equal(t, before.StrCount+1, during.StrCount)
	require.Equal(t, before.StrSize+10, during.StrSize)
	require.Equal(t, before.ArrayCount+1, during.ArrayCount)
	require.Equal(t, before.SymbolCount+1, during.SymbolCount)
	require.Equal(t, before.BigNumCount+1, during.BigNumCount)
	require.Greater(t, during.MallocSize, before.MallocSize)
	require.Greater(t, during.MallocCount, before.MallocCount)
	require.Greater(t, during.AtomCount, 0)

	s.Free()
	arr.Free()
	sym.Free()
	big.Free()
	after := rt.MemoryUsage()
	require.Equal(t, before.StrCount, after.StrCount)
	require.Equal(t, before.ObjCount, after.ObjCount)
	require.Equal(t, before.MallocSize, after.MallocSize)
}

func TestMallocFunctions(t *testing.T) {
	m := DefaultMallocFunctions()
	require.Equal(t, 8, m.UsableSize(1))
	require.Equal(t, 16, m.UsableSize(9))

	s := &MallocState{MallocLimit: 32}
	require.NoError(t, m.Malloc(s, 20))
	require.EqualValues(t, 24, s.MallocSize)
	require.ErrorIs(t, m.Malloc(s, 16), ErrOutOfMemory)
	require.ErrorIs(t, m.Realloc(s, 20, 40), ErrOutOfMemory)
	require.NoError(t, m.Realloc(s, 20, 4))
	require.EqualValues(t, 8, s.MallocSize)
	m.Free(s, 4)
	require.EqualValues(t, 0, s.MallocSize)
	require.EqualValues(t, 0, s.MallocCount)
}

type countingMalloc struct {
	MallocFunctions
	mallocs int
}

func (c *countingMalloc) Malloc(s *MallocState, size int) error {
	c.mallocs++
	return c.MallocFunctions.Malloc(s, size)
}

func TestOutOfMemory(t *testing.T) {
	alloc := &countingMalloc{MallocFunctions: DefaultMallocFunctions()}
	rt := NewRuntime(WithMallocFunctions(alloc))
	defer rt.Close()
	ctx := rt.NewContext()
	defer ctx.Close()
	require.Greater(t, alloc.mallocs, 0)

	base := rt.MemoryUsage().MallocSize
	rt.SetMemoryLimit(uint64(base + 1024))
	rt.SetGCThreshold(-1)

	var held []Value
	var failed Value
	for range 100 {
		v := ctx.String("0123456789012345678901234567890123456789")
		if v.IsException() {
			failed = v
			break
		}
		held = append(held, v)
	}
	require.True(t, failed.IsException())
	require.True(t, ctx.HasException())

	err := ctx.Exception()
	var jsErr *Error
	require.ErrorAs(t, err, &jsErr)
	require.Equal(t, "InternalError", jsErr.Name)
	require.Equal(t, "out of memory", jsErr.Message)

	for _, v := range held {
		v.Free()
	}
	rt.SetMemoryLimit(0)
	v := ctx.String("fits again")
	require.True(t, v.IsString())
	v.Free()
}

// holder keeps a reference that is only visible to the collector through the GC mark hook.
type holder struct {
	held JSValue
}

// newHolderClass registers a Holder class whose finalizer releases the held value. With mark
// set, the held value is reported to the collector.
func newHolderClass(t *testing.T, rt *Runtime, mark bool, finalized *int) ClassID {
	t.Helper()
	id := AllocateClassID()
	def := &ClassDef{
		Name: "Holder",
		Finalizer: func(rt *Runtime, val JSValue) error {
			*finalized++
			h := rt.Opaque(val).(*holder)
			rt.FreeValue(h.held)
			h.held = Undefined
			return nil
		},
	}
	if mark {
		def.GCMark = func(rt *Runtime, val JSValue, markFn MarkFunc) error {
			markFn(rt.Opaque(val).(*holder).held)
			return nil
		}
	}
	require.NoError(t, rt.NewClass(id, def))
	return id
}

func TestCycleCollection(t *testing.T) {
	t.Run("PropertyCycle", func(t *testing.T) {
		core, logs := observer.New(zap.DebugLevel)
		ctx := newTestContext(t, WithLogger(zap.New(core)), WithGCThreshold(-1))
		rt := ctx.rt
		before := rt.MemoryUsage().ObjCount
		a := ctx.Object()
		b := ctx.Object()
		a.Set("b", b.Dup())
		b.Set("a", a.Dup())
		a.Free()
		b.Free()
		require.Equal(t, before+2, rt.MemoryUsage().ObjCount)

		rt.RunGC()
		require.Equal(t, before, rt.MemoryUsage().ObjCount)
		require.Positive(t, logs.FilterMessage("gc cycle").Len())
	})

	t.Run("ExternallyHeldCycleSurvives", func(t *testing.T) {
		ctx := newTestContext(t, WithGCThreshold(-1))
		rt := ctx.rt
		a := ctx.Object()
		b := ctx.Object()
		a.Set("b", b.Dup())
		b.Set("a", a.Dup())
		b.Free()
		rt.RunGC()

		inner := a.Get("b")
		require.True(t, inner.IsObject())
		inner.Free()
		a.Free()
		rt.RunGC()
	})

	t.Run("HostEdgeReportedByGCMark", func(t *testing.T) {
		ctx := newTestContext(t, WithGCThreshold(-1))
		rt := ctx.rt
		finalized := 0
		id := newHolderClass(t, rt, true, &finalized)
		before := rt.MemoryUsage().ObjCount

		a := ctx.NewObjectClass(id)
		b := ctx.Object()
		a.SetOpaque(&holder{held: rt.DupValue(b.Ref())})
		b.Set("owner", a.Dup())
		a.Free()
		b.Free()

		rt.RunGC()
		require.Equal(t, 1, finalized)
		require.Equal(t, before, rt.MemoryUsage().ObjCount)
	})

	t.Run("UnreportedHostEdgeKeepsCycle", func(t *testing.T) {
		ctx := newTestContext(t, WithGCThreshold(-1))
		rt := ctx.rt
		finalized := 0
		id := newHolderClass(t, rt, false, &finalized)
		before := rt.MemoryUsage().ObjCount

		a := ctx.NewObjectClass(id)
		b := ctx.Object()
		h := &holder{held: rt.DupValue(b.Ref())}
		a.SetOpaque(h)
		b.Set("owner", a.Dup())
		a.Free()
		b.Free()

		rt.RunGC()
		require.Equal(t, 0, finalized)
		require.Equal(t, before+2, rt.MemoryUsage().ObjCount)

		// break the cycle from the host side
		held := h.held
		h.held = Undefined
		owner := ctx.wrap(held).Get("owner")
		require.True(t, owner.IsObject())
		require.True(t, ctx.wrap(held).Delete("owner"))
		rt.FreeValue(held)
		h.held = rt.DupValue(Null)
		owner.Free()
		require.Equal(t, 1, finalized)
		require.Equal(t, before, rt.MemoryUsage().ObjCount)
	})
}

func TestFinalizerRunsOnce(t *testing.T) {
	rt := NewRuntime()
	defer rt.Close()
	ctx := rt.NewContext()
	defer ctx.Close()

	calls := 0
	id := AllocateClassID()
	require.NoError(t, rt.NewClass(id, &ClassDef{
		Name: "Counted",
		Finalizer: func(rt *Runtime, val JSValue) error {
			calls++
			require.Equal(t, id, rt.classIDOf(val))
			return nil
		},
	}))

	obj := ctx.NewObjectClass(id)
	dup := obj.Dup()
	obj.Free()
	require.Equal(t, 0, calls)
	dup.Free()
	require.Equal(t, 1, calls)
	rt.RunGC()
	require.Equal(t, 1, calls)

	t.Run("FailingFinalizerIsLogged", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)
		rt := NewRuntime(WithLogger(zap.New(core)))
		defer rt.Close()
		ctx := rt.NewContext()
		defer ctx.Close()

		id := AllocateClassID()
		require.NoError(t, rt.NewClass(id, &ClassDef{
			Name:      "Panicky",
			Finalizer: func(*Runtime, JSValue) error { panic("boom") },
		}))
		ctx.NewObjectClass(id).Free()
		require.Equal(t, 1, logs.FilterMessage("class finalizer panicked").Len())
	})
}

func TestAtomTable(t *testing.T) {
	tab := newAtomTable()
	base := tab.count()

	a := tab.newAtom("alpha")
	require.Equal(t, a, tab.newAtom("alpha"))
	require.Equal(t, base+1, tab.count())
	require.Equal(t, "alpha", tab.toString(a))

	tab.free(a)
	require.Equal(t, base+1, tab.count())
	tab.free(a)
	require.Equal(t, base, tab.count())

	b := tab.newAtom("beta")
	require.Equal(t, a, b, "released slots are reused")
	require.Equal(t, "beta", tab.toString(b))

	sym := tab.newSymbol("tag", atomKindSymbol)
	require.NotEqual(t, b, sym)
	require.Equal(t, base+2, tab.count())
	tab.free(sym)
	tab.free(b)
	require.Equal(t, base, tab.count())

	require.True(t, tab.newAtom("42").isInt())
	tab.free(atomLength)
	require.Equal(t, "length", tab.toString(atomLength))
}
