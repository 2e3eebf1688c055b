package quickjs

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// Point is the Go side of the Point class used by the class tests.
type Point struct {
	X, Y float64

	finalized *int
}

// Finalize records that the instance was released.
func (p *Point) Finalize() {
	if p.finalized != nil {
		*p.finalized++
	}
}

func (p *Point) String() string {
	return fmt.Sprintf("Point(%.2f, %.2f)", p.X, p.Y)
}

func pointOf(ctx *Context, this Value) (*Point, Value, bool) {
	obj, err := this.GetGoObject()
	if err != nil {
		return nil, ctx.ThrowError(err), false
	}
	return obj.(*Point), Value{}, true
}

// newPointClass builds the Point class. finalized counts released instances.
func newPointClass(t *testing.T, ctx *Context, finalized *int) (Value, ClassID) {
	t.Helper()
	version := ctx.String("1.0.0")
	defer version.Free()
	origin := ctx.String("cartesian")
	defer origin.Free()

	ctor, id, err := NewClassBuilder("Point").
		Constructor(func(ctx *Context, _ Value, args []Value) (any, error) {
			p := &Point{finalized: finalized}
			if len(args) > 0 {
				p.X = args[0].ToFloat64()
			}
			if len(args) > 1 {
				p.Y = args[1].ToFloat64()
			}
			return p, nil
		}).
		Method("norm", func(ctx *Context, this Value, _ []Value) Value {
			p, exc, ok := pointOf(ctx, this)
			if !ok {
				return exc
			}
			return ctx.Float64(math.Hypot(p.X, p.Y))
		}).
		Method("toString", func(ctx *Context, this Value, _ []Value) Value {
			p, exc, ok := pointOf(ctx, this)
			if !ok {
				return exc
			}
			return ctx.String(p.String())
		}).
		Accessor("x",
			func(ctx *Context, this Value) Value {
				p, exc, ok := pointOf(ctx, this)
				if !ok {
					return exc
				}
				return ctx.Float64(p.X)
			},
			func(ctx *Context, this Value, value Value) Value {
				p, exc, ok := pointOf(ctx, this)
				if !ok {
					return exc
				}
				p.X = value.ToFloat64()
				return ctx.Undefined()
			}).
		StaticMethod("zero", func(ctx *Context, this Value, _ []Value) Value {
			return this.CallConstructor()
		}).
		StaticAccessor("PI", func(ctx *Context, _ Value) Value {
			return ctx.Float64(math.Pi)
		}, nil).
		Property("version", version).
		StaticProperty("coordinates", origin).
		Build(ctx)
	require.NoError(t, err)
	return ctor, id
}

func TestNewClass(t *testing.T) {
	rt := NewRuntime()
	defer rt.Close()

	id := AllocateClassID()
	require.False(t, rt.IsRegisteredClass(id))
	require.NoError(t, rt.NewClass(id, &ClassDef{Name: "Thing"}))
	require.True(t, rt.IsRegisteredClass(id))
	require.Equal(t, "Thing", rt.ClassName(id))

	err := rt.NewClass(id, &ClassDef{Name: "Other"})
	require.ErrorIs(t, err, ErrClassRegistered)

	require.NotEqual(t, id, AllocateClassID())
}

// newPointContext returns a context with the Point class installed as a global.
func newPointContext(t *testing.T, finalized *int) (*Context, ClassID) {
	t.Helper()
	rt := NewRuntime()
	ctx := rt.NewContext()
	t.Cleanup(func() {
		ctx.Close()
		rt.Close()
	})
	ctor, id := newPointClass(t, ctx, finalized)
	require.True(t, ctor.IsConstructor())
	ctx.Globals().Set("Point", ctor)
	return ctx, id
}

func TestClassBuilder(t *testing.T) {
	t.Run("ScriptConstruction", func(t *testing.T) {
		ctx, _ := newPointContext(t, nil)
		res, err := ctx.Eval(`const p = new Point(3, 4); [p.norm(), p.x, String(p), p.version].join("|")`)
		require.NoError(t, err)
		defer res.Free()
		require.Equal(t, "5|3|Point(3.00, 4.00)|1.0.0", res.String())
	})

	t.Run("SetterUpdatesGoObject", func(t *testing.T) {
		ctx, _ := newPointContext(t, nil)
		res, err := ctx.Eval(`const q = new Point(1, 1); q.x = 6; q.norm() > 6 && q.x === 6`)
		require.NoError(t, err)
		defer res.Free()
		require.True(t, res.ToBool())
	})

	t.Run("Statics", func(t *testing.T) {
		ctx, _ := newPointContext(t, nil)
		res, err := ctx.Eval(`[Point.PI.toFixed(2), Point.coordinates, Point.zero().norm()].join(",")`)
		require.NoError(t, err)
		defer res.Free()
		require.Equal(t, "3.14,cartesian,0", res.String())
	})

	t.Run("CallWithoutNew", func(t *testing.T) {
		ctx, _ := newPointContext(t, nil)
		_, err := ctx.Eval(`Point(1, 2)`)
		require.Error(t, err)
		var jsErr *Error
		require.ErrorAs(t, err, &jsErr)
		require.Equal(t, "TypeError", jsErr.Name)
		require.Contains(t, jsErr.Message, "class constructor Point cannot be invoked without 'new'")
	})

	t.Run("HostConstruction", func(t *testing.T) {
		finalized := 0
		ctx, id := newPointContext(t, &finalized)
		x, y := ctx.Float64(6), ctx.Float64(8)
		defer x.Free()
		defer y.Free()

		ctor := ctx.Globals().Get("Point")
		defer ctor.Free()
		p := ctor.CallConstructor(x, y)
		require.True(t, p.IsObject())
		require.True(t, ctx.IsInstanceOf(p, id))
		require.Equal(t, id, p.ClassID())

		obj, err := ctx.GetInstanceDataTyped(p, id)
		require.NoError(t, err)
		require.Equal(t, 6.0, obj.(*Point).X)

		norm := p.Call("norm")
		require.Equal(t, 10.0, norm.ToFloat64())
		norm.Free()

		version := p.Get("version")
		require.Equal(t, "1.0.0", version.String())
		version.Free()

		p.Free()
		require.Equal(t, 1, finalized)
	})

	t.Run("InstanceDataErrors", func(t *testing.T) {
		ctx, id := newPointContext(t, nil)
		plain := ctx.Object()
		defer plain.Free()
		_, err := ctx.GetInstanceData(plain)
		require.EqualError(t, err, "no instance data found")
		_, err = ctx.GetInstanceData(ctx.Int32(1))
		require.EqualError(t, err, "value is not an object")
		_, err = ctx.GetInstanceDataTyped(plain, id)
		require.Error(t, err)
		require.False(t, ctx.IsInstanceOf(plain, id))
	})

	t.Run("ScriptSubclass", func(t *testing.T) {
		ctx, _ := newPointContext(t, nil)
		res, err := ctx.Eval(`
			class Point3 extends Point {
				constructor(x, y, z) { super(x, y); this.z = z }
				get depth() { return this.z * 2 }
			}
			const p3 = new Point3(2, 0, 5);
			[p3 instanceof Point, p3.x, p3.z, p3.depth, p3.norm()].join(",")
		`)
		require.NoError(t, err)
		defer res.Free()
		require.Equal(t, "true,2,5,10,2", res.String())
	})
}

func TestClassBuilderValidation(t *testing.T) {
	rt := NewRuntime()
	defer rt.Close()
	ctx := rt.NewContext()
	defer ctx.Close()

	_, _, err := NewClassBuilder("").Build(ctx)
	require.Error(t, err)

	_, _, err = NewClassBuilder("NoCtor").Method("f", nil).Build(ctx)
	require.EqualError(t, err, "constructor function is required")
}

func TestClassConstructorError(t *testing.T) {
	rt := NewRuntime()
	defer rt.Close()
	ctx := rt.NewContext()
	defer ctx.Close()

	failure := fmt.Errorf("refused")
	ctor, _, err := NewClassBuilder("Refuser").
		Constructor(func(*Context, Value, []Value) (any, error) {
			return nil, failure
		}).
		Build(ctx)
	require.NoError(t, err)
	defer ctor.Free()

	res := ctx.CallConstructor(ctor, Value{})
	require.True(t, res.IsException())
	err = ctx.Exception()
	require.ErrorIs(t, err, failure)
}

func TestCreateInstanceFromNewTarget(t *testing.T) {
	rt := NewRuntime()
	defer rt.Close()
	ctx := rt.NewContext()
	defer ctx.Close()

	id := AllocateClassID()
	require.NoError(t, rt.NewClass(id, &ClassDef{Name: "Box"}))

	ctor := ctx.NewCFunction("Box", 1, func(ctx *Context, _, newTarget Value, args []Value, flags CallFlags) (Value, error) {
		require.NotZero(t, flags&CallFlagConstructor)
		return ctx.CreateInstanceFromNewTarget(newTarget, id, args[0].String()), nil
	}, true)
	proto := ctx.Object()
	proto.Set("kind", ctx.String("box"))
	ctx.SetClassProto(id, proto.Dup())
	ctor.DefinePropertyValue("prototype", proto, 0)
	ctx.Globals().Set("Box", ctor)

	res, err := ctx.Eval(`const b = new Box("gift"); b.kind`)
	require.NoError(t, err)
	require.Equal(t, "box", res.String())
	res.Free()

	b := ctx.Globals().Get("Box")
	defer b.Free()
	arg := ctx.String("hat")
	defer arg.Free()
	inst := b.CallConstructor(arg)
	defer inst.Free()
	data, err := ctx.GetInstanceDataTyped(inst, id)
	require.NoError(t, err)
	require.Equal(t, "hat", data)

	classProto := ctx.GetClassProto(id)
	defer classProto.Free()
	instProto := inst.GetPrototype()
	defer instProto.Free()
	require.Equal(t, classProto.Ref(), instProto.Ref())
}
