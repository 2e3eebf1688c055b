package quickjs

import (
	"errors"
	"slices"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

// envObject exposes a string map as object properties. Keys outside the map fall back to the
// ordinary behaviour.
type envObject struct {
	vars map[string]string
}

var errForbidden = errors.New("forbidden variable")

func envOf(ctx *Context, obj Value) *envObject {
	return obj.GetOpaque().(*envObject)
}

type envExotic struct {
	UnimplementedExoticMethods
}

func (envExotic) GetOwnProperty(ctx *Context, desc *PropertyDescriptor, obj Value, prop Atom) (bool, error) {
	s, ok := envOf(ctx, obj).vars[prop.ToString()]
	if !ok {
		return false, ErrNotSupported
	}
	if desc != nil {
		desc.Flags = PropertyDefault
		desc.Value = ctx.String(s)
	}
	return true, nil
}

func (envExotic) GetOwnPropertyNames(ctx *Context, obj Value) ([]PropertyEnum, error) {
	keys := make([]string, 0)
	for k := range envOf(ctx, obj).vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	names := make([]PropertyEnum, len(keys))
	for i, k := range keys {
		names[i] = PropertyEnum{IsEnumerable: true, Atom: ctx.Atom(k)}
	}
	return names, nil
}

func (envExotic) DeleteProperty(ctx *Context, obj Value, prop Atom) (bool, error) {
	env := envOf(ctx, obj)
	if _, ok := env.vars[prop.ToString()]; !ok {
		return false, ErrNotSupported
	}
	delete(env.vars, prop.ToString())
	return true, nil
}

func (envExotic) HasProperty(ctx *Context, obj Value, prop Atom) (bool, error) {
	if _, ok := envOf(ctx, obj).vars[prop.ToString()]; ok {
		return true, nil
	}
	return false, ErrNotSupported
}

func (envExotic) GetProperty(ctx *Context, obj Value, prop Atom, _ Value) (Value, error) {
	if prop.ToString() == "SECRET" {
		return Value{}, errForbidden
	}
	s, ok := envOf(ctx, obj).vars[prop.ToString()]
	if !ok {
		return Value{}, ErrNotSupported
	}
	return ctx.String(s), nil
}

func (envExotic) SetProperty(ctx *Context, obj Value, prop Atom, val, _ Value, _ PropertyFlags) (bool, error) {
	name := prop.ToString()
	if name == "readonly" {
		return false, nil
	}
	envOf(ctx, obj).vars[name] = val.ToString()
	return true, nil
}

func newEnv(t *testing.T, ctx *Context, vars map[string]string) Value {
	t.Helper()
	id := AllocateClassID()
	require.NoError(t, ctx.Runtime().NewClass(id, &ClassDef{Name: "Env", Exotic: envExotic{}}))
	obj := ctx.NewObjectClass(id)
	require.True(t, obj.SetOpaque(&envObject{vars: vars}))
	return obj
}

func newTestContext(t *testing.T, opts ...Option) *Context {
	t.Helper()
	rt := NewRuntime(opts...)
	ctx := rt.NewContext()
	t.Cleanup(func() {
		ctx.Close()
		rt.Close()
	})
	return ctx
}

// newEnvContext returns a fresh context and an env object over HOME and SHELL.
func newEnvContext(t *testing.T) (*Context, Value, map[string]string) {
	t.Helper()
	ctx := newTestContext(t)
	vars := map[string]string{"HOME": "/root", "SHELL": "/bin/sh"}
	env := newEnv(t, ctx, vars)
	t.Cleanup(env.Free)
	return ctx, env, vars
}

func TestExoticMethods(t *testing.T) {
	t.Run("Get", func(t *testing.T) {
		_, env, _ := newEnvContext(t)
		home := env.Get("HOME")
		defer home.Free()
		require.Equal(t, "/root", home.String())

		missing := env.Get("MISSING")
		require.True(t, missing.IsUndefined())
	})

	t.Run("SetAndHas", func(t *testing.T) {
		ctx, env, vars := newEnvContext(t)
		env.Set("LANG", ctx.String("C"))
		require.Equal(t, "C", vars["LANG"])
		require.True(t, env.Has("LANG"))
		require.False(t, env.Has("NOPE"))
	})

	t.Run("FallbackToOrdinary", func(t *testing.T) {
		ctx, env, vars := newEnvContext(t)
		require.True(t, env.DefinePropertyValue("plain", ctx.Int32(7), PropertyDefault))
		_, ok := vars["plain"]
		require.False(t, ok)

		plain := env.Get("plain")
		defer plain.Free()
		require.EqualValues(t, 7, plain.ToInt32())
		require.True(t, env.Has("plain"))
	})

	t.Run("Descriptor", func(t *testing.T) {
		ctx, env, _ := newEnvContext(t)
		prop := ctx.Atom("SHELL")
		defer prop.Free()
		desc, ok, err := env.GetOwnProperty(prop)
		require.NoError(t, err)
		require.True(t, ok)
		defer desc.Free()
		require.Equal(t, "/bin/sh", desc.Value.String())
		require.NotZero(t, desc.Flags&PropertyEnumerable)
	})

	t.Run("OwnKeys", func(t *testing.T) {
		_, env, _ := newEnvContext(t)
		names, err := env.PropertyNames()
		require.NoError(t, err)
		require.True(t, slices.Contains(names, "HOME"))
		require.True(t, slices.Contains(names, "SHELL"))
	})

	t.Run("Delete", func(t *testing.T) {
		_, env, vars := newEnvContext(t)
		vars["TMP"] = "/tmp"
		require.True(t, env.Delete("TMP"))
		_, ok := vars["TMP"]
		require.False(t, ok)
	})

	t.Run("RejectedSet", func(t *testing.T) {
		ctx, env, _ := newEnvContext(t)
		env.Set("readonly", ctx.String("x"))
		require.True(t, ctx.HasException())
		var jsErr *Error
		require.ErrorAs(t, ctx.Exception(), &jsErr)
		require.Equal(t, "TypeError", jsErr.Name)
	})

	t.Run("TrapError", func(t *testing.T) {
		ctx, env, _ := newEnvContext(t)
		res := env.Get("SECRET")
		require.True(t, res.IsException())
		err := ctx.Exception()
		require.ErrorIs(t, err, errForbidden)
	})

	t.Run("Script", func(t *testing.T) {
		ctx, env, vars := newEnvContext(t)
		ctx.Globals().Set("env", env.Dup())
		res, err := ctx.Eval(`env.USER = "guest"; [env.HOME, "SHELL" in env, "NOPE" in env, env.USER].join(",")`)
		require.NoError(t, err)
		defer res.Free()
		require.Equal(t, "/root,true,false,guest", res.String())
		require.Equal(t, "guest", vars["USER"])
	})
}

type noKeysExotic struct {
	UnimplementedExoticMethods
}

func (noKeysExotic) GetOwnPropertyNames(*Context, Value) ([]PropertyEnum, error) {
	return []PropertyEnum{}, nil
}

func TestExoticEmptyPropertyNames(t *testing.T) {
	ctx := newTestContext(t)
	id := AllocateClassID()
	require.NoError(t, ctx.Runtime().NewClass(id, &ClassDef{Name: "NoKeys", Exotic: noKeysExotic{}}))
	obj := ctx.NewObjectClass(id)
	defer obj.Free()

	tab, code, handled := ctx.exoticGetOwnPropertyNames(noKeysExotic{}, obj.ref)
	require.True(t, handled)
	require.Zero(t, code)
	require.NotNil(t, tab)
	require.Empty(t, tab)

	before := ctx.rt.malloc.MallocSize
	all, code := ctx.getOwnPropertyNamesInternal(obj.ref, GPNStringMask|GPNSymbolMask)
	require.Zero(t, code)
	require.NotNil(t, all)
	require.Empty(t, all)
	ctx.freePropertyEnum(all)
	require.Equal(t, before, ctx.rt.malloc.MallocSize)
	require.False(t, ctx.HasException())

	names, err := obj.PropertyNames()
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestUnimplementedExoticIsOrdinary(t *testing.T) {
	ctx := newTestContext(t)
	id := AllocateClassID()
	require.NoError(t, ctx.Runtime().NewClass(id, &ClassDef{Name: "Bare", Exotic: UnimplementedExoticMethods{}}))
	bare := ctx.NewObjectClass(id)
	defer bare.Free()
	plain := ctx.Object()
	defer plain.Free()

	for _, obj := range []Value{plain, bare} {
		obj.Set("a", ctx.Int32(1))
		obj.Set("b", ctx.String("s"))
		require.True(t, obj.Delete("a"))
		require.False(t, obj.Has("a"))
		require.True(t, obj.Has("b"))
		b := obj.Get("b")
		require.Equal(t, "s", b.String())
		b.Free()
		names, err := obj.PropertyNames()
		require.NoError(t, err)
		require.Equal(t, []string{"b"}, names)
	}

	ctx.Globals().Set("bare", bare.Dup())
	res, err := ctx.Eval(`
		function exercise(o) { o.a = 1; o.b = "s"; delete o.a; return o }
		const p = exercise({}), x = exercise(bare);
		[JSON.stringify(p), JSON.stringify(x), Object.keys(p).join(), Object.keys(x).join(), "b" in p, "b" in x].join("|")
	`)
	require.NoError(t, err)
	defer res.Free()
	require.Equal(t, `{"b":"s"}|{"b":"s"}|b|b|true|true`, res.String())
}
