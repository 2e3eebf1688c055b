package quickjs

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMakeFloat(t *testing.T) {
	t.Run("IntegralFolds", func(t *testing.T) {
		for _, f := range []float64{0, 1, -1, 42, math.MaxInt32, math.MinInt32} {
			v := MakeFloat(f)
			require.Equal(t, TagInt, v.Tag(), "%v", f)
			n, err := v.ToNumber()
			require.NoError(t, err)
			require.Equal(t, f, n)
		}
	})

	t.Run("NonIntegralStaysDouble", func(t *testing.T) {
		for _, f := range []float64{1.5, -0.25, math.MaxInt32 + 1, math.MinInt32 - 1, math.Inf(1), math.Inf(-1)} {
			v := MakeFloat(f)
			require.Equal(t, TagFloat64, v.Tag(), "%v", f)
			d, err := v.ToDouble()
			require.NoError(t, err)
			require.Equal(t, f, d)
		}
	})

	t.Run("NegativeZero", func(t *testing.T) {
		v := MakeFloat(math.Copysign(0, -1))
		require.Equal(t, TagFloat64, v.Tag())
		d, err := v.ToDouble()
		require.NoError(t, err)
		require.True(t, math.Signbit(d))
	})

	t.Run("CanonicalNaN", func(t *testing.T) {
		payload := math.Float64frombits(0x7ff8000000000abc)
		negative := math.Float64frombits(0xfff0000000000001)
		require.Equal(t, NaN, MakeFloat(math.NaN()))
		require.Equal(t, NaN, MakeFloat(payload))
		require.Equal(t, NaN, MakeFloat(negative))
		require.True(t, MakeFloat(payload).IsNaN())
		require.False(t, MakeFloat(1).IsNaN())
	})
}

func TestJSValueAccessors(t *testing.T) {
	i, err := MakeInt(-7).ToInt32()
	require.NoError(t, err)
	require.EqualValues(t, -7, i)

	b, err := MakeBool(true).ToBool()
	require.NoError(t, err)
	require.True(t, b)
	require.Equal(t, False, MakeBool(false))

	_, err = MakeInt(1).ToDouble()
	require.ErrorIs(t, err, ErrTypeMismatch)
	_, err = Null.ToInt32()
	require.ErrorIs(t, err, ErrTypeMismatch)
	_, err = Undefined.ToNumber()
	require.ErrorIs(t, err, ErrTypeMismatch)
	_, err = MakeInt(0).ToBool()
	require.ErrorIs(t, err, ErrTypeMismatch)

	require.Equal(t, "12", MakeInt(12).String())
	require.Equal(t, "0.5", MakeFloat(0.5).String())
	require.Equal(t, "null", Null.String())
	require.Equal(t, "undefined", Undefined.String())
	require.Equal(t, "[Exception]", Exception.String())

	require.False(t, MakeInt(1).HasRefCount())
	require.True(t, TagString.HasRefCount())
	require.True(t, TagFloat64.IsNumber())
	require.Equal(t, "Tag(99)", Tag(99).String())
}

func TestBoxing(t *testing.T) {
	values := []JSValue{
		MakeInt(0),
		MakeInt(-1),
		MakeInt(math.MaxInt32),
		True,
		False,
		Null,
		Undefined,
		Uninitialized,
		Exception,
		MakeCatchOffset(17),
		makeFloat64(0),
		makeFloat64(math.Copysign(0, -1)),
		makeFloat64(1.5),
		makeFloat64(-1e300),
		makeFloat64(math.Inf(1)),
		makeFloat64(math.Inf(-1)),
		makeFloat64(math.SmallestNonzeroFloat64),
		NaN,
		makeRef(TagObject, makeHandle(1, 0)),
		makeRef(TagString, makeHandle(handleIndexMask, handleGenMask)),
		makeRef(TagSymbol, makeHandle(12345, 3)),
		makeRef(TagBigInt, makeHandle(2, 1)),
		makeRef(TagBigFloat, makeHandle(3, 1)),
		makeRef(TagBigDecimal, makeHandle(4, 1)),
		makeRef(TagFunctionBytecode, makeHandle(5, 1)),
		makeRef(TagModule, makeHandle(6, 1)),
	}
	for _, v := range values {
		t.Run(v.Tag().String(), func(t *testing.T) {
			b := v.Box()
			require.Equal(t, v.Tag(), b.Tag())
			require.Equal(t, v, b.Unbox())
		})
	}

	t.Run("DoublesLeaveTagRange", func(t *testing.T) {
		for _, f := range []float64{0, -0.5, 1e-300, math.MaxFloat64, -math.MaxFloat64} {
			require.Equal(t, TagFloat64, makeFloat64(f).Box().Tag(), "%v", f)
		}
	})

	t.Run("NaNPayloadIsCanonical", func(t *testing.T) {
		v := JSValue{tag: TagFloat64, u: 0x7ff8000000000001}
		require.Equal(t, BoxedNaN, v.Box())
		require.Equal(t, NaN, BoxedNaN.Unbox())

		bits := uint64(float64NaNBits)
		require.Equal(t, BoxedValue(bits-float64TagAddend), BoxedNaN)
	})

	t.Run("BoolPayloadNormalized", func(t *testing.T) {
		b := BoxedValue(uint64(uint32(TagBool))<<32 | 5)
		require.Equal(t, True, b.Unbox())
	})
}

func TestHandleGeneration(t *testing.T) {
	h := makeHandle(handleIndexMask, handleGenMask)
	require.EqualValues(t, handleIndexMask, h.index())
	require.EqualValues(t, handleGenMask, h.gen())

	h = makeHandle(7, handleGenMask+1)
	require.EqualValues(t, 7, h.index())
	require.EqualValues(t, 0, h.gen())
}
