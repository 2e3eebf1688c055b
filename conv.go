package quickjs

import (
	"math"
	"math/big"
	"strconv"
	"strings"
)

// newStringValue allocates a string, throwing out of memory on failure.
func (ctx *Context) newStringValue(s string) JSValue {
	v, err := ctx.rt.newString(s)
	if err != nil {
		return ctx.throwOutOfMemory()
	}
	return v
}

func (ctx *Context) atomToValue(a JSAtom) JSValue {
	r := ctx.rt
	if a.isInt() {
		return MakeInt(int32(a &^ atomTagInt))
	}
	if r.atoms.kind(a) != atomKindString {
		v, err := r.symbolFromAtom(a)
		if err != nil {
			return ctx.throwOutOfMemory()
		}
		return v
	}
	return ctx.newStringValue(r.atoms.toString(a))
}

// toPropertyKey converts v to an owned atom.
func (ctx *Context) toPropertyKey(v JSValue) (JSAtom, bool) {
	r := ctx.rt
	switch v.tag {
	case TagInt:
		if i := v.int32(); i >= 0 {
			return atomFromUint32(uint32(i)), true
		}
	case TagString:
		return r.atoms.newAtom(r.stringOf(v)), true
	case TagSymbol:
		return r.atoms.dup(r.cellOf(v).atom), true
	}
	s, ok := ctx.toGoString(v)
	if !ok {
		return AtomNull, false
	}
	return r.atoms.newAtom(s), true
}

// formatNumber implements Number::toString for radix 10.
func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case f == 0:
		return "0"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f < 0:
		return "-" + formatNumber(-f)
	}
	mant, expStr, _ := strings.Cut(strconv.FormatFloat(f, 'e', -1, 64), "e")
	digits := strings.Replace(mant, ".", "", 1)
	exp, _ := strconv.Atoi(expStr)
	k, n := len(digits), exp+1
	switch {
	case k <= n && n <= 21:
		return digits + strings.Repeat("0", n-k)
	case 0 < n && n <= 21:
		return digits[:n] + "." + digits[n:]
	case -6 < n && n <= 0:
		return "0." + strings.Repeat("0", -n) + digits
	}
	e := n - 1
	sign := "+"
	if e < 0 {
		sign, e = "-", -e
	}
	if k == 1 {
		return digits + "e" + sign + strconv.Itoa(e)
	}
	return digits[:1] + "." + digits[1:] + "e" + sign + strconv.Itoa(e)
}

// stringToNumber implements StringToNumber.
func stringToNumber(s string) float64 {
	s = strings.TrimSpace(s)
	switch s {
	case "":
		return 0
	case "Infinity", "+Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	}
	if len(s) > 2 && s[0] == '0' {
		base := 0
		switch s[1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 0 {
			n, ok := new(big.Int).SetString(s[2:], base)
			if !ok {
				return math.NaN()
			}
			f, _ := new(big.Float).SetInt(n).Float64()
			return f
		}
	}
	if strings.IndexFunc(s, func(r rune) bool {
		return !(r >= '0' && r <= '9' || r == '.' || r == 'e' || r == 'E' || r == '+' || r == '-')
	}) >= 0 {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			return f
		}
		return math.NaN()
	}
	return f
}

// toPrimitive converts an object by calling valueOf and toString (in the order given by the
// hint). Primitives are returned duplicated.
func (ctx *Context) toPrimitive(v JSValue, preferString bool) JSValue {
	r := ctx.rt
	if v.tag != TagObject {
		return r.dup(v)
	}
	if prim := r.objectOf(v).primitive; !prim.IsUndefined() {
		return r.dup(prim)
	}
	methods := []JSAtom{atomValueOf, atomToString}
	if preferString {
		methods[0], methods[1] = methods[1], methods[0]
	}
	for _, m := range methods {
		fn := ctx.getProperty(v, m, v)
		if fn.IsException() {
			return fn
		}
		if r.isCallable(fn) {
			res := ctx.callInternal(fn, v, nil, 0)
			r.free(fn)
			if res.IsException() || res.tag != TagObject {
				return res
			}
			r.free(res)
			continue
		}
		r.free(fn)
	}
	return ctx.throwError(TypeError, "cannot convert object to primitive value")
}

// toGoString implements ToString. It reports false with a pending exception on failure.
func (ctx *Context) toGoString(v JSValue) (string, bool) {
	r := ctx.rt
	switch v.tag {
	case TagString:
		return r.stringOf(v), true
	case TagInt, TagFloat64, TagBool, TagNull, TagUndefined:
		return v.String(), true
	case TagSymbol:
		return "Symbol(" + r.atoms.toString(r.cellOf(v).atom) + ")", true
	case TagBigInt:
		return r.cellOf(v).bigInt.String(), true
	case TagBigFloat:
		return r.cellOf(v).bigFloat.Text('g', -1), true
	case TagBigDecimal:
		return r.cellOf(v).bigDec.String(), true
	case TagObject:
		prim := ctx.toPrimitive(v, true)
		if prim.IsException() {
			return "", false
		}
		defer r.free(prim)
		return ctx.toGoString(prim)
	case TagException:
		return "", false
	}
	return v.String(), true
}

// toNumber implements ToNumber. It reports false with a pending exception on failure.
func (ctx *Context) toNumber(v JSValue) (float64, bool) {
	r := ctx.rt
	switch v.tag {
	case TagInt:
		return float64(v.int32()), true
	case TagFloat64:
		return v.float64(), true
	case TagBool:
		if v.u != 0 {
			return 1, true
		}
		return 0, true
	case TagNull:
		return 0, true
	case TagUndefined:
		return math.NaN(), true
	case TagString:
		return stringToNumber(r.stringOf(v)), true
	case TagBigFloat:
		f, _ := r.cellOf(v).bigFloat.Float64()
		return f, true
	case TagBigDecimal:
		f, err := r.cellOf(v).bigDec.Float64()
		if err != nil {
			return math.NaN(), true
		}
		return f, true
	case TagObject:
		prim := ctx.toPrimitive(v, false)
		if prim.IsException() {
			return 0, false
		}
		defer r.free(prim)
		return ctx.toNumber(prim)
	case TagSymbol:
		ctx.throwError(TypeError, "cannot convert symbol to number")
	case TagBigInt:
		ctx.throwError(TypeError, "cannot convert bigint to number")
	}
	return 0, false
}

// truthy implements ToBoolean.
func (ctx *Context) truthy(v JSValue) bool {
	r := ctx.rt
	switch v.tag {
	case TagInt:
		return v.int32() != 0
	case TagFloat64:
		f := v.float64()
		return f != 0 && !math.IsNaN(f)
	case TagBool:
		return v.u != 0
	case TagString:
		return r.stringOf(v) != ""
	case TagBigInt:
		return r.cellOf(v).bigInt.Sign() != 0
	case TagNull, TagUndefined, TagUninitialized, TagException:
		return false
	}
	return true
}

func toInt32(f float64) int32 {
	return int32(toUint32(f))
}

func toUint32(f float64) uint32 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return uint32(int64(math.Mod(math.Trunc(f), 1<<32)))
}

func toInt64(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(f)
}

// sameValue implements SameValue.
func (r *Runtime) sameValue(a, b JSValue) bool {
	if a.IsNumber() && b.IsNumber() {
		fa, _ := a.ToNumber()
		fb, _ := b.ToNumber()
		if math.IsNaN(fa) && math.IsNaN(fb) {
			return true
		}
		return fa == fb && math.Signbit(fa) == math.Signbit(fb)
	}
	if a.tag != b.tag {
		return false
	}
	switch a.tag {
	case TagString:
		return a == b || r.stringOf(a) == r.stringOf(b)
	case TagBigInt:
		return r.cellOf(a).bigInt.Cmp(r.cellOf(b).bigInt) == 0
	}
	return a == b
}
