package quickjs

import "math"

// BoxedValue is the NaN-boxed 64-bit encoding of a JSValue used by 32-bit QuickJS builds: the
// tag sits in the high word and the payload in the low word, while doubles are stored shifted
// by float64TagAddend so that every double lands outside the tag range.
type BoxedValue uint64

const float64TagAddend = uint64(0x7ff80000-int64(TagFirst)+1) << 32

// BoxedNaN is the boxed form of the canonical NaN: float64NaNBits - float64TagAddend, wrapped
// to 64 bits.
const BoxedNaN BoxedValue = 0xfffffff400000000

// Box encodes v. Box and Unbox are exact inverses for every value, including heap references,
// whose 32-bit handles fit the payload word.
func (v JSValue) Box() BoxedValue {
	if v.tag == TagFloat64 {
		bits := v.u
		if bits&float64SignMask > float64InfBits {
			return BoxedNaN
		}
		return BoxedValue(bits - float64TagAddend)
	}
	return BoxedValue(uint64(uint32(v.tag))<<32 | uint64(uint32(v.u)))
}

// Tag decodes the tag of a boxed value.
func (b BoxedValue) Tag() Tag {
	tag := Tag(int32(uint32(b >> 32)))
	if uint32(tag-TagFirst) >= uint32(TagFloat64-TagFirst) {
		return TagFloat64
	}
	return tag
}

// Unbox decodes a boxed value.
func (b BoxedValue) Unbox() JSValue {
	tag := b.Tag()
	if tag == TagFloat64 {
		return makeFloat64(math.Float64frombits(uint64(b) + float64TagAddend))
	}
	payload := uint64(uint32(b))
	if tag == TagBool && payload != 0 {
		payload = 1
	}
	return JSValue{tag: tag, u: payload}
}
