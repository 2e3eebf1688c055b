package quickjs

import (
	"bytes"
	"errors"
	"math"
	"strings"

	"github.com/goccy/go-json"
)

// ParseJSON parses a JSON text into a value. Object keys keep their order. On malformed input
// a SyntaxError is thrown and the Exception value is returned.
func (ctx *Context) ParseJSON(v string) Value {
	ctx.rt.mustOwn()
	dec := json.NewDecoder(strings.NewReader(v))
	dec.UseNumber()
	val, err := ctx.parseJSONValue(dec)
	if err != nil {
		return ctx.ThrowSyntaxError("JSON.parse: %s", err.Error())
	}
	if dec.More() {
		ctx.rt.free(val)
		return ctx.ThrowSyntaxError("JSON.parse: unexpected token after JSON")
	}
	return ctx.wrap(val)
}

func (ctx *Context) parseJSONValue(dec *json.Decoder) (JSValue, error) {
	r := ctx.rt
	token, err := dec.Token()
	if err != nil {
		return Undefined, err
	}
	switch t := token.(type) {
	case nil:
		return Null, nil
	case bool:
		return MakeBool(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Undefined, err
		}
		return MakeFloat(f), nil
	case string:
		return ctx.newStringValue(t), nil
	case json.Delim:
		switch t {
		case '{':
			obj := ctx.newObject()
			if obj.IsException() {
				return Undefined, ErrOutOfMemory
			}
			for dec.More() {
				keyToken, err := dec.Token()
				if err != nil {
					r.free(obj)
					return Undefined, err
				}
				key, ok := keyToken.(string)
				if !ok {
					r.free(obj)
					return Undefined, errors.New("expected string key in object")
				}
				val, err := ctx.parseJSONValue(dec)
				if err != nil {
					r.free(obj)
					return Undefined, err
				}
				ctx.defineValueStr(obj, key, val, PropertyDefault)
			}
			if _, err := dec.Token(); err != nil {
				r.free(obj)
				return Undefined, err
			}
			return obj, nil
		case '[':
			arr := ctx.newArray()
			if arr.IsException() {
				return Undefined, ErrOutOfMemory
			}
			for i := uint32(0); dec.More(); i++ {
				elem, err := ctx.parseJSONValue(dec)
				if err != nil {
					r.free(arr)
					return Undefined, err
				}
				ctx.defineValue(arr, atomFromUint32(i), elem, PropertyDefault)
			}
			if _, err := dec.Token(); err != nil {
				r.free(arr)
				return Undefined, err
			}
			return arr, nil
		}
	}
	return Undefined, errors.New("unexpected JSON token")
}

// JSONStringify serializes a value like JSON.stringify without replacer or indentation.
func (ctx *Context) JSONStringify(v Value) (string, error) {
	ctx.rt.mustOwn()
	s, ok := ctx.jsonStringify(ctx.raw(v))
	if !ok {
		if ctx.hasPending() {
			return "", ctx.Exception()
		}
		return "", nil
	}
	return s, nil
}

// jsonStringify returns false when the value has no JSON form (undefined, functions, symbols)
// or when serialization threw.
func (ctx *Context) jsonStringify(v JSValue) (string, bool) {
	e := &jsonEncoder{ctx: ctx, seen: make(map[JSValue]bool)}
	ok, err := e.encode(v, "")
	if err != nil || !ok {
		return "", false
	}
	return e.buf.String(), true
}

type jsonEncoder struct {
	ctx  *Context
	buf  bytes.Buffer
	seen map[JSValue]bool
}

var errJSONThrown = errors.New("exception while serializing")

func (e *jsonEncoder) quote(s string) {
	enc := json.NewEncoder(&e.buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	e.buf.Truncate(e.buf.Len() - 1) // newline written by Encode
}

// encode writes v and reports whether it has a JSON form.
func (e *jsonEncoder) encode(v JSValue, key string) (bool, error) {
	ctx, r := e.ctx, e.ctx.rt

	if v.tag == TagObject {
		toJSON := ctx.getPropertyStr(v, "toJSON")
		if toJSON.IsException() {
			return false, errJSONThrown
		}
		if r.isCallable(toJSON) {
			k := ctx.newStringValue(key)
			res := ctx.callInternal(toJSON, v, []JSValue{k}, 0)
			r.free(k)
			r.free(toJSON)
			if res.IsException() {
				return false, errJSONThrown
			}
			defer r.free(res)
			if res != v {
				return e.encode(res, key)
			}
		} else {
			r.free(toJSON)
		}
		if prim := r.objectOf(v).primitive; prim.tag != TagUndefined {
			return e.encode(prim, key)
		}
	}

	switch v.tag {
	case TagNull:
		e.buf.WriteString("null")
	case TagBool:
		if v.int32() != 0 {
			e.buf.WriteString("true")
		} else {
			e.buf.WriteString("false")
		}
	case TagInt, TagFloat64:
		f, _ := ctx.toNumber(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			e.buf.WriteString("null")
		} else {
			e.buf.WriteString(formatNumber(f))
		}
	case TagString:
		e.quote(r.stringOf(v))
	case TagBigInt:
		ctx.throwError(TypeError, "BigInt value can't be serialized in JSON")
		return false, errJSONThrown
	case TagObject:
		if r.isCallable(v) {
			return false, nil
		}
		if e.seen[v] {
			ctx.throwError(TypeError, "circular reference")
			return false, errJSONThrown
		}
		e.seen[v] = true
		defer delete(e.seen, v)
		if ctx.wrap(v).IsArray() {
			return true, e.encodeArray(v)
		}
		return true, e.encodeObject(v)
	default:
		return false, nil
	}
	return true, nil
}

func (e *jsonEncoder) encodeArray(v JSValue) error {
	ctx, r := e.ctx, e.ctx.rt
	n := ctx.wrap(v).Len()
	e.buf.WriteByte('[')
	for i := int64(0); i < n; i++ {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		elem := ctx.getProperty(v, atomFromUint32(uint32(i)), v)
		if elem.IsException() {
			return errJSONThrown
		}
		ok, err := e.encode(elem, formatNumber(float64(i)))
		r.free(elem)
		if err != nil {
			return err
		}
		if !ok {
			e.buf.WriteString("null")
		}
	}
	e.buf.WriteByte(']')
	return nil
}

func (e *jsonEncoder) encodeObject(v JSValue) error {
	ctx, r := e.ctx, e.ctx.rt
	tab, code := ctx.getOwnPropertyNamesInternal(v, GPNStringMask|GPNEnumOnly)
	if code < 0 {
		return errJSONThrown
	}
	defer ctx.freePropertyEnum(tab)

	e.buf.WriteByte('{')
	first := true
	for _, p := range tab {
		val := ctx.getProperty(v, p.atom, v)
		if val.IsException() {
			return errJSONThrown
		}
		name := ctx.atomName(p.atom)
		mark := e.buf.Len()
		if !first {
			e.buf.WriteByte(',')
		}
		e.quote(name)
		e.buf.WriteByte(':')
		ok, err := e.encode(val, name)
		r.free(val)
		if err != nil {
			return err
		}
		if !ok {
			e.buf.Truncate(mark)
			continue
		}
		first = false
	}
	e.buf.WriteByte('}')
	return nil
}
