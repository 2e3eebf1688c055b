package quickjs

import (
	"fmt"
	"math/big"
	"math/bits"

	"github.com/cockroachdb/apd/v3"
	"github.com/fxamacker/cbor/v2"
)

// objectFormatVersion is bumped whenever the layout of serialized objects changes.
const objectFormatVersion = 1

var objectEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("quickjs: failed to create CBOR enc mode: %v", err))
	}
	objectEncMode = em
}

// wireObject is the serialized form of a value graph. Values are NaN-boxed words; the payload
// of a heap value is the index of its cell in Cells, so shared references and cycles survive.
type wireObject struct {
	Version uint8      `cbor:"1,keyasint"`
	Swapped bool       `cbor:"2,keyasint,omitempty"` // words are byte swapped
	Root    uint64     `cbor:"3,keyasint"`
	Cells   []wireCell `cbor:"4,keyasint,omitempty"`
}

type wireCell struct {
	Tag       int8          `cbor:"1,keyasint"`
	Text      string        `cbor:"2,keyasint,omitempty"` // string, symbol description, big number digits
	Prec      uint          `cbor:"3,keyasint,omitempty"` // BigFloat precision
	Class     uint32        `cbor:"4,keyasint,omitempty"`
	Props     []wireProp    `cbor:"5,keyasint,omitempty"`
	Primitive *uint64       `cbor:"6,keyasint,omitempty"` // boxed primitive of Number, String and Boolean objects
	Length    uint32        `cbor:"7,keyasint,omitempty"` // array length
	ErrorName string        `cbor:"8,keyasint,omitempty"`
	Code      *wireBytecode `cbor:"9,keyasint,omitempty"`
}

type wireProp struct {
	Key   string        `cbor:"1,keyasint"`
	Value uint64        `cbor:"2,keyasint"`
	Flags PropertyFlags `cbor:"3,keyasint,omitempty"`
}

type wireBytecode struct {
	Source    string `cbor:"1,keyasint"`
	FileName  string `cbor:"2,keyasint,omitempty"`
	Strict    bool   `cbor:"3,keyasint,omitempty"`
	Module    bool   `cbor:"4,keyasint,omitempty"`
	Evaluator string `cbor:"5,keyasint,omitempty"`
}

// =============================================================================
// WRITER
// =============================================================================

type objectWriter struct {
	ctx   *Context
	flags WriteObjFlags
	cells []wireCell
	index map[JSValue]uint32
}

// WriteObject serializes a value and everything reachable from it through own string keyed
// properties. Functions, accessors and host objects of other classes cannot be serialized;
// FunctionBytecode values require WriteObjBytecode.
func (ctx *Context) WriteObject(v Value, flags WriteObjFlags) ([]byte, error) {
	ctx.rt.mustOwn()
	w := &objectWriter{ctx: ctx, flags: flags, index: make(map[JSValue]uint32)}
	root, err := w.word(ctx.raw(v))
	if err != nil {
		return nil, err
	}
	return objectEncMode.Marshal(&wireObject{
		Version: objectFormatVersion,
		Swapped: flags&WriteObjBSwap != 0,
		Root:    root,
		Cells:   w.cells,
	})
}

func (w *objectWriter) order(word uint64) uint64 {
	if w.flags&WriteObjBSwap != 0 {
		return bits.ReverseBytes64(word)
	}
	return word
}

func (w *objectWriter) word(v JSValue) (uint64, error) {
	if !v.HasRefCount() {
		return w.order(uint64(v.Box())), nil
	}
	idx, ok := w.index[v]
	if !ok {
		var err error
		if idx, err = w.add(v); err != nil {
			return 0, err
		}
	}
	return w.order(uint64(JSValue{tag: v.tag, u: uint64(idx)}.Box())), nil
}

// add registers a heap cell before its children, so that cycles resolve to the same index.
func (w *objectWriter) add(v JSValue) (uint32, error) {
	r := w.ctx.rt
	idx := uint32(len(w.cells))
	w.index[v] = idx
	w.cells = append(w.cells, wireCell{Tag: int8(v.tag)})

	c := r.cellOf(v)
	var cell wireCell
	switch v.tag {
	case TagString:
		cell.Text = c.str
	case TagSymbol:
		cell.Text = r.atoms.toString(c.atom)
	case TagBigInt:
		cell.Text = c.bigInt.String()
	case TagBigFloat:
		cell.Text = c.bigFloat.Text('g', -1)
		cell.Prec = c.bigFloat.Prec()
	case TagBigDecimal:
		cell.Text = c.bigDec.String()
	case TagFunctionBytecode:
		if w.flags&WriteObjBytecode == 0 {
			return 0, fmt.Errorf("%w: function bytecode requires WriteObjBytecode", ErrTypeMismatch)
		}
		b := c.code
		cell.Code = &wireBytecode{Source: b.Source, FileName: b.FileName, Strict: b.Strict, Module: b.Module, Evaluator: string(b.Evaluator)}
	case TagObject:
		if err := w.object(v, &cell); err != nil {
			return 0, err
		}
	default:
		return 0, fmt.Errorf("%w: %s values cannot be serialized", ErrTypeMismatch, v.tag)
	}
	cell.Tag = int8(v.tag)
	w.cells[idx] = cell
	return idx, nil
}

func (w *objectWriter) object(v JSValue, cell *wireCell) error {
	ctx, r := w.ctx, w.ctx.rt
	obj := r.objectOf(v)
	if r.isCallable(v) {
		return fmt.Errorf("%w: functions cannot be serialized", ErrTypeMismatch)
	}
	isArray := ctx.wrap(v).IsArray()
	switch {
	case isArray:
		cell.Class = uint32(ClassArray)
		n, ok := arrayLength(ctx, ctx.wrap(v))
		if !ok {
			return ctx.Exception()
		}
		cell.Length = uint32(n)
	case obj.classID == ClassError:
		cell.Class = uint32(ClassError)
		name := ctx.getProperty(v, atomName, v)
		if name.IsException() {
			return ctx.Exception()
		}
		cell.ErrorName, _ = ctx.toGoString(name)
		r.free(name)
	case obj.classID == ClassNumber || obj.classID == ClassString || obj.classID == ClassBoolean:
		cell.Class = uint32(obj.classID)
		word, err := w.word(obj.primitive)
		if err != nil {
			return err
		}
		cell.Primitive = &word
	case obj.classID == ClassObject || obj.classID == ClassScriptObject || obj.classID == ClassModuleNS:
		cell.Class = uint32(ClassObject)
	default:
		return fmt.Errorf("%w: objects of class %s cannot be serialized", ErrTypeMismatch, r.ClassName(obj.classID))
	}

	tab, code := ctx.getOwnPropertyNamesInternal(v, GPNStringMask)
	if code < 0 {
		return ctx.Exception()
	}
	defer ctx.freePropertyEnum(tab)
	for _, p := range tab {
		if isArray && p.atom == atomLength {
			continue
		}
		var desc propertyDescriptor
		switch ctx.getOwnPropertyInternal(&desc, v, p.atom) {
		case -1:
			return ctx.Exception()
		case 0:
			continue
		}
		if desc.flags&PropertyTypeMask == PropertyGetSet {
			r.freeDescriptor(&desc)
			return fmt.Errorf("%w: accessor property %q cannot be serialized", ErrTypeMismatch, ctx.atomName(p.atom))
		}
		word, err := w.word(desc.value)
		flags := desc.flags
		r.freeDescriptor(&desc)
		if err != nil {
			return err
		}
		cell.Props = append(cell.Props, wireProp{Key: ctx.atomName(p.atom), Value: word, Flags: flags & PropertyDefault})
	}
	return nil
}

// =============================================================================
// READER
// =============================================================================

type objectReader struct {
	ctx     *Context
	flags   ReadObjFlags
	swapped bool
	vals    []JSValue
}

// ReadObject deserializes a buffer produced by WriteObject. FunctionBytecode values require
// ReadObjBytecode. The buffer is not retained, so ReadObjROMData changes nothing.
func (ctx *Context) ReadObject(buf []byte, flags ReadObjFlags) (Value, error) {
	ctx.rt.mustOwn()
	var wire wireObject
	if err := cbor.Unmarshal(buf, &wire); err != nil {
		return ctx.Null(), fmt.Errorf("quickjs: read object: %w", err)
	}
	if wire.Version != objectFormatVersion {
		return ctx.Null(), fmt.Errorf("%w: unsupported object format version %d", ErrTypeMismatch, wire.Version)
	}
	rd := &objectReader{ctx: ctx, flags: flags, swapped: wire.Swapped, vals: make([]JSValue, len(wire.Cells))}
	for i := range rd.vals {
		rd.vals[i] = Undefined
	}
	defer rd.release()

	for i := range wire.Cells {
		if err := rd.create(i, &wire.Cells[i]); err != nil {
			return ctx.Null(), err
		}
	}
	for i := range wire.Cells {
		if err := rd.fill(i, &wire.Cells[i]); err != nil {
			return ctx.Null(), err
		}
	}
	root, err := rd.value(wire.Root)
	if err != nil {
		return ctx.Null(), err
	}
	return ctx.wrap(ctx.rt.dup(root)), nil
}

func (rd *objectReader) release() {
	for _, v := range rd.vals {
		rd.ctx.rt.free(v)
	}
}

// value decodes a word. Heap values are borrowed from the reader.
func (rd *objectReader) value(word uint64) (JSValue, error) {
	if rd.swapped {
		word = bits.ReverseBytes64(word)
	}
	v := BoxedValue(word).Unbox()
	if !v.HasRefCount() {
		if v.tag < TagFirst || v.tag > TagFloat64 {
			return Undefined, fmt.Errorf("%w: invalid tag %d", ErrTypeMismatch, v.tag)
		}
		return v, nil
	}
	if v.u >= uint64(len(rd.vals)) {
		return Undefined, fmt.Errorf("%w: cell reference %d out of range", ErrTypeMismatch, v.u)
	}
	ref := rd.vals[v.u]
	if ref.tag != v.tag {
		return Undefined, fmt.Errorf("%w: cell %d is %s, referenced as %s", ErrTypeMismatch, v.u, ref.tag, v.tag)
	}
	return ref, nil
}

func (rd *objectReader) create(i int, cell *wireCell) error {
	ctx, r := rd.ctx, rd.ctx.rt
	var (
		v   JSValue
		err error
	)
	switch tag := Tag(cell.Tag); tag {
	case TagString:
		v, err = r.newString(cell.Text)
	case TagSymbol:
		v, err = r.newSymbol(cell.Text, atomKindSymbol)
	case TagBigInt:
		n, ok := new(big.Int).SetString(cell.Text, 10)
		if !ok {
			return fmt.Errorf("%w: invalid BigInt %q", ErrTypeMismatch, cell.Text)
		}
		v, err = r.newBigInt(n)
	case TagBigFloat:
		f, _, perr := big.ParseFloat(cell.Text, 10, cell.Prec, big.ToNearestEven)
		if perr != nil {
			return fmt.Errorf("%w: invalid BigFloat: %v", ErrTypeMismatch, perr)
		}
		v, err = r.newBigFloat(f)
	case TagBigDecimal:
		d, _, perr := apd.NewFromString(cell.Text)
		if perr != nil {
			return fmt.Errorf("%w: invalid BigDecimal: %v", ErrTypeMismatch, perr)
		}
		v, err = r.newBigDecimal(d)
	case TagFunctionBytecode:
		if rd.flags&ReadObjBytecode == 0 {
			return fmt.Errorf("%w: function bytecode requires ReadObjBytecode", ErrTypeMismatch)
		}
		if cell.Code == nil {
			return fmt.Errorf("%w: bytecode cell without code", ErrTypeMismatch)
		}
		c := cell.Code
		v, err = r.newBytecode(&Bytecode{Source: c.Source, FileName: c.FileName, Strict: c.Strict, Module: c.Module, Evaluator: EvaluatorName(c.Evaluator)})
	case TagObject:
		v = rd.newObject(cell)
		if v.IsException() {
			return ctx.Exception()
		}
	default:
		return fmt.Errorf("%w: %s values cannot be deserialized", ErrTypeMismatch, tag)
	}
	if err != nil {
		return err
	}
	rd.vals[i] = v
	return nil
}

func (rd *objectReader) newObject(cell *wireCell) JSValue {
	ctx := rd.ctx
	switch ClassID(cell.Class) {
	case ClassArray:
		return ctx.newArray()
	case ClassError:
		kind := ErrorKindOf(cell.ErrorName)
		proto := ctx.errorProto
		if kind != PlainError {
			proto = ctx.nativeErrorProtos[kind-1]
		}
		return ctx.newObjectProtoClass(proto, ClassError)
	case ClassNumber, ClassString, ClassBoolean:
		return ctx.newObjectClass(ClassID(cell.Class))
	}
	return ctx.newObject()
}

func (rd *objectReader) fill(i int, cell *wireCell) error {
	ctx, r := rd.ctx, rd.ctx.rt
	v := rd.vals[i]
	if v.tag != TagObject {
		return nil
	}
	obj := r.objectOf(v)
	if cell.Primitive != nil {
		prim, err := rd.value(*cell.Primitive)
		if err != nil {
			return err
		}
		obj.primitive = r.dup(prim)
	}
	for _, p := range cell.Props {
		val, err := rd.value(p.Value)
		if err != nil {
			return err
		}
		if ctx.defineValueStr(v, p.Key, r.dup(val), p.Flags) < 0 {
			return ctx.Exception()
		}
	}
	if obj.classID == ClassArray && cell.Length > 0 {
		if !setArrayLength(ctx, ctx.wrap(v), int64(cell.Length)) {
			return ctx.Exception()
		}
	}
	return nil
}
