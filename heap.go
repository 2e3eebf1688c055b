package quickjs

import (
	"fmt"
	"math/big"

	"github.com/cockroachdb/apd/v3"
)

// handle addresses a heap cell: the low bits index the arena, the high bits hold the cell
// generation so that stale handles are detected after a slot is reused.
type handle uint32

const (
	handleIndexBits = 22
	handleIndexMask = 1<<handleIndexBits - 1
	handleGenMask   = 1<<(32-handleIndexBits) - 1
)

func makeHandle(idx uint32, gen uint16) handle {
	return handle(uint32(gen&handleGenMask)<<handleIndexBits | idx)
}

func (h handle) index() uint32 { return uint32(h) & handleIndexMask }
func (h handle) gen() uint16   { return uint16(uint32(h) >> handleIndexBits) }

// cell is one arena slot. Only the field matching kind is set.
type cell struct {
	live bool
	kind Tag
	rc   int32
	gen  uint16
	size int // bytes charged to the allocator

	str      string
	atom     JSAtom // symbols
	obj      *object
	bigInt   *big.Int
	bigFloat *big.Float
	bigDec   *apd.Decimal
	code     *Bytecode
	mod      *ModuleDef
}

type heap struct {
	cells    []cell // index 0 is never used
	freeList []uint32
	live     int

	zero     []JSValue // cells whose count dropped to zero, destroyed iteratively
	draining bool
}

// allocCell reserves a slot with a reference count of one. The returned pointer is only valid
// until the next allocation.
func (r *Runtime) allocCell(kind Tag, size int) (handle, *cell, error) {
	r.maybeGC()
	if err := r.mallocFns.Malloc(&r.malloc, size); err != nil {
		return 0, nil, err
	}
	h := &r.heap
	if len(h.cells) == 0 {
		h.cells = append(h.cells, cell{})
	}
	var idx uint32
	if n := len(h.freeList); n > 0 {
		idx = h.freeList[n-1]
		h.freeList = h.freeList[:n-1]
	} else {
		if len(h.cells) > handleIndexMask {
			r.mallocFns.Free(&r.malloc, size)
			return 0, nil, fmt.Errorf("%w: heap cell table full", ErrOutOfMemory)
		}
		idx = uint32(len(h.cells))
		h.cells = append(h.cells, cell{})
	}
	c := &h.cells[idx]
	c.live = true
	c.kind = kind
	c.rc = 1
	c.size = size
	h.live++
	return makeHandle(idx, c.gen), c, nil
}

// cellOf resolves a reference value. Stale or forged handles panic with ErrUseAfterFree.
func (r *Runtime) cellOf(v JSValue) *cell {
	h := v.handle()
	idx := h.index()
	if idx == 0 || int(idx) >= len(r.heap.cells) {
		panic(fmt.Errorf("%w: invalid %s handle %#x", ErrUseAfterFree, v.tag, uint32(h)))
	}
	c := &r.heap.cells[idx]
	if !c.live || c.gen != h.gen() || c.kind != v.tag {
		panic(fmt.Errorf("%w: stale %s handle %#x", ErrUseAfterFree, v.tag, uint32(h)))
	}
	return c
}

// resizeCell charges the difference between the current and the new size of a cell.
func (r *Runtime) resizeCell(v JSValue, newSize int) error {
	c := r.cellOf(v)
	if err := r.mallocFns.Realloc(&r.malloc, c.size, newSize); err != nil {
		return err
	}
	c.size = newSize
	return nil
}

func (r *Runtime) dup(v JSValue) JSValue {
	if v.HasRefCount() {
		r.cellOf(v).rc++
	}
	return v
}

func (r *Runtime) free(v JSValue) {
	if !v.HasRefCount() {
		return
	}
	c := r.cellOf(v)
	if c.rc <= 0 {
		panic(fmt.Errorf("%w: %s released twice", ErrUseAfterFree, v.tag))
	}
	c.rc--
	if c.rc > 0 {
		return
	}
	if c.kind == TagObject && c.obj.collecting {
		// owned by the cycle collector
		return
	}
	r.heap.zero = append(r.heap.zero, v)
	if r.heap.draining {
		return
	}
	r.heap.draining = true
	for len(r.heap.zero) > 0 {
		n := len(r.heap.zero) - 1
		z := r.heap.zero[n]
		r.heap.zero = r.heap.zero[:n]
		r.destroy(z)
	}
	r.heap.draining = false
}

// DupValue adds an owner to v and returns it.
func (r *Runtime) DupValue(v JSValue) JSValue {
	r.mustOwn()
	return r.dup(v)
}

// FreeValue releases one owner of v. The cell is destroyed when the last owner releases it;
// for objects the class finalizer runs exactly once before the properties are released.
func (r *Runtime) FreeValue(v JSValue) {
	r.mustOwn()
	r.free(v)
}

// RefCount returns the reference count of a heap value, or 0 for inline values.
func (r *Runtime) RefCount(v JSValue) int {
	r.mustOwn()
	if !v.HasRefCount() {
		return 0
	}
	return int(r.cellOf(v).rc)
}

func (r *Runtime) destroy(v JSValue) {
	c := r.cellOf(v)
	switch c.kind {
	case TagSymbol:
		r.atoms.free(c.atom)
	case TagObject:
		obj := c.obj
		r.finalizeObject(v, obj)
		r.releaseObjectRefs(v, obj)
	case TagModule:
		mod := c.mod
		r.free(mod.exports)
		r.atoms.free(mod.name)
	}
	r.releaseCell(v.handle())
}

func (r *Runtime) releaseCell(h handle) {
	c := &r.heap.cells[h.index()]
	r.mallocFns.Free(&r.malloc, c.size)
	gen := (c.gen + 1) & handleGenMask
	*c = cell{gen: gen}
	r.heap.freeList = append(r.heap.freeList, h.index())
	r.heap.live--
}

// =============================================================================
// PRIMITIVE CELLS
// =============================================================================

func (r *Runtime) newString(s string) (JSValue, error) {
	h, c, err := r.allocCell(TagString, cellHeaderSize+len(s))
	if err != nil {
		return Exception, err
	}
	c.str = s
	return makeRef(TagString, h), nil
}

func (r *Runtime) newSymbol(description string, kind atomKind) (JSValue, error) {
	h, c, err := r.allocCell(TagSymbol, cellHeaderSize)
	if err != nil {
		return Exception, err
	}
	c.atom = r.atoms.newSymbol(description, kind)
	return makeRef(TagSymbol, h), nil
}

// symbolFromAtom returns a symbol value wrapping an existing symbol atom.
func (r *Runtime) symbolFromAtom(a JSAtom) (JSValue, error) {
	h, c, err := r.allocCell(TagSymbol, cellHeaderSize)
	if err != nil {
		return Exception, err
	}
	c.atom = r.atoms.dup(a)
	return makeRef(TagSymbol, h), nil
}

func (r *Runtime) newBigInt(v *big.Int) (JSValue, error) {
	h, c, err := r.allocCell(TagBigInt, cellHeaderSize+len(v.Bits())*8)
	if err != nil {
		return Exception, err
	}
	c.bigInt = new(big.Int).Set(v)
	return makeRef(TagBigInt, h), nil
}

func (r *Runtime) newBigFloat(v *big.Float) (JSValue, error) {
	h, c, err := r.allocCell(TagBigFloat, cellHeaderSize+int(v.Prec()/8))
	if err != nil {
		return Exception, err
	}
	c.bigFloat = new(big.Float).Copy(v)
	return makeRef(TagBigFloat, h), nil
}

func (r *Runtime) newBigDecimal(v *apd.Decimal) (JSValue, error) {
	h, c, err := r.allocCell(TagBigDecimal, cellHeaderSize+int(v.NumDigits()))
	if err != nil {
		return Exception, err
	}
	c.bigDec = new(apd.Decimal).Set(v)
	return makeRef(TagBigDecimal, h), nil
}

func (r *Runtime) stringOf(v JSValue) string {
	return r.cellOf(v).str
}
