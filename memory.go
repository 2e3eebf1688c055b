package quickjs

import "fmt"

// MallocState is the allocation bookkeeping shared by a runtime and its allocator.
type MallocState struct {
	MallocCount int64 // live allocations
	MallocSize  int64 // live bytes, as reported by UsableSize
	MallocLimit int64 // 0 means unlimited
}

// MallocFunctions overrides how a runtime accounts for its heap. Every cell, property table and
// string payload is charged through these functions, so an implementation can enforce its own
// limits or feed external metrics. Implementations are called on the owner goroutine only.
type MallocFunctions interface {
	Malloc(s *MallocState, size int) error
	Free(s *MallocState, size int)
	Realloc(s *MallocState, oldSize, newSize int) error
	UsableSize(size int) int
}

type defaultMallocFunctions struct{}

// DefaultMallocFunctions returns the allocator used when none is configured. It rounds sizes to
// 8 bytes and fails with ErrOutOfMemory once MallocLimit would be exceeded.
func DefaultMallocFunctions() MallocFunctions {
	return defaultMallocFunctions{}
}

func (defaultMallocFunctions) UsableSize(size int) int {
	return (size + 7) &^ 7
}

func (m defaultMallocFunctions) Malloc(s *MallocState, size int) error {
	n := int64(m.UsableSize(size))
	if s.MallocLimit > 0 && s.MallocSize+n > s.MallocLimit {
		return fmt.Errorf("%w: %d bytes requested, %d of %d in use", ErrOutOfMemory, n, s.MallocSize, s.MallocLimit)
	}
	s.MallocCount++
	s.MallocSize += n
	return nil
}

func (m defaultMallocFunctions) Free(s *MallocState, size int) {
	s.MallocCount--
	s.MallocSize -= int64(m.UsableSize(size))
}

func (m defaultMallocFunctions) Realloc(s *MallocState, oldSize, newSize int) error {
	delta := int64(m.UsableSize(newSize) - m.UsableSize(oldSize))
	if delta > 0 && s.MallocLimit > 0 && s.MallocSize+delta > s.MallocLimit {
		return fmt.Errorf("%w: grow by %d bytes, %d of %d in use", ErrOutOfMemory, delta, s.MallocSize, s.MallocLimit)
	}
	s.MallocSize += delta
	return nil
}

// Accounted sizes of heap structures.
const (
	cellHeaderSize   = 16
	objectSize       = 64
	propertySize     = 40
	propertyEnumSize = 8
	bytecodeSize     = 48
	moduleSize       = 48
)

// MemoryUsage is a snapshot of the runtime heap.
type MemoryUsage struct {
	MallocSize  int64
	MallocLimit int64
	MallocCount int64

	AtomCount         int
	StrCount          int
	StrSize           int64
	ObjCount          int
	PropCount         int
	ArrayCount        int
	CFuncCount        int
	SymbolCount       int
	BigNumCount       int
	FuncBytecodeCount int
	ModuleCount       int
}

// MemoryUsage walks the heap and reports what it holds.
func (r *Runtime) MemoryUsage() MemoryUsage {
	r.mustOwn()
	u := MemoryUsage{
		MallocSize:  r.malloc.MallocSize,
		MallocLimit: r.malloc.MallocLimit,
		MallocCount: r.malloc.MallocCount,
		AtomCount:   r.atoms.count(),
	}
	for i := 1; i < len(r.heap.cells); i++ {
		c := &r.heap.cells[i]
		if !c.live {
			continue
		}
		switch c.kind {
		case TagString:
			u.StrCount++
			u.StrSize += int64(len(c.str))
		case TagSymbol:
			u.SymbolCount++
		case TagBigInt, TagBigFloat, TagBigDecimal:
			u.BigNumCount++
		case TagFunctionBytecode:
			u.FuncBytecodeCount++
		case TagModule:
			u.ModuleCount++
		case TagObject:
			u.ObjCount++
			u.PropCount += len(c.obj.props)
			switch c.obj.classID {
			case ClassArray:
				u.ArrayCount++
			case ClassCFunction:
				u.CFuncCount++
			}
		}
	}
	return u
}
