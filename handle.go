package quickjs

import (
	"math"
	"sync"
	"sync/atomic"
)

// HandleStore maps int32 ids to Go values. Object opaque slots and host function tables keep
// ids instead of the values themselves, so a context can drop every Go reference at once when
// it is closed.
type HandleStore struct {
	handles sync.Map     // map[int32]any
	nextID  atomic.Int32 // atomic ID generation to avoid locks
}

// NewHandleStore creates a new handle store
func NewHandleStore() *HandleStore {
	hs := &HandleStore{}
	hs.nextID.Store(1) // start from 1, 0 is reserved as invalid
	return hs
}

// Store stores a value and returns its id.
func (hs *HandleStore) Store(value any) int32 {
	id := hs.nextID.Add(1)

	if id <= 0 || id == math.MaxInt32 {
		panic("quickjs: HandleStore ID overflow, too many values stored")
	}

	hs.handles.Store(id, value)
	return id
}

// Load loads value by ID
func (hs *HandleStore) Load(id int32) (any, bool) {
	return hs.handles.Load(id)
}

// Delete removes the value stored under id. It reports false for unknown ids.
func (hs *HandleStore) Delete(id int32) bool {
	_, ok := hs.handles.LoadAndDelete(id)
	return ok
}

// Clear removes every value (called on Context.Close)
func (hs *HandleStore) Clear() {
	hs.handles.Range(func(key, _ any) bool {
		hs.handles.Delete(key)
		return true
	})
}

// Count returns number of stored handles (for debugging)
func (hs *HandleStore) Count() int {
	count := 0
	hs.handles.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

// instanceHandle is the opaque data of class instances created by
// CreateInstanceFromNewTarget. The Go object lives in the context handle store and is released
// together with the instance.
type instanceHandle struct {
	store *HandleStore
	id    int32
}

func (h *instanceHandle) value() (any, bool) {
	return h.store.Load(h.id)
}

// Finalize drops the Go object and forwards to its own Finalize method, if any.
func (h *instanceHandle) Finalize() {
	v, ok := h.store.Load(h.id)
	h.store.Delete(h.id)
	if !ok {
		return
	}
	if fin, ok := v.(ClassFinalizer); ok {
		fin.Finalize()
	}
}
