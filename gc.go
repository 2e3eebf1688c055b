package quickjs

import (
	"time"

	"go.uber.org/zap"
)

// maybeGC runs the cycle collector when the heap has grown past the threshold. The threshold
// then moves to one and a half times the live heap size.
func (r *Runtime) maybeGC() {
	if r.inGC || r.heap.draining || r.gcThreshold < 0 {
		return
	}
	if r.malloc.MallocSize < r.gcThreshold {
		return
	}
	r.runGC()
	next := r.malloc.MallocSize + r.malloc.MallocSize/2
	if next < defaultGCThreshold {
		next = defaultGCThreshold
	}
	r.gcThreshold = next
}

// runGC collects unreachable object cycles by trial deletion: every reference an object holds
// on another object is subtracted from the target count, objects left with a positive count are
// referenced from outside the heap graph, and everything not reachable from them is garbage.
// References held by host data are only seen through the class GC mark handlers; objects they
// reach without being reported stay alive.
func (r *Runtime) runGC() {
	if r.inGC {
		return
	}
	r.inGC = true
	defer func() { r.inGC = false }()
	start := time.Now()

	var objs []JSValue
	refs := make(map[handle]int32)
	for i := 1; i < len(r.heap.cells); i++ {
		c := &r.heap.cells[i]
		if !c.live || c.kind != TagObject || c.obj.collecting {
			continue
		}
		v := makeRef(TagObject, makeHandle(uint32(i), c.gen))
		objs = append(objs, v)
		refs[v.handle()] = c.rc
	}

	for _, v := range objs {
		r.forEachChild(v, r.cellOf(v).obj, func(child JSValue) {
			if child.tag != TagObject {
				return
			}
			if _, ok := refs[child.handle()]; ok {
				refs[child.handle()]--
			}
		})
	}

	reachable := make(map[handle]bool, len(objs))
	var stack []JSValue
	for _, v := range objs {
		if refs[v.handle()] > 0 {
			reachable[v.handle()] = true
			stack = append(stack, v)
		}
	}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		r.forEachChild(v, r.cellOf(v).obj, func(child JSValue) {
			if child.tag != TagObject || reachable[child.handle()] {
				return
			}
			if _, ok := refs[child.handle()]; ok {
				reachable[child.handle()] = true
				stack = append(stack, child)
			}
		})
	}

	var garbage []JSValue
	for _, v := range objs {
		if !reachable[v.handle()] {
			garbage = append(garbage, v)
		}
	}
	if len(garbage) > 0 {
		for _, v := range garbage {
			r.cellOf(v).obj.collecting = true
		}
		for _, v := range garbage {
			r.finalizeObject(v, r.cellOf(v).obj)
		}
		for _, v := range garbage {
			r.releaseObjectRefs(v, r.cellOf(v).obj)
		}
		for _, v := range garbage {
			r.releaseCell(v.handle())
		}
	}
	r.logger.Debug("gc cycle",
		zap.Int("objects", len(objs)),
		zap.Int("collected", len(garbage)),
		zap.Int64("heap_bytes", r.malloc.MallocSize),
		zap.Duration("elapsed", time.Since(start)))
}
