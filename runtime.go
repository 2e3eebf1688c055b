package quickjs

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/petermattis/goid"
	"go.uber.org/zap"
)

const defaultGCThreshold = 256 * 1024

// InterruptHandler is polled while a script runs; a nonzero result aborts the script with an
// uncatchable "interrupted" error. It is called from a watchdog goroutine and must not touch
// the runtime.
type InterruptHandler func() int

// Runtime represents a Javascript runtime corresponding to an object heap. Several runtimes can exist at the same time but they cannot exchange objects. Inside a given runtime, no multi-threading is supported.
//
// The goroutine that creates a runtime owns it; using the runtime, its contexts or its values
// from another goroutine panics with ErrCrossThread.
type Runtime struct {
	owner   int64
	options *Options
	logger  *zap.Logger

	heap      heap
	atoms     *atomTable
	classes   classTable
	malloc    MallocState
	mallocFns MallocFunctions

	gcThreshold int64
	inGC        bool

	contexts []*Context
	jobs     []job

	interrupt        atomic.Pointer[InterruptHandler]
	moduleNormalizer ModuleNormalizeFunc
	moduleLoader     ModuleLoaderFunc
	moduleOpaque     any
	rejectionTracker PromiseRejectionTracker

	closed bool
}

// NewRuntime creates a new quickjs runtime owned by the calling goroutine.
func NewRuntime(opts ...Option) *Runtime {
	options := &Options{
		logger:    zap.NewNop(),
		evaluator: EvaluatorGoja,
		mallocFns: DefaultMallocFunctions(),
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = zap.NewNop()
	}
	if options.mallocFns == nil {
		options.mallocFns = DefaultMallocFunctions()
	}

	rt := &Runtime{
		owner:       goid.Get(),
		options:     options,
		logger:      options.logger,
		atoms:       newAtomTable(),
		mallocFns:   options.mallocFns,
		gcThreshold: defaultGCThreshold,
	}
	rt.registerBuiltinClasses()
	if options.memoryLimit > 0 {
		rt.malloc.MallocLimit = int64(options.memoryLimit)
	}
	if options.gcThreshold != 0 {
		rt.gcThreshold = options.gcThreshold
	}
	rt.moduleNormalizer = DefaultModuleNormalize
	return rt
}

// CheckAccess reports whether the calling goroutine owns the runtime.
func (r *Runtime) CheckAccess() bool {
	return goid.Get() == r.owner
}

// VerifyAccess returns an error wrapping ErrCrossThread when called from a goroutine other
// than the owner.
func (r *Runtime) VerifyAccess() error {
	if id := goid.Get(); id != r.owner {
		return fmt.Errorf("%w: runtime owned by goroutine %d, called from %d", ErrCrossThread, r.owner, id)
	}
	return nil
}

func (r *Runtime) mustOwn() {
	if err := r.VerifyAccess(); err != nil {
		panic(err)
	}
}

// RunGC runs the cycle collector.
func (r *Runtime) RunGC() {
	r.mustOwn()
	r.runGC()
}

// Close frees every context and the heap. Cells still referenced by the host are reported as
// leaks through the logger.
func (r *Runtime) Close() {
	r.mustOwn()
	if r.closed {
		return
	}
	for len(r.contexts) > 0 {
		r.contexts[len(r.contexts)-1].Close()
	}
	for _, j := range r.jobs {
		for _, a := range j.args {
			r.free(a)
		}
	}
	r.jobs = nil
	r.runGC()
	for _, e := range r.classes.entries {
		if e != nil {
			r.atoms.free(e.name)
		}
	}
	if r.heap.live > 0 {
		r.logger.Warn("runtime closed with live heap cells",
			zap.Int("cells", r.heap.live), zap.Int64("bytes", r.malloc.MallocSize))
	}
	r.closed = true
}

// SetMemoryLimit the runtime memory limit; if not set, it will be unlimit.
func (r *Runtime) SetMemoryLimit(limit uint64) {
	r.mustOwn()
	r.malloc.MallocLimit = int64(limit)
}

// SetGCThreshold the runtime's GC threshold; use -1 to disable automatic GC.
func (r *Runtime) SetGCThreshold(threshold int64) {
	r.mustOwn()
	r.gcThreshold = threshold
}

// SetMaxStackSize will set max runtime's stack size
func (r *Runtime) SetMaxStackSize(size uint64) {
	r.mustOwn()
	r.options.maxStackSize = size
}

// SetExecuteTimeout sets the execute timeout in seconds; 0 disables it.
func (r *Runtime) SetExecuteTimeout(timeout uint64) {
	r.mustOwn()
	r.options.timeout = timeout
}

// SetStripInfo sets StripSource and StripDebug flags.
func (r *Runtime) SetStripInfo(strip int) {
	r.mustOwn()
	r.options.stripInfo = strip
}

// SetInterruptHandler installs the interrupt handler; nil removes it.
func (r *Runtime) SetInterruptHandler(handler InterruptHandler) {
	r.mustOwn()
	if handler == nil {
		r.interrupt.Store(nil)
		return
	}
	r.interrupt.Store(&handler)
}

// shouldInterrupt is called by evaluator watchdogs.
func (r *Runtime) shouldInterrupt(deadline time.Time) bool {
	if !deadline.IsZero() && time.Now().After(deadline) {
		return true
	}
	if h := r.interrupt.Load(); h != nil {
		return (*h)() != 0
	}
	return false
}

// NewContext creates a new JavaScript context.
func (r *Runtime) NewContext() *Context {
	r.mustOwn()
	ctx := newContext(r)
	r.contexts = append(r.contexts, ctx)
	return ctx
}

// Contexts returns the open contexts of the runtime.
func (r *Runtime) Contexts() []*Context {
	r.mustOwn()
	out := make([]*Context, len(r.contexts))
	copy(out, r.contexts)
	return out
}

func (r *Runtime) removeContext(ctx *Context) {
	for i, c := range r.contexts {
		if c == ctx {
			r.contexts = append(r.contexts[:i], r.contexts[i+1:]...)
			return
		}
	}
}
