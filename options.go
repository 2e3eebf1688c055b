package quickjs

import (
	"go.uber.org/zap"
)

// Options holds the runtime configuration assembled from Option values.
type Options struct {
	timeout      uint64 // execute timeout in seconds, 0 means none
	memoryLimit  uint64
	gcThreshold  int64
	maxStackSize uint64
	moduleImport bool
	stripInfo    int
	logger       *zap.Logger
	evaluator    EvaluatorName
	mallocFns    MallocFunctions
}

// Option configures a Runtime.
type Option func(*Options)

// Strip flags for WithStripInfo.
const (
	StripSource = 1 << 0 // drop function source text
	StripDebug  = 1 << 1 // drop stack traces and line information
)

// WithExecuteTimeout interrupts scripts that run longer than timeout seconds.
func WithExecuteTimeout(timeout uint64) Option {
	return func(o *Options) { o.timeout = timeout }
}

// WithMemoryLimit sets the heap limit in bytes; 0 means unlimited.
func WithMemoryLimit(limit uint64) Option {
	return func(o *Options) { o.memoryLimit = limit }
}

// WithGCThreshold sets the heap size that triggers an automatic cycle collection; -1 disables
// automatic collection and 0 keeps the default.
func WithGCThreshold(threshold int64) Option {
	return func(o *Options) { o.gcThreshold = threshold }
}

// WithMaxStackSize limits the script call stack depth; 0 keeps the evaluator default.
func WithMaxStackSize(size uint64) Option {
	return func(o *Options) { o.maxStackSize = size }
}

// WithModuleImport installs a require function on new contexts that resolves modules through
// the runtime module loader.
func WithModuleImport(enable bool) Option {
	return func(o *Options) { o.moduleImport = enable }
}

// WithStripInfo sets StripSource and StripDebug flags.
func WithStripInfo(strip int) Option {
	return func(o *Options) { o.stripInfo = strip }
}

// WithLogger sets the logger used for diagnostics. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) { o.logger = logger }
}

// WithEvaluator selects the evaluator backend by name; the default is EvaluatorGoja.
func WithEvaluator(name EvaluatorName) Option {
	return func(o *Options) { o.evaluator = name }
}

// WithMallocFunctions overrides the allocator of the runtime.
func WithMallocFunctions(fns MallocFunctions) Option {
	return func(o *Options) { o.mallocFns = fns }
}
